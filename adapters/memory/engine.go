package memory

import "github.com/preslavrachev/crudsource/core"

// Execute runs a query over records: filter, then stable multi-key sort, then
// the page slice. hasNextPage reports whether a record exists right after the page.
// The input slice is left untouched and the returned records are copies.
// Invalid pagination yields an empty page.
func Execute(records []core.Record, q core.Query) *core.ListResult {
	if !q.Pagination.IsValid() {
		return core.NewListResult(nil, false)
	}
	match := q.Filter.Compile()

	filtered := make([]core.Record, 0, len(records))
	for _, r := range records {
		if match(r) {
			filtered = append(filtered, r)
		}
	}

	core.SortRecords(filtered, q.Sorting)

	// bounds are clamped without summing offset and count, which may be near math.MaxInt
	start := min(q.Pagination.Offset(), len(filtered))
	end := start + min(q.Pagination.CountOnPage, len(filtered)-start)

	page := core.CloneRecords(filtered[start:end])
	return core.NewListResult(page, end < len(filtered))
}
