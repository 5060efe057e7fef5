package ui

import (
	"fmt"
	"net/http"

	"github.com/a-h/templ"

	"github.com/preslavrachev/crudsource/coordinator"
	"github.com/preslavrachev/crudsource/core"
)

// ListView renders a coordinator's state. Nil templates render nothing.
type ListView struct {
	// Row renders one record
	Row func(core.Record) templ.Component
	// Error renders a failed state
	Error func(core.Status) templ.Component
	// Preload renders the state before any data has arrived
	Preload templ.Component
}

// Component returns the component for state
func (v ListView) Component(state coordinator.ViewState) templ.Component {
	if !state.Error.IsOK() {
		if v.Error == nil {
			return templ.NopComponent
		}
		return v.Error(state.Error)
	}
	if !state.HasData {
		if v.Preload == nil {
			return templ.NopComponent
		}
		return v.Preload
	}

	row := v.Row
	if row == nil {
		row = TableRow
	}
	return rowList(row, state.List)
}

// pageURL links to page of q. Top-level equality filters, the page size and the
// leading sort key are carried over from q.
func pageURL(basePath string, r *http.Request, q core.Query, page int) string {
	b := NewPageURL(basePath)
	if r != nil {
		b.PreserveFromRequest(r)
	}
	for _, node := range q.Filter {
		c, ok := node.(*core.Condition)
		if !ok || c.Operator != core.EQ || c.Value == nil || isReservedParam(c.Field) {
			continue
		}
		b.WithFilter(c.Field, fmt.Sprint(c.Value))
	}
	if len(q.Sorting) > 0 {
		b.WithSort(q.Sorting[0].Field, string(q.Sorting[0].Direction))
	}
	return b.WithCountOnPage(q.Pagination.CountOnPage).WithPage(page).String()
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return fmt.Sprint(val)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
