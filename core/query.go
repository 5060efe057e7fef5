package core

import (
	"math"
	"os"
	"strconv"
)

// Constants for pagination
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// SortDirection represents the sort order
type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

// SortField is one key of a sort specification. An empty direction means ascending.
type SortField struct {
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction,omitempty"`
}

// Asc builds an ascending sort key
func Asc(field string) SortField {
	return SortField{Field: field, Direction: SortAsc}
}

// Desc builds a descending sort key
func Desc(field string) SortField {
	return SortField{Field: field, Direction: SortDesc}
}

// Pagination selects a zero-based page of CountOnPage records
type Pagination struct {
	Page        int `json:"page"`
	CountOnPage int `json:"countOnPage"`
}

// NewPagination creates pagination with the page clamped to zero and the
// page size clamped to (0, MaxPageSize]
func NewPagination(page, countOnPage int) Pagination {
	if page < 0 {
		page = 0
	}
	if countOnPage > MaxPageSize {
		countOnPage = MaxPageSize
	}
	if countOnPage <= 0 {
		countOnPage = getPageSizeFromEnv()
	}
	return Pagination{Page: page, CountOnPage: countOnPage}
}

// Offset returns the index of the first record on the page, saturating at
// math.MaxInt instead of overflowing
func (p Pagination) Offset() int {
	if p.Page > 0 && p.CountOnPage > math.MaxInt/p.Page {
		return math.MaxInt
	}
	return p.Page * p.CountOnPage
}

// Next returns the pagination of the following page
func (p Pagination) Next() Pagination {
	return Pagination{Page: p.Page + 1, CountOnPage: p.CountOnPage}
}

// Prev returns the pagination of the previous page, staying on the first page
func (p Pagination) Prev() Pagination {
	if p.Page == 0 {
		return p
	}
	return Pagination{Page: p.Page - 1, CountOnPage: p.CountOnPage}
}

// IsValid checks the page is non-negative and the page size positive
func (p Pagination) IsValid() bool {
	return p.Page >= 0 && p.CountOnPage > 0
}

// Meta is the continuation metadata of a list page
type Meta struct {
	HasNextPage *bool `json:"hasNextPage,omitempty"`
}

// NextPage reports whether a further page exists
func (m Meta) NextPage() bool {
	return m.HasNextPage != nil && *m.HasNextPage
}

// ListResult is a page of records plus continuation metadata
type ListResult struct {
	Data []Record `json:"data"`
	Meta Meta     `json:"meta"`
}

// NewListResult builds a page result with a computed hasNextPage
func NewListResult(data []Record, hasNextPage bool) *ListResult {
	if data == nil {
		data = []Record{}
	}
	return &ListResult{Data: data, Meta: Meta{HasNextPage: &hasNextPage}}
}

// Clone copies the page and its records
func (l *ListResult) Clone() *ListResult {
	if l == nil {
		return nil
	}
	out := &ListResult{Data: CloneRecords(l.Data), Meta: l.Meta}
	if l.Meta.HasNextPage != nil {
		v := *l.Meta.HasNextPage
		out.Meta.HasNextPage = &v
	}
	return out
}

// Query represents a list request with filters, sorting, and pagination
type Query struct {
	Filter     Filter      `json:"filter"`
	Pagination Pagination  `json:"pagination"`
	Sorting    []SortField `json:"sorting,omitempty"`
}

// NewQuery creates a query for the first page with the default page size
func NewQuery() Query {
	return Query{
		Filter:     Filter{},
		Pagination: NewPagination(0, 0),
	}
}

// WithFilter returns a copy of the query with the given filter nodes
func (q Query) WithFilter(nodes ...FilterNode) Query {
	q.Filter = append(Filter{}, nodes...)
	return q
}

// WithSort returns a copy of the query with an extra sort key
func (q Query) WithSort(field string, direction SortDirection) Query {
	sorting := make([]SortField, 0, len(q.Sorting)+1)
	sorting = append(sorting, q.Sorting...)
	q.Sorting = append(sorting, SortField{Field: field, Direction: direction})
	return q
}

// WithPagination returns a copy of the query on the given page
func (q Query) WithPagination(p Pagination) Query {
	q.Pagination = p
	return q
}

// NextPage returns a copy of the query on the following page
func (q Query) NextPage() Query {
	q.Pagination = q.Pagination.Next()
	return q
}

// HasFilters returns true if the query has any filters
func (q Query) HasFilters() bool {
	return len(q.Filter) > 0
}

// HasSort returns true if the query has sorting
func (q Query) HasSort() bool {
	return len(q.Sorting) > 0
}

// Key returns the canonical serialization of the query, used for caching and
// de-duplication. Two queries are the same iff their keys are equal.
func (q Query) Key() string {
	if q.Filter == nil {
		q.Filter = Filter{}
	}
	data, err := json.Marshal(q)
	if err != nil {
		// values that cannot be encoded still need a stable, distinct key
		return "!" + err.Error()
	}
	return string(data)
}

// getPageSizeFromEnv gets page size from environment variable or default
func getPageSizeFromEnv() int {
	if envSize := os.Getenv("CRUD_PAGE_SIZE"); envSize != "" {
		if size, err := strconv.Atoi(envSize); err == nil && size > 0 && size <= MaxPageSize {
			return size
		}
	}
	return DefaultPageSize
}

// String returns a string representation of the sort direction
func (sd SortDirection) String() string {
	return string(sd)
}

// IsValid checks if the sort direction is valid
func (sd SortDirection) IsValid() bool {
	return sd == "" || sd == SortAsc || sd == SortDesc
}

// Opposite returns the opposite sort direction
func (sd SortDirection) Opposite() SortDirection {
	if sd == SortDesc {
		return SortAsc
	}
	return SortDesc
}
