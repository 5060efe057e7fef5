package core

import (
	"bytes"
	"fmt"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

// CacheEntry is the last known outcome of a query: a page or a failed status
type CacheEntry struct {
	Result *ListResult
	Status Status
}

// Clone copies the entry so callers cannot mutate cached state
func (e *CacheEntry) Clone() *CacheEntry {
	if e == nil {
		return nil
	}
	return &CacheEntry{Result: e.Result.Clone(), Status: e.Status}
}

// MarshalJSON encodes the entry as either the page or the status. An OK entry
// without a page encodes as null.
func (e CacheEntry) MarshalJSON() ([]byte, error) {
	if !e.Status.IsOK() {
		return json.Marshal(e.Status)
	}
	if e.Result == nil {
		return []byte("null"), nil
	}
	if e.Result.Data == nil {
		page := *e.Result
		page.Data = []Record{}
		return json.Marshal(page)
	}
	return json.Marshal(e.Result)
}

// UnmarshalJSON accepts either a page ({data, meta}) or a status ({errorCode, ...}).
// null, or an OK payload without data, decodes to an entry without a page.
func (e *CacheEntry) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*e = CacheEntry{Status: OKStatus()}
		return nil
	}
	var probe struct {
		Data      jsoniter.RawMessage `json:"data"`
		ErrorCode *ErrorCode          `json:"errorCode"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("failed to decode list outcome: %w", err)
	}
	if probe.ErrorCode != nil && *probe.ErrorCode != OK {
		var st Status
		if err := json.Unmarshal(data, &st); err != nil {
			return fmt.Errorf("failed to decode status: %w", err)
		}
		*e = CacheEntry{Status: st}
		return nil
	}
	if len(probe.Data) == 0 {
		*e = CacheEntry{Status: OKStatus()}
		return nil
	}
	var result ListResult
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("failed to decode list result: %w", err)
	}
	if result.Data == nil {
		result.Data = []Record{}
	}
	*e = CacheEntry{Result: &result, Status: OKStatus()}
	return nil
}

// Cache holds the last outcome per QueryKey. Entries are replaced, never expired.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*CacheEntry
}

// NewCache creates an empty cache
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*CacheEntry)}
}

// Store records the outcome of q
func (c *Cache) Store(q Query, result *ListResult, status Status) {
	entry := &CacheEntry{Result: result.Clone(), Status: status}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[q.Key()] = entry
}

// Load returns a copy of the outcome cached for q, or nil on a miss
func (c *Cache) Load(q Query) *CacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[q.Key()].Clone()
}

// Seed stores a serialization bundle under its query
func (c *Cache) Seed(b Bundle) {
	c.Store(b.Query(), b.Data.Result, b.Data.Status)
}

// Len returns the number of cached queries
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Bundle is the serialization handoff used to hydrate a source without a round trip
type Bundle struct {
	Data       CacheEntry  `json:"data"`
	Filter     Filter      `json:"filter"`
	Pagination Pagination  `json:"pagination"`
	Sorting    []SortField `json:"sorting,omitempty"`
}

// NewBundle captures the outcome of q for later hydration
func NewBundle(q Query, result *ListResult, status Status) Bundle {
	return Bundle{
		Data:       CacheEntry{Result: result.Clone(), Status: status},
		Filter:     q.Filter,
		Pagination: q.Pagination,
		Sorting:    q.Sorting,
	}
}

// Query returns the query the bundle was captured for
func (b Bundle) Query() Query {
	return Query{Filter: b.Filter, Pagination: b.Pagination, Sorting: b.Sorting}
}

// Records returns the page records of the bundle, if it holds a page
func (b Bundle) Records() []Record {
	if b.Data.Result == nil {
		return nil
	}
	return CloneRecords(b.Data.Result.Data)
}

// DecodeBundle decodes a JSON serialization bundle
func DecodeBundle(data []byte) (Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return Bundle{}, fmt.Errorf("failed to decode bundle: %w", err)
	}
	return b, nil
}
