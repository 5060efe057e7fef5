package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_StoreAndLoad(t *testing.T) {
	c := NewCache()
	q := NewQuery()
	assert.Nil(t, c.Load(q))

	result := NewListResult([]Record{{"id": 1}}, false)
	c.Store(q, result, OKStatus())

	entry := c.Load(q)
	require.NotNil(t, entry)
	assert.True(t, entry.Status.IsOK())
	assert.Equal(t, []Record{{"id": 1}}, entry.Result.Data)
	assert.Equal(t, 1, c.Len())
}

func TestCache_EntriesAreCopies(t *testing.T) {
	c := NewCache()
	q := NewQuery()
	result := NewListResult([]Record{{"id": 1, "name": "a"}}, false)
	c.Store(q, result, OKStatus())

	result.Data[0]["name"] = "mutated"
	loaded := c.Load(q)
	assert.Equal(t, "a", loaded.Result.Data[0]["name"])

	loaded.Result.Data[0]["name"] = "mutated again"
	assert.Equal(t, "a", c.Load(q).Result.Data[0]["name"])
}

func TestCache_OverwritesPerKey(t *testing.T) {
	c := NewCache()
	q := NewQuery()
	c.Store(q, NewListResult([]Record{{"id": 1}}, false), OKStatus())
	c.Store(q, nil, ErrorStatus("boom"))

	entry := c.Load(q)
	assert.Nil(t, entry.Result)
	assert.Equal(t, "boom", entry.Status.ErrorMessage)
	assert.Equal(t, 1, c.Len())
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			q := NewQuery().WithPagination(Pagination{Page: page, CountOnPage: 10})
			c.Store(q, NewListResult(nil, false), OKStatus())
			c.Load(q)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, c.Len())
}

func TestCacheEntry_JSON(t *testing.T) {
	page := CacheEntry{Result: NewListResult([]Record{{"id": 1}}, true), Status: OKStatus()}
	data, err := json.Marshal(page)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[{"id":1}],"meta":{"hasNextPage":true}}`, string(data))

	failed := CacheEntry{Status: ErrorStatus("down")}
	data, err = json.Marshal(failed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"errorCode":1,"errorMessage":"down"}`, string(data))

	var decoded CacheEntry
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Nil(t, decoded.Result)
	assert.Equal(t, ERROR, decoded.Status.ErrorCode)
}

func TestCacheEntry_JSONWithoutPage(t *testing.T) {
	empty := CacheEntry{Status: OKStatus()}
	data, err := json.Marshal(empty)
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))

	var fromNull CacheEntry
	require.NoError(t, json.Unmarshal(data, &fromNull))
	assert.Nil(t, fromNull.Result)
	assert.True(t, fromNull.Status.IsOK())

	for _, payload := range []string{`{"errorCode":0}`, `{}`} {
		decoded := CacheEntry{Result: NewListResult(nil, true)}
		require.NoError(t, json.Unmarshal([]byte(payload), &decoded), payload)
		assert.Nil(t, decoded.Result, payload)
		assert.True(t, decoded.Status.IsOK(), payload)
	}

	var page CacheEntry
	require.NoError(t, json.Unmarshal([]byte(`{"data":[],"meta":{}}`), &page))
	require.NotNil(t, page.Result, "an empty page is still a page")
	assert.Empty(t, page.Result.Data)

	data, err = json.Marshal(CacheEntry{Result: &ListResult{}, Status: OKStatus()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[],"meta":{}}`, string(data))
}

func TestBundle_WithoutPage(t *testing.T) {
	q := NewQuery()
	data, err := json.Marshal(NewBundle(q, nil, OKStatus()))
	require.NoError(t, err)

	decoded, err := DecodeBundle(data)
	require.NoError(t, err)
	assert.Nil(t, decoded.Data.Result)
	assert.True(t, decoded.Data.Status.IsOK())
	assert.Nil(t, decoded.Records())
}

func TestBundle_RoundTripSeedsCache(t *testing.T) {
	q := NewQuery().WithFilter(Where("id", GT, 1)).WithSort("id", SortDesc)
	bundle := NewBundle(q, NewListResult([]Record{{"id": 3}, {"id": 2}}, false), OKStatus())

	data, err := json.Marshal(bundle)
	require.NoError(t, err)

	decoded, err := DecodeBundle(data)
	require.NoError(t, err)
	assert.Equal(t, q.Key(), decoded.Query().Key())
	assert.Len(t, decoded.Records(), 2)

	c := NewCache()
	c.Seed(decoded)
	entry := c.Load(q)
	require.NotNil(t, entry)
	require.NotNil(t, entry.Result)
	assert.Len(t, entry.Result.Data, 2)
	assert.False(t, entry.Result.Meta.NextPage())
}

func TestBundle_WithStatus(t *testing.T) {
	decoded, err := DecodeBundle([]byte(`{
		"data":{"errorCode":1,"errorMessage":"unavailable"},
		"filter":[],
		"pagination":{"page":0,"countOnPage":10}
	}`))
	require.NoError(t, err)
	assert.Nil(t, decoded.Records())
	assert.Equal(t, "unavailable", decoded.Data.Status.ErrorMessage)
}
