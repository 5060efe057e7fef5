package coordinator

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/preslavrachev/crudsource/adapters/memory"
	"github.com/preslavrachev/crudsource/core"
	"github.com/preslavrachev/crudsource/metrics"
)

// gatedSource holds List calls for a page until its gate is closed
type gatedSource struct {
	*memory.Source

	mu      sync.Mutex
	calls   int
	gates   map[int]chan struct{}
	started chan int
}

func newGatedSource(records ...core.Record) *gatedSource {
	return &gatedSource{
		Source:  memory.New("id", memory.WithRecords(records)),
		gates:   make(map[int]chan struct{}),
		started: make(chan int, 16),
	}
}

func (g *gatedSource) gate(page int) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := make(chan struct{})
	g.gates[page] = ch
	return ch
}

func (g *gatedSource) List(ctx context.Context, q core.Query) (*core.ListResult, core.Status) {
	g.mu.Lock()
	g.calls++
	gate := g.gates[q.Pagination.Page]
	g.mu.Unlock()

	g.started <- q.Pagination.Page
	if gate != nil {
		<-gate
	}
	return g.Source.List(ctx, q)
}

func (g *gatedSource) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func pageQuery(page int) core.Query {
	return core.Query{
		Filter:     core.Filter{},
		Pagination: core.Pagination{Page: page, CountOnPage: 1},
		Sorting:    []core.SortField{core.Asc("id")},
	}
}

func listIDs(s ViewState) []any {
	out := make([]any, 0, len(s.List))
	for _, r := range s.List {
		out = append(out, r["id"])
	}
	return out
}

func TestCoordinator_BootstrapsFromCache(t *testing.T) {
	q := pageQuery(0)
	bundle := core.NewBundle(q, core.NewListResult([]core.Record{{"id": 1}}, true), core.OKStatus())
	src := &gatedSource{
		Source:  memory.New("id", memory.WithBundle(bundle)),
		gates:   make(map[int]chan struct{}),
		started: make(chan int, 16),
	}

	c := New(src, q)
	state := c.State()
	assert.True(t, state.HasData)
	assert.Equal(t, []any{1}, listIDs(state))
	assert.True(t, state.Meta.NextPage())

	c.Mount(context.Background())
	c.Wait()
	assert.Zero(t, src.Calls(), "cached data needs no initial request")
	c.Close()
}

func TestCoordinator_MountLoadsWhenCacheIsEmpty(t *testing.T) {
	src := newGatedSource(core.Record{"id": 1}, core.Record{"id": 2})
	c := New(src, pageQuery(0))
	assert.False(t, c.State().HasData)
	assert.True(t, c.State().Error.IsOK())

	c.Mount(context.Background())
	c.Mount(context.Background())
	c.Wait()

	state := c.State()
	assert.True(t, state.HasData)
	assert.Equal(t, []any{1}, listIDs(state))
	assert.Equal(t, 1, src.Calls())
	c.Close()
}

func TestCoordinator_CachedErrorSkipsInitialLoad(t *testing.T) {
	q := pageQuery(0)
	bundle := core.NewBundle(q, nil, core.ErrorStatus("unavailable"))
	src := &gatedSource{
		Source:  memory.New("id", memory.WithBundle(bundle)),
		gates:   make(map[int]chan struct{}),
		started: make(chan int, 16),
	}

	c := New(src, q)
	assert.Equal(t, "unavailable", c.State().Error.ErrorMessage)

	c.Mount(context.Background())
	c.Wait()
	assert.Zero(t, src.Calls())
	c.Close()
}

func TestCoordinator_DeduplicatesInFlightQuery(t *testing.T) {
	src := newGatedSource(core.Record{"id": 1})
	release := src.gate(0)
	c := New(src, pageQuery(0))

	done := make(chan core.Status)
	go func() { done <- c.Refresh(context.Background()) }()
	<-src.started

	st := c.Refresh(context.Background())
	assert.True(t, st.IsOK())
	assert.Equal(t, 1, src.Calls())

	close(release)
	require.True(t, (<-done).IsOK())
	assert.True(t, c.State().HasData)

	// a completed query may be refreshed again
	c.Refresh(context.Background())
	<-src.started
	assert.Equal(t, 2, src.Calls())
}

func TestCoordinator_LastQueryWins(t *testing.T) {
	src := newGatedSource(core.Record{"id": 1}, core.Record{"id": 2}, core.Record{"id": 3})
	releaseFirst := src.gate(0)
	releaseSecond := src.gate(1)
	c := New(src, pageQuery(0))

	first := make(chan core.Status)
	go func() { first <- c.Refresh(context.Background()) }()
	require.Equal(t, 0, <-src.started)

	second := make(chan core.Status)
	go func() { second <- c.SetQuery(context.Background(), pageQuery(1)) }()
	require.Equal(t, 1, <-src.started)

	close(releaseSecond)
	require.True(t, (<-second).IsOK())
	assert.Equal(t, []any{2}, listIDs(c.State()))

	close(releaseFirst)
	require.True(t, (<-first).IsOK())
	assert.Equal(t, []any{2}, listIDs(c.State()), "late result of the previous query is discarded")
	assert.Equal(t, 1, c.Query().Pagination.Page)
}

func TestCoordinator_CloseDiscardsLateResults(t *testing.T) {
	src := newGatedSource(core.Record{"id": 1})
	release := src.gate(0)
	c := New(src, pageQuery(0))
	c.Mount(context.Background())
	<-src.started

	c.Close()
	c.Close()
	close(release)
	c.Wait()

	assert.False(t, c.State().HasData)

	require.True(t, src.Create(context.Background(), []core.Record{{"id": 2}}).IsOK())
	c.Wait()
	assert.Equal(t, 1, src.Calls(), "closed coordinators ignore source events")

	st := c.Refresh(context.Background())
	assert.Equal(t, ErrClosed.Error(), st.ErrorMessage)
}

func TestCoordinator_MutationsTriggerRefresh(t *testing.T) {
	src := newGatedSource(core.Record{"id": 5})
	q := core.Query{Filter: core.Filter{}, Pagination: core.Pagination{Page: 0, CountOnPage: 10}, Sorting: []core.SortField{core.Asc("id")}}
	c := New(src, q)
	c.Mount(context.Background())
	c.Wait()
	<-src.started
	require.Equal(t, []any{5}, listIDs(c.State()))

	require.True(t, src.Create(context.Background(), []core.Record{{"id": 1}}).IsOK())
	c.Wait()
	<-src.started
	assert.Equal(t, []any{1, 5}, listIDs(c.State()))

	require.True(t, src.Delete(context.Background(), 5).IsOK())
	c.Wait()
	<-src.started
	assert.Equal(t, []any{1}, listIDs(c.State()))
	c.Close()
}

func TestCoordinator_FailedRefreshReplacesData(t *testing.T) {
	src := newGatedSource(core.Record{"id": 1})
	c := New(src, pageQuery(0))
	require.True(t, c.Refresh(context.Background()).IsOK())
	<-src.started

	invalid := core.Query{Pagination: core.Pagination{Page: 0, CountOnPage: 0}}
	st := c.SetQuery(context.Background(), invalid)
	<-src.started
	assert.False(t, st.IsOK())

	state := c.State()
	assert.False(t, state.HasData)
	assert.Empty(t, state.List)
	assert.Equal(t, st, state.Error)
}

func TestCoordinator_Observe(t *testing.T) {
	src := newGatedSource(core.Record{"id": 1})
	c := New(src, pageQuery(0))

	var states []ViewState
	unsubscribe := c.Observe(func(s ViewState) { states = append(states, s) })

	c.Refresh(context.Background())
	<-src.started
	require.Len(t, states, 1)
	assert.True(t, states[0].HasData)

	unsubscribe()
	c.Refresh(context.Background())
	<-src.started
	assert.Len(t, states, 1)
}

func TestCoordinator_StateIsACopy(t *testing.T) {
	src := newGatedSource(core.Record{"id": 1, "name": "a"})
	c := New(src, pageQuery(0))
	c.Refresh(context.Background())
	<-src.started

	s := c.State()
	s.List[0]["name"] = "mutated"
	assert.Equal(t, "a", c.State().List[0]["name"])
}

func TestCoordinator_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	src := newGatedSource(core.Record{"id": 1})
	c := New(src, pageQuery(0), WithMetrics(m))
	c.Mount(context.Background())
	c.Wait()
	<-src.started

	require.True(t, src.Update(context.Background(), core.Partial{"id": 1, "name": "x"}).IsOK())
	c.Wait()
	<-src.started
	c.Close()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RefreshesTotal.WithLabelValues(metrics.RefreshApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues(string(core.OnUpdate))))
}
