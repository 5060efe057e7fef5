// Package coordinator keeps a consumer's view of one query in sync with a source.
//
// A Coordinator paints first from the source's cache, refreshes in the
// background when mounted or when the source reports a mutation, drops
// duplicate refreshes of a query already in flight and discards results of
// queries that are no longer current.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/preslavrachev/crudsource/core"
	"github.com/preslavrachev/crudsource/metrics"
)

// ErrClosed is reported by refreshes requested after Close
var ErrClosed = errors.New("coordinator is closed")

// refreshEvents are the source events that trigger a refresh of the current query
var refreshEvents = []core.Event{
	core.OnCreate,
	core.OnDelete,
	core.OnUpdate,
	core.OnChangeCustomQueryParams,
}

const stateChanged = "stateChanged"

// ViewState is what a consumer renders
type ViewState struct {
	List    []core.Record
	HasData bool
	Error   core.Status
	Meta    core.Meta
}

func stateFromEntry(entry *core.CacheEntry) ViewState {
	if entry == nil {
		return ViewState{Error: core.OKStatus()}
	}
	return stateFromList(entry.Result, entry.Status)
}

func stateFromList(result *core.ListResult, st core.Status) ViewState {
	if !st.IsOK() || result == nil {
		return ViewState{Error: st}
	}
	return ViewState{
		List:    result.Data,
		HasData: true,
		Error:   core.OKStatus(),
		Meta:    result.Meta,
	}
}

// process tracks one list request per query key
type process struct {
	active bool
	actual bool
}

// Coordinator drives the view state of a single consumer
type Coordinator struct {
	src     core.Source
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu           sync.Mutex
	ctx          context.Context
	query        core.Query
	state        ViewState
	processes    map[string]*process
	unsubscribes []func()
	mounted      bool
	closed       bool

	observers core.EventBus[string, ViewState]
	wg        sync.WaitGroup
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = l.With().Str("component", "coordinator").Logger() }
}

// WithMetrics records refresh and event metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// New creates a coordinator for q. The initial state comes from the source's
// cache; no request is made.
func New(src core.Source, q core.Query, opts ...Option) *Coordinator {
	c := &Coordinator{
		src:       src,
		logger:    zerolog.Nop(),
		ctx:       context.Background(),
		query:     q,
		state:     stateFromEntry(src.GetSerializationData(q)),
		processes: make(map[string]*process),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mount subscribes to the source's mutation events and, when the cache held
// neither data nor an error, starts the initial refresh in the background.
// Background refreshes use ctx.
func (c *Coordinator) Mount(ctx context.Context) {
	c.mu.Lock()
	if c.mounted || c.closed {
		c.mu.Unlock()
		return
	}
	c.mounted = true
	c.ctx = ctx
	needsLoad := !c.state.HasData && c.state.Error.IsOK()
	c.mu.Unlock()

	unsubscribes := make([]func(), 0, len(refreshEvents))
	for _, event := range refreshEvents {
		unsubscribes = append(unsubscribes, c.src.On(event, c.handleEvent))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
		return
	}
	c.unsubscribes = unsubscribes
	c.mu.Unlock()

	if needsLoad {
		c.refreshAsync()
	}
}

func (c *Coordinator) handleEvent(event core.Event, _ []core.Record) {
	c.metrics.RecordEvent(string(event))
	c.logger.Debug().Str("event", string(event)).Msg("source changed")
	c.refreshAsync()
}

func (c *Coordinator) refreshAsync() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.Refresh(ctx)
	}()
}

// Refresh lists the current query and applies the result if the query is still
// current when the request completes. A refresh of a query already in flight
// is skipped.
func (c *Coordinator) Refresh(ctx context.Context) core.Status {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.metrics.RecordRefresh(metrics.RefreshSkipped)
		return core.StatusFromError(ErrClosed)
	}
	q := c.query
	key := q.Key()
	if p, ok := c.processes[key]; ok && p.active {
		c.mu.Unlock()
		c.metrics.RecordRefresh(metrics.RefreshSkipped)
		c.logger.Debug().Str("query", key).Msg("refresh already in flight")
		return core.OKStatus()
	}
	for _, p := range c.processes {
		p.actual = false
	}
	p := &process{active: true, actual: true}
	c.processes[key] = p
	c.mu.Unlock()

	start := time.Now()
	result, st := c.src.List(ctx, q)

	c.mu.Lock()
	p.active = false
	if !p.actual {
		c.mu.Unlock()
		c.metrics.RecordRefresh(metrics.RefreshStale)
		c.logger.Debug().Str("query", key).Msg("discarding stale result")
		return st
	}
	c.state = stateFromList(result, st)
	state := c.state
	c.mu.Unlock()

	outcome := metrics.RefreshApplied
	if !st.IsOK() {
		outcome = metrics.RefreshFailed
	}
	c.metrics.RecordRefresh(outcome)
	c.logger.Debug().
		Str("query", key).
		Str("outcome", outcome).
		Dur("duration", time.Since(start)).
		Msg("refresh completed")

	c.observers.Publish(stateChanged, state)
	return st
}

// SetQuery makes q the current query and refreshes it. Results still in
// flight for the previous query are discarded.
func (c *Coordinator) SetQuery(ctx context.Context, q core.Query) core.Status {
	c.mu.Lock()
	c.query = q
	c.mu.Unlock()
	return c.Refresh(ctx)
}

// Query returns the current query
func (c *Coordinator) Query() core.Query {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query
}

// State returns a copy of the current view state
func (c *Coordinator) State() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.List = core.CloneRecords(s.List)
	return s
}

// Observe registers fn to receive every applied state
func (c *Coordinator) Observe(fn func(ViewState)) func() {
	return c.observers.Subscribe(stateChanged, func(_ string, s ViewState) {
		s.List = core.CloneRecords(s.List)
		fn(s)
	})
}

// Wait blocks until the background refreshes started so far have finished
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close unsubscribes from the source and discards every result still in
// flight. It is safe to call more than once.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, p := range c.processes {
		p.actual = false
	}
	unsubscribes := c.unsubscribes
	c.unsubscribes = nil
	c.mu.Unlock()

	for _, unsubscribe := range unsubscribes {
		unsubscribe()
	}
}
