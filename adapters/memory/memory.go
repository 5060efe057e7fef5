package memory

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/preslavrachev/crudsource/core"
	"github.com/preslavrachev/crudsource/metrics"
)

const sourceName = "memory"

// Source implements core.Source over a local, insertion-ordered collection
type Source struct {
	core.Base

	mu      sync.RWMutex
	data    []core.Record
	latency time.Duration

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// Option configures a Source
type Option func(*options)

type options struct {
	records []core.Record
	bundle  *core.Bundle
	latency time.Duration
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// WithRecords seeds the collection
func WithRecords(records []core.Record) Option {
	return func(o *options) { o.records = append(o.records, records...) }
}

// WithBundle seeds the collection and the cache from a serialization bundle
func WithBundle(b core.Bundle) Option {
	return func(o *options) { o.bundle = &b }
}

// WithLatency delays the completion of every operation
func WithLatency(d time.Duration) Option {
	return func(o *options) { o.latency = d }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records operation metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New creates a new in-memory source
func New(keyField string, opts ...Option) *Source {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Source{
		Base:    core.NewBase(keyField, o.bundle),
		latency: o.latency,
		logger:  o.logger.With().Str("component", sourceName).Logger(),
		metrics: o.metrics,
	}
	if o.bundle != nil {
		s.data = o.bundle.Records()
	}
	s.data = append(s.data, core.CloneRecords(o.records)...)
	return s
}

// SetLatency changes the artificial latency at runtime
func (s *Source) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// Len returns the number of records in the collection
func (s *Source) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// wait applies the artificial latency; false means ctx finished first
func (s *Source) wait(ctx context.Context) bool {
	s.mu.RLock()
	d := s.latency
	s.mu.RUnlock()

	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// indexOf returns the position of the first record whose key equals id; callers hold mu
func (s *Source) indexOf(id any) int {
	key := s.KeyField()
	for i, r := range s.data {
		if core.ValuesEqual(r[key], id) {
			return i
		}
	}
	return -1
}

// Create implements core.Source. Subscribers receive the exact input items.
func (s *Source) Create(ctx context.Context, items []core.Record) core.Status {
	start := time.Now()
	if !s.wait(ctx) {
		return s.done("create", start, core.ContextStatus(ctx))
	}

	s.mu.Lock()
	s.data = append(s.data, core.CloneRecords(items)...)
	s.mu.Unlock()

	s.Publish(core.OnCreate, items)
	s.logger.Debug().Int("count", len(items)).Msg("records created")
	return s.done("create", start, core.OKStatus())
}

// Read implements core.Source. It completes without latency.
func (s *Source) Read(ctx context.Context, id any) (core.Record, core.Status) {
	start := time.Now()
	if ctx.Err() != nil {
		return nil, s.done("read", start, core.ContextStatus(ctx))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.data[i].Clone(), s.done("read", start, core.OKStatus())
	}
	return nil, s.done("read", start, core.OKStatus())
}

// Update implements core.Source
func (s *Source) Update(ctx context.Context, partial core.Partial) core.Status {
	start := time.Now()
	key := s.KeyField()
	id, ok := partial.Key(key)
	if !ok {
		return s.done("update", start, core.KeyFieldMissingStatus(key))
	}
	if !s.wait(ctx) {
		return s.done("update", start, core.ContextStatus(ctx))
	}

	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return s.done("update", start, core.NotFoundStatus(key))
	}
	updated := partial.Apply(s.data[i])
	s.data[i] = updated
	s.mu.Unlock()

	s.Publish(core.OnUpdate, []core.Record{updated.Clone()})
	return s.done("update", start, core.OKStatus())
}

// Delete implements core.Source
func (s *Source) Delete(ctx context.Context, id any) core.Status {
	_, st := s.Remove(ctx, id)
	return st
}

// Remove implements core.Remover: it deletes the first record with the key and returns a copy of it
func (s *Source) Remove(ctx context.Context, id any) (core.Record, core.Status) {
	start := time.Now()
	if !s.wait(ctx) {
		return nil, s.done("delete", start, core.ContextStatus(ctx))
	}

	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return nil, s.done("delete", start, core.NotFoundStatus(s.KeyField()))
	}
	removed := s.data[i]
	s.data = append(s.data[:i:i], s.data[i+1:]...)
	s.mu.Unlock()

	s.Publish(core.OnDelete, []core.Record{removed})
	return removed.Clone(), s.done("delete", start, core.OKStatus())
}

// List implements core.Source and caches the page under the query key
func (s *Source) List(ctx context.Context, q core.Query) (*core.ListResult, core.Status) {
	start := time.Now()
	if !q.Pagination.IsValid() {
		return nil, s.done("list", start, core.ErrorStatusf("invalid pagination: page %d, countOnPage %d", q.Pagination.Page, q.Pagination.CountOnPage))
	}

	s.mu.RLock()
	result := Execute(s.data, q)
	s.mu.RUnlock()

	if !s.wait(ctx) {
		return nil, s.done("list", start, core.ContextStatus(ctx))
	}

	s.Cache().Store(q, result, core.OKStatus())
	s.logger.Debug().
		Str("query", q.Key()).
		Int("rows", len(result.Data)).
		Bool("has_next_page", result.Meta.NextPage()).
		Msg("list completed")
	s.done("list", start, core.OKStatus())
	return result, core.OKStatus()
}

func (s *Source) done(operation string, start time.Time, st core.Status) core.Status {
	s.metrics.RecordOperation(sourceName, operation, st.IsOK(), time.Since(start))
	if !st.IsOK() {
		s.logger.Debug().Str("operation", operation).Str("error", st.ErrorMessage).Msg("operation failed")
	}
	return st
}

var (
	_ core.Source  = (*Source)(nil)
	_ core.Remover = (*Source)(nil)
)
