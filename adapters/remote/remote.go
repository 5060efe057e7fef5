// Package remote implements core.Source over the crud HTTP wire format.
//
// Endpoints live under a root (default "/crud"): create, update and delete are
// POSTs with a URI-escaped JSON body, read and list are GETs. Every failure,
// transport errors included, is reported as a core.Status.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/preslavrachev/crudsource/core"
	"github.com/preslavrachev/crudsource/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	sourceName = "remote"

	// DefaultEndpoint is the endpoint root used when none is configured
	DefaultEndpoint = "/crud"

	// RequestIDHeader carries the per-request correlation id
	RequestIDHeader = "X-Request-ID"

	maxResponseSize = 10 << 20
)

// QueryParam is a custom parameter appended to every request
type QueryParam struct {
	Name  string
	Value string
}

// Source implements core.Source against a remote crud endpoint
type Source struct {
	core.Base

	endpoint string
	client   *http.Client
	headers  http.Header

	mu     sync.RWMutex
	params []QueryParam

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// Option configures a Source
type Option func(*options)

type options struct {
	endpoint string
	client   *http.Client
	headers  http.Header
	bundle   *core.Bundle
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// WithEndpoint sets the endpoint root, usually an absolute URL
func WithEndpoint(root string) Option {
	return func(o *options) { o.endpoint = strings.TrimRight(root, "/") }
}

// WithHTTPClient sets the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithHeader adds a header sent with every request
func WithHeader(name, value string) Option {
	return func(o *options) { o.headers.Add(name, value) }
}

// WithBundle seeds the cache from a serialization bundle, so
// GetSerializationData answers without a round trip
func WithBundle(b core.Bundle) Option {
	return func(o *options) { o.bundle = &b }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records operation metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New creates a remote source
func New(keyField string, opts ...Option) *Source {
	o := options{
		endpoint: DefaultEndpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		headers:  make(http.Header),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Source{
		Base:     core.NewBase(keyField, o.bundle),
		endpoint: o.endpoint,
		client:   o.client,
		headers:  o.headers,
		logger:   o.logger.With().Str("component", sourceName).Logger(),
		metrics:  o.metrics,
	}
}

// Endpoint returns the endpoint root
func (s *Source) Endpoint() string {
	return s.endpoint
}

// SetCustomQueryParams replaces the custom parameters and notifies
// OnChangeCustomQueryParams subscribers
func (s *Source) SetCustomQueryParams(params []QueryParam) {
	s.mu.Lock()
	s.params = append([]QueryParam(nil), params...)
	s.mu.Unlock()

	s.Publish(core.OnChangeCustomQueryParams, nil)
}

// CustomQueryParams returns a copy of the custom parameters
func (s *Source) CustomQueryParams() []QueryParam {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]QueryParam(nil), s.params...)
}

// Create implements core.Source. Subscribers receive the records returned by the server.
func (s *Source) Create(ctx context.Context, items []core.Record) core.Status {
	start := time.Now()
	body, err := encodeBody(items)
	if err != nil {
		return s.done("create", start, core.StatusFromError(err))
	}

	data, st := s.do(ctx, http.MethodPost, "create", "", body)
	if !st.IsOK() {
		return s.done("create", start, st)
	}

	var created []core.Record
	if err := json.Unmarshal(data, &created); err != nil {
		return s.done("create", start, core.ErrorStatusf("failed to decode create response: %v", err))
	}

	s.Publish(core.OnCreate, created)
	return s.done("create", start, core.OKStatus())
}

// Read implements core.Source. A null body is an explicit absence.
func (s *Source) Read(ctx context.Context, id any) (core.Record, core.Status) {
	start := time.Now()
	query := escape(s.KeyField()) + "=" + escape(formatKey(id))

	data, st := s.do(ctx, http.MethodGet, "read", query, nil)
	if !st.IsOK() {
		return nil, s.done("read", start, st)
	}

	var r core.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, s.done("read", start, core.ErrorStatusf("failed to decode read response: %v", err))
	}
	return r, s.done("read", start, core.OKStatus())
}

// Update implements core.Source. Subscribers receive the record returned by the server.
func (s *Source) Update(ctx context.Context, partial core.Partial) core.Status {
	start := time.Now()
	if _, ok := partial.Key(s.KeyField()); !ok {
		return s.done("update", start, core.KeyFieldMissingStatus(s.KeyField()))
	}
	body, err := encodeBody(partial)
	if err != nil {
		return s.done("update", start, core.StatusFromError(err))
	}

	data, st := s.do(ctx, http.MethodPost, "update", "", body)
	if !st.IsOK() {
		return s.done("update", start, st)
	}

	var updated core.Record
	if err := json.Unmarshal(data, &updated); err != nil {
		return s.done("update", start, core.ErrorStatusf("failed to decode update response: %v", err))
	}

	s.Publish(core.OnUpdate, []core.Record{updated})
	return s.done("update", start, core.OKStatus())
}

// Delete implements core.Source. A success response carrying a non-zero
// errorCode is returned as the operation's status and fires no event.
func (s *Source) Delete(ctx context.Context, id any) core.Status {
	start := time.Now()
	body, err := encodeBody(core.Record{s.KeyField(): id})
	if err != nil {
		return s.done("delete", start, core.StatusFromError(err))
	}

	data, st := s.do(ctx, http.MethodPost, "delete", "", body)
	if !st.IsOK() {
		return s.done("delete", start, st)
	}

	var deleted core.Record
	if err := json.Unmarshal(data, &deleted); err != nil {
		return s.done("delete", start, core.ErrorStatusf("failed to decode delete response: %v", err))
	}
	if embedded, ok := embeddedStatus(deleted); ok {
		return s.done("delete", start, embedded)
	}
	if deleted == nil {
		deleted = core.Record{s.KeyField(): id}
	}

	s.Publish(core.OnDelete, []core.Record{deleted})
	return s.done("delete", start, core.OKStatus())
}

// List implements core.Source and caches the decoded response under the query key
func (s *Source) List(ctx context.Context, q core.Query) (*core.ListResult, core.Status) {
	start := time.Now()
	if q.Filter == nil {
		q.Filter = core.Filter{}
	}
	params, err := json.Marshal(q)
	if err != nil {
		return nil, s.done("list", start, core.ErrorStatusf("failed to encode list params: %v", err))
	}

	data, st := s.do(ctx, http.MethodGet, "list", "params="+escape(string(params)), nil)
	if !st.IsOK() {
		return nil, s.done("list", start, st)
	}

	var entry core.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, s.done("list", start, core.ErrorStatusf("failed to decode list response: %v", err))
	}
	if entry.Status.IsOK() && entry.Result == nil {
		return nil, s.done("list", start, core.ErrorStatus("list response carries no data"))
	}
	s.Cache().Store(q, entry.Result, entry.Status)

	if !entry.Status.IsOK() {
		return nil, s.done("list", start, entry.Status)
	}
	return entry.Result, s.done("list", start, core.OKStatus())
}

// do performs one request and returns the body of a 200 response
func (s *Source) do(ctx context.Context, method, op, query string, body []byte) ([]byte, core.Status) {
	requestID := uuid.NewString()
	target := s.url(op, query)
	log := s.logger.With().
		Str("request_id", requestID).
		Str("method", method).
		Str("url", target).
		Logger()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		log.Error().Err(err).Msg("failed to build request")
		return nil, core.ErrorStatus(err.Error())
	}
	for name, values := range s.headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set(RequestIDHeader, requestID)
	if body != nil {
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("request failed")
		return nil, core.ErrorStatus(err.Error())
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		log.Warn().Err(err).Int("status", resp.StatusCode).Msg("failed to read response")
		return nil, core.ErrorStatusf("failed to read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		st := responseStatus(resp, data)
		log.Warn().Int("status", resp.StatusCode).Str("error", st.ErrorMessage).Msg("request rejected")
		return nil, st
	}

	log.Debug().Int("status", resp.StatusCode).Int("bytes", len(data)).Msg("request completed")
	return data, core.OKStatus()
}

// url builds {root}/{op}?{query}&{custom params}
func (s *Source) url(op, query string) string {
	parts := make([]string, 0, 4)
	if query != "" {
		parts = append(parts, query)
	}
	for _, p := range s.CustomQueryParams() {
		parts = append(parts, escape(p.Name)+"="+escape(p.Value))
	}

	target := s.endpoint + "/" + op
	if len(parts) > 0 {
		target += "?" + strings.Join(parts, "&")
	}
	return target
}

func (s *Source) done(operation string, start time.Time, st core.Status) core.Status {
	s.metrics.RecordOperation(sourceName, operation, st.IsOK(), time.Since(start))
	return st
}

// responseStatus maps a non-200 response to an error status. The message is the
// body's Status errorMessage when the server sent one, else the reason phrase.
// Other bodies (proxy error pages, plain text) are not surfaced.
func responseStatus(resp *http.Response, body []byte) core.Status {
	var st core.Status
	if err := json.Unmarshal(body, &st); err == nil && st.ErrorMessage != "" {
		return core.ErrorStatus(st.ErrorMessage)
	}
	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	return core.ErrorStatus(reason)
}

// embeddedStatus detects a Status returned inside a success response
func embeddedStatus(r core.Record) (core.Status, bool) {
	code, ok := r["errorCode"].(float64)
	if !ok || code == 0 {
		return core.Status{}, false
	}
	msg, _ := r["errorMessage"].(string)
	return core.Status{ErrorCode: core.ErrorCode(code), ErrorMessage: msg}, true
}

func encodeBody(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return []byte(escape(string(data))), nil
}

// escape percent-encodes s the way encodeURIComponent does, so '+' never stands for a space
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// Unescape reverses escape. Servers use it to decode request bodies and params.
func Unescape(s string) (string, error) {
	return url.PathUnescape(s)
}

func formatKey(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return fmt.Sprint(id)
}

var _ core.Source = (*Source)(nil)
