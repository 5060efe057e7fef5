// Package ui serves a core.Source over HTTP: the crud wire format used by
// adapters/remote plus a server-rendered list page.
package ui

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/preslavrachev/crudsource/adapters/remote"
	"github.com/preslavrachev/crudsource/coordinator"
	"github.com/preslavrachev/crudsource/core"
	"github.com/preslavrachev/crudsource/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxRequestSize = 10 << 20

// HandlerOption configures the handler
type HandlerOption func(*CrudHandler)

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) HandlerOption {
	return func(h *CrudHandler) {
		h.root = l
		h.logger = l.With().Str("component", "http").Logger()
	}
}

// WithMetrics records request metrics
func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *CrudHandler) { h.metrics = m }
}

// WithTitle sets the title of the list page
func WithTitle(title string) HandlerOption {
	return func(h *CrudHandler) { h.title = title }
}

// WithPageSize sets the page size of the list page when the request names none
func WithPageSize(n int) HandlerOption {
	return func(h *CrudHandler) { h.pageSize = n }
}

// WithRow sets the row renderer of the list page
func WithRow(row func(core.Record) templ.Component) HandlerOption {
	return func(h *CrudHandler) { h.view.Row = row }
}

// Handler returns an HTTP handler serving src under basePath:
//
//	POST {basePath}/create   escaped JSON array of records
//	GET  {basePath}/read     ?{keyField}={id}
//	POST {basePath}/update   escaped JSON partial record
//	POST {basePath}/delete   escaped JSON {keyField: id}
//	GET  {basePath}/list     ?params={escaped JSON query}
//	GET  {basePath}/view     HTML list page
func Handler(src core.Source, basePath string, opts ...HandlerOption) http.Handler {
	basePath = strings.TrimRight(basePath, "/")
	h := &CrudHandler{
		src:      src,
		basePath: basePath,
		root:     zerolog.Nop(),
		logger:   zerolog.Nop(),
		title:    "Records",
		view: ListView{
			Error: ErrorMessage,
		},
	}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+basePath+"/create", h.instrument("create", h.handleCreate))
	mux.HandleFunc("GET "+basePath+"/read", h.instrument("read", h.handleRead))
	mux.HandleFunc("POST "+basePath+"/update", h.instrument("update", h.handleUpdate))
	mux.HandleFunc("POST "+basePath+"/delete", h.instrument("delete", h.handleDelete))
	mux.HandleFunc("GET "+basePath+"/list", h.instrument("list", h.handleList))
	mux.HandleFunc("GET "+basePath+"/view", h.instrument("view", h.handleView))
	return mux
}

// CrudHandler serves one source
type CrudHandler struct {
	src      core.Source
	basePath string
	root     zerolog.Logger
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	title    string
	pageSize int
	view     ListView
}

// handleCreate responds with the created items
func (h *CrudHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var items []core.Record
	if err := decodeBody(r, &items); err != nil {
		h.writeStatus(w, r, core.StatusFromError(err), http.StatusBadRequest)
		return
	}

	if st := h.src.Create(r.Context(), items); !st.IsOK() {
		h.writeStatus(w, r, st, http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, r, items, http.StatusOK)
}

// handleRead responds with the record or null
func (h *CrudHandler) handleRead(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get(h.src.KeyField())
	if raw == "" {
		h.writeStatus(w, r, core.KeyFieldMissingStatus(h.src.KeyField()), http.StatusBadRequest)
		return
	}

	record, st := h.src.Read(r.Context(), parseKey(raw))
	if !st.IsOK() {
		h.writeStatus(w, r, st, http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, r, record, http.StatusOK)
}

// handleUpdate responds with the record as stored after the update
func (h *CrudHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		h.writeStatus(w, r, core.StatusFromError(err), http.StatusBadRequest)
		return
	}
	partial, err := core.DecodePartial(data)
	if err != nil {
		h.writeStatus(w, r, core.StatusFromError(err), http.StatusBadRequest)
		return
	}

	if st := h.src.Update(r.Context(), partial); !st.IsOK() {
		h.writeStatus(w, r, st, http.StatusInternalServerError)
		return
	}

	// the key is known to be present once Update succeeded
	id, _ := partial.Key(h.src.KeyField())
	record, st := h.src.Read(r.Context(), id)
	if !st.IsOK() {
		h.writeStatus(w, r, st, http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, r, record, http.StatusOK)
}

// handleDelete responds with the removed record. A delete the source refuses
// is a business error and travels as a Status in a 200 response.
func (h *CrudHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	var payload core.Record
	if err := decodeBody(r, &payload); err != nil {
		h.writeStatus(w, r, core.StatusFromError(err), http.StatusBadRequest)
		return
	}
	id, ok := payload.Get(h.src.KeyField())
	if !ok {
		h.writeStatus(w, r, core.KeyFieldMissingStatus(h.src.KeyField()), http.StatusBadRequest)
		return
	}

	if remover, ok := h.src.(core.Remover); ok {
		removed, st := remover.Remove(r.Context(), id)
		if !st.IsOK() {
			h.writeStatus(w, r, st, http.StatusOK)
			return
		}
		h.writeJSON(w, r, removed, http.StatusOK)
		return
	}

	// Read then Delete is not atomic: a concurrent delete of the same key can
	// make this echo a record another request removed
	removed, st := h.src.Read(r.Context(), id)
	if !st.IsOK() {
		h.writeStatus(w, r, st, http.StatusInternalServerError)
		return
	}
	if st := h.src.Delete(r.Context(), id); !st.IsOK() {
		h.writeStatus(w, r, st, http.StatusOK)
		return
	}
	h.writeJSON(w, r, removed, http.StatusOK)
}

// handleList responds with the page of the query in the params parameter
func (h *CrudHandler) handleList(w http.ResponseWriter, r *http.Request) {
	q, err := decodeQuery(r.URL.Query().Get("params"))
	if err != nil {
		h.writeStatus(w, r, core.StatusFromError(err), http.StatusBadRequest)
		return
	}

	result, st := h.src.List(r.Context(), q)
	if !st.IsOK() {
		h.writeStatus(w, r, st, http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, r, result, http.StatusOK)
}

// handleView renders one page of records as HTML
func (h *CrudHandler) handleView(w http.ResponseWriter, r *http.Request) {
	q := parseQueryFromRequest(r, h.pageSize)
	c := coordinator.New(h.src, q, coordinator.WithLogger(h.root), coordinator.WithMetrics(h.metrics))
	defer c.Close()
	c.Refresh(r.Context())

	state := c.State()
	body := listPage(h.title,
		h.view.Component(state),
		Pagination(h.basePath+"/view", r, q, state.Meta),
	)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if !state.Error.IsOK() {
		w.WriteHeader(http.StatusInternalServerError)
	}
	if err := body.Render(r.Context(), w); err != nil {
		h.logger.Error().Err(err).Msg("template rendering error")
	}
}

// instrument logs the request, echoes its request id and records metrics
func (h *CrudHandler) instrument(operation string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(remote.RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(remote.RequestIDHeader, requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		h.metrics.RecordHTTPRequest(operation, rec.status)
		event := h.logger.Info()
		if rec.status >= http.StatusInternalServerError {
			event = h.logger.Warn()
		}
		event.
			Str("request_id", requestID).
			Str("operation", operation).
			Int("status", rec.status).
			Strs("custom_params", customParams(r, h.src.KeyField())).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	}
}

// writeStatus writes a Status body
func (h *CrudHandler) writeStatus(w http.ResponseWriter, r *http.Request, st core.Status, code int) {
	h.logger.Debug().
		Str("path", r.URL.Path).
		Int("status", code).
		Str("error", st.ErrorMessage).
		Msg("request failed")
	h.writeJSON(w, r, st, code)
}

func (h *CrudHandler) writeJSON(w http.ResponseWriter, r *http.Request, v any, code int) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("failed to encode response")
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// readBody reads and unescapes a request body
func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	text, err := remote.Unescape(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to unescape request body: %w", err)
	}
	return []byte(text), nil
}

func decodeBody(r *http.Request, v any) error {
	data, err := readBody(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode request body: %w", err)
	}
	return nil
}

// decodeQuery decodes the list params; an absent value is the default query
func decodeQuery(params string) (core.Query, error) {
	if params == "" {
		return core.NewQuery(), nil
	}
	var q core.Query
	if err := json.Unmarshal([]byte(params), &q); err != nil {
		return core.Query{}, fmt.Errorf("failed to decode list params: %w", err)
	}
	if q.Filter == nil {
		q.Filter = core.Filter{}
	}
	return q, nil
}

// parseKey reads a key from a query string: integers and numbers keep their
// numeric type, anything else stays a string
func parseKey(raw string) any {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

// parseQueryFromRequest parses list page parameters into a Query. Parameters
// that are not reserved become equality filters.
func parseQueryFromRequest(r *http.Request, pageSize int) core.Query {
	values := r.URL.Query()
	q := core.NewQuery()

	var filter core.Filter
	for _, key := range sortedKeys(values) {
		if isReservedParam(key) || values.Get(key) == "" {
			continue
		}
		filter = append(filter, core.Where(key, core.EQ, parseKey(values.Get(key))))
	}
	q = q.WithFilter(filter...)

	if sortBy := values.Get(ParamSort); sortBy != "" {
		direction := core.SortAsc
		if strings.EqualFold(values.Get(ParamDirection), string(core.SortDesc)) {
			direction = core.SortDesc
		}
		q = q.WithSort(sortBy, direction)
	}

	page, _ := strconv.Atoi(values.Get(ParamPage))
	count, err := strconv.Atoi(values.Get(ParamCountOnPage))
	if err != nil || count <= 0 {
		count = pageSize
	}
	return q.WithPagination(core.NewPagination(page, count))
}

// isReservedParam checks if a parameter is reserved for UI functionality
func isReservedParam(param string) bool {
	reserved := []string{
		ParamPage, ParamCountOnPage, ParamSort, ParamDirection,
		"success", "error",
	}

	for _, r := range reserved {
		if param == r {
			return true
		}
	}
	return false
}

// customParams lists the query parameters that are not part of the wire format
func customParams(r *http.Request, keyField string) []string {
	var out []string
	for _, key := range sortedKeys(r.URL.Query()) {
		if key == "params" || key == keyField {
			continue
		}
		out = append(out, key+"="+r.URL.Query().Get(key))
	}
	return out
}

func sortedKeys(values url.Values) []string {
	var keys []string
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
