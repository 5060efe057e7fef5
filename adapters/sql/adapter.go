// Package sql implements core.Source over a database table with sqlx.
//
// Record fields map to snake_case columns and back to lowerCamel fields.
// Filters become WHERE clauses with the same undefined-value semantics as the
// in-memory source, and fields without a column behave like undefined values.
package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/preslavrachev/crudsource/core"
	"github.com/preslavrachev/crudsource/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const sourceName = "sql"

// ErrUnknownField is returned when a record carries a field the table has no column for
var ErrUnknownField = errors.New("unknown field")

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Source implements core.Source over one table
type Source struct {
	core.Base

	db        *sqlx.DB
	table     string
	keyColumn string
	dialect   dialect

	columnsMu sync.Mutex
	columns   map[string]bool

	sqlLogger *SQLLogger
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// Option configures a Source
type Option func(*options)

type options struct {
	bundle  *core.Bundle
	logger  zerolog.Logger
	debug   bool
	metrics *metrics.Metrics
}

// WithBundle seeds the cache from a serialization bundle
func WithBundle(b core.Bundle) Option {
	return func(o *options) { o.bundle = &b }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDebug enables SQL statement logging
func WithDebug(enabled bool) Option {
	return func(o *options) { o.debug = enabled }
}

// WithMetrics records operation metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New creates a source over table. The key field names the column holding each record's key.
func New(db *sqlx.DB, table, keyField string, opts ...Option) (*Source, error) {
	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	base := core.NewBase(keyField, o.bundle)
	keyColumn := ColumnName(base.KeyField())
	if !identifierPattern.MatchString(keyColumn) {
		return nil, fmt.Errorf("invalid key field %q", base.KeyField())
	}

	logger := o.logger.With().Str("component", sourceName).Str("table", table).Logger()
	return &Source{
		Base:      base,
		db:        db,
		table:     table,
		keyColumn: keyColumn,
		dialect:   dialectFor(db.DriverName()),
		sqlLogger: NewSQLLogger(logger, o.debug),
		logger:    logger,
		metrics:   o.metrics,
	}, nil
}

// SetDebugEnabled enables or disables SQL debug logging
func (s *Source) SetDebugEnabled(enabled bool) {
	s.sqlLogger.SetEnabled(enabled)
}

// loadColumns reads the table's column names once
func (s *Source) loadColumns(ctx context.Context) (map[string]bool, error) {
	s.columnsMu.Lock()
	defer s.columnsMu.Unlock()
	if s.columns != nil {
		return s.columns, nil
	}

	query := fmt.Sprintf("SELECT * FROM %s LIMIT 0", s.table)
	rows, err := s.loggedQueryxContext(ctx, s.db, query)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect table %s: %w", s.table, err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", s.table, err)
	}
	columns := make(map[string]bool, len(names))
	for _, name := range names {
		columns[name] = true
	}
	if !columns[s.keyColumn] {
		return nil, fmt.Errorf("table %s has no key column %s", s.table, s.keyColumn)
	}
	s.columns = columns
	return columns, nil
}

// queryer is satisfied by *sqlx.DB and *sqlx.Tx
type queryer interface {
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Rebind(query string) string
}

// loggedQueryxContext wraps QueryxContext with logging
func (s *Source) loggedQueryxContext(ctx context.Context, q queryer, query string, args ...any) (*sqlx.Rows, error) {
	query = q.Rebind(query)
	start := time.Now()
	rows, err := q.QueryxContext(ctx, query, args...)
	if err != nil {
		s.sqlLogger.LogError(query, args, time.Since(start), err)
		return nil, err
	}
	return rows, nil
}

// loggedExecContext wraps ExecContext with logging
func (s *Source) loggedExecContext(ctx context.Context, q queryer, query string, args ...any) (sql.Result, error) {
	query = q.Rebind(query)
	start := time.Now()
	result, err := q.ExecContext(ctx, query, args...)
	duration := time.Since(start)

	if err != nil {
		s.sqlLogger.LogError(query, args, duration, err)
		return nil, err
	}

	s.sqlLogger.LogExec(query, args, duration, result)
	return result, nil
}

// selectRecords runs a SELECT and scans every row into a Record
func (s *Source) selectRecords(ctx context.Context, q queryer, query string, args ...any) ([]core.Record, error) {
	start := time.Now()
	rows, err := s.loggedQueryxContext(ctx, q, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var records []core.Record
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, toRecord(row))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	s.sqlLogger.LogQuery(q.Rebind(query), args, time.Since(start), len(records))
	return records, nil
}

func toRecord(row map[string]any) core.Record {
	r := make(core.Record, len(row))
	for col, v := range row {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		r[fieldName(col)] = v
	}
	return r
}

func (s *Source) findByKey(ctx context.Context, q queryer, id any) (core.Record, error) {
	arg, err := filterArg(id)
	if err != nil {
		return nil, fmt.Errorf("key %v: %w", id, err)
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = ? LIMIT 1", s.table, s.keyColumn)
	records, err := s.selectRecords(ctx, q, query, arg)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// Create implements core.Source. All items are inserted in one transaction.
func (s *Source) Create(ctx context.Context, items []core.Record) core.Status {
	start := time.Now()
	columns, err := s.loadColumns(ctx)
	if err != nil {
		return s.done("create", start, core.StatusFromError(err))
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		for i, item := range items {
			if err := s.insert(ctx, tx, columns, item); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return s.done("create", start, core.StatusFromError(err))
	}

	s.Publish(core.OnCreate, items)
	return s.done("create", start, core.OKStatus())
}

func (s *Source) insert(ctx context.Context, tx *sqlx.Tx, columns map[string]bool, item core.Record) error {
	fields := item.Fields()
	cols := make([]string, 0, len(fields))
	placeholders := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields))

	for _, field := range fields {
		col := ColumnName(field)
		if !columns[col] {
			return fmt.Errorf("%w: %s", ErrUnknownField, field)
		}
		arg, err := columnArg(item[field])
		if err != nil {
			return fmt.Errorf("field %s: %w", field, err)
		}
		cols = append(cols, col)
		placeholders = append(placeholders, "?")
		args = append(args, arg)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.table,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
	)
	if len(cols) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", s.table)
	}

	if _, err := s.loggedExecContext(ctx, tx, query, args...); err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	return nil
}

// Read implements core.Source
func (s *Source) Read(ctx context.Context, id any) (core.Record, core.Status) {
	start := time.Now()
	r, err := s.findByKey(ctx, s.db, id)
	if err != nil {
		return nil, s.done("read", start, core.StatusFromError(err))
	}
	return r, s.done("read", start, core.OKStatus())
}

// Update implements core.Source
func (s *Source) Update(ctx context.Context, partial core.Partial) core.Status {
	start := time.Now()
	key := s.KeyField()
	id, ok := partial.Key(key)
	if !ok {
		return s.done("update", start, core.KeyFieldMissingStatus(key))
	}
	columns, err := s.loadColumns(ctx)
	if err != nil {
		return s.done("update", start, core.StatusFromError(err))
	}

	var updated core.Record
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		existing, err := s.findByKey(ctx, tx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return core.NotFoundStatus(key).Err()
		}

		fields := make([]string, 0, len(partial))
		for field := range partial {
			if field != key {
				fields = append(fields, field)
			}
		}
		sort.Strings(fields)

		if len(fields) > 0 {
			sets := make([]string, 0, len(fields))
			args := make([]any, 0, len(fields)+1)
			for _, field := range fields {
				col := ColumnName(field)
				if !columns[col] {
					return fmt.Errorf("%w: %s", ErrUnknownField, field)
				}
				arg, err := columnArg(partial[field])
				if err != nil {
					return fmt.Errorf("field %s: %w", field, err)
				}
				sets = append(sets, col+" = ?")
				args = append(args, arg)
			}
			keyArg, _ := filterArg(id)
			args = append(args, keyArg)

			query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", s.table, strings.Join(sets, ", "), s.keyColumn)
			if _, err := s.loggedExecContext(ctx, tx, query, args...); err != nil {
				return fmt.Errorf("failed to update record: %w", err)
			}
		}

		updated, err = s.findByKey(ctx, tx, id)
		return err
	})
	if err != nil {
		return s.done("update", start, core.StatusFromError(err))
	}

	s.Publish(core.OnUpdate, []core.Record{updated})
	return s.done("update", start, core.OKStatus())
}

// Delete implements core.Source
func (s *Source) Delete(ctx context.Context, id any) core.Status {
	_, st := s.Remove(ctx, id)
	return st
}

// Remove implements core.Remover. The row is read and deleted in one transaction.
func (s *Source) Remove(ctx context.Context, id any) (core.Record, core.Status) {
	start := time.Now()

	var removed core.Record
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		existing, err := s.findByKey(ctx, tx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return core.NotFoundStatus(s.KeyField()).Err()
		}

		keyArg, _ := filterArg(id)
		query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", s.table, s.keyColumn)
		if _, err := s.loggedExecContext(ctx, tx, query, keyArg); err != nil {
			return fmt.Errorf("failed to delete record: %w", err)
		}
		removed = existing
		return nil
	})
	if err != nil {
		return nil, s.done("delete", start, core.StatusFromError(err))
	}

	s.Publish(core.OnDelete, []core.Record{removed})
	return removed.Clone(), s.done("delete", start, core.OKStatus())
}

// List implements core.Source and caches the page under the query key
func (s *Source) List(ctx context.Context, q core.Query) (*core.ListResult, core.Status) {
	start := time.Now()
	if !q.Pagination.IsValid() {
		return nil, s.done("list", start, core.ErrorStatusf("invalid pagination: page %d, countOnPage %d", q.Pagination.Page, q.Pagination.CountOnPage))
	}
	columns, err := s.loadColumns(ctx)
	if err != nil {
		return nil, s.done("list", start, core.StatusFromError(err))
	}

	b := &builder{dialect: s.dialect, columns: columns}
	where, args, err := b.where(q.Filter)
	if err != nil {
		return nil, s.done("list", start, core.StatusFromError(err))
	}

	// one extra row tells whether a next page exists
	limit := q.Pagination.CountOnPage
	if limit < math.MaxInt {
		limit++
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY %s LIMIT %d OFFSET %d",
		s.table,
		where,
		b.orderBy(q.Sorting, s.keyColumn),
		limit,
		q.Pagination.Offset(),
	)

	records, err := s.selectRecords(ctx, s.db, query, args...)
	if err != nil {
		return nil, s.done("list", start, core.StatusFromError(err))
	}

	hasNextPage := len(records) > q.Pagination.CountOnPage
	if hasNextPage {
		records = records[:q.Pagination.CountOnPage]
	}
	result := core.NewListResult(records, hasNextPage)

	s.Cache().Store(q, result, core.OKStatus())
	return result, s.done("list", start, core.OKStatus())
}

// inTx runs fn in a transaction, committing on success
func (s *Source) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error().Err(rbErr).Msg("rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
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
