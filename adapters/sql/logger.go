package sql

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SQLLogger provides GORM-style SQL debug logging on top of a zerolog logger
type SQLLogger struct {
	enabled bool
	mu      sync.RWMutex
	logger  zerolog.Logger
}

// NewSQLLogger creates a new SQL logger
func NewSQLLogger(logger zerolog.Logger, enabled bool) *SQLLogger {
	return &SQLLogger{
		enabled: enabled,
		logger:  logger,
	}
}

// IsEnabled returns whether SQL logging is enabled
func (l *SQLLogger) IsEnabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.enabled
}

// SetEnabled enables or disables SQL logging
func (l *SQLLogger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// LogQuery logs a SELECT query with execution time and row count
func (l *SQLLogger) LogQuery(query string, args []any, duration time.Duration, rowCount int) {
	if !l.IsEnabled() {
		return
	}

	l.logger.Debug().
		Float64("duration_ms", float64(duration.Nanoseconds())/1e6).
		Int("rows", rowCount).
		Str("args", l.formatArgs(args)).
		Msg(l.formatQuery(query))
}

// LogExec logs an INSERT/UPDATE/DELETE query with execution time and affected rows
func (l *SQLLogger) LogExec(query string, args []any, duration time.Duration, result sql.Result) {
	if !l.IsEnabled() {
		return
	}

	event := l.logger.Debug().
		Float64("duration_ms", float64(duration.Nanoseconds())/1e6).
		Str("args", l.formatArgs(args))

	if result != nil {
		if affected, err := result.RowsAffected(); err == nil {
			event = event.Int64("rows", affected)
		}
	}

	event.Msg(l.formatQuery(query))
}

// LogError logs a query that resulted in an error
func (l *SQLLogger) LogError(query string, args []any, duration time.Duration, err error) {
	if !l.IsEnabled() {
		return
	}

	l.logger.Error().
		Err(err).
		Float64("duration_ms", float64(duration.Nanoseconds())/1e6).
		Str("args", l.formatArgs(args)).
		Msg(l.formatQuery(query))
}

// formatQuery cleans up the SQL query for better readability
func (l *SQLLogger) formatQuery(query string) string {
	query = strings.TrimSpace(query)
	query = strings.ReplaceAll(query, "\n", " ")
	query = strings.ReplaceAll(query, "\t", " ")

	// Collapse multiple spaces into single spaces
	for strings.Contains(query, "  ") {
		query = strings.ReplaceAll(query, "  ", " ")
	}

	return query
}

// formatArgs formats the query arguments for logging
func (l *SQLLogger) formatArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}

	var formatted []string
	for _, arg := range args {
		switch v := arg.(type) {
		case string:
			formatted = append(formatted, fmt.Sprintf(`"%s"`, v))
		case nil:
			formatted = append(formatted, "NULL")
		default:
			formatted = append(formatted, fmt.Sprintf("%v", v))
		}
	}

	return "[" + strings.Join(formatted, ", ") + "]"
}
