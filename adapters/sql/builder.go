package sql

import (
	stdjson "encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iancoleman/strcase"

	"github.com/preslavrachev/crudsource/core"
)

// ErrUnsupportedValue is returned when a filter value has no SQL representation
var ErrUnsupportedValue = errors.New("unsupported filter value")

const (
	sqlTrue  = "1=1"
	sqlFalse = "1=0"
)

// dialect holds the few expressions that differ between drivers
type dialect interface {
	// guard restricts a comparison to rows whose column holds the kind of v, or "" for typed columns
	guard(column string, v any) string
	contains(column string) string
}

type sqliteDialect struct{}

func (sqliteDialect) guard(column string, v any) string {
	switch kindOf(v) {
	case kindNumber:
		return fmt.Sprintf("typeof(%s) IN ('integer', 'real')", column)
	case kindString:
		return fmt.Sprintf("typeof(%s) = 'text'", column)
	}
	return ""
}

func (sqliteDialect) contains(column string) string {
	return fmt.Sprintf("(typeof(%s) = 'text' AND instr(%s, ?) > 0)", column, column)
}

type postgresDialect struct{}

func (postgresDialect) guard(string, any) string { return "" }

func (postgresDialect) contains(column string) string {
	return fmt.Sprintf("(pg_typeof(%s)::text IN ('text', 'character varying') AND strpos(%s::text, ?) > 0)", column, column)
}

func dialectFor(driverName string) dialect {
	switch driverName {
	case "postgres", "pgx":
		return postgresDialect{}
	}
	return sqliteDialect{}
}

type valueKind int

const (
	kindOther valueKind = iota
	kindNumber
	kindString
)

func kindOf(v any) valueKind {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool, stdjson.Number:
		return kindNumber
	case string:
		return kindString
	}
	return kindOther
}

// ColumnName maps a record field to its column
func ColumnName(field string) string {
	return strcase.ToSnake(field)
}

// fieldName maps a column back to its record field
func fieldName(column string) string {
	return strcase.ToLowerCamel(column)
}

// builder translates filters and sorting over a table's known columns.
// Fields without a column behave like undefined values.
type builder struct {
	dialect dialect
	columns map[string]bool
}

func (b *builder) column(field string) (string, bool) {
	col := ColumnName(field)
	return col, b.columns[col]
}

// where returns the WHERE expression of a filter list and its arguments
func (b *builder) where(f core.Filter) (string, []any, error) {
	return b.combine(f, core.AND)
}

func (b *builder) combine(nodes []core.FilterNode, kind core.AggregationKind) (string, []any, error) {
	if len(nodes) == 0 {
		if kind == core.OR {
			return sqlFalse, nil, nil
		}
		return sqlTrue, nil, nil
	}

	parts := make([]string, 0, len(nodes))
	var args []any
	for _, n := range nodes {
		expr, nodeArgs, err := b.node(n)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, expr)
		args = append(args, nodeArgs...)
	}

	sep := " AND "
	if kind == core.OR {
		sep = " OR "
	}
	return "(" + strings.Join(parts, sep) + ")", args, nil
}

func (b *builder) node(n core.FilterNode) (string, []any, error) {
	switch node := n.(type) {
	case *core.Aggregation:
		return b.combine(node.Children, node.Kind)
	case *core.Condition:
		return b.condition(node)
	case nil:
		return sqlTrue, nil, nil
	}
	return "", nil, fmt.Errorf("%w: unknown node %T", core.ErrInvalidFilter, n)
}

func (b *builder) condition(c *core.Condition) (string, []any, error) {
	undefined := c.Value == nil || core.IsUnset(c.Value)
	col, known := b.column(c.Field)
	if !known {
		return unknownColumn(c.Operator, undefined), nil, nil
	}

	if c.Operator == core.LIKE {
		return b.dialect.contains(col), []any{likeArg(c.Value)}, nil
	}

	if undefined {
		switch c.Operator {
		case core.EQ:
			return col + " IS NULL", nil, nil
		case core.NOTEQ:
			return col + " IS NOT NULL", nil, nil
		}
		return sqlFalse, nil, nil
	}

	value, err := filterArg(c.Value)
	if err != nil {
		return "", nil, fmt.Errorf("field %s: %w", c.Field, err)
	}

	var expr string
	switch c.Operator {
	case core.EQ, core.NOTEQ:
		expr = col + " = ?"
	case core.GT:
		expr = col + " > ?"
	case core.GTE:
		expr = col + " >= ?"
	case core.LT:
		expr = col + " < ?"
	case core.LTE:
		expr = col + " <= ?"
	default:
		return "", nil, fmt.Errorf("%w: unknown operator %d", core.ErrInvalidFilter, int(c.Operator))
	}
	if guard := b.dialect.guard(col, c.Value); guard != "" {
		expr = "(" + guard + " AND " + expr + ")"
	}

	if c.Operator == core.NOTEQ {
		return fmt.Sprintf("(%s IS NULL OR NOT %s)", col, expr), []any{value}, nil
	}
	return expr, []any{value}, nil
}

// unknownColumn evaluates a condition on a field every row leaves undefined
func unknownColumn(op core.Operator, undefinedValue bool) string {
	switch op {
	case core.EQ:
		if undefinedValue {
			return sqlTrue
		}
	case core.NOTEQ:
		if !undefinedValue {
			return sqlTrue
		}
	}
	return sqlFalse
}

// orderBy returns the ORDER BY list, ending with the key column as tiebreaker.
// Undefined values sort first ascending and last descending.
func (b *builder) orderBy(sorting []core.SortField, keyColumn string) string {
	clauses := make([]string, 0, len(sorting)+1)
	for _, s := range sorting {
		col, known := b.column(s.Field)
		if !known {
			continue
		}
		if s.Direction == core.SortDesc {
			clauses = append(clauses, col+" DESC NULLS LAST")
		} else {
			clauses = append(clauses, col+" ASC NULLS FIRST")
		}
	}
	clauses = append(clauses, keyColumn+" ASC")
	return strings.Join(clauses, ", ")
}

func likeArg(v any) string {
	if v == nil || core.IsUnset(v) {
		return "undefined"
	}
	if n, ok := v.(float64); ok {
		return fmt.Sprint(n)
	}
	return fmt.Sprint(v)
}

// filterArg converts a comparison value to a driver argument
func filterArg(v any) (any, error) {
	switch val := v.(type) {
	case stdjson.Number:
		return val.Float64()
	case string, bool, float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, time.Time:
		return val, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

// columnArg converts a record value to a driver argument; composites are stored as JSON text
func columnArg(v any) (any, error) {
	if v == nil || core.IsUnset(v) {
		return nil, nil
	}
	if arg, err := filterArg(v); err == nil {
		return arg, nil
	}
	if b, ok := v.([]byte); ok {
		return b, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return string(data), nil
}
