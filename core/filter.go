package core

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// Operator is the comparison applied by a field condition
type Operator int

const (
	EQ Operator = iota
	GT
	GTE
	LT
	LTE
	NOTEQ
	LIKE
)

var operatorNames = [...]string{"EQ", "GT", "GTE", "LT", "LTE", "NOTEQ", "LIKE"}

// String returns a string representation of the operator
func (o Operator) String() string {
	if o.IsValid() {
		return operatorNames[o]
	}
	return fmt.Sprintf("Operator(%d)", int(o))
}

// IsValid checks if the operator is known
func (o Operator) IsValid() bool {
	return o >= EQ && o <= LIKE
}

// AggregationKind combines the children of an Aggregation
type AggregationKind int

const (
	AND AggregationKind = iota
	OR
)

// String returns a string representation of the aggregation kind
func (a AggregationKind) String() string {
	if a == OR {
		return "OR"
	}
	return "AND"
}

// node type tags on the wire
const (
	nodeTypeAggregation = 0
	nodeTypeField       = 1
)

// maxFilterDepth bounds decoding of untrusted filter trees
const maxFilterDepth = 64

// FilterNode is a node of the filter tree: a *Condition or an *Aggregation.
type FilterNode interface {
	compile() Predicate
	filterNode()
}

// Condition compares one record field against a value
type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// Aggregation combines child nodes with AND or OR
type Aggregation struct {
	Kind     AggregationKind
	Children []FilterNode
}

func (*Condition) filterNode()   {}
func (*Aggregation) filterNode() {}

// Where builds a field condition
func Where(field string, op Operator, value any) *Condition {
	return &Condition{Field: field, Operator: op, Value: value}
}

// And builds an AND aggregation
func And(children ...FilterNode) *Aggregation {
	return &Aggregation{Kind: AND, Children: children}
}

// Or builds an OR aggregation
func Or(children ...FilterNode) *Aggregation {
	return &Aggregation{Kind: OR, Children: children}
}

// Predicate reports whether a record passes a filter
type Predicate func(Record) bool

// Filter is a list of nodes, implicitly AND-combined
type Filter []FilterNode

// Compile turns the filter into a single predicate. An empty filter accepts everything.
func (f Filter) Compile() Predicate {
	return compileAll(f, AND)
}

// Compile is a convenience for Filter(nodes).Compile()
func Compile(nodes ...FilterNode) Predicate {
	return Filter(nodes).Compile()
}

func compileAll(nodes []FilterNode, kind AggregationKind) Predicate {
	preds := make([]Predicate, 0, len(nodes))
	for _, n := range nodes {
		if n == nil {
			continue
		}
		preds = append(preds, n.compile())
	}
	if kind == OR {
		return func(r Record) bool {
			for _, p := range preds {
				if p(r) {
					return true
				}
			}
			return false
		}
	}
	return func(r Record) bool {
		for _, p := range preds {
			if !p(r) {
				return false
			}
		}
		return true
	}
}

func (a *Aggregation) compile() Predicate {
	return compileAll(a.Children, a.Kind)
}

func (c *Condition) compile() Predicate {
	field, want := c.Field, c.Value
	switch c.Operator {
	case NOTEQ:
		return func(r Record) bool { return !ValuesEqual(r[field], want) }
	case GT:
		return ordered(field, want, func(cmp int) bool { return cmp > 0 })
	case GTE:
		return ordered(field, want, func(cmp int) bool { return cmp >= 0 })
	case LT:
		return ordered(field, want, func(cmp int) bool { return cmp < 0 })
	case LTE:
		return ordered(field, want, func(cmp int) bool { return cmp <= 0 })
	case LIKE:
		needle := likeNeedle(want)
		return func(r Record) bool {
			s, ok := r[field].(string)
			return ok && strings.Contains(s, needle)
		}
	default:
		return func(r Record) bool { return ValuesEqual(r[field], want) }
	}
}

func ordered(field string, want any, accept func(int) bool) Predicate {
	return func(r Record) bool {
		cmp, ok := compareOrdered(r[field], want)
		return ok && accept(cmp)
	}
}

// likeNeedle stringifies the filter value the way a template literal would
func likeNeedle(v any) string {
	if isUndefined(v) {
		return "undefined"
	}
	if n, ok := toNumber(v); ok {
		return fmt.Sprint(n)
	}
	return fmt.Sprint(v)
}

// wire shapes

type conditionJSON struct {
	Type     int      `json:"type"`
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

type aggregationJSON struct {
	Type        int             `json:"type"`
	Aggregation AggregationKind `json:"aggregation"`
	Filter      Filter          `json:"filter"`
}

// MarshalJSON encodes the condition with its type tag
func (c *Condition) MarshalJSON() ([]byte, error) {
	value := c.Value
	if IsUnset(value) {
		value = nil
	}
	return json.Marshal(conditionJSON{
		Type:     nodeTypeField,
		Field:    c.Field,
		Operator: c.Operator,
		Value:    value,
	})
}

// MarshalJSON encodes the aggregation with its type tag
func (a *Aggregation) MarshalJSON() ([]byte, error) {
	children := a.Children
	if children == nil {
		children = Filter{}
	}
	return json.Marshal(aggregationJSON{
		Type:        nodeTypeAggregation,
		Aggregation: a.Kind,
		Filter:      children,
	})
}

type rawNode struct {
	Type        *int                  `json:"type"`
	Field       string                `json:"field"`
	Operator    *Operator             `json:"operator"`
	Value       any                   `json:"value"`
	Aggregation *AggregationKind      `json:"aggregation"`
	Filter      []jsoniter.RawMessage `json:"filter"`
}

// UnmarshalJSON decodes a tagged filter list
func (f *Filter) UnmarshalJSON(data []byte) error {
	nodes, err := decodeFilter(data, 0)
	if err != nil {
		return err
	}
	*f = nodes
	return nil
}

// EncodeFilter returns the wire form of a filter list
func EncodeFilter(f Filter) ([]byte, error) {
	if f == nil {
		f = Filter{}
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode filter: %w", err)
	}
	return data, nil
}

// DecodeFilter decodes the wire form of a filter list
func DecodeFilter(data []byte) (Filter, error) {
	return decodeFilter(data, 0)
}

func decodeFilter(data []byte, depth int) (Filter, error) {
	if depth > maxFilterDepth {
		return nil, fmt.Errorf("%w: nested deeper than %d levels", ErrInvalidFilter, maxFilterDepth)
	}
	var raws []jsoniter.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	out := make(Filter, 0, len(raws))
	for i, raw := range raws {
		node, err := decodeNode(raw, depth)
		if err != nil {
			return nil, fmt.Errorf("filter[%d]: %w", i, err)
		}
		out = append(out, node)
	}
	return out, nil
}

func decodeNode(data []byte, depth int) (FilterNode, error) {
	var raw rawNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}

	isAggregation := raw.Type != nil && *raw.Type == nodeTypeAggregation
	if raw.Type == nil {
		isAggregation = raw.Aggregation != nil || raw.Filter != nil
	}

	if isAggregation {
		agg := &Aggregation{Kind: AND}
		if raw.Aggregation != nil {
			agg.Kind = *raw.Aggregation
		}
		if agg.Kind != AND && agg.Kind != OR {
			return nil, fmt.Errorf("%w: unknown aggregation %d", ErrInvalidFilter, int(agg.Kind))
		}
		if depth+1 > maxFilterDepth {
			return nil, fmt.Errorf("%w: nested deeper than %d levels", ErrInvalidFilter, maxFilterDepth)
		}
		for i, child := range raw.Filter {
			node, err := decodeNode(child, depth+1)
			if err != nil {
				return nil, fmt.Errorf("filter[%d]: %w", i, err)
			}
			agg.Children = append(agg.Children, node)
		}
		return agg, nil
	}

	if raw.Field == "" {
		return nil, fmt.Errorf("%w: field condition without field", ErrInvalidFilter)
	}
	cond := &Condition{Field: raw.Field, Operator: EQ, Value: raw.Value}
	if raw.Operator != nil {
		cond.Operator = *raw.Operator
	}
	if !cond.Operator.IsValid() {
		return nil, fmt.Errorf("%w: unknown operator %d", ErrInvalidFilter, int(cond.Operator))
	}
	return cond, nil
}
