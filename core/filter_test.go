package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tenRecords has ids 1..10; even ids carry a value, odd ids do not
func tenRecords() []Record {
	records := make([]Record, 0, 10)
	for i := 1; i <= 10; i++ {
		r := Record{"id": i}
		if i%2 == 0 {
			r["value"] = "v" + string(rune('0'+i%10))
		}
		records = append(records, r)
	}
	return records
}

func countMatches(records []Record, f Filter) int {
	match := f.Compile()
	n := 0
	for _, r := range records {
		if match(r) {
			n++
		}
	}
	return n
}

func TestCompile_EmptyFilterAcceptsEverything(t *testing.T) {
	assert.Equal(t, 10, countMatches(tenRecords(), nil))
	assert.Equal(t, 10, countMatches(tenRecords(), Filter{}))
}

func TestCompile_NotEqUndefined(t *testing.T) {
	records := tenRecords()
	assert.Equal(t, 5, countMatches(records, Filter{Where("value", NOTEQ, nil)}))
	assert.Equal(t, 5, countMatches(records, Filter{Where("value", EQ, nil)}))
}

func TestCompile_OrWithKeyMatch(t *testing.T) {
	records := tenRecords()
	f := Filter{Or(
		Where("value", NOTEQ, nil),
		Where("id", EQ, 7),
	)}
	assert.Equal(t, 6, countMatches(records, f))

	// id 8 already carries a value
	f = Filter{Or(
		Where("value", NOTEQ, nil),
		Where("id", EQ, 8),
	)}
	assert.Equal(t, 5, countMatches(records, f))
}

func TestCompile_EmptyAggregations(t *testing.T) {
	records := tenRecords()
	assert.Equal(t, 10, countMatches(records, Filter{And()}))
	assert.Equal(t, 0, countMatches(records, Filter{Or()}))
}

func TestCompile_TopLevelListIsAnd(t *testing.T) {
	records := tenRecords()
	f := Filter{
		Where("id", GT, 2),
		Where("id", LTE, 6),
	}
	assert.Equal(t, 4, countMatches(records, f))
}

func TestCompile_NestedAggregations(t *testing.T) {
	records := tenRecords()
	f := Filter{And(
		Or(Where("id", EQ, 1), Where("id", EQ, 2), Where("id", EQ, 3)),
		Where("value", NOTEQ, nil),
	)}
	assert.Equal(t, 1, countMatches(records, f))
}

func TestCompile_Operators(t *testing.T) {
	r := Record{"n": 5, "s": "hello world", "b": true, "f": 2.5}

	tests := []struct {
		name string
		node FilterNode
		want bool
	}{
		{"eq int vs float", Where("n", EQ, 5.0), true},
		{"eq string", Where("s", EQ, "hello world"), true},
		{"eq mismatched kinds", Where("n", EQ, "5"), false},
		{"noteq", Where("n", NOTEQ, 6), true},
		{"gt", Where("n", GT, 4), true},
		{"gt equal", Where("n", GT, 5), false},
		{"gte", Where("n", GTE, 5), true},
		{"lt", Where("f", LT, 3), true},
		{"lte", Where("f", LTE, 2.5), true},
		{"string order", Where("s", GT, "abc"), true},
		{"bool order", Where("b", GT, false), true},
		{"gt mismatched kinds", Where("n", GT, "1"), false},
		{"lt undefined field", Where("missing", LT, 10), false},
		{"gt undefined value", Where("n", GT, nil), false},
		{"like substring", Where("s", LIKE, "lo wo"), true},
		{"like absent substring", Where("s", LIKE, "bye"), false},
		{"like non-string field", Where("n", LIKE, "5"), false},
		{"like numeric needle", Where("s", LIKE, 1), false},
		{"absent field eq nil", Where("missing", EQ, nil), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compile(tt.node)(r))
		})
	}
}

func TestCompile_LikeUndefinedValueMatchesLiteral(t *testing.T) {
	match := Compile(Where("s", LIKE, nil))
	assert.True(t, match(Record{"s": "is undefined here"}))
	assert.False(t, match(Record{"s": "defined"}))
}

func TestCompile_CompositeValues(t *testing.T) {
	r := Record{"tags": []any{"a", "b"}}
	assert.True(t, Compile(Where("tags", EQ, []any{"a", "b"}))(r))
	assert.False(t, Compile(Where("tags", GT, []any{"a"}))(r))
}

func TestFilter_JSONRoundTrip(t *testing.T) {
	f := Filter{
		Where("name", LIKE, "jo"),
		Or(Where("age", GTE, 18), And(Where("role", EQ, "admin"))),
	}

	data, err := EncodeFilter(f)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"type":1,"field":"name","operator":6,"value":"jo"},
		{"type":0,"aggregation":1,"filter":[
			{"type":1,"field":"age","operator":2,"value":18},
			{"type":0,"aggregation":0,"filter":[
				{"type":1,"field":"role","operator":0,"value":"admin"}
			]}
		]}
	]`, string(data))

	decoded, err := DecodeFilter(data)
	require.NoError(t, err)
	require.Len(t, decoded, 2)

	cond, ok := decoded[0].(*Condition)
	require.True(t, ok)
	assert.Equal(t, "name", cond.Field)
	assert.Equal(t, LIKE, cond.Operator)

	agg, ok := decoded[1].(*Aggregation)
	require.True(t, ok)
	assert.Equal(t, OR, agg.Kind)
	require.Len(t, agg.Children, 2)

	match := decoded.Compile()
	assert.True(t, match(Record{"name": "john", "age": 20}))
	assert.False(t, match(Record{"name": "john", "age": 12}))
	assert.True(t, match(Record{"name": "jo", "age": 3, "role": "admin"}))
}

func TestDecodeFilter_AbsentOperatorMeansEq(t *testing.T) {
	f, err := DecodeFilter([]byte(`[{"type":1,"field":"id","value":3}]`))
	require.NoError(t, err)
	cond := f[0].(*Condition)
	assert.Equal(t, EQ, cond.Operator)
	assert.True(t, f.Compile()(Record{"id": 3}))
}

func TestDecodeFilter_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not a list", `{"type":1}`},
		{"unknown operator", `[{"type":1,"field":"a","operator":9}]`},
		{"missing field", `[{"type":1,"operator":0}]`},
		{"unknown aggregation", `[{"type":0,"aggregation":5,"filter":[]}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFilter([]byte(tt.input))
			assert.ErrorIs(t, err, ErrInvalidFilter)
		})
	}
}

func TestDecodeFilter_DepthLimit(t *testing.T) {
	nested := `{"type":1,"field":"a","value":1}`
	for i := 0; i < maxFilterDepth+2; i++ {
		nested = `{"type":0,"aggregation":0,"filter":[` + nested + `]}`
	}
	_, err := DecodeFilter([]byte("[" + nested + "]"))
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestOperator_String(t *testing.T) {
	assert.Equal(t, "NOTEQ", NOTEQ.String())
	assert.Equal(t, "Operator(42)", Operator(42).String())
	assert.Equal(t, "OR", OR.String())
}
