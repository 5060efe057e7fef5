package core

import (
	"fmt"
	"sort"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultKeyField is the key field used when none is configured
const DefaultKeyField = "id"

// Record is an application entity addressed by field name.
// A missing field and a nil value are both treated as undefined.
type Record map[string]any

// Get returns the value of a field and whether it is defined
func (r Record) Get(field string) (any, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Clone returns a shallow copy of the record
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Fields returns the record's field names in sorted order
func (r Record) Fields() []string {
	fields := make([]string, 0, len(r))
	for k := range r {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// CloneRecords copies every record of the slice
func CloneRecords(records []Record) []Record {
	if records == nil {
		return nil
	}
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

// ToRecord converts a struct (or any JSON-encodable value) to a Record using its JSON tags
func ToRecord(v any) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("value of type %T is not an object: %w", v, err)
	}
	return r, nil
}

// FromRecord decodes a Record into dest, which must be a pointer
func FromRecord(r Record, dest any) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to decode record into %T: %w", dest, err)
	}
	return nil
}

type unsetMarker struct{}

// MarshalJSON encodes the marker as null so the server clears the field too
func (unsetMarker) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

func (unsetMarker) String() string { return "<unset>" }

// Unset marks a field of a Partial to be cleared
var Unset = unsetMarker{}

// IsUnset reports whether v is the Unset marker
func IsUnset(v any) bool {
	_, ok := v.(unsetMarker)
	return ok
}

// Partial is an update payload. Absent fields are left alone,
// fields set to Unset are cleared.
type Partial map[string]any

// Key returns the key field value of the payload
func (p Partial) Key(keyField string) (any, bool) {
	v, ok := p[keyField]
	if !ok || v == nil || IsUnset(v) {
		return nil, false
	}
	return v, true
}

// Apply merges the payload into a copy of r
func (p Partial) Apply(r Record) Record {
	out := r.Clone()
	if out == nil {
		out = make(Record, len(p))
	}
	for field, v := range p {
		if IsUnset(v) {
			delete(out, field)
			continue
		}
		out[field] = v
	}
	return out
}

// DecodePartial decodes a JSON object into a Partial, turning null values into Unset
func DecodePartial(data []byte) (Partial, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode update payload: %w", err)
	}
	p := make(Partial, len(raw))
	for k, v := range raw {
		if v == nil {
			p[k] = Unset
			continue
		}
		p[k] = v
	}
	return p, nil
}
