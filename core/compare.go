package core

import (
	stdjson "encoding/json"
	"reflect"
)

// toNumber reports the float64 value of any Go numeric kind, json.Number included
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case stdjson.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// isUndefined treats nil and the Unset marker alike
func isUndefined(v any) bool {
	return v == nil || IsUnset(v)
}

// ValuesEqual is the strict equality used by EQ/NOTEQ and key lookups.
// Numbers compare by value across Go numeric kinds, so a key decoded from JSON
// as float64 matches the int it was created with.
func ValuesEqual(a, b any) bool {
	if isUndefined(a) || isUndefined(b) {
		return isUndefined(a) && isUndefined(b)
	}
	if na, ok := toNumber(a); ok {
		nb, ok := toNumber(b)
		return ok && na == nb
	}
	switch va := a.(type) {
	case string:
		vb, ok := b.(string)
		return ok && va == vb
	case bool:
		vb, ok := b.(bool)
		return ok && va == vb
	}
	return reflect.DeepEqual(a, b)
}

// compareOrdered orders two values of the same primitive kind.
// ok is false when the values have no defined order (mismatched kinds,
// undefined, composites); ordering operators then evaluate to false.
func compareOrdered(a, b any) (cmp int, ok bool) {
	if isUndefined(a) || isUndefined(b) {
		return 0, false
	}
	if na, isNum := toNumber(a); isNum {
		nb, isNum := toNumber(b)
		if !isNum {
			return 0, false
		}
		switch {
		case na < nb:
			return -1, true
		case na > nb:
			return 1, true
		}
		return 0, true
	}
	switch va := a.(type) {
	case string:
		vb, isStr := b.(string)
		if !isStr {
			return 0, false
		}
		switch {
		case va < vb:
			return -1, true
		case va > vb:
			return 1, true
		}
		return 0, true
	case bool:
		vb, isBool := b.(bool)
		if !isBool {
			return 0, false
		}
		switch {
		case va == vb:
			return 0, true
		case !va:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}
