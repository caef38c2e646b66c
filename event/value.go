// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package event

import "fmt"

// Kind identifies which alternative of [Value] is populated.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt64
	KindFloat64
	KindBool
	KindBytes
	KindMap
)

// Value is a closed tagged union over the dynamically typed field values a
// partition update may carry: string, int64, float64, bool, bytes, a nested
// map of the same, or null. It intentionally never exposes a language
// reflective type (e.g. interface{}) at the wire boundary, per spec §9's
// design note.
type Value struct {
	kind Kind
	str  string
	i64  int64
	f64  float64
	b    bool
	buf  []byte
	m    map[string]Value
}

func (v Value) Kind() Kind { return v.kind }

func String(s string) Value { return Value{kind: KindString, str: s} }
func Int64(i int64) Value   { return Value{kind: KindInt64, i64: i} }
func Float64(f float64) Value { return Value{kind: KindFloat64, f64: f} }
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }
func Bytes(b []byte) Value   { return Value{kind: KindBytes, buf: b} }
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }
func Null() Value            { return Value{kind: KindNull} }

// AsString returns the string alternative and whether v holds one.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsInt64 returns the int64 alternative and whether v holds one.
func (v Value) AsInt64() (int64, bool) { return v.i64, v.kind == KindInt64 }

// AsFloat64 returns the float64 alternative and whether v holds one.
func (v Value) AsFloat64() (float64, bool) { return v.f64, v.kind == KindFloat64 }

// AsBool returns the bool alternative and whether v holds one.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsBytes returns the bytes alternative and whether v holds one.
func (v Value) AsBytes() ([]byte, bool) { return v.buf, v.kind == KindBytes }

// AsMap returns the nested-map alternative and whether v holds one.
func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.kind == KindMap }

// IsNull reports whether v is the null alternative.
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return v.str
	case KindInt64:
		return fmt.Sprintf("%d", v.i64)
	case KindFloat64:
		return fmt.Sprintf("%g", v.f64)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(v.buf))
	case KindMap:
		return fmt.Sprintf("map(%d)", len(v.m))
	default:
		return "unknown"
	}
}

// Equal reports whether v and other carry the same kind and value,
// recursively for the map alternative.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == other.str
	case KindInt64:
		return v.i64 == other.i64
	case KindFloat64:
		return v.f64 == other.f64
	case KindBool:
		return v.b == other.b
	case KindBytes:
		if len(v.buf) != len(other.buf) {
			return false
		}
		for i := range v.buf {
			if v.buf[i] != other.buf[i] {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(other.m) {
			return false
		}
		for k, vv := range v.m {
			ov, ok := other.m[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
