package clarity

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind tags a decoded value.
type Kind int

const (
	KindRaw Kind = iota
	KindUint
	KindInt
	KindString
	KindBool
	KindPrincipal
	KindTuple
)

// Value is one decoded field. Exactly one member besides Kind is
// meaningful; Str doubles for String, Principal, and Raw.
type Value struct {
	Kind  Kind
	Uint  uint64
	Int   int64
	Str   string
	Bool  bool
	Tuple Tuple
}

// Tuple maps field names to decoded values.
type Tuple map[string]Value

// Uint returns the named field as an unsigned integer.
func (t Tuple) Uint(key string) (uint64, bool) {
	v, ok := t[key]
	if !ok || v.Kind != KindUint {
		return 0, false
	}
	return v.Uint, true
}

// String returns the named field as a string. Principal and raw
// fallback values are visible through it as well, so handlers can
// inspect unexpected shapes.
func (t Tuple) String(key string) (string, bool) {
	v, ok := t[key]
	if !ok {
		return "", false
	}
	switch v.Kind {
	case KindString, KindPrincipal, KindRaw:
		return v.Str, true
	}
	return "", false
}

// Bool returns the named field as a boolean.
func (t Tuple) Bool(key string) (bool, bool) {
	v, ok := t[key]
	if !ok || v.Kind != KindBool {
		return false, false
	}
	return v.Bool, true
}

// Principal returns the named field as a principal identifier.
func (t Tuple) Principal(key string) (string, bool) {
	v, ok := t[key]
	if !ok || v.Kind != KindPrincipal {
		return "", false
	}
	return v.Str, true
}

// Sub returns a nested tuple field.
func (t Tuple) Sub(key string) (Tuple, bool) {
	v, ok := t[key]
	if !ok || v.Kind != KindTuple {
		return nil, false
	}
	return v.Tuple, true
}

// AmountScale is the implied fixed-point denominator for every
// monetary field the contract emits.
const AmountScale = 1_000_000

// ScaleAmount converts a raw on-chain amount to its decimal value.
// Raw 12_340_000 scales to 12.34.
func ScaleAmount(raw uint64) float64 {
	return float64(raw) / AmountScale
}

// FromJSON converts an already-structured value (the push transport
// delivers pre-decoded values when the subscription asks for them)
// into a Tuple. The cast is type-preserving; unknown shapes land in
// raw fallback values rather than being dropped.
func FromJSON(v any) Tuple {
	switch m := v.(type) {
	case map[string]any:
		out := make(Tuple, len(m))
		for k, inner := range m {
			out[k] = valueFromJSON(inner)
		}
		return out
	default:
		return Tuple{}
	}
}

func valueFromJSON(v any) Value {
	switch x := v.(type) {
	case bool:
		return Value{Kind: KindBool, Bool: x}
	case float64:
		if x >= 0 && x == float64(uint64(x)) {
			return Value{Kind: KindUint, Uint: uint64(x)}
		}
		return Value{Kind: KindInt, Int: int64(x)}
	case string:
		return classifyAtom(x)
	case map[string]any:
		return Value{Kind: KindTuple, Tuple: FromJSON(x)}
	default:
		return Value{Kind: KindRaw, Str: strings.TrimSpace(fmt.Sprint(x))}
	}
}

// classifyAtom decodes the literal forms that survive JSON transport
// as strings: uint markers, signed integers, booleans, principals.
func classifyAtom(s string) Value {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "u") {
		if n, err := strconv.ParseUint(trimmed[1:], 10, 64); err == nil {
			return Value{Kind: KindUint, Uint: n}
		}
	}
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return Value{Kind: KindInt, Int: n}
	}
	if trimmed == "true" || trimmed == "false" {
		return Value{Kind: KindBool, Bool: trimmed == "true"}
	}
	if isPrincipal(trimmed) {
		return Value{Kind: KindPrincipal, Str: strings.TrimPrefix(trimmed, "'")}
	}
	return Value{Kind: KindString, Str: s}
}

// isPrincipal recognizes standard and contract principal literals,
// with or without the leading quote marker.
func isPrincipal(s string) bool {
	s = strings.TrimPrefix(s, "'")
	if !strings.HasPrefix(s, "SP") && !strings.HasPrefix(s, "ST") && !strings.HasPrefix(s, "SM") && !strings.HasPrefix(s, "SN") {
		return false
	}
	addr := s
	if i := strings.IndexByte(s, '.'); i >= 0 {
		addr = s[:i]
	}
	if len(addr) < 20 {
		return false
	}
	for _, r := range addr {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
