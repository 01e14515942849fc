// Package rawvalue wraps the heterogeneous JSON shapes the node returns for
// storage values (raw codec objects, human-readable projections, hex strings)
// behind capability probes so downstream consumers depend on one interface.
package rawvalue

import (
	"encoding/json"
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

type Value struct {
	raw json.RawMessage
}

// Entry is one key/value pair of an enumerated storage map. KeyArgs is the
// ordered list of stringified key arguments.
type Entry struct {
	KeyArgs []string
	Value   Value
}

func FromJSON(raw json.RawMessage) Value {
	return Value{raw: raw}
}

func FromString(s string) Value {
	b, _ := json.Marshal(s)
	return Value{raw: b}
}

func (v Value) Raw() json.RawMessage {
	return v.raw
}

// HasValue reports whether the node returned anything at all. JSON null is
// how an unwrapped empty Option comes back.
func (v Value) HasValue() bool {
	trimmed := strings.TrimSpace(string(v.raw))
	return trimmed != "" && trimmed != "null"
}

// AsString returns the value as a plain string. JSON strings are unquoted,
// everything else is returned verbatim.
func (v Value) AsString() (string, error) {
	if !v.HasValue() {
		return "", errors.New("value is absent")
	}
	var s string
	if err := json.Unmarshal(v.raw, &s); err == nil {
		return s, nil
	}
	return string(v.raw), nil
}

// AsDecimalString normalizes any numeric shape the node emits into a decimal
// integer string: JSON numbers, human-readable strings with "," grouping
// ("3,000,000"), and 0x-prefixed hex.
func (v Value) AsDecimalString() (string, error) {
	s, err := v.AsString()
	if err != nil {
		return "", err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("value is empty")
	}

	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return "", errors.Errorf("invalid hex quantity: %s", s)
		}
		return n.String(), nil
	}

	s = strings.ReplaceAll(s, ",", "")
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return "", errors.Errorf("invalid decimal quantity: %s", s)
	}
	return n.String(), nil
}

// AsStructured exposes object-shaped values field by field.
func (v Value) AsStructured() (map[string]Value, error) {
	if !v.HasValue() {
		return nil, errors.New("value is absent")
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(v.raw, &fields); err != nil {
		return nil, errors.Wrap(err, "value is not structured")
	}
	out := make(map[string]Value, len(fields))
	for k, raw := range fields {
		out[k] = Value{raw: raw}
	}
	return out, nil
}

// Field looks up a structured field by any of the given names. Storage items
// come back camelCased through the human-readable projection and snake_cased
// raw, so callers probe both spellings.
func (v Value) Field(names ...string) (Value, bool) {
	fields, err := v.AsStructured()
	if err != nil {
		return Value{}, false
	}
	for _, name := range names {
		if f, ok := fields[name]; ok && f.HasValue() {
			return f, true
		}
	}
	return Value{}, false
}
