// Package types provides domain models shared across crawlgate components.
//
// Wire-format agnostic: the gRPC adapter, the SQL store and the YAML rule files
// all convert to and from these types. JSON tags define the canonical token
// names used at every boundary.
package types

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/cockroachdb/errors"
)

// RuleID identifies a pricing rule. Authored rules may carry any string ID;
// generated IDs are UUIDv7.
type RuleID string

// PublisherID identifies the content owner whose rules apply to a request.
type PublisherID string

// EventID represents a UUIDv7 evaluation event identifier.
type EventID string

// Resource limits enforced at compile and validation time.
const (
	// MaxConditionsPerRule bounds per-rule evaluation cost.
	MaxConditionsPerRule = 32

	// MaxActionsPerRule bounds the executable action list per matched rule.
	MaxActionsPerRule = 32

	// MaxSetValues limits IN/NOT_IN set size to keep membership linear and small.
	MaxSetValues = 64

	// MaxPatternLength caps regex source length; RE2 guarantees linear matching
	// but compile cost still grows with pattern size.
	MaxPatternLength = 512

	// MaxMetadataPairs limits metadata pairs to prevent unbounded iteration.
	MaxMetadataPairs = 64

	// MaxMetadataKeyLength prevents excessively long keys.
	MaxMetadataKeyLength = 128

	// MaxMetadataValueLength prevents unbounded string values.
	MaxMetadataValueLength = 1024
)

// ScalarKind tags the variant held by a Scalar.
type ScalarKind uint8

const (
	ScalarNone ScalarKind = iota
	ScalarString
	ScalarNumber
	ScalarBool
)

// Scalar is a closed variant over string, number and bool.
// The zero value holds nothing and marshals to null.
type Scalar struct {
	kind ScalarKind
	str  string
	num  float64
	b    bool
}

// StringValue wraps a string.
func StringValue(s string) Scalar { return Scalar{kind: ScalarString, str: s} }

// NumberValue wraps a float64.
func NumberValue(f float64) Scalar { return Scalar{kind: ScalarNumber, num: f} }

// BoolValue wraps a bool.
func BoolValue(b bool) Scalar { return Scalar{kind: ScalarBool, b: b} }

// Kind returns the held variant.
func (s Scalar) Kind() ScalarKind { return s.kind }

// IsZero reports whether the scalar holds no value.
func (s Scalar) IsZero() bool { return s.kind == ScalarNone }

// Text renders the scalar as a string. Numbers use the shortest representation.
func (s Scalar) Text() string {
	switch s.kind {
	case ScalarString:
		return s.str
	case ScalarNumber:
		return strconv.FormatFloat(s.num, 'f', -1, 64)
	case ScalarBool:
		return strconv.FormatBool(s.b)
	default:
		return ""
	}
}

// Number returns the numeric value. Strings are not parsed here; see rules.Coerce.
func (s Scalar) Number() (float64, bool) {
	if s.kind != ScalarNumber {
		return 0, false
	}
	return s.num, true
}

// Bool returns the boolean value.
func (s Scalar) Bool() (bool, bool) {
	if s.kind != ScalarBool {
		return false, false
	}
	return s.b, true
}

// Equal compares kind and value.
func (s Scalar) Equal(o Scalar) bool {
	return s == o
}

// MarshalJSON implements json.Marshaler.
func (s Scalar) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case ScalarString:
		return json.Marshal(s.str)
	case ScalarNumber:
		return json.Marshal(s.num)
	case ScalarBool:
		return json.Marshal(s.b)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler.
// Objects and arrays are rejected with ErrInvalidScalar.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = Scalar{}
		return nil
	}
	switch data[0] {
	case '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = StringValue(v)
	case 't', 'f':
		var v bool
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = BoolValue(v)
	case '{', '[':
		return errors.Wrapf(ErrInvalidScalar, "got %s", string(data[:1]))
	default:
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = NumberValue(v)
	}
	return nil
}

// Metadata is an ordered mapping of string keys to scalars.
// Insertion order is preserved through JSON round trips.
// A nil *Metadata is a valid empty mapping for all read methods.
type Metadata struct {
	keys   []string
	values map[string]Scalar
}

// NewMetadata returns an empty mapping.
func NewMetadata() *Metadata {
	return &Metadata{values: make(map[string]Scalar)}
}

// Set inserts or replaces key. Replacing keeps the original position.
func (m *Metadata) Set(key string, v Scalar) *Metadata {
	if m.values == nil {
		m.values = make(map[string]Scalar)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
	return m
}

// Get returns the value stored under key.
func (m *Metadata) Get(key string) (Scalar, bool) {
	if m == nil {
		return Scalar{}, false
	}
	v, ok := m.values[key]
	return v, ok
}

// GetString returns the text form of key, or "" when absent.
func (m *Metadata) GetString(key string) string {
	v, _ := m.Get(key)
	return v.Text()
}

// GetBool returns the bool stored under key; false when absent or not a bool.
func (m *Metadata) GetBool(key string) bool {
	v, _ := m.Get(key)
	b, _ := v.Bool()
	return b
}

// Len returns the number of keys.
func (m *Metadata) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns keys in insertion order.
func (m *Metadata) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Clone returns an independent copy; nil stays nil.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	c := &Metadata{keys: make([]string, len(m.keys)), values: make(map[string]Scalar, len(m.values))}
	copy(c.keys, m.keys)
	for k, v := range m.values {
		c.values[k] = v
	}
	return c
}

// MarshalJSON writes an object with keys in insertion order.
func (m *Metadata) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := m.values[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object preserving key order.
// Null members are dropped; nested objects and arrays fail with ErrInvalidScalar.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*m = Metadata{}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.Wrap(ErrInvalidMetadata, "expected object")
	}

	out := Metadata{values: make(map[string]Scalar)}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var v Scalar
		if err := v.UnmarshalJSON(raw); err != nil {
			return errors.Wrapf(err, "metadata key %q", key)
		}
		if v.IsZero() {
			continue
		}
		out.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}

// Validate enforces metadata size limits.
func (m *Metadata) Validate() error {
	if m.Len() > MaxMetadataPairs {
		return ErrTooManyMetadataPairs
	}
	for _, k := range m.Keys() {
		if len(k) > MaxMetadataKeyLength {
			return ErrMetadataKeyTooLong
		}
		if v, _ := m.Get(k); len(v.Text()) > MaxMetadataValueLength {
			return ErrMetadataValueTooLong
		}
	}
	return nil
}
