package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Fields is an insertion-ordered mapping of string keys to Values.
// The zero value is an empty mapping ready for use.
type Fields struct {
	keys []string
	vals map[string]Value
}

// NewFields builds Fields from alternating key/value pairs.
func NewFields(pairs ...any) Fields {
	var f Fields
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		f.Set(key, ValueOf(pairs[i+1]))
	}
	return f
}

// StringFields builds Fields from alternating string keys and string values.
func StringFields(kv ...string) Fields {
	var f Fields
	for i := 0; i+1 < len(kv); i += 2 {
		f.Set(kv[i], String(kv[i+1]))
	}
	return f
}

// ValueOf converts common Go values into a Value. Unsupported types become their
// fmt representation so no input is silently lost.
func ValueOf(in any) Value {
	switch v := in.(type) {
	case nil:
		return Null()
	case Value:
		return v
	case Fields:
		return Map(v)
	case string:
		return String(v)
	case bool:
		return Bool(v)
	case int:
		return Int(v)
	case int64:
		return Number(float64(v))
	case float64:
		return Number(v)
	case float32:
		return Number(float64(v))
	case []string:
		return StringList(v)
	case []Value:
		return List(v...)
	default:
		return String(fmt.Sprint(v))
	}
}

// Set stores value under key. Existing keys keep their original position.
func (f *Fields) Set(key string, value Value) {
	if f.vals == nil {
		f.vals = make(map[string]Value)
	}
	if _, exists := f.vals[key]; !exists {
		f.keys = append(f.keys, key)
	}
	f.vals[key] = value
}

// Get returns the value stored under key.
func (f Fields) Get(key string) (Value, bool) {
	v, ok := f.vals[key]
	return v, ok
}

// GetString returns the string stored under key, if any.
func (f Fields) GetString(key string) (string, bool) {
	v, ok := f.vals[key]
	if !ok {
		return "", false
	}
	return v.AsString()
}

// Keys returns keys in insertion order.
func (f Fields) Keys() []string {
	return append([]string(nil), f.keys...)
}

// Len reports the number of keys.
func (f Fields) Len() int { return len(f.keys) }

// Clone returns a deep copy.
func (f Fields) Clone() Fields {
	if len(f.keys) == 0 {
		return Fields{}
	}
	out := Fields{
		keys: append([]string(nil), f.keys...),
		vals: make(map[string]Value, len(f.vals)),
	}
	for k, v := range f.vals {
		out.vals[k] = v.clone()
	}
	return out
}

// Equal compares keys, key order and values.
func (f Fields) Equal(o Fields) bool {
	if len(f.keys) != len(o.keys) {
		return false
	}
	for i, key := range f.keys {
		if o.keys[i] != key {
			return false
		}
		if !f.vals[key].Equal(o.vals[key]) {
			return false
		}
	}
	return true
}

// MarshalJSON writes an object with keys in insertion order.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range f.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyData, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(keyData)
		buf.WriteByte(':')
		valData, err := f.vals[key].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		buf.Write(valData)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object preserving document key order. null yields an empty mapping.
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*f = Fields{}
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}
	var out Fields
	if err := decodeFieldsBody(dec, &out); err != nil {
		return err
	}
	*f = out
	return nil
}
