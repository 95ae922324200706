package datamodel

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/goccy/go-json"
)

// ParseJSON decodes raw JSON into a Value. data must hold exactly one value.
// Numbers that fit into an int64 become Int, everything else Float.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return Null, fmt.Errorf("failed to decode value: %w", err)
	}
	var trailing interface{}
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return Null, errors.New("failed to decode value: unexpected data after the top-level value")
	}
	return FromInterface(raw)
}

// MustParseJSON is ParseJSON for literals in tests and constants
func MustParseJSON(data string) Value {
	v, err := ParseJSON([]byte(data))
	if err != nil {
		panic(err)
	}
	return v
}

// FromInterface converts the output of a generic JSON decoder into a Value
func FromInterface(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null, nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return fromNumber(string(t))
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return Int(int64(t)), nil
		}
		return Float(t), nil
	case float32:
		return Float(float64(t)), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case string:
		return String(t), nil
	case []interface{}:
		arr := make([]Value, 0, len(t))
		for _, item := range t {
			v, err := FromInterface(item)
			if err != nil {
				return Null, err
			}
			arr = append(arr, v)
		}
		return wrapArray(arr), nil
	case map[string]interface{}:
		obj := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := FromInterface(item)
			if err != nil {
				return Null, err
			}
			obj[k] = v
		}
		return wrapObject(obj), nil
	default:
		return Null, fmt.Errorf("unsupported type: %T (%v)", t, raw)
	}
}

func fromNumber(n string) (Value, error) {
	if i, err := strconv.ParseInt(n, 10, 64); err == nil {
		return Int(i), nil
	}
	f, err := strconv.ParseFloat(n, 64)
	if err != nil {
		return Null, fmt.Errorf("invalid number %q: %w", n, err)
	}
	return Float(f), nil
}

// Interface converts v into plain Go values (map[string]interface{}, []interface{}, ...)
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindArray:
		arr := make([]interface{}, len(v.arr))
		for i, item := range v.arr {
			arr[i] = item.Interface()
		}
		return arr
	case KindObject:
		obj := make(map[string]interface{}, len(v.obj))
		for k, item := range v.obj {
			obj[k] = item.Interface()
		}
		return obj
	default:
		return nil
	}
}

// MarshalJSON writes objects with sorted keys, so equal values always encode to equal bytes
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.appendJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseJSON(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Value) appendJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return fmt.Errorf("unsupported float value: %v", v.f)
		}
		buf.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case KindString:
		s, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(s)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.appendJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err = v.obj[k].appendJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

// Decode converts v into the typed view out via a JSON round trip
func (v Value) Decode(out interface{}) error {
	data, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
