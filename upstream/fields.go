package upstream

import (
	"bytes"
	"encoding/json"
)

// fields is a decoded JSON object whose accessors default safely.
type fields map[string]json.RawMessage

func object(raw json.RawMessage) (fields, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, false
	}
	return fields(obj), true
}

// get returns the raw value of k, or nil when it is absent or null.
func (f fields) get(k string) json.RawMessage {
	v, ok := f[k]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil
	}
	return v
}

func (f fields) has(k string) bool {
	return f.get(k) != nil
}

func (f fields) str(k string) string {
	var s string
	if v := f.get(k); v != nil {
		_ = json.Unmarshal(v, &s)
	}
	return s
}

func (f fields) boolean(k string) bool {
	var b bool
	if v := f.get(k); v != nil {
		_ = json.Unmarshal(v, &b)
	}
	return b
}

func (f fields) float(k string) *float64 {
	v := f.get(k)
	if v == nil {
		return nil
	}
	var n float64
	if err := json.Unmarshal(v, &n); err != nil {
		return nil
	}
	return &n
}

func (f fields) int(k string) *int64 {
	n := f.float(k)
	if n == nil {
		return nil
	}
	i := int64(*n)
	return &i
}

func (f fields) object(k string) (fields, bool) {
	v := f.get(k)
	if v == nil {
		return nil, false
	}
	return object(v)
}

// any decodes k into a generic value, nil when absent or invalid.
func (f fields) any(k string) any {
	v := f.get(k)
	if v == nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(v, &out); err != nil {
		return nil
	}
	return out
}

// first returns the first of keys that is present.
func (f fields) first(keys ...string) json.RawMessage {
	for _, k := range keys {
		if v := f.get(k); v != nil {
			return v
		}
	}
	return nil
}

func (f fields) firstStr(keys ...string) string {
	for _, k := range keys {
		if s := f.str(k); s != "" {
			return s
		}
	}
	return ""
}

func (f fields) toMap() map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		var val any
		if err := json.Unmarshal(v, &val); err == nil {
			out[k] = val
		}
	}
	return out
}
