package kvstore

import (
	"bytes"

	json "github.com/goccy/go-json"
	"github.com/mitchellh/copystructure"
	"github.com/pkg/errors"
)

// Getter is implemented by anything that can look up a stored value by key.
// Both Store and Container satisfy it.
type Getter interface {
	Get(key string) (any, bool)
}

// Read returns the value stored under key decoded as T.
// The boolean is false if the key is absent, holds null, or holds a value whose
// shape does not fit T. A mismatch never returns an error.
func Read[T any](g Getter, key string) (T, bool) {
	v, ok := g.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	return decodeAs[T](v)
}

// normalize converts v into the generic JSON shape it has after being persisted
// and reloaded: objects become map[string]any and arrays []any. Integers that
// fit become int64, other numbers float64.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "normalize json.Marshal")
	}
	var out any
	if err := decodeJSON(b, &out); err != nil {
		return nil, errors.Wrap(err, "normalize decode")
	}
	return out, nil
}

// decodeJSON decodes b into out keeping integers exact.
func decodeJSON(b []byte, out *any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return err
	}
	*out = nativeNumbers(*out)
	return nil
}

func nativeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, e := range t {
			t[k] = nativeNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = nativeNumbers(e)
		}
		return t
	default:
		return v
	}
}

func normalizeMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		n, err := normalize(v)
		if err != nil {
			return nil, errors.Wrapf(err, "key %q", k)
		}
		out[k] = n
	}
	return out, nil
}

// decodeAs converts a normalised value into T.
func decodeAs[T any](v any) (T, bool) {
	var zero T
	if v == nil {
		return zero, false
	}
	if t, ok := v.(T); ok {
		return t, true
	}
	b, err := json.Marshal(v)
	if err != nil {
		return zero, false
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return zero, false
	}
	return out, true
}

// deepCopy detaches nested maps and slices from the store's copy.
func deepCopy(v any) any {
	switch v.(type) {
	case map[string]any, []any:
		c, err := copystructure.Copy(v)
		if err != nil {
			return v
		}
		return c
	default:
		return v
	}
}
