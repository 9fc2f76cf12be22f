package kvstore

import "context"

// Field is a typed accessor for one key of a container with a default value
// returned whenever the key is absent or holds a value of another shape.
type Field[T any] struct {
	c   *Container
	key string
	def T
}

// NewField returns an accessor for key in c.
func NewField[T any](c *Container, key string, def T) *Field[T] {
	return &Field[T]{c: c, key: key, def: def}
}

// Key returns the key the field reads and writes.
func (f *Field[T]) Key() string {
	return f.key
}

// Get returns the stored value or the default.
func (f *Field[T]) Get() T {
	if v, ok := Read[T](f.c, f.key); ok {
		return v
	}
	return f.def
}

// Set writes v durably.
func (f *Field[T]) Set(ctx context.Context, v T) error {
	return f.c.Write(ctx, f.key, v)
}

// Listen calls fn with the new value, or the default on removal, whenever the
// key changes.
func (f *Field[T]) Listen(fn func(T)) func() {
	return f.c.ListenKey(f.key, func(value any) {
		if v, ok := decodeAs[T](value); ok {
			fn(v)
			return
		}
		fn(f.def)
	})
}
