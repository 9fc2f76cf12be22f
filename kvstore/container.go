package kvstore

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Container is a named, independently persisted key-value store. It combines
// a Store with the Backend that persists it and the Coalescer that batches
// flushes. Containers are obtained from a Registry.
//
// Until Ready is closed the store holds no persisted data. Durable operations
// wait for readiness before mutating. In-memory writes made earlier are kept
// on top of the loaded data, and no flush reaches the backend before the load
// has finished. After a failed load nothing is flushed.
type Container struct {
	name      string
	store     *Store
	backend   Backend
	coalescer *Coalescer
	log       zerolog.Logger
	initial   map[string]any

	ready   chan struct{}
	loadErr error

	closeOnce sync.Once
	closeErr  error
}

func newContainer(name string, backend Backend, cfg containerConfig) *Container {
	c := &Container{
		name:    name,
		store:   NewStore(nil),
		backend: backend,
		log:     cfg.logger.With().Str("container", name).Logger(),
		initial: cfg.initial,
		ready:   make(chan struct{}),
	}
	c.coalescer = NewCoalescer(name, cfg.flushWindow, c.log, c.flush)
	return c
}

// load merges the backend data under anything written in memory meanwhile and
// closes Ready.
func (c *Container) load(ctx context.Context) {
	defer close(c.ready)

	initial, err := normalizeMap(c.initial)
	if err != nil {
		c.loadErr = errors.Wrap(err, "Container.load initial data")
		c.log.Error().Err(c.loadErr).Msg("Container.load")
		return
	}
	data, err := c.backend.Load(ctx, initial)
	if err != nil {
		c.loadErr = errors.Wrap(err, "Container.load backend.Load")
		c.log.Error().Err(c.loadErr).Msg("Container.load")
		return
	}
	c.store.Underlay(data)
	c.log.Debug().Int("keys", len(data)).Msg("Container.load loaded")
}

func (c *Container) flush(ctx context.Context) error {
	if err := c.Wait(ctx); err != nil {
		return errors.Wrap(err, "Container.flush")
	}
	return c.backend.Flush(ctx, c.store.Snapshot())
}

// Name returns the container name.
func (c *Container) Name() string {
	return c.name
}

// Ready is closed once the initial load has finished, successfully or not.
func (c *Container) Ready() <-chan struct{} {
	return c.ready
}

// Wait blocks until the container is ready and returns the load error, if any.
// Durable operations on a container whose load failed return the same error.
func (c *Container) Wait(ctx context.Context) error {
	select {
	case <-c.ready:
		return c.loadErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns a copy of the raw value stored under key.
func (c *Container) Get(key string) (any, bool) {
	return c.store.Get(key)
}

// HasData reports whether key holds a non-null value.
func (c *Container) HasData(key string) bool {
	return c.store.Has(key)
}

// Keys returns a snapshot of the keys.
func (c *Container) Keys() []string {
	return c.store.Keys()
}

// Values returns a snapshot of the values, ordered by key.
func (c *Container) Values() []any {
	return c.store.Values()
}

// ValuesOf returns the values of c that decode as T, ordered by key. Values of
// another shape are skipped.
func ValuesOf[T any](c *Container) []T {
	values := c.store.Values()
	out := make([]T, 0, len(values))
	for _, v := range values {
		if t, ok := decodeAs[T](v); ok {
			out = append(out, t)
		}
	}
	return out
}

// LastChange returns the most recent mutation.
func (c *Container) LastChange() Change {
	return c.store.LastChange()
}

// Listen registers fn for every mutation.
func (c *Container) Listen(fn func(Change)) func() {
	return c.store.Listen(fn)
}

// ListenKey registers fn for writes and removes of key.
func (c *Container) ListenKey(key string, fn func(value any)) func() {
	return c.store.ListenKey(key, fn)
}

// Watch returns a channel of changes, closed when ctx is done.
func (c *Container) Watch(ctx context.Context) <-chan Change {
	return c.store.Watch(ctx)
}

// Write stores value under key and waits until it has been flushed.
func (c *Container) Write(ctx context.Context, key string, value any) error {
	if err := c.Wait(ctx); err != nil {
		return err
	}
	if err := c.store.Write(key, value); err != nil {
		return err
	}
	return c.coalescer.Save(ctx)
}

// WriteInMemory stores value under key and schedules a flush without waiting
// for it. Persistence failures are logged, never returned.
func (c *Container) WriteInMemory(key string, value any) error {
	if err := c.store.Write(key, value); err != nil {
		return err
	}
	if err := c.coalescer.Request(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Container.WriteInMemory flush not scheduled")
	}
	return nil
}

// WriteIfNull writes value only if key holds no value.
func (c *Container) WriteIfNull(ctx context.Context, key string, value any) error {
	if err := c.Wait(ctx); err != nil {
		return err
	}
	if c.store.Has(key) {
		return nil
	}
	return c.Write(ctx, key, value)
}

// Remove deletes key and waits until the removal has been flushed.
func (c *Container) Remove(ctx context.Context, key string) error {
	if err := c.Wait(ctx); err != nil {
		return err
	}
	c.store.Remove(key)
	return c.coalescer.Save(ctx)
}

// Erase removes every key and waits until the empty store has been flushed.
func (c *Container) Erase(ctx context.Context) error {
	if err := c.Wait(ctx); err != nil {
		return err
	}
	c.store.Clear()
	return c.coalescer.Save(ctx)
}

// Save flushes the current state without a prior mutation.
func (c *Container) Save(ctx context.Context) error {
	if err := c.Wait(ctx); err != nil {
		return err
	}
	return c.coalescer.Save(ctx)
}

// Close flushes pending requests and releases the backend.
func (c *Container) Close() error {
	c.closeOnce.Do(func() {
		<-c.ready
		c.coalescer.Close()
		if err := c.backend.Close(); err != nil {
			c.closeErr = errors.Wrap(err, "Container.Close backend.Close")
		}
	})
	return c.closeErr
}

// destroy closes the container and removes its persisted data. Only the
// registry calls it, after unregistering the container.
func (c *Container) destroy(ctx context.Context) error {
	if err := c.Close(); err != nil {
		c.log.Warn().Err(err).Msg("Container.destroy close")
	}
	if err := c.backend.Delete(ctx); err != nil {
		return errors.Wrap(err, "Container.destroy backend.Delete")
	}
	return nil
}
