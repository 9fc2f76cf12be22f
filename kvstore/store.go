package kvstore

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Error definitions for common error cases.
var (
	// ErrNameInvalid returned when a container name contains invalid characters.
	ErrNameInvalid = errors.New("container name contains invalid characters")

	// ErrClosed returned when persisting through a container that has been closed.
	ErrClosed = errors.New("container closed")

	// ErrCorruptSnapshot returned when persisted data is not a JSON object.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")

	// ErrNotFound returned when deleting storage that does not exist.
	ErrNotFound = errors.New("storage not found")
)

// Store is the in-memory map of keys to JSON-compatible values.
// It is thread-safe. Every mutation records the last change and notifies
// listeners after the mutation has been applied, in the order mutations were
// applied. Store performs no I/O.
type Store struct {
	lock       sync.RWMutex
	data       map[string]any
	lastChange Change

	pending    []Change
	delivering bool
	nextID     uint64
	listeners  map[uint64]func(Change)
	watchers   map[uint64]*watcher
}

// NewStore returns a store holding a copy of data.
func NewStore(data map[string]any) *Store {
	s := &Store{
		data:      make(map[string]any, len(data)),
		listeners: make(map[uint64]func(Change)),
		watchers:  make(map[uint64]*watcher),
	}
	for k, v := range data {
		s.data[k] = v
	}
	return s
}

// Write inserts or overwrites key. The value must be JSON-serialisable.
func (s *Store) Write(key string, value any) error {
	v, err := normalize(value)
	if err != nil {
		return errors.Wrapf(err, "Store.Write key %q", key)
	}
	s.lock.Lock()
	s.data[key] = v
	s.commit(Change{Kind: ChangeWrite, Key: key, Value: deepCopy(v)})
	s.lock.Unlock()
	s.deliver()
	return nil
}

// Remove deletes key. Removing an absent key is not an error but is still
// reported to listeners.
func (s *Store) Remove(key string) {
	s.lock.Lock()
	delete(s.data, key)
	s.commit(Change{Kind: ChangeRemove, Key: key})
	s.lock.Unlock()
	s.deliver()
}

// Clear removes every key.
func (s *Store) Clear() {
	s.lock.Lock()
	s.data = make(map[string]any)
	s.commit(Change{Kind: ChangeClear})
	s.lock.Unlock()
	s.deliver()
}

// Get returns a copy of the value stored under key.
func (s *Store) Get(key string) (any, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false
	}
	return deepCopy(v), true
}

// Has reports whether key holds a non-null value.
func (s *Store) Has(key string) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.data[key] != nil
}

// Keys returns a sorted snapshot of the keys currently in the Store.
func (s *Store) Keys() []string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Values returns a snapshot of the values, ordered by key.
func (s *Store) Values() []any {
	s.lock.RLock()
	defer s.lock.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]any, 0, len(keys))
	for _, k := range keys {
		values = append(values, deepCopy(s.data[k]))
	}
	return values
}

// Len returns the number of keys.
func (s *Store) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.data)
}

// LastChange returns the most recent mutation. The zero Change means the store
// has not been mutated.
func (s *Store) LastChange() Change {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.lastChange
}

// Snapshot returns a shallow copy of the data. Stored values are never modified
// in place, so the copy is a consistent view suitable for serialisation.
func (s *Store) Snapshot() map[string]any {
	s.lock.RLock()
	defer s.lock.RUnlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// Underlay installs data beneath the current contents without notifying
// listeners: keys already present in the store keep their values.
func (s *Store) Underlay(data map[string]any) {
	s.lock.Lock()
	defer s.lock.Unlock()
	m := make(map[string]any, len(data)+len(s.data))
	for k, v := range data {
		m[k] = v
	}
	for k, v := range s.data {
		m[k] = v
	}
	s.data = m
}

// Listen registers fn for every mutation. The returned func deregisters it.
func (s *Store) Listen(fn func(Change)) func() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	return func() {
		s.lock.Lock()
		delete(s.listeners, id)
		s.lock.Unlock()
	}
}

// ListenKey registers fn for writes and removes of key. fn receives the new
// value, or nil when the key was removed. Clears are not delivered.
func (s *Store) ListenKey(key string, fn func(value any)) func() {
	return s.Listen(func(c Change) {
		if c.Affects(key) {
			fn(c.Value)
		}
	})
}

// Watch returns a channel carrying every change applied after the call.
// Delivery is decoupled from the mutating goroutine and preserves order.
// The channel is closed once ctx is done.
func (s *Store) Watch(ctx context.Context) <-chan Change {
	w := newWatcher()
	s.lock.Lock()
	s.nextID++
	id := s.nextID
	s.watchers[id] = w
	s.lock.Unlock()

	go w.run(ctx, func() {
		s.lock.Lock()
		delete(s.watchers, id)
		s.lock.Unlock()
	})
	return w.out
}

// commit must be called with the write lock held.
func (s *Store) commit(c Change) {
	s.lastChange = c
	s.pending = append(s.pending, c)
}

// deliver drains pending changes in order. Only one goroutine delivers at a
// time; a mutation made from inside a listener is queued and delivered after
// the current one instead of deadlocking. If a listener panics the remaining
// changes stay queued for the next mutation to deliver.
func (s *Store) deliver() {
	s.lock.Lock()
	if s.delivering {
		s.lock.Unlock()
		return
	}
	s.delivering = true
	s.lock.Unlock()

	drained := false
	defer func() {
		if !drained {
			s.lock.Lock()
			s.delivering = false
			s.lock.Unlock()
		}
	}()

	for {
		c, fns, ok := s.nextDelivery()
		if !ok {
			drained = true
			return
		}
		for _, fn := range fns {
			fn(c)
		}
	}
}

// nextDelivery pops the oldest pending change and the listeners to call, or
// clears the delivering flag when nothing is pending.
func (s *Store) nextDelivery() (Change, []func(Change), bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if len(s.pending) == 0 {
		s.delivering = false
		return Change{}, nil, false
	}
	c := s.pending[0]
	s.pending = s.pending[1:]

	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	for _, w := range s.watchers {
		w.push(c)
	}
	return c, fns, true
}
