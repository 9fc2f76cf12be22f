package kvstore

import (
	"context"
	"sync"
)

// ChangeKind identifies the mutation that produced a Change.
type ChangeKind int

const (
	// ChangeWrite is emitted when a key is inserted or overwritten.
	ChangeWrite ChangeKind = iota + 1
	// ChangeRemove is emitted when a key is removed.
	ChangeRemove
	// ChangeClear is emitted when every key is removed at once. Key is empty.
	ChangeClear
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeWrite:
		return "write"
	case ChangeRemove:
		return "remove"
	case ChangeClear:
		return "clear"
	default:
		return "none"
	}
}

// Change describes the most recent mutation applied to a Store.
// Value is nil for ChangeRemove and ChangeClear.
type Change struct {
	Kind  ChangeKind
	Key   string
	Value any
}

// Affects reports whether the change touches key. Clears are not reported for
// individual keys.
func (c Change) Affects(key string) bool {
	return c.Kind != ChangeClear && c.Key == key
}

// ChangeValue decodes the value carried by a change as T.
func ChangeValue[T any](c Change) (T, bool) {
	return decodeAs[T](c.Value)
}

// watcher is an unbounded, ordered queue between the store and a Watch channel,
// so a slow consumer never blocks a mutation.
type watcher struct {
	lock   sync.Mutex
	queue  []Change
	signal chan struct{}
	out    chan Change
}

func newWatcher() *watcher {
	return &watcher{
		signal: make(chan struct{}, 1),
		out:    make(chan Change),
	}
}

func (w *watcher) push(c Change) {
	w.lock.Lock()
	w.queue = append(w.queue, c)
	w.lock.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *watcher) run(ctx context.Context, done func()) {
	defer close(w.out)
	defer done()
	for {
		w.lock.Lock()
		batch := w.queue
		w.queue = nil
		w.lock.Unlock()

		for _, c := range batch {
			select {
			case w.out <- c:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-w.signal:
		case <-ctx.Done():
			return
		}
	}
}
