package kvstore

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type coalescerState int

const (
	stateIdle coalescerState = iota
	statePending
	stateFlushing
)

func (s coalescerState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateFlushing:
		return "flushing"
	default:
		return "idle"
	}
}

// flushBatch collects every request answered by one flush.
type flushBatch struct {
	done     chan struct{}
	err      error
	requests int
}

// Coalescer batches persistence requests so that at most one flush runs at a
// time and a burst of requests made before the scheduled flush starts is
// served by a single flush. The flush function reads the store when it runs,
// not when it was requested.
//
// A flush is scheduled if and only if dispatched < requested.
type Coalescer struct {
	name   string
	window time.Duration
	flush  func(ctx context.Context) error
	log    zerolog.Logger

	lock       sync.Mutex
	idle       *sync.Cond
	state      coalescerState
	requested  uint64
	dispatched uint64
	next       *flushBatch
	timer      *time.Timer
	closed     bool

	jobs   chan *flushBatch
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoalescer starts the flush goroutine for a container. window is how long
// a request waits for others to join it; zero means the next scheduler turn.
func NewCoalescer(name string, window time.Duration, logger zerolog.Logger, flush func(ctx context.Context) error) *Coalescer {
	ctx, cancelFunc := context.WithCancel(context.Background())
	c := &Coalescer{
		name:   name,
		window: window,
		flush:  flush,
		log:    logger,
		jobs:   make(chan *flushBatch, 1),
		ctx:    ctx,
		cancel: cancelFunc,
	}
	c.idle = sync.NewCond(&c.lock)
	c.wg.Add(1)
	go c.run()
	return c
}

// Save requests a flush and waits for the flush that covers the request.
// The flush error, if any, is returned to every caller it covers.
func (c *Coalescer) Save(ctx context.Context) error {
	b, err := c.request()
	if err != nil {
		return err
	}
	select {
	case <-b.done:
		return b.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Request schedules a flush without waiting for it.
func (c *Coalescer) Request() error {
	_, err := c.request()
	return err
}

// Pending reports whether a flush has been requested but not yet dispatched.
func (c *Coalescer) Pending() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.dispatched < c.requested
}

// Close dispatches any pending request immediately, waits for the flush
// goroutine to drain, then stops it. Later requests return ErrClosed.
func (c *Coalescer) Close() {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return
	}
	c.closed = true
	var b *flushBatch
	if c.state == statePending {
		c.timer.Stop()
		b = c.dispatch()
	}
	c.lock.Unlock()

	if b != nil {
		c.jobs <- b
	}

	c.lock.Lock()
	for c.state != stateIdle {
		c.idle.Wait()
	}
	c.lock.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Coalescer) request() (*flushBatch, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	flushRequests.WithLabelValues(c.name).Inc()
	c.requested++
	if c.next == nil {
		c.next = &flushBatch{done: make(chan struct{})}
	}
	c.next.requests++
	if c.state == stateIdle {
		c.arm()
	}
	return c.next, nil
}

// arm must be called with the lock held.
func (c *Coalescer) arm() {
	c.state = statePending
	c.timer = time.AfterFunc(c.window, c.fire)
}

// dispatch must be called with the lock held.
func (c *Coalescer) dispatch() *flushBatch {
	c.state = stateFlushing
	c.dispatched = c.requested
	b := c.next
	c.next = nil
	return b
}

func (c *Coalescer) fire() {
	c.lock.Lock()
	if c.state != statePending {
		// Close dispatched the batch already.
		c.lock.Unlock()
		return
	}
	b := c.dispatch()
	c.lock.Unlock()
	c.jobs <- b
}

func (c *Coalescer) run() {
	defer c.wg.Done()
	for {
		select {
		case b := <-c.jobs:
			c.execute(b)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Coalescer) execute(b *flushBatch) {
	start := time.Now()
	err := c.flush(c.ctx)
	observeFlush(c.name, start, err)
	if err != nil {
		c.log.Error().Err(err).Int("requests", b.requests).Msg("Coalescer.execute flush failed")
	} else {
		c.log.Debug().Int("requests", b.requests).Dur("took", time.Since(start)).Msg("Coalescer.execute flushed")
	}
	b.err = err
	close(b.done)

	c.lock.Lock()
	defer c.lock.Unlock()
	if c.dispatched < c.requested {
		if c.closed {
			// The worker is the only reader and the slot is empty.
			c.jobs <- c.dispatch()
			return
		}
		c.arm()
		return
	}
	c.state = stateIdle
	c.idle.Broadcast()
}
