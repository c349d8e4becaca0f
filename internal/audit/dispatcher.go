package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher asynchronously forwards items of type T to a handler on a
// single goroutine, in order.
//
// Every emitted item is either handled or counted in Dropped. Emit holds mu
// for reading across its send, so Close cannot signal the worker to drain
// while a send is in flight.
type Dispatcher[T any] struct {
	cfg       Config
	handle    func(context.Context, T)
	ch        chan T
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher. A disabled config returns nil; every
// method is safe on a nil receiver.
func NewDispatcher[T any](cfg Config, handle func(context.Context, T)) *Dispatcher[T] {
	if !cfg.Enabled || handle == nil {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}

	d := &Dispatcher[T]{
		cfg:    cfg,
		handle: handle,
		ch:     make(chan T, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

// NewSinkDispatcher forwards audit events to sink.
func NewSinkDispatcher(cfg Config, sink Sink) *Dispatcher[Event] {
	if sink == nil {
		sink = NoOpSink{}
	}
	return NewDispatcher(cfg, sink.Emit)
}

func (d *Dispatcher[T]) run() {
	defer d.wg.Done()

	for {
		select {
		case item := <-d.ch:
			d.handle(context.Background(), item)
		case <-d.done:
			for {
				select {
				case item := <-d.ch:
					d.handle(context.Background(), item)
				default:
					return
				}
			}
		}
	}
}

// Emit queues item. With DropIfFull a full buffer drops it and bumps
// Dropped; otherwise Emit blocks until there is room or ctx is done. Items
// emitted after Close are dropped.
func (d *Dispatcher[T]) Emit(ctx context.Context, item T) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- item:
		default:
			d.dropped.Add(1)
		}
		return
	}

	// The worker keeps consuming until Close gets the write lock.
	select {
	case d.ch <- item:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

// Close stops accepting items and drains what is buffered. It waits for
// blocked emitters to finish their send first.
func (d *Dispatcher[T]) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.done)
		d.mu.Unlock()
		d.wg.Wait()
	})
}

func (d *Dispatcher[T]) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
