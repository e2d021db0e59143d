package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueFull is returned by AsyncPublisher.Publish when the buffer is
// full. The event is dropped.
var ErrQueueFull = errors.New("events: publish queue full")

// ErrStopped is returned by AsyncPublisher.Publish after Stop.
var ErrStopped = errors.New("events: publisher stopped")

// DefaultQueueSize is the buffer used when NewAsyncPublisher gets size <= 0.
const DefaultQueueSize = 256

// publishTimeout bounds a single delivery to the underlying publisher.
const publishTimeout = 5 * time.Second

// AsyncPublisher hands events to a background worker so request handlers
// never wait on the broker. Delivery errors are logged, not returned.
type AsyncPublisher struct {
	next   Publisher
	logger *slog.Logger
	queue  chan Event

	mu      sync.RWMutex
	stopped bool

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewAsyncPublisher wraps next. Call Start before publishing and Stop on
// shutdown.
func NewAsyncPublisher(next Publisher, logger *slog.Logger, size int) *AsyncPublisher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &AsyncPublisher{
		next:   next,
		logger: logger,
		queue:  make(chan Event, size),
		done:   make(chan struct{}),
	}
}

// Start launches the delivery worker. Calling it more than once is a no-op.
func (p *AsyncPublisher) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.worker()
	})
}

// Publish enqueues ev without blocking.
func (p *AsyncPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrStopped
	}
	select {
	case p.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop rejects new events, delivers whatever is still queued and waits for
// the worker to exit.
func (p *AsyncPublisher) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()

		close(p.done)
		p.wg.Wait()

		// Start may never have been called.
		p.drain()
	})
}

func (p *AsyncPublisher) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			p.drain()
			return
		case ev := <-p.queue:
			p.deliver(ev)
		}
	}
}

func (p *AsyncPublisher) drain() {
	for {
		select {
		case ev := <-p.queue:
			p.deliver(ev)
		default:
			return
		}
	}
}

func (p *AsyncPublisher) deliver(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.next.Publish(ctx, ev); err != nil {
		p.logger.Warn("event delivery failed",
			slog.String("type", ev.Type),
			slog.String("formID", ev.FormID),
			slog.String("error", err.Error()),
		)
	}
}
