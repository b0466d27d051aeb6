package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"memecoin-radar-go/internal/solana"
)

// ErrClosed is returned for operations submitted to a closed limiter
var ErrClosed = errors.New("rate limiter closed")

// Operation is a unit of outbound RPC work
type Operation func(ctx context.Context) error

// Limiter serializes outbound RPC calls behind a FIFO queue.
// Operations never run concurrently and are paced to the configured
// ceiling. An upstream throttle response re-queues the failed operation
// at the head and pauses all dispatch for the cool-down.
type Limiter struct {
	pacer    *rate.Limiter
	cooldown time.Duration
	queue    chan *pending
	done     chan struct{}
	stopped  chan struct{}
	logger   *logrus.Logger

	mu     sync.Mutex
	closed bool
}

type pending struct {
	ctx    context.Context
	op     Operation
	result chan error
}

// Config contains limiter settings
type Config struct {
	MaxRequestsPerSecond int
	Cooldown             time.Duration
	QueueSize            int
}

// NewLimiter creates a limiter and starts its dispatch loop
func NewLimiter(cfg Config, logger *logrus.Logger) *Limiter {
	if cfg.MaxRequestsPerSecond < 1 {
		cfg.MaxRequestsPerSecond = 1
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}

	l := &Limiter{
		pacer:    rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), 1),
		cooldown: cfg.Cooldown,
		queue:    make(chan *pending, cfg.QueueSize),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		logger:   logger,
	}

	go l.dispatchLoop()

	return l
}

// Execute enqueues an operation and blocks until it has run or the
// context is cancelled. Submission order is dispatch order.
func (l *Limiter) Execute(ctx context.Context, op Operation) error {
	p := &pending{
		ctx:    ctx,
		op:     op,
		result: make(chan error, 1),
	}

	if err := l.submit(ctx, p); err != nil {
		return err
	}

	select {
	case err := <-p.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// submit enqueues under the close lock, so an operation can never land
// in the queue after the dispatcher has drained it for the last time
func (l *Limiter) submit(ctx context.Context, p *pending) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case l.queue <- p:
		return nil
	}
}

// Do runs a value-returning operation through the limiter
func Do[T any](ctx context.Context, l *Limiter, fn func(ctx context.Context) (T, error)) (T, error) {
	var value T
	err := l.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	return value, err
}

// Close stops the dispatch loop and fails all queued operations. Safe
// to call more than once.
func (l *Limiter) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
	l.mu.Unlock()
	<-l.stopped
}

// dispatchLoop is the single dispatcher. head holds a throttled
// operation awaiting retry, which preempts the queue.
func (l *Limiter) dispatchLoop() {
	defer close(l.stopped)

	var head *pending

	for {
		var p *pending
		if head != nil {
			p = head
			head = nil
		} else {
			select {
			case <-l.done:
				l.drainQueue()
				return
			case p = <-l.queue:
			}
		}

		if p.ctx.Err() != nil {
			p.result <- p.ctx.Err()
			continue
		}

		if err := l.pacer.Wait(p.ctx); err != nil {
			p.result <- err
			continue
		}

		err := p.op(p.ctx)
		if err != nil && solana.IsThrottled(err) {
			l.logger.WithError(err).WithField("cooldown", l.cooldown.String()).
				Warn("RPC throttled, pausing dispatch")
			head = p
			select {
			case <-l.done:
				p.result <- ErrClosed
				l.drainQueue()
				return
			case <-p.ctx.Done():
				p.result <- p.ctx.Err()
				head = nil
			case <-time.After(l.cooldown):
			}
			continue
		}

		p.result <- err
	}
}

func (l *Limiter) drainQueue() {
	for {
		select {
		case p := <-l.queue:
			p.result <- fmt.Errorf("operation dropped: %w", ErrClosed)
		default:
			return
		}
	}
}
