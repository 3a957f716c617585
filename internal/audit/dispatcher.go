package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"estatly.org/internal/obs"
)

// Dispatcher is a Ledger that hands entries to background workers. Record
// returns once the entry is queued; workers retry failed writes with
// exponential backoff and log entries they finally give up on.
type Dispatcher struct {
	next     Ledger
	logger   *slog.Logger
	queue    chan Entry
	workers  int
	attempts int
	backoff  time.Duration
	timeout  time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	stop   chan struct{}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Entry, n)
		}
	}
}

func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithRetry sets the number of write attempts and the first backoff delay.
func WithRetry(attempts int, backoff time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if attempts > 0 {
			d.attempts = attempts
		}
		if backoff >= 0 {
			d.backoff = backoff
		}
	}
}

func WithDispatchLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithWriteTimeout bounds each attempt against the wrapped ledger.
func WithWriteTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// NewDispatcher starts the workers writing to next.
func NewDispatcher(next Ledger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		next:     next,
		queue:    make(chan Entry, 1024),
		workers:  2,
		attempts: 3,
		backoff:  50 * time.Millisecond,
		timeout:  DefaultTimeout,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

// Record queues e without blocking. A full queue yields ErrQueueFull.
func (d *Dispatcher) Record(ctx context.Context, e Entry) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- e.Clone():
		obs.AuditQueueDepth.Set(float64(len(d.queue)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting entries and waits for queued ones to be written.
// When ctx ends first the workers are told to abandon retries.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		close(d.stop)
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for e := range d.queue {
		obs.AuditQueueDepth.Set(float64(len(d.queue)))
		d.deliver(e)
	}
}

func (d *Dispatcher) deliver(e Entry) {
	delay := d.backoff
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.next.Record(ctx, e)
		cancel()
		if err == nil {
			return
		}
		if attempt >= d.attempts {
			d.giveUp(e, attempt, err)
			return
		}
		select {
		case <-time.After(delay):
		case <-d.stop:
			d.giveUp(e, attempt, err)
			return
		}
		delay *= 2
	}
}

func (d *Dispatcher) giveUp(e Entry, attempts int, err error) {
	obs.AuditWriteFailures.WithLabelValues(e.EntityKind).Inc()
	loggerFrom(d.logger).Error("audit_write_failed",
		slog.String("entry_id", e.ID),
		slog.String("action", string(e.Action)),
		slog.String("entity_kind", e.EntityKind),
		slog.String("entity_id", e.EntityID),
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()),
	)
}
