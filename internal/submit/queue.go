// Package submit delivers telemetry records to a remote collector through a
// rate-limited, single-flight queue.
//
// Submissions are accepted immediately or rejected immediately: a full rate
// window rejects the call with a RateLimitError rather than deferring it.
// Accepted records are delivered in FIFO order by a single worker goroutine,
// with a bounded number of retries per record.
package submit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"

	"classpulse/internal/logging"
	"classpulse/internal/rowlog"
)

// Config controls rate limiting and delivery behavior.
type Config struct {
	// MaxPerWindow is the number of submissions accepted per rate window.
	MaxPerWindow int

	// Window is the length of the sliding rate window.
	Window time.Duration

	// AttemptTimeout bounds a single delivery attempt.
	AttemptTimeout time.Duration

	// Retries is the number of additional attempts after the first failure.
	Retries int

	// RetryInterval is the pause between attempts.
	RetryInterval time.Duration
}

// DefaultConfig returns the stock queue configuration.
func DefaultConfig() Config {
	return Config{
		MaxPerWindow:   10,
		Window:         60 * time.Second,
		AttemptTimeout: 10 * time.Second,
		Retries:        1,
		RetryInterval:  2 * time.Second,
	}
}

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	Submitted   uint64 `json:"submitted"`
	Delivered   uint64 `json:"delivered"`
	Failed      uint64 `json:"failed"`
	RateLimited uint64 `json:"rate_limited"`
	Pending     int    `json:"pending"`
}

// Queue is a rate-limited FIFO submission pipeline. At most one delivery is
// in flight at any time.
//
// Clock, Logger, and the callbacks must be set before Start.
type Queue struct {
	// Clock is the time source. Defaults to the real clock.
	Clock quartz.Clock

	// Logger receives delivery diagnostics.
	Logger *logging.Logger

	// OnSuccess is called from the worker goroutine after a record is
	// delivered. May be nil.
	OnSuccess func(rec rowlog.Record)

	// OnError is called from the worker goroutine after a record fails
	// terminally. May be nil.
	OnError func(rec rowlog.Record, err error)

	cfg       Config
	transport Transport

	mu        sync.Mutex
	pending   []rowlog.Record
	sendTimes []time.Time
	closed    bool
	stats     Stats

	wake   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
}

// New creates a queue that delivers through the given transport. The queue
// does not deliver anything until Start is called.
func New(transport Transport, cfg Config) *Queue {
	if cfg.MaxPerWindow <= 0 {
		cfg.MaxPerWindow = DefaultConfig().MaxPerWindow
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultConfig().AttemptTimeout
	}
	return &Queue{
		Clock:     quartz.NewReal(),
		Logger:    logging.Default().WithComponent("submit"),
		cfg:       cfg,
		transport: transport,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start launches the delivery worker.
func (q *Queue) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	go q.run(ctx)
}

// Submit accepts one record for delivery or rejects it. The call never
// blocks on the network; the outcome of delivery is reported through the
// OnSuccess and OnError callbacks.
//
// A full rate window rejects with *RateLimitError. The rejected record does
// not occupy a slot in the window.
func (q *Queue) Submit(rec rowlog.Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	now := q.Clock.Now()
	q.pruneWindowLocked(now)

	if len(q.sendTimes) >= q.cfg.MaxPerWindow {
		q.stats.RateLimited++
		retryAfter := q.sendTimes[0].Add(q.cfg.Window).Sub(now)
		q.Logger.Warn("submission rate limited",
			"in_window", len(q.sendTimes),
			"retry_after", retryAfter)
		return &RateLimitError{RetryAfter: retryAfter}
	}

	q.sendTimes = append(q.sendTimes, now)
	q.pending = append(q.pending, rec)
	q.stats.Submitted++

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.pending)
	return s
}

// Destroy stops the worker and abandons pending records. Abandoned records
// get no callback. Destroy is idempotent.
func (q *Queue) Destroy() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	dropped := len(q.pending)
	q.pending = nil
	q.mu.Unlock()

	if dropped > 0 {
		q.Logger.Info("abandoning pending submissions", "count", dropped)
	}
	if q.cancel != nil {
		q.cancel()
		<-q.done
	}
}

// pruneWindowLocked drops send times that have aged out of the rate window.
func (q *Queue) pruneWindowLocked(now time.Time) {
	cutoff := now.Add(-q.cfg.Window)
	i := 0
	for i < len(q.sendTimes) && !q.sendTimes[i].After(cutoff) {
		i++
	}
	if i > 0 {
		q.sendTimes = append(q.sendTimes[:0], q.sendTimes[i:]...)
	}
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}

		for {
			q.mu.Lock()
			if q.closed || len(q.pending) == 0 {
				q.mu.Unlock()
				break
			}
			rec := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()

			err := q.deliver(ctx, rec)

			q.mu.Lock()
			abandoned := q.closed
			if !abandoned {
				if err != nil {
					q.stats.Failed++
				} else {
					q.stats.Delivered++
				}
			}
			q.mu.Unlock()
			if abandoned {
				return
			}

			if err != nil {
				q.Logger.Error("submission failed", "student_id", rec.StudentID, "error", err)
				if q.OnError != nil {
					q.OnError(rec, err)
				}
			} else {
				q.Logger.Debug("submission delivered", "student_id", rec.StudentID)
				if q.OnSuccess != nil {
					q.OnSuccess(rec)
				}
			}
		}
	}
}

// deliver attempts one record up to 1+Retries times. Only attempt timeouts
// are retried; a collector rejection or any other delivery error is terminal.
func (q *Queue) deliver(ctx context.Context, rec rowlog.Record) error {
	attempt := 0
	op := func() error {
		attempt++
		actx, cancel := context.WithTimeout(ctx, q.cfg.AttemptTimeout)
		defer cancel()

		err := q.transport.Send(actx, rec)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			// Queue is shutting down, stop retrying.
			return backoff.Permanent(err)
		}
		var terr *TransportError
		if errors.As(err, &terr) {
			// The collector answered with a rejection. Retrying would
			// resend a payload the collector already refused.
			q.Logger.Warn("delivery rejected",
				"status", terr.StatusCode,
				"student_id", rec.StudentID)
			return backoff.Permanent(err)
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		q.Logger.Warn("delivery attempt timed out",
			"attempt", attempt,
			"student_id", rec.StudentID,
			"error", err)
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(q.cfg.RetryInterval), uint64(q.cfg.Retries)),
		ctx)
	return backoff.Retry(op, policy)
}
