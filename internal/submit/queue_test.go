package submit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"

	"classpulse/internal/rowlog"
)

// fakeTransport records deliveries and can be made to fail or block.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []rowlog.Record
	attempts int
	err      error

	started chan string   // receives StudentID when a Send begins, if set
	release chan struct{} // Send blocks until a receive, if set
}

func (f *fakeTransport) Send(ctx context.Context, rec rowlog.Record) error {
	f.mu.Lock()
	f.attempts++
	f.mu.Unlock()

	if f.started != nil {
		f.started <- rec.StudentID
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.err != nil {
		return f.err
	}

	f.mu.Lock()
	f.sent = append(f.sent, rec)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeTransport) sentIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.sent))
	for i, r := range f.sent {
		ids[i] = r.StudentID
	}
	return ids
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting on channel")
		panic("unreachable")
	}
}

func TestRateLimitRejectsWithoutQueueing(t *testing.T) {
	mock := quartz.NewMock(t)
	tr := &fakeTransport{}
	q := New(tr, Config{MaxPerWindow: 3, Window: 60 * time.Second})
	q.Clock = mock
	// Worker intentionally not started: acceptance is independent of
	// delivery, and an idle worker keeps pending counts deterministic.

	for i := 0; i < 3; i++ {
		if err := q.Submit(rowlog.Record{StudentID: "s-1"}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	err := q.Submit(rowlog.Record{StudentID: "s-1"})
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rle.RetryAfter != 60*time.Second {
		t.Errorf("RetryAfter = %s, want 60s", rle.RetryAfter)
	}
	if tr.attemptCount() != 0 {
		t.Errorf("rejected submission reached the transport")
	}

	stats := q.Stats()
	if stats.Submitted != 3 || stats.RateLimited != 1 || stats.Pending != 3 {
		t.Errorf("stats = %+v, want 3 submitted, 1 rate limited, 3 pending", stats)
	}

	// The window slides: once the oldest send ages out, a slot frees up.
	mock.Advance(60 * time.Second)
	if err := q.Submit(rowlog.Record{StudentID: "s-1"}); err != nil {
		t.Fatalf("submit after window elapsed: %v", err)
	}
}

func TestFIFOSingleFlight(t *testing.T) {
	tr := &fakeTransport{
		started: make(chan string),
		release: make(chan struct{}),
	}
	q := New(tr, Config{MaxPerWindow: 10, Window: time.Minute})
	delivered := make(chan string, 2)
	q.OnSuccess = func(rec rowlog.Record) { delivered <- rec.StudentID }
	q.Start()
	defer q.Destroy()

	if err := q.Submit(rowlog.Record{StudentID: "first"}); err != nil {
		t.Fatal(err)
	}
	if err := q.Submit(rowlog.Record{StudentID: "second"}); err != nil {
		t.Fatal(err)
	}

	if got := waitFor(t, tr.started); got != "first" {
		t.Fatalf("first in flight = %q, want first", got)
	}

	// Nothing else may start while the first delivery is in flight.
	select {
	case got := <-tr.started:
		t.Fatalf("second delivery %q started while first was in flight", got)
	case <-time.After(50 * time.Millisecond):
	}

	tr.release <- struct{}{}
	if got := waitFor(t, delivered); got != "first" {
		t.Fatalf("first delivered = %q, want first", got)
	}

	if got := waitFor(t, tr.started); got != "second" {
		t.Fatalf("second in flight = %q, want second", got)
	}
	tr.release <- struct{}{}
	if got := waitFor(t, delivered); got != "second" {
		t.Fatalf("second delivered = %q, want second", got)
	}

	if ids := tr.sentIDs(); len(ids) != 2 || ids[0] != "first" || ids[1] != "second" {
		t.Errorf("delivery order = %v, want [first second]", ids)
	}
}

func TestCollectorRejectionIsTerminal(t *testing.T) {
	tr := &fakeTransport{err: &TransportError{StatusCode: 500}}
	q := New(tr, Config{
		MaxPerWindow:  10,
		Window:        time.Minute,
		Retries:       1,
		RetryInterval: time.Millisecond,
	})
	failed := make(chan error, 1)
	q.OnError = func(rec rowlog.Record, err error) { failed <- err }
	q.Start()
	defer q.Destroy()

	if err := q.Submit(rowlog.Record{StudentID: "s-1"}); err != nil {
		t.Fatal(err)
	}

	err := waitFor(t, failed)
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("terminal error = %v, want TransportError", err)
	}
	// A rejection is not retried: the collector already refused the payload.
	if got := tr.attemptCount(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
	if stats := q.Stats(); stats.Failed != 1 || stats.Delivered != 0 {
		t.Errorf("stats = %+v, want 1 failed", stats)
	}
}

func TestTimeoutRetriedThenTerminal(t *testing.T) {
	// Send blocks until the attempt deadline with no release, so every
	// attempt ends in context.DeadlineExceeded.
	tr := &fakeTransport{release: make(chan struct{})}
	q := New(tr, Config{
		MaxPerWindow:   10,
		Window:         time.Minute,
		AttemptTimeout: 20 * time.Millisecond,
		Retries:        1,
		RetryInterval:  time.Millisecond,
	})
	failed := make(chan error, 1)
	q.OnError = func(rec rowlog.Record, err error) { failed <- err }
	q.Start()
	defer q.Destroy()

	if err := q.Submit(rowlog.Record{StudentID: "s-1"}); err != nil {
		t.Fatal(err)
	}

	err := waitFor(t, failed)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("terminal error = %v, want DeadlineExceeded", err)
	}
	if got := tr.attemptCount(); got != 2 {
		t.Errorf("attempts = %d, want 2 (one initial, one retry)", got)
	}
	if stats := q.Stats(); stats.Failed != 1 || stats.Delivered != 0 {
		t.Errorf("stats = %+v, want 1 failed", stats)
	}
}

func TestSuccessUpdatesStats(t *testing.T) {
	tr := &fakeTransport{}
	q := New(tr, Config{MaxPerWindow: 10, Window: time.Minute})
	delivered := make(chan string, 1)
	q.OnSuccess = func(rec rowlog.Record) { delivered <- rec.StudentID }
	q.Start()
	defer q.Destroy()

	if err := q.Submit(rowlog.Record{StudentID: "s-9", KeystrokeCount: 4}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, delivered)

	stats := q.Stats()
	if stats.Delivered != 1 || stats.Failed != 0 || stats.Pending != 0 {
		t.Errorf("stats = %+v, want 1 delivered, 0 pending", stats)
	}
}

func TestDestroyAbandonsPending(t *testing.T) {
	tr := &fakeTransport{
		started: make(chan string, 2),
		release: make(chan struct{}),
	}
	q := New(tr, Config{MaxPerWindow: 10, Window: time.Minute})
	var cbMu sync.Mutex
	callbacks := 0
	q.OnSuccess = func(rowlog.Record) { cbMu.Lock(); callbacks++; cbMu.Unlock() }
	q.OnError = func(rowlog.Record, error) { cbMu.Lock(); callbacks++; cbMu.Unlock() }
	q.Start()

	if err := q.Submit(rowlog.Record{StudentID: "in-flight"}); err != nil {
		t.Fatal(err)
	}
	if err := q.Submit(rowlog.Record{StudentID: "queued"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, tr.started)

	q.Destroy()

	if err := q.Submit(rowlog.Record{StudentID: "late"}); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("submit after destroy = %v, want ErrQueueClosed", err)
	}

	cbMu.Lock()
	got := callbacks
	cbMu.Unlock()
	if got != 0 {
		t.Errorf("abandoned records produced %d callbacks, want 0", got)
	}

	// Destroy is idempotent.
	q.Destroy()
}
