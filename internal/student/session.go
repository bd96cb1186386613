// Package student runs the client-side reporting session: it wires the
// activity tracker, the submission queue, and duplicate-client arbitration
// into one periodic reporting loop.
package student

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"classpulse/internal/arbiter"
	"classpulse/internal/config"
	"classpulse/internal/logging"
	"classpulse/internal/rowlog"
	"classpulse/internal/submit"
	"classpulse/internal/telemetry"
)

// Status describes the session's reporting health.
type Status string

const (
	// StatusConnecting is the state before the first delivery settles.
	StatusConnecting Status = "connecting"
	// StatusConnected means the last delivery succeeded.
	StatusConnected Status = "connected"
	// StatusError means the last delivery failed terminally.
	StatusError Status = "error"
	// StatusDisabled means another client won arbitration. Permanent for
	// the life of the session.
	StatusDisabled Status = "disabled"
)

// Session is one student's reporting loop. Construct with New, then Start.
type Session struct {
	// Clock is the time source. Defaults to the real clock.
	Clock quartz.Clock

	// Logger receives session diagnostics.
	Logger *logging.Logger

	// OnStatusChange is called when the reporting status transitions.
	// May be nil.
	OnStatusChange func(Status)

	// Rand drives the initial delay and interval jitter. Defaults to a
	// time-seeded source.
	Rand *rand.Rand

	cfg       *config.Config
	tracker   *telemetry.Tracker
	queue     *submit.Queue
	arb       *arbiter.Arbiter
	sessionID string
	studentID string

	mu       sync.Mutex
	status   Status
	disabled bool
	started  bool

	cancel context.CancelFunc
	done   chan struct{}
}

// GenerateID returns a fresh anonymous student id.
func GenerateID() string {
	return "student-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// New wires a session from its parts. The student id is generated when the
// config leaves it empty.
func New(cfg *config.Config, tracker *telemetry.Tracker, queue *submit.Queue, arb *arbiter.Arbiter) *Session {
	studentID := cfg.Session.StudentID
	if studentID == "" {
		studentID = GenerateID()
	}
	return &Session{
		Clock:     quartz.NewReal(),
		Logger:    logging.Default().WithComponent("session"),
		Rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		cfg:       cfg,
		tracker:   tracker,
		queue:     queue,
		arb:       arb,
		sessionID: cfg.Session.SessionID,
		studentID: studentID,
		status:    StatusConnecting,
		done:      make(chan struct{}),
	}
}

// StudentID returns the effective student id, generated or configured.
func (s *Session) StudentID() string { return s.studentID }

// Status returns the current reporting status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Start begins arbitration and the periodic reporting loop.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.queue.OnSuccess = s.handleDelivered
	s.queue.OnError = s.handleFailed
	s.queue.Start()

	s.arb.OnDemoted = s.disable
	s.arb.Start(ctx)

	s.Logger.Info("session starting",
		"session_id", s.sessionID,
		"student_id", s.studentID,
		"update_interval", s.cfg.UpdateInterval())

	go s.run(ctx)
}

// Stop halts reporting, deregisters from arbitration, and abandons any
// queued submissions.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.cancel()
	<-s.done
	s.arb.Stop()
	s.queue.Destroy()
	s.Logger.Info("session stopped", "student_id", s.studentID)
}

// RaiseHand toggles the raised-hand flag and reports immediately.
func (s *Session) RaiseHand(up bool) {
	s.tracker.SetRaiseHand(up)
	s.reportNow("raise_hand")
}

// AskQuestion records a question and reports immediately. Blank questions
// are ignored.
func (s *Session) AskQuestion(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	s.tracker.SetQuestion(text)
	s.reportNow("question")
}

// RequestBreak toggles the break request flag and reports immediately.
func (s *Session) RequestBreak(need bool) {
	s.tracker.SetNeedBreak(need)
	s.reportNow("need_break")
}

// run is the periodic reporting loop. The first report waits a short random
// delay so a classroom of clients starting together does not stampede; each
// subsequent interval is jittered.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	timer := s.Clock.NewTimer(s.initialDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.reportNow("interval")
			timer.Reset(s.nextInterval())
		}
	}
}

// reportNow snapshots and submits, unless this client lost arbitration.
func (s *Session) reportNow(reason string) {
	s.mu.Lock()
	if s.disabled {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if !s.arb.IsPrimary() {
		return
	}

	rec := s.tracker.Snapshot(s.sessionID, s.studentID)
	err := s.queue.Submit(rec)
	if err == nil {
		s.Logger.Debug("report queued", "reason", reason, "keystrokes", rec.KeystrokeCount)
		return
	}

	var rle *submit.RateLimitError
	switch {
	case errors.As(err, &rle):
		s.Logger.Warn("report dropped by rate limit",
			"reason", reason, "retry_after", rle.RetryAfter)
	case errors.Is(err, submit.ErrQueueClosed):
	default:
		s.Logger.Error("report rejected", "reason", reason, "error", err)
	}
}

func (s *Session) handleDelivered(rec rowlog.Record) {
	// Keystrokes are deltas between reports; the other counters stay
	// cumulative for the session.
	s.tracker.ResetKeystrokes()
	if rec.Question != "" {
		s.tracker.ClearQuestion()
	}
	s.setStatus(StatusConnected)
}

func (s *Session) handleFailed(rec rowlog.Record, err error) {
	s.setStatus(StatusError)
}

// disable permanently stops this client from reporting. The arbiter invokes
// it on every cycle a duplicate holds the election, so it is idempotent.
func (s *Session) disable() {
	s.mu.Lock()
	already := s.disabled
	s.disabled = true
	s.mu.Unlock()
	if already {
		return
	}
	s.Logger.Warn("duplicate client detected, reporting disabled",
		"student_id", s.studentID)
	s.setStatus(StatusDisabled)
}

// setStatus transitions the status and fires the callback on change. The
// disabled state is terminal.
func (s *Session) setStatus(next Status) {
	s.mu.Lock()
	if s.status == next || (s.status == StatusDisabled && next != StatusDisabled) {
		s.mu.Unlock()
		return
	}
	s.status = next
	cb := s.OnStatusChange
	s.mu.Unlock()

	if cb != nil {
		cb(next)
	}
}

func (s *Session) initialDelay() time.Duration {
	minSec := s.cfg.Session.InitialDelayMinSec
	maxSec := s.cfg.Session.InitialDelayMaxSec
	spread := maxSec - minSec
	if spread <= 0 {
		return time.Duration(minSec) * time.Second
	}
	return time.Duration(minSec)*time.Second +
		time.Duration(s.Rand.Float64()*float64(spread)*float64(time.Second))
}

func (s *Session) nextInterval() time.Duration {
	base := s.cfg.UpdateInterval()
	pct := s.cfg.Session.JitterPct
	if pct <= 0 {
		return base
	}
	// Uniform in [1-pct, 1+pct] around the base interval.
	factor := 1 + pct*(2*s.Rand.Float64()-1)
	return time.Duration(float64(base) * factor)
}
