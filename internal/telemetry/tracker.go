// Package telemetry accumulates a student's activity signals between
// submissions.
//
// Counters accumulate monotonically until explicitly reset; velocity-like
// signals go through rolling windows so a single burst does not dominate a
// report. The tracker itself never talks to the network.
package telemetry

import (
	"sync"

	"classpulse/internal/rollingavg"
	"classpulse/internal/rowlog"
)

// DefaultWindowSize is the rolling window length for velocity signals.
const DefaultWindowSize = 10

// Tracker collects one student's activity. Safe for concurrent use.
type Tracker struct {
	mu sync.Mutex

	keystrokes      int
	tabSwitches     int
	copyPasteEvents int

	mouseVelocity *rollingavg.Window
	scrollSpeed   *rollingavg.Window

	raiseHand       bool
	pendingQuestion string
	needBreak       bool
}

// New creates a tracker with rolling windows of the given size.
func New(windowSize int) (*Tracker, error) {
	mouse, err := rollingavg.New(windowSize)
	if err != nil {
		return nil, err
	}
	scroll, err := rollingavg.New(windowSize)
	if err != nil {
		return nil, err
	}
	return &Tracker{
		mouseVelocity: mouse,
		scrollSpeed:   scroll,
	}, nil
}

// Keystroke records one keystroke.
func (t *Tracker) Keystroke() {
	t.mu.Lock()
	t.keystrokes++
	t.mu.Unlock()
}

// TabSwitch records one tab or window switch.
func (t *Tracker) TabSwitch() {
	t.mu.Lock()
	t.tabSwitches++
	t.mu.Unlock()
}

// CopyPaste records one copy or paste event.
func (t *Tracker) CopyPaste() {
	t.mu.Lock()
	t.copyPasteEvents++
	t.mu.Unlock()
}

// MouseSample feeds one mouse velocity sample into the rolling window.
func (t *Tracker) MouseSample(velocity float64) {
	t.mu.Lock()
	t.mouseVelocity.Push(velocity)
	t.mu.Unlock()
}

// ScrollSample feeds one scroll speed sample into the rolling window.
func (t *Tracker) ScrollSample(speed float64) {
	t.mu.Lock()
	t.scrollSpeed.Push(speed)
	t.mu.Unlock()
}

// SetRaiseHand toggles the raised-hand flag. The flag persists across
// submissions until toggled off.
func (t *Tracker) SetRaiseHand(up bool) {
	t.mu.Lock()
	t.raiseHand = up
	t.mu.Unlock()
}

// RaiseHand reports the current raised-hand flag.
func (t *Tracker) RaiseHand() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.raiseHand
}

// SetQuestion records the student's pending question text. An empty string
// clears it.
func (t *Tracker) SetQuestion(text string) {
	t.mu.Lock()
	t.pendingQuestion = text
	t.mu.Unlock()
}

// SetNeedBreak toggles the break request flag.
func (t *Tracker) SetNeedBreak(need bool) {
	t.mu.Lock()
	t.needBreak = need
	t.mu.Unlock()
}

// NeedBreak reports the current break request flag.
func (t *Tracker) NeedBreak() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.needBreak
}

// Snapshot renders the current state as a record ready for submission.
// Snapshotting does not reset anything.
func (t *Tracker) Snapshot(sessionID, studentID string) rowlog.Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return rowlog.Record{
		SessionID:       sessionID,
		StudentID:       studentID,
		KeystrokeCount:  t.keystrokes,
		TabSwitches:     t.tabSwitches,
		MouseVelocity:   t.mouseVelocity.Average(),
		CopyPasteEvents: t.copyPasteEvents,
		ScrollSpeed:     t.scrollSpeed.Average(),
		RaiseHand:       t.raiseHand,
		Question:        t.pendingQuestion,
		NeedBreak:       t.needBreak,
	}
}

// ResetKeystrokes zeroes the keystroke counter. The other counters carry
// across submissions so the dashboard sees session-cumulative values.
func (t *Tracker) ResetKeystrokes() {
	t.mu.Lock()
	t.keystrokes = 0
	t.mu.Unlock()
}

// ClearQuestion drops the pending question after it has been delivered.
func (t *Tracker) ClearQuestion() {
	t.mu.Lock()
	t.pendingQuestion = ""
	t.mu.Unlock()
}
