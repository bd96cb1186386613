// Package aggregate turns the raw row log into the class-wide cognitive load
// score and the pending-request view the teacher dashboard renders.
//
// Everything here is a pure function of (rows, now, configuration): no clock
// reads, no I/O, identical inputs give identical outputs.
package aggregate

import (
	"math"
	"time"

	"classpulse/internal/rowlog"
	"classpulse/internal/timeparse"
)

// Weights determine how much each behavioral metric contributes to the raw
// score. The defaults are empirically chosen, not physically derived; treat
// them as tuning knobs.
type Weights struct {
	TabSwitch     float64 `toml:"tab_switch" json:"tab_switch" yaml:"tab_switch"`
	MouseVelocity float64 `toml:"mouse_velocity" json:"mouse_velocity" yaml:"mouse_velocity"`
	CopyPaste     float64 `toml:"copy_paste" json:"copy_paste" yaml:"copy_paste"`
	Scroll        float64 `toml:"scroll" json:"scroll" yaml:"scroll"`
	Keystroke     float64 `toml:"keystroke" json:"keystroke" yaml:"keystroke"`
}

// DefaultWeights returns the calibrated metric weighting.
func DefaultWeights() Weights {
	return Weights{
		TabSwitch:     15,   // high impact: searching for help
		MouseVelocity: 0.1,  // scaled down: pixels per second
		CopyPaste:     12,   // high impact: panic saving
		Scroll:        0.05, // scaled down: pixels per second
		Keystroke:     0.5,  // medium impact
	}
}

// Thresholds are the green/yellow score boundaries for classification.
type Thresholds struct {
	Green  float64 `toml:"green" json:"green" yaml:"green"`
	Yellow float64 `toml:"yellow" json:"yellow" yaml:"yellow"`
}

// DefaultThresholds returns the default classification boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{Green: 50, Yellow: 75}
}

// rawScoreCeiling is the assumed maximum reasonable raw score, used to
// normalize onto 0-100. Empirically chosen; adjust only with new
// calibration data.
const rawScoreCeiling = 500

// Status is the 3-level classification of the score, plus the two empty
// states.
type Status string

const (
	StatusNoData   Status = "no-data"  // the log has no rows at all
	StatusWaiting  Status = "waiting"  // rows exist but none inside the window
	StatusNormal   Status = "normal"   // score below the green threshold
	StatusModerate Status = "moderate" // score between green and yellow
	StatusOverload Status = "overload" // score at or above yellow
)

// Metrics holds the per-metric means over the filtered window, rounded to
// one decimal.
type Metrics struct {
	AvgKeystroke     float64 `json:"avg_keystroke"`
	AvgTabSwitch     float64 `json:"avg_tab_switch"`
	AvgMouseVelocity float64 `json:"avg_mouse_velocity"`
	AvgCopyPaste     float64 `json:"avg_copy_paste"`
	AvgScroll        float64 `json:"avg_scroll"`
	RawScore         float64 `json:"raw_score"`
	DataPoints       int     `json:"data_points"`
}

// Result is the aggregated view of the class within the trailing window.
type Result struct {
	Score          int      `json:"score"`
	ActiveStudents int      `json:"active_students"`
	Status         Status   `json:"status"`
	Color          string   `json:"color"`
	Message        string   `json:"message"`
	Metrics        *Metrics `json:"metrics"`
}

// Compute derives the cognitive load score from a snapshot of the row log.
//
// Rows are filtered to [now-window, now]; header markers and rows with
// unparseable timestamps are excluded, unparseable metric cells coerce to 0.
// The weighted raw score is normalized against rawScoreCeiling and clamped
// to 0-100.
func Compute(rows []rowlog.Row, now time.Time, window time.Duration, w Weights, th Thresholds) Result {
	if len(rows) == 0 {
		return Result{
			Status:  StatusNoData,
			Color:   "gray",
			Message: "Waiting for student data...",
		}
	}

	recent := filterWindow(rows, now, window)
	if len(recent) == 0 {
		return Result{
			Status:  StatusWaiting,
			Color:   "gray",
			Message: "No recent student activity...",
		}
	}

	students := make(map[string]struct{})
	var totalKeystroke, totalTabSwitch, totalMouseVelocity, totalCopyPaste, totalScroll float64
	for _, row := range recent {
		students[row.StudentID()] = struct{}{}
		totalKeystroke += row.Metric(rowlog.ColKeystrokes)
		totalTabSwitch += row.Metric(rowlog.ColTabSwitches)
		totalMouseVelocity += row.Metric(rowlog.ColMouseVelocity)
		totalCopyPaste += row.Metric(rowlog.ColCopyPaste)
		totalScroll += row.Metric(rowlog.ColScrollSpeed)
	}

	count := float64(len(recent))
	avgKeystroke := totalKeystroke / count
	avgTabSwitch := totalTabSwitch / count
	avgMouseVelocity := totalMouseVelocity / count
	avgCopyPaste := totalCopyPaste / count
	avgScroll := totalScroll / count

	rawScore := avgTabSwitch*w.TabSwitch +
		avgMouseVelocity*w.MouseVelocity +
		avgCopyPaste*w.CopyPaste +
		avgScroll*w.Scroll +
		avgKeystroke*w.Keystroke

	score := clamp(rawScore/rawScoreCeiling*100, 0, 100)

	var status Status
	var color, message string
	switch {
	case score < th.Green:
		status, color, message = StatusNormal, "green", "Class is keeping up"
	case score < th.Yellow:
		status, color, message = StatusModerate, "yellow", "Watch carefully - students working hard"
	default:
		status, color, message = StatusOverload, "red", "SLOW DOWN - Class is overloaded!"
	}

	return Result{
		Score:          int(math.Round(score)),
		ActiveStudents: len(students),
		Status:         status,
		Color:          color,
		Message:        message,
		Metrics: &Metrics{
			AvgKeystroke:     round1(avgKeystroke),
			AvgTabSwitch:     round1(avgTabSwitch),
			AvgMouseVelocity: round1(avgMouseVelocity),
			AvgCopyPaste:     round1(avgCopyPaste),
			AvgScroll:        round1(avgScroll),
			RawScore:         round1(rawScore),
			DataPoints:       len(recent),
		},
	}
}

// filterWindow keeps rows whose normalized timestamp falls inside
// [now-window, now], skipping header markers and unparseable timestamps.
func filterWindow(rows []rowlog.Row, now time.Time, window time.Duration) []rowlog.Row {
	cutoff := now.UnixMilli() - window.Milliseconds()
	upper := now.UnixMilli()

	var recent []rowlog.Row
	for _, row := range rows {
		if row.IsHeader() {
			continue
		}
		ms, err := timeparse.Parse(row.Timestamp())
		if err != nil {
			continue
		}
		if ms >= cutoff && ms <= upper {
			recent = append(recent, row)
		}
	}
	return recent
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
