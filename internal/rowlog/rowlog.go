// Package rowlog defines the shared append-only row log that connects the
// student clients to the teacher dashboard.
//
// The log has no schema beyond column position: every row is a flat sequence
// of string cells, rows are immutable once appended, and readers must do all
// filtering themselves. The package provides the positional column layout,
// the Source/Appender boundary, and three backends: an in-memory log, a
// SQLite log, and a read-only HTTP source for published spreadsheet exports.
package rowlog

import (
	"context"
	"strconv"
	"strings"
)

// Column positions in a telemetry row. Position is the only schema.
const (
	ColTimestamp     = 0
	ColSessionID     = 1
	ColStudentID     = 2
	ColKeystrokes    = 3
	ColTabSwitches   = 4
	ColMouseVelocity = 5
	ColCopyPaste     = 6
	ColScrollSpeed   = 7
	ColRaiseHand     = 8
	ColQuestion      = 9
	ColNeedBreak     = 10

	// ColumnCount is the number of cells in a well-formed row.
	ColumnCount = 11
)

// Row is one reported observation as read back from the log.
type Row []string

// Cell returns the cell at position i, or "" when the row is short.
func (r Row) Cell(i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return r[i]
}

// Timestamp returns the raw timestamp cell.
func (r Row) Timestamp() string { return r.Cell(ColTimestamp) }

// SessionID returns the session id cell.
func (r Row) SessionID() string { return r.Cell(ColSessionID) }

// StudentID returns the student id cell.
func (r Row) StudentID() string { return r.Cell(ColStudentID) }

// Metric returns the numeric cell at position i, coercing parse failures
// to 0. A single bad metric never excludes a row from aggregation.
func (r Row) Metric(i int) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(r.Cell(i)), 64)
	if err != nil {
		return 0
	}
	return v
}

// IsHeader reports whether the row is the header marker row some exports
// prepend to the data.
func (r Row) IsHeader() bool {
	ts := r.Cell(ColTimestamp)
	return ts == "Timestamp" || ts == "timestamp"
}

// Record is one observation on its way into the log. The timestamp is not a
// field: the backend stamps rows on append, the same way the external form
// transport does.
type Record struct {
	SessionID       string
	StudentID       string
	KeystrokeCount  int
	TabSwitches     int
	MouseVelocity   float64
	CopyPasteEvents int
	ScrollSpeed     float64
	RaiseHand       bool
	Question        string
	NeedBreak       bool
}

// cells renders the record as positional cells with the given timestamp.
func (rec Record) cells(timestamp string) Row {
	return Row{
		timestamp,
		rec.SessionID,
		rec.StudentID,
		strconv.Itoa(rec.KeystrokeCount),
		strconv.Itoa(rec.TabSwitches),
		strconv.FormatFloat(rec.MouseVelocity, 'f', -1, 64),
		strconv.Itoa(rec.CopyPasteEvents),
		strconv.FormatFloat(rec.ScrollSpeed, 'f', -1, 64),
		yesNo(rec.RaiseHand),
		rec.Question,
		yesNo(rec.NeedBreak),
	}
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// Source reads the full row log. There is no filtering or pagination at this
// boundary; consumers filter client-side.
type Source interface {
	ReadAll(ctx context.Context) ([]Row, error)
}

// Appender appends one observation to the log. Rows are never updated or
// deleted through this interface.
type Appender interface {
	Append(ctx context.Context, rec Record) error
}
