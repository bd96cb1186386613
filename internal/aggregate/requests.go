package aggregate

import (
	"strings"
	"time"

	"classpulse/internal/rowlog"
)

// HandRaise is a pending raised hand.
type HandRaise struct {
	StudentID string `json:"student_id"`
	Timestamp string `json:"timestamp"`
}

// Question is a pending free-text question.
type Question struct {
	StudentID string `json:"student_id"`
	Question  string `json:"question"`
	Timestamp string `json:"timestamp"`
}

// BreakRequest is a pending break request.
type BreakRequest struct {
	StudentID string `json:"student_id"`
	Timestamp string `json:"timestamp"`
}

// RequestBoard is the deduplicated pending-request view for the dashboard.
type RequestBoard struct {
	RaisedHands   []HandRaise    `json:"raised_hands"`
	Questions     []Question     `json:"questions"`
	BreakRequests []BreakRequest `json:"break_requests"`
	Total         int            `json:"total"`
}

// Requests derives the pending-request view from a row log snapshot.
//
// For each request kind, rows inside the trailing window are grouped by
// student and only the row with the latest raw timestamp survives: a
// student's newer request supersedes their older one, requests never
// accumulate. Students appear in first-seen order within each kind.
func Requests(rows []rowlog.Row, now time.Time, window time.Duration) RequestBoard {
	recent := filterWindow(rows, now, window)

	hands := newLatestPerStudent()
	questions := newLatestPerStudent()
	breaks := newLatestPerStudent()

	for _, row := range recent {
		if row.Cell(rowlog.ColRaiseHand) == "Yes" {
			hands.offer(row)
		}
		if strings.TrimSpace(row.Cell(rowlog.ColQuestion)) != "" {
			questions.offer(row)
		}
		if row.Cell(rowlog.ColNeedBreak) == "Yes" {
			breaks.offer(row)
		}
	}

	board := RequestBoard{}
	for _, row := range hands.rows() {
		board.RaisedHands = append(board.RaisedHands, HandRaise{
			StudentID: row.StudentID(),
			Timestamp: row.Timestamp(),
		})
	}
	for _, row := range questions.rows() {
		board.Questions = append(board.Questions, Question{
			StudentID: row.StudentID(),
			Question:  row.Cell(rowlog.ColQuestion),
			Timestamp: row.Timestamp(),
		})
	}
	for _, row := range breaks.rows() {
		board.BreakRequests = append(board.BreakRequests, BreakRequest{
			StudentID: row.StudentID(),
			Timestamp: row.Timestamp(),
		})
	}

	board.Total = len(board.RaisedHands) + len(board.Questions) + len(board.BreakRequests)
	return board
}

// latestPerStudent keeps the most recent row per student id while preserving
// the order students were first seen in.
type latestPerStudent struct {
	order []string
	byID  map[string]rowlog.Row
}

func newLatestPerStudent() *latestPerStudent {
	return &latestPerStudent{byID: make(map[string]rowlog.Row)}
}

func (l *latestPerStudent) offer(row rowlog.Row) {
	id := row.StudentID()
	existing, ok := l.byID[id]
	if !ok {
		l.order = append(l.order, id)
		l.byID[id] = row
		return
	}
	if row.Timestamp() > existing.Timestamp() {
		l.byID[id] = row
	}
}

func (l *latestPerStudent) rows() []rowlog.Row {
	out := make([]rowlog.Row, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byID[id])
	}
	return out
}
