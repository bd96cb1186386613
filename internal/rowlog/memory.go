package rowlog

import (
	"context"
	"strconv"
	"sync"

	"github.com/coder/quartz"
)

// Memory is an in-process row log. It backs tests and single-process class
// sessions where the student client and dashboard share one binary.
type Memory struct {
	// Clock stamps appended rows. Swapped for a mock in tests.
	Clock quartz.Clock

	mu   sync.RWMutex
	rows []Row
}

// NewMemory creates an empty in-memory row log.
func NewMemory() *Memory {
	return &Memory{Clock: quartz.NewReal()}
}

// Append stamps the record with the current epoch milliseconds and stores it.
func (m *Memory) Append(_ context.Context, rec Record) error {
	ts := strconv.FormatInt(m.Clock.Now().UnixMilli(), 10)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, rec.cells(ts))
	return nil
}

// ReadAll returns a copy of every row, oldest first.
func (m *Memory) ReadAll(_ context.Context) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Row, len(m.rows))
	copy(out, m.rows)
	return out, nil
}

// Len returns the number of appended rows.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}
