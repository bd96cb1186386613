package dashboard

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classpulse/internal/aggregate"
	"classpulse/internal/rowlog"
)

// fakeSource serves a fixed set of rows and can be made to fail.
type fakeSource struct {
	mu   sync.Mutex
	rows []rowlog.Row
	err  error
}

func (f *fakeSource) ReadAll(ctx context.Context) ([]rowlog.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]rowlog.Row, len(f.rows))
	copy(out, f.rows)
	return out, nil
}

func (f *fakeSource) set(rows []rowlog.Row, err error) {
	f.mu.Lock()
	f.rows, f.err = rows, err
	f.mu.Unlock()
}

// row builds a full telemetry row stamped at the given time.
func row(ts time.Time, student string, keystrokes int, raiseHand bool) rowlog.Row {
	hand := "No"
	if raiseHand {
		hand = "Yes"
	}
	return rowlog.Row{
		strconv.FormatInt(ts.UnixMilli(), 10),
		"CS101",
		student,
		strconv.Itoa(keystrokes),
		"0", "0", "0", "0",
		hand, "", "No",
	}
}

func testPoller(t *testing.T, src rowlog.Source) (*Poller, *quartz.Mock) {
	t.Helper()
	mock := quartz.NewMock(t)
	p := New(src, Config{
		PollInterval: 30 * time.Second,
		Window:       5 * time.Minute,
		HistorySize:  3,
		FetchTimeout: time.Second,
		Weights:      aggregate.DefaultWeights(),
		Thresholds:   aggregate.DefaultThresholds(),
	})
	p.Clock = mock
	return p, mock
}

func TestImmediateRefreshOnStart(t *testing.T) {
	mockNow := quartz.NewMock(t).Now()
	src := &fakeSource{rows: []rowlog.Row{
		row(mockNow, "s-1", 100, true),
		row(mockNow, "s-2", 50, false),
	}}

	p, _ := testPoller(t, src)
	p.Start(context.Background())
	defer p.Stop()

	snap := p.Snapshot()
	assert.Equal(t, 2, snap.Result.ActiveStudents)
	require.Len(t, snap.Requests.RaisedHands, 1)
	assert.Equal(t, "s-1", snap.Requests.RaisedHands[0].StudentID)
	assert.False(t, snap.Stale)
	assert.Len(t, snap.History, 1)
}

func TestHistoryIsBounded(t *testing.T) {
	src := &fakeSource{}
	p, _ := testPoller(t, src)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		p.Refresh(ctx)
	}

	assert.Len(t, p.Snapshot().History, 3)
}

func TestFailedRefreshKeepsLastDataStale(t *testing.T) {
	mockNow := quartz.NewMock(t).Now()
	src := &fakeSource{rows: []rowlog.Row{row(mockNow, "s-1", 10, false)}}

	p, _ := testPoller(t, src)
	ctx := context.Background()
	p.Refresh(ctx)

	src.set(nil, errors.New("export unreachable"))
	p.Refresh(ctx)
	p.Refresh(ctx)

	snap := p.Snapshot()
	assert.True(t, snap.Stale, "failed refresh not flagged stale")
	assert.Equal(t, 2, snap.FetchErrors)
	assert.Equal(t, 1, snap.Result.ActiveStudents, "stale snapshot lost previous data")

	// Recovery clears the stale flag and the failure streak.
	src.set([]rowlog.Row{row(mockNow, "s-1", 10, false)}, nil)
	p.Refresh(ctx)
	snap = p.Snapshot()
	assert.False(t, snap.Stale)
	assert.Zero(t, snap.FetchErrors)
}

func TestPeriodicRefresh(t *testing.T) {
	src := &fakeSource{}
	p, mock := testPoller(t, src)

	var mu sync.Mutex
	updates := 0
	p.OnUpdate = func(Snapshot) {
		mu.Lock()
		updates++
		mu.Unlock()
	}

	ctx := context.Background()
	p.Start(ctx)
	defer p.Stop()

	mock.Advance(30 * time.Second).MustWait(ctx)

	mu.Lock()
	got := updates
	mu.Unlock()
	assert.Equal(t, 2, got, "want startup refresh plus one tick")
}

func TestEmptySourceReportsNoData(t *testing.T) {
	p, _ := testPoller(t, &fakeSource{})
	p.Refresh(context.Background())

	assert.Equal(t, aggregate.StatusNoData, p.Snapshot().Result.Status)
}
