// Package dashboard periodically aggregates the row log into the teacher's
// live view: the overload score, the request board, and a short score
// history for trend display.
package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"

	"classpulse/internal/aggregate"
	"classpulse/internal/logging"
	"classpulse/internal/rowlog"
)

// Config controls polling and scoring.
type Config struct {
	// PollInterval is how often the source is re-read.
	PollInterval time.Duration

	// Window is the recency window passed to aggregation.
	Window time.Duration

	// HistorySize is how many score samples the trend keeps.
	HistorySize int

	// FetchTimeout bounds one source read.
	FetchTimeout time.Duration

	Weights    aggregate.Weights
	Thresholds aggregate.Thresholds
}

// DefaultConfig returns the stock dashboard configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval: 30 * time.Second,
		Window:       5 * time.Minute,
		HistorySize:  20,
		FetchTimeout: 15 * time.Second,
		Weights:      aggregate.DefaultWeights(),
		Thresholds:   aggregate.DefaultThresholds(),
	}
}

// Snapshot is one refresh of the dashboard state.
type Snapshot struct {
	Result   aggregate.Result       `json:"result"`
	Requests aggregate.RequestBoard `json:"requests"`

	// History holds the most recent scores, oldest first.
	History []int `json:"history"`

	// UpdatedAt is when the source was last read successfully.
	UpdatedAt time.Time `json:"updated_at"`

	// Stale is set when the latest refresh failed and the snapshot still
	// shows older data.
	Stale bool `json:"stale"`

	// FetchErrors counts consecutive failed refreshes.
	FetchErrors int `json:"fetch_errors"`
}

// Poller drives periodic aggregation. Clock, Logger, and OnUpdate must be
// set before Start.
type Poller struct {
	// Clock is the time source. Defaults to the real clock.
	Clock quartz.Clock

	// Logger receives refresh diagnostics.
	Logger *logging.Logger

	// OnUpdate is called after every refresh, including failed ones. May
	// be nil.
	OnUpdate func(Snapshot)

	cfg    Config
	source rowlog.Source

	mu      sync.Mutex
	snap    Snapshot
	started bool
	cancel  context.CancelFunc
}

// New creates a poller over the given row source.
func New(source rowlog.Source, cfg Config) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultConfig().FetchTimeout
	}
	return &Poller{
		Clock:  quartz.NewReal(),
		Logger: logging.Default().WithComponent("dashboard"),
		cfg:    cfg,
		source: source,
	}
}

// Start refreshes once immediately, then keeps refreshing on the poll
// interval until the context is canceled.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.Refresh(ctx)

	p.Clock.TickerFunc(ctx, p.cfg.PollInterval, func() error {
		p.Refresh(ctx)
		return nil
	}, "dashboard")
}

// Stop halts polling.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// Snapshot returns the latest dashboard state.
func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Poller) snapshotLocked() Snapshot {
	out := p.snap
	out.History = make([]int, len(p.snap.History))
	copy(out.History, p.snap.History)
	return out
}

// Refresh reads the source and recomputes the view. Safe to call directly
// for an on-demand refresh.
func (p *Poller) Refresh(ctx context.Context) {
	fctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	rows, err := p.source.ReadAll(fctx)
	cancel()

	now := p.Clock.Now()

	p.mu.Lock()
	if err != nil {
		// Keep showing the previous data, flagged stale.
		p.snap.Stale = true
		p.snap.FetchErrors++
		errs := p.snap.FetchErrors
		snap := p.snapshotLocked()
		p.mu.Unlock()

		p.Logger.Warn("dashboard refresh failed",
			"error", err, "consecutive_failures", errs)
		if p.OnUpdate != nil {
			p.OnUpdate(snap)
		}
		return
	}

	result := aggregate.Compute(rows, now, p.cfg.Window, p.cfg.Weights, p.cfg.Thresholds)
	board := aggregate.Requests(rows, now, p.cfg.Window)

	p.snap.Result = result
	p.snap.Requests = board
	p.snap.UpdatedAt = now
	p.snap.Stale = false
	p.snap.FetchErrors = 0
	p.snap.History = append(p.snap.History, result.Score)
	if over := len(p.snap.History) - p.cfg.HistorySize; over > 0 {
		p.snap.History = p.snap.History[over:]
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.Logger.Debug("dashboard refreshed",
		"score", result.Score,
		"status", result.Status,
		"students", result.ActiveStudents)
	if p.OnUpdate != nil {
		p.OnUpdate(snap)
	}
}
