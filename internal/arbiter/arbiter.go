// Package arbiter elects a single active reporter among duplicate clients
// sharing one logical identity.
//
// Every client registers a participant record keyed by its logical id and
// heartbeats it on an interval. The participant with the oldest creation
// time wins; everyone else is told to stand down. Records whose heartbeat
// goes stale are swept, so a crashed winner is replaced within one timeout.
package arbiter

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"classpulse/internal/logging"
)

// Participant is one registered client for a logical identity.
type Participant struct {
	ID            string `json:"id"`
	LogicalID     string `json:"logical_id"`
	CreatedAt     int64  `json:"created_at_ms"`
	LastHeartbeat int64  `json:"last_heartbeat_ms"`
}

// Config controls heartbeat and staleness behavior.
type Config struct {
	// HeartbeatInterval is how often the participant refreshes its record
	// and re-evaluates the election.
	HeartbeatInterval time.Duration

	// StaleTimeout is how long a record may go without a heartbeat before
	// it is swept.
	StaleTimeout time.Duration
}

// DefaultConfig returns the stock arbitration timings.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		StaleTimeout:      15 * time.Second,
	}
}

// Arbiter runs the election for one participant. Clock, Logger, Notifier,
// and OnDemoted must be set before Start.
type Arbiter struct {
	// Clock is the time source. Defaults to the real clock.
	Clock quartz.Clock

	// Logger receives election diagnostics.
	Logger *logging.Logger

	// Notifier, when set, propagates roster changes to co-located
	// participants faster than the heartbeat interval. May be nil.
	Notifier *Notifier

	// OnDemoted is called once per detection cycle for as long as this
	// participant loses the election. May be nil.
	OnDemoted func()

	cfg   Config
	state State
	self  Participant

	mu       sync.Mutex
	primary  bool
	demoted  bool
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	notifyWG sync.WaitGroup
	unsub    func()
}

// New creates an arbiter for the given logical identity. The participant id
// is freshly generated; two arbiters never share one.
func New(state State, logicalID string, cfg Config) *Arbiter {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = DefaultConfig().StaleTimeout
	}
	return &Arbiter{
		Clock:  quartz.NewReal(),
		Logger: logging.Default().WithComponent("arbiter"),
		cfg:    cfg,
		state:  state,
		self: Participant{
			ID:        uuid.NewString(),
			LogicalID: logicalID,
		},
	}
}

// ID returns this participant's generated id.
func (a *Arbiter) ID() string { return a.self.ID }

// Start registers the participant and begins heartbeating. The first
// election result is available once Start returns.
func (a *Arbiter) Start(ctx context.Context) {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.self.CreatedAt = a.Clock.Now().UnixMilli()
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.cycle()
	if a.Notifier != nil {
		a.Notifier.Notify()
	}

	a.Clock.TickerFunc(ctx, a.cfg.HeartbeatInterval, func() error {
		a.cycle()
		return nil
	}, "arbiter")

	if a.Notifier != nil {
		ch, unsub := a.Notifier.Subscribe()
		a.unsub = unsub
		a.notifyWG.Add(1)
		go func() {
			defer a.notifyWG.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ch:
					a.cycle()
				}
			}
		}()
	}
}

// IsPrimary reports whether this participant currently holds the election.
func (a *Arbiter) IsPrimary() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.primary
}

// Stop deregisters the participant and halts heartbeating.
func (a *Arbiter) Stop() {
	a.mu.Lock()
	if !a.started || a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.mu.Unlock()

	a.cancel()
	if a.unsub != nil {
		a.unsub()
	}
	a.notifyWG.Wait()

	// Serialized with cycle so deregistration cannot lose to a late save.
	a.mu.Lock()
	err := a.state.Remove(a.self.LogicalID, a.self.ID)
	a.mu.Unlock()
	if err != nil {
		a.Logger.Warn("failed to deregister participant", "error", err)
	}
	if a.Notifier != nil {
		a.Notifier.Notify()
	}
}

// cycle refreshes the heartbeat, sweeps stale records, and re-evaluates the
// election. Serialized by the mutex so the ticker and notifier paths never
// interleave.
func (a *Arbiter) cycle() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}

	now := a.Clock.Now().UnixMilli()
	a.self.LastHeartbeat = now

	roster, err := a.state.Load(a.self.LogicalID)
	if err != nil {
		// Fail open: a broken state store must never silence reporting.
		a.Logger.Warn("participant state unreadable, assuming primary", "error", err)
		a.primary = true
		return
	}

	cutoff := now - a.cfg.StaleTimeout.Milliseconds()
	fresh := roster[:0]
	swept := 0
	for _, p := range roster {
		if p.ID == a.self.ID {
			continue
		}
		if p.LastHeartbeat < cutoff {
			swept++
			continue
		}
		fresh = append(fresh, p)
	}
	if swept > 0 {
		a.Logger.Info("swept stale participants", "count", swept)
	}
	fresh = append(fresh, a.self)

	if err := a.state.Save(a.self.LogicalID, fresh); err != nil {
		a.Logger.Warn("failed to save participant state", "error", err)
	}

	winner := electWinner(fresh)
	wasPrimary := a.primary
	a.primary = winner.ID == a.self.ID

	if !a.primary {
		if !a.demoted {
			a.demoted = true
			a.Logger.Info("duplicate participant detected, standing down",
				"winner_id", winner.ID,
				"winner_created_at", winner.CreatedAt)
		}
		// Fires every cycle while the duplicate is live; listeners are
		// expected to be idempotent.
		if a.OnDemoted != nil {
			cb := a.OnDemoted
			a.mu.Unlock()
			cb()
			a.mu.Lock()
		}
	} else {
		a.demoted = false
		if !wasPrimary {
			a.Logger.Debug("holding election", "participants", len(fresh))
		}
	}
}

// electWinner picks the oldest participant, breaking creation-time ties by
// lexicographically smallest id.
func electWinner(ps []Participant) Participant {
	sorted := make([]Participant, len(ps))
	copy(sorted, ps)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt != sorted[j].CreatedAt {
			return sorted[i].CreatedAt < sorted[j].CreatedAt
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted[0]
}
