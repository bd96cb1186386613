// Package config handles configuration loading, validation, and hot
// reloading for classpulse.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Config holds the complete classpulse configuration.
type Config struct {
	// Session identifies this student client.
	Session SessionConfig `toml:"session" json:"session" yaml:"session"`

	// Submit controls the submission pipeline.
	Submit SubmitConfig `toml:"submit" json:"submit" yaml:"submit"`

	// Arbiter controls duplicate-client arbitration.
	Arbiter ArbiterConfig `toml:"arbiter" json:"arbiter" yaml:"arbiter"`

	// Tracking controls local activity accumulation.
	Tracking TrackingConfig `toml:"tracking" json:"tracking" yaml:"tracking"`

	// Dashboard controls the teacher-side aggregation view.
	Dashboard DashboardConfig `toml:"dashboard" json:"dashboard" yaml:"dashboard"`

	// Storage selects the local row log backend.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// SessionConfig identifies the student and paces periodic reporting.
type SessionConfig struct {
	// SessionID is the class session code, e.g. "CS101-mon".
	SessionID string `toml:"session_id" json:"session_id" yaml:"session_id"`

	// StudentID identifies the student. Generated when empty.
	StudentID string `toml:"student_id" json:"student_id" yaml:"student_id"`

	// UpdateIntervalSec is the base interval between periodic reports.
	UpdateIntervalSec int `toml:"update_interval_sec" json:"update_interval_sec" yaml:"update_interval_sec"`

	// JitterPct spreads the interval by +/- this fraction so a classroom
	// of clients does not report in lockstep.
	JitterPct float64 `toml:"jitter_pct" json:"jitter_pct" yaml:"jitter_pct"`

	// InitialDelayMinSec and InitialDelayMaxSec bound the random delay
	// before the first report.
	InitialDelayMinSec int `toml:"initial_delay_min_sec" json:"initial_delay_min_sec" yaml:"initial_delay_min_sec"`
	InitialDelayMaxSec int `toml:"initial_delay_max_sec" json:"initial_delay_max_sec" yaml:"initial_delay_max_sec"`
}

// SubmitConfig controls delivery and client-side rate limiting.
type SubmitConfig struct {
	// FormURL is the hosted form endpoint. Empty selects local storage.
	FormURL string `toml:"form_url" json:"form_url" yaml:"form_url"`

	// Fields maps logical field names to the form's field keys.
	Fields map[string]string `toml:"fields" json:"fields" yaml:"fields"`

	// MaxPerWindow is how many submissions are accepted per rate window.
	MaxPerWindow int `toml:"max_per_window" json:"max_per_window" yaml:"max_per_window"`

	// RateWindowSec is the sliding rate window length.
	RateWindowSec int `toml:"rate_window_sec" json:"rate_window_sec" yaml:"rate_window_sec"`

	// AttemptTimeoutSec bounds a single delivery attempt.
	AttemptTimeoutSec int `toml:"attempt_timeout_sec" json:"attempt_timeout_sec" yaml:"attempt_timeout_sec"`

	// Retries is the number of extra attempts after a failed delivery.
	Retries int `toml:"retries" json:"retries" yaml:"retries"`

	// RetryIntervalSec is the pause between attempts.
	RetryIntervalSec int `toml:"retry_interval_sec" json:"retry_interval_sec" yaml:"retry_interval_sec"`
}

// ArbiterConfig controls duplicate-client detection.
type ArbiterConfig struct {
	// StateDir holds per-identity participant rosters.
	StateDir string `toml:"state_dir" json:"state_dir" yaml:"state_dir"`

	// HeartbeatSec is the participant heartbeat interval.
	HeartbeatSec int `toml:"heartbeat_sec" json:"heartbeat_sec" yaml:"heartbeat_sec"`

	// StaleTimeoutSec is how long a silent participant survives before
	// being swept.
	StaleTimeoutSec int `toml:"stale_timeout_sec" json:"stale_timeout_sec" yaml:"stale_timeout_sec"`
}

// TrackingConfig controls local signal accumulation.
type TrackingConfig struct {
	// RollingWindowSize is the sample count for velocity averages.
	RollingWindowSize int `toml:"rolling_window_size" json:"rolling_window_size" yaml:"rolling_window_size"`
}

// DashboardConfig controls the teacher-side poller and scoring.
type DashboardConfig struct {
	// SpreadsheetID and SheetName locate a published spreadsheet export.
	SpreadsheetID string `toml:"spreadsheet_id" json:"spreadsheet_id" yaml:"spreadsheet_id"`
	SheetName     string `toml:"sheet_name" json:"sheet_name" yaml:"sheet_name"`

	// PollIntervalSec is how often the dashboard refreshes.
	PollIntervalSec int `toml:"poll_interval_sec" json:"poll_interval_sec" yaml:"poll_interval_sec"`

	// WindowSec is the recency window for aggregation.
	WindowSec int `toml:"window_sec" json:"window_sec" yaml:"window_sec"`

	// HistorySize is how many score samples the trend keeps.
	HistorySize int `toml:"history_size" json:"history_size" yaml:"history_size"`

	// Weights scale each activity signal in the overload score.
	Weights WeightsConfig `toml:"weights" json:"weights" yaml:"weights"`

	// Thresholds split the score into green, yellow, and red bands.
	Thresholds ThresholdsConfig `toml:"thresholds" json:"thresholds" yaml:"thresholds"`
}

// WeightsConfig scales the activity signals.
type WeightsConfig struct {
	TabSwitch     float64 `toml:"tab_switch" json:"tab_switch" yaml:"tab_switch"`
	MouseVelocity float64 `toml:"mouse_velocity" json:"mouse_velocity" yaml:"mouse_velocity"`
	CopyPaste     float64 `toml:"copy_paste" json:"copy_paste" yaml:"copy_paste"`
	Scroll        float64 `toml:"scroll" json:"scroll" yaml:"scroll"`
	Keystroke     float64 `toml:"keystroke" json:"keystroke" yaml:"keystroke"`
}

// ThresholdsConfig splits scores into bands. Scores below Green are calm,
// below Yellow are a warning, and at or above Yellow are an overload.
type ThresholdsConfig struct {
	Green  float64 `toml:"green" json:"green" yaml:"green"`
	Yellow float64 `toml:"yellow" json:"yellow" yaml:"yellow"`
}

// StorageConfig selects the local row log backend.
type StorageConfig struct {
	// Type is "memory" or "sqlite".
	Type string `toml:"type" json:"type" yaml:"type"`

	// Path is the database file for sqlite.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration as strings; the logging
// package parses them.
type LoggingConfig struct {
	Level    string `toml:"level" json:"level" yaml:"level"`
	Format   string `toml:"format" json:"format" yaml:"format"`
	Output   string `toml:"output" json:"output" yaml:"output"`
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			UpdateIntervalSec:  30,
			JitterPct:          0.10,
			InitialDelayMinSec: 2,
			InitialDelayMaxSec: 5,
		},
		Submit: SubmitConfig{
			MaxPerWindow:      10,
			RateWindowSec:     60,
			AttemptTimeoutSec: 10,
			Retries:           1,
			RetryIntervalSec:  2,
		},
		Arbiter: ArbiterConfig{
			HeartbeatSec:    5,
			StaleTimeoutSec: 15,
		},
		Tracking: TrackingConfig{
			RollingWindowSize: 10,
		},
		Dashboard: DashboardConfig{
			SheetName:       "Form Responses 1",
			PollIntervalSec: 30,
			WindowSec:       300,
			HistorySize:     20,
			Weights: WeightsConfig{
				TabSwitch:     15,
				MouseVelocity: 0.1,
				CopyPaste:     12,
				Scroll:        0.05,
				Keystroke:     0.5,
			},
			Thresholds: ThresholdsConfig{
				Green:  50,
				Yellow: 75,
			},
		},
		Storage: StorageConfig{
			Type: "memory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// ApplyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over file values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CLASSPULSE_SESSION_ID"); v != "" {
		c.Session.SessionID = v
	}
	if v := os.Getenv("CLASSPULSE_STUDENT_ID"); v != "" {
		c.Session.StudentID = v
	}
	if v := os.Getenv("CLASSPULSE_FORM_URL"); v != "" {
		c.Submit.FormURL = v
	}
	if v := os.Getenv("CLASSPULSE_SPREADSHEET_ID"); v != "" {
		c.Dashboard.SpreadsheetID = v
	}
	if v := os.Getenv("CLASSPULSE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	var errs []error

	if c.Session.UpdateIntervalSec <= 0 {
		errs = append(errs, errors.New("session: update_interval_sec must be positive"))
	}
	if c.Session.JitterPct < 0 || c.Session.JitterPct > 1 {
		errs = append(errs, errors.New("session: jitter_pct must be between 0 and 1"))
	}
	if c.Session.InitialDelayMinSec < 0 {
		errs = append(errs, errors.New("session: initial_delay_min_sec must not be negative"))
	}
	if c.Session.InitialDelayMaxSec < c.Session.InitialDelayMinSec {
		errs = append(errs, errors.New("session: initial_delay_max_sec must not be below initial_delay_min_sec"))
	}

	if c.Submit.MaxPerWindow <= 0 {
		errs = append(errs, errors.New("submit: max_per_window must be positive"))
	}
	if c.Submit.RateWindowSec <= 0 {
		errs = append(errs, errors.New("submit: rate_window_sec must be positive"))
	}
	if c.Submit.Retries < 0 {
		errs = append(errs, errors.New("submit: retries must not be negative"))
	}

	if c.Arbiter.HeartbeatSec <= 0 {
		errs = append(errs, errors.New("arbiter: heartbeat_sec must be positive"))
	}
	if c.Arbiter.StaleTimeoutSec <= c.Arbiter.HeartbeatSec {
		errs = append(errs, errors.New("arbiter: stale_timeout_sec must exceed heartbeat_sec"))
	}

	if c.Tracking.RollingWindowSize < 1 {
		errs = append(errs, errors.New("tracking: rolling_window_size must be at least 1"))
	}

	if c.Dashboard.PollIntervalSec <= 0 {
		errs = append(errs, errors.New("dashboard: poll_interval_sec must be positive"))
	}
	if c.Dashboard.WindowSec <= 0 {
		errs = append(errs, errors.New("dashboard: window_sec must be positive"))
	}
	if c.Dashboard.Thresholds.Green >= c.Dashboard.Thresholds.Yellow {
		errs = append(errs, errors.New("dashboard: thresholds.green must be below thresholds.yellow"))
	}

	switch c.Storage.Type {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage: path required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage: unknown type %q", c.Storage.Type))
	}

	return errors.Join(errs...)
}

// UpdateInterval returns the periodic report interval as a duration.
func (c *Config) UpdateInterval() time.Duration {
	return time.Duration(c.Session.UpdateIntervalSec) * time.Second
}

// PollInterval returns the dashboard refresh interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Dashboard.PollIntervalSec) * time.Second
}

// Window returns the aggregation recency window as a duration.
func (c *Config) Window() time.Duration {
	return time.Duration(c.Dashboard.WindowSec) * time.Second
}
