package cli

import (
	"bufio"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"classpulse/internal/arbiter"
	"classpulse/internal/config"
	"classpulse/internal/logging"
	"classpulse/internal/student"
	"classpulse/internal/submit"
	"classpulse/internal/telemetry"
)

// TrackOptions holds flags for the track command.
type TrackOptions struct {
	*RootOptions
	SessionID string
	StudentID string
}

// NewTrackCommand creates the track command.
func NewTrackCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TrackOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "track",
		Short: "Run a student reporting session",
		Long: `Run the student-side reporting session: track activity signals and
submit them periodically.

While running, commands are read from stdin:

  hand           toggle the raised hand
  ask <text>     send a question
  break          toggle the break request
  key [n]        record n keystrokes (default 1)
  tab            record a tab switch
  status         print reporting status and queue counters
  quit           stop the session

Example:
  classpulse track --session CS101 --student alice`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrack(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.SessionID, "session", "", "class session id (overrides config)")
	cmd.Flags().StringVar(&opts.StudentID, "student", "", "student id (overrides config)")

	return cmd
}

func runTrack(opts *TrackOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.SessionID != "" {
		cfg.Session.SessionID = opts.SessionID
	}
	if opts.StudentID != "" {
		cfg.Session.StudentID = opts.StudentID
	}
	if cfg.Session.SessionID == "" {
		return fmt.Errorf("no session id: set --session or session.session_id")
	}
	resolveStudentID(cfg)

	tracker, err := telemetry.New(cfg.Tracking.RollingWindowSize)
	if err != nil {
		return err
	}

	queue, closeTransport, err := buildQueue(cfg)
	if err != nil {
		return err
	}
	defer closeTransport()

	arb, err := buildArbiter(cfg)
	if err != nil {
		return err
	}

	sess := student.New(cfg, tracker, queue, arb)
	sess.OnStatusChange = func(st student.Status) {
		fmt.Fprintf(cmd.OutOrStdout(), "status: %s\n", st)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess.Start(ctx)
	defer sess.Stop()

	fmt.Fprintf(cmd.OutOrStdout(), "tracking session %s as %s\n",
		cfg.Session.SessionID, sess.StudentID())

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	handUp, breakOn := false, false
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				// stdin closed; keep reporting until signaled.
				<-ctx.Done()
				return nil
			}
			word, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
			switch word {
			case "":
			case "hand":
				handUp = !handUp
				sess.RaiseHand(handUp)
				fmt.Fprintf(cmd.OutOrStdout(), "hand %s\n", onOff(handUp))
			case "ask":
				sess.AskQuestion(rest)
			case "break":
				breakOn = !breakOn
				sess.RequestBreak(breakOn)
				fmt.Fprintf(cmd.OutOrStdout(), "break %s\n", onOff(breakOn))
			case "key":
				n := 1
				fmt.Sscanf(rest, "%d", &n)
				for i := 0; i < n; i++ {
					tracker.Keystroke()
				}
			case "tab":
				tracker.TabSwitch()
			case "status":
				stats := queue.Stats()
				fmt.Fprintf(cmd.OutOrStdout(),
					"status=%s delivered=%d failed=%d rate_limited=%d pending=%d\n",
					sess.Status(), stats.Delivered, stats.Failed,
					stats.RateLimited, stats.Pending)
			case "quit", "exit":
				return nil
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "unknown command %q\n", word)
			}
		}
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// buildQueue picks the transport from config: a hosted form endpoint when
// configured, the local row log otherwise.
func buildQueue(cfg *config.Config) (*submit.Queue, func() error, error) {
	qcfg := submit.Config{
		MaxPerWindow:   cfg.Submit.MaxPerWindow,
		Window:         time.Duration(cfg.Submit.RateWindowSec) * time.Second,
		AttemptTimeout: time.Duration(cfg.Submit.AttemptTimeoutSec) * time.Second,
		Retries:        cfg.Submit.Retries,
		RetryInterval:  time.Duration(cfg.Submit.RetryIntervalSec) * time.Second,
	}

	if cfg.Submit.FormURL != "" {
		transport := &submit.FormTransport{
			URL:    cfg.Submit.FormURL,
			Fields: cfg.Submit.Fields,
		}
		return submit.New(transport, qcfg), func() error { return nil }, nil
	}

	appender, closeFn, err := openAppender(cfg)
	if err != nil {
		return nil, nil, err
	}
	return submit.New(&submit.AppenderTransport{Log: appender}, qcfg), closeFn, nil
}

// resolveStudentID fills in a generated student id when the config leaves it
// empty. Arbitration keys on the effective id, so it must be fixed before the
// arbiter is built; otherwise every auto-id student in a session would share
// one logical identity.
func resolveStudentID(cfg *config.Config) {
	if cfg.Session.StudentID == "" {
		cfg.Session.StudentID = student.GenerateID()
	}
}

// arbiterLogicalID scopes arbitration to one student within one session.
func arbiterLogicalID(cfg *config.Config) string {
	return cfg.Session.SessionID + ":" + cfg.Session.StudentID
}

// buildArbiter sets up duplicate-client arbitration, file backed when a
// state directory is configured.
func buildArbiter(cfg *config.Config) (*arbiter.Arbiter, error) {
	logicalID := arbiterLogicalID(cfg)

	var state arbiter.State
	if cfg.Arbiter.StateDir != "" {
		fs, err := arbiter.NewFileState(cfg.Arbiter.StateDir)
		if err != nil {
			logging.Warn("arbiter state unavailable, using in-memory state", "error", err)
			state = arbiter.NewMemState()
		} else {
			state = fs
		}
	} else {
		state = arbiter.NewMemState()
	}

	acfg := arbiter.Config{
		HeartbeatInterval: time.Duration(cfg.Arbiter.HeartbeatSec) * time.Second,
		StaleTimeout:      time.Duration(cfg.Arbiter.StaleTimeoutSec) * time.Second,
	}
	return arbiter.New(state, logicalID, acfg), nil
}
