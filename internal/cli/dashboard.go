package cli

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"classpulse/internal/aggregate"
	"classpulse/internal/config"
	"classpulse/internal/dashboard"
	"classpulse/internal/timeparse"
)

// NewDashboardCommand creates the dashboard command.
func NewDashboardCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Run the live teacher dashboard",
		Long: `Poll the row log and print the class cognitive load score, active
student count, and pending requests on every refresh.

Example:
  classpulse dashboard --config classpulse.toml
  classpulse dashboard --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(rootOpts, cmd)
		},
	}
	return cmd
}

func runDashboard(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	source, closeFn, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	poller := dashboard.New(source, pollerConfig(cfg))
	poller.OnUpdate = func(snap dashboard.Snapshot) {
		printSnapshot(cmd, opts.Format, snap)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poller.Start(ctx)
	defer poller.Stop()

	<-ctx.Done()
	return nil
}

func pollerConfig(cfg *config.Config) dashboard.Config {
	return dashboard.Config{
		PollInterval: cfg.PollInterval(),
		Window:       cfg.Window(),
		HistorySize:  cfg.Dashboard.HistorySize,
		Weights: aggregate.Weights{
			TabSwitch:     cfg.Dashboard.Weights.TabSwitch,
			MouseVelocity: cfg.Dashboard.Weights.MouseVelocity,
			CopyPaste:     cfg.Dashboard.Weights.CopyPaste,
			Scroll:        cfg.Dashboard.Weights.Scroll,
			Keystroke:     cfg.Dashboard.Weights.Keystroke,
		},
		Thresholds: aggregate.Thresholds{
			Green:  cfg.Dashboard.Thresholds.Green,
			Yellow: cfg.Dashboard.Thresholds.Yellow,
		},
	}
}

func printSnapshot(cmd *cobra.Command, format string, snap dashboard.Snapshot) {
	out := cmd.OutOrStdout()

	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		enc.Encode(snap)
		return
	}

	r := snap.Result
	fmt.Fprintf(out, "[%s] score %d/100 (%s) - %s",
		snap.UpdatedAt.Format("15:04:05"), r.Score, r.Color, r.Message)
	if snap.Stale {
		fmt.Fprintf(out, " [stale, %d failed refreshes]", snap.FetchErrors)
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "  students: %d", r.ActiveStudents)
	if len(snap.History) > 1 {
		fmt.Fprintf(out, "  trend: %s", sparkline(snap.History))
	}
	fmt.Fprintln(out)

	now := snap.UpdatedAt
	for _, h := range snap.Requests.RaisedHands {
		fmt.Fprintf(out, "  hand up: %s (%s)\n", h.StudentID, timeparse.TimeAgo(h.Timestamp, now))
	}
	for _, q := range snap.Requests.Questions {
		fmt.Fprintf(out, "  question from %s: %s (%s)\n",
			q.StudentID, q.Question, timeparse.TimeAgo(q.Timestamp, now))
	}
	for _, b := range snap.Requests.BreakRequests {
		fmt.Fprintf(out, "  break requested: %s (%s)\n", b.StudentID, timeparse.TimeAgo(b.Timestamp, now))
	}
}

// sparkline renders the score history as a compact bar strip.
func sparkline(history []int) string {
	bars := []rune("▁▂▃▄▅▆▇█")
	var sb strings.Builder
	for _, v := range history {
		idx := v * (len(bars) - 1) / 100
		sb.WriteRune(bars[idx])
	}
	return sb.String()
}
