package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"classpulse/internal/aggregate"
	"classpulse/internal/dashboard"
)

// NewScoreCommand creates the score command.
func NewScoreCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute the class score once and exit",
		Long: `Read the row log once, compute the cognitive load score and the
pending-request board, print them, and exit. Useful for scripting and
for spot checks without a running dashboard.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(rootOpts, cmd)
		},
	}
	return cmd
}

func runScore(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	source, closeFn, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	rows, err := source.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("read row log: %w", err)
	}

	pcfg := pollerConfig(cfg)
	now := time.Now()
	result := aggregate.Compute(rows, now, pcfg.Window, pcfg.Weights, pcfg.Thresholds)
	board := aggregate.Requests(rows, now, pcfg.Window)

	if opts.Format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Result   aggregate.Result       `json:"result"`
			Requests aggregate.RequestBoard `json:"requests"`
		}{result, board})
	}

	printSnapshot(cmd, opts.Format, dashboard.Snapshot{
		Result:    result,
		Requests:  board,
		UpdatedAt: now,
	})
	return nil
}
