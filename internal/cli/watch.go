package cli

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/coderelay/cco/internal/cli/tui"
	"github.com/coderelay/cco/internal/config"
	"github.com/coderelay/cco/internal/state"
)

const defaultWatchInterval = 15 * time.Second

// NewWatchCmd creates the watch command: a live view of one orchestration.
func NewWatchCmd(app *App) *cobra.Command {
	var issue int
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch an orchestration's progress live",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if issue <= 0 {
				return fmt.Errorf("--issue is required")
			}
			cfg, err := config.LoadForQuery()
			if err != nil {
				return fmt.Errorf("configuration: %w", err)
			}

			_, store := buildQueryDeps(cfg)
			fetch := func(ctx context.Context) (*state.OrchestrationState, error) {
				wb, err := store.FindWorkBranchForIssue(ctx, issue)
				if err != nil {
					return nil, err
				}
				if wb == "" {
					return nil, fmt.Errorf("no orchestration found for issue #%d", issue)
				}
				return store.Load(ctx, wb)
			}

			model := tui.NewModel(fetch, interval)
			_, err = tea.NewProgram(model).Run()
			return err
		},
	}

	cmd.Flags().IntVarP(&issue, "issue", "i", 0, "Issue number")
	cmd.Flags().DurationVar(&interval, "interval", defaultWatchInterval, "Poll interval")
	return cmd
}
