package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coderelay/cco/internal/config"
)

// NewWatchdogCmd creates the watchdog command, run on a schedule to resume
// stalled orchestrations.
func NewWatchdogCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "watchdog",
		Short: "Scan live orchestrations for stalled records and resume them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("configuration: %w", err)
			}

			orc, err := buildOrchestrator(cfg)
			if err != nil {
				return err
			}
			return orc.CheckStalled(context.Background())
		},
	}
}
