package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coderelay/cco/internal/config"
)

// NewHandleCmd creates the handle command, the reactor entrypoint invoked
// by the hosting CI platform once per event.
func NewHandleCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "handle",
		Short: "Handle one repository event",
		Long: `Load the event from the environment, advance the orchestration by at
most one step, persist state, and exit. Soft failures are surfaced on the
issue's progress comment and still exit 0; only configuration errors and
unrecoverable state corruption exit non-zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("configuration: %w", err)
			}

			orc, err := buildOrchestrator(cfg)
			if err != nil {
				return err
			}
			return orc.HandleEvent(context.Background(), cfg.Event)
		},
	}
}
