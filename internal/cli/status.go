package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/coderelay/cco/internal/cli/tui"
	"github.com/coderelay/cco/internal/config"
	"github.com/coderelay/cco/internal/state"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	Issue int
	JSON  bool
}

// NewStatusCmd creates the status command.
func NewStatusCmd(app *App) *cobra.Command {
	var opts StatusOptions

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the orchestration status for an issue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Issue <= 0 {
				return fmt.Errorf("--issue is required")
			}
			cfg, err := config.LoadForQuery()
			if err != nil {
				return fmt.Errorf("configuration: %w", err)
			}
			return showStatus(cmd.Context(), cfg, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVarP(&opts.Issue, "issue", "i", 0, "Issue number")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Output the raw state document as JSON")
	return cmd
}

func showStatus(ctx context.Context, cfg *config.Config, opts StatusOptions, out io.Writer) error {
	_, store := buildQueryDeps(cfg)

	wb, err := store.FindWorkBranchForIssue(ctx, opts.Issue)
	if err != nil {
		return err
	}
	if wb == "" {
		return fmt.Errorf("no orchestration found for issue #%d", opts.Issue)
	}
	s, err := store.Load(ctx, wb)
	if err != nil {
		return err
	}

	if opts.JSON {
		return writeJSONStatus(out, s)
	}
	fmt.Fprint(out, tui.RenderStatus(s, terminalWidth()))
	return nil
}

func writeJSONStatus(out io.Writer, s *state.OrchestrationState) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}
