// Package cli wires the cco commands: the event reactor entrypoint used
// from CI, the watchdog, and local status inspection.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/coderelay/cco/internal/logging"
)

// App is the CLI application with its wired dependencies.
type App struct {
	rootCmd *cobra.Command

	verbose bool
	jsonLog bool

	version string
	commit  string
	date    string
}

// New creates the CLI application.
func New() *App {
	app := &App{}
	app.setupRootCmd()
	return app
}

// Execute runs the CLI application.
func (a *App) Execute() error {
	return a.rootCmd.Execute()
}

// SetVersion sets the build information shown by the version command.
func (a *App) SetVersion(version, commit, date string) {
	a.version = version
	a.commit = commit
	a.date = date
}

func (a *App) setupRootCmd() {
	a.rootCmd = &cobra.Command{
		Use:   "cco",
		Short: "Autonomous code-change orchestrator",
		Long: `cco reacts to repository events (labeled issues, pushes, pull request
reviews and merges) and drives a hierarchy of LLM coding agents to
implement the change, one short-lived invocation per event.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(a.verbose, a.jsonLog)
		},
	}

	a.rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false,
		"Verbose output")
	a.rootCmd.PersistentFlags().BoolVar(&a.jsonLog, "json-log", false,
		"Emit NDJSON logs for CI aggregation")

	a.rootCmd.AddCommand(
		NewHandleCmd(a),
		NewWatchdogCmd(a),
		NewStatusCmd(a),
		NewWatchCmd(a),
		NewVersionCmd(a),
	)
}
