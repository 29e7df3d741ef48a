// Package logging provides cco's logging infrastructure built on
// charmbracelet/log.
//
// All log output goes to stderr; stdout is reserved for structured output
// consumed by the hosting CI platform (output variables, JSON). Each package
// obtains a component-prefixed logger via New.
//
// Setup must be called before New so that child loggers inherit the correct
// level and formatter. charmbracelet/log copies state at creation time; later
// changes to the default logger do not propagate to existing children.
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Setup configures the global logging defaults. Call once at process start.
//
// verbose sets the level to Debug. jsonFormat switches to NDJSON output,
// which is what CI log aggregation expects from a reactor invocation.
func Setup(verbose, jsonFormat bool) {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}

	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	if jsonFormat {
		log.SetFormatter(log.JSONFormatter)
	} else {
		log.SetFormatter(log.TextFormatter)
	}
}

// New creates a logger with the given component prefix.
//
//	logger := logging.New("state")
//	logger.Info("saved", "branch", workBranch)
func New(component string) *log.Logger {
	return log.WithPrefix(component)
}

// SetOutput overrides the output writer for the default logger.
// Primarily useful in tests to capture output with a bytes.Buffer.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}
