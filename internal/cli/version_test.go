package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCmd_DefaultsWhenUnset(t *testing.T) {
	app := New()
	var out bytes.Buffer
	app.rootCmd.SetOut(&out)
	app.rootCmd.SetArgs([]string{"version"})

	require.NoError(t, app.Execute())
	assert.Contains(t, out.String(), "cco version dev")
	assert.Contains(t, out.String(), "commit: unknown")
}

func TestVersionCmd_ShowsBuildInfo(t *testing.T) {
	app := New()
	app.SetVersion("1.2.3", "abcdef0", "2025-06-01")
	var out bytes.Buffer
	app.rootCmd.SetOut(&out)
	app.rootCmd.SetArgs([]string{"version"})

	require.NoError(t, app.Execute())
	assert.Contains(t, out.String(), "cco version 1.2.3")
	assert.Contains(t, out.String(), "commit: abcdef0")
	assert.Contains(t, out.String(), "built: 2025-06-01")
}

func TestStatusCmd_RequiresIssue(t *testing.T) {
	app := New()
	app.rootCmd.SetArgs([]string{"status"})
	err := app.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--issue")
}

func TestRootCmd_HasExpectedSubcommands(t *testing.T) {
	app := New()
	var names []string
	for _, c := range app.rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"handle", "watchdog", "status", "watch", "version"} {
		assert.Contains(t, names, want)
	}
}
