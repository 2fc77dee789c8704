// File: cmd/cmd_test.go

package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/visaflow-cli/internal/config"
)

// execRoot runs the root command with the given args and returns everything
// written to its output stream. The version and help flags short-circuit in
// cobra before any hooks, so these runs never touch config loading.
func execRoot(t *testing.T, args ...string) string {
	t.Helper()

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	return buf.String()
}

func TestVersionFlagPrintsBareVersion(t *testing.T) {
	out := execRoot(t, "--version")
	assert.Equal(t, Version+"\n", out)
}

func TestHelpListsFlowCommands(t *testing.T) {
	out := execRoot(t, "--help")

	assert.Contains(t, out, "Drives visa-portal account registration and login")
	for _, name := range []string{"register", "login", "countries", "test"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "--country")
	assert.Contains(t, out, "--config")
}

func TestSubcommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"register", "login", "countries", "test"} {
		assert.True(t, names[want], "command %q not registered", want)
	}
}

func TestResolveCountryPrefersFlag(t *testing.T) {
	cfg := &config.Config{}
	cfg.Registry.DefaultCountry = "nld"

	country = ""
	t.Cleanup(func() { country = "" })
	assert.Equal(t, "nld", resolveCountry(cfg))

	country = "aut"
	assert.Equal(t, "aut", resolveCountry(cfg))
}
