package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_InvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "xml", "trace", "dump", "nope.lft"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmd := NewRootCommand()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["trace"])
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "boom")))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
}
