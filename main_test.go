package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCLICommandDispatch(t *testing.T) {
	// Every dispatch key must build a command whose name matches the key,
	// otherwise help output and dispatch disagree.
	for name, newCmd := range cliCommands {
		cmd := newCmd()
		require.NotNil(t, cmd, "constructor for %q returned nil", name)
		assert.Equal(t, name, cmd.Use)
	}
}

func TestCLICommandFamilies(t *testing.T) {
	for _, family := range []string{"detections", "alerts", "allowlist", "events", "users"} {
		assert.Contains(t, cliCommands, family)
	}
}
