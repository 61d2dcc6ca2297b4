package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		assert.True(t, findCommand(t, "serve"), "serve command should exist")
	})

	t.Run("help text", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"serve", "--help"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		helpText := output.String()
		assert.Contains(t, helpText, "gateway")
		assert.Contains(t, helpText, "foreground")
	})

	t.Run("fails without an api key", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"serve"})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})

		err := cmd.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize core modules")
	})
}
