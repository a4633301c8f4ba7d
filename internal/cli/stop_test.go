package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		assert.True(t, hasCommand(GetRootCmd(), "stop"), "stop command should exist")
	})

	t.Run("help text", func(t *testing.T) {
		output, err := execute(t, "", "stop", "--help")
		require.NoError(t, err)

		assert.Contains(t, output, "Stop the Companion service gracefully")
		assert.Contains(t, output, "timeout")
	})

	t.Run("should fail when nothing is running", func(t *testing.T) {
		path, _ := writeTestConfig(t, "http://127.0.0.1:1")

		_, err := execute(t, "", "stop", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not running")
	})
}
