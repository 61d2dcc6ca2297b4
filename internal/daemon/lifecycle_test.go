package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFilePath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	path, err := PIDFilePath()
	require.NoError(t, err)
	assert.Contains(t, path, ".flexygent")
	assert.Equal(t, PIDFileName, filepath.Base(path))
}

func TestReadPID(t *testing.T) {
	t.Run("should read a written PID", func(t *testing.T) {
		pidFile := filepath.Join(t.TempDir(), "test.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte("12345\n"), 0o644))

		pid, err := ReadPID(pidFile)
		require.NoError(t, err)
		assert.Equal(t, 12345, pid)
	})

	t.Run("should reject garbage", func(t *testing.T) {
		pidFile := filepath.Join(t.TempDir(), "test.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte("not-a-pid"), 0o644))

		_, err := ReadPID(pidFile)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid PID file")
	})

	t.Run("should report a missing file", func(t *testing.T) {
		_, err := ReadPID(filepath.Join(t.TempDir(), "missing.pid"))
		assert.Error(t, err)
	})
}

func TestProcessRunning(t *testing.T) {
	assert.True(t, ProcessRunning(os.Getpid()))
	assert.False(t, ProcessRunning(0))
	assert.False(t, ProcessRunning(-1))
	// Far above any real pid_max.
	assert.False(t, ProcessRunning(99999999))
}

func TestLifecycleManager(t *testing.T) {
	dataDir := t.TempDir()
	d := &Daemon{dataDir: dataDir, logger: zerolog.Nop()}
	lifecycle := NewLifecycleManager(d)

	require.NoError(t, lifecycle.Start())

	data, err := os.ReadFile(filepath.Join(dataDir, PIDFileName))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	pid, err := lifecycle.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, lifecycle.IsRunning())

	require.NoError(t, lifecycle.Stop())
	_, err = os.Stat(filepath.Join(dataDir, PIDFileName))
	assert.True(t, os.IsNotExist(err))
	assert.False(t, lifecycle.IsRunning())

	// Stopping twice tolerates the missing file.
	require.NoError(t, lifecycle.Stop())
}
