package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/face_mon/internal/infra"
)

func TestAcquireInstance_RefusedWhileMonitorRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facemon.pid.json")
	alive := func(int) bool { return true }
	monitor := infra.NewInstanceGuardWithPath(path, alive)
	require.NoError(t, monitor.Acquire(infra.InstanceInfo{PID: os.Getpid() + 1}))

	release, err := acquireInstance(infra.NewInstanceGuardWithPath(path, alive), true, zap.NewNop())
	assert.ErrorIs(t, err, infra.ErrAlreadyRunning)
	assert.Nil(t, release)

	info, err := monitor.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid()+1, info.PID, "running monitor keeps ownership")
}

func TestAcquireInstance_ReleaseFreesDataDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facemon.pid.json")
	guard := infra.NewInstanceGuardWithPath(path, func(int) bool { return true })

	release, err := acquireInstance(guard, false, zap.NewNop())
	require.NoError(t, err)
	info, ok := guard.Running()
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), info.PID)
	assert.Equal(t, Version, info.Version)

	release()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
