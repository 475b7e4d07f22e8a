package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_RunsScheduledTask(t *testing.T) {
	m := NewManager()
	m.Start()
	defer m.Stop()

	var fired atomic.Bool
	err := m.Schedule("task-1", time.Now().Add(50*time.Millisecond), func() {
		fired.Store(true)
	})
	require.NoError(t, err)

	assert.Eventually(t, fired.Load, time.Second, 10*time.Millisecond)
	assert.Zero(t, m.Pending())
}

func TestManager_CancelPreventsExecution(t *testing.T) {
	m := NewManager()
	m.Start()
	defer m.Stop()

	var fired atomic.Bool
	require.NoError(t, m.Schedule("task-1", time.Now().Add(100*time.Millisecond), func() {
		fired.Store(true)
	}))

	assert.True(t, m.Cancel("task-1"))
	assert.False(t, m.Cancel("task-1"))

	time.Sleep(200 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestManager_RescheduleReplacesTask(t *testing.T) {
	m := NewManager()
	m.Start()
	defer m.Stop()

	var first, second atomic.Bool
	require.NoError(t, m.Schedule("daily", time.Now().Add(20*time.Millisecond), func() {
		first.Store(true)
	}))
	require.NoError(t, m.Schedule("daily", time.Now().Add(60*time.Millisecond), func() {
		second.Store(true)
	}))

	assert.Equal(t, 1, m.Pending())
	assert.Eventually(t, second.Load, time.Second, 10*time.Millisecond)
	assert.False(t, first.Load())
}

func TestManager_EarlierTaskWakesDispatcher(t *testing.T) {
	m := NewManager()
	m.Start()
	defer m.Stop()

	// A far-future task must not delay a later-scheduled near one.
	require.NoError(t, m.Schedule("far", time.Now().Add(time.Hour), func() {}))

	var fired atomic.Bool
	require.NoError(t, m.Schedule("near", time.Now().Add(30*time.Millisecond), func() {
		fired.Store(true)
	}))

	assert.Eventually(t, fired.Load, time.Second, 10*time.Millisecond)
}

func TestManager_ScheduleAfterStopFails(t *testing.T) {
	m := NewManager()
	m.Start()
	m.Stop()

	err := m.Schedule("task-1", time.Now().Add(time.Millisecond), func() {})
	assert.ErrorIs(t, err, ErrManagerStopped)
}
