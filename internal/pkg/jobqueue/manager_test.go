package jobqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestGetManager(t *testing.T) {
	// Reset the singleton for testing
	globalManager = nil
	managerOnce = sync.Once{}

	manager1 := GetManager()
	manager2 := GetManager()

	assert.NotNil(t, manager1)
	assert.Same(t, manager1, manager2, "GetManager should return the same instance")
	assert.NotNil(t, manager1.queue)
	assert.NotNil(t, manager1.stopCh)
	assert.False(t, manager1.running)
	assert.Same(t, manager1.queue, manager1.GetQueue())
}

func TestManager_StopWithoutStart(t *testing.T) {
	manager := NewManager(NewQueue(nil, Config{Workers: 1}))

	// Stop without starting should be safe
	assert.False(t, manager.IsRunning())
	manager.Stop()
	assert.False(t, manager.IsRunning())
}

func TestManager_AddTaskValidation(t *testing.T) {
	manager := NewManager(NewQueue(nil, Config{Workers: 1}))
	run := func(context.Context) error { return nil }

	assert.Error(t, manager.AddTask(PeriodicTask{Interval: time.Second, Run: run}))
	assert.Error(t, manager.AddTask(PeriodicTask{Name: "sweep", Run: run}))
	assert.Error(t, manager.AddTask(PeriodicTask{Name: "sweep", Interval: time.Second}))

	require.NoError(t, manager.AddTask(PeriodicTask{Name: "sweep", Interval: time.Second, Run: run}))
	assert.Error(t, manager.AddTask(PeriodicTask{Name: "sweep", Interval: time.Minute, Run: run}))
	assert.Len(t, manager.tasks, 1)
}

func TestManager_RunPeriodicUntilStopped(t *testing.T) {
	manager := NewManager(NewQueue(nil, Config{Workers: 1}))
	var calls int32
	task := PeriodicTask{
		Name:     "token_sweep",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			if atomic.AddInt32(&calls, 1) == 2 {
				return errors.New("db gone")
			}
			return nil
		},
	}

	stopCh := make(chan struct{})
	manager.wg.Add(1)
	go manager.runPeriodic(task, stopCh)

	assert.True(t, WaitForCondition(func() bool { return atomic.LoadInt32(&calls) >= 3 }, 2*time.Second),
		"a failing run must not stop the ticker")

	close(stopCh)
	manager.wg.Wait()
	after := atomic.LoadInt32(&calls)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&calls))
}

func TestManager_RunTaskOnce(t *testing.T) {
	manager := NewManager(NewQueue(nil, Config{Workers: 1}))
	ran := false
	require.NoError(t, manager.AddTask(PeriodicTask{
		Name:     "renewal_reminders",
		Interval: time.Hour,
		Run: func(context.Context) error {
			ran = true
			return nil
		},
	}))

	require.NoError(t, manager.RunTaskOnce("renewal_reminders"))
	assert.True(t, ran)
	assert.Error(t, manager.RunTaskOnce("missing"))
}
