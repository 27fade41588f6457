package timersext

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/freitascorp/andromeda/pkg/hostdata"
	"github.com/freitascorp/andromeda/pkg/jsagent"
	"github.com/freitascorp/andromeda/pkg/jsagent/jsagenttest"
)

func countingCallback(calls *int) jsagenttest.Value {
	return jsagenttest.OfFunc(func(args []any) (any, error) {
		*calls++
		return nil, nil
	})
}

func TestManager_ScheduleAndFireOneShot(t *testing.T) {
	agent := jsagenttest.New()
	m := NewManager()
	var calls int

	id := m.Schedule(agent.HostData(), countingCallback(&calls), nil, time.Millisecond, false)
	require.NotZero(t, id)
	require.Equal(t, int64(1), agent.HostData().PendingTimers())

	runner := m.Runner(agent)
	select {
	case task := <-agent.HostData().Tasks():
		require.Equal(t, hostdata.KindRunAndClearTimeout, task.Kind)
		runner(task)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}

	require.Equal(t, 1, calls)
	require.Equal(t, int64(0), agent.HostData().PendingTimers())
	require.Equal(t, 0, m.Count())
}

func TestManager_ClearTimeoutPreventsFire(t *testing.T) {
	agent := jsagenttest.New()
	m := NewManager()
	var calls int

	id := m.Schedule(agent.HostData(), countingCallback(&calls), nil, 50*time.Millisecond, false)
	runner := m.Runner(agent)

	runner(hostdata.MacroTask{Kind: hostdata.KindClearTimeout, TimerID: id})
	require.Equal(t, int64(0), agent.HostData().PendingTimers())

	select {
	case task := <-agent.HostData().Tasks():
		runner(task)
	case <-time.After(200 * time.Millisecond):
	}
	require.Equal(t, 0, calls)
}

func TestManager_IntervalReschedulesUntilCleared(t *testing.T) {
	agent := jsagenttest.New()
	m := NewManager()
	var calls int

	id := m.Schedule(agent.HostData(), countingCallback(&calls), nil, time.Millisecond, true)
	runner := m.Runner(agent)

	for i := 0; i < 3; i++ {
		select {
		case task := <-agent.HostData().Tasks():
			require.Equal(t, hostdata.KindRunInterval, task.Kind)
			runner(task)
		case <-time.After(time.Second):
			t.Fatal("interval never fired")
		}
	}
	require.GreaterOrEqual(t, calls, 3)
	require.Equal(t, int64(1), agent.HostData().PendingTimers())

	runner(hostdata.MacroTask{Kind: hostdata.KindClearInterval, TimerID: id})
	require.Equal(t, int64(0), agent.HostData().PendingTimers())
	require.Equal(t, 0, m.Count())
}

func TestManager_CallbackReceivesExtraArgs(t *testing.T) {
	agent := jsagenttest.New()
	m := NewManager()
	var got []any

	cb := jsagenttest.OfFunc(func(args []any) (any, error) {
		got = args
		return nil, nil
	})

	id := m.Schedule(agent.HostData(), cb, []jsagent.Value{jsagenttest.Of("a"), jsagenttest.Of(float64(1))}, time.Millisecond, false)
	runner := m.Runner(agent)

	task := <-agent.HostData().Tasks()
	runner(task)

	require.Equal(t, []any{"a", float64(1)}, got)
	_ = id
}
