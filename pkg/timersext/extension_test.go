package timersext

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/freitascorp/andromeda/pkg/hostdata"
	"github.com/freitascorp/andromeda/pkg/jsagent"
	"github.com/freitascorp/andromeda/pkg/jsagent/jsagenttest"
)

func newWiredAgent(t *testing.T) (*jsagenttest.Agent, map[string]jsagent.NativeFunction) {
	t.Helper()
	agent := jsagenttest.New()
	ext := NewExtension()
	require.NoError(t, ext.StorageInit(agent))

	ops := make(map[string]jsagent.NativeFunction, len(ext.Ops))
	for _, op := range ext.Ops {
		ops[op.Name] = op.Handler
	}
	return agent, ops
}

// runUntilQuiescent drives every posted macro-task through the stored
// Manager's Runner, standing in for eventloop.Loop in these tests.
func runUntilQuiescent(t *testing.T, agent *jsagenttest.Agent, runner func(hostdata.MacroTask), timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for agent.HostData().PendingTimers() > 0 || agent.HostData().PendingTasks() {
		select {
		case task := <-agent.HostData().Tasks():
			runner(task)
		case <-deadline:
			t.Fatal("timed out waiting for timers to quiesce")
		}
	}
}

func TestExtension_SetTimeoutFiresCallback(t *testing.T) {
	agent, ops := newWiredAgent(t)
	m, ok := hostdata.Get[*Manager](agent.HostData())
	require.True(t, ok)
	runner := m.Runner(agent)

	var fired bool
	cb := jsagenttest.OfFunc(func(args []any) (any, error) {
		fired = true
		return nil, nil
	})

	idVal, err := ops["setTimeout"](agent, nil, []jsagent.Value{cb, jsagenttest.Of(float64(1))})
	require.NoError(t, err)
	require.NotZero(t, idVal.Export())

	runUntilQuiescent(t, agent, runner, time.Second)
	require.True(t, fired)
}

func TestExtension_ClearTimeoutPreventsFire(t *testing.T) {
	agent, ops := newWiredAgent(t)
	m, ok := hostdata.Get[*Manager](agent.HostData())
	require.True(t, ok)
	runner := m.Runner(agent)

	var fired bool
	cb := jsagenttest.OfFunc(func(args []any) (any, error) {
		fired = true
		return nil, nil
	})

	idVal, err := ops["setTimeout"](agent, nil, []jsagent.Value{cb, jsagenttest.Of(float64(50))})
	require.NoError(t, err)

	_, err = ops["clearTimeout"](agent, nil, []jsagent.Value{idVal})
	require.NoError(t, err)

	runUntilQuiescent(t, agent, runner, time.Second)
	require.False(t, fired)
}

func TestExtension_SetIntervalFiresRepeatedlyThenClears(t *testing.T) {
	agent, ops := newWiredAgent(t)
	m, ok := hostdata.Get[*Manager](agent.HostData())
	require.True(t, ok)
	runner := m.Runner(agent)

	var count int
	cb := jsagenttest.OfFunc(func(args []any) (any, error) {
		count++
		return nil, nil
	})

	idVal, err := ops["setInterval"](agent, nil, []jsagent.Value{cb, jsagenttest.Of(float64(1))})
	require.NoError(t, err)

	deadline := time.After(time.Second)
	for count < 3 {
		select {
		case task := <-agent.HostData().Tasks():
			runner(task)
		case <-deadline:
			t.Fatal("interval never fired 3 times")
		}
	}

	_, err = ops["clearInterval"](agent, nil, []jsagent.Value{idVal})
	require.NoError(t, err)
	runUntilQuiescent(t, agent, runner, time.Second)
	require.Equal(t, int64(0), agent.HostData().PendingTimers())
}
