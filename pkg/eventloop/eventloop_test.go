package eventloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/freitascorp/andromeda/pkg/hostdata"
	"github.com/freitascorp/andromeda/pkg/jsagent/jsagenttest"
)

func TestLoop_ResolvesQueuedPromiseThenQuiesces(t *testing.T) {
	agent := jsagenttest.New()
	cap := agent.NewPromise()
	agent.HostData().Post(hostdata.MacroTask{
		Kind:       hostdata.KindResolvePromiseWithString,
		PromiseRef: cap.Ref,
		Message:    "done",
	})

	loop := New(agent)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, loop.Run(ctx))

	s := agent.Settlements[cap.Ref.(jsagenttest.Ref)]
	require.True(t, s.Resolved)
	require.Equal(t, "done", s.Value)
}

func TestLoop_WaitsForInFlightSpawnBeforeQuiescing(t *testing.T) {
	agent := jsagenttest.New()
	cap := agent.NewPromise()

	agent.HostData().Spawn(func(ctx context.Context) {
		time.Sleep(20 * time.Millisecond)
		agent.HostData().Post(hostdata.MacroTask{
			Kind:       hostdata.KindResolvePromiseWithString,
			PromiseRef: cap.Ref,
			Message:    "async-done",
		})
	})

	loop := New(agent)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, loop.Run(ctx))

	s := agent.Settlements[cap.Ref.(jsagenttest.Ref)]
	require.True(t, s.Resolved)
	require.Equal(t, "async-done", s.Value)
}

func TestLoop_ResolvesQueuedPromiseWithStructuredData(t *testing.T) {
	agent := jsagenttest.New()
	cap := agent.NewPromise()
	agent.HostData().Post(hostdata.MacroTask{
		Kind:       hostdata.KindResolvePromiseWithData,
		PromiseRef: cap.Ref,
		Data: map[string]any{
			"localAddr": "127.0.0.1:8080",
			"flags":     []any{"a", "b"},
		},
	})

	loop := New(agent)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, loop.Run(ctx))

	s := agent.Settlements[cap.Ref.(jsagenttest.Ref)]
	require.True(t, s.Resolved)
	require.Equal(t, map[string]any{
		"localAddr": "127.0.0.1:8080",
		"flags":     []any{"a", "b"},
	}, s.Value)
}

func TestLoop_RejectDispatchesToAgent(t *testing.T) {
	agent := jsagenttest.New()
	cap := agent.NewPromise()
	agent.HostData().Post(hostdata.MacroTask{
		Kind:       hostdata.KindRejectPromise,
		PromiseRef: cap.Ref,
		Message:    "nope",
	})

	loop := New(agent)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, loop.Run(ctx))

	s := agent.Settlements[cap.Ref.(jsagenttest.Ref)]
	require.True(t, s.Rejected)
	require.Equal(t, "nope", s.Message)
}

func TestLoop_TimerRunnerInvokedForTimerTasks(t *testing.T) {
	agent := jsagenttest.New()
	var ran []int64
	agent.HostData().Post(hostdata.MacroTask{Kind: hostdata.KindRunAndClearTimeout, TimerID: 7})

	loop := New(agent)
	loop.TimerRunner = func(task hostdata.MacroTask) { ran = append(ran, task.TimerID) }

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, loop.Run(ctx))
	require.Equal(t, []int64{7}, ran)
}
