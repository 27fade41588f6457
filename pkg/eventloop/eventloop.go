// Package eventloop implements the runtime's event loop (spec §5): run
// the agent's microtask queue to empty, dispatch exactly one
// macro-task, repeat, stopping only once both the macro-task queue and
// every in-flight async task are drained.
//
// This follows the teacher's relay connection loop
// (pkg/relay/ws_relay.go's per-connection read/dispatch goroutine):
// block on a channel, dispatch what arrives, loop — generalized from
// one connection's inbound frames to one agent's macro-tasks.
package eventloop

import (
	"context"

	"github.com/freitascorp/andromeda/pkg/hostdata"
	"github.com/freitascorp/andromeda/pkg/jsagent"
)

// Loop drains microtasks between macro-tasks for one agent.
type Loop struct {
	agent jsagent.Agent
	data  *hostdata.Data

	// TimerRunner, if set, is invoked for the timer-shaped MacroTask
	// kinds (RunInterval, ClearInterval, RunAndClearTimeout,
	// ClearTimeout); the timers extension supplies it, since the loop
	// itself has no notion of what a timer callback does.
	TimerRunner func(task hostdata.MacroTask)
}

// New creates a Loop bound to agent and its host data.
func New(agent jsagent.Agent) *Loop {
	return &Loop{agent: agent, data: agent.HostData()}
}

// Run drives the loop until quiescent (spec's termination condition) or
// ctx is canceled, whichever comes first.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.agent.DrainMicrotasks()

		if l.data.Quiescent() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case task, ok := <-l.data.Tasks():
			if !ok {
				return nil
			}
			l.dispatch(task)
		}
	}
}

// dispatch runs exactly one macro-task, then returns so the caller can
// drain microtasks again before pulling the next one (spec's "zero
// macro-tasks run until the microtask queue is empty" property).
func (l *Loop) dispatch(task hostdata.MacroTask) {
	switch task.Kind {
	case hostdata.KindResolvePromise:
		if ref, ok := task.PromiseRef.(jsagent.GlobalRef); ok {
			l.agent.ResolvePromise(ref, task.Value.(jsagent.Value))
		}
	case hostdata.KindResolvePromiseWithString:
		if ref, ok := task.PromiseRef.(jsagent.GlobalRef); ok {
			l.agent.ResolvePromiseWithString(ref, task.Message)
		}
	case hostdata.KindResolvePromiseWithData:
		if ref, ok := task.PromiseRef.(jsagent.GlobalRef); ok {
			l.agent.ResolvePromise(ref, toAgentValue(l.agent, task.Data))
		}
	case hostdata.KindRejectPromise:
		if ref, ok := task.PromiseRef.(jsagent.GlobalRef); ok {
			l.agent.RejectPromise(ref, task.Message)
		}
	case hostdata.KindRunInterval, hostdata.KindClearInterval,
		hostdata.KindRunAndClearTimeout, hostdata.KindClearTimeout:
		if l.TimerRunner != nil {
			l.TimerRunner(task)
		}
	}
}

// toAgentValue converts a plain Go value produced off the agent thread
// into an engine value, mirroring Value.Export's type set in reverse.
// Called only from dispatch, so it always runs on the agent thread.
func toAgentValue(agent jsagent.Agent, data any) jsagent.Value {
	switch v := data.(type) {
	case nil:
		return agent.Null()
	case bool:
		return agent.NewBool(v)
	case string:
		return agent.NewString(v)
	case float64:
		return agent.NewNumber(v)
	case int:
		return agent.NewNumber(float64(v))
	case int64:
		return agent.NewNumber(float64(v))
	case []any:
		items := make([]jsagent.Value, len(v))
		for i, item := range v {
			items[i] = toAgentValue(agent, item)
		}
		return agent.NewArray(items...)
	case map[string]any:
		fields := make(map[string]jsagent.Value, len(v))
		for k, item := range v {
			fields[k] = toAgentValue(agent, item)
		}
		return agent.NewObject(fields)
	default:
		return agent.Undefined()
	}
}
