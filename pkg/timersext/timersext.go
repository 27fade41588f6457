// Package timersext implements the global setTimeout/setInterval timer
// family (spec §5's "user-defined timer variants layered on top" of the
// event loop's required macro-task kinds).
//
// A scheduled timer is real wall-clock time, driven by time.AfterFunc
// off the agent thread; firing only ever touches the engine by posting
// a MacroTask back onto the agent's Host Data, exactly like every other
// extension's async path. The one difference from a promise-resolving
// async op is that the macro-task itself — RunAndClearTimeout /
// RunInterval / ClearTimeout / ClearInterval — carries no payload of
// its own; eventloop.Loop hands it to the Runner this package supplies,
// which looks the stored callback up by TimerID and, for a still-live
// one, calls it via jsagent.Value.Call. That call happens inside
// Loop.dispatch, so it always runs on the agent thread — unlike
// pkg/ffiext's callback trampolines, which fire from a foreign C caller
// and can never safely reach into script.
package timersext

import (
	"sync"
	"time"

	"github.com/freitascorp/andromeda/pkg/hostdata"
	"github.com/freitascorp/andromeda/pkg/jsagent"
)

// timer is one scheduled setTimeout/setInterval registration.
type timer struct {
	callback  jsagent.Value
	args      []jsagent.Value
	delay     time.Duration
	interval  bool
	cancelled bool
}

// Manager owns every live timer for one agent.
type Manager struct {
	mu     sync.Mutex
	timers map[int64]*timer
	nextID int64
}

func NewManager() *Manager {
	return &Manager{timers: make(map[int64]*timer)}
}

// Schedule registers cb to run after delay (repeating if interval is
// true) and returns the id clearTimeout/clearInterval cancel it by.
func (m *Manager) Schedule(data *hostdata.Data, cb jsagent.Value, args []jsagent.Value, delay time.Duration, interval bool) int64 {
	if delay < 0 {
		delay = 0
	}

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.timers[id] = &timer{callback: cb, args: args, delay: delay, interval: interval}
	m.mu.Unlock()

	data.AddPendingTimer(1)
	m.fire(data, id, delay, interval)
	return id
}

func (m *Manager) fire(data *hostdata.Data, id int64, delay time.Duration, interval bool) {
	kind := hostdata.KindRunAndClearTimeout
	if interval {
		kind = hostdata.KindRunInterval
	}
	time.AfterFunc(delay, func() {
		data.Post(hostdata.MacroTask{Kind: kind, TimerID: id})
	})
}

// Runner builds the hostdata.MacroTask handler eventloop.Loop.TimerRunner
// expects, bound to agent for the duration of one run.
func (m *Manager) Runner(agent jsagent.Agent) func(hostdata.MacroTask) {
	return func(task hostdata.MacroTask) {
		switch task.Kind {
		case hostdata.KindClearTimeout, hostdata.KindClearInterval:
			m.cancel(agent.HostData(), task.TimerID)
		case hostdata.KindRunAndClearTimeout:
			m.runOneShot(agent, task.TimerID)
		case hostdata.KindRunInterval:
			m.runInterval(agent, task.TimerID)
		}
	}
}

func (m *Manager) cancel(data *hostdata.Data, id int64) {
	m.mu.Lock()
	t, ok := m.timers[id]
	if ok && !t.cancelled {
		t.cancelled = true
		delete(m.timers, id)
	}
	m.mu.Unlock()
	if ok {
		data.AddPendingTimer(-1)
	}
}

func (m *Manager) runOneShot(agent jsagent.Agent, id int64) {
	m.mu.Lock()
	t, ok := m.timers[id]
	if ok {
		delete(m.timers, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	agent.HostData().AddPendingTimer(-1)
	if t.cancelled {
		return
	}
	_, _ = t.callback.Call(agent.Undefined(), t.args)
}

func (m *Manager) runInterval(agent jsagent.Agent, id int64) {
	m.mu.Lock()
	t, ok := m.timers[id]
	m.mu.Unlock()
	if !ok || t.cancelled {
		return
	}
	_, _ = t.callback.Call(agent.Undefined(), t.args)

	m.mu.Lock()
	stillLive := m.timers[id] == t && !t.cancelled
	m.mu.Unlock()
	if stillLive {
		m.fire(agent.HostData(), id, t.delay, true)
	}
}

// Count returns the number of live (scheduled, not yet cleared) timers,
// for tests and introspection.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}
