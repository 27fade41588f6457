package timersext

import (
	"time"

	"github.com/freitascorp/andromeda/pkg/extension"
	"github.com/freitascorp/andromeda/pkg/hostdata"
	"github.com/freitascorp/andromeda/pkg/hosterror"
	"github.com/freitascorp/andromeda/pkg/jsagent"
)

// NewExtension declares the global setTimeout/setInterval/clearTimeout/
// clearInterval functions, backed by one *Manager stored in the agent's
// Host Data. Installed with an empty Namespace since these are global
// functions, not a namespaced capability like net or fs.
func NewExtension() extension.Extension {
	return extension.Extension{
		Name: "timers",
		Ops: []extension.ExtensionOp{
			{Name: "setTimeout", Handler: opSetTimeout, ArgCount: 1},
			{Name: "setInterval", Handler: opSetInterval, ArgCount: 1},
			{Name: "clearTimeout", Handler: opClearTimeout, ArgCount: 1},
			{Name: "clearInterval", Handler: opClearInterval, ArgCount: 1},
		},
		StorageInit: func(agent jsagent.Agent) error {
			hostdata.Set(agent.HostData(), NewManager())
			return nil
		},
	}
}

func manager(agent jsagent.Agent) (*Manager, error) {
	m, ok := hostdata.Get[*Manager](agent.HostData())
	if !ok {
		return nil, hosterror.New(hosterror.KindInternalError, "timers extension storage not initialized")
	}
	return m, nil
}

func argNumber(args []jsagent.Value, i int) (float64, bool) {
	if i >= len(args) {
		return 0, false
	}
	n, ok := args[i].Export().(float64)
	return n, ok
}

func schedule(agent jsagent.Agent, args []jsagent.Value, interval bool) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	if len(args) < 1 {
		return nil, agent.Throw(jsagent.ExceptionTypeError, "setTimeout/setInterval requires a callback function")
	}
	cb := args[0]
	delayMs, _ := argNumber(args, 1)

	var extra []jsagent.Value
	if len(args) > 2 {
		extra = args[2:]
	}

	id := m.Schedule(agent.HostData(), cb, extra, time.Duration(delayMs)*time.Millisecond, interval)
	return agent.NewNumber(float64(id)), nil
}

func opSetTimeout(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	return schedule(agent, args, false)
}

func opSetInterval(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	return schedule(agent, args, true)
}

func clear(agent jsagent.Agent, args []jsagent.Value, kind hostdata.MacroTaskKind) (jsagent.Value, error) {
	idNum, ok := argNumber(args, 0)
	if !ok {
		return agent.Undefined(), nil
	}
	agent.HostData().Post(hostdata.MacroTask{Kind: kind, TimerID: int64(idNum)})
	return agent.Undefined(), nil
}

func opClearTimeout(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	return clear(agent, args, hostdata.KindClearTimeout)
}

func opClearInterval(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	return clear(agent, args, hostdata.KindClearInterval)
}
