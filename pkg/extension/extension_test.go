package extension

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freitascorp/andromeda/pkg/hostdata"
	"github.com/freitascorp/andromeda/pkg/jsagent"
	"github.com/freitascorp/andromeda/pkg/jsagent/jsagenttest"
)

func TestRegistry_Apply_RunsStorageInitAndInstallsOps(t *testing.T) {
	var order []string

	type marker struct{}
	ext := Extension{
		Name: "demo",
		StorageInit: func(agent jsagent.Agent) error {
			order = append(order, "storage_init")
			hostdata.Set(agent.HostData(), &marker{})
			return nil
		},
		Ops: []ExtensionOp{{
			Name: "demo_op",
			Handler: func(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
				order = append(order, "op_called")
				return agent.NewString("ok"), nil
			},
		}},
		BundledScripts: []BundledScript{{Specifier: "demo.ts", Source: "// shim"}},
	}

	agent := jsagenttest.New()
	reg := NewRegistry()
	reg.Add(ext)

	require.NoError(t, reg.Apply(agent))
	require.Equal(t, []string{"storage_init"}, order)

	_, ok := hostdata.Get[*marker](agent.HostData())
	require.True(t, ok)

	fn, ok := agent.Globals["demo_op"]
	require.True(t, ok)
	result, err := fn(agent, agent.Undefined(), nil)
	require.NoError(t, err)
	require.Equal(t, "ok", result.Export())
	require.Equal(t, []string{"storage_init", "op_called"}, order)
}

func TestRegistry_HandlerPanic_BecomesError(t *testing.T) {
	ext := Extension{
		Name: "demo",
		Ops: []ExtensionOp{{
			Name: "boom",
			Handler: func(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
				panic("kaboom")
			},
		}},
	}

	agent := jsagenttest.New()
	reg := NewRegistry()
	reg.Add(ext)
	require.NoError(t, reg.Apply(agent))

	fn := agent.Globals["boom"]
	_, err := fn(agent, agent.Undefined(), nil)
	require.Error(t, err)
}

func TestRegistry_DuplicateOp_Errors(t *testing.T) {
	op := ExtensionOp{Name: "dup", Handler: func(jsagent.Agent, jsagent.Value, []jsagent.Value) (jsagent.Value, error) {
		return nil, nil
	}}
	reg := NewRegistry()
	reg.Add(Extension{Name: "a", Ops: []ExtensionOp{op}})
	reg.Add(Extension{Name: "b", Ops: []ExtensionOp{op}})

	agent := jsagenttest.New()
	require.Error(t, reg.Apply(agent))
}
