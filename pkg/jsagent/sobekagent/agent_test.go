package sobekagent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freitascorp/andromeda/pkg/hostdata"
	"github.com/freitascorp/andromeda/pkg/jsagent"
)

func newTestAgent() *Agent {
	return New(hostdata.New(2))
}

func TestAgent_EvaluateReturnsCompletionValue(t *testing.T) {
	a := newTestAgent()
	v, err := a.Evaluate("main.js", "1 + 2")
	require.NoError(t, err)
	require.EqualValues(t, 3, v.Export())
}

func TestAgent_CheckSyntax_RejectsBadSyntax(t *testing.T) {
	a := newTestAgent()
	err := a.CheckSyntax("bad.js", "function (")
	require.Error(t, err)
}

func TestAgent_CheckSyntax_AcceptsGoodSyntax(t *testing.T) {
	a := newTestAgent()
	err := a.CheckSyntax("good.js", "const x = 1;")
	require.NoError(t, err)
}

func TestAgent_DefineGlobalFunction_IsCallableFromScript(t *testing.T) {
	a := newTestAgent()
	require.NoError(t, a.DefineGlobalFunction("double", func(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
		n := args[0].Export().(float64)
		return agent.NewNumber(n * 2), nil
	}))

	v, err := a.Evaluate("main.js", "double(21)")
	require.NoError(t, err)
	require.EqualValues(t, 42, v.Export())
}

func TestAgent_DefineNamespaceFunction_InstallsUnderNamespace(t *testing.T) {
	a := newTestAgent()
	require.NoError(t, a.DefineNamespaceFunction("host", "ping", func(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
		return agent.NewString("pong"), nil
	}))

	v, err := a.Evaluate("main.js", "host.ping()")
	require.NoError(t, err)
	require.Equal(t, "pong", v.Export())
}

func TestAgent_ThrownExceptionPropagatesAsScriptError(t *testing.T) {
	a := newTestAgent()
	require.NoError(t, a.DefineGlobalFunction("boom", func(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
		return nil, agent.Throw(jsagent.ExceptionTypeError, "bad input")
	}))

	_, err := a.Evaluate("main.js", "boom()")
	require.Error(t, err)
}

func TestAgent_PromiseCapability_ResolveReachesThen(t *testing.T) {
	a := newTestAgent()
	cap := a.NewPromise()
	require.NotNil(t, cap.Ref)

	a.ResolvePromiseWithString(cap.Ref, "done")

	require.NoError(t, a.DefineGlobalFunction("getPromise", func(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
		return cap.Promise, nil
	}))

	v, err := a.Evaluate("main.js", "getPromise()")
	require.NoError(t, err)
	require.NotNil(t, v)
}

func TestAgent_HostData_RoundTrips(t *testing.T) {
	d := hostdata.New(1)
	a := New(d)
	require.Same(t, d, a.HostData())
}
