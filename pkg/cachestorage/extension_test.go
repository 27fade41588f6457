package cachestorage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freitascorp/andromeda/pkg/jsagent"
	"github.com/freitascorp/andromeda/pkg/jsagent/jsagenttest"
)

func newWiredAgent(t *testing.T) (*jsagenttest.Agent, map[string]jsagent.NativeFunction) {
	t.Helper()
	agent := jsagenttest.New()
	ext := NewExtension(":memory:")
	require.NoError(t, ext.StorageInit(agent))

	ops := make(map[string]jsagent.NativeFunction, len(ext.Ops))
	for _, op := range ext.Ops {
		ops[op.Name] = op.Handler
	}
	return agent, ops
}

func call(t *testing.T, agent jsagent.Agent, fn jsagent.NativeFunction, args ...any) jsagent.Value {
	t.Helper()
	values := make([]jsagent.Value, len(args))
	for i, a := range args {
		values[i] = jsagenttest.Of(a)
	}
	v, err := fn(agent, nil, values)
	require.NoError(t, err)
	return v
}

func TestExtension_PutMatchRoundTrip(t *testing.T) {
	agent, ops := newWiredAgent(t)

	req := map[string]any{"url": "https://example.com/a", "method": "GET", "headers": map[string]any{}}
	resp := map[string]any{"status": float64(200), "statusText": "OK", "headers": map[string]any{}, "body": "aGVsbG8=", "url": "https://example.com/a"}

	call(t, agent, ops["put"], "v1", req, resp)

	got := call(t, agent, ops["match"], "v1", req)
	fields := got.Export().(map[string]any)
	require.Equal(t, float64(200), fields["status"])
	require.Equal(t, "aGVsbG8=", fields["body"])
}

func TestExtension_MatchMissReturnsUndefined(t *testing.T) {
	agent, ops := newWiredAgent(t)
	req := map[string]any{"url": "https://example.com/missing", "method": "GET", "headers": map[string]any{}}
	got := call(t, agent, ops["match"], "v1", req)
	require.Nil(t, got.Export())
}

func TestExtension_HasAndDeleteCache(t *testing.T) {
	agent, ops := newWiredAgent(t)

	call(t, agent, ops["open"], "v1")
	require.True(t, call(t, agent, ops["has"], "v1").Export().(bool))

	existed := call(t, agent, ops["delete_cache"], "v1")
	require.True(t, existed.Export().(bool))
	require.False(t, call(t, agent, ops["has"], "v1").Export().(bool))
}

func TestExtension_KeysListsStoredRequests(t *testing.T) {
	agent, ops := newWiredAgent(t)
	req := map[string]any{"url": "https://example.com/a", "method": "GET", "headers": map[string]any{}}
	resp := map[string]any{"status": float64(200), "statusText": "OK", "headers": map[string]any{}, "body": "", "url": "https://example.com/a"}
	call(t, agent, ops["put"], "v1", req, resp)

	keys := call(t, agent, ops["keys"], "v1").Export().([]any)
	require.Len(t, keys, 1)
	key := keys[0].(map[string]any)
	require.Equal(t, "https://example.com/a", key["url"])
}
