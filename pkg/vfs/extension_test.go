package vfs

import (
	"encoding/base64"
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

func TestExtension_WriteReadTextFileRoundTrip(t *testing.T) {
	agent, ops := newWiredAgent(t)

	call(t, agent, ops["write_text_file"], "/notes.txt", "hello")
	got := call(t, agent, ops["read_text_file"], "/notes.txt")
	require.Equal(t, "hello", got.Export())
}

func TestExtension_ReadFileReturnsBase64(t *testing.T) {
	agent, ops := newWiredAgent(t)

	call(t, agent, ops["write_text_file"], "/bin.dat", "payload")
	got := call(t, agent, ops["read_file"], "/bin.dat")
	decoded, err := base64.StdEncoding.DecodeString(got.Export().(string))
	require.NoError(t, err)
	require.Equal(t, "payload", string(decoded))
}

func TestExtension_MkDirAndReadDir(t *testing.T) {
	agent, ops := newWiredAgent(t)

	call(t, agent, ops["mk_dir_all"], "/a/b")
	call(t, agent, ops["write_text_file"], "/a/b/f.txt", "x")

	entries := call(t, agent, ops["read_dir"], "/a/b").Export().([]any)
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]any)
	require.Equal(t, "f.txt", entry["name"])
	require.Equal(t, "file", entry["type"])
}

func TestExtension_StatReportsFields(t *testing.T) {
	agent, ops := newWiredAgent(t)

	call(t, agent, ops["write_text_file"], "/f.txt", "abc")
	stat := call(t, agent, ops["stat"], "/f.txt").Export().(map[string]any)
	require.Equal(t, "file", stat["type"])
	require.Equal(t, float64(3), stat["size"])
}

func TestExtension_ExistsAndRemove(t *testing.T) {
	agent, ops := newWiredAgent(t)

	call(t, agent, ops["write_text_file"], "/f.txt", "abc")
	require.True(t, call(t, agent, ops["exists"], "/f.txt").Export().(bool))

	call(t, agent, ops["remove"], "/f.txt")
	require.False(t, call(t, agent, ops["exists"], "/f.txt").Export().(bool))
}

func TestExtension_ReadTextFileUnknownPathThrows(t *testing.T) {
	agent, ops := newWiredAgent(t)
	_, err := ops["read_text_file"](agent, nil, []jsagent.Value{jsagenttest.Of("/missing.txt")})
	require.Error(t, err)
}
