package sqliteext

import (
	"testing"

	"github.com/stretchr/testify/require"

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

func TestExtension_OpenExecPrepareRunAllRoundTrip(t *testing.T) {
	agent, ops := newWiredAgent(t)

	dbVal := call(t, agent, ops["open"], ":memory:")
	dbID := dbVal.Export().(float64)

	call(t, agent, ops["exec"], dbID, "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)")

	insertStmtVal := call(t, agent, ops["prepare"], dbID, "INSERT INTO items (name) VALUES (?)", false, false)
	insertStmt := insertStmtVal.Export().(float64)

	runResult := call(t, agent, ops["run"], dbID, insertStmt, "widget")
	fields := runResult.Export().(map[string]any)
	require.Equal(t, float64(1), fields["changes"])

	selectStmtVal := call(t, agent, ops["prepare"], dbID, "SELECT id, name FROM items", false, false)
	selectStmt := selectStmtVal.Export().(float64)

	rowsVal := call(t, agent, ops["all"], dbID, selectStmt)
	rows := rowsVal.Export().([]any)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]any)
	require.Equal(t, "widget", row["name"])
}

func TestExtension_CloseRejectsFurtherUse(t *testing.T) {
	agent, ops := newWiredAgent(t)
	dbVal := call(t, agent, ops["open"], ":memory:")
	dbID := dbVal.Export().(float64)

	call(t, agent, ops["close"], dbID)

	_, err := ops["exec"](agent, nil, []jsagent.Value{jsagenttest.Of(dbID), jsagenttest.Of("SELECT 1")})
	require.Error(t, err)
}
