package sqliteext

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freitascorp/andromeda/pkg/hosterror"
)

func TestOpenExecPrepareRunAll(t *testing.T) {
	m := NewManager()
	dbID, err := m.Open(":memory:")
	require.NoError(t, err)

	require.NoError(t, m.Exec(dbID, "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT, qty REAL)"))

	insertStmt, err := m.Prepare(dbID, "INSERT INTO items (name, qty) VALUES (?, ?)", false, false)
	require.NoError(t, err)

	result, err := m.Run(insertStmt, "widget", float64(3))
	require.NoError(t, err)
	require.Equal(t, int64(1), result.Changes)
	require.Equal(t, int64(1), result.LastInsertRowID)

	selectStmt, err := m.Prepare(dbID, "SELECT id, name, qty FROM items", false, false)
	require.NoError(t, err)

	rows, err := m.All(selectStmt)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "widget", rows[0]["name"])
	require.Equal(t, float64(3), rows[0]["qty"])
}

func TestGet_ReturnsNilOnNoRows(t *testing.T) {
	m := NewManager()
	dbID, err := m.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, m.Exec(dbID, "CREATE TABLE items (id INTEGER PRIMARY KEY)"))

	stmt, err := m.Prepare(dbID, "SELECT id FROM items WHERE id = ?", false, false)
	require.NoError(t, err)

	row, err := m.Get(stmt, float64(99))
	require.NoError(t, err)
	require.Nil(t, row)
}

func TestExpandedSQL_SubstitutesLastParams(t *testing.T) {
	m := NewManager()
	dbID, err := m.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, m.Exec(dbID, "CREATE TABLE items (id INTEGER, name TEXT)"))

	stmt, err := m.Prepare(dbID, "SELECT * FROM items WHERE id = ? AND name = ?", false, false)
	require.NoError(t, err)

	before, err := m.ExpandedSQL(stmt)
	require.NoError(t, err)
	require.Equal(t, "SELECT * FROM items WHERE id = ? AND name = ?", before)

	_, err = m.All(stmt, float64(5), "o'brien")
	require.NoError(t, err)

	after, err := m.ExpandedSQL(stmt)
	require.NoError(t, err)
	require.Equal(t, "SELECT * FROM items WHERE id = 5 AND name = 'o''brien'", after)
}

func TestSourceSQL_ReturnsOriginalText(t *testing.T) {
	m := NewManager()
	dbID, err := m.Open(":memory:")
	require.NoError(t, err)
	stmt, err := m.Prepare(dbID, "SELECT 1", false, false)
	require.NoError(t, err)

	sqlText, err := m.SourceSQL(stmt)
	require.NoError(t, err)
	require.Equal(t, "SELECT 1", sqlText)
}

func TestFinalize_RemovesStatement(t *testing.T) {
	m := NewManager()
	dbID, err := m.Open(":memory:")
	require.NoError(t, err)
	stmt, err := m.Prepare(dbID, "SELECT 1", false, false)
	require.NoError(t, err)

	require.NoError(t, m.Finalize(stmt))
	_, err = m.SourceSQL(stmt)
	require.True(t, hosterror.Is(err, hosterror.KindResourceError))
}

func TestClose_RemovesStatementsPreparedAgainstIt(t *testing.T) {
	m := NewManager()
	dbID, err := m.Open(":memory:")
	require.NoError(t, err)
	stmt, err := m.Prepare(dbID, "SELECT 1", false, false)
	require.NoError(t, err)

	require.NoError(t, m.Close(dbID))
	_, err = m.SourceSQL(stmt)
	require.True(t, hosterror.Is(err, hosterror.KindResourceError))
}

func TestLoadExtension_RequiresEnableFirst(t *testing.T) {
	m := NewManager()
	dbID, err := m.Open(":memory:")
	require.NoError(t, err)

	err = m.LoadExtension(dbID, "/some/path", "")
	require.True(t, hosterror.Is(err, hosterror.KindConfigError))

	require.NoError(t, m.EnableLoadExtension(dbID, true))
	err = m.LoadExtension(dbID, "/some/path", "")
	require.Error(t, err)
	require.False(t, hosterror.Is(err, hosterror.KindConfigError))
}

func TestFunction_NotSupportedByDriver(t *testing.T) {
	m := NewManager()
	dbID, err := m.Open(":memory:")
	require.NoError(t, err)

	err = m.Function(dbID, "my_func", 1)
	require.Error(t, err)
}
