package sqliteext

import (
	"github.com/freitascorp/andromeda/pkg/extension"
	"github.com/freitascorp/andromeda/pkg/hostdata"
	"github.com/freitascorp/andromeda/pkg/hosterror"
	"github.com/freitascorp/andromeda/pkg/jsagent"
	"github.com/freitascorp/andromeda/pkg/resource"
)

// NewExtension declares the "sqlite" capability (spec §4.5).
func NewExtension() extension.Extension {
	return extension.Extension{
		Name:      "sqlite",
		Namespace: "sqlite",
		StorageInit: func(agent jsagent.Agent) error {
			hostdata.Set(agent.HostData(), NewManager())
			return nil
		},
		Ops: []extension.ExtensionOp{
			{Name: "open", Handler: opOpen, ArgCount: 1},
			{Name: "exec", Handler: opExec, ArgCount: 2},
			{Name: "prepare", Handler: opPrepare, ArgCount: 2},
			{Name: "all", Handler: opAll, ArgCount: 2},
			{Name: "get", Handler: opGet, ArgCount: 2},
			{Name: "run", Handler: opRun, ArgCount: 2},
			{Name: "iterate", Handler: opIterate, ArgCount: 2},
			{Name: "expanded_sql", Handler: opExpandedSQL, ArgCount: 1},
			{Name: "source_sql", Handler: opSourceSQL, ArgCount: 1},
			{Name: "finalize", Handler: opFinalize, ArgCount: 1},
			{Name: "close", Handler: opClose, ArgCount: 1},
			{Name: "enable_load_extension", Handler: opEnableLoadExtension, ArgCount: 2},
			{Name: "load_extension", Handler: opLoadExtension, ArgCount: 3},
			{Name: "function", Handler: opFunction, ArgCount: 3},
		},
	}
}

func manager(agent jsagent.Agent) (*Manager, error) {
	m, ok := hostdata.Get[*Manager](agent.HostData())
	if !ok {
		return nil, hosterror.New(hosterror.KindInternalError, "sqlite extension storage not initialized")
	}
	return m, nil
}

func argString(args []jsagent.Value, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].Export().(string)
	return s, ok
}

func argNumber(args []jsagent.Value, i int) (float64, bool) {
	if i >= len(args) {
		return 0, false
	}
	n, ok := args[i].Export().(float64)
	return n, ok
}

func argBool(args []jsagent.Value, i int) (bool, bool) {
	if i >= len(args) {
		return false, false
	}
	b, ok := args[i].Export().(bool)
	return b, ok
}

// params treats every argument after skip as a bound SQL parameter,
// passed through Export() verbatim so marshalParam sees the engine's
// plain-Go representation.
func params(args []jsagent.Value, skip int) []any {
	if len(args) <= skip {
		return nil
	}
	out := make([]any, 0, len(args)-skip)
	for _, a := range args[skip:] {
		out = append(out, a.Export())
	}
	return out
}

func toRows(agent jsagent.Agent, rows []map[string]any) jsagent.Value {
	items := make([]jsagent.Value, len(rows))
	for i, row := range rows {
		items[i] = toRow(agent, row)
	}
	return agent.NewArray(items...)
}

func toRow(agent jsagent.Agent, row map[string]any) jsagent.Value {
	fields := make(map[string]jsagent.Value, len(row))
	for k, v := range row {
		fields[k] = toAnyValue(agent, v)
	}
	return agent.NewObject(fields)
}

func toAnyValue(agent jsagent.Agent, v any) jsagent.Value {
	switch x := v.(type) {
	case nil:
		return agent.Null()
	case bool:
		return agent.NewBool(x)
	case string:
		return agent.NewString(x)
	case float64:
		return agent.NewNumber(x)
	default:
		return agent.Null()
	}
}

func opOpen(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	path, _ := argString(args, 0)
	rid, err := m.Open(path)
	if err != nil {
		return nil, err
	}
	return agent.NewNumber(float64(rid)), nil
}

func opExec(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	dbID, _ := argNumber(args, 0)
	sqlText, _ := argString(args, 1)
	if err := m.Exec(resource.Rid(dbID), sqlText); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opPrepare(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	dbID, _ := argNumber(args, 0)
	sqlText, _ := argString(args, 1)
	allowBareNamedParams, _ := argBool(args, 2)
	readBigints, _ := argBool(args, 3)
	rid, err := m.Prepare(resource.Rid(dbID), sqlText, allowBareNamedParams, readBigints)
	if err != nil {
		return nil, err
	}
	return agent.NewNumber(float64(rid)), nil
}

func opAll(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	stmtID, _ := argNumber(args, 1)
	rows, err := m.All(resource.Rid(stmtID), params(args, 2)...)
	if err != nil {
		return nil, err
	}
	return toRows(agent, rows), nil
}

func opGet(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	stmtID, _ := argNumber(args, 1)
	row, err := m.Get(resource.Rid(stmtID), params(args, 2)...)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return agent.Undefined(), nil
	}
	return toRow(agent, row), nil
}

func opRun(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	stmtID, _ := argNumber(args, 1)
	result, err := m.Run(resource.Rid(stmtID), params(args, 2)...)
	if err != nil {
		return nil, err
	}
	return agent.NewObject(map[string]jsagent.Value{
		"changes":        agent.NewNumber(float64(result.Changes)),
		"lastInsertRowid": agent.NewNumber(float64(result.LastInsertRowID)),
	}), nil
}

func opIterate(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	stmtID, _ := argNumber(args, 1)
	rows, err := m.Iterate(resource.Rid(stmtID), params(args, 2)...)
	if err != nil {
		return nil, err
	}
	return toRows(agent, rows), nil
}

func opExpandedSQL(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	stmtID, _ := argNumber(args, 0)
	sqlText, err := m.ExpandedSQL(resource.Rid(stmtID))
	if err != nil {
		return nil, err
	}
	return agent.NewString(sqlText), nil
}

func opSourceSQL(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	stmtID, _ := argNumber(args, 0)
	sqlText, err := m.SourceSQL(resource.Rid(stmtID))
	if err != nil {
		return nil, err
	}
	return agent.NewString(sqlText), nil
}

func opFinalize(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	stmtID, _ := argNumber(args, 0)
	if err := m.Finalize(resource.Rid(stmtID)); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opClose(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	dbID, _ := argNumber(args, 0)
	if err := m.Close(resource.Rid(dbID)); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opEnableLoadExtension(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	dbID, _ := argNumber(args, 0)
	enabled, _ := argBool(args, 1)
	if err := m.EnableLoadExtension(resource.Rid(dbID), enabled); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opLoadExtension(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	dbID, _ := argNumber(args, 0)
	path, _ := argString(args, 1)
	entry, _ := argString(args, 2)
	if err := m.LoadExtension(resource.Rid(dbID), path, entry); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}

func opFunction(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	m, err := manager(agent)
	if err != nil {
		return nil, err
	}
	dbID, _ := argNumber(args, 0)
	name, _ := argString(args, 1)
	if err := m.Function(resource.Rid(dbID), name, 0); err != nil {
		return nil, err
	}
	return agent.Undefined(), nil
}
