// Package modules implements the module system: specifier resolution,
// fetching (filesystem/HTTP), import/export extraction, a dependency
// graph with cycle detection, and topological load ordering.
//
// This generalizes the teacher's pkg/fleet node registry (a mutex
// guarded map keyed by a generated id, with an ordered construction
// pipeline) into the module cache: a ModuleRecord is built up through a
// fixed sequence of states instead of being written once, and the
// collection as a whole doubles as a dependency graph.
package modules

import "github.com/google/uuid"

// ModuleID uniquely identifies one loaded module record.
type ModuleID string

// NewModuleID generates a fresh, unique module id.
func NewModuleID() ModuleID {
	return ModuleID(uuid.NewString())
}

// ModuleState is the lifecycle stage of a ModuleRecord. States advance
// monotonically forward except that any state may transition to Failed;
// once Evaluated or Failed, a record is immutable.
type ModuleState int

const (
	StateResolving ModuleState = iota
	StateFetching
	StateParsing
	StateInstantiating
	StateEvaluating
	StateEvaluated
	StateFailed
)

func (s ModuleState) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateFetching:
		return "fetching"
	case StateParsing:
		return "parsing"
	case StateInstantiating:
		return "instantiating"
	case StateEvaluating:
		return "evaluating"
	case StateEvaluated:
		return "evaluated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ModuleType classifies a module by its resolved specifier's extension.
type ModuleType int

const (
	TypeJavaScript ModuleType = iota
	TypeTypeScript
	TypeJSON
	TypeWasm
	TypeOther
)

// NeedsTranspilation reports whether a module of this type must pass
// through a transpiler collaborator before the engine can evaluate it.
// TypeScript and JSON both do: TS for syntax stripping, JSON because it
// is wrapped into a synthetic `export default` module body.
func (t ModuleType) NeedsTranspilation() bool {
	return t == TypeTypeScript || t == TypeJSON
}

// ClassifyExtension maps a resolved specifier's extension (without the
// leading dot) to a ModuleType, per the fixed extension table.
func ClassifyExtension(ext string) ModuleType {
	switch ext {
	case "js", "mjs", "cjs":
		return TypeJavaScript
	case "ts", "tsx", "mts", "cts":
		return TypeTypeScript
	case "json":
		return TypeJSON
	case "wasm":
		return TypeWasm
	default:
		return TypeOther
	}
}

// Import is one import statement form extracted from a module's source.
type Import struct {
	Specifier      string
	NamedNames     []string // import { a, b } — local names, ignoring "as" aliasing target name
	DefaultLocal   string   // import Foo from "x" — local binding name, empty if absent
	NamespaceLocal string   // import * as ns from "x" — local binding name, empty if absent
}

// Export is one export form extracted from a module's source. Name is
// nil for the default export. Name == "*" with IsReexport == true
// denotes `export * from "source"`.
type Export struct {
	Name         *string
	IsReexport   bool
	SourceModule *string
	SourceName   *string
}

// ModuleRecord is the full state of one loaded module.
type ModuleRecord struct {
	ID           ModuleID
	Specifier    string
	Source       string
	State        ModuleState
	Dependencies []ModuleID
	Exports      []Export
	Imports      []Import
	IsESModule   bool
	ModuleType   ModuleType
	Err          error
}
