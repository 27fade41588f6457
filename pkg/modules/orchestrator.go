package modules

import (
	"fmt"
	"strings"
	"sync"

	"github.com/freitascorp/andromeda/pkg/hosterror"
	"github.com/freitascorp/andromeda/pkg/jsagent"
)

// resolutionKey is the memoization key for ResolveSpecifier: resolution
// is pure in (specifier, base) and is cached accordingly.
type resolutionKey struct {
	specifier string
	base      string
}

// Loader drives the module loading algorithm: resolve, fetch, parse,
// extract imports/exports, recurse into dependencies, and maintain the
// dependency graph and module cache. It mirrors the teacher's fleet
// node registry in shape — a mutex-guarded map keyed by a generated id
// — but a record is built up through a fixed state sequence rather than
// inserted complete.
type Loader struct {
	loader ModuleLoader
	agent  jsagent.Agent

	mu           sync.Mutex
	byID         map[ModuleID]*ModuleRecord
	byResolved   map[string]ModuleID // resolved specifier -> id, for the Evaluated/Failed/loading lookup
	resolveCache map[resolutionKey]string
	stack        []string // resolved specifiers currently being loaded, for cycle detection
	graph        *dependencyGraph
}

// NewLoader creates a Loader that resolves/fetches via loader. Loading
// uses agent only for syntax checking (CheckSyntax); agent.Evaluate runs
// a module's source only when EvaluateModule is called for it.
func NewLoader(loader ModuleLoader, agent jsagent.Agent) *Loader {
	return &Loader{
		loader:       loader,
		agent:        agent,
		byID:         make(map[ModuleID]*ModuleRecord),
		byResolved:   make(map[string]ModuleID),
		resolveCache: make(map[resolutionKey]string),
		graph:        newDependencyGraph(),
	}
}

// LoadModule resolves specifier against base (possibly empty) and
// recursively loads it and its dependencies, depth-first, per the
// seven-step loading algorithm.
func (l *Loader) LoadModule(specifier, base string) (ModuleID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadLocked(specifier, base)
}

func (l *Loader) loadLocked(specifier, base string) (ModuleID, error) {
	resolved, err := l.resolveLocked(specifier, base)
	if err != nil {
		return "", err
	}

	// Step 1.
	if id, ok := l.byResolved[resolved]; ok {
		rec := l.byID[id]
		switch rec.State {
		case StateEvaluated:
			return id, nil
		case StateFailed:
			return "", rec.Err
		default:
			cyclePath := append(append([]string(nil), l.stack...), resolved)
			return "", hosterror.Newf(hosterror.KindCircularImport, "circular import: %s", strings.Join(cyclePath, " -> "))
		}
	}

	// Step 2.
	id := NewModuleID()
	rec := &ModuleRecord{ID: id, Specifier: resolved, State: StateResolving}
	l.byID[id] = rec
	l.byResolved[resolved] = id
	l.stack = append(l.stack, resolved)
	defer func() { l.stack = l.stack[:len(l.stack)-1] }()

	// Step 3.
	rec.State = StateFetching
	source, err := l.loader.LoadModule(resolved)
	if err != nil {
		return l.fail(rec, err)
	}
	rec.Source = source

	// Step 4.
	rec.State = StateParsing
	rec.ModuleType = ClassifyExtension(extensionOf(resolved))
	rec.IsESModule = true
	if rec.ModuleType != TypeJSON {
		if checkErr := l.agent.CheckSyntax(resolved, source); checkErr != nil {
			return l.fail(rec, hosterror.Wrap(hosterror.KindParseError, checkErr, "parsing "+resolved))
		}
	}

	// Step 5.
	if rec.ModuleType == TypeJSON {
		rec.Exports = []Export{{Name: nil}}
	} else {
		imports, exports := scanSource(source)
		rec.Imports = imports
		rec.Exports = exports
	}

	// Step 6.
	for _, imp := range rec.Imports {
		depID, err := l.loadLocked(imp.Specifier, resolved)
		if err != nil {
			return l.fail(rec, err)
		}
		rec.Dependencies = append(rec.Dependencies, depID)
		l.graph.addEdge(id, depID)
	}
	for _, exp := range rec.Exports {
		if exp.IsReexport && exp.SourceModule != nil {
			depID, err := l.loadLocked(*exp.SourceModule, resolved)
			if err != nil {
				return l.fail(rec, err)
			}
			rec.Dependencies = append(rec.Dependencies, depID)
			l.graph.addEdge(id, depID)
		}
	}

	// Step 7.
	rec.State = StateInstantiating
	if _, ok := l.graph.edges[id]; !ok {
		l.graph.edges[id] = nil // a module with no imports is still a node
	}
	return id, nil
}

func (l *Loader) fail(rec *ModuleRecord, err error) (ModuleID, error) {
	rec.State = StateFailed
	rec.Err = err
	return "", err
}

func (l *Loader) resolveLocked(specifier, base string) (string, error) {
	key := resolutionKey{specifier: specifier, base: base}
	if cached, ok := l.resolveCache[key]; ok {
		return cached, nil
	}
	resolved, err := l.loader.ResolveSpecifier(specifier, base)
	if err != nil {
		return "", err
	}
	l.resolveCache[key] = resolved
	return resolved, nil
}

// ResolveOnly resolves and caches a specifier without fetching or
// parsing it, for collaborators (e.g. a lint/type-check tool) that need
// a dependency list without evaluating anything.
func (l *Loader) ResolveOnly(specifier, base string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resolveLocked(specifier, base)
}

// GetModule returns the record for a previously loaded module id.
func (l *Loader) GetModule(id ModuleID) (*ModuleRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.byID[id]
	return rec, ok
}

// ClearCache discards every cached module record, resolution, and the
// dependency graph. Does not affect an HTTPLoader's own response cache.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byID = make(map[ModuleID]*ModuleRecord)
	l.byResolved = make(map[string]ModuleID)
	l.resolveCache = make(map[resolutionKey]string)
	l.graph = newDependencyGraph()
}

// GetDependencyOrder returns every loaded module id in an order where
// each dependency precedes its dependents, via Kahn's algorithm.
func (l *Loader) GetDependencyOrder() ([]ModuleID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.graph.topologicalOrder(func(id ModuleID) string {
		if rec, ok := l.byID[id]; ok {
			return rec.Specifier
		}
		return fmt.Sprintf("<unknown %s>", id)
	})
}

// EvaluateModule drives the final Evaluating -> Evaluated (or Failed)
// transition for an already-instantiated record by calling into the
// agent. The loading algorithm itself stops at Instantiating (spec
// §3's state machine leaves the actual evaluation to the engine's host
// hooks); a driver — typically the CLI's run command, walking
// GetDependencyOrder — calls this once per module, dependencies first,
// so a module's top-level side effects run in the same order the
// engine would run them for a real `import`.
func (l *Loader) EvaluateModule(id ModuleID) (jsagent.Value, error) {
	l.mu.Lock()
	rec, ok := l.byID[id]
	l.mu.Unlock()
	if !ok {
		return nil, hosterror.Newf(hosterror.KindInternalError, "evaluate: unknown module id %s", id)
	}
	if rec.State == StateEvaluated {
		return nil, nil
	}
	if rec.State != StateInstantiating {
		return nil, hosterror.Newf(hosterror.KindInternalError, "evaluate: module %s is in state %s, not instantiating", rec.Specifier, rec.State)
	}

	rec.State = StateEvaluating
	val, err := l.agent.Evaluate(rec.Specifier, rec.Source)
	if err != nil {
		rec.State = StateFailed
		rec.Err = hosterror.Wrap(hosterror.KindInternalError, err, "evaluating "+rec.Specifier)
		return nil, rec.Err
	}
	rec.State = StateEvaluated
	return val, nil
}

// Snapshot returns an immutable copy of every module record currently
// cached, for an external analyzer (lint/type-check) to walk the graph
// without evaluating anything itself.
func (l *Loader) Snapshot() []ModuleRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ModuleRecord, 0, len(l.byID))
	for _, rec := range l.byID {
		copied := *rec
		copied.Dependencies = append([]ModuleID(nil), rec.Dependencies...)
		copied.Imports = append([]Import(nil), rec.Imports...)
		copied.Exports = append([]Export(nil), rec.Exports...)
		out = append(out, copied)
	}
	return out
}
