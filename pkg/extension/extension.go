// Package extension implements the registration contract native
// capabilities use to expose themselves to the engine (spec §4.1).
//
// This generalizes the teacher's pkg/contracts.ToolContract[Req, Resp]
// registry — a typed, generic catalog of named operations with a
// validate+execute pair — into the host's op dispatch table: an
// Extension is a static declaration of named ops plus one-time storage
// init and bundled startup scripts, and Registry is what installs them
// onto an Agent and dispatches script calls by name.
package extension

import (
	"fmt"

	"github.com/freitascorp/andromeda/pkg/hosterror"
	"github.com/freitascorp/andromeda/pkg/jsagent"
)

// ExtensionOp is one named native operation an Extension exposes.
type ExtensionOp struct {
	Name        string
	Handler     jsagent.NativeFunction
	ArgCount    int
	IsAsyncHint bool // true for ops whose name ends in _async or that return a Promise
}

// Extension is a static declaration: a named group of ops, an optional
// one-time storage initializer, and bundled scripts evaluated in the
// agent's realm before user code runs.
type Extension struct {
	Name string

	// Namespace installs every op under a namespace object of this name
	// instead of directly on the global object. Empty means global.
	Namespace string

	Ops []ExtensionOp

	// StorageInit runs once at agent construction and may insert one or
	// more typed values into the agent's Host Data storage map.
	StorageInit func(agent jsagent.Agent) error

	// BundledScripts are TypeScript/JS shim sources, in declaration
	// order, evaluated in the agent's realm before user code runs. Each
	// entry is "specifier" -> source, used for error messages.
	BundledScripts []BundledScript
}

// BundledScript is one native-authored shim compiled into the binary.
type BundledScript struct {
	Specifier string
	Source    string
}

// Registry tracks every registered Extension and drives the three-step
// registration contract from spec §4.1: storage init, op installation,
// bundled script evaluation.
type Registry struct {
	extensions []Extension
	installed  map[string]ExtensionOp // by fully qualified "namespace.name" or "name"
}

// NewRegistry creates an empty extension registry.
func NewRegistry() *Registry {
	return &Registry{installed: make(map[string]ExtensionOp)}
}

// Add declares an extension. It does not install anything yet; call
// Apply once an Agent exists.
func (r *Registry) Add(ext Extension) {
	r.extensions = append(r.extensions, ext)
}

// Apply runs the full registration contract against agent, in the order
// extensions were added: storage_init for every extension first (so
// ops from one extension may assume another's storage already exists
// only if declared earlier — the same ordering guarantee the teacher's
// fleet store factory gives callers), then op installation, then
// bundled scripts.
func (r *Registry) Apply(agent jsagent.Agent) error {
	for _, ext := range r.extensions {
		if ext.StorageInit != nil {
			if err := ext.StorageInit(agent); err != nil {
				return hosterror.Wrap(hosterror.KindInternalError, err, fmt.Sprintf("storage init for extension %q", ext.Name))
			}
		}
	}

	for _, ext := range r.extensions {
		for _, op := range ext.Ops {
			if err := r.install(agent, ext, op); err != nil {
				return err
			}
		}
	}

	for _, ext := range r.extensions {
		for _, script := range ext.BundledScripts {
			if _, err := agent.Evaluate(script.Specifier, script.Source); err != nil {
				return hosterror.Wrap(hosterror.KindInternalError, err, fmt.Sprintf("evaluating bundled script %s", script.Specifier))
			}
		}
	}

	return nil
}

func (r *Registry) install(agent jsagent.Agent, ext Extension, op ExtensionOp) error {
	qualified := op.Name
	if ext.Namespace != "" {
		qualified = ext.Namespace + "." + op.Name
	}
	if _, exists := r.installed[qualified]; exists {
		return hosterror.Newf(hosterror.KindInternalError, "duplicate extension op %q", qualified)
	}

	handler := guarded(op.Handler)

	var err error
	if ext.Namespace == "" {
		err = agent.DefineGlobalFunction(op.Name, handler)
	} else {
		err = agent.DefineNamespaceFunction(ext.Namespace, op.Name, handler)
	}
	if err != nil {
		return hosterror.Wrap(hosterror.KindInternalError, err, fmt.Sprintf("installing op %q", qualified))
	}

	r.installed[qualified] = op
	return nil
}

// guarded wraps a handler so malformed script input can never panic the
// agent thread: a recovered panic is converted into an exception tagged
// Error whose message starts with "internal error:", per spec §4.1's
// error policy ("must not panic on malformed script input").
func guarded(fn jsagent.NativeFunction) jsagent.NativeFunction {
	return func(agent jsagent.Agent, this jsagent.Value, args []jsagent.Value) (v jsagent.Value, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = agent.Throw(jsagent.ExceptionError, fmt.Sprintf("internal error: %v", rec))
			}
		}()
		return fn(agent, this, args)
	}
}

// Ops returns the metadata for every installed op, for introspection or
// documentation generation.
func (r *Registry) Ops() map[string]ExtensionOp {
	out := make(map[string]ExtensionOp, len(r.installed))
	for k, v := range r.installed {
		out[k] = v
	}
	return out
}
