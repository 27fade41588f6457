// Package jsagent defines the narrow boundary between the runtime core
// and the embedded ECMAScript engine. Per the design, the engine itself
// (parser, bytecode, GC) is an external collaborator the core only ever
// reaches through this interface: script parse+evaluate, value
// marshalling primitives, promise capabilities, a global host-data
// pointer, exception throwing, and string/number/array construction.
//
// The core never imports an engine package directly; only an Agent
// implementation (see jsagent/sobekagent) does.
package jsagent

import "github.com/freitascorp/andromeda/pkg/hostdata"

// Value is an engine-native value, opaque to the core beyond what this
// package exposes. Implementations wrap their engine's own value type.
type Value interface {
	// Export converts the value to a plain Go value (nil, bool, float64,
	// string, []any, map[string]any) for code that needs to inspect it
	// without engine-specific type assertions.
	Export() any

	// Call invokes this value as a function, with this as the receiver
	// and args as its arguments. Returns an error if the value is not
	// callable. Only safe to call from the agent thread — the same
	// restriction every other Agent/Value method carries.
	Call(this Value, args []Value) (Value, error)
}

// GlobalRef is a rooted handle to an engine value that survives garbage
// collection until explicitly consumed. Async tasks never touch the
// engine directly; they carry a GlobalRef and hand it to the event loop,
// which resolves or rejects it on the agent thread. Implementations
// (resource.Rid, jsagenttest.Ref) are concrete comparable types; this is
// an ordinary marker interface rather than a constraint, since it's used
// as a value type in struct fields, method parameters and type
// assertions throughout.
type GlobalRef interface {
	IsGlobalRef()
}

// ExceptionKind is the type tag a thrown engine exception carries.
type ExceptionKind string

const (
	ExceptionTypeError  ExceptionKind = "TypeError"
	ExceptionRangeError ExceptionKind = "RangeError"
	ExceptionError      ExceptionKind = "Error"
)

// NativeFunction is the handler shape for an installed extension op:
// (agent, this, args) -> (result, error). A non-nil error is thrown into
// the script as an engine exception.
type NativeFunction func(agent Agent, this Value, args []Value) (Value, error)

// PromiseCapability is the {promise, resolve, reject} triple the engine
// constructs; the host keeps Ref rooted and settles it later, typically
// from a macro-task dispatched by the event loop.
type PromiseCapability struct {
	Ref     GlobalRef
	Promise Value
}

// Agent is the single-threaded execution context of the embedded engine:
// the current realm, global object, microtask queue, and the host-data
// pointer the extension layer stores its per-extension state in.
type Agent interface {
	// CheckSyntax parses source as an ES module far enough to surface a
	// grammar violation (spec §4.2 step 4) without evaluating it. A
	// non-nil error's message is used verbatim as the module's
	// ParseError text. Import/export extraction (step 5) is handled by
	// the module system itself via a lexical scan, since it operates on
	// a small fixed grammar subset rather than requiring full AST
	// consumption from the engine.
	CheckSyntax(specifier, source string) error

	// Evaluate parses and runs source as a module in the agent's realm,
	// returning its completion value.
	Evaluate(specifier, source string) (Value, error)

	// NewPromise constructs a promise capability. The returned Promise
	// value is what a sync-returning `_async` op hands back to script
	// immediately; Ref is later passed to ResolvePromise/RejectPromise.
	NewPromise() *PromiseCapability

	// ResolvePromise settles a previously created promise with value v.
	// Must only be called from the agent thread (inside the event loop).
	ResolvePromise(ref GlobalRef, v Value)

	// ResolvePromiseWithString is the common case of resolving with a
	// plain string, avoiding a round trip through NewString at call
	// sites that only ever produce text.
	ResolvePromiseWithString(ref GlobalRef, s string)

	// RejectPromise rejects a previously created promise with a message.
	RejectPromise(ref GlobalRef, message string)

	// Throw builds an error value that, returned from a NativeFunction,
	// becomes a thrown engine exception of the given kind.
	Throw(kind ExceptionKind, message string) error

	// HostData returns the per-agent host-data pointer extensions use
	// for their typed storage and async task spawning.
	HostData() *hostdata.Data

	// NewString, NewNumber, NewBool, NewArray and NewObject construct
	// engine values from Go data (spec §4.1's "string/number/array
	// construction" primitives).
	NewString(s string) Value
	NewNumber(n float64) Value
	NewBool(b bool) Value
	NewArray(items ...Value) Value
	NewObject(fields map[string]Value) Value
	Null() Value
	Undefined() Value

	// DefineGlobalFunction installs a NativeFunction on the global
	// object under name (spec §4.1 step 2).
	DefineGlobalFunction(name string, fn NativeFunction) error

	// DefineNamespaceFunction installs a NativeFunction on a namespace
	// object (created on first use) under name.
	DefineNamespaceFunction(namespace, name string, fn NativeFunction) error

	// DrainMicrotasks runs the engine's microtask queue to empty. Called
	// by the event loop between macro-tasks (spec §5).
	DrainMicrotasks()
}
