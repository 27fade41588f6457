// Package jsagenttest provides a lightweight, engine-free jsagent.Agent
// implementation for unit tests of extensions and the event loop,
// following the teacher's NewServerWithIO test-double pattern
// (pkg/mcp.Server accepted injected io.Reader/io.Writer for testing
// instead of always wiring stdio).
package jsagenttest

import (
	"fmt"
	"sync"

	"github.com/freitascorp/andromeda/pkg/hostdata"
	"github.com/freitascorp/andromeda/pkg/jsagent"
)

// Value is the fake engine value: a thin wrapper around a Go value. If raw
// holds a func([]any) (any, error), the value is callable.
type Value struct{ raw any }

func (v Value) Export() any { return v.raw }

// Call invokes the wrapped func([]any) (any, error), if there is one.
func (v Value) Call(this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	fn, ok := v.raw.(func(args []any) (any, error))
	if !ok {
		return Value{}, fmt.Errorf("fake value is not callable")
	}
	raw := make([]any, len(args))
	for i, a := range args {
		raw[i] = a.Export()
	}
	result, err := fn(raw)
	if err != nil {
		return Value{}, err
	}
	return Value{raw: result}, nil
}

// Of wraps an arbitrary Go value as a fake engine Value.
func Of(v any) Value { return Value{raw: v} }

// OfFunc wraps a Go function as a callable fake engine Value.
func OfFunc(fn func(args []any) (any, error)) Value { return Value{raw: fn} }

// Ref is the fake GlobalRef: a simple incrementing id.
type Ref uint64

func (Ref) IsGlobalRef() {}

// Agent is a minimal, synchronous Agent double. Promises resolve/reject
// into an in-memory settlement log tests can inspect; no real
// microtask/event-loop semantics are modelled (the event loop package
// has its own tests for that behaviour using real channels).
type Agent struct {
	mu         sync.Mutex
	Globals    map[string]jsagent.NativeFunction
	Namespaces map[string]map[string]jsagent.NativeFunction
	data       *hostdata.Data

	nextRef     Ref
	Settlements map[Ref]Settlement

	SyntaxErrors map[string]error // specifier -> error CheckSyntax should return
}

// Settlement records what happened to a promise capability.
type Settlement struct {
	Resolved bool
	Rejected bool
	Value    any
	Message  string
}

// New creates a fake Agent with 4 async workers.
func New() *Agent {
	return &Agent{
		Globals:      make(map[string]jsagent.NativeFunction),
		Namespaces:   make(map[string]map[string]jsagent.NativeFunction),
		data:         hostdata.New(4),
		Settlements:  make(map[Ref]Settlement),
		SyntaxErrors: make(map[string]error),
	}
}

func (a *Agent) CheckSyntax(specifier, source string) error {
	if err, ok := a.SyntaxErrors[specifier]; ok {
		return err
	}
	return nil
}

func (a *Agent) Evaluate(specifier, source string) (jsagent.Value, error) {
	return Value{raw: source}, nil
}

func (a *Agent) NewPromise() *jsagent.PromiseCapability {
	a.mu.Lock()
	a.nextRef++
	ref := a.nextRef
	a.mu.Unlock()
	return &jsagent.PromiseCapability{Ref: ref, Promise: Value{raw: "promise"}}
}

func (a *Agent) ResolvePromise(ref jsagent.GlobalRef, v jsagent.Value) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settlements[ref.(Ref)] = Settlement{Resolved: true, Value: v.Export()}
}

func (a *Agent) ResolvePromiseWithString(ref jsagent.GlobalRef, s string) {
	a.ResolvePromise(ref, Value{raw: s})
}

func (a *Agent) RejectPromise(ref jsagent.GlobalRef, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settlements[ref.(Ref)] = Settlement{Rejected: true, Message: message}
}

func (a *Agent) Throw(kind jsagent.ExceptionKind, message string) error {
	return fmt.Errorf("%s: %s", kind, message)
}

func (a *Agent) HostData() *hostdata.Data { return a.data }

func (a *Agent) NewString(s string) jsagent.Value    { return Value{raw: s} }
func (a *Agent) NewNumber(n float64) jsagent.Value   { return Value{raw: n} }
func (a *Agent) NewBool(b bool) jsagent.Value        { return Value{raw: b} }
func (a *Agent) Null() jsagent.Value                 { return Value{raw: nil} }
func (a *Agent) Undefined() jsagent.Value            { return Value{raw: nil} }

func (a *Agent) NewArray(items ...jsagent.Value) jsagent.Value {
	out := make([]any, len(items))
	for i, v := range items {
		out[i] = v.Export()
	}
	return Value{raw: out}
}

func (a *Agent) NewObject(fields map[string]jsagent.Value) jsagent.Value {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v.Export()
	}
	return Value{raw: out}
}

func (a *Agent) DefineGlobalFunction(name string, fn jsagent.NativeFunction) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Globals[name] = fn
	return nil
}

func (a *Agent) DefineNamespaceFunction(namespace, name string, fn jsagent.NativeFunction) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	ns, ok := a.Namespaces[namespace]
	if !ok {
		ns = make(map[string]jsagent.NativeFunction)
		a.Namespaces[namespace] = ns
	}
	ns[name] = fn
	return nil
}

func (a *Agent) DrainMicrotasks() {}
