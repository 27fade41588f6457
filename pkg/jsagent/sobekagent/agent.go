// Package sobekagent is the concrete jsagent.Agent backed by
// github.com/grafana/sobek, grounded on the goja-family API the sobek
// vendor file in the pack documents (ModuleRecord/CyclicModuleRecord
// machinery, Runtime.NewPromise, panic-to-throw native function
// binding). This is the only package in the module allowed to import
// sobek directly.
package sobekagent

import (
	"errors"
	"fmt"

	"github.com/grafana/sobek"

	"github.com/freitascorp/andromeda/pkg/hostdata"
	"github.com/freitascorp/andromeda/pkg/jsagent"
	"github.com/freitascorp/andromeda/pkg/resource"
)

// value wraps a sobek.Value as a jsagent.Value.
type value struct{ v sobek.Value }

func (w value) Export() any { return normalizeExport(w.v.Export()) }

// normalizeExport turns the int64 sobek exports for integral numbers into
// float64, the number type jsagent.Value.Export promises, recursing into
// exported arrays and objects.
func normalizeExport(x any) any {
	switch v := x.(type) {
	case int64:
		return float64(v)
	case []any:
		for i, e := range v {
			v[i] = normalizeExport(e)
		}
	case map[string]any:
		for k, e := range v {
			v[k] = normalizeExport(e)
		}
	}
	return x
}

// Call invokes w as a function via sobek.AssertFunction, the same
// mechanism goja exposes for calling a script value from Go.
func (w value) Call(this jsagent.Value, args []jsagent.Value) (jsagent.Value, error) {
	fn, ok := sobek.AssertFunction(w.v)
	if !ok {
		return nil, fmt.Errorf("value is not callable")
	}
	rtArgs := make([]sobek.Value, len(args))
	for i, a := range args {
		rtArgs[i] = unwrap(a)
	}
	result, err := fn(unwrap(this), rtArgs...)
	if err != nil {
		return nil, err
	}
	return wrap(result), nil
}

func wrap(v sobek.Value) jsagent.Value { return value{v: v} }

func unwrap(v jsagent.Value) sobek.Value {
	if v == nil {
		return sobek.Undefined()
	}
	return v.(value).v
}

// thrownException is what Throw returns; the native-function binding
// shim recognizes it and converts it to a panic carrying the right
// sobek error type, since sobek (like goja) signals a thrown script
// exception by panicking with an *Object built from NewTypeError et al.
type thrownException struct {
	kind    jsagent.ExceptionKind
	message string
}

func (e *thrownException) Error() string {
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

// promiseHandles is what a resource.Table entry stores for a live,
// not-yet-settled promise capability: the resolve/reject closures
// sobek.Runtime.NewPromise hands back.
type promiseHandles struct {
	resolve func(any)
	reject  func(any)
}

// Agent is the sobek-backed jsagent.Agent. Not safe for concurrent use
// from more than one goroutine — exactly like a sobek.Runtime itself,
// which is single-threaded by design; all calls must come from the
// event loop's own goroutine.
type Agent struct {
	rt         *sobek.Runtime
	data       *hostdata.Data
	namespaces map[string]*sobek.Object
	promises   *resource.Table[*promiseHandles]
}

// New constructs a fresh sobek runtime wired to data.
func New(data *hostdata.Data) *Agent {
	return &Agent{
		rt:         sobek.New(),
		data:       data,
		namespaces: make(map[string]*sobek.Object),
		promises:   resource.NewTable[*promiseHandles](),
	}
}

func (a *Agent) CheckSyntax(specifier, source string) error {
	_, err := sobek.Compile(specifier, source, true)
	return err
}

func (a *Agent) Evaluate(specifier, source string) (jsagent.Value, error) {
	prg, err := sobek.Compile(specifier, source, true)
	if err != nil {
		return nil, err
	}
	v, err := a.rt.RunProgram(prg)
	if err != nil {
		return nil, err
	}
	return wrap(v), nil
}

func (a *Agent) NewPromise() *jsagent.PromiseCapability {
	promise, resolve, reject := a.rt.NewPromise()
	rid := a.promises.Push(&promiseHandles{resolve: resolve, reject: reject})
	return &jsagent.PromiseCapability{Ref: rid, Promise: wrap(a.rt.ToValue(promise))}
}

func (a *Agent) settlement(ref jsagent.GlobalRef) (*promiseHandles, resource.Rid, bool) {
	rid, ok := ref.(resource.Rid)
	if !ok {
		return nil, 0, false
	}
	h, ok := a.promises.Get(rid)
	return h, rid, ok
}

func (a *Agent) ResolvePromise(ref jsagent.GlobalRef, v jsagent.Value) {
	h, rid, ok := a.settlement(ref)
	if !ok {
		return
	}
	h.resolve(v.Export())
	a.promises.Remove(rid)
}

func (a *Agent) ResolvePromiseWithString(ref jsagent.GlobalRef, s string) {
	h, rid, ok := a.settlement(ref)
	if !ok {
		return
	}
	h.resolve(s)
	a.promises.Remove(rid)
}

func (a *Agent) RejectPromise(ref jsagent.GlobalRef, message string) {
	h, rid, ok := a.settlement(ref)
	if !ok {
		return
	}
	h.reject(errors.New(message))
	a.promises.Remove(rid)
}

func (a *Agent) Throw(kind jsagent.ExceptionKind, message string) error {
	return &thrownException{kind: kind, message: message}
}

func (a *Agent) HostData() *hostdata.Data { return a.data }

func (a *Agent) NewString(s string) jsagent.Value  { return wrap(a.rt.ToValue(s)) }
func (a *Agent) NewNumber(n float64) jsagent.Value { return wrap(a.rt.ToValue(n)) }
func (a *Agent) NewBool(b bool) jsagent.Value      { return wrap(a.rt.ToValue(b)) }
func (a *Agent) Null() jsagent.Value               { return wrap(sobek.Null()) }
func (a *Agent) Undefined() jsagent.Value          { return wrap(sobek.Undefined()) }

func (a *Agent) NewArray(items ...jsagent.Value) jsagent.Value {
	raw := make([]any, len(items))
	for i, it := range items {
		raw[i] = it.Export()
	}
	return wrap(a.rt.ToValue(a.rt.NewArray(raw...)))
}

func (a *Agent) NewObject(fields map[string]jsagent.Value) jsagent.Value {
	obj := a.rt.NewObject()
	for k, v := range fields {
		_ = obj.Set(k, v.Export())
	}
	return wrap(obj)
}

// bind turns a jsagent.NativeFunction into the sobek function-value
// shape: a native call panics to signal a thrown exception, which is
// how sobek (like goja) propagates a native error into script-catchable
// form.
func (a *Agent) bind(fn jsagent.NativeFunction) func(sobek.FunctionCall) sobek.Value {
	return func(call sobek.FunctionCall) sobek.Value {
		args := make([]jsagent.Value, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = wrap(arg)
		}
		result, err := fn(a, wrap(call.This), args)
		if err != nil {
			panic(a.exceptionValue(err))
		}
		if result == nil {
			return sobek.Undefined()
		}
		return unwrap(result)
	}
}

func (a *Agent) exceptionValue(err error) sobek.Value {
	var te *thrownException
	if errors.As(err, &te) {
		switch te.kind {
		case jsagent.ExceptionTypeError:
			return a.rt.ToValue(a.rt.NewTypeError(te.message))
		case jsagent.ExceptionRangeError:
			if ctor, ok := sobek.AssertConstructor(a.rt.Get("RangeError")); ok {
				if obj, err := ctor(nil, a.rt.ToValue(te.message)); err == nil {
					return obj
				}
			}
			return a.rt.ToValue(a.rt.NewGoError(errors.New(te.message)))
		default:
			return a.rt.ToValue(a.rt.NewGoError(errors.New(te.message)))
		}
	}
	return a.rt.ToValue(a.rt.NewGoError(err))
}

func (a *Agent) DefineGlobalFunction(name string, fn jsagent.NativeFunction) error {
	return a.rt.Set(name, a.bind(fn))
}

func (a *Agent) DefineNamespaceFunction(namespace, name string, fn jsagent.NativeFunction) error {
	ns, ok := a.namespaces[namespace]
	if !ok {
		ns = a.rt.NewObject()
		a.namespaces[namespace] = ns
		if err := a.rt.Set(namespace, ns); err != nil {
			return err
		}
	}
	return ns.Set(name, a.bind(fn))
}

// DrainMicrotasks is a no-op: sobek, like goja, runs queued promise
// reaction jobs to completion as part of the call that enqueued them
// (RunProgram, a native function return, ResolvePromise/RejectPromise),
// so there is no separate job queue for the host to pump between
// macro-tasks.
func (a *Agent) DrainMicrotasks() {}
