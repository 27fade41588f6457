// Package hostdata implements the per-agent Host Data record (spec §3):
// the sender half of the macro-task channel, a heterogeneous typed
// storage map keyed by each extension's own type, and an async task
// spawner bound to a bounded worker pool.
//
// This follows the teacher's pluggable-backend idiom (pkg/fleet.Store
// selected by config, stored once on a struct) generalized to a
// type-keyed map: instead of one interface per backend, each extension
// stores exactly one value of its own singleton type and looks it up by
// that type later — the Go analogue of the spec's "type_id -> box of
// that type" storage.
package hostdata

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// MacroTask is a unit of work dispatched by the event loop between
// microtask drains. Required variants per spec §3; RunInterval,
// ClearInterval, RunAndClearTimeout and ClearTimeout are the
// user-defined timer variants layered on top by the timers extension.
type MacroTask struct {
	Kind MacroTaskKind

	// ResolvePromise / ResolvePromiseWithString / RejectPromise fields.
	PromiseRef any // jsagent.GlobalRef, kept untyped here to avoid an import cycle
	Value      any
	Message    string

	// Data backs ResolvePromiseWithData: a plain Go value (nil, bool,
	// float64/int, string, []any, map[string]any) the event loop
	// converts into an engine value on the agent thread, since the
	// spawning goroutine that produced it must never touch the engine
	// directly.
	Data any

	// Timer fields.
	TimerID int64
}

// MacroTaskKind tags which MacroTask variant is populated.
type MacroTaskKind int

const (
	KindResolvePromise MacroTaskKind = iota
	KindResolvePromiseWithString
	KindResolvePromiseWithData
	KindRejectPromise
	KindRunInterval
	KindClearInterval
	KindRunAndClearTimeout
	KindClearTimeout
)

// Data is the process-wide (per engine agent) host-data record.
type Data struct {
	tasks chan MacroTask

	storeMu sync.RWMutex
	store   map[reflect.Type]any

	spawner *spawner

	pendingTimers int64
}

// New creates a Host Data record with a macro-task channel that buffers
// up to 256 tasks and an async task spawner bounded to maxWorkers
// concurrent tasks.
func New(maxWorkers int) *Data {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	return &Data{
		tasks:   make(chan MacroTask, 256),
		store:   make(map[reflect.Type]any),
		spawner: newSpawner(maxWorkers),
	}
}

// Tasks returns the receive side of the macro-task channel, consumed by
// the event loop.
func (d *Data) Tasks() <-chan MacroTask { return d.tasks }

// Post enqueues a macro-task. Safe to call from any goroutine; it blocks
// while the channel already holds 256 undelivered tasks.
func (d *Data) Post(t MacroTask) { d.tasks <- t }

// PendingTasks reports whether any macro-task is queued, used by the
// event loop to decide whether it's safe to terminate.
func (d *Data) PendingTasks() bool { return len(d.tasks) > 0 }

// InFlight reports how many Spawn'd tasks have started but not yet
// returned. The event loop must keep running while this is nonzero even
// if the task channel is momentarily empty, since one of those tasks
// will eventually Post a macro-task back.
func (d *Data) InFlight() int64 { return atomic.LoadInt64(&d.spawner.inFlight) }

// PendingTimers reports how many setTimeout/setInterval timers are
// currently scheduled (not yet fired or cleared). A pending timer keeps
// the loop alive even though, until it fires, it has posted nothing and
// spawned nothing.
func (d *Data) PendingTimers() int64 { return atomic.LoadInt64(&d.pendingTimers) }

// AddPendingTimer adjusts the pending-timer count by delta. The timers
// extension calls this when scheduling (+1), clearing (-1) and firing a
// one-shot timer (-1); an interval keeps its slot until cleared.
func (d *Data) AddPendingTimer(delta int64) { atomic.AddInt64(&d.pendingTimers, delta) }

// Quiescent reports whether the loop may safely stop: no queued
// macro-task, nothing still running that could produce one, and no
// timer still scheduled to fire.
func (d *Data) Quiescent() bool {
	return !d.PendingTasks() && d.InFlight() == 0 && d.PendingTimers() == 0
}

// Set stores an extension's singleton value, keyed by T's type.
func Set[T any](d *Data, v T) {
	d.storeMu.Lock()
	defer d.storeMu.Unlock()
	d.store[reflect.TypeOf(v)] = v
}

// Get retrieves an extension's singleton value of type T, if one was
// stored via Set.
func Get[T any](d *Data) (T, bool) {
	d.storeMu.RLock()
	defer d.storeMu.RUnlock()
	var zero T
	want := reflect.TypeOf(zero)
	v, ok := d.store[want]
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// MustGet is Get but panics (an InternalError per spec §7 — this should
// not be reachable if extension registration ran storage_init first) if
// the value was never stored.
func MustGet[T any](d *Data) T {
	v, ok := Get[T](d)
	if !ok {
		var zero T
		panic(fmt.Sprintf("hostdata: no value stored of type %T", zero))
	}
	return v
}

// Spawn runs fn on the async runtime's worker pool. It returns once fn
// has been started; when maxWorkers tasks are already running, it blocks
// the caller until one of them finishes. fn must not touch the engine;
// it should do its I/O and then Post a MacroTask back onto Data's
// channel.
func (d *Data) Spawn(fn func(ctx context.Context)) {
	d.spawner.spawn(fn)
}

// Shutdown waits for in-flight spawned tasks to finish and closes the
// macro-task channel. Called when the agent tears down.
func (d *Data) Shutdown(ctx context.Context) error {
	err := d.spawner.wait(ctx)
	close(d.tasks)
	return err
}

// spawner is a bounded worker pool for async tasks, following the
// resilience package's bulkhead idea (bound concurrency, don't let one
// extension starve another) implemented with golang.org/x/sync/errgroup.
type spawner struct {
	g        *errgroup.Group
	ctx      context.Context
	inFlight int64
}

func newSpawner(maxWorkers int) *spawner {
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(maxWorkers)
	return &spawner{g: g, ctx: ctx}
}

func (s *spawner) spawn(fn func(ctx context.Context)) {
	atomic.AddInt64(&s.inFlight, 1)
	s.g.Go(func() error {
		defer atomic.AddInt64(&s.inFlight, -1)
		fn(s.ctx)
		return nil
	})
}

func (s *spawner) wait(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- s.g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
