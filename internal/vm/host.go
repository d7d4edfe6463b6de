// Package vm implements the bytecode interpreter loop and the host
// embedding surface: a dispatch loop consuming internal/code's
// prototypes and internal/gc's heap, with one register window per
// call frame sized by each prototype's MaxStackSize.
package vm

import (
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gscript/internal/gc"
	"gscript/internal/value"
)

// Size estimates charged to the collector's allocation debt. These
// are nominal (the Go runtime's actual allocation is opaque to the
// collector) but give CheckGC a believable debt signal.
const (
	sizeTable    = 56
	sizeClosure  = 32
	sizeUserdata = 24
	sizeThread   = 48
	sizeString   = 16
)

// Host glues internal/gc's heap to the concrete value types in
// internal/value: allocation, collection checkpoints, write barriers
// and finalizer registration, plus the global table and main thread
// every closure's "_ENV" upvalue ultimately bottoms out at.
type Host struct {
	Heap    *gc.Heap
	Strs    *value.Strings
	Globals *value.Table
	Main    *value.Thread

	ID uuid.UUID

	// caller lets a finalizer (__gc) invoke a closure as ordinary user
	// code without internal/gc or internal/value importing
	// internal/vm. Wired by New once a VM exists for this host.
	caller func(fn value.Value, args []value.Value) ([]value.Value, error)

	log zerolog.Logger
}

// NewHost builds a Host with a fresh heap, global table and main
// thread, wiring the heap's root-marking callback to those two
// roots; everything else (stdlib registrations included) is reachable
// through the globals table.
func NewHost(log zerolog.Logger) *Host {
	h := &Host{
		Strs:    value.NewStrings(0x9e3779b9),
		Globals: value.NewTable(),
		Main:    value.NewThread(stackSlots),
		ID:      uuid.New(),
		log:     log.With().Str("component", "vm").Logger(),
	}
	h.Heap = gc.NewHeap(h.markRoots, log)
	h.Heap.NewObject(h.Globals, sizeTable)
	h.Heap.NewObject(h.Main, sizeThread)
	return h
}

func (h *Host) markRoots(mark func(gc.Object)) {
	mark(h.Globals)
	mark(h.Main)
}

// SetCaller wires the finalizer-invocation callback; called once by
// New after the VM exists, breaking the otherwise-circular
// Host<->VM construction order.
func (h *Host) SetCaller(fn func(value.Value, []value.Value) ([]value.Value, error)) {
	h.caller = fn
}

// --- allocation ---

func (h *Host) NewTable() *value.Table {
	t := value.NewTable()
	h.Heap.NewObject(t, sizeTable)
	h.Heap.CheckGC()
	return t
}

func (h *Host) NewClosure(proto value.Proto, numUpvals int) *value.Closure {
	c := value.NewClosure(proto, numUpvals)
	h.Heap.NewObject(c, sizeClosure)
	h.Heap.CheckGC()
	return c
}

func (h *Host) NewUserdata(data any) *value.Userdata {
	u := value.NewUserdata(data)
	h.Heap.NewObject(u, sizeUserdata)
	h.Heap.CheckGC()
	return u
}

func (h *Host) NewThread() *value.Thread {
	t := value.NewThread(stackSlots)
	h.Heap.NewObject(t, sizeThread)
	h.Heap.CheckGC()
	return t
}

// InternString mints (or looks up) a long string as a heap object
// charged against debt; short strings are unboxed and free.
func (h *Host) InternString(s string) value.Value {
	v := h.Strs.Intern(s)
	if v.IsCollectable() {
		if obj, ok := v.AsObject().(gc.Object); ok {
			h.Heap.NewObject(obj, sizeString)
		}
	}
	return v
}

// CheckGC advances the collector if allocation debt is due.
func (h *Host) CheckGC() { h.Heap.CheckGC() }

// FullGC forces a complete collection cycle.
func (h *Host) FullGC(emergency bool) { h.Heap.FullGC(emergency) }

// --- write barriers ---

// TableSet performs a raw table store followed by the backward
// barrier: tables change too often for the forward barrier's
// immediate-mark strategy to pay off.
func (h *Host) TableSet(t *value.Table, k, v value.Value) {
	t.Set(k, v)
	h.Heap.Barrier().Backward(t)
}

// Barrier is the forward barrier entry point: used for low-churn
// reference sites (closed upvalues, prototype build time, host API
// stores) where immediately marking the child is cheaper than
// demoting parent to gray.
func (h *Host) Barrier(parent gc.Object, v value.Value) {
	if !v.IsCollectable() {
		return
	}
	if child, ok := v.AsObject().(gc.Object); ok {
		h.Heap.Barrier().Forward(parent, child)
	}
}

// BarrierBack demotes a mutated black table back to gray.
func (h *Host) BarrierBack(t *value.Table) { h.Heap.Barrier().Backward(t) }

// UpvalueBarrier covers upvalue stores: closing an upvalue (or
// storing through a closed one held by a black closure) is a
// forward-barrier site, since upvalues rarely get rewritten after
// closing.
func (h *Host) UpvalueBarrier(owner gc.Object, v value.Value) { h.Barrier(owner, v) }

// --- weak tables & finalizers ---

// WeakModeFromString decodes a `__mode` metatable string ('k', 'v',
// or "kv") into the collector's weakness mode.
func WeakModeFromString(mode string) gc.WeakMode {
	k := strings.ContainsRune(mode, 'k')
	v := strings.ContainsRune(mode, 'v')
	switch {
	case k && v:
		return gc.WeakBoth
	case k:
		return gc.WeakKeys
	case v:
		return gc.WeakValues
	default:
		return gc.WeakNone
	}
}

// CheckFinalizer is called when mt is installed on target. If mt
// carries a `__gc` entry, the object is reclassified onto the
// finalizable list and its RunFinalizer is wired to invoke that entry
// as ordinary user code via h.caller.
func (h *Host) CheckFinalizer(mt *value.Table, target any) {
	if mt == nil {
		return
	}
	gcFn := mt.Get(h.Strs.Literal("__gc"))
	if gcFn.IsNil() {
		return
	}
	switch obj := target.(type) {
	case *value.Userdata:
		obj.SetMetatable(mt)
		obj.SetFinalizer(func(u *value.Userdata) error {
			_, err := h.invokeFinalizer(gcFn, value.Object(value.TagUserdata, u))
			return err
		})
		h.Heap.MarkFinalizable(obj)
	case *value.Table:
		mode := obj.WeakMode()
		if modeStr := mt.Get(h.Strs.Literal("__mode")); modeStr.IsString() {
			mode = WeakModeFromString(modeStr.Str())
		}
		obj.SetMetatable(mt, mode)
		obj.SetFinalizer(func(t *value.Table) error {
			_, err := h.invokeFinalizer(gcFn, value.Object(value.TagTable, t))
			return err
		})
		h.Heap.MarkFinalizable(obj)
	}
}

func (h *Host) invokeFinalizer(fn, self value.Value) ([]value.Value, error) {
	if h.caller == nil {
		return nil, nil
	}
	return h.caller(fn, []value.Value{self})
}
