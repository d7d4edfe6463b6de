package value

import "gscript/internal/gc"

// Thread is a cooperative execution context (coroutine): many
// Threads share one global heap, switching only at explicit
// yield/resume points. It owns a value stack and the list of upvalues
// it has opened over that stack.
type Thread struct {
	header gc.Header
	Stack  []Value
	Open   []*Upvalue // in creation order, not sorted by stack slot
	Status ThreadStatus
}

type ThreadStatus uint8

const (
	ThreadSuspended ThreadStatus = iota
	ThreadRunning
	ThreadNormal
	ThreadDead
)

func NewThread(stackSize int) *Thread {
	return &Thread{Stack: make([]Value, stackSize)}
}

func (t *Thread) Header() *gc.Header    { return &t.header }
func (t *Thread) Kind() gc.Kind         { return gc.KindThread }
func (t *Thread) WeakMode() gc.WeakMode { return gc.WeakNone }
func (t *Thread) IsWhite() bool         { return t.header.IsWhite() }

// FindOpenUpvalue returns the existing open upvalue aliasing slot, if
// any, so that two closures capturing the same local share one
// Upvalue object.
func (t *Thread) FindOpenUpvalue(slot *Value) *Upvalue {
	for _, uv := range t.Open {
		if uv.IsOpen() && uv.stack == slot {
			return uv
		}
	}
	return nil
}

// OpenUpvalue returns a (possibly newly created) open upvalue over
// slot; a new one is appended to Open.
func (t *Thread) OpenUpvalue(slot *Value) *Upvalue {
	if uv := t.FindOpenUpvalue(slot); uv != nil {
		return uv
	}
	uv := NewOpenUpvalue(slot)
	t.Open = append(t.Open, uv)
	return uv
}

// CloseUpvalues closes every open upvalue aliasing a slot at index
// >= level, used on block exit and thread death.
func (t *Thread) CloseUpvalues(level int) {
	kept := t.Open[:0]
	for _, uv := range t.Open {
		if uv.IsOpen() && t.slotIndex(uv.stack) >= level {
			uv.Close()
			continue
		}
		kept = append(kept, uv)
	}
	t.Open = kept
}

func (t *Thread) slotIndex(slot *Value) int {
	for i := range t.Stack {
		if &t.Stack[i] == slot {
			return i
		}
	}
	return -1
}

func (t *Thread) Traverse(mark func(gc.Object)) {
	for i := range t.Stack {
		v := t.Stack[i]
		if v.IsCollectable() {
			if obj, ok := v.AsObject().(gc.Object); ok {
				mark(obj)
			}
		}
	}
	for _, uv := range t.Open {
		if uv.IsOpen() || uv.touched {
			continue
		}
		v := uv.closed
		if v.IsCollectable() {
			if obj, ok := v.AsObject().(gc.Object); ok {
				mark(obj)
			}
		}
	}
}

func (t *Thread) TraverseEphemeron(func(gc.Object) bool, func(gc.Object)) bool { return false }
func (t *Thread) ClearWeak(func(gc.Object) bool)                              {}
func (t *Thread) HasFinalizer() bool                                          { return false }
func (t *Thread) RunFinalizer() error                                         { return nil }
