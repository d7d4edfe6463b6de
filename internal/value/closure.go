package value

import "gscript/internal/gc"

// Upvalue is either open (aliasing a live stack slot of some thread)
// or closed (owning its value).
type Upvalue struct {
	stack  *Value // non-nil while open
	closed Value
	touched bool // avoids re-marking through threads that have not run
}

func NewOpenUpvalue(slot *Value) *Upvalue { return &Upvalue{stack: slot} }

// NewClosedUpvalue builds an already-closed upvalue directly owning v,
// used by internal/vm to bind the outermost chunk's "_ENV" upvalue
// straight to the global table (no stack slot ever aliases it).
func NewClosedUpvalue(v Value) *Upvalue { return &Upvalue{closed: v} }

func (u *Upvalue) IsOpen() bool { return u.stack != nil }

// Close copies the current stack value into the upvalue and severs
// the stack alias.
func (u *Upvalue) Close() {
	if u.stack != nil {
		u.closed = *u.stack
		u.stack = nil
	}
}

func (u *Upvalue) Get() Value {
	if u.stack != nil {
		return *u.stack
	}
	return u.closed
}

func (u *Upvalue) Set(v Value) {
	if u.stack != nil {
		*u.stack = v
		return
	}
	u.closed = v
}

// Closure pairs a prototype with its captured upvalues. GC-managed:
// its referents are the prototype and every closed upvalue's value;
// open upvalues are reached through the owning thread's stack
// instead.
type Closure struct {
	header gc.Header
	Proto  Proto
	Upvals []*Upvalue
}

func NewClosure(proto Proto, numUpvals int) *Closure {
	return &Closure{Proto: proto, Upvals: make([]*Upvalue, numUpvals)}
}

func (c *Closure) Header() *gc.Header    { return &c.header }
func (c *Closure) Kind() gc.Kind         { return gc.KindClosure }
func (c *Closure) WeakMode() gc.WeakMode { return gc.WeakNone }
func (c *Closure) IsWhite() bool         { return c.header.IsWhite() }

func (c *Closure) Traverse(mark func(gc.Object)) {
	if c.Proto != nil {
		mark(c.Proto)
	}
	for _, uv := range c.Upvals {
		if uv == nil || uv.IsOpen() {
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

func (c *Closure) TraverseEphemeron(func(gc.Object) bool, func(gc.Object)) bool { return false }
func (c *Closure) ClearWeak(func(gc.Object) bool)                              {}
func (c *Closure) HasFinalizer() bool                                          { return false }
func (c *Closure) RunFinalizer() error                                         { return nil }
