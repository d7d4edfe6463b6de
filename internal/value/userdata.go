package value

import "gscript/internal/gc"

// Userdata wraps a host Go value inside the GC heap, with an
// optional metatable carrying a __gc finalizer; finalizer-bearing
// objects get routed to finobj/tobefnz by internal/gc, driven by
// HasFinalizer/RunFinalizer.
type Userdata struct {
	header gc.Header
	Data   any
	meta   *Table
	gcFn   func(*Userdata) error
}

func NewUserdata(data any) *Userdata {
	return &Userdata{Data: data}
}

func (u *Userdata) Header() *gc.Header    { return &u.header }
func (u *Userdata) Kind() gc.Kind         { return gc.KindUserdata }
func (u *Userdata) WeakMode() gc.WeakMode { return gc.WeakNone }
func (u *Userdata) IsWhite() bool         { return u.header.IsWhite() }

func (u *Userdata) Metatable() *Table { return u.meta }
func (u *Userdata) SetMetatable(mt *Table) { u.meta = mt }

// SetFinalizer installs fn as the object's __gc metamethod. Called
// by internal/vm's host glue when a metatable carrying __gc is
// assigned.
func (u *Userdata) SetFinalizer(fn func(*Userdata) error) { u.gcFn = fn }

func (u *Userdata) HasFinalizer() bool { return u.gcFn != nil }

func (u *Userdata) RunFinalizer() error {
	if u.gcFn == nil {
		return nil
	}
	fn := u.gcFn
	u.gcFn = nil
	return fn(u)
}

func (u *Userdata) Traverse(mark func(gc.Object)) {
	if u.meta != nil {
		mark(u.meta)
	}
}

func (u *Userdata) TraverseEphemeron(func(gc.Object) bool, func(gc.Object)) bool { return false }
func (u *Userdata) ClearWeak(func(gc.Object) bool)                              {}
