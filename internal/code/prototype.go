package code

import (
	"gscript/internal/gc"
	"gscript/internal/value"
)

// UpvalDesc names an upvalue a prototype captures: either from the
// enclosing function's stack (OnStack) or from one of the enclosing
// function's own upvalues, by Index into the appropriate vector.
type UpvalDesc struct {
	Name     string
	OnStack  bool
	Index    int
}

// LocalVar records a named local's live PC range, used for debug
// listings and for closing upvalues at the right scope exit.
type LocalVar struct {
	Name    string
	StartPC int
	EndPC   int
}

// Prototype is a compiled function template. It is itself a
// GC-managed heap object, so a Closure's reference to it participates
// in mark/sweep like any other heap edge.
type Prototype struct {
	header gc.Header

	Code  []Instruction
	Lines []int32

	Constants []value.Value
	Protos    []*Prototype

	Upvalues []UpvalDesc
	Locals   []LocalVar

	NumParams_   int
	IsVararg_    bool
	MaxStack int

	Source string
}

// MaxStackSizeLimit caps a frame's register count; register indexes
// must fit the instruction word's 8-bit A field.
const MaxStackSizeLimit = 255

// MaxConstants caps a prototype's constant pool at what LOADKX's
// 26-bit EXTRAARG can address.
const MaxConstants = 1 << 26

func NewPrototype(source string) *Prototype {
	return &Prototype{Source: source}
}

func (p *Prototype) Header() *gc.Header    { return &p.header }
func (p *Prototype) Kind() gc.Kind         { return gc.KindPrototype }
func (p *Prototype) WeakMode() gc.WeakMode { return gc.WeakNone }
func (p *Prototype) IsWhite() bool         { return p.header.IsWhite() }

func (p *Prototype) NumParams() int     { return p.NumParams_ }
func (p *Prototype) IsVararg() bool     { return p.IsVararg_ }
func (p *Prototype) MaxStackSize() int  { return p.MaxStack }

func (p *Prototype) Traverse(mark func(gc.Object)) {
	for _, c := range p.Constants {
		if c.IsCollectable() {
			if obj, ok := c.AsObject().(gc.Object); ok {
				mark(obj)
			}
		}
	}
	for _, child := range p.Protos {
		mark(child)
	}
}

func (p *Prototype) TraverseEphemeron(func(gc.Object) bool, func(gc.Object)) bool { return false }
func (p *Prototype) ClearWeak(func(gc.Object) bool)                              {}
func (p *Prototype) HasFinalizer() bool                                          { return false }
func (p *Prototype) RunFinalizer() error                                         { return nil }

var _ value.Proto = (*Prototype)(nil)
