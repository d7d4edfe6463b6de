package lexer

import (
	"gscript/internal/code"
	"gscript/internal/value"
)

// localVar pairs a source name with the register holding it, in the
// order locals were declared (so scope exit can pop back to an
// earlier NActVar count).
type localVar struct {
	name string
	reg  int
}

// loopCtx tracks the break-jump list accumulating for the innermost
// enclosing loop, so `break` threads a jump into it.
type loopCtx struct {
	breakList int
	nactvar   int
}

// fstate is the parser's per-function-compile bookkeeping layered on
// top of code.FuncState: named-local scope resolution and upvalue
// capture chaining.
type fstate struct {
	fs     *code.FuncState
	parent *fstate

	locals []localVar
	loops  []*loopCtx

	strs     *value.Strings
	envUpval int // index of this function's "_ENV" upvalue
}

func newFstate(proto *code.Prototype, parent *fstate, strs *value.Strings) *fstate {
	var prev *code.FuncState
	if parent != nil {
		prev = parent.fs
	}
	f := &fstate{fs: code.NewFuncState(proto, prev), parent: parent, strs: strs}
	f.envUpval = f.ensureEnvUpval()
	return f
}

// ensureEnvUpval guarantees this function has an "_ENV" upvalue,
// capturing it from the parent's own _ENV upvalue (by upvalue index,
// OnStack=false) or, for the outermost chunk, installing upvalue 0 as
// a host-provided slot: internal/vm's closure-creation code special
// cases a closure with no parent by binding that upvalue directly to
// the global table instead of copying a parent register/upvalue.
func (f *fstate) ensureEnvUpval() int {
	for i, uv := range f.fs.Proto.Upvalues {
		if uv.Name == envName {
			return i
		}
	}
	idx := len(f.fs.Proto.Upvalues)
	desc := code.UpvalDesc{Name: envName, OnStack: false, Index: 0}
	if f.parent != nil {
		desc.Index = f.parent.envUpval
	}
	f.fs.Proto.Upvalues = append(f.fs.Proto.Upvalues, desc)
	return idx
}

const envName = "_ENV"

// declareLocal allocates the next free register to name and
// activates it as a local; locals occupy the frame prefix
// [0, NActVar).
func (f *fstate) declareLocal(name string) (int, error) {
	reg := f.fs.FreeReg
	if err := f.fs.Reserve(1); err != nil {
		return 0, err
	}
	f.locals = append(f.locals, localVar{name: name, reg: reg})
	f.fs.NActVar++
	return reg, nil
}

// activateLocal registers name as a local bound to an already-reserved
// register (the caller has already made room via Reserve), without
// allocating a new register as declareLocal would.
func (f *fstate) activateLocal(name string, reg int) {
	f.locals = append(f.locals, localVar{name: name, reg: reg})
	f.fs.NActVar++
}

// enterBlock records the current local/register count so leaveBlock
// can roll both back at scope exit.
func (f *fstate) enterBlock() int { return len(f.locals) }

// leaveBlock pops locals declared since mark, releasing their
// registers and restoring NActVar/FreeReg.
func (f *fstate) leaveBlock(mark int) {
	removed := len(f.locals) - mark
	if removed <= 0 {
		return
	}
	f.locals = f.locals[:mark]
	f.fs.NActVar -= removed
	f.fs.FreeReg = f.fs.NActVar
}

// resolveLocal looks up name among this function's own active locals,
// innermost declaration wins (shadowing).
func (f *fstate) resolveLocal(name string) (int, bool) {
	for i := len(f.locals) - 1; i >= 0; i-- {
		if f.locals[i].name == name {
			return f.locals[i].reg, true
		}
	}
	return 0, false
}

// resolveUpvalue finds name in an enclosing function (recursively)
// and threads an upvalue capture chain down to f, reusing an existing
// upvalue descriptor if one already captures the same source.
func (f *fstate) resolveUpvalue(name string) (int, bool) {
	for i, uv := range f.fs.Proto.Upvalues {
		if uv.Name == name {
			return i, true
		}
	}
	if f.parent == nil {
		return 0, false
	}
	if reg, ok := f.parent.resolveLocal(name); ok {
		idx := len(f.fs.Proto.Upvalues)
		f.fs.Proto.Upvalues = append(f.fs.Proto.Upvalues, code.UpvalDesc{
			Name: name, OnStack: true, Index: reg,
		})
		return idx, true
	}
	if pidx, ok := f.parent.resolveUpvalue(name); ok {
		idx := len(f.fs.Proto.Upvalues)
		f.fs.Proto.Upvalues = append(f.fs.Proto.Upvalues, code.UpvalDesc{
			Name: name, OnStack: false, Index: pidx,
		})
		return idx, true
	}
	return 0, false
}

// resolveVar builds the descriptor for reading name: LOCAL, UPVAL,
// or a global lowered to _ENV[name] (INDEXED against the _ENV
// upvalue).
func (f *fstate) resolveVar(name string) (code.ExprDesc, error) {
	if reg, ok := f.resolveLocal(name); ok {
		return code.NewLocalExpr(reg), nil
	}
	if idx, ok := f.resolveUpvalue(name); ok {
		return code.NewUpvalExpr(idx), nil
	}
	idx, err := f.fs.StringConstant(f.strs, name)
	if err != nil {
		return code.ExprDesc{}, err
	}
	return code.IndexedExpr(f.envUpval, true, code.RKAsK(idx)), nil
}

