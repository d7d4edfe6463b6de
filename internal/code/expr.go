package code

import (
	"math"

	"gscript/internal/value"
)

// ExprKind is the expression descriptor's variant tag.
type ExprKind uint8

const (
	EVoid ExprKind = iota
	ENil
	ETrue
	EFalse
	EKFlt
	EKInt
	EK
	ENonReloc
	ELocal
	EUpval
	EIndexed
	EJmp
	ERelocable
	ECall
	EVararg
)

// ExprDesc is a partially-evaluated expression not yet committed to
// a register, constant, or jump target. Which payload fields are
// meaningful depends on Kind; the compiler never fixes a value's
// location until forced, so most operators work on descriptors and
// only discharge them on demand.
type ExprDesc struct {
	Kind ExprKind

	Info int // register / pc / upvalue-index / const-index, per Kind
	Aux  int // INDEXED: R/K-encoded key

	TableReg     int // INDEXED: register or upvalue index holding the table
	TableIsUpval bool

	IntVal int64
	FltVal float64

	T, F int // truelist, falselist heads (NoJump when empty)
}

// newExpr constructs a descriptor in its initial state: both jump
// lists empty (T == F == NoJump).
func newExpr(kind ExprKind) ExprDesc { return ExprDesc{Kind: kind, T: NoJump, F: NoJump} }

func NewVoidExpr() ExprDesc  { return newExpr(EVoid) }
func NewNilExpr() ExprDesc   { return newExpr(ENil) }
func NewTrueExpr() ExprDesc  { return newExpr(ETrue) }
func NewFalseExpr() ExprDesc { return newExpr(EFalse) }

func NewIntExpr(v int64) ExprDesc {
	e := newExpr(EKInt)
	e.IntVal = v
	return e
}

func NewFloatExpr(v float64) ExprDesc {
	e := newExpr(EKFlt)
	e.FltVal = v
	return e
}

// NewKExpr wraps an already-pooled constant index (e.g. a string
// literal interned via StringConstant) as an EK descriptor.
func NewKExpr(idx int) ExprDesc {
	e := newExpr(EK)
	e.Info = idx
	return e
}

func NewLocalExpr(reg int) ExprDesc {
	e := newExpr(ELocal)
	e.Info = reg
	return e
}

func NewUpvalExpr(idx int) ExprDesc {
	e := newExpr(EUpval)
	e.Info = idx
	return e
}

func NewNonRelocExpr(reg int) ExprDesc {
	e := newExpr(ENonReloc)
	e.Info = reg
	return e
}

func NewRelocableExpr(pc int) ExprDesc {
	e := newExpr(ERelocable)
	e.Info = pc
	return e
}

// NewCallExpr and NewVarargExpr wrap a just-emitted CALL/VARARG
// instruction's pc as a multi-result-capable descriptor, resolved
// later by SetOneResult/SetMultiResults.
func NewCallExpr(pc int) ExprDesc {
	e := newExpr(ECall)
	e.Info = pc
	return e
}

func NewVarargExpr(pc int) ExprDesc {
	e := newExpr(EVararg)
	e.Info = pc
	return e
}

// HasJumps reports whether e has pending true/false exits. The two
// heads are compared rather than checked against NoJump: a descriptor
// whose lists are equal and nonempty behaves as jump-free.
func (e *ExprDesc) HasJumps() bool { return e.T != e.F }

// IsLiteral reports whether e is a fold-ready compile-time literal.
func (e *ExprDesc) IsLiteral() bool {
	switch e.Kind {
	case ENil, ETrue, EFalse, EKInt, EKFlt:
		return true
	default:
		return false
	}
}

// --- variable discharge ---

// DischargeVars eliminates LOCAL/UPVAL/INDEXED, replacing them with a
// descriptor whose value still isn't committed to a fixed register
// (RELOCABLE) except LOCAL, which already has one (NONRELOC).
func (fs *FuncState) DischargeVars(e *ExprDesc) error {
	switch e.Kind {
	case ELocal:
		e.Kind = ENonReloc
	case EUpval:
		pc := fs.EmitABC(OpGetUpval, 0, e.Info, 0, fs.currentLine())
		e.Kind = ERelocable
		e.Info = pc
	case EIndexed:
		fs.FreeIndexed(e)
		var pc int
		if e.TableIsUpval {
			pc = fs.EmitABC(OpGetTabUp, 0, e.TableReg, e.Aux, fs.currentLine())
		} else {
			pc = fs.EmitABC(OpGetTable, 0, e.TableReg, e.Aux, fs.currentLine())
		}
		e.Kind = ERelocable
		e.Info = pc
	case ECall:
		fs.SetOneResult(e)
	case EVararg:
		fs.SetOneResult(e)
	}
	return nil
}

// FreeIndexed frees the registers an INDEXED descriptor was holding
// for its table/key (in descending order), called just before the
// descriptor is discharged into a GETTABLE.
func (fs *FuncState) FreeIndexed(e *ExprDesc) {
	if e.Kind != EIndexed {
		return
	}
	tableIsReg := !e.TableIsUpval
	keyIsReg := !IsK(e.Aux)
	switch {
	case tableIsReg && keyIsReg:
		fs.FreePair(e.TableReg, e.Aux)
	case tableIsReg:
		fs.Free(e.TableReg)
	case keyIsReg:
		fs.Free(e.Aux)
	}
}

// --- call/vararg result-count fixing ---

// SetOneResult fixes a CALL or VARARG descriptor to produce exactly
// one value.
func (fs *FuncState) SetOneResult(e *ExprDesc) {
	switch e.Kind {
	case ECall:
		instr := fs.Code(e.Info)
		instr.SetC(2)
		fs.SetCode(e.Info, instr)
		e.Kind = ENonReloc
		e.Info = instr.A()
	case EVararg:
		instr := fs.Code(e.Info)
		instr.SetB(2)
		fs.SetCode(e.Info, instr)
		e.Kind = ERelocable
	}
}

// SetMultiResults patches the producing instruction's result-count
// field to n+1, with n = -1 ("all available") encoding as 0. Used for
// the last expression of an argument list or assignment RHS.
func (fs *FuncState) SetMultiResults(e *ExprDesc, n int) {
	count := n + 1 // n=-1 -> sentinel 0 ("all available"); n=k -> k+1
	if n == -1 {
		count = 0
	}
	switch e.Kind {
	case ECall:
		instr := fs.Code(e.Info)
		instr.SetC(count)
		fs.SetCode(e.Info, instr)
	case EVararg:
		instr := fs.Code(e.Info)
		instr.SetB(count)
		instr.SetA(fs.FreeReg)
		fs.SetCode(e.Info, instr)
		fs.Reserve(1)
	}
}

// --- forcing a descriptor into a register or R/K operand ---

// ToNextReg forces e's value into the next free register, reserving
// it and binding e to ENonReloc at that register.
func (fs *FuncState) ToNextReg(e *ExprDesc) error {
	if err := fs.DischargeVars(e); err != nil {
		return err
	}
	fs.freeTempReg(e)
	reg := fs.FreeReg
	if err := fs.Reserve(1); err != nil {
		return err
	}
	return fs.ExpToReg(e, reg)
}

// freeTempReg releases the register e currently occupies, if any,
// before the caller re-commits it elsewhere.
func (fs *FuncState) freeTempReg(e *ExprDesc) {
	if e.Kind == ENonReloc {
		fs.Free(e.Info)
	}
}

// ToAnyReg returns a register holding e's value, allocating one only
// if e is not already sitting in one with no pending jumps.
func (fs *FuncState) ToAnyReg(e *ExprDesc) (int, error) {
	if err := fs.DischargeVars(e); err != nil {
		return 0, err
	}
	if e.Kind == ENonReloc && !e.HasJumps() {
		return e.Info, nil
	}
	if err := fs.ToNextReg(e); err != nil {
		return 0, err
	}
	return e.Info, nil
}

// ToRK returns an R/K-encoded operand for e: a pooled constant index
// when e is a foldable literal whose index fits in 8 bits, otherwise
// a register.
func (fs *FuncState) ToRK(e *ExprDesc) (int, error) {
	if idx, ok, err := fs.tryConstIndex(e); err != nil {
		return 0, err
	} else if ok && idx <= MaxIndexRK {
		return RKAsK(idx), nil
	}
	reg, err := fs.ToAnyReg(e)
	if err != nil {
		return 0, err
	}
	return reg, nil
}

func (fs *FuncState) tryConstIndex(e *ExprDesc) (int, bool, error) {
	switch e.Kind {
	case ENil:
		idx, err := fs.AddConstant(value.Nil)
		return idx, true, err
	case ETrue:
		idx, err := fs.AddConstant(value.Bool(true))
		return idx, true, err
	case EFalse:
		idx, err := fs.AddConstant(value.Bool(false))
		return idx, true, err
	case EKInt:
		idx, err := fs.AddConstant(value.Int(e.IntVal))
		return idx, true, err
	case EKFlt:
		idx, err := fs.AddConstant(value.Float(e.FltVal))
		return idx, true, err
	case EK:
		return e.Info, true, nil
	default:
		return 0, false, nil
	}
}

// --- discharge-to-a-specific-register (feeds boolean.go's ExpToReg) ---

// DischargeToReg materializes every non-jump descriptor kind into
// register reg: literals via LOADNIL/LOADBOOL/LOADK, RELOCABLE by
// patching the producing instruction's A field, NONRELOC via MOVE if
// it sits elsewhere. Jump-bearing descriptors (JMP, or anything with
// HasJumps()) are left to boolean.go's ExpToReg, which calls this
// first and then runs the LOADBOOL synthesis epilogue.
func (fs *FuncState) DischargeToReg(e *ExprDesc, reg int) error {
	if err := fs.DischargeVars(e); err != nil {
		return err
	}
	line := fs.currentLine()
	switch e.Kind {
	case ENil:
		fs.EmitABC(OpLoadNil, reg, 0, 0, line)
	case ETrue:
		fs.EmitABC(OpLoadBool, reg, 1, 0, line)
	case EFalse:
		fs.EmitABC(OpLoadBool, reg, 0, 0, line)
	case EKInt:
		idx, err := fs.AddConstant(value.Int(e.IntVal))
		if err != nil {
			return err
		}
		fs.EmitABx(OpLoadK, reg, idx, line)
	case EKFlt:
		idx, err := fs.AddConstant(value.Float(e.FltVal))
		if err != nil {
			return err
		}
		fs.EmitABx(OpLoadK, reg, idx, line)
	case EK:
		fs.EmitABx(OpLoadK, reg, e.Info, line)
	case ERelocable:
		instr := fs.Code(e.Info)
		instr.SetA(reg)
		fs.SetCode(e.Info, instr)
	case ENonReloc:
		if e.Info != reg {
			fs.EmitABC(OpMove, reg, e.Info, 0, line)
		}
	case EVoid, EJmp:
		// nothing to discharge yet; ExpToReg handles EJmp's synthesis.
	}
	e.Kind = ENonReloc
	e.Info = reg
	return nil
}

// --- constant folding ---

// FoldArith evaluates a binary arithmetic/bitwise op over two literal
// descriptors at compile time. It never folds a division or modulo by
// zero (that would erase the runtime error) and never folds to a NaN
// or negative-zero result (that would change observable identity).
// Returns ok=false when folding must not happen, in which case the
// caller emits the real instruction instead.
func FoldArith(op Op, e1, e2 *ExprDesc) (ExprDesc, bool) {
	if !e1.IsLiteral() || !e2.IsLiteral() || e1.Kind == ENil || e1.Kind == ETrue || e1.Kind == EFalse {
		return ExprDesc{}, false
	}
	if e2.Kind == ENil || e2.Kind == ETrue || e2.Kind == EFalse {
		return ExprDesc{}, false
	}
	bothInt := e1.Kind == EKInt && e2.Kind == EKInt
	if bothInt {
		if r, ok := foldInt(op, e1.IntVal, e2.IntVal); ok {
			return NewIntExpr(r), true
		}
		return ExprDesc{}, false
	}
	a, b := asFloat(e1), asFloat(e2)
	r, ok := foldFloat(op, a, b)
	if !ok {
		return ExprDesc{}, false
	}
	if math.IsNaN(r) || (r == 0 && math.Signbit(r)) {
		return ExprDesc{}, false
	}
	return NewFloatExpr(r), true
}

func asFloat(e *ExprDesc) float64 {
	if e.Kind == EKInt {
		return float64(e.IntVal)
	}
	return e.FltVal
}

func foldInt(op Op, a, b int64) (int64, bool) {
	switch op {
	case OpAdd:
		return a + b, true
	case OpSub:
		return a - b, true
	case OpMul:
		return a * b, true
	case OpMod:
		if b == 0 {
			return 0, false
		}
		m := a % b
		if m != 0 && (m^b) < 0 {
			m += b
		}
		return m, true
	case OpIDiv:
		if b == 0 {
			return 0, false
		}
		q := a / b
		if (a%b != 0) && ((a < 0) != (b < 0)) {
			q--
		}
		return q, true
	case OpBAnd:
		return a & b, true
	case OpBOr:
		return a | b, true
	case OpBXor:
		return a ^ b, true
	case OpShl:
		return shiftLeft(a, b), true
	case OpShr:
		return shiftLeft(a, -b), true
	default:
		return 0, false
	}
}

func shiftLeft(a, n int64) int64 {
	if n <= -64 || n >= 64 {
		return 0
	}
	if n >= 0 {
		return a << uint(n)
	}
	return int64(uint64(a) >> uint(-n))
}

func foldFloat(op Op, a, b float64) (float64, bool) {
	switch op {
	case OpAdd:
		return a + b, true
	case OpSub:
		return a - b, true
	case OpMul:
		return a * b, true
	case OpDiv:
		if b == 0 {
			return 0, false // the division error must surface at run time
		}
		return a / b, true
	case OpMod:
		if b == 0 {
			return 0, false
		}
		m := math.Mod(a, b)
		if m != 0 && (m < 0) != (b < 0) {
			m += b
		}
		return m, true
	case OpPow:
		return math.Pow(a, b), true
	case OpIDiv:
		if b == 0 {
			return 0, false
		}
		return math.Floor(a / b), true
	default:
		return 0, false
	}
}

// FoldUnary implements unary minus / bitwise-not's constant folding
// by reusing the binary path with a synthesized left operand.
func FoldUnary(op Op, e *ExprDesc) (ExprDesc, bool) {
	switch op {
	case OpUnm:
		// Negating float +0.0 yields -0.0 at runtime, which the
		// synthesized subtraction would miss (0.0 - 0.0 is +0.0);
		// refuse to fold so observable identity is preserved.
		if e.Kind == EKFlt && e.FltVal == 0 && !math.Signbit(e.FltVal) {
			return ExprDesc{}, false
		}
		var zero ExprDesc
		if e.Kind == EKInt {
			zero = NewIntExpr(0)
		} else {
			zero = NewFloatExpr(0)
		}
		return FoldArith(OpSub, &zero, e)
	case OpBNot:
		// ~x is x XOR all-ones, so the reused operand is -1, not 0.
		ones := NewIntExpr(-1)
		return FoldArith(OpBXor, &ones, e)
	default:
		return ExprDesc{}, false
	}
}
