package code

// Short-circuit boolean compiler. and/or/not and the comparison
// operators do not reduce to value-producing arithmetic; they reduce
// to jumps threaded through a descriptor's truelist/falselist (its
// T/F fields).

// jumpOnCond emits a TEST/TESTSET-controlled jump: the caller has
// already discharged e into a register or decided a literal is always
// true/false. cond selects the sense the test checks before jumping.
func (fs *FuncState) jumpOnCond(e *ExprDesc, cond bool) (int, error) {
	if e.Kind == ERelocable {
		instr := fs.Code(e.Info)
		if instr.Op() == OpNot {
			// Undo a NOT and flip the sense instead of emitting NOT
			// then TESTSET.
			fs.PC--
			fs.Proto.Code = fs.Proto.Code[:fs.PC]
			fs.Proto.Lines = fs.Proto.Lines[:fs.PC]
			fs.EmitABC(OpTest, instr.B(), 0, boolToInt(!cond), fs.currentLine())
			return fs.EmitJump(fs.currentLine()), nil
		}
	}
	reg, err := fs.ToAnyReg(e)
	if err != nil {
		return 0, err
	}
	fs.Free(reg)
	fs.EmitABC(OpTestSet, NoRegister, reg, boolToInt(cond), fs.currentLine())
	return fs.EmitJump(fs.currentLine()), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GoIfTrue compiles "proceed if e is true, else jump": discharges
// variables, negates a JMP descriptor's sense in place, skips emitting
// a jump for a constant-true literal, otherwise emits a test+jump that
// fires when e is false and appends it to e.F. Finally patches e.T to
// "here" so any previously-accumulated true-exits land on the
// instruction about to be emitted.
func (fs *FuncState) GoIfTrue(e *ExprDesc) error {
	if err := fs.DischargeVars(e); err != nil {
		return err
	}
	var pc int
	switch e.Kind {
	case EJmp:
		// Already a jump; negate its controlling test's sense in place.
		fs.negateCondition(e)
		pc = e.Info
	case ETrue, EKInt, EKFlt, EK:
		pc = NoJump // always true: no exit-when-false jump needed
	default:
		jpc, err := fs.jumpOnCond(e, false)
		if err != nil {
			return err
		}
		pc = jpc
	}
	e.F = fs.Concat(e.F, pc)
	fs.PatchToHere(e.T)
	e.T = NoJump
	return nil
}

// GoIfFalse is GoIfTrue's mirror: compiles "proceed if e is false,
// else jump".
func (fs *FuncState) GoIfFalse(e *ExprDesc) error {
	if err := fs.DischargeVars(e); err != nil {
		return err
	}
	var pc int
	switch e.Kind {
	case EJmp:
		pc = e.Info
	case EFalse, ENil:
		pc = NoJump // always false: no exit-when-true jump needed
	default:
		jpc, err := fs.jumpOnCond(e, true)
		if err != nil {
			return err
		}
		pc = jpc
	}
	e.T = fs.Concat(e.T, pc)
	fs.PatchToHere(e.F)
	e.F = NoJump
	return nil
}

// negateCondition flips the sense of the TEST/TESTSET/comparison
// controlling a JMP descriptor.
func (fs *FuncState) negateCondition(e *ExprDesc) {
	ctrl := fs.getJumpControl(e.Info)
	instr := fs.Code(ctrl)
	switch instr.Op() {
	case OpTest, OpTestSet:
		// TEST/TESTSET carry their condition in C.
		instr.SetC(boolToInt(instr.C() == 0))
	default:
		// EQ/LT/LE carry the expected boolean in A.
		instr.SetA(boolToInt(instr.A() == 0))
	}
	fs.SetCode(ctrl, instr)
}

// AndCompileLHS compiles the left operand of `and`, between parsing
// the two operands: the caller then parses e2 and merges with
// AndCompileRHS.
func (fs *FuncState) AndCompileLHS(e1 *ExprDesc) error {
	return fs.GoIfTrue(e1)
}

// AndCompileRHS merges e1's falselist into e2 (the result of an `and`
// expression keeps e1's false-exits; its true-exits are e2's, since an
// `and` is only true when both operands are true).
func AndCompileRHS(fs *FuncState, e1, e2 *ExprDesc) {
	e2.F = fs.Concat(e2.F, e1.F)
	*e1 = *e2
}

// OrCompileLHS compiles the left operand of `or`: go_if_false(e1).
func (fs *FuncState) OrCompileLHS(e1 *ExprDesc) error {
	return fs.GoIfFalse(e1)
}

// OrCompileRHS merges e1's truelist into e2, mirroring AndCompileRHS.
func OrCompileRHS(fs *FuncState, e1, e2 *ExprDesc) {
	e2.T = fs.Concat(e2.T, e1.T)
	*e1 = *e2
}

// Not compiles `not e`: constant-folds nil/false/true descriptors,
// negates a JMP in place, emits NOT for a register-resident value, and
// swaps t/f so "proceed if true" and "proceed if false" exchange
// meaning. Any TESTSET components in the swapped lists are stripped to
// plain TEST so they produce no stray register writes: `not`'s result
// may no longer land in the register the inner TESTSET targeted.
func (fs *FuncState) Not(e *ExprDesc) error {
	if err := fs.DischargeVars(e); err != nil {
		return err
	}
	switch e.Kind {
	case ENil, EFalse:
		e.Kind = ETrue
	case ETrue, EKInt, EKFlt, EK:
		// Numeric literals and pooled constants (string literals) are
		// always truthy; only nil and false are falsy.
		e.Kind = EFalse
	case EJmp:
		fs.negateCondition(e)
	case ENonReloc, ERelocable:
		if err := fs.discardToAnyReg(e); err != nil {
			return err
		}
		fs.freeTempReg(e)
		pc := fs.EmitABC(OpNot, 0, e.Info, 0, fs.currentLine())
		e.Kind = ERelocable
		e.Info = pc
	}
	e.T, e.F = e.F, e.T
	fs.removeTestSets(e.T)
	fs.removeTestSets(e.F)
	return nil
}

func (fs *FuncState) discardToAnyReg(e *ExprDesc) error {
	_, err := fs.ToAnyReg(e)
	return err
}

// removeTestSets walks list converting every TESTSET it finds to
// plain TEST, since the register it used to write is no longer the
// value `not` produces.
func (fs *FuncState) removeTestSets(list int) {
	for list != NoJump {
		next := fs.getJump(list)
		fs.patchTestReg(list, NoRegister)
		list = next
	}
}

// CompareOp names the three comparison opcodes the VM natively
// supports. ==, <, <= are emitted directly; ~=, > and >= are
// rewritten by the caller (negate the equality, swap the operand
// order) before reaching here.
type CompareOp uint8

const (
	CmpEQ CompareOp = iota
	CmpLT
	CmpLE
)

// Comparison lowers a comparison into its opcode + conditional jump,
// producing a JMP descriptor whose Info is the jump's pc. The emitted
// A field expects true ("jump when the comparison holds"); callers
// wanting the negated sense rewrite via Not.
func (fs *FuncState) Comparison(op CompareOp, r1, r2 int, line int) (ExprDesc, error) {
	var opcode Op
	switch op {
	case CmpEQ:
		opcode = OpEq
	case CmpLT:
		opcode = OpLt
	case CmpLE:
		opcode = OpLe
	}
	fs.EmitABC(opcode, 1, r1, r2, line)
	pc := fs.EmitJump(line)
	e := newExpr(EJmp)
	e.Info = pc
	return e, nil
}

// Self lowers obj:method(...) method-call syntax: materializes the
// receiver into reg and reg+1 (so the call's argument list already has
// self at position 0) and emits SELF.
func (fs *FuncState) Self(e *ExprDesc, key *ExprDesc) error {
	if _, err := fs.ToAnyReg(e); err != nil {
		return err
	}
	fs.freeTempReg(e)
	base := fs.FreeReg
	if err := fs.Reserve(2); err != nil {
		return err
	}
	rk, err := fs.ToRK(key)
	if err != nil {
		return err
	}
	fs.EmitABC(OpSelf, base, e.Info, rk, fs.currentLine())
	fs.Free(e.Info)
	e.Kind = ENonReloc
	e.Info = base
	return nil
}

// ExpToReg materializes e's final value (after jump-list fixup) into
// reg: the general discharge path for any descriptor kind, including
// jump-bearing ones. For descriptors with no jumps this is just
// DischargeToReg; with jumps, and any exit that isn't already a
// TESTSET writing reg, it synthesizes:
//
//  1. an optional unconditional jump over the LOADBOOL pair;
//  2. LOADBOOL reg, 0, 1   (false, skip next);
//  3. LOADBOOL reg, 1, 0   (true).
//
// e.F is patched to land on step 2, e.T on step 3; exits that are
// already TESTSET (and so already wrote reg) are patched directly past
// the synthesis block instead.
func (fs *FuncState) ExpToReg(e *ExprDesc, reg int) error {
	if err := fs.DischargeToReg(e, reg); err != nil {
		return err
	}
	if e.Kind == EJmp {
		e.T = fs.Concat(e.T, e.Info) // put this jump in its own "true" list
	}
	if e.HasJumps() {
		pf, pt := NoJump, NoJump
		if fs.needsValue(e.T) || fs.needsValue(e.F) {
			fj := NoJump
			if e.Kind != EJmp {
				fj = fs.EmitJump(fs.currentLine())
			}
			pf = fs.codeLoadBool(reg, false)
			pt = fs.codeLoadBool(reg, true)
			fs.PatchToHere(fj)
		}
		final := fs.JumpTo()
		fs.patchListAux(e.F, final, reg, pf)
		fs.patchListAux(e.T, final, reg, pt)
	}
	e.F, e.T = NoJump, NoJump
	e.Kind = ENonReloc
	e.Info = reg
	return nil
}

// codeLoadBool emits LOADBOOL reg, value, skipNext. skipNext is set
// only for the "load false" half of the pair, so the two synthesized
// loads are mutually exclusive.
func (fs *FuncState) codeLoadBool(reg int, val bool) int {
	skip := 0
	if !val {
		skip = 1
	}
	return fs.EmitABC(OpLoadBool, reg, boolToInt(val), skip, fs.currentLine())
}

// needsValue reports whether at least one exit in list is not already
// a TESTSET writing the target register, i.e. an exit that truly
// needs the LOADBOOL synthesis to materialize a value.
func (fs *FuncState) needsValue(list int) bool {
	for pc := list; pc != NoJump; pc = fs.getJump(pc) {
		ctrl := fs.getJumpControl(pc)
		if fs.Code(ctrl).Op() != OpTestSet {
			return true
		}
	}
	return false
}
