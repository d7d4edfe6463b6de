package code

// Jump-list operations: a jump list is the head PC of a singly-linked
// chain threaded through the sBx field of JMP/FORLOOP/FORPREP/TFORLOOP
// instructions, so pending jumps cost no side storage.

// getJump follows the link stored in the jump instruction at pc,
// returning NoJump at the list terminator.
func (fs *FuncState) getJump(pc int) int {
	offset := fs.Code(pc).SBx()
	if offset == NoJump {
		return NoJump
	}
	return (pc + 1) + offset
}

// fixJump stamps the jump instruction at pc so it targets dest.
// Overflowing the signed 18-bit sBx field is a fatal compile error,
// recorded as a sticky error on fs and surfaced by the exported
// Patch* entry points.
func (fs *FuncState) fixJump(pc, dest int) {
	offset := dest - (pc + 1)
	if offset > MaxArgSBx || offset < -MaxArgSBx {
		fs.stickyErr = errControlTooLong
		return
	}
	instr := fs.Code(pc)
	instr.SetSBx(offset)
	fs.SetCode(pc, instr)
}

// getJumpControl returns the pc of the instruction that actually
// carries the boolean test controlling the jump at pc: the
// immediately preceding TEST/TESTSET/comparison if present, else pc
// itself.
func (fs *FuncState) getJumpControl(pc int) int {
	if pc >= 1 && isTestMode(fs.Code(pc - 1).Op()) {
		return pc - 1
	}
	return pc
}

func isTestMode(op Op) bool {
	switch op {
	case OpTest, OpTestSet, OpEq, OpLt, OpLe, OpTForCall:
		return true
	default:
		return false
	}
}

// patchTestReg rewrites a TESTSET's destination register, or demotes
// it to plain TEST when no register is needed: every TESTSET either
// gets its real destination patched in or stops producing a value.
// Returns false for any other controlling instruction (the jump must
// then be patched directly).
func (fs *FuncState) patchTestReg(node, reg int) bool {
	ctrl := fs.getJumpControl(node)
	instr := fs.Code(ctrl)
	if instr.Op() != OpTestSet {
		return false
	}
	if reg != NoRegister && reg != instr.B() {
		instr.SetA(reg)
	} else {
		instr = NewABC(OpTest, instr.B(), 0, instr.C())
	}
	fs.SetCode(ctrl, instr)
	return true
}

// Concat appends l2 onto the end of l1, walking l1 to its
// terminator. Returns the merged list's head (== l1 unless l1 was
// empty).
func (fs *FuncState) Concat(l1, l2 int) int {
	if l2 == NoJump {
		return l1
	}
	if l1 == NoJump {
		return l2
	}
	node := l1
	for {
		next := fs.getJump(node)
		if next == NoJump {
			break
		}
		node = next
	}
	fs.fixJump(node, l2)
	return l1
}

// Patch walks list, setting every member's jump target to target and
// resolving TESTSET/TEST per patchTestReg, with reg as the
// destination register to prefer (NoRegister if none).
func (fs *FuncState) Patch(list, target, reg int) {
	fs.patchListAux(list, target, reg, target)
}

// patchListAux walks list patching every member: vtarget is where
// register-producing exits land, dtarget where plain jumps land (the
// two differ only for the synthesis epilogue in boolean.go's
// ExpToReg).
func (fs *FuncState) patchListAux(list, vtarget, reg, dtarget int) {
	for list != NoJump {
		next := fs.getJump(list)
		if fs.patchTestReg(list, reg) {
			fs.fixJump(list, vtarget)
		} else {
			fs.fixJump(list, dtarget)
		}
		list = next
	}
}

// PatchToHere concatenates list into the per-function pending-jumps
// jpc: on the next instruction emission, dischargeJpc fixes all of
// jpc to that PC.
func (fs *FuncState) PatchToHere(list int) {
	fs.lastTarget = fs.PC
	fs.jpc = fs.Concat(fs.jpc, list)
}

// PatchClose stamps every jump in list with level+1 in its A field
// (the +1 reserves 0 for "no close"), so the VM closes upvalues down
// to level when the jump is taken.
func (fs *FuncState) PatchClose(list, level int) {
	level++
	for ; list != NoJump; list = fs.getJump(list) {
		instr := fs.Code(list)
		if instr.Op() == OpJmp && instr.A() == 0 {
			instr.SetA(level)
			fs.SetCode(list, instr)
		}
	}
}

// JumpTo returns the current pc as the target for a backward jump,
// updating lastTarget so the LOADNIL peephole knows a basic-block
// boundary occurred here.
func (fs *FuncState) JumpTo() int {
	fs.lastTarget = fs.PC
	return fs.PC
}

// EmitJump appends an unconditional/test-controlled jump with no
// target yet known (sBx = NoJump), returning its PC so callers can
// thread it into a jump list.
func (fs *FuncState) EmitJump(line int) int {
	pc, err := fs.EmitAsBx(OpJmp, 0, NoJump, line)
	if err != nil {
		fs.stickyErr = err
	}
	return pc
}
