package code

// FuncState is the per-function compile state: the prototype under
// construction, the jump-list and register-allocator cursors, and a
// link to the enclosing function's state. Nested functions get a
// fresh FuncState, never a shared one.
type FuncState struct {
	Proto *Prototype
	Prev  *FuncState

	PC         int
	lastTarget int
	jpc        int // head of the jpc pending-jump list, NoJump when empty

	FreeReg int
	NActVar int

	constScratch map[constKey]int
	stickyErr    error
}

// Err returns the first fatal compile-time error recorded by any
// encoder/patcher operation on this function (e.g. an overlong jump),
// or nil.
func (fs *FuncState) Err() error { return fs.stickyErr }

func NewFuncState(proto *Prototype, prev *FuncState) *FuncState {
	return &FuncState{
		Proto:        proto,
		Prev:         prev,
		jpc:          NoJump,
		constScratch: make(map[constKey]int),
	}
}

// Code returns the instruction at pc, a convenience wrapper used by
// the jump-list patcher and peephole checks.
func (fs *FuncState) Code(pc int) Instruction     { return fs.Proto.Code[pc] }
func (fs *FuncState) SetCode(pc int, i Instruction) { fs.Proto.Code[pc] = i }

// emit appends instr at line, amortized-doubling the code and line
// vectors, and returns its PC. Every entry point funnels through
// here, and jpc is discharged first so pending forward jumps whose
// target is "the next instruction" resolve to this one.
func (fs *FuncState) emit(instr Instruction, line int) int {
	fs.dischargeJpc()
	fs.Proto.Code = append(fs.Proto.Code, instr)
	fs.Proto.Lines = append(fs.Proto.Lines, int32(line))
	pc := fs.PC
	fs.PC++
	return pc
}

// EmitABC emits an ABC-layout instruction.
func (fs *FuncState) EmitABC(op Op, a, b, c, line int) int {
	return fs.emit(NewABC(op, a, b, c), line)
}

// EmitABx emits an ABx-layout instruction (e.g. LOADK, CLOSURE).
func (fs *FuncState) EmitABx(op Op, a, bx, line int) int {
	return fs.emit(NewABx(op, a, bx), line)
}

// EmitAsBx emits an AsBx-layout instruction (e.g. JMP, FORLOOP); sbx
// is the unbiased signed offset. Overflowing the signed 18-bit field
// is a fatal compile error ("control structure too long").
func (fs *FuncState) EmitAsBx(op Op, a, sbx, line int) (int, error) {
	if sbx > MaxArgSBx || sbx < -MaxArgSBx {
		return 0, errControlTooLong
	}
	return fs.emit(NewAsBx(op, a, sbx), line), nil
}

// EmitAx emits an Ax-layout instruction (EXTRAARG).
func (fs *FuncState) EmitAx(op Op, ax int) int {
	return fs.emit(NewAx(op, ax), fs.currentLine())
}

func (fs *FuncState) currentLine() int {
	if fs.PC == 0 {
		return 0
	}
	return int(fs.Proto.Lines[fs.PC-1])
}

// CurrentLine exports currentLine for callers outside this package.
func (fs *FuncState) CurrentLine() int {
	return fs.currentLine()
}

// FixLine overwrites the line number of the last emitted instruction,
// used when a binary operator's line should be attributed to the
// operator token rather than its first operand.
func (fs *FuncState) FixLine(line int) {
	if fs.PC > 0 {
		fs.Proto.Lines[fs.PC-1] = int32(line)
	}
}

// dischargeJpc patches every instruction on the jpc list to target
// the PC about to be emitted and clears the list.
func (fs *FuncState) dischargeJpc() {
	if fs.jpc == NoJump {
		return
	}
	fs.patchListAux(fs.jpc, fs.PC, NoRegister, fs.PC)
	fs.jpc = NoJump
}

// Nil emits LOADNIL for the n registers starting at from, coalescing
// with an immediately preceding LOADNIL whose range abuts or overlaps
// this one. The lastTarget check guards against coalescing across a
// basic-block boundary: a label placed between the two LOADNILs means
// they are not actually adjacent in control flow even though they are
// adjacent in the code vector.
func (fs *FuncState) Nil(from, n int, line int) {
	l := from + n - 1
	if fs.PC > fs.lastTarget {
		prev := fs.Code(fs.PC - 1)
		if prev.Op() == OpLoadNil {
			pfrom := prev.A()
			pl := pfrom + prev.B()
			if (pfrom <= from && from <= pl+1) || (from <= pfrom && pfrom <= l+1) {
				if pfrom < from {
					from = pfrom
				}
				if pl > l {
					l = pl
				}
				prev.SetA(from)
				prev.SetB(l - from)
				fs.SetCode(fs.PC-1, prev)
				return
			}
		}
	}
	fs.EmitABC(OpLoadNil, from, n-1, 0, line)
}

// NoRegister marks "no register to patch into a TESTSET" for
// patchListAux's reg parameter.
const NoRegister = MaxArgA

var errControlTooLong = codeError("control structure too long")
var errTooManyRegisters = codeError("function or expression needs too many registers")
var errConstructorTooLong = codeError("constructor too long")

type codeError string

func (e codeError) Error() string { return string(e) }
