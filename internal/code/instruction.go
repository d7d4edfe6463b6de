package code

// Instruction is the 32-bit instruction word: 6-bit opcode in the
// low bits, then A/B/C or A/Bx or A/sBx or Ax depending on
// Op.Mode().
type Instruction uint32

const (
	sizeOp = 6
	sizeA  = 8
	sizeC  = 9
	sizeB  = 9
	sizeBx = sizeC + sizeB
	sizeAx = sizeC + sizeB + sizeA

	posOp = 0
	posA  = posOp + sizeOp
	posC  = posA + sizeA
	posB  = posC + sizeC
	posBx = posC
	posAx = posA
)

// MaxArgBx is the largest unsigned value Bx can carry; MaxArgSBx is
// the largest jump offset magnitude sBx accepts. biasSBx is the bias
// applied to make sBx a signed 18-bit field ("0" encodes as 2^17).
const (
	MaxArgBx  = 1<<sizeBx - 1
	MaxArgSBx = MaxArgBx >> 1
	biasSBx   = MaxArgSBx + 1
	MaxArgA   = 1<<sizeA - 1
	MaxArgB   = 1<<sizeB - 1
	MaxArgC   = 1<<sizeC - 1
	MaxArgAx  = 1<<sizeAx - 1

	// NoJump is the jump-list terminator sentinel.
	NoJump = -1
)

func mask(size uint) uint32 { return 1<<size - 1 }

func field(i Instruction, pos, size uint) uint32 {
	return uint32(i>>pos) & mask(size)
}

func setField(i *Instruction, pos, size uint, v uint32) {
	*i = (*i &^ Instruction(mask(size)<<pos)) | Instruction((v&mask(size))<<pos)
}

func (i Instruction) Op() Op { return Op(field(i, posOp, sizeOp)) }
func (i Instruction) A() int { return int(field(i, posA, sizeA)) }
func (i Instruction) B() int { return int(field(i, posB, sizeB)) }
func (i Instruction) C() int { return int(field(i, posC, sizeC)) }
func (i Instruction) Bx() int { return int(field(i, posBx, sizeBx)) }

// SBx returns the biased-signed Bx field of an AsBx-layout word.
func (i Instruction) SBx() int { return int(field(i, posBx, sizeBx)) - biasSBx }

func (i Instruction) Ax() int { return int(field(i, posAx, sizeAx)) }

func NewABC(op Op, a, b, c int) Instruction {
	var i Instruction
	setField(&i, posOp, sizeOp, uint32(op))
	setField(&i, posA, sizeA, uint32(a))
	setField(&i, posB, sizeB, uint32(b))
	setField(&i, posC, sizeC, uint32(c))
	return i
}

func NewABx(op Op, a, bx int) Instruction {
	var i Instruction
	setField(&i, posOp, sizeOp, uint32(op))
	setField(&i, posA, sizeA, uint32(a))
	setField(&i, posBx, sizeBx, uint32(bx))
	return i
}

func NewAsBx(op Op, a, sbx int) Instruction {
	return NewABx(op, a, sbx+biasSBx)
}

func NewAx(op Op, ax int) Instruction {
	var i Instruction
	setField(&i, posOp, sizeOp, uint32(op))
	setField(&i, posAx, sizeAx, uint32(ax))
	return i
}

// SetSBx rewrites only the signed jump-offset field in place: the
// jump-list patcher's core primitive, since pending jump lists are
// threaded through this very field.
func (i *Instruction) SetSBx(sbx int) {
	setField(i, posBx, sizeBx, uint32(sbx+biasSBx))
}

// SetA rewrites only the A field, used when the patcher redirects a
// TESTSET's destination register or stamps a close-upvalues level
// onto a JMP.
func (i *Instruction) SetA(a int) { setField(i, posA, sizeA, uint32(a)) }

// SetOp rewrites only the opcode, used to convert TESTSET -> TEST
// in place.
func (i *Instruction) SetOp(op Op) { setField(i, posOp, sizeOp, uint32(op)) }

// SetB and SetC rewrite the B/C fields in place, used to patch a
// CALL/VARARG's result count after the instruction has already been
// emitted.
func (i *Instruction) SetB(b int) { setField(i, posB, sizeB, uint32(b)) }
func (i *Instruction) SetC(c int) { setField(i, posC, sizeC, uint32(c)) }

// --- R/K operand encoding ---

// bitRK is the high bit of a 9-bit B/C operand selecting constant-pool
// index over register index.
const bitRK = 1 << (sizeB - 1)

// RKAsK encodes constant-pool index k as an R/K operand.
func RKAsK(k int) int { return k | bitRK }

// IsK reports whether an R/K-encoded operand refers to the constant
// pool.
func IsK(rk int) bool { return rk&bitRK != 0 }

// IndexK extracts the constant-pool index from an R/K operand that
// IsK.
func IndexK(rk int) int { return rk &^ bitRK }

// MaxIndexRK is the largest constant-pool index directly addressable
// from an R/K field: constant indices referenced from ABC
// instructions must fit in 8 bits.
const MaxIndexRK = bitRK - 1
