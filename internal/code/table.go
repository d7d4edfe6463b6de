package code

// Table-constructor support: NEWTABLE's floating-point-style size
// hints and the SETLIST flush protocol.

// EncodeSizeHint packs n into NEWTABLE's 8-bit mantissa/exponent B or
// C field: raw byte x represents ((x&7)+8)<<((x>>3)-1) for x>=8, else
// x itself.
func EncodeSizeHint(n int) int {
	e := 0
	if n < 8 {
		return n
	}
	for n >= 1<<4 {
		n = (n + 1) >> 1
		e++
	}
	return ((e + 1) << 3) | (n - 8)
}

// DecodeSizeHint is the inverse of EncodeSizeHint, exposed for
// disassembly and internal/vm's NEWTABLE handler. The encoding is
// lossy upward: the decoded value is always >= the original n.
func DecodeSizeHint(x int) int {
	if x < 8 {
		return x
	}
	return ((x & 7) + 8) << ((x >> 3) - 1)
}

// TableConstructor drives a `{ ... }` literal's compilation: it owns
// the NEWTABLE instruction's pc (so array/hash size hints can be
// patched in once both are known) and flushes pending array elements
// via SETLIST every LFieldsPerFlush elements, spilling into an
// EXTRAARG when the block index would overflow SETLIST's 9-bit C
// field.
type TableConstructor struct {
	fs       *FuncState
	pc       int // NEWTABLE instruction's pc
	reg      int // register holding the table
	numArray int // array elements seen so far, total
	pending  int // array elements emitted since the last flush
	numHash  int
}

// NewTableConstructor emits NEWTABLE into a fresh register and begins
// tracking a table constructor. Size hints start at 0/0 and are
// patched by Close from the array/hash field counts.
func NewTableConstructor(fs *FuncState, line int) (*TableConstructor, error) {
	reg := fs.FreeReg
	if err := fs.Reserve(1); err != nil {
		return nil, err
	}
	pc := fs.EmitABC(OpNewTable, reg, 0, 0, line)
	return &TableConstructor{fs: fs, pc: pc, reg: reg}, nil
}

// Reg returns the register holding the table under construction.
func (tc *TableConstructor) Reg() int { return tc.reg }

// AddArrayField records that one more positional element has been
// pushed to the next free register (the caller is responsible for
// compiling the element's expression into fs.FreeReg via ToNextReg
// before calling this), flushing via SETLIST whenever LFieldsPerFlush
// accumulate.
func (tc *TableConstructor) AddArrayField() error {
	tc.numArray++
	tc.pending++
	if tc.pending == LFieldsPerFlush {
		return tc.flush()
	}
	return nil
}

// AddHashField records a `[k]=v` or `name=v` entry; these are emitted
// directly as SETTABLE by the caller and only counted here for the
// final size hint.
func (tc *TableConstructor) AddHashField() {
	tc.numHash++
}

// flush emits SETLIST for the pending array elements, encoding which
// block of LFieldsPerFlush is being flushed in C (spilling to
// EXTRAARG if the block index doesn't fit in 9 bits).
func (tc *TableConstructor) flush() error {
	if tc.pending == 0 {
		return nil
	}
	block := (tc.numArray-1)/LFieldsPerFlush + 1
	fs := tc.fs
	fs.FreeReg = tc.reg + 1 // drop the just-flushed elements' temp registers
	if block <= MaxArgC {
		fs.EmitABC(OpSetList, tc.reg, tc.pending, block, fs.currentLine())
	} else if block <= MaxArgAx {
		fs.EmitABC(OpSetList, tc.reg, tc.pending, 0, fs.currentLine())
		fs.EmitAx(OpExtraArg, block)
	} else {
		return errConstructorTooLong
	}
	tc.pending = 0
	return nil
}

// Close flushes any remaining pending array elements (the final
// partial block) and patches the NEWTABLE instruction's B/C size
// hints now that both counts are known.
func (tc *TableConstructor) Close() error {
	if err := tc.flush(); err != nil {
		return err
	}
	instr := tc.fs.Code(tc.pc)
	instr.SetC(EncodeSizeHint(tc.numHash))
	// B holds the array-part hint, patched post hoc since the count is
	// discovered incrementally.
	instr.SetB(EncodeSizeHint(tc.numArray))
	tc.fs.SetCode(tc.pc, instr)
	return nil
}
