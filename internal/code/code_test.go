package code_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gscript/internal/code"
	"gscript/internal/value"
)

func newFS(t *testing.T) *code.FuncState {
	t.Helper()
	return code.NewFuncState(code.NewPrototype("test"), nil)
}

func TestInstructionFieldRoundTrip(t *testing.T) {
	i := code.NewABC(code.OpGetTable, code.MaxArgA, code.MaxArgB, code.MaxArgC)
	require.Equal(t, code.OpGetTable, i.Op())
	require.Equal(t, code.MaxArgA, i.A())
	require.Equal(t, code.MaxArgB, i.B())
	require.Equal(t, code.MaxArgC, i.C())

	i = code.NewABx(code.OpLoadK, 3, code.MaxArgBx)
	require.Equal(t, 3, i.A())
	require.Equal(t, code.MaxArgBx, i.Bx())

	for _, sbx := range []int{0, 1, -1, code.MaxArgSBx, -code.MaxArgSBx} {
		i = code.NewAsBx(code.OpJmp, 0, sbx)
		require.Equal(t, sbx, i.SBx())
	}

	i = code.NewAx(code.OpExtraArg, code.MaxArgAx)
	require.Equal(t, code.MaxArgAx, i.Ax())
}

func TestRKEncoding(t *testing.T) {
	rk := code.RKAsK(17)
	require.True(t, code.IsK(rk))
	require.Equal(t, 17, code.IndexK(rk))
	require.False(t, code.IsK(17))
	require.LessOrEqual(t, code.MaxIndexRK, code.MaxArgA)
}

func TestJumpOffsetBoundary(t *testing.T) {
	fs := newFS(t)
	_, err := fs.EmitAsBx(code.OpJmp, 0, code.MaxArgSBx, 1)
	require.NoError(t, err)
	_, err = fs.EmitAsBx(code.OpJmp, 0, -code.MaxArgSBx, 1)
	require.NoError(t, err)
	_, err = fs.EmitAsBx(code.OpJmp, 0, code.MaxArgSBx+1, 1)
	require.Error(t, err)
	_, err = fs.EmitAsBx(code.OpJmp, 0, -code.MaxArgSBx-1, 1)
	require.Error(t, err)
}

func TestReserveFreeRoundTrip(t *testing.T) {
	fs := newFS(t)
	require.NoError(t, fs.Reserve(5))
	require.Equal(t, 5, fs.FreeReg)
	require.Equal(t, 5, fs.Proto.MaxStack)
	for r := 4; r >= 0; r-- {
		fs.Free(r)
	}
	require.Equal(t, 0, fs.FreeReg)
	require.Equal(t, 5, fs.Proto.MaxStack, "high-water mark must survive frees")
}

func TestReserveOverflows(t *testing.T) {
	fs := newFS(t)
	fs.FreeReg = 250
	require.NoError(t, fs.Reserve(5))
	require.Error(t, fs.Reserve(1))
}

func TestFreeSkipsLocalsAndConstants(t *testing.T) {
	fs := newFS(t)
	require.NoError(t, fs.Reserve(3))
	fs.NActVar = 2
	fs.Free(code.RKAsK(0)) // constant operand, not a register
	require.Equal(t, 3, fs.FreeReg)
	fs.Free(2)
	require.Equal(t, 2, fs.FreeReg)
	fs.Free(1) // bound to a named local
	require.Equal(t, 2, fs.FreeReg)
}

func TestConstantPoolDedup(t *testing.T) {
	fs := newFS(t)
	i1, err := fs.AddConstant(value.Int(1))
	require.NoError(t, err)
	i2, err := fs.AddConstant(value.Int(1))
	require.NoError(t, err)
	require.Equal(t, i1, i2)

	f1, err := fs.AddConstant(value.Float(1.0))
	require.NoError(t, err)
	require.NotEqual(t, i1, f1, "integer 1 and float 1.0 must not share a slot")

	n, err := fs.AddConstant(value.Nil)
	require.NoError(t, err)
	b, err := fs.AddConstant(value.Bool(true))
	require.NoError(t, err)
	require.NotEqual(t, n, b)
	require.Len(t, fs.Proto.Constants, 4)
}

func TestLoadNilCoalescing(t *testing.T) {
	fs := newFS(t)
	fs.Nil(0, 1, 1)
	fs.Nil(1, 1, 1)
	require.Equal(t, 1, fs.PC, "abutting LOADNIL ranges must merge")
	i := fs.Code(0)
	require.Equal(t, code.OpLoadNil, i.Op())
	require.Equal(t, 0, i.A())
	require.Equal(t, 1, i.B())

	fs.Nil(5, 2, 1) // disjoint range: no merge
	require.Equal(t, 2, fs.PC)
	require.Equal(t, 5, fs.Code(1).A())
	require.Equal(t, 1, fs.Code(1).B())
}

func TestLoadNilDoesNotCoalesceAcrossLabel(t *testing.T) {
	fs := newFS(t)
	fs.Nil(0, 1, 1)
	fs.JumpTo() // a label between the two emissions
	fs.Nil(1, 1, 1)
	require.Equal(t, 2, fs.PC)
}

func walkJumpList(fs *code.FuncState, head int) []int {
	var pcs []int
	for pc := head; pc != code.NoJump; {
		pcs = append(pcs, pc)
		offset := fs.Code(pc).SBx()
		if offset == code.NoJump {
			break
		}
		pc = pc + 1 + offset
	}
	return pcs
}

func TestJumpListConcatAssociativity(t *testing.T) {
	build := func() (*code.FuncState, [3]int) {
		fs := newFS(t)
		var jumps [3]int
		for i := range jumps {
			jumps[i] = fs.EmitJump(1)
		}
		return fs, jumps
	}

	fs1, j1 := build()
	left := fs1.Concat(fs1.Concat(j1[0], j1[1]), j1[2])

	fs2, j2 := build()
	right := fs2.Concat(j2[0], fs2.Concat(j2[1], j2[2]))

	require.Equal(t, left, right)
	require.Equal(t, walkJumpList(fs1, left), walkJumpList(fs2, right))
	require.Equal(t, fs1.Proto.Code, fs2.Proto.Code)
}

func TestConcatEmptyLists(t *testing.T) {
	fs := newFS(t)
	j := fs.EmitJump(1)
	require.Equal(t, j, fs.Concat(j, code.NoJump))
	require.Equal(t, j, fs.Concat(code.NoJump, j))
	require.Equal(t, code.NoJump, fs.Concat(code.NoJump, code.NoJump))
}

func TestPatchRewritesTestSetRegister(t *testing.T) {
	fs := newFS(t)
	fs.EmitABC(code.OpTestSet, code.NoRegister, 0, 0, 1)
	jmp := fs.EmitJump(1)
	fs.EmitABC(code.OpMove, 0, 1, 0, 1) // filler so the target is a real pc

	fs.Patch(jmp, 3, 2)
	ts := fs.Code(0)
	require.Equal(t, code.OpTestSet, ts.Op())
	require.Equal(t, 2, ts.A(), "patcher must rewrite the destination register")
	require.Equal(t, 3-(jmp+1), fs.Code(jmp).SBx())
}

func TestPatchDemotesTestSetToTest(t *testing.T) {
	fs := newFS(t)
	fs.EmitABC(code.OpTestSet, code.NoRegister, 4, 1, 1)
	jmp := fs.EmitJump(1)
	fs.EmitABC(code.OpMove, 0, 1, 0, 1)

	fs.Patch(jmp, 3, code.NoRegister)
	ts := fs.Code(0)
	require.Equal(t, code.OpTest, ts.Op(), "no destination register: TESTSET becomes TEST")
	require.Equal(t, 4, ts.A(), "TEST carries the tested register in A")
	require.Equal(t, 1, ts.C())
}

func TestPatchCloseStampsLevel(t *testing.T) {
	fs := newFS(t)
	jmp := fs.EmitJump(1)
	fs.PatchClose(jmp, 2)
	require.Equal(t, 3, fs.Code(jmp).A(), "A holds level+1, reserving 0 for no-close")
}

func TestPatchToHereResolvesOnNextEmission(t *testing.T) {
	fs := newFS(t)
	jmp := fs.EmitJump(1)
	fs.PatchToHere(jmp)
	fs.EmitABC(code.OpMove, 0, 1, 0, 1) // pc 1: the pending jump's target
	require.Equal(t, 1-(jmp+1), fs.Code(jmp).SBx())
	require.NoError(t, fs.Err())
}

func TestFoldArithIntegers(t *testing.T) {
	e1, e2 := code.NewIntExpr(2), code.NewIntExpr(3)
	r, ok := code.FoldArith(code.OpAdd, &e1, &e2)
	require.True(t, ok)
	require.Equal(t, code.EKInt, r.Kind)
	require.Equal(t, int64(5), r.IntVal)

	// Floor semantics for mod/idiv with mixed signs.
	e1, e2 = code.NewIntExpr(-7), code.NewIntExpr(2)
	r, ok = code.FoldArith(code.OpMod, &e1, &e2)
	require.True(t, ok)
	require.Equal(t, int64(1), r.IntVal)
	r, ok = code.FoldArith(code.OpIDiv, &e1, &e2)
	require.True(t, ok)
	require.Equal(t, int64(-4), r.IntVal)
}

func TestFoldRefusesDivisionByZero(t *testing.T) {
	e1, e2 := code.NewIntExpr(1), code.NewIntExpr(0)
	_, ok := code.FoldArith(code.OpDiv, &e1, &e2)
	require.False(t, ok)
	_, ok = code.FoldArith(code.OpMod, &e1, &e2)
	require.False(t, ok)
	_, ok = code.FoldArith(code.OpIDiv, &e1, &e2)
	require.False(t, ok)

	f1, f2 := code.NewFloatExpr(1), code.NewFloatExpr(0)
	_, ok = code.FoldArith(code.OpDiv, &f1, &f2)
	require.False(t, ok)
}

func TestFoldRefusesNegativeZeroAndNaN(t *testing.T) {
	e1, e2 := code.NewFloatExpr(0), code.NewFloatExpr(-1)
	_, ok := code.FoldArith(code.OpDiv, &e1, &e2)
	require.False(t, ok, "0.0 / -1 produces -0.0 and must not fold")

	e1, e2 = code.NewFloatExpr(-1), code.NewFloatExpr(0.5)
	_, ok = code.FoldArith(code.OpPow, &e1, &e2)
	require.False(t, ok, "(-1)^0.5 is NaN and must not fold")
}

func TestFoldUnary(t *testing.T) {
	e := code.NewIntExpr(7)
	r, ok := code.FoldUnary(code.OpUnm, &e)
	require.True(t, ok)
	require.Equal(t, int64(-7), r.IntVal)

	e = code.NewFloatExpr(0)
	_, ok = code.FoldUnary(code.OpUnm, &e)
	require.False(t, ok, "-0.0 result must not fold")

	e = code.NewIntExpr(0)
	r, ok = code.FoldUnary(code.OpBNot, &e)
	require.True(t, ok)
	require.Equal(t, int64(-1), r.IntVal)

	e = code.NewIntExpr(-1)
	r, ok = code.FoldUnary(code.OpBNot, &e)
	require.True(t, ok)
	require.Equal(t, int64(0), r.IntVal)
}

func TestNotNotPreservesSemantics(t *testing.T) {
	cases := []struct {
		in   code.ExprDesc
		want code.ExprKind
	}{
		{code.NewTrueExpr(), code.ETrue},
		{code.NewFalseExpr(), code.EFalse},
		{code.NewNilExpr(), code.EFalse}, // nil's falsiness folds to FALSE
		{code.NewIntExpr(5), code.ETrue}, // numbers are truthy
	}
	for _, tc := range cases {
		fs := newFS(t)
		e := tc.in
		require.NoError(t, fs.Not(&e))
		require.NoError(t, fs.Not(&e))
		require.Equal(t, tc.want, e.Kind)
		require.False(t, e.HasJumps())
	}
}

func TestNotNotOnComparisonRestoresSense(t *testing.T) {
	fs := newFS(t)
	e, err := fs.Comparison(code.CmpLT, 0, 1, 1)
	require.NoError(t, err)
	require.Equal(t, code.EJmp, e.Kind)
	a0 := fs.Code(0).A()

	require.NoError(t, fs.Not(&e))
	require.NotEqual(t, a0, fs.Code(0).A())
	require.NoError(t, fs.Not(&e))
	require.Equal(t, a0, fs.Code(0).A())
	require.Equal(t, code.EJmp, e.Kind)
}

func TestSizeHintEncoding(t *testing.T) {
	for n := 0; n < 8; n++ {
		require.Equal(t, n, code.EncodeSizeHint(n))
		require.Equal(t, n, code.DecodeSizeHint(n))
	}
	for _, n := range []int{8, 9, 50, 100, 1000, 65536} {
		enc := code.EncodeSizeHint(n)
		require.LessOrEqual(t, enc, 255)
		require.GreaterOrEqual(t, code.DecodeSizeHint(enc), n)
	}
}

func TestTableConstructorFlushesEveryFiftyElements(t *testing.T) {
	fs := newFS(t)
	tc, err := code.NewTableConstructor(fs, 1)
	require.NoError(t, err)
	for i := 1; i <= 101; i++ {
		e := code.NewIntExpr(int64(i))
		require.NoError(t, fs.ToNextReg(&e))
		require.NoError(t, tc.AddArrayField())
	}
	require.NoError(t, tc.Close())

	type setlist struct{ b, c int }
	var flushes []setlist
	for pc := 0; pc < fs.PC; pc++ {
		if i := fs.Code(pc); i.Op() == code.OpSetList {
			require.Equal(t, tc.Reg(), i.A())
			flushes = append(flushes, setlist{i.B(), i.C()})
		}
	}
	require.Equal(t, []setlist{{50, 1}, {50, 2}, {1, 3}}, flushes)
}

func TestPrototypeInvariantsAfterEmission(t *testing.T) {
	fs := newFS(t)
	require.NoError(t, fs.Reserve(2))
	idx, err := fs.AddConstant(value.Int(42))
	require.NoError(t, err)
	fs.EmitABx(code.OpLoadK, 0, idx, 1)
	fs.EmitABC(code.OpMove, 1, 0, 0, 1)
	fs.EmitABC(code.OpReturn, 0, 1, 0, 2)

	p := fs.Proto
	require.Equal(t, len(p.Code), len(p.Lines), "line info parallels code")
	for _, instr := range p.Code {
		switch instr.Op().Mode() {
		case code.ModeABC:
			require.Less(t, instr.A(), 256)
		case code.ModeABx:
			if instr.Op() == code.OpLoadK {
				require.Less(t, instr.Bx(), len(p.Constants))
			}
		}
	}
	require.LessOrEqual(t, p.MaxStack, code.MaxStackSizeLimit)
}
