package lexer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gscript/internal/code"
	"gscript/internal/lexer"
	"gscript/internal/value"
)

func compile(t *testing.T, src string) *code.Prototype {
	t.Helper()
	proto, err := lexer.Compile("test", src, value.NewStrings(0))
	require.NoError(t, err)
	return proto
}

func constIndex(t *testing.T, p *code.Prototype, want value.Value) int {
	t.Helper()
	for i, c := range p.Constants {
		if c.RawEqual(want) {
			return i
		}
	}
	t.Fatalf("constant %v not in pool", want)
	return -1
}

// Two adjacent uninitialized locals share one LOADNIL covering both
// registers.
func TestLocalDeclarationCoalescing(t *testing.T) {
	p := compile(t, "local a; local b")
	require.Len(t, p.Code, 2) // LOADNIL + implicit RETURN
	i := p.Code[0]
	require.Equal(t, code.OpLoadNil, i.Op())
	require.Equal(t, 0, i.A())
	require.Equal(t, 1, i.B())
	require.Equal(t, code.OpReturn, p.Code[1].Op())
}

// `a and b` compiles to a TESTSET that copies a to the result register
// and jumps over the MOVE when a is falsy.
func TestShortCircuitAndBytecode(t *testing.T) {
	p := compile(t, "local a; local b; return a and b")

	require.Equal(t, code.OpLoadNil, p.Code[0].Op())

	ts := p.Code[1]
	require.Equal(t, code.OpTestSet, ts.Op())
	require.Equal(t, 2, ts.A(), "result register patched into TESTSET")
	require.Equal(t, 0, ts.B(), "tests local a")
	require.Equal(t, 0, ts.C())

	jmp := p.Code[2]
	require.Equal(t, code.OpJmp, jmp.Op())
	require.Equal(t, 1, jmp.SBx(), "skips the MOVE")

	mv := p.Code[3]
	require.Equal(t, code.OpMove, mv.Op())
	require.Equal(t, 2, mv.A())
	require.Equal(t, 1, mv.B())

	ret := p.Code[4]
	require.Equal(t, code.OpReturn, ret.Op())
	require.Equal(t, 2, ret.A())
	require.Equal(t, 2, ret.B(), "exactly one return value")
}

// A comparison against a literal keeps the literal in the constant
// pool (R/K operand) and the assignment in the taken branch stores
// straight into the local's register.
func TestComparisonWithConstant(t *testing.T) {
	p := compile(t, "local x = 5\nlocal y = 0\nif x < 10 then y = 1 end")

	k10 := constIndex(t, p, value.Int(10))
	k1 := constIndex(t, p, value.Int(1))
	require.NotEqual(t, k10, k1)

	var ltPC int = -1
	for pc, i := range p.Code {
		if i.Op() == code.OpLt {
			ltPC = pc
			break
		}
	}
	require.GreaterOrEqual(t, ltPC, 0, "LT not emitted")

	lt := p.Code[ltPC]
	require.Equal(t, 0, lt.A(), "jump taken when the comparison fails")
	require.Equal(t, 0, lt.B(), "register of local x")
	require.True(t, code.IsK(lt.C()))
	require.Equal(t, k10, code.IndexK(lt.C()))

	jmp := p.Code[ltPC+1]
	require.Equal(t, code.OpJmp, jmp.Op())
	require.Equal(t, 1, jmp.SBx(), "jumps over the then-block")

	store := p.Code[ltPC+2]
	require.Equal(t, code.OpLoadK, store.Op())
	require.Equal(t, 1, store.A(), "stores directly into local y's register")
	require.Equal(t, k1, store.Bx())
}

// Integer/float literal duplicates land in distinct pool slots even
// when numerically equal.
func TestNumericConstantsKeepDistinctSlots(t *testing.T) {
	p := compile(t, "local a = 1\nlocal b = 1.0\nlocal c = 1")
	require.Len(t, p.Constants, 2)
	require.NotEqual(t,
		constIndex(t, p, value.Int(1)),
		constIndex(t, p, value.Float(1.0)))
}

// Arithmetic over literals folds at compile time: no ADD survives.
func TestConstantFoldingEndToEnd(t *testing.T) {
	p := compile(t, "return 2 + 3 * 4")
	for _, i := range p.Code {
		require.NotEqual(t, code.OpAdd, i.Op())
		require.NotEqual(t, code.OpMul, i.Op())
	}
	require.Equal(t, 0, constIndex(t, p, value.Int(14)))
}

// Division by a zero literal must survive to run time.
func TestDivisionByZeroDoesNotFold(t *testing.T) {
	p := compile(t, "return 1 // 0")
	var found bool
	for _, i := range p.Code {
		if i.Op() == code.OpIDiv {
			found = true
		}
	}
	require.True(t, found, "1 // 0 must emit IDIV, not fold")
}

func TestNestedFunctionGetsOwnPrototype(t *testing.T) {
	p := compile(t, `
		local function f(x)
			return x + 1
		end
		return f(2)
	`)
	require.Len(t, p.Protos, 1)
	child := p.Protos[0]
	require.Equal(t, 1, child.NumParams())
	require.False(t, child.IsVararg())
	for pc, i := range child.Code {
		if i.Op() == code.OpJmp {
			target := pc + 1 + i.SBx()
			require.GreaterOrEqual(t, target, 0)
			require.Less(t, target, len(child.Code))
		}
	}
}

func TestSyntaxErrorCarriesLine(t *testing.T) {
	_, err := lexer.Compile("test", "local a =\nreturn +", value.NewStrings(0))
	require.Error(t, err)
	require.Contains(t, err.Error(), "test:2:", "error names the line of the offending token")
}

func TestBreakOutsideLoopRejected(t *testing.T) {
	_, err := lexer.Compile("test", "break", value.NewStrings(0))
	require.Error(t, err)
}

// Every jump in a compiled chunk lands inside the chunk, the declared
// frame size stays within the register limit, and every LOADK
// constant index is in range.
func TestCompiledChunkWellFormed(t *testing.T) {
	p := compile(t, `
		local t = {1, 2, 3, x = "y"}
		local sum = 0
		for i = 1, #t do
			if t[i] > 1 and t[i] < 3 then
				sum = sum + t[i]
			end
		end
		return sum, t.x
	`)
	var check func(p *code.Prototype)
	check = func(p *code.Prototype) {
		require.LessOrEqual(t, p.MaxStack, code.MaxStackSizeLimit)
		for pc, i := range p.Code {
			switch i.Op().Mode() {
			case code.ModeAsBx:
				target := pc + 1 + i.SBx()
				require.GreaterOrEqual(t, target, 0, "jump at %d escapes backward", pc)
				require.Less(t, target, len(p.Code), "jump at %d escapes forward", pc)
			case code.ModeABx:
				if i.Op() == code.OpLoadK {
					require.Less(t, i.Bx(), len(p.Constants))
				}
			}
		}
		for _, child := range p.Protos {
			check(child)
		}
	}
	check(p)
}
