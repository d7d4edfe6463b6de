package vm_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"gscript/internal/lexer"
	"gscript/internal/value"
	"gscript/internal/vm"
)

func compileAndRun(t *testing.T, src string) ([]value.Value, *vm.VM) {
	t.Helper()
	host := vm.NewHost(zerolog.Nop())
	proto, err := lexer.Compile("test", src, host.Strs)
	require.NoError(t, err)
	m := vm.New(host, zerolog.Nop())
	results, err := m.Run(proto)
	require.NoError(t, err)
	return results, m
}

func TestArithmeticAndReturn(t *testing.T) {
	results, _ := compileAndRun(t, "return 1 + 2 * 3")
	require.Len(t, results, 1)
	require.Equal(t, int64(7), results[0].AsInt())
}

func TestLocalsAndShortCircuitAnd(t *testing.T) {
	results, _ := compileAndRun(t, `
		local a = 1
		local b = 2
		return a and b
	`)
	require.Len(t, results, 1)
	require.Equal(t, int64(2), results[0].AsInt())
}

func TestShortCircuitOrFalsy(t *testing.T) {
	results, _ := compileAndRun(t, `
		local a = false
		local b = 5
		return a or b
	`)
	require.Len(t, results, 1)
	require.Equal(t, int64(5), results[0].AsInt())
}

func TestGlobalTableRoundTrip(t *testing.T) {
	results, m := compileAndRun(t, `
		x = 10
		return x
	`)
	require.Len(t, results, 1)
	require.Equal(t, int64(10), results[0].AsInt())

	got := m.Globals().Get(m.Host().Strs.Literal("x"))
	require.Equal(t, int64(10), got.AsInt())
}

func TestIfStatementAssignsOnComparison(t *testing.T) {
	results, _ := compileAndRun(t, `
		local x = 5
		local y = 0
		if x < 10 then
			y = 1
		end
		return y
	`)
	require.Len(t, results, 1)
	require.Equal(t, int64(1), results[0].AsInt())
}

func TestNumericForLoopSum(t *testing.T) {
	results, _ := compileAndRun(t, `
		local sum = 0
		for i = 1, 5 do
			sum = sum + i
		end
		return sum
	`)
	require.Len(t, results, 1)
	require.Equal(t, int64(15), results[0].AsInt())
}

func TestWhileLoopCountdown(t *testing.T) {
	results, _ := compileAndRun(t, `
		local n = 3
		local acc = 0
		while n > 0 do
			acc = acc + n
			n = n - 1
		end
		return acc
	`)
	require.Len(t, results, 1)
	require.Equal(t, int64(6), results[0].AsInt())
}

func TestFunctionCallAndClosureUpvalue(t *testing.T) {
	results, _ := compileAndRun(t, `
		local function makeCounter()
			local n = 0
			local function bump()
				n = n + 1
				return n
			end
			return bump
		end
		local bump = makeCounter()
		bump()
		return bump()
	`)
	require.Len(t, results, 1)
	require.Equal(t, int64(2), results[0].AsInt())
}

func TestTableConstructorAndIndexing(t *testing.T) {
	results, _ := compileAndRun(t, `
		local t = {1, 2, 3}
		t.x = 42
		return t[2], t.x
	`)
	require.Len(t, results, 2)
	require.Equal(t, int64(2), results[0].AsInt())
	require.Equal(t, int64(42), results[1].AsInt())
}

func TestStringConcatenation(t *testing.T) {
	results, _ := compileAndRun(t, `
		local a = "foo"
		local b = "bar"
		return a .. b .. 1
	`)
	require.Len(t, results, 1)
	require.True(t, results[0].IsString())
	require.Equal(t, "foobar1", results[0].Str())
}
