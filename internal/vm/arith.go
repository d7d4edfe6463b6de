package vm

import (
	"fmt"
	"math"

	"gscript/internal/code"
	"gscript/internal/diag"
	"gscript/internal/value"
)

// toFloat coerces v to a float64, succeeding for both numeric tags.
// There is no string->number coercion; see DESIGN.md.
func toFloat(v value.Value) (float64, bool) {
	switch v.Tag {
	case value.TagInt:
		return float64(v.AsInt()), true
	case value.TagFloat:
		return v.AsFloat(), true
	default:
		return 0, false
	}
}

// toInt coerces v to an int64: a float converts only when it
// represents an exact integer.
func toInt(v value.Value) (int64, bool) {
	switch v.Tag {
	case value.TagInt:
		return v.AsInt(), true
	case value.TagFloat:
		f := v.AsFloat()
		i := int64(f)
		if float64(i) == f && !math.IsInf(f, 0) {
			return i, true
		}
		return 0, false
	default:
		return 0, false
	}
}

func isNumber(v value.Value) bool { return v.Tag == value.TagInt || v.Tag == value.TagFloat }

// arith evaluates a binary arithmetic/bitwise op at run time, the
// dispatch-loop counterpart to internal/code's compile-time
// FoldArith: the same int/float promotion rules apply, but here
// integer division/modulo by zero is a real runtime error instead of
// a fold-suppression signal. Integer add/sub/mul overflow wraps
// around.
func arith(op code.Op, a, b value.Value, line int) (value.Value, error) {
	switch op {
	case code.OpAdd, code.OpSub, code.OpMul:
		if a.Tag == value.TagInt && b.Tag == value.TagInt {
			x, y := a.AsInt(), b.AsInt()
			switch op {
			case code.OpAdd:
				return value.Int(x + y), nil
			case code.OpSub:
				return value.Int(x - y), nil
			default:
				return value.Int(x * y), nil
			}
		}
		fx, ok1 := toFloat(a)
		fy, ok2 := toFloat(b)
		if !ok1 || !ok2 {
			return value.Nil, arithTypeError(a, b, line)
		}
		switch op {
		case code.OpAdd:
			return value.Float(fx + fy), nil
		case code.OpSub:
			return value.Float(fx - fy), nil
		default:
			return value.Float(fx * fy), nil
		}
	case code.OpMod:
		if a.Tag == value.TagInt && b.Tag == value.TagInt {
			y := b.AsInt()
			if y == 0 {
				return value.Nil, diag.Runtime(line, fmt.Errorf("attempt to perform 'n%%0'"))
			}
			x := a.AsInt()
			m := x % y
			if m != 0 && (m^y) < 0 {
				m += y
			}
			return value.Int(m), nil
		}
		fx, ok1 := toFloat(a)
		fy, ok2 := toFloat(b)
		if !ok1 || !ok2 {
			return value.Nil, arithTypeError(a, b, line)
		}
		m := math.Mod(fx, fy)
		if m != 0 && (m < 0) != (fy < 0) {
			m += fy
		}
		return value.Float(m), nil
	case code.OpPow:
		fx, ok1 := toFloat(a)
		fy, ok2 := toFloat(b)
		if !ok1 || !ok2 {
			return value.Nil, arithTypeError(a, b, line)
		}
		return value.Float(math.Pow(fx, fy)), nil
	case code.OpDiv:
		fx, ok1 := toFloat(a)
		fy, ok2 := toFloat(b)
		if !ok1 || !ok2 {
			return value.Nil, arithTypeError(a, b, line)
		}
		return value.Float(fx / fy), nil
	case code.OpIDiv:
		if a.Tag == value.TagInt && b.Tag == value.TagInt {
			y := b.AsInt()
			if y == 0 {
				return value.Nil, diag.Runtime(line, fmt.Errorf("attempt to perform 'n//0'"))
			}
			x := a.AsInt()
			q := x / y
			if (x%y != 0) && ((x < 0) != (y < 0)) {
				q--
			}
			return value.Int(q), nil
		}
		fx, ok1 := toFloat(a)
		fy, ok2 := toFloat(b)
		if !ok1 || !ok2 {
			return value.Nil, arithTypeError(a, b, line)
		}
		return value.Float(math.Floor(fx / fy)), nil
	case code.OpBAnd, code.OpBOr, code.OpBXor, code.OpShl, code.OpShr:
		x, ok1 := toInt(a)
		y, ok2 := toInt(b)
		if !ok1 || !ok2 {
			return value.Nil, diag.Runtime(line, fmt.Errorf("number has no integer representation"))
		}
		switch op {
		case code.OpBAnd:
			return value.Int(x & y), nil
		case code.OpBOr:
			return value.Int(x | y), nil
		case code.OpBXor:
			return value.Int(x ^ y), nil
		case code.OpShl:
			return value.Int(shiftLeft(x, y)), nil
		default:
			return value.Int(shiftLeft(x, -y)), nil
		}
	default:
		return value.Nil, diag.Runtime(line, fmt.Errorf("unsupported arithmetic op %s", op))
	}
}

// shiftLeft shifts a left by n bits: negative n shifts right
// instead, and a shift of >= 64 bits always yields 0.
func shiftLeft(a, n int64) int64 {
	if n <= -64 || n >= 64 {
		return 0
	}
	if n >= 0 {
		return int64(uint64(a) << uint(n))
	}
	return int64(uint64(a) >> uint(-n))
}

func arithTypeError(a, b value.Value, line int) error {
	bad := a
	if isNumber(a) {
		bad = b
	}
	return diag.Runtime(line, fmt.Errorf("attempt to perform arithmetic on a %s value", bad.Tag))
}

// less implements the LT opcode's semantics: numeric comparison when
// both sides are numbers, lexicographic comparison for strings, else
// a runtime type error. There is no __lt metamethod fallback; see
// DESIGN.md.
func less(a, b value.Value, line int) (bool, error) {
	if isNumber(a) && isNumber(b) {
		fx, fy := numVal(a), numVal(b)
		return fx < fy, nil
	}
	if a.IsString() && b.IsString() {
		return a.Str() < b.Str(), nil
	}
	return false, diag.Runtime(line, fmt.Errorf("attempt to compare %s with %s", a.Tag, b.Tag))
}

func lessEqual(a, b value.Value, line int) (bool, error) {
	if isNumber(a) && isNumber(b) {
		fx, fy := numVal(a), numVal(b)
		return fx <= fy, nil
	}
	if a.IsString() && b.IsString() {
		return a.Str() <= b.Str(), nil
	}
	return false, diag.Runtime(line, fmt.Errorf("attempt to compare %s with %s", a.Tag, b.Tag))
}

func numVal(v value.Value) float64 {
	if v.Tag == value.TagInt {
		return float64(v.AsInt())
	}
	return v.AsFloat()
}

// toDisplayString renders v for CONCAT, with %.14g float formatting.
func toDisplayString(v value.Value) (string, bool) {
	switch v.Tag {
	case value.TagShortString, value.TagLongString:
		return v.Str(), true
	case value.TagInt:
		return fmt.Sprintf("%d", v.AsInt()), true
	case value.TagFloat:
		return fmt.Sprintf("%.14g", v.AsFloat()), true
	default:
		return "", false
	}
}
