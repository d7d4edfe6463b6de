package vm

import (
	"fmt"

	"gscript/internal/code"
	"gscript/internal/diag"
	"gscript/internal/value"
)

// execFrame is the dispatch loop proper: one switch over the opcode,
// with the logic inline rather than factored into per-op functions so
// the hot loop stays flat.
func (vm *VM) execFrame(fr *frame) ([]value.Value, error) {
	defer vm.thread.CloseUpvalues(fr.base)
	proto := fr.proto
	top := fr.base // absolute index; tracks "stack top" for B==0/C==0 multret operands

	reg := func(i int) *value.Value { return &vm.thread.Stack[fr.base+i] }
	rk := func(k int) value.Value {
		if code.IsK(k) {
			return proto.Constants[code.IndexK(k)]
		}
		return *reg(k)
	}
	line := func() int {
		if fr.pc-1 >= 0 && fr.pc-1 < len(proto.Lines) {
			return int(proto.Lines[fr.pc-1])
		}
		return 0
	}

	for {
		if fr.pc >= len(proto.Code) {
			return nil, diag.Runtime(0, fmt.Errorf("%s: ran off the end of the code vector", proto.Source))
		}
		instr := proto.Code[fr.pc]
		fr.pc++
		op := instr.Op()

		if vm.DebugHook != nil {
			vm.DebugHook(vm, line())
		}

		switch op {
		case code.OpMove:
			*reg(instr.A()) = *reg(instr.B())

		case code.OpLoadK:
			*reg(instr.A()) = proto.Constants[instr.Bx()]

		case code.OpLoadKX:
			extra := proto.Code[fr.pc]
			fr.pc++
			*reg(instr.A()) = proto.Constants[extra.Ax()]

		case code.OpLoadBool:
			*reg(instr.A()) = value.Bool(instr.B() != 0)
			if instr.C() != 0 {
				fr.pc++
			}

		case code.OpLoadNil:
			a, b := instr.A(), instr.B()
			for i := a; i <= a+b; i++ {
				*reg(i) = value.Nil
			}

		case code.OpGetUpval:
			*reg(instr.A()) = fr.closure.Upvals[instr.B()].Get()

		case code.OpSetUpval:
			uv := fr.closure.Upvals[instr.B()]
			v := *reg(instr.A())
			uv.Set(v)
			vm.host.UpvalueBarrier(fr.closure, v)

		case code.OpGetTabUp:
			tbl, ok := tableOf(fr.closure.Upvals[instr.B()].Get())
			if !ok {
				return nil, diag.Runtime(line(), fmt.Errorf("attempt to index a non-table value"))
			}
			*reg(instr.A()) = tbl.Get(rk(instr.C()))

		case code.OpSetTabUp:
			tbl, ok := tableOf(fr.closure.Upvals[instr.A()].Get())
			if !ok {
				return nil, diag.Runtime(line(), fmt.Errorf("attempt to index a non-table value"))
			}
			vm.host.TableSet(tbl, rk(instr.B()), rk(instr.C()))

		case code.OpGetTable:
			tbl, ok := tableOf(*reg(instr.B()))
			if !ok {
				return nil, diag.Runtime(line(), fmt.Errorf("attempt to index a non-table value"))
			}
			*reg(instr.A()) = tbl.Get(rk(instr.C()))

		case code.OpSetTable:
			tbl, ok := tableOf(*reg(instr.A()))
			if !ok {
				return nil, diag.Runtime(line(), fmt.Errorf("attempt to index a non-table value"))
			}
			vm.host.TableSet(tbl, rk(instr.B()), rk(instr.C()))

		case code.OpNewTable:
			*reg(instr.A()) = value.Object(value.TagTable, vm.host.NewTable())

		case code.OpSelf:
			obj := *reg(instr.B())
			tbl, ok := tableOf(obj)
			if !ok {
				return nil, diag.Runtime(line(), fmt.Errorf("attempt to index a non-table value"))
			}
			*reg(instr.A() + 1) = obj
			*reg(instr.A()) = tbl.Get(rk(instr.C()))

		case code.OpAdd, code.OpSub, code.OpMul, code.OpMod, code.OpPow,
			code.OpDiv, code.OpIDiv, code.OpBAnd, code.OpBOr, code.OpBXor,
			code.OpShl, code.OpShr:
			r, err := arith(op, rk(instr.B()), rk(instr.C()), line())
			if err != nil {
				return nil, err
			}
			*reg(instr.A()) = r

		case code.OpUnm:
			v := *reg(instr.B())
			switch v.Tag {
			case value.TagInt:
				*reg(instr.A()) = value.Int(-v.AsInt())
			case value.TagFloat:
				*reg(instr.A()) = value.Float(-v.AsFloat())
			default:
				return nil, diag.Runtime(line(), fmt.Errorf("attempt to perform arithmetic on a %s value", v.Tag))
			}

		case code.OpBNot:
			i, ok := toInt(*reg(instr.B()))
			if !ok {
				return nil, diag.Runtime(line(), fmt.Errorf("number has no integer representation"))
			}
			*reg(instr.A()) = value.Int(^i)

		case code.OpNot:
			*reg(instr.A()) = value.Bool(reg(instr.B()).IsFalsy())

		case code.OpLen:
			v := *reg(instr.B())
			switch {
			case v.IsString():
				*reg(instr.A()) = value.Int(int64(len(v.Str())))
			case v.Tag == value.TagTable:
				t, _ := v.AsObject().(*value.Table)
				*reg(instr.A()) = value.Int(int64(t.Len()))
			default:
				return nil, diag.Runtime(line(), fmt.Errorf("attempt to get length of a %s value", v.Tag))
			}

		case code.OpConcat:
			b, c := instr.B(), instr.C()
			s := ""
			for i := b; i <= c; i++ {
				piece, ok := toDisplayString(*reg(i))
				if !ok {
					return nil, diag.Runtime(line(), fmt.Errorf("attempt to concatenate a %s value", reg(i).Tag))
				}
				s += piece
			}
			*reg(instr.A()) = vm.host.InternString(s)

		case code.OpJmp:
			if instr.A() != 0 {
				vm.closeUpvaluesAt(fr, instr.A()-1)
			}
			fr.pc += instr.SBx()

		case code.OpEq:
			eq := numericOrRawEqual(rk(instr.B()), rk(instr.C()))
			if eq != (instr.A() != 0) {
				fr.pc++
			}

		case code.OpLt:
			lt, err := less(rk(instr.B()), rk(instr.C()), line())
			if err != nil {
				return nil, err
			}
			if lt != (instr.A() != 0) {
				fr.pc++
			}

		case code.OpLe:
			le, err := lessEqual(rk(instr.B()), rk(instr.C()), line())
			if err != nil {
				return nil, err
			}
			if le != (instr.A() != 0) {
				fr.pc++
			}

		case code.OpTest:
			if reg(instr.A()).IsFalsy() == (instr.C() != 0) {
				fr.pc++
			}

		case code.OpTestSet:
			b := *reg(instr.B())
			if b.IsFalsy() == (instr.C() != 0) {
				fr.pc++
			} else {
				*reg(instr.A()) = b
			}

		case code.OpCall:
			a, b, c := instr.A(), instr.B(), instr.C()
			var args []value.Value
			if b == 0 {
				args = append([]value.Value(nil), vm.thread.Stack[fr.base+a+1:top]...)
			} else {
				args = append([]value.Value(nil), vm.thread.Stack[fr.base+a+1:fr.base+a+b]...)
			}
			results, err := vm.CallValue(*reg(a), args)
			if err != nil {
				return nil, err
			}
			if c == 0 {
				vm.spillResults(fr, a, results)
				top = fr.base + a + len(results)
			} else {
				vm.placeResults(fr, a, c-1, results)
			}

		case code.OpTailCall:
			a, b := instr.A(), instr.B()
			var args []value.Value
			if b == 0 {
				args = append([]value.Value(nil), vm.thread.Stack[fr.base+a+1:top]...)
			} else {
				args = append([]value.Value(nil), vm.thread.Stack[fr.base+a+1:fr.base+a+b]...)
			}
			return vm.CallValue(*reg(a), args)

		case code.OpReturn:
			a, b := instr.A(), instr.B()
			if b == 0 {
				return append([]value.Value(nil), vm.thread.Stack[fr.base+a:top]...), nil
			}
			return append([]value.Value(nil), vm.thread.Stack[fr.base+a:fr.base+a+b-1]...), nil

		case code.OpForPrep:
			a := instr.A()
			init, limit, step := *reg(a), *reg(a + 1), *reg(a + 2)
			if _, ok := toFloat(init); !ok {
				return nil, diag.Runtime(line(), fmt.Errorf("'for' initial value must be a number"))
			}
			if _, ok := toFloat(limit); !ok {
				return nil, diag.Runtime(line(), fmt.Errorf("'for' limit must be a number"))
			}
			if _, ok := toFloat(step); !ok {
				return nil, diag.Runtime(line(), fmt.Errorf("'for' step must be a number"))
			}
			*reg(a) = forArith(init, step, -1)
			fr.pc += instr.SBx()

		case code.OpForLoop:
			a := instr.A()
			step := *reg(a + 2)
			cur := forArith(*reg(a), step, 1)
			*reg(a) = cur
			stepPositive := forIsPositive(step)
			limit := *reg(a + 1)
			cont := forLessEqual(cur, limit, stepPositive)
			if cont {
				fr.pc += instr.SBx()
				*reg(a + 3) = cur
			}

		case code.OpTForCall:
			a, c := instr.A(), instr.C()
			results, err := vm.CallValue(*reg(a), []value.Value{*reg(a + 1), *reg(a + 2)})
			if err != nil {
				return nil, err
			}
			vm.placeResults(fr, a+3, c, results)

		case code.OpTForLoop:
			a := instr.A()
			if !reg(a + 1).IsNil() {
				*reg(a) = *reg(a + 1)
				fr.pc += instr.SBx()
			}

		case code.OpSetList:
			a, b, c := instr.A(), instr.B(), instr.C()
			if c == 0 {
				extra := proto.Code[fr.pc]
				fr.pc++
				c = extra.Ax()
			}
			tbl, ok := tableOf(*reg(a))
			if !ok {
				return nil, diag.Runtime(line(), fmt.Errorf("attempt to index a non-table value"))
			}
			n := b
			if n == 0 {
				n = top - (fr.base + a + 1)
			}
			base := (c - 1) * code.LFieldsPerFlush
			for i := 1; i <= n; i++ {
				vm.host.TableSet(tbl, value.Int(int64(base+i)), *reg(a+i))
			}

		case code.OpClosure:
			child := proto.Protos[instr.Bx()]
			cl := vm.host.NewClosure(child, len(child.Upvalues))
			for i, desc := range child.Upvalues {
				if desc.OnStack {
					cl.Upvals[i] = vm.thread.OpenUpvalue(reg(desc.Index))
				} else {
					cl.Upvals[i] = fr.closure.Upvals[desc.Index]
				}
			}
			*reg(instr.A()) = value.Object(value.TagClosure, cl)

		case code.OpVararg:
			a, b := instr.A(), instr.B()
			if b == 0 {
				vm.spillResults(fr, a, fr.varargs)
				top = fr.base + a + len(fr.varargs)
			} else {
				vm.placeResults(fr, a, b-1, fr.varargs)
			}

		case code.OpExtraArg:
			// Only ever consumed in-line by OpLoadKX/OpSetList above;
			// reached directly only for a malformed prototype.
			return nil, diag.Syntax(proto.Source, line(), fmt.Errorf("stray EXTRAARG"))

		default:
			return nil, diag.Runtime(line(), fmt.Errorf("unimplemented opcode %s", op))
		}
	}
}

func (vm *VM) closeUpvaluesAt(fr *frame, level int) {
	vm.thread.CloseUpvalues(fr.base + level)
}

// placeResults copies up to want values from results into regs
// starting at a, padding with nil for any shortfall.
func (vm *VM) placeResults(fr *frame, a, want int, results []value.Value) {
	for i := 0; i < want; i++ {
		if i < len(results) {
			vm.thread.Stack[fr.base+a+i] = results[i]
		} else {
			vm.thread.Stack[fr.base+a+i] = value.Nil
		}
	}
}

// spillResults copies every result starting at a with no padding,
// used for the C==0 / B==0 "up to stack top" operand forms.
func (vm *VM) spillResults(fr *frame, a int, results []value.Value) {
	for i, v := range results {
		vm.thread.Stack[fr.base+a+i] = v
	}
}

func tableOf(v value.Value) (*value.Table, bool) {
	if v.Tag != value.TagTable {
		return nil, false
	}
	t, ok := v.AsObject().(*value.Table)
	return t, ok
}

// numericOrRawEqual implements `==`: numbers compare by value across
// the int/float tag split (unlike RawEqual, which stays tag-distinct
// for constant-pool identity); every other tag falls back to
// RawEqual.
func numericOrRawEqual(a, b value.Value) bool {
	if isNumber(a) && isNumber(b) {
		return numVal(a) == numVal(b)
	}
	return a.RawEqual(b)
}

// forArith adds step to v sign times (sign=1 for FORLOOP's
// increment, -1 for FORPREP's pre-decrement), staying in integers
// when both operands are integers and promoting to float otherwise.
func forArith(v, step value.Value, sign int64) value.Value {
	if v.Tag == value.TagInt && step.Tag == value.TagInt {
		return value.Int(v.AsInt() + sign*step.AsInt())
	}
	fv, _ := toFloat(v)
	fs, _ := toFloat(step)
	return value.Float(fv + float64(sign)*fs)
}

func forIsPositive(step value.Value) bool {
	if step.Tag == value.TagInt {
		return step.AsInt() >= 0
	}
	return step.AsFloat() >= 0
}

func forLessEqual(cur, limit value.Value, stepPositive bool) bool {
	fc, fl := numVal(cur), numVal(limit)
	if stepPositive {
		return fc <= fl
	}
	return fc >= fl
}
