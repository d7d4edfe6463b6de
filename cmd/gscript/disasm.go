package main

import (
	"fmt"

	"github.com/fatih/color"

	"gscript/internal/code"
	"gscript/internal/value"
)

// printCode lists a prototype tree's instructions recursively, with
// opcode names highlighted.
func printCode(p *code.Prototype) {
	printProto(p, 0)
}

func printProto(p *code.Prototype, depth int) {
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}
	fmt.Printf("%s; function <%s> params=%d vararg=%v maxstack=%d\n",
		indent, p.Source, p.NumParams(), p.IsVararg(), p.MaxStackSize())

	opName := color.New(color.FgYellow).SprintFunc()
	for pc, instr := range p.Code {
		line := int32(0)
		if pc < len(p.Lines) {
			line = p.Lines[pc]
		}
		fmt.Printf("%s%4d [%4d] %-10s %s\n", indent, pc, line, opName(instr.Op().String()), operands(instr, p))
	}
	for _, child := range p.Protos {
		printProto(child, depth+1)
	}
}

func operands(instr code.Instruction, p *code.Prototype) string {
	switch instr.Op().Mode() {
	case code.ModeABC:
		return fmt.Sprintf("A=%d B=%s C=%s", instr.A(), rk(instr.B(), p), rk(instr.C(), p))
	case code.ModeABx:
		return fmt.Sprintf("A=%d Bx=%d", instr.A(), instr.Bx())
	case code.ModeAsBx:
		return fmt.Sprintf("A=%d sBx=%d", instr.A(), instr.SBx())
	case code.ModeAx:
		return fmt.Sprintf("Ax=%d", instr.Ax())
	default:
		return ""
	}
}

// rk renders a B/C operand, resolving it against the constant pool
// when its top bit marks it as a K-operand.
func rk(v int, p *code.Prototype) string {
	if !code.IsK(v) {
		return fmt.Sprintf("R%d", v)
	}
	k := code.IndexK(v)
	if k < 0 || k >= len(p.Constants) {
		return fmt.Sprintf("K%d", k)
	}
	return fmt.Sprintf("K%d(%s)", k, constantString(p.Constants[k]))
}

func constantString(v value.Value) string {
	switch {
	case v.IsNil():
		return "nil"
	case v.Tag == value.TagBool:
		return fmt.Sprintf("%t", v.AsBool())
	case v.Tag == value.TagInt:
		return fmt.Sprintf("%d", v.AsInt())
	case v.Tag == value.TagFloat:
		return fmt.Sprintf("%.14g", v.AsFloat())
	case v.IsString():
		return fmt.Sprintf("%q", v.Str())
	default:
		return v.Tag.String()
	}
}
