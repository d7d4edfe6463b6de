package code

import "gscript/internal/value"

// constKey is the scratch dedup table's key type. value.Value is a
// comparable Go struct whose Tag distinguishes integer from float, so
// it doubles as its own key: integer 1 and float 1.0 can never
// collide, and nil and booleans need no stand-in keys.
type constKey = value.Value

// AddConstant adds v to the current prototype's constant pool,
// returning its index; an existing semantically-identical entry is
// reused. Long strings should already be routed through the shared
// internal/value.Strings.Intern/Literal before reaching here so that
// equal-content long strings also share one pooled object.
func (fs *FuncState) AddConstant(v value.Value) (int, error) {
	if idx, ok := fs.constScratch[v]; ok {
		return idx, nil
	}
	if len(fs.Proto.Constants) >= MaxConstants {
		return 0, errTooManyConstants
	}
	idx := len(fs.Proto.Constants)
	fs.Proto.Constants = append(fs.Proto.Constants, v)
	fs.constScratch[v] = idx
	return idx, nil
}

var errTooManyConstants = codeError("too many constants")

// StringConstant interns s via table and pools it, the common path
// for identifier/literal lowering in internal/lexer.
func (fs *FuncState) StringConstant(table *value.Strings, s string) (int, error) {
	return fs.AddConstant(table.Literal(s))
}
