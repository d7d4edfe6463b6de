// Package chunkio implements binary serialization of compiled
// prototypes: the ability to dump a compiled chunk to a file and load
// it back without re-running internal/lexer. The format is a
// little-endian tree walk of the prototype: header fields, code and
// line vectors, constant pool, nested prototypes, then debug tables.
package chunkio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"gscript/internal/code"
	"gscript/internal/value"
)

// magic identifies a dumped chunk.
const magic = "GSC1"

// Dump serializes proto (and every nested prototype) to w.
func Dump(w io.Writer, proto *code.Prototype) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(magic); err != nil {
		return err
	}
	if err := dumpProto(bw, proto); err != nil {
		return err
	}
	return bw.Flush()
}

// Load deserializes a prototype tree previously written by Dump,
// interning string constants into a private table. Hosts that want
// the chunk to share their existing short-string table use LoadInto.
func Load(r io.Reader) (*code.Prototype, error) {
	return LoadInto(r, value.NewStrings(0x9e3779b9))
}

// LoadInto deserializes a prototype tree, re-interning every string
// constant through strs so the chunk shares the caller's string table.
func LoadInto(r io.Reader, strs *value.Strings) (*code.Prototype, error) {
	br := bufio.NewReader(r)
	hdr := make([]byte, len(magic))
	if _, err := io.ReadFull(br, hdr); err != nil {
		return nil, fmt.Errorf("chunkio: reading header: %w", err)
	}
	if string(hdr) != magic {
		return nil, fmt.Errorf("chunkio: bad magic %q", hdr)
	}
	return loadProto(br, strs)
}

func dumpProto(w *bufio.Writer, p *code.Prototype) error {
	if err := writeString(w, p.Source); err != nil {
		return err
	}
	if err := writeInt(w, p.NumParams()); err != nil {
		return err
	}
	if err := writeBool(w, p.IsVararg()); err != nil {
		return err
	}
	if err := writeInt(w, p.MaxStackSize()); err != nil {
		return err
	}

	if err := writeInt(w, len(p.Code)); err != nil {
		return err
	}
	for _, instr := range p.Code {
		if err := binary.Write(w, binary.LittleEndian, uint32(instr)); err != nil {
			return err
		}
	}
	if err := writeInt(w, len(p.Lines)); err != nil {
		return err
	}
	for _, line := range p.Lines {
		if err := binary.Write(w, binary.LittleEndian, line); err != nil {
			return err
		}
	}

	if err := writeInt(w, len(p.Constants)); err != nil {
		return err
	}
	for _, c := range p.Constants {
		if err := dumpConstant(w, c); err != nil {
			return err
		}
	}

	if err := writeInt(w, len(p.Protos)); err != nil {
		return err
	}
	for _, child := range p.Protos {
		if err := dumpProto(w, child); err != nil {
			return err
		}
	}

	if err := writeInt(w, len(p.Upvalues)); err != nil {
		return err
	}
	for _, uv := range p.Upvalues {
		if err := writeString(w, uv.Name); err != nil {
			return err
		}
		if err := writeBool(w, uv.OnStack); err != nil {
			return err
		}
		if err := writeInt(w, uv.Index); err != nil {
			return err
		}
	}

	if err := writeInt(w, len(p.Locals)); err != nil {
		return err
	}
	for _, lv := range p.Locals {
		if err := writeString(w, lv.Name); err != nil {
			return err
		}
		if err := writeInt(w, lv.StartPC); err != nil {
			return err
		}
		if err := writeInt(w, lv.EndPC); err != nil {
			return err
		}
	}
	return nil
}

// constant tag bytes on the wire, independent of value.Tag's bit
// layout so the chunk format does not break if Tag's encoding ever
// changes.
const (
	cNil byte = iota
	cBool
	cInt
	cFloat
	cString
)

func dumpConstant(w *bufio.Writer, v value.Value) error {
	switch {
	case v.IsNil():
		return w.WriteByte(cNil)
	case v.Tag == value.TagBool:
		if err := w.WriteByte(cBool); err != nil {
			return err
		}
		return writeBool(w, v.AsBool())
	case v.Tag == value.TagInt:
		if err := w.WriteByte(cInt); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, v.AsInt())
	case v.Tag == value.TagFloat:
		if err := w.WriteByte(cFloat); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, v.AsFloat())
	case v.IsString():
		if err := w.WriteByte(cString); err != nil {
			return err
		}
		return writeString(w, v.Str())
	default:
		return fmt.Errorf("chunkio: constant pool entry of tag %s is not dumpable", v.Tag)
	}
}

// loadConstant reads back a dumped constant. Strings are re-interned
// through strs so a reloaded chunk shares the short-string table with
// everything else the host compiles, matching Dump's counterpart
// internal/lexer already does for literals parsed from source.
func loadConstant(r *bufio.Reader, strs *value.Strings) (value.Value, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return value.Nil, err
	}
	switch tag {
	case cNil:
		return value.Nil, nil
	case cBool:
		b, err := readBool(r)
		return value.Bool(b), err
	case cInt:
		var i int64
		err := binary.Read(r, binary.LittleEndian, &i)
		return value.Int(i), err
	case cFloat:
		var f float64
		err := binary.Read(r, binary.LittleEndian, &f)
		return value.Float(f), err
	case cString:
		s, err := readString(r)
		if err != nil {
			return value.Nil, err
		}
		return strs.Intern(s), nil
	default:
		return value.Nil, fmt.Errorf("chunkio: unknown constant tag %d", tag)
	}
}

func loadProto(r *bufio.Reader, strs *value.Strings) (*code.Prototype, error) {
	source, err := readString(r)
	if err != nil {
		return nil, err
	}
	p := code.NewPrototype(source)

	np, err := readInt(r)
	if err != nil {
		return nil, err
	}
	p.NumParams_ = np

	vararg, err := readBool(r)
	if err != nil {
		return nil, err
	}
	p.IsVararg_ = vararg

	maxStack, err := readInt(r)
	if err != nil {
		return nil, err
	}
	p.MaxStack = maxStack

	nCode, err := readInt(r)
	if err != nil {
		return nil, err
	}
	p.Code = make([]code.Instruction, nCode)
	for i := range p.Code {
		var w uint32
		if err := binary.Read(r, binary.LittleEndian, &w); err != nil {
			return nil, err
		}
		p.Code[i] = code.Instruction(w)
	}

	nLines, err := readInt(r)
	if err != nil {
		return nil, err
	}
	p.Lines = make([]int32, nLines)
	for i := range p.Lines {
		if err := binary.Read(r, binary.LittleEndian, &p.Lines[i]); err != nil {
			return nil, err
		}
	}

	nConst, err := readInt(r)
	if err != nil {
		return nil, err
	}
	p.Constants = make([]value.Value, nConst)
	for i := range p.Constants {
		c, err := loadConstant(r, strs)
		if err != nil {
			return nil, err
		}
		p.Constants[i] = c
	}

	nProtos, err := readInt(r)
	if err != nil {
		return nil, err
	}
	p.Protos = make([]*code.Prototype, nProtos)
	for i := range p.Protos {
		child, err := loadProto(r, strs)
		if err != nil {
			return nil, err
		}
		p.Protos[i] = child
	}

	nUp, err := readInt(r)
	if err != nil {
		return nil, err
	}
	p.Upvalues = make([]code.UpvalDesc, nUp)
	for i := range p.Upvalues {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		onStack, err := readBool(r)
		if err != nil {
			return nil, err
		}
		idx, err := readInt(r)
		if err != nil {
			return nil, err
		}
		p.Upvalues[i] = code.UpvalDesc{Name: name, OnStack: onStack, Index: idx}
	}

	nLocals, err := readInt(r)
	if err != nil {
		return nil, err
	}
	p.Locals = make([]code.LocalVar, nLocals)
	for i := range p.Locals {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		start, err := readInt(r)
		if err != nil {
			return nil, err
		}
		end, err := readInt(r)
		if err != nil {
			return nil, err
		}
		p.Locals[i] = code.LocalVar{Name: name, StartPC: start, EndPC: end}
	}

	return p, nil
}

func writeInt(w *bufio.Writer, v int) error {
	return binary.Write(w, binary.LittleEndian, uint32(v))
}

func readInt(r *bufio.Reader) (int, error) {
	var v uint32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, err
	}
	return int(v), nil
}

func writeBool(w *bufio.Writer, b bool) error {
	if b {
		return w.WriteByte(1)
	}
	return w.WriteByte(0)
}

func readBool(r *bufio.Reader) (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

func writeString(w *bufio.Writer, s string) error {
	if err := writeInt(w, len(s)); err != nil {
		return err
	}
	_, err := w.WriteString(s)
	return err
}

func readString(r *bufio.Reader) (string, error) {
	n, err := readInt(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
