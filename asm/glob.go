package asm

import (
	"fmt"

	"archmage/vm"
)

// Glob is a named global value: one of the scalar types or a raw byte
// array, matching spec.md's Global data model entry.
type Glob struct {
	Name  string
	Value GlobalValue
}

// NewGlob wraps a name and value for encoding into an OutBin.
func NewGlob(name string, value GlobalValue) *Glob {
	return &Glob{Name: name, Value: value}
}

// GlobalValue is a tagged union over the scalar/array shapes a Global can
// hold. Exactly one field is meaningful, selected by Type.
type GlobalValue struct {
	Type  vm.ValueType
	U8    uint8
	U16   uint16
	U32   uint32
	U64   uint64
	F32   float32
	F64   float64
	Bytes []byte
}

func GlobU8(v uint8) GlobalValue   { return GlobalValue{Type: vm.ValueU8, U8: v} }
func GlobU16(v uint16) GlobalValue { return GlobalValue{Type: vm.ValueU16, U16: v} }
func GlobU32(v uint32) GlobalValue { return GlobalValue{Type: vm.ValueU32, U32: v} }
func GlobU64(v uint64) GlobalValue { return GlobalValue{Type: vm.ValueU64, U64: v} }
func GlobF32(v float32) GlobalValue { return GlobalValue{Type: vm.ValueF32, F32: v} }
func GlobF64(v float64) GlobalValue { return GlobalValue{Type: vm.ValueF64, F64: v} }
func GlobByteArray(v []byte) GlobalValue {
	return GlobalValue{Type: vm.ValueByteArray, Bytes: append([]byte(nil), v...)}
}

// Encode appends g's byte representation (little-endian scalar, or verbatim
// for a byte array) to bin's global data blob and fills in the GlobRef's
// offset, size, and value type.
func (g *Glob) Encode(bin *OutBin) error {
	idx, ok := bin.GlobIdx(g.Name)
	if !ok {
		return fmt.Errorf("asm: glob %q was never registered with AddGlob", g.Name)
	}

	var data []byte
	switch g.Value.Type {
	case vm.ValueU8:
		data = []byte{g.Value.U8}
	case vm.ValueU16:
		data = make([]byte, 2)
		vm.NewByteCursor(data).WriteU16(g.Value.U16)
	case vm.ValueU32:
		data = make([]byte, 4)
		vm.NewByteCursor(data).WriteU32(g.Value.U32)
	case vm.ValueU64:
		data = make([]byte, 8)
		vm.NewByteCursor(data).WriteU64(g.Value.U64)
	case vm.ValueF32:
		data = make([]byte, 4)
		vm.NewByteCursor(data).WriteF32(g.Value.F32)
	case vm.ValueF64:
		data = make([]byte, 8)
		vm.NewByteCursor(data).WriteF64(g.Value.F64)
	case vm.ValueByteArray:
		data = g.Value.Bytes
	default:
		return fmt.Errorf("asm: glob %q: unknown value type %d", g.Name, g.Value.Type)
	}

	offset := bin.AddGlobData(data)
	bin.SetGlobRef(idx, offset, uint32(len(data)), g.Value.Type)
	return nil
}
