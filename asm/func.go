package asm

import (
	"fmt"

	"archmage/vm"
)

// Func is a named, ordered sequence of instructions plus a declared result
// count, matching spec.md's Function data model entry. Its emitted code
// becomes a contiguous range in the output binary's code blob.
type Func struct {
	Name        string
	ResultCount uint8
	Code        []Instruction
}

// NewFunc returns an empty function ready to have instructions appended to
// Code.
func NewFunc(name string, resultCount uint8) *Func {
	return &Func{Name: name, ResultCount: resultCount}
}

// Encode performs the two-pass label resolution assembler: sweep 1 emits
// opcode bytes and immediates (placeholder zeros for symbolic jumps),
// recording label destinations and pending-jump patch sites; sweep 2
// resolves each pending jump to a PC-relative offset and patches it in.
// The result is appended to bin's code blob and the func's FuncRef is
// updated with its (offset, size, result_count).
func (f *Func) Encode(bin *OutBin) error {
	idx, ok := bin.FuncIdx(f.Name)
	if !ok {
		return fmt.Errorf("asm: func %q was never registered with AddFunc", f.Name)
	}

	var code []byte
	labelDests := make(map[string]uint64)
	pendingJumps := make(map[uint64]string)

	for _, inst := range f.Code {
		if inst.Symbolic == symbolicLabel {
			labelDests[inst.Literal.Name] = uint64(len(code))
			continue
		}

		code = append(code, byte(inst.Opcode))

		if inst.Symbolic == symbolicJump {
			pendingJumps[uint64(len(code))] = inst.Literal.Name
			code = append(code, make([]byte, 8)...)
			continue
		}

		if err := encodeImmediate(&code, inst, bin); err != nil {
			return fmt.Errorf("asm: func %q: %w", f.Name, err)
		}
	}

	for patchOffset, label := range pendingJumps {
		dest, ok := labelDests[label]
		if !ok {
			return fmt.Errorf("asm: func %q: unknown label %q", f.Name, label)
		}
		// PC-relative to the byte after the 8-byte immediate: the engine
		// computes new_pc = pc_after_immediate + off, so the patched value
		// is dest - (patchOffset + 8), two's-complement-wrapped into u64 for
		// backward jumps.
		pcAfterImmediate := patchOffset + 8
		rel := dest - pcAfterImmediate
		c := vm.NewByteCursor(code[patchOffset : patchOffset+8])
		if err := c.WriteU64(rel); err != nil {
			return fmt.Errorf("asm: func %q: patching jump to %q: %w", f.Name, label, err)
		}
	}

	offset := bin.AddFuncCode(code)
	bin.SetFuncRef(idx, offset, uint32(len(code)), f.ResultCount)
	return nil
}

// encodeImmediate appends inst's immediate bytes (if its opcode carries
// one) to code, resolving Func/Glob literals against bin's name tables.
func encodeImmediate(code *[]byte, inst Instruction, bin *OutBin) error {
	kind := inst.Opcode.Immediate()
	if kind == vm.ImmNone {
		return nil
	}

	switch kind {
	case vm.ImmOffsetU64:
		appendU64(code, inst.Literal.Offset)
	case vm.ImmConstU64:
		appendU64(code, inst.Literal.Const)
	case vm.ImmConstF64:
		appendF64(code, inst.Literal.FloatConst)
	case vm.ImmFuncIdx:
		idx, ok := bin.FuncIdx(inst.Literal.Name)
		if !ok {
			return fmt.Errorf("no func named %q", inst.Literal.Name)
		}
		appendU32(code, idx)
	case vm.ImmGlobIdx:
		idx, ok := bin.GlobIdx(inst.Literal.Name)
		if !ok {
			return fmt.Errorf("no glob named %q", inst.Literal.Name)
		}
		appendU32(code, idx)
	}
	return nil
}

func appendU32(code *[]byte, v uint32) {
	buf := make([]byte, 4)
	vm.NewByteCursor(buf).WriteU32(v)
	*code = append(*code, buf...)
}

func appendU64(code *[]byte, v uint64) {
	buf := make([]byte, 8)
	vm.NewByteCursor(buf).WriteU64(v)
	*code = append(*code, buf...)
}

func appendF64(code *[]byte, v float64) {
	buf := make([]byte, 8)
	vm.NewByteCursor(buf).WriteF64(v)
	*code = append(*code, buf...)
}
