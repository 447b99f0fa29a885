package asm

import (
	"testing"

	"archmage/vm"
)

func TestEncodeNullaryAndConst(t *testing.T) {
	bin := NewOutBin()
	bin.AddFunc("f")
	fn := NewFunc("f", 1)
	fn.Code = append(fn.Code, I64Const(42), Return())
	if err := fn.Encode(bin); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	idx, ok := bin.FuncIdx("f")
	if !ok {
		t.Fatalf("expected func f to be registered")
	}
	ref := bin.funcsTable[idx]
	if ref.ResultCount != 1 {
		t.Fatalf("expected result count 1, got %d", ref.ResultCount)
	}

	code := bin.funcsCode
	// I64Const opcode byte + 8-byte constant, then a bare Return byte.
	if len(code) != 1+8+1 {
		t.Fatalf("expected 10 code bytes, got %d", len(code))
	}
	if vm.Opcode(code[0]) != vm.I64Const {
		t.Fatalf("expected first opcode I64Const, got %d", code[0])
	}
	c, err := vm.NewByteCursor(code[1:9]).ReadU64()
	if err != nil {
		t.Fatalf("reading const: %v", err)
	}
	if c != 42 {
		t.Fatalf("expected const 42, got %d", c)
	}
	if vm.Opcode(code[9]) != vm.Return {
		t.Fatalf("expected trailing opcode Return, got %d", code[9])
	}
}

func TestEncodeForwardJumpPatch(t *testing.T) {
	bin := NewOutBin()
	bin.AddFunc("f")
	fn := NewFunc("f", 0)
	fn.Code = append(fn.Code,
		JumpTo("end"),
		Nop(), // skipped
		Label("end"),
		Return(),
	)
	if err := fn.Encode(bin); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	code := bin.funcsCode
	if vm.Opcode(code[0]) != vm.Jump {
		t.Fatalf("expected leading opcode Jump, got %d", code[0])
	}
	off, err := vm.NewByteCursor(code[1:9]).ReadU64()
	if err != nil {
		t.Fatalf("reading patched offset: %v", err)
	}
	// Jump is 9 bytes (opcode + offset); the lone Nop is 1 byte. The patch
	// target is the byte right after Nop, relative to the byte after the
	// jump's own 8-byte immediate: 9 + 1 - 9 = 1.
	if off != 1 {
		t.Fatalf("expected forward offset 1, got %d", off)
	}
}

func TestEncodeBackwardJumpPatchWraps(t *testing.T) {
	bin := NewOutBin()
	bin.AddFunc("f")
	fn := NewFunc("f", 0)
	fn.Code = append(fn.Code,
		Label("top"),
		Nop(),
		JumpTo("top"),
		Return(),
	)
	if err := fn.Encode(bin); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	code := bin.funcsCode
	// Nop at offset 0 (1 byte), Jump at offset 1 (9 bytes: opcode @1,
	// immediate @2..10). Patch is dest(0) - (patchOffset(2) + 8) = -10,
	// two's-complement-wrapped into uint64.
	off, err := vm.NewByteCursor(code[2:10]).ReadU64()
	if err != nil {
		t.Fatalf("reading patched offset: %v", err)
	}
	want := ^uint64(0) - 9 // -10 as uint64
	if off != want {
		t.Fatalf("expected wrapped backward offset %d, got %d", want, off)
	}
}

func TestEncodeUnknownLabelFails(t *testing.T) {
	bin := NewOutBin()
	bin.AddFunc("f")
	fn := NewFunc("f", 0)
	fn.Code = append(fn.Code, JumpTo("nowhere"), Return())
	if err := fn.Encode(bin); err == nil {
		t.Fatalf("expected error for unresolved label")
	}
}

func TestEncodeCallResolvesFuncIdx(t *testing.T) {
	bin := NewOutBin()
	bin.AddFunc("callee")
	bin.AddFunc("caller")
	fn := NewFunc("caller", 0)
	fn.Code = append(fn.Code, Call("callee"), Return())
	if err := fn.Encode(bin); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	code := bin.funcsCode
	if vm.Opcode(code[0]) != vm.Call {
		t.Fatalf("expected leading opcode Call, got %d", code[0])
	}
	idx, err := vm.NewByteCursor(code[1:5]).ReadU32()
	if err != nil {
		t.Fatalf("reading func idx: %v", err)
	}
	wantIdx, _ := bin.FuncIdx("callee")
	if idx != wantIdx {
		t.Fatalf("expected callee idx %d, got %d", wantIdx, idx)
	}
}

func TestEncodeUnregisteredFuncFails(t *testing.T) {
	bin := NewOutBin()
	fn := NewFunc("orphan", 0)
	if err := fn.Encode(bin); err == nil {
		t.Fatalf("expected error for a func never registered with AddFunc")
	}
}
