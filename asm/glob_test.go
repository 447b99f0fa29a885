package asm

import (
	"bytes"
	"testing"

	"archmage/vm"
)

func TestGlobEncodeScalarTypes(t *testing.T) {
	cases := []struct {
		name  string
		value GlobalValue
		want  []byte
	}{
		{"u8", GlobU8(0x12), []byte{0x12}},
		{"u16", GlobU16(0x1234), []byte{0x34, 0x12}},
		{"u32", GlobU32(0x12345678), []byte{0x78, 0x56, 0x34, 0x12}},
		{"u64", GlobU64(0x0102030405060708), []byte{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}},
		{"bytes", GlobByteArray([]byte{1, 2, 3}), []byte{1, 2, 3}},
	}

	for _, tc := range cases {
		bin := NewOutBin()
		bin.AddGlob(tc.name)
		g := NewGlob(tc.name, tc.value)
		if err := g.Encode(bin); err != nil {
			t.Fatalf("%s: encode failed: %v", tc.name, err)
		}
		if !bytes.Equal(bin.globsData, tc.want) {
			t.Fatalf("%s: got bytes %v, want %v", tc.name, bin.globsData, tc.want)
		}

		idx, _ := bin.GlobIdx(tc.name)
		ref := bin.globsTable[idx]
		if ref.Size != uint32(len(tc.want)) {
			t.Fatalf("%s: ref size got %d, want %d", tc.name, ref.Size, len(tc.want))
		}
		if ref.ValueType != tc.value.Type {
			t.Fatalf("%s: ref value type got %d, want %d", tc.name, ref.ValueType, tc.value.Type)
		}
	}
}

func TestGlobEncodeFloatRoundTrip(t *testing.T) {
	bin := NewOutBin()
	bin.AddGlob("pi")
	g := NewGlob("pi", GlobF64(3.14159))
	if err := g.Encode(bin); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	got, err := vm.NewByteCursor(bin.globsData).ReadF64()
	if err != nil {
		t.Fatalf("reading back float: %v", err)
	}
	if got != 3.14159 {
		t.Fatalf("got %v, want 3.14159", got)
	}
}

func TestGlobEncodeUnregisteredFails(t *testing.T) {
	bin := NewOutBin()
	g := NewGlob("orphan", GlobU8(1))
	if err := g.Encode(bin); err == nil {
		t.Fatalf("expected error for a glob never registered with AddGlob")
	}
}

func TestGlobEncodeMultipleAppendsToDataBlob(t *testing.T) {
	bin := NewOutBin()
	bin.AddGlob("a")
	bin.AddGlob("b")
	if err := NewGlob("a", GlobU32(1)).Encode(bin); err != nil {
		t.Fatalf("encode a failed: %v", err)
	}
	if err := NewGlob("b", GlobU32(2)).Encode(bin); err != nil {
		t.Fatalf("encode b failed: %v", err)
	}

	idxA, _ := bin.GlobIdx("a")
	idxB, _ := bin.GlobIdx("b")
	refA := bin.globsTable[idxA]
	refB := bin.globsTable[idxB]
	if refA.Offset != 0 || refB.Offset != 4 {
		t.Fatalf("expected sequential offsets 0,4; got %d,%d", refA.Offset, refB.Offset)
	}
}
