package vm

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	h := NewHeader()
	h.FileSize = 1234
	h.StrTabOff, h.StrTabSize = HeaderSize, 10
	h.FuncTabOff, h.FuncTabSize = HeaderSize + 10, FuncRefSize
	h.GlobTabOff, h.GlobTabSize = h.FuncTabOff+FuncRefSize, GlobRefSize
	h.CodeOff, h.CodeSize = h.GlobTabOff+GlobRefSize, 20
	h.GlobOff, h.GlobSize = h.CodeOff+20, 8

	buf := make([]byte, HeaderSize)
	c := NewByteCursor(buf)
	assert(t, h.Serialize(c) == nil, "serialize failed")

	got, err := DeserializeHeader(NewByteCursor(buf))
	assert(t, err == nil, "deserialize failed: %v", err)
	assert(t, got == h, "round-tripped header mismatch: got %+v, want %+v", got, h)
}

func TestDeserializeHeaderBadMagic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	copy(buf, "notmagic")
	_, err := DeserializeHeader(NewByteCursor(buf))
	assert(t, err == ErrBadMagic, "expected ErrBadMagic, got %v", err)
}

func TestFuncRefRoundTrip(t *testing.T) {
	f := FuncRef{NameIdx: 3, Offset: 100, Size: 40, ResultCount: 1}
	buf := make([]byte, FuncRefSize)
	assert(t, f.Serialize(NewByteCursor(buf)) == nil, "serialize failed")

	got, err := DeserializeFuncRef(NewByteCursor(buf))
	assert(t, err == nil && got == f, "round-tripped func ref mismatch: got %+v, want %+v, err %v", got, f, err)
}

func TestGlobRefRoundTrip(t *testing.T) {
	g := GlobRef{NameIdx: 5, Offset: 8, Size: 8, ValueType: ValueU64}
	buf := make([]byte, GlobRefSize)
	assert(t, g.Serialize(NewByteCursor(buf)) == nil, "serialize failed")

	got, err := DeserializeGlobRef(NewByteCursor(buf))
	assert(t, err == nil && got == g, "round-tripped glob ref mismatch: got %+v, want %+v, err %v", got, g, err)
}

func TestChecksumIgnoresChecksumField(t *testing.T) {
	h := NewHeader()
	h.FileSize = HeaderSize
	buf := make([]byte, HeaderSize)
	assert(t, h.Serialize(NewByteCursor(buf)) == nil, "serialize failed")

	h.Checksum = 0xDEADBEEF
	buf2 := make([]byte, HeaderSize)
	assert(t, h.Serialize(NewByteCursor(buf2)) == nil, "serialize failed")

	assert(t, Checksum(buf) == Checksum(buf2), "checksum should ignore the checksum field")
}

// buildMinimalImage assembles a tiny valid image by hand, without going
// through package asm, to exercise the loader in isolation.
func buildMinimalImage(t *testing.T) []byte {
	t.Helper()
	strTab := append([]byte("main"), 0)

	fn := FuncRef{NameIdx: 0, Offset: 0, Size: 1, ResultCount: 0}
	code := []byte{byte(Return)}

	h := NewHeader()
	h.StrTabOff, h.StrTabSize = HeaderSize, uint32(len(strTab))
	h.FuncTabOff, h.FuncTabSize = h.StrTabOff+uint64(h.StrTabSize), FuncRefSize
	h.GlobTabOff, h.GlobTabSize = h.FuncTabOff+uint64(h.FuncTabSize), 0
	h.CodeOff, h.CodeSize = h.GlobTabOff+uint64(h.GlobTabSize), uint32(len(code))
	h.GlobOff, h.GlobSize = h.CodeOff+uint64(h.CodeSize), 0
	h.FileSize = h.GlobOff + uint64(h.GlobSize)

	buf := make([]byte, h.FileSize)
	c := NewByteCursor(buf)
	assert(t, h.Serialize(c) == nil, "header serialize failed")
	assert(t, c.WriteBytes(strTab) == nil, "string table write failed")
	assert(t, fn.Serialize(c) == nil, "func ref serialize failed")
	assert(t, c.WriteBytes(code) == nil, "code write failed")
	return buf
}

func TestLoadImage(t *testing.T) {
	data := buildMinimalImage(t)
	img, err := LoadImage(data)
	assert(t, err == nil, "LoadImage failed: %v", err)
	assert(t, len(img.Funcs) == 1, "expected 1 func, got %d", len(img.Funcs))

	ref, ok := img.FuncByName("main")
	assert(t, ok, "expected to find func main")
	assert(t, ref.Offset == 0 && ref.Size == 1, "unexpected func ref %+v", ref)

	_, ok = img.GlobByName("missing")
	assert(t, !ok, "expected no global named missing")
}

func TestLoadImageTruncated(t *testing.T) {
	data := buildMinimalImage(t)
	_, err := LoadImage(data[:len(data)-2])
	assert(t, err != nil, "expected error loading truncated image")
}
