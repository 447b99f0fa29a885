package vm

import (
	"errors"
	"fmt"
	"hash/crc32"
	"unicode/utf8"
)

// Magic is the fixed 8-byte identifier every image file starts with.
var Magic = [8]byte{'a', 'r', 'c', 'h', 'm', 'a', 'g', 'e'}

// HeaderSize is the fixed on-disk size of a Header: magic(8) + header_size(2)
// + checksum(4) + file_size(8) + 5 * (offset u64 + size u32).
const HeaderSize = 8 + 2 + 4 + 8 + 5*(8+4)

// FuncRefSize is the packed on-disk size of a FuncRef.
const FuncRefSize = 4 + 8 + 4 + 1

// GlobRefSize is the packed on-disk size of a GlobRef.
const GlobRefSize = 4 + 8 + 4 + 1

var (
	// ErrBadMagic means the first 8 bytes of the image are not "archmage".
	ErrBadMagic = errors.New("image: bad magic")
	// ErrTruncated means a section runs past the declared file size.
	ErrTruncated = errors.New("image: section runs past end of file")
	// ErrBadTableSize means a table size is not a multiple of its record size.
	ErrBadTableSize = errors.New("image: table size is not a multiple of its record size")
	// ErrStringNotTerminated means a string-table lookup ran off the end of
	// the table without finding a NUL terminator.
	ErrStringNotTerminated = errors.New("image: string table entry has no terminator")
	// ErrStringNotUTF8 means a string-table entry's bytes are not valid UTF-8.
	ErrStringNotUTF8 = errors.New("image: string table entry is not valid UTF-8")
)

// ValueType identifies the scalar shape of a Global's stored value.
type ValueType uint8

const (
	ValueU8 ValueType = iota
	ValueU16
	ValueU32
	ValueU64
	ValueF32
	ValueF64
	ValueByteArray
)

func (t ValueType) String() string {
	switch t {
	case ValueU8:
		return "u8"
	case ValueU16:
		return "u16"
	case ValueU32:
		return "u32"
	case ValueU64:
		return "u64"
	case ValueF32:
		return "f32"
	case ValueF64:
		return "f64"
	case ValueByteArray:
		return "byte-array"
	default:
		return "?value-type?"
	}
}

// Header is the fixed 82-byte record at the start of every image, naming the
// offset and size of each section that follows it.
type Header struct {
	Magic       [8]byte
	HeaderSize  uint16
	Checksum    uint32
	FileSize    uint64
	StrTabOff   uint64
	StrTabSize  uint32
	FuncTabOff  uint64
	FuncTabSize uint32
	GlobTabOff  uint64
	GlobTabSize uint32
	CodeOff     uint64
	CodeSize    uint32
	GlobOff     uint64
	GlobSize    uint32
}

// NewHeader returns a zeroed Header with the magic and header_size fields
// already populated, as OutBin.Write does before filling in section sizes.
func NewHeader() Header {
	return Header{Magic: Magic, HeaderSize: HeaderSize}
}

// Serialize appends h's field-by-field little-endian encoding to c at its
// current position.
func (h Header) Serialize(c *ByteCursor) error {
	if err := c.WriteBytes(h.Magic[:]); err != nil {
		return err
	}
	if err := c.WriteU16(h.HeaderSize); err != nil {
		return err
	}
	if err := c.WriteU32(h.Checksum); err != nil {
		return err
	}
	for _, v := range []uint64{h.FileSize} {
		if err := c.WriteU64(v); err != nil {
			return err
		}
	}
	pairs := []struct {
		off  uint64
		size uint32
	}{
		{h.StrTabOff, h.StrTabSize},
		{h.FuncTabOff, h.FuncTabSize},
		{h.GlobTabOff, h.GlobTabSize},
		{h.CodeOff, h.CodeSize},
		{h.GlobOff, h.GlobSize},
	}
	for _, p := range pairs {
		if err := c.WriteU64(p.off); err != nil {
			return err
		}
		if err := c.WriteU32(p.size); err != nil {
			return err
		}
	}
	return nil
}

// DeserializeHeader reads a Header from c at its current position,
// validating the magic and returning a descriptive error for any field that
// cannot be read.
func DeserializeHeader(c *ByteCursor) (Header, error) {
	var h Header
	magic, err := c.ReadBytes(8)
	if err != nil {
		return h, fmt.Errorf("header: magic: %w", err)
	}
	copy(h.Magic[:], magic)
	if h.Magic != Magic {
		return h, ErrBadMagic
	}
	if h.HeaderSize, err = c.ReadU16(); err != nil {
		return h, fmt.Errorf("header: header_size: %w", err)
	}
	if h.Checksum, err = c.ReadU32(); err != nil {
		return h, fmt.Errorf("header: checksum: %w", err)
	}
	if h.FileSize, err = c.ReadU64(); err != nil {
		return h, fmt.Errorf("header: file_size: %w", err)
	}
	fields := []struct {
		off  *uint64
		size *uint32
		name string
	}{
		{&h.StrTabOff, &h.StrTabSize, "string table"},
		{&h.FuncTabOff, &h.FuncTabSize, "function table"},
		{&h.GlobTabOff, &h.GlobTabSize, "global table"},
		{&h.CodeOff, &h.CodeSize, "code"},
		{&h.GlobOff, &h.GlobSize, "global data"},
	}
	for _, f := range fields {
		if *f.off, err = c.ReadU64(); err != nil {
			return h, fmt.Errorf("header: %s offset: %w", f.name, err)
		}
		if *f.size, err = c.ReadU32(); err != nil {
			return h, fmt.Errorf("header: %s size: %w", f.name, err)
		}
	}
	return h, nil
}

// FuncRef describes one function's entry in the function table: its name
// (by string-table index), its code range within the code blob, and its
// declared result count.
type FuncRef struct {
	NameIdx     uint32
	Offset      uint64
	Size        uint32
	ResultCount uint8
}

// Serialize appends f's field-by-field little-endian encoding to c.
func (f FuncRef) Serialize(c *ByteCursor) error {
	if err := c.WriteU32(f.NameIdx); err != nil {
		return err
	}
	if err := c.WriteU64(f.Offset); err != nil {
		return err
	}
	if err := c.WriteU32(f.Size); err != nil {
		return err
	}
	return c.WriteU8(f.ResultCount)
}

// DeserializeFuncRef reads a FuncRef from c at its current position.
func DeserializeFuncRef(c *ByteCursor) (FuncRef, error) {
	var f FuncRef
	var err error
	if f.NameIdx, err = c.ReadU32(); err != nil {
		return f, fmt.Errorf("func ref: name_idx: %w", err)
	}
	if f.Offset, err = c.ReadU64(); err != nil {
		return f, fmt.Errorf("func ref: offset: %w", err)
	}
	if f.Size, err = c.ReadU32(); err != nil {
		return f, fmt.Errorf("func ref: size: %w", err)
	}
	if f.ResultCount, err = c.ReadU8(); err != nil {
		return f, fmt.Errorf("func ref: result_count: %w", err)
	}
	return f, nil
}

// GlobRef describes one global's entry in the global table: its name (by
// string-table index), its byte range within the global data blob, and its
// value type.
type GlobRef struct {
	NameIdx   uint32
	Offset    uint64
	Size      uint32
	ValueType ValueType
}

// Serialize appends g's field-by-field little-endian encoding to c.
func (g GlobRef) Serialize(c *ByteCursor) error {
	if err := c.WriteU32(g.NameIdx); err != nil {
		return err
	}
	if err := c.WriteU64(g.Offset); err != nil {
		return err
	}
	if err := c.WriteU32(g.Size); err != nil {
		return err
	}
	return c.WriteU8(uint8(g.ValueType))
}

// DeserializeGlobRef reads a GlobRef from c at its current position.
func DeserializeGlobRef(c *ByteCursor) (GlobRef, error) {
	var g GlobRef
	var err error
	if g.NameIdx, err = c.ReadU32(); err != nil {
		return g, fmt.Errorf("glob ref: name_idx: %w", err)
	}
	if g.Offset, err = c.ReadU64(); err != nil {
		return g, fmt.Errorf("glob ref: offset: %w", err)
	}
	if g.Size, err = c.ReadU32(); err != nil {
		return g, fmt.Errorf("glob ref: size: %w", err)
	}
	var vt uint8
	if vt, err = c.ReadU8(); err != nil {
		return g, fmt.Errorf("glob ref: value_type: %w", err)
	}
	g.ValueType = ValueType(vt)
	return g, nil
}

// readStringAt reads a NUL-terminated UTF-8 string from the string table
// tab, starting at byte offset off.
func readStringAt(tab []byte, off uint32) (string, error) {
	if int(off) > len(tab) {
		return "", ErrOutOfBounds
	}
	end := -1
	for i := int(off); i < len(tab); i++ {
		if tab[i] == 0 {
			end = i
			break
		}
	}
	if end < 0 {
		return "", ErrStringNotTerminated
	}
	s := tab[off:end]
	if !utf8.Valid(s) {
		return "", ErrStringNotUTF8
	}
	return string(s), nil
}

// Checksum computes a CRC-32 (IEEE) over the full encoded image with the
// header's checksum field zeroed, independent of the loader — the on-disk
// checksum field itself is reserved: OutBin.Write writes it as zero and
// LoadImage ignores its value.
func Checksum(image []byte) uint32 {
	if len(image) < HeaderSize {
		return crc32.ChecksumIEEE(image)
	}
	scratch := make([]byte, len(image))
	copy(scratch, image)
	// checksum field occupies bytes [10:14) of the header (magic 8 +
	// header_size 2).
	scratch[10], scratch[11], scratch[12], scratch[13] = 0, 0, 0, 0
	return crc32.ChecksumIEEE(scratch)
}
