package asm

import (
	"archmage/vm"
)

// OutBin aggregates functions and globals into the five image sections
// (string table, function table, global table, code blob, global data
// blob), deduplicating names by reusing an existing ref's index rather than
// creating a second one.
type OutBin struct {
	strTable    []byte
	strTableMap map[string]uint32

	funcsTable    []vm.FuncRef
	funcsTableMap map[string]uint32
	funcsCode     []byte

	globsTable    []vm.GlobRef
	globsTableMap map[string]uint32
	globsData     []byte
}

// NewOutBin returns an empty builder.
func NewOutBin() *OutBin {
	return &OutBin{
		strTableMap:   make(map[string]uint32),
		funcsTableMap: make(map[string]uint32),
		globsTableMap: make(map[string]uint32),
	}
}

// AddFunc returns name's index in the function table, creating a new
// (name-interned) FuncRef if this is the first time name has been seen.
func (b *OutBin) AddFunc(name string) uint32 {
	if idx, ok := b.funcsTableMap[name]; ok {
		return idx
	}
	idx := uint32(len(b.funcsTable))
	nameIdx := b.addString(name)
	b.funcsTable = append(b.funcsTable, vm.FuncRef{NameIdx: nameIdx})
	b.funcsTableMap[name] = idx
	return idx
}

// AddFuncCode appends raw bytecode to the code blob and returns the
// starting offset the caller should record in the FuncRef.
func (b *OutBin) AddFuncCode(code []byte) uint64 {
	offset := uint64(len(b.funcsCode))
	b.funcsCode = append(b.funcsCode, code...)
	return offset
}

// FuncIdx returns name's function-table index, if any.
func (b *OutBin) FuncIdx(name string) (uint32, bool) {
	idx, ok := b.funcsTableMap[name]
	return idx, ok
}

// SetFuncRef overwrites the FuncRef at idx (offset/size/result_count),
// called once a function's code has been assembled.
func (b *OutBin) SetFuncRef(idx uint32, offset uint64, size uint32, resultCount uint8) {
	ref := &b.funcsTable[idx]
	ref.Offset = offset
	ref.Size = size
	ref.ResultCount = resultCount
}

// AddGlob returns name's index in the global table, creating a new
// (name-interned) GlobRef if this is the first time name has been seen.
func (b *OutBin) AddGlob(name string) uint32 {
	if idx, ok := b.globsTableMap[name]; ok {
		return idx
	}
	idx := uint32(len(b.globsTable))
	nameIdx := b.addString(name)
	b.globsTable = append(b.globsTable, vm.GlobRef{NameIdx: nameIdx})
	b.globsTableMap[name] = idx
	return idx
}

// AddGlobData appends raw bytes to the global data blob and returns the
// starting offset the caller should record in the GlobRef.
func (b *OutBin) AddGlobData(data []byte) uint64 {
	offset := uint64(len(b.globsData))
	b.globsData = append(b.globsData, data...)
	return offset
}

// GlobIdx returns name's global-table index, if any.
func (b *OutBin) GlobIdx(name string) (uint32, bool) {
	idx, ok := b.globsTableMap[name]
	return idx, ok
}

// SetGlobRef overwrites the GlobRef at idx (offset/size/value_type), called
// once a global's data has been encoded.
func (b *OutBin) SetGlobRef(idx uint32, offset uint64, size uint32, valueType vm.ValueType) {
	ref := &b.globsTable[idx]
	ref.Offset = offset
	ref.Size = size
	ref.ValueType = valueType
}

func (b *OutBin) addString(s string) uint32 {
	if idx, ok := b.strTableMap[s]; ok {
		return idx
	}
	idx := uint32(len(b.strTable))
	b.strTable = append(b.strTable, []byte(s)...)
	b.strTable = append(b.strTable, 0)
	b.strTableMap[s] = idx
	return idx
}

// Write computes the Header by accumulating section sizes in the canonical
// order (header, string table, function table, global table, code, global
// data), zero-initializes the checksum field, and returns the complete
// byte-exact image.
func (b *OutBin) Write() ([]byte, error) {
	header := vm.NewHeader()
	header.StrTabOff = uint64(header.HeaderSize)
	header.StrTabSize = uint32(len(b.strTable))
	header.FuncTabOff = header.StrTabOff + uint64(header.StrTabSize)
	header.FuncTabSize = uint32(len(b.funcsTable) * vm.FuncRefSize)
	header.GlobTabOff = header.FuncTabOff + uint64(header.FuncTabSize)
	header.GlobTabSize = uint32(len(b.globsTable) * vm.GlobRefSize)
	header.CodeOff = header.GlobTabOff + uint64(header.GlobTabSize)
	header.CodeSize = uint32(len(b.funcsCode))
	header.GlobOff = header.CodeOff + uint64(header.CodeSize)
	header.GlobSize = uint32(len(b.globsData))
	header.FileSize = header.GlobOff + uint64(header.GlobSize)
	header.Checksum = 0

	out := vm.NewByteCursor(make([]byte, header.FileSize))
	if err := header.Serialize(out); err != nil {
		return nil, err
	}
	if err := out.WriteBytes(b.strTable); err != nil {
		return nil, err
	}
	for _, ref := range b.funcsTable {
		if err := ref.Serialize(out); err != nil {
			return nil, err
		}
	}
	for _, ref := range b.globsTable {
		if err := ref.Serialize(out); err != nil {
			return nil, err
		}
	}
	if err := out.WriteBytes(b.funcsCode); err != nil {
		return nil, err
	}
	if err := out.WriteBytes(b.globsData); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
