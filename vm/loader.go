package vm

import (
	"fmt"
)

// Image is the fully parsed, in-memory form of a loaded binary image: the
// header, the three raw section blobs, the ref tables, and the name→index maps
// built once at load time.
type Image struct {
	Header Header

	StrTab     []byte
	Code       []byte
	GlobalData []byte

	Funcs []FuncRef
	Globs []GlobRef

	FuncsByName map[string]int
	GlobsByName map[string]int
}

func sectionBytes(data []byte, off uint64, size uint32, name string) ([]byte, error) {
	start := off
	end := off + uint64(size)
	if end > uint64(len(data)) || start > end {
		return nil, fmt.Errorf("image: %s section: %w", name, ErrTruncated)
	}
	return data[start:end], nil
}

// LoadImage parses a complete binary image out of data: the header first,
// then the string table, code blob and global data blob, then the function
// and global tables, and finally resolves every ref's name via the string
// table.
func LoadImage(data []byte) (*Image, error) {
	cur := NewByteCursor(data)
	header, err := DeserializeHeader(cur)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) != header.FileSize {
		return nil, fmt.Errorf("image: file_size field (%d) does not match actual length (%d): %w",
			header.FileSize, len(data), ErrTruncated)
	}

	strTab, err := sectionBytes(data, header.StrTabOff, header.StrTabSize, "string table")
	if err != nil {
		return nil, err
	}
	code, err := sectionBytes(data, header.CodeOff, header.CodeSize, "code")
	if err != nil {
		return nil, err
	}
	globalData, err := sectionBytes(data, header.GlobOff, header.GlobSize, "global data")
	if err != nil {
		return nil, err
	}

	if header.FuncTabSize%FuncRefSize != 0 {
		return nil, fmt.Errorf("image: function table: %w", ErrBadTableSize)
	}
	if header.GlobTabSize%GlobRefSize != 0 {
		return nil, fmt.Errorf("image: global table: %w", ErrBadTableSize)
	}
	numFuncs := int(header.FuncTabSize) / FuncRefSize
	numGlobs := int(header.GlobTabSize) / GlobRefSize

	funcTab, err := sectionBytes(data, header.FuncTabOff, header.FuncTabSize, "function table")
	if err != nil {
		return nil, err
	}
	globTab, err := sectionBytes(data, header.GlobTabOff, header.GlobTabSize, "global table")
	if err != nil {
		return nil, err
	}

	funcCur := NewByteCursor(funcTab)
	funcs := make([]FuncRef, 0, numFuncs)
	for i := 0; i < numFuncs; i++ {
		ref, err := DeserializeFuncRef(funcCur)
		if err != nil {
			return nil, fmt.Errorf("image: function table entry %d: %w", i, err)
		}
		funcs = append(funcs, ref)
	}
	if len(funcs) != numFuncs {
		return nil, fmt.Errorf("image: collected %d function refs, expected %d", len(funcs), numFuncs)
	}

	globCur := NewByteCursor(globTab)
	globs := make([]GlobRef, 0, numGlobs)
	for i := 0; i < numGlobs; i++ {
		ref, err := DeserializeGlobRef(globCur)
		if err != nil {
			return nil, fmt.Errorf("image: global table entry %d: %w", i, err)
		}
		globs = append(globs, ref)
	}
	if len(globs) != numGlobs {
		return nil, fmt.Errorf("image: collected %d global refs, expected %d", len(globs), numGlobs)
	}

	funcsByName := make(map[string]int, len(funcs))
	for i, f := range funcs {
		name, err := readStringAt(strTab, f.NameIdx)
		if err != nil {
			return nil, fmt.Errorf("image: function %d name: %w", i, err)
		}
		funcsByName[name] = i
	}

	globsByName := make(map[string]int, len(globs))
	for i, g := range globs {
		name, err := readStringAt(strTab, g.NameIdx)
		if err != nil {
			return nil, fmt.Errorf("image: global %d name: %w", i, err)
		}
		globsByName[name] = i
	}

	return &Image{
		Header:      header,
		StrTab:      strTab,
		Code:        code,
		GlobalData:  globalData,
		Funcs:       funcs,
		Globs:       globs,
		FuncsByName: funcsByName,
		GlobsByName: globsByName,
	}, nil
}

// FuncByName looks up a function ref by name.
func (img *Image) FuncByName(name string) (FuncRef, bool) {
	idx, ok := img.FuncsByName[name]
	if !ok {
		return FuncRef{}, false
	}
	return img.Funcs[idx], true
}

// GlobByName looks up a global ref by name.
func (img *Image) GlobByName(name string) (GlobRef, bool) {
	idx, ok := img.GlobsByName[name]
	if !ok {
		return GlobRef{}, false
	}
	return img.Globs[idx], true
}
