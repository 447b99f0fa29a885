package vm

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
)

var (
	// ErrUnknownFunction means Execute was asked to run a function name that
	// does not appear in the image's function table.
	ErrUnknownFunction = errors.New("engine: unknown function")
	// ErrUnknownOpcode means a code-stream byte did not decode to any known
	// opcode.
	ErrUnknownOpcode = errors.New("engine: unknown opcode byte")
	// ErrPseudoOpcodeInBinary means a pseudo-opcode (Label, symbolic Jump)
	// was found in an image's code blob, where it must never appear.
	ErrPseudoOpcodeInBinary = errors.New("engine: pseudo-opcode present in binary image")
	// ErrUnimplementedInstruction is reserved for opcode byte values that are
	// allocated but not wired into the dispatch switch.
	ErrUnimplementedInstruction = errors.New("engine: unimplemented instruction")
	// ErrDivisionByZero covers both I64DivS/I64RemS and I64DivU/I64RemU.
	ErrDivisionByZero = errors.New("engine: division by zero")
	// ErrHeapOverflow means a flat address resolved past the end of the heap.
	ErrHeapOverflow = errors.New("engine: heap overflow")
	// ErrAddressOutOfRange means a Call's function index or a direct
	// load/store's glob index is past the end of its table.
	ErrAddressOutOfRange = errors.New("engine: address out of range")
)

// ExecStatus is the result of advancing the engine by one instruction.
// SysCall and Breakpoint are part of the host embedding contract but are
// never produced by Step itself: the core opcode table has no opcode that
// triggers them (see the doc comment on Step). They exist here so a host
// wrapper (see package hostdev) can report the same four-way status to its
// own callers after layering its own breakpoint/syscall policy on top of
// Continue/Done.
type ExecStatus int

const (
	Continue ExecStatus = iota
	Done
	SysCall
	Breakpoint
)

func (s ExecStatus) String() string {
	switch s {
	case Continue:
		return "continue"
	case Done:
		return "done"
	case SysCall:
		return "syscall"
	case Breakpoint:
		return "breakpoint"
	default:
		return "?exec-status?"
	}
}

// VM is one executing instance of a loaded image: program counter, operand
// stack, call stack, and the mutable globals/heap address space.
type VM struct {
	image *Image

	pc        int
	callStack []int

	stack *OperandStack

	globals []byte // mutable copy of image.GlobalData
	heap    []byte
}

// NewVM constructs a VM from a loaded image and a heap of heapSize bytes,
// initialized to zero. The globals buffer is seeded from the image's global
// data blob and is independent of it from then on.
func NewVM(image *Image, heapSize int) (*VM, error) {
	if heapSize < 0 {
		return nil, fmt.Errorf("engine: negative heap size %d", heapSize)
	}
	globals := make([]byte, len(image.GlobalData))
	copy(globals, image.GlobalData)
	return &VM{
		image:   image,
		stack:   NewOperandStack(0),
		globals: globals,
		heap:    make([]byte, heapSize),
	}, nil
}

// Image returns the loaded image the VM was constructed from.
func (m *VM) Image() *Image { return m.image }

// PC returns the current byte index into the code blob.
func (m *VM) PC() int { return m.pc }

// CallDepth returns the number of saved return addresses on the call stack.
func (m *VM) CallDepth() int { return len(m.callStack) }

// Stack exposes the operand stack for host inspection between steps.
func (m *VM) Stack() *OperandStack { return m.stack }

// Execute runs funcName to completion, looping Step until the call stack
// returns to the depth it had on entry (the function has returned) or an
// error/host-yield status is produced. It mirrors §4.8's three numbered
// steps: save the current PC, jump to the function's offset, then loop.
func (m *VM) Execute(funcName string) (ExecStatus, error) {
	ref, ok := m.image.FuncByName(funcName)
	if !ok {
		return Continue, fmt.Errorf("%w: %q", ErrUnknownFunction, funcName)
	}
	entryDepth := len(m.callStack)
	m.callStack = append(m.callStack, m.pc)
	m.pc = int(ref.Offset)

	for {
		status, err := m.Step()
		if err != nil {
			return Continue, err
		}
		if status != Continue {
			return status, nil
		}
		if len(m.callStack) <= entryDepth {
			return Done, nil
		}
	}
}

// Step decodes and executes exactly one instruction, advancing pc past it.
// It returns Done when Return pops the last frame on the call stack back to
// an empty stack; it only ever returns Continue or Done for the opcode set
// this engine implements, since none of them are a syscall or breakpoint
// trigger — SysCall/Breakpoint are a host-level concept layered on top (see
// package hostdev), matching the image format's silence on any such opcode.
func (m *VM) Step() (ExecStatus, error) {
	opByte, err := m.readCodeU8()
	if err != nil {
		return Continue, err
	}
	op := Opcode(opByte)
	name, known := opcodeNames[op]
	if !known {
		return Continue, fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, opByte)
	}
	if op.IsPseudo() {
		return Continue, fmt.Errorf("%w: %s", ErrPseudoOpcodeInBinary, name)
	}

	switch op {
	case Nop:
		return Continue, nil

	case Return:
		if len(m.callStack) == 0 {
			return Done, nil
		}
		ret := m.callStack[len(m.callStack)-1]
		m.callStack = m.callStack[:len(m.callStack)-1]
		m.pc = ret
		if len(m.callStack) == 0 {
			return Done, nil
		}
		return Continue, nil

	case Call:
		funcIdx, err := m.readCodeU32()
		if err != nil {
			return Continue, err
		}
		if int(funcIdx) >= len(m.image.Funcs) {
			return Continue, fmt.Errorf("%w: func index %d", ErrAddressOutOfRange, funcIdx)
		}
		m.callStack = append(m.callStack, m.pc)
		m.pc = int(m.image.Funcs[funcIdx].Offset)
		return Continue, nil

	case Jump:
		off, err := m.readCodeU64()
		if err != nil {
			return Continue, err
		}
		m.pc = int(uint64(m.pc) + off)
		return Continue, nil

	case JumpC:
		off, err := m.stack.Pop()
		if err != nil {
			return Continue, err
		}
		m.pc = int(uint64(m.pc) + off)
		return Continue, nil

	case Pop:
		_, err := m.stack.Pop()
		return Continue, err

	case StackGet:
		off, err := m.readCodeU64()
		if err != nil {
			return Continue, err
		}
		v, err := m.stack.Get(off)
		if err != nil {
			return Continue, err
		}
		return Continue, m.stack.Push(v)

	case StackSet:
		v, err := m.stack.Peek()
		if err != nil {
			return Continue, err
		}
		off, err := m.readCodeU64()
		if err != nil {
			return Continue, err
		}
		return Continue, m.stack.Set(off, v)

	case I64Const:
		c, err := m.readCodeU64()
		if err != nil {
			return Continue, err
		}
		return Continue, m.stack.Push(c)

	case F64Const:
		c, err := m.readCodeF64()
		if err != nil {
			return Continue, err
		}
		return Continue, m.stack.Push(math.Float64bits(c))

	case I8Load, I16Load, I32Load, I64Load, F32Load, F64Load:
		return Continue, m.execDirectLoad(op)
	case I8Store, I16Store, I32Store, I64Store, F32Store, F64Store:
		return Continue, m.execDirectStore(op)
	case I8LoadC, I16LoadC, I32LoadC, I64LoadC, F32LoadC, F64LoadC:
		return Continue, m.execIndirectLoad(op)
	case I8StoreC, I16StoreC, I32StoreC, I64StoreC, F32StoreC, F64StoreC:
		return Continue, m.execIndirectStore(op)

	case I64Eqz, I64Eq, I64Ne, I64LtS, I64LtU, I64GtS, I64GtU, I64LeS, I64LeU, I64GeS, I64GeU:
		return Continue, m.execIntCompareBranch(op)
	case F64Eq, F64Ne, F64Lt, F64Gt, F64Le, F64Ge:
		return Continue, m.execFloatCompareBranch(op)

	case I64Add, I64Sub, I64Mul, I64DivS, I64DivU, I64RemS, I64RemU, I64Pow,
		I64And, I64Or, I64Xor, I64Shl, I64ShrS, I64ShrU, I64Rotl, I64Rotr:
		return Continue, m.execIntBinary(op)
	case I64Abs, I64Sqrt:
		return Continue, m.execIntUnary(op)

	case F64Add, F64Sub, F64Mul, F64Div, F64Pow:
		return Continue, m.execFloatBinary(op)
	case F64Abs, F64Ceil, F64Floor, F64Trunc, F64Nearest, F64Sqrt:
		return Continue, m.execFloatUnary(op)

	default:
		return Continue, fmt.Errorf("%w: %s", ErrUnimplementedInstruction, name)
	}
}

func (m *VM) readCodeU8() (uint8, error) {
	if m.pc < 0 || m.pc >= len(m.image.Code) {
		return 0, ErrOutOfBounds
	}
	v := m.image.Code[m.pc]
	m.pc++
	return v, nil
}

func (m *VM) readCodeU32() (uint32, error) {
	c := NewByteCursor(m.image.Code)
	if err := c.SetPos(m.pc); err != nil {
		return 0, err
	}
	v, err := c.ReadU32()
	if err != nil {
		return 0, err
	}
	m.pc = c.Pos()
	return v, nil
}

func (m *VM) readCodeU64() (uint64, error) {
	c := NewByteCursor(m.image.Code)
	if err := c.SetPos(m.pc); err != nil {
		return 0, err
	}
	v, err := c.ReadU64()
	if err != nil {
		return 0, err
	}
	m.pc = c.Pos()
	return v, nil
}

func (m *VM) readCodeF64() (float64, error) {
	raw, err := m.readCodeU64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(raw), nil
}

// resolveFlat routes a flat address into either the globals buffer or the
// heap, per §4.8: globals first, heap second, in a single logical address
// space.
func (m *VM) resolveFlat(addr uint64) (buf []byte, idx int, err error) {
	globalsSize := uint64(len(m.globals))
	if addr < globalsSize {
		return m.globals, int(addr), nil
	}
	heapIdx := addr - globalsSize
	if heapIdx >= uint64(len(m.heap)) {
		return nil, 0, ErrHeapOverflow
	}
	return m.heap, int(heapIdx), nil
}

func widthOf(op Opcode) int {
	switch op {
	case I8Load, I8LoadC, I8Store, I8StoreC:
		return 1
	case I16Load, I16LoadC, I16Store, I16StoreC:
		return 2
	case I32Load, I32LoadC, I32Store, I32StoreC, F32Load, F32LoadC, F32Store, F32StoreC:
		return 4
	default:
		return 8
	}
}

func readWidened(buf []byte, idx, width int, isFloat bool) (uint64, error) {
	if idx < 0 || idx+width > len(buf) {
		return 0, ErrOutOfBounds
	}
	span := buf[idx : idx+width]
	c := NewByteCursor(span)
	switch width {
	case 1:
		v, err := c.ReadU8()
		return uint64(v), err
	case 2:
		v, err := c.ReadU16()
		return uint64(v), err
	case 4:
		if isFloat {
			v, err := c.ReadF32()
			if err != nil {
				return 0, err
			}
			return math.Float64bits(float64(v)), nil
		}
		v, err := c.ReadU32()
		return uint64(v), err
	default:
		v, err := c.ReadU64()
		return v, err
	}
}

func writeNarrowed(buf []byte, idx, width int, isFloat bool, value uint64) error {
	if idx < 0 || idx+width > len(buf) {
		return ErrOutOfBounds
	}
	span := buf[idx : idx+width]
	c := NewByteCursor(span)
	switch width {
	case 1:
		return c.WriteU8(uint8(value))
	case 2:
		return c.WriteU16(uint16(value))
	case 4:
		if isFloat {
			return c.WriteF32(float32(math.Float64frombits(value)))
		}
		return c.WriteU32(uint32(value))
	default:
		return c.WriteU64(value)
	}
}

func isFloatOp(op Opcode) bool {
	switch op {
	case F32Load, F32LoadC, F32Store, F32StoreC, F64Load, F64LoadC, F64Store, F64StoreC:
		return true
	default:
		return false
	}
}

func (m *VM) execDirectLoad(op Opcode) error {
	globIdx, err := m.readCodeU32()
	if err != nil {
		return err
	}
	if int(globIdx) >= len(m.image.Globs) {
		return fmt.Errorf("%w: glob index %d", ErrAddressOutOfRange, globIdx)
	}
	ref := m.image.Globs[globIdx]
	width := widthOf(op)
	v, err := readWidened(m.globals, int(ref.Offset), width, isFloatOp(op))
	if err != nil {
		return err
	}
	return m.stack.Push(v)
}

func (m *VM) execDirectStore(op Opcode) error {
	globIdx, err := m.readCodeU32()
	if err != nil {
		return err
	}
	if int(globIdx) >= len(m.image.Globs) {
		return fmt.Errorf("%w: glob index %d", ErrAddressOutOfRange, globIdx)
	}
	ref := m.image.Globs[globIdx]
	value, err := m.stack.Pop()
	if err != nil {
		return err
	}
	width := widthOf(op)
	return writeNarrowed(m.globals, int(ref.Offset), width, isFloatOp(op), value)
}

func (m *VM) execIndirectLoad(op Opcode) error {
	addr, err := m.stack.Pop()
	if err != nil {
		return err
	}
	buf, idx, err := m.resolveFlat(addr)
	if err != nil {
		return err
	}
	width := widthOf(op)
	v, err := readWidened(buf, idx, width, isFloatOp(op))
	if err != nil {
		return err
	}
	return m.stack.Push(v)
}

func (m *VM) execIndirectStore(op Opcode) error {
	addr, err := m.stack.Pop()
	if err != nil {
		return err
	}
	value, err := m.stack.Pop()
	if err != nil {
		return err
	}
	buf, idx, err := m.resolveFlat(addr)
	if err != nil {
		return err
	}
	width := widthOf(op)
	return writeNarrowed(buf, idx, width, isFloatOp(op), value)
}

// execIntCompareBranch implements the "skip body if NOT(relation)" family:
// the branch is taken exactly when the named relation does NOT hold.
func (m *VM) execIntCompareBranch(op Opcode) error {
	if op == I64Eqz {
		v, err := m.stack.Pop()
		if err != nil {
			return err
		}
		off, err := m.readCodeU64()
		if err != nil {
			return err
		}
		if v != 0 {
			m.pc = int(uint64(m.pc) + off)
		}
		return nil
	}

	lhs, err := m.stack.Pop()
	if err != nil {
		return err
	}
	rhs, err := m.stack.Pop()
	if err != nil {
		return err
	}
	off, err := m.readCodeU64()
	if err != nil {
		return err
	}

	var take bool
	sl, sr := int64(lhs), int64(rhs)
	switch op {
	case I64Eq:
		take = lhs != rhs
	case I64Ne:
		take = lhs == rhs
	case I64LtS:
		take = sl >= sr
	case I64LtU:
		take = lhs >= rhs
	case I64GtS:
		take = sl <= sr
	case I64GtU:
		take = lhs <= rhs
	case I64LeS:
		take = sl > sr
	case I64LeU:
		take = lhs > rhs
	case I64GeS:
		take = sl < sr
	case I64GeU:
		take = lhs < rhs
	}
	if take {
		m.pc = int(uint64(m.pc) + off)
	}
	return nil
}

func (m *VM) execFloatCompareBranch(op Opcode) error {
	lhsBits, err := m.stack.Pop()
	if err != nil {
		return err
	}
	rhsBits, err := m.stack.Pop()
	if err != nil {
		return err
	}
	off, err := m.readCodeU64()
	if err != nil {
		return err
	}
	lhs, rhs := math.Float64frombits(lhsBits), math.Float64frombits(rhsBits)

	var take bool
	switch op {
	case F64Eq:
		take = lhs != rhs
	case F64Ne:
		take = lhs == rhs
	case F64Lt:
		take = lhs >= rhs
	case F64Gt:
		take = lhs <= rhs
	case F64Le:
		take = lhs > rhs
	case F64Ge:
		take = lhs < rhs
	}
	if take {
		m.pc = int(uint64(m.pc) + off)
	}
	return nil
}

// execIntBinary computes lhs OP rhs, where lhs is the first-popped operand
// and rhs the second, per the pop-order convention fixed in DESIGN.md.
func (m *VM) execIntBinary(op Opcode) error {
	lhs, err := m.stack.Pop()
	if err != nil {
		return err
	}
	rhs, err := m.stack.Pop()
	if err != nil {
		return err
	}

	var result uint64
	switch op {
	case I64Add:
		result = lhs + rhs
	case I64Sub:
		result = lhs - rhs
	case I64Mul:
		result = lhs * rhs
	case I64DivS:
		if rhs == 0 {
			return ErrDivisionByZero
		}
		result = uint64(int64(lhs) / int64(rhs))
	case I64DivU:
		if rhs == 0 {
			return ErrDivisionByZero
		}
		result = lhs / rhs
	case I64RemS:
		if rhs == 0 {
			return ErrDivisionByZero
		}
		result = uint64(int64(lhs) % int64(rhs))
	case I64RemU:
		if rhs == 0 {
			return ErrDivisionByZero
		}
		result = lhs % rhs
	case I64Pow:
		result = intPow(lhs, rhs)
	case I64And:
		result = lhs & rhs
	case I64Or:
		result = lhs | rhs
	case I64Xor:
		result = lhs ^ rhs
	case I64Shl:
		result = lhs << (rhs & 63)
	case I64ShrS:
		result = uint64(int64(lhs) >> (rhs & 63))
	case I64ShrU:
		result = lhs >> (rhs & 63)
	case I64Rotl:
		result = bits.RotateLeft64(lhs, int(rhs&63))
	case I64Rotr:
		result = bits.RotateLeft64(lhs, -int(rhs&63))
	}
	return m.stack.Push(result)
}

// intPow computes base^exp over uint64 magnitude via repeated squaring,
// wrapping modulo 2^64 like the other integer arithmetic opcodes.
func intPow(base, exp uint64) uint64 {
	var result uint64 = 1
	for exp > 0 {
		if exp&1 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result
}

func (m *VM) execIntUnary(op Opcode) error {
	v, err := m.stack.Pop()
	if err != nil {
		return err
	}
	var result uint64
	switch op {
	case I64Abs:
		sv := int64(v)
		if sv < 0 {
			sv = -sv
		}
		result = uint64(sv)
	case I64Sqrt:
		// Kept as specified: reinterprets the operand as f64, not i64.
		result = math.Float64bits(math.Sqrt(math.Float64frombits(v)))
	}
	return m.stack.Push(result)
}

func (m *VM) execFloatBinary(op Opcode) error {
	lhsBits, err := m.stack.Pop()
	if err != nil {
		return err
	}
	rhsBits, err := m.stack.Pop()
	if err != nil {
		return err
	}
	lhs, rhs := math.Float64frombits(lhsBits), math.Float64frombits(rhsBits)

	var result float64
	switch op {
	case F64Add:
		result = lhs + rhs
	case F64Sub:
		result = lhs - rhs
	case F64Mul:
		result = lhs * rhs
	case F64Div:
		result = lhs / rhs
	case F64Pow:
		result = math.Pow(lhs, rhs)
	}
	return m.stack.Push(math.Float64bits(result))
}

func (m *VM) execFloatUnary(op Opcode) error {
	bitsVal, err := m.stack.Pop()
	if err != nil {
		return err
	}
	v := math.Float64frombits(bitsVal)

	var result float64
	switch op {
	case F64Abs:
		result = math.Abs(v)
	case F64Ceil:
		result = math.Ceil(v)
	case F64Floor:
		result = math.Floor(v)
	case F64Trunc:
		result = math.Trunc(v)
	case F64Nearest:
		result = math.RoundToEven(v)
	case F64Sqrt:
		result = math.Sqrt(v)
	}
	return m.stack.Push(math.Float64bits(result))
}
