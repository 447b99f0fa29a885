package vm

// Opcode identifies a single VM operation. Opcodes fall into three
// families: nullary (no operand), immediate-bearing (a fixed-width literal
// follows in the code stream), and pseudo (assemble-time only; must never
// reach a binary image).
//
// Current bytecodes (<> means the opcode carries an immediate)
//
//	nop                no operation
//	return             pop the call stack and resume the caller
//	call <func>        push return address, jump to func's code
//	jump <off>         unconditional PC-relative jump
//	jumpc              same as jump, but the offset comes off the stack
//	pop                discard the top of the operand stack
//	stackget <off>     duplicate the cell `off` below the top
//	stackset <off>     overwrite the cell `off` below the top with the top
//	i64const <c>       push a 64-bit constant
//	f64const <c>       push the bit pattern of a float64 constant
//	{i8,i16,i32,i64,f32,f64}load <glob>   load a global by index, widen to 64 bits
//	{i8,i16,i32,i64,f32,f64}store <glob>  narrow and store to a global by index
//	{..}loadc / {..}storec                indirect: address comes off the stack
//	i64{eqz,eq,ne,ltS,ltU,gtS,gtU,leS,leU,geS,geU} <off>  compare-and-branch
//	f64{eq,ne,lt,gt,le,ge} <off>                          compare-and-branch
//	i64{add,sub,mul,divS,divU,remS,remU,pow,abs,sqrt,and,or,xor,shl,shrS,shrU,rotl,rotr}
//	f64{add,sub,mul,div,pow,abs,ceil,floor,trunc,nearest,sqrt}
//
// Pseudo-opcodes Label and the symbolic form of Jump exist only on the
// assembler side (see package asm) and never appear in a final binary.
type Opcode byte

const (
	Nop    Opcode = 0x00
	Return Opcode = 0x01
	Call   Opcode = 0x02
	Jump   Opcode = 0x03
	JumpC  Opcode = 0x04
	Pop    Opcode = 0x05

	StackGet Opcode = 0x06
	StackSet Opcode = 0x07

	I64Const Opcode = 0x08
	F64Const Opcode = 0x09

	I8Load   Opcode = 0x10
	I8LoadC  Opcode = 0x11
	I16Load  Opcode = 0x12
	I16LoadC Opcode = 0x13
	I32Load  Opcode = 0x14
	I32LoadC Opcode = 0x15
	I64Load  Opcode = 0x16
	I64LoadC Opcode = 0x17
	F32Load  Opcode = 0x18
	F32LoadC Opcode = 0x19
	F64Load  Opcode = 0x1A
	F64LoadC Opcode = 0x1B

	I8Store   Opcode = 0x20
	I8StoreC  Opcode = 0x21
	I16Store  Opcode = 0x22
	I16StoreC Opcode = 0x23
	I32Store  Opcode = 0x24
	I32StoreC Opcode = 0x25
	I64Store  Opcode = 0x26
	I64StoreC Opcode = 0x27
	F32Store  Opcode = 0x28
	F32StoreC Opcode = 0x29
	F64Store  Opcode = 0x2A
	F64StoreC Opcode = 0x2B

	I64Eqz Opcode = 0x30
	I64Eq  Opcode = 0x31
	I64Ne  Opcode = 0x32
	I64LtS Opcode = 0x33
	I64LtU Opcode = 0x34
	I64GtS Opcode = 0x35
	I64GtU Opcode = 0x36
	I64LeS Opcode = 0x37
	I64LeU Opcode = 0x38
	I64GeS Opcode = 0x39
	I64GeU Opcode = 0x3A

	F64Eq Opcode = 0x3B
	F64Ne Opcode = 0x3C
	F64Lt Opcode = 0x3D
	F64Gt Opcode = 0x3E
	F64Le Opcode = 0x3F
	F64Ge Opcode = 0x40

	I64Add  Opcode = 0x50
	I64Sub  Opcode = 0x51
	I64Mul  Opcode = 0x52
	I64DivS Opcode = 0x53
	I64DivU Opcode = 0x54
	I64RemS Opcode = 0x55
	I64RemU Opcode = 0x56
	I64Pow  Opcode = 0x57
	I64Abs  Opcode = 0x58
	I64Sqrt Opcode = 0x59
	I64And  Opcode = 0x5A
	I64Or   Opcode = 0x5B
	I64Xor  Opcode = 0x5C
	I64Shl  Opcode = 0x5D
	I64ShrS Opcode = 0x5E
	I64ShrU Opcode = 0x5F
	I64Rotl Opcode = 0x60
	I64Rotr Opcode = 0x61

	F64Add     Opcode = 0x70
	F64Sub     Opcode = 0x71
	F64Mul     Opcode = 0x72
	F64Div     Opcode = 0x73
	F64Pow     Opcode = 0x74
	F64Abs     Opcode = 0x75
	F64Ceil    Opcode = 0x76
	F64Floor   Opcode = 0x77
	F64Trunc   Opcode = 0x78
	F64Nearest Opcode = 0x79
	F64Sqrt    Opcode = 0x7A

	// Pseudo-opcodes: assemble-time only, never encoded into a binary image.
	pseudoLabel Opcode = 0xFE
	pseudoJump  Opcode = 0xFF
)

var opcodeNames = map[Opcode]string{
	Nop: "nop", Return: "return", Call: "call", Jump: "jump", JumpC: "jumpc",
	Pop: "pop", StackGet: "stackget", StackSet: "stackset",
	I64Const: "i64const", F64Const: "f64const",

	I8Load: "i8load", I8LoadC: "i8loadc", I16Load: "i16load", I16LoadC: "i16loadc",
	I32Load: "i32load", I32LoadC: "i32loadc", I64Load: "i64load", I64LoadC: "i64loadc",
	F32Load: "f32load", F32LoadC: "f32loadc", F64Load: "f64load", F64LoadC: "f64loadc",

	I8Store: "i8store", I8StoreC: "i8storec", I16Store: "i16store", I16StoreC: "i16storec",
	I32Store: "i32store", I32StoreC: "i32storec", I64Store: "i64store", I64StoreC: "i64storec",
	F32Store: "f32store", F32StoreC: "f32storec", F64Store: "f64store", F64StoreC: "f64storec",

	I64Eqz: "i64eqz", I64Eq: "i64eq", I64Ne: "i64ne",
	I64LtS: "i64lts", I64LtU: "i64ltu", I64GtS: "i64gts", I64GtU: "i64gtu",
	I64LeS: "i64les", I64LeU: "i64leu", I64GeS: "i64ges", I64GeU: "i64geu",

	F64Eq: "f64eq", F64Ne: "f64ne", F64Lt: "f64lt", F64Gt: "f64gt", F64Le: "f64le", F64Ge: "f64ge",

	I64Add: "i64add", I64Sub: "i64sub", I64Mul: "i64mul",
	I64DivS: "i64divs", I64DivU: "i64divu", I64RemS: "i64rems", I64RemU: "i64remu",
	I64Pow: "i64pow", I64Abs: "i64abs", I64Sqrt: "i64sqrt",
	I64And: "i64and", I64Or: "i64or", I64Xor: "i64xor",
	I64Shl: "i64shl", I64ShrS: "i64shrs", I64ShrU: "i64shru",
	I64Rotl: "i64rotl", I64Rotr: "i64rotr",

	F64Add: "f64add", F64Sub: "f64sub", F64Mul: "f64mul", F64Div: "f64div",
	F64Pow: "f64pow", F64Abs: "f64abs", F64Ceil: "f64ceil", F64Floor: "f64floor",
	F64Trunc: "f64trunc", F64Nearest: "f64nearest", F64Sqrt: "f64sqrt",

	pseudoLabel: "label", pseudoJump: "jump-symbolic",
}

// String renders an opcode for use with Print/Sprint, matching the
// teacher's Bytecode.String convention.
func (o Opcode) String() string {
	if s, ok := opcodeNames[o]; ok {
		return s
	}
	return "?unknown?"
}

// ImmediateKind describes the shape of the literal that follows an opcode
// in the code stream.
type ImmediateKind int

const (
	ImmNone ImmediateKind = iota
	ImmFuncIdx
	ImmGlobIdx
	ImmConstU64
	ImmConstF64
	// ImmOffsetU64 covers both branch offsets (relative jump targets) and
	// stack offsets (StackGet/StackSet) — both are a bare u64 literal.
	ImmOffsetU64
)

// Immediate reports whether o carries an immediate, and if so, what kind.
func (o Opcode) Immediate() ImmediateKind {
	switch o {
	case Call:
		return ImmFuncIdx
	case Jump:
		return ImmOffsetU64
	case StackGet, StackSet:
		return ImmOffsetU64
	case I64Const:
		return ImmConstU64
	case F64Const:
		return ImmConstF64
	case I8Load, I16Load, I32Load, I64Load, F32Load, F64Load,
		I8Store, I16Store, I32Store, I64Store, F32Store, F64Store:
		return ImmGlobIdx
	case I64Eqz, I64Eq, I64Ne, I64LtS, I64LtU, I64GtS, I64GtU, I64LeS, I64LeU, I64GeS, I64GeU,
		F64Eq, F64Ne, F64Lt, F64Gt, F64Le, F64Ge:
		return ImmOffsetU64
	default:
		return ImmNone
	}
}

// HasImmediate reports whether o is followed by a literal in the code
// stream.
func (o Opcode) HasImmediate() bool {
	return o.Immediate() != ImmNone
}

// IsPseudo reports whether o is an assemble-time-only opcode that must
// never appear in an encoded binary.
func (o Opcode) IsPseudo() bool {
	return o == pseudoLabel || o == pseudoJump
}

// IsLoad reports whether o is one of the direct or indirect load opcodes.
func (o Opcode) IsLoad() bool {
	switch o {
	case I8Load, I8LoadC, I16Load, I16LoadC, I32Load, I32LoadC, I64Load, I64LoadC,
		F32Load, F32LoadC, F64Load, F64LoadC:
		return true
	default:
		return false
	}
}

// IsStore reports whether o is one of the direct or indirect store opcodes.
func (o Opcode) IsStore() bool {
	switch o {
	case I8Store, I8StoreC, I16Store, I16StoreC, I32Store, I32StoreC, I64Store, I64StoreC,
		F32Store, F32StoreC, F64Store, F64StoreC:
		return true
	default:
		return false
	}
}

// IsIndirect reports whether o addresses globals/heap via a flat address
// popped from the operand stack, rather than a glob index immediate.
func (o Opcode) IsIndirect() bool {
	switch o {
	case I8LoadC, I16LoadC, I32LoadC, I64LoadC, F32LoadC, F64LoadC,
		I8StoreC, I16StoreC, I32StoreC, I64StoreC, F32StoreC, F64StoreC:
		return true
	default:
		return false
	}
}
