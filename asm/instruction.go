// Package asm assembles functions and globals built from already-decoded
// instruction lists into a self-describing binary image that package vm can
// load. It is the compiler back end half of the wire format vm.Opcode,
// vm.Header, vm.FuncRef and vm.GlobRef define; it never parses source text.
package asm

import (
	"errors"
	"fmt"

	"archmage/vm"
)

// ErrWrongLiteralKind means an instruction's literal does not match the
// shape its opcode requires.
var ErrWrongLiteralKind = errors.New("asm: literal does not match opcode's immediate kind")

// LiteralKind tags the payload an Instruction's Literal carries.
type LiteralKind int

const (
	LitNone LiteralKind = iota
	LitOffset
	LitConst
	LitFloatConst
	LitFunc
	LitGlob
	LitJump
	LitLabel
)

// Literal is a tagged union: exactly one of the typed fields is meaningful,
// selected by Kind.
type Literal struct {
	Kind       LiteralKind
	Offset     uint64
	Const      uint64
	FloatConst float64
	Name       string // Func, Glob, Jump, or Label name
}

// NoLiteral is the literal for a nullary opcode.
func NoLiteral() Literal { return Literal{Kind: LitNone} }

// OffsetLiteral is the literal for StackGet/StackSet.
func OffsetLiteral(off uint64) Literal { return Literal{Kind: LitOffset, Offset: off} }

// ConstLiteral is the literal for I64Const.
func ConstLiteral(c uint64) Literal { return Literal{Kind: LitConst, Const: c} }

// FloatConstLiteral is the literal for F64Const.
func FloatConstLiteral(c float64) Literal { return Literal{Kind: LitFloatConst, FloatConst: c} }

// FuncLiteral is the literal for Call.
func FuncLiteral(name string) Literal { return Literal{Kind: LitFunc, Name: name} }

// GlobLiteral is the literal for a direct Load/Store.
func GlobLiteral(name string) Literal { return Literal{Kind: LitGlob, Name: name} }

// JumpLiteral is the literal for the assembler-only symbolic Jump.
func JumpLiteral(label string) Literal { return Literal{Kind: LitJump, Name: label} }

// LabelLiteral is the literal for the assembler-only Label pseudo-op.
func LabelLiteral(name string) Literal { return Literal{Kind: LitLabel, Name: name} }

// Instruction pairs an opcode with the literal its family requires. A Label
// emits no bytes at all; a symbolic jump (JumpTo) is emitted as a real
// vm.Jump whose offset immediate is resolved from its label name.
type Instruction struct {
	Opcode  vm.Opcode
	Literal Literal
	// Symbolic marks a pseudo-instruction: a label definition, which sweep 1
	// records without emitting a byte, or a symbolic jump, which sweep 1
	// emits as its opcode plus an 8-byte placeholder that sweep 2 patches.
	Symbolic symbolicKind
}

type symbolicKind int

const (
	symbolicNone symbolicKind = iota
	symbolicLabel
	symbolicJump
)

// Nop, Return, ... are convenience constructors for nullary instructions.
func Nop() Instruction    { return Instruction{Opcode: vm.Nop, Literal: NoLiteral()} }
func Return() Instruction { return Instruction{Opcode: vm.Return, Literal: NoLiteral()} }
func Pop() Instruction    { return Instruction{Opcode: vm.Pop, Literal: NoLiteral()} }

// Call builds a Call instruction targeting a function by name.
func Call(funcName string) Instruction {
	return Instruction{Opcode: vm.Call, Literal: FuncLiteral(funcName)}
}

// Label defines a symbolic jump destination at this point in the
// instruction list. It never emits a byte.
func Label(name string) Instruction {
	return Instruction{Symbolic: symbolicLabel, Literal: LabelLiteral(name)}
}

// JumpTo builds a symbolic jump to a label defined elsewhere in the same
// function; the assembler patches in the PC-relative offset in sweep 2.
func JumpTo(label string) Instruction {
	return Instruction{Opcode: vm.Jump, Symbolic: symbolicJump, Literal: JumpLiteral(label)}
}

// StackGet/StackSet build stack-offset instructions.
func StackGet(off uint64) Instruction {
	return Instruction{Opcode: vm.StackGet, Literal: OffsetLiteral(off)}
}
func StackSet(off uint64) Instruction {
	return Instruction{Opcode: vm.StackSet, Literal: OffsetLiteral(off)}
}

// I64Const/F64Const build constant-push instructions.
func I64Const(c uint64) Instruction {
	return Instruction{Opcode: vm.I64Const, Literal: ConstLiteral(c)}
}
func F64Const(c float64) Instruction {
	return Instruction{Opcode: vm.F64Const, Literal: FloatConstLiteral(c)}
}

// Load/Store build a direct typed global access by name.
func Load(op vm.Opcode, globName string) Instruction {
	return Instruction{Opcode: op, Literal: GlobLiteral(globName)}
}
func Store(op vm.Opcode, globName string) Instruction {
	return Instruction{Opcode: op, Literal: GlobLiteral(globName)}
}

// Unary builds a nullary instruction with no literal (indirect load/store,
// arithmetic, logical, unary float/int ops). Comparisons carry a branch
// offset and are built with CompareBranch instead.
func Unary(op vm.Opcode) Instruction {
	return Instruction{Opcode: op, Literal: NoLiteral()}
}

// CompareBranch builds one of the "skip body if NOT(relation)" opcodes,
// which carry a branch offset literal exactly like Jump's offset form.
func CompareBranch(op vm.Opcode, off uint64) Instruction {
	return Instruction{Opcode: op, Literal: OffsetLiteral(off)}
}

func (lit Literal) requireKind(want LiteralKind) error {
	if lit.Kind != want {
		return fmt.Errorf("%w: have kind %d, want %d", ErrWrongLiteralKind, lit.Kind, want)
	}
	return nil
}
