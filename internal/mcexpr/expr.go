// Package mcexpr models the relocatable expressions an emitter writes into
// assembly operands and object relocations.
package mcexpr

import (
	"errors"
	"strconv"

	"mcemit/internal/triple"
)

// VariantKind qualifies how a symbol reference is relocated.
type VariantKind uint8

const (
	VariantNone VariantKind = iota
	// VariantGOTPCREL addresses the symbol's GOT slot relative to the PC.
	VariantGOTPCREL
)

func (v VariantKind) String() string {
	switch v {
	case VariantGOTPCREL:
		return "GOTPCREL"
	default:
		return ""
	}
}

// Expr is an immutable expression tree node.
type Expr interface {
	String() string
	expr()
}

// SymbolRef references a symbol, optionally through a relocation variant.
type SymbolRef struct {
	Name    string
	Variant VariantKind
}

func (SymbolRef) expr() {}

func (s SymbolRef) String() string {
	if s.Variant == VariantNone {
		return s.Name
	}
	return s.Name + "@" + s.Variant.String()
}

// Constant is an integer literal.
type Constant int64

func (Constant) expr() {}

func (c Constant) String() string { return strconv.FormatInt(int64(c), 10) }

// Opcode is a binary operator.
type Opcode uint8

const (
	OpAdd Opcode = iota + 1
	OpSub
)

// Binary combines two expressions.
type Binary struct {
	Op  Opcode
	LHS Expr
	RHS Expr
}

func (Binary) expr() {}

func (b Binary) String() string {
	op := "+"
	if b.Op == OpSub {
		op = "-"
	}
	return b.LHS.String() + op + b.RHS.String()
}

// Ref is shorthand for an unqualified symbol reference.
func Ref(name string) Expr { return SymbolRef{Name: name} }

// Add returns lhs+rhs.
func Add(lhs, rhs Expr) Expr { return Binary{Op: OpAdd, LHS: lhs, RHS: rhs} }

// Sub returns lhs-rhs.
func Sub(lhs, rhs Expr) Expr { return Binary{Op: OpSub, LHS: lhs, RHS: rhs} }

// Symbols returns the names referenced by e in left-to-right order.
func Symbols(e Expr) []string {
	switch e := e.(type) {
	case SymbolRef:
		return []string{e.Name}
	case Binary:
		return append(Symbols(e.LHS), Symbols(e.RHS)...)
	default:
		return nil
	}
}

// Context is the target information a builder may consult.
type Context interface {
	ObjectFormat() triple.ObjectFormat
	// FrameUnwind reports DWARF CFI-based exception handling.
	FrameUnwind() bool
}

// ErrPersonalityMisuse reports a GOT-relative personality request on a target
// whose exception model does not use it.
var ErrPersonalityMisuse = errors.New("GOT-relative personality expression requires DWARF CFI unwinding on Mach-O")

// PersonalityExpr returns sym@GOTPCREL+4. The unwinder resolves the personality
// pointer relative to the PC four bytes past the relocation site.
//
// The caller must only use it under DWARF CFI on Darwin; it performs no check.
func PersonalityExpr(sym string, _ Context) Expr {
	return Add(SymbolRef{Name: sym, Variant: VariantGOTPCREL}, Constant(4))
}

// CheckedPersonalityExpr is PersonalityExpr with the exception-model precondition
// enforced.
func CheckedPersonalityExpr(sym string, ctx Context) (Expr, error) {
	if ctx == nil || !ctx.FrameUnwind() || ctx.ObjectFormat() != triple.FormatMachO {
		return nil, ErrPersonalityMisuse
	}
	return PersonalityExpr(sym, ctx), nil
}
