// Package asminfo describes how each platform expects assembly text and
// object sections to look.
//
// A Profile is built once per Bucket by an ordered decision table (see
// table.go) and is never mutated afterwards.
package asminfo

import (
	"fmt"
	"strconv"

	"mcemit/internal/mcexpr"
	"mcemit/internal/triple"
)

// ExceptionModel is the unwinding scheme a platform uses.
type ExceptionModel uint8

const (
	ExceptionsNone ExceptionModel = iota
	// ExceptionsDwarfCFI unwinds through DWARF call-frame information.
	ExceptionsDwarfCFI
	// ExceptionsWin64 unwinds through Windows x64 unwind tables.
	ExceptionsWin64
)

func (m ExceptionModel) String() string {
	switch m {
	case ExceptionsNone:
		return "none"
	case ExceptionsDwarfCFI:
		return "dwarf-cfi"
	case ExceptionsWin64:
		return "win64"
	default:
		return "unknown"
	}
}

// fields is the mutable form a profile takes while the decision table runs.
type fields struct {
	Arch   triple.Arch
	Format triple.ObjectFormat

	PointerSize             int
	CalleeSaveStackSlotSize int
	AssemblerDialect        Dialect
	TextAlignFillValue      byte

	CommentString       string
	GlobalPrefix        string
	PrivateGlobalPrefix string
	GlobalDirective     string
	WeakRefDirective    string
	WeakDefDirective    string
	PCSymbol            string
	HasLEB128           bool

	Data8bitsDirective  string
	Data16bitsDirective string
	Data32bitsDirective string
	Data64bitsDirective string

	AlignDirective     string
	AlignmentIsInBytes bool

	SupportsDebugInformation   bool
	DwarfUsesInlineInfoSection bool
	ExceptionsType             ExceptionModel
	UseDataRegionDirectives    bool

	TextSection          string
	DataSection          string
	TextSectionDirective string
	DataSectionDirective string
	NonexecStackSection  string
}

func baseFields() fields {
	return fields{
		PointerSize:             4,
		CalleeSaveStackSlotSize: 4,
		CommentString:           "#",
		PrivateGlobalPrefix:     "L",
		GlobalDirective:         "\t.globl\t",
		PCSymbol:                "$",
		Data8bitsDirective:      "\t.byte\t",
		Data16bitsDirective:     "\t.short\t",
		Data32bitsDirective:     "\t.long\t",
		Data64bitsDirective:     "\t.quad\t",
		AlignDirective:          "\t.align\t",
		AlignmentIsInBytes:      true,
		TextSection:             ".text",
		DataSection:             ".data",
		TextSectionDirective:    "\t.text",
		DataSectionDirective:    "\t.data",
	}
}

// Profile is an immutable assembly convention record.
type Profile struct {
	bucket Bucket
	f      fields
}

func (p *Profile) Bucket() Bucket { return p.bucket }
func (p *Profile) Arch() triple.Arch { return p.f.Arch }
func (p *Profile) ObjectFormat() triple.ObjectFormat { return p.f.Format }

// PointerSize is the pointer width in bytes.
func (p *Profile) PointerSize() int { return p.f.PointerSize }

// CalleeSaveStackSlotSize is the stack slot reserved per callee-saved register.
// It can exceed PointerSize under narrow-pointer ABIs.
func (p *Profile) CalleeSaveStackSlotSize() int { return p.f.CalleeSaveStackSlotSize }

func (p *Profile) Dialect() Dialect { return p.f.AssemblerDialect }
func (p *Profile) TextAlignFillValue() byte { return p.f.TextAlignFillValue }
func (p *Profile) CommentString() string { return p.f.CommentString }
func (p *Profile) GlobalPrefix() string { return p.f.GlobalPrefix }
func (p *Profile) PrivateGlobalPrefix() string { return p.f.PrivateGlobalPrefix }
func (p *Profile) GlobalDirective() string { return p.f.GlobalDirective }
func (p *Profile) WeakRefDirective() string { return p.f.WeakRefDirective }
func (p *Profile) WeakDefDirective() string { return p.f.WeakDefDirective }
func (p *Profile) PCSymbol() string { return p.f.PCSymbol }
func (p *Profile) HasLEB128() bool { return p.f.HasLEB128 }
func (p *Profile) AlignDirective() string { return p.f.AlignDirective }
func (p *Profile) AlignmentIsInBytes() bool { return p.f.AlignmentIsInBytes }

// WeakDirective returns the directive used to define a weak symbol, or "" when
// the platform has none.
func (p *Profile) WeakDirective() string {
	if p.f.WeakDefDirective != "" {
		return p.f.WeakDefDirective
	}
	return p.f.WeakRefDirective
}

// DataDirective returns the directive emitting a size-byte datum.
func (p *Profile) DataDirective(size int) (string, bool) {
	var d string
	switch size {
	case 1:
		d = p.f.Data8bitsDirective
	case 2:
		d = p.f.Data16bitsDirective
	case 4:
		d = p.f.Data32bitsDirective
	case 8:
		d = p.f.Data64bitsDirective
	}
	return d, d != ""
}

// Data64Enabled reports whether 8-byte data can be emitted as a single unit.
func (p *Profile) Data64Enabled() bool { return p.f.Data64bitsDirective != "" }

func (p *Profile) SupportsDebugInformation() bool { return p.f.SupportsDebugInformation }
func (p *Profile) DwarfUsesInlineInfoSection() bool { return p.f.DwarfUsesInlineInfoSection }
func (p *Profile) ExceptionModel() ExceptionModel { return p.f.ExceptionsType }

// FrameUnwind reports DWARF CFI-based exception handling.
func (p *Profile) FrameUnwind() bool { return p.f.ExceptionsType == ExceptionsDwarfCFI }

// UseDataRegionDirectives reports whether jump tables in code are bracketed by
// data-region markers.
func (p *Profile) UseDataRegionDirectives() bool { return p.f.UseDataRegionDirectives }

func (p *Profile) TextSection() string { return p.f.TextSection }
func (p *Profile) DataSection() string { return p.f.DataSection }
func (p *Profile) TextSectionDirective() string { return p.f.TextSectionDirective }
func (p *Profile) DataSectionDirective() string { return p.f.DataSectionDirective }

// NonexecStackSection is the section marking the stack non-executable, or "".
func (p *Profile) NonexecStackSection() string { return p.f.NonexecStackSection }

// PersonalityExpr returns the expression the unwind tables use to reach the
// personality routine sym.
func (p *Profile) PersonalityExpr(sym string) mcexpr.Expr {
	if p.f.Arch == triple.ArchX86_64 && p.f.Format == triple.FormatMachO && p.FrameUnwind() {
		return mcexpr.PersonalityExpr(sym, p)
	}
	return mcexpr.Ref(sym)
}

// Field is one named profile setting, rendered for display.
type Field struct {
	Name  string
	Value string
}

// Fields lists every setting in a stable order.
func (p *Profile) Fields() []Field {
	q := strconv.Quote
	return []Field{
		{"bucket", p.bucket.String()},
		{"arch", p.f.Arch.String()},
		{"object-format", p.f.Format.String()},
		{"pointer-size", strconv.Itoa(p.f.PointerSize)},
		{"callee-save-slot-size", strconv.Itoa(p.f.CalleeSaveStackSlotSize)},
		{"assembler-dialect", p.f.AssemblerDialect.String()},
		{"text-align-fill", fmt.Sprintf("%#02x", p.f.TextAlignFillValue)},
		{"comment", q(p.f.CommentString)},
		{"global-prefix", q(p.f.GlobalPrefix)},
		{"private-prefix", q(p.f.PrivateGlobalPrefix)},
		{"global-directive", q(p.f.GlobalDirective)},
		{"weak-ref-directive", q(p.f.WeakRefDirective)},
		{"weak-def-directive", q(p.f.WeakDefDirective)},
		{"pc-symbol", q(p.f.PCSymbol)},
		{"has-leb128", strconv.FormatBool(p.f.HasLEB128)},
		{"data64-directive", q(p.f.Data64bitsDirective)},
		{"align-directive", q(p.f.AlignDirective)},
		{"alignment-in-bytes", strconv.FormatBool(p.f.AlignmentIsInBytes)},
		{"debug-info", strconv.FormatBool(p.f.SupportsDebugInformation)},
		{"dwarf-inline-info-section", strconv.FormatBool(p.f.DwarfUsesInlineInfoSection)},
		{"exceptions", p.f.ExceptionsType.String()},
		{"data-region-directives", strconv.FormatBool(p.f.UseDataRegionDirectives)},
		{"text-section", q(p.f.TextSection)},
		{"data-section", q(p.f.DataSection)},
		{"nonexec-stack-section", q(p.f.NonexecStackSection)},
	}
}
