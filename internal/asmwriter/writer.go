// Package asmwriter renders an emitted unit as textual assembly in the
// syntax and conventions of a convention profile.
package asmwriter

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"mcemit/internal/asminfo"
	"mcemit/internal/mc"
	"mcemit/internal/triple"
)

// personalityEncoding is DW_EH_PE_indirect|pcrel|sdata4.
const personalityEncoding = 0x9b

// Write renders u to w. The unit must have been through the mangle and
// layout stages; unwind records are written when present.
func Write(w io.Writer, u *mc.Unit, p *asminfo.Profile) error {
	pr := &printer{p: p}
	if err := pr.unit(u); err != nil {
		return err
	}
	_, err := w.Write(pr.buf.Bytes())
	return err
}

type printer struct {
	p   *asminfo.Profile
	buf bytes.Buffer
}

func (pr *printer) line(format string, args ...any) {
	fmt.Fprintf(&pr.buf, format, args...)
	pr.buf.WriteByte('\n')
}

func (pr *printer) unit(u *mc.Unit) error {
	p := pr.p
	pr.line("%s mcemit unit %s (%s)", p.CommentString(), u.Name, p.Bucket())
	if p.Dialect() == asminfo.DialectIntel {
		pr.line("\t.intel_syntax noprefix")
	}
	if p.SupportsDebugInformation() && u.SourceFile != "" {
		pr.line("\t.file\t%s", strconv.Quote(u.SourceFile))
	}
	if len(u.Funcs) > 0 {
		pr.line("%s", p.TextSectionDirective())
	}
	for _, f := range u.Funcs {
		if err := pr.fn(f); err != nil {
			return fmt.Errorf("func %s: %w", f.Name, err)
		}
	}
	if len(u.Data) > 0 {
		pr.line("%s", p.DataSectionDirective())
	}
	for _, d := range u.Data {
		if err := pr.data(d); err != nil {
			return fmt.Errorf("data %s: %w", d.Name, err)
		}
	}
	if s := p.NonexecStackSection(); s != "" {
		pr.line("\t.section\t%s,\"\",@progbits", s)
	}
	if p.ObjectFormat() == triple.FormatMachO {
		pr.line("\t.subsections_via_symbols")
	}
	return nil
}

func (pr *printer) align(align int, fill bool) {
	if align <= 1 {
		return
	}
	n := align
	if !pr.p.AlignmentIsInBytes() {
		n = mc.Log2Align(align)
	}
	if fill {
		pr.line("%s%d, 0x%x", pr.p.AlignDirective(), n, pr.p.TextAlignFillValue())
		return
	}
	pr.line("%s%d", pr.p.AlignDirective(), n)
}

func (pr *printer) symbolDirectives(sym string, l mc.Linkage) {
	p := pr.p
	switch l {
	case mc.LinkageGlobal:
		pr.line("%s%s", p.GlobalDirective(), sym)
	case mc.LinkageWeak:
		if p.WeakDefDirective() != "" {
			pr.line("%s%s", p.GlobalDirective(), sym)
			pr.line("%s%s", p.WeakDefDirective(), sym)
		} else {
			pr.line("%s%s", p.WeakRefDirective(), sym)
		}
	}
}

func (pr *printer) fn(f *mc.Func) error {
	sym := f.EmittedName()
	pr.align(f.Align, true)
	pr.symbolDirectives(sym, f.Linkage)
	if pr.p.ObjectFormat() == triple.FormatELF {
		pr.line("\t.type\t%s,@function", sym)
	}
	pr.line("%s:", sym)

	switch f.Unwind.Kind {
	case mc.UnwindCFI:
		pr.line("\t.cfi_startproc")
		if f.Unwind.PersonalitySym != "" {
			pr.line("\t.cfi_personality %d, %s", personalityEncoding, f.Unwind.PersonalitySym)
		}
	case mc.UnwindSEH:
		pr.line("\t.seh_proc\t%s", sym)
		if f.Unwind.PersonalitySym != "" {
			pr.line("\t.seh_handler\t%s, @unwind, @except", f.Unwind.PersonalitySym)
		}
		pr.line("\t.seh_endprologue")
	}

	for i, in := range f.Insts {
		if in.Label != "" {
			pr.line("%s:", in.Label)
		}
		text, err := pr.inst(in)
		if err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
		pr.line("\t%s", text)
	}

	switch f.Unwind.Kind {
	case mc.UnwindCFI:
		pr.line("\t.cfi_endproc")
	case mc.UnwindSEH:
		pr.line("\t.seh_endproc")
	}

	for _, jt := range f.JumpTables {
		pr.jumpTable(jt)
	}
	return nil
}

func (pr *printer) jumpTable(jt mc.JumpTable) {
	p := pr.p
	pr.align(4, false)
	if p.UseDataRegionDirectives() {
		pr.line("\t.data_region jt32")
	}
	pr.line("%s:", jt.Label)
	dir, _ := p.DataDirective(4)
	for _, target := range jt.Targets {
		pr.line("%s%s-%s", dir, target, jt.Label)
	}
	if p.UseDataRegionDirectives() {
		pr.line("\t.end_data_region")
	}
}

func (pr *printer) data(d *mc.Data) error {
	sym := d.EmittedName()
	pr.align(d.Align, false)
	pr.symbolDirectives(sym, d.Linkage)
	if pr.p.ObjectFormat() == triple.FormatELF {
		pr.line("\t.type\t%s,@object", sym)
	}
	pr.line("%s:", sym)
	for i, v := range d.Values {
		dir, ok := pr.p.DataDirective(v.Size)
		if !ok {
			return fmt.Errorf("value %d: no %d-byte data directive on %s", i, v.Size, pr.p.Bucket())
		}
		pr.line("%s%s", dir, valueText(v))
	}
	return nil
}

func valueText(v mc.Value) string {
	if v.Sym == "" {
		return strconv.FormatInt(v.Int, 10)
	}
	return symPlus(v.Sym, v.Int)
}

func symPlus(sym string, off int64) string {
	switch {
	case off > 0:
		return sym + "+" + strconv.FormatInt(off, 10)
	case off < 0:
		return sym + strconv.FormatInt(off, 10)
	default:
		return sym
	}
}

func (pr *printer) inst(in mc.Inst) (string, error) {
	intel := pr.p.Dialect() == asminfo.DialectIntel
	ops := make([]string, len(in.Operands))
	for i, op := range in.Operands {
		var (
			s   string
			err error
		)
		if intel {
			s, err = pr.intelOperand(op, in.Suffix)
		} else {
			s, err = pr.attOperand(op)
		}
		if err != nil {
			return "", fmt.Errorf("operand %d: %w", i, err)
		}
		ops[i] = s
	}
	if intel {
		if len(ops) == 0 {
			return in.Op, nil
		}
		return in.Op + "\t" + strings.Join(ops, ", "), nil
	}
	// AT&T lists the source first.
	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}
	mnemonic := in.Op + in.Suffix
	if len(ops) == 0 {
		return mnemonic, nil
	}
	return mnemonic + "\t" + strings.Join(ops, ", "), nil
}

func (pr *printer) attOperand(op mc.Operand) (string, error) {
	switch op.Kind {
	case mc.OperandReg:
		return "%" + op.Reg, nil
	case mc.OperandImm:
		return "$" + strconv.FormatInt(op.Imm, 10), nil
	case mc.OperandSym, mc.OperandLabel:
		return op.Sym, nil
	case mc.OperandMem:
		if op.Sym != "" {
			switch {
			case op.Base != "":
				return symPlus(op.Sym, op.Disp) + "(%" + op.Base + ")", nil
			case pr.p.Arch() == triple.ArchX86_64:
				return symPlus(op.Sym, op.Disp) + "(%rip)", nil
			}
			return symPlus(op.Sym, op.Disp), nil
		}
		if op.Disp == 0 {
			return "(%" + op.Base + ")", nil
		}
		return strconv.FormatInt(op.Disp, 10) + "(%" + op.Base + ")", nil
	default:
		return "", fmt.Errorf("unknown operand kind %q", op.Kind)
	}
}

var intelWidths = map[string]string{
	"b": "byte ptr ",
	"w": "word ptr ",
	"l": "dword ptr ",
	"q": "qword ptr ",
}

func (pr *printer) intelOperand(op mc.Operand, suffix string) (string, error) {
	switch op.Kind {
	case mc.OperandReg:
		return op.Reg, nil
	case mc.OperandImm:
		return strconv.FormatInt(op.Imm, 10), nil
	case mc.OperandSym, mc.OperandLabel:
		return op.Sym, nil
	case mc.OperandMem:
		var addr string
		switch {
		case op.Sym != "" && op.Base != "":
			addr = op.Base + " + " + symPlus(op.Sym, op.Disp)
		case op.Sym != "" && pr.p.Arch() == triple.ArchX86_64:
			addr = "rip + " + symPlus(op.Sym, op.Disp)
		case op.Sym != "":
			addr = symPlus(op.Sym, op.Disp)
		case op.Disp > 0:
			addr = op.Base + " + " + strconv.FormatInt(op.Disp, 10)
		case op.Disp < 0:
			addr = op.Base + " - " + strconv.FormatInt(-op.Disp, 10)
		default:
			addr = op.Base
		}
		return intelWidths[suffix] + "[" + addr + "]", nil
	default:
		return "", fmt.Errorf("unknown operand kind %q", op.Kind)
	}
}
