package mc

import (
	"errors"
	"fmt"
	"math/bits"

	"fortio.org/safecast"
)

// Verify checks the structural consistency of u and reports every problem
// found, joined into one error.
func Verify(u *Unit) error {
	if u == nil {
		return errors.New("nil unit")
	}
	var errs []error
	report := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	if u.Name == "" {
		report("unit has no name")
	}

	seen := make(map[string]string)
	define := func(kind, name string) {
		if name == "" {
			report("%s with empty name", kind)
			return
		}
		if prev, ok := seen[name]; ok {
			report("%s %q redefines %s", kind, name, prev)
			return
		}
		seen[name] = kind
	}

	for _, f := range u.Funcs {
		define("func", f.EmittedName())
		where := "func " + f.Name
		checkLinkage(where, f.Linkage, report)
		checkAlign(where, f.Align, report)
		verifyFunc(f, report)
	}
	for _, d := range u.Data {
		define("data", d.EmittedName())
		where := "data " + d.Name
		checkLinkage(where, d.Linkage, report)
		checkAlign(where, d.Align, report)
		for i, v := range d.Values {
			switch v.Size {
			case 1, 2, 4, 8:
			default:
				report("%s: value %d has size %d (want 1, 2, 4 or 8)", where, i, v.Size)
			}
			if v.Sym != "" && v.Size < 4 {
				report("%s: value %d: symbol %q does not fit in %d bytes", where, i, v.Sym, v.Size)
			}
		}
	}
	return errors.Join(errs...)
}

func verifyFunc(f *Func, report func(string, ...any)) {
	where := "func " + f.Name
	labels := make(map[string]bool)
	for i, in := range f.Insts {
		if in.Label == "" {
			continue
		}
		if labels[in.Label] {
			report("%s: duplicate label %q at instruction %d", where, in.Label, i)
		}
		labels[in.Label] = true
	}
	tables := make(map[string]bool)
	for _, jt := range f.JumpTables {
		if jt.Label == "" {
			report("%s: jump table with empty label", where)
			continue
		}
		if labels[jt.Label] || tables[jt.Label] {
			report("%s: jump table label %q already defined", where, jt.Label)
		}
		tables[jt.Label] = true
		if len(jt.Targets) == 0 {
			report("%s: jump table %q has no targets", where, jt.Label)
		}
		for _, target := range jt.Targets {
			if !labels[target] {
				report("%s: jump table %q targets unknown label %q", where, jt.Label, target)
			}
		}
	}

	for i, in := range f.Insts {
		if in.Op == "" {
			report("%s: instruction %d has no opcode", where, i)
		}
		for j, op := range in.Operands {
			switch op.Kind {
			case OperandReg:
				if op.Reg == "" {
					report("%s: instruction %d operand %d: register operand without register", where, i, j)
				}
			case OperandImm:
			case OperandSym:
				if op.Sym == "" {
					report("%s: instruction %d operand %d: symbol operand without symbol", where, i, j)
				}
			case OperandLabel:
				if !labels[op.Sym] && !tables[op.Sym] {
					report("%s: instruction %d operand %d: unknown label %q", where, i, j, op.Sym)
				}
			case OperandMem:
				if op.Base == "" && op.Sym == "" {
					report("%s: instruction %d operand %d: memory operand without base or symbol", where, i, j)
				}
			default:
				report("%s: instruction %d operand %d: unknown operand kind %q", where, i, j, op.Kind)
			}
		}
		if in.Encoding == "" {
			continue
		}
		enc, err := DecodeEncoding(in.Encoding)
		if err != nil {
			report("%s: instruction %d: %v", where, i, err)
			continue
		}
		if in.FixupOffset != 0 && (in.FixupOffset < 0 || in.FixupOffset+4 > len(enc)) {
			report("%s: instruction %d: fixup offset %d outside %d-byte encoding", where, i, in.FixupOffset, len(enc))
		}
	}
}

func checkLinkage(where string, l Linkage, report func(string, ...any)) {
	switch l {
	case LinkageGlobal, LinkageInternal, LinkagePrivate, LinkageWeak:
	default:
		report("%s: unknown linkage %q", where, l)
	}
}

func checkAlign(where string, align int, report func(string, ...any)) {
	if align == 0 {
		return
	}
	a, err := safecast.Conv[uint32](align)
	if err != nil || bits.OnesCount32(a) != 1 {
		report("%s: alignment %d is not a power of two", where, align)
	}
}

// Log2Align returns log2 of a power-of-two alignment, 0 for 0 or 1.
func Log2Align(align int) int {
	if align <= 1 {
		return 0
	}
	return bits.TrailingZeros(uint(align))
}
