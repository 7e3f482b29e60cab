package objwriter

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"fortio.org/safecast"
	"github.com/vmihailenco/msgpack/v5"

	"mcemit/internal/asminfo"
	"mcemit/internal/mc"
	"mcemit/internal/triple"
)

// Write assembles u into an Object and encodes it to w. Every instruction
// must carry its encoding.
func Write(w io.Writer, u *mc.Unit, p *asminfo.Profile) error {
	obj, err := Assemble(u, p)
	if err != nil {
		return err
	}
	return msgpack.NewEncoder(w).Encode(obj)
}

// Assemble lays out u without serialising it.
func Assemble(u *mc.Unit, p *asminfo.Profile) (*Object, error) {
	ptr, err := safecast.Conv[uint8](p.PointerSize())
	if err != nil {
		return nil, fmt.Errorf("pointer size: %w", err)
	}
	a := &assembler{
		p: p,
		obj: &Object{
			Magic:       Magic,
			Schema:      schemaVersion,
			Unit:        u.Name,
			Format:      p.ObjectFormat().String(),
			Arch:        p.Arch().String(),
			PointerSize: ptr,
		},
		defined: make(map[string]bool),
	}
	text := &Section{Name: p.TextSection(), Align: 1}
	for _, f := range u.Funcs {
		if err := a.fn(text, f); err != nil {
			return nil, fmt.Errorf("func %s: %w", f.Name, err)
		}
	}
	data := &Section{Name: p.DataSection(), Align: 1}
	for _, d := range u.Data {
		if err := a.data(data, d); err != nil {
			return nil, fmt.Errorf("data %s: %w", d.Name, err)
		}
	}
	if len(u.Funcs) > 0 {
		a.obj.Sections = append(a.obj.Sections, *text)
	}
	if len(u.Data) > 0 {
		a.obj.Sections = append(a.obj.Sections, *data)
	}
	a.undefined()
	return a.obj, nil
}

type assembler struct {
	p       *asminfo.Profile
	obj     *Object
	defined map[string]bool
	refs    []string
}

func binding(l mc.Linkage) Binding {
	switch l {
	case mc.LinkageGlobal:
		return BindGlobal
	case mc.LinkageWeak:
		return BindWeak
	default:
		return BindLocal
	}
}

func offsetOf(s *Section) (uint32, error) {
	return safecast.Conv[uint32](len(s.Data))
}

func pad(s *Section, align int, fill byte) error {
	if align <= 1 {
		return nil
	}
	a, err := safecast.Conv[uint32](align)
	if err != nil {
		return err
	}
	if a > s.Align {
		s.Align = a
	}
	for len(s.Data)%align != 0 {
		s.Data = append(s.Data, fill)
	}
	return nil
}

func (a *assembler) define(s *Section, name string, kind SymbolKind, b Binding) (int, error) {
	off, err := offsetOf(s)
	if err != nil {
		return 0, err
	}
	a.defined[name] = true
	a.obj.Symbols = append(a.obj.Symbols, Symbol{Name: name, Kind: kind, Binding: b, Section: s.Name, Offset: off})
	return len(a.obj.Symbols) - 1, nil
}

func (a *assembler) reloc(s *Section, at int, kind RelocKind, sym string, addend int64) error {
	off, err := safecast.Conv[uint32](at)
	if err != nil {
		return err
	}
	s.Relocs = append(s.Relocs, Reloc{Offset: off, Kind: kind, Symbol: sym, Addend: addend})
	a.refs = append(a.refs, sym)
	return nil
}

func (a *assembler) fn(s *Section, f *mc.Func) error {
	if err := pad(s, f.Align, a.p.TextAlignFillValue()); err != nil {
		return err
	}
	sym := f.EmittedName()
	idx, err := a.define(s, sym, SymFunc, binding(f.Linkage))
	if err != nil {
		return err
	}
	start := len(s.Data)
	labels := make(map[string]int)
	for i, in := range f.Insts {
		if in.Label != "" {
			labels[in.Label] = len(s.Data)
			if _, err := a.define(s, in.Label, SymLabel, BindLocal); err != nil {
				return err
			}
		}
		if in.Encoding == "" {
			return fmt.Errorf("instruction %d (%s) has no encoding", i, in.Op)
		}
		enc, err := mc.DecodeEncoding(in.Encoding)
		if err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
		at := len(s.Data)
		s.Data = append(s.Data, enc...)
		for _, op := range in.Operands {
			if op.Sym == "" {
				continue
			}
			fix := in.FixupOffset
			if fix == 0 {
				fix = len(enc) - 4
			}
			if fix < 0 || fix+4 > len(enc) {
				return fmt.Errorf("instruction %d: %d-byte encoding has no room for a 32-bit fixup", i, len(enc))
			}
			// i386 has no PC-relative data addressing; memory symbols are absolute.
			if op.Kind == mc.OperandMem && a.p.Arch() == triple.ArchX86 {
				if err := a.reloc(s, at+fix, RelocAbs32, op.Sym, op.Disp); err != nil {
					return err
				}
				break
			}
			// The displacement is taken from the end of the 4-byte field.
			addend := op.Disp - int64(len(enc)-fix)
			if err := a.reloc(s, at+fix, RelocPCRel32, op.Sym, addend); err != nil {
				return err
			}
			break
		}
	}
	size, err := safecast.Conv[uint32](len(s.Data) - start)
	if err != nil {
		return err
	}
	a.obj.Symbols[idx].Size = size

	for _, jt := range f.JumpTables {
		if err := a.jumpTable(s, jt, labels); err != nil {
			return fmt.Errorf("jump table %s: %w", jt.Label, err)
		}
	}
	if f.Unwind.Kind != mc.UnwindNone {
		a.obj.Unwind = append(a.obj.Unwind, UnwindRecord{
			Func:            sym,
			Kind:            unwindKind(f.Unwind.Kind),
			Personality:     f.Unwind.Personality,
			PersonalitySyms: f.Unwind.PersonalitySyms,
		})
		a.refs = append(a.refs, f.Unwind.PersonalitySyms...)
	}
	return nil
}

func unwindKind(k mc.UnwindKind) string {
	if k == mc.UnwindSEH {
		return "seh"
	}
	return "cfi"
}

// jumpTable writes 32-bit entries holding target minus table address,
// resolved here since both live in the same section.
func (a *assembler) jumpTable(s *Section, jt mc.JumpTable, labels map[string]int) error {
	if err := pad(s, 4, a.p.TextAlignFillValue()); err != nil {
		return err
	}
	base := len(s.Data)
	if _, err := a.define(s, jt.Label, SymLabel, BindLocal); err != nil {
		return err
	}
	for _, target := range jt.Targets {
		at, ok := labels[target]
		if !ok {
			return fmt.Errorf("unknown target %q", target)
		}
		rel, err := safecast.Conv[int32](at - base)
		if err != nil {
			return err
		}
		s.Data = binary.LittleEndian.AppendUint32(s.Data, uint32(rel))
	}
	return nil
}

func (a *assembler) data(s *Section, d *mc.Data) error {
	if err := pad(s, d.Align, 0); err != nil {
		return err
	}
	idx, err := a.define(s, d.EmittedName(), SymData, binding(d.Linkage))
	if err != nil {
		return err
	}
	start := len(s.Data)
	for i, v := range d.Values {
		if v.Sym != "" {
			kind := RelocAbs32
			if v.Size == 8 {
				kind = RelocAbs64
			}
			if err := a.reloc(s, len(s.Data), kind, v.Sym, v.Int); err != nil {
				return err
			}
			s.Data = append(s.Data, make([]byte, v.Size)...)
			continue
		}
		switch v.Size {
		case 1:
			s.Data = append(s.Data, byte(v.Int))
		case 2:
			s.Data = binary.LittleEndian.AppendUint16(s.Data, uint16(v.Int))
		case 4:
			s.Data = binary.LittleEndian.AppendUint32(s.Data, uint32(v.Int))
		case 8:
			s.Data = binary.LittleEndian.AppendUint64(s.Data, uint64(v.Int))
		default:
			return fmt.Errorf("value %d: unsupported size %d", i, v.Size)
		}
	}
	size, err := safecast.Conv[uint32](len(s.Data) - start)
	if err != nil {
		return err
	}
	a.obj.Symbols[idx].Size = size
	return nil
}

// undefined appends referenced but undefined symbols in name order.
func (a *assembler) undefined() {
	seen := make(map[string]bool)
	var names []string
	for _, r := range a.refs {
		if a.defined[r] || seen[r] {
			continue
		}
		seen[r] = true
		names = append(names, r)
	}
	sort.Strings(names)
	for _, n := range names {
		a.obj.Symbols = append(a.obj.Symbols, Symbol{Name: n, Binding: BindGlobal})
	}
}
