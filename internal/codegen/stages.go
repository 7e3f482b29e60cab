package codegen

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"mcemit/internal/asminfo"
	"mcemit/internal/mc"
	"mcemit/internal/mcexpr"
	"mcemit/internal/trace"
	"mcemit/internal/triple"
)

// DefaultStages returns the standard sequence: legalize, mangle, layout, unwind.
func DefaultStages() []Stage {
	return []Stage{Legalize{}, Mangle{}, Layout{}, Unwind{}}
}

// Legalize rewrites data the target cannot express directly. Eight-byte
// values are split into two little-endian words when the profile has no
// 64-bit data directive. Weak linkage without a weak directive and x86_64
// memory operands pairing a symbol with a base register are rejected.
type Legalize struct{}

func (Legalize) Name() StageName { return StageLegalize }

func (Legalize) Run(_ context.Context, st *State) error {
	p := st.Profile
	var errs []error
	for _, f := range st.Unit.Funcs {
		if f.Linkage == mc.LinkageWeak && p.WeakDirective() == "" {
			errs = append(errs, fmt.Errorf("func %q: weak linkage unsupported on %s", f.Name, p.Bucket()))
		}
		if err := checkSymbolBase(p, f); err != nil {
			errs = append(errs, err)
		}
	}
	for _, d := range st.Unit.Data {
		if d.Linkage == mc.LinkageWeak && p.WeakDirective() == "" {
			errs = append(errs, fmt.Errorf("data %q: weak linkage unsupported on %s", d.Name, p.Bucket()))
		}
		if p.Data64Enabled() {
			continue
		}
		d.Values = splitQuads(d.Values)
	}
	return errors.Join(errs...)
}

// checkSymbolBase rejects symbol operands that also name a base register on
// x86_64, where symbol references are RIP-relative and leave no room for one.
func checkSymbolBase(p *asminfo.Profile, f *mc.Func) error {
	if p.Arch() != triple.ArchX86_64 {
		return nil
	}
	for i, in := range f.Insts {
		for _, op := range in.Operands {
			if op.Kind == mc.OperandMem && op.Sym != "" && op.Base != "" {
				return fmt.Errorf("func %q: inst %d: symbol %q with base register %%%s is not addressable on x86_64", f.Name, i, op.Sym, op.Base)
			}
		}
	}
	return nil
}

func splitQuads(values []mc.Value) []mc.Value {
	out := make([]mc.Value, 0, len(values))
	for _, v := range values {
		if v.Size != 8 {
			out = append(out, v)
			continue
		}
		if v.Sym != "" {
			// The address fits the low word on targets without .quad.
			out = append(out, mc.Value{Size: 4, Sym: v.Sym, Int: v.Int}, mc.Value{Size: 4})
			continue
		}
		u := uint64(v.Int)
		lo := int64(uint32(u))
		hi := int64(uint32(u >> 32))
		out = append(out, mc.Value{Size: 4, Int: lo}, mc.Value{Size: 4, Int: hi})
	}
	return out
}

// Check reports symbol operands with a base register on x86_64 and any
// 8-byte datum left on a target without 64-bit data.
func (Legalize) Check(st *State) error {
	for _, f := range st.Unit.Funcs {
		if err := checkSymbolBase(st.Profile, f); err != nil {
			return err
		}
	}
	if st.Profile.Data64Enabled() {
		return nil
	}
	for _, d := range st.Unit.Data {
		for i, v := range d.Values {
			if v.Size == 8 {
				return fmt.Errorf("data %q: value %d still 8 bytes wide", d.Name, i)
			}
		}
	}
	return nil
}

// Mangle assigns emitted symbol names. Names are NFC-normalised, global
// symbols take the profile's global prefix, and private symbols and local
// labels take the private prefix so the assembler drops them.
type Mangle struct{}

func (Mangle) Name() StageName { return StageMangle }

func (Mangle) Run(ctx context.Context, st *State) error {
	p := st.Profile
	tracer := trace.FromContext(ctx)
	parent := trace.ParentSpan(ctx)

	defined := make(map[string]string, len(st.Unit.Funcs)+len(st.Unit.Data))
	for _, f := range st.Unit.Funcs {
		f.Name = norm.NFC.String(f.Name)
		f.Symbol = symbolFor(p, f.Name, f.Linkage)
		defined[f.Name] = f.Symbol
	}
	for _, d := range st.Unit.Data {
		d.Name = norm.NFC.String(d.Name)
		d.Symbol = symbolFor(p, d.Name, d.Linkage)
		defined[d.Name] = d.Symbol
	}
	ref := func(name string) string {
		name = norm.NFC.String(name)
		if sym, ok := defined[name]; ok {
			return sym
		}
		return p.GlobalPrefix() + name
	}

	for _, f := range st.Unit.Funcs {
		local := localLabels(p, f)
		for i := range f.Insts {
			in := &f.Insts[i]
			if in.Label != "" {
				in.Label = local[in.Label]
			}
			for j := range in.Operands {
				op := &in.Operands[j]
				switch op.Kind {
				case mc.OperandLabel:
					if l, ok := local[op.Sym]; ok {
						op.Sym = l
					}
				case mc.OperandSym, mc.OperandMem:
					if op.Sym == "" {
						break
					}
					if l, ok := local[op.Sym]; ok {
						op.Sym = l
					} else {
						op.Sym = ref(op.Sym)
					}
				}
			}
		}
		for i := range f.JumpTables {
			jt := &f.JumpTables[i]
			jt.Label = local[jt.Label]
			for k, target := range jt.Targets {
				if l, ok := local[target]; ok {
					jt.Targets[k] = l
				}
			}
		}
		if f.Personality != "" {
			f.Personality = ref(f.Personality)
		}
		trace.Point(tracer, trace.ScopeSymbol, "symbol:"+f.Symbol, f.Name, parent)
	}
	for _, d := range st.Unit.Data {
		for i := range d.Values {
			if d.Values[i].Sym != "" {
				d.Values[i].Sym = ref(d.Values[i].Sym)
			}
		}
		trace.Point(tracer, trace.ScopeSymbol, "symbol:"+d.Symbol, d.Name, parent)
	}
	return nil
}

func symbolFor(p *asminfo.Profile, name string, l mc.Linkage) string {
	if l == mc.LinkagePrivate {
		return p.PrivateGlobalPrefix() + name
	}
	return p.GlobalPrefix() + name
}

// localLabels maps each instruction and jump-table label of f to its
// function-qualified private symbol.
func localLabels(p *asminfo.Profile, f *mc.Func) map[string]string {
	local := make(map[string]string)
	add := func(label string) {
		if label != "" {
			local[label] = p.PrivateGlobalPrefix() + f.Name + "_" + label
		}
	}
	for _, in := range f.Insts {
		add(in.Label)
	}
	for _, jt := range f.JumpTables {
		add(jt.Label)
	}
	return local
}

// Layout places functions and data in the profile's sections and fills in
// default alignments.
type Layout struct{}

func (Layout) Name() StageName { return StageLayout }

func (Layout) Run(_ context.Context, st *State) error {
	p := st.Profile
	for _, f := range st.Unit.Funcs {
		f.Section = p.TextSection()
		if f.Align == 0 {
			f.Align = 16
		}
	}
	for _, d := range st.Unit.Data {
		d.Section = p.DataSection()
		if d.Align == 0 {
			d.Align = 1
			for _, v := range d.Values {
				if v.Size > d.Align {
					d.Align = v.Size
				}
			}
		}
	}
	return nil
}

// Check reports functions or data left without a section.
func (Layout) Check(st *State) error {
	for _, f := range st.Unit.Funcs {
		if f.Section == "" {
			return fmt.Errorf("func %q has no section", f.Name)
		}
	}
	for _, d := range st.Unit.Data {
		if d.Section == "" {
			return fmt.Errorf("data %q has no section", d.Name)
		}
	}
	return nil
}

// Unwind attaches unwind records in the profile's exception model and
// resolves personality references.
type Unwind struct{}

func (Unwind) Name() StageName { return StageUnwind }

func (Unwind) Run(_ context.Context, st *State) error {
	p := st.Profile
	var kind mc.UnwindKind
	switch p.ExceptionModel() {
	case asminfo.ExceptionsDwarfCFI:
		kind = mc.UnwindCFI
	case asminfo.ExceptionsWin64:
		kind = mc.UnwindSEH
	default:
		kind = mc.UnwindNone
	}
	var errs []error
	for _, f := range st.Unit.Funcs {
		f.Unwind = mc.Unwind{Kind: kind}
		if f.Personality == "" {
			continue
		}
		if kind == mc.UnwindNone {
			errs = append(errs, fmt.Errorf("func %q: personality %q without an exception model on %s", f.Name, f.Personality, p.Bucket()))
			continue
		}
		e := p.PersonalityExpr(f.Personality)
		f.Unwind.PersonalitySym = f.Personality
		f.Unwind.Personality = e.String()
		f.Unwind.PersonalitySyms = mcexpr.Symbols(e)
	}
	return errors.Join(errs...)
}
