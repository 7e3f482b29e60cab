// Package mc holds the target-independent unit the code-generation stages
// hand to emission: functions of already-selected instructions plus data.
package mc

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Linkage controls symbol visibility.
type Linkage string

const (
	LinkageGlobal   Linkage = "global"
	LinkageInternal Linkage = "internal"
	LinkagePrivate  Linkage = "private"
	LinkageWeak     Linkage = "weak"
)

// Visible reports whether the symbol is exported from the object.
func (l Linkage) Visible() bool { return l == LinkageGlobal || l == LinkageWeak }

// OperandKind tags an Operand.
type OperandKind string

const (
	OperandReg   OperandKind = "reg"
	OperandImm   OperandKind = "imm"
	OperandSym   OperandKind = "sym"
	OperandLabel OperandKind = "label"
	OperandMem   OperandKind = "mem"
)

// Operand is one instruction operand. Mem operands address Disp(Base) or,
// when Sym is set, Sym+Disp relative to the instruction pointer.
type Operand struct {
	Kind OperandKind `toml:"kind"`
	Reg  string      `toml:"reg,omitempty"`
	Imm  int64       `toml:"imm,omitempty"`
	Sym  string      `toml:"sym,omitempty"`
	Base string      `toml:"base,omitempty"`
	Disp int64       `toml:"disp,omitempty"`
}

// Inst is a selected machine instruction. Operands are in destination-first
// order. Encoding is the hex machine code, required for object output;
// FixupOffset locates the 32-bit symbol field within it.
type Inst struct {
	Label       string    `toml:"label,omitempty"`
	Op          string    `toml:"op"`
	Suffix      string    `toml:"suffix,omitempty"`
	Operands    []Operand `toml:"operands,omitempty"`
	Encoding    string    `toml:"encoding,omitempty"`
	FixupOffset int       `toml:"fixup_offset,omitempty"`
}

// JumpTable is a table of 32-bit table-relative offsets to local labels.
type JumpTable struct {
	Label   string   `toml:"label"`
	Targets []string `toml:"targets"`
}

// Func is a function body.
type Func struct {
	Name        string      `toml:"name"`
	Linkage     Linkage     `toml:"linkage"`
	Align       int         `toml:"align,omitempty"`
	Personality string      `toml:"personality,omitempty"`
	Insts       []Inst      `toml:"insts"`
	JumpTables  []JumpTable `toml:"jump_tables,omitempty"`

	// Set by emission stages.
	Section string `toml:"-"`
	Symbol  string `toml:"-"`
	Unwind  Unwind `toml:"-"`
}

// Value is one datum of Size bytes holding Int or, if Sym is set, the
// address of Sym plus Int.
type Value struct {
	Size int    `toml:"size"`
	Int  int64  `toml:"int,omitempty"`
	Sym  string `toml:"sym,omitempty"`
}

// Data is an initialised data object.
type Data struct {
	Name    string  `toml:"name"`
	Linkage Linkage `toml:"linkage"`
	Align   int     `toml:"align,omitempty"`
	Values  []Value `toml:"values"`

	Section string `toml:"-"`
	Symbol  string `toml:"-"`
}

// UnwindKind is the unwind record attached to a function.
type UnwindKind uint8

const (
	UnwindNone UnwindKind = iota
	UnwindCFI
	UnwindSEH
)

// Unwind describes how a function's frame is unwound. Personality is the
// rendered personality expression recorded in object files; PersonalitySym
// is the bare symbol named by assembler directives, which build the
// indirection themselves. Both are empty when the function has none.
type Unwind struct {
	Kind           UnwindKind
	Personality    string
	PersonalitySym string
	// PersonalitySyms are the symbols the personality expression references.
	PersonalitySyms []string
}

// Unit is one compilation unit.
type Unit struct {
	Name       string  `toml:"name"`
	SourceFile string  `toml:"source_file,omitempty"`
	Funcs      []*Func `toml:"funcs"`
	Data       []*Data `toml:"data"`
}

// Clone returns a deep copy, so stages can run on a private unit.
func (u *Unit) Clone() *Unit {
	c := &Unit{Name: u.Name, SourceFile: u.SourceFile}
	for _, f := range u.Funcs {
		nf := *f
		nf.Insts = make([]Inst, len(f.Insts))
		for i, in := range f.Insts {
			in.Operands = append([]Operand(nil), in.Operands...)
			nf.Insts[i] = in
		}
		nf.JumpTables = make([]JumpTable, len(f.JumpTables))
		for i, jt := range f.JumpTables {
			jt.Targets = append([]string(nil), jt.Targets...)
			nf.JumpTables[i] = jt
		}
		nf.Unwind.PersonalitySyms = append([]string(nil), f.Unwind.PersonalitySyms...)
		c.Funcs = append(c.Funcs, &nf)
	}
	for _, d := range u.Data {
		nd := *d
		nd.Values = append([]Value(nil), d.Values...)
		c.Data = append(c.Data, &nd)
	}
	return c
}

// Defines reports whether name is a function or data object of the unit.
func (u *Unit) Defines(name string) bool {
	for _, f := range u.Funcs {
		if f.Name == name {
			return true
		}
	}
	for _, d := range u.Data {
		if d.Name == name {
			return true
		}
	}
	return false
}

// EmittedName is the symbol the function is written under.
func (f *Func) EmittedName() string {
	if f.Symbol != "" {
		return f.Symbol
	}
	return f.Name
}

// EmittedName is the symbol the data object is written under.
func (d *Data) EmittedName() string {
	if d.Symbol != "" {
		return d.Symbol
	}
	return d.Name
}

// DecodeEncoding parses a hex encoding such as "48 89 c3".
func DecodeEncoding(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		return nil, fmt.Errorf("invalid encoding %q: %w", s, err)
	}
	return b, nil
}
