// Package objwriter assembles an emitted unit into a relocatable object
// container serialised with msgpack.
package objwriter

import (
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Magic opens every object container.
const Magic = "MCOBJ"

// Current container schema; bump when Object changes shape.
const schemaVersion uint16 = 1

// ErrBadObject reports a container that is not a readable object.
var ErrBadObject = errors.New("not an mcemit object")

// Object is the container written for FileObj output.
type Object struct {
	Magic  string
	Schema uint16

	Unit        string
	Format      string
	Arch        string
	PointerSize uint8

	Sections []Section
	Symbols  []Symbol
	Unwind   []UnwindRecord
}

// Section is a named run of bytes plus the relocations applied to it.
type Section struct {
	Name   string
	Align  uint32
	Data   []byte
	Relocs []Reloc
}

// RelocKind selects how a relocation is resolved.
type RelocKind string

const (
	// RelocPCRel32 is a 32-bit displacement from the end of the field.
	RelocPCRel32 RelocKind = "pcrel32"
	RelocAbs32   RelocKind = "abs32"
	RelocAbs64   RelocKind = "abs64"
)

// Reloc patches Section.Data at Offset with the address of Symbol plus Addend.
type Reloc struct {
	Offset uint32
	Kind   RelocKind
	Symbol string
	Addend int64
}

// Binding is a symbol's link-time visibility.
type Binding string

const (
	BindGlobal Binding = "global"
	BindWeak   Binding = "weak"
	BindLocal  Binding = "local"
)

// SymbolKind classifies a symbol.
type SymbolKind string

const (
	SymFunc  SymbolKind = "func"
	SymData  SymbolKind = "data"
	SymLabel SymbolKind = "label"
)

// Symbol is a definition, or an undefined reference when Section is empty.
type Symbol struct {
	Name    string
	Kind    SymbolKind
	Binding Binding
	Section string
	Offset  uint32
	Size    uint32
}

// Defined reports whether the symbol has a location in this object.
func (s Symbol) Defined() bool { return s.Section != "" }

// UnwindRecord describes a function's unwind info.
type UnwindRecord struct {
	Func            string
	Kind            string
	Personality     string
	PersonalitySyms []string
}

// Section returns the named section, or nil.
func (o *Object) Section(name string) *Section {
	for i := range o.Sections {
		if o.Sections[i].Name == name {
			return &o.Sections[i]
		}
	}
	return nil
}

// Symbol returns the named symbol.
func (o *Object) Symbol(name string) (Symbol, bool) {
	for _, s := range o.Symbols {
		if s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}

// Read decodes a container written by Write.
func Read(r io.Reader) (*Object, error) {
	var o Object
	if err := msgpack.NewDecoder(r).Decode(&o); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadObject, err)
	}
	if o.Magic != Magic {
		return nil, fmt.Errorf("%w: magic %q", ErrBadObject, o.Magic)
	}
	if o.Schema != schemaVersion {
		return nil, fmt.Errorf("%w: schema %d, want %d", ErrBadObject, o.Schema, schemaVersion)
	}
	return &o, nil
}
