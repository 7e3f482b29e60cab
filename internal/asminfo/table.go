package asminfo

import (
	"fmt"
	"reflect"
	"sync"

	"mcemit/internal/triple"
)

// OSClass groups operating systems that share assembly conventions.
type OSClass uint8

const (
	OSGeneric OSClass = iota
	OSDarwin
	// OSOpenBSDLike covers OpenBSD and Bitrig, whose assemblers mis-handle
	// .quad in 32-bit mode.
	OSOpenBSDLike
	OSWindowsMSVC
	OSCygMing
)

func (c OSClass) String() string {
	switch c {
	case OSDarwin:
		return "darwin"
	case OSOpenBSDLike:
		return "openbsd"
	case OSWindowsMSVC:
		return "msvc"
	case OSCygMing:
		return "cygming"
	default:
		return "generic"
	}
}

// EnvClass groups environments that change profile fields.
type EnvClass uint8

const (
	EnvDefault EnvClass = iota
	// EnvX32 is the ILP32 ABI on x86_64.
	EnvX32
)

func (c EnvClass) String() string {
	if c == EnvX32 {
		return "x32"
	}
	return "default"
}

// Bucket is the set of triple properties a profile depends on. Triples in
// the same bucket share one profile.
type Bucket struct {
	Arch   triple.Arch
	Format triple.ObjectFormat
	OS     OSClass
	Env    EnvClass
}

func (b Bucket) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", b.Arch, b.Format, b.OS, b.Env)
}

// BucketOf classifies a triple.
func BucketOf(t triple.Triple) Bucket {
	b := Bucket{Arch: t.Arch, Format: t.ObjectFormat()}
	switch {
	case t.IsDarwin():
		b.OS = OSDarwin
	case t.OS == triple.OSOpenBSD || t.OS == triple.OSBitrig:
		b.OS = OSOpenBSDLike
	case t.IsWindowsMSVC():
		b.OS = OSWindowsMSVC
	case t.IsCygMing():
		b.OS = OSCygMing
	}
	if t.Env == triple.EnvGNUX32 && t.Arch == triple.ArchX86_64 {
		b.Env = EnvX32
	}
	return b
}

// step is one stage of the decision table. owns lists the fields it may write.
type step struct {
	name  string
	owns  []string
	apply func(b Bucket, cfg Config, f *fields)
}

// steps run in order, from architecture defaults to environment overrides.
var steps = []step{
	{
		name:  "arch",
		owns:  []string{"Arch", "PointerSize", "CalleeSaveStackSlotSize", "AssemblerDialect", "TextAlignFillValue"},
		apply: archStep,
	},
	{
		name: "format",
		owns: []string{
			"Format", "CommentString", "GlobalPrefix", "PrivateGlobalPrefix",
			"WeakRefDirective", "WeakDefDirective", "PCSymbol", "HasLEB128",
			"Data64bitsDirective", "AlignDirective", "AlignmentIsInBytes",
			"SupportsDebugInformation", "DwarfUsesInlineInfoSection", "ExceptionsType",
			"UseDataRegionDirectives", "TextSection", "DataSection",
			"TextSectionDirective", "DataSectionDirective", "NonexecStackSection",
		},
		apply: formatStep,
	},
	{
		name:  "os",
		owns:  []string{"GlobalPrefix", "PrivateGlobalPrefix", "ExceptionsType", "Data64bitsDirective", "WeakRefDirective"},
		apply: osStep,
	},
	{
		name:  "env",
		owns:  []string{"PointerSize"},
		apply: envStep,
	},
}

func archStep(b Bucket, cfg Config, f *fields) {
	f.Arch = b.Arch
	if b.Arch == triple.ArchX86_64 {
		f.PointerSize = 8
		f.CalleeSaveStackSlotSize = 8
	}
	f.AssemblerDialect = cfg.Dialect
	f.TextAlignFillValue = 0x90 // nop
}

func formatStep(b Bucket, cfg Config, f *fields) {
	f.Format = b.Format
	switch b.Format {
	case triple.FormatMachO:
		// "##" lets .s files pass through the C preprocessor, which clang runs
		// on Darwin for lowercase .s as well.
		f.CommentString = "##"
		f.GlobalPrefix = "_"
		f.PrivateGlobalPrefix = "L"
		f.WeakRefDirective = "\t.weak_reference\t"
		f.WeakDefDirective = "\t.weak_definition\t"
		f.PCSymbol = "."
		f.HasLEB128 = true
		f.AlignDirective = "\t.p2align\t"
		f.AlignmentIsInBytes = false
		f.SupportsDebugInformation = true
		f.DwarfUsesInlineInfoSection = true
		f.ExceptionsType = ExceptionsDwarfCFI
		f.UseDataRegionDirectives = cfg.MarkDataRegions
		f.TextSection = "__TEXT,__text"
		f.DataSection = "__DATA,__data"
		f.TextSectionDirective = "\t.section\t__TEXT,__text,regular,pure_instructions"
		f.DataSectionDirective = "\t.section\t__DATA,__data"
		if b.Arch != triple.ArchX86_64 {
			f.Data64bitsDirective = ""
		}
	case triple.FormatELF:
		f.PrivateGlobalPrefix = ".L"
		f.WeakRefDirective = "\t.weak\t"
		f.PCSymbol = "."
		f.HasLEB128 = true
		f.SupportsDebugInformation = true
		f.ExceptionsType = ExceptionsDwarfCFI
		f.NonexecStackSection = ".note.GNU-stack"
	case triple.FormatCOFF:
		f.GlobalPrefix = "_"
		f.PrivateGlobalPrefix = "L"
		f.HasLEB128 = true
		f.SupportsDebugInformation = true
	}
}

func osStep(b Bucket, _ Config, f *fields) {
	switch b.OS {
	case OSOpenBSDLike:
		if b.Arch == triple.ArchX86 {
			f.Data64bitsDirective = ""
		}
	case OSWindowsMSVC:
		if b.Arch == triple.ArchX86_64 {
			f.GlobalPrefix = ""
			f.PrivateGlobalPrefix = ".L"
			f.ExceptionsType = ExceptionsWin64
		}
	case OSCygMing:
		if b.Arch == triple.ArchX86_64 {
			f.GlobalPrefix = ""
			f.PrivateGlobalPrefix = ".L"
		}
		f.WeakRefDirective = "\t.weak\t"
		f.ExceptionsType = ExceptionsDwarfCFI
	}
}

// envStep narrows the pointer only; the callee-save slot stays 8 bytes on x32.
func envStep(b Bucket, _ Config, f *fields) {
	if b.Env == EnvX32 {
		f.PointerSize = 4
	}
}

// Supported reports whether a profile can be built for the architecture.
func Supported(a triple.Arch) bool {
	return a == triple.ArchX86 || a == triple.ArchX86_64
}

// New builds the profile for t under cfg.
func New(t triple.Triple, cfg Config) (*Profile, error) {
	return build(BucketOf(t), cfg)
}

func build(b Bucket, cfg Config) (*Profile, error) {
	if !Supported(b.Arch) {
		return nil, fmt.Errorf("no assembly conventions for architecture %s", b.Arch)
	}
	f := baseFields()
	for _, s := range steps {
		before := f
		s.apply(b, cfg, &f)
		checkScope(s, before, f)
	}
	return &Profile{bucket: b, f: f}, nil
}

// checkScope panics when a step changed a field it does not own. That is a
// bug in the table, not a property of the input.
func checkScope(s step, before, after fields) {
	owned := make(map[string]struct{}, len(s.owns))
	for _, name := range s.owns {
		owned[name] = struct{}{}
	}
	bv := reflect.ValueOf(before)
	av := reflect.ValueOf(after)
	typ := bv.Type()
	for i := 0; i < typ.NumField(); i++ {
		name := typ.Field(i).Name
		if _, ok := owned[name]; ok {
			continue
		}
		if !reflect.DeepEqual(bv.Field(i).Interface(), av.Field(i).Interface()) {
			panic(fmt.Sprintf("asminfo: %s step wrote %s outside its scope", s.name, name))
		}
	}
}

// Cache builds each bucket's profile once. It is safe for concurrent use.
type Cache struct {
	cfg Config

	mu       sync.Mutex
	profiles map[Bucket]*Profile
}

// NewCache returns an empty cache bound to cfg.
func NewCache(cfg Config) *Cache {
	return &Cache{cfg: cfg, profiles: make(map[Bucket]*Profile)}
}

// Config returns the configuration profiles are built with.
func (c *Cache) Config() Config { return c.cfg }

// Get returns the profile for t, building it on first use.
func (c *Cache) Get(t triple.Triple) (*Profile, error) {
	b := BucketOf(t)
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.profiles[b]; ok {
		return p, nil
	}
	p, err := build(b, c.cfg)
	if err != nil {
		return nil, err
	}
	c.profiles[b] = p
	return p, nil
}

// Len reports how many buckets have been built.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.profiles)
}
