package asmwriter_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"mcemit/internal/asminfo"
	"mcemit/internal/asmwriter"
	"mcemit/internal/codegen"
	"mcemit/internal/mc"
	"mcemit/internal/triple"
)

const switchUnit = `
name = "switch"
source_file = "switch.c"

[[funcs]]
name = "dispatch"
personality = "__gxx_personality_v0"

  [[funcs.insts]]
  op = "mov"
  suffix = "q"
  operands = [{kind = "reg", reg = "rax"}, {kind = "mem", base = "rdi", disp = 8}]

  [[funcs.insts]]
  op = "lea"
  suffix = "q"
  operands = [{kind = "reg", reg = "rcx"}, {kind = "mem", sym = "table"}]

  [[funcs.insts]]
  op = "jmp"
  operands = [{kind = "label", sym = "table"}]

  [[funcs.insts]]
  label = "case0"
  op = "ret"

  [[funcs.jump_tables]]
  label = "table"
  targets = ["case0", "case0"]

[[data]]
name = "counter"
linkage = "internal"
values = [{size = 8, int = 42}, {size = 8, sym = "dispatch"}]
`

func emit(t *testing.T, id string, cfg asminfo.Config, text string) string {
	t.Helper()
	u, err := mc.Decode(text)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	p, err := asminfo.New(triple.MustParse(id), cfg)
	if err != nil {
		t.Fatalf("profile %s: %v", id, err)
	}
	d := codegen.NewDriver(p, codegen.DefaultStages()...)
	if err := d.Configure(codegen.Options{FileKind: codegen.FileAsm, Verify: true}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	var buf bytes.Buffer
	if err := d.Emit(context.Background(), u, &buf); err != nil {
		t.Fatalf("emit %s: %v", id, err)
	}
	return buf.String()
}

func assertLines(t *testing.T, out string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(out, w+"\n") {
			t.Errorf("output missing line %q:\n%s", w, out)
		}
	}
}

func TestDarwinAssembly(t *testing.T) {
	out := emit(t, "x86_64-apple-darwin", asminfo.DefaultConfig(), switchUnit)
	if !strings.HasPrefix(out, "## mcemit unit switch") {
		t.Errorf("header should use the ## comment:\n%s", out)
	}
	assertLines(t, out,
		"\t.file\t\"switch.c\"",
		"\t.section\t__TEXT,__text,regular,pure_instructions",
		"\t.p2align\t4, 0x90",
		"\t.globl\t_dispatch",
		"_dispatch:",
		"\t.cfi_startproc",
		"\t.cfi_personality 155, ___gxx_personality_v0",
		"\tmovq\t8(%rdi), %rax",
		"\tleaq\tLdispatch_table(%rip), %rcx",
		"\tjmp\tLdispatch_table",
		"Ldispatch_case0:",
		"\t.cfi_endproc",
		"\t.long\tLdispatch_case0-Ldispatch_table",
		"_counter:",
		"\t.quad\t42",
		"\t.quad\t_dispatch",
		"\t.subsections_via_symbols",
	)
	if strings.Contains(out, "GOTPCREL") {
		t.Error("the assembler builds the personality indirection from encoding 155")
	}
	if strings.Contains(out, ".globl\t_counter") {
		t.Error("internal data must not be global")
	}
	if strings.Contains(out, ".data_region") {
		t.Error("data regions are off by default")
	}
}

func TestDataRegions(t *testing.T) {
	cfg := asminfo.DefaultConfig()
	cfg.MarkDataRegions = true
	out := emit(t, "x86_64-apple-darwin", cfg, switchUnit)
	start := strings.Index(out, "\t.data_region jt32\n")
	end := strings.Index(out, "\t.end_data_region\n")
	table := strings.Index(out, "Ldispatch_table:\n")
	if start < 0 || end < 0 || !(start < table && table < end) {
		t.Errorf("jump table not bracketed by data region markers:\n%s", out)
	}

	elf := emit(t, "x86_64-unknown-linux-gnu", cfg, switchUnit)
	if strings.Contains(elf, ".data_region") {
		t.Error("data regions are Mach-O only")
	}
}

func TestELFAssembly(t *testing.T) {
	out := emit(t, "x86_64-unknown-linux-gnu", asminfo.DefaultConfig(), switchUnit)
	assertLines(t, out,
		"# mcemit unit switch (x86_64/elf/generic/default)",
		"\t.text",
		"\t.align\t16, 0x90",
		"\t.type\tdispatch,@function",
		"dispatch:",
		"\t.cfi_personality 155, __gxx_personality_v0",
		"\tleaq\t.Ldispatch_table(%rip), %rcx",
		"\tjmp\t.Ldispatch_table",
		"\t.long\t.Ldispatch_case0-.Ldispatch_table",
		"\t.section\t.note.GNU-stack,\"\",@progbits",
	)
	if strings.Contains(out, "GOTPCREL") {
		t.Error("ELF personality must be a plain reference")
	}
}

const indexedUnit = `
name = "indexed"

[[funcs]]
name = "load"
  [[funcs.insts]]
  op = "mov"
  suffix = "l"
  operands = [{kind = "reg", reg = "eax"}, {kind = "mem", sym = "table", base = "ebx", disp = 4}]

  [[funcs.insts]]
  op = "mov"
  suffix = "l"
  operands = [{kind = "reg", reg = "ecx"}, {kind = "mem", sym = "table"}]

  [[funcs.insts]]
  op = "ret"
`

func TestSymbolWithBaseRegister(t *testing.T) {
	out := emit(t, "i386-pc-linux-gnu", asminfo.DefaultConfig(), indexedUnit)
	assertLines(t, out,
		"\tmovl\ttable+4(%ebx), %eax",
		"\tmovl\ttable, %ecx",
	)

	intel := emit(t, "i386-pc-linux-gnu", asminfo.Config{Dialect: asminfo.DialectIntel}, indexedUnit)
	assertLines(t, intel,
		"\tmov\teax, dword ptr [ebx + table+4]",
		"\tmov\tecx, dword ptr [table]",
	)
}

func TestIntelSyntax(t *testing.T) {
	cfg := asminfo.Config{Dialect: asminfo.DialectIntel}
	out := emit(t, "x86_64-unknown-linux-gnu", cfg, switchUnit)
	assertLines(t, out,
		"\t.intel_syntax noprefix",
		"\tmov\trax, qword ptr [rdi + 8]",
		"\tlea\trcx, qword ptr [rip + .Ldispatch_table]",
	)
}

func TestOpenBSDSplitsQuads(t *testing.T) {
	out := emit(t, "i386-unknown-openbsd", asminfo.DefaultConfig(), `
name = "q"
[[data]]
name = "wide"
values = [{size = 8, int = 0x100000002}]
`)
	if strings.Contains(out, ".quad") {
		t.Errorf("openbsd i386 must not use .quad:\n%s", out)
	}
	assertLines(t, out, "\t.long\t2", "\t.long\t1", "\t.globl\twide")

	out64 := emit(t, "x86_64-unknown-openbsd", asminfo.DefaultConfig(), `
name = "q"
[[data]]
name = "wide"
values = [{size = 8, int = 7}]
`)
	assertLines(t, out64, "\t.quad\t7")
}

func TestWin64SEH(t *testing.T) {
	out := emit(t, "x86_64-pc-win32-msvc", asminfo.DefaultConfig(), switchUnit)
	assertLines(t, out,
		"\t.seh_proc\tdispatch",
		"\t.seh_handler\t__gxx_personality_v0, @unwind, @except",
		"\t.seh_endproc",
		"\tjmp\t.Ldispatch_table",
	)
	if strings.Contains(out, ".cfi_") {
		t.Error("msvc must not emit CFI")
	}
}

func TestWriteReportsMissingDirective(t *testing.T) {
	p, err := asminfo.New(triple.MustParse("i386-unknown-openbsd"), asminfo.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	u := &mc.Unit{Name: "raw", Data: []*mc.Data{{
		Name:    "wide",
		Linkage: mc.LinkageGlobal,
		Values:  []mc.Value{{Size: 8, Int: 1}},
	}}}
	var buf bytes.Buffer
	err = asmwriter.Write(&buf, u, p)
	if err == nil || !strings.Contains(err.Error(), "no 8-byte data directive") {
		t.Fatalf("Write = %v, want missing directive error", err)
	}
	if buf.Len() != 0 {
		t.Error("failed write must not produce output")
	}
}
