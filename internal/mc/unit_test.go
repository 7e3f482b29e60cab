package mc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleUnit = `
name = "switch"
source_file = "switch.c"

[[funcs]]
name = "dispatch"
align = 16
personality = "__gxx_personality_v0"

  [[funcs.insts]]
  op = "mov"
  suffix = "q"
  operands = [{kind = "reg", reg = "rax"}, {kind = "reg", reg = "rdi"}]
  encoding = "48 89 f8"

  [[funcs.insts]]
  op = "jmp"
  operands = [{kind = "label", sym = "table"}]

  [[funcs.insts]]
  label = "case0"
  op = "ret"
  encoding = "c3"

  [[funcs.jump_tables]]
  label = "table"
  targets = ["case0", "case0"]

[[data]]
name = "counter"
linkage = "internal"
align = 8
values = [{size = 8, int = 42}, {size = 8, sym = "dispatch"}]
`

func TestDecodeAndVerify(t *testing.T) {
	u, err := Decode(sampleUnit)
	if err != nil {
		t.Fatal(err)
	}
	if len(u.Funcs) != 1 || len(u.Data) != 1 {
		t.Fatalf("got %d funcs, %d data", len(u.Funcs), len(u.Data))
	}
	if u.Funcs[0].Linkage != LinkageGlobal {
		t.Errorf("default linkage = %q", u.Funcs[0].Linkage)
	}
	if got := u.Funcs[0].Insts[0].Operands[1].Reg; got != "rdi" {
		t.Errorf("operand reg = %q", got)
	}
	if err := Verify(u); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyReportsProblems(t *testing.T) {
	u, err := Decode(sampleUnit)
	if err != nil {
		t.Fatal(err)
	}
	u.Funcs[0].Align = 12
	u.Funcs[0].JumpTables[0].Targets = append(u.Funcs[0].JumpTables[0].Targets, "nowhere")
	u.Funcs[0].Insts[0].Encoding = "zz"
	u.Data[0].Values = append(u.Data[0].Values, Value{Size: 3})
	u.Data = append(u.Data, &Data{Name: "dispatch", Linkage: LinkageGlobal})

	err = Verify(u)
	if err == nil {
		t.Fatal("expected verification errors")
	}
	for _, want := range []string{
		"alignment 12",
		`unknown label "nowhere"`,
		"invalid encoding",
		"size 3",
		`data "dispatch" redefines func`,
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	u, err := Decode(sampleUnit)
	if err != nil {
		t.Fatal(err)
	}
	c := u.Clone()
	c.Funcs[0].Insts[0].Operands[0].Reg = "rbx"
	c.Funcs[0].JumpTables[0].Targets[0] = "x"
	c.Data[0].Values[0].Int = 7
	if u.Funcs[0].Insts[0].Operands[0].Reg != "rax" {
		t.Error("clone shares operands")
	}
	if u.Funcs[0].JumpTables[0].Targets[0] != "case0" {
		t.Error("clone shares jump tables")
	}
	if u.Data[0].Values[0].Int != 42 {
		t.Error("clone shares values")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.mc.toml")
	if err := os.WriteFile(path, []byte("name = \"x\"\nbogus = 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("Load error = %v, want unknown key bogus", err)
	}
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	text := "name = \"x\"\n[[funcs]]\nname = \"f\"\n  [[funcs.insts]]\n  op = \"ret\"\n  encodng = \"c3\"\n"
	if _, err := Decode(text); err == nil || !strings.Contains(err.Error(), "funcs.insts.encodng") {
		t.Fatalf("Decode error = %v, want unknown key funcs.insts.encodng", err)
	}
}

func TestLoadDefaultsName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kernel.mc.toml")
	if err := os.WriteFile(path, []byte("[[funcs]]\nname = \"f\"\n[[funcs.insts]]\nop = \"ret\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	u, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if u.Name != "kernel" {
		t.Errorf("name = %q, want kernel", u.Name)
	}
}

func TestLog2Align(t *testing.T) {
	for align, want := range map[int]int{0: 0, 1: 0, 2: 1, 16: 4, 4096: 12} {
		if got := Log2Align(align); got != want {
			t.Errorf("Log2Align(%d) = %d, want %d", align, got, want)
		}
	}
}
