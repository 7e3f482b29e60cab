package target

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"mcemit/internal/asminfo"
	"mcemit/internal/codegen"
	"mcemit/internal/mc"
	"mcemit/internal/triple"
)

func TestParsePattern(t *testing.T) {
	tests := []struct {
		in        string
		canonical string
		score     int
		wantErr   bool
	}{
		{"x86", "i386-*-*-*", 4, false},
		{"x86_64-*-darwin", "x86_64-*-darwin-*", 6, false},
		{"x86_64-*-*-gnux32", "x86_64-*-*-gnux32", 5, false},
		{"x86_64-pc-win32-msvc", "x86_64-pc-win32-msvc", 7, false},
		{"*-*-linux", "", 0, true},
		{"x86-*-plan9", "", 0, true},
		{"x86-*-linux-klingon", "", 0, true},
		{"x86-a-linux-gnu-extra", "", 0, true},
	}
	for _, tt := range tests {
		p, err := ParsePattern(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParsePattern(%q) should fail", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePattern(%q): %v", tt.in, err)
			continue
		}
		if p.Canonical() != tt.canonical || p.Specificity() != tt.score {
			t.Errorf("ParsePattern(%q) = %s/%d, want %s/%d", tt.in, p.Canonical(), p.Specificity(), tt.canonical, tt.score)
		}
	}
}

func TestDefaultLookup(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"x86_64-unknown-linux-gnu", "x86_64"},
		{"x86_64-apple-darwin13", "x86_64-*-darwin"},
		{"x86_64-apple-macosx10.9", "x86_64-*-darwin"},
		{"x86_64-apple-ios7.0", "x86_64-*-darwin"},
		{"x86_64-pc-linux-gnux32", "x86_64-*-*-gnux32"},
		{"x86_64-pc-win32-msvc", "x86_64-*-win32-msvc"},
		{"i386-unknown-openbsd", "x86-*-openbsd"},
		{"i686-unknown-bitrig", "x86-*-bitrig"},
		{"i386-pc-linux-gnu", "x86"},
	}
	for _, tt := range tests {
		p, _, err := Default().Lookup(triple.MustParse(tt.id))
		if err != nil {
			t.Errorf("Lookup(%s): %v", tt.id, err)
			continue
		}
		if p.String() != tt.want {
			t.Errorf("Lookup(%s) = %s, want %s", tt.id, p, tt.want)
		}
	}
	if _, _, err := Default().Lookup(triple.MustParse("sparc-sun-solaris")); !errors.Is(err, ErrUnknownTarget) {
		t.Errorf("sparc lookup = %v, want ErrUnknownTarget", err)
	}
}

func TestDuplicateRegistration(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("x86_64-*-darwin", newX86Driver); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("amd64-*-darwin", newX86Driver); !errors.Is(err, ErrDuplicateRegistration) {
		t.Errorf("alias re-registration = %v, want ErrDuplicateRegistration", err)
	}
	if err := r.Register("x86_64-*-darwin-*", newX86Driver); !errors.Is(err, ErrDuplicateRegistration) {
		t.Errorf("explicit wildcard re-registration = %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Error("MustRegister should panic on duplicates")
		}
	}()
	r.MustRegister("x86_64-*-darwin", newX86Driver)
}

func TestSpecificityIgnoresOrder(t *testing.T) {
	var got string
	mark := func(name string) Factory {
		return func(p *asminfo.Profile) *codegen.Driver {
			got = name
			return newX86Driver(p)
		}
	}
	r := NewRegistry()
	r.MustRegister("x86_64-*-linux-gnu", mark("exact"))
	r.MustRegister("x86_64-*-linux", mark("os"))
	r.MustRegister("x86_64", mark("arch"))

	res := NewResolver(r, asminfo.DefaultConfig())
	for id, want := range map[string]string{
		"x86_64-pc-linux-gnu":  "exact",
		"x86_64-pc-linux-musl": "os",
		"x86_64-pc-freebsd":    "arch",
	} {
		if _, _, err := res.Resolve(id); err != nil {
			t.Fatalf("Resolve(%s): %v", id, err)
		}
		if got != want {
			t.Errorf("Resolve(%s) used %s, want %s", id, got, want)
		}
	}
}

func TestResolveDarwin(t *testing.T) {
	res := NewResolver(nil, asminfo.DefaultConfig())
	p, d, err := res.Resolve("x86_64-unknown-darwin")
	if err != nil {
		t.Fatal(err)
	}
	if p.PointerSize() != 8 || p.CalleeSaveStackSlotSize() != 8 || p.CommentString() != "##" {
		t.Errorf("profile = %d/%d/%q", p.PointerSize(), p.CalleeSaveStackSlotSize(), p.CommentString())
	}
	if p.ExceptionModel() != asminfo.ExceptionsDwarfCFI {
		t.Errorf("exceptions = %s", p.ExceptionModel())
	}
	if d.State() != codegen.StateIdle || d.Profile() != p {
		t.Error("driver should be idle and bound to the profile")
	}
	_, d2, _ := res.Resolve("x86_64-apple-darwin")
	if d2 == d {
		t.Error("each resolve must return a fresh driver")
	}

	mac, _, err := res.Resolve("x86_64-apple-macosx10.9")
	if err != nil {
		t.Fatal(err)
	}
	if mac.Bucket() != p.Bucket() || mac.CommentString() != "##" {
		t.Errorf("macosx bucket = %s, want %s", mac.Bucket(), p.Bucket())
	}
}

func TestResolveOpenBSDQuad(t *testing.T) {
	res := NewResolver(nil, asminfo.Config{Dialect: asminfo.DialectIntel})
	p32, err := res.Profile("x86-unknown-openbsd")
	if err != nil {
		t.Fatal(err)
	}
	p64, err := res.Profile("x86_64-unknown-openbsd")
	if err != nil {
		t.Fatal(err)
	}
	if p32.Data64Enabled() || !p64.Data64Enabled() {
		t.Errorf("quad enabled: 32-bit %v, 64-bit %v", p32.Data64Enabled(), p64.Data64Enabled())
	}
	if p32.Dialect() != asminfo.DialectIntel || p64.Dialect() != asminfo.DialectIntel {
		t.Error("dialect must follow the global config")
	}
}

type countingWriter struct{ n int }

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n++
	return len(p), nil
}

func TestEmitUnknownTargetWritesNothing(t *testing.T) {
	res := NewResolver(nil, asminfo.DefaultConfig())
	u := &mc.Unit{Name: "u"}
	for _, id := range []string{"sparc-sun-solaris", "aarch64-unknown-linux-gnu", ""} {
		w := &countingWriter{}
		err := res.Emit(context.Background(), id, u, codegen.Options{}, w)
		if !errors.Is(err, ErrUnknownTarget) {
			t.Errorf("Emit(%q) = %v, want ErrUnknownTarget", id, err)
		}
		if w.n != 0 {
			t.Errorf("Emit(%q) wrote output", id)
		}
	}
}

func TestEmitEndToEnd(t *testing.T) {
	u, err := mc.Decode(`
name = "hello"
[[funcs]]
name = "main"
  [[funcs.insts]]
  op = "ret"
`)
	if err != nil {
		t.Fatal(err)
	}
	res := NewResolver(nil, asminfo.DefaultConfig())
	var buf bytes.Buffer
	if err := res.Emit(context.Background(), "x86_64-apple-darwin", u, codegen.Options{Verify: true}, &buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "_main:\n") {
		t.Errorf("output:\n%s", buf.String())
	}
	if len(res.Targets()) != 7 {
		t.Errorf("targets = %v", res.Targets())
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	ids := []string{
		"x86_64-apple-darwin", "x86_64-pc-linux-gnu", "x86_64-pc-linux-gnux32",
		"i386-unknown-openbsd", "i386-unknown-bitrig", "x86_64-pc-win32-msvc",
		"x86_64-w64-mingw32", "i686-pc-linux-gnu",
	}
	rapid.Check(t, func(t *rapid.T) {
		id := rapid.SampledFrom(ids).Draw(t, "id")
		a := NewResolver(nil, asminfo.DefaultConfig())
		b := NewResolver(nil, asminfo.DefaultConfig())
		pa, _, errA := a.Resolve(id)
		pb, _, errB := b.Resolve(id)
		if errA != nil || errB != nil {
			t.Fatalf("resolve %s: %v / %v", id, errA, errB)
		}
		fa, fb := pa.Fields(), pb.Fields()
		for i := range fa {
			if fa[i] != fb[i] {
				t.Fatalf("%s: field %s differs: %q vs %q", id, fa[i].Name, fa[i].Value, fb[i].Value)
			}
		}
		again, _, _ := a.Resolve(id)
		if again != pa {
			t.Fatalf("%s: cache returned a different profile", id)
		}
	})
}
