package triple

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Triple
	}{
		{"x86_64-unknown-darwin", Triple{Arch: ArchX86_64, Vendor: "unknown", OS: OSDarwin}},
		{"x86_64-apple-darwin13.1.0", Triple{Arch: ArchX86_64, Vendor: "apple", OS: OSDarwin}},
		{"i686-apple-macosx10.9", Triple{Arch: ArchX86, Vendor: "apple", OS: OSMacOSX}},
		{"x86_64-pc-linux-gnux32", Triple{Arch: ArchX86_64, Vendor: "pc", OS: OSLinux, Env: EnvGNUX32}},
		{"x86_64-linux-gnu", Triple{Arch: ArchX86_64, Vendor: "unknown", OS: OSLinux, Env: EnvGNU}},
		{"x86-unknown-openbsd", Triple{Arch: ArchX86, Vendor: "unknown", OS: OSOpenBSD}},
		{"i386-pc-windows-msvc", Triple{Arch: ArchX86, Vendor: "pc", OS: OSWin32, Env: EnvMSVC}},
		{"amd64-linux", Triple{Arch: ArchX86_64, Vendor: "unknown", OS: OSLinux}},
		{"x86_64", Triple{Arch: ArchX86_64, Vendor: "unknown"}},
		{"sparc-sun-solaris", Triple{Arch: ArchUnknown, Vendor: "sun", OS: OSSolaris}},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := Parse("  "); err == nil {
		t.Fatal("expected error for empty identifier")
	}
}

func TestObjectFormat(t *testing.T) {
	tests := []struct {
		in   string
		want ObjectFormat
	}{
		{"x86_64-apple-darwin", FormatMachO},
		{"i386-apple-ios", FormatMachO},
		{"x86_64-pc-linux-gnu", FormatELF},
		{"i386-unknown-openbsd", FormatELF},
		{"x86_64-pc-win32", FormatCOFF},
		{"x86_64-pc-windows-msvc", FormatCOFF},
		{"i686-pc-mingw32", FormatCOFF},
		{"i686-pc-cygwin", FormatCOFF},
		{"x86_64-pc-windows-gnu", FormatCOFF},
		{"x86_64-unknown-freebsd", FormatELF},
	}
	for _, tt := range tests {
		if got := MustParse(tt.in).ObjectFormat(); got != tt.want {
			t.Errorf("%s: format = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestWindowsFlavours(t *testing.T) {
	msvc := MustParse("x86_64-pc-windows-msvc")
	if !msvc.IsWindowsMSVC() || msvc.IsCygMing() {
		t.Errorf("msvc triple misclassified: %+v", msvc)
	}
	gnu := MustParse("x86_64-pc-windows-gnu")
	if gnu.IsWindowsMSVC() || !gnu.IsCygMing() {
		t.Errorf("gnu windows triple misclassified: %+v", gnu)
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, in := range []string{"x86_64-apple-darwin", "i386-pc-linux-gnu", "x86_64-unknown-linux-gnux32"} {
		tr := MustParse(in)
		again := MustParse(tr.String())
		if again != tr {
			t.Errorf("%s: reparse of %q = %+v, want %+v", in, tr.String(), again, tr)
		}
	}
}
