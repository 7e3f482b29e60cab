// Package triple parses platform identifiers of the form arch-vendor-os-env.
package triple

import (
	"fmt"
	"runtime"
	"strings"
)

// Arch is the instruction-set architecture component.
type Arch uint8

const (
	ArchUnknown Arch = iota
	ArchX86
	ArchX86_64
	ArchARM
	ArchAArch64
	ArchRISCV64
)

func (a Arch) String() string {
	switch a {
	case ArchX86:
		return "i386"
	case ArchX86_64:
		return "x86_64"
	case ArchARM:
		return "arm"
	case ArchAArch64:
		return "aarch64"
	case ArchRISCV64:
		return "riscv64"
	default:
		return "unknown"
	}
}

// OS is the operating-system component.
type OS uint8

const (
	OSUnknown OS = iota
	OSDarwin
	OSMacOSX
	OSIOS
	OSLinux
	OSFreeBSD
	OSNetBSD
	OSOpenBSD
	OSBitrig
	OSSolaris
	OSWin32
	OSMinGW32
	OSCygwin
	OSNone
)

var osNames = map[OS]string{
	OSDarwin:  "darwin",
	OSMacOSX:  "macosx",
	OSIOS:     "ios",
	OSLinux:   "linux",
	OSFreeBSD: "freebsd",
	OSNetBSD:  "netbsd",
	OSOpenBSD: "openbsd",
	OSBitrig:  "bitrig",
	OSSolaris: "solaris",
	OSWin32:   "win32",
	OSMinGW32: "mingw32",
	OSCygwin:  "cygwin",
	OSNone:    "none",
}

func (o OS) String() string {
	if name, ok := osNames[o]; ok {
		return name
	}
	return "unknown"
}

// Environment is the ABI/environment variant component.
type Environment uint8

const (
	EnvUnknown Environment = iota
	EnvGNU
	EnvGNUX32
	EnvMusl
	EnvAndroid
	EnvEABI
	EnvMSVC
	EnvItanium
	EnvCygnus
)

var envNames = map[Environment]string{
	EnvGNU:     "gnu",
	EnvGNUX32:  "gnux32",
	EnvMusl:    "musl",
	EnvAndroid: "android",
	EnvEABI:    "eabi",
	EnvMSVC:    "msvc",
	EnvItanium: "itanium",
	EnvCygnus:  "cygnus",
}

func (e Environment) String() string {
	if name, ok := envNames[e]; ok {
		return name
	}
	return "unknown"
}

// ObjectFormat is the object-file family implied by a triple.
type ObjectFormat uint8

const (
	FormatELF ObjectFormat = iota + 1
	FormatMachO
	FormatCOFF
)

func (f ObjectFormat) String() string {
	switch f {
	case FormatELF:
		return "elf"
	case FormatMachO:
		return "macho"
	case FormatCOFF:
		return "coff"
	default:
		return "unknown"
	}
}

// Triple is a parsed platform identifier. It is a plain value and never mutated.
type Triple struct {
	Arch   Arch
	Vendor string
	OS     OS
	Env    Environment
}

// Parse parses a canonical platform identifier such as "x86_64-apple-darwin13"
// or "x86_64-pc-linux-gnux32". Components it does not recognise become unknown.
func Parse(s string) (Triple, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Triple{}, fmt.Errorf("empty platform identifier")
	}
	parts := strings.Split(s, "-")
	t := Triple{Arch: ParseArch(parts[0]), Vendor: "unknown"}
	rest := parts[1:]
	// Two components are arch-os; three or more carry a vendor, except the
	// vendor-less arch-os-env spelling ("x86_64-linux-gnu").
	vendorless := len(rest) == 2 && ParseOS(rest[0]) != OSUnknown && ParseOS(rest[1]) == OSUnknown
	if len(rest) >= 2 && !vendorless {
		if rest[0] != "" {
			t.Vendor = rest[0]
		}
		rest = rest[1:]
	}
	if len(rest) > 0 {
		t.OS = ParseOS(rest[0])
		rest = rest[1:]
	}
	if len(rest) > 0 {
		t.Env = ParseEnvironment(rest[0])
	}
	return t, nil
}

// MustParse is like Parse but panics on error. Intended for tests and tables.
func MustParse(s string) Triple {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseArch maps an architecture name or alias to an Arch.
func ParseArch(name string) Arch {
	switch strings.ToLower(name) {
	case "i386", "i486", "i586", "i686", "x86":
		return ArchX86
	case "x86_64", "amd64":
		return ArchX86_64
	case "arm", "armv7", "thumb":
		return ArchARM
	case "aarch64", "arm64":
		return ArchAArch64
	case "riscv64":
		return ArchRISCV64
	default:
		return ArchUnknown
	}
}

// ParseOS maps an OS name to an OS, ignoring a trailing version number.
func ParseOS(name string) OS {
	name = strings.ToLower(name)
	switch {
	case name == "windows":
		return OSWin32
	case strings.HasPrefix(name, "macos") && !strings.HasPrefix(name, "macosx"):
		return OSMacOSX
	}
	for os, prefix := range osNames {
		if strings.HasPrefix(name, prefix) && isVersion(name[len(prefix):]) {
			return os
		}
	}
	return OSUnknown
}

// ParseEnvironment maps an environment name to an Environment.
func ParseEnvironment(name string) Environment {
	name = strings.ToLower(name)
	for env, n := range envNames {
		if name == n {
			return env
		}
	}
	return EnvUnknown
}

func isVersion(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != '_' {
			return false
		}
	}
	return true
}

// Is64Bit reports whether the architecture has 64-bit registers.
func (t Triple) Is64Bit() bool {
	return t.Arch == ArchX86_64 || t.Arch == ArchAArch64 || t.Arch == ArchRISCV64
}

// IsDarwin reports whether the OS belongs to the Darwin family.
func (t Triple) IsDarwin() bool {
	return t.OS == OSDarwin || t.OS == OSMacOSX || t.OS == OSIOS
}

// IsWindowsMSVC reports whether the triple targets the MSVC flavour of Windows.
func (t Triple) IsWindowsMSVC() bool {
	if t.OS != OSWin32 {
		return false
	}
	return t.Env == EnvUnknown || t.Env == EnvMSVC || t.Env == EnvItanium
}

// IsCygMing reports whether the triple targets Cygwin or MinGW.
func (t Triple) IsCygMing() bool {
	switch t.OS {
	case OSCygwin, OSMinGW32:
		return true
	case OSWin32:
		return t.Env == EnvGNU || t.Env == EnvCygnus
	}
	return false
}

// ObjectFormat returns the object-file family for the triple.
func (t Triple) ObjectFormat() ObjectFormat {
	switch {
	case t.IsDarwin():
		return FormatMachO
	case t.IsWindowsMSVC(), t.IsCygMing():
		return FormatCOFF
	default:
		return FormatELF
	}
}

func (t Triple) String() string {
	vendor := t.Vendor
	if vendor == "" {
		vendor = "unknown"
	}
	s := t.Arch.String() + "-" + vendor + "-" + t.OS.String()
	if t.Env != EnvUnknown {
		s += "-" + t.Env.String()
	}
	return s
}

// Host returns the triple of the running process.
func Host() Triple {
	t := Triple{Vendor: "unknown"}
	switch runtime.GOARCH {
	case "386":
		t.Arch = ArchX86
	case "amd64":
		t.Arch = ArchX86_64
	case "arm":
		t.Arch = ArchARM
	case "arm64":
		t.Arch = ArchAArch64
	case "riscv64":
		t.Arch = ArchRISCV64
	}
	switch runtime.GOOS {
	case "darwin":
		t.OS, t.Vendor = OSDarwin, "apple"
	case "linux":
		t.OS, t.Env = OSLinux, EnvGNU
	case "freebsd":
		t.OS = OSFreeBSD
	case "netbsd":
		t.OS = OSNetBSD
	case "openbsd":
		t.OS = OSOpenBSD
	case "solaris":
		t.OS = OSSolaris
	case "windows":
		t.OS, t.Vendor, t.Env = OSWin32, "pc", EnvMSVC
	}
	return t
}
