package target

import (
	"mcemit/internal/asminfo"
	"mcemit/internal/codegen"
)

func newX86Driver(p *asminfo.Profile) *codegen.Driver {
	return codegen.NewDriver(p, codegen.DefaultStages()...)
}

func init() {
	for _, pattern := range []string{
		"x86",
		"x86_64",
		"x86_64-*-darwin",
		"x86_64-*-*-gnux32",
		"x86_64-*-win32-msvc",
		"x86-*-openbsd",
		"x86-*-bitrig",
	} {
		MustRegister(pattern, newX86Driver)
	}
}
