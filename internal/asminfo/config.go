package asminfo

import (
	"fmt"
	"strings"
)

// Dialect selects the assembler syntax. The numbering matches the GCC
// assembler-dialect alternatives used by inline asm.
type Dialect uint8

const (
	DialectATT   Dialect = 0
	DialectIntel Dialect = 1
)

func (d Dialect) String() string {
	switch d {
	case DialectATT:
		return "att"
	case DialectIntel:
		return "intel"
	default:
		return "unknown"
	}
}

// ParseDialect converts "att" or "intel" to a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "att", "at&t", "":
		return DialectATT, nil
	case "intel":
		return DialectIntel, nil
	default:
		return DialectATT, fmt.Errorf("invalid assembler syntax: %q (expected: att|intel)", s)
	}
}

// Config carries the two global toggles read at profile construction. It is a
// value: profiles built from different configs never share state.
type Config struct {
	Dialect         Dialect
	MarkDataRegions bool
}

// DefaultConfig returns AT&T syntax with jump-table data regions unmarked.
func DefaultConfig() Config {
	return Config{Dialect: DialectATT}
}
