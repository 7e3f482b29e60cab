package mc

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads a unit from a TOML file. Functions and data default to global
// linkage; the unit name defaults to the file name without extensions.
func Load(path string) (*Unit, error) {
	var u Unit
	meta, err := toml.DecodeFile(path, &u)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if err := checkUndecoded(meta); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if strings.TrimSpace(u.Name) == "" {
		u.Name = UnitNameFromPath(path)
	}
	u.applyDefaults()
	return &u, nil
}

// Decode parses a unit from TOML text.
func Decode(text string) (*Unit, error) {
	var u Unit
	meta, err := toml.Decode(text, &u)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	if err := checkUndecoded(meta); err != nil {
		return nil, err
	}
	u.applyDefaults()
	return &u, nil
}

func checkUndecoded(meta toml.MetaData) error {
	undecoded := meta.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	keys := make([]string, len(undecoded))
	for i, k := range undecoded {
		keys[i] = k.String()
	}
	return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
}

// UnitNameFromPath strips the directory and every extension: "a/b.mc.toml" -> "b".
func UnitNameFromPath(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base
}

func (u *Unit) applyDefaults() {
	for _, f := range u.Funcs {
		if f.Linkage == "" {
			f.Linkage = LinkageGlobal
		}
	}
	for _, d := range u.Data {
		if d.Linkage == "" {
			d.Linkage = LinkageGlobal
		}
	}
}
