// Package target maps platform identifiers to convention profiles and
// emission drivers.
package target

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"mcemit/internal/asminfo"
	"mcemit/internal/codegen"
	"mcemit/internal/triple"
)

var (
	// ErrUnknownTarget reports an identifier no registration matches.
	ErrUnknownTarget = errors.New("unknown or unsupported target")
	// ErrDuplicateRegistration reports a second registration of one pattern.
	ErrDuplicateRegistration = errors.New("duplicate target registration")
)

// Factory builds a fresh driver for a resolved profile.
type Factory func(p *asminfo.Profile) *codegen.Driver

// Pattern is a registration key of the form arch[-vendor[-os[-env]]].
// Omitted and "*" components match anything.
type Pattern struct {
	Arch   triple.Arch
	Vendor string
	OS     triple.OS
	Env    triple.Environment

	text string
}

// ParsePattern parses a registration pattern. The architecture is required.
func ParsePattern(s string) (Pattern, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) > 4 {
		return Pattern{}, fmt.Errorf("pattern %q: too many components", s)
	}
	p := Pattern{Arch: triple.ParseArch(parts[0]), text: s}
	if p.Arch == triple.ArchUnknown {
		return Pattern{}, fmt.Errorf("pattern %q: unknown architecture %q", s, parts[0])
	}
	wild := func(i int) bool { return i >= len(parts) || parts[i] == "*" }
	if !wild(1) {
		p.Vendor = parts[1]
	}
	if !wild(2) {
		if p.OS = triple.ParseOS(parts[2]); p.OS == triple.OSUnknown {
			return Pattern{}, fmt.Errorf("pattern %q: unknown OS %q", s, parts[2])
		}
	}
	if !wild(3) {
		if p.Env = triple.ParseEnvironment(parts[3]); p.Env == triple.EnvUnknown {
			return Pattern{}, fmt.Errorf("pattern %q: unknown environment %q", s, parts[3])
		}
	}
	return p, nil
}

// Canonical spells the pattern with normalised names and explicit wildcards.
func (p Pattern) Canonical() string {
	part := func(set bool, s string) string {
		if !set {
			return "*"
		}
		return s
	}
	return strings.Join([]string{
		p.Arch.String(),
		part(p.Vendor != "", p.Vendor),
		part(p.OS != triple.OSUnknown, p.OS.String()),
		part(p.Env != triple.EnvUnknown, p.Env.String()),
	}, "-")
}

func (p Pattern) String() string { return p.text }

// Matches reports whether t falls under the pattern.
func (p Pattern) Matches(t triple.Triple) bool {
	if p.Arch != t.Arch {
		return false
	}
	if p.Vendor != "" && p.Vendor != t.Vendor {
		return false
	}
	switch {
	case p.OS == triple.OSUnknown:
	case p.OS == triple.OSDarwin:
		// darwin names the whole family: macosx and ios included.
		if !t.IsDarwin() {
			return false
		}
	case p.OS != t.OS:
		return false
	}
	return p.Env == triple.EnvUnknown || p.Env == t.Env
}

// Specificity ranks matching patterns; the highest wins.
func (p Pattern) Specificity() int {
	score := 4
	if p.OS != triple.OSUnknown {
		score += 2
	}
	if p.Env != triple.EnvUnknown {
		score++
	}
	return score
}

type entry struct {
	pattern Pattern
	factory Factory
}

// Registry holds target registrations. Registration happens during process
// initialisation; lookups may run concurrently afterwards.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
	seen    map[string]bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{seen: make(map[string]bool)}
}

// Register installs factory under pattern.
func (r *Registry) Register(pattern string, factory Factory) error {
	p, err := ParsePattern(pattern)
	if err != nil {
		return err
	}
	if factory == nil {
		return fmt.Errorf("pattern %q: nil factory", pattern)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := p.Canonical()
	if r.seen[key] {
		return fmt.Errorf("%w: %s", ErrDuplicateRegistration, key)
	}
	r.seen[key] = true
	r.entries = append(r.entries, entry{pattern: p, factory: factory})
	return nil
}

// MustRegister is Register that panics, for use from init.
func (r *Registry) MustRegister(pattern string, factory Factory) {
	if err := r.Register(pattern, factory); err != nil {
		panic(err)
	}
}

// Lookup returns the most specific registration matching t. Ties go to the
// earlier registration.
func (r *Registry) Lookup(t triple.Triple) (Pattern, Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	best := -1
	for i, e := range r.entries {
		if !e.pattern.Matches(t) {
			continue
		}
		if best < 0 || e.pattern.Specificity() > r.entries[best].pattern.Specificity() {
			best = i
		}
	}
	if best < 0 {
		return Pattern{}, nil, fmt.Errorf("%w: %s", ErrUnknownTarget, t)
	}
	return r.entries[best].pattern, r.entries[best].factory, nil
}

// Patterns lists the registered patterns in sorted order.
func (r *Registry) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.pattern.String()
	}
	sort.Strings(out)
	return out
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry populated at init.
func Default() *Registry { return defaultRegistry }

// Register installs a registration in the default registry.
func Register(pattern string, factory Factory) error {
	return defaultRegistry.Register(pattern, factory)
}

// MustRegister installs a registration in the default registry or panics.
func MustRegister(pattern string, factory Factory) {
	defaultRegistry.MustRegister(pattern, factory)
}
