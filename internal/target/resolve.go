package target

import (
	"context"
	"fmt"
	"io"

	"mcemit/internal/asminfo"
	"mcemit/internal/codegen"
	"mcemit/internal/mc"
	"mcemit/internal/triple"
)

// Resolver turns platform identifiers into profiles and drivers. Profiles
// are shared per bucket through the cache; drivers are fresh per call.
type Resolver struct {
	reg   *Registry
	cache *asminfo.Cache
}

// NewResolver binds reg, or the default registry when nil, to cfg.
func NewResolver(reg *Registry, cfg asminfo.Config) *Resolver {
	if reg == nil {
		reg = Default()
	}
	return &Resolver{reg: reg, cache: asminfo.NewCache(cfg)}
}

// Config returns the global configuration profiles are built from.
func (r *Resolver) Config() asminfo.Config { return r.cache.Config() }

// Targets lists the registered patterns.
func (r *Resolver) Targets() []string { return r.reg.Patterns() }

// Profile resolves id to its convention profile only.
func (r *Resolver) Profile(id string) (*asminfo.Profile, error) {
	t, err := triple.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnknownTarget, err)
	}
	if _, _, err := r.reg.Lookup(t); err != nil {
		return nil, err
	}
	p, err := r.cache.Get(t)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnknownTarget, err)
	}
	return p, nil
}

// Resolve returns the profile for id and an idle driver bound to it.
func (r *Resolver) Resolve(id string) (*asminfo.Profile, *codegen.Driver, error) {
	t, err := triple.Parse(id)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrUnknownTarget, err)
	}
	_, factory, err := r.reg.Lookup(t)
	if err != nil {
		return nil, nil, err
	}
	p, err := r.cache.Get(t)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrUnknownTarget, err)
	}
	return p, factory(p), nil
}

// Emit resolves id, configures a driver with opts and emits u to sink.
// Resolution and configuration errors are reported before sink is touched.
func (r *Resolver) Emit(ctx context.Context, id string, u *mc.Unit, opts codegen.Options, sink io.Writer) error {
	_, d, err := r.Resolve(id)
	if err != nil {
		return err
	}
	return r.EmitWith(ctx, d, u, opts, sink)
}

// EmitWith is Emit with an already resolved driver.
func (r *Resolver) EmitWith(ctx context.Context, d *codegen.Driver, u *mc.Unit, opts codegen.Options, sink io.Writer) error {
	if err := d.Configure(opts); err != nil {
		return err
	}
	return d.Emit(ctx, u, sink)
}
