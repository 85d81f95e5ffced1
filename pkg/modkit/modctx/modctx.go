// Package modctx provides the per-module context handed to each module at
// phase entry: an immutable view carrying the module name, a cancellation
// context scoped to this run, a configuration lookup, and DB acquisition.
package modctx

import (
	"context"
	"fmt"
)

// ConfigProvider is the single interface the core consumes for
// configuration; it never parses files itself (that lives in the
// out-of-scope CLI/figment layer).
type ConfigProvider interface {
	ModuleConfig(moduleName string) (any, bool)
}

// ConfigDecoder turns the provider's opaque value into a typed struct. No
// default decoder is supplied: when the provider has an entry for the
// module and the decoder is nil, ModuleConfig returns an error.
type ConfigDecoder func(raw any, out any) error

// DBAcquirer looks up the DB handle for a module. db may be nil if the
// module has no database configuration; dbRequired must never return a nil
// handle without an error.
type DBAcquirer interface {
	DB(ctx context.Context, module string) (any, error)
	DBRequired(ctx context.Context, module string) (any, error)
}

// ModuleCtx is created fresh at phase entry and discarded at phase exit; it
// is never shared across modules.
type ModuleCtx struct {
	ctx     context.Context
	name    string
	cfg     ConfigProvider
	decode  ConfigDecoder
	dbs     DBAcquirer
}

// New builds a ModuleCtx for name that carries parent itself as its
// context; no separate child context is derived.
func New(parent context.Context, name string, cfg ConfigProvider, decode ConfigDecoder, dbs DBAcquirer) *ModuleCtx {
	return &ModuleCtx{ctx: parent, name: name, cfg: cfg, decode: decode, dbs: dbs}
}

// Context returns the module-scoped cancellation context.
func (m *ModuleCtx) Context() context.Context { return m.ctx }

// Name returns the module's registered name.
func (m *ModuleCtx) Name() string { return m.name }

// ModuleConfig decodes this module's configuration into out. It returns
// false (no error) when the provider has no entry for this module.
func (m *ModuleCtx) ModuleConfig(out any) (bool, error) {
	if m.cfg == nil {
		return false, nil
	}
	raw, ok := m.cfg.ModuleConfig(m.name)
	if !ok {
		return false, nil
	}
	if m.decode == nil {
		return false, fmt.Errorf("modctx: module %q has configuration but no decoder was supplied", m.name)
	}
	if err := m.decode(raw, out); err != nil {
		return false, fmt.Errorf("modctx: decoding config for module %q: %w", m.name, err)
	}
	return true, nil
}

// DB returns this module's database handle, or nil if it has none
// configured.
func (m *ModuleCtx) DB(ctx context.Context) (any, error) {
	if m.dbs == nil {
		return nil, nil
	}
	return m.dbs.DB(ctx, m.name)
}

// DBRequired returns this module's database handle, failing if none is
// configured.
func (m *ModuleCtx) DBRequired(ctx context.Context) (any, error) {
	if m.dbs == nil {
		return nil, fmt.Errorf("modctx: module %q requires a database but no DB acquirer was configured", m.name)
	}
	return m.dbs.DBRequired(ctx, m.name)
}
