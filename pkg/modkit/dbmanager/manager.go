// Package dbmanager resolves a module's database configuration against the
// server-level registry, builds a pooled connection handle for it, and
// caches that handle for the lifetime of the process.
package dbmanager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hyperspot-run/modkit/pkg/metrics"
	"github.com/hyperspot-run/modkit/pkg/modkit/dbconf"
	"github.com/hyperspot-run/modkit/pkg/modkit/modkiterrors"
)

// ConfigProvider fetches a module's own (unmerged) database configuration.
// The bool return reports whether the module declared one at all; a module
// with no db config cannot call Get and will receive InvalidConfigError.
type ConfigProvider func(module string) (dbconf.DbConnConfig, bool, error)

// Manager resolves, builds and caches one *Handle per module name.
type Manager struct {
	servers  *dbconf.GlobalDatabaseConfig
	homeDir  string
	provider ConfigProvider
	log      zerolog.Logger
	metrics  *metrics.Metrics

	cache sync.Map // module name -> *cacheEntry
}

// WithMetrics attaches the collector Get/Close report the open handle count
// against. Returns m so it can be chained onto New.
func (m *Manager) WithMetrics(mx *metrics.Metrics) *Manager {
	m.metrics = mx
	return m
}

// openHandleCount walks the cache and reports the gauge; called after every
// build and close so it never drifts from the cache's actual contents.
func (m *Manager) openHandleCount() int {
	n := 0
	m.cache.Range(func(_, v any) bool {
		if v.(*cacheEntry).handle != nil {
			n++
		}
		return true
	})
	return n
}

type cacheEntry struct {
	once   sync.Once
	handle *Handle
	err    error
}

// New constructs a Manager. homeDir is the root directory SQLite file/path
// fields resolve beneath (one subdirectory per module name).
func New(servers *dbconf.GlobalDatabaseConfig, homeDir string, provider ConfigProvider, log zerolog.Logger) *Manager {
	return &Manager{servers: servers, homeDir: homeDir, provider: provider, log: log}
}

// Get returns the cached handle for module, building it on first use.
//
// Concurrent first calls for the same module race into the same cacheEntry
// (inserted via LoadOrStore, built exactly once via sync.Once); a build
// failure evicts the entry via CompareAndDelete so the next caller retries
// from scratch instead of being stuck with a cached error. Callers that
// joined the in-flight build all receive its result, a failure included;
// only callers arriving after the eviction build again.
func (m *Manager) Get(ctx context.Context, module string) (*Handle, error) {
	v, _ := m.cache.LoadOrStore(module, &cacheEntry{})
	e := v.(*cacheEntry)

	e.once.Do(func() {
		e.handle, e.err = m.build(ctx, module)
	})

	if e.err != nil {
		m.cache.CompareAndDelete(module, e)
		return nil, e.err
	}
	m.metrics.SetDbHandlesOpen(m.openHandleCount())
	return e.handle, nil
}

// Close closes every handle built so far.
func (m *Manager) Close() error {
	var firstErr error
	m.cache.Range(func(_, v any) bool {
		e := v.(*cacheEntry)
		if e.handle != nil {
			if err := e.handle.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			e.handle = nil
		}
		return true
	})
	m.metrics.SetDbHandlesOpen(m.openHandleCount())
	return firstErr
}

func (m *Manager) build(ctx context.Context, module string) (*Handle, error) {
	moduleCfg, ok, err := m.provider(module)
	if err != nil {
		return nil, fmt.Errorf("loading db config for module %q: %w", module, err)
	}
	if !ok {
		return nil, modkiterrors.NewInvalidConfigError(fmt.Sprintf("module %q declares no database configuration", module))
	}

	resolved := moduleCfg
	if moduleCfg.Server != nil {
		server, found := m.servers.Servers[*moduleCfg.Server]
		if !found {
			return nil, modkiterrors.NewInvalidConfigError(fmt.Sprintf("module %q references unknown server %q", module, *moduleCfg.Server))
		}
		resolved = dbconf.MergeServerIntoModule(moduleCfg, server)
	}

	resolved, err = dbconf.ExpandConfig(resolved)
	if err != nil {
		return nil, fmt.Errorf("expanding db config for module %q: %w", module, err)
	}

	if dbconf.IsSQLiteIdentity(resolved) {
		if err := m.finalizeSQLitePath(module, &resolved); err != nil {
			return nil, err
		}
	}

	handle, err := BuildHandle(resolved)
	if err != nil {
		m.log.Error().Err(err).Str("module", module).Msg("db handle build failed")
		return nil, fmt.Errorf("building db handle for module %q: %w", module, err)
	}

	m.log.Info().
		Str("module", module).
		Str("engine", string(handle.Engine())).
		Str("dsn", handle.RedactedDSN()).
		Msg("db handle ready")

	return handle, nil
}

// finalizeSQLitePath resolves File/Path fields relative to
// <home_dir>/<module_name>/, and ensures that directory exists when
// auto_provision is enabled (the default). When auto_provision is disabled
// and the directory is missing, it fails fast with a PathNotFoundError
// instead of deferring to the driver's own open error. An absolute Path is
// kept as-is; a relative Path or a bare File name is joined under the
// module's namespace directory.
func (m *Manager) finalizeSQLitePath(module string, cfg *dbconf.DbConnConfig) error {
	moduleDir := filepath.Join(m.homeDir, module)

	var resolved string
	switch {
	case cfg.Path != nil && filepath.IsAbs(*cfg.Path):
		resolved = *cfg.Path
	case cfg.Path != nil:
		resolved = filepath.Join(moduleDir, *cfg.Path)
	case cfg.File != nil:
		resolved = filepath.Join(moduleDir, *cfg.File)
	case cfg.DSN != nil:
		// A sqlite-prefixed DSN names its own database; buildSQLiteDSN uses
		// it as given.
		return nil
	default:
		// No file/path and no sqlite-prefixed DSN base: default to
		// "<module>.db" under the module's namespace directory.
		resolved = filepath.Join(moduleDir, module+".db")
	}

	if resolved != ":memory:" {
		dir := filepath.Dir(resolved)
		if m.servers.AutoProvisionOrDefault() {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return modkiterrors.NewInvalidConfigError(fmt.Sprintf("provisioning sqlite directory for module %q: %v", module, err))
			}
		} else if _, err := os.Stat(dir); err != nil {
			if os.IsNotExist(err) {
				return modkiterrors.NewPathNotFoundError(dir)
			}
			return modkiterrors.NewInvalidConfigError(fmt.Sprintf("checking sqlite directory for module %q: %v", module, err))
		}
	}

	cfg.Path = &resolved
	cfg.File = nil
	return nil
}
