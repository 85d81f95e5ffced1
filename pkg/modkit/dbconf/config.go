// Package dbconf defines the layered per-module database configuration
// record and the merge/precedence rules used to resolve it against a
// global server entry, grounded on the reference implementation's
// DbConnConfig/GlobalDatabaseConfig/PoolCfg split.
package dbconf

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// PoolCfg tunes the underlying sqlx/database-sql pool. Fields are pointers
// so "unset" is distinguishable from "zero" during merges.
type PoolCfg struct {
	MaxConns          *int
	MinConns          *int
	AcquireTimeout    *time.Duration
	IdleTimeout       *time.Duration
	MaxLifetime       *time.Duration
	TestBeforeAcquire *bool
}

// DbConnConfig is one layer of database configuration: either a module's
// own settings, or a global server entry a module can reference via Server.
type DbConnConfig struct {
	Server *string

	DSN      *string
	Host     *string
	Port     *int
	User     *string
	Password *string
	DBName   *string
	Params   map[string]string
	Pool     *PoolCfg

	// SQLite-only, module-relative (File) or absolute (Path). Never
	// inherited from a server entry.
	File *string
	Path *string
}

// GlobalDatabaseConfig holds the named server entries modules can reference,
// plus the auto_provision default for SQLite parent-directory creation.
type GlobalDatabaseConfig struct {
	Servers       map[string]DbConnConfig
	AutoProvision *bool
}

// AutoProvisionOrDefault returns the configured auto_provision value,
// defaulting to true for backward compatibility.
func (g *GlobalDatabaseConfig) AutoProvisionOrDefault() bool {
	if g == nil || g.AutoProvision == nil {
		return true
	}
	return *g.AutoProvision
}

// MergeServerIntoModule layers server into module: module fields win,
// missing module fields fall back to the server's. DSN is all-or-nothing
// (module's DSN, if set, wins outright); params are merged key-by-key with
// module entries taking precedence; pool is module-or-server, never
// partially merged; file/path are module-only and never touched here.
func MergeServerIntoModule(module, server DbConnConfig) DbConnConfig {
	out := module

	if out.DSN == nil {
		out.DSN = server.DSN
	}
	if out.Host == nil {
		out.Host = server.Host
	}
	if out.Port == nil {
		out.Port = server.Port
	}
	if out.User == nil {
		out.User = server.User
	}
	if out.Password == nil {
		out.Password = server.Password
	}
	if out.DBName == nil {
		out.DBName = server.DBName
	}

	switch {
	case out.Params != nil && server.Params != nil:
		merged := make(map[string]string, len(server.Params)+len(out.Params))
		for k, v := range server.Params {
			merged[k] = v
		}
		for k, v := range out.Params {
			merged[k] = v
		}
		out.Params = merged
	case out.Params == nil && server.Params != nil:
		out.Params = server.Params
	}

	if out.Pool == nil {
		out.Pool = server.Pool
	}

	return out
}

var envPlaceholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv expands every ${VAR} placeholder in s from the process
// environment. A missing variable is a hard error (the build must fail,
// not silently substitute an empty string).
func ExpandEnv(s string) (string, error) {
	var firstErr error
	out := envPlaceholder.ReplaceAllStringFunc(s, func(match string) string {
		name := envPlaceholder.FindStringSubmatch(match)[1]
		val, ok := os.LookupEnv(name)
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("environment variable %q is not set", name)
			}
			return match
		}
		return val
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// ExpandConfig expands ${VAR} placeholders in dsn, password, and every
// params value.
func ExpandConfig(cfg DbConnConfig) (DbConnConfig, error) {
	if cfg.DSN != nil {
		v, err := ExpandEnv(*cfg.DSN)
		if err != nil {
			return cfg, fmt.Errorf("expanding dsn: %w", err)
		}
		cfg.DSN = &v
	}
	if cfg.Password != nil {
		v, err := ExpandEnv(*cfg.Password)
		if err != nil {
			return cfg, fmt.Errorf("expanding password: %w", err)
		}
		cfg.Password = &v
	}
	if cfg.Params != nil {
		expanded := make(map[string]string, len(cfg.Params))
		for k, v := range cfg.Params {
			ev, err := ExpandEnv(v)
			if err != nil {
				return cfg, fmt.Errorf("expanding params[%s]: %w", k, err)
			}
			expanded[k] = ev
		}
		cfg.Params = expanded
	}
	return cfg, nil
}

// IsSQLiteIdentity reports whether cfg identifies a SQLite database, either
// via a "sqlite"-prefixed DSN or by setting File/Path.
func IsSQLiteIdentity(cfg DbConnConfig) bool {
	if cfg.DSN != nil && strings.HasPrefix(strings.ToLower(*cfg.DSN), "sqlite") {
		return true
	}
	return cfg.File != nil || cfg.Path != nil
}
