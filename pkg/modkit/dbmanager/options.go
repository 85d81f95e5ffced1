package dbmanager

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/hyperspot-run/modkit/pkg/modkit/dbconf"
	"github.com/hyperspot-run/modkit/pkg/modkit/modkiterrors"
	"github.com/hyperspot-run/modkit/pkg/modkit/sqlitepragma"
)

// Engine names the detected backend.
type Engine string

const (
	EnginePostgres Engine = "postgres"
	EngineMySQL    Engine = "mysql"
	EngineSQLite   Engine = "sqlite"
)

// Handle is the opaque object exposed to modules: a pooled connection
// source plus the detected engine and both DSN forms.
//
// The original (non-redacted) DSN is retained internally for lock-file
// namespacing (advisory lock manager); only the redacted form is exposed for
// logging. This is the single documented policy resolving the "observed
// ambiguity" in the design notes: nothing in this codebase switches between
// the two depending on call site.
type Handle struct {
	engine      Engine
	db          *sqlx.DB
	originalDSN string
	redactedDSN string
}

func (h *Handle) Engine() Engine      { return h.engine }
func (h *Handle) DB() *sqlx.DB        { return h.db }
func (h *Handle) RedactedDSN() string { return h.redactedDSN }

// DSNForLockNamespace returns the original, non-redacted DSN. It exists
// solely so the advisory lock manager can derive a stable lock-file path
// hash; it must never be logged.
func (h *Handle) DSNForLockNamespace() string { return h.originalDSN }

// Close releases the underlying pool.
func (h *Handle) Close() error { return h.db.Close() }

// NewHandle constructs a Handle directly from an already-open pool. It is
// exported for callers (migration/advisory-lock tests, fixture modules)
// that need a Handle wrapping a sqlmock or in-process connection without
// going through BuildHandle's DSN assembly.
func NewHandle(engine Engine, db *sqlx.DB, dsn string) *Handle {
	return &Handle{engine: engine, db: db, originalDSN: dsn, redactedDSN: RedactCredentialsInDSN(dsn)}
}

func detectEngine(cfg dbconf.DbConnConfig) (Engine, error) {
	if dbconf.IsSQLiteIdentity(cfg) {
		return EngineSQLite, nil
	}
	if cfg.DSN != nil {
		switch {
		case strings.HasPrefix(*cfg.DSN, "postgres://"), strings.HasPrefix(*cfg.DSN, "postgresql://"):
			return EnginePostgres, nil
		case strings.HasPrefix(*cfg.DSN, "mysql://"):
			return EngineMySQL, nil
		}
	}
	// No DSN prefix to go on: fields-only config defaults to postgres, the
	// reference stack's default server backend.
	return EnginePostgres, nil
}

// validateInvariants enforces the configuration invariants from the data
// model: SQLite identities cannot carry host/port; non-SQLite DSNs cannot
// carry file/path; file and path are mutually exclusive.
func validateInvariants(cfg dbconf.DbConnConfig, engine Engine) error {
	if cfg.File != nil && cfg.Path != nil {
		return modkiterrors.NewConfigConflictError("file and path are mutually exclusive")
	}
	if engine == EngineSQLite {
		if cfg.Host != nil || cfg.Port != nil {
			return modkiterrors.NewConfigConflictError("SQLite DSN cannot be used with host/port fields")
		}
	} else {
		if cfg.File != nil || cfg.Path != nil {
			return modkiterrors.NewConfigConflictError("file/path fields are only valid for SQLite")
		}
	}
	return nil
}

// BuildDSN assembles the engine-specific DSN string from the layered
// configuration: an explicit DSN base is preferred, with discrete fields and
// params layered on top per the precedence documented in dbconf.
func BuildDSN(cfg dbconf.DbConnConfig, engine Engine) (string, error) {
	switch engine {
	case EngineSQLite:
		return buildSQLiteDSN(cfg)
	case EngineMySQL:
		return buildMySQLDSN(cfg)
	default:
		return buildPostgresDSN(cfg)
	}
}

func buildSQLiteDSN(cfg dbconf.DbConnConfig) (string, error) {
	path := ":memory:"
	if cfg.Path != nil {
		path = *cfg.Path
	} else if cfg.DSN != nil {
		path = strings.TrimPrefix(*cfg.DSN, "sqlite:")
		path = strings.TrimPrefix(path, "file:")
	}

	q := url.Values{}
	for k, v := range cfg.Params {
		q.Set(k, v)
	}
	if len(q) == 0 {
		return path, nil
	}
	return path + "?" + q.Encode(), nil
}

func buildPostgresDSN(cfg dbconf.DbConnConfig) (string, error) {
	var base *url.URL
	var err error
	if cfg.DSN != nil {
		base, err = url.Parse(*cfg.DSN)
		if err != nil {
			return "", fmt.Errorf("parsing postgres dsn: %w", err)
		}
	} else {
		base = &url.URL{Scheme: "postgres"}
	}

	if cfg.Host != nil || cfg.Port != nil {
		host := base.Hostname()
		if cfg.Host != nil {
			host = *cfg.Host
		}
		port := base.Port()
		if cfg.Port != nil {
			port = strconv.Itoa(*cfg.Port)
		}
		if port != "" {
			base.Host = host + ":" + port
		} else {
			base.Host = host
		}
	}
	if cfg.User != nil || cfg.Password != nil {
		user := base.User.Username()
		pass, _ := base.User.Password()
		if cfg.User != nil {
			user = *cfg.User
		}
		if cfg.Password != nil {
			pass = *cfg.Password
		}
		base.User = url.UserPassword(user, pass)
	}
	if cfg.DBName != nil {
		base.Path = "/" + strings.TrimPrefix(*cfg.DBName, "/")
	}

	q := base.Query()
	for k, v := range cfg.Params {
		q.Set(k, v)
	}
	base.RawQuery = q.Encode()

	return base.String(), nil
}

func buildMySQLDSN(cfg dbconf.DbConnConfig) (string, error) {
	var mcfg *mysql.Config
	if cfg.DSN != nil {
		parsed, err := mysql.ParseDSN(strings.TrimPrefix(*cfg.DSN, "mysql://"))
		if err != nil {
			return "", fmt.Errorf("parsing mysql dsn: %w", err)
		}
		mcfg = parsed
	} else {
		mcfg = mysql.NewConfig()
		mcfg.Net = "tcp"
	}

	if cfg.Host != nil || cfg.Port != nil {
		host := mcfg.Addr
		port := "3306"
		if idx := strings.LastIndex(host, ":"); idx >= 0 {
			host, port = host[:idx], host[idx+1:]
		}
		if cfg.Host != nil {
			host = *cfg.Host
		}
		if cfg.Port != nil {
			port = strconv.Itoa(*cfg.Port)
		}
		mcfg.Addr = host + ":" + port
	}
	if cfg.User != nil {
		mcfg.User = *cfg.User
	}
	if cfg.Password != nil {
		mcfg.Passwd = *cfg.Password
	}
	if cfg.DBName != nil {
		mcfg.DBName = *cfg.DBName
	}
	if mcfg.Params == nil {
		mcfg.Params = map[string]string{}
	}
	for k, v := range cfg.Params {
		mcfg.Params[k] = v
	}

	return mcfg.FormatDSN(), nil
}

var credentialPattern = regexp.MustCompile(`://([^:/@]+):([^@]*)@`)

// RedactCredentialsInDSN replaces the password portion of a DSN with ***.
// Non-URL DSNs (e.g. MySQL's "user:pass@tcp(host:port)/db") are also
// handled via the same colon-before-@ pattern.
func RedactCredentialsInDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	if credentialPattern.MatchString(dsn) {
		return credentialPattern.ReplaceAllString(dsn, "://$1:***@")
	}
	// MySQL-style "user:pass@tcp(...)": redact between first ':' and '@'.
	if at := strings.Index(dsn, "@"); at >= 0 {
		if colon := strings.Index(dsn[:at], ":"); colon >= 0 {
			return dsn[:colon+1] + "***" + dsn[at:]
		}
	}
	return dsn
}

func isSQLiteInMemory(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

func driverNameFor(engine Engine) string {
	switch engine {
	case EngineSQLite:
		return "sqlite3"
	case EngineMySQL:
		return "mysql"
	default:
		return "postgres"
	}
}

// BuildHandle validates, assembles and opens a database handle from a
// resolved (already server-merged, already env-expanded) configuration.
func BuildHandle(cfg dbconf.DbConnConfig) (*Handle, error) {
	engine, err := detectEngine(cfg)
	if err != nil {
		return nil, err
	}
	if err := validateInvariants(cfg, engine); err != nil {
		return nil, err
	}

	if engine == EngineSQLite {
		inMemory := (cfg.Path != nil && isSQLiteInMemory(*cfg.Path)) ||
			(cfg.DSN != nil && isSQLiteInMemory(*cfg.DSN)) ||
			(cfg.Path == nil && cfg.DSN == nil && cfg.File == nil)
		resolved, err := sqlitepragma.Validate(cfg.Params, inMemory)
		if err != nil {
			return nil, err
		}
		cfg.Params = pragmaParamsFromResolved(resolved)
	}

	dsn, err := BuildDSN(cfg, engine)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driverNameFor(engine), dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s connection: %w", engine, err)
	}

	applyPool(db, cfg.Pool)

	if engine == EngineSQLite {
		for _, stmt := range sqlitePragmaStatements(cfg.Params) {
			if _, err := db.Exec(stmt); err != nil {
				db.Close()
				return nil, fmt.Errorf("applying sqlite pragma %q: %w", stmt, err)
			}
		}
	}

	return &Handle{
		engine:      engine,
		db:          db,
		originalDSN: dsn,
		redactedDSN: RedactCredentialsInDSN(dsn),
	}, nil
}

func applyPool(db *sqlx.DB, pool *dbconf.PoolCfg) {
	if pool == nil {
		db.SetMaxOpenConns(10)
		return
	}
	if pool.MaxConns != nil {
		db.SetMaxOpenConns(*pool.MaxConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if pool.MinConns != nil {
		db.SetMaxIdleConns(*pool.MinConns)
	}
	if pool.MaxLifetime != nil {
		db.SetConnMaxLifetime(*pool.MaxLifetime)
	}
	if pool.IdleTimeout != nil {
		db.SetConnMaxIdleTime(*pool.IdleTimeout)
	}
}

// pragmaParamsFromResolved re-serializes a Resolved pragma set back into the
// params map so BuildDSN can still render it into SQLite's query-string
// pragma mechanism for connections opened fresh by the pool, in addition to
// the immediate Exec pass above.
func pragmaParamsFromResolved(r sqlitepragma.Resolved) map[string]string {
	out := map[string]string{}
	if r.JournalMode != "" {
		out["_journal_mode"] = r.JournalMode
	}
	if r.Synchronous != "" {
		out["_synchronous"] = r.Synchronous
	}
	if r.BusyTimeout != nil {
		out["_busy_timeout"] = strconv.Itoa(*r.BusyTimeout)
	}
	return out
}

func sqlitePragmaStatements(params map[string]string) []string {
	var stmts []string
	if v, ok := params["_journal_mode"]; ok {
		stmts = append(stmts, "PRAGMA journal_mode = "+v+";")
	}
	if v, ok := params["_synchronous"]; ok {
		stmts = append(stmts, "PRAGMA synchronous = "+v+";")
	}
	if v, ok := params["_busy_timeout"]; ok {
		stmts = append(stmts, "PRAGMA busy_timeout = "+v+";")
	}
	return stmts
}
