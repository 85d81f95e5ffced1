// Package advisorylock provides cross-database advisory locking with
// namespacing and retry/backoff policy. Postgres and MySQL use native
// session-scoped database locks held on a single pinned connection; SQLite
// (or any engine without native support) falls back to create-new-semantics
// lock files on disk.
package advisorylock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/time/rate"

	"github.com/hyperspot-run/modkit/pkg/metrics"
	"github.com/hyperspot-run/modkit/pkg/modkit/dbmanager"
	"github.com/hyperspot-run/modkit/pkg/modkit/modkiterrors"
)

// maxRetryAttemptsPerSecond caps how often TryLock re-polls the lock even if
// a caller configures a very small InitialBackoff, a secondary ceiling
// alongside the explicit MaxAttempts/MaxWait fields.
const maxRetryAttemptsPerSecond = 20

// mysqlBlockingTimeoutSeconds approximates "block indefinitely" for
// MySQL's GET_LOCK, which has no true infinite timeout.
const mysqlBlockingTimeoutSeconds = 31536000

// Config tunes a TryLock retry loop.
type Config struct {
	MaxWait           *time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	JitterPct         float64
	MaxAttempts       *int
}

// DefaultConfig mirrors the reference retry policy: 30s max wait, 50ms
// initial backoff doubling(ish) at 1.5x up to a 5s cap, ±20% jitter.
func DefaultConfig() Config {
	maxWait := 30 * time.Second
	return Config{
		MaxWait:           &maxWait,
		InitialBackoff:    50 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 1.5,
		JitterPct:         0.2,
	}
}

// Guard represents a held lock. Release is idempotent; a held Guard that is
// never released leaks the underlying connection or lock file, so callers
// should defer Release immediately after acquisition.
type Guard struct {
	namespacedKey string
	mu            sync.Mutex
	released      bool
	releaseFn     func() error
}

// Key returns the namespaced "{module}:{key}" identifier.
func (g *Guard) Key() string { return g.namespacedKey }

// Release deterministically releases the lock. Safe to call more than once.
func (g *Guard) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return nil
	}
	g.released = true
	if g.releaseFn == nil {
		return nil
	}
	return g.releaseFn()
}

// Manager acquires and releases advisory locks for a single database
// handle's engine.
type Manager struct {
	handle  *dbmanager.Handle
	baseDir string
	metrics *metrics.Metrics
}

// WithMetrics attaches the collectors Lock/TryLock report wait duration and
// contention against. Returns m so it can be chained onto New.
func (m *Manager) WithMetrics(mx *metrics.Metrics) *Manager {
	m.metrics = mx
	return m
}

// New constructs a Manager. baseDir is the root directory file-fallback
// locks are written under (one subdirectory per DSN hash); an empty baseDir
// falls back to DefaultBaseDir().
func New(handle *dbmanager.Handle, baseDir string) *Manager {
	if baseDir == "" {
		baseDir = DefaultBaseDir()
	}
	return &Manager{handle: handle, baseDir: baseDir}
}

// DefaultBaseDir returns the reference lock-file root: the OS cache
// directory (falling back to the temp directory when unavailable) joined
// with "modkit/locks", so file-fallback locks land at
// "<cache_or_temp>/modkit/locks/<hex-dsn-hash>/<hex-key-hash>.lock".
func DefaultBaseDir() string {
	dir, err := os.UserCacheDir()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "modkit", "locks")
}

// Lock acquires "{module}:{key}", blocking for Postgres/MySQL via their
// native advisory lock primitives. For SQLite/file-fallback this is a
// single create-new attempt: it returns AlreadyHeld immediately rather than
// blocking, matching the reference implementation's file-lock semantics.
func (m *Manager) Lock(ctx context.Context, module, key string) (*Guard, error) {
	namespacedKey := module + ":" + key
	start := time.Now()
	var guard *Guard
	var err error
	switch m.handle.Engine() {
	case dbmanager.EnginePostgres:
		guard, err = m.lockPG(ctx, namespacedKey, true)
	case dbmanager.EngineMySQL:
		guard, err = m.lockMySQL(ctx, namespacedKey, mysqlBlockingTimeoutSeconds)
	default:
		guard, err = m.lockFile(namespacedKey)
	}
	m.metrics.ObserveLockWait(module, time.Since(start), errors.Is(err, modkiterrors.ErrAlreadyHeld))
	return guard, err
}

// TryLock retries acquisition with exponential backoff and deterministic,
// key-derived jitter (not a random source, to avoid a dependency and to
// keep behavior reproducible) until cfg.MaxWait elapses or cfg.MaxAttempts
// is exhausted. A nil Guard with a nil error means acquisition timed out;
// it is not an error condition.
func (m *Manager) TryLock(ctx context.Context, module, key string, cfg Config) (*Guard, error) {
	namespacedKey := module + ":" + key
	start := time.Now()
	attempt := 0
	backoff := cfg.InitialBackoff
	limiter := rate.NewLimiter(rate.Limit(maxRetryAttemptsPerSecond), 1)

	for {
		attempt++
		if cfg.MaxAttempts != nil && attempt > *cfg.MaxAttempts {
			m.metrics.ObserveLockWait(module, time.Since(start), attempt > 1)
			return nil, nil
		}
		if cfg.MaxWait != nil && time.Since(start) >= *cfg.MaxWait {
			m.metrics.ObserveLockWait(module, time.Since(start), attempt > 1)
			return nil, nil
		}
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		guard, err := m.tryAcquireOnce(ctx, namespacedKey)
		if err != nil {
			return nil, err
		}
		if guard != nil {
			m.metrics.ObserveLockWait(module, time.Since(start), attempt > 1)
			return guard, nil
		}

		remaining := backoff
		if cfg.MaxWait != nil {
			remaining = *cfg.MaxWait - time.Since(start)
			if remaining <= 0 {
				m.metrics.ObserveLockWait(module, time.Since(start), true)
				return nil, nil
			}
		}

		sleepFor := backoff
		if remaining < sleepFor {
			sleepFor = remaining
		}
		sleepFor = time.Duration(float64(sleepFor) * jitterFactor(namespacedKey, cfg.JitterPct))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleepFor):
		}

		next := time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if next > cfg.MaxBackoff {
			next = cfg.MaxBackoff
		}
		backoff = next
	}
}

// Acquirer adapts Manager to registry.LockAcquirer (ctx, module, key) ->
// (release func(), err error) by calling Lock: blocking for Postgres/MySQL
// and a single-shot file attempt for SQLite.
func (m *Manager) Acquirer() func(ctx context.Context, module, key string) (func(), error) {
	return func(ctx context.Context, module, key string) (func(), error) {
		guard, err := m.Lock(ctx, module, key)
		if err != nil {
			return nil, err
		}
		return func() { _ = guard.Release() }, nil
	}
}

func (m *Manager) tryAcquireOnce(ctx context.Context, namespacedKey string) (*Guard, error) {
	switch m.handle.Engine() {
	case dbmanager.EnginePostgres:
		return m.tryLockPG(ctx, namespacedKey)
	case dbmanager.EngineMySQL:
		return m.tryLockMySQL(ctx, namespacedKey)
	default:
		return m.tryLockFile(namespacedKey)
	}
}

func jitterFactor(namespacedKey string, pct float64) float64 {
	if pct < 0 {
		pct = 0
	}
	if pct > 1 {
		pct = 1
	}
	lo := 1.0 - pct
	hi := 1.0 + pct
	h := xxhash.Sum64String(namespacedKey)
	frac := float64(h) / float64(math.MaxUint64)
	return lo + frac*(hi-lo)
}

func keyHash(namespacedKey string) int64 {
	return int64(xxhash.Sum64String(namespacedKey))
}

// --- Postgres ---

func (m *Manager) lockPG(ctx context.Context, namespacedKey string, _ bool) (*Guard, error) {
	conn, err := m.handle.DB().Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring pg connection for advisory lock: %w", err)
	}
	hash := keyHash(namespacedKey)
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", hash); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pg_advisory_lock: %w", err)
	}
	return newConnGuard(namespacedKey, conn, "SELECT pg_advisory_unlock($1)", hash), nil
}

func (m *Manager) tryLockPG(ctx context.Context, namespacedKey string) (*Guard, error) {
	conn, err := m.handle.DB().Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring pg connection for advisory lock: %w", err)
	}
	hash := keyHash(namespacedKey)
	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", hash).Scan(&ok); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pg_try_advisory_lock: %w", err)
	}
	if !ok {
		conn.Close()
		return nil, nil
	}
	return newConnGuard(namespacedKey, conn, "SELECT pg_advisory_unlock($1)", hash), nil
}

func newConnGuard(namespacedKey string, conn *sql.Conn, unlockSQL string, hash int64) *Guard {
	return &Guard{
		namespacedKey: namespacedKey,
		releaseFn: func() error {
			defer conn.Close()
			_, err := conn.ExecContext(context.Background(), unlockSQL, hash)
			return err
		},
	}
}

// --- MySQL ---

func (m *Manager) lockMySQL(ctx context.Context, namespacedKey string, timeoutSeconds int) (*Guard, error) {
	conn, err := m.handle.DB().Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring mysql connection for advisory lock: %w", err)
	}
	var ok sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", namespacedKey, timeoutSeconds).Scan(&ok); err != nil {
		conn.Close()
		return nil, fmt.Errorf("GET_LOCK: %w", err)
	}
	if !ok.Valid || ok.Int64 != 1 {
		conn.Close()
		return nil, modkiterrors.NewAlreadyHeldError(namespacedKey)
	}
	return newMySQLGuard(namespacedKey, conn), nil
}

func (m *Manager) tryLockMySQL(ctx context.Context, namespacedKey string) (*Guard, error) {
	conn, err := m.handle.DB().Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring mysql connection for advisory lock: %w", err)
	}
	var ok sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", namespacedKey).Scan(&ok); err != nil {
		conn.Close()
		return nil, fmt.Errorf("GET_LOCK: %w", err)
	}
	if !ok.Valid || ok.Int64 != 1 {
		conn.Close()
		return nil, nil
	}
	return newMySQLGuard(namespacedKey, conn), nil
}

func newMySQLGuard(namespacedKey string, conn *sql.Conn) *Guard {
	return &Guard{
		namespacedKey: namespacedKey,
		releaseFn: func() error {
			defer conn.Close()
			var released sql.NullInt64
			return conn.QueryRowContext(context.Background(), "SELECT RELEASE_LOCK(?)", namespacedKey).Scan(&released)
		},
	}
}

// --- File fallback (SQLite / no server) ---

func (m *Manager) lockFilePath(namespacedKey string) string {
	dsnHash := fmt.Sprintf("%x", xxhash.Sum64String(m.handle.DSNForLockNamespace()))
	keyHash := fmt.Sprintf("%x", xxhash.Sum64String(namespacedKey))
	return filepath.Join(m.baseDir, dsnHash, keyHash+".lock")
}

func (m *Manager) lockFile(namespacedKey string) (*Guard, error) {
	path := m.lockFilePath(namespacedKey)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("provisioning lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, modkiterrors.NewAlreadyHeldError(namespacedKey)
		}
		return nil, fmt.Errorf("creating lock file: %w", err)
	}
	writeLockFileDebugInfo(f, namespacedKey)

	return &Guard{
		namespacedKey: namespacedKey,
		releaseFn: func() error {
			f.Close()
			return os.Remove(path)
		},
	}, nil
}

func (m *Manager) tryLockFile(namespacedKey string) (*Guard, error) {
	guard, err := m.lockFile(namespacedKey)
	if err != nil {
		if errors.Is(err, modkiterrors.ErrAlreadyHeld) {
			return nil, nil
		}
		return nil, err
	}
	return guard, nil
}

func writeLockFileDebugInfo(f *os.File, namespacedKey string) {
	fmt.Fprintf(f, "PID: %d\nKey: %s\nTimestamp: %s\n", os.Getpid(), namespacedKey, time.Now().UTC().Format(time.RFC3339))
}
