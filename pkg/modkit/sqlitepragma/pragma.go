// Package sqlitepragma validates the SQLite PRAGMA whitelist carried in a
// database configuration's params map, and applies the in-memory-database
// overrides the reference implementation's sqlite_pragma module specifies.
package sqlitepragma

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hyperspot-run/modkit/pkg/modkit/modkiterrors"
)

var journalModes = map[string]bool{
	"DELETE": true, "WAL": true, "MEMORY": true, "TRUNCATE": true, "PERSIST": true, "OFF": true,
}

var synchronousModes = map[string]bool{
	"OFF": true, "NORMAL": true, "FULL": true, "EXTRA": true,
}

// Resolved is the validated, normalized set of PRAGMA statements to issue
// against a freshly opened SQLite connection.
type Resolved struct {
	JournalMode string // empty if unset
	Synchronous string // empty if unset
	BusyTimeout *int   // nil if unset
}

// Validate checks params against the whitelist
// (journal_mode/synchronous/busy_timeout/wal) and returns the resolved
// pragma set, or a typed error naming the first offending key.
//
// In-memory databases are forced to DELETE journal mode and must not carry
// busy_timeout; these overrides only apply when the caller did not specify
// the corresponding key explicitly.
func Validate(params map[string]string, inMemory bool) (Resolved, error) {
	var out Resolved
	userSetJournalMode := false
	userSetBusyTimeout := false

	for key, value := range params {
		switch strings.ToLower(key) {
		case "journal_mode":
			v := strings.ToUpper(strings.TrimSpace(value))
			if !journalModes[v] {
				return out, modkiterrors.NewConfigConflictError(fmt.Sprintf("unknown journal_mode: %s", value))
			}
			out.JournalMode = v
			userSetJournalMode = true
		case "synchronous":
			v := strings.ToUpper(strings.TrimSpace(value))
			if !synchronousModes[v] {
				return out, modkiterrors.NewConfigConflictError(fmt.Sprintf("unknown synchronous mode: %s", value))
			}
			out.Synchronous = v
		case "busy_timeout":
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return out, modkiterrors.NewConfigConflictError(fmt.Sprintf("busy_timeout must be a non-negative integer, got %q", value))
			}
			out.BusyTimeout = &n
			userSetBusyTimeout = true
		case "wal":
			b, err := parseBool(value)
			if err != nil {
				return out, modkiterrors.NewConfigConflictError(fmt.Sprintf("wal must be true/false/1/0, got %q", value))
			}
			if userSetJournalMode {
				// journal_mode was specified explicitly; the legacy alias
				// never overrides an explicit value.
				continue
			}
			if b {
				out.JournalMode = "WAL"
			} else {
				out.JournalMode = "DELETE"
			}
		default:
			return out, newUnknownPragmaError(key)
		}
	}

	if inMemory {
		if !userSetJournalMode {
			out.JournalMode = "DELETE"
		}
		if !userSetBusyTimeout {
			out.BusyTimeout = nil
		}
	}

	return out, nil
}

func newUnknownPragmaError(key string) error {
	return modkiterrors.NewConfigConflictError(fmt.Sprintf("unknown sqlite pragma: %s", key))
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("not a bool: %s", s)
	}
}

// Statements renders the resolved pragmas as the SQL statements to execute
// against a new SQLite connection, in a stable order.
func (r Resolved) Statements() []string {
	var stmts []string
	if r.JournalMode != "" {
		stmts = append(stmts, fmt.Sprintf("PRAGMA journal_mode = %s;", r.JournalMode))
	}
	if r.Synchronous != "" {
		stmts = append(stmts, fmt.Sprintf("PRAGMA synchronous = %s;", r.Synchronous))
	}
	if r.BusyTimeout != nil {
		stmts = append(stmts, fmt.Sprintf("PRAGMA busy_timeout = %d;", *r.BusyTimeout))
	}
	return stmts
}
