package odata

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/hyperspot-run/modkit/pkg/modkit/modkiterrors"
)

// LimitConfig bounds the page size a caller may request.
type LimitConfig struct {
	Default int
	Max     int
}

// ClampLimit resolves a requested limit against cfg: nil defaults to
// cfg.Default; zero or negative is raised to 1; anything above cfg.Max is
// capped.
func ClampLimit(requested *int, cfg LimitConfig) int {
	if requested == nil {
		return cfg.Default
	}
	n := *requested
	if n <= 0 {
		n = 1
	}
	if cfg.Max > 0 && n > cfg.Max {
		n = cfg.Max
	}
	return n
}

// Query is the client-supplied pagination/filter/order request.
type Query struct {
	Filter     Expr
	FilterHash string
	Order      string // signed tokens, e.g. "+name,-created_at"; ignored if Cursor is set
	Cursor     string
	Limit      *int
}

// Page is one page of results plus continuation cursors.
type Page[T any] struct {
	Items       []T
	HasMore     bool
	NextCursor  *string
	PrevCursor  *string
	Effective   OrderSpec
}

// Scanner reads one row of type T from rows.
type Scanner[T any] func(rows *sqlx.Rows) (T, error)

// PaginateWithOData executes a keyset-paginated, filtered, ordered query.
// baseSQL must be a SELECT without a WHERE/ORDER BY/LIMIT clause (e.g.
// "SELECT id, name, created_at FROM orders"); this function appends all
// three. fm whitelists every field usable in q.Filter/q.Order/cursor keys;
// tiebreaker (typically the primary key) is appended to the order if the
// caller didn't name it, guaranteeing a total order for keyset pagination.
func PaginateWithOData[T any](
	ctx context.Context,
	db *sqlx.DB,
	baseSQL string,
	baseArgs []any,
	q Query,
	fm FieldMap,
	tiebreaker string,
	limitCfg LimitConfig,
	scan Scanner[T],
) (*Page[T], error) {
	limit := ClampLimit(q.Limit, limitCfg)

	var cursor *CursorV1
	if q.Cursor != "" {
		c, err := DecodeCursor(q.Cursor)
		if err != nil {
			return nil, err
		}
		cursor = &c
	}

	var order OrderSpec
	var err error
	if cursor != nil {
		order, err = cursor.Order(fm)
	} else {
		order, err = ParseOrderTokens(q.Order, fm)
		if err == nil {
			order = EnsureTiebreaker(order, tiebreaker)
		}
	}
	if err != nil {
		return nil, err
	}

	if cursor != nil && cursor.F != "" && q.FilterHash != "" && cursor.F != q.FilterHash {
		return nil, modkiterrors.NewFilterMismatchError()
	}

	filterCond, err := CompileFilter(q.Filter, fm)
	if err != nil {
		return nil, err
	}

	whereCond := filterCond
	if cursor != nil {
		cursorCond, err := buildCursorPredicate(cursor.K, order, fm)
		if err != nil {
			return nil, err
		}
		whereCond = andConditions([]Condition{filterCond, cursorCond})
	}

	orderSQL, err := renderOrderSQL(order, fm)
	if err != nil {
		return nil, err
	}

	query := baseSQL + " WHERE " + whereCond.SQL + " ORDER BY " + orderSQL + " LIMIT ?"
	args := append(append(append([]any{}, baseArgs...), whereCond.Args...), limit+1)

	bound := sqlx.Rebind(sqlx.BindType(db.DriverName()), query)
	rows, err := db.QueryxContext(ctx, bound, args...)
	if err != nil {
		return nil, fmt.Errorf("executing paginated query: %w", err)
	}
	defer rows.Close()

	var items []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	page := &Page[T]{Effective: order}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}
	page.Items = items
	page.HasMore = hasMore

	if len(items) > 0 {
		prevKeys, err := extractCursorKeys(items[0], order, fm)
		if err != nil {
			return nil, err
		}
		prevCursor := NewCursor(order, prevKeys, q.FilterHash).encodeOrPanic()
		page.PrevCursor = &prevCursor
	}

	if hasMore {
		lastKeys, err := extractCursorKeys(items[len(items)-1], order, fm)
		if err != nil {
			return nil, err
		}
		nextCursor := NewCursor(order, lastKeys, q.FilterHash).encodeOrPanic()
		page.NextCursor = &nextCursor
	}

	return page, nil
}

// encodeOrPanic is safe here: the cursor was built from validated field
// kinds and Go's json.Marshal only fails on unsupported types (never the
// case for CursorV1's plain string fields).
func (c CursorV1) encodeOrPanic() string {
	s, err := c.Encode()
	if err != nil {
		panic(fmt.Sprintf("odata: encoding a well-formed cursor failed: %v", err))
	}
	return s
}

func extractCursorKeys[T any](item T, order OrderSpec, fm FieldMap) ([]string, error) {
	keys := make([]string, len(order))
	for i, term := range order {
		field, err := fm.Lookup(term.Field)
		if err != nil {
			return nil, err
		}
		if field.Extract == nil {
			return nil, fmt.Errorf("field %q has no cursor-key extractor", term.Field)
		}
		k, err := field.Extract(item)
		if err != nil {
			return nil, fmt.Errorf("extracting cursor key %q: %w", term.Field, err)
		}
		keys[i] = k
	}
	return keys, nil
}

// buildCursorPredicate implements the keyset (seek) pagination predicate:
// the OR, over i in 0..n, of (k[0]=v[0]) AND ... AND (k[i-1]=v[i-1]) AND
// (k[i] <op_i> v[i]) where op_i is > for ascending fields and < for
// descending ones.
func buildCursorPredicate(keys []string, order OrderSpec, fm FieldMap) (Condition, error) {
	if len(keys) != len(order) {
		return Condition{}, modkiterrors.NewInvalidCursorError(modkiterrors.CursorArityMismatch)
	}

	fields := make([]FieldSpec, len(order))
	values := make([]any, len(order))
	for i, term := range order {
		field, err := fm.Lookup(term.Field)
		if err != nil {
			return Condition{}, modkiterrors.NewInvalidCursorError(modkiterrors.CursorInvalidFields)
		}
		v, err := ParseCursorKey(field, keys[i])
		if err != nil {
			return Condition{}, err
		}
		fields[i] = field
		values[i] = v
	}

	var branches []Condition
	for i := range order {
		var eqParts []Condition
		for j := 0; j < i; j++ {
			eqParts = append(eqParts, Condition{SQL: fields[j].Column + " = ?", Args: []any{values[j]}})
		}
		op := ">"
		if order[i].Desc {
			op = "<"
		}
		eqParts = append(eqParts, Condition{SQL: fields[i].Column + " " + op + " ?", Args: []any{values[i]}})
		branches = append(branches, andConditions(eqParts))
	}

	return orConditions(branches), nil
}

func renderOrderSQL(order OrderSpec, fm FieldMap) (string, error) {
	parts := make([]string, len(order))
	for i, term := range order {
		field, err := fm.Lookup(term.Field)
		if err != nil {
			return "", err
		}
		dir := "ASC"
		if term.Desc {
			dir = "DESC"
		}
		parts[i] = field.Column + " " + dir
	}
	return strings.Join(parts, ", "), nil
}
