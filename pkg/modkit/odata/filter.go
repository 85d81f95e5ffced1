package odata

import (
	"fmt"
	"strings"

	"github.com/hyperspot-run/modkit/pkg/modkit/modkiterrors"
)

// Condition is a compiled, backend-agnostic SQL fragment using "?"
// positional placeholders. Callers rebind with sqlx.Rebind(driverName, ...)
// for backends (Postgres) that require numbered placeholders.
type Condition struct {
	SQL  string
	Args []any
}

// TrueCondition is the identity element for And.
func TrueCondition() Condition { return Condition{SQL: "1=1"} }

// FalseCondition compiles In with an empty value list, and anywhere else a
// predicate is statically known to never match.
func FalseCondition() Condition { return Condition{SQL: "1=0"} }

func andConditions(conds []Condition) Condition {
	if len(conds) == 0 {
		return TrueCondition()
	}
	parts := make([]string, len(conds))
	var args []any
	for i, c := range conds {
		parts[i] = "(" + c.SQL + ")"
		args = append(args, c.Args...)
	}
	return Condition{SQL: strings.Join(parts, " AND "), Args: args}
}

func orConditions(conds []Condition) Condition {
	if len(conds) == 0 {
		return FalseCondition()
	}
	parts := make([]string, len(conds))
	var args []any
	for i, c := range conds {
		parts[i] = "(" + c.SQL + ")"
		args = append(args, c.Args...)
	}
	return Condition{SQL: strings.Join(parts, " OR "), Args: args}
}

// CompileFilter traverses expr and produces a Condition, resolving every
// field reference against fm.
func CompileFilter(expr Expr, fm FieldMap) (Condition, error) {
	if expr == nil {
		return TrueCondition(), nil
	}
	switch e := expr.(type) {
	case And:
		conds := make([]Condition, 0, len(e.Children))
		for _, c := range e.Children {
			compiled, err := CompileFilter(c, fm)
			if err != nil {
				return Condition{}, err
			}
			conds = append(conds, compiled)
		}
		return andConditions(conds), nil
	case Or:
		conds := make([]Condition, 0, len(e.Children))
		for _, c := range e.Children {
			compiled, err := CompileFilter(c, fm)
			if err != nil {
				return Condition{}, err
			}
			conds = append(conds, compiled)
		}
		return orConditions(conds), nil
	case Not:
		inner, err := CompileFilter(e.Child, fm)
		if err != nil {
			return Condition{}, err
		}
		return Condition{SQL: "NOT (" + inner.SQL + ")", Args: inner.Args}, nil
	case Compare:
		return compileCompare(e, fm)
	case In:
		return compileIn(e, fm)
	case Function:
		return compileFunction(e, fm)
	default:
		return Condition{}, modkiterrors.NewInvalidFilterError(fmt.Sprintf("unsupported expression node: %T", expr))
	}
}

func compileCompare(c Compare, fm FieldMap) (Condition, error) {
	field, err := fm.Lookup(c.Field.Name)
	if err != nil {
		return Condition{}, err
	}

	if c.Value.Kind == KindNull {
		switch c.Op {
		case OpEq:
			return Condition{SQL: field.Column + " IS NULL"}, nil
		case OpNe:
			return Condition{SQL: field.Column + " IS NOT NULL"}, nil
		default:
			return Condition{}, modkiterrors.NewUnsupportedOpError(string(c.Op))
		}
	}

	val, err := CoerceValue(field, c.Value)
	if err != nil {
		return Condition{}, err
	}

	sqlOp, err := comparisonSQLOp(c.Op)
	if err != nil {
		return Condition{}, err
	}
	return Condition{SQL: field.Column + " " + sqlOp + " ?", Args: []any{val}}, nil
}

func comparisonSQLOp(op Op) (string, error) {
	switch op {
	case OpEq:
		return "=", nil
	case OpNe:
		return "<>", nil
	case OpGt:
		return ">", nil
	case OpGe:
		return ">=", nil
	case OpLt:
		return "<", nil
	case OpLe:
		return "<=", nil
	default:
		return "", modkiterrors.NewUnsupportedOpError(string(op))
	}
}

func compileIn(in In, fm FieldMap) (Condition, error) {
	field, err := fm.Lookup(in.Field.Name)
	if err != nil {
		return Condition{}, err
	}
	if len(in.Values) == 0 {
		return FalseCondition(), nil
	}
	placeholders := make([]string, len(in.Values))
	args := make([]any, len(in.Values))
	for i, v := range in.Values {
		val, err := CoerceValue(field, v)
		if err != nil {
			return Condition{}, err
		}
		placeholders[i] = "?"
		args[i] = val
	}
	sql := field.Column + " IN (" + strings.Join(placeholders, ", ") + ")"
	return Condition{SQL: sql, Args: args}, nil
}

func compileFunction(fn Function, fm FieldMap) (Condition, error) {
	if !SupportedFunctions[fn.Name] {
		return Condition{}, modkiterrors.NewInvalidFilterError("unsupported function: " + fn.Name)
	}
	field, err := fm.Lookup(fn.Field.Name)
	if err != nil {
		return Condition{}, err
	}
	if field.Kind != FieldString {
		return Condition{}, modkiterrors.NewTypeMismatchError(string(FieldString), string(field.Kind))
	}

	escaped := likeEscape(fn.Arg)
	var pattern string
	switch fn.Name {
	case "contains":
		pattern = "%" + escaped + "%"
	case "startswith":
		pattern = escaped + "%"
	case "endswith":
		pattern = "%" + escaped
	}
	return Condition{SQL: field.Column + " LIKE ? ESCAPE '\\'", Args: []any{pattern}}, nil
}

// likeEscape escapes LIKE metacharacters (%, _) and the escape character
// itself (\) with a backslash, per the ESCAPE '\' clause used above.
func likeEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
