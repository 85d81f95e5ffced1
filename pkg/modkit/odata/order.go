package odata

import (
	"strings"

	"github.com/hyperspot-run/modkit/pkg/modkit/modkiterrors"
)

// OrderTerm is one field in an order-by sequence.
type OrderTerm struct {
	Field string
	Desc  bool
}

// OrderSpec is the ordered sequence of sort terms for a query.
type OrderSpec []OrderTerm

// Render produces the signed-token form: "+field1,-field2,...".
func (o OrderSpec) Render() string {
	tokens := make([]string, len(o))
	for i, t := range o {
		sign := "+"
		if t.Desc {
			sign = "-"
		}
		tokens[i] = sign + t.Field
	}
	return strings.Join(tokens, ",")
}

// ParseOrderTokens parses a comma-separated signed-token order string
// ("+field1,-field2"). A field with no sign prefix is treated as ascending.
// Each field name is validated against fm.
func ParseOrderTokens(s string, fm FieldMap) (OrderSpec, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make(OrderSpec, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		desc := false
		name := part
		switch part[0] {
		case '+':
			name = part[1:]
		case '-':
			desc = true
			name = part[1:]
		}
		if name == "" {
			return nil, modkiterrors.NewInvalidOrderByFieldError(part)
		}
		if _, err := fm.Lookup(name); err != nil {
			return nil, modkiterrors.NewInvalidOrderByFieldError(name)
		}
		out = append(out, OrderTerm{Field: strings.ToLower(name), Desc: desc})
	}
	return out, nil
}

// EnsureTiebreaker appends tiebreaker (ascending) to order if no term
// already names it, guaranteeing a total order for keyset pagination.
func EnsureTiebreaker(order OrderSpec, tiebreaker string) OrderSpec {
	for _, t := range order {
		if strings.EqualFold(t.Field, tiebreaker) {
			return order
		}
	}
	out := make(OrderSpec, len(order), len(order)+1)
	copy(out, order)
	return append(out, OrderTerm{Field: strings.ToLower(tiebreaker)})
}
