package query

import (
	"fmt"
	"strings"
)

// OrderClause is a single validated ordering directive.
type OrderClause struct {
	Column string
	Desc   bool
}

func (o OrderClause) String() string {
	if o.Desc {
		return o.Column + " DESC"
	}
	return o.Column + " ASC"
}

// ParseOrderTerm parses one "column [ASC|DESC]" term; direction defaults
// to ASC.
func ParseOrderTerm(term string) (OrderClause, error) {
	tokens := strings.Fields(term)
	if len(tokens) == 0 || len(tokens) > 2 {
		return OrderClause{}, fmt.Errorf("invalid order clause %q: expected 'column [ASC|DESC]'", term)
	}
	if err := ValidateIdentifier(tokens[0]); err != nil {
		return OrderClause{}, fmt.Errorf("invalid order column: %w", err)
	}
	oc := OrderClause{Column: tokens[0]}
	if len(tokens) == 2 {
		switch strings.ToUpper(tokens[1]) {
		case "ASC":
		case "DESC":
			oc.Desc = true
		default:
			return OrderClause{}, fmt.Errorf("invalid order direction %q: must be ASC or DESC", tokens[1])
		}
	}
	return oc, nil
}

// ParseOrderClause parses a comma-separated order string such as
// "created_at DESC, name" into its terms.
func ParseOrderClause(order string) ([]string, error) {
	return splitList(order, func(part string) (string, error) {
		oc, err := ParseOrderTerm(part)
		if err != nil {
			return "", err
		}
		return oc.String(), nil
	})
}

// ParseFieldSelection parses a comma-separated list like "id,name,email"
// into validated column names. Returns nil for an empty input.
func ParseFieldSelection(fields string) ([]string, error) {
	return splitList(fields, func(part string) (string, error) {
		if err := ValidateIdentifier(part); err != nil {
			return "", fmt.Errorf("invalid field name: %w", err)
		}
		return part, nil
	})
}

func splitList(s string, each func(string) (string, error)) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := each(part)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// DoubleQuote quotes an identifier the ANSI way (PostgreSQL, SQLite,
// Snowflake).
func DoubleQuote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// BacktickQuote quotes a MySQL identifier.
func BacktickQuote(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// BracketQuote quotes a SQL Server identifier.
func BracketQuote(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}
