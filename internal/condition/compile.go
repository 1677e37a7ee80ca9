package condition

import (
	"fmt"
	"reflect"
	"strings"
)

// Catalog resolves field names to columns of one table.
type Catalog interface {
	HasColumn(name string) bool
}

// Compile turns a condition tree into an expression over the catalog's
// columns. A nil node, or a tree whose groups are all empty, compiles to a
// nil Expr, which callers treat as "match all".
func Compile(catalog Catalog, node Node) (Expr, error) {
	switch n := node.(type) {
	case nil:
		return nil, nil
	case *Group:
		return compileGroup(catalog, n)
	case *Leaf:
		return compileLeaf(catalog, n)
	default:
		return nil, fmt.Errorf("%w: unsupported node %T", ErrInvalidCondition, node)
	}
}

func compileGroup(catalog Catalog, g *Group) (Expr, error) {
	if g == nil {
		return nil, nil
	}
	if g.Logic != And && g.Logic != Or {
		return nil, fmt.Errorf("%w: unknown logic %q", ErrInvalidCondition, g.Logic)
	}
	parts := make([]Expr, 0, len(g.Children))
	for _, child := range g.Children {
		e, err := Compile(catalog, child)
		if err != nil {
			return nil, err
		}
		if e != nil {
			parts = append(parts, e)
		}
	}
	switch len(parts) {
	case 0:
		return nil, nil
	case 1:
		return parts[0], nil
	}
	return &junction{logic: g.Logic, parts: parts}, nil
}

func compileLeaf(catalog Catalog, l *Leaf) (Expr, error) {
	if !catalog.HasColumn(l.Field) {
		return nil, fmt.Errorf("%w: unknown column %q", ErrInvalidCondition, l.Field)
	}
	op := Operator(strings.ToUpper(string(l.Operator)))
	if !op.Supported() {
		return nil, fmt.Errorf("%w: unsupported operator %q on %q", ErrInvalidCondition, l.Operator, l.Field)
	}

	switch op {
	case OpIsNull:
		return &isNull{column: l.Field}, nil

	case OpIn:
		values, ok := toSlice(l.Value)
		if !ok {
			return nil, fmt.Errorf("%w: IN on %q requires a list, got %T", ErrInvalidCondition, l.Field, l.Value)
		}
		for _, v := range values {
			if v == nil {
				return nil, fmt.Errorf("%w: IN on %q contains null", ErrInvalidCondition, l.Field)
			}
		}
		return &inList{column: l.Field, values: values}, nil

	case OpBetween:
		values, ok := toSlice(l.Value)
		if !ok || len(values) != 2 || values[0] == nil || values[1] == nil {
			return nil, fmt.Errorf("%w: BETWEEN on %q requires exactly two values", ErrInvalidCondition, l.Field)
		}
		return &between{column: l.Field, lower: values[0], upper: values[1]}, nil

	case OpLike:
		if values, ok := toSlice(l.Value); ok {
			if len(values) == 0 {
				return nil, fmt.Errorf("%w: LIKE on %q has an empty list", ErrInvalidCondition, l.Field)
			}
			parts := make([]Expr, len(values))
			for i, v := range values {
				pattern, err := likePattern(l.Field, v)
				if err != nil {
					return nil, err
				}
				parts[i] = &comparison{column: l.Field, op: OpLike, value: pattern}
			}
			if len(parts) == 1 {
				return parts[0], nil
			}
			return &junction{logic: Or, parts: parts}, nil
		}
		pattern, err := likePattern(l.Field, l.Value)
		if err != nil {
			return nil, err
		}
		return &comparison{column: l.Field, op: OpLike, value: pattern}, nil

	default:
		if l.Value == nil {
			return nil, fmt.Errorf("%w: %s on %q requires a value; use IS_NULL for null tests", ErrInvalidCondition, op, l.Field)
		}
		if _, isList := toSlice(l.Value); isList {
			return nil, fmt.Errorf("%w: %s on %q requires a scalar value", ErrInvalidCondition, op, l.Field)
		}
		return &comparison{column: l.Field, op: op, value: l.Value}, nil
	}
}

// likePattern appends a trailing wildcard when the value has none.
func likePattern(field string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: LIKE on %q requires a string, got %T", ErrInvalidCondition, field, v)
	}
	if !strings.Contains(s, "%") {
		s += "%"
	}
	return s, nil
}

// toSlice accepts []any and any other slice or array type except []byte.
func toSlice(v any) ([]any, bool) {
	switch x := v.(type) {
	case nil, []byte, string:
		return nil, false
	case []any:
		return x, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
