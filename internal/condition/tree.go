// Package condition compiles JSON condition trees into parameterized SQL
// predicates. The operator set is closed and every value is bound as a
// parameter; nothing a caller sends is ever spliced into SQL text.
package condition

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ErrInvalidCondition is wrapped by every error caused by a malformed tree.
var ErrInvalidCondition = errors.New("invalid condition")

// Operator is a leaf comparison operator.
type Operator string

const (
	OpEq      Operator = "="
	OpNe      Operator = "!="
	OpGt      Operator = ">"
	OpLt      Operator = "<"
	OpGe      Operator = ">="
	OpLe      Operator = "<="
	OpLike    Operator = "LIKE"
	OpIn      Operator = "IN"
	OpBetween Operator = "BETWEEN"
	OpIsNull  Operator = "IS_NULL"
)

// Operators lists the supported operators.
var Operators = []Operator{OpEq, OpNe, OpGt, OpLt, OpGe, OpLe, OpLike, OpIn, OpBetween, OpIsNull}

// Supported reports whether op belongs to the closed operator set.
func (op Operator) Supported() bool {
	for _, o := range Operators {
		if o == op {
			return true
		}
	}
	return false
}

// Logic joins the children of a group.
type Logic string

const (
	And Logic = "and"
	Or  Logic = "or"
)

// Node is either a *Group or a *Leaf.
type Node interface {
	node()
}

// Group combines child nodes with one logical connective.
type Group struct {
	Logic    Logic
	Children []Node
}

// Leaf binds a field to an operator and a value.
type Leaf struct {
	Field    string
	Operator Operator
	Value    any
}

func (*Group) node() {}
func (*Leaf) node()  {}

// Eq is shorthand for an equality leaf.
func Eq(field string, value any) *Leaf {
	return &Leaf{Field: field, Operator: OpEq, Value: value}
}

// AllOf ANDs nodes together, skipping nils.
func AllOf(nodes ...Node) Node {
	return combine(And, nodes)
}

// AnyOf ORs nodes together, skipping nils.
func AnyOf(nodes ...Node) Node {
	return combine(Or, nodes)
}

func combine(logic Logic, nodes []Node) Node {
	kept := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if n != nil {
			kept = append(kept, n)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return &Group{Logic: logic, Children: kept}
}

// Parse converts a decoded JSON object into a condition tree. An empty
// object yields a nil node, which means "match all".
//
// Keys "and" and "or" (any case) must map to a list of sub-trees; every
// other key is a field name mapping to {"operator": ..., "value": ...}.
// Several keys on one level are ANDed. Keys are processed in sorted order
// so that the same tree always compiles to the same SQL.
func Parse(raw map[string]any) (Node, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]Node, 0, len(keys))
	for _, key := range keys {
		val := raw[key]
		switch strings.ToLower(key) {
		case string(And), string(Or):
			group, err := parseGroup(Logic(strings.ToLower(key)), val)
			if err != nil {
				return nil, err
			}
			if group != nil {
				parts = append(parts, group)
			}
		default:
			leaf, err := parseLeaf(key, val)
			if err != nil {
				return nil, err
			}
			parts = append(parts, leaf)
		}
	}
	return AllOf(parts...), nil
}

// ParseJSON decodes and parses a JSON condition tree.
func ParseJSON(data []byte) (Node, error) {
	var t Tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return t.Root, nil
}

func parseGroup(logic Logic, val any) (Node, error) {
	items, ok := val.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q must map to a list of conditions, got %T", ErrInvalidCondition, logic, val)
	}
	children := make([]Node, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q element %d must be an object, got %T", ErrInvalidCondition, logic, i, item)
		}
		child, err := Parse(obj)
		if err != nil {
			return nil, err
		}
		if child != nil {
			children = append(children, child)
		}
	}
	return combine(logic, children), nil
}

func parseLeaf(field string, val any) (*Leaf, error) {
	obj, ok := val.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: field %q must map to {operator, value}, got %T", ErrInvalidCondition, field, val)
	}
	rawOp, ok := obj["operator"].(string)
	if !ok || rawOp == "" {
		return nil, fmt.Errorf("%w: field %q is missing an operator", ErrInvalidCondition, field)
	}
	return &Leaf{
		Field:    field,
		Operator: Operator(strings.ToUpper(strings.TrimSpace(rawOp))),
		Value:    normalizeValue(obj["value"]),
	}, nil
}

// normalizeValue turns json.Number values into int64 or float64 so that
// drivers bind them with a numeric type.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
		return x
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}

// Tree is a JSON-decodable condition tree, used in request bodies.
type Tree struct {
	Root Node
}

// UnmarshalJSON decodes a condition tree. null and {} both mean "match all".
func (t *Tree) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		t.Root = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCondition, err)
	}
	root, err := Parse(raw)
	if err != nil {
		return err
	}
	t.Root = root
	return nil
}

// MarshalJSON encodes the tree back into its JSON shape.
func (t Tree) MarshalJSON() ([]byte, error) {
	if t.Root == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(toJSON(t.Root))
}

func toJSON(n Node) map[string]any {
	switch x := n.(type) {
	case *Group:
		children := make([]any, len(x.Children))
		for i, c := range x.Children {
			children[i] = toJSON(c)
		}
		return map[string]any{string(x.Logic): children}
	case *Leaf:
		return map[string]any{x.Field: map[string]any{"operator": string(x.Operator), "value": x.Value}}
	}
	return map[string]any{}
}

// Fields lists the field of every leaf under n, in tree order.
func Fields(n Node) []string {
	switch x := n.(type) {
	case *Leaf:
		return []string{x.Field}
	case *Group:
		var out []string
		for _, c := range x.Children {
			out = append(out, Fields(c)...)
		}
		return out
	}
	return nil
}
