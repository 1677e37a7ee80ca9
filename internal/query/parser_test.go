package query

import (
	"errors"
	"reflect"
	"testing"

	"github.com/gatekeepdb/gatekeep/internal/condition"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []tokenType
		wantErr bool
	}{
		{"simple comparison", "age > 21", []tokenType{tokIdentifier, tokOperator, tokNumber}, false},
		{"string value", "name = 'John'", []tokenType{tokIdentifier, tokOperator, tokString}, false},
		{
			"parenthesized AND",
			"(age > 21) AND (status = 'active')",
			[]tokenType{tokLParen, tokIdentifier, tokOperator, tokNumber, tokRParen, tokAND, tokLParen, tokIdentifier, tokOperator, tokString, tokRParen},
			false,
		},
		{"IN list", "name IN ('John', 'Jane')", []tokenType{tokIdentifier, tokIN, tokLParen, tokString, tokComma, tokString, tokRParen}, false},
		{"IS NULL", "email IS NULL", []tokenType{tokIdentifier, tokIS, tokNULL}, false},
		{"negative decimal", "score >= -1.5", []tokenType{tokIdentifier, tokOperator, tokNumber}, false},
		{"starts with", "name starts with 'a'", []tokenType{tokIdentifier, tokSTARTS, tokWITH, tokString}, false},
		{"unterminated string", "name = 'abc", nil, true},
		{"trailing decimal point", "age = 1.", nil, true},
		{"unexpected character", "age = 1;", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens, err := tokenize(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := make([]tokenType, len(tokens))
			for i, tok := range tokens {
				got[i] = tok.typ
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("token types = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTokenizeEscapedQuote(t *testing.T) {
	tokens, err := tokenize(`name = 'O''Brien'`)
	if err != nil {
		t.Fatal(err)
	}
	if tokens[2].value != "O'Brien" {
		t.Errorf("value = %q, want O'Brien", tokens[2].value)
	}
}

func leaf(field string, op condition.Operator, v any) *condition.Leaf {
	return &condition.Leaf{Field: field, Operator: op, Value: v}
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  condition.Node
	}{
		{"empty", "   ", nil},
		{"equality", "name = 'John'", leaf("name", condition.OpEq, "John")},
		{"not equal alias", "age <> 3", leaf("age", condition.OpNe, int64(3))},
		{"float", "score > 2.5", leaf("score", condition.OpGt, 2.5)},
		{"is null", "deleted_at IS NULL", leaf("deleted_at", condition.OpIsNull, nil)},
		{"in", "role_id IN (1, 2)", leaf("role_id", condition.OpIn, []any{int64(1), int64(2)})},
		{"between", "age BETWEEN 18 AND 65", leaf("age", condition.OpBetween, []any{int64(18), int64(65)})},
		{"like", "name LIKE 'jo%'", leaf("name", condition.OpLike, "jo%")},
		{"contains", "name CONTAINS 'oh'", leaf("name", condition.OpLike, "%oh%")},
		{"starts with", "name STARTS WITH 'Jo'", leaf("name", condition.OpLike, "Jo%")},
		{"ends with", "email ENDS WITH '@admin.com'", leaf("email", condition.OpLike, "%@admin.com")},
		{
			"and binds tighter than or",
			"a = 1 OR b = 2 AND c = 3",
			&condition.Group{Logic: condition.Or, Children: []condition.Node{
				leaf("a", condition.OpEq, int64(1)),
				&condition.Group{Logic: condition.And, Children: []condition.Node{
					leaf("b", condition.OpEq, int64(2)),
					leaf("c", condition.OpEq, int64(3)),
				}},
			}},
		},
		{
			"parentheses",
			"(a = 1 OR b = 2) AND c = 3",
			&condition.Group{Logic: condition.And, Children: []condition.Node{
				&condition.Group{Logic: condition.Or, Children: []condition.Node{
					leaf("a", condition.OpEq, int64(1)),
					leaf("b", condition.OpEq, int64(2)),
				}},
				leaf("c", condition.OpEq, int64(3)),
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFilter(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseFilter(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseFilterRejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"boolean not", "NOT a = 1"},
		{"not in", "a NOT IN (1)"},
		{"is not null", "a IS NOT NULL"},
		{"missing value", "a ="},
		{"unclosed paren", "(a = 1"},
		{"trailing tokens", "a = 1 b"},
		{"reserved column", "select = 1"},
		{"like without string", "name LIKE 5"},
		{"empty in", "a IN ()"},
		{"between missing and", "a BETWEEN 1 2"},
		{"starts without with", "a STARTS 'x'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFilter(tt.input)
			if !errors.Is(err, condition.ErrInvalidCondition) {
				t.Errorf("ParseFilter(%q) err = %v, want ErrInvalidCondition", tt.input, err)
			}
		})
	}
}

func TestParseFilterCompiles(t *testing.T) {
	node, err := ParseFilter("username STARTS WITH 'adm' AND role_id IN (1, 2)")
	if err != nil {
		t.Fatal(err)
	}
	expr, err := condition.Compile(catalog{"username": true, "role_id": true}, node)
	if err != nil {
		t.Fatal(err)
	}
	sql, args := condition.Render(ConditionDialect(testDialect{}), expr)
	if sql != `("username" LIKE ? AND "role_id" IN (?, ?))` {
		t.Errorf("sql = %q", sql)
	}
	if !reflect.DeepEqual(args, []any{"adm%", int64(1), int64(2)}) {
		t.Errorf("args = %#v", args)
	}
}

type catalog map[string]bool

func (c catalog) HasColumn(name string) bool { return c[name] }
