package condition

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

type columns map[string]bool

func (c columns) HasColumn(name string) bool { return c[name] }

var userColumns = columns{"id": true, "username": true, "email": true, "age": true, "role_id": true, "deleted_at": true}

var sqlite = Dialect{
	QuoteIdentifier: func(s string) string { return `"` + s + `"` },
	Placeholder:     QuestionMark,
}

func compileJSON(t *testing.T, src string) (string, []any, error) {
	t.Helper()
	node, err := ParseJSON([]byte(src))
	if err != nil {
		return "", nil, err
	}
	expr, err := Compile(userColumns, node)
	if err != nil {
		return "", nil, err
	}
	sql, args := Render(sqlite, expr)
	return sql, args, nil
}

func TestCompile(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "equality",
			src:      `{"username": {"operator": "=", "value": "admin"}}`,
			wantSQL:  `"username" = ?`,
			wantArgs: []any{"admin"},
		},
		{
			name:     "lowercase operator",
			src:      `{"age": {"operator": "between", "value": [18, 30]}}`,
			wantSQL:  `"age" BETWEEN ? AND ?`,
			wantArgs: []any{int64(18), int64(30)},
		},
		{
			name:     "like gets trailing wildcard",
			src:      `{"username": {"operator": "LIKE", "value": "john"}}`,
			wantSQL:  `"username" LIKE ?`,
			wantArgs: []any{"john%"},
		},
		{
			name:     "like keeps explicit wildcard",
			src:      `{"email": {"operator": "LIKE", "value": "%@admin.com"}}`,
			wantSQL:  `"email" LIKE ?`,
			wantArgs: []any{"%@admin.com"},
		},
		{
			name:     "like list is any-of",
			src:      `{"username": {"operator": "LIKE", "value": ["a", "b%"]}}`,
			wantSQL:  `("username" LIKE ? OR "username" LIKE ?)`,
			wantArgs: []any{"a%", "b%"},
		},
		{
			name:     "in",
			src:      `{"role_id": {"operator": "IN", "value": [1, 2, 3]}}`,
			wantSQL:  `"role_id" IN (?, ?, ?)`,
			wantArgs: []any{int64(1), int64(2), int64(3)},
		},
		{
			name:    "empty in matches nothing",
			src:     `{"role_id": {"operator": "IN", "value": []}}`,
			wantSQL: `1 = 0`,
		},
		{
			name:    "is null ignores value",
			src:     `{"deleted_at": {"operator": "IS_NULL", "value": "whatever"}}`,
			wantSQL: `"deleted_at" IS NULL`,
		},
		{
			name: "nested or inside and",
			src: `{"and": [
				{"age": {"operator": ">=", "value": 18}},
				{"or": [
					{"username": {"operator": "LIKE", "value": "%admin%"}},
					{"email": {"operator": "LIKE", "value": "%@admin.com"}}
				]}
			]}`,
			wantSQL:  `("age" >= ? AND ("username" LIKE ? OR "email" LIKE ?))`,
			wantArgs: []any{int64(18), "%admin%", "%@admin.com"},
		},
		{
			name:     "sibling keys are anded in sorted order",
			src:      `{"username": {"operator": "!=", "value": "x"}, "age": {"operator": "<", "value": 2.5}}`,
			wantSQL:  `("age" < ? AND "username" != ?)`,
			wantArgs: []any{2.5, "x"},
		},
		{
			name:    "empty tree",
			src:     `{}`,
			wantSQL: ``,
		},
		{
			name:    "empty groups collapse",
			src:     `{"and": [{"or": []}]}`,
			wantSQL: ``,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := compileJSON(t, tt.src)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sql != tt.wantSQL {
				t.Errorf("SQL = %q, want %q", sql, tt.wantSQL)
			}
			if len(args) != len(tt.wantArgs) || (len(args) > 0 && !reflect.DeepEqual(args, tt.wantArgs)) {
				t.Errorf("args = %#v, want %#v", args, tt.wantArgs)
			}
		})
	}
}

func TestCompileRejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown operator", `{"age": {"operator": "REGEXP", "value": "x"}}`},
		{"unknown column", `{"password": {"operator": "=", "value": "x"}}`},
		{"injection in field name", `{"id = 1 OR 1": {"operator": "=", "value": 1}}`},
		{"between with one value", `{"age": {"operator": "BETWEEN", "value": [1]}}`},
		{"between with scalar", `{"age": {"operator": "BETWEEN", "value": 1}}`},
		{"in with scalar", `{"age": {"operator": "IN", "value": 1}}`},
		{"null comparison", `{"age": {"operator": "=", "value": null}}`},
		{"list comparison", `{"age": {"operator": ">", "value": [1, 2]}}`},
		{"like with number", `{"username": {"operator": "LIKE", "value": 3}}`},
		{"missing operator", `{"age": {"value": 3}}`},
		{"leaf not an object", `{"age": 3}`},
		{"group not a list", `{"and": {"age": {"operator": "=", "value": 1}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := compileJSON(t, tt.src)
			if !errors.Is(err, ErrInvalidCondition) {
				t.Errorf("err = %v, want ErrInvalidCondition", err)
			}
		})
	}
}

func TestLikeAutoWildcardMatchesExplicit(t *testing.T) {
	implicit, implicitArgs, err := compileJSON(t, `{"username": {"operator": "LIKE", "value": "john"}}`)
	if err != nil {
		t.Fatal(err)
	}
	explicit, explicitArgs, err := compileJSON(t, `{"username": {"operator": "LIKE", "value": "john%"}}`)
	if err != nil {
		t.Fatal(err)
	}
	if implicit != explicit || !reflect.DeepEqual(implicitArgs, explicitArgs) {
		t.Errorf("implicit %q %v != explicit %q %v", implicit, implicitArgs, explicit, explicitArgs)
	}
}

func TestValuesNeverInSQL(t *testing.T) {
	payload := `'; DROP TABLE sys_user; --`
	src, _ := json.Marshal(map[string]any{
		"username": map[string]any{"operator": "=", "value": payload},
	})
	sql, args, err := compileJSON(t, string(src))
	if err != nil {
		t.Fatal(err)
	}
	if sql != `"username" = ?` {
		t.Errorf("SQL = %q", sql)
	}
	if len(args) != 1 || args[0] != payload {
		t.Errorf("args = %v", args)
	}
}

func TestPlaceholdersContinueAcrossWriter(t *testing.T) {
	pg := Dialect{QuoteIdentifier: sqlite.QuoteIdentifier, Placeholder: Dollar}
	w := NewWriter(pg)
	w.WriteString("UPDATE t SET a = " + w.Arg(1) + " WHERE ")
	expr, err := Compile(userColumns, AllOf(Eq("id", 5), &Leaf{Field: "age", Operator: OpIn, Value: []int{1, 2}}))
	if err != nil {
		t.Fatal(err)
	}
	expr.Render(w)

	want := `UPDATE t SET a = $1 WHERE ("id" = $2 AND "age" IN ($3, $4))`
	if w.String() != want {
		t.Errorf("got %q, want %q", w.String(), want)
	}
	if len(w.Args()) != 4 {
		t.Errorf("args = %v", w.Args())
	}
}

func TestTreeRoundTrip(t *testing.T) {
	var body struct {
		Where Tree `json:"where_conditions"`
	}
	if err := json.Unmarshal([]byte(`{"where_conditions": {"id": {"operator": "=", "value": 7}}}`), &body); err != nil {
		t.Fatal(err)
	}
	leaf, ok := body.Where.Root.(*Leaf)
	if !ok {
		t.Fatalf("root = %T, want *Leaf", body.Where.Root)
	}
	if leaf.Value != int64(7) {
		t.Errorf("value = %#v, want int64(7)", leaf.Value)
	}

	out, err := json.Marshal(body.Where)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"id":{"operator":"=","value":7}}` {
		t.Errorf("marshal = %s", out)
	}
}

func TestTreeNull(t *testing.T) {
	var body struct {
		Where Tree `json:"where_conditions"`
	}
	if err := json.Unmarshal([]byte(`{"where_conditions": null}`), &body); err != nil {
		t.Fatal(err)
	}
	if body.Where.Root != nil {
		t.Errorf("root = %v, want nil", body.Where.Root)
	}
}
