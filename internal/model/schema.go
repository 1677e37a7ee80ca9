package model

// ColumnKind is the semantic type of a column. Dialects map kinds to native
// column types; request validation and OpenAPI generation map them to JSON
// types.
type ColumnKind string

const (
	KindInt    ColumnKind = "int"
	KindString ColumnKind = "string"
	KindText   ColumnKind = "text"
	KindBool   ColumnKind = "bool"
	KindTime   ColumnKind = "time"
	KindFloat  ColumnKind = "float"
)

// Table is the static descriptor of a persisted entity. Descriptors drive
// DDL, request validation, catalog resolution and response shaping.
type Table struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	PrimaryKey  string       `json:"primary_key"`
	Uniques     [][]string   `json:"uniques,omitempty"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
}

// Column describes a single column within a table.
type Column struct {
	Name          string     `json:"name"`
	Kind          ColumnKind `json:"kind"`
	Size          int        `json:"size,omitempty"`
	Nullable      bool       `json:"nullable"`
	Default       any        `json:"default,omitempty"`
	PrimaryKey    bool       `json:"is_primary_key"`
	AutoIncrement bool       `json:"is_auto_increment"`
	ServerManaged bool       `json:"server_managed,omitempty"`
	Hidden        bool       `json:"hidden,omitempty"`
	Comment       string     `json:"comment,omitempty"`
}

// ForeignKey describes a foreign key constraint between two tables.
type ForeignKey struct {
	ColumnName       string `json:"column_name"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
	OnDelete         string `json:"on_delete,omitempty"`
}

// Column returns the named column and whether it exists.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// HasColumn reports whether the table declares a column with this name.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// ColumnNames returns every column name in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// VisibleColumns returns the names of columns that are not hidden.
func (t *Table) VisibleColumns() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if !c.Hidden {
			names = append(names, c.Name)
		}
	}
	return names
}

// Writable reports whether clients may set the column directly.
func (c Column) Writable() bool {
	return !c.AutoIncrement && !c.ServerManaged
}

// Required reports whether a create payload must supply the column.
func (c Column) Required() bool {
	return c.Writable() && !c.Nullable && c.Default == nil
}
