package openapi

import "github.com/gatekeepdb/gatekeep/internal/model"

// TypeMapping is an OpenAPI type/format pair.
type TypeMapping struct {
	Type   string // string, integer, number, boolean
	Format string // int64, double, date-time
}

var kindToOpenAPI = map[model.ColumnKind]TypeMapping{
	model.KindInt:    {"integer", "int64"},
	model.KindFloat:  {"number", "double"},
	model.KindBool:   {"boolean", ""},
	model.KindString: {"string", ""},
	model.KindText:   {"string", ""},
	model.KindTime:   {"string", "date-time"},
}

// MapKind returns the OpenAPI type of a column kind. Unknown kinds map to
// string.
func MapKind(k model.ColumnKind) TypeMapping {
	if m, ok := kindToOpenAPI[k]; ok {
		return m
	}
	return TypeMapping{Type: "string"}
}

// Operation kinds a resource may declare.
const (
	OpCreate     = "create"
	OpReadOne    = "read_one"
	OpReadFilter = "read_filter"
	OpUpdate     = "update"
	OpDelete     = "delete"
)

// Operation is one declared CRUD operation and the permissions it needs.
type Operation struct {
	Kind        string
	Permissions []string
}

// Resource describes the generated endpoints of one table.
type Resource struct {
	Name       string
	Table      *model.Table
	Module     string
	Operations []Operation
	// ExtraFields are accepted on write but are not columns.
	ExtraFields []string
	// ReadOnlyFields are columns clients may not set.
	ReadOnlyFields []string
}

// Supports returns the declared operation of the given kind.
func (r Resource) Supports(kind string) (Operation, bool) {
	for _, op := range r.Operations {
		if op.Kind == kind {
			return op, true
		}
	}
	return Operation{}, false
}
