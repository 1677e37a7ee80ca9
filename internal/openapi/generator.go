package openapi

import (
	"fmt"
	"slices"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/gatekeepdb/gatekeep/internal/model"
)

// Generate builds the OpenAPI document of the API: the fixed system routes
// plus the declared operations of every resource.
func Generate(resources []Resource, baseURL, version string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "gatekeep API",
			Description: "Role-based access control backend with generated CRUD endpoints.",
			Version:     version,
		},
	}
	if baseURL != "" {
		doc.Servers = openapi3.Servers{{URL: baseURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{
		"bearerAuth": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
		},
	}
	doc.Components = &components
	doc.Security = openapi3.SecurityRequirements{{"bearerAuth": {}}}
	doc.Paths = openapi3.NewPaths()

	doc.Components.Schemas["Envelope"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"code": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
				"msg":  &openapi3.SchemaRef{Value: openapi3.NewStringSchema()},
				"data": &openapi3.SchemaRef{Value: &openapi3.Schema{}},
			},
		},
	}
	doc.Components.Schemas["Condition"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:        &openapi3.Types{"object"},
			Description: `Leaf {"field","operator","value"} or group {"operator":"and"|"or","children":[...]}.`,
		},
	}
	doc.Components.Schemas["FilterRequest"] = filterRequestSchema()

	addSystemPaths(doc)
	for _, res := range resources {
		addResourcePaths(doc, res)
	}
	return doc
}

// addResourcePaths registers the declared operations of res.
func addResourcePaths(doc *openapi3.T, res Resource) {
	name := schemaName(res.Name)
	doc.Components.Schemas[name] = recordSchema(res.Table)

	ref := "#/components/schemas/" + name
	collection := &openapi3.PathItem{}
	item := &openapi3.PathItem{}

	if op, ok := res.Supports(OpCreate); ok {
		doc.Components.Schemas[name+"Create"] = writeSchema(res, true)
		collection.Post = &openapi3.Operation{
			Tags:        []string{res.Name},
			Summary:     fmt.Sprintf("Create a %s", res.Name),
			Description: permissionNote(res.Module, op),
			OperationID: "create_" + res.Name,
			RequestBody: jsonBody(name+"Create", true),
			Responses:   newResponses("201", "Created", envelopeOf(openapi3.NewSchemaRef(ref, nil))),
		}
	}
	if op, ok := res.Supports(OpReadFilter); ok {
		list := listSchema(ref)
		collection.Get = &openapi3.Operation{
			Tags:        []string{res.Name},
			Summary:     fmt.Sprintf("List %s records", res.Name),
			Description: permissionNote(res.Module, op),
			OperationID: "list_" + res.Name,
			Parameters:  listQueryParameters(),
			Responses:   newResponses("200", "Matching records", envelopeOf(list)),
		}
		doc.Paths.Set(fmt.Sprintf("/api/%s/filter", res.Name), &openapi3.PathItem{
			Post: &openapi3.Operation{
				Tags:        []string{res.Name},
				Summary:     fmt.Sprintf("Filter %s records", res.Name),
				Description: permissionNote(res.Module, op),
				OperationID: "filter_" + res.Name,
				RequestBody: jsonBody("FilterRequest", false),
				Responses:   newResponses("200", "Matching records", envelopeOf(list)),
			},
		})
	}
	if op, ok := res.Supports(OpReadOne); ok {
		item.Get = &openapi3.Operation{
			Tags:        []string{res.Name},
			Summary:     fmt.Sprintf("Get a %s by id", res.Name),
			Description: permissionNote(res.Module, op),
			OperationID: "get_" + res.Name,
			Responses:   newResponses("200", "The record", envelopeOf(openapi3.NewSchemaRef(ref, nil))),
		}
	}
	if op, ok := res.Supports(OpUpdate); ok {
		doc.Components.Schemas[name+"Update"] = writeSchema(res, false)
		item.Put = &openapi3.Operation{
			Tags:        []string{res.Name},
			Summary:     fmt.Sprintf("Update a %s", res.Name),
			Description: permissionNote(res.Module, op) + " Null and absent fields are left unchanged.",
			OperationID: "update_" + res.Name,
			RequestBody: jsonBody(name+"Update", true),
			Responses:   newResponses("200", "The updated record", envelopeOf(openapi3.NewSchemaRef(ref, nil))),
		}
	}
	if op, ok := res.Supports(OpDelete); ok {
		item.Delete = &openapi3.Operation{
			Tags:        []string{res.Name},
			Summary:     fmt.Sprintf("Delete a %s", res.Name),
			Description: permissionNote(res.Module, op),
			OperationID: "delete_" + res.Name,
			Responses:   newResponses("200", "The deleted record", envelopeOf(openapi3.NewSchemaRef(ref, nil))),
		}
	}

	if collection.Get != nil || collection.Post != nil {
		doc.Paths.Set("/api/"+res.Name, collection)
	}
	if item.Get != nil || item.Put != nil || item.Delete != nil {
		item.Parameters = openapi3.Parameters{idParameter()}
		doc.Paths.Set(fmt.Sprintf("/api/%s/{id}", res.Name), item)
	}
}

// addSystemPaths registers the routes that are not generated from a table.
func addSystemPaths(doc *openapi3.T) {
	object := &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}}
	array := &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: object}}

	loginForm := &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:     &openapi3.Types{"object"},
		Required: []string{"username", "password"},
		Properties: openapi3.Schemas{
			"username": &openapi3.SchemaRef{Value: openapi3.NewStringSchema()},
			"password": &openapi3.SchemaRef{Value: openapi3.NewStringSchema().WithFormat("password")},
		},
	}}
	token := &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"access_token": &openapi3.SchemaRef{Value: openapi3.NewStringSchema()},
			"token_type":   &openapi3.SchemaRef{Value: openapi3.NewStringSchema()},
			"expires_in":   &openapi3.SchemaRef{Value: openapi3.NewInt64Schema()},
		},
	}}

	login := &openapi3.Operation{
		Tags:        []string{"auth"},
		Summary:     "Exchange credentials for a bearer token",
		OperationID: "login",
		Security:    &openapi3.SecurityRequirements{},
		RequestBody: &openapi3.RequestBodyRef{Value: &openapi3.RequestBody{
			Required: true,
			Content: openapi3.Content{
				"application/x-www-form-urlencoded": &openapi3.MediaType{Schema: loginForm},
				"application/json":                  &openapi3.MediaType{Schema: loginForm},
			},
		}},
		Responses: newResponses("200", "Token issued", envelopeOf(token)),
	}
	doc.Paths.Set("/api/sys/auth/login", &openapi3.PathItem{Post: login})

	doc.Paths.Set("/api/sys/auth/me", &openapi3.PathItem{Get: &openapi3.Operation{
		Tags: []string{"auth"}, Summary: "The caller's user record", OperationID: "me",
		Responses: newResponses("200", "Current user", envelopeOf(object)),
	}})
	doc.Paths.Set("/api/sys/auth/menu", &openapi3.PathItem{Get: &openapi3.Operation{
		Tags: []string{"auth"}, Summary: "Modules the caller's role can reach", OperationID: "menu",
		Responses: newResponses("200", "Menu tree", envelopeOf(array)),
	}})
	doc.Paths.Set("/api/role/permissions", &openapi3.PathItem{Put: &openapi3.Operation{
		Tags: []string{"role"}, Summary: "Replace the permissions of roles", OperationID: "set_role_permissions",
		Description: "Requires UPDATE on module Role.",
		RequestBody: &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().WithRequired(true).WithJSONSchemaRef(object)},
		Responses:   newResponses("200", "Bulk result", envelopeOf(object)),
	}})
	doc.Paths.Set("/api/role/{id}/permissions", &openapi3.PathItem{
		Parameters: openapi3.Parameters{idParameter()},
		Get: &openapi3.Operation{
			Tags: []string{"role"}, Summary: "A role's permissions grouped by parent module", OperationID: "get_role_permissions",
			Description: "Requires READ on module Role.",
			Responses:   newResponses("200", "Permission tree", envelopeOf(object)),
		},
	})
	for _, p := range []string{"/health", "/readyz"} {
		doc.Paths.Set(p, &openapi3.PathItem{Get: &openapi3.Operation{
			Tags: []string{"system"}, Summary: "Health check", OperationID: strings.TrimPrefix(p, "/"),
			Security:  &openapi3.SecurityRequirements{},
			Responses: newResponses("200", "Healthy", envelopeOf(object)),
		}})
	}
}

// ─── Schema Builders ────────────────────────────────────────────────────────

func columnSchema(col model.Column) *openapi3.Schema {
	m := MapKind(col.Kind)
	s := &openapi3.Schema{Type: &openapi3.Types{m.Type}, Format: m.Format}
	s.Description = col.Comment
	s.Nullable = col.Nullable
	if col.Size > 0 && m.Type == "string" {
		n := uint64(col.Size)
		s.MaxLength = &n
	}
	return s
}

// recordSchema lists every visible column. Hidden columns are never
// returned and do not appear.
func recordSchema(t *model.Table) *openapi3.SchemaRef {
	props := openapi3.Schemas{}
	for _, col := range t.Columns {
		if col.Hidden {
			continue
		}
		s := columnSchema(col)
		s.ReadOnly = !col.Writable()
		props[col.Name] = &openapi3.SchemaRef{Value: s}
	}
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}, Properties: props}}
}

// writeSchema lists the fields a client may send. On create, columns that
// are not nullable and have no default are required.
func writeSchema(res Resource, create bool) *openapi3.SchemaRef {
	props := openapi3.Schemas{}
	var required []string
	for _, col := range res.Table.Columns {
		if !col.Writable() || col.Hidden || slices.Contains(res.ReadOnlyFields, col.Name) {
			continue
		}
		props[col.Name] = &openapi3.SchemaRef{Value: columnSchema(col)}
		if create && col.Required() {
			required = append(required, col.Name)
		}
	}
	for _, f := range res.ExtraFields {
		props[f] = &openapi3.SchemaRef{Value: openapi3.NewStringSchema()}
		if create {
			required = append(required, f)
		}
	}
	slices.Sort(required)
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}, Properties: props, Required: required}}
}

func filterRequestSchema() *openapi3.SchemaRef {
	strs := &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:  &openapi3.Types{"array"},
		Items: &openapi3.SchemaRef{Value: openapi3.NewStringSchema()},
	}}
	limit := openapi3.NewIntegerSchema().WithMin(1).WithMax(100000)
	limit.Default = 50
	offset := openapi3.NewIntegerSchema().WithMin(0)
	offset.Default = 0
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"where_conditions": openapi3.NewSchemaRef("#/components/schemas/Condition", nil),
			"select_columns":   strs,
			"order_by_columns": strs,
			"group_by_columns": strs,
			"limit":            &openapi3.SchemaRef{Value: limit},
			"offset":           &openapi3.SchemaRef{Value: offset},
		},
	}}
}

func listSchema(itemRef string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"records": &openapi3.SchemaRef{Value: &openapi3.Schema{
				Type:  &openapi3.Types{"array"},
				Items: openapi3.NewSchemaRef(itemRef, nil),
			}},
			"count":  &openapi3.SchemaRef{Value: openapi3.NewInt64Schema()},
			"limit":  &openapi3.SchemaRef{Value: openapi3.NewInt64Schema()},
			"offset": &openapi3.SchemaRef{Value: openapi3.NewInt64Schema()},
		},
	}}
}

// envelopeOf wraps data in the {code, msg, data} envelope.
func envelopeOf(data *openapi3.SchemaRef) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"code": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
			"msg":  &openapi3.SchemaRef{Value: openapi3.NewStringSchema()},
			"data": data,
		},
	}}
}

func jsonBody(schema string, required bool) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().
		WithRequired(required).
		WithJSONSchemaRef(openapi3.NewSchemaRef("#/components/schemas/"+schema, nil))}
}

func idParameter() *openapi3.ParameterRef {
	return &openapi3.ParameterRef{Value: openapi3.NewPathParameter("id").
		WithSchema(openapi3.NewInt64Schema()).
		WithDescription("Primary key of the record.")}
}

// listQueryParameters returns the query parameters of GET /api/{name}.
func listQueryParameters() openapi3.Parameters {
	return openapi3.Parameters{
		&openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter("filter").
				WithDescription("Filter expression (e.g. \"is_active = true AND name LIKE 'a%'\").").
				WithSchema(openapi3.NewStringSchema()),
		},
		&openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter("fields").
				WithDescription("Comma-separated list of columns to return.").
				WithSchema(openapi3.NewStringSchema()),
		},
		&openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter("order").
				WithDescription("Sort order (e.g. \"name ASC, id DESC\").").
				WithSchema(openapi3.NewStringSchema()),
		},
		&openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter("group").
				WithDescription("Comma-separated list of columns to group by.").
				WithSchema(openapi3.NewStringSchema()),
		},
		&openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter("limit").
				WithDescription("Maximum number of records, 1 to 100000.").
				WithSchema(openapi3.NewIntegerSchema()),
		},
		&openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter("offset").
				WithDescription("Number of records to skip.").
				WithSchema(openapi3.NewIntegerSchema()),
		},
	}
}

// ─── Response Helpers ───────────────────────────────────────────────────────

// newResponses builds a success response plus the standard error responses.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses(openapi3.WithName(statusCode,
		openapi3.NewResponse().WithDescription(description).WithContent(openapi3.NewContentWithJSONSchemaRef(schema))))

	errorRef := openapi3.NewSchemaRef("#/components/schemas/Envelope", nil)
	for code, desc := range map[string]string{
		"400": "Bad request",
		"401": "Not authenticated",
		"403": "Insufficient permissions",
		"404": "Not found",
		"500": "Internal server error",
	} {
		responses.Set(code, &openapi3.ResponseRef{
			Value: openapi3.NewResponse().WithDescription(desc).WithContent(openapi3.NewContentWithJSONSchemaRef(errorRef)),
		})
	}
	return responses
}

func permissionNote(module string, op Operation) string {
	if module == "" || len(op.Permissions) == 0 {
		return "Requires authentication."
	}
	return fmt.Sprintf("Requires %s on module %s.", strings.Join(op.Permissions, ", "), module)
}

// schemaName turns a resource name into a PascalCase component name.
func schemaName(name string) string {
	var b strings.Builder
	upper := true
	for _, r := range name {
		switch {
		case r == '_' || r == '-':
			upper = true
		case upper:
			b.WriteString(strings.ToUpper(string(r)))
			upper = false
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
