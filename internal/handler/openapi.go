package handler

import (
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/gatekeepdb/gatekeep/internal/openapi"
)

// Describe converts resource declarations into the descriptors the OpenAPI
// generator and the MCP tools consume.
func Describe(resources []Resource) []openapi.Resource {
	out := make([]openapi.Resource, 0, len(resources))
	for _, res := range resources {
		d := openapi.Resource{
			Name:           res.Name,
			Table:          res.Table,
			Module:         res.Module,
			ExtraFields:    res.ExtraFields,
			ReadOnlyFields: res.ReadOnlyFields,
		}
		for _, op := range []struct {
			kind string
			cfg  *OperationConfig
		}{
			{openapi.OpCreate, res.Create},
			{openapi.OpReadOne, res.ReadOne},
			{openapi.OpReadFilter, res.ReadFilter},
			{openapi.OpUpdate, res.Update},
			{openapi.OpDelete, res.Delete},
		} {
			if op.cfg != nil {
				d.Operations = append(d.Operations, openapi.Operation{Kind: op.kind, Permissions: op.cfg.Permissions})
			}
		}
		out = append(out, d)
	}
	return out
}

// OpenAPIHandler serves the OpenAPI document. The document is built on
// first request; resources are fixed for the life of the process.
type OpenAPIHandler struct {
	build func() *openapi3.T
}

// NewOpenAPIHandler creates a handler for the given resources.
func NewOpenAPIHandler(resources []Resource, version string) *OpenAPIHandler {
	described := Describe(resources)
	return &OpenAPIHandler{
		build: sync.OnceValue(func() *openapi3.T {
			return openapi.Generate(described, "", version)
		}),
	}
}

// ServeSpec writes the document as JSON.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.build())
}
