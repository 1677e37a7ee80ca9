package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gatekeepdb/gatekeep/internal/condition"
	"github.com/gatekeepdb/gatekeep/internal/database"
	"github.com/gatekeepdb/gatekeep/internal/model"
	"github.com/gatekeepdb/gatekeep/internal/query"
	"github.com/gatekeepdb/gatekeep/internal/server/middleware"
	"github.com/gatekeepdb/gatekeep/internal/service"
	"github.com/gatekeepdb/gatekeep/internal/telemetry"
)

// Filter bounds.
const (
	DefaultLimit = 50
	MaxLimit     = 100000
)

// OperationConfig enables one CRUD operation on a resource.
type OperationConfig struct {
	// Permissions must all be held on the resource's module.
	Permissions []string
	// ResponseFields limits the returned columns; empty means every
	// visible column.
	ResponseFields []string
}

// CreateHook adjusts a validated create payload before it is written.
type CreateHook func(ctx context.Context, row map[string]any) error

// UpdateHook adjusts a validated update payload before it is written.
type UpdateHook func(ctx context.Context, id int64, row map[string]any) error

// DeleteHook may veto a delete.
type DeleteHook func(ctx context.Context, id int64) error

// DeleteTxHook runs inside the delete's transaction before the row is
// removed. An error rolls the delete back.
type DeleteTxHook func(ctx context.Context, tx *database.Tx, id int64) error

// Resource declares the generated endpoints of one table. Only operations
// with a non-nil config are mounted.
type Resource struct {
	Name   string
	Table  *model.Table
	Module string

	Create     *OperationConfig
	ReadOne    *OperationConfig
	ReadFilter *OperationConfig
	Update     *OperationConfig
	Delete     *OperationConfig

	// ExtraFields are payload keys that are not columns; hooks must
	// consume them.
	ExtraFields []string
	// ReadOnlyFields are writable columns that clients may not set.
	ReadOnlyFields []string
	// RefreshCache reloads the permission cache after a successful write.
	RefreshCache bool

	BeforeCreate CreateHook
	BeforeUpdate UpdateHook
	BeforeDelete DeleteHook
	OnDelete     DeleteTxHook
}

func (res *Resource) requirement(op *OperationConfig) service.RequiredAuth {
	return service.RequiredAuth{Module: res.Module, Permissions: op.Permissions}
}

// Cache is the permission cache as seen by the handlers.
type Cache interface {
	Load(ctx context.Context) error
	ModuleID(name string) int64
}

// FilterRequest is the body of POST /api/{name}/filter.
type FilterRequest struct {
	WhereConditions condition.Tree `json:"where_conditions"`
	SelectColumns   []string       `json:"select_columns"`
	OrderByColumns  []string       `json:"order_by_columns"`
	GroupByColumns  []string       `json:"group_by_columns"`
	Limit           *int           `json:"limit"`
	Offset          *int           `json:"offset"`
}

// ResourceHandler serves the generated CRUD endpoints.
type ResourceHandler struct {
	exec    *database.Executor
	authz   middleware.Authorizer
	cache   Cache
	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewResourceHandler creates a ResourceHandler. metrics and logger may be
// nil.
func NewResourceHandler(exec *database.Executor, authz middleware.Authorizer, cache Cache, metrics *telemetry.Metrics, logger *slog.Logger) *ResourceHandler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ResourceHandler{
		exec:    exec,
		authz:   authz,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Mount registers the declared operations of res under /{res.Name} on r.
// Each route is gated by its own requirement; r must already authenticate.
func (h *ResourceHandler) Mount(r chi.Router, decl Resource) {
	res := &decl
	base := "/" + res.Name
	gate := func(op *OperationConfig) chi.Router {
		return r.With(middleware.Require(h.authz, res.requirement(op)))
	}
	if op := res.Create; op != nil {
		gate(op).Post(base, h.create(res, op))
	}
	if op := res.ReadFilter; op != nil {
		gate(op).Post(base+"/filter", h.filter(res, op))
		gate(op).Get(base, h.list(res, op))
	}
	if op := res.ReadOne; op != nil {
		gate(op).Get(base+"/{id}", h.readOne(res, op))
	}
	if op := res.Update; op != nil {
		gate(op).Put(base+"/{id}", h.update(res, op))
	}
	if op := res.Delete; op != nil {
		gate(op).Delete(base+"/{id}", h.delete(res, op))
	}
}

func (h *ResourceHandler) create(res *Resource, op *OperationConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
		row, err := validatePayload(res, body)
		if err != nil {
			h.fail(w, r, err, "Create failed")
			return
		}
		if res.BeforeCreate != nil {
			if err := res.BeforeCreate(r.Context(), row); err != nil {
				h.fail(w, r, err, "Create failed")
				return
			}
		}
		for _, f := range res.ExtraFields {
			delete(row, f)
		}
		if err := checkRequired(res.Table, row); err != nil {
			h.fail(w, r, err, "Create failed")
			return
		}
		stamp(res.Table, row, h.now(), true)

		result, err := h.exec.BulkDML(r.Context(), []database.Operation{{
			Table: res.Table.Name,
			Kind:  database.OpInsert,
			Data:  []map[string]any{row},
		}}, true)
		if err != nil {
			h.fail(w, r, err, "Create failed")
			return
		}

		stored := row
		if len(result.Inserted) > 0 && len(result.Inserted[0]) > 0 {
			stored = result.Inserted[0][0]
		}
		id := asID(stored[res.Table.PrimaryKey])
		h.afterWrite(r, res, "create", id)
		writeSuccess(w, http.StatusCreated, "Created successfully", shape(res.Table, stored, op.ResponseFields))
	}
}

func (h *ResourceHandler) readOne(res *Resource, op *OperationConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		row, err := h.exec.Get(r.Context(), res.Table.Name, id, op.ResponseFields...)
		if err != nil {
			h.fail(w, r, err, res.Name+" with id "+chi.URLParam(r, "id"))
			return
		}
		writeSuccess(w, http.StatusOK, "Success", shape(res.Table, row, op.ResponseFields))
	}
}

func (h *ResourceHandler) filter(res *Resource, op *OperationConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FilterRequest
		if err := readJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
			if errors.Is(err, condition.ErrInvalidCondition) {
				h.fail(w, r, err, "Query failed")
				return
			}
			writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
		limit, offset := DefaultLimit, 0
		if req.Limit != nil {
			limit = *req.Limit
		}
		if req.Offset != nil {
			offset = *req.Offset
		}
		h.runFilter(w, r, res, op, database.Query{
			Table:   res.Table.Name,
			Columns: req.SelectColumns,
			Where:   req.WhereConditions.Root,
			GroupBy: req.GroupByColumns,
			OrderBy: req.OrderByColumns,
			Limit:   limit,
			Offset:  offset,
		})
	}
}

// list is the query-string form of filter:
// ?filter=...&fields=a,b&order=a DESC&group=a&limit=10&offset=0
func (h *ResourceHandler) list(res *Resource, op *OperationConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		where, err := query.ParseFilter(q.Get("filter"))
		if err != nil {
			h.fail(w, r, err, "Invalid filter")
			return
		}
		fields, err := query.ParseFieldSelection(q.Get("fields"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid fields parameter: "+err.Error())
			return
		}
		order, err := query.ParseOrderClause(q.Get("order"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid order parameter: "+err.Error())
			return
		}
		group, err := query.ParseFieldSelection(q.Get("group"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid group parameter: "+err.Error())
			return
		}
		limit, err := queryInt(r, "limit", DefaultLimit)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		offset, err := queryInt(r, "offset", 0)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.runFilter(w, r, res, op, database.Query{
			Table:   res.Table.Name,
			Columns: fields,
			Where:   where,
			GroupBy: group,
			OrderBy: order,
			Limit:   limit,
			Offset:  offset,
		})
	}
}

func (h *ResourceHandler) runFilter(w http.ResponseWriter, r *http.Request, res *Resource, op *OperationConfig, q database.Query) {
	if q.Limit < 1 || q.Limit > MaxLimit {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 100000")
		return
	}
	if q.Offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must not be negative")
		return
	}
	for _, names := range [][]string{q.Columns, q.GroupBy, q.OrderBy, condition.Fields(q.Where)} {
		if err := checkVisible(res.Table, names); err != nil {
			h.fail(w, r, err, "Query failed")
			return
		}
	}
	if len(q.Columns) == 0 && len(q.GroupBy) == 0 {
		q.Columns = op.ResponseFields
	}

	rows, err := h.exec.RunQuery(r.Context(), q)
	if err != nil {
		h.fail(w, r, err, "Query failed")
		return
	}
	records := make([]map[string]any, len(rows))
	for i, row := range rows {
		records[i] = shape(res.Table, row, nil)
	}
	writeSuccess(w, http.StatusOK, "Success", model.ListResponse{
		Records: records,
		Count:   len(records),
		Limit:   q.Limit,
		Offset:  q.Offset,
	})
}

func (h *ResourceHandler) update(res *Resource, op *OperationConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var body map[string]any
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
		ctx := r.Context()
		if _, err := h.exec.Get(ctx, res.Table.Name, id, res.Table.PrimaryKey); err != nil {
			h.fail(w, r, err, res.Name+" with id "+chi.URLParam(r, "id"))
			return
		}
		for k, v := range body {
			if v == nil {
				delete(body, k)
			}
		}
		if len(body) == 0 {
			writeError(w, http.StatusBadRequest, "No fields to update")
			return
		}
		set, err := validatePayload(res, body)
		if err != nil {
			h.fail(w, r, err, "Update failed")
			return
		}
		if res.BeforeUpdate != nil {
			if err := res.BeforeUpdate(ctx, id, set); err != nil {
				h.fail(w, r, err, "Update failed")
				return
			}
		}
		for _, f := range res.ExtraFields {
			delete(set, f)
		}
		if len(set) == 0 {
			writeError(w, http.StatusBadRequest, "No fields to update")
			return
		}
		stamp(res.Table, set, h.now(), false)

		if _, err := h.exec.BulkDML(ctx, []database.Operation{{
			Table: res.Table.Name,
			Kind:  database.OpUpdate,
			Set:   set,
			Where: condition.Eq(res.Table.PrimaryKey, id),
		}}, true); err != nil {
			h.fail(w, r, err, "Update failed")
			return
		}
		h.afterWrite(r, res, "update", id)

		row, err := h.exec.Get(ctx, res.Table.Name, id, op.ResponseFields...)
		if err != nil {
			h.fail(w, r, err, "Update failed")
			return
		}
		writeSuccess(w, http.StatusOK, "Updated successfully", shape(res.Table, row, op.ResponseFields))
	}
}

func (h *ResourceHandler) delete(res *Resource, op *OperationConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ctx := r.Context()
		row, err := h.exec.Get(ctx, res.Table.Name, id, op.ResponseFields...)
		if err != nil {
			h.fail(w, r, err, res.Name+" with id "+chi.URLParam(r, "id"))
			return
		}
		if res.BeforeDelete != nil {
			if err := res.BeforeDelete(ctx, id); err != nil {
				h.fail(w, r, err, "Delete failed")
				return
			}
		}
		err = h.exec.InTx(ctx, func(tx *database.Tx) error {
			if res.OnDelete != nil {
				if err := res.OnDelete(ctx, tx, id); err != nil {
					return err
				}
			}
			_, err := tx.Delete(ctx, res.Table.Name, condition.Eq(res.Table.PrimaryKey, id))
			return err
		})
		if err != nil {
			h.fail(w, r, err, "Delete failed")
			return
		}
		h.afterWrite(r, res, "delete", id)
		writeSuccess(w, http.StatusOK, "Deleted successfully", shape(res.Table, row, op.ResponseFields))
	}
}

// fail classifies err and writes the error response. Server-side failures
// are logged with their full text.
func (h *ResourceHandler) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status, clientMsg := classifyError(err, msg)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetRequestID(r.Context()), "error", err)
	}
	writeError(w, status, clientMsg)
}

// afterWrite refreshes the permission cache when the resource asks for it
// and records the write in the operation log. Neither failure is reported
// to the client.
func (h *ResourceHandler) afterWrite(r *http.Request, res *Resource, action string, id int64) {
	ctx := r.Context()
	if res.RefreshCache && h.cache != nil {
		err := h.cache.Load(ctx)
		h.metrics.CacheReload(err)
		if err != nil {
			h.logger.Error("permission cache reload failed", "resource", res.Name, "error", err)
		}
	}

	p := middleware.GetPrincipal(ctx)
	if p == nil {
		return
	}
	entry := map[string]any{
		"user_id":  p.UserID,
		"action":   action,
		"resource": res.Name,
	}
	if id > 0 {
		entry["record_id"] = id
	}
	if h.cache != nil {
		if moduleID := h.cache.ModuleID(res.Module); moduleID != 0 {
			entry["module_id"] = moduleID
		}
	}
	stamp(model.OperationLogTable, entry, h.now(), true)
	if _, err := h.exec.Insert(ctx, model.TableOperationLog, []map[string]any{entry}); err != nil {
		h.logger.Warn("operation log write failed", "resource", res.Name, "action", action, "error", err)
	}
}

func asID(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float64:
		return int64(x)
	}
	return 0
}
