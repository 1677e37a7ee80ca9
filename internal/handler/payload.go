package handler

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/gatekeepdb/gatekeep/internal/model"
	"github.com/gatekeepdb/gatekeep/internal/query"
	"github.com/gatekeepdb/gatekeep/internal/service"
)

// validatePayload checks every key of body against the resource and
// converts values to the Go type of their column. Extra fields pass through
// untouched for the resource hooks to consume.
func validatePayload(res *Resource, body map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(body))
	for k, v := range body {
		if slices.Contains(res.ExtraFields, k) {
			out[k] = v
			continue
		}
		col, ok := res.Table.Column(k)
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q", service.ErrValidation, k)
		}
		if !col.Writable() || col.Hidden || slices.Contains(res.ReadOnlyFields, k) {
			return nil, fmt.Errorf("%w: field %q cannot be set", service.ErrValidation, k)
		}
		cv, err := coerce(col, v)
		if err != nil {
			return nil, err
		}
		out[k] = cv
	}
	return out, nil
}

// checkRequired fails when a column without default or null allowance is
// missing from a create payload.
func checkRequired(t *model.Table, row map[string]any) error {
	for _, c := range t.Columns {
		if !c.Required() {
			continue
		}
		if v, ok := row[c.Name]; !ok || v == nil {
			return fmt.Errorf("%w: field %q is required", service.ErrValidation, c.Name)
		}
	}
	return nil
}

func coerce(col model.Column, v any) (any, error) {
	if v == nil {
		if !col.Nullable {
			return nil, fmt.Errorf("%w: field %q may not be null", service.ErrValidation, col.Name)
		}
		return nil, nil
	}
	bad := func() error {
		return fmt.Errorf("%w: field %q must be of type %s", service.ErrValidation, col.Name, col.Kind)
	}

	switch col.Kind {
	case model.KindInt:
		switch x := v.(type) {
		case json.Number:
			n, err := x.Int64()
			if err != nil {
				return nil, bad()
			}
			return n, nil
		case int64:
			return x, nil
		case int:
			return int64(x), nil
		}
	case model.KindFloat:
		switch x := v.(type) {
		case json.Number:
			f, err := x.Float64()
			if err != nil {
				return nil, bad()
			}
			return f, nil
		case float64:
			return x, nil
		}
	case model.KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case model.KindString, model.KindText:
		if s, ok := v.(string); ok {
			clean, err := query.CleanString(s, col.Size)
			if err != nil {
				return nil, fmt.Errorf("%w: field %q: %v", service.ErrValidation, col.Name, err)
			}
			return clean, nil
		}
	case model.KindTime:
		switch x := v.(type) {
		case string:
			ts, err := time.Parse(time.RFC3339, x)
			if err != nil {
				return nil, fmt.Errorf("%w: field %q must be an RFC 3339 timestamp", service.ErrValidation, col.Name)
			}
			return ts.UTC(), nil
		case time.Time:
			return x.UTC(), nil
		}
	}
	return nil, bad()
}

// stamp sets the server-managed timestamps the table declares.
func stamp(t *model.Table, row map[string]any, now time.Time, created bool) {
	if created && t.HasColumn("created_at") {
		row["created_at"] = now
	}
	if t.HasColumn("updated_at") {
		row["updated_at"] = now
	}
}

// shape keeps only the fields a response may carry: the configured fields,
// or every visible column. Keys not in the table (such as "count") stay.
func shape(t *model.Table, row map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		col, isCol := t.Column(k)
		switch {
		case !isCol:
			out[k] = v
		case col.Hidden:
		case len(fields) > 0 && !slices.Contains(fields, k):
		default:
			out[k] = v
		}
	}
	return out
}

// checkVisible rejects references to hidden columns, so that filters and
// projections cannot probe them.
func checkVisible(t *model.Table, names []string) error {
	for _, n := range names {
		term, err := query.ParseOrderTerm(n)
		if err == nil {
			n = term.Column
		}
		if col, ok := t.Column(n); ok && col.Hidden {
			return fmt.Errorf("%w: column %q is not readable", service.ErrValidation, n)
		}
	}
	return nil
}
