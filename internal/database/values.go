package database

import (
	"strconv"
	"time"

	"github.com/gatekeepdb/gatekeep/internal/model"
)

// timeLayouts are the text forms drivers hand back for timestamp columns
// when they do not parse them themselves.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func cleanRow(t *model.Table, row map[string]any) {
	for k, v := range row {
		row[k] = cleanValue(t, k, v)
	}
}

// cleanValue converts a scanned driver value into the Go type that matches
// the column kind, so rows serialize the same way on every database.
func cleanValue(t *model.Table, name string, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil
	}

	kind := model.ColumnKind("")
	if col, ok := t.Column(name); ok {
		kind = col.Kind
	} else if name == "count" {
		kind = model.KindInt
	}

	switch kind {
	case model.KindInt:
		switch x := v.(type) {
		case string:
			if n, err := strconv.ParseInt(x, 10, 64); err == nil {
				return n
			}
		case int32:
			return int64(x)
		case int:
			return int64(x)
		case float64:
			if x == float64(int64(x)) {
				return int64(x)
			}
		}
	case model.KindBool:
		switch x := v.(type) {
		case int64:
			return x != 0
		case string:
			if b, err := strconv.ParseBool(x); err == nil {
				return b
			}
		}
	case model.KindFloat:
		if s, ok := v.(string); ok {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f
			}
		}
	case model.KindTime:
		if s, ok := v.(string); ok {
			for _, layout := range timeLayouts {
				if ts, err := time.Parse(layout, s); err == nil {
					return ts
				}
			}
		}
	}
	return v
}
