package handler

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gatekeepdb/gatekeep/internal/model"
	"github.com/gatekeepdb/gatekeep/internal/service"
)

func userResource() *Resource {
	return &Resource{Name: "user", Table: model.UserTable, Module: "User", ExtraFields: []string{"password"}}
}

func TestValidatePayload(t *testing.T) {
	tests := []struct {
		name    string
		body    map[string]any
		want    map[string]any
		wantErr bool
	}{
		{
			name: "coerces columns and passes extras",
			body: map[string]any{"username": "dave", "role_id": json.Number("3"), "is_active": false, "password": "pw"},
			want: map[string]any{"username": "dave", "role_id": int64(3), "is_active": false, "password": "pw"},
		},
		{"unknown field", map[string]any{"nickname": "d"}, nil, true},
		{"auto increment key", map[string]any{"id": json.Number("9")}, nil, true},
		{"server managed", map[string]any{"updated_at": "2024-01-01T00:00:00Z"}, nil, true},
		{"hidden column", map[string]any{"password_hash": "x"}, nil, true},
		{"fractional integer", map[string]any{"role_id": json.Number("1.5")}, nil, true},
		{"null into non-nullable", map[string]any{"username": nil}, nil, true},
		{"string too long", map[string]any{"locale": strings.Repeat("x", 17)}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := validatePayload(userResource(), tt.body)
			if tt.wantErr {
				if !errors.Is(err, service.ErrValidation) {
					t.Fatalf("err = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("payload = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestValidatePayloadReadOnlyFields(t *testing.T) {
	res := &Resource{Name: "permission", Table: model.PermissionTable, ReadOnlyFields: []string{"permission_bit"}}
	if _, err := validatePayload(res, map[string]any{"permission_bit": json.Number("64")}); !errors.Is(err, service.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestCoerceTime(t *testing.T) {
	col, _ := model.UserTable.Column("last_login_time")
	got, err := coerce(col, "2024-05-01T10:00:00+02:00")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	if !got.(time.Time).Equal(want) || got.(time.Time).Location() != time.UTC {
		t.Errorf("coerce = %v, want %v", got, want)
	}
	if _, err := coerce(col, "yesterday"); !errors.Is(err, service.ErrValidation) {
		t.Errorf("err = %v", err)
	}
	if v, err := coerce(col, nil); err != nil || v != nil {
		t.Errorf("nullable nil = %v, %v", v, err)
	}
}

func TestCheckRequired(t *testing.T) {
	row := map[string]any{"username": "e", "email": "e@example.com", "password_hash": "h", "role_id": int64(1)}
	if err := checkRequired(model.UserTable, row); err != nil {
		t.Errorf("complete row rejected: %v", err)
	}
	delete(row, "email")
	err := checkRequired(model.UserTable, row)
	if !errors.Is(err, service.ErrValidation) || !strings.Contains(err.Error(), `"email"`) {
		t.Errorf("err = %v", err)
	}
}

func TestStamp(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	created := map[string]any{}
	stamp(model.RoleTable, created, now, true)
	if created["created_at"] != now || created["updated_at"] != now {
		t.Errorf("create stamp = %v", created)
	}

	updated := map[string]any{}
	stamp(model.RoleTable, updated, now, false)
	if _, ok := updated["created_at"]; ok || updated["updated_at"] != now {
		t.Errorf("update stamp = %v", updated)
	}
}

func TestShape(t *testing.T) {
	row := map[string]any{"id": int64(1), "username": "a", "email": "a@example.com", "password_hash": "h", "count": int64(3)}

	got := shape(model.UserTable, row, nil)
	want := map[string]any{"id": int64(1), "username": "a", "email": "a@example.com", "count": int64(3)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("shape = %v", got)
	}

	got = shape(model.UserTable, row, []string{"id", "password_hash"})
	if !reflect.DeepEqual(got, map[string]any{"id": int64(1), "count": int64(3)}) {
		t.Errorf("shape with fields = %v", got)
	}
}

func TestCheckVisible(t *testing.T) {
	if err := checkVisible(model.UserTable, []string{"username", "email DESC"}); err != nil {
		t.Errorf("visible columns rejected: %v", err)
	}
	for _, names := range [][]string{{"password_hash"}, {"password_hash ASC"}} {
		if err := checkVisible(model.UserTable, names); !errors.Is(err, service.ErrValidation) {
			t.Errorf("checkVisible(%v) = %v", names, err)
		}
	}
}
