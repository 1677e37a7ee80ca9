package model

import "time"

// User is an account that authenticates with a username and password and
// acts with the permissions of exactly one role.
type User struct {
	ID            int64      `json:"id" db:"id"`
	Username      string     `json:"username" db:"username"`
	Email         string     `json:"email" db:"email"`
	PasswordHash  string     `json:"-" db:"password_hash"`
	IsActive      bool       `json:"is_active" db:"is_active"`
	PhoneNumber   *string    `json:"phone_number" db:"phone_number"`
	LastLoginTime *time.Time `json:"last_login_time" db:"last_login_time"`
	Locale        string     `json:"locale" db:"locale"`
	RoleID        int64      `json:"role_id" db:"role_id"`
	Description   *string    `json:"description" db:"description"`
	CreatedAt     *time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at" db:"updated_at"`
}

// Role groups per-module permission bitmasks.
type Role struct {
	ID          int64      `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	IsActive    bool       `json:"is_active" db:"is_active"`
	Description *string    `json:"description" db:"description"`
	CreatedAt   *time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at" db:"updated_at"`
}

// Module is a named resource. Modules form a two-level tree: parents group
// leaf modules, and only leaf modules carry permission bits.
type Module struct {
	ID          int64      `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	URL         *string    `json:"url" db:"url"`
	Icon        *string    `json:"icon" db:"icon"`
	ParentID    *int64     `json:"parent_id" db:"parent_id"`
	Path        *string    `json:"path" db:"path"`
	Description *string    `json:"description" db:"description"`
	CreatedAt   *time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at" db:"updated_at"`
}

// Permission names one bit of the permission bitmask.
type Permission struct {
	ID            int64      `json:"id" db:"id"`
	Name          string     `json:"name" db:"name"`
	PermissionBit int64      `json:"permission_bit" db:"permission_bit"`
	Description   *string    `json:"description" db:"description"`
	CreatedAt     *time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at" db:"updated_at"`
}

// ModulePermission declares that a permission applies to a module.
type ModulePermission struct {
	ID           int64 `json:"id" db:"id"`
	ModuleID     int64 `json:"module_id" db:"module_id"`
	PermissionID int64 `json:"permission_id" db:"permission_id"`
}

// RoleModulePermission holds the bitmask a role has on one module.
type RoleModulePermission struct {
	ID          int64   `json:"id" db:"id"`
	RoleID      int64   `json:"role_id" db:"role_id"`
	ModuleID    int64   `json:"module_id" db:"module_id"`
	Permissions Bitmask `json:"permissions" db:"permissions"`
}

// AdminRoleName is the role whose permission rows cannot be changed
// through the API.
const AdminRoleName = "admin"
