package model

// Table names of the system schema.
const (
	TableUser                 = "sys_user"
	TableRole                 = "sys_role"
	TableModule               = "sys_module"
	TablePermission           = "sys_permission"
	TableModulePermission     = "sys_module_permission"
	TableRoleModulePermission = "sys_role_module_permission"
	TableOperationLog         = "sys_operation_log"
)

// commonColumns are shared by every system table.
func commonColumns(cols ...Column) []Column {
	out := []Column{
		{Name: "id", Kind: KindInt, PrimaryKey: true, AutoIncrement: true},
	}
	out = append(out, cols...)
	return append(out,
		Column{Name: "description", Kind: KindString, Size: 255, Nullable: true},
		Column{Name: "created_at", Kind: KindTime, Nullable: true, ServerManaged: true},
		Column{Name: "updated_at", Kind: KindTime, Nullable: true, ServerManaged: true},
	)
}

var (
	UserTable = &Table{
		Name:       TableUser,
		PrimaryKey: "id",
		Columns: commonColumns(
			Column{Name: "username", Kind: KindString, Size: 64},
			Column{Name: "email", Kind: KindString, Size: 128},
			Column{Name: "password_hash", Kind: KindString, Size: 255, Hidden: true},
			Column{Name: "is_active", Kind: KindBool, Default: true},
			Column{Name: "phone_number", Kind: KindString, Size: 32, Nullable: true},
			Column{Name: "last_login_time", Kind: KindTime, Nullable: true},
			Column{Name: "locale", Kind: KindString, Size: 16, Default: "zh-CN"},
			Column{Name: "role_id", Kind: KindInt},
		),
		Uniques: [][]string{{"username"}, {"email"}},
		ForeignKeys: []ForeignKey{
			{ColumnName: "role_id", ReferencedTable: TableRole, ReferencedColumn: "id"},
		},
	}

	RoleTable = &Table{
		Name:       TableRole,
		PrimaryKey: "id",
		Columns: commonColumns(
			Column{Name: "name", Kind: KindString, Size: 64},
			Column{Name: "is_active", Kind: KindBool, Default: true},
		),
		Uniques: [][]string{{"name"}},
	}

	ModuleTable = &Table{
		Name:       TableModule,
		PrimaryKey: "id",
		Columns: commonColumns(
			Column{Name: "name", Kind: KindString, Size: 64},
			Column{Name: "url", Kind: KindString, Size: 255, Nullable: true},
			Column{Name: "icon", Kind: KindString, Size: 64, Nullable: true},
			Column{Name: "parent_id", Kind: KindInt, Nullable: true},
			Column{Name: "path", Kind: KindString, Size: 255, Nullable: true},
		),
		Uniques: [][]string{{"name"}},
		ForeignKeys: []ForeignKey{
			{ColumnName: "parent_id", ReferencedTable: TableModule, ReferencedColumn: "id"},
		},
	}

	PermissionTable = &Table{
		Name:       TablePermission,
		PrimaryKey: "id",
		Columns: commonColumns(
			Column{Name: "name", Kind: KindString, Size: 64},
			Column{Name: "permission_bit", Kind: KindInt},
		),
		Uniques: [][]string{{"name"}, {"permission_bit"}},
	}

	ModulePermissionTable = &Table{
		Name:       TableModulePermission,
		PrimaryKey: "id",
		Columns: commonColumns(
			Column{Name: "module_id", Kind: KindInt},
			Column{Name: "permission_id", Kind: KindInt},
		),
		Uniques: [][]string{{"module_id", "permission_id"}},
		ForeignKeys: []ForeignKey{
			{ColumnName: "module_id", ReferencedTable: TableModule, ReferencedColumn: "id", OnDelete: "CASCADE"},
			{ColumnName: "permission_id", ReferencedTable: TablePermission, ReferencedColumn: "id", OnDelete: "CASCADE"},
		},
	}

	RoleModulePermissionTable = &Table{
		Name:       TableRoleModulePermission,
		PrimaryKey: "id",
		Columns: commonColumns(
			Column{Name: "role_id", Kind: KindInt},
			Column{Name: "module_id", Kind: KindInt},
			Column{Name: "permissions", Kind: KindInt, Default: 0},
		),
		Uniques: [][]string{{"role_id", "module_id"}},
		ForeignKeys: []ForeignKey{
			{ColumnName: "role_id", ReferencedTable: TableRole, ReferencedColumn: "id", OnDelete: "CASCADE"},
			{ColumnName: "module_id", ReferencedTable: TableModule, ReferencedColumn: "id", OnDelete: "CASCADE"},
		},
	}

	OperationLogTable = &Table{
		Name:       TableOperationLog,
		PrimaryKey: "id",
		Columns: commonColumns(
			Column{Name: "user_id", Kind: KindInt},
			Column{Name: "module_id", Kind: KindInt, Nullable: true},
			Column{Name: "action", Kind: KindString, Size: 16},
			Column{Name: "resource", Kind: KindString, Size: 64},
			Column{Name: "record_id", Kind: KindInt, Nullable: true},
		),
	}
)

// SystemTables returns the system schema in dependency order, so that
// creating tables in this order satisfies every foreign key.
func SystemTables() []*Table {
	return []*Table{
		RoleTable,
		ModuleTable,
		PermissionTable,
		UserTable,
		ModulePermissionTable,
		RoleModulePermissionTable,
		OperationLogTable,
	}
}
