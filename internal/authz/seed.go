package authz

import "time"

// seedTime gives built-in definitions a stable concurrency token.
var seedTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// SeedPermissions returns the built-in permission catalog installed when
// the persistence adapter holds no state.
func SeedPermissions() []Permission {
	return []Permission{
		{ID: "users.view", Name: "View Users", Category: "core", Resource: "user", Actions: []string{"read"}, Scope: ScopeGlobal, Priority: 10},
		{ID: "users.edit", Name: "Edit Users", Category: "core", Resource: "user", Actions: []string{"update"}, Scope: ScopeGlobal, Priority: 20, Dependencies: []string{"users.view"}},
		{ID: "roles.view", Name: "View Roles", Category: "core", Resource: "role", Actions: []string{"read"}, Scope: ScopeGlobal, Priority: 10},
		{ID: "roles.edit", Name: "Edit Roles", Category: "core", Resource: "role", Actions: []string{"create", "update", "delete"}, Scope: ScopeGlobal, Priority: 30, Dependencies: []string{"roles.view"}},
		{ID: "permissions.view", Name: "View Permissions", Category: "core", Resource: "permission", Actions: []string{"read"}, Scope: ScopeGlobal, Priority: 10},
		{ID: "orders.view", Name: "View Orders", Category: "orders", Resource: "order", Actions: []string{"read"}, Scope: ScopeDepartment, Priority: 10},
		{ID: "orders.edit", Name: "Edit Orders", Category: "orders", Resource: "order", Actions: []string{"update"}, Scope: ScopeDepartment, Priority: 20, Dependencies: []string{"orders.view"}},
		{ID: "orders.refund", Name: "Refund Orders", Category: "orders", Resource: "order", Actions: []string{"refund"}, Scope: ScopeDepartment, Priority: 40, Dependencies: []string{"orders.view", "orders.edit"}},
		{ID: "community.moderate", Name: "Moderate Community", Category: "community", Resource: "post", Actions: []string{"update", "delete"}, Scope: ScopeProject, Priority: 20},
		{ID: "profile.edit", Name: "Edit Own Profile", Category: "core", Resource: "profile", Actions: []string{"update"}, Scope: ScopePersonal, Priority: 5},
		{ID: "system.database", Name: "Database Administration", Category: "system", Resource: "database", Actions: []string{"read", "update", "delete"}, Scope: ScopeGlobal, Priority: 100},
	}
}

// SeedRoles returns the built-in system roles. SUPER_ADMIN is fully
// protected: it can be neither deleted nor structurally edited.
func SeedRoles() []Role {
	all := make([]string, 0, len(SeedPermissions()))
	for _, p := range SeedPermissions() {
		all = append(all, p.ID)
	}
	return []Role{
		{
			ID: "SUPER_ADMIN", Name: "Super Administrator", Level: 100,
			IsSystemRole: true, Protected: true, State: RoleStateCommitted,
			Permissions: all,
			CreatedAt:   seedTime, UpdatedAt: seedTime,
		},
		{
			ID: "ADMIN", Name: "Administrator", Level: 80,
			IsSystemRole: true, State: RoleStateCommitted,
			Permissions:  []string{"users.view", "users.edit", "roles.view", "roles.edit", "permissions.view"},
			InheritsFrom: "SUPER_ADMIN",
			Restrictions: Restrictions{Features: []string{"system.database"}},
			CreatedAt:    seedTime, UpdatedAt: seedTime,
		},
		{
			ID: "MODERATOR", Name: "Moderator", Level: 40,
			IsSystemRole: true, State: RoleStateCommitted,
			Permissions: []string{"orders.view", "community.moderate"},
			CreatedAt:   seedTime, UpdatedAt: seedTime,
		},
		{
			ID: "VIEWER", Name: "Viewer", Level: 10,
			IsSystemRole: true, State: RoleStateCommitted,
			Permissions: []string{"users.view", "orders.view", "profile.edit"},
			CreatedAt:   seedTime, UpdatedAt: seedTime,
		},
	}
}
