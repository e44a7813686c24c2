package authz

import (
	"context"
	"sort"
)

// BuildCatalog assembles a catalog from persisted permissions, then
// re-validates the invariants registration normally enforces. Load order
// does not matter: dangling references and cycles are checked over the
// whole graph at once.
func BuildCatalog(perms []Permission) (*Catalog, error) {
	catalog := NewCatalog()
	for _, p := range perms {
		if err := validatePermission(p); err != nil {
			return nil, err
		}
		if _, exists := catalog.perms[p.ID]; exists {
			return nil, &DuplicateIDError{ID: p.ID}
		}
		catalog.perms[p.ID] = p
	}
	for _, p := range catalog.List() {
		var missing []string
		for _, dep := range p.Dependencies {
			if _, ok := catalog.perms[dep]; !ok {
				missing = append(missing, dep)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return nil, &DanglingDependencyError{PermissionID: p.ID, Missing: missing}
		}
	}
	if err := catalog.ValidateAcyclic(); err != nil {
		return nil, err
	}
	return catalog, nil
}

// BuildRoleGraph assembles a role graph from persisted roles and validates
// the inheritance invariants.
func BuildRoleGraph(roles []Role) (*RoleGraph, error) {
	graph := NewRoleGraph()
	for _, r := range roles {
		if _, exists := graph.roles[r.ID]; exists {
			return nil, &DuplicateIDError{ID: r.ID}
		}
		graph.roles[r.ID] = cloneRole(r)
	}
	if err := graph.ValidateAcyclic(); err != nil {
		return nil, err
	}
	return graph, nil
}

// LoadStore reads the full catalog and role graph through the persistence
// adapter and publishes the first snapshot. When the adapter holds no
// state yet, the seed catalog and system roles are installed and persisted.
func LoadStore(ctx context.Context, repo Repository) (*Store, error) {
	perms, roles, err := repo.LoadState(ctx)
	if err != nil {
		return nil, err
	}
	seeded := false
	if len(perms) == 0 && len(roles) == 0 {
		perms = SeedPermissions()
		roles = SeedRoles()
		seeded = true
	}
	catalog, err := BuildCatalog(perms)
	if err != nil {
		return nil, err
	}
	graph, err := BuildRoleGraph(roles)
	if err != nil {
		return nil, err
	}
	store, err := NewStore(catalog, graph)
	if err != nil {
		return nil, err
	}
	if seeded {
		for _, p := range perms {
			if err := repo.SavePermission(ctx, p); err != nil {
				return nil, err
			}
		}
		for _, r := range roles {
			if err := repo.SaveRole(ctx, r); err != nil {
				return nil, err
			}
		}
	}
	return store, nil
}
