package authz

import "sort"

// RoleGraph holds role definitions keyed by id and their inheritance
// edges. Like Catalog it is a plain container; the Store owns publication.
type RoleGraph struct {
	roles map[string]Role
}

// NewRoleGraph returns an empty role graph.
func NewRoleGraph() *RoleGraph {
	return &RoleGraph{roles: make(map[string]Role)}
}

func (g *RoleGraph) clone() *RoleGraph {
	roles := make(map[string]Role, len(g.roles))
	for id, r := range g.roles {
		roles[id] = cloneRole(r)
	}
	return &RoleGraph{roles: roles}
}

func cloneRole(r Role) Role {
	r.Permissions = append([]string(nil), r.Permissions...)
	r.Restrictions.IPAllowlist = append([]string(nil), r.Restrictions.IPAllowlist...)
	r.Restrictions.Features = append([]string(nil), r.Restrictions.Features...)
	if r.Restrictions.MaxUsers != nil {
		v := *r.Restrictions.MaxUsers
		r.Restrictions.MaxUsers = &v
	}
	if r.Restrictions.TimeRange != nil {
		v := *r.Restrictions.TimeRange
		r.Restrictions.TimeRange = &v
	}
	return r
}

// Get returns the role with the given id.
func (g *RoleGraph) Get(id string) (Role, bool) {
	r, ok := g.roles[id]
	return r, ok
}

// Len returns the number of roles.
func (g *RoleGraph) Len() int { return len(g.roles) }

// List returns all roles ordered by id.
func (g *RoleGraph) List() []Role {
	out := make([]Role, 0, len(g.roles))
	for _, r := range g.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// put inserts or replaces a role. Invariant checks live in the mutation
// validators; put itself is unconditional.
func (g *RoleGraph) put(r Role) { g.roles[r.ID] = r }

// remove deletes a role from the graph.
func (g *RoleGraph) remove(id string) { delete(g.roles, id) }

// children returns the ids of roles that inherit directly from the given
// role, sorted for determinism.
func (g *RoleGraph) children(id string) []string {
	var out []string
	for _, r := range g.roles {
		if r.InheritsFrom == id {
			out = append(out, r.ID)
		}
	}
	sort.Strings(out)
	return out
}

// InheritanceChain walks inheritsFrom pointers from the given role to the
// root, most specific first. A revisited role before reaching a parentless
// role means the graph has a cycle.
func (g *RoleGraph) InheritanceChain(id string) ([]Role, error) {
	role, ok := g.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	chain := []Role{role}
	seen := map[string]struct{}{id: {}}
	current := role
	for current.InheritsFrom != "" {
		parent, ok := g.roles[current.InheritsFrom]
		if !ok {
			// Dangling parents are rejected at mutation time; stop the walk
			// at the last known ancestor.
			break
		}
		if _, revisited := seen[parent.ID]; revisited {
			ids := make([]string, 0, len(chain)+1)
			for _, r := range chain {
				ids = append(ids, r.ID)
			}
			return nil, &CyclicInheritanceError{RoleID: id, Chain: append(ids, parent.ID)}
		}
		seen[parent.ID] = struct{}{}
		chain = append(chain, parent)
		current = parent
	}
	return chain, nil
}

// ValidateAcyclic verifies that no role transitively inherits from itself
// and that every inheritsFrom pointer resolves.
func (g *RoleGraph) ValidateAcyclic() error {
	ids := make([]string, 0, len(g.roles))
	for id := range g.roles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		role := g.roles[id]
		if role.InheritsFrom != "" {
			if _, ok := g.roles[role.InheritsFrom]; !ok {
				return &ValidationError{Field: "inheritsFrom", Msg: "role " + id + " inherits from unknown role " + role.InheritsFrom}
			}
		}
		if _, err := g.InheritanceChain(id); err != nil {
			return err
		}
	}
	return nil
}

// wouldCycle reports whether pointing role's inheritsFrom at parent would
// introduce an inheritance cycle.
func (g *RoleGraph) wouldCycle(roleID, parentID string) bool {
	current := parentID
	seen := make(map[string]struct{})
	for current != "" {
		if current == roleID {
			return true
		}
		if _, revisited := seen[current]; revisited {
			return true
		}
		seen[current] = struct{}{}
		parent, ok := g.roles[current]
		if !ok {
			return false
		}
		current = parent.InheritsFrom
	}
	return false
}
