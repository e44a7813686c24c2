package authz

import (
	"sort"
	"strings"
)

// Catalog holds permission definitions keyed by id together with their
// dependency edges. It is a plain value container; snapshot publication and
// locking are the Store's concern.
type Catalog struct {
	perms map[string]Permission
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{perms: make(map[string]Permission)}
}

func (c *Catalog) clone() *Catalog {
	perms := make(map[string]Permission, len(c.perms))
	for id, p := range c.perms {
		p.Actions = append([]string(nil), p.Actions...)
		p.Dependencies = append([]string(nil), p.Dependencies...)
		perms[id] = p
	}
	return &Catalog{perms: perms}
}

// Get returns the permission with the given id.
func (c *Catalog) Get(id string) (Permission, bool) {
	p, ok := c.perms[id]
	return p, ok
}

// Len returns the number of registered permissions.
func (c *Catalog) Len() int { return len(c.perms) }

// List returns all permissions ordered by id.
func (c *Catalog) List() []Permission {
	out := make([]Permission, 0, len(c.perms))
	for _, p := range c.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Register inserts a permission. The id must be new and every declared
// dependency must already be registered.
func (c *Catalog) Register(p Permission) error {
	if err := validatePermission(p); err != nil {
		return err
	}
	if _, exists := c.perms[p.ID]; exists {
		return &DuplicateIDError{ID: p.ID}
	}
	var missing []string
	for _, dep := range p.Dependencies {
		if dep == p.ID {
			return &DependencyCycleError{CyclePath: []string{p.ID, p.ID}}
		}
		if _, ok := c.perms[dep]; !ok {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &DanglingDependencyError{PermissionID: p.ID, Missing: missing}
	}
	c.perms[p.ID] = p
	return nil
}

func validatePermission(p Permission) error {
	if strings.TrimSpace(p.ID) == "" {
		return &ValidationError{Field: "id", Msg: "required"}
	}
	if strings.TrimSpace(p.Resource) == "" {
		return &ValidationError{Field: "resource", Msg: "required"}
	}
	if len(p.Actions) == 0 {
		return &ValidationError{Field: "actions", Msg: "at least one action required"}
	}
	if !p.Scope.Valid() {
		return &ValidationError{Field: "scope", Msg: "must be one of GLOBAL, DEPARTMENT, PROJECT, PERSONAL"}
	}
	return nil
}

// Traversal colors for the iterative cycle check.
const (
	colorWhite = iota // unvisited
	colorGray         // on the current path
	colorBlack        // fully explored
)

// depFrame is one level of the explicit depth-first worklist.
type depFrame struct {
	id   string
	next int
}

// cyclePath extracts the ids from the first occurrence of repeated up to
// the top of the stack, closing the loop with the repeated id.
func cyclePath(stack []depFrame, repeated string) []string {
	var path []string
	recording := false
	for _, f := range stack {
		if f.id == repeated {
			recording = true
		}
		if recording {
			path = append(path, f.id)
		}
	}
	return append(path, repeated)
}

// ValidateAcyclic verifies that the dependency relation contains no cycle.
// It runs an iterative depth-first traversal and fails with the first cycle
// found, reporting the ids along it.
func (c *Catalog) ValidateAcyclic() error {
	color := make(map[string]int, len(c.perms))
	// Deterministic start order keeps the reported cycle stable.
	ids := make([]string, 0, len(c.perms))
	for id := range c.perms {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, start := range ids {
		if color[start] != colorWhite {
			continue
		}
		stack := []depFrame{{id: start}}
		color[start] = colorGray
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := c.perms[top.id].Dependencies
			if top.next < len(deps) {
				dep := deps[top.next]
				top.next++
				switch color[dep] {
				case colorWhite:
					color[dep] = colorGray
					stack = append(stack, depFrame{id: dep})
				case colorGray:
					return &DependencyCycleError{CyclePath: cyclePath(stack, dep)}
				}
				continue
			}
			color[top.id] = colorBlack
			stack = stack[:len(stack)-1]
		}
	}
	return nil
}

// ResolveDependencies returns the transitive dependency closure of the
// given permission in topological order: every id appears exactly once and
// before any permission that depends on it. The traversal is iterative so
// arbitrarily deep chains cannot overflow the stack.
func (c *Catalog) ResolveDependencies(id string) ([]string, error) {
	root, ok := c.perms[id]
	if !ok {
		return nil, ErrNotFound
	}

	color := map[string]int{id: colorGray}
	stack := make([]depFrame, 0, len(root.Dependencies)+1)
	stack = append(stack, depFrame{id: id})
	order := make([]string, 0, len(root.Dependencies))

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		deps := c.perms[top.id].Dependencies
		if top.next < len(deps) {
			dep := deps[top.next]
			top.next++
			switch color[dep] {
			case colorWhite:
				if _, known := c.perms[dep]; !known {
					// Dangling edges are rejected at registration time;
					// tolerate them here rather than resolving an unknown node.
					continue
				}
				color[dep] = colorGray
				stack = append(stack, depFrame{id: dep})
			case colorGray:
				return nil, &DependencyCycleError{CyclePath: cyclePath(stack, dep)}
			}
			continue
		}
		color[top.id] = colorBlack
		if top.id != id {
			order = append(order, top.id)
		}
		stack = stack[:len(stack)-1]
	}
	return order, nil
}
