package authz

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is an immutable point-in-time view of the permission catalog
// and the role graph. Readers resolve and authorize against a snapshot
// without synchronization; it is never mutated after publication.
type Snapshot struct {
	catalog *Catalog
	roles   *RoleGraph
	version uint64
	builtAt time.Time
}

// Version returns the monotonically increasing snapshot version.
func (s *Snapshot) Version() uint64 { return s.version }

// BuiltAt returns the publication time of the snapshot.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Permission returns the permission definition with the given id.
func (s *Snapshot) Permission(id string) (Permission, bool) { return s.catalog.Get(id) }

// Permissions lists the full catalog ordered by id.
func (s *Snapshot) Permissions() []Permission { return s.catalog.List() }

// Role returns the role definition with the given id.
func (s *Snapshot) Role(id string) (Role, bool) { return s.roles.Get(id) }

// Roles lists all roles ordered by id.
func (s *Snapshot) Roles() []Role { return s.roles.List() }

// ResolveDependencies exposes the catalog's transitive dependency closure
// for the introspection API.
func (s *Snapshot) ResolveDependencies(permissionID string) ([]string, error) {
	return s.catalog.ResolveDependencies(permissionID)
}

// InheritanceChain exposes the role graph walk for the introspection API.
func (s *Snapshot) InheritanceChain(roleID string) ([]Role, error) {
	return s.roles.InheritanceChain(roleID)
}

// EffectivePermissions unions direct permissions across the role's
// inheritance chain and marks each entry satisfied only when its entire
// transitive dependency closure is present in the union and not suppressed
// by a feature blocklist anywhere in the chain. Unsatisfied entries are
// retained with the missing dependency ids so auditors can see why a grant
// is inactive.
func (s *Snapshot) EffectivePermissions(roleID string) (ResolvedAssignment, error) {
	chain, err := s.roles.InheritanceChain(roleID)
	if err != nil {
		return ResolvedAssignment{}, err
	}

	// Union of direct grants; the most specific role wins attribution.
	contributor := make(map[string]string)
	for _, role := range chain {
		for _, pid := range role.Permissions {
			if _, ok := contributor[pid]; !ok {
				contributor[pid] = role.ID
			}
		}
	}

	// A blocklist anywhere in the chain suppresses the capability for the
	// whole chain; restrictions narrow, inheritance never widens past one.
	blocked := make(map[string]struct{})
	for _, role := range chain {
		for _, feature := range role.Restrictions.Features {
			blocked[feature] = struct{}{}
		}
	}

	ids := make([]string, 0, len(contributor))
	for pid := range contributor {
		ids = append(ids, pid)
	}
	sort.Strings(ids)

	resolved := make([]ResolvedPermission, 0, len(ids))
	for _, pid := range ids {
		entry := ResolvedPermission{
			PermissionID:  pid,
			InheritedFrom: contributor[pid],
		}
		if _, isBlocked := blocked[pid]; isBlocked {
			entry.Blocked = true
			resolved = append(resolved, entry)
			continue
		}
		entry.Granted = true
		closure, err := s.catalog.ResolveDependencies(pid)
		if err != nil {
			// Unknown permission ids in a role survive only between load and
			// the next validation pass; report them unsatisfied.
			entry.MissingDependencies = []string{pid}
			resolved = append(resolved, entry)
			continue
		}
		var missing []string
		for _, dep := range closure {
			if _, present := contributor[dep]; !present {
				missing = append(missing, dep)
				continue
			}
			if _, depBlocked := blocked[dep]; depBlocked {
				missing = append(missing, dep)
			}
		}
		entry.Satisfied = len(missing) == 0
		entry.MissingDependencies = missing
		resolved = append(resolved, entry)
	}
	return ResolvedAssignment{RoleID: roleID, Permissions: resolved}, nil
}

// Authorize answers whether the role may exercise the permission in the
// given context. It is a pure function of the snapshot and the context:
// no mutation, no locking, safe for any number of concurrent callers.
//
// Precedence when several failures apply: permission absence, then
// unsatisfied dependency, then restriction failure, then scope mismatch.
func (s *Snapshot) Authorize(roleID, permissionID string, reqCtx Context) Decision {
	assignment, err := s.EffectivePermissions(roleID)
	if err != nil {
		// An unknown or cyclic role grants nothing.
		return Deny(ReasonPermissionNotGranted)
	}
	entry, present := assignment.Lookup(permissionID)
	if !present {
		return Deny(ReasonPermissionNotGranted)
	}
	if entry.Blocked {
		return Deny(ReasonFeatureBlocked)
	}
	if !entry.Satisfied {
		d := Deny(ReasonUnsatisfiedDependency)
		d.MissingDependencies = entry.MissingDependencies
		return d
	}

	chain, err := s.roles.InheritanceChain(roleID)
	if err != nil {
		return Deny(ReasonPermissionNotGranted)
	}
	for _, role := range chain {
		if d := EvaluateAccess(role.Restrictions, reqCtx); !d.Allowed() {
			return d
		}
	}

	if reqCtx.ResourceScope != "" {
		perm, ok := s.catalog.Get(permissionID)
		if ok && !scopeCompatible(perm.Scope, reqCtx) {
			return Deny(ReasonScopeMismatch)
		}
	}
	return Allow()
}

// scopeCompatible applies the scope lattice: a permission authorizes
// request scopes at or below its own breadth, and a PERSONAL permission
// additionally requires the caller to own the resource. GLOBAL authorizes
// regardless. An unrecognized request scope never matches.
func scopeCompatible(permScope Scope, reqCtx Context) bool {
	if !reqCtx.ResourceScope.Valid() {
		return false
	}
	if !permScope.Covers(reqCtx.ResourceScope) {
		return false
	}
	if permScope == ScopePersonal && !reqCtx.OwnsResource {
		return false
	}
	return true
}

// Store publishes snapshots. Any number of readers dereference the current
// snapshot without locking; writers serialize on the store mutex, validate
// against private clones, and swap the pointer only after validation and
// persistence succeed, so readers never observe partial state.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	now     func() time.Time
}

// NewStore builds a store seeded with the given catalog and role graph.
// The seed is validated the same way mutations are.
func NewStore(catalog *Catalog, roles *RoleGraph) (*Store, error) {
	if catalog == nil {
		catalog = NewCatalog()
	}
	if roles == nil {
		roles = NewRoleGraph()
	}
	if err := catalog.ValidateAcyclic(); err != nil {
		return nil, err
	}
	if err := roles.ValidateAcyclic(); err != nil {
		return nil, err
	}
	st := &Store{now: time.Now}
	st.current.Store(&Snapshot{catalog: catalog, roles: roles, version: 1, builtAt: st.now()})
	return st, nil
}

// Current returns the snapshot readers should resolve against.
func (st *Store) Current() *Snapshot { return st.current.Load() }

// Mutate runs one exclusive mutation. apply edits private clones of the
// catalog and role graph; both graphs are then re-validated, commit (when
// non-nil) persists the change, and only then is the new snapshot
// published. Any error leaves the current snapshot untouched.
func (st *Store) Mutate(apply func(*Catalog, *RoleGraph) error, commit func() error) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	cur := st.current.Load()
	catalog := cur.catalog.clone()
	roles := cur.roles.clone()

	if err := apply(catalog, roles); err != nil {
		return err
	}
	if err := catalog.ValidateAcyclic(); err != nil {
		return err
	}
	if err := roles.ValidateAcyclic(); err != nil {
		return err
	}
	if commit != nil {
		if err := commit(); err != nil {
			return err
		}
	}
	st.current.Store(&Snapshot{
		catalog: catalog,
		roles:   roles,
		version: cur.version + 1,
		builtAt: st.now(),
	})
	return nil
}
