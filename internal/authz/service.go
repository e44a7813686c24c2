package authz

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nimbus-iam/nimbus-iam/internal/audit"
)

// Repository is the narrow persistence boundary. The core never reads it
// on the decision path; it loads once at boot and stores each committed
// mutation synchronously.
type Repository interface {
	LoadState(ctx context.Context) ([]Permission, []Role, error)
	SavePermission(ctx context.Context, p Permission) error
	SaveRole(ctx context.Context, r Role) error
	DeleteRole(ctx context.Context, id string) error
}

// AssignmentCounter tracks active role assignments.
type AssignmentCounter interface {
	Count(ctx context.Context, roleID string) (int, error)
	Assign(ctx context.Context, roleID, userID string) error
	Unassign(ctx context.Context, roleID, userID string) error
}

// MutationObserver records mutation attempts for metrics.
type MutationObserver interface {
	ObserveMutation(kind, result string)
}

// Service gates every catalog and role-graph mutation. Each successful
// mutation re-validates both graphs and publishes a new snapshot through
// the store; failures leave the published state untouched.
type Service struct {
	store       *Store
	repo        Repository
	audit       AuditEmitter
	assignments AssignmentCounter
	assignMu    sync.Mutex
	metrics     MutationObserver
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs the mutation service. audit, assignments and
// metrics may be nil.
func NewService(store *Store, repo Repository, sink AuditEmitter, assignments AssignmentCounter, metrics MutationObserver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       store,
		repo:        repo,
		audit:       sink,
		assignments: assignments,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// Store exposes the snapshot store, primarily for wiring the engine.
func (s *Service) Store() *Store { return s.store }

// RegisterPermission inserts a permission into the catalog and persists
// it. The id must be new, every dependency must exist, and the resulting
// dependency graph must stay acyclic.
func (s *Service) RegisterPermission(ctx context.Context, p Permission, caller Caller) error {
	normalizePermission(&p)
	err := s.store.Mutate(
		func(catalog *Catalog, _ *RoleGraph) error {
			return catalog.Register(p)
		},
		func() error {
			if s.repo == nil {
				return nil
			}
			return s.repo.SavePermission(ctx, p)
		},
	)
	s.recordMutation(ctx, caller, "permission.register", "permission", p.ID, err)
	return err
}

// RoleSpec is the payload for CreateRole. System roles cannot be created
// through the API; they are seeded at boot.
type RoleSpec struct {
	ID           string
	Name         string
	Description  string
	Level        int
	State        RoleState
	Permissions  []string
	Restrictions Restrictions
	InheritsFrom string
}

// CreateRole validates and inserts a new role.
//
// Authority rule: the caller's effective permission set must be a superset
// of everything the new role would grant (direct permissions plus the
// inherited grant), and the caller's level must be strictly greater than
// the new role's level. No self-escalation, no lateral escalation, no
// granting permissions the grantor lacks.
func (s *Service) CreateRole(ctx context.Context, spec RoleSpec, caller Caller) (Role, error) {
	var created Role
	err := s.store.Mutate(
		func(catalog *Catalog, roles *RoleGraph) error {
			role, err := buildRole(spec, s.now())
			if err != nil {
				return err
			}
			if _, exists := roles.Get(role.ID); exists {
				return &DuplicateIDError{ID: role.ID}
			}
			if err := validateRoleGrant(catalog, role.Permissions); err != nil {
				return err
			}
			if role.InheritsFrom != "" {
				if _, ok := roles.Get(role.InheritsFrom); !ok {
					return &ValidationError{Field: "inheritsFrom", Msg: "unknown role " + role.InheritsFrom}
				}
				if roles.wouldCycle(role.ID, role.InheritsFrom) {
					return &CyclicInheritanceError{RoleID: role.ID, Chain: []string{role.ID, role.InheritsFrom}}
				}
			}
			if err := checkGrantAuthority(catalog, roles, role, caller); err != nil {
				return err
			}
			roles.put(role)
			created = role
			return nil
		},
		func() error {
			if s.repo == nil {
				return nil
			}
			return s.repo.SaveRole(ctx, created)
		},
	)
	s.recordMutation(ctx, caller, "role.create", "role", spec.ID, err)
	if err != nil {
		return Role{}, err
	}
	return created, nil
}

// RolePatch carries partial role updates; nil fields are untouched.
type RolePatch struct {
	Name         *string
	Description  *string
	Level        *int
	State        *RoleState
	Permissions  *[]string
	Restrictions *Restrictions
	InheritsFrom *string
}

// touchesStructure reports whether the patch alters the fields protected
// system roles forbid changing.
func (p RolePatch) touchesStructure() bool {
	return p.Permissions != nil || p.Restrictions != nil || p.InheritsFrom != nil
}

// UpdateRole applies a patch under optimistic concurrency. The stored
// updatedAt must match expectedUpdatedAt or the update is rejected with
// ConflictError and the caller must re-fetch and retry.
func (s *Service) UpdateRole(ctx context.Context, id string, patch RolePatch, caller Caller, expectedUpdatedAt time.Time) (Role, error) {
	var updated Role
	err := s.store.Mutate(
		func(catalog *Catalog, roles *RoleGraph) error {
			role, ok := roles.Get(id)
			if !ok {
				return ErrNotFound
			}
			if !role.UpdatedAt.Equal(expectedUpdatedAt) {
				return &ConflictError{RoleID: id, Expected: expectedUpdatedAt, Actual: role.UpdatedAt}
			}
			if role.Protected && patch.touchesStructure() {
				return &ProtectedResourceError{RoleID: id, Op: "structural update"}
			}
			if caller.Level <= role.Level {
				return &AuthorityError{CallerRole: caller.RoleID, Msg: "cannot edit a role at or above the caller's level"}
			}

			next := cloneRole(role)
			if patch.Name != nil {
				next.Name = strings.TrimSpace(*patch.Name)
			}
			if patch.Description != nil {
				next.Description = strings.TrimSpace(*patch.Description)
			}
			if patch.Level != nil {
				if *patch.Level >= caller.Level {
					return &AuthorityError{CallerRole: caller.RoleID, Msg: "cannot raise a role to the caller's level or above"}
				}
				next.Level = *patch.Level
			}
			if patch.State != nil {
				if err := validateStateTransition(role.State, *patch.State); err != nil {
					return err
				}
				next.State = *patch.State
			}
			if patch.Restrictions != nil {
				if err := validateRestrictions(*patch.Restrictions); err != nil {
					return err
				}
				next.Restrictions = *patch.Restrictions
			}
			if patch.InheritsFrom != nil {
				parent := strings.TrimSpace(*patch.InheritsFrom)
				if parent != "" {
					if _, ok := roles.Get(parent); !ok {
						return &ValidationError{Field: "inheritsFrom", Msg: "unknown role " + parent}
					}
					if roles.wouldCycle(id, parent) {
						return &CyclicInheritanceError{RoleID: id, Chain: []string{id, parent}}
					}
				}
				next.InheritsFrom = parent
			}
			if patch.Permissions != nil {
				next.Permissions = dedupe(*patch.Permissions)
				if err := validateRoleGrant(catalog, next.Permissions); err != nil {
					return err
				}
			}

			added, removed := diffGrant(role.Permissions, next.Permissions)
			if len(removed) > 0 {
				if err := checkRemovalSafe(catalog, roles, next, removed); err != nil {
					return err
				}
			}
			if len(added) > 0 || patch.InheritsFrom != nil || patch.Level != nil {
				if err := checkGrantAuthority(catalog, roles, next, caller); err != nil {
					return err
				}
			}

			next.UpdatedAt = s.now()
			roles.put(next)
			updated = next
			return nil
		},
		func() error {
			if s.repo == nil {
				return nil
			}
			return s.repo.SaveRole(ctx, updated)
		},
	)
	s.recordMutation(ctx, caller, "role.update", "role", id, err)
	if err != nil {
		return Role{}, err
	}
	return updated, nil
}

// DeleteRole retires a role. System roles, roles with inheriting children,
// and roles with active assignments are never deleted.
func (s *Service) DeleteRole(ctx context.Context, id string, caller Caller) error {
	err := s.store.Mutate(
		func(_ *Catalog, roles *RoleGraph) error {
			role, ok := roles.Get(id)
			if !ok {
				return ErrNotFound
			}
			if role.IsSystemRole {
				return &ProtectedResourceError{RoleID: id, Op: "delete"}
			}
			if caller.Level <= role.Level {
				return &AuthorityError{CallerRole: caller.RoleID, Msg: "cannot delete a role at or above the caller's level"}
			}
			if children := roles.children(id); len(children) > 0 {
				return &RoleInUseError{RoleID: id, Children: children}
			}
			if s.assignments != nil {
				count, err := s.assignments.Count(ctx, id)
				if err != nil {
					return err
				}
				if count > 0 {
					return &RoleInUseError{RoleID: id, ActiveAssignments: count}
				}
			}
			roles.remove(id)
			return nil
		},
		func() error {
			if s.repo == nil {
				return nil
			}
			return s.repo.DeleteRole(ctx, id)
		},
	)
	s.recordMutation(ctx, caller, "role.delete", "role", id, err)
	return err
}

// AssignUser admits a user into a role, enforcing the maxUsers cap of the
// role and every ancestor. The cap gates admission only; it never revokes
// sessions already holding the role.
func (s *Service) AssignUser(ctx context.Context, roleID, userID string, caller Caller) (Decision, error) {
	snapshot := s.store.Current()
	chain, err := snapshot.InheritanceChain(roleID)
	if err != nil {
		return Decision{}, err
	}
	if s.assignments == nil {
		return Decision{}, ErrNotFound
	}
	// Count-check-add must be one critical section: two admissions racing
	// on the last seat would otherwise both pass the cap.
	s.assignMu.Lock()
	defer s.assignMu.Unlock()
	count, err := s.assignments.Count(ctx, roleID)
	if err != nil {
		return Decision{}, err
	}
	proposed := Context{ActiveAssignments: count + 1}
	for _, role := range chain {
		if d := EvaluateAdmission(role.Restrictions, proposed); !d.Allowed() {
			s.recordAssignment(ctx, caller, roleID, userID, d)
			return d, nil
		}
	}
	if err := s.assignments.Assign(ctx, roleID, userID); err != nil {
		return Decision{}, err
	}
	d := Allow()
	s.recordAssignment(ctx, caller, roleID, userID, d)
	return d, nil
}

// UnassignUser removes a user from a role.
func (s *Service) UnassignUser(ctx context.Context, roleID, userID string, caller Caller) error {
	if s.assignments == nil {
		return ErrNotFound
	}
	err := s.assignments.Unassign(ctx, roleID, userID)
	s.recordMutation(ctx, caller, "role.unassign", "assignment", roleID+"/"+userID, err)
	return err
}

func (s *Service) recordMutation(ctx context.Context, caller Caller, action, entity, entityID string, err error) {
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	if s.metrics != nil {
		s.metrics.ObserveMutation(action, result)
	}
	if s.audit != nil {
		ev := audit.NewEvent(audit.KindMutation, caller.RoleID, action, entity, entityID)
		ev.Outcome = result
		if err != nil {
			ev.Reason = err.Error()
		}
		s.audit.Emit(ctx, ev)
	}
}

func (s *Service) recordAssignment(ctx context.Context, caller Caller, roleID, userID string, d Decision) {
	if s.metrics != nil {
		s.metrics.ObserveMutation("role.assign", strings.ToLower(string(d.Outcome)))
	}
	if s.audit != nil {
		ev := audit.NewEvent(audit.KindMutation, caller.RoleID, "role.assign", "assignment", roleID+"/"+userID)
		ev.Outcome = string(d.Outcome)
		ev.Reason = string(d.Reason)
		s.audit.Emit(ctx, ev)
	}
}

func normalizePermission(p *Permission) {
	p.ID = strings.TrimSpace(p.ID)
	p.Resource = strings.TrimSpace(p.Resource)
	p.Dependencies = dedupe(p.Dependencies)
}

func buildRole(spec RoleSpec, now time.Time) (Role, error) {
	id := strings.TrimSpace(spec.ID)
	if id == "" {
		return Role{}, &ValidationError{Field: "id", Msg: "required"}
	}
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return Role{}, &ValidationError{Field: "name", Msg: "required"}
	}
	state := spec.State
	if state == "" {
		state = RoleStateCommitted
	}
	switch state {
	case RoleStateDraft, RoleStateReviewed, RoleStateCommitted:
	default:
		return Role{}, &ValidationError{Field: "state", Msg: "must be DRAFT, REVIEWED, or COMMITTED"}
	}
	if err := validateRestrictions(spec.Restrictions); err != nil {
		return Role{}, err
	}
	return Role{
		ID:           id,
		Name:         name,
		Description:  strings.TrimSpace(spec.Description),
		Level:        spec.Level,
		State:        state,
		Permissions:  dedupe(spec.Permissions),
		Restrictions: spec.Restrictions,
		InheritsFrom: strings.TrimSpace(spec.InheritsFrom),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// validateStateTransition enforces the forward-only role lifecycle:
// DRAFT -> REVIEWED -> COMMITTED. RETIRED is reached only through delete.
func validateStateTransition(from, to RoleState) error {
	if from == to {
		return nil
	}
	switch {
	case from == RoleStateDraft && (to == RoleStateReviewed || to == RoleStateCommitted):
		return nil
	case from == RoleStateReviewed && to == RoleStateCommitted:
		return nil
	}
	return &ValidationError{Field: "state", Msg: string(from) + " cannot transition to " + string(to)}
}

// validateRoleGrant ensures every directly granted permission id exists in
// the catalog.
func validateRoleGrant(catalog *Catalog, permissions []string) error {
	for _, pid := range permissions {
		if _, ok := catalog.Get(pid); !ok {
			return &ValidationError{Field: "permissions", Msg: "unknown permission " + pid}
		}
	}
	return nil
}

// checkGrantAuthority verifies the caller may hand out everything the role
// would effectively grant: the caller's set must cover the role's direct
// permissions and, when the role inherits, the inherited grant too, and
// the caller must outrank the role.
func checkGrantAuthority(catalog *Catalog, roles *RoleGraph, role Role, caller Caller) error {
	if role.Level >= caller.Level {
		return &AuthorityError{CallerRole: caller.RoleID, Msg: "target role level must be below the caller's level"}
	}
	callerSet := caller.permissionSet()
	var exceeds []string
	for _, pid := range role.Permissions {
		if _, ok := callerSet[pid]; !ok {
			exceeds = append(exceeds, pid)
		}
	}
	if role.InheritsFrom != "" {
		probe := &Snapshot{catalog: catalog, roles: roles}
		inherited, err := probe.EffectivePermissions(role.InheritsFrom)
		if err == nil {
			for _, rp := range inherited.Permissions {
				if !rp.Granted {
					continue
				}
				if _, ok := callerSet[rp.PermissionID]; !ok {
					exceeds = append(exceeds, rp.PermissionID)
				}
			}
		}
	}
	if len(exceeds) > 0 {
		sort.Strings(exceeds)
		return &AuthorityError{
			CallerRole: caller.RoleID,
			Msg:        "grant exceeds the caller's own permissions: " + strings.Join(dedupe(exceeds), ", "),
		}
	}
	return nil
}

// checkRemovalSafe rejects removals that would leave other permissions in
// the role's effective set with an unsatisfiable dependency, rather than
// silently cascading.
func checkRemovalSafe(catalog *Catalog, roles *RoleGraph, patched Role, removed []string) error {
	scratch := roles.clone()
	scratch.put(patched)
	probe := &Snapshot{catalog: catalog, roles: scratch}
	assignment, err := probe.EffectivePermissions(patched.ID)
	if err != nil {
		return err
	}
	still := make(map[string]struct{}, len(assignment.Permissions))
	for _, rp := range assignment.Permissions {
		if rp.Granted {
			still[rp.PermissionID] = struct{}{}
		}
	}
	for _, removedID := range removed {
		if _, present := still[removedID]; present {
			// Another role in the chain still supplies it.
			continue
		}
		var affected []string
		for _, rp := range assignment.Permissions {
			if !rp.Granted {
				continue
			}
			for _, missing := range rp.MissingDependencies {
				if missing == removedID {
					affected = append(affected, rp.PermissionID)
					break
				}
			}
		}
		if len(affected) > 0 {
			sort.Strings(affected)
			return &DependencyViolation{RemovedID: removedID, AffectedPermissionIDs: affected}
		}
	}
	return nil
}

// diffGrant returns the ids added to and removed from the direct grant.
func diffGrant(before, after []string) (added, removed []string) {
	beforeSet := make(map[string]struct{}, len(before))
	for _, id := range before {
		beforeSet[id] = struct{}{}
	}
	afterSet := make(map[string]struct{}, len(after))
	for _, id := range after {
		afterSet[id] = struct{}{}
		if _, ok := beforeSet[id]; !ok {
			added = append(added, id)
		}
	}
	for _, id := range before {
		if _, ok := afterSet[id]; !ok {
			removed = append(removed, id)
		}
	}
	return added, removed
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
