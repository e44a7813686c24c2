package authz

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound indicates that the requested role or permission does not exist.
var ErrNotFound = errors.New("authz: not found")

// ValidationError reports malformed input to a register or create call.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("authz: invalid %s: %s", e.Field, e.Msg)
}

// DuplicateIDError reports an insert with an id that already exists.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("authz: id %q already exists", e.ID)
}

// DanglingDependencyError reports dependency ids that reference no known
// permission.
type DanglingDependencyError struct {
	PermissionID string
	Missing      []string
}

func (e *DanglingDependencyError) Error() string {
	return fmt.Sprintf("authz: permission %q references unknown dependencies: %s",
		e.PermissionID, strings.Join(e.Missing, ", "))
}

// DependencyCycleError reports a cycle in the permission dependency graph.
// CyclePath lists the ids along the cycle, first id repeated at the end.
type DependencyCycleError struct {
	CyclePath []string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("authz: dependency cycle: %s", strings.Join(e.CyclePath, " -> "))
}

// CyclicInheritanceError reports a role that transitively inherits from
// itself.
type CyclicInheritanceError struct {
	RoleID string
	Chain  []string
}

func (e *CyclicInheritanceError) Error() string {
	return fmt.Sprintf("authz: role %q inheritance cycle: %s", e.RoleID, strings.Join(e.Chain, " -> "))
}

// ConflictError reports a stale optimistic-concurrency token on update.
// The caller must re-fetch the role and retry.
type ConflictError struct {
	RoleID   string
	Expected time.Time
	Actual   time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("authz: role %q was modified concurrently (expected %s, stored %s)",
		e.RoleID, e.Expected.UTC().Format(time.RFC3339Nano), e.Actual.UTC().Format(time.RFC3339Nano))
}

// DependencyViolation reports a permission removal that would leave other
// effective permissions with an unsatisfiable dependency.
type DependencyViolation struct {
	RemovedID             string
	AffectedPermissionIDs []string
}

func (e *DependencyViolation) Error() string {
	return fmt.Sprintf("authz: removing %q would orphan dependents: %s",
		e.RemovedID, strings.Join(e.AffectedPermissionIDs, ", "))
}

// ProtectedResourceError reports an edit or delete of a protected system
// role.
type ProtectedResourceError struct {
	RoleID string
	Op     string
}

func (e *ProtectedResourceError) Error() string {
	return fmt.Sprintf("authz: role %q is protected, %s rejected", e.RoleID, e.Op)
}

// RoleInUseError reports a delete of a role that other roles inherit from
// or that still has active assignments.
type RoleInUseError struct {
	RoleID            string
	Children          []string
	ActiveAssignments int
}

func (e *RoleInUseError) Error() string {
	if len(e.Children) > 0 {
		return fmt.Sprintf("authz: role %q still inherited by: %s (reparent first)",
			e.RoleID, strings.Join(e.Children, ", "))
	}
	return fmt.Sprintf("authz: role %q still has %d active assignments", e.RoleID, e.ActiveAssignments)
}

// AuthorityError reports a mutation the caller lacks the authority to make:
// granting permissions the caller does not hold, or acting on a role at or
// above the caller's own level.
type AuthorityError struct {
	CallerRole string
	Msg        string
}

func (e *AuthorityError) Error() string {
	return fmt.Sprintf("authz: caller %q lacks authority: %s", e.CallerRole, e.Msg)
}
