package authz

import "time"

// Scope constrains which resource instances a permission applies to.
type Scope string

// Permission scopes ordered from widest to narrowest.
const (
	ScopeGlobal     Scope = "GLOBAL"
	ScopeDepartment Scope = "DEPARTMENT"
	ScopeProject    Scope = "PROJECT"
	ScopePersonal   Scope = "PERSONAL"
)

// Valid reports whether the scope is one of the known values.
func (s Scope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeDepartment, ScopeProject, ScopePersonal:
		return true
	}
	return false
}

// rank orders scopes by breadth; a permission authorizes request scopes at
// or below its own rank.
func (s Scope) rank() int {
	switch s {
	case ScopeGlobal:
		return 3
	case ScopeDepartment:
		return 2
	case ScopeProject:
		return 1
	case ScopePersonal:
		return 0
	}
	return -1
}

// Covers reports whether a permission with scope s authorizes a request
// against a resource of scope other.
func (s Scope) Covers(other Scope) bool {
	return s.rank() >= other.rank()
}

// Permission is an atomic capability in the catalog.
type Permission struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Category     string   `json:"category"`
	Resource     string   `json:"resource"`
	Actions      []string `json:"actions"`
	Scope        Scope    `json:"scope"`
	Priority     int      `json:"priority"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// TimeRange is a daily window on the local clock, half-open [Start, End),
// expressed in minutes since midnight.
type TimeRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether the given wall-clock time falls inside the window.
func (tr TimeRange) Contains(t time.Time) bool {
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= tr.Start && minutes < tr.End
}

// Restrictions narrow a role's grant. A nil or empty field means
// unconstrained, never deny-by-default.
type Restrictions struct {
	MaxUsers    *int       `json:"maxUsers,omitempty"`
	TimeRange   *TimeRange `json:"timeRange,omitempty"`
	IPAllowlist []string   `json:"ipAllowlist,omitempty"`
	Features    []string   `json:"features,omitempty"`
}

// Empty reports whether no restriction field is set.
func (r Restrictions) Empty() bool {
	return r.MaxUsers == nil && r.TimeRange == nil && len(r.IPAllowlist) == 0 && len(r.Features) == 0
}

// RoleState tracks the role mutation lifecycle.
type RoleState string

// Role lifecycle states. Simple edits go straight to COMMITTED.
const (
	RoleStateDraft     RoleState = "DRAFT"
	RoleStateReviewed  RoleState = "REVIEWED"
	RoleStateCommitted RoleState = "COMMITTED"
	RoleStateRetired   RoleState = "RETIRED"
)

// Role bundles permissions, restrictions, and a position in the
// inheritance hierarchy.
type Role struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Level        int          `json:"level"`
	IsSystemRole bool         `json:"isSystemRole"`
	Protected    bool         `json:"protected"`
	State        RoleState    `json:"state"`
	Permissions  []string     `json:"permissions"`
	Restrictions Restrictions `json:"restrictions"`
	InheritsFrom string       `json:"inheritsFrom,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Context carries the request-time facts the engine evaluates against.
// The zero value of a field means the fact was not supplied.
type Context struct {
	Now               time.Time `json:"now"`
	CallerIP          string    `json:"callerIp"`
	ActiveAssignments int       `json:"activeAssignments"`
	ResourceScope     Scope     `json:"resourceScope,omitempty"`
	OwnsResource      bool      `json:"ownsResource"`
}

// Outcome is the result of an authorization check.
type Outcome string

// Authorization outcomes.
const (
	OutcomeAllow Outcome = "ALLOW"
	OutcomeDeny  Outcome = "DENY"
)

// Reason explains a DENY outcome.
type Reason string

// Denial reasons, ordered by decision precedence.
const (
	ReasonPermissionNotGranted  Reason = "PERMISSION_NOT_GRANTED"
	ReasonFeatureBlocked        Reason = "FEATURE_BLOCKED"
	ReasonUnsatisfiedDependency Reason = "UNSATISFIED_DEPENDENCY"
	ReasonOutsideTimeWindow     Reason = "OUTSIDE_TIME_WINDOW"
	ReasonIPNotAllowed          Reason = "IP_NOT_ALLOWED"
	ReasonRoleCapacityExceeded  Reason = "ROLE_CAPACITY_EXCEEDED"
	ReasonScopeMismatch         Reason = "SCOPE_MISMATCH"
)

// Decision is the engine's answer. Denial is a value, not an error.
type Decision struct {
	Outcome             Outcome  `json:"outcome"`
	Reason              Reason   `json:"reason,omitempty"`
	MissingDependencies []string `json:"missingDependencies,omitempty"`
}

// Allowed reports whether the decision permits the action.
func (d Decision) Allowed() bool { return d.Outcome == OutcomeAllow }

// Allow builds an ALLOW decision.
func Allow() Decision { return Decision{Outcome: OutcomeAllow} }

// Deny builds a DENY decision with the given reason.
func Deny(reason Reason) Decision { return Decision{Outcome: OutcomeDeny, Reason: reason} }

// ResolvedPermission is one entry of a role's effective permission set.
// Unsatisfied permissions are retained, never dropped, so callers can see
// why a grant is inactive.
type ResolvedPermission struct {
	PermissionID        string   `json:"permissionId"`
	Granted             bool     `json:"granted"`
	Satisfied           bool     `json:"satisfied"`
	Blocked             bool     `json:"blocked"`
	MissingDependencies []string `json:"missingDependencies,omitempty"`
	InheritedFrom       string   `json:"inheritedFrom"`
}

// ResolvedAssignment is the on-demand view of a role's full grant. It is
// derived from the current snapshot and never persisted.
type ResolvedAssignment struct {
	RoleID      string               `json:"roleId"`
	Permissions []ResolvedPermission `json:"permissions"`
}

// Lookup returns the entry for the given permission id.
func (ra ResolvedAssignment) Lookup(permissionID string) (ResolvedPermission, bool) {
	for _, rp := range ra.Permissions {
		if rp.PermissionID == permissionID {
			return rp, true
		}
	}
	return ResolvedPermission{}, false
}

// Caller identifies the already-authenticated actor performing a mutation.
// It is supplied by the identity verifier and trusted as-is.
type Caller struct {
	RoleID      string
	Level       int
	Permissions []string
}

// permissionSet builds a membership set over the caller's effective grant.
func (c Caller) permissionSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.Permissions))
	for _, p := range c.Permissions {
		set[p] = struct{}{}
	}
	return set
}
