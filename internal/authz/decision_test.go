package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func seedSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	return newTestSnapshot(t, SeedPermissions(), SeedRoles())
}

func TestAuthorizeUnknownRoleDenies(t *testing.T) {
	snap := seedSnapshot(t)
	d := snap.Authorize("NO_SUCH_ROLE", "orders.view", Context{})
	require.False(t, d.Allowed())
	require.Equal(t, ReasonPermissionNotGranted, d.Reason)
}

func TestAuthorizeUngrantedPermission(t *testing.T) {
	snap := seedSnapshot(t)
	d := snap.Authorize("MODERATOR", "orders.refund", Context{})
	require.False(t, d.Allowed())
	require.Equal(t, ReasonPermissionNotGranted, d.Reason)
}

func TestAuthorizeFeatureBlocklistBeatsInheritedGrant(t *testing.T) {
	snap := seedSnapshot(t)
	// ADMIN inherits system.database from SUPER_ADMIN but blocklists the
	// feature for itself.
	d := snap.Authorize("ADMIN", "system.database", Context{})
	require.False(t, d.Allowed())
	require.Equal(t, ReasonFeatureBlocked, d.Reason)

	require.True(t, snap.Authorize("SUPER_ADMIN", "system.database", Context{}).Allowed())
}

func TestAuthorizeUnsatisfiedDependencyListsMissing(t *testing.T) {
	perms := []Permission{perm("orders.view"), perm("orders.edit", "orders.view"), perm("orders.refund", "orders.view", "orders.edit")}
	r := role("SUPPORT", 10, "orders.view", "orders.refund")
	snap := newTestSnapshot(t, perms, []Role{r})

	d := snap.Authorize("SUPPORT", "orders.refund", Context{})
	require.False(t, d.Allowed())
	require.Equal(t, ReasonUnsatisfiedDependency, d.Reason)
	require.Equal(t, []string{"orders.edit"}, d.MissingDependencies)
}

func TestAuthorizePrecedenceAbsenceBeforeRestrictions(t *testing.T) {
	// A role with a time window that would also fail must still report the
	// absence first.
	r := role("NIGHT", 10)
	r.Restrictions.TimeRange = &TimeRange{Start: 0, End: 60}
	snap := newTestSnapshot(t, []Permission{perm("orders.view")}, []Role{r})

	d := snap.Authorize("NIGHT", "orders.view", Context{Now: at(12, 0)})
	require.Equal(t, ReasonPermissionNotGranted, d.Reason)
}

func TestAuthorizePrecedenceDependencyBeforeRestrictions(t *testing.T) {
	perms := []Permission{perm("base"), perm("top", "base")}
	r := role("OPS", 10, "top")
	r.Restrictions.TimeRange = &TimeRange{Start: 0, End: 60}
	snap := newTestSnapshot(t, perms, []Role{r})

	d := snap.Authorize("OPS", "top", Context{Now: at(12, 0)})
	require.Equal(t, ReasonUnsatisfiedDependency, d.Reason)
}

func TestAuthorizeChainRestrictionsMostSpecificFirst(t *testing.T) {
	parent := role("PARENT", 50, "orders.view")
	parent.Restrictions.IPAllowlist = []string{"10.0.0.0/8"}
	child := role("CHILD", 10)
	child.InheritsFrom = "PARENT"
	child.Restrictions.TimeRange = &TimeRange{Start: 9 * 60, End: 18 * 60}
	snap := newTestSnapshot(t, []Permission{perm("orders.view")}, []Role{parent, child})

	// The child's own window fails before the ancestor's allowlist is
	// consulted.
	d := snap.Authorize("CHILD", "orders.view", Context{Now: at(20, 0), CallerIP: "203.0.113.9"})
	require.Equal(t, ReasonOutsideTimeWindow, d.Reason)

	// Inside the window the ancestor's allowlist still binds.
	d = snap.Authorize("CHILD", "orders.view", Context{Now: at(10, 0), CallerIP: "203.0.113.9"})
	require.Equal(t, ReasonIPNotAllowed, d.Reason)

	require.True(t, snap.Authorize("CHILD", "orders.view", Context{Now: at(10, 0), CallerIP: "10.1.2.3"}).Allowed())
}

func TestAuthorizeTimeWindowScenario(t *testing.T) {
	r := role("CLERK", 10, "orders.view")
	r.Restrictions.TimeRange = &TimeRange{Start: 9 * 60, End: 18 * 60}
	snap := newTestSnapshot(t, []Permission{perm("orders.view")}, []Role{r})

	require.True(t, snap.Authorize("CLERK", "orders.view", Context{Now: at(10, 0)}).Allowed())

	d := snap.Authorize("CLERK", "orders.view", Context{Now: at(20, 0)})
	require.False(t, d.Allowed())
	require.Equal(t, ReasonOutsideTimeWindow, d.Reason)
}

func TestAuthorizeScopeLattice(t *testing.T) {
	snap := seedSnapshot(t)

	// DEPARTMENT-scoped orders.view authorizes department and narrower.
	require.True(t, snap.Authorize("VIEWER", "orders.view", Context{ResourceScope: ScopeDepartment}).Allowed())
	require.True(t, snap.Authorize("VIEWER", "orders.view", Context{ResourceScope: ScopeProject}).Allowed())

	d := snap.Authorize("VIEWER", "orders.view", Context{ResourceScope: ScopeGlobal})
	require.False(t, d.Allowed())
	require.Equal(t, ReasonScopeMismatch, d.Reason)

	// No request scope supplied means the scope check does not apply.
	require.True(t, snap.Authorize("VIEWER", "orders.view", Context{}).Allowed())
}

func TestAuthorizeUnrecognizedResourceScopeDenies(t *testing.T) {
	snap := seedSnapshot(t)

	// An unknown scope string must never rank below every permission scope
	// and slip through as compatible.
	d := snap.Authorize("VIEWER", "orders.view", Context{ResourceScope: Scope("REGIONAL")})
	require.False(t, d.Allowed())
	require.Equal(t, ReasonScopeMismatch, d.Reason)

	d = snap.Authorize("SUPER_ADMIN", "users.view", Context{ResourceScope: Scope("REGIONAL")})
	require.False(t, d.Allowed(), "even a GLOBAL grant does not cover an unknown scope")
	require.Equal(t, ReasonScopeMismatch, d.Reason)
}

func TestAuthorizePersonalScopeRequiresOwnership(t *testing.T) {
	snap := seedSnapshot(t)

	owned := snap.Authorize("VIEWER", "profile.edit", Context{ResourceScope: ScopePersonal, OwnsResource: true})
	require.True(t, owned.Allowed())

	foreign := snap.Authorize("VIEWER", "profile.edit", Context{ResourceScope: ScopePersonal})
	require.False(t, foreign.Allowed())
	require.Equal(t, ReasonScopeMismatch, foreign.Reason)
}

func TestAuthorizeAllowHasNoReason(t *testing.T) {
	snap := seedSnapshot(t)
	d := snap.Authorize("SUPER_ADMIN", "users.edit", Context{})
	require.True(t, d.Allowed())
	require.Empty(t, d.Reason)
	require.Empty(t, d.MissingDependencies)
}

func TestEngineAuditsDenialsOnly(t *testing.T) {
	repo := newMemoryRepo()
	for _, p := range SeedPermissions() {
		repo.perms[p.ID] = p
	}
	for _, r := range SeedRoles() {
		repo.roles[r.ID] = r
	}
	store, err := LoadStore(context.Background(), repo)
	require.NoError(t, err)
	emitter := &recordingEmitter{}
	engine := NewEngine(store, emitter, nil, nil)

	allowed := engine.Authorize(context.Background(), "VIEWER", "orders.view", Context{})
	require.True(t, allowed.Allowed())
	require.Empty(t, emitter.byAction("authorize"), "allows are not audited")

	denied := engine.Authorize(context.Background(), "VIEWER", "system.database", Context{})
	require.False(t, denied.Allowed())
	events := emitter.byAction("authorize")
	require.Len(t, events, 1)
	require.Equal(t, "VIEWER", events[0].Actor)
	require.Equal(t, string(ReasonPermissionNotGranted), events[0].Reason)
}

func TestStoreMutateSwapsOnlyOnSuccess(t *testing.T) {
	store, err := NewStore(nil, nil)
	require.NoError(t, err)
	before := store.Current()
	require.EqualValues(t, 1, before.Version())

	failed := store.Mutate(func(c *Catalog, _ *RoleGraph) error {
		require.NoError(t, c.Register(perm("a")))
		return ErrNotFound
	}, nil)
	require.Error(t, failed)
	require.Same(t, before, store.Current(), "failed mutations publish nothing")

	require.NoError(t, store.Mutate(func(c *Catalog, _ *RoleGraph) error {
		return c.Register(perm("a"))
	}, nil))
	after := store.Current()
	require.EqualValues(t, 2, after.Version())
	_, ok := after.Permission("a")
	require.True(t, ok)
	_, ok = before.Permission("a")
	require.False(t, ok, "published snapshots stay immutable")
}

func TestStoreMutateCommitFailureLeavesSnapshot(t *testing.T) {
	store, err := NewStore(nil, nil)
	require.NoError(t, err)
	before := store.Current()

	commitErr := store.Mutate(func(c *Catalog, _ *RoleGraph) error {
		return c.Register(perm("a"))
	}, func() error { return ErrNotFound })
	require.Error(t, commitErr)
	require.Same(t, before, store.Current())
}
