package authz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func role(id string, level int, perms ...string) Role {
	return Role{
		ID:          id,
		Name:        id,
		Level:       level,
		State:       RoleStateCommitted,
		Permissions: perms,
		CreatedAt:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newTestSnapshot(t *testing.T, perms []Permission, roles []Role) *Snapshot {
	t.Helper()
	catalog, err := BuildCatalog(perms)
	require.NoError(t, err)
	graph, err := BuildRoleGraph(roles)
	require.NoError(t, err)
	return &Snapshot{catalog: catalog, roles: graph, version: 1}
}

func TestInheritanceChainMostSpecificFirst(t *testing.T) {
	root := role("ROOT", 100)
	middle := role("MIDDLE", 50)
	middle.InheritsFrom = "ROOT"
	leaf := role("LEAF", 10)
	leaf.InheritsFrom = "MIDDLE"

	graph, err := BuildRoleGraph([]Role{root, middle, leaf})
	require.NoError(t, err)

	chain, err := graph.InheritanceChain("LEAF")
	require.NoError(t, err)
	ids := make([]string, 0, len(chain))
	for _, r := range chain {
		ids = append(ids, r.ID)
	}
	require.Equal(t, []string{"LEAF", "MIDDLE", "ROOT"}, ids)
}

func TestInheritanceChainDetectsCycle(t *testing.T) {
	a := role("A", 10)
	a.InheritsFrom = "B"
	b := role("B", 20)
	b.InheritsFrom = "A"

	_, err := BuildRoleGraph([]Role{a, b})
	var cyclic *CyclicInheritanceError
	require.ErrorAs(t, err, &cyclic)
}

func TestWouldCycleRejectsInheritingFromDescendant(t *testing.T) {
	parent := role("PARENT", 50)
	child := role("CHILD", 10)
	child.InheritsFrom = "PARENT"

	graph, err := BuildRoleGraph([]Role{parent, child})
	require.NoError(t, err)

	require.True(t, graph.wouldCycle("PARENT", "CHILD"))
	require.True(t, graph.wouldCycle("PARENT", "PARENT"))
	require.False(t, graph.wouldCycle("CHILD", "PARENT"))
}

func TestEffectivePermissionsIsSupersetOfDirectGrant(t *testing.T) {
	perms := []Permission{perm("a"), perm("b"), perm("c", "a")}
	parent := role("PARENT", 50, "a")
	child := role("CHILD", 10, "b", "c")
	child.InheritsFrom = "PARENT"
	snap := newTestSnapshot(t, perms, []Role{parent, child})

	assignment, err := snap.EffectivePermissions("CHILD")
	require.NoError(t, err)

	for _, direct := range []string{"b", "c"} {
		entry, ok := assignment.Lookup(direct)
		require.True(t, ok, "direct grant %s must never be dropped", direct)
		require.True(t, entry.Granted)
	}
	inherited, ok := assignment.Lookup("a")
	require.True(t, ok)
	require.Equal(t, "PARENT", inherited.InheritedFrom)
}

func TestEffectivePermissionsMarksUnsatisfied(t *testing.T) {
	perms := []Permission{perm("orders.view"), perm("orders.edit", "orders.view"), perm("orders.refund", "orders.view", "orders.edit")}
	r := role("SUPPORT", 10, "orders.view", "orders.refund")
	snap := newTestSnapshot(t, perms, []Role{r})

	assignment, err := snap.EffectivePermissions("SUPPORT")
	require.NoError(t, err)

	refund, ok := assignment.Lookup("orders.refund")
	require.True(t, ok, "unsatisfied permissions are retained, not dropped")
	require.True(t, refund.Granted)
	require.False(t, refund.Satisfied)
	require.Equal(t, []string{"orders.edit"}, refund.MissingDependencies)

	view, ok := assignment.Lookup("orders.view")
	require.True(t, ok)
	require.True(t, view.Satisfied)
}

func TestEffectivePermissionsSatisfiedThroughInheritance(t *testing.T) {
	perms := []Permission{perm("orders.view"), perm("orders.edit", "orders.view"), perm("orders.refund", "orders.view", "orders.edit")}
	parent := role("BACKOFFICE", 50, "orders.view", "orders.edit")
	child := role("REFUNDS", 10, "orders.refund")
	child.InheritsFrom = "BACKOFFICE"
	snap := newTestSnapshot(t, perms, []Role{parent, child})

	assignment, err := snap.EffectivePermissions("REFUNDS")
	require.NoError(t, err)
	refund, ok := assignment.Lookup("orders.refund")
	require.True(t, ok)
	require.True(t, refund.Satisfied, "ancestors supply the dependencies")
}

func TestFeatureBlocklistSuppressesAcrossChain(t *testing.T) {
	perms := []Permission{perm("system.database")}
	parent := role("SUPER_ADMIN", 100, "system.database")
	child := role("ADMIN", 80)
	child.InheritsFrom = "SUPER_ADMIN"
	child.Restrictions.Features = []string{"system.database"}
	snap := newTestSnapshot(t, perms, []Role{parent, child})

	// The child's own blocklist suppresses the inherited grant.
	assignment, err := snap.EffectivePermissions("ADMIN")
	require.NoError(t, err)
	entry, ok := assignment.Lookup("system.database")
	require.True(t, ok)
	require.True(t, entry.Blocked)
	require.False(t, entry.Granted)

	// The ancestor itself is unaffected.
	parentView, err := snap.EffectivePermissions("SUPER_ADMIN")
	require.NoError(t, err)
	parentEntry, ok := parentView.Lookup("system.database")
	require.True(t, ok)
	require.True(t, parentEntry.Granted)
}

func TestBlockedDependencyLeavesDependentUnsatisfied(t *testing.T) {
	perms := []Permission{perm("base"), perm("top", "base")}
	r := role("OPS", 10, "base", "top")
	r.Restrictions.Features = []string{"base"}
	snap := newTestSnapshot(t, perms, []Role{r})

	assignment, err := snap.EffectivePermissions("OPS")
	require.NoError(t, err)
	top, ok := assignment.Lookup("top")
	require.True(t, ok)
	require.False(t, top.Satisfied)
	require.Equal(t, []string{"base"}, top.MissingDependencies)
}
