package authz

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func perm(id string, deps ...string) Permission {
	return Permission{
		ID:           id,
		Name:         id,
		Resource:     "order",
		Actions:      []string{"read"},
		Scope:        ScopeGlobal,
		Dependencies: deps,
	}
}

func TestCatalogRegisterRejectsDuplicates(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(perm("orders.view")))

	err := c.Register(perm("orders.view"))
	var dup *DuplicateIDError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, "orders.view", dup.ID)
}

func TestCatalogRegisterRejectsDanglingDependencies(t *testing.T) {
	c := NewCatalog()
	err := c.Register(perm("orders.refund", "orders.view", "orders.edit"))
	var dangling *DanglingDependencyError
	require.ErrorAs(t, err, &dangling)
	require.Equal(t, "orders.refund", dangling.PermissionID)
	require.Equal(t, []string{"orders.edit", "orders.view"}, dangling.Missing)
}

func TestCatalogRegisterRejectsSelfDependency(t *testing.T) {
	c := NewCatalog()
	err := c.Register(perm("orders.view", "orders.view"))
	var cycle *DependencyCycleError
	require.ErrorAs(t, err, &cycle)
	require.Equal(t, []string{"orders.view", "orders.view"}, cycle.CyclePath)
}

func TestCatalogRegisterValidatesInput(t *testing.T) {
	c := NewCatalog()
	cases := map[string]Permission{
		"empty id":    {Resource: "order", Actions: []string{"read"}, Scope: ScopeGlobal},
		"no resource": {ID: "x", Actions: []string{"read"}, Scope: ScopeGlobal},
		"no actions":  {ID: "x", Resource: "order", Scope: ScopeGlobal},
		"bad scope":   {ID: "x", Resource: "order", Actions: []string{"read"}, Scope: "REGIONAL"},
		"empty scope": {ID: "x", Resource: "order", Actions: []string{"read"}},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			var validation *ValidationError
			require.ErrorAs(t, c.Register(p), &validation)
		})
	}
}

func TestBuildCatalogDetectsTransitiveCycle(t *testing.T) {
	// A transitive cycle can only exist in persisted state; registration
	// order prevents building one incrementally.
	_, err := BuildCatalog([]Permission{
		perm("a", "b"),
		perm("b", "c"),
		perm("c", "a"),
	})
	var cycle *DependencyCycleError
	require.ErrorAs(t, err, &cycle)
	require.GreaterOrEqual(t, len(cycle.CyclePath), 4)
	require.Equal(t, cycle.CyclePath[0], cycle.CyclePath[len(cycle.CyclePath)-1])
}

func TestResolveDependenciesTopologicalOrder(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(perm("base")))
	require.NoError(t, c.Register(perm("mid.a", "base")))
	require.NoError(t, c.Register(perm("mid.b", "base")))
	require.NoError(t, c.Register(perm("top", "mid.a", "mid.b")))

	order, err := c.ResolveDependencies("top")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"base", "mid.a", "mid.b"}, order)

	// Every dependency must precede its dependents, and appear once.
	position := make(map[string]int, len(order))
	for i, id := range order {
		_, seen := position[id]
		require.False(t, seen, "duplicate entry %s", id)
		position[id] = i
	}
	for _, id := range order {
		p, ok := c.Get(id)
		require.True(t, ok)
		for _, dep := range p.Dependencies {
			require.Less(t, position[dep], position[id],
				"%s must come before %s", dep, id)
		}
	}
}

func TestResolveDependenciesUnknownPermission(t *testing.T) {
	c := NewCatalog()
	_, err := c.ResolveDependencies("ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolveDependenciesDeepChain(t *testing.T) {
	// A chain deep enough to overflow a recursive resolver.
	const depth = 50_000
	c := NewCatalog()
	require.NoError(t, c.Register(perm("p0")))
	for i := 1; i < depth; i++ {
		require.NoError(t, c.Register(perm(
			fmt.Sprintf("p%d", i),
			fmt.Sprintf("p%d", i-1),
		)))
	}
	order, err := c.ResolveDependencies(fmt.Sprintf("p%d", depth-1))
	require.NoError(t, err)
	require.Len(t, order, depth-1)
	require.Equal(t, "p0", order[0])
	require.NoError(t, c.ValidateAcyclic())
}

func TestValidateAcyclicReportsCyclePath(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(perm("a")))
	require.NoError(t, c.Register(perm("b", "a")))
	// Close the loop behind Register's back to simulate corrupted state.
	p := c.perms["a"]
	p.Dependencies = []string{"b"}
	c.perms["a"] = p

	err := c.ValidateAcyclic()
	var cycle *DependencyCycleError
	require.ErrorAs(t, err, &cycle)
	require.Contains(t, cycle.CyclePath, "a")
	require.Contains(t, cycle.CyclePath, "b")
}
