package graphexport

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimbus-iam/nimbus-iam/internal/authz"
)

func seededSnapshot(t *testing.T) *authz.Snapshot {
	t.Helper()
	catalog, err := authz.BuildCatalog(authz.SeedPermissions())
	require.NoError(t, err)
	graph, err := authz.BuildRoleGraph(authz.SeedRoles())
	require.NoError(t, err)
	store, err := authz.NewStore(catalog, graph)
	require.NoError(t, err)
	return store.Current()
}

func TestBuildStatementsStartsWithWipe(t *testing.T) {
	stmts := BuildStatements(seededSnapshot(t))
	require.NotEmpty(t, stmts)
	require.Contains(t, stmts[0].Cypher, "DETACH DELETE")
}

func TestBuildStatementsCoversGraph(t *testing.T) {
	snapshot := seededSnapshot(t)
	stmts := BuildStatements(snapshot)

	var permNodes, roleNodes, dependsOn, inherits, grants int
	for _, stmt := range stmts {
		switch {
		case strings.HasPrefix(stmt.Cypher, "MERGE (p:Permission"):
			permNodes++
		case strings.HasPrefix(stmt.Cypher, "MERGE (r:Role"):
			roleNodes++
		case strings.Contains(stmt.Cypher, ":DEPENDS_ON"):
			dependsOn++
		case strings.Contains(stmt.Cypher, ":INHERITS_FROM"):
			inherits++
		case strings.Contains(stmt.Cypher, ":GRANTS"):
			grants++
		}
	}

	require.Equal(t, len(snapshot.Permissions()), permNodes)
	require.Equal(t, len(snapshot.Roles()), roleNodes)

	wantDeps := 0
	for _, p := range snapshot.Permissions() {
		wantDeps += len(p.Dependencies)
	}
	require.Equal(t, wantDeps, dependsOn)

	wantGrants := 0
	wantInherits := 0
	for _, r := range snapshot.Roles() {
		wantGrants += len(r.Permissions)
		if r.InheritsFrom != "" {
			wantInherits++
		}
	}
	require.Equal(t, wantGrants, grants)
	require.Equal(t, wantInherits, inherits)
}

func TestBuildStatementsParameterised(t *testing.T) {
	stmts := BuildStatements(seededSnapshot(t))

	var sawAdminInherit bool
	for _, stmt := range stmts {
		// Everything data-dependent travels as a parameter, never spliced
		// into the cypher text.
		require.NotContains(t, stmt.Cypher, "SUPER_ADMIN")
		if strings.Contains(stmt.Cypher, ":INHERITS_FROM") &&
			stmt.Params["from"] == "ADMIN" && stmt.Params["to"] == "SUPER_ADMIN" {
			sawAdminInherit = true
		}
	}
	require.True(t, sawAdminInherit)
}

func TestExportUnconfigured(t *testing.T) {
	var e *Exporter
	require.NoError(t, e.Close(context.Background()))
	require.NoError(t, (&Exporter{}).Close(context.Background()))
	require.Error(t, e.Export(context.Background(), seededSnapshot(t)))
}
