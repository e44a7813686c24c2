// Package graphexport mirrors the permission and role graphs into neo4j
// so external reporting tools can query dependency chains and inheritance
// with graph semantics. The export is read-only over a snapshot and never
// feeds back into authorization decisions.
package graphexport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/nimbus-iam/nimbus-iam/internal/authz"
)

// Exporter writes snapshots to a neo4j instance.
type Exporter struct {
	driver neo4j.DriverWithContext
	logger *slog.Logger
}

// New connects to neo4j and verifies connectivity.
func New(ctx context.Context, uri, user, password string, logger *slog.Logger) (*Exporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("graphexport: create driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("graphexport: connect: %w", err)
	}
	return &Exporter{driver: driver, logger: logger}, nil
}

// Close releases the driver.
func (e *Exporter) Close(ctx context.Context) error {
	if e == nil || e.driver == nil {
		return nil
	}
	return e.driver.Close(ctx)
}

// Export replaces the graph content with the given snapshot.
func (e *Exporter) Export(ctx context.Context, snapshot *authz.Snapshot) error {
	if e == nil || e.driver == nil {
		return fmt.Errorf("graphexport: not configured")
	}
	for _, stmt := range BuildStatements(snapshot) {
		if _, err := neo4j.ExecuteQuery(ctx, e.driver, stmt.Cypher, stmt.Params,
			neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase("neo4j")); err != nil {
			return fmt.Errorf("graphexport: %w", err)
		}
	}
	e.logger.Info("graph export complete",
		slog.Uint64("snapshot_version", snapshot.Version()),
		slog.Int("permissions", len(snapshot.Permissions())),
		slog.Int("roles", len(snapshot.Roles())))
	return nil
}

// Statement is one parameterised cypher statement.
type Statement struct {
	Cypher string
	Params map[string]any
}

// BuildStatements renders the snapshot as cypher. Split out from Export so
// the rendering is testable without a database.
func BuildStatements(snapshot *authz.Snapshot) []Statement {
	stmts := []Statement{
		{Cypher: "MATCH (n) WHERE n:Permission OR n:Role DETACH DELETE n", Params: map[string]any{}},
	}
	for _, p := range snapshot.Permissions() {
		stmts = append(stmts, Statement{
			Cypher: "MERGE (p:Permission {id: $id}) SET p.resource = $resource, p.scope = $scope, p.category = $category",
			Params: map[string]any{"id": p.ID, "resource": p.Resource, "scope": string(p.Scope), "category": p.Category},
		})
	}
	for _, p := range snapshot.Permissions() {
		for _, dep := range p.Dependencies {
			stmts = append(stmts, Statement{
				Cypher: "MATCH (a:Permission {id: $from}), (b:Permission {id: $to}) MERGE (a)-[:DEPENDS_ON]->(b)",
				Params: map[string]any{"from": p.ID, "to": dep},
			})
		}
	}
	for _, r := range snapshot.Roles() {
		stmts = append(stmts, Statement{
			Cypher: "MERGE (r:Role {id: $id}) SET r.level = $level, r.system = $system, r.state = $state",
			Params: map[string]any{"id": r.ID, "level": r.Level, "system": r.IsSystemRole, "state": string(r.State)},
		})
	}
	for _, r := range snapshot.Roles() {
		if r.InheritsFrom != "" {
			stmts = append(stmts, Statement{
				Cypher: "MATCH (a:Role {id: $from}), (b:Role {id: $to}) MERGE (a)-[:INHERITS_FROM]->(b)",
				Params: map[string]any{"from": r.ID, "to": r.InheritsFrom},
			})
		}
		for _, pid := range r.Permissions {
			stmts = append(stmts, Statement{
				Cypher: "MATCH (r:Role {id: $role}), (p:Permission {id: $perm}) MERGE (r)-[:GRANTS]->(p)",
				Params: map[string]any{"role": r.ID, "perm": pid},
			})
		}
	}
	return stmts
}
