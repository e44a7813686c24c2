package authz

import (
	"context"
	"log/slog"

	"github.com/nimbus-iam/nimbus-iam/internal/audit"
)

// AuditEmitter receives audit events fire-and-forget.
type AuditEmitter interface {
	Emit(ctx context.Context, ev audit.Event)
}

// DecisionObserver records decision outcomes for metrics.
type DecisionObserver interface {
	ObserveDecision(outcome, reason string)
}

// Engine answers authorization queries against the store's current
// snapshot. The decision itself is computed by Snapshot.Authorize and is
// side-effect free; the engine only adds observability around it.
type Engine struct {
	store   *Store
	audit   AuditEmitter
	metrics DecisionObserver
	logger  *slog.Logger
}

// NewEngine constructs an Engine. audit and metrics may be nil.
func NewEngine(store *Store, sink AuditEmitter, metrics DecisionObserver, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, audit: sink, metrics: metrics, logger: logger}
}

// Authorize evaluates the permission for the role in the given context.
// Denial is a normal return value, never an error. Every DENY is reported
// to the audit sink with its reason code.
func (e *Engine) Authorize(ctx context.Context, roleID, permissionID string, reqCtx Context) Decision {
	decision := e.store.Current().Authorize(roleID, permissionID, reqCtx)
	if e.metrics != nil {
		e.metrics.ObserveDecision(string(decision.Outcome), string(decision.Reason))
	}
	if !decision.Allowed() && e.audit != nil {
		ev := audit.NewEvent(audit.KindDecision, roleID, "authorize", "permission", permissionID)
		ev.Outcome = string(decision.Outcome)
		ev.Reason = string(decision.Reason)
		if len(decision.MissingDependencies) > 0 {
			ev.Meta = map[string]any{"missingDependencies": decision.MissingDependencies}
		}
		e.audit.Emit(ctx, ev)
	}
	return decision
}

// EffectivePermissions resolves the role's full grant for the reporting
// view.
func (e *Engine) EffectivePermissions(roleID string) (ResolvedAssignment, error) {
	return e.store.Current().EffectivePermissions(roleID)
}

// ResolveDependencies returns the permission's transitive dependency
// closure in topological order for the reporting view.
func (e *Engine) ResolveDependencies(permissionID string) ([]string, error) {
	return e.store.Current().ResolveDependencies(permissionID)
}

// Snapshot exposes the current snapshot for read-only introspection.
func (e *Engine) Snapshot() *Snapshot { return e.store.Current() }
