package audit

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGSink writes audit events into the audit_events table.
type PGSink struct {
	pool *pgxpool.Pool
}

// NewPGSink returns a sink backed by the given pool.
func NewPGSink(pool *pgxpool.Pool) *PGSink {
	return &PGSink{pool: pool}
}

// Write persists one event. Duplicate ids are ignored so redelivered
// tasks stay idempotent.
func (s *PGSink) Write(ctx context.Context, ev Event) error {
	if s == nil || s.pool == nil {
		return errors.New("audit: sink not configured")
	}
	metaJSON, err := json.Marshal(ev.Meta)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_events (id, occurred_at, kind, actor, action, entity, entity_id, outcome, reason, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.At, ev.Kind, ev.Actor, ev.Action, ev.Entity, ev.EntityID, ev.Outcome, ev.Reason, metaJSON)
	return err
}
