package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/nimbus-iam/nimbus-iam/internal/audit"
	"github.com/nimbus-iam/nimbus-iam/internal/authz"
)

type memorySink struct {
	events []audit.Event
	err    error
}

func (m *memorySink) Write(_ context.Context, ev audit.Event) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, ev)
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAuditWriteHandlerPersists(t *testing.T) {
	sink := &memorySink{}
	handler := NewAuditWriteHandler(sink, discard())

	ev := audit.NewEvent(audit.KindMutation, "SUPER_ADMIN", "role.create", "role", "SUPPORT")
	task, err := audit.NewTask(ev)
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), task))
	require.Len(t, sink.events, 1)
	require.Equal(t, ev.ID, sink.events[0].ID)
}

func TestAuditWriteHandlerDropsUndecodable(t *testing.T) {
	sink := &memorySink{}
	handler := NewAuditWriteHandler(sink, discard())

	task := asynq.NewTask(audit.TaskTypeEvent, []byte("not json"))
	require.NoError(t, handler(context.Background(), task), "an undecodable payload must not be retried")
	require.Empty(t, sink.events)
}

func TestAuditWriteHandlerRetriesSinkFailures(t *testing.T) {
	sink := &memorySink{err: errors.New("pg down")}
	handler := NewAuditWriteHandler(sink, discard())

	task, err := audit.NewTask(audit.NewEvent(audit.KindDecision, "VIEWER", "authorize", "permission", "x"))
	require.NoError(t, err)
	require.Error(t, handler(context.Background(), task), "write failures propagate for retry")
}

type recordingExporter struct {
	exported []*authz.Snapshot
	err      error
}

func (r *recordingExporter) Export(_ context.Context, snapshot *authz.Snapshot) error {
	if r.err != nil {
		return r.err
	}
	r.exported = append(r.exported, snapshot)
	return nil
}

func TestGraphExportHandlerUsesCurrentSnapshot(t *testing.T) {
	catalog, err := authz.BuildCatalog(authz.SeedPermissions())
	require.NoError(t, err)
	graph, err := authz.BuildRoleGraph(authz.SeedRoles())
	require.NoError(t, err)
	store, err := authz.NewStore(catalog, graph)
	require.NoError(t, err)

	exporter := &recordingExporter{}
	handler := NewGraphExportHandler(store, exporter, discard())

	require.NoError(t, handler(context.Background(), NewGraphExportTask()))
	require.Len(t, exporter.exported, 1)
	require.Same(t, store.Current(), exporter.exported[0])

	exporter.err = errors.New("neo4j down")
	require.Error(t, handler(context.Background(), NewGraphExportTask()))
}
