// Package audit carries structured records of every mutation and every
// denied authorization decision to a durable sink. Delivery is
// fire-and-forget: emitting never blocks or fails the calling operation.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TaskTypeEvent is the asynq task type for audit event delivery.
const TaskTypeEvent = "audit:event"

// Event kinds.
const (
	KindMutation = "mutation"
	KindDecision = "decision"
)

// Event is one audit record.
type Event struct {
	ID       uuid.UUID      `json:"id"`
	At       time.Time      `json:"at"`
	Kind     string         `json:"kind"`
	Actor    string         `json:"actor"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entityId"`
	Outcome  string         `json:"outcome,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// NewEvent fills in the id and timestamp.
func NewEvent(kind, actor, action, entity, entityID string) Event {
	return Event{
		ID:       uuid.New(),
		At:       time.Now().UTC(),
		Kind:     kind,
		Actor:    actor,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
	}
}

// NewTask wraps the event in an asynq task.
func NewTask(ev Event) (*asynq.Task, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeEvent, payload), nil
}

// DecodeTask unmarshals an audit event task payload.
func DecodeTask(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}
