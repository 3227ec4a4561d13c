// Package audit emits structured events for mutations of the engine's state. Events are
// handed to a sink; the engine neither formats nor persists them.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"copier-fleet-backend/internal/model"
)

// Action names an audited mutation.
type Action string

const (
	ActionReadingCapture   Action = "reading.capture"
	ActionReadingDelete    Action = "reading.delete"
	ActionSubmissionSubmit Action = "submission.submit"
	ActionSubmissionUnlock Action = "submission.unlock"
	ActionOrderRecord      Action = "order.record"
	ActionOrderDelete      Action = "order.delete"
	ActionOrderImport      Action = "order.import"
)

// TargetType names the kind of entity an event is about.
type TargetType string

const (
	TargetReading    TargetType = "reading"
	TargetSubmission TargetType = "submission"
	TargetPartOrder  TargetType = "part_order"
)

// Event is one audited mutation.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Action     Action         `json:"action"`
	ActorID    string         `json:"actorId"`
	ActorRole  model.Role     `json:"actorRole"`
	TargetType TargetType     `json:"targetType"`
	TargetID   string         `json:"targetId"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	At         time.Time      `json:"at"`
}

// New stamps an event for actor with a fresh id and the current time.
func New(actor model.Actor, action Action, target TargetType, targetID string, metadata map[string]any) Event {
	return Event{
		ID:         uuid.New(),
		Action:     action,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		TargetType: target,
		TargetID:   targetID,
		Metadata:   metadata,
		At:         time.Now().UTC(),
	}
}

// Emitter receives audit events. Emit must not block the caller for long.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// ZapEmitter writes events as structured log entries.
type ZapEmitter struct {
	logger *zap.Logger
}

func NewZapEmitter(logger *zap.Logger) *ZapEmitter {
	return &ZapEmitter{logger: logger.Named("audit")}
}

func (z *ZapEmitter) Emit(_ context.Context, ev Event) {
	z.logger.Info(string(ev.Action),
		zap.String("event_id", ev.ID.String()),
		zap.String("actor_id", ev.ActorID),
		zap.String("actor_role", string(ev.ActorRole)),
		zap.String("target_type", string(ev.TargetType)),
		zap.String("target_id", ev.TargetID),
		zap.Any("metadata", ev.Metadata),
		zap.Time("at", ev.At),
	)
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Actions returns the recorded actions in order.
func (r *Recorder) Actions() []Action {
	events := r.Events()
	out := make([]Action, len(events))
	for i, ev := range events {
		out[i] = ev.Action
	}
	return out
}
