// Package fleet orchestrates the engine: it scopes requests to the actor's branch, runs
// reading and order writes through the store, emits audit events and raises toner alerts.
package fleet

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"copier-fleet-backend/internal/audit"
	"copier-fleet-backend/internal/errs"
	"copier-fleet-backend/internal/model"
	"copier-fleet-backend/internal/notification"
	"copier-fleet-backend/internal/store"
)

// Dispatcher queues toner alerts for delivery.
type Dispatcher interface {
	Dispatch(alert notification.TonerAlert) bool
}

// Thresholds are the configured alerting limits.
type Thresholds struct {
	NearEndOfLifePercent int
	TonerDueFraction     float64
}

// Service implements the engine's operations.
type Service struct {
	store      store.Store
	audit      audit.Emitter
	alerts     Dispatcher
	thresholds Thresholds
	logger     *zap.Logger
	now        func() time.Time
}

// NewService wires the engine. alerts may be nil, in which case no toner alerts are raised.
func NewService(st store.Store, emitter audit.Emitter, alerts Dispatcher, thresholds Thresholds, logger *zap.Logger) *Service {
	return &Service{
		store:      st,
		audit:      emitter,
		alerts:     alerts,
		thresholds: thresholds,
		logger:     logger.Named("fleet"),
		now:        time.Now,
	}
}

// scope resolves the branch an actor may operate on. Branch-bound actors are pinned to their
// own branch; asking for another one is forbidden.
func scope(actor model.Actor, branch string) (string, error) {
	if actor.Branch == "" {
		return branch, nil
	}
	if branch != "" && branch != actor.Branch {
		return "", fmt.Errorf("%w: branch %q is outside your scope", errs.ErrForbidden, branch)
	}
	return actor.Branch, nil
}

func requireAdmin(actor model.Actor, what string) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: only administrators may %s", errs.ErrForbidden, what)
	}
	return nil
}

func validPeriod(p model.Period) error {
	if !p.Valid() {
		return errs.Invalid(errs.FieldError{Field: "period", Message: fmt.Sprintf("%s is not a valid month", p)})
	}
	return nil
}

func (s *Service) emit(ctx context.Context, actor model.Actor, action audit.Action, target audit.TargetType, id string, metadata map[string]any) {
	s.audit.Emit(ctx, audit.New(actor, action, target, id, metadata))
}
