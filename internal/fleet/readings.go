package fleet

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"copier-fleet-backend/internal/audit"
	"copier-fleet-backend/internal/calc"
	"copier-fleet-backend/internal/errs"
	"copier-fleet-backend/internal/lock"
	"copier-fleet-backend/internal/model"
	"copier-fleet-backend/internal/store"
)

// CaptureReading stores one month of counters for a machine.
func (s *Service) CaptureReading(ctx context.Context, actor model.Actor, in store.ReadingInput) (*store.UpsertResult, error) {
	if err := validPeriod(in.Period); err != nil {
		return nil, err
	}
	res, err := s.store.UpsertReading(ctx, actor, in, s.now().UTC())
	if err != nil {
		return nil, err
	}

	s.emit(ctx, actor, audit.ActionReadingCapture, audit.TargetReading, fmt.Sprint(res.Reading.ID), map[string]any{
		"machineId": res.Reading.MachineID,
		"period":    in.Period.String(),
		"created":   res.Created(),
	})
	s.raiseTonerAlerts(ctx, res)
	return res, nil
}

// BatchRow is one row of a batch capture. The machine is identified by id or, when the id is
// zero, by serial number.
type BatchRow struct {
	Row          int
	MachineID    int64
	SerialNumber string
	Period       model.Period
	Counters     calc.Counters
	Note         string
}

// BatchResult reports what a batch did. Rows before an aborting error stay committed.
type BatchResult struct {
	Created int               `json:"created"`
	Updated int               `json:"updated"`
	Skipped int               `json:"skipped"`
	Errored int               `json:"errored"`
	Errors  []errs.FieldError `json:"errors"`
}

// CaptureBatch writes rows independently. Validation and not-found failures are recorded per
// row and the batch carries on; a locked month or an infrastructure failure aborts it.
func (s *Service) CaptureBatch(ctx context.Context, actor model.Actor, rows []BatchRow) (BatchResult, error) {
	result := BatchResult{Errors: []errs.FieldError{}}
	for _, row := range rows {
		if row.Counters.Mono == nil && row.Counters.Colour == nil && row.Counters.Scan == nil {
			result.Skipped++
			continue
		}

		machineID := row.MachineID
		if machineID == 0 {
			m, err := s.store.FindMachineBySerial(ctx, actor, row.SerialNumber)
			if err != nil {
				if errors.Is(err, errs.ErrNotFound) {
					result.fail(s.logger, errs.FieldError{Row: row.Row, Field: "serialNumber", Message: err.Error()})
					continue
				}
				return result, err
			}
			machineID = m.ID
		}

		res, err := s.CaptureReading(ctx, actor, store.ReadingInput{
			MachineID: machineID, Period: row.Period, Counters: row.Counters, Note: row.Note,
		})
		switch {
		case err == nil:
			if res.Created() {
				result.Created++
			} else {
				result.Updated++
			}
		case errors.Is(err, errs.ErrInvalid):
			for _, f := range errs.Fields(err) {
				f.Row = row.Row
				result.Errors = append(result.Errors, f)
				s.logger.Warn("batch row rejected", zap.Int("row", row.Row), zap.Int64("machine_id", machineID), zap.String("field", f.Field))
			}
			result.Errored++
		case errors.Is(err, errs.ErrNotFound):
			result.fail(s.logger, errs.FieldError{Row: row.Row, MachineID: machineID, Field: "machineId", Message: err.Error()})
		default:
			return result, err
		}
	}
	return result, nil
}

func (r *BatchResult) fail(logger *zap.Logger, f errs.FieldError) {
	r.Errored++
	r.Errors = append(r.Errors, f)
	logger.Warn("batch row rejected", zap.Int("row", f.Row), zap.Int64("machine_id", f.MachineID), zap.String("field", f.Field))
}

// DeleteReading removes a month's reading for a machine.
func (s *Service) DeleteReading(ctx context.Context, actor model.Actor, machineID int64, period model.Period) (*model.Reading, error) {
	if err := validPeriod(period); err != nil {
		return nil, err
	}
	deleted, err := s.store.DeleteReading(ctx, actor, machineID, period)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, actor, audit.ActionReadingDelete, audit.TargetReading, fmt.Sprint(deleted.ID), map[string]any{
		"machineId": machineID,
		"period":    period.String(),
	})
	return deleted, nil
}

// Summary is the capture progress of a month over the in-scope fleet.
type Summary struct {
	TotalMachines     int `json:"totalMachines"`
	CapturedCount     int `json:"capturedCount"`
	PendingCount      int `json:"pendingCount"`
	CompletionPercent int `json:"completionPercent"`
}

// LockStatus reports whether writes for the scope are frozen and by which window.
type LockStatus struct {
	IsLocked   bool              `json:"isLocked"`
	Submission *model.Submission `json:"submission"`
}

// Overview is a month's reading set for one scope.
type Overview struct {
	Period   model.Period    `json:"period"`
	Branch   string          `json:"branch"`
	Readings []model.Reading `json:"readings"`
	Pending  []model.Machine `json:"pending"`
	Summary  Summary         `json:"summary"`
	Lock     LockStatus      `json:"lock"`
}

// MonthOverview returns the readings captured for period, the machines still pending and the
// lock status for branch (all branches when empty).
func (s *Service) MonthOverview(ctx context.Context, actor model.Actor, period model.Period, branch string) (*Overview, error) {
	if err := validPeriod(period); err != nil {
		return nil, err
	}
	branch, err := scope(actor, branch)
	if err != nil {
		return nil, err
	}

	machines, err := s.store.ListMachines(ctx, branch)
	if err != nil {
		return nil, err
	}
	readings, err := s.store.MonthReadings(ctx, period, branch)
	if err != nil {
		return nil, err
	}
	windows, err := s.store.Windows(ctx, period, branch)
	if err != nil {
		return nil, err
	}

	captured := make(map[int64]bool, len(readings))
	for _, r := range readings {
		captured[r.MachineID] = true
	}
	out := &Overview{Period: period, Branch: branch, Readings: readings, Pending: []model.Machine{}}
	var c lock.Completion
	for _, m := range machines {
		if !m.InScope() {
			continue
		}
		c.Total++
		if captured[m.ID] {
			c.Captured++
			continue
		}
		out.Pending = append(out.Pending, m)
	}
	out.Summary = Summary{
		TotalMachines:     c.Total,
		CapturedCount:     c.Captured,
		PendingCount:      c.Pending(),
		CompletionPercent: c.Percent(),
	}

	for i := range windows {
		w := windows[i]
		if w.State == model.LockLocked {
			out.Lock = LockStatus{IsLocked: true, Submission: &w}
			break
		}
		if w.Branch == branch && w.ID != 0 {
			out.Lock.Submission = &w
		}
	}
	return out, nil
}

// Submit locks period for branch. Ordinary users need a fully captured fleet; administrators
// may force the lock.
func (s *Service) Submit(ctx context.Context, actor model.Actor, period model.Period, branch string, force bool) (*model.Submission, error) {
	if err := validPeriod(period); err != nil {
		return nil, err
	}
	branch, err := scope(actor, branch)
	if err != nil {
		return nil, err
	}

	var completion lock.Completion
	w, err := s.store.Transition(ctx, period, branch, func(current model.Submission, c lock.Completion) (model.Submission, error) {
		state, err := lock.Submit(current.State, actor, c, force)
		if err != nil {
			return current, err
		}
		now := s.now().UTC()
		completion = c
		current.State = state
		current.Forced = !c.Complete()
		current.SubmittedAt = &now
		current.SubmittedBy = actor.ID
		return current, nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, actor, audit.ActionSubmissionSubmit, audit.TargetSubmission, windowID(period, branch), map[string]any{
		"totalMachines": completion.Total,
		"capturedCount": completion.Captured,
		"forced":        w.Forced,
	})
	return w, nil
}

// Unlock reopens period for branch. Only administrators may unlock.
func (s *Service) Unlock(ctx context.Context, actor model.Actor, period model.Period, branch string) (*model.Submission, error) {
	if err := validPeriod(period); err != nil {
		return nil, err
	}
	if err := requireAdmin(actor, "unlock a month"); err != nil {
		return nil, err
	}
	branch, err := scope(actor, branch)
	if err != nil {
		return nil, err
	}

	w, err := s.store.Transition(ctx, period, branch, func(current model.Submission, _ lock.Completion) (model.Submission, error) {
		state, err := lock.Unlock(current.State, actor)
		if err != nil {
			return current, err
		}
		now := s.now().UTC()
		current.State = state
		current.UnlockedAt = &now
		current.UnlockedBy = actor.ID
		return current, nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, actor, audit.ActionSubmissionUnlock, audit.TargetSubmission, windowID(period, branch), map[string]any{
		"submittedBy": w.SubmittedBy,
	})
	return w, nil
}

func windowID(p model.Period, branch string) string {
	if branch == "" {
		return p.String()
	}
	return p.String() + "/" + branch
}
