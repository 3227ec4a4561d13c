// Package lock is the submission state machine for a (year, month, branch) capture window.
//
//	OPEN --submit--> LOCKED --unlock (admin)--> OPEN
//
// Submitting requires every in-scope machine to have a reading unless an administrator
// forces it. Reading writes are only allowed while every window covering them is OPEN.
package lock

import (
	"fmt"

	"copier-fleet-backend/internal/errs"
	"copier-fleet-backend/internal/model"
)

// Event is a transition trigger.
type Event string

const (
	EventSubmit Event = "submit"
	EventUnlock Event = "unlock"
)

var transitions = map[model.LockState]map[Event]model.LockState{
	model.LockOpen:   {EventSubmit: model.LockLocked},
	model.LockLocked: {EventUnlock: model.LockOpen},
}

var (
	// ErrAlreadyLocked is returned when submitting a window that is already locked.
	ErrAlreadyLocked = fmt.Errorf("%w: month already submitted", errs.ErrConflict)
	// ErrNotLocked is returned when unlocking a window that is open.
	ErrNotLocked = fmt.Errorf("%w: month is not locked", errs.ErrConflict)
)

// Next returns the state reached from current on ev, or false if ev is not allowed in current.
// A missing state is treated as OPEN.
func Next(current model.LockState, ev Event) (model.LockState, bool) {
	if current == "" {
		current = model.LockOpen
	}
	next, ok := transitions[current][ev]
	return next, ok
}

// Completion is the capture progress of a month for a scope.
type Completion struct {
	Total    int `json:"totalMachines"`
	Captured int `json:"capturedCount"`
}

// Pending is the number of in-scope machines without a reading.
func (c Completion) Pending() int {
	if c.Captured >= c.Total {
		return 0
	}
	return c.Total - c.Captured
}

// Percent is round(100 * captured / total); an empty scope counts as complete.
func (c Completion) Percent() int {
	if c.Total == 0 {
		return 100
	}
	return (200*c.Captured + c.Total) / (2 * c.Total)
}

// Complete reports whether every in-scope machine has a reading.
func (c Completion) Complete() bool {
	return c.Captured >= c.Total
}

// Submit guards the OPEN -> LOCKED transition.
func Submit(current model.LockState, actor model.Actor, c Completion, force bool) (model.LockState, error) {
	next, ok := Next(current, EventSubmit)
	if !ok {
		return current, ErrAlreadyLocked
	}
	if force && !actor.IsAdmin() {
		return current, fmt.Errorf("%w: only administrators may force a submission", errs.ErrForbidden)
	}
	if !c.Complete() && !force {
		return current, fmt.Errorf("%w: %d of %d machines captured (%d%%)", errs.ErrIncomplete, c.Captured, c.Total, c.Percent())
	}
	return next, nil
}

// Unlock guards the LOCKED -> OPEN transition.
func Unlock(current model.LockState, actor model.Actor) (model.LockState, error) {
	if !actor.IsAdmin() {
		return current, fmt.Errorf("%w: only administrators may unlock a month", errs.ErrForbidden)
	}
	next, ok := Next(current, EventUnlock)
	if !ok {
		return current, ErrNotLocked
	}
	return next, nil
}

// GuardWrite returns a LockedError for the first locked window among those covering a write.
func GuardWrite(windows ...model.Submission) error {
	for _, w := range windows {
		if w.State == model.LockLocked {
			return &errs.LockedError{Year: w.Year, Month: w.Month, Branch: w.Branch}
		}
	}
	return nil
}

// Scopes lists the window branches that cover a machine in branch, in lock acquisition order.
func Scopes(branch string) []string {
	if branch == "" {
		return []string{""}
	}
	return []string{"", branch}
}
