package store

import (
	"time"

	"copier-fleet-backend/internal/calc"
	"copier-fleet-backend/internal/lock"
	"copier-fleet-backend/internal/model"
)

// ReadingInput is a captured month of counters for one machine.
type ReadingInput struct {
	MachineID int64
	Period    model.Period
	Counters  calc.Counters
	Note      string
}

// UpsertResult is the outcome of a reading write. Previous is the row as it was before the
// write, nil when the reading was created.
type UpsertResult struct {
	Reading  model.Reading
	Machine  model.Machine
	Previous *model.Reading
}

// Created reports whether the write inserted a new reading.
func (r UpsertResult) Created() bool {
	return r.Previous == nil
}

// OrderInput is a consumable replacement to record. Baseline, when set, is the prior reading
// supplied by an import; otherwise the machine's baseline for the part's meter is used.
type OrderInput struct {
	MachineID             int64
	ModelPartID           int64
	OrderDate             time.Time
	CurrentReading        int64
	RemainingTonerPercent *float64
	Baseline              *int64
	Source                model.OrderSource
}

// OrderEntry is a part order with its prior reading resolved against the current timeline.
type OrderEntry struct {
	Order        model.PartOrder
	Part         model.ModelPart
	PriorReading int64
}

// Decision inspects a window and the scope's completion and returns the window's new state.
// It runs inside the transaction holding the window row.
type Decision func(current model.Submission, completion lock.Completion) (model.Submission, error)
