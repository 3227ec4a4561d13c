// Package calc holds the pure arithmetic of the engine: period usage from two reading
// snapshots, yield shortfall from two part-order readings, and machine life roll-ups.
package calc

import (
	"fmt"

	"copier-fleet-backend/internal/errs"
	"copier-fleet-backend/internal/model"
)

// Field names used in validation errors, matching the JSON names of model.Reading.
const (
	FieldMono   = "monoReading"
	FieldColour = "colourReading"
	FieldScan   = "scanReading"
)

// Meters is the set of counters a machine has enabled.
type Meters struct {
	Mono   bool
	Colour bool
	Scan   bool
}

// MetersOf returns the machine's enabled meter set.
func MetersOf(m model.Machine) Meters {
	return Meters{Mono: m.HasMono, Colour: m.HasColour, Scan: m.HasScan}
}

// Counters is a set of optional meter values. It is used both for raw readings and for usage.
type Counters struct {
	Mono   *int64 `json:"mono"`
	Colour *int64 `json:"colour"`
	Scan   *int64 `json:"scan"`
}

// CountersOf returns the raw counters of a reading.
func CountersOf(r model.Reading) Counters {
	return Counters{Mono: r.MonoReading, Colour: r.ColourReading, Scan: r.ScanReading}
}

// UsageOf returns the stored usage of a reading.
func UsageOf(r model.Reading) Counters {
	return Counters{Mono: r.MonoUsage, Colour: r.ColourUsage, Scan: r.ScanUsage}
}

// Stream returns the value a part with meter type t consumes against. Total is mono plus
// colour, where a missing side counts as zero as long as one side is present.
func (c Counters) Stream(t model.MeterType) (int64, bool) {
	switch t {
	case model.MeterMono:
		return deref(c.Mono)
	case model.MeterColour:
		return deref(c.Colour)
	case model.MeterTotal:
		mono, okMono := deref(c.Mono)
		colour, okColour := deref(c.Colour)
		return mono + colour, okMono || okColour
	}
	return 0, false
}

func deref(v *int64) (int64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Snapshot is one machine's counters for one month.
type Snapshot struct {
	MachineID int64
	Period    model.Period
	Counters  Counters
}

// SnapshotOf builds a snapshot from a stored reading.
func SnapshotOf(r model.Reading) Snapshot {
	return Snapshot{MachineID: r.MachineID, Period: r.Period(), Counters: CountersOf(r)}
}

type meterField struct {
	name    string
	enabled bool
	get     func(*Counters) **int64
}

func fields(m Meters) []meterField {
	return []meterField{
		{FieldMono, m.Mono, func(c *Counters) **int64 { return &c.Mono }},
		{FieldColour, m.Colour, func(c *Counters) **int64 { return &c.Colour }},
		{FieldScan, m.Scan, func(c *Counters) **int64 { return &c.Scan }},
	}
}

// Normalize drops values for meters the machine does not have and reports every enabled
// meter that has no value or a negative one.
func Normalize(machineID int64, meters Meters, in Counters) (Counters, error) {
	out := in
	var problems []errs.FieldError
	for _, f := range fields(meters) {
		v := f.get(&out)
		if !f.enabled {
			*v = nil
			continue
		}
		if *v == nil {
			problems = append(problems, errs.FieldError{MachineID: machineID, Field: f.name, Message: "is required for an enabled meter"})
			continue
		}
		if **v < 0 {
			problems = append(problems, errs.FieldError{MachineID: machineID, Field: f.name, Message: "must not be negative"})
		}
	}
	return out, errs.Invalid(problems...)
}

// Usage derives the usage of current relative to prior, the nearest earlier stored reading.
// A nil prior makes current a baseline and every provided counter gets zero usage. A counter
// is nil when its meter is disabled or when either side has no value. A counter lower than
// its prior is reported per field.
func Usage(meters Meters, current Snapshot, prior *Snapshot) (Counters, error) {
	var usage Counters
	var problems []errs.FieldError
	for _, f := range fields(meters) {
		if !f.enabled {
			continue
		}
		cur := *f.get(&current.Counters)
		if cur == nil {
			continue
		}
		out := f.get(&usage)
		if prior == nil {
			*out = ptr(0)
			continue
		}
		prev := *f.get(&prior.Counters)
		if prev == nil {
			continue
		}
		diff := *cur - *prev
		if diff < 0 {
			problems = append(problems, errs.FieldError{
				MachineID: current.MachineID,
				Field:     f.name,
				Message:   fmt.Sprintf("%d is lower than the %s reading of %d", *cur, prior.Period, *prev),
			})
			continue
		}
		*out = ptr(diff)
	}
	if len(problems) > 0 {
		return Counters{}, errs.Invalid(problems...)
	}
	return usage, nil
}

// CheckSuccessor rejects counters that exceed those of the nearest later stored reading,
// which would make that reading's usage negative.
func CheckSuccessor(meters Meters, current Snapshot, next *Snapshot) error {
	if next == nil {
		return nil
	}
	var problems []errs.FieldError
	for _, f := range fields(meters) {
		if !f.enabled {
			continue
		}
		cur := *f.get(&current.Counters)
		after := *f.get(&next.Counters)
		if cur == nil || after == nil {
			continue
		}
		if *cur > *after {
			problems = append(problems, errs.FieldError{
				MachineID: current.MachineID,
				Field:     f.name,
				Message:   fmt.Sprintf("%d exceeds the %s reading of %d", *cur, next.Period, *after),
			})
		}
	}
	return errs.Invalid(problems...)
}

func ptr(v int64) *int64 { return &v }
