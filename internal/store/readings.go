package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"copier-fleet-backend/internal/calc"
	"copier-fleet-backend/internal/errs"
	"copier-fleet-backend/internal/lock"
	"copier-fleet-backend/internal/model"
)

var readingColumns = []string{
	"mono_reading", "colour_reading", "scan_reading",
	"mono_usage", "colour_usage", "scan_usage",
	"note", "captured_by", "captured_at",
}

// UpsertReading writes one month of counters for a machine. The lock check, the usage
// derivation against the nearest earlier reading and the successor's recomputation all
// happen in one transaction, so a concurrent submit either sees this write or blocks it.
func (s *gormStore) UpsertReading(ctx context.Context, actor model.Actor, in ReadingInput, now time.Time) (*UpsertResult, error) {
	var result *UpsertResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		machine, err := loadMachine(tx, actor, in.MachineID)
		if err != nil {
			return err
		}
		if err := guardWindows(tx, in.Period, machine.Branch); err != nil {
			return err
		}

		meters := calc.MetersOf(*machine)
		counters, normErr := calc.Normalize(machine.ID, meters, in.Counters)

		timeline := readingTimeline{tx: tx, machineID: machine.ID}
		existing, err := timeline.At(in.Period)
		if err != nil {
			return err
		}
		prior, err := timeline.Before(in.Period)
		if err != nil {
			return err
		}
		next, err := timeline.After(in.Period)
		if err != nil {
			return err
		}

		current := calc.Snapshot{MachineID: machine.ID, Period: in.Period, Counters: counters}
		usage, usageErr := calc.Usage(meters, current, snapshotPtr(prior))
		if err := mergeInvalid(normErr, usageErr, calc.CheckSuccessor(meters, current, snapshotPtr(next))); err != nil {
			return err
		}

		row := model.Reading{
			MachineID:     machine.ID,
			Year:          in.Period.Year,
			Month:         in.Period.Month,
			MonoReading:   counters.Mono,
			ColourReading: counters.Colour,
			ScanReading:   counters.Scan,
			MonoUsage:     usage.Mono,
			ColourUsage:   usage.Colour,
			ScanUsage:     usage.Scan,
			Note:          in.Note,
			CapturedBy:    actor.ID,
			CapturedAt:    now,
		}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "machine_id"}, {Name: "year"}, {Name: "month"}},
			DoUpdates: clause.AssignmentColumns(readingColumns),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("failed to upsert reading: %w", err)
		}

		if next != nil {
			if err := recomputeUsage(tx, meters, *next, &current); err != nil {
				return err
			}
		}

		stored, err := timeline.At(in.Period)
		if err != nil {
			return err
		}
		if stored == nil {
			return fmt.Errorf("reading for machine %d %s vanished after upsert", machine.ID, in.Period)
		}
		result = &UpsertResult{Reading: *stored, Machine: *machine, Previous: existing}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteReading removes a month's reading and re-derives the next reading's usage against
// whatever now precedes it.
func (s *gormStore) DeleteReading(ctx context.Context, actor model.Actor, machineID int64, period model.Period) (*model.Reading, error) {
	var deleted *model.Reading
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		machine, err := loadMachine(tx, actor, machineID)
		if err != nil {
			return err
		}
		if err := guardWindows(tx, period, machine.Branch); err != nil {
			return err
		}

		timeline := readingTimeline{tx: tx, machineID: machine.ID}
		existing, err := timeline.At(period)
		if err != nil {
			return err
		}
		if existing == nil {
			return errs.NotFound("reading", fmt.Sprintf("%d/%s", machine.ID, period))
		}
		if err := tx.Delete(&model.Reading{}, existing.ID).Error; err != nil {
			return fmt.Errorf("failed to delete reading %d: %w", existing.ID, err)
		}

		next, err := timeline.After(period)
		if err != nil {
			return err
		}
		if next != nil {
			prior, err := timeline.Before(period)
			if err != nil {
				return err
			}
			if err := recomputeUsage(tx, calc.MetersOf(*machine), *next, snapshotPtr(prior)); err != nil {
				return err
			}
		}
		deleted = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// ReadingHistory returns a machine's readings in period order.
func (s *gormStore) ReadingHistory(ctx context.Context, machineID int64) ([]model.Reading, error) {
	var readings []model.Reading
	err := s.db.WithContext(ctx).
		Where("machine_id = ?", machineID).
		Order("year ASC, month ASC").
		Find(&readings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load readings of machine %d: %w", machineID, err)
	}
	return readings, nil
}

// MonthReadings returns every reading captured for period on machines in branch, or in all
// branches when branch is empty, with the machine attached.
func (s *gormStore) MonthReadings(ctx context.Context, period model.Period, branch string) ([]model.Reading, error) {
	var readings []model.Reading
	q := s.db.WithContext(ctx).
		Preload("Machine").
		Joins("JOIN machines ON machines.id = readings.machine_id").
		Where("readings.year = ? AND readings.month = ?", period.Year, period.Month)
	if branch != "" {
		q = q.Where("machines.branch = ?", branch)
	}
	if err := q.Order("readings.machine_id").Find(&readings).Error; err != nil {
		return nil, fmt.Errorf("failed to load readings for %s: %w", period, err)
	}
	return readings, nil
}

// recomputeUsage re-derives the stored usage of r against prior.
func recomputeUsage(tx *gorm.DB, meters calc.Meters, r model.Reading, prior *calc.Snapshot) error {
	usage, err := calc.Usage(meters, calc.SnapshotOf(r), prior)
	if err != nil {
		return err
	}
	err = tx.Model(&model.Reading{}).Where("id = ?", r.ID).Updates(map[string]any{
		"mono_usage":   usage.Mono,
		"colour_usage": usage.Colour,
		"scan_usage":   usage.Scan,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to recompute usage of reading %d: %w", r.ID, err)
	}
	return nil
}

func snapshotPtr(r *model.Reading) *calc.Snapshot {
	if r == nil {
		return nil
	}
	s := calc.SnapshotOf(*r)
	return &s
}

// mergeInvalid joins validation failures into one error. Any other error wins outright.
func mergeInvalid(errList ...error) error {
	var fields []errs.FieldError
	for _, err := range errList {
		if err == nil {
			continue
		}
		if !errors.Is(err, errs.ErrInvalid) {
			return err
		}
		fields = append(fields, errs.Fields(err)...)
	}
	return errs.Invalid(fields...)
}

// guardWindows makes sure the windows covering a write exist, holds them with a shared row
// lock for the rest of the transaction and rejects the write if any is locked.
func guardWindows(tx *gorm.DB, period model.Period, branch string) error {
	windows, err := holdWindows(tx, period, lock.Scopes(branch), "SHARE")
	if err != nil {
		return err
	}
	return lock.GuardWrite(windows...)
}
