package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"copier-fleet-backend/internal/calc"
	"copier-fleet-backend/internal/errs"
	"copier-fleet-backend/internal/model"
)

// RecordOrder appends a replacement to a machine's part ledger. The order must not run
// backwards against its neighbours on the (order date, id) timeline, and a supplied baseline
// must agree with any earlier order it would follow.
func (s *gormStore) RecordOrder(ctx context.Context, actor model.Actor, in OrderInput) (*model.PartOrder, error) {
	var order *model.PartOrder
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		machine, err := loadMachine(tx, actor, in.MachineID)
		if err != nil {
			return err
		}
		var part model.ModelPart
		if err := tx.First(&part, in.ModelPartID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound("model part", in.ModelPartID)
			}
			return fmt.Errorf("failed to load model part %d: %w", in.ModelPartID, err)
		}
		if machine.ModelID == nil || *machine.ModelID != part.ModelID {
			return errs.Invalid(errs.FieldError{
				MachineID: machine.ID, Field: "modelPartId",
				Message: fmt.Sprintf("part %d does not belong to the machine's model", part.ID),
			})
		}
		if err := calc.ValidateTonerPercent(0, part, in.RemainingTonerPercent); err != nil {
			return err
		}
		if in.CurrentReading < 0 {
			return errs.Invalid(errs.FieldError{MachineID: machine.ID, Field: "currentReading", Message: "must not be negative"})
		}

		timeline := orderTimeline{tx: tx, machineID: machine.ID, modelPartID: part.ID}
		prev, err := timeline.Before(in.OrderDate)
		if err != nil {
			return err
		}
		next, err := timeline.After(in.OrderDate)
		if err != nil {
			return err
		}

		baseline := int64(0)
		if in.Baseline != nil {
			baseline = *in.Baseline
		} else {
			baseline, err = machineBaseline(tx, machine.ID, part.MeterType, model.PeriodOf(in.OrderDate))
			if err != nil {
				return err
			}
		}

		prior := baseline
		var problems []errs.FieldError
		if prev != nil {
			prior = prev.CurrentReading
			// The stored baseline becomes the prior once prev is deleted,
			// so it must not exceed prev's reading.
			if in.Baseline == nil && baseline > prev.CurrentReading {
				baseline = prev.CurrentReading
			}
			if in.Baseline != nil && *in.Baseline != prev.CurrentReading {
				problems = append(problems, errs.FieldError{
					MachineID: machine.ID, Field: "priorReading",
					Message: fmt.Sprintf("%d does not match the %s order's reading of %d", *in.Baseline, prev.OrderDate.Format("2006-01-02"), prev.CurrentReading),
				})
			}
		}
		if in.CurrentReading < prior {
			problems = append(problems, errs.FieldError{
				MachineID: machine.ID, Field: "currentReading",
				Message: fmt.Sprintf("%d is lower than the prior reading of %d", in.CurrentReading, prior),
			})
		}
		if next != nil && in.CurrentReading > next.CurrentReading {
			problems = append(problems, errs.FieldError{
				MachineID: machine.ID, OrderID: next.ID, Field: "currentReading",
				Message: fmt.Sprintf("%d exceeds the %s order's reading of %d", in.CurrentReading, next.OrderDate.Format("2006-01-02"), next.CurrentReading),
			})
		}
		if err := errs.Invalid(problems...); err != nil {
			return err
		}

		source := in.Source
		if source == "" {
			source = model.SourceManual
		}
		order = &model.PartOrder{
			MachineID:             machine.ID,
			ModelPartID:           part.ID,
			OrderDate:             in.OrderDate,
			CurrentReading:        in.CurrentReading,
			BaselineReading:       baseline,
			RemainingTonerPercent: in.RemainingTonerPercent,
			Source:                source,
			RecordedBy:            actor.ID,
		}
		if err := tx.Create(order).Error; err != nil {
			return fmt.Errorf("failed to record order: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// machineBaseline is the part-stream value of the machine's earliest reading at or before
// period, or zero when there is none.
func machineBaseline(tx *gorm.DB, machineID int64, meter model.MeterType, period model.Period) (int64, error) {
	first, err := readingTimeline{tx: tx, machineID: machineID}.Earliest(period)
	if err != nil || first == nil {
		return 0, err
	}
	v, _ := calc.CountersOf(*first).Stream(meter)
	return v, nil
}

// GetOrder loads an order on a machine visible to actor.
func (s *gormStore) GetOrder(ctx context.Context, actor model.Actor, id int64) (*model.PartOrder, error) {
	return loadOrder(s.db.WithContext(ctx), actor, id)
}

func loadOrder(tx *gorm.DB, actor model.Actor, id int64) (*model.PartOrder, error) {
	var o model.PartOrder
	if err := tx.Preload("Machine").First(&o, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("order", id)
		}
		return nil, fmt.Errorf("failed to load order %d: %w", id, err)
	}
	if o.Machine == nil || !actor.CanSee(o.Machine.Branch) {
		return nil, errs.NotFound("order", id)
	}
	return &o, nil
}

// DeleteOrder removes an order. The following order's prior reading is derived on read, so
// it falls back to whatever now precedes it.
func (s *gormStore) DeleteOrder(ctx context.Context, actor model.Actor, id int64) (*model.PartOrder, error) {
	var deleted *model.PartOrder
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := loadOrder(tx, actor, id)
		if err != nil {
			return err
		}
		if err := tx.Delete(&model.PartOrder{}, o.ID).Error; err != nil {
			return fmt.Errorf("failed to delete order %d: %w", o.ID, err)
		}
		o.Machine = nil
		deleted = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// OrderTimeline returns every order on a machine grouped by part and sorted by
// (order date, id), each with its prior reading resolved.
func (s *gormStore) OrderTimeline(ctx context.Context, machineID int64) ([]OrderEntry, error) {
	var orders []model.PartOrder
	err := s.db.WithContext(ctx).
		Preload("ModelPart").
		Where("machine_id = ?", machineID).
		Order("model_part_id ASC, order_date ASC, id ASC").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load orders of machine %d: %w", machineID, err)
	}
	return resolvePriors(orders), nil
}
