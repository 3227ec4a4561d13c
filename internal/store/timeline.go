package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"copier-fleet-backend/internal/model"
)

// readingTimeline answers nearest-neighbour questions over one machine's readings.
// Periods compare by (year, month); callers pass the transaction the answer must be
// consistent with.
type readingTimeline struct {
	tx        *gorm.DB
	machineID int64
}

func (t readingTimeline) find(where string, order string, args ...any) (*model.Reading, error) {
	var r model.Reading
	err := t.tx.Where("machine_id = ?", t.machineID).
		Where(where, args...).
		Order(order).
		Limit(1).
		Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query readings of machine %d: %w", t.machineID, err)
	}
	return &r, nil
}

// Before returns the nearest reading strictly earlier than p, or nil.
func (t readingTimeline) Before(p model.Period) (*model.Reading, error) {
	return t.find("(year < ? OR (year = ? AND month < ?))", "year DESC, month DESC", p.Year, p.Year, p.Month)
}

// After returns the nearest reading strictly later than p, or nil.
func (t readingTimeline) After(p model.Period) (*model.Reading, error) {
	return t.find("(year > ? OR (year = ? AND month > ?))", "year ASC, month ASC", p.Year, p.Year, p.Month)
}

// At returns the reading for p, or nil.
func (t readingTimeline) At(p model.Period) (*model.Reading, error) {
	return t.find("year = ? AND month = ?", "id", p.Year, p.Month)
}

// Earliest returns the first reading at or before p, or nil.
func (t readingTimeline) Earliest(p model.Period) (*model.Reading, error) {
	return t.find("(year < ? OR (year = ? AND month <= ?))", "year ASC, month ASC", p.Year, p.Year, p.Month)
}

// orderTimeline orders one machine's replacements of one part by (order date, id).
type orderTimeline struct {
	tx          *gorm.DB
	machineID   int64
	modelPartID int64
}

func (t orderTimeline) find(where string, order string, args ...any) (*model.PartOrder, error) {
	var o model.PartOrder
	err := t.tx.Where("machine_id = ? AND model_part_id = ?", t.machineID, t.modelPartID).
		Where(where, args...).
		Order(order).
		Limit(1).
		Take(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query orders of machine %d: %w", t.machineID, err)
	}
	return &o, nil
}

// Before returns the latest existing order a new order dated date would follow. Orders on
// the same date sort before a new one.
func (t orderTimeline) Before(date time.Time) (*model.PartOrder, error) {
	return t.find("order_date <= ?", "order_date DESC, id DESC", date)
}

// After returns the earliest existing order a new order dated date would precede.
func (t orderTimeline) After(date time.Time) (*model.PartOrder, error) {
	return t.find("order_date > ?", "order_date ASC, id ASC", date)
}

// resolvePriors walks orders sorted by (part, order date, id) and derives each entry's
// prior reading from its predecessor, falling back to the stored baseline.
func resolvePriors(orders []model.PartOrder) []OrderEntry {
	out := make([]OrderEntry, 0, len(orders))
	var prev *model.PartOrder
	for i := range orders {
		o := orders[i]
		entry := OrderEntry{Order: o, PriorReading: o.BaselineReading}
		if o.ModelPart != nil {
			entry.Part = *o.ModelPart
		}
		if prev != nil && prev.ModelPartID == o.ModelPartID {
			entry.PriorReading = prev.CurrentReading
		}
		entry.Order.ModelPart = nil
		out = append(out, entry)
		prev = &orders[i]
	}
	return out
}
