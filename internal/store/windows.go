package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"copier-fleet-backend/internal/lock"
	"copier-fleet-backend/internal/model"
)

// holdWindows creates any missing window rows for scopes as OPEN and reads them back under
// a row lock of the given strength ("SHARE" or "UPDATE").
func holdWindows(tx *gorm.DB, period model.Period, scopes []string, strength string) ([]model.Submission, error) {
	for _, branch := range scopes {
		w := model.Submission{Year: period.Year, Month: period.Month, Branch: branch, State: model.LockOpen}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&w).Error; err != nil {
			return nil, fmt.Errorf("failed to open window %s/%q: %w", period, branch, err)
		}
	}

	var windows []model.Submission
	err := tx.Clauses(clause.Locking{Strength: strength}).
		Where("year = ? AND month = ? AND branch IN ?", period.Year, period.Month, scopes).
		Order("branch").
		Find(&windows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to lock windows for %s: %w", period, err)
	}
	if len(windows) != len(scopes) {
		return nil, fmt.Errorf("expected %d windows for %s, found %d", len(scopes), period, len(windows))
	}
	return windows, nil
}

// Windows returns the windows covering branch for period without creating them. A window
// with no row yet is reported as OPEN.
func (s *gormStore) Windows(ctx context.Context, period model.Period, branch string) ([]model.Submission, error) {
	scopes := lock.Scopes(branch)
	var rows []model.Submission
	err := s.db.WithContext(ctx).
		Where("year = ? AND month = ? AND branch IN ?", period.Year, period.Month, scopes).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load windows for %s: %w", period, err)
	}

	byBranch := make(map[string]model.Submission, len(rows))
	for _, r := range rows {
		byBranch[r.Branch] = r
	}
	out := make([]model.Submission, 0, len(scopes))
	for _, b := range scopes {
		if w, ok := byBranch[b]; ok {
			out = append(out, w)
			continue
		}
		out = append(out, model.Submission{Year: period.Year, Month: period.Month, Branch: b, State: model.LockOpen})
	}
	return out, nil
}

// Transition runs decide against the window for (period, branch) while holding it
// exclusively, together with the completion of the branch's in-scope fleet, and stores the
// window decide returns.
func (s *gormStore) Transition(ctx context.Context, period model.Period, branch string, decide Decision) (*model.Submission, error) {
	var out *model.Submission
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		windows, err := holdWindows(tx, period, []string{branch}, "UPDATE")
		if err != nil {
			return err
		}
		current := windows[0]

		completion, err := countCompletion(tx, period, branch)
		if err != nil {
			return err
		}

		next, err := decide(current, completion)
		if err != nil {
			return err
		}
		next.ID, next.Year, next.Month, next.Branch = current.ID, current.Year, current.Month, current.Branch
		next.CreatedAt = current.CreatedAt
		if err := tx.Save(&next).Error; err != nil {
			return fmt.Errorf("failed to save window %s/%q: %w", period, branch, err)
		}
		out = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// countCompletion counts the active, non-decommissioned machines in branch and how many of
// them have a reading for period.
func countCompletion(tx *gorm.DB, period model.Period, branch string) (lock.Completion, error) {
	fleet := func() *gorm.DB {
		q := tx.Model(&model.Machine{}).
			Where("machines.is_active = ? AND machines.is_decommissioned = ?", true, false)
		if branch != "" {
			q = q.Where("machines.branch = ?", branch)
		}
		return q
	}

	var total int64
	if err := fleet().Count(&total).Error; err != nil {
		return lock.Completion{}, fmt.Errorf("failed to count fleet: %w", err)
	}

	var captured int64
	err := fleet().
		Joins("JOIN readings ON readings.machine_id = machines.id AND readings.year = ? AND readings.month = ?", period.Year, period.Month).
		Count(&captured).Error
	if err != nil {
		return lock.Completion{}, fmt.Errorf("failed to count captured readings: %w", err)
	}
	return lock.Completion{Total: int(total), Captured: int(captured)}, nil
}
