package model

import "time"

// LockState is the state of a (year, month, branch) capture window.
type LockState string

const (
	LockOpen   LockState = "OPEN"
	LockLocked LockState = "LOCKED"
)

// Submission is the lock entity for a month. Branch "" covers every branch.
// Rows are created OPEN on first use and are never deleted; unlocking flips the state back.
type Submission struct {
	ID          int64      `gorm:"primaryKey" json:"id"`
	Year        int        `gorm:"uniqueIndex:idx_submission_period;not null" json:"year"`
	Month       int        `gorm:"uniqueIndex:idx_submission_period;not null" json:"month"`
	Branch      string     `gorm:"uniqueIndex:idx_submission_period;size:64;not null" json:"branch"`
	State       LockState  `gorm:"size:16;not null" json:"state"`
	Forced      bool       `gorm:"not null" json:"forced"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	SubmittedBy string     `gorm:"size:128" json:"submittedBy,omitempty"`
	UnlockedAt  *time.Time `json:"unlockedAt,omitempty"`
	UnlockedBy  string     `gorm:"size:128" json:"unlockedBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Period returns the submission's calendar month.
func (s Submission) Period() Period {
	return Period{Year: s.Year, Month: s.Month}
}
