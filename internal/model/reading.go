package model

import "time"

// Reading is one month's meter counters for a machine. At most one exists per
// (machine, year, month); the usage fields are derived when the row is written.
type Reading struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	MachineID     int64     `gorm:"uniqueIndex:idx_reading_machine_period;not null" json:"machineId"`
	Year          int       `gorm:"uniqueIndex:idx_reading_machine_period;not null" json:"year"`
	Month         int       `gorm:"uniqueIndex:idx_reading_machine_period;not null" json:"month"`
	MonoReading   *int64    `json:"monoReading"`
	ColourReading *int64    `json:"colourReading"`
	ScanReading   *int64    `json:"scanReading"`
	MonoUsage     *int64    `json:"monoUsage"`
	ColourUsage   *int64    `json:"colourUsage"`
	ScanUsage     *int64    `json:"scanUsage"`
	Note          string    `gorm:"type:text" json:"note,omitempty"`
	CapturedBy    string    `gorm:"size:128;not null" json:"capturedBy"`
	CapturedAt    time.Time `gorm:"not null" json:"capturedAt"`

	// Associations
	Machine *Machine `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// Period returns the reading's calendar month.
func (r Reading) Period() Period {
	return Period{Year: r.Year, Month: r.Month}
}
