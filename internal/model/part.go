package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PartType distinguishes toner cartridges, which may report remaining capacity, from other consumables.
type PartType string

const (
	PartGeneral PartType = "general"
	PartToner   PartType = "toner"
)

// MeterType selects the usage stream a part consumes against.
type MeterType string

const (
	MeterMono   MeterType = "mono"
	MeterColour MeterType = "colour"
	MeterTotal  MeterType = "total"
)

// ModelPart is a consumable definition scoped to a machine model.
type ModelPart struct {
	ID            int64           `gorm:"primaryKey" json:"id"`
	ModelID       int64           `gorm:"uniqueIndex:idx_model_part_item;not null" json:"modelId"`
	PartName      string          `gorm:"size:128;not null" json:"partName"`
	ItemCode      string          `gorm:"uniqueIndex:idx_model_part_item;size:64;not null" json:"itemCode"`
	PartType      PartType        `gorm:"size:16;not null" json:"partType"`
	TonerColor    string          `gorm:"size:32" json:"tonerColor,omitempty"`
	ExpectedYield int64           `gorm:"not null" json:"expectedYield"`
	CostRand      decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"costRand"`
	MeterType     MeterType       `gorm:"size:16;not null" json:"meterType"`
	Branch        string          `gorm:"size:64;index" json:"branch,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`

	// Associations
	Model *MachineModel `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// IsToner reports whether remaining-toner adjustments apply.
func (p ModelPart) IsToner() bool {
	return p.PartType == PartToner
}

// OrderSource records how a part order entered the ledger.
type OrderSource string

const (
	SourceManual OrderSource = "manual"
	SourceImport OrderSource = "import"
)

// PartOrder records the replacement of a consumable on a machine. The prior reading is not
// stored: it is the CurrentReading of the nearest earlier order for the same part and machine,
// falling back to BaselineReading when there is none.
type PartOrder struct {
	ID                    int64       `gorm:"primaryKey" json:"id"`
	MachineID             int64       `gorm:"index:idx_part_order_timeline;not null" json:"machineId"`
	ModelPartID           int64       `gorm:"index:idx_part_order_timeline;not null" json:"modelPartId"`
	OrderDate             time.Time   `gorm:"index:idx_part_order_timeline;not null" json:"orderDate"`
	CurrentReading        int64       `gorm:"not null" json:"currentReading"`
	BaselineReading       int64       `gorm:"not null" json:"baselineReading"`
	RemainingTonerPercent *float64    `json:"remainingTonerPercent,omitempty"`
	Source                OrderSource `gorm:"size:16;not null" json:"source"`
	RecordedBy            string      `gorm:"size:128;not null" json:"recordedBy"`
	CreatedAt             time.Time   `json:"createdAt"`

	// Associations
	Machine   *Machine   `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	ModelPart *ModelPart `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
