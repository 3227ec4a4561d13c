package model

import "time"

// Machine represents a copier/printer under contract. Machines are maintained by the
// directory service; the engine only reads them.
type Machine struct {
	ID               int64      `gorm:"primaryKey" json:"id"`
	SerialNumber     string     `gorm:"uniqueIndex;size:64;not null" json:"serialNumber"`
	HasMono          bool       `gorm:"not null" json:"hasMono"`
	HasColour        bool       `gorm:"not null" json:"hasColour"`
	HasScan          bool       `gorm:"not null" json:"hasScan"`
	IsActive         bool       `gorm:"not null" json:"isActive"`
	IsDecommissioned bool       `gorm:"not null" json:"isDecommissioned"`
	CustomerID       *int64     `gorm:"index" json:"customerId,omitempty"`
	ModelID          *int64     `gorm:"index" json:"modelId,omitempty"`
	ModelAssignedAt  *time.Time `json:"modelAssignedAt,omitempty"`
	Branch           string     `gorm:"size:64;index;not null" json:"branch"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`

	// Associations
	Customer *Customer     `gorm:"constraint:OnDelete:SET NULL" json:"-"`
	Model    *MachineModel `gorm:"constraint:OnDelete:SET NULL" json:"-"`
}

// InScope reports whether the machine counts towards a month's completion.
func (m Machine) InScope() bool {
	return m.IsActive && !m.IsDecommissioned
}

// Customer owns machines.
type Customer struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:256;not null" json:"name"`
	Branch    string    `gorm:"size:64;index" json:"branch"`
	CreatedAt time.Time `json:"createdAt"`
}

// MachineModel is a manufacturer model. MachineLife is the rated lifetime click count,
// nil when the manufacturer does not publish one.
type MachineModel struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"uniqueIndex;size:128;not null" json:"name"`
	MachineLife *int64    `json:"machineLife,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`

	// Associations
	Parts []ModelPart `gorm:"foreignKey:ModelID" json:"parts,omitempty"`
}
