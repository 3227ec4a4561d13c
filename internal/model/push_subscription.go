package model

import "time"

// PushSubscription holds the information for a browser push subscription. Subscribers
// receive toner-due alerts for machines in Branch, or every branch when Branch is empty.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	Branch    string    `gorm:"size:64;index;not null"`
	CreatedAt time.Time `gorm:"not null"`
}
