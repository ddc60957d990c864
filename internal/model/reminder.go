package model

import "time"

// ReminderType classifies a scheduled notification.
type ReminderType string

const (
	ReminderMedication ReminderType = "medication"
	ReminderCheckin    ReminderType = "checkin"
	ReminderAlert      ReminderType = "alert"
	ReminderCustom     ReminderType = "custom"
)

// Valid reports whether t is a known reminder type.
func (t ReminderType) Valid() bool {
	switch t {
	case ReminderMedication, ReminderCheckin, ReminderAlert, ReminderCustom:
		return true
	}
	return false
}

// Reminder is a scheduled notification for a user. CompletedAt is set iff Completed, and
// NotifiedAt is claimed once so a reminder is sent at most once.
type Reminder struct {
	ID            uint         `gorm:"primaryKey" json:"id"`
	UserID        uint         `gorm:"index;not null" json:"user_id"`
	Type          ReminderType `gorm:"type:varchar(16);not null" json:"type"`
	Title         string       `gorm:"not null" json:"title"`
	Message       string       `gorm:"type:text" json:"message"`
	ScheduledTime time.Time    `gorm:"index;not null" json:"scheduled_time"`
	Completed     bool         `gorm:"not null;default:false;index" json:"completed"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
	NotifiedAt    *time.Time   `json:"notified_at,omitempty"`
	MedicationID  *uint        `gorm:"index" json:"medication_id,omitempty"`
	CreatedAt     time.Time    `gorm:"autoCreateTime" json:"created_at"`
}
