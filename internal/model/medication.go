package model

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Frequency is the recurrence class of a medication schedule.
type Frequency string

const (
	FrequencyDaily      Frequency = "daily"
	FrequencyTwiceDaily Frequency = "twice_daily"
	FrequencyThreeDaily Frequency = "three_times_daily"
	FrequencyWeekly     Frequency = "weekly"
	FrequencyAsNeeded   Frequency = "as_needed"
)

// Valid reports whether f is a known frequency class.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyTwiceDaily, FrequencyThreeDaily, FrequencyWeekly, FrequencyAsNeeded:
		return true
	}
	return false
}

// Medication is a recurring prescription. Only active medications are materialized.
type Medication struct {
	ID            uint                        `gorm:"primaryKey" json:"id"`
	UserID        uint                        `gorm:"index;not null" json:"user_id"`
	Name          string                      `gorm:"not null" json:"name"`
	Dosage        string                      `gorm:"not null" json:"dosage"`
	Frequency     Frequency                   `gorm:"type:varchar(32);not null" json:"frequency"`
	ScheduleTimes datatypes.JSONSlice[string] `json:"schedule_times"`
	Instructions  string                      `gorm:"type:text" json:"instructions,omitempty"`
	Active        bool                        `gorm:"not null;default:true;index" json:"active"`
	StartDate     time.Time                   `json:"start_date"`
	CreatedAt     time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

// ParseClock parses an "HH:MM" time of day.
func ParseClock(value string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q, want HH:MM", value)
	}
	return t.Hour(), t.Minute(), nil
}

// LogStatus is the state of one scheduled dose.
type LogStatus string

const (
	LogPending LogStatus = "pending"
	LogTaken   LogStatus = "taken"
	LogMissed  LogStatus = "missed"
	LogSkipped LogStatus = "skipped"
)

// Terminal reports whether s is a final state. Logs never leave a final state.
func (s LogStatus) Terminal() bool {
	return s == LogTaken || s == LogMissed || s == LogSkipped
}

// MedicationLog is one materialized dose occurrence. (medication_id, scheduled_time) is the
// idempotency key and scheduled_time never changes after insert.
type MedicationLog struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	UserID        uint        `gorm:"index;not null" json:"user_id"`
	MedicationID  uint        `gorm:"not null;uniqueIndex:idx_log_occurrence" json:"medication_id"`
	ScheduledTime time.Time   `gorm:"not null;uniqueIndex:idx_log_occurrence;index" json:"scheduled_time"`
	TakenTime     *time.Time  `json:"taken_time,omitempty"`
	Status        LogStatus   `gorm:"type:varchar(16);not null;default:pending;index" json:"status"`
	Notes         string      `gorm:"type:text" json:"notes,omitempty"`
	Medication    *Medication `gorm:"foreignKey:MedicationID" json:"medication,omitempty"`
	CreatedAt     time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}
