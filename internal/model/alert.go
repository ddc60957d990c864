package model

import "time"

// AlertType names the rule or source that raised a caregiver alert.
type AlertType string

const (
	AlertMedicationMissed AlertType = "medication_missed"
	AlertMoodConcern      AlertType = "mood_concern"
	AlertEmergency        AlertType = "emergency"
	AlertWeeklyReport     AlertType = "weekly_report"
)

// Severity orders alerts for caregiver attention.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s.rank() > 0
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

// CaregiverAlert is a derived signal for caregivers, resolved exactly once. A user has at most
// one unresolved alert per rule type; weekly reports are exempt.
type CaregiverAlert struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	UserID      uint       `gorm:"index:idx_alert_open;uniqueIndex:idx_alert_one_open;not null" json:"user_id"`
	AlertType   AlertType  `gorm:"type:varchar(32);index:idx_alert_open;uniqueIndex:idx_alert_one_open,where:resolved = false AND alert_type <> 'weekly_report';not null" json:"alert_type"`
	Severity    Severity   `gorm:"type:varchar(8);not null;default:medium" json:"severity"`
	Title       string     `gorm:"not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	Resolved    bool       `gorm:"index:idx_alert_open;not null;default:false" json:"resolved"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
}
