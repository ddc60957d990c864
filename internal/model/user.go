package model

import (
	"time"

	"gorm.io/datatypes"
)

// Role distinguishes patients from the people caring for them.
type Role string

const (
	RolePatient   Role = "patient"
	RoleCaregiver Role = "caregiver"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleCaregiver, RoleAdmin:
		return true
	}
	return false
}

// User is a patient, caregiver or administrator. Users are deactivated, never deleted.
type User struct {
	ID               uint              `gorm:"primaryKey" json:"id"`
	Name             string            `gorm:"not null" json:"name"`
	Email            string            `json:"email,omitempty"`
	Phone            string            `json:"phone,omitempty"`
	Preferences      datatypes.JSONMap `json:"preferences,omitempty"`
	ContactChannel   string            `gorm:"index" json:"contact_channel,omitempty"`
	EmergencyContact string            `json:"emergency_contact,omitempty"`
	EmergencyChannel string            `json:"emergency_channel,omitempty"`
	Role             Role              `gorm:"type:varchar(16);not null;default:patient;index" json:"role"`
	Active           bool              `gorm:"not null;default:true" json:"active"`
	CreatedAt        time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// CaregiverPatientAssignment links a caregiver to a patient.
type CaregiverPatientAssignment struct {
	ID                      uint              `gorm:"primaryKey" json:"id"`
	CaregiverID             uint              `gorm:"not null;uniqueIndex:idx_assignment_pair" json:"caregiver_id"`
	PatientID               uint              `gorm:"not null;uniqueIndex:idx_assignment_pair;index" json:"patient_id"`
	Relationship            string            `json:"relationship,omitempty"`
	NotificationPreferences datatypes.JSONMap `json:"notification_preferences,omitempty"`
	Caregiver               *User             `gorm:"foreignKey:CaregiverID" json:"caregiver,omitempty"`
	Patient                 *User             `gorm:"foreignKey:PatientID" json:"patient,omitempty"`
	CreatedAt               time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

// MinSeverity returns the lowest alert severity the caregiver wants pushed to them.
// Emergencies are always high, so they are delivered under every preference.
func (a CaregiverPatientAssignment) MinSeverity() Severity {
	if a.NotificationPreferences != nil {
		if raw, ok := a.NotificationPreferences["min_severity"].(string); ok && Severity(raw).Valid() {
			return Severity(raw)
		}
	}
	return SeverityHigh
}

// PersonalEvent is a calendar-like fact used as conversational context.
type PersonalEvent struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	UserID      uint       `gorm:"index;not null" json:"user_id"`
	EventType   string     `gorm:"not null" json:"event_type"`
	Title       string     `gorm:"not null" json:"title"`
	Description string     `gorm:"type:text" json:"description,omitempty"`
	EventDate   *time.Time `gorm:"index" json:"event_date,omitempty"`
	Recurring   bool       `json:"recurring"`
	Importance  string     `gorm:"not null;default:medium" json:"importance"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
}
