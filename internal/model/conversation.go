package model

import "time"

// Conversation is one immutable message/response exchange with the companion.
type Conversation struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           uint      `gorm:"index:idx_conversation_user_time;not null" json:"user_id"`
	Message          string    `gorm:"type:text;not null" json:"message"`
	Response         string    `gorm:"type:text" json:"response"`
	SentimentScore   *float64  `json:"sentiment_score,omitempty"`
	SentimentLabel   string    `json:"sentiment_label,omitempty"`
	ConversationType string    `gorm:"not null;default:general" json:"conversation_type"`
	Timestamp        time.Time `gorm:"index:idx_conversation_user_time;not null" json:"timestamp"`
}

// All lists every persisted model, in migration order.
func All() []any {
	return []any{
		&User{},
		&CaregiverPatientAssignment{},
		&Medication{},
		&MedicationLog{},
		&Reminder{},
		&Conversation{},
		&CaregiverAlert{},
		&PersonalEvent{},
	}
}
