package main

import (
	"context"
	"time"

	"github.com/pathakanu/carely/internal/model"
	"github.com/pathakanu/carely/internal/store"
	"gorm.io/datatypes"
)

// seed loads demo data into an empty database. It reports false when users already exist.
func seed(ctx context.Context, st *store.Store, now time.Time) (bool, error) {
	existing, err := st.ListUsers(ctx, "")
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return false, nil
	}

	dorothy := &model.User{
		Name:             "Dorothy Johnson",
		Email:            "dorothy.johnson@email.com",
		Phone:            "555-0123",
		ContactChannel:   "whatsapp:+15550123",
		EmergencyContact: "John Johnson (Son) - 555-0124",
		EmergencyChannel: "sms:+15550124",
		Preferences: datatypes.JSONMap{
			"language":         "English",
			"contact_time":     "Morning",
			"checkins":         true,
			"preferred_topics": []any{"family", "gardening", "cooking"},
		},
	}
	robert := &model.User{
		Name:             "Robert Chen",
		Email:            "robert.chen@email.com",
		Phone:            "555-0125",
		ContactChannel:   "sms:+15550125",
		EmergencyContact: "Lisa Chen (Daughter) - 555-0126",
		EmergencyChannel: "sms:+15550126",
		Preferences: datatypes.JSONMap{
			"language":         "English",
			"contact_time":     "Afternoon",
			"checkins":         true,
			"preferred_topics": []any{"reading", "chess", "music"},
		},
	}
	sarah := &model.User{
		Name:           "Sarah Miller",
		Email:          "sarah.miller@carely.com",
		Phone:          "555-0200",
		ContactChannel: "sms:+15550200",
		Role:           model.RoleCaregiver,
	}
	wilson := &model.User{
		Name:           "Dr. James Wilson",
		Email:          "james.wilson@carely.com",
		Phone:          "555-0201",
		ContactChannel: "webhook:https://clinic.example.com/carely/alerts",
		Role:           model.RoleCaregiver,
	}
	for _, u := range []*model.User{dorothy, robert, sarah, wilson} {
		if err := st.CreateUser(ctx, u); err != nil {
			return false, err
		}
	}

	assignments := []*model.CaregiverPatientAssignment{
		{CaregiverID: sarah.ID, PatientID: dorothy.ID, Relationship: "family",
			NotificationPreferences: datatypes.JSONMap{"min_severity": "low"}},
		{CaregiverID: sarah.ID, PatientID: robert.ID, Relationship: "professional",
			NotificationPreferences: datatypes.JSONMap{"min_severity": "medium"}},
		{CaregiverID: wilson.ID, PatientID: robert.ID, Relationship: "professional",
			NotificationPreferences: datatypes.JSONMap{"min_severity": "high"}},
	}
	for _, a := range assignments {
		if err := st.AssignCaregiver(ctx, a); err != nil {
			return false, err
		}
	}

	inDays := func(days int) *time.Time {
		t := now.AddDate(0, 0, days)
		return &t
	}
	events := []*model.PersonalEvent{
		{UserID: dorothy.ID, EventType: "family_event", Title: "Grandson's Birthday",
			Description: "Tommy turns 10 years old", EventDate: inDays(15), Importance: "high"},
		{UserID: dorothy.ID, EventType: "appointment", Title: "Doctor's Appointment",
			Description: "Regular checkup with Dr. Smith", EventDate: inDays(7)},
		{UserID: robert.ID, EventType: "hobby", Title: "Chess Club Meeting",
			Description: "Weekly chess club at community center", EventDate: inDays(3), Recurring: true},
	}
	for _, e := range events {
		if err := st.CreateEvent(ctx, e); err != nil {
			return false, err
		}
	}

	meds := []*model.Medication{
		{UserID: dorothy.ID, Name: "Lisinopril", Dosage: "10mg", Frequency: model.FrequencyDaily,
			ScheduleTimes: []string{"09:00"}, Instructions: "Take with breakfast, monitor blood pressure"},
		{UserID: dorothy.ID, Name: "Metformin", Dosage: "500mg", Frequency: model.FrequencyTwiceDaily,
			ScheduleTimes: []string{"08:00", "20:00"}, Instructions: "Take with meals to reduce stomach upset"},
		{UserID: dorothy.ID, Name: "Vitamin D", Dosage: "1000 IU", Frequency: model.FrequencyDaily,
			ScheduleTimes: []string{"09:00"}, Instructions: "Take with food for better absorption"},
		{UserID: robert.ID, Name: "Atorvastatin", Dosage: "20mg", Frequency: model.FrequencyDaily,
			ScheduleTimes: []string{"21:00"}, Instructions: "Take in the evening, avoid grapefruit"},
		{UserID: robert.ID, Name: "Aspirin", Dosage: "81mg", Frequency: model.FrequencyDaily,
			ScheduleTimes: []string{"09:00"}, Instructions: "Low-dose aspirin for heart health"},
	}
	for _, m := range meds {
		m.StartDate = now
		if err := st.CreateMedication(ctx, m); err != nil {
			return false, err
		}
	}

	score := func(v float64) *float64 { return &v }
	conversations := []*model.Conversation{
		{UserID: dorothy.ID, Message: "Good morning Carely! I slept well last night and I'm feeling pretty good today.",
			Response:       "Good morning Dorothy! I'm so glad to hear you slept well and are feeling good today.",
			SentimentScore: score(0.7), SentimentLabel: "positive", ConversationType: "checkin",
			Timestamp: now.Add(-2 * time.Hour)},
		{UserID: dorothy.ID, Message: "My grandson called me yesterday and we talked for an hour. It made me so happy!",
			Response:       "Oh Dorothy, that's absolutely wonderful! What did you and your grandson talk about?",
			SentimentScore: score(0.8), SentimentLabel: "positive",
			Timestamp: now.Add(-27 * time.Hour)},
		{UserID: dorothy.ID, Message: "I'm feeling a bit lonely today. My usual walking group cancelled because of the weather.",
			Response:       "I'm sorry to hear you're feeling lonely today, Dorothy. Would you like to talk about it?",
			SentimentScore: score(-0.4), SentimentLabel: "negative",
			Timestamp: now.Add(-53 * time.Hour)},
		{UserID: robert.ID, Message: "Hi Carely, I had a great day reading in the park. The weather was perfect.",
			Response:       "Hello Robert! That sounds like a lovely day. What book were you reading?",
			SentimentScore: score(0.6), SentimentLabel: "positive",
			Timestamp: now.Add(-4 * time.Hour)},
	}
	for _, c := range conversations {
		if err := st.CreateConversation(ctx, c); err != nil {
			return false, err
		}
	}
	return true, nil
}
