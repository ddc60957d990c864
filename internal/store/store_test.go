package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pathakanu/carely/internal/apperr"
	"github.com/pathakanu/carely/internal/model"
	"github.com/pathakanu/carely/internal/store"
	"github.com/pathakanu/carely/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMedication(t *testing.T, s *store.Store, userID uint) *model.Medication {
	t.Helper()
	med := &model.Medication{
		UserID:        userID,
		Name:          "Metformin",
		Dosage:        "500mg",
		Frequency:     model.FrequencyTwiceDaily,
		ScheduleTimes: []string{"08:00", "20:00"},
		StartDate:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.CreateMedication(context.Background(), med))
	return med
}

func TestCreateMedicationValidation(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	user := storetest.Patient(t, s, "Ada")

	err := s.CreateMedication(ctx, &model.Medication{UserID: user.ID, Name: "X", Frequency: "hourly"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	err = s.CreateMedication(ctx, &model.Medication{
		UserID: user.ID, Name: "X", Frequency: model.FrequencyDaily, ScheduleTimes: []string{"8am"},
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	err = s.CreateMedication(ctx, &model.Medication{UserID: 999, Name: "X", Frequency: model.FrequencyDaily})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMaterializeDoseIsIdempotent(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	user := storetest.Patient(t, s, "Ada")
	med := newMedication(t, s, user.ID)

	at := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		log := &model.MedicationLog{UserID: user.ID, MedicationID: med.ID, ScheduledTime: at}
		reminder := &model.Reminder{UserID: user.ID, Type: model.ReminderMedication, Title: "Take Metformin", ScheduledTime: at, MedicationID: &med.ID}
		inserted, err := s.MaterializeDose(ctx, log, reminder)
		require.NoError(t, err)
		assert.Equal(t, i == 0, inserted)
	}

	logs, err := s.LogsForUser(ctx, user.ID, at.Add(-time.Hour), at.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.LogPending, logs[0].Status)
	require.NotNil(t, logs[0].Medication)
	assert.Equal(t, "Metformin", logs[0].Medication.Name)

	reminders, err := s.DueReminders(ctx, user.ID, at)
	require.NoError(t, err)
	assert.Len(t, reminders, 1)
}

func TestTransitionLogIsOneWay(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	user := storetest.Patient(t, s, "Ada")
	med := newMedication(t, s, user.ID)

	at := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	log := &model.MedicationLog{UserID: user.ID, MedicationID: med.ID, ScheduledTime: at}
	_, err := s.MaterializeDose(ctx, log, nil)
	require.NoError(t, err)

	takenAt := at.Add(10 * time.Minute)
	updated, err := s.TransitionLog(ctx, log.ID, model.LogTaken, takenAt, "")
	require.NoError(t, err)
	assert.Equal(t, model.LogTaken, updated.Status)
	require.NotNil(t, updated.TakenTime)
	assert.True(t, takenAt.Equal(*updated.TakenTime))

	_, err = s.TransitionLog(ctx, log.ID, model.LogMissed, takenAt.Add(2*time.Hour), "")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	current, err := s.GetLog(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LogTaken, current.Status)
}

func TestTransitionLogCompletesMedicationReminder(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	user := storetest.Patient(t, s, "Ada")
	med := newMedication(t, s, user.ID)

	morning := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)
	var logs []*model.MedicationLog
	for _, at := range []time.Time{morning, evening} {
		log := &model.MedicationLog{UserID: user.ID, MedicationID: med.ID, ScheduledTime: at}
		reminder := &model.Reminder{UserID: user.ID, Type: model.ReminderMedication, Title: "Take Metformin", ScheduledTime: at, MedicationID: &med.ID}
		_, err := s.MaterializeDose(ctx, log, reminder)
		require.NoError(t, err)
		logs = append(logs, log)
	}
	checkin := &model.Reminder{UserID: user.ID, Type: model.ReminderCheckin, Title: "Check-in", ScheduledTime: morning}
	require.NoError(t, s.CreateReminder(ctx, checkin))

	_, err := s.TransitionLog(ctx, logs[0].ID, model.LogMissed, morning.Add(3*time.Hour), "")
	require.NoError(t, err)

	due, err := s.DueReminders(ctx, user.ID, evening)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, checkin.ID, due[0].ID)
	assert.Equal(t, model.ReminderMedication, due[1].Type)
	assert.True(t, evening.Equal(due[1].ScheduledTime))

	unsent, err := s.UnnotifiedDueReminders(ctx, morning)
	require.NoError(t, err)
	require.Len(t, unsent, 1)
	assert.Equal(t, checkin.ID, unsent[0].ID)
}

func TestTransitionLogErrors(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	_, err := s.TransitionLog(ctx, 42, model.LogTaken, time.Now(), "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = s.TransitionLog(ctx, 42, model.LogPending, time.Now(), "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestTransitionLogConcurrentWritersOneWins(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	user := storetest.Patient(t, s, "Ada")
	med := newMedication(t, s, user.ID)

	log := &model.MedicationLog{UserID: user.ID, MedicationID: med.ID, ScheduledTime: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
	_, err := s.MaterializeDose(ctx, log, nil)
	require.NoError(t, err)

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for _, status := range []model.LogStatus{model.LogTaken, model.LogMissed, model.LogSkipped, model.LogTaken} {
		wg.Add(1)
		go func(status model.LogStatus) {
			defer wg.Done()
			_, err := s.TransitionLog(ctx, log.ID, status, time.Now(), "")
			switch {
			case err == nil:
				wins.Add(1)
			case assert.ErrorIs(t, err, apperr.ErrConflict):
				conflicts.Add(1)
			}
		}(status)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(3), conflicts.Load())
}

func TestRecordDoseRequiresTerminalStatus(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	user := storetest.Patient(t, s, "Ada")
	med := newMedication(t, s, user.ID)

	err := s.RecordDose(ctx, &model.MedicationLog{MedicationID: med.ID, ScheduledTime: time.Now(), Status: model.LogPending})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	log := &model.MedicationLog{MedicationID: med.ID, ScheduledTime: time.Now(), Status: model.LogTaken}
	require.NoError(t, s.RecordDose(ctx, log))
	assert.Equal(t, user.ID, log.UserID)
	assert.NotNil(t, log.TakenTime)
}

func TestClaimReminderNotificationOnce(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	user := storetest.Patient(t, s, "Ada")

	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	reminder := &model.Reminder{UserID: user.ID, Type: model.ReminderCheckin, Title: "Check-in", ScheduledTime: at}
	require.NoError(t, s.CreateReminder(ctx, reminder))

	due, err := s.UnnotifiedDueReminders(ctx, at)
	require.NoError(t, err)
	require.Len(t, due, 1)

	claimed, err := s.ClaimReminderNotification(ctx, reminder.ID, at)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.ClaimReminderNotification(ctx, reminder.ID, at)
	require.NoError(t, err)
	assert.False(t, claimed)

	due, err = s.UnnotifiedDueReminders(ctx, at.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestCompleteReminder(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	user := storetest.Patient(t, s, "Ada")

	reminder := &model.Reminder{UserID: user.ID, Type: model.ReminderCustom, Title: "Call Sam", ScheduledTime: time.Now()}
	require.NoError(t, s.CreateReminder(ctx, reminder))

	done, err := s.CompleteReminder(ctx, reminder.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, done.Completed)
	assert.NotNil(t, done.CompletedAt)

	_, err = s.CompleteReminder(ctx, reminder.ID, time.Now())
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = s.CompleteReminder(ctx, 999, time.Now())
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	err = s.CreateReminder(ctx, &model.Reminder{UserID: user.ID, Type: "pager", Title: "x", ScheduledTime: time.Now()})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestAlertLifecycle(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	user := storetest.Patient(t, s, "Ada")

	open, err := s.FindUnresolvedAlert(ctx, user.ID, model.AlertMedicationMissed)
	require.NoError(t, err)
	assert.Nil(t, open)

	alert := &model.CaregiverAlert{UserID: user.ID, AlertType: model.AlertMedicationMissed, Severity: model.SeverityMedium, Title: "Low adherence"}
	require.NoError(t, s.CreateAlert(ctx, alert))

	open, err = s.FindUnresolvedAlert(ctx, user.ID, model.AlertMedicationMissed)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, alert.ID, open.ID)

	resolved, err := s.ResolveAlert(ctx, alert.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.NotNil(t, resolved.ResolvedAt)

	_, err = s.ResolveAlert(ctx, alert.ID, time.Now())
	assert.ErrorIs(t, err, apperr.ErrConflict)

	open, err = s.FindUnresolvedAlert(ctx, user.ID, model.AlertMedicationMissed)
	require.NoError(t, err)
	assert.Nil(t, open)

	latest, err := s.LatestAlert(ctx, user.ID, model.AlertMedicationMissed)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, alert.ID, latest.ID)

	all, err := s.ListAlerts(ctx, user.ID, true)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	openOnly, err := s.ListAlerts(ctx, user.ID, false)
	require.NoError(t, err)
	assert.Empty(t, openOnly)
}

func TestOneOpenAlertPerType(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	user := storetest.Patient(t, s, "Ada")
	newAlert := func(alertType model.AlertType) *model.CaregiverAlert {
		return &model.CaregiverAlert{UserID: user.ID, AlertType: alertType, Severity: model.SeverityLow, Title: string(alertType)}
	}

	first := newAlert(model.AlertMoodConcern)
	require.NoError(t, s.CreateAlert(ctx, first))
	assert.ErrorIs(t, s.CreateAlert(ctx, newAlert(model.AlertMoodConcern)), apperr.ErrConflict)
	require.NoError(t, s.CreateAlert(ctx, newAlert(model.AlertEmergency)))

	_, err := s.ResolveAlert(ctx, first.ID, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.CreateAlert(ctx, newAlert(model.AlertMoodConcern)))

	require.NoError(t, s.CreateAlert(ctx, newAlert(model.AlertWeeklyReport)))
	require.NoError(t, s.CreateAlert(ctx, newAlert(model.AlertWeeklyReport)))

	open, err := s.ListAlerts(ctx, user.ID, false)
	require.NoError(t, err)
	assert.Len(t, open, 4)
}

func TestUpdatePreferencesMerges(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	user := storetest.Patient(t, s, "Ada")

	_, err := s.UpdatePreferences(ctx, user.ID, map[string]any{"language": "en", "checkins": true})
	require.NoError(t, err)

	updated, err := s.UpdatePreferences(ctx, user.ID, map[string]any{"language": "es", "checkins": nil})
	require.NoError(t, err)
	assert.Equal(t, "es", updated.Preferences["language"])
	assert.NotContains(t, updated.Preferences, "checkins")

	_, err = s.UpdatePreferences(ctx, 999, map[string]any{"a": 1})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAssignCaregiverChecksRoles(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	patient := storetest.Patient(t, s, "Ada")
	caregiver := &model.User{Name: "Sam", Role: model.RoleCaregiver, ContactChannel: "telegram:1234"}
	require.NoError(t, s.CreateUser(ctx, caregiver))

	err := s.AssignCaregiver(ctx, &model.CaregiverPatientAssignment{CaregiverID: patient.ID, PatientID: caregiver.ID})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	require.NoError(t, s.AssignCaregiver(ctx, &model.CaregiverPatientAssignment{CaregiverID: caregiver.ID, PatientID: patient.ID, Relationship: "son"}))
	err = s.AssignCaregiver(ctx, &model.CaregiverPatientAssignment{CaregiverID: caregiver.ID, PatientID: patient.ID})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	assignments, err := s.CaregiversForPatient(ctx, patient.ID)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	require.NotNil(t, assignments[0].Caregiver)
	assert.Equal(t, "Sam", assignments[0].Caregiver.Name)
	assert.Equal(t, model.SeverityHigh, assignments[0].MinSeverity())
}

func TestConversationQueries(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	user := storetest.Patient(t, s, "Ada")

	latest, err := s.LatestConversation(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, latest)

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	score := 0.5
	require.NoError(t, s.CreateConversation(ctx, &model.Conversation{UserID: user.ID, Message: "hello", Timestamp: base}))
	require.NoError(t, s.CreateConversation(ctx, &model.Conversation{UserID: user.ID, Message: "good day", SentimentScore: &score, Timestamp: base.Add(time.Hour)}))

	bad := 2.0
	err = s.CreateConversation(ctx, &model.Conversation{UserID: user.ID, Message: "x", SentimentScore: &bad})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	latest, err = s.LatestConversation(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "good day", latest.Message)

	scored, err := s.ScoredConversations(ctx, user.ID, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, scored, 1)

	since, err := s.ConversationsSince(ctx, user.ID, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Len(t, since, 1)

	recent, err := s.RecentConversations(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "good day", recent[0].Message)
}
