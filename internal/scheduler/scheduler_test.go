package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pathakanu/carely/internal/adherence"
	"github.com/pathakanu/carely/internal/alert"
	"github.com/pathakanu/carely/internal/apperr"
	"github.com/pathakanu/carely/internal/config"
	"github.com/pathakanu/carely/internal/model"
	"github.com/pathakanu/carely/internal/notify/notifytest"
	"github.com/pathakanu/carely/internal/report"
	"github.com/pathakanu/carely/internal/store"
	"github.com/pathakanu/carely/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

// Monday 10:00 UTC.
var monday = time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store    *store.Store
	sched    *Scheduler
	recorder *notifytest.Recorder
	clock    *time.Time
}

func newFixture(t *testing.T, wrap func(*store.Store) Store) *fixture {
	t.Helper()
	s := storetest.New(t)
	clock := monday
	nowFn := func() time.Time { return clock }

	recorder := &notifytest.Recorder{Fail: map[string]bool{}}
	calc := adherence.NewCalculator(s).WithClock(nowFn)
	generator := alert.NewGenerator(s, calc, recorder, config.AlertConfig{
		AdherenceWindowDays: 7,
		AdherenceThreshold:  80,
		HighSeverityBelow:   50,
		MoodWindow:          5,
		MoodThreshold:       -0.3,
	}, nil)

	var st Store = s
	if wrap != nil {
		st = wrap(s)
	}
	sched := New(st, generator, recorder, config.SchedulerConfig{
		Interval:          time.Minute,
		MissedGracePeriod: time.Hour,
	}, time.UTC, nil, Options{
		Reporter: report.NewBuilder(s, time.UTC),
		Now:      nowFn,
	})
	sched.backOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return &fixture{store: s, sched: sched, recorder: recorder, clock: &clock}
}

func (f *fixture) medication(t *testing.T, user *model.User, freq model.Frequency, times ...string) *model.Medication {
	t.Helper()
	med := &model.Medication{
		UserID:        user.ID,
		Name:          "Lisinopril",
		Dosage:        "10mg",
		Frequency:     freq,
		ScheduleTimes: times,
		Instructions:  "Take with water.",
		StartDate:     monday.AddDate(0, 0, -14),
	}
	require.NoError(t, f.store.CreateMedication(context.Background(), med))
	return med
}

func TestOccurrences(t *testing.T) {
	start := monday.AddDate(0, 0, -14)
	med := func(freq model.Frequency, times ...string) model.Medication {
		return model.Medication{Active: true, Frequency: freq, ScheduleTimes: times, StartDate: start}
	}
	at := func(h, m int) time.Time { return time.Date(2025, time.March, 10, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name string
		med  model.Medication
		now  time.Time
		loc  *time.Location
		want []time.Time
	}{
		{"daily sorted", med(model.FrequencyTwiceDaily, "20:00", "08:00"), monday, time.UTC, []time.Time{at(8, 0), at(20, 0)}},
		{"duplicate times", med(model.FrequencyDaily, "08:00", "08:00"), monday, time.UTC, []time.Time{at(8, 0)}},
		{"weekly on anchor day", med(model.FrequencyWeekly, "09:30"), monday, time.UTC, []time.Time{at(9, 30)}},
		{"weekly off anchor day", med(model.FrequencyWeekly, "09:30"), monday.AddDate(0, 0, 1), time.UTC, nil},
		{"as needed", med(model.FrequencyAsNeeded, "08:00"), monday, time.UTC, nil},
		{"bad clock ignored", med(model.FrequencyDaily, "8am", "12:00"), monday, time.UTC, []time.Time{at(12, 0)}},
		{"local zone", med(model.FrequencyDaily, "08:00"), monday, time.FixedZone("UTC-5", -5*3600), []time.Time{at(13, 0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Occurrences(tt.med, tt.now, tt.loc))
		})
	}

	t.Run("inactive", func(t *testing.T) {
		m := med(model.FrequencyDaily, "08:00")
		m.Active = false
		assert.Empty(t, Occurrences(m, monday, time.UTC))
	})

	t.Run("started today", func(t *testing.T) {
		m := med(model.FrequencyDaily, "08:00", "20:00")
		m.StartDate = at(9, 0)
		assert.Equal(t, []time.Time{at(20, 0)}, Occurrences(m, monday, time.UTC))
	})
}

func TestTickMaterializesOnce(t *testing.T) {
	f := newFixture(t, nil)
	patient := storetest.Patient(t, f.store, "Ada")
	f.medication(t, patient, model.FrequencyTwiceDaily, "09:30", "20:00")

	first := f.sched.Tick(context.Background())
	require.NoError(t, first.Err())
	assert.False(t, first.Skipped)
	assert.Equal(t, 2, first.Materialized)
	assert.Equal(t, 1, first.Notified)

	second := f.sched.Tick(context.Background())
	require.NoError(t, second.Err())
	assert.Zero(t, second.Materialized)
	assert.Zero(t, second.Notified)

	logs, err := f.store.LogsForUser(context.Background(), patient.ID, monday.AddDate(0, 0, -1), monday.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	sent := f.recorder.To(patient.ContactChannel)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "Hi Ada, it's time to take your Lisinopril (10mg). Take with water.")
	assert.Contains(t, sent[0].Text, "Reply TAKEN")
}

func TestTickMarksOverdueDosesMissed(t *testing.T) {
	f := newFixture(t, nil)
	patient := storetest.Patient(t, f.store, "Ada")
	f.medication(t, patient, model.FrequencyDaily, "08:00")

	result := f.sched.Tick(context.Background())
	require.NoError(t, result.Err())
	assert.Equal(t, 1, result.Materialized)
	assert.Equal(t, 1, result.Missed)
	assert.Equal(t, 1, result.Alerts)
	// the dose was overdue when it was materialized, so nobody is asked to take it
	assert.Zero(t, result.Notified)
	assert.Empty(t, f.recorder.To(patient.ContactChannel))

	due, err := f.store.DueReminders(context.Background(), patient.ID, monday)
	require.NoError(t, err)
	assert.Empty(t, due)

	logs, err := f.store.LogsForUser(context.Background(), patient.ID, monday.AddDate(0, 0, -1), monday)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.LogMissed, logs[0].Status)

	open, err := f.store.FindUnresolvedAlert(context.Background(), patient.ID, model.AlertMedicationMissed)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, model.SeverityHigh, open.Severity)

	again := f.sched.Tick(context.Background())
	assert.Zero(t, again.Missed)
	assert.Zero(t, again.Alerts)
}

func TestTickKeepsTakenDose(t *testing.T) {
	f := newFixture(t, nil)
	patient := storetest.Patient(t, f.store, "Ada")
	f.medication(t, patient, model.FrequencyDaily, "09:30")

	require.NoError(t, f.sched.Tick(context.Background()).Err())
	pending, err := f.store.DuePendingLogs(context.Background(), patient.ID, monday)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	_, err = f.store.TransitionLog(context.Background(), pending[0].ID, model.LogTaken, monday, "")
	require.NoError(t, err)

	*f.clock = monday.Add(3 * time.Hour)
	result := f.sched.Tick(context.Background())
	require.NoError(t, result.Err())
	assert.Zero(t, result.Missed)

	log, err := f.store.GetLog(context.Background(), pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.LogTaken, log.Status)
}

// racingStore confirms every overdue dose as taken right after the scheduler read it.
type racingStore struct {
	*store.Store
}

func (r racingStore) OverduePendingLogs(ctx context.Context, cutoff time.Time) ([]model.MedicationLog, error) {
	logs, err := r.Store.OverduePendingLogs(ctx, cutoff)
	for _, l := range logs {
		if _, err := r.Store.TransitionLog(ctx, l.ID, model.LogTaken, cutoff, "confirmed by patient"); err != nil {
			return nil, err
		}
	}
	return logs, err
}

func TestTickLosesRaceToConfirmation(t *testing.T) {
	f := newFixture(t, func(s *store.Store) Store { return racingStore{s} })
	patient := storetest.Patient(t, f.store, "Ada")
	f.medication(t, patient, model.FrequencyDaily, "08:00")

	result := f.sched.Tick(context.Background())
	require.NoError(t, result.Err())
	assert.Zero(t, result.Missed)

	logs, err := f.store.LogsForUser(context.Background(), patient.ID, monday.AddDate(0, 0, -1), monday)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.LogTaken, logs[0].Status)
}

func TestFailedReminderIsNotResent(t *testing.T) {
	f := newFixture(t, nil)
	patient := storetest.Patient(t, f.store, "Ada")
	f.recorder.Fail[patient.ContactChannel] = true
	f.medication(t, patient, model.FrequencyDaily, "09:30")

	first := f.sched.Tick(context.Background())
	require.NoError(t, first.Err())
	assert.Equal(t, 1, first.NotifyFailed)
	assert.Zero(t, first.Notified)

	second := f.sched.Tick(context.Background())
	assert.Zero(t, second.NotifyFailed)
	assert.Len(t, f.recorder.To(patient.ContactChannel), 1)
}

type deniedLock struct{ err error }

func (d deniedLock) Acquire(context.Context) (bool, error) { return false, d.err }
func (d deniedLock) Release(context.Context) error         { return nil }

func TestTickSkipsWithoutLock(t *testing.T) {
	for _, lockErr := range []error{nil, errors.New("redis down")} {
		f := newFixture(t, nil)
		f.sched.locker = deniedLock{err: lockErr}
		patient := storetest.Patient(t, f.store, "Ada")
		f.medication(t, patient, model.FrequencyDaily, "09:30")

		result := f.sched.Tick(context.Background())
		assert.True(t, result.Skipped)
		assert.Zero(t, result.Materialized)
		assert.Equal(t, lockErr != nil, result.Err() != nil)
		assert.Empty(t, f.recorder.Messages())
	}
}

// flakyStore fails the first medication scan with a transient error.
type flakyStore struct {
	*store.Store
	calls atomic.Int32
}

func (f *flakyStore) ActiveMedications(ctx context.Context) ([]model.Medication, error) {
	if f.calls.Add(1) == 1 {
		return nil, apperr.Transient(errors.New("database is locked"))
	}
	return f.Store.ActiveMedications(ctx)
}

func TestTickRetriesTransientErrors(t *testing.T) {
	var flaky *flakyStore
	f := newFixture(t, func(s *store.Store) Store {
		flaky = &flakyStore{Store: s}
		return flaky
	})
	patient := storetest.Patient(t, f.store, "Ada")
	f.medication(t, patient, model.FrequencyDaily, "09:30")

	result := f.sched.Tick(context.Background())
	require.NoError(t, result.Err())
	assert.Equal(t, 1, result.Materialized)
	assert.Equal(t, int32(2), flaky.calls.Load())
}

// brokenStore rejects every dose of one medication with a permanent error.
type brokenStore struct {
	*store.Store
	medicationID uint
}

func (b *brokenStore) MaterializeDose(ctx context.Context, log *model.MedicationLog, reminder *model.Reminder) (bool, error) {
	if log.MedicationID == b.medicationID {
		return false, errors.New("check constraint failed")
	}
	return b.Store.MaterializeDose(ctx, log, reminder)
}

func TestTickIsolatesItemFailures(t *testing.T) {
	var broken *brokenStore
	f := newFixture(t, func(s *store.Store) Store {
		broken = &brokenStore{Store: s}
		return broken
	})
	patient := storetest.Patient(t, f.store, "Ada")
	bad := f.medication(t, patient, model.FrequencyDaily, "09:30")
	f.medication(t, patient, model.FrequencyDaily, "09:45")
	broken.medicationID = bad.ID

	result := f.sched.Tick(context.Background())
	assert.Equal(t, 1, result.Materialized)
	assert.Equal(t, 1, result.Notified)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Error(), "check constraint failed")
}

// slowStore stretches the medication scan so a tick stays in flight.
type slowStore struct {
	*store.Store
	delay   time.Duration
	calls   atomic.Int32
	once    sync.Once
	started chan struct{}
}

func (s *slowStore) ActiveMedications(ctx context.Context) ([]model.Medication, error) {
	s.calls.Add(1)
	s.once.Do(func() { close(s.started) })
	time.Sleep(s.delay)
	return s.Store.ActiveMedications(ctx)
}

func TestStartRunsTickAndStopWaitsForIt(t *testing.T) {
	var slow *slowStore
	f := newFixture(t, func(s *store.Store) Store {
		slow = &slowStore{Store: s, delay: 300 * time.Millisecond, started: make(chan struct{})}
		return slow
	})
	f.sched.cfg.Interval = time.Hour
	patient := storetest.Patient(t, f.store, "Ada")
	f.medication(t, patient, model.FrequencyDaily, "09:30")

	require.NoError(t, f.sched.Start(context.Background()))
	select {
	case <-slow.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first tick did not start")
	}

	// an overlapping run of the tick job is skipped, not queued
	f.sched.mu.Lock()
	job := f.sched.cron.Entry(f.sched.tickID).WrappedJob
	f.sched.mu.Unlock()
	job.Run()

	f.sched.Stop()

	select {
	case r := <-f.sched.Results():
		require.NoError(t, r.Err())
		assert.Equal(t, 1, r.Materialized)
		assert.Equal(t, 1, r.Notified)
	default:
		t.Fatal("Stop returned before the in-flight tick finished")
	}
	assert.Equal(t, int32(1), slow.calls.Load())
	assert.Len(t, f.recorder.To(patient.ContactChannel), 1)

	// stopping twice is a no-op
	f.sched.Stop()
}

func TestTickPublishesResult(t *testing.T) {
	f := newFixture(t, nil)
	f.sched.Tick(context.Background())

	select {
	case r := <-f.sched.Results():
		assert.Equal(t, monday, r.Started)
	default:
		t.Fatal("no tick result published")
	}
}

func TestRunCheckins(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	ada := storetest.Patient(t, f.store, "Ada")
	bob := storetest.Patient(t, f.store, "Bob")
	_, err := f.store.UpdatePreferences(ctx, bob.ID, map[string]any{"checkins": false})
	require.NoError(t, err)

	require.NoError(t, f.sched.RunCheckins(ctx, "morning"))
	assert.Error(t, f.sched.RunCheckins(ctx, "midnight"))

	result := f.sched.Tick(ctx)
	require.NoError(t, result.Err())
	assert.Equal(t, 1, result.Notified)

	sent := f.recorder.To(ada.ContactChannel)
	require.Len(t, sent, 1)
	assert.True(t, strings.HasPrefix(sent[0].Text, "Good morning, Ada!"))
	assert.Empty(t, f.recorder.To(bob.ContactChannel))
}

func TestRunWeeklyReport(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	patient := storetest.Patient(t, f.store, "Ada")
	caregiver := &model.User{Name: "Sam", Role: model.RoleCaregiver, ContactChannel: "telegram:42"}
	require.NoError(t, f.store.CreateUser(ctx, caregiver))
	require.NoError(t, f.store.AssignCaregiver(ctx, &model.CaregiverPatientAssignment{
		CaregiverID:             caregiver.ID,
		PatientID:               patient.ID,
		NotificationPreferences: datatypes.JSONMap{"min_severity": "low"},
	}))

	require.NoError(t, f.sched.RunWeeklyReport(ctx))
	require.NoError(t, f.sched.RunWeeklyReport(ctx))

	alerts, err := f.store.ListAlerts(ctx, patient.ID, false)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, model.AlertWeeklyReport, alerts[0].AlertType)
	assert.Equal(t, model.SeverityLow, alerts[0].Severity)

	sent := f.recorder.To("telegram:42")
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0].Text, "Weekly Report for Ada")
}
