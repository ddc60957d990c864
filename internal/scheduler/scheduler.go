// Package scheduler turns medication schedules into dated doses, delivers due reminders and
// marks overdue doses missed. One tick runs at a time per deployment.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pathakanu/carely/internal/apperr"
	"github.com/pathakanu/carely/internal/config"
	"github.com/pathakanu/carely/internal/lock"
	"github.com/pathakanu/carely/internal/model"
	"github.com/pathakanu/carely/internal/notify"
	"github.com/pathakanu/carely/internal/report"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Store is the slice of the entity store the scheduler uses.
type Store interface {
	GetUser(ctx context.Context, id uint) (*model.User, error)
	ListUsers(ctx context.Context, role model.Role) ([]model.User, error)
	ActiveMedications(ctx context.Context) ([]model.Medication, error)
	MaterializeDose(ctx context.Context, log *model.MedicationLog, reminder *model.Reminder) (bool, error)
	UnnotifiedDueReminders(ctx context.Context, now time.Time) ([]model.Reminder, error)
	ClaimReminderNotification(ctx context.Context, id uint, at time.Time) (bool, error)
	OverduePendingLogs(ctx context.Context, cutoff time.Time) ([]model.MedicationLog, error)
	TransitionLog(ctx context.Context, id uint, to model.LogStatus, at time.Time, notes string) (*model.MedicationLog, error)
	CreateReminder(ctx context.Context, reminder *model.Reminder) error
	CreateAlert(ctx context.Context, alert *model.CaregiverAlert) error
}

// Alerts is the alert generator as seen by the scheduler.
type Alerts interface {
	EvaluateAdherence(ctx context.Context, userID uint) ([]model.CaregiverAlert, error)
	Notify(ctx context.Context, user *model.User, alert *model.CaregiverAlert)
}

// Reporter builds weekly reports.
type Reporter interface {
	Weekly(ctx context.Context, userID uint, now time.Time) (*report.Weekly, error)
}

// TickResult summarizes one tick.
type TickResult struct {
	Started      time.Time     `json:"started"`
	Duration     time.Duration `json:"duration"`
	Skipped      bool          `json:"skipped"`
	Materialized int           `json:"materialized"`
	Notified     int           `json:"notified"`
	NotifyFailed int           `json:"notify_failed"`
	Missed       int           `json:"missed"`
	Alerts       int           `json:"alerts"`
	Errors       []error       `json:"-"`
}

// Err joins the per-item errors of the tick.
func (r TickResult) Err() error {
	return errors.Join(r.Errors...)
}

func (r *TickResult) fail(err error) {
	r.Errors = append(r.Errors, err)
}

// Scheduler owns the cron loop.
type Scheduler struct {
	store    Store
	alerts   Alerts
	sender   notify.Sender
	reporter Reporter
	locker   lock.Locker
	cfg      config.SchedulerConfig
	loc      *time.Location
	logger   *zap.Logger

	now      func() time.Time
	backOff  func() backoff.BackOff
	maxTries uint

	cron    *cron.Cron
	tickID  cron.EntryID
	results chan TickResult

	mu       sync.Mutex
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// Options are the optional collaborators of a Scheduler.
type Options struct {
	Reporter Reporter
	Locker   lock.Locker
	Now      func() time.Time
}

// New wires a Scheduler.
func New(store Store, alerts Alerts, sender notify.Sender, cfg config.SchedulerConfig, loc *time.Location, logger *zap.Logger, opts Options) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	s := &Scheduler{
		store:    store,
		alerts:   alerts,
		sender:   sender,
		reporter: opts.Reporter,
		locker:   opts.Locker,
		cfg:      cfg,
		loc:      loc,
		logger:   logger,
		now:      opts.Now,
		maxTries: 4,
		results:  make(chan TickResult, 16),
	}
	if s.locker == nil {
		s.locker = lock.Local{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.backOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 200 * time.Millisecond
		b.MaxInterval = 2 * time.Second
		return b
	}
	return s
}

// Results publishes every tick's outcome. Results are dropped when nobody reads.
func (s *Scheduler) Results() <-chan TickResult {
	return s.results
}

// Start registers the tick, check-in and weekly report jobs and starts the cron loop. The
// first tick runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	cronLogger := cron.PrintfLogger(zap.NewStdLog(s.logger.Named("cron")))
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	tickID, err := c.AddFunc("@every "+s.cfg.Interval.String(), func() { s.Tick(runCtx) })
	if err != nil {
		cancel()
		return fmt.Errorf("schedule tick: %w", err)
	}
	if s.cfg.CheckinsEnabled {
		for _, slot := range checkinSlots {
			job := func(ctx context.Context) error { return s.RunCheckins(ctx, slot.name) }
			if _, err := c.AddFunc(slot.spec, func() { s.guarded(runCtx, slot.name+" check-in", job) }); err != nil {
				cancel()
				return fmt.Errorf("schedule %s check-in: %w", slot.name, err)
			}
		}
	}
	if s.cfg.WeeklyReportEnabled && s.reporter != nil {
		if _, err := c.AddFunc("0 8 * * 1", func() { s.guarded(runCtx, "weekly report", s.RunWeeklyReport) }); err != nil {
			cancel()
			return fmt.Errorf("schedule weekly report: %w", err)
		}
	}

	s.mu.Lock()
	s.cron, s.tickID, s.cancel = c, tickID, cancel
	s.mu.Unlock()

	c.Start()
	// the first run goes through the wrapped job so cron's skip-if-running guard sees it
	first := c.Entry(tickID).WrappedJob
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		first.Run()
	}()
	s.logger.Info("scheduler: started",
		zap.Duration("interval", s.cfg.Interval),
		zap.String("timezone", s.loc.String()),
		zap.Bool("checkins", s.cfg.CheckinsEnabled),
		zap.Bool("weekly_report", s.cfg.WeeklyReportEnabled),
	)
	return nil
}

// Stop waits for the in-flight job, cancels the loop context and releases the leader lock.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	<-c.Stop().Done()
	s.inflight.Wait()
	cancel()

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := s.locker.Release(ctx); err != nil {
		s.logger.Warn("scheduler: release lock", zap.Error(err))
	}
	s.logger.Info("scheduler: stopped")
}

// Tick runs one pass: materialize doses, mark overdue doses missed, deliver due reminders and
// re-check adherence for the users affected. Missing a dose completes its reminder, so a dose
// that is already overdue is never announced. It is bounded by the tick interval.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Interval)
	defer cancel()

	now := s.now().UTC()
	began := time.Now()
	result := TickResult{Started: now}
	defer func() {
		result.Duration = time.Since(began)
		s.publish(result)
	}()

	held, err := s.locker.Acquire(ctx)
	if err != nil {
		s.logger.Warn("scheduler: lock unavailable, skipping tick", zap.Error(err))
		result.Skipped = true
		result.fail(err)
		return result
	}
	if !held {
		s.logger.Debug("scheduler: another instance holds the lock")
		result.Skipped = true
		return result
	}

	users := newUserCache(s.store)
	s.materialize(ctx, now, users, &result)
	affected := s.markMissed(ctx, now, &result)
	s.deliver(ctx, now, users, &result)
	s.evaluate(ctx, affected, &result)

	level := s.logger.Debug
	if result.Materialized+result.Notified+result.Missed+result.Alerts > 0 || len(result.Errors) > 0 {
		level = s.logger.Info
	}
	level("scheduler: tick finished",
		zap.Int("materialized", result.Materialized),
		zap.Int("notified", result.Notified),
		zap.Int("notify_failed", result.NotifyFailed),
		zap.Int("missed", result.Missed),
		zap.Int("alerts", result.Alerts),
		zap.Int("errors", len(result.Errors)),
	)
	return result
}

func (s *Scheduler) publish(result TickResult) {
	select {
	case s.results <- result:
	default:
	}
}

func (s *Scheduler) materialize(ctx context.Context, now time.Time, users *userCache, result *TickResult) {
	meds, err := retry(ctx, s, func() ([]model.Medication, error) {
		return s.store.ActiveMedications(ctx)
	})
	if err != nil {
		s.logger.Error("scheduler: load medications", zap.Error(err))
		result.fail(fmt.Errorf("load medications: %w", err))
		return
	}

	for _, med := range meds {
		occurrences := Occurrences(med, now, s.loc)
		if len(occurrences) == 0 {
			continue
		}
		user, err := users.get(ctx, med.UserID)
		if err != nil {
			s.logger.Warn("scheduler: medication owner", zap.Uint("medication_id", med.ID), zap.Error(err))
			result.fail(fmt.Errorf("medication %d: %w", med.ID, err))
			continue
		}
		for _, at := range occurrences {
			medID := med.ID
			log := &model.MedicationLog{UserID: med.UserID, MedicationID: med.ID, ScheduledTime: at, Status: model.LogPending}
			reminder := &model.Reminder{
				UserID:        med.UserID,
				Type:          model.ReminderMedication,
				Title:         fmt.Sprintf("Time for %s", med.Name),
				Message:       medicationMessage(user, &med),
				ScheduledTime: at,
				MedicationID:  &medID,
			}
			inserted, err := retry(ctx, s, func() (bool, error) {
				return s.store.MaterializeDose(ctx, log, reminder)
			})
			if err != nil {
				s.logger.Warn("scheduler: materialize dose",
					zap.Uint("medication_id", med.ID), zap.Time("scheduled_time", at), zap.Error(err))
				result.fail(fmt.Errorf("materialize medication %d at %s: %w", med.ID, at.Format(time.RFC3339), err))
				continue
			}
			if inserted {
				result.Materialized++
			}
		}
	}
}

func (s *Scheduler) deliver(ctx context.Context, now time.Time, users *userCache, result *TickResult) {
	due, err := retry(ctx, s, func() ([]model.Reminder, error) {
		return s.store.UnnotifiedDueReminders(ctx, now)
	})
	if err != nil {
		s.logger.Error("scheduler: load due reminders", zap.Error(err))
		result.fail(fmt.Errorf("load due reminders: %w", err))
		return
	}

	for _, reminder := range due {
		claimed, err := retry(ctx, s, func() (bool, error) {
			return s.store.ClaimReminderNotification(ctx, reminder.ID, now)
		})
		if err != nil {
			result.fail(fmt.Errorf("claim reminder %d: %w", reminder.ID, err))
			continue
		}
		if !claimed {
			continue
		}

		user, err := users.get(ctx, reminder.UserID)
		if err != nil {
			result.NotifyFailed++
			result.fail(fmt.Errorf("reminder %d owner: %w", reminder.ID, err))
			continue
		}
		if user.ContactChannel == "" || s.sender == nil {
			s.logger.Debug("scheduler: no channel for reminder", zap.Uint("reminder_id", reminder.ID), zap.Uint("user_id", user.ID))
			result.NotifyFailed++
			continue
		}

		res := s.sender.Send(ctx, user.ContactChannel, reminderText(reminder))
		if !res.Success {
			s.logger.Warn("scheduler: reminder delivery failed",
				zap.Uint("reminder_id", reminder.ID), zap.String("error", res.Error))
			result.NotifyFailed++
			continue
		}
		result.Notified++
	}
}

func (s *Scheduler) markMissed(ctx context.Context, now time.Time, result *TickResult) []uint {
	cutoff := now.Add(-s.cfg.MissedGracePeriod)
	overdue, err := retry(ctx, s, func() ([]model.MedicationLog, error) {
		return s.store.OverduePendingLogs(ctx, cutoff)
	})
	if err != nil {
		s.logger.Error("scheduler: load overdue doses", zap.Error(err))
		result.fail(fmt.Errorf("load overdue doses: %w", err))
		return nil
	}

	affected := map[uint]bool{}
	for _, log := range overdue {
		_, err := retry(ctx, s, func() (*model.MedicationLog, error) {
			return s.store.TransitionLog(ctx, log.ID, model.LogMissed, now, "")
		})
		switch {
		case errors.Is(err, apperr.ErrConflict):
			// taken or skipped between the query and the update
			continue
		case err != nil:
			result.fail(fmt.Errorf("mark dose %d missed: %w", log.ID, err))
			continue
		}
		result.Missed++
		affected[log.UserID] = true
	}

	ids := make([]uint, 0, len(affected))
	for id := range affected {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Scheduler) evaluate(ctx context.Context, users []uint, result *TickResult) {
	if s.alerts == nil {
		return
	}
	for _, userID := range users {
		created, err := retry(ctx, s, func() ([]model.CaregiverAlert, error) {
			return s.alerts.EvaluateAdherence(ctx, userID)
		})
		result.Alerts += len(created)
		if err != nil {
			result.fail(fmt.Errorf("evaluate user %d: %w", userID, err))
		}
	}
}

// retry runs op, retrying transient store errors with exponential backoff.
func retry[T any](ctx context.Context, s *Scheduler, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !apperr.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(s.backOff()), backoff.WithMaxTries(s.maxTries))
}

func (s *Scheduler) guarded(ctx context.Context, job string, run func(context.Context) error) {
	held, err := s.locker.Acquire(ctx)
	if err != nil || !held {
		s.logger.Debug("scheduler: not leader, skipping job", zap.String("job", job), zap.Error(err))
		return
	}
	if err := run(ctx); err != nil {
		s.logger.Warn("scheduler: job failed", zap.String("job", job), zap.Error(err))
	}
}

func medicationMessage(user *model.User, med *model.Medication) string {
	msg := fmt.Sprintf("Hi %s, it's time to take your %s (%s).", user.Name, med.Name, med.Dosage)
	if strings.TrimSpace(med.Instructions) != "" {
		msg += " " + strings.TrimSpace(med.Instructions)
	}
	return msg
}

func reminderText(r model.Reminder) string {
	if strings.TrimSpace(r.Message) == "" {
		return r.Title
	}
	if r.Type == model.ReminderMedication {
		return r.Message + "\nReply TAKEN once you have taken it, or SKIP to skip this dose."
	}
	return r.Message
}

type userCache struct {
	store Store
	users map[uint]*model.User
}

func newUserCache(store Store) *userCache {
	return &userCache{store: store, users: map[uint]*model.User{}}
}

func (c *userCache) get(ctx context.Context, id uint) (*model.User, error) {
	if u, ok := c.users[id]; ok {
		return u, nil
	}
	u, err := c.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	c.users[id] = u
	return u, nil
}
