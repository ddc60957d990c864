package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/pathakanu/carely/internal/model"
	"go.uber.org/zap"
)

type checkinSlot struct {
	name  string
	spec  string
	title string
	text  string
}

var checkinSlots = []checkinSlot{
	{"morning", "0 9 * * *", "Morning Check-in", "Good morning, %s! I hope you slept well. How are you feeling this morning? Did you take your morning medications?"},
	{"afternoon", "0 14 * * *", "Afternoon Check-in", "Good afternoon, %s! How has your day been so far? Are you feeling alright?"},
	{"evening", "0 19 * * *", "Evening Check-in", "Good evening, %s! How was your day? Did you remember to take all your medications today?"},
}

func findSlot(name string) (checkinSlot, bool) {
	for _, slot := range checkinSlots {
		if slot.name == name {
			return slot, true
		}
	}
	return checkinSlot{}, false
}

// RunCheckins creates a check-in reminder, due immediately, for every active patient that has
// not opted out with the "checkins": false preference. The next tick delivers them.
func (s *Scheduler) RunCheckins(ctx context.Context, slotName string) error {
	slot, ok := findSlot(slotName)
	if !ok {
		return fmt.Errorf("unknown check-in slot %q", slotName)
	}
	patients, err := s.store.ListUsers(ctx, model.RolePatient)
	if err != nil {
		return fmt.Errorf("list patients: %w", err)
	}

	now := s.now().UTC()
	var errs []error
	created := 0
	for _, p := range patients {
		if optedOut(p) {
			continue
		}
		reminder := &model.Reminder{
			UserID:        p.ID,
			Type:          model.ReminderCheckin,
			Title:         slot.title,
			Message:       fmt.Sprintf(slot.text, p.Name),
			ScheduledTime: now,
		}
		if err := s.store.CreateReminder(ctx, reminder); err != nil {
			errs = append(errs, fmt.Errorf("check-in for user %d: %w", p.ID, err))
			continue
		}
		created++
	}
	s.logger.Info("scheduler: check-ins created", zap.String("slot", slot.name), zap.Int("count", created))
	return errors.Join(errs...)
}

func optedOut(u model.User) bool {
	if u.Preferences == nil {
		return false
	}
	enabled, ok := u.Preferences["checkins"].(bool)
	return ok && !enabled
}

// RunWeeklyReport raises a low severity weekly_report alert for every active patient and
// forwards it to caregivers that accept low severity alerts.
func (s *Scheduler) RunWeeklyReport(ctx context.Context) error {
	if s.reporter == nil {
		return errors.New("weekly report: no reporter configured")
	}
	patients, err := s.store.ListUsers(ctx, model.RolePatient)
	if err != nil {
		return fmt.Errorf("list patients: %w", err)
	}

	now := s.now().UTC()
	var errs []error
	for i := range patients {
		p := &patients[i]
		weekly, err := s.reporter.Weekly(ctx, p.ID, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("weekly report for user %d: %w", p.ID, err))
			continue
		}
		alert := &model.CaregiverAlert{
			UserID:      p.ID,
			AlertType:   model.AlertWeeklyReport,
			Severity:    model.SeverityLow,
			Title:       fmt.Sprintf("Weekly Report for %s", p.Name),
			Description: weekly.Text(),
		}
		if err := s.store.CreateAlert(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("weekly report alert for user %d: %w", p.ID, err))
			continue
		}
		if s.alerts != nil {
			s.alerts.Notify(ctx, p, alert)
		}
	}
	s.logger.Info("scheduler: weekly reports created", zap.Int("patients", len(patients)), zap.Int("errors", len(errs)))
	return errors.Join(errs...)
}
