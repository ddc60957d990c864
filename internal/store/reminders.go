package store

import (
	"context"
	"strings"
	"time"

	"github.com/pathakanu/carely/internal/apperr"
	"github.com/pathakanu/carely/internal/model"
)

// CreateReminder stores a reminder for an existing user.
func (s *Store) CreateReminder(ctx context.Context, reminder *model.Reminder) error {
	if !reminder.Type.Valid() {
		return apperr.Validation("unknown reminder type %q", reminder.Type)
	}
	if strings.TrimSpace(reminder.Title) == "" {
		return apperr.Validation("reminder title is required")
	}
	if reminder.ScheduledTime.IsZero() {
		return apperr.Validation("reminder scheduled_time is required")
	}
	if err := s.EnsureUser(ctx, reminder.UserID); err != nil {
		return err
	}
	reminder.ScheduledTime = utc(reminder.ScheduledTime)
	return classify(s.db.WithContext(ctx).Create(reminder).Error)
}

// GetReminder loads a reminder by id.
func (s *Store) GetReminder(ctx context.Context, id uint) (*model.Reminder, error) {
	var reminder model.Reminder
	if err := s.db.WithContext(ctx).First(&reminder, id).Error; err != nil {
		return nil, notFound(err, "reminder", id)
	}
	return &reminder, nil
}

// DueReminders returns incomplete reminders scheduled at or before now. userID 0 means all users.
func (s *Store) DueReminders(ctx context.Context, userID uint, now time.Time) ([]model.Reminder, error) {
	query := s.db.WithContext(ctx).Where("completed = ? AND scheduled_time <= ?", false, utc(now))
	if userID != 0 {
		query = query.Where("user_id = ?", userID)
	}
	var reminders []model.Reminder
	if err := query.Order("scheduled_time ASC").Find(&reminders).Error; err != nil {
		return nil, classify(err)
	}
	return reminders, nil
}

// UnnotifiedDueReminders returns due reminders that have not been sent yet.
func (s *Store) UnnotifiedDueReminders(ctx context.Context, now time.Time) ([]model.Reminder, error) {
	var reminders []model.Reminder
	err := s.db.WithContext(ctx).
		Where("completed = ? AND notified_at IS NULL AND scheduled_time <= ?", false, utc(now)).
		Order("scheduled_time ASC").
		Find(&reminders).Error
	if err != nil {
		return nil, classify(err)
	}
	return reminders, nil
}

// ClaimReminderNotification marks a reminder as notified unless another tick already did.
// Only the caller that gets true may send it.
func (s *Store) ClaimReminderNotification(ctx context.Context, id uint, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Reminder{}).
		Where("id = ? AND notified_at IS NULL", id).
		Update("notified_at", utc(at))
	if res.Error != nil {
		return false, classify(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CompleteReminder marks a reminder completed. Completing twice is a conflict.
func (s *Store) CompleteReminder(ctx context.Context, id uint, at time.Time) (*model.Reminder, error) {
	at = utc(at)
	res := s.db.WithContext(ctx).
		Model(&model.Reminder{}).
		Where("id = ? AND completed = ?", id, false).
		Updates(map[string]any{"completed": true, "completed_at": at})
	if res.Error != nil {
		return nil, classify(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetReminder(ctx, id); err != nil {
			return nil, err
		}
		return nil, apperr.Conflict("reminder %d is already completed", id)
	}
	return s.GetReminder(ctx, id)
}
