package store

import (
	"context"
	"strings"
	"time"

	"github.com/pathakanu/carely/internal/apperr"
	"github.com/pathakanu/carely/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateMedication validates and stores a medication schedule.
func (s *Store) CreateMedication(ctx context.Context, med *model.Medication) error {
	if strings.TrimSpace(med.Name) == "" {
		return apperr.Validation("medication name is required")
	}
	if !med.Frequency.Valid() {
		return apperr.Validation("unknown frequency %q", med.Frequency)
	}
	for _, clock := range med.ScheduleTimes {
		if _, _, err := model.ParseClock(clock); err != nil {
			return apperr.Validation("%v", err)
		}
	}
	if err := s.EnsureUser(ctx, med.UserID); err != nil {
		return err
	}
	if med.StartDate.IsZero() {
		med.StartDate = time.Now()
	}
	med.StartDate = utc(med.StartDate)
	med.Active = true
	return classify(s.db.WithContext(ctx).Create(med).Error)
}

// GetMedication loads a medication by id.
func (s *Store) GetMedication(ctx context.Context, id uint) (*model.Medication, error) {
	var med model.Medication
	if err := s.db.WithContext(ctx).First(&med, id).Error; err != nil {
		return nil, notFound(err, "medication", id)
	}
	return &med, nil
}

// ListMedications returns the medications of a user.
func (s *Store) ListMedications(ctx context.Context, userID uint, activeOnly bool) ([]model.Medication, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var meds []model.Medication
	if err := query.Order("id ASC").Find(&meds).Error; err != nil {
		return nil, classify(err)
	}
	return meds, nil
}

// ActiveMedications returns every active medication across users.
func (s *Store) ActiveMedications(ctx context.Context) ([]model.Medication, error) {
	var meds []model.Medication
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("id ASC").Find(&meds).Error; err != nil {
		return nil, classify(err)
	}
	return meds, nil
}

// SetMedicationActive toggles whether the scheduler materializes future doses.
func (s *Store) SetMedicationActive(ctx context.Context, id uint, active bool) (*model.Medication, error) {
	res := s.db.WithContext(ctx).Model(&model.Medication{}).Where("id = ?", id).Update("active", active)
	if res.Error != nil {
		return nil, classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.NotFound("medication", id)
	}
	return s.GetMedication(ctx, id)
}

// MaterializeDose inserts log unless (medication_id, scheduled_time) already exists. When the
// log is new, reminder (if any) is created in the same transaction. It reports whether the
// log was inserted.
func (s *Store) MaterializeDose(ctx context.Context, log *model.MedicationLog, reminder *model.Reminder) (bool, error) {
	log.ScheduledTime = utc(log.ScheduledTime)
	if log.Status == "" {
		log.Status = model.LogPending
	}

	inserted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "medication_id"}, {Name: "scheduled_time"}},
			DoNothing: true,
		}).Create(log)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		inserted = true
		if reminder == nil {
			return nil
		}
		reminder.ScheduledTime = utc(reminder.ScheduledTime)
		return tx.Create(reminder).Error
	})
	if err != nil {
		return false, classify(err)
	}
	return inserted, nil
}

// RecordDose stores an ad-hoc dose that was not materialized by the scheduler.
func (s *Store) RecordDose(ctx context.Context, log *model.MedicationLog) error {
	if !log.Status.Terminal() {
		return apperr.Validation("ad-hoc dose must be taken or skipped, got %q", log.Status)
	}
	med, err := s.GetMedication(ctx, log.MedicationID)
	if err != nil {
		return err
	}
	log.UserID = med.UserID
	log.ScheduledTime = utc(log.ScheduledTime)
	if log.Status == model.LogTaken && log.TakenTime == nil {
		taken := log.ScheduledTime
		log.TakenTime = &taken
	}
	return classify(s.db.WithContext(ctx).Create(log).Error)
}

// GetLog loads a dose log by id.
func (s *Store) GetLog(ctx context.Context, id uint) (*model.MedicationLog, error) {
	var log model.MedicationLog
	if err := s.db.WithContext(ctx).Preload("Medication").First(&log, id).Error; err != nil {
		return nil, notFound(err, "medication log", id)
	}
	return &log, nil
}

// LogsForUser returns the logs of a user scheduled within [from, to].
func (s *Store) LogsForUser(ctx context.Context, userID uint, from, to time.Time) ([]model.MedicationLog, error) {
	var logs []model.MedicationLog
	err := s.db.WithContext(ctx).
		Preload("Medication").
		Where("user_id = ? AND scheduled_time >= ? AND scheduled_time <= ?", userID, utc(from), utc(to)).
		Order("scheduled_time ASC").
		Find(&logs).Error
	if err != nil {
		return nil, classify(err)
	}
	return logs, nil
}

// DuePendingLogs returns pending logs of a user scheduled at or before now, latest first.
func (s *Store) DuePendingLogs(ctx context.Context, userID uint, now time.Time) ([]model.MedicationLog, error) {
	var logs []model.MedicationLog
	err := s.db.WithContext(ctx).
		Preload("Medication").
		Where("user_id = ? AND status = ? AND scheduled_time <= ?", userID, model.LogPending, utc(now)).
		Order("scheduled_time DESC").
		Find(&logs).Error
	if err != nil {
		return nil, classify(err)
	}
	return logs, nil
}

// OverduePendingLogs returns pending logs scheduled before cutoff.
func (s *Store) OverduePendingLogs(ctx context.Context, cutoff time.Time) ([]model.MedicationLog, error) {
	var logs []model.MedicationLog
	err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_time < ?", model.LogPending, utc(cutoff)).
		Order("scheduled_time ASC").
		Find(&logs).Error
	if err != nil {
		return nil, classify(err)
	}
	return logs, nil
}

// TransitionLog moves a pending log to a final status and completes the medication reminder
// of the same occurrence. The update is guarded by status = 'pending', so whichever writer
// lands first wins and the loser gets apperr.ErrConflict.
func (s *Store) TransitionLog(ctx context.Context, id uint, to model.LogStatus, at time.Time, notes string) (*model.MedicationLog, error) {
	if !to.Terminal() {
		return nil, apperr.Validation("cannot transition a dose to %q", to)
	}

	at = utc(at)
	updates := map[string]any{
		"status":     to,
		"updated_at": at,
	}
	if to == model.LogTaken {
		updates["taken_time"] = at
	}
	if notes != "" {
		updates["notes"] = notes
	}

	moved := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.MedicationLog{}).
			Where("id = ? AND status = ?", id, model.LogPending).
			Updates(updates)
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}
		moved = true

		var log model.MedicationLog
		if err := tx.Select("medication_id", "scheduled_time").First(&log, id).Error; err != nil {
			return err
		}
		return tx.Model(&model.Reminder{}).
			Where("medication_id = ? AND scheduled_time = ? AND type = ? AND completed = ?",
				log.MedicationID, utc(log.ScheduledTime), model.ReminderMedication, false).
			Updates(map[string]any{"completed": true, "completed_at": at}).Error
	})
	if err != nil {
		return nil, classify(err)
	}
	if !moved {
		current, err := s.GetLog(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, apperr.Conflict("medication log %d is already %s", id, current.Status)
	}
	return s.GetLog(ctx, id)
}
