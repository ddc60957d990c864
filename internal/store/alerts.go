package store

import (
	"context"
	"errors"
	"time"

	"github.com/pathakanu/carely/internal/apperr"
	"github.com/pathakanu/carely/internal/model"
	"gorm.io/gorm"
)

// CreateAlert stores a caregiver alert.
func (s *Store) CreateAlert(ctx context.Context, alert *model.CaregiverAlert) error {
	if !alert.Severity.Valid() {
		return apperr.Validation("unknown severity %q", alert.Severity)
	}
	alert.Resolved = false
	alert.ResolvedAt = nil
	return classify(s.db.WithContext(ctx).Create(alert).Error)
}

// GetAlert loads an alert by id.
func (s *Store) GetAlert(ctx context.Context, id uint) (*model.CaregiverAlert, error) {
	var alert model.CaregiverAlert
	if err := s.db.WithContext(ctx).First(&alert, id).Error; err != nil {
		return nil, notFound(err, "alert", id)
	}
	return &alert, nil
}

// FindUnresolvedAlert returns the open alert of alertType for a user, or nil when none exists.
func (s *Store) FindUnresolvedAlert(ctx context.Context, userID uint, alertType model.AlertType) (*model.CaregiverAlert, error) {
	return s.firstAlert(ctx, s.db.WithContext(ctx).
		Where("user_id = ? AND alert_type = ? AND resolved = ?", userID, alertType, false))
}

// LatestAlert returns the newest alert of alertType for a user regardless of resolution,
// or nil when none exists.
func (s *Store) LatestAlert(ctx context.Context, userID uint, alertType model.AlertType) (*model.CaregiverAlert, error) {
	return s.firstAlert(ctx, s.db.WithContext(ctx).
		Where("user_id = ? AND alert_type = ?", userID, alertType))
}

func (s *Store) firstAlert(_ context.Context, query *gorm.DB) (*model.CaregiverAlert, error) {
	var alert model.CaregiverAlert
	err := query.Order("created_at DESC").Order("id DESC").First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &alert, nil
}

// ListAlerts returns the alerts of a user, newest first.
func (s *Store) ListAlerts(ctx context.Context, userID uint, includeResolved bool) ([]model.CaregiverAlert, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if !includeResolved {
		query = query.Where("resolved = ?", false)
	}
	var alerts []model.CaregiverAlert
	if err := query.Order("created_at DESC").Order("id DESC").Find(&alerts).Error; err != nil {
		return nil, classify(err)
	}
	return alerts, nil
}

// ResolveAlert resolves an open alert. Resolving twice is a conflict.
func (s *Store) ResolveAlert(ctx context.Context, id uint, at time.Time) (*model.CaregiverAlert, error) {
	res := s.db.WithContext(ctx).
		Model(&model.CaregiverAlert{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]any{"resolved": true, "resolved_at": utc(at)})
	if res.Error != nil {
		return nil, classify(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetAlert(ctx, id); err != nil {
			return nil, err
		}
		return nil, apperr.Conflict("alert %d is already resolved", id)
	}
	return s.GetAlert(ctx, id)
}
