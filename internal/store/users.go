package store

import (
	"context"
	"strings"
	"time"

	"github.com/pathakanu/carely/internal/apperr"
	"github.com/pathakanu/carely/internal/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreateUser inserts a user, defaulting the role to patient.
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	if strings.TrimSpace(user.Name) == "" {
		return apperr.Validation("user name is required")
	}
	if user.Role == "" {
		user.Role = model.RolePatient
	}
	if !user.Role.Valid() {
		return apperr.Validation("unknown role %q", user.Role)
	}
	user.Active = true
	return classify(s.db.WithContext(ctx).Create(user).Error)
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, notFound(err, "user", id)
	}
	return &user, nil
}

// EnsureUser returns apperr.ErrNotFound when id does not reference a user.
func (s *Store) EnsureUser(ctx context.Context, id uint) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return classify(err)
	}
	if count == 0 {
		return apperr.NotFound("user", id)
	}
	return nil
}

// ListUsers returns active users, optionally filtered by role.
func (s *Store) ListUsers(ctx context.Context, role model.Role) ([]model.User, error) {
	query := s.db.WithContext(ctx).Where("active = ?", true)
	if role != "" {
		query = query.Where("role = ?", role)
	}
	var users []model.User
	if err := query.Order("id ASC").Find(&users).Error; err != nil {
		return nil, classify(err)
	}
	return users, nil
}

// FindUserByChannel resolves an inbound sender to a user.
func (s *Store) FindUserByChannel(ctx context.Context, channel string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("contact_channel = ?", channel).First(&user).Error; err != nil {
		return nil, notFound(err, "user with channel", channel)
	}
	return &user, nil
}

// UpdatePreferences merges prefs into the stored preferences. A nil value deletes the key.
func (s *Store) UpdatePreferences(ctx context.Context, id uint, prefs map[string]any) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, id).Error; err != nil {
			return err
		}
		merged := datatypes.JSONMap{}
		for key, value := range user.Preferences {
			merged[key] = value
		}
		for key, value := range prefs {
			if value == nil {
				delete(merged, key)
				continue
			}
			merged[key] = value
		}
		user.Preferences = merged
		return tx.Model(&user).Updates(map[string]any{
			"preferences": merged,
			"updated_at":  time.Now().UTC(),
		}).Error
	})
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return &user, nil
}

// AssignCaregiver links a caregiver to a patient.
func (s *Store) AssignCaregiver(ctx context.Context, assignment *model.CaregiverPatientAssignment) error {
	caregiver, err := s.GetUser(ctx, assignment.CaregiverID)
	if err != nil {
		return err
	}
	if caregiver.Role != model.RoleCaregiver && caregiver.Role != model.RoleAdmin {
		return apperr.Validation("user %d is not a caregiver", caregiver.ID)
	}
	patient, err := s.GetUser(ctx, assignment.PatientID)
	if err != nil {
		return err
	}
	if patient.Role != model.RolePatient {
		return apperr.Validation("user %d is not a patient", patient.ID)
	}
	return classify(s.db.WithContext(ctx).Create(assignment).Error)
}

// CaregiversForPatient lists assignments for a patient with the caregiver loaded.
func (s *Store) CaregiversForPatient(ctx context.Context, patientID uint) ([]model.CaregiverPatientAssignment, error) {
	var assignments []model.CaregiverPatientAssignment
	err := s.db.WithContext(ctx).
		Preload("Caregiver").
		Where("patient_id = ?", patientID).
		Order("id ASC").
		Find(&assignments).Error
	if err != nil {
		return nil, classify(err)
	}
	return assignments, nil
}

// PatientsForCaregiver lists assignments for a caregiver with the patient loaded.
func (s *Store) PatientsForCaregiver(ctx context.Context, caregiverID uint) ([]model.CaregiverPatientAssignment, error) {
	var assignments []model.CaregiverPatientAssignment
	err := s.db.WithContext(ctx).
		Preload("Patient").
		Where("caregiver_id = ?", caregiverID).
		Order("id ASC").
		Find(&assignments).Error
	if err != nil {
		return nil, classify(err)
	}
	return assignments, nil
}

// CreateEvent stores a personal event.
func (s *Store) CreateEvent(ctx context.Context, event *model.PersonalEvent) error {
	if strings.TrimSpace(event.Title) == "" {
		return apperr.Validation("event title is required")
	}
	if err := s.EnsureUser(ctx, event.UserID); err != nil {
		return err
	}
	if event.Importance == "" {
		event.Importance = "medium"
	}
	if event.EventDate != nil {
		d := utc(*event.EventDate)
		event.EventDate = &d
	}
	return classify(s.db.WithContext(ctx).Create(event).Error)
}

// ListEvents returns all events of a user, soonest first.
func (s *Store) ListEvents(ctx context.Context, userID uint) ([]model.PersonalEvent, error) {
	var events []model.PersonalEvent
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("event_date ASC").Find(&events).Error; err != nil {
		return nil, classify(err)
	}
	return events, nil
}

// UpcomingEvents returns events dated within [from, to].
func (s *Store) UpcomingEvents(ctx context.Context, userID uint, from, to time.Time) ([]model.PersonalEvent, error) {
	var events []model.PersonalEvent
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND event_date >= ? AND event_date <= ?", userID, utc(from), utc(to)).
		Order("event_date ASC").
		Find(&events).Error
	if err != nil {
		return nil, classify(err)
	}
	return events, nil
}
