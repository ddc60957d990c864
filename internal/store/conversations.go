package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/pathakanu/carely/internal/apperr"
	"github.com/pathakanu/carely/internal/model"
	"gorm.io/gorm"
)

// CreateConversation stores an exchange. Conversations are never updated afterwards.
func (s *Store) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	if strings.TrimSpace(conv.Message) == "" {
		return apperr.Validation("conversation message is required")
	}
	if conv.SentimentScore != nil && (*conv.SentimentScore < -1 || *conv.SentimentScore > 1) {
		return apperr.Validation("sentiment score %v outside [-1, 1]", *conv.SentimentScore)
	}
	if conv.ConversationType == "" {
		conv.ConversationType = "general"
	}
	if conv.Timestamp.IsZero() {
		conv.Timestamp = time.Now()
	}
	conv.Timestamp = utc(conv.Timestamp)
	return classify(s.db.WithContext(ctx).Create(conv).Error)
}

// RecentConversations returns up to limit conversations, newest first.
func (s *Store) RecentConversations(ctx context.Context, userID uint, limit int) ([]model.Conversation, error) {
	var convs []model.Conversation
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").Order("id DESC").
		Limit(limit).
		Find(&convs).Error
	if err != nil {
		return nil, classify(err)
	}
	return convs, nil
}

// ConversationsSince returns conversations at or after since, newest first.
func (s *Store) ConversationsSince(ctx context.Context, userID uint, since time.Time) ([]model.Conversation, error) {
	var convs []model.Conversation
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND timestamp >= ?", userID, utc(since)).
		Order("timestamp DESC").Order("id DESC").
		Find(&convs).Error
	if err != nil {
		return nil, classify(err)
	}
	return convs, nil
}

// ScoredConversations returns the newest conversations that carry a sentiment score.
// A zero since means no lower bound and a limit <= 0 means no limit.
func (s *Store) ScoredConversations(ctx context.Context, userID uint, since time.Time, limit int) ([]model.Conversation, error) {
	query := s.db.WithContext(ctx).Where("user_id = ? AND sentiment_score IS NOT NULL", userID)
	if !since.IsZero() {
		query = query.Where("timestamp >= ?", utc(since))
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var convs []model.Conversation
	if err := query.Order("timestamp DESC").Order("id DESC").Find(&convs).Error; err != nil {
		return nil, classify(err)
	}
	return convs, nil
}

// LatestConversation returns the newest conversation of a user, or nil when there is none.
func (s *Store) LatestConversation(ctx context.Context, userID uint) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").Order("id DESC").
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &conv, nil
}
