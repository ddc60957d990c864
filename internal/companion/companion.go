// Package companion answers patient messages and records each exchange.
package companion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pathakanu/carely/internal/apperr"
	"github.com/pathakanu/carely/internal/model"
	"github.com/pathakanu/carely/internal/sentiment"
	"go.uber.org/zap"
)

// FallbackReply is sent when no model is configured or the model call fails.
const FallbackReply = "I'm sorry, I'm having a bit of trouble right now. But I'm here for you! " +
	"Is there anything specific you'd like to talk about or any way I can help you today?"

const systemPrompt = `You are Carely, a warm, empathetic companion for older adults.
Be gentle, patient and encouraging, and talk like a caring friend.
Keep replies short and clear and avoid medical jargon.
Reference earlier conversations and upcoming events when it feels natural.
If they mention medications, offer to help record them.
If you notice signs of a medical emergency, severe low mood or danger, advise contacting
emergency services or their caregiver right away.`

const (
	historyDepth  = 5
	eventsHorizon = 30 * 24 * time.Hour
)

// Store is what the companion reads and writes.
type Store interface {
	GetUser(ctx context.Context, id uint) (*model.User, error)
	RecentConversations(ctx context.Context, userID uint, limit int) ([]model.Conversation, error)
	UpcomingEvents(ctx context.Context, userID uint, from, to time.Time) ([]model.PersonalEvent, error)
	CreateConversation(ctx context.Context, conv *model.Conversation) error
}

// Model generates replies and scores sentiment.
type Model interface {
	Enabled() bool
	GenerateReply(ctx context.Context, systemPrompt, prompt string) (string, error)
	AnalyzeSentiment(ctx context.Context, text string) (sentiment.Analysis, error)
}

// Evaluator runs the alert rules after each exchange.
type Evaluator interface {
	EvaluateUser(ctx context.Context, userID uint) ([]model.CaregiverAlert, error)
}

// Reply is the outcome of one exchange.
type Reply struct {
	Response       string                 `json:"response"`
	SentimentScore float64                `json:"sentiment_score"`
	SentimentLabel string                 `json:"sentiment_label"`
	ConversationID uint                   `json:"conversation_id"`
	Alerts         []model.CaregiverAlert `json:"alerts"`
}

// Companion ties the model, the store and the alert rules together.
type Companion struct {
	store  Store
	llm    Model
	alerts Evaluator
	logger *zap.Logger
	now    func() time.Time
}

// New returns a Companion. llm and alerts may be nil.
func New(store Store, llm Model, alerts Evaluator, logger *zap.Logger) *Companion {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Companion{store: store, llm: llm, alerts: alerts, logger: logger, now: time.Now}
}

// WithClock overrides the time source.
func (c *Companion) WithClock(now func() time.Time) *Companion {
	c.now = now
	return c
}

// Respond answers message, stores the exchange and re-evaluates the user's alerts. Alert
// failures are logged; the stored exchange is still returned.
func (c *Companion) Respond(ctx context.Context, userID uint, message, conversationType string) (*Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apperr.Validation("message is required")
	}
	if conversationType == "" {
		conversationType = "general"
	}
	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	analysis := c.analyze(ctx, message)

	prompt, err := c.prompt(ctx, user, message, conversationType)
	if err != nil {
		return nil, err
	}
	response := c.generate(ctx, user.ID, prompt)

	score := analysis.Score
	conv := &model.Conversation{
		UserID:           user.ID,
		Message:          message,
		Response:         response,
		SentimentScore:   &score,
		SentimentLabel:   analysis.Label,
		ConversationType: conversationType,
		Timestamp:        c.now(),
	}
	if err := c.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}

	reply := &Reply{
		Response:       response,
		SentimentScore: analysis.Score,
		SentimentLabel: analysis.Label,
		ConversationID: conv.ID,
		Alerts:         []model.CaregiverAlert{},
	}
	if c.alerts != nil {
		created, err := c.alerts.EvaluateUser(ctx, user.ID)
		if err != nil {
			c.logger.Warn("companion: alert evaluation failed", zap.Uint("user_id", user.ID), zap.Error(err))
		}
		reply.Alerts = append(reply.Alerts, created...)
	}
	return reply, nil
}

func (c *Companion) analyze(ctx context.Context, message string) sentiment.Analysis {
	if c.llm != nil && c.llm.Enabled() {
		analysis, err := c.llm.AnalyzeSentiment(ctx, message)
		if err == nil {
			return analysis
		}
		c.logger.Warn("companion: model sentiment failed, using word lists", zap.Error(err))
	}
	return sentiment.Analyze(message)
}

func (c *Companion) generate(ctx context.Context, userID uint, prompt string) string {
	if c.llm == nil || !c.llm.Enabled() {
		return FallbackReply
	}
	reply, err := c.llm.GenerateReply(ctx, systemPrompt, prompt)
	if err != nil || strings.TrimSpace(reply) == "" {
		c.logger.Warn("companion: reply generation failed", zap.Uint("user_id", userID), zap.Error(err))
		return FallbackReply
	}
	return reply
}

func (c *Companion) prompt(ctx context.Context, user *model.User, message, conversationType string) (string, error) {
	history, err := c.store.RecentConversations(ctx, user.ID, historyDepth)
	if err != nil {
		return "", err
	}
	now := c.now().UTC()
	events, err := c.store.UpcomingEvents(ctx, user.ID, now, now.Add(eventsHorizon))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Context: ")
	if len(history) == 0 {
		b.WriteString("No previous conversations.\n")
	} else {
		b.WriteString("Recent conversation history:\n")
		for i := len(history) - 1; i >= 0; i-- {
			fmt.Fprintf(&b, "User: %s\nCarely: %s\n---\n", history[i].Message, history[i].Response)
		}
	}
	b.WriteString("\n")

	if len(events) == 0 {
		b.WriteString("No upcoming events stored.\n")
	} else {
		b.WriteString("Upcoming important events to remember:\n")
		for _, e := range events {
			days := 0
			if e.EventDate != nil {
				days = int(e.EventDate.Sub(now).Hours() / 24)
			}
			fmt.Fprintf(&b, "- %s (%s) in %d days", e.Title, e.EventType, days)
			if e.Description != "" {
				fmt.Fprintf(&b, ": %s", e.Description)
			}
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "\nUser's name: %s\nConversation type: %s\nCurrent message: %s\n\nRespond naturally and warmly.",
		user.Name, conversationType, message)
	return b.String(), nil
}
