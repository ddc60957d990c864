// Package alert evaluates adherence, mood and emergency signals and raises caregiver alerts.
package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pathakanu/carely/internal/adherence"
	"github.com/pathakanu/carely/internal/apperr"
	"github.com/pathakanu/carely/internal/config"
	"github.com/pathakanu/carely/internal/model"
	"github.com/pathakanu/carely/internal/notify"
	"go.uber.org/zap"
)

// Store is the slice of the entity store the generator reads and writes.
type Store interface {
	GetUser(ctx context.Context, id uint) (*model.User, error)
	FindUnresolvedAlert(ctx context.Context, userID uint, alertType model.AlertType) (*model.CaregiverAlert, error)
	LatestAlert(ctx context.Context, userID uint, alertType model.AlertType) (*model.CaregiverAlert, error)
	CreateAlert(ctx context.Context, alert *model.CaregiverAlert) error
	ScoredConversations(ctx context.Context, userID uint, since time.Time, limit int) ([]model.Conversation, error)
	LatestConversation(ctx context.Context, userID uint) (*model.Conversation, error)
	CaregiversForPatient(ctx context.Context, patientID uint) ([]model.CaregiverPatientAssignment, error)
}

// AdherenceSource computes adherence statistics.
type AdherenceSource interface {
	Compute(ctx context.Context, userID uint, windowDays int) (adherence.Stats, error)
}

// Generator runs the alert rules for one user at a time.
type Generator struct {
	store     Store
	adherence AdherenceSource
	sender    notify.Sender
	cfg       config.AlertConfig
	keywords  []string
	logger    *zap.Logger
}

// NewGenerator wires a Generator. sender may be nil to disable notifications.
func NewGenerator(store Store, calc AdherenceSource, sender notify.Sender, cfg config.AlertConfig, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	keywords := make([]string, 0, len(cfg.EmergencyKeywords))
	for _, k := range cfg.EmergencyKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}
	return &Generator{
		store:     store,
		adherence: calc,
		sender:    sender,
		cfg:       cfg,
		keywords:  keywords,
		logger:    logger,
	}
}

type rule struct {
	name string
	eval func(ctx context.Context, user *model.User) (*model.CaregiverAlert, error)
}

// EvaluateUser runs every rule for the user and returns the alerts it created. A failing rule
// does not stop the others; their errors are joined into the returned error.
func (g *Generator) EvaluateUser(ctx context.Context, userID uint) ([]model.CaregiverAlert, error) {
	user, err := g.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return g.run(ctx, user, []rule{
		{"adherence", g.adherenceRule},
		{"mood", g.moodRule},
		{"emergency", g.emergencyRule},
	})
}

// EvaluateAdherence runs only the adherence rule.
func (g *Generator) EvaluateAdherence(ctx context.Context, userID uint) ([]model.CaregiverAlert, error) {
	user, err := g.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return g.run(ctx, user, []rule{{"adherence", g.adherenceRule}})
}

func (g *Generator) run(ctx context.Context, user *model.User, rules []rule) ([]model.CaregiverAlert, error) {
	created := []model.CaregiverAlert{}
	var errs []error
	for _, r := range rules {
		candidate, err := r.eval(ctx, user)
		if err != nil {
			g.logger.Warn("alert: rule failed", zap.String("rule", r.name), zap.Uint("user_id", user.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s rule: %w", r.name, err))
			continue
		}
		if candidate == nil {
			continue
		}
		alert, err := g.raise(ctx, candidate)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s rule: %w", r.name, err))
			continue
		}
		if alert == nil {
			continue
		}
		created = append(created, *alert)
		g.notify(ctx, user, alert)
	}
	return created, errors.Join(errs...)
}

// raise persists candidate unless an unresolved alert of the same type exists. It returns nil
// when the alert was suppressed. The lookup only saves a write: the store rejects a second open
// alert of a type, and a concurrent evaluation losing that insert is suppressed the same way.
func (g *Generator) raise(ctx context.Context, candidate *model.CaregiverAlert) (*model.CaregiverAlert, error) {
	open, err := g.store.FindUnresolvedAlert(ctx, candidate.UserID, candidate.AlertType)
	if err != nil {
		return nil, err
	}
	if open != nil {
		g.logger.Debug("alert: suppressed duplicate",
			zap.Uint("user_id", candidate.UserID),
			zap.String("alert_type", string(candidate.AlertType)),
			zap.Uint("open_alert_id", open.ID),
		)
		return nil, nil
	}
	if err := g.store.CreateAlert(ctx, candidate); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			g.logger.Debug("alert: suppressed concurrent duplicate",
				zap.Uint("user_id", candidate.UserID),
				zap.String("alert_type", string(candidate.AlertType)),
			)
			return nil, nil
		}
		return nil, err
	}
	g.logger.Info("alert: created",
		zap.Uint("alert_id", candidate.ID),
		zap.Uint("user_id", candidate.UserID),
		zap.String("alert_type", string(candidate.AlertType)),
		zap.String("severity", string(candidate.Severity)),
	)
	return candidate, nil
}

func (g *Generator) adherenceRule(ctx context.Context, user *model.User) (*model.CaregiverAlert, error) {
	stats, err := g.adherence.Compute(ctx, user.ID, g.cfg.AdherenceWindowDays)
	if err != nil {
		return nil, err
	}
	if !stats.HasData() || stats.Rate >= g.cfg.AdherenceThreshold {
		return nil, nil
	}

	severity := model.SeverityMedium
	if stats.Rate < g.cfg.HighSeverityBelow {
		severity = model.SeverityHigh
	}
	return &model.CaregiverAlert{
		UserID:    user.ID,
		AlertType: model.AlertMedicationMissed,
		Severity:  severity,
		Title:     "Medication Adherence Alert",
		Description: fmt.Sprintf("Medication adherence concern for %s: %.1f%% adherence over %d days (%d of %d doses taken, %d missed)",
			user.Name, stats.Rate, stats.WindowDays, stats.Taken, stats.Total, stats.Missed),
	}, nil
}

func (g *Generator) moodRule(ctx context.Context, user *model.User) (*model.CaregiverAlert, error) {
	if g.cfg.MoodWindow <= 0 {
		return nil, nil
	}
	convs, err := g.store.ScoredConversations(ctx, user.ID, time.Time{}, g.cfg.MoodWindow)
	if err != nil {
		return nil, err
	}
	avg, ok := AverageSentiment(convs)
	if !ok || avg >= g.cfg.MoodThreshold {
		return nil, nil
	}
	return &model.CaregiverAlert{
		UserID:    user.ID,
		AlertType: model.AlertMoodConcern,
		Severity:  model.SeverityMedium,
		Title:     "Mood Concern",
		Description: fmt.Sprintf("Average sentiment over the last %d conversations with %s is %.2f (threshold %.2f)",
			len(convs), user.Name, avg, g.cfg.MoodThreshold),
	}, nil
}

func (g *Generator) emergencyRule(ctx context.Context, user *model.User) (*model.CaregiverAlert, error) {
	conv, err := g.store.LatestConversation(ctx, user.ID)
	if err != nil || conv == nil {
		return nil, err
	}
	keyword, ok := g.MatchEmergency(conv.Message)
	if !ok {
		return nil, nil
	}

	// An emergency alert raised after this message already covers it, resolved or not.
	last, err := g.store.LatestAlert(ctx, user.ID, model.AlertEmergency)
	if err != nil {
		return nil, err
	}
	if last != nil && !last.CreatedAt.Before(conv.Timestamp) {
		return nil, nil
	}

	return &model.CaregiverAlert{
		UserID:      user.ID,
		AlertType:   model.AlertEmergency,
		Severity:    model.SeverityHigh,
		Title:       fmt.Sprintf("Emergency - %s", user.Name),
		Description: fmt.Sprintf("%s reported a possible emergency (%q): %q", user.Name, keyword, conv.Message),
	}, nil
}

// MatchEmergency returns the first configured emergency keyword contained in message.
func (g *Generator) MatchEmergency(message string) (string, bool) {
	lower := strings.ToLower(message)
	for _, k := range g.keywords {
		if strings.Contains(lower, k) {
			return k, true
		}
	}
	return "", false
}

// AverageSentiment averages the scored conversations. ok is false when none carry a score.
func AverageSentiment(convs []model.Conversation) (avg float64, ok bool) {
	var sum float64
	n := 0
	for _, c := range convs {
		if c.SentimentScore == nil {
			continue
		}
		sum += *c.SentimentScore
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// notify pushes alert to every caregiver whose preference admits its severity, and to the
// patient's emergency channel for emergencies. Delivery failures are logged only.
func (g *Generator) notify(ctx context.Context, user *model.User, alert *model.CaregiverAlert) {
	if g.sender == nil {
		return
	}
	channels, err := g.recipients(ctx, user, alert)
	if err != nil {
		g.logger.Warn("alert: cannot resolve recipients", zap.Uint("alert_id", alert.ID), zap.Error(err))
	}
	text := fmt.Sprintf("[%s] %s\n%s", strings.ToUpper(string(alert.Severity)), alert.Title, alert.Description)
	for _, channel := range channels {
		res := g.sender.Send(ctx, channel, text)
		if !res.Success {
			g.logger.Warn("alert: notification failed",
				zap.Uint("alert_id", alert.ID),
				zap.String("channel", channel),
				zap.String("error", res.Error),
			)
		}
	}
}

func (g *Generator) recipients(ctx context.Context, user *model.User, alert *model.CaregiverAlert) ([]string, error) {
	seen := map[string]bool{}
	var channels []string
	add := func(channel string) {
		if channel != "" && !seen[channel] {
			seen[channel] = true
			channels = append(channels, channel)
		}
	}

	if alert.AlertType == model.AlertEmergency {
		add(user.EmergencyChannel)
	}
	assignments, err := g.store.CaregiversForPatient(ctx, user.ID)
	if err != nil {
		return channels, err
	}
	for _, a := range assignments {
		if a.Caregiver == nil || !a.Caregiver.Active {
			continue
		}
		if alert.Severity.AtLeast(a.MinSeverity()) {
			add(a.Caregiver.ContactChannel)
		}
	}
	return channels, nil
}

// Notify delivers an alert created outside the rules, such as a weekly report.
func (g *Generator) Notify(ctx context.Context, user *model.User, alert *model.CaregiverAlert) {
	g.notify(ctx, user, alert)
}
