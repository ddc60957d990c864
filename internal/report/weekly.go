// Package report builds the weekly caregiver report and its spreadsheet export.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pathakanu/carely/internal/adherence"
	"github.com/pathakanu/carely/internal/model"
)

// Store is what the report reads.
type Store interface {
	GetUser(ctx context.Context, id uint) (*model.User, error)
	LogsForUser(ctx context.Context, userID uint, from, to time.Time) ([]model.MedicationLog, error)
	ScoredConversations(ctx context.Context, userID uint, since time.Time, limit int) ([]model.Conversation, error)
}

// Builder assembles reports over trailing windows.
type Builder struct {
	store Store
	loc   *time.Location
}

// NewBuilder returns a Builder rendering dates in loc.
func NewBuilder(store Store, loc *time.Location) *Builder {
	if loc == nil {
		loc = time.UTC
	}
	return &Builder{store: store, loc: loc}
}

// Weekly is the data of one weekly report.
type Weekly struct {
	User            model.User            `json:"user"`
	From            time.Time             `json:"from"`
	To              time.Time             `json:"to"`
	Adherence       adherence.Stats       `json:"adherence"`
	Logs            []model.MedicationLog `json:"-"`
	Moods           []model.Conversation  `json:"-"`
	AverageMood     float64               `json:"average_mood"`
	Conversations   int                   `json:"conversations"`
	MoodTrend       string                `json:"mood_trend"`
	Recommendations []string              `json:"recommendations"`
}

// Weekly collects the last seven days ending at now.
func (b *Builder) Weekly(ctx context.Context, userID uint, now time.Time) (*Weekly, error) {
	return b.Window(ctx, userID, 7, now)
}

// Window collects the report data of the last days ending at now.
func (b *Builder) Window(ctx context.Context, userID uint, days int, now time.Time) (*Weekly, error) {
	user, err := b.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	to := now.UTC()
	from := to.AddDate(0, 0, -days)

	logs, err := b.store.LogsForUser(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	moods, err := b.store.ScoredConversations(ctx, userID, from, 0)
	if err != nil {
		return nil, err
	}

	w := &Weekly{
		User:          *user,
		From:          from,
		To:            to,
		Adherence:     adherence.Tally(adherence.Stats{UserID: userID, WindowDays: days}, logs),
		Logs:          logs,
		Moods:         moods,
		Conversations: len(moods),
	}
	var sum float64
	for _, c := range moods {
		sum += *c.SentimentScore
	}
	if len(moods) > 0 {
		w.AverageMood = sum / float64(len(moods))
	}
	w.MoodTrend = MoodBand(w.AverageMood)
	w.Recommendations = recommendations(w)
	return w, nil
}

// MoodBand labels an average mood score.
func MoodBand(avg float64) string {
	switch {
	case avg > 0.2:
		return "Positive"
	case avg > -0.2:
		return "Neutral"
	default:
		return "Concerning"
	}
}

func recommendations(w *Weekly) []string {
	var recs []string
	if w.Adherence.HasData() && w.Adherence.Rate < 90 {
		recs = append(recs, "Consider medication reminder system improvements")
	}
	if w.AverageMood < -0.3 {
		recs = append(recs, "Monitor mood closely, consider professional consultation")
	}
	if len(recs) == 0 {
		recs = append(recs, "Continue current care routine, all metrics look good")
	}
	return recs
}

// Text renders the report as the body of a caregiver alert.
func (w *Weekly) Text() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Weekly Report for %s:\n\n", w.User.Name)
	sb.WriteString("Medication Adherence:\n")
	fmt.Fprintf(&sb, "- Total doses: %d\n", w.Adherence.Total)
	fmt.Fprintf(&sb, "- Doses taken: %d\n", w.Adherence.Taken)
	if w.Adherence.HasData() {
		fmt.Fprintf(&sb, "- Adherence rate: %.1f%%\n", w.Adherence.Rate)
	} else {
		sb.WriteString("- Adherence rate: no doses scheduled\n")
	}
	sb.WriteString("\nMood & Wellbeing:\n")
	fmt.Fprintf(&sb, "- Average mood: %.2f (scale: -1 to 1)\n", w.AverageMood)
	fmt.Fprintf(&sb, "- Total conversations: %d\n", w.Conversations)
	fmt.Fprintf(&sb, "- Mood trend: %s\n", w.MoodTrend)
	sb.WriteString("\nRecommendations:\n")
	for _, r := range w.Recommendations {
		fmt.Fprintf(&sb, "- %s\n", r)
	}
	return sb.String()
}
