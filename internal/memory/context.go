package memory

import (
	"context"
	"sort"
	"time"

	"github.com/pathakanu/carely/internal/model"
)

// Signals is the structured view of a user's recent conversations. Every group is empty when
// there is no history.
type Signals struct {
	MoodPatterns       MoodPatterns       `json:"mood_patterns"`
	MedicationPatterns MedicationPatterns `json:"medication_patterns"`
	CommonConcerns     []Concern          `json:"common_concerns"`
	PreferredTopics    []Topic            `json:"preferred_topics"`
	CommunicationStyle CommunicationStyle `json:"communication_style"`
}

// MoodPatterns describes sentiment over the inspected conversations.
type MoodPatterns struct {
	AverageMood        *float64      `json:"average_mood,omitempty"`
	MoodTrend          string        `json:"mood_trend,omitempty"`
	TotalConversations int           `json:"total_conversations,omitempty"`
	Distribution       *Distribution `json:"sentiment_distribution,omitempty"`
}

// Distribution buckets scores at ±0.2.
type Distribution struct {
	Positive int `json:"positive"`
	Neutral  int `json:"neutral"`
	Negative int `json:"negative"`
}

// MedicationPatterns counts medication talk.
type MedicationPatterns struct {
	Discussions    int `json:"medication_discussions,omitempty"`
	RecentConcerns int `json:"recent_medication_concerns,omitempty"`
}

// CommunicationStyle describes how the user writes.
type CommunicationStyle struct {
	AverageMessageLength float64 `json:"average_message_length,omitempty"`
	PrefersShortMessages bool    `json:"prefers_short_messages,omitempty"`
	TotalConversations   int     `json:"total_conversations,omitempty"`
	MostActiveTime       string  `json:"most_active_time,omitempty"`
}

// Mood trends.
const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendStable    = "stable"
)

// Context derives Signals from the last 100 conversations of the user.
func (s *Summarizer) Context(ctx context.Context, userID uint) (*Signals, error) {
	if err := s.store.EnsureUser(ctx, userID); err != nil {
		return nil, err
	}
	recent, err := s.store.RecentConversations(ctx, userID, contextDepth)
	if err != nil {
		return nil, err
	}

	// oldest first
	convs := make([]model.Conversation, len(recent))
	for i, c := range recent {
		convs[len(recent)-1-i] = c
	}

	return &Signals{
		MoodPatterns:       moodPatterns(convs),
		MedicationPatterns: s.medicationPatterns(convs),
		CommonConcerns:     s.commonConcerns(convs),
		PreferredTopics:    s.preferredTopics(convs),
		CommunicationStyle: s.communicationStyle(convs),
	}, nil
}

func moodPatterns(convs []model.Conversation) MoodPatterns {
	var scores []float64
	for _, c := range convs {
		if c.SentimentScore != nil {
			scores = append(scores, *c.SentimentScore)
		}
	}
	if len(scores) == 0 {
		return MoodPatterns{}
	}

	dist := &Distribution{}
	var sum float64
	for _, v := range scores {
		sum += v
		switch {
		case v > 0.2:
			dist.Positive++
		case v < -0.2:
			dist.Negative++
		default:
			dist.Neutral++
		}
	}
	avg := sum / float64(len(scores))
	return MoodPatterns{
		AverageMood:        &avg,
		MoodTrend:          MoodTrend(scores),
		TotalConversations: len(convs),
		Distribution:       dist,
	}
}

// MoodTrend compares the mean of the five newest scores with the five oldest. scores are
// oldest first; shorter histories compare their halves.
func MoodTrend(scores []float64) string {
	if len(scores) < 2 {
		return TrendStable
	}
	n := min(5, len(scores)/2)
	delta := mean(scores[len(scores)-n:]) - mean(scores[:n])
	switch {
	case delta > 0.1:
		return TrendImproving
	case delta < -0.1:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func (s *Summarizer) medicationPatterns(convs []model.Conversation) MedicationPatterns {
	var related []model.Conversation
	for _, c := range convs {
		if c.ConversationType == "medication" || s.vocab.MentionsMedication(c.Message) {
			related = append(related, c)
		}
	}
	out := MedicationPatterns{Discussions: len(related)}
	if len(related) > 10 {
		related = related[len(related)-10:]
	}
	for _, c := range related {
		if c.SentimentScore != nil && *c.SentimentScore < -0.3 {
			out.RecentConcerns++
		}
	}
	return out
}

func (s *Summarizer) commonConcerns(convs []model.Conversation) []Concern {
	counts := s.vocab.ConcernCounts(joinMessages(convs))
	out := make([]Concern, 0, len(counts))
	for _, c := range Concerns {
		if counts[c] > 0 {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return counts[out[i]] > counts[out[j]] })
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

func (s *Summarizer) preferredTopics(convs []model.Conversation) []Topic {
	var positive []model.Conversation
	for _, c := range convs {
		if c.SentimentScore != nil && *c.SentimentScore > 0.3 {
			positive = append(positive, c)
		}
	}
	topics := []Topic{}
	if len(positive) == 0 {
		return topics
	}
	topics = append(topics, s.vocab.TopicsIn(joinMessages(positive))...)
	if len(topics) > 3 {
		topics = topics[:3]
	}
	return topics
}

func (s *Summarizer) communicationStyle(convs []model.Conversation) CommunicationStyle {
	if len(convs) == 0 {
		return CommunicationStyle{}
	}
	chars := 0
	for _, c := range convs {
		chars += len([]rune(c.Message))
	}
	avg := float64(chars) / float64(len(convs))
	return CommunicationStyle{
		AverageMessageLength: avg,
		PrefersShortMessages: avg < 50,
		TotalConversations:   len(convs),
		MostActiveTime:       s.mostActiveTime(convs),
	}
}

var dayParts = []string{"morning", "afternoon", "evening", "night"}

func (s *Summarizer) mostActiveTime(convs []model.Conversation) string {
	counts := map[string]int{}
	for _, c := range convs {
		counts[DayPart(c.Timestamp.In(s.loc))]++
	}
	best := dayParts[0]
	for _, part := range dayParts[1:] {
		if counts[part] > counts[best] {
			best = part
		}
	}
	return best
}

// DayPart buckets a local time into morning (6-12), afternoon (12-17), evening (17-22) or night.
func DayPart(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 6 && h < 12:
		return "morning"
	case h >= 12 && h < 17:
		return "afternoon"
	case h >= 17 && h < 22:
		return "evening"
	default:
		return "night"
	}
}
