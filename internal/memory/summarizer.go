// Package memory condenses a user's conversation history into the summaries and signals the
// companion prompt and caregiver views read.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pathakanu/carely/internal/apperr"
	"github.com/pathakanu/carely/internal/model"
)

// NoConversations is the summary of an empty window.
const NoConversations = "No recent conversations found."

// contextDepth is how many recent conversations Context inspects.
const contextDepth = 100

// Store is what the summarizer reads.
type Store interface {
	EnsureUser(ctx context.Context, id uint) error
	ConversationsSince(ctx context.Context, userID uint, since time.Time) ([]model.Conversation, error)
	RecentConversations(ctx context.Context, userID uint, limit int) ([]model.Conversation, error)
	ListMedications(ctx context.Context, userID uint, activeOnly bool) ([]model.Medication, error)
}

// Summarizer reads conversations and never writes.
type Summarizer struct {
	store Store
	vocab *Vocabulary
	loc   *time.Location
	now   func() time.Time
}

// NewSummarizer returns a Summarizer bucketing days in loc. A nil vocab uses the defaults.
func NewSummarizer(store Store, vocab *Vocabulary, loc *time.Location) *Summarizer {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Summarizer{store: store, vocab: vocab, loc: loc, now: time.Now}
}

// WithClock overrides the time source.
func (s *Summarizer) WithClock(now func() time.Time) *Summarizer {
	s.now = now
	return s
}

// Summarize renders the conversations of the last days as text, newest day first.
func (s *Summarizer) Summarize(ctx context.Context, userID uint, days int) (string, error) {
	if days < 0 {
		return "", apperr.Validation("days must be >= 0, got %d", days)
	}
	if err := s.store.EnsureUser(ctx, userID); err != nil {
		return "", err
	}

	since := s.now().UTC().AddDate(0, 0, -days)
	convs, err := s.store.ConversationsSince(ctx, userID, since)
	if err != nil {
		return "", err
	}
	if len(convs) == 0 {
		return NoConversations, nil
	}
	meds, err := s.store.ListMedications(ctx, userID, false)
	if err != nil {
		return "", err
	}

	byDay := map[time.Time][]model.Conversation{}
	for _, c := range convs {
		local := c.Timestamp.In(s.loc)
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
		byDay[day] = append(byDay[day], c)
	}
	dayKeys := make([]time.Time, 0, len(byDay))
	for day := range byDay {
		dayKeys = append(dayKeys, day)
	}
	sort.Slice(dayKeys, func(i, j int) bool { return dayKeys[i].After(dayKeys[j]) })

	var b strings.Builder
	fmt.Fprintf(&b, "Conversation summary for user %d (last %d days):\n\n", userID, days)
	for _, day := range dayKeys {
		dayConvs := byDay[day]
		fmt.Fprintf(&b, "=== %s ===\n", day.Format("January 02, 2006"))
		fmt.Fprintf(&b, "Messages: %d\n", len(dayConvs))
		if avg, ok := averageScore(dayConvs); ok {
			fmt.Fprintf(&b, "Overall mood: %s\n", MoodDescription(avg))
		}
		if topics := s.vocab.TopicsIn(joinMessages(dayConvs)); len(topics) > 0 {
			fmt.Fprintf(&b, "Topics discussed: %s\n", joinTags(topics))
		}
		if mentioned := medicationMentions(dayConvs, meds); len(mentioned) > 0 {
			fmt.Fprintf(&b, "Medications mentioned: %s\n", strings.Join(mentioned, ", "))
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

// MoodDescription turns an average sentiment into words.
func MoodDescription(score float64) string {
	switch {
	case score > 0.6:
		return "Very positive"
	case score > 0.2:
		return "Positive"
	case score > -0.2:
		return "Neutral"
	case score > -0.6:
		return "Somewhat negative"
	default:
		return "Concerning/negative"
	}
}

func averageScore(convs []model.Conversation) (float64, bool) {
	var sum float64
	n := 0
	for _, c := range convs {
		if c.SentimentScore != nil {
			sum += *c.SentimentScore
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func joinMessages(convs []model.Conversation) string {
	parts := make([]string, len(convs))
	for i, c := range convs {
		parts[i] = c.Message
	}
	return strings.Join(parts, " ")
}

func joinTags[T ~string](tags []T) string {
	parts := make([]string, len(tags))
	for i, t := range tags {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

// medicationMentions returns the names of the user's medications that appear in convs.
func medicationMentions(convs []model.Conversation, meds []model.Medication) []string {
	text := strings.ToLower(joinMessages(convs))
	seen := map[string]bool{}
	var out []string
	for _, m := range meds {
		name := strings.TrimSpace(m.Name)
		key := strings.ToLower(name)
		if key == "" || seen[key] {
			continue
		}
		if strings.Contains(text, key) {
			seen[key] = true
			out = append(out, name)
		}
	}
	return out
}
