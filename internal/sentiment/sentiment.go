// Package sentiment scores short messages with word lists. It is the fallback used when no
// language model is configured or the model call fails.
package sentiment

import (
	"strings"
)

// Labels.
const (
	Positive = "positive"
	Negative = "negative"
	Neutral  = "neutral"
)

// Analysis is the sentiment of one message.
type Analysis struct {
	Score      float64  `json:"score"`
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
	Emotions   []string `json:"emotions"`
}

var (
	positiveWords = []string{
		"good", "great", "happy", "wonderful", "excellent", "love", "enjoy",
		"better", "fine", "well", "nice", "pleasant", "comfortable", "peaceful",
	}
	negativeWords = []string{
		"bad", "terrible", "awful", "hate", "horrible", "pain", "hurt", "sad",
		"worried", "anxious", "confused", "lost", "dizzy", "sick", "tired",
		"lonely", "scared", "frightened", "depressed", "upset",
	}
	concernWords = []string{
		"pain", "hurt", "dizzy", "fall", "emergency", "help", "confused",
		"memory", "forgot", "lost", "scared", "can't", "unable", "difficult",
	}

	emotionCues = []struct {
		emotion string
		words   []string
	}{
		{"discomfort", []string{"pain", "hurt", "sick"}},
		{"loneliness", []string{"lonely", "alone", "miss"}},
		{"contentment", []string{"happy", "good", "great"}},
		{"anxiety", []string{"worried", "anxious", "scared"}},
	}
)

// ruleConfidence is reported for every word-list analysis.
const ruleConfidence = 0.6

// Analyze scores text as (positive - negative - 1.5*concern) / words, clamped to [-1, 1].
func Analyze(text string) Analysis {
	lower := strings.ToLower(text)
	words := len(strings.Fields(lower))
	if words == 0 {
		return Analysis{Score: 0, Label: Neutral, Confidence: 0.5, Emotions: []string{}}
	}

	positive := countContained(lower, positiveWords)
	negative := countContained(lower, negativeWords)
	concern := countContained(lower, concernWords)

	score := Clamp((float64(positive) - float64(negative) - float64(concern)*1.5) / float64(words))

	emotions := []string{}
	if concern > 0 {
		emotions = append(emotions, "concern")
	}
	for _, cue := range emotionCues {
		if countContained(lower, cue.words) > 0 {
			emotions = append(emotions, cue.emotion)
		}
	}

	return Analysis{Score: score, Label: Label(score), Confidence: ruleConfidence, Emotions: emotions}
}

// Label maps a score to positive, negative or neutral using a ±0.1 dead band.
func Label(score float64) string {
	switch {
	case score > 0.1:
		return Positive
	case score < -0.1:
		return Negative
	default:
		return Neutral
	}
}

// Clamp bounds score to [-1, 1].
func Clamp(score float64) float64 {
	if score > 1 {
		return 1
	}
	if score < -1 {
		return -1
	}
	return score
}

func countContained(text string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}
