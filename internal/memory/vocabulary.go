package memory

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Topic is a conversation subject.
type Topic string

const (
	TopicHealth     Topic = "health"
	TopicFamily     Topic = "family"
	TopicActivities Topic = "activities"
	TopicSleep      Topic = "sleep"
	TopicFood       Topic = "food"
	TopicSocial     Topic = "social"
)

// Topics lists every topic in reporting order.
var Topics = []Topic{TopicHealth, TopicFamily, TopicActivities, TopicSleep, TopicFood, TopicSocial}

// Concern is a recurring worry worth surfacing to caregivers.
type Concern string

const (
	ConcernPain       Concern = "pain"
	ConcernSleep      Concern = "sleep"
	ConcernLoneliness Concern = "loneliness"
	ConcernConfusion  Concern = "confusion"
	ConcernAnxiety    Concern = "anxiety"
)

// Concerns lists every concern in reporting order.
var Concerns = []Concern{ConcernPain, ConcernSleep, ConcernLoneliness, ConcernConfusion, ConcernAnxiety}

// Vocabulary maps each tag to the lower-case substrings that identify it.
type Vocabulary struct {
	Topics               map[Topic][]string
	Concerns             map[Concern][]string
	MedicationIndicators []string
}

// DefaultVocabulary returns the built-in keyword tables.
func DefaultVocabulary() *Vocabulary {
	return &Vocabulary{
		Topics: map[Topic][]string{
			TopicHealth:     {"pain", "doctor", "hospital", "medicine", "sick", "health", "feel"},
			TopicFamily:     {"family", "children", "grandchildren", "spouse", "daughter", "son"},
			TopicActivities: {"walk", "exercise", "garden", "read", "watch", "hobby"},
			TopicSleep:      {"sleep", "tired", "rest", "bed", "night"},
			TopicFood:       {"eat", "food", "hungry", "meal", "cook", "dinner", "lunch"},
			TopicSocial:     {"friend", "visit", "call", "lonely", "social", "people"},
		},
		Concerns: map[Concern][]string{
			ConcernPain:       {"pain", "hurt", "ache", "sore"},
			ConcernSleep:      {"sleep", "insomnia", "tired", "rest"},
			ConcernLoneliness: {"lonely", "alone", "isolated", "miss"},
			ConcernConfusion:  {"confused", "forgot", "remember", "memory"},
			ConcernAnxiety:    {"worried", "anxious", "scared", "nervous"},
		},
		MedicationIndicators: []string{"medication", "pill", "medicine", "dose"},
	}
}

type vocabularyFile struct {
	Topics               map[string][]string `yaml:"topics"`
	Concerns             map[string][]string `yaml:"concerns"`
	MedicationIndicators []string            `yaml:"medication_indicators"`
}

// LoadVocabulary reads a YAML vocabulary file. An empty path yields the defaults.
func LoadVocabulary(path string) (*Vocabulary, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultVocabulary(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary %q: %w", path, err)
	}
	vocab, err := ParseVocabulary(data)
	if err != nil {
		return nil, fmt.Errorf("vocabulary %q: %w", path, err)
	}
	return vocab, nil
}

// ParseVocabulary overlays a YAML document on the defaults. Tags it lists replace the built-in
// keywords of that tag; unknown tags and fields are rejected.
func ParseVocabulary(data []byte) (*Vocabulary, error) {
	var file vocabularyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}

	vocab := DefaultVocabulary()
	for name, keywords := range file.Topics {
		topic := Topic(strings.ToLower(strings.TrimSpace(name)))
		if !knownTopic(topic) {
			return nil, fmt.Errorf("unknown topic %q", name)
		}
		vocab.Topics[topic] = normalize(keywords)
	}
	for name, keywords := range file.Concerns {
		concern := Concern(strings.ToLower(strings.TrimSpace(name)))
		if !knownConcern(concern) {
			return nil, fmt.Errorf("unknown concern %q", name)
		}
		vocab.Concerns[concern] = normalize(keywords)
	}
	if len(file.MedicationIndicators) > 0 {
		vocab.MedicationIndicators = normalize(file.MedicationIndicators)
	}
	return vocab, nil
}

func knownTopic(t Topic) bool {
	for _, known := range Topics {
		if t == known {
			return true
		}
	}
	return false
}

func knownConcern(c Concern) bool {
	for _, known := range Concerns {
		if c == known {
			return true
		}
	}
	return false
}

func normalize(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// TopicsIn returns the topics whose keywords occur in text, in reporting order.
func (v *Vocabulary) TopicsIn(text string) []Topic {
	lower := strings.ToLower(text)
	var found []Topic
	for _, topic := range Topics {
		if containsAny(lower, v.Topics[topic]) {
			found = append(found, topic)
		}
	}
	return found
}

// ConcernCounts counts keyword occurrences per concern in text.
func (v *Vocabulary) ConcernCounts(text string) map[Concern]int {
	lower := strings.ToLower(text)
	counts := map[Concern]int{}
	for _, concern := range Concerns {
		n := 0
		for _, k := range v.Concerns[concern] {
			n += strings.Count(lower, k)
		}
		if n > 0 {
			counts[concern] = n
		}
	}
	return counts
}

// MentionsMedication reports whether text contains a medication indicator.
func (v *Vocabulary) MentionsMedication(text string) bool {
	return containsAny(strings.ToLower(text), v.MedicationIndicators)
}

func containsAny(lower string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
