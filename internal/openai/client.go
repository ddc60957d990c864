package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/pathakanu/carely/internal/sentiment"
)

// Client wraps the OpenAI SDK and provides the companion's completion helpers.
type Client struct {
	client *openai.Client
	model  openai.ChatModel
}

// ErrClientNotInitialised is returned when attempting to call the API without a configured client.
var ErrClientNotInitialised = errors.New("openai client not initialised")

// New returns a client. Without apiKey every call fails with ErrClientNotInitialised.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	if apiKey == "" {
		return &Client{}
	}
	chatModel := openai.ChatModel(model)
	if model == "" {
		chatModel = openai.ChatModelGPT4oMini
	}
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &Client{
		client: &client,
		model:  chatModel,
	}
}

// Enabled reports whether an API key was configured.
func (c *Client) Enabled() bool {
	return c != nil && c.client != nil
}

// GenerateReply asks the model for a companion reply to prompt.
func (c *Client) GenerateReply(ctx context.Context, systemPrompt, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}
	if !c.Enabled() {
		return "", ErrClientNotInitialised
	}

	req := openai.ChatCompletionNewParams{
		Model:               c.model,
		Messages:            messages(systemPrompt, prompt),
		Temperature:         openai.Float(0.7),
		MaxCompletionTokens: openai.Int(512),
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return c.complete(ctx, req)
}

const sentimentPrompt = `You are an expert sentiment analyzer for elderly care conversations.
Be especially sensitive to pain, discomfort, loneliness, confusion and medication anxiety.
Respond with JSON only in this format:
{"score": -0.5, "label": "negative", "confidence": 0.8, "emotions": ["worry", "sadness"]}
score is between -1 (very negative) and 1 (very positive); label is positive, negative or neutral.`

// AnalyzeSentiment asks the model to score text. Scores are clamped to [-1, 1].
func (c *Client) AnalyzeSentiment(ctx context.Context, text string) (sentiment.Analysis, error) {
	if strings.TrimSpace(text) == "" {
		return sentiment.Analysis{}, fmt.Errorf("content cannot be empty")
	}
	if !c.Enabled() {
		return sentiment.Analysis{}, ErrClientNotInitialised
	}

	req := openai.ChatCompletionNewParams{
		Model:               c.model,
		Messages:            messages(sentimentPrompt, fmt.Sprintf("Analyze the sentiment of this text: %q", text)),
		Temperature:         openai.Float(0.0),
		MaxCompletionTokens: openai.Int(200),
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	content, err := c.complete(ctx, req)
	if err != nil {
		return sentiment.Analysis{}, err
	}
	return ParseSentiment(content)
}

// ParseSentiment decodes the model's JSON reply, tolerating surrounding prose or code fences.
func ParseSentiment(content string) (sentiment.Analysis, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return sentiment.Analysis{}, fmt.Errorf("no JSON object in sentiment reply")
	}

	var raw struct {
		Score      *float64 `json:"score"`
		Label      string   `json:"label"`
		Confidence *float64 `json:"confidence"`
		Emotions   []string `json:"emotions"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return sentiment.Analysis{}, fmt.Errorf("decode sentiment reply: %w", err)
	}
	if raw.Score == nil {
		return sentiment.Analysis{}, fmt.Errorf("sentiment reply has no score")
	}

	out := sentiment.Analysis{
		Score:      sentiment.Clamp(*raw.Score),
		Confidence: 0.5,
		Emotions:   raw.Emotions,
	}
	if raw.Confidence != nil {
		out.Confidence = min(1, max(0, *raw.Confidence))
	}
	switch label := strings.ToLower(strings.TrimSpace(raw.Label)); label {
	case sentiment.Positive, sentiment.Negative, sentiment.Neutral:
		out.Label = label
	default:
		out.Label = sentiment.Label(out.Score)
	}
	if out.Emotions == nil {
		out.Emotions = []string{}
	}
	return out, nil
}

func (c *Client) complete(ctx context.Context, req openai.ChatCompletionNewParams) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no completion received")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func messages(systemPrompt, userPrompt string) []openai.ChatCompletionMessageParamUnion {
	return []openai.ChatCompletionMessageParamUnion{
		{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String(systemPrompt),
				},
			},
		},
		{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfString: openai.String(userPrompt),
				},
			},
		},
	}
}
