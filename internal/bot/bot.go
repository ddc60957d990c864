// Package bot answers inbound WhatsApp and SMS messages delivered by the Twilio webhook.
package bot

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pathakanu/carely/internal/apperr"
	"github.com/pathakanu/carely/internal/companion"
	"github.com/pathakanu/carely/internal/model"
	"go.uber.org/zap"
)

// Store is what the bot reads and writes.
type Store interface {
	FindUserByChannel(ctx context.Context, channel string) (*model.User, error)
	DuePendingLogs(ctx context.Context, userID uint, now time.Time) ([]model.MedicationLog, error)
	TransitionLog(ctx context.Context, id uint, to model.LogStatus, at time.Time, notes string) (*model.MedicationLog, error)
	ListMedications(ctx context.Context, userID uint, activeOnly bool) ([]model.Medication, error)
}

// Responder produces companion replies for free-form messages.
type Responder interface {
	Respond(ctx context.Context, userID uint, message, conversationType string) (*companion.Reply, error)
}

type intent int

const (
	intentChat intent = iota
	intentTaken
	intentSkip
	intentSchedule
	intentHelp
)

// choiceTTL bounds how long a numbered dose question stays open.
const choiceTTL = 15 * time.Minute

// Bot routes patient messages to dose confirmations, the schedule or the companion.
type Bot struct {
	store     Store
	companion Responder
	state     *conversationStore
	loc       *time.Location
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a Bot rendering times in loc.
func New(store Store, responder Responder, loc *time.Location, logger *zap.Logger) *Bot {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{
		store:     store,
		companion: responder,
		state:     newConversationStore(),
		loc:       loc,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the time source.
func (b *Bot) WithClock(now func() time.Time) *Bot {
	b.now = now
	return b
}

// Handler returns the HTTP handler for incoming Twilio messages.
func (b *Bot) Handler() http.HandlerFunc {
	return b.handleIncomingMessage
}

// handleIncomingMessage processes Twilio webhook POST requests.
func (b *Bot) handleIncomingMessage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		b.logger.Warn("webhook: parse error", zap.Error(err))
		b.writeTwilioResponse(w, "Sorry, I couldn't understand that request.")
		return
	}

	from := strings.TrimSpace(r.FormValue("From"))
	body := strings.TrimSpace(r.FormValue("Body"))
	if from == "" || body == "" {
		b.writeTwilioResponse(w, "I need a message to work with. Please try again.")
		return
	}

	ctx := r.Context()
	channel := channelFor(from)
	user, err := b.store.FindUserByChannel(ctx, channel)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			b.logger.Error("webhook: user lookup", zap.String("channel", channel), zap.Error(err))
			b.writeTwilioResponse(w, "Sorry, something went wrong on my side. Please try again in a moment.")
			return
		}
		b.writeTwilioResponse(w, "I don't recognise this number yet. Ask your caregiver to register it with Carely.")
		return
	}

	if b.state.IsAwaitingChoice(channel, b.now()) {
		b.writeTwilioResponse(w, b.handleChoice(ctx, channel, body))
		return
	}

	switch kind, rest := determineIntent(body); kind {
	case intentTaken:
		b.writeTwilioResponse(w, b.confirmDose(ctx, user, channel, model.LogTaken, rest))
	case intentSkip:
		b.writeTwilioResponse(w, b.confirmDose(ctx, user, channel, model.LogSkipped, rest))
	case intentSchedule:
		b.writeTwilioResponse(w, b.schedule(ctx, user))
	case intentHelp:
		b.writeTwilioResponse(w, helpResponse())
	default:
		b.writeTwilioResponse(w, b.chat(ctx, user, body))
	}
}

func determineIntent(message string) (intent, string) {
	lower := strings.ToLower(strings.TrimSpace(message))
	first, rest, _ := strings.Cut(lower, " ")
	switch first {
	case "taken", "took", "done":
		return intentTaken, strings.TrimSpace(rest)
	case "skip", "skipped":
		return intentSkip, strings.TrimSpace(rest)
	case "help", "?":
		if rest == "" {
			return intentHelp, ""
		}
	}
	if lower == "reminders" || lower == "schedule" ||
		strings.Contains(lower, "my schedule") ||
		(strings.Contains(lower, "list") && strings.Contains(lower, "reminder")) {
		return intentSchedule, ""
	}
	return intentChat, ""
}

// confirmDose applies action to the due doses. One due dose is applied directly, several
// open a numbered question unless the message already names the doses.
func (b *Bot) confirmDose(ctx context.Context, user *model.User, channel string, action model.LogStatus, rest string) string {
	now := b.now()
	due, err := b.store.DuePendingLogs(ctx, user.ID, now)
	if err != nil {
		b.logger.Error("webhook: due doses", zap.Uint("user_id", user.ID), zap.Error(err))
		return "I couldn't check your doses right now. Please try again shortly."
	}
	if len(due) == 0 {
		return "You have no doses waiting right now."
	}
	if len(due) == 1 {
		return b.apply(ctx, action, due[:1])
	}
	if indices := parseIndices(rest); indices != nil {
		picked, msg := pick(due, indices)
		if picked == nil {
			return msg
		}
		return b.apply(ctx, action, picked)
	}

	ids := make([]uint, len(due))
	for i, log := range due {
		ids[i] = log.ID
	}
	b.state.SetPendingChoice(channel, action, ids, now.Add(choiceTTL))

	var sb strings.Builder
	fmt.Fprintf(&sb, "Which dose should I mark as %s? Reply with the number(s), e.g. 1 or 1,2:\n", action)
	for i, log := range due {
		fmt.Fprintf(&sb, "%d. %s at %s\n", i+1, doseName(log), log.ScheduledTime.In(b.loc).Format("15:04"))
	}
	sb.WriteString("Reply CANCEL to stop.")
	return sb.String()
}

func (b *Bot) handleChoice(ctx context.Context, channel, body string) string {
	if strings.EqualFold(strings.TrimSpace(body), "cancel") {
		b.state.Clear(channel)
		return "Okay, I haven't changed anything."
	}
	indices := parseIndices(body)
	if indices == nil {
		return "Please reply with the dose number(s), e.g. 1 or 1,2, or CANCEL."
	}

	choice, ok := b.state.PopPendingChoice(channel)
	if !ok {
		return "I lost track of that question. Please send TAKEN or SKIP again."
	}
	var logs []model.MedicationLog
	for _, idx := range indices {
		if idx > len(choice.LogIDs) {
			b.state.SetPendingChoice(channel, choice.Action, choice.LogIDs, choice.Expires)
			return fmt.Sprintf("There is no dose number %d. Please pick between 1 and %d.", idx, len(choice.LogIDs))
		}
		logs = append(logs, model.MedicationLog{ID: choice.LogIDs[idx-1]})
	}
	return b.apply(ctx, choice.Action, logs)
}

func pick(due []model.MedicationLog, indices []int) ([]model.MedicationLog, string) {
	var out []model.MedicationLog
	for _, idx := range indices {
		if idx > len(due) {
			return nil, fmt.Sprintf("There is no dose number %d. Please pick between 1 and %d.", idx, len(due))
		}
		out = append(out, due[idx-1])
	}
	return out, ""
}

func (b *Bot) apply(ctx context.Context, action model.LogStatus, logs []model.MedicationLog) string {
	at := b.now()
	var lines []string
	for _, log := range logs {
		updated, err := b.store.TransitionLog(ctx, log.ID, action, at, "confirmed via message")
		switch {
		case errors.Is(err, apperr.ErrConflict):
			lines = append(lines, "That dose was already recorded, so I left it as it was.")
			continue
		case err != nil:
			b.logger.Error("webhook: record dose", zap.Uint("log_id", log.ID), zap.Error(err))
			lines = append(lines, "I couldn't record one of your doses. Please try again.")
			continue
		}
		current, err := b.doseLabel(ctx, updated)
		if err != nil {
			current = "your dose"
		}
		if action == model.LogTaken {
			lines = append(lines, fmt.Sprintf("Great! I've recorded %s as taken.", current))
		} else {
			lines = append(lines, fmt.Sprintf("Okay, I've marked %s as skipped.", current))
		}
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) doseLabel(ctx context.Context, log *model.MedicationLog) (string, error) {
	meds, err := b.store.ListMedications(ctx, log.UserID, false)
	if err != nil {
		return "", err
	}
	for _, m := range meds {
		if m.ID == log.MedicationID {
			return fmt.Sprintf("your %s (%s)", m.Name, m.Dosage), nil
		}
	}
	return "your dose", nil
}

func doseName(log model.MedicationLog) string {
	if log.Medication == nil {
		return fmt.Sprintf("Dose #%d", log.ID)
	}
	return fmt.Sprintf("%s (%s)", log.Medication.Name, log.Medication.Dosage)
}

// schedule lists the active medications of a user.
func (b *Bot) schedule(ctx context.Context, user *model.User) string {
	meds, err := b.store.ListMedications(ctx, user.ID, true)
	if err != nil {
		b.logger.Error("webhook: list medications", zap.Uint("user_id", user.ID), zap.Error(err))
		return "I had trouble checking your schedule. Please try again later."
	}
	if len(meds) == 0 {
		return "You don't have any medications scheduled right now."
	}

	var sb strings.Builder
	sb.WriteString("Here's your medication schedule:\n")
	for _, m := range meds {
		fmt.Fprintf(&sb, "\n- %s (%s), %s", m.Name, m.Dosage, strings.ReplaceAll(string(m.Frequency), "_", " "))
		if len(m.ScheduleTimes) > 0 {
			fmt.Fprintf(&sb, "\n  Times: %s", strings.Join(m.ScheduleTimes, ", "))
		}
	}
	return sb.String()
}

func (b *Bot) chat(ctx context.Context, user *model.User, body string) string {
	if b.companion == nil {
		return helpResponse()
	}
	reply, err := b.companion.Respond(ctx, user.ID, body, "general")
	if err != nil {
		b.logger.Error("webhook: companion", zap.Uint("user_id", user.ID), zap.Error(err))
		return companion.FallbackReply
	}
	return reply.Response
}

func (b *Bot) writeTwilioResponse(w http.ResponseWriter, message string) {
	twiml := struct {
		XMLName xml.Name `xml:"Response"`
		Message string   `xml:"Message"`
	}{
		Message: message,
	}

	w.Header().Set("Content-Type", "application/xml")
	if err := xml.NewEncoder(w).Encode(twiml); err != nil {
		b.logger.Warn("webhook: encode twiml", zap.Error(err))
	}
}

// channelFor maps a Twilio sender onto a contact channel. WhatsApp senders arrive as
// "whatsapp:+1555..."; plain numbers are SMS.
func channelFor(from string) string {
	scheme, address, ok := strings.Cut(from, ":")
	if ok && strings.EqualFold(scheme, "whatsapp") {
		return "whatsapp:" + strings.TrimSpace(address)
	}
	return "sms:" + strings.TrimSpace(from)
}

func helpResponse() string {
	return "You can say things like:\n- \"Taken\" when you've taken your medicine\n- \"Skip\" to skip a dose\n- \"Schedule\" to see your medications\n- Anything else to just chat with me"
}

// parseIndices reads 1-based positions separated by commas or spaces. Any invalid entry
// rejects the whole input.
func parseIndices(input string) []int {
	fields := strings.FieldsFunc(input, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	if len(fields) == 0 {
		return nil
	}
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 1 {
			return nil
		}
		out = append(out, n)
	}
	return out
}

type conversationStore struct {
	mu    sync.RWMutex
	state map[string]pendingChoice
}

type pendingChoice struct {
	Action  model.LogStatus
	LogIDs  []uint
	Expires time.Time
}

func newConversationStore() *conversationStore {
	return &conversationStore{
		state: make(map[string]pendingChoice),
	}
}

func (c *conversationStore) SetPendingChoice(channel string, action model.LogStatus, ids []uint, expires time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[channel] = pendingChoice{Action: action, LogIDs: ids, Expires: expires}
}

func (c *conversationStore) PopPendingChoice(channel string) (pendingChoice, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	choice, ok := c.state[channel]
	if !ok {
		return pendingChoice{}, false
	}
	delete(c.state, channel)
	return choice, true
}

func (c *conversationStore) IsAwaitingChoice(channel string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	choice, ok := c.state[channel]
	if ok && now.After(choice.Expires) {
		delete(c.state, channel)
		return false
	}
	return ok
}

func (c *conversationStore) Clear(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.state, channel)
}
