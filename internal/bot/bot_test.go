package bot

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/pathakanu/carely/internal/companion"
	"github.com/pathakanu/carely/internal/model"
	"github.com/pathakanu/carely/internal/store"
	"github.com/pathakanu/carely/internal/store/storetest"
)

var now = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store   *store.Store
	bot     *Bot
	patient *model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := storetest.New(t)
	clock := func() time.Time { return now }
	comp := companion.New(s, nil, nil, nil).WithClock(clock)
	return &fixture{
		store:   s,
		bot:     New(s, comp, time.UTC, nil).WithClock(clock),
		patient: storetest.Patient(t, s, "Mary"),
	}
}

func (f *fixture) dueDose(t *testing.T, name, dosage string, at time.Time) *model.MedicationLog {
	t.Helper()
	ctx := context.Background()
	med := &model.Medication{
		UserID:        f.patient.ID,
		Name:          name,
		Dosage:        dosage,
		Frequency:     model.FrequencyDaily,
		ScheduleTimes: []string{at.Format("15:04")},
		StartDate:     at.Add(-24 * time.Hour),
	}
	if err := f.store.CreateMedication(ctx, med); err != nil {
		t.Fatalf("create medication: %v", err)
	}
	log := &model.MedicationLog{UserID: f.patient.ID, MedicationID: med.ID, ScheduledTime: at}
	if _, err := f.store.MaterializeDose(ctx, log, nil); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	return log
}

func (f *fixture) send(t *testing.T, from, body string) string {
	t.Helper()
	form := url.Values{"From": {from}, "Body": {body}}
	req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	f.bot.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var twiml struct {
		XMLName xml.Name `xml:"Response"`
		Message string   `xml:"Message"`
	}
	if err := xml.Unmarshal(rec.Body.Bytes(), &twiml); err != nil {
		t.Fatalf("decode twiml %q: %v", rec.Body.String(), err)
	}
	return twiml.Message
}

func (f *fixture) status(t *testing.T, id uint) model.LogStatus {
	t.Helper()
	log, err := f.store.GetLog(context.Background(), id)
	if err != nil {
		t.Fatalf("get log: %v", err)
	}
	return log.Status
}

func TestParseIndices(t *testing.T) {
	tests := []struct {
		input string
		want  []int
	}{
		{"1 2 3", []int{1, 2, 3}},
		{"1,2,3", []int{1, 2, 3}},
		{" 3 , 2 , 1 ", []int{3, 2, 1}},
		{"", nil},
		{"0,1", nil},
		{"-1", nil},
		{"1,a", nil},
	}

	for _, tt := range tests {
		if got := parseIndices(tt.input); !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("parseIndices(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestDetermineIntent(t *testing.T) {
	tests := []struct {
		input string
		want  intent
		rest  string
	}{
		{"Taken", intentTaken, ""},
		{"took 1,2", intentTaken, "1,2"},
		{"SKIP", intentSkip, ""},
		{"schedule", intentSchedule, ""},
		{"can you list my reminders", intentSchedule, ""},
		{"help", intentHelp, ""},
		{"help me find my glasses", intentChat, ""},
		{"I took a walk", intentChat, ""},
	}

	for _, tt := range tests {
		got, rest := determineIntent(tt.input)
		if got != tt.want || rest != tt.rest {
			t.Fatalf("determineIntent(%q) = (%v, %q), want (%v, %q)", tt.input, got, rest, tt.want, tt.rest)
		}
	}
}

func TestChannelFor(t *testing.T) {
	if got := channelFor("whatsapp:+15550001"); got != "whatsapp:+15550001" {
		t.Fatalf("whatsapp channel = %q", got)
	}
	if got := channelFor("+15550001"); got != "sms:+15550001" {
		t.Fatalf("sms channel = %q", got)
	}
}

func TestTakenSingleDose(t *testing.T) {
	f := newFixture(t)
	log := f.dueDose(t, "Aspirin", "81mg", now.Add(-30*time.Minute))

	reply := f.send(t, f.patient.ContactChannel, "Taken")

	if !strings.Contains(reply, "recorded your Aspirin (81mg) as taken") {
		t.Fatalf("unexpected reply %q", reply)
	}
	if got := f.status(t, log.ID); got != model.LogTaken {
		t.Fatalf("status = %s, want taken", got)
	}
}

func TestRecordedDoseIsNotOfferedAgain(t *testing.T) {
	f := newFixture(t)
	log := f.dueDose(t, "Aspirin", "81mg", now.Add(-30*time.Minute))
	if _, err := f.store.TransitionLog(context.Background(), log.ID, model.LogMissed, now, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}

	reply := f.send(t, f.patient.ContactChannel, "taken")

	if reply != "You have no doses waiting right now." {
		t.Fatalf("unexpected reply %q", reply)
	}
	if got := f.status(t, log.ID); got != model.LogMissed {
		t.Fatalf("status = %s, want missed", got)
	}
}

func TestSkipAsksWhichDose(t *testing.T) {
	f := newFixture(t)
	early := f.dueDose(t, "Aspirin", "81mg", now.Add(-2*time.Hour))
	late := f.dueDose(t, "Metformin", "500mg", now.Add(-time.Hour))

	reply := f.send(t, f.patient.ContactChannel, "skip")
	if !strings.Contains(reply, "1. Metformin (500mg) at 08:00") || !strings.Contains(reply, "2. Aspirin (81mg) at 07:00") {
		t.Fatalf("unexpected question %q", reply)
	}

	reply = f.send(t, f.patient.ContactChannel, "7")
	if !strings.Contains(reply, "no dose number 7") {
		t.Fatalf("unexpected reply %q", reply)
	}

	reply = f.send(t, f.patient.ContactChannel, "2")
	if !strings.Contains(reply, "marked your Aspirin (81mg) as skipped") {
		t.Fatalf("unexpected reply %q", reply)
	}
	if got := f.status(t, early.ID); got != model.LogSkipped {
		t.Fatalf("early status = %s, want skipped", got)
	}
	if got := f.status(t, late.ID); got != model.LogPending {
		t.Fatalf("late status = %s, want pending", got)
	}
}

func TestTakenWithInlineIndices(t *testing.T) {
	f := newFixture(t)
	first := f.dueDose(t, "Aspirin", "81mg", now.Add(-2*time.Hour))
	second := f.dueDose(t, "Metformin", "500mg", now.Add(-time.Hour))

	f.send(t, f.patient.ContactChannel, "took 1,2")

	for _, id := range []uint{first.ID, second.ID} {
		if got := f.status(t, id); got != model.LogTaken {
			t.Fatalf("log %d status = %s, want taken", id, got)
		}
	}
}

func TestCancelClearsChoice(t *testing.T) {
	f := newFixture(t)
	f.dueDose(t, "Aspirin", "81mg", now.Add(-2*time.Hour))
	f.dueDose(t, "Metformin", "500mg", now.Add(-time.Hour))

	f.send(t, f.patient.ContactChannel, "taken")
	if reply := f.send(t, f.patient.ContactChannel, "cancel"); !strings.Contains(reply, "haven't changed anything") {
		t.Fatalf("unexpected reply %q", reply)
	}
	if f.bot.state.IsAwaitingChoice(channelFor(f.patient.ContactChannel), now) {
		t.Fatal("choice still pending after cancel")
	}
}

func TestScheduleListing(t *testing.T) {
	f := newFixture(t)
	f.dueDose(t, "Aspirin", "81mg", now.Add(-time.Hour))

	reply := f.send(t, f.patient.ContactChannel, "schedule")

	if !strings.HasPrefix(reply, "Here's your medication schedule:") {
		t.Fatalf("unexpected reply %q", reply)
	}
	if !strings.Contains(reply, "- Aspirin (81mg), daily") || !strings.Contains(reply, "Times: 08:00") {
		t.Fatalf("schedule missing medication: %q", reply)
	}
}

func TestUnknownSender(t *testing.T) {
	f := newFixture(t)

	reply := f.send(t, "whatsapp:+19999999999", "hello")

	if !strings.Contains(reply, "don't recognise this number") {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestChatGoesToCompanion(t *testing.T) {
	f := newFixture(t)

	reply := f.send(t, f.patient.ContactChannel, "I had a lovely visit from my grandson")

	if reply != companion.FallbackReply {
		t.Fatalf("reply = %q, want fallback", reply)
	}
	convs, err := f.store.RecentConversations(context.Background(), f.patient.ID, 5)
	if err != nil {
		t.Fatalf("recent conversations: %v", err)
	}
	if len(convs) != 1 || convs[0].Message != "I had a lovely visit from my grandson" {
		t.Fatalf("conversation not stored: %+v", convs)
	}
}

func TestHelpAndEmptyBody(t *testing.T) {
	f := newFixture(t)

	if reply := f.send(t, f.patient.ContactChannel, "help"); reply != helpResponse() {
		t.Fatalf("unexpected help %q", reply)
	}
	if reply := f.send(t, f.patient.ContactChannel, "   "); !strings.Contains(reply, "need a message") {
		t.Fatalf("unexpected reply %q", reply)
	}
}
