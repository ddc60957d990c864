// Package notifytest provides an in-memory notification sender.
package notifytest

import (
	"context"
	"sync"

	"github.com/pathakanu/carely/internal/notify"
)

// Message is one captured notification.
type Message struct {
	Channel string
	Text    string
}

// Recorder captures every Send. Channels listed in Fail report a failed delivery.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	Fail     map[string]bool
}

var _ notify.Sender = (*Recorder)(nil)

// Send implements notify.Sender.
func (r *Recorder) Send(_ context.Context, channel, text string) notify.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Channel: channel, Text: text})
	if r.Fail[channel] {
		return notify.Result{Success: false, Error: "forced failure"}
	}
	return notify.Result{Success: true}
}

// Messages returns a copy of the captured notifications.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// To returns the notifications sent to channel.
func (r *Recorder) To(channel string) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Channel == channel {
			out = append(out, m)
		}
	}
	return out
}
