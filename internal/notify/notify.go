// Package notify delivers text notifications to channel references of the form
// "scheme:address", for example "whatsapp:+15550001111" or "telegram:123456".
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pathakanu/carely/internal/apperr"
	"go.uber.org/zap"
)

// Result reports the outcome of one delivery attempt.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Sender delivers a message to a channel. Implementations never panic and report failures
// through Result instead of an error.
type Sender interface {
	Send(ctx context.Context, channel, text string) Result
}

// Transport delivers to the address part of a channel reference.
type Transport interface {
	Deliver(ctx context.Context, address, text string) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, address, text string) error

// Deliver calls f.
func (f TransportFunc) Deliver(ctx context.Context, address, text string) error {
	return f(ctx, address, text)
}

// Router dispatches notifications to the transport registered for the channel scheme.
type Router struct {
	mu         sync.RWMutex
	transports map[string]Transport
	logger     *zap.Logger
}

// NewRouter returns a Router without transports.
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{transports: make(map[string]Transport), logger: logger}
}

// Register binds scheme to t, replacing any previous binding.
func (r *Router) Register(scheme string, t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[strings.ToLower(scheme)] = t
}

// Schemes lists the registered schemes.
func (r *Router) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemes := make([]string, 0, len(r.transports))
	for scheme := range r.transports {
		schemes = append(schemes, scheme)
	}
	return schemes
}

// Send implements Sender.
func (r *Router) Send(ctx context.Context, channel, text string) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = failure(channel, fmt.Errorf("transport panic: %v", p))
			r.logger.Error("notify: transport panicked", zap.String("channel", channel), zap.Any("panic", p))
		}
	}()

	scheme, address, err := ParseChannel(channel)
	if err != nil {
		return failure(channel, err)
	}

	r.mu.RLock()
	transport, ok := r.transports[scheme]
	r.mu.RUnlock()
	if !ok {
		return failure(channel, fmt.Errorf("no transport configured for %q", scheme))
	}

	if err := transport.Deliver(ctx, address, text); err != nil {
		r.logger.Warn("notify: delivery failed", zap.String("scheme", scheme), zap.Error(err))
		return failure(channel, err)
	}
	r.logger.Debug("notify: delivered", zap.String("scheme", scheme))
	return Result{Success: true}
}

// ParseChannel splits "scheme:address". The scheme is lower-cased.
func ParseChannel(channel string) (scheme, address string, err error) {
	scheme, address, ok := strings.Cut(strings.TrimSpace(channel), ":")
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	address = strings.TrimSpace(address)
	if !ok || scheme == "" || address == "" {
		return "", "", apperr.Validation("malformed channel reference %q", channel)
	}
	return scheme, address, nil
}

func failure(channel string, err error) Result {
	return Result{Success: false, Error: fmt.Errorf("%s: %w: %w", channel, apperr.ErrNotificationDelivery, err).Error()}
}
