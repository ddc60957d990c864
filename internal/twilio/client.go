package twilio

import (
	"context"
	"fmt"
	"strings"

	twilio "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// Client wraps Twilio messaging for the WhatsApp and SMS channels.
type Client struct {
	api          messageCreator
	fromWhatsApp string
	fromSMS      string
	logger       *zap.Logger
}

// New creates a Twilio client bound to the configured sender numbers.
func New(accountSID, authToken, fromWhatsApp, fromSMS string, logger *zap.Logger) *Client {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{Username: accountSID, Password: authToken})
	return newClient(rest.Api, fromWhatsApp, fromSMS, logger)
}

func newClient(api messageCreator, fromWhatsApp, fromSMS string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{api: api, fromWhatsApp: fromWhatsApp, fromSMS: fromSMS, logger: logger}
}

// SendWhatsAppMessage sends a WhatsApp message via Twilio's API.
func (c *Client) SendWhatsAppMessage(to, body string) error {
	sender := normalizeWhatsAppAddress(c.fromWhatsApp)
	if sender == "" {
		return fmt.Errorf("twilio sender WhatsApp number is not configured")
	}
	recipient := normalizeWhatsAppAddress(to)
	if recipient == "" {
		return fmt.Errorf("recipient number missing or invalid")
	}
	return c.send(sender, recipient, body)
}

// SendSMS sends a plain text message.
func (c *Client) SendSMS(to, body string) error {
	sender := normalizePhone(c.fromSMS)
	if sender == "" {
		return fmt.Errorf("twilio sender SMS number is not configured")
	}
	recipient := normalizePhone(to)
	if recipient == "" {
		return fmt.Errorf("recipient number missing or invalid")
	}
	return c.send(sender, recipient, body)
}

func (c *Client) send(from, to, body string) error {
	if c.api == nil {
		return fmt.Errorf("twilio client not initialised")
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetBody(body)

	resp, err := c.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio send message error: %w", err)
	}
	if resp != nil && resp.Sid != nil {
		c.logger.Debug("twilio: message sent", zap.String("sid", *resp.Sid))
	}
	return nil
}

// WhatsApp returns a notification transport for "whatsapp:" channels.
func (c *Client) WhatsApp() Transport {
	return Transport{send: c.SendWhatsAppMessage}
}

// SMS returns a notification transport for "sms:" channels.
func (c *Client) SMS() Transport {
	return Transport{send: c.SendSMS}
}

// Transport adapts one Twilio channel to the notification router.
type Transport struct {
	send func(to, body string) error
}

// Deliver sends text to address. The Twilio SDK has no context support, so ctx is only
// checked before the call.
func (t Transport) Deliver(ctx context.Context, address, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.send(address, text)
}

func normalizeWhatsAppAddress(number string) string {
	trimmed := strings.TrimSpace(number)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "whatsapp:") {
		return trimmed
	}
	return "whatsapp:" + normalizePhone(trimmed)
}

func normalizePhone(number string) string {
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(number), "sms:"))
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "+") {
		return trimmed
	}
	return "+" + trimmed
}
