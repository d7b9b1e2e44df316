// Package gateway publishes outbound vendor messages to the messaging
// broker. Phone numbers are normalized to E.164 before anything is
// published; an invalid number is a caller error, not a delivery error.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"

	"concierge-go/internal/config"
	"concierge-go/internal/logger"
	"concierge-go/internal/tracing"
)

// Publisher is the slice of the broker client the gateway needs: topology
// declaration plus JSON publishing. Connection lifecycle stays with the
// storage manager.
type Publisher interface {
	PublishJSON(ctx context.Context, exchangeName, routingKey string, data interface{}, persistent bool) error
	EnsureExchange(exchangeName, exchangeType string, durable bool) error
	EnsureQueue(queueName string, durable bool) error
	BindQueue(queueName, exchangeName, routingKey string) error
}

// outboundMessage is the wire shape published to the vendor exchange.
type outboundMessage struct {
	MessageID   string    `json:"message_id"`
	VendorPhone string    `json:"vendor_phone"`
	Body        string    `json:"body"`
	SentAt      time.Time `json:"sent_at"`
}

// Gateway sends messages to vendors over the broker.
type Gateway struct {
	queue          Publisher
	exchange       string
	routingKey     string
	defaultRegion  string
	publishTimeout time.Duration
}

// NewGateway declares the vendor topology and returns a sender.
func NewGateway(queue Publisher, cfg *config.RabbitMQConfig) (*Gateway, error) {
	if err := queue.EnsureExchange(cfg.VendorEventsExchange, "topic", true); err != nil {
		return nil, fmt.Errorf("declare vendor exchange: %w", err)
	}
	if err := queue.EnsureQueue(cfg.VendorReplyQueue, true); err != nil {
		return nil, fmt.Errorf("declare vendor reply queue: %w", err)
	}
	if err := queue.BindQueue(cfg.VendorReplyQueue, cfg.VendorEventsExchange, cfg.VendorReplyRoutingKey); err != nil {
		return nil, fmt.Errorf("bind vendor reply queue: %w", err)
	}

	return &Gateway{
		queue:          queue,
		exchange:       cfg.VendorEventsExchange,
		routingKey:     cfg.VendorOutboundKey,
		defaultRegion:  cfg.DefaultRegion,
		publishTimeout: time.Duration(cfg.PublishTimeoutSeconds) * time.Second,
	}, nil
}

// SendToVendor normalizes the phone number and publishes the message
// persistently. It returns the generated message id so callers can
// correlate replies.
func (g *Gateway) SendToVendor(ctx context.Context, phone, body string) (string, error) {
	normalized, err := NormalizePhone(phone, g.defaultRegion)
	if err != nil {
		return "", err
	}

	msg := outboundMessage{
		MessageID:   uuid.NewString(),
		VendorPhone: normalized,
		Body:        body,
		SentAt:      time.Now().UTC(),
	}

	publishCtx, cancel := context.WithTimeout(ctx, g.publishTimeout)
	defer cancel()

	if err := g.queue.PublishJSON(publishCtx, g.exchange, g.routingKey, msg, true); err != nil {
		return "", fmt.Errorf("publish vendor message: %w", err)
	}

	logger.Info().
		Str("message_id", msg.MessageID).
		Str("vendor_phone", tracing.MaskPII(normalized)).
		Msg("vendor message published")
	return msg.MessageID, nil
}

// NormalizePhone parses a raw phone number against the configured
// default region and returns its E.164 form. Numbers that fail to parse
// or fail validity never reach the broker.
func NormalizePhone(raw, region string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("empty phone number")
	}
	parsed, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", fmt.Errorf("parse phone number %q: %w", raw, err)
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return "", fmt.Errorf("invalid phone number %q", raw)
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}
