// Package broker carries observed messages over a RabbitMQ topic exchange so
// live feeds can consume them from outside the daemon process.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/clinichat/internal/chat"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Envelope is the wire form of an observed message.
type Envelope struct {
	ID         string       `json:"id"`
	Tenant     string       `json:"tenant"`
	OccurredAt time.Time    `json:"occurredAt"`
	Message    chat.Message `json:"message"`
}

// RoutingKey is the topic a tenant conversation's messages are published
// under. Tenant names never contain dots.
func RoutingKey(tenant, jid string) string {
	return "chat." + tenant + "." + jid
}

// TenantKey binds every conversation of one tenant.
func TenantKey(tenant string) string {
	return "chat." + tenant + ".#"
}

// ErrForeignTenant rejects an envelope published by another tenant.
var ErrForeignTenant = errors.New("envelope from another tenant")

const maxDialDelay = 60 * time.Second

// Dial connects with exponential backoff, giving up after attempts tries or
// when ctx ends.
func Dial(ctx context.Context, url string, attempts int, delay time.Duration, logger *zap.Logger) (*amqp091.Connection, error) {
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp091.Dial(url)
		if err == nil {
			if i > 1 {
				logger.Info("broker connected", zap.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err

		sleep := backoff(delay, i)
		logger.Warn("broker dial failed", zap.Int("attempt", i), zap.Duration("sleep", sleep), zap.Error(err))

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("dial broker after %d attempts: %w", attempts, lastErr)
}

func backoff(delay time.Duration, attempt int) time.Duration {
	sleep := delay << (attempt - 1)
	if sleep <= 0 || sleep > maxDialDelay {
		return maxDialDelay
	}
	return sleep
}

func declare(ch *amqp091.Channel, exchange string) error {
	return ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
}

func encode(tenant string, m chat.Message) ([]byte, Envelope, error) {
	env := Envelope{
		ID:         uuid.NewString(),
		Tenant:     tenant,
		OccurredAt: time.Now().UTC(),
		Message:    m,
	}
	body, err := json.Marshal(env)
	return body, env, err
}

func decode(d amqp091.Delivery, tenant string) (chat.Message, error) {
	if d.ContentType != "" && d.ContentType != "application/json" {
		return chat.Message{}, fmt.Errorf("unexpected content type %q", d.ContentType)
	}
	var env Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		return chat.Message{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Tenant != tenant {
		return chat.Message{}, fmt.Errorf("%w: %q", ErrForeignTenant, env.Tenant)
	}
	if env.Message.ID == "" || env.Message.ChatJID == "" {
		return chat.Message{}, errors.New("envelope without message id or chat")
	}
	return env.Message, nil
}
