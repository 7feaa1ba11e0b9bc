package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/clinichat/internal/bus"
	"github.com/matheus3301/clinichat/internal/chat"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher forwards every "message.ingested" bus event to the exchange.
type Publisher struct {
	conn     *amqp091.Connection
	exchange string
	tenant   string
	logger   *zap.Logger

	mu     sync.Mutex
	ch     *amqp091.Channel
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPublisher declares the exchange and opens a confirm-mode channel.
func NewPublisher(conn *amqp091.Connection, exchange, tenant string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := declare(ch, exchange); err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange, tenant: tenant, logger: logger}, nil
}

// Publish sends one message under its conversation's routing key and waits
// for the broker to confirm it.
func (p *Publisher) Publish(ctx context.Context, m chat.Message) error {
	body, env, err := encode(p.tenant, m)
	if err != nil {
		return err
	}
	p.mu.Lock()
	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, RoutingKey(p.tenant, m.ChatJID), false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Transient,
			MessageId:    env.ID,
			Timestamp:    env.OccurredAt,
			Body:         body,
		},
	)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	return awaitConfirm(ctx, dc, env.ID)
}

type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

func awaitConfirm(ctx context.Context, c confirmation, id string) error {
	acked, err := c.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker nacked message %s", id)
	}
	return nil
}

// Start forwards bus events until Stop. Publish failures are logged; the
// poll fallback of the feed covers lost messages.
func (p *Publisher) Start(ctx context.Context, b *bus.Bus) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	events, unsub := b.Subscribe("message.ingested", 256)

	go func() {
		defer close(p.done)
		defer unsub()
		for {
			select {
			case evt := <-events:
				m, ok := evt.Payload.(chat.Message)
				if !ok {
					continue
				}
				pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				if err := p.Publish(pubCtx, m); err != nil {
					p.logger.Warn("broker publish failed", zap.String("chat_jid", m.ChatJID), zap.Error(err))
				}
				cancel()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops forwarding and closes the channel.
func (p *Publisher) Stop() error {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}
