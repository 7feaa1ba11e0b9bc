package broker

import (
	"context"
	"sync"

	"github.com/matheus3301/clinichat/internal/chat"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Source consumes one tenant's observed messages from the exchange. Each
// subscription gets its own exclusive, auto-deleted queue. History pages are
// served by the wrapped pager.
type Source struct {
	chat.MessagePager
	conn     *amqp091.Connection
	exchange string
	tenant   string
	logger   *zap.Logger
}

// NewSource creates a source for tenant over an established connection.
func NewSource(conn *amqp091.Connection, exchange, tenant string, pager chat.MessagePager, logger *zap.Logger) *Source {
	return &Source{MessagePager: pager, conn: conn, exchange: exchange, tenant: tenant, logger: logger}
}

// Subscribe streams messages of one conversation.
func (s *Source) Subscribe(ctx context.Context, jid string) (<-chan chat.Message, func(), error) {
	return s.consume(ctx, RoutingKey(s.tenant, jid))
}

// SubscribeAll streams messages of every conversation of the tenant.
func (s *Source) SubscribeAll(ctx context.Context) (<-chan chat.Message, func(), error) {
	return s.consume(ctx, TenantKey(s.tenant))
}

func (s *Source) consume(ctx context.Context, key string) (<-chan chat.Message, func(), error) {
	ch, err := s.conn.Channel()
	if err != nil {
		return nil, nil, err
	}
	if err := declare(ch, s.exchange); err != nil {
		_ = ch.Close()
		return nil, nil, err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, err
	}
	if err := ch.QueueBind(q.Name, key, s.exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, nil, err
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, err
	}

	out := make(chan chat.Message, 64)
	stop := make(chan struct{})
	var once sync.Once

	go func() {
		defer close(out)
		for {
			select {
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				m, err := decode(d, s.tenant)
				if err != nil {
					s.logger.Warn("dropping broker delivery", zap.String("key", d.RoutingKey), zap.Error(err))
					continue
				}
				select {
				case out <- m:
				case <-stop:
					return
				case <-ctx.Done():
					return
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	unsubscribe := func() {
		once.Do(func() {
			close(stop)
			_ = ch.Close()
		})
	}
	return out, unsubscribe, nil
}
