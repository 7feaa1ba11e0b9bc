package sync

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/matheus3301/clinichat/internal/bus"
	"github.com/matheus3301/clinichat/internal/chat"
	"github.com/matheus3301/clinichat/internal/store"
	"go.uber.org/zap"
)

// Receipt reports a delivery status change for messages of one chat.
type Receipt struct {
	ChatJID string
	MsgIDs  []string
	Status  string
}

// Engine handles idempotent ingestion of backend events into the store.
// It subscribes to "wa.*" events on the bus and publishes
// "message.ingested" with a chat.Message payload for every new message.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to inbound WhatsApp events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.bus.Subscribe("wa.", 256)

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the event loop to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case "wa.message":
		msg, ok := evt.Payload.(*store.Message)
		if !ok {
			return
		}
		if err := e.IngestMessage(msg); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("msg_id", msg.MsgID))
		}
	case "wa.history_batch":
		msgs, ok := evt.Payload.([]*store.Message)
		if !ok {
			return
		}
		if err := e.IngestHistoryBatch(msgs); err != nil {
			e.logger.Error("failed to ingest history batch", zap.Error(err), zap.Int("count", len(msgs)))
		}
	case "wa.chat_meta":
		chats, ok := evt.Payload.([]*store.Chat)
		if !ok {
			return
		}
		for _, c := range chats {
			if err := e.db.UpsertChatMeta(c); err != nil {
				e.logger.Warn("failed to store chat metadata", zap.String("jid", c.JID), zap.Error(err))
			}
		}
	case "wa.contacts":
		contacts, ok := evt.Payload.([]store.Contact)
		if !ok {
			return
		}
		if err := e.db.UpsertContacts(contacts...); err != nil {
			e.logger.Warn("failed to store contacts", zap.Error(err))
		}
	case "wa.receipt":
		r, ok := evt.Payload.(Receipt)
		if !ok {
			return
		}
		if err := e.ApplyReceipt(r); err != nil {
			e.logger.Warn("failed to apply receipt", zap.String("chat_jid", r.ChatJID), zap.Error(err))
		}
	}
}

// IngestMessage processes a single message into the store (idempotent).
func (e *Engine) IngestMessage(msg *store.Message) error {
	if msg.MsgID == "" || msg.ChatJID == "" {
		return fmt.Errorf("message without id or chat")
	}
	inserted, err := e.db.IngestMessage(msg)
	if err != nil {
		return fmt.Errorf("ingest message: %w", err)
	}
	if inserted {
		e.publishIngested(msg)
	}
	return nil
}

// IngestHistoryBatch processes a batch of history messages in a transaction.
// History is not announced as new messages.
func (e *Engine) IngestHistoryBatch(msgs []*store.Message) error {
	valid := msgs[:0:0]
	for _, m := range msgs {
		if m.MsgID != "" && m.ChatJID != "" {
			valid = append(valid, m)
		}
	}
	n, err := e.db.IngestBatch(valid)
	if err != nil {
		return fmt.Errorf("ingest batch: %w", err)
	}
	now := time.Now()
	if err := e.db.SetSyncState("history.last_batch_at", strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		e.logger.Warn("failed to record history checkpoint", zap.Error(err))
	}
	e.logger.Info("history batch ingested", zap.Int("messages", len(valid)), zap.Int("new", n))

	e.bus.Publish(bus.Event{
		Kind:      "sync.history_batch",
		Timestamp: now,
		Payload: map[string]int{
			"messages_count": len(valid),
			"new_count":      n,
		},
	})
	return nil
}

// ApplyReceipt records delivery or read receipts and announces them as
// "message.status" with a chat.StatusUpdate payload.
func (e *Engine) ApplyReceipt(r Receipt) error {
	n, err := e.db.UpdateMessageStatus(r.ChatJID, r.MsgIDs, r.Status)
	if err != nil {
		return err
	}
	if n > 0 {
		e.bus.Emit("message.status", chat.StatusUpdate{
			ChatJID: r.ChatJID,
			IDs:     r.MsgIDs,
			Status:  chat.DeliveryStatus(r.Status),
		})
	}
	return nil
}

func (e *Engine) publishIngested(msg *store.Message) {
	e.bus.Publish(bus.Event{
		Kind:      "message.ingested",
		Timestamp: time.Now(),
		Payload:   msg.Chat(),
	})
}
