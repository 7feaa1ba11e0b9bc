// Package backend serves the conversation API of the sync core from the
// local cache and the WhatsApp link.
package backend

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/matheus3301/clinichat/internal/bus"
	"github.com/matheus3301/clinichat/internal/chat"
	"github.com/matheus3301/clinichat/internal/jid"
	"github.com/matheus3301/clinichat/internal/media"
	"github.com/matheus3301/clinichat/internal/store"
	"github.com/matheus3301/clinichat/internal/wa"
	"go.uber.org/zap"
)

// Messenger is the outbound side of the WhatsApp link.
type Messenger interface {
	SendText(ctx context.Context, jid, text string) (wa.Sent, error)
	SendMedia(ctx context.Context, jid string, up wa.Upload) (wa.Sent, error)
	ProfilePictureURL(ctx context.Context, jid string) (string, error)
}

// Ingester stores messages and announces the new ones as
// "message.ingested".
type Ingester interface {
	IngestMessage(msg *store.Message) error
}

// Backend implements chat.API plus the live subscriptions consumed by the
// realtime feed and the inbox.
type Backend struct {
	db     *store.DB
	link   Messenger
	ingest Ingester
	bus    *bus.Bus
	logger *zap.Logger
}

var _ chat.API = (*Backend)(nil)

// New creates a backend.
func New(db *store.DB, link Messenger, ingest Ingester, b *bus.Bus, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{db: db, link: link, ingest: ingest, bus: b, logger: logger}
}

// ListConversations returns every cached conversation.
func (b *Backend) ListConversations(_ context.Context) ([]chat.ConversationSummary, error) {
	chats, err := b.db.ListChats(0, 0)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	out := make([]chat.ConversationSummary, 0, len(chats))
	for i := range chats {
		out = append(out, chats[i].Summary())
	}
	return out, nil
}

// GetMessages returns a page of history, newest first.
func (b *Backend) GetMessages(_ context.Context, chatJID string, limit, offset int) ([]chat.Message, error) {
	rows, err := b.db.ListMessages(chatJID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]chat.Message, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].Chat())
	}
	return out, nil
}

// SendText sends a text message and records it in the cache.
func (b *Backend) SendText(ctx context.Context, to, text string) (string, error) {
	target, err := jid.FromPhone(to)
	if err != nil {
		return "", err
	}
	sent, err := b.link.SendText(ctx, target, text)
	if err != nil {
		return "", err
	}
	b.record(sent, &store.Message{
		ChatJID:     target,
		MessageType: string(chat.TypeText),
		Body:        text,
	})
	return sent.ID, nil
}

// SendImage sends an image attachment.
func (b *Backend) SendImage(ctx context.Context, m chat.OutboundMedia) (string, error) {
	return b.sendMedia(ctx, chat.TypeImage, m)
}

// SendVideo sends a video attachment.
func (b *Backend) SendVideo(ctx context.Context, m chat.OutboundMedia) (string, error) {
	return b.sendMedia(ctx, chat.TypeVideo, m)
}

// SendAudio sends an audio attachment.
func (b *Backend) SendAudio(ctx context.Context, m chat.OutboundMedia) (string, error) {
	return b.sendMedia(ctx, chat.TypeAudio, m)
}

// SendDocument sends a document attachment.
func (b *Backend) SendDocument(ctx context.Context, m chat.OutboundMedia) (string, error) {
	return b.sendMedia(ctx, chat.TypeDocument, m)
}

func (b *Backend) sendMedia(ctx context.Context, kind chat.MessageType, m chat.OutboundMedia) (string, error) {
	target, err := jid.FromPhone(m.To)
	if err != nil {
		return "", err
	}
	data, err := media.Decode(m)
	if err != nil {
		return "", err
	}
	sent, err := b.link.SendMedia(ctx, target, wa.Upload{
		Kind:     kind,
		Data:     data,
		MimeType: m.MimeType,
		FileName: m.FileName,
		Caption:  m.Caption,
	})
	if err != nil {
		return "", err
	}
	b.record(sent, &store.Message{
		ChatJID:     target,
		MessageType: string(kind),
		Caption:     m.Caption,
		MimeType:    m.MimeType,
		FileName:    m.FileName,
	})
	return sent.ID, nil
}

// record caches an acknowledged outgoing message. A failure here does not
// fail the send; the message returns with the next history sync.
func (b *Backend) record(sent wa.Sent, msg *store.Message) {
	ts := sent.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	msg.MsgID = sent.ID
	msg.FromMe = true
	msg.Status = string(chat.StatusSent)
	msg.Timestamp = ts.UnixMilli()
	if err := b.ingest.IngestMessage(msg); err != nil {
		b.logger.Warn("failed to record sent message", zap.String("msg_id", sent.ID), zap.Error(err))
	}
}

// GetContactAvatar returns the cached avatar of a contact, fetching it from
// WhatsApp on a miss.
func (b *Backend) GetContactAvatar(ctx context.Context, phone string) (string, error) {
	target, err := jid.FromPhone(phone)
	if err != nil {
		return "", err
	}
	if c, err := b.db.GetChat(target); err == nil && c != nil && c.AvatarURL != "" {
		return c.AvatarURL, nil
	}
	url, err := b.link.ProfilePictureURL(ctx, target)
	if err != nil || url == "" {
		return "", err
	}
	if err := b.db.SetAvatarURL(target, url); err != nil {
		b.logger.Warn("failed to cache avatar", zap.String("jid", target), zap.Error(err))
	}
	return url, nil
}

// Subscribe streams newly ingested messages of one conversation.
func (b *Backend) Subscribe(ctx context.Context, chatJID string) (<-chan chat.Message, func(), error) {
	ch, cancel := b.stream(ctx, func(m chat.Message) bool { return m.ChatJID == chatJID })
	return ch, cancel, nil
}

// SubscribeAll streams every newly ingested message.
func (b *Backend) SubscribeAll(ctx context.Context) (<-chan chat.Message, func(), error) {
	ch, cancel := b.stream(ctx, nil)
	return ch, cancel, nil
}

func (b *Backend) stream(ctx context.Context, keep func(chat.Message) bool) (<-chan chat.Message, func()) {
	events, unsub := b.bus.Subscribe("message.ingested", 64)
	out := make(chan chat.Message, 64)
	stop := make(chan struct{})
	var once stdsync.Once

	go func() {
		defer close(out)
		defer unsub()
		for {
			select {
			case evt := <-events:
				m, ok := evt.Payload.(chat.Message)
				if !ok || (keep != nil && !keep(m)) {
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

	return out, func() { once.Do(func() { close(stop) }) }
}
