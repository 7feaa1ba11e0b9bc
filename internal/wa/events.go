package wa

import (
	"context"
	"time"

	"github.com/matheus3301/clinichat/internal/bus"
	"github.com/matheus3301/clinichat/internal/chat"
	"github.com/matheus3301/clinichat/internal/jid"
	"github.com/matheus3301/clinichat/internal/status"
	"github.com/matheus3301/clinichat/internal/store"
	"github.com/matheus3301/clinichat/internal/sync"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// EventHandler processes whatsmeow events, drives the link state machine,
// and publishes parsed events on the bus. It does not call the sync engine
// directly; the engine subscribes to "wa." independently.
type EventHandler struct {
	bus     *bus.Bus
	machine *status.Machine
	adapter *Adapter
	logger  *zap.Logger
}

// NewEventHandler creates a new event handler. adapter may be nil, in which
// case LID chats are not mapped to phone numbers.
func NewEventHandler(b *bus.Bus, machine *status.Machine, adapter *Adapter, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		bus:     b,
		machine: machine,
		adapter: adapter,
		logger:  logger,
	}
}

// Handle is the main whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.handleMessage(evt)
	case *events.Receipt:
		h.handleReceipt(evt)
	case *events.PushName:
		h.publish("wa.contacts", []store.Contact{{
			JID:      h.resolveJID(evt.JID.String()),
			PushName: evt.NewPushName,
		}})
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		current := h.machine.Current()
		if current == status.AuthRequired || current == status.Reconnecting {
			_ = h.machine.Transition(status.Connecting)
		}
		_ = h.machine.Transition(status.Syncing)
		h.publish("link.connected", nil)
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		_ = h.machine.Transition(status.Reconnecting)
		h.publish("link.disconnected", nil)
	case *events.HistorySync:
		h.handleHistorySync(evt)
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		_ = h.machine.Transition(status.AuthRequired)
		h.publish("link.logged_out", evt.Reason.String())
	}
}

func (h *EventHandler) publish(kind string, payload any) {
	h.bus.Emit(kind, payload)
}

// resolveJID strips the device suffix and maps LIDs to phone JIDs when the
// adapter knows the mapping.
func (h *EventHandler) resolveJID(raw string) string {
	parsed, err := types.ParseJID(raw)
	if err != nil {
		return raw
	}
	parsed = parsed.ToNonAD()
	if h.adapter != nil {
		parsed = h.adapter.ResolveLID(context.Background(), parsed)
	}
	return parsed.String()
}

func (h *EventHandler) handleMessage(evt *events.Message) {
	if h.machine.Current() == status.Syncing {
		_ = h.machine.Transition(status.Ready)
	}

	msg := ParseLiveMessage(evt).ToStoreMessage()
	msg.ChatJID = h.resolveJID(msg.ChatJID)
	msg.SenderJID = h.resolveJID(msg.SenderJID)
	h.publish("wa.message", msg)
}

func (h *EventHandler) handleReceipt(evt *events.Receipt) {
	var st chat.DeliveryStatus
	switch evt.Type {
	case types.ReceiptTypeDelivered:
		st = chat.StatusDelivered
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf, types.ReceiptTypePlayed:
		st = chat.StatusRead
	default:
		return
	}
	ids := make([]string, 0, len(evt.MessageIDs))
	for _, id := range evt.MessageIDs {
		ids = append(ids, string(id))
	}
	h.publish("wa.receipt", sync.Receipt{
		ChatJID: h.resolveJID(evt.Chat.String()),
		MsgIDs:  ids,
		Status:  string(st),
	})
}

func (h *EventHandler) handleHistorySync(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}

	var (
		msgs     []*store.Message
		chats    []*store.Chat
		contacts []store.Contact
	)
	for _, conv := range data.GetConversations() {
		chatJID := h.resolveJID(conv.GetID())
		meta := &store.Chat{
			JID:      chatJID,
			Name:     conv.GetName(),
			IsGroup:  jid.IsGroup(chatJID),
			Pinned:   conv.GetPinned() > 0,
			Archived: conv.GetArchived(),
			Muted:    conv.GetMuteEndTime() > uint64(time.Now().Unix()),
		}
		chats = append(chats, meta)
		if meta.Name != "" && !meta.IsGroup {
			contacts = append(contacts, store.Contact{JID: chatJID, Name: meta.Name})
		}

		for _, hm := range conv.GetMessages() {
			wmsg := hm.GetMessage()
			if wmsg == nil || wmsg.GetMessage() == nil {
				continue
			}
			key := wmsg.GetKey()
			sender := key.GetParticipant()
			if sender == "" && !key.GetFromMe() {
				sender = chatJID
			}
			content := wmsg.GetMessage()
			parsed := &ParsedMessage{
				ChatJID:     chatJID,
				MsgID:       key.GetID(),
				SenderJID:   h.resolveJID(sender),
				SenderName:  wmsg.GetPushName(),
				MessageType: detectMessageType(content),
				Content:     extractContent(content),
				FromMe:      key.GetFromMe(),
				Timestamp:   int64(wmsg.GetMessageTimestamp()) * 1000,
			}
			msgs = append(msgs, parsed.ToStoreMessage())
		}
	}

	if len(chats) > 0 {
		h.publish("wa.chat_meta", chats)
	}
	if len(contacts) > 0 {
		h.publish("wa.contacts", contacts)
	}
	if len(msgs) > 0 {
		h.publish("wa.history_batch", msgs)
	}
}
