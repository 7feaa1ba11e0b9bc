package store

import (
	"time"

	"github.com/matheus3301/clinichat/internal/chat"
)

// Chat converts the cached row to the domain message.
func (m *Message) Chat() chat.Message {
	return chat.Message{
		ID:         m.MsgID,
		ChatJID:    m.ChatJID,
		SenderJID:  m.SenderJID,
		SenderName: m.SenderName,
		FromMe:     m.FromMe,
		Type:       chat.MessageType(m.MessageType),
		Content: chat.Content{
			Text:        m.Body,
			Caption:     m.Caption,
			MediaURL:    m.MediaURL,
			MimeType:    m.MimeType,
			FileName:    m.FileName,
			Latitude:    m.Latitude,
			Longitude:   m.Longitude,
			ContactName: m.ContactName,
			VCard:       m.VCard,
		},
		Status:     chat.DeliveryStatus(m.Status),
		Timestamp:  time.UnixMilli(m.Timestamp),
		ReceivedAt: time.UnixMilli(m.ReceivedAt),
	}
}

// Summary converts the cached chat to a list snapshot row.
func (c *Chat) Summary() chat.ConversationSummary {
	s := chat.ConversationSummary{
		JID:           c.JID,
		Name:          c.Name,
		AvatarURL:     c.AvatarURL,
		IncomingCount: c.IncomingCount,
		Pinned:        c.Pinned,
		Archived:      c.Archived,
		Muted:         c.Muted,
	}
	if c.LastMessage != nil {
		m := c.LastMessage.Chat()
		s.LastMessage = &m
	}
	return s
}
