package wa

import (
	"strings"

	"github.com/matheus3301/clinichat/internal/chat"
	"github.com/matheus3301/clinichat/internal/store"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// ParsedMessage is a normalized message ready for ingestion.
type ParsedMessage struct {
	ChatJID     string
	MsgID       string
	SenderJID   string
	SenderName  string
	MessageType chat.MessageType
	Content     chat.Content
	FromMe      bool
	Timestamp   int64
}

// ParseLiveMessage normalizes a live whatsmeow message event.
func ParseLiveMessage(evt *events.Message) *ParsedMessage {
	return ParseMessage(evt.Message, evt.Info)
}

// ParseMessage normalizes a message body and its envelope.
func ParseMessage(msg *waE2E.Message, info types.MessageInfo) *ParsedMessage {
	return &ParsedMessage{
		ChatJID:     info.Chat.ToNonAD().String(),
		MsgID:       info.ID,
		SenderJID:   info.Sender.ToNonAD().String(),
		SenderName:  info.PushName,
		MessageType: detectMessageType(msg),
		Content:     extractContent(msg),
		FromMe:      info.IsFromMe,
		Timestamp:   info.Timestamp.UnixMilli(),
	}
}

// ToStoreMessage converts a ParsedMessage to a store.Message. Outgoing
// messages seen on the wire have at least reached the server.
func (p *ParsedMessage) ToStoreMessage() *store.Message {
	status := chat.StatusDelivered
	if p.FromMe {
		status = chat.StatusSent
	}
	return &store.Message{
		ChatJID:     p.ChatJID,
		MsgID:       p.MsgID,
		SenderJID:   p.SenderJID,
		SenderName:  p.SenderName,
		FromMe:      p.FromMe,
		MessageType: string(p.MessageType),
		Body:        p.Content.Text,
		Caption:     p.Content.Caption,
		MediaURL:    p.Content.MediaURL,
		MimeType:    p.Content.MimeType,
		FileName:    p.Content.FileName,
		Latitude:    p.Content.Latitude,
		Longitude:   p.Content.Longitude,
		ContactName: p.Content.ContactName,
		VCard:       p.Content.VCard,
		Status:      string(status),
		Timestamp:   p.Timestamp,
	}
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return ""
}

func extractContent(msg *waE2E.Message) chat.Content {
	c := chat.Content{Text: extractTextBody(msg)}
	if msg == nil {
		return c
	}
	switch {
	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		c.Caption = img.GetCaption()
		c.MediaURL = img.GetURL()
		c.MimeType = img.GetMimetype()
	case msg.GetVideoMessage() != nil:
		vid := msg.GetVideoMessage()
		c.Caption = vid.GetCaption()
		c.MediaURL = vid.GetURL()
		c.MimeType = vid.GetMimetype()
	case msg.GetAudioMessage() != nil:
		aud := msg.GetAudioMessage()
		c.MediaURL = aud.GetURL()
		c.MimeType = aud.GetMimetype()
	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		c.Caption = doc.GetCaption()
		c.MediaURL = doc.GetURL()
		c.MimeType = doc.GetMimetype()
		c.FileName = doc.GetFileName()
	case msg.GetStickerMessage() != nil:
		st := msg.GetStickerMessage()
		c.MediaURL = st.GetURL()
		c.MimeType = st.GetMimetype()
	case msg.GetLocationMessage() != nil:
		loc := msg.GetLocationMessage()
		c.Latitude = loc.GetDegreesLatitude()
		c.Longitude = loc.GetDegreesLongitude()
		c.Caption = strings.TrimSpace(loc.GetName() + " " + loc.GetAddress())
	case msg.GetContactMessage() != nil:
		ct := msg.GetContactMessage()
		c.ContactName = ct.GetDisplayName()
		c.VCard = ct.GetVcard()
	}
	return c
}

func detectMessageType(msg *waE2E.Message) chat.MessageType {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return chat.TypeText
	case msg.GetImageMessage() != nil:
		return chat.TypeImage
	case msg.GetVideoMessage() != nil:
		return chat.TypeVideo
	case msg.GetAudioMessage() != nil:
		return chat.TypeAudio
	case msg.GetDocumentMessage() != nil:
		return chat.TypeDocument
	case msg.GetStickerMessage() != nil:
		return chat.TypeSticker
	case msg.GetContactMessage() != nil:
		return chat.TypeContact
	case msg.GetLocationMessage() != nil:
		return chat.TypeLocation
	default:
		return "unknown"
	}
}
