package chat

import "time"

// MessageType enumerates the message kinds a conversation can hold.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeAudio    MessageType = "audio"
	TypeDocument MessageType = "document"
	TypeSticker  MessageType = "sticker"
	TypeLocation MessageType = "location"
	TypeContact  MessageType = "contact"
)

// DeliveryStatus is the delivery state of a message.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// Rank orders delivery progress. Failed ranks below sent.
func (s DeliveryStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// StatusUpdate reports a receipt for messages of one conversation.
type StatusUpdate struct {
	ChatJID string         `json:"chatJid"`
	IDs     []string       `json:"ids"`
	Status  DeliveryStatus `json:"status"`
}

// Content holds the type-dependent payload of a message. Only the fields
// relevant to the message type are set.
type Content struct {
	Text        string  `json:"text,omitempty"`
	Caption     string  `json:"caption,omitempty"`
	MediaURL    string  `json:"mediaUrl,omitempty"`
	MimeType    string  `json:"mimetype,omitempty"`
	FileName    string  `json:"filename,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
	ContactName string  `json:"contactName,omitempty"`
	VCard       string  `json:"vcard,omitempty"`
}

// Message is one entry of a conversation history.
//
// ID is the server-assigned stable identifier used for de-duplication.
// LocalID is only set on optimistic entries created by the send path and is
// never used as an ID.
type Message struct {
	LocalID    string         `json:"localId,omitempty"`
	ID         string         `json:"id,omitempty"`
	ChatJID    string         `json:"chatJid"`
	SenderJID  string         `json:"senderJid,omitempty"`
	SenderName string         `json:"senderName,omitempty"`
	FromMe     bool           `json:"fromMe"`
	Type       MessageType    `json:"type"`
	Content    Content        `json:"content"`
	Status     DeliveryStatus `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
	ReceivedAt time.Time      `json:"receivedAt"`
}

// Pending reports whether the message is an optimistic entry that has not
// yet been matched to a confirmed message.
func (m *Message) Pending() bool {
	return m.LocalID != ""
}

// Conversation is one entry of the tenant's conversation list.
type Conversation struct {
	JID           string    `json:"jid"`
	DisplayName   string    `json:"displayName,omitempty"`
	Phone         string    `json:"phone"`
	AvatarURL     string    `json:"profilePictureUrl,omitempty"`
	LastMessage   string    `json:"lastMessage,omitempty"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	UnreadCount   int       `json:"unreadCount"`
	Pinned        bool      `json:"pinned"`
	Archived      bool      `json:"archived"`
	Muted         bool      `json:"muted"`
}

// ConversationSummary is one row of a list snapshot as reported by the
// backend. IncomingCount is the total number of inbound messages the backend
// has seen for the conversation.
type ConversationSummary struct {
	JID           string   `json:"jid"`
	Name          string   `json:"name,omitempty"`
	AvatarURL     string   `json:"profilePictureUrl,omitempty"`
	LastMessage   *Message `json:"lastMessage,omitempty"`
	IncomingCount int      `json:"incomingCount"`
	Pinned        bool     `json:"pinned"`
	Archived      bool     `json:"archived"`
	Muted         bool     `json:"muted"`
}

// OutboundMedia is an attachment ready to hand to a media send call.
type OutboundMedia struct {
	To       string `json:"to"`
	Base64   string `json:"base64"`
	MimeType string `json:"mimetype"`
	FileName string `json:"filename"`
	Caption  string `json:"caption,omitempty"`
}
