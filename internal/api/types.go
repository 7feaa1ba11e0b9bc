package api

import (
	"encoding/json"

	"github.com/matheus3301/clinichat/internal/chat"
)

// Empty is the request or response of calls that carry nothing.
type Empty struct{}

// StatusResponse describes the daemon and its link.
type StatusResponse struct {
	Tenant        string `json:"tenant"`
	Status        string `json:"status"`
	// StatusSinceMs is when the link entered Status, unix milliseconds.
	StatusSinceMs int64  `json:"statusSinceMs"`
	PhoneNumber   string `json:"phoneNumber,omitempty"`
	ChatCount     int64  `json:"chatCount"`
	MessageCount  int64  `json:"messageCount"`
	ContactCount  int64  `json:"contactCount"`
	UptimeMs      int64  `json:"uptimeMs"`
	Active        string `json:"active,omitempty"`
	Feed          string `json:"feed"`
}

// AuthEvent is one step of QR pairing.
type AuthEvent struct {
	Type    string `json:"type"`
	QRCode  string `json:"qrCode,omitempty"`
	Message string `json:"message,omitempty"`
}

// ConversationsRequest lists conversations, optionally refreshing first.
type ConversationsRequest struct {
	Refresh bool `json:"refresh,omitempty"`
}

// ConversationsResponse is the list in display order.
type ConversationsResponse struct {
	Conversations []chat.Conversation `json:"conversations"`
}

// JIDRequest addresses one conversation.
type JIDRequest struct {
	JID string `json:"jid"`
}

// ThreadResponse is the active conversation's loaded messages, oldest first.
type ThreadResponse struct {
	JID      string         `json:"jid"`
	Messages []chat.Message `json:"messages"`
	HasMore  bool           `json:"hasMore"`
}

// SendTextRequest sends text to the active conversation.
type SendTextRequest struct {
	Text string `json:"text"`
}

// SendMediaRequest sends an attachment to the active conversation.
type SendMediaRequest struct {
	Kind     chat.MessageType `json:"kind"`
	FileName string           `json:"fileName"`
	Data     []byte           `json:"data"`
	Caption  string           `json:"caption,omitempty"`
}

// WatchRequest selects the event namespaces to stream. Empty means
// "chatlist." and "thread.".
type WatchRequest struct {
	Prefixes []string `json:"prefixes,omitempty"`
}

// Event is a bus event as seen by clients.
type Event struct {
	ID               string          `json:"id"`
	Tenant           string          `json:"tenant"`
	Kind             string          `json:"kind"`
	OccurredAtUnixMs int64           `json:"occurredAtUnixMs"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}
