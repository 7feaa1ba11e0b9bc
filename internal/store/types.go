package store

// Chat is a cached conversation.
type Chat struct {
	JID           string
	Name          string
	AvatarURL     string
	IsGroup       bool
	Pinned        bool
	Archived      bool
	Muted         bool
	IncomingCount int
	LastMessageAt int64
	LastMessage   *Message
}

// Contact represents a synced contact.
type Contact struct {
	JID      string
	Name     string
	PushName string
}

// Message is a cached message. Timestamps are unix milliseconds.
type Message struct {
	ID          int64
	ChatJID     string
	MsgID       string
	SenderJID   string
	SenderName  string
	FromMe      bool
	MessageType string
	Body        string
	Caption     string
	MediaURL    string
	MimeType    string
	FileName    string
	Latitude    float64
	Longitude   float64
	ContactName string
	VCard       string
	Status      string
	Timestamp   int64
	ReceivedAt  int64
}
