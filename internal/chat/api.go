package chat

import "context"

// ConversationLister fetches the full conversation snapshot for the tenant.
type ConversationLister interface {
	ListConversations(ctx context.Context) ([]ConversationSummary, error)
}

// MessagePager fetches a page of a conversation's history, newest first.
type MessagePager interface {
	GetMessages(ctx context.Context, jid string, limit, offset int) ([]Message, error)
}

// Sender performs outbound sends and returns the server message ID.
type Sender interface {
	SendText(ctx context.Context, to, text string) (string, error)
	SendImage(ctx context.Context, m OutboundMedia) (string, error)
	SendVideo(ctx context.Context, m OutboundMedia) (string, error)
	SendAudio(ctx context.Context, m OutboundMedia) (string, error)
	SendDocument(ctx context.Context, m OutboundMedia) (string, error)
}

// AvatarResolver looks up a contact's profile picture. An empty URL with a
// nil error means the contact has none.
type AvatarResolver interface {
	GetContactAvatar(ctx context.Context, phone string) (string, error)
}

// API is the conversation/message surface the sync core consumes.
type API interface {
	ConversationLister
	MessagePager
	Sender
	AvatarResolver
}
