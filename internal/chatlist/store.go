// Package chatlist keeps the tenant's conversation list and derives unread
// counts from per-conversation read cursors.
package chatlist

import (
	"context"
	"sync"

	"github.com/matheus3301/clinichat/internal/bus"
	"github.com/matheus3301/clinichat/internal/chat"
	"github.com/matheus3301/clinichat/internal/jid"
	"go.uber.org/zap"
)

// CursorStore persists read cursors across restarts.
type CursorStore interface {
	ReadCursors() (map[string]int, error)
	SaveReadCursor(jid string, seen int) error
}

// Store owns the in-memory conversation list.
//
// The unread count of a conversation is always derived as
// max(0, incoming - seen), where incoming is the highest inbound count known
// for it and seen is the value of incoming when the user last viewed it.
type Store struct {
	api     chat.ConversationLister
	cursors CursorStore
	bus     *bus.Bus
	logger  *zap.Logger

	mu          sync.Mutex
	order       []string
	convs       map[string]*chat.Conversation
	incoming    map[string]int
	seen        map[string]int
	avatarTried map[string]bool
}

// New creates an empty store that refreshes from api.
func New(api chat.ConversationLister, b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		api:         api,
		bus:         b,
		logger:      logger,
		convs:       make(map[string]*chat.Conversation),
		incoming:    make(map[string]int),
		seen:        make(map[string]int),
		avatarTried: make(map[string]bool),
	}
}

// UseCursorStore loads persisted read cursors and saves future ones to cs.
func (s *Store) UseCursorStore(cs CursorStore) error {
	cursors, err := cs.ReadCursors()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors = cs
	for id, seen := range cursors {
		if seen > s.seen[id] {
			s.seen[id] = seen
		}
	}
	for id := range s.convs {
		s.recompute(id)
	}
	return nil
}

// Refresh fetches the full snapshot and merges it into the list. On failure
// the list is left as it was and a *chat.Notice is returned.
func (s *Store) Refresh(ctx context.Context) error {
	snapshot, err := s.api.ListConversations(ctx)
	if err != nil {
		s.logger.Warn("conversation refresh failed", zap.Error(err))
		return chat.NewNotice("Could not load conversations", err)
	}

	s.mu.Lock()
	order := make([]string, 0, len(snapshot)+len(s.order))
	inSnapshot := make(map[string]bool, len(snapshot))
	for i := range snapshot {
		sum := &snapshot[i]
		if sum.JID == "" || inSnapshot[sum.JID] {
			continue
		}
		inSnapshot[sum.JID] = true
		order = append(order, sum.JID)
		s.mergeSummary(sum)
	}
	// Conversations are never dropped locally; ones the snapshot omits keep
	// their relative order after the snapshot's.
	for _, id := range s.order {
		if !inSnapshot[id] {
			order = append(order, id)
		}
	}
	s.order = order
	s.mu.Unlock()

	s.logger.Debug("conversations refreshed", zap.Int("count", len(snapshot)))
	s.publish("chatlist.refreshed", len(order))
	return nil
}

func (s *Store) mergeSummary(sum *chat.ConversationSummary) {
	next := chat.Conversation{
		JID:         sum.JID,
		DisplayName: sum.Name,
		AvatarURL:   sum.AvatarURL,
		Pinned:      sum.Pinned,
		Archived:    sum.Archived,
		Muted:       sum.Muted,
	}
	if !jid.IsGroup(sum.JID) {
		next.Phone = jid.ToPhone(sum.JID)
	}
	if sum.LastMessage != nil {
		next.LastMessage = jid.Preview(sum.LastMessage)
		next.LastMessageAt = sum.LastMessage.Timestamp
	}

	if cur, ok := s.convs[sum.JID]; ok {
		if next.DisplayName == "" {
			next.DisplayName = cur.DisplayName
		}
		if next.AvatarURL == "" {
			next.AvatarURL = cur.AvatarURL
		}
		// A live delivery may have landed while the snapshot was in flight.
		if cur.LastMessageAt.After(next.LastMessageAt) {
			next.LastMessage = cur.LastMessage
			next.LastMessageAt = cur.LastMessageAt
		}
	}
	s.convs[sum.JID] = &next

	if sum.IncomingCount > s.incoming[sum.JID] {
		s.incoming[sum.JID] = sum.IncomingCount
	}
	s.recompute(sum.JID)
}

// Upsert inserts c at the front of the list, or merges it into the existing
// entry without moving it. Empty fields of c do not overwrite known values
// and the presentation flags of an existing entry are kept.
func (s *Store) Upsert(c chat.Conversation) {
	if c.JID == "" {
		return
	}
	s.mu.Lock()
	cur, ok := s.convs[c.JID]
	if !ok {
		conv := c
		if conv.Phone == "" && !jid.IsGroup(conv.JID) {
			conv.Phone = jid.ToPhone(conv.JID)
		}
		s.convs[c.JID] = &conv
		s.order = append([]string{c.JID}, s.order...)
	} else {
		if c.DisplayName != "" {
			cur.DisplayName = c.DisplayName
		}
		if c.Phone != "" {
			cur.Phone = c.Phone
		}
		if c.AvatarURL != "" {
			cur.AvatarURL = c.AvatarURL
		}
		if !c.LastMessageAt.IsZero() && !c.LastMessageAt.Before(cur.LastMessageAt) {
			cur.LastMessage = c.LastMessage
			cur.LastMessageAt = c.LastMessageAt
		}
	}
	s.recompute(c.JID)
	s.mu.Unlock()

	if !ok {
		s.publish("chatlist.added", c.JID)
	} else {
		s.publish("chatlist.updated", c.JID)
	}
}

// MarkRead retires the read cursor of a conversation to its current incoming
// count. It is idempotent.
func (s *Store) MarkRead(id string) {
	s.mu.Lock()
	seen := s.incoming[id]
	changed := s.seen[id] != seen
	s.seen[id] = seen
	s.recompute(id)
	cursors := s.cursors
	s.mu.Unlock()

	if changed && cursors != nil {
		if err := cursors.SaveReadCursor(id, seen); err != nil {
			s.logger.Warn("failed to persist read cursor", zap.String("jid", id), zap.Error(err))
		}
	}
	s.publish("chatlist.updated", id)
}

// IncrementUnread records one new inbound message for a conversation that is
// not currently being viewed. Unknown conversations are created at the front.
func (s *Store) IncrementUnread(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	_, known := s.convs[id]
	if !known {
		conv := &chat.Conversation{JID: id}
		if !jid.IsGroup(id) {
			conv.Phone = jid.ToPhone(id)
		}
		s.convs[id] = conv
		s.order = append([]string{id}, s.order...)
	}
	s.incoming[id]++
	s.recompute(id)
	s.mu.Unlock()

	if !known {
		s.publish("chatlist.added", id)
	} else {
		s.publish("chatlist.updated", id)
	}
}

// ApplyMessage updates the last-message summary of the message's
// conversation if m is newer than what is shown.
func (s *Store) ApplyMessage(m *chat.Message) {
	if m == nil || m.ChatJID == "" {
		return
	}
	s.Upsert(chat.Conversation{
		JID:           m.ChatJID,
		LastMessage:   jid.Preview(m),
		LastMessageAt: m.Timestamp,
	})
}

// SetDisplayName sets a locally known name for a conversation.
func (s *Store) SetDisplayName(id, name string) {
	s.Upsert(chat.Conversation{JID: id, DisplayName: name})
}

// EnrichAvatars looks up profile pictures for conversations that have none.
// Lookups are best effort. A conversation is not asked again once the
// resolver has answered for it; failed lookups are retried on the next call.
func (s *Store) EnrichAvatars(ctx context.Context, resolver chat.AvatarResolver) {
	s.mu.Lock()
	var pending []chat.Conversation
	for _, id := range s.order {
		c := s.convs[id]
		if c.AvatarURL != "" || c.Phone == "" || s.avatarTried[id] {
			continue
		}
		s.avatarTried[id] = true
		pending = append(pending, *c)
	}
	s.mu.Unlock()

	for _, c := range pending {
		if ctx.Err() != nil {
			return
		}
		url, err := resolver.GetContactAvatar(ctx, c.Phone)
		if err != nil {
			s.logger.Debug("avatar lookup failed", zap.String("jid", c.JID), zap.Error(err))
			s.mu.Lock()
			delete(s.avatarTried, c.JID)
			s.mu.Unlock()
			continue
		}
		if url == "" {
			continue
		}
		s.Upsert(chat.Conversation{JID: c.JID, AvatarURL: url})
	}
}

// Snapshot returns a copy of the list in display order.
func (s *Store) Snapshot() []chat.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.convs[id])
	}
	return out
}

// Get returns a copy of one conversation.
func (s *Store) Get(id string) (chat.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return chat.Conversation{}, false
	}
	return *c, true
}

// Counters returns the known incoming count and the read cursor of a
// conversation.
func (s *Store) Counters(id string) (incoming, seen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incoming[id], s.seen[id]
}

// recompute derives the unread count. Callers hold s.mu.
func (s *Store) recompute(id string) {
	c, ok := s.convs[id]
	if !ok {
		return
	}
	c.UnreadCount = max(0, s.incoming[id]-s.seen[id])
}

func (s *Store) publish(kind string, payload any) {
	s.bus.Emit(kind, payload)
}
