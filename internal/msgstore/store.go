// Package msgstore holds the message history of the active conversation.
package msgstore

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/clinichat/internal/bus"
	"github.com/matheus3301/clinichat/internal/chat"
	"github.com/matheus3301/clinichat/internal/media"
	"go.uber.org/zap"
)

// DefaultPageSize is the number of messages fetched per page.
const DefaultPageSize = 50

// Backend is the subset of the conversation API the store needs.
type Backend interface {
	chat.MessagePager
	chat.Sender
}

// Store owns the ordered history of one conversation at a time. Entries are
// kept oldest first.
//
// Every fetch records the generation it was issued under; a result that comes
// back after the active conversation changed is discarded with chat.ErrStale.
type Store struct {
	api      Backend
	bus      *bus.Bus
	logger   *zap.Logger
	pageSize int

	mu      sync.Mutex
	gen     uint64
	jid     string
	msgs    []chat.Message
	ids     map[string]struct{}
	offset  int
	hasMore bool
	loading bool
}

// New creates a store. A pageSize of zero or less selects DefaultPageSize.
func New(api Backend, b *bus.Bus, logger *zap.Logger, pageSize int) *Store {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		api:      api,
		bus:      b,
		logger:   logger,
		pageSize: pageSize,
		ids:      make(map[string]struct{}),
	}
}

// Load makes jid the active conversation and fetches its newest page.
func (s *Store) Load(ctx context.Context, jid string) error {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.jid = jid
	s.msgs = nil
	s.ids = make(map[string]struct{})
	s.offset = 0
	s.hasMore = false
	s.loading = true
	s.mu.Unlock()

	// One extra row tells whether an older page exists.
	page, err := s.api.GetMessages(ctx, jid, s.pageSize+1, 0)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.logger.Debug("discarding stale page", zap.String("jid", jid))
		return chat.ErrStale
	}
	s.loading = false
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("load messages failed", zap.String("jid", jid), zap.Error(err))
		return chat.NewNotice("Could not load messages", err)
	}
	page, more := s.trim(page)
	s.hasMore = more
	s.offset = len(page)

	// Deliveries and sends that landed while the page was in flight are
	// newer than the page and stay at the tail.
	arrived := s.msgs
	s.msgs = nil
	s.ids = make(map[string]struct{})
	for _, m := range oldestFirst(page) {
		if _, dup := s.ids[m.ID]; dup || m.ID == "" {
			continue
		}
		s.ids[m.ID] = struct{}{}
		s.msgs = append(s.msgs, m)
	}
	for _, m := range arrived {
		if m.ID != "" {
			if _, dup := s.ids[m.ID]; dup {
				continue
			}
			s.ids[m.ID] = struct{}{}
		}
		s.msgs = append(s.msgs, m)
	}
	count := len(s.msgs)
	s.mu.Unlock()

	s.logger.Debug("conversation loaded", zap.String("jid", jid), zap.Int("count", count), zap.Bool("has_more", more))
	s.publish("thread.loaded", jid)
	return nil
}

// LoadMore fetches the next older page and prepends it. It does nothing when
// there is nothing older or a load is already running.
func (s *Store) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if s.jid == "" || !s.hasMore || s.loading {
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	gen, jid, offset := s.gen, s.jid, s.offset
	s.mu.Unlock()

	page, err := s.api.GetMessages(ctx, jid, s.pageSize+1, offset)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return chat.ErrStale
	}
	s.loading = false
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("load older messages failed", zap.String("jid", jid), zap.Error(err))
		return chat.NewNotice("Could not load older messages", err)
	}
	page, more := s.trim(page)
	s.hasMore = more
	s.offset += len(page)

	older := make([]chat.Message, 0, len(page))
	for _, m := range oldestFirst(page) {
		if _, dup := s.ids[m.ID]; dup || m.ID == "" {
			continue
		}
		s.ids[m.ID] = struct{}{}
		older = append(older, m)
	}
	s.msgs = append(older, s.msgs...)
	sortByTime(s.msgs)
	s.mu.Unlock()

	s.publish("thread.prepended", jid)
	return nil
}

// Send sends text to the active conversation. An optimistic entry is
// appended before the call is made. On success the returned ID is bound to
// that entry so the confirmed message replaces it rather than duplicating
// it. On failure the entry stays in the list marked failed and a
// *chat.Notice is returned.
func (s *Store) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return &chat.Notice{Title: "Nothing to send", Err: chat.ErrEmptyMessage}
	}

	now := time.Now()
	s.mu.Lock()
	if s.jid == "" {
		s.mu.Unlock()
		return &chat.Notice{Title: "No conversation selected", Err: chat.ErrNoConversation}
	}
	local := chat.Message{
		LocalID:    uuid.NewString(),
		ChatJID:    s.jid,
		FromMe:     true,
		Type:       chat.TypeText,
		Content:    chat.Content{Text: text},
		Status:     chat.StatusSent,
		Timestamp:  now,
		ReceivedAt: now,
	}
	s.msgs = append(s.msgs, local)
	gen, jid := s.gen, s.jid
	s.mu.Unlock()
	s.publish("thread.appended", jid)

	id, err := s.api.SendText(ctx, jid, text)

	s.mu.Lock()
	current := gen == s.gen
	if current {
		if err != nil {
			s.markFailed(local.LocalID)
		} else {
			s.bind(local.LocalID, id)
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("send failed", zap.String("jid", jid), zap.Error(err))
		if current {
			s.publish("thread.updated", jid)
		}
		return chat.NewNotice("Message not sent", err)
	}
	s.logger.Debug("message sent", zap.String("jid", jid), zap.String("msg_id", id))
	if current {
		s.publish("thread.updated", jid)
	}
	return nil
}

// SendMedia validates and sends an attachment to the active conversation,
// then reloads the newest page.
func (s *Store) SendMedia(ctx context.Context, f *media.File, kind chat.MessageType, caption string) error {
	if err := media.Validate(f, kind); err != nil {
		return chat.NewNotice("Invalid attachment", err)
	}

	s.mu.Lock()
	gen, jid := s.gen, s.jid
	s.mu.Unlock()
	if jid == "" {
		return &chat.Notice{Title: "No conversation selected", Err: chat.ErrNoConversation}
	}

	out, err := media.Prepare(f, jid, caption)
	if err != nil {
		return chat.NewNotice("Could not read attachment", err)
	}

	var send func(context.Context, chat.OutboundMedia) (string, error)
	switch kind {
	case chat.TypeImage:
		send = s.api.SendImage
	case chat.TypeVideo:
		send = s.api.SendVideo
	case chat.TypeAudio:
		send = s.api.SendAudio
	default:
		send = s.api.SendDocument
	}
	id, err := send(ctx, out)
	if err != nil {
		s.logger.Warn("media send failed", zap.String("jid", jid), zap.String("kind", string(kind)), zap.Error(err))
		return chat.NewNotice("Attachment not sent", err)
	}
	s.logger.Debug("media sent", zap.String("jid", jid), zap.String("msg_id", id))

	s.mu.Lock()
	current := gen == s.gen
	s.mu.Unlock()
	if !current {
		return nil
	}
	if err := s.Load(ctx, jid); err != nil && !errors.Is(err, chat.ErrStale) {
		return err
	}
	return nil
}

// AddMessage appends a newly observed message for the active conversation.
// A message whose ID is already held is dropped, except that it replaces a
// pending optimistic entry bound to the same ID. It reports whether the list
// changed.
func (s *Store) AddMessage(m chat.Message) bool {
	s.mu.Lock()
	if m.ID == "" || m.ChatJID != s.jid {
		s.mu.Unlock()
		return false
	}
	changed := true
	if _, dup := s.ids[m.ID]; dup {
		changed = s.supersede(m)
	} else {
		s.ids[m.ID] = struct{}{}
		s.msgs = append(s.msgs, m)
	}
	jid := s.jid
	s.mu.Unlock()

	if changed {
		s.publish("thread.appended", jid)
	}
	return changed
}

// ApplyStatus advances the delivery status of held messages named by u. A
// status never moves backwards. It reports whether any entry changed.
func (s *Store) ApplyStatus(u chat.StatusUpdate) bool {
	s.mu.Lock()
	if u.ChatJID != s.jid || u.Status.Rank() == 0 {
		s.mu.Unlock()
		return false
	}
	changed := false
	for i := range s.msgs {
		m := &s.msgs[i]
		if m.ID == "" || !slices.Contains(u.IDs, m.ID) || m.Status.Rank() >= u.Status.Rank() {
			continue
		}
		m.Status = u.Status
		changed = true
	}
	jid := s.jid
	s.mu.Unlock()

	if changed {
		s.publish("thread.status", jid)
	}
	return changed
}

// Reset clears the active conversation.
func (s *Store) Reset() {
	s.mu.Lock()
	s.gen++
	s.jid = ""
	s.msgs = nil
	s.ids = make(map[string]struct{})
	s.offset = 0
	s.hasMore = false
	s.loading = false
	s.mu.Unlock()
}

// Active returns the active conversation, or "" when none is selected.
func (s *Store) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jid
}

// Messages returns a copy of the held history, oldest first.
func (s *Store) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.msgs)
}

// HasMore reports whether older messages remain on the server.
func (s *Store) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Offset returns the pagination offset into the server's history.
func (s *Store) Offset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// trim drops the lookahead row and reports whether it was present.
func (s *Store) trim(page []chat.Message) ([]chat.Message, bool) {
	if len(page) > s.pageSize {
		return page[:s.pageSize], true
	}
	return page, false
}

// bind attaches a server ID to an optimistic entry. If the confirmed message
// already arrived, the optimistic entry is dropped instead. Callers hold s.mu.
func (s *Store) bind(localID, id string) {
	i := s.indexLocal(localID)
	if i < 0 || id == "" {
		return
	}
	if _, arrived := s.ids[id]; arrived {
		s.msgs = slices.Delete(s.msgs, i, i+1)
		return
	}
	s.msgs[i].ID = id
	s.ids[id] = struct{}{}
}

// supersede replaces the pending entry bound to m.ID with m. Callers hold s.mu.
func (s *Store) supersede(m chat.Message) bool {
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if s.msgs[i].ID == m.ID && s.msgs[i].Pending() {
			s.msgs[i] = m
			return true
		}
	}
	return false
}

func (s *Store) markFailed(localID string) {
	if i := s.indexLocal(localID); i >= 0 {
		s.msgs[i].Status = chat.StatusFailed
	}
}

func (s *Store) indexLocal(localID string) int {
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if s.msgs[i].LocalID == localID {
			return i
		}
	}
	return -1
}

func (s *Store) publish(kind, jid string) {
	s.bus.Emit(kind, jid)
}

// oldestFirst reverses a newest-first page and orders it by timestamp.
func oldestFirst(page []chat.Message) []chat.Message {
	out := slices.Clone(page)
	slices.Reverse(out)
	sortByTime(out)
	return out
}

func sortByTime(msgs []chat.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}
