// Package inbox ties the conversation list, the active thread and the
// realtime feed together.
package inbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/clinichat/internal/bus"
	"github.com/matheus3301/clinichat/internal/chat"
	"github.com/matheus3301/clinichat/internal/chatlist"
	"github.com/matheus3301/clinichat/internal/media"
	"github.com/matheus3301/clinichat/internal/msgstore"
	"github.com/matheus3301/clinichat/internal/realtime"
	"github.com/matheus3301/clinichat/internal/status"
	"go.uber.org/zap"
)

// Watcher streams every new message of the tenant, across conversations.
type Watcher interface {
	SubscribeAll(ctx context.Context) (<-chan chat.Message, func(), error)
}

// Options configures an Inbox. Zero values select defaults.
type Options struct {
	PageSize        int
	RefreshInterval time.Duration
	Feed            realtime.Options
}

const defaultRefreshInterval = 30 * time.Second

// Inbox is the single entry point for user actions on conversations.
type Inbox struct {
	api     chat.API
	watcher Watcher
	list    *chatlist.Store
	thread  *msgstore.Store
	feed    *realtime.Feed
	bus     *bus.Bus
	logger  *zap.Logger
	opts    Options

	// mu serializes selection changes.
	mu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an inbox. src feeds the active conversation; watcher, if
// non-nil, reports activity in the others.
func New(api chat.API, src realtime.Source, watcher Watcher, b *bus.Bus, logger *zap.Logger, opts Options) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = defaultRefreshInterval
	}
	in := &Inbox{
		api:     api,
		watcher: watcher,
		bus:     b,
		logger:  logger,
		opts:    opts,
		list:    chatlist.New(api, b, logger.Named("chatlist")),
		thread:  msgstore.New(api, b, logger.Named("thread"), opts.PageSize),
	}
	in.feed = realtime.New(src, in.onActive, opts.Feed, b, logger.Named("feed"))
	return in
}

// List exposes the conversation list store.
func (in *Inbox) List() *chatlist.Store {
	return in.list
}

// Start performs the first refresh and starts the background refresh and
// tenant-wide watch loops.
func (in *Inbox) Start(ctx context.Context) {
	ctx, in.cancel = context.WithCancel(ctx)

	if err := in.list.Refresh(ctx); err != nil {
		in.logger.Warn("initial refresh failed", zap.Error(err))
	}

	in.wg.Add(1)
	go in.refreshLoop(ctx)

	if in.bus != nil {
		receipts, unsub := in.bus.Subscribe("message.status", 64)
		in.wg.Add(1)
		go in.statusLoop(ctx, receipts, unsub)
	}

	if in.watcher != nil {
		ch, unsub, err := in.watcher.SubscribeAll(ctx)
		if err != nil {
			in.logger.Warn("tenant watch unavailable", zap.Error(err))
			return
		}
		in.wg.Add(1)
		go in.watchLoop(ctx, ch, unsub)
	}
}

// Stop detaches the feed and stops background loops.
func (in *Inbox) Stop() {
	if in.cancel != nil {
		in.cancel()
	}
	in.feed.Detach()
	in.wg.Wait()
}

// Refresh reloads the conversation list.
func (in *Inbox) Refresh(ctx context.Context) error {
	return in.list.Refresh(ctx)
}

// Conversations returns the list in display order.
func (in *Inbox) Conversations() []chat.Conversation {
	return in.list.Snapshot()
}

// MarkRead clears the unread count of a conversation.
func (in *Inbox) MarkRead(jid string) {
	in.list.MarkRead(jid)
}

// Open selects a conversation: marks it read, attaches the feed to it and
// loads its newest page. The feed is seeded before the page is fetched, so
// anything newer than the seed is either in the page or delivered live.
func (in *Inbox) Open(ctx context.Context, jid string) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.list.MarkRead(jid)
	if err := in.feed.Attach(ctx, jid); err != nil && !errors.Is(err, chat.ErrStale) {
		in.logger.Warn("feed attach failed", zap.String("jid", jid), zap.Error(err))
	}
	return in.thread.Load(ctx, jid)
}

// Close deselects the active conversation.
func (in *Inbox) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.feed.Detach()
	in.thread.Reset()
}

// Active returns the selected conversation, or "".
func (in *Inbox) Active() string {
	return in.thread.Active()
}

// Messages returns the active conversation's history, oldest first.
func (in *Inbox) Messages() []chat.Message {
	return in.thread.Messages()
}

// HasMore reports whether older messages can be loaded.
func (in *Inbox) HasMore() bool {
	return in.thread.HasMore()
}

// FeedState returns the realtime feed state.
func (in *Inbox) FeedState() status.State {
	return in.feed.State()
}

// LoadMore loads the next older page of the active conversation.
func (in *Inbox) LoadMore(ctx context.Context) error {
	return in.thread.LoadMore(ctx)
}

// Send sends text to the active conversation.
func (in *Inbox) Send(ctx context.Context, text string) error {
	err := in.thread.Send(ctx, text)
	in.syncSummary()
	return err
}

// SendMedia sends an attachment to the active conversation.
func (in *Inbox) SendMedia(ctx context.Context, f *media.File, kind chat.MessageType, caption string) error {
	err := in.thread.SendMedia(ctx, f, kind, caption)
	in.syncSummary()
	return err
}

// onActive receives feed deliveries for the active conversation.
func (in *Inbox) onActive(m chat.Message) {
	if m.ChatJID != in.thread.Active() {
		return
	}
	in.thread.AddMessage(m)
	in.list.ApplyMessage(&m)
	if !m.FromMe {
		// The user is looking at it: count it and retire it at once.
		in.list.IncrementUnread(m.ChatJID)
		in.list.MarkRead(m.ChatJID)
	}
}

// onOther handles a message for a conversation that is not selected.
func (in *Inbox) onOther(m chat.Message) {
	in.list.ApplyMessage(&m)
	if !m.FromMe {
		in.list.IncrementUnread(m.ChatJID)
	}
}

func (in *Inbox) syncSummary() {
	msgs := in.thread.Messages()
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	in.list.ApplyMessage(&last)
}

func (in *Inbox) refreshLoop(ctx context.Context) {
	defer in.wg.Done()
	in.list.EnrichAvatars(ctx, in.api)

	ticker := time.NewTicker(in.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := in.list.Refresh(ctx); err != nil {
				if ctx.Err() == nil {
					in.logger.Warn("periodic refresh failed", zap.Error(err))
				}
				continue
			}
			in.list.EnrichAvatars(ctx, in.api)
		case <-ctx.Done():
			return
		}
	}
}

// statusLoop applies receipts to the open conversation.
func (in *Inbox) statusLoop(ctx context.Context, receipts <-chan bus.Event, unsub func()) {
	defer in.wg.Done()
	defer unsub()
	for {
		select {
		case evt := <-receipts:
			if u, ok := evt.Payload.(chat.StatusUpdate); ok {
				in.thread.ApplyStatus(u)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (in *Inbox) watchLoop(ctx context.Context, ch <-chan chat.Message, unsub func()) {
	defer in.wg.Done()
	defer unsub()
	seen := realtime.NewSeenSet(in.opts.Feed.DedupCapacity)
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return
			}
			if m.ID == "" || !seen.Add(m.ID) {
				continue
			}
			if m.ChatJID == in.thread.Active() {
				// The feed owns the active conversation.
				continue
			}
			in.onOther(m)
		case <-ctx.Done():
			return
		}
	}
}
