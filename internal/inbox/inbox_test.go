package inbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/clinichat/internal/bus"
	"github.com/matheus3301/clinichat/internal/chat"
	"github.com/matheus3301/clinichat/internal/realtime"
	"go.uber.org/zap"
)

const (
	alice = "5511900000001@s.whatsapp.net"
	bob   = "5511900000002@s.whatsapp.net"
	carol = "5511900000003@s.whatsapp.net"
)

type fakeAPI struct {
	mu       sync.Mutex
	list     []chat.ConversationSummary
	history  map[string][]chat.Message // oldest first
	live     chan chat.Message
	all      chan chat.Message
	sentText []string

	// afterFetch runs once, after the first GetMessages call returns.
	afterFetch func()
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		history: make(map[string][]chat.Message),
		live:    make(chan chat.Message, 16),
		all:     make(chan chat.Message, 16),
	}
}

func (f *fakeAPI) ListConversations(context.Context) ([]chat.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.ConversationSummary(nil), f.list...), nil
}

func (f *fakeAPI) GetMessages(_ context.Context, jid string, limit, offset int) ([]chat.Message, error) {
	f.mu.Lock()
	h := f.history[jid]
	var out []chat.Message
	for i := len(h) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, h[i])
	}
	hook := f.afterFetch
	f.afterFetch = nil
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

// arrive records m in the backend history and announces it live.
func (f *fakeAPI) arrive(m chat.Message) {
	f.mu.Lock()
	f.history[m.ChatJID] = append(f.history[m.ChatJID], m)
	f.mu.Unlock()
	f.live <- m
}

func (f *fakeAPI) SendText(_ context.Context, _, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentText = append(f.sentText, text)
	return "3EB0OUT", nil
}

func (f *fakeAPI) SendImage(context.Context, chat.OutboundMedia) (string, error)    { return "img", nil }
func (f *fakeAPI) SendVideo(context.Context, chat.OutboundMedia) (string, error)    { return "vid", nil }
func (f *fakeAPI) SendAudio(context.Context, chat.OutboundMedia) (string, error)    { return "aud", nil }
func (f *fakeAPI) SendDocument(context.Context, chat.OutboundMedia) (string, error) { return "doc", nil }

func (f *fakeAPI) GetContactAvatar(context.Context, string) (string, error) { return "", nil }

func (f *fakeAPI) Subscribe(context.Context, string) (<-chan chat.Message, func(), error) {
	return f.live, func() {}, nil
}

func (f *fakeAPI) SubscribeAll(context.Context) (<-chan chat.Message, func(), error) {
	return f.all, func() {}, nil
}

func inbound(jid, id, text string) chat.Message {
	return chat.Message{ID: id, ChatJID: jid, Type: chat.TypeText, Content: chat.Content{Text: text}, Timestamp: time.Now()}
}

func newInbox(t *testing.T, api *fakeAPI) *Inbox {
	t.Helper()
	in := New(api, api, api, nil, zap.NewNop(), Options{
		RefreshInterval: time.Hour,
		Feed:            realtime.Options{PollInterval: time.Hour},
	})
	in.Start(context.Background())
	t.Cleanup(in.Stop)
	return in
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func unreadOf(in *Inbox, jid string) int {
	c, _ := in.List().Get(jid)
	return c.UnreadCount
}

func TestOpenMarksReadLoadsAndAttaches(t *testing.T) {
	api := newFakeAPI()
	api.list = []chat.ConversationSummary{{JID: alice, IncomingCount: 3}}
	api.history[alice] = []chat.Message{inbound(alice, "a1", "one"), inbound(alice, "a2", "two")}
	in := newInbox(t, api)

	if got := unreadOf(in, alice); got != 3 {
		t.Fatalf("unread before open = %d, want 3", got)
	}
	if err := in.Open(context.Background(), alice); err != nil {
		t.Fatal(err)
	}
	if got := unreadOf(in, alice); got != 0 {
		t.Errorf("unread after open = %d, want 0", got)
	}
	if got := len(in.Messages()); got != 2 {
		t.Errorf("messages = %d, want 2", got)
	}
	if in.FeedState() != realtime.Subscribed {
		t.Errorf("feed state = %s", in.FeedState())
	}

	in.Close()
	if in.FeedState() != realtime.Detached || in.Active() != "" {
		t.Errorf("after close: state %s active %q", in.FeedState(), in.Active())
	}
}

func TestMessageArrivingDuringOpenIsShown(t *testing.T) {
	api := newFakeAPI()
	api.list = []chat.ConversationSummary{{JID: alice, IncomingCount: 1}}
	api.history[alice] = []chat.Message{inbound(alice, "a1", "one")}
	api.afterFetch = func() { api.arrive(inbound(alice, "a2", "two")) }
	in := newInbox(t, api)

	if err := in.Open(context.Background(), alice); err != nil {
		t.Fatal(err)
	}
	eventually(t, "a2 in thread", func() bool {
		for _, m := range in.Messages() {
			if m.ID == "a2" {
				return true
			}
		}
		return false
	})
	if got := len(in.Messages()); got != 2 {
		t.Errorf("messages = %d, want 2", got)
	}
}

func TestReceiptUpdatesOpenConversation(t *testing.T) {
	api := newFakeAPI()
	api.list = []chat.ConversationSummary{{JID: alice}}
	sent := chat.Message{ID: "3EB0R1", ChatJID: alice, FromMe: true, Type: chat.TypeText, Status: chat.StatusSent, Timestamp: time.Now()}
	api.history[alice] = []chat.Message{sent}

	b := bus.New()
	in := New(api, api, api, b, zap.NewNop(), Options{
		RefreshInterval: time.Hour,
		Feed:            realtime.Options{PollInterval: time.Hour},
	})
	in.Start(context.Background())
	t.Cleanup(in.Stop)

	if err := in.Open(context.Background(), alice); err != nil {
		t.Fatal(err)
	}
	b.Emit("message.status", chat.StatusUpdate{ChatJID: alice, IDs: []string{"3EB0R1"}, Status: chat.StatusRead})
	eventually(t, "read status", func() bool {
		msgs := in.Messages()
		return len(msgs) == 1 && msgs[0].Status == chat.StatusRead
	})
}

func TestLiveMessageOnActiveConversation(t *testing.T) {
	api := newFakeAPI()
	api.list = []chat.ConversationSummary{{JID: alice, IncomingCount: 1}}
	in := newInbox(t, api)
	if err := in.Open(context.Background(), alice); err != nil {
		t.Fatal(err)
	}

	api.live <- inbound(alice, "a9", "are you there?")
	eventually(t, "live message in thread", func() bool { return len(in.Messages()) == 1 })

	if got := unreadOf(in, alice); got != 0 {
		t.Errorf("unread on active conversation = %d, want 0", got)
	}
	c, _ := in.List().Get(alice)
	if c.LastMessage != "are you there?" {
		t.Errorf("summary = %q", c.LastMessage)
	}
}

func TestMessageOnOtherConversationCountsUnread(t *testing.T) {
	api := newFakeAPI()
	api.list = []chat.ConversationSummary{{JID: alice}, {JID: bob}}
	in := newInbox(t, api)
	if err := in.Open(context.Background(), alice); err != nil {
		t.Fatal(err)
	}

	m := inbound(bob, "b1", "new results")
	api.all <- m
	api.all <- m
	api.all <- inbound(alice, "a1", "handled by the feed")
	eventually(t, "unread on bob", func() bool { return unreadOf(in, bob) == 1 })

	time.Sleep(30 * time.Millisecond)
	if got := unreadOf(in, bob); got != 1 {
		t.Errorf("duplicate delivery counted twice, unread = %d", got)
	}
	if got := unreadOf(in, alice); got != 0 {
		t.Errorf("alice unread = %d, want 0", got)
	}
	if got := len(in.Messages()); got != 0 {
		t.Errorf("watch leaked %d messages into the active thread", got)
	}
}

func TestUnknownConversationIsAddedAtFront(t *testing.T) {
	api := newFakeAPI()
	api.list = []chat.ConversationSummary{{JID: alice}, {JID: bob}}
	in := newInbox(t, api)

	api.all <- inbound(carol, "c1", "hello, I'd like to book")
	eventually(t, "carol in list", func() bool {
		convs := in.Conversations()
		return len(convs) == 3 && convs[0].JID == carol
	})
	if got := unreadOf(in, carol); got != 1 {
		t.Errorf("carol unread = %d, want 1", got)
	}
}

func TestOwnMessagesDoNotCountUnread(t *testing.T) {
	api := newFakeAPI()
	api.list = []chat.ConversationSummary{{JID: bob}}
	in := newInbox(t, api)

	m := inbound(bob, "b2", "sent from phone")
	m.FromMe = true
	api.all <- m
	eventually(t, "summary update", func() bool {
		c, _ := in.List().Get(bob)
		return c.LastMessage == "sent from phone"
	})
	if got := unreadOf(in, bob); got != 0 {
		t.Errorf("unread = %d, want 0", got)
	}
}

func TestSendUpdatesSummary(t *testing.T) {
	api := newFakeAPI()
	api.list = []chat.ConversationSummary{{JID: alice}}
	in := newInbox(t, api)
	if err := in.Open(context.Background(), alice); err != nil {
		t.Fatal(err)
	}
	if err := in.Send(context.Background(), "confirmed for 10am"); err != nil {
		t.Fatal(err)
	}
	c, _ := in.List().Get(alice)
	if c.LastMessage != "confirmed for 10am" {
		t.Errorf("summary = %q", c.LastMessage)
	}
	if len(api.sentText) != 1 {
		t.Errorf("sent = %v", api.sentText)
	}
}
