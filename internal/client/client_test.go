package client

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/clinichat/internal/api"
	"github.com/matheus3301/clinichat/internal/bus"
	"github.com/matheus3301/clinichat/internal/chat"
	"github.com/matheus3301/clinichat/internal/inbox"
	"github.com/matheus3301/clinichat/internal/realtime"
	"github.com/matheus3301/clinichat/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

const patient = "5585992403672@s.whatsapp.net"

type fakeAPI struct {
	mu      sync.Mutex
	history []chat.Message // oldest first
	sent    []string
}

func (f *fakeAPI) ListConversations(context.Context) ([]chat.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	last := f.history[len(f.history)-1]
	return []chat.ConversationSummary{{JID: patient, Name: "Maria", LastMessage: &last, IncomingCount: 2}}, nil
}

func (f *fakeAPI) GetMessages(_ context.Context, jid string, limit, offset int) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if jid != patient {
		return nil, nil
	}
	var out []chat.Message
	for i := len(f.history) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.history[i])
	}
	return out, nil
}

func (f *fakeAPI) SendText(_ context.Context, _, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return "3EB0SENT", nil
}

func (f *fakeAPI) SendImage(context.Context, chat.OutboundMedia) (string, error)    { return "img", nil }
func (f *fakeAPI) SendVideo(context.Context, chat.OutboundMedia) (string, error)    { return "vid", nil }
func (f *fakeAPI) SendAudio(context.Context, chat.OutboundMedia) (string, error)    { return "aud", nil }
func (f *fakeAPI) SendDocument(context.Context, chat.OutboundMedia) (string, error) { return "doc", nil }

func (f *fakeAPI) GetContactAvatar(context.Context, string) (string, error) { return "", nil }

func (f *fakeAPI) Subscribe(context.Context, string) (<-chan chat.Message, func(), error) {
	return make(chan chat.Message), func() {}, nil
}

func newFakeAPI() *fakeAPI {
	base := time.UnixMilli(1700000000000)
	return &fakeAPI{history: []chat.Message{
		{ID: "m1", ChatJID: patient, Type: chat.TypeText, Content: chat.Content{Text: "hello doctor"}, Timestamp: base},
		{ID: "m2", ChatJID: patient, Type: chat.TypeText, Content: chat.Content{Text: "is 3pm ok?"}, Timestamp: base.Add(time.Minute)},
	}}
}

// serve starts an Inbox service on a Unix socket and returns a connected client.
func serve(t *testing.T) (*Client, *fakeAPI, *bus.Bus) {
	t.Helper()
	// Short path for the Unix socket length limit.
	dir, err := os.MkdirTemp("/tmp", "clinichat-client-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	socketPath := filepath.Join(dir, "d.sock")

	fake := newFakeAPI()
	b := bus.New()
	in := inbox.New(fake, fake, nil, b, zap.NewNop(), inbox.Options{
		RefreshInterval: time.Hour,
		Feed:            realtime.Options{PollInterval: time.Hour},
	})
	in.Start(context.Background())
	t.Cleanup(in.Stop)

	svc := api.NewService("north", status.NewMachine(b), nil, nil, in, b)
	srv := grpc.NewServer()
	api.Register(srv, svc)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Serve(listener) }()
	t.Cleanup(srv.Stop)

	c, err := New(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, fake, b
}

func ctxTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStatus(t *testing.T) {
	c, _, _ := serve(t)
	resp, err := c.Status(ctxTimeout(t))
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if resp.Tenant != "north" {
		t.Errorf("tenant = %q, want north", resp.Tenant)
	}
	if resp.Status != string(status.Booting) {
		t.Errorf("status = %q, want %q", resp.Status, status.Booting)
	}
	if resp.Active != "" {
		t.Errorf("active = %q, want none", resp.Active)
	}
}

func TestConversationsAndOpen(t *testing.T) {
	c, _, _ := serve(t)
	ctx := ctxTimeout(t)

	convs, err := c.Conversations(ctx, false)
	if err != nil {
		t.Fatalf("Conversations() error = %v", err)
	}
	if len(convs) != 1 || convs[0].JID != patient {
		t.Fatalf("conversations = %+v", convs)
	}
	if convs[0].UnreadCount != 2 {
		t.Errorf("unread = %d, want 2", convs[0].UnreadCount)
	}
	if convs[0].LastMessage != "is 3pm ok?" {
		t.Errorf("last message = %q", convs[0].LastMessage)
	}

	thread, err := c.Open(ctx, "+55 85 99240-3672")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if thread.JID != patient {
		t.Errorf("thread jid = %q, want %q", thread.JID, patient)
	}
	if len(thread.Messages) != 2 || thread.Messages[0].ID != "m1" {
		t.Errorf("thread messages = %+v", thread.Messages)
	}

	convs, err = c.Conversations(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if convs[0].UnreadCount != 0 {
		t.Errorf("unread after open = %d, want 0", convs[0].UnreadCount)
	}
}

func TestSendText(t *testing.T) {
	c, fake, _ := serve(t)
	ctx := ctxTimeout(t)

	if _, err := c.Open(ctx, patient); err != nil {
		t.Fatal(err)
	}
	thread, err := c.SendText(ctx, "see you at 3pm")
	if err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	last := thread.Messages[len(thread.Messages)-1]
	if last.ID != "3EB0SENT" || !last.FromMe || last.Content.Text != "see you at 3pm" {
		t.Errorf("last message = %+v", last)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.sent) != 1 {
		t.Errorf("sent = %v, want one send", fake.sent)
	}
}

func TestErrorCodes(t *testing.T) {
	c, _, _ := serve(t)
	ctx := ctxTimeout(t)

	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{"send without conversation", func() error { _, err := c.SendText(ctx, "hi"); return err }, codes.FailedPrecondition},
		{"load more without conversation", func() error { _, err := c.LoadMore(ctx); return err }, codes.FailedPrecondition},
		{"open without jid", func() error { _, err := c.Open(ctx, " "); return err }, codes.InvalidArgument},
		{"open malformed jid", func() error { _, err := c.Open(ctx, "no digits"); return err }, codes.InvalidArgument},
		{"logout without link", func() error { return c.Logout(ctx) }, codes.Unavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if got := grpcstatus.Code(err); got != tt.want {
				t.Errorf("code = %v, want %v (err %v)", got, tt.want, err)
			}
		})
	}

	if _, err := c.Open(ctx, patient); err != nil {
		t.Fatal(err)
	}
	_, err := c.SendText(ctx, "   ")
	if got := grpcstatus.Code(err); got != codes.InvalidArgument {
		t.Errorf("empty send code = %v, want InvalidArgument", got)
	}
}

func TestCloseThread(t *testing.T) {
	c, _, _ := serve(t)
	ctx := ctxTimeout(t)

	if _, err := c.Open(ctx, patient); err != nil {
		t.Fatal(err)
	}
	if err := c.CloseThread(ctx); err != nil {
		t.Fatalf("CloseThread() error = %v", err)
	}
	thread, err := c.Messages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if thread.JID != "" || len(thread.Messages) != 0 {
		t.Errorf("thread after close = %+v", thread)
	}
}

func TestWatch(t *testing.T) {
	c, _, b := serve(t)
	ctx := ctxTimeout(t)

	stream, err := c.Watch(ctx, "chatlist.")
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// The server subscribes after the stream opens; publish until seen.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.Publish(bus.Event{Kind: "chatlist.updated", Timestamp: time.Now(), Payload: patient})
				b.Publish(bus.Event{Kind: "thread.updated", Timestamp: time.Now()})
			case <-done:
				return
			}
		}
	}()

	evt, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if evt.Kind != "chatlist.updated" {
		t.Errorf("kind = %q, want chatlist.updated", evt.Kind)
	}
	if evt.Tenant != "north" || evt.ID == "" {
		t.Errorf("event = %+v", evt)
	}
	if string(evt.Payload) != `"`+patient+`"` {
		t.Errorf("payload = %s", evt.Payload)
	}
}
