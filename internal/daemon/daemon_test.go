package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/clinichat/internal/api"
	"github.com/matheus3301/clinichat/internal/backend"
	"github.com/matheus3301/clinichat/internal/bus"
	"github.com/matheus3301/clinichat/internal/client"
	"github.com/matheus3301/clinichat/internal/inbox"
	"github.com/matheus3301/clinichat/internal/lock"
	"github.com/matheus3301/clinichat/internal/realtime"
	"github.com/matheus3301/clinichat/internal/status"
	"github.com/matheus3301/clinichat/internal/store"
	intsync "github.com/matheus3301/clinichat/internal/sync"
	"go.uber.org/zap"
)

const patient = "5585992403672@s.whatsapp.net"

type stack struct {
	db      *store.DB
	bus     *bus.Bus
	machine *status.Machine
	engine  *intsync.Engine
	svc     *api.Service
	client  *client.Client
}

// newStack wires store, engine, backend, inbox and service the way the fx
// module does, minus the WhatsApp link, and serves them on a Unix socket.
func newStack(t *testing.T, tenantName string) *stack {
	t.Helper()
	// Use a short path to avoid macOS 104-char Unix socket limit.
	tmpDir, err := os.MkdirTemp("/tmp", "clinichat-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	lk, err := lock.Acquire(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = lk.Release() })

	db, err := store.Open(filepath.Join(tmpDir, "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	b := bus.New()
	machine := status.NewMachine(b)
	engine := intsync.NewEngine(db, b, logger)
	engine.Start(context.Background())
	t.Cleanup(engine.Stop)

	be := backend.New(db, nil, engine, b, logger)
	in := inbox.New(be, be, be, b, logger, inbox.Options{
		RefreshInterval: time.Hour,
		Feed:            realtime.Options{PollInterval: time.Hour},
	})
	in.Start(context.Background())
	t.Cleanup(in.Stop)

	svc := api.NewService(tenantName, machine, nil, db, in, b)
	socketPath := filepath.Join(tmpDir, "d.sock")
	srv, err := NewServer(Params{TenantName: tenantName, SocketPath: socketPath}, logger, svc)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	t.Cleanup(func() { srv.Stop(context.Background()) })

	c, err := client.New(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })

	return &stack{db: db, bus: b, machine: machine, engine: engine, svc: svc, client: c}
}

func ingest(t *testing.T, e *intsync.Engine, id, text string, ts int64) {
	t.Helper()
	if err := e.IngestMessage(&store.Message{
		ChatJID:     patient,
		MsgID:       id,
		SenderJID:   patient,
		MessageType: "text",
		Body:        text,
		Timestamp:   ts,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestDaemonLifecycle(t *testing.T) {
	s := newStack(t, "test")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := s.client.Status(ctx)
	if err != nil {
		t.Fatalf("Status error = %v", err)
	}
	if resp.Tenant != "test" {
		t.Errorf("tenant = %q, want test", resp.Tenant)
	}
	if resp.Status != string(status.Booting) {
		t.Errorf("status = %v, want BOOTING", resp.Status)
	}

	// Empty cache.
	convs, err := s.client.Conversations(ctx, false)
	if err != nil {
		t.Fatalf("Conversations error = %v", err)
	}
	if len(convs) != 0 {
		t.Errorf("expected 0 conversations, got %d", len(convs))
	}

	// Ingest and refresh.
	ingest(t, s.engine, "m1", "hello doctor", 1000)
	if err := s.db.UpsertChatMeta(&store.Chat{JID: patient, Name: "Maria"}); err != nil {
		t.Fatal(err)
	}
	convs, err = s.client.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh error = %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}
	if convs[0].DisplayName != "Maria" || convs[0].UnreadCount != 1 {
		t.Errorf("conversation = %+v", convs[0])
	}

	thread, err := s.client.Open(ctx, patient)
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	if len(thread.Messages) != 1 || thread.Messages[0].Content.Text != "hello doctor" {
		t.Errorf("thread = %+v", thread.Messages)
	}

	st, err := s.client.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Active != patient || st.ChatCount != 1 || st.MessageCount != 1 {
		t.Errorf("status after open = %+v", st)
	}

	// A live message reaches the open thread through the feed.
	ingest(t, s.engine, "m2", "is 3pm ok?", 2000)
	deadline := time.Now().Add(2 * time.Second)
	for {
		thread, err = s.client.Messages(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(thread.Messages) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("live message not delivered, thread = %+v", thread.Messages)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if thread.Messages[1].ID != "m2" {
		t.Errorf("last message = %+v", thread.Messages[1])
	}
}

// TestStatusTransitionsToAuthRequired verifies the daemon status transitions
// from BOOTING to AUTH_REQUIRED when queried via the gRPC API.
func TestStatusTransitionsToAuthRequired(t *testing.T) {
	s := newStack(t, "test")

	// Simulate what registerLifecycle does when adapter is NOT logged in.
	_ = s.machine.Transition(status.AuthRequired)

	resp, err := s.client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status error = %v", err)
	}
	if resp.Status != string(status.AuthRequired) {
		t.Errorf("status = %v, want AUTH_REQUIRED; daemon must not stay in BOOTING when unauthenticated", resp.Status)
	}
}

// TestStatusReflectsPostAuthTransition verifies that the gRPC status endpoint
// reflects state changes after authentication completes, routed through
// AUTH_REQUIRED→CONNECTING→SYNCING→READY.
func TestStatusReflectsPostAuthTransition(t *testing.T) {
	s := newStack(t, "test")
	_ = s.machine.Transition(status.AuthRequired)

	steps := []status.State{status.Connecting, status.Syncing, status.Ready}
	for _, want := range steps {
		if err := s.machine.Transition(want); err != nil {
			t.Fatalf("Transition(%s) error = %v", want, err)
		}
		resp, err := s.client.Status(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if resp.Status != string(want) {
			t.Errorf("status = %v, want %v", resp.Status, want)
		}
	}
}

// TestNewServerUsesParams verifies the server binds the socket named in
// Params. A bare string param cannot be resolved by fx.
func TestNewServerUsesParams(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "clinichat-fx-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	socketPath := filepath.Join(tmpDir, "d.sock")
	b := bus.New()
	in := inbox.New(backend.New(nil, nil, nil, b, nil), nil, nil, b, nil, inbox.Options{})
	svc := api.NewService("fxtest", status.NewMachine(nil), nil, nil, in, b)

	srv, err := NewServer(Params{TenantName: "fxtest", SocketPath: socketPath}, zap.NewNop(), svc)
	if err != nil {
		t.Fatalf("NewServer() with Params failed: %v", err)
	}

	// Verify socket was created inside the temp dir (not ~/.clinichat).
	info, statErr := os.Stat(socketPath)
	if statErr != nil {
		t.Fatalf("socket not created at %s: %v", socketPath, statErr)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket mode = %v, want 0600", perm)
	}

	srv.Stop(context.Background())
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket not removed on stop: %v", err)
	}
}
