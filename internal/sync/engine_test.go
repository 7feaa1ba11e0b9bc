package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/clinichat/internal/bus"
	"github.com/matheus3301/clinichat/internal/chat"
	"github.com/matheus3301/clinichat/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEngineIngestMessagePublishesOnce(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, nil)

	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	msg := &store.Message{
		ChatJID: "chat@s.whatsapp.net", MsgID: "m1", Body: "hello",
		MessageType: "text", Timestamp: 1000,
	}
	if err := e.IngestMessage(msg); err != nil {
		t.Fatal(err)
	}
	if err := e.IngestMessage(msg); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != "message.ingested" {
			t.Errorf("event kind = %q, want message.ingested", evt.Kind)
		}
		m, ok := evt.Payload.(chat.Message)
		if !ok || m.ID != "m1" || m.Content.Text != "hello" || m.Type != chat.TypeText {
			t.Errorf("payload = %#v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message.ingested event")
	}
	select {
	case evt := <-ch:
		t.Errorf("duplicate ingest published %q", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}

	c, err := db.GetChat("chat@s.whatsapp.net")
	if err != nil || c == nil || c.IncomingCount != 1 {
		t.Errorf("chat = %+v, %v", c, err)
	}
}

func TestEngineRejectsMessageWithoutID(t *testing.T) {
	e := NewEngine(testDB(t), bus.New(), nil)
	if err := e.IngestMessage(&store.Message{ChatJID: "chat@s"}); err == nil {
		t.Error("expected error for message without id")
	}
}

func TestEngineHistoryBatchIsQuiet(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, nil)
	msgCh, unsubMsg := b.Subscribe("message.", 10)
	defer unsubMsg()
	syncCh, unsubSync := b.Subscribe("sync.", 10)
	defer unsubSync()

	batch := []*store.Message{
		{ChatJID: "a@s", MsgID: "1", Timestamp: 1000},
		{ChatJID: "a@s", MsgID: "2", Timestamp: 2000},
		{ChatJID: "b@s", MsgID: "3", Timestamp: 3000},
		{ChatJID: "b@s", MsgID: "", Timestamp: 4000},
	}
	if err := e.IngestHistoryBatch(batch); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-syncCh:
		counts := evt.Payload.(map[string]int)
		if counts["messages_count"] != 3 || counts["new_count"] != 3 {
			t.Errorf("counts = %v", counts)
		}
	case <-time.After(time.Second):
		t.Fatal("no sync.history_batch event")
	}
	select {
	case evt := <-msgCh:
		t.Errorf("history published %q", evt.Kind)
	default:
	}

	if v, _ := db.SyncState("history.last_batch_at"); v == "" {
		t.Error("history checkpoint not recorded")
	}
	if stats, _ := db.Stats(); stats.Messages != 3 {
		t.Errorf("message count = %d, want 3", stats.Messages)
	}
}

func TestEngineConsumesBusEvents(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, nil)
	e.Start(context.Background())
	defer e.Stop()

	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Publish(bus.Event{Kind: "wa.chat_meta", Payload: []*store.Chat{{JID: "a@s", Name: "Clinic Front Desk", Pinned: true}}})
	b.Publish(bus.Event{Kind: "wa.message", Payload: &store.Message{ChatJID: "a@s", MsgID: "x1", FromMe: true, Status: "sent", Timestamp: 10}})

	select {
	case evt := <-ch:
		if evt.Kind != "message.ingested" {
			t.Fatalf("kind = %q", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("wa.message not ingested")
	}

	b.Publish(bus.Event{Kind: "wa.receipt", Payload: Receipt{ChatJID: "a@s", MsgIDs: []string{"x1"}, Status: "read"}})
	select {
	case evt := <-ch:
		if evt.Kind != "message.status" {
			t.Fatalf("kind = %q", evt.Kind)
		}
		u, ok := evt.Payload.(chat.StatusUpdate)
		if !ok || u.ChatJID != "a@s" || u.Status != chat.StatusRead || len(u.IDs) != 1 {
			t.Errorf("payload = %#v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("receipt not applied")
	}

	c, _ := db.GetChat("a@s")
	if c.Name != "Clinic Front Desk" || !c.Pinned || c.IncomingCount != 0 {
		t.Errorf("chat = %+v", c)
	}
	m, _ := db.GetMessage("a@s", "x1")
	if m.Status != "read" {
		t.Errorf("status = %q", m.Status)
	}
}
