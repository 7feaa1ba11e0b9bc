package status

import (
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/clinichat/internal/bus"
)

func TestLinkPaths(t *testing.T) {
	tests := []struct {
		name  string
		path  []State
		valid bool
	}{
		{"first pairing", []State{AuthRequired, Connecting, Syncing, Ready}, true},
		{"stored credentials", []State{Connecting, Syncing, Ready}, true},
		{"reconnect after drop", []State{Connecting, Syncing, Ready, Reconnecting, Connecting, Syncing, Ready}, true},
		{"logout while ready", []State{Connecting, Syncing, Ready, AuthRequired}, true},
		{"degraded recovers", []State{Connecting, Syncing, Degraded, Ready}, true},
		{"error restarts boot", []State{Error, Booting, Connecting}, true},
		{"ready before connecting", []State{Ready}, false},
		{"pairing skips connecting", []State{AuthRequired, Syncing}, false},
		{"self loop", []State{Connecting, Connecting}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(nil)
			var err error
			for _, s := range tt.path {
				prev := m.Current()
				if err = m.Transition(s); err != nil {
					if m.Current() != prev {
						t.Errorf("rejected transition moved state %s -> %s", prev, m.Current())
					}
					break
				}
			}
			if tt.valid && err != nil {
				t.Fatalf("path %v: %v", tt.path, err)
			}
			if !tt.valid && err == nil {
				t.Fatalf("path %v accepted", tt.path)
			}
			if tt.valid && m.Current() != tt.path[len(tt.path)-1] {
				t.Errorf("state = %s, want %s", m.Current(), tt.path[len(tt.path)-1])
			}
		})
	}
}

func TestNewMachineStartsBooting(t *testing.T) {
	if got := NewMachine(nil).Current(); got != Booting {
		t.Errorf("Current() = %s, want BOOTING", got)
	}
}

func TestTransitionPublishesChange(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("link.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(AuthRequired); err != nil {
		t.Fatal(err)
	}
	_ = m.Transition(Ready) // rejected, must not publish

	select {
	case evt := <-ch:
		if evt.Kind != "link.status_changed" {
			t.Errorf("kind = %q", evt.Kind)
		}
		change, ok := evt.Payload.(StatusChange)
		if !ok {
			t.Fatalf("payload = %T", evt.Payload)
		}
		if change.From != Booting || change.To != AuthRequired || change.At.IsZero() {
			t.Errorf("change = %+v", change)
		}
	case <-time.After(time.Second):
		t.Fatal("no status event")
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected event %+v", evt)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCustomTable(t *testing.T) {
	const (
		off State = "OFF"
		on  State = "ON"
	)
	b := bus.New()
	ch, unsub := b.Subscribe("lamp.", 10)
	defer unsub()

	m := New(off, Table{off: {on}, on: {off}}, "lamp.changed", b)
	if err := m.Transition(off); err == nil {
		t.Error("OFF -> OFF should fail")
	}
	if err := m.Transition(on); err != nil {
		t.Fatal(err)
	}
	evt := <-ch
	if evt.Kind != "lamp.changed" {
		t.Errorf("kind = %q, want lamp.changed", evt.Kind)
	}
	if change := evt.Payload.(StatusChange); change.From != off || change.To != on {
		t.Errorf("change = %+v", change)
	}
}

func TestSinceTracksEntry(t *testing.T) {
	m := NewMachine(nil)
	_, booted := m.Since()

	time.Sleep(5 * time.Millisecond)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}
	state, since := m.Since()
	if state != Connecting {
		t.Errorf("state = %s, want CONNECTING", state)
	}
	if !since.After(booted) {
		t.Errorf("entered %v not after boot %v", since, booted)
	}

	err := m.Transition(Ready)
	var te *TransitionError
	if !errors.As(err, &te) || te.From != Connecting || te.To != Ready {
		t.Errorf("Transition(READY) error = %v", err)
	}
	if _, again := m.Since(); !again.Equal(since) {
		t.Error("rejected transition moved the entry time")
	}
}
