package wa

import (
	"errors"
	"testing"

	"go.mau.fi/whatsmeow"
)

func TestAuthEventFor(t *testing.T) {
	tests := []struct {
		name     string
		item     whatsmeow.QRChannelItem
		wantType AuthEventType
		wantKind string
		wantDone bool
	}{
		{"code", whatsmeow.QRChannelItem{Event: "code", Code: "2@abc"}, AuthEventQRCode, "auth.qr_generated", false},
		{"success", whatsmeow.QRChannelItem{Event: "success"}, AuthEventAuthenticated, "auth.authenticated", true},
		{"timeout", whatsmeow.QRChannelItem{Event: "timeout"}, AuthEventTimeout, "auth.failed", true},
		{"error", whatsmeow.QRChannelItem{Event: "error", Error: errors.New("boom")}, AuthEventAuthFailed, "auth.failed", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, done := authEventFor(tt.item)
			if evt == nil {
				t.Fatal("authEventFor() = nil")
			}
			if evt.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", evt.Type, tt.wantType)
			}
			if evt.busKind() != tt.wantKind {
				t.Errorf("busKind() = %q, want %q", evt.busKind(), tt.wantKind)
			}
			if done != tt.wantDone {
				t.Errorf("done = %v, want %v", done, tt.wantDone)
			}
		})
	}

	if evt, _ := authEventFor(whatsmeow.QRChannelItem{Event: "unknown"}); evt != nil {
		t.Errorf("unknown item produced %+v", evt)
	}
}
