package wa

import (
	"context"

	"go.mau.fi/whatsmeow"
)

// AuthEventType enumerates auth event types.
type AuthEventType string

const (
	AuthEventQRCode        AuthEventType = "qr_code"
	AuthEventAuthenticated AuthEventType = "authenticated"
	AuthEventAuthFailed    AuthEventType = "auth_failed"
	AuthEventTimeout       AuthEventType = "timeout"
)

// AuthEvent represents an auth lifecycle event.
type AuthEvent struct {
	Type    AuthEventType `json:"type"`
	QRCode  string        `json:"qrCode,omitempty"`
	Message string        `json:"message,omitempty"`
}

// busKind maps the event to the bus kind announcing it.
func (e AuthEvent) busKind() string {
	switch e.Type {
	case AuthEventQRCode:
		return "auth.qr_generated"
	case AuthEventAuthenticated:
		return "auth.authenticated"
	default:
		return "auth.failed"
	}
}

// StartQRAuth begins the QR pairing flow. Events are streamed on the returned
// channel, which closes once pairing succeeds or fails, and mirrored on the
// bus under "auth.".
func (a *Adapter) StartQRAuth(ctx context.Context) (<-chan AuthEvent, error) {
	qrChan, err := a.GetQRChannel(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan AuthEvent, 10)
	emit := func(evt AuthEvent) {
		out <- evt
		a.bus.Emit(evt.busKind(), evt)
	}

	go func() {
		defer close(out)

		// Connect must be called after GetQRChannel.
		if err := a.Connect(); err != nil {
			emit(AuthEvent{Type: AuthEventAuthFailed, Message: err.Error()})
			return
		}

		for item := range qrChan {
			if evt, done := authEventFor(item); evt != nil {
				emit(*evt)
				if done {
					return
				}
			}
		}
	}()

	return out, nil
}

// authEventFor translates a QR channel item. done reports whether pairing
// has finished.
func authEventFor(item whatsmeow.QRChannelItem) (evt *AuthEvent, done bool) {
	switch item.Event {
	case "code":
		return &AuthEvent{Type: AuthEventQRCode, QRCode: item.Code}, false
	case "success":
		return &AuthEvent{Type: AuthEventAuthenticated, Message: "authenticated"}, true
	case "timeout":
		return &AuthEvent{Type: AuthEventTimeout, Message: "QR code timeout"}, true
	}
	if item.Error != nil {
		return &AuthEvent{Type: AuthEventAuthFailed, Message: item.Error.Error()}, true
	}
	return nil, false
}
