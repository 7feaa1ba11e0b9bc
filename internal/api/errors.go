package api

import (
	"errors"

	"github.com/matheus3301/clinichat/internal/chat"
	"github.com/matheus3301/clinichat/internal/media"
	"go.mau.fi/whatsmeow"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps inbox failures onto gRPC codes. The message is the notice
// text shown to the user.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var invalid *media.ValidationError
	code := codes.Internal
	switch {
	case errors.As(err, &invalid), errors.Is(err, chat.ErrEmptyMessage):
		code = codes.InvalidArgument
	case errors.Is(err, chat.ErrNoConversation):
		code = codes.FailedPrecondition
	case errors.Is(err, chat.ErrStale):
		code = codes.Aborted
	case errors.Is(err, whatsmeow.ErrNotConnected), errors.Is(err, whatsmeow.ErrNotLoggedIn):
		code = codes.Unavailable
	}
	return grpcstatus.Error(code, err.Error())
}
