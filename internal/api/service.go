package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/clinichat/internal/bus"
	"github.com/matheus3301/clinichat/internal/chat"
	"github.com/matheus3301/clinichat/internal/inbox"
	"github.com/matheus3301/clinichat/internal/jid"
	"github.com/matheus3301/clinichat/internal/media"
	"github.com/matheus3301/clinichat/internal/status"
	"github.com/matheus3301/clinichat/internal/store"
	"github.com/matheus3301/clinichat/internal/wa"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// Link is the part of the WhatsApp adapter the service reports on.
type Link interface {
	PhoneNumber() string
	StartQRAuth(ctx context.Context) (<-chan wa.AuthEvent, error)
	Logout(ctx context.Context) error
}

// Counter reports cache sizes.
type Counter interface {
	Stats() (store.Stats, error)
}

var defaultWatch = []string{"chatlist.", "thread."}

// Service implements InboxServer on top of an Inbox.
type Service struct {
	tenant    string
	startedAt time.Time
	machine   *status.Machine
	link      Link
	counts    Counter
	inbox     *inbox.Inbox
	bus       *bus.Bus
}

// NewService creates the service. link and counts may be nil.
func NewService(tenant string, machine *status.Machine, link Link, counts Counter, in *inbox.Inbox, b *bus.Bus) *Service {
	return &Service{
		tenant:    tenant,
		startedAt: time.Now(),
		machine:   machine,
		link:      link,
		counts:    counts,
		inbox:     in,
		bus:       b,
	}
}

func (s *Service) GetStatus(_ context.Context, _ *Empty) (*StatusResponse, error) {
	current, since := s.machine.Since()
	resp := &StatusResponse{
		Tenant:        s.tenant,
		Status:        string(current),
		StatusSinceMs: since.UnixMilli(),
		UptimeMs:      time.Since(s.startedAt).Milliseconds(),
		Active:        s.inbox.Active(),
		Feed:          string(s.inbox.FeedState()),
	}
	if s.link != nil {
		resp.PhoneNumber = s.link.PhoneNumber()
	}
	if s.counts != nil {
		if stats, err := s.counts.Stats(); err == nil {
			resp.ChatCount = stats.Chats
			resp.MessageCount = stats.Messages
			resp.ContactCount = stats.Contacts
		}
	}
	return resp, nil
}

func (s *Service) StartAuth(_ *Empty, stream grpc.ServerStreamingServer[AuthEvent]) error {
	if s.link == nil {
		return grpcstatus.Errorf(codes.Unavailable, "adapter not initialized")
	}
	authCh, err := s.link.StartQRAuth(stream.Context())
	if err != nil {
		return grpcstatus.Errorf(codes.FailedPrecondition, "start auth: %v", err)
	}
	for evt := range authCh {
		if err := stream.Send(&AuthEvent{
			Type:    string(evt.Type),
			QRCode:  evt.QRCode,
			Message: evt.Message,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Logout unlinks the device. The tenant needs a new pairing afterwards.
func (s *Service) Logout(ctx context.Context, _ *Empty) (*Empty, error) {
	if s.link == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "adapter not initialized")
	}
	if err := s.link.Logout(ctx); err != nil {
		return nil, toStatus(fmt.Errorf("logout: %w", err))
	}
	s.inbox.Close()
	_ = s.machine.Transition(status.AuthRequired)
	return &Empty{}, nil
}

func (s *Service) ListConversations(ctx context.Context, req *ConversationsRequest) (*ConversationsResponse, error) {
	if req.Refresh {
		if err := s.inbox.Refresh(ctx); err != nil {
			return nil, toStatus(err)
		}
	}
	return &ConversationsResponse{Conversations: s.inbox.Conversations()}, nil
}

func (s *Service) Refresh(ctx context.Context, _ *Empty) (*ConversationsResponse, error) {
	return s.ListConversations(ctx, &ConversationsRequest{Refresh: true})
}

func (s *Service) MarkRead(_ context.Context, req *JIDRequest) (*Empty, error) {
	target, err := resolve(req.JID)
	if err != nil {
		return nil, err
	}
	s.inbox.MarkRead(target)
	return &Empty{}, nil
}

func (s *Service) Open(ctx context.Context, req *JIDRequest) (*ThreadResponse, error) {
	target, err := resolve(req.JID)
	if err != nil {
		return nil, err
	}
	if err := s.inbox.Open(ctx, target); err != nil {
		return nil, toStatus(err)
	}
	return s.thread(), nil
}

func (s *Service) Close(_ context.Context, _ *Empty) (*Empty, error) {
	s.inbox.Close()
	return &Empty{}, nil
}

func (s *Service) LoadMore(ctx context.Context, _ *Empty) (*ThreadResponse, error) {
	if s.inbox.Active() == "" {
		return nil, toStatus(&chat.Notice{Title: "No conversation selected", Err: chat.ErrNoConversation})
	}
	if err := s.inbox.LoadMore(ctx); err != nil {
		return nil, toStatus(err)
	}
	return s.thread(), nil
}

func (s *Service) ListMessages(_ context.Context, _ *Empty) (*ThreadResponse, error) {
	return s.thread(), nil
}

func (s *Service) SendText(ctx context.Context, req *SendTextRequest) (*ThreadResponse, error) {
	if err := s.inbox.Send(ctx, req.Text); err != nil {
		return nil, toStatus(err)
	}
	return s.thread(), nil
}

func (s *Service) SendMedia(ctx context.Context, req *SendMediaRequest) (*ThreadResponse, error) {
	f := media.FromBytes(req.FileName, req.Data)
	if err := s.inbox.SendMedia(ctx, f, req.Kind, req.Caption); err != nil {
		return nil, toStatus(err)
	}
	return s.thread(), nil
}

func (s *Service) WatchEvents(req *WatchRequest, stream grpc.ServerStreamingServer[Event]) error {
	prefixes := req.Prefixes
	if len(prefixes) == 0 {
		prefixes = defaultWatch
	}
	events, unsub := s.bus.SubscribeAny(256, prefixes...)
	defer unsub()

	for {
		select {
		case evt := <-events:
			out := &Event{
				ID:               uuid.NewString(),
				Tenant:           s.tenant,
				Kind:             evt.Kind,
				OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
			}
			if evt.Payload != nil {
				if raw, err := json.Marshal(evt.Payload); err == nil {
					out.Payload = raw
				}
			}
			if err := stream.Send(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *Service) thread() *ThreadResponse {
	return &ThreadResponse{
		JID:      s.inbox.Active(),
		Messages: s.inbox.Messages(),
		HasMore:  s.inbox.HasMore(),
	}
}

func resolve(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", grpcstatus.Error(codes.InvalidArgument, "jid is required")
	}
	target, err := jid.FromPhone(raw)
	if err != nil {
		return "", grpcstatus.Errorf(codes.InvalidArgument, "invalid jid %q: %v", raw, err)
	}
	return target, nil
}
