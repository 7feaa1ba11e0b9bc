// Package client is the typed caller of a tenant daemon's Inbox service.
package client

import (
	"context"
	"fmt"

	"github.com/matheus3301/clinichat/internal/api"
	"github.com/matheus3301/clinichat/internal/chat"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.Codec)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	resp := new(Resp)
	if err := c.conn.Invoke(ctx, api.Method(method), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func stream[Req, Resp any](ctx context.Context, c *Client, name string, req *Req) (grpc.ServerStreamingClient[Resp], error) {
	var desc *grpc.StreamDesc
	for i := range api.ServiceDesc.Streams {
		if api.ServiceDesc.Streams[i].StreamName == name {
			desc = &api.ServiceDesc.Streams[i]
			break
		}
	}
	if desc == nil {
		return nil, fmt.Errorf("unknown stream %q", name)
	}
	cs, err := c.conn.NewStream(ctx, desc, api.Method(name))
	if err != nil {
		return nil, err
	}
	s := &grpc.GenericClientStream[Req, Resp]{ClientStream: cs}
	if err := s.SendMsg(req); err != nil {
		return nil, err
	}
	if err := s.CloseSend(); err != nil {
		return nil, err
	}
	return s, nil
}

// Status reports the daemon's link state and cache sizes.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	return invoke[api.StatusResponse](ctx, c, "GetStatus", &api.Empty{})
}

// StartAuth streams QR pairing steps until pairing ends.
func (c *Client) StartAuth(ctx context.Context) (grpc.ServerStreamingClient[api.AuthEvent], error) {
	return stream[api.Empty, api.AuthEvent](ctx, c, "StartAuth", &api.Empty{})
}

// Conversations lists conversations in display order.
func (c *Client) Conversations(ctx context.Context, refresh bool) ([]chat.Conversation, error) {
	resp, err := invoke[api.ConversationsResponse](ctx, c, "ListConversations", &api.ConversationsRequest{Refresh: refresh})
	if err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// Refresh reloads the conversation list from the backend.
func (c *Client) Refresh(ctx context.Context) ([]chat.Conversation, error) {
	resp, err := invoke[api.ConversationsResponse](ctx, c, "Refresh", &api.Empty{})
	if err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

func (c *Client) MarkRead(ctx context.Context, jid string) error {
	_, err := invoke[api.Empty](ctx, c, "MarkRead", &api.JIDRequest{JID: jid})
	return err
}

// Logout unlinks the tenant's WhatsApp device.
func (c *Client) Logout(ctx context.Context) error {
	_, err := invoke[api.Empty](ctx, c, "Logout", &api.Empty{})
	return err
}

// Open selects a conversation and returns its newest page.
func (c *Client) Open(ctx context.Context, jid string) (*api.ThreadResponse, error) {
	return invoke[api.ThreadResponse](ctx, c, "Open", &api.JIDRequest{JID: jid})
}

func (c *Client) CloseThread(ctx context.Context) error {
	_, err := invoke[api.Empty](ctx, c, "Close", &api.Empty{})
	return err
}

// LoadMore prepends the next older page of the active conversation.
func (c *Client) LoadMore(ctx context.Context) (*api.ThreadResponse, error) {
	return invoke[api.ThreadResponse](ctx, c, "LoadMore", &api.Empty{})
}

func (c *Client) Messages(ctx context.Context) (*api.ThreadResponse, error) {
	return invoke[api.ThreadResponse](ctx, c, "ListMessages", &api.Empty{})
}

// SendText sends text to the active conversation.
func (c *Client) SendText(ctx context.Context, text string) (*api.ThreadResponse, error) {
	return invoke[api.ThreadResponse](ctx, c, "SendText", &api.SendTextRequest{Text: text})
}

// SendMedia sends an attachment to the active conversation.
func (c *Client) SendMedia(ctx context.Context, req *api.SendMediaRequest) (*api.ThreadResponse, error) {
	return invoke[api.ThreadResponse](ctx, c, "SendMedia", req)
}

// Watch streams bus events whose kind starts with one of prefixes.
func (c *Client) Watch(ctx context.Context, prefixes ...string) (grpc.ServerStreamingClient[api.Event], error) {
	return stream[api.WatchRequest, api.Event](ctx, c, "WatchEvents", &api.WatchRequest{Prefixes: prefixes})
}
