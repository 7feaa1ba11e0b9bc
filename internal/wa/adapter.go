package wa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/clinichat/internal/bus"
	"github.com/matheus3301/clinichat/internal/chat"
	"github.com/matheus3301/clinichat/internal/store"
	"github.com/matheus3301/clinichat/internal/tenant"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// Adapter wraps the whatsmeow client and manages the WhatsApp connection.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	bus       *bus.Bus
	logger    *zap.Logger
	tenant    string
}

// Sent is the server acknowledgement of an outgoing message.
type Sent struct {
	ID        string
	Timestamp time.Time
}

// Upload is an outgoing attachment.
type Upload struct {
	Kind     chat.MessageType
	Data     []byte
	MimeType string
	FileName string
	Caption  string
}

// NewAdapter creates a new WhatsApp adapter for the given tenant.
func NewAdapter(ctx context.Context, tenantName string, b *bus.Bus, logger *zap.Logger) (*Adapter, error) {
	// Set device name shown on the phone's linked devices list.
	wastore.SetOSInfo("Clinichat", [3]uint32{0, 1, 0})

	dbPath := tenant.SessionDBPath(tenantName)

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, nil)

	return &Adapter{
		client:    client,
		container: container,
		bus:       b,
		logger:    logger,
		tenant:    tenantName,
	}, nil
}

// IsLoggedIn returns whether the adapter has valid credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// Connect initiates the WhatsApp connection.
func (a *Adapter) Connect() error {
	a.logger.Info("connecting to WhatsApp")
	return a.client.Connect()
}

// Disconnect terminates the WhatsApp connection.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	a.client.Disconnect()
}

// Logout invalidates the session and removes credentials.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

// RegisterEventHandler adds a handler for whatsmeow events.
func (a *Adapter) RegisterEventHandler(handler whatsmeow.EventHandler) {
	a.client.AddEventHandler(handler)
}

// SendText sends a text message to the given JID.
func (a *Adapter) SendText(ctx context.Context, jid string, text string) (Sent, error) {
	return a.send(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
}

// SendMedia uploads an attachment and sends it to the given JID.
func (a *Adapter) SendMedia(ctx context.Context, jid string, up Upload) (Sent, error) {
	var mediaType whatsmeow.MediaType
	switch up.Kind {
	case chat.TypeImage:
		mediaType = whatsmeow.MediaImage
	case chat.TypeVideo:
		mediaType = whatsmeow.MediaVideo
	case chat.TypeAudio:
		mediaType = whatsmeow.MediaAudio
	case chat.TypeDocument:
		mediaType = whatsmeow.MediaDocument
	default:
		return Sent{}, fmt.Errorf("unsupported media type %q", up.Kind)
	}

	uploaded, err := a.client.Upload(ctx, up.Data, mediaType)
	if err != nil {
		return Sent{}, fmt.Errorf("upload media: %w", err)
	}
	size := proto.Uint64(uint64(len(up.Data)))

	var msg *waE2E.Message
	switch up.Kind {
	case chat.TypeImage:
		msg = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(up.MimeType),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    size,
			Caption:       optional(up.Caption),
		}}
	case chat.TypeVideo:
		msg = &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(up.MimeType),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    size,
			Caption:       optional(up.Caption),
		}}
	case chat.TypeAudio:
		msg = &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(up.MimeType),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    size,
		}}
	case chat.TypeDocument:
		msg = &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(up.MimeType),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    size,
			FileName:      proto.String(up.FileName),
			Caption:       optional(up.Caption),
		}}
	}
	return a.send(ctx, jid, msg)
}

func (a *Adapter) send(ctx context.Context, jid string, msg *waE2E.Message) (Sent, error) {
	to, err := types.ParseJID(jid)
	if err != nil {
		return Sent{}, fmt.Errorf("parse JID: %w", err)
	}
	resp, err := a.client.SendMessage(ctx, to, msg)
	if err != nil {
		return Sent{}, fmt.Errorf("send message: %w", err)
	}
	return Sent{ID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return proto.String(s)
}

// ProfilePictureURL returns the profile picture URL of a JID, or "" when the
// contact has none or hides it.
func (a *Adapter) ProfilePictureURL(ctx context.Context, jid string) (string, error) {
	target, err := types.ParseJID(jid)
	if err != nil {
		return "", fmt.Errorf("parse JID: %w", err)
	}
	info, err := a.client.GetProfilePictureInfo(ctx, target, &whatsmeow.GetProfilePictureParams{})
	switch {
	case errors.Is(err, whatsmeow.ErrProfilePictureNotSet), errors.Is(err, whatsmeow.ErrProfilePictureUnauthorized):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("get profile picture: %w", err)
	case info == nil:
		return "", nil
	}
	return info.URL, nil
}

// GetQRChannel returns the QR channel for pairing. Must be called before Connect.
func (a *Adapter) GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	if a.IsLoggedIn() {
		return nil, fmt.Errorf("already logged in")
	}
	ch, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get QR channel: %w", err)
	}
	return ch, nil
}

// GetContacts returns all contacts from the whatsmeow device store.
func (a *Adapter) GetContacts(ctx context.Context) []store.Contact {
	allContacts, err := a.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		a.logger.Warn("failed to get contacts from device store", zap.Error(err))
		return nil
	}
	contacts := make([]store.Contact, 0, len(allContacts))
	for jid, info := range allContacts {
		contacts = append(contacts, store.Contact{
			JID:      a.ResolveLID(ctx, jid.ToNonAD()).String(),
			Name:     info.FullName,
			PushName: info.PushName,
		})
	}
	return contacts
}

// PublishContacts forwards the device store contacts to the sync engine.
func (a *Adapter) PublishContacts(ctx context.Context) {
	contacts := a.GetContacts(ctx)
	if len(contacts) == 0 {
		return
	}
	a.bus.Emit("wa.contacts", contacts)
}

// PhoneNumber returns the phone number from the device store, or empty string.
func (a *Adapter) PhoneNumber() string {
	if a.client.Store.ID == nil {
		return ""
	}
	return a.client.Store.ID.User
}

// ResolveLID resolves a LID JID to its phone number JID using the device store mapping.
// Returns the original JID if it's not a LID or if resolution fails.
func (a *Adapter) ResolveLID(ctx context.Context, jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer && jid.Server != types.HostedLIDServer {
		return jid
	}
	if a.client == nil || a.client.Store == nil || a.client.Store.LIDs == nil {
		return jid
	}
	pn, err := a.client.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn
}
