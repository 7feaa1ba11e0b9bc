package store

import (
	"database/sql"
	"strings"
	"time"
)

// UpsertChatMeta records a chat's name and presentation flags without
// touching its counters. An empty name keeps the stored one.
func (db *DB) UpsertChatMeta(c *Chat) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (jid, name, is_group, pinned, archived, muted, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE chats.name END,
			pinned = excluded.pinned,
			archived = excluded.archived,
			muted = excluded.muted,
			updated_at = excluded.updated_at`,
		c.JID, c.Name, c.IsGroup || strings.HasSuffix(c.JID, "@g.us"), c.Pinned, c.Archived, c.Muted, now)
	return err
}

// SetAvatarURL caches a chat's profile picture URL.
func (db *DB) SetAvatarURL(jid, url string) error {
	_, err := db.Exec(`UPDATE chats SET avatar_url = ?, updated_at = ? WHERE jid = ?`, url, time.Now().UnixMilli(), jid)
	return err
}

const chatQuery = `
	SELECT c.jid,
		COALESCE(NULLIF(c.name,''), NULLIF(ct.name,''), NULLIF(ct.push_name,''), '') AS display_name,
		c.avatar_url, c.is_group, c.pinned, c.archived, c.muted, c.incoming_count, c.last_message_at,
		m.id, m.chat_jid, m.msg_id, m.sender_jid, m.sender_name, m.from_me, m.message_type, m.body, m.caption,
		m.media_url, m.mime_type, m.file_name, m.latitude, m.longitude, m.contact_name, m.vcard, m.status,
		m.timestamp, m.received_at
	FROM chats c
	LEFT JOIN contacts ct ON c.jid = ct.jid
	LEFT JOIN messages m ON m.chat_jid = c.jid AND m.msg_id = c.last_msg_id`

// ListChats returns chats with their latest message, pinned first and then
// by last activity. Names fall back from the chat to the contact's saved
// name and then its push name.
func (db *DB) ListChats(limit, offset int) ([]Chat, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.Query(chatQuery+`
		WHERE c.jid NOT LIKE '%@lid' AND c.jid NOT LIKE '%@broadcast'
		ORDER BY c.pinned DESC, c.last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}
	return chats, rows.Err()
}

// GetChat returns a single chat by JID, or nil if it is unknown.
func (db *DB) GetChat(jid string) (*Chat, error) {
	c, err := scanChat(db.QueryRow(chatQuery+` WHERE c.jid = ?`, jid))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChat(row scanner) (*Chat, error) {
	var (
		c          Chat
		id         sql.NullInt64
		chatJID    sql.NullString
		msgID      sql.NullString
		senderJID  sql.NullString
		senderName sql.NullString
		fromMe     sql.NullBool
		msgType    sql.NullString
		body       sql.NullString
		caption    sql.NullString
		mediaURL   sql.NullString
		mimeType   sql.NullString
		fileName   sql.NullString
		lat        sql.NullFloat64
		lng        sql.NullFloat64
		ctName     sql.NullString
		vcard      sql.NullString
		status     sql.NullString
		ts         sql.NullInt64
		receivedAt sql.NullInt64
	)
	err := row.Scan(&c.JID, &c.Name, &c.AvatarURL, &c.IsGroup, &c.Pinned, &c.Archived, &c.Muted, &c.IncomingCount, &c.LastMessageAt,
		&id, &chatJID, &msgID, &senderJID, &senderName, &fromMe, &msgType, &body, &caption,
		&mediaURL, &mimeType, &fileName, &lat, &lng, &ctName, &vcard, &status, &ts, &receivedAt)
	if err != nil {
		return nil, err
	}
	if id.Valid {
		c.LastMessage = &Message{
			ID:          id.Int64,
			ChatJID:     chatJID.String,
			MsgID:       msgID.String,
			SenderJID:   senderJID.String,
			SenderName:  senderName.String,
			FromMe:      fromMe.Bool,
			MessageType: msgType.String,
			Body:        body.String,
			Caption:     caption.String,
			MediaURL:    mediaURL.String,
			MimeType:    mimeType.String,
			FileName:    fileName.String,
			Latitude:    lat.Float64,
			Longitude:   lng.Float64,
			ContactName: ctName.String,
			VCard:       vcard.String,
			Status:      status.String,
			Timestamp:   ts.Int64,
			ReceivedAt:  receivedAt.Int64,
		}
	}
	return &c, nil
}
