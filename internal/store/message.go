package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

const messageColumns = `id, chat_jid, msg_id, sender_jid, sender_name, from_me, message_type, body, caption,
	media_url, mime_type, file_name, latitude, longitude, contact_name, vcard, status, timestamp, received_at`

// IngestMessage stores a message and updates its chat. It is idempotent on
// (chat_jid, msg_id): a repeated message only refreshes its mutable fields.
// The chat's incoming count grows only when an inbound message is new.
// It reports whether the message was newly inserted.
func (db *DB) IngestMessage(m *Message) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted, err := ingest(tx, m)
	if err != nil {
		return false, err
	}
	return inserted, tx.Commit()
}

// IngestBatch stores a batch of messages in one transaction and returns how
// many were new.
func (db *DB) IngestBatch(msgs []*Message) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	n := 0
	for _, m := range msgs {
		inserted, err := ingest(tx, m)
		if err != nil {
			return 0, err
		}
		if inserted {
			n++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	return n, nil
}

func ingest(tx execer, m *Message) (bool, error) {
	now := time.Now().UnixMilli()
	if m.ReceivedAt == 0 {
		m.ReceivedAt = now
	}
	if m.Status == "" {
		m.Status = "delivered"
	}
	res, err := tx.Exec(`
		INSERT OR IGNORE INTO messages (chat_jid, msg_id, sender_jid, sender_name, from_me, message_type, body, caption,
			media_url, mime_type, file_name, latitude, longitude, contact_name, vcard, status, timestamp, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ChatJID, m.MsgID, m.SenderJID, m.SenderName, m.FromMe, m.MessageType, m.Body, m.Caption,
		m.MediaURL, m.MimeType, m.FileName, m.Latitude, m.Longitude, m.ContactName, m.VCard, m.Status, m.Timestamp, m.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("insert message %q: %w", m.MsgID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert message %q: %w", m.MsgID, err)
	}

	if affected == 0 {
		if _, err := tx.Exec(`
			UPDATE messages SET
				sender_name = CASE WHEN ? != '' THEN ? ELSE sender_name END,
				body = CASE WHEN ? != '' THEN ? ELSE body END,
				caption = CASE WHEN ? != '' THEN ? ELSE caption END,
				media_url = CASE WHEN ? != '' THEN ? ELSE media_url END
			WHERE chat_jid = ? AND msg_id = ?`,
			m.SenderName, m.SenderName, m.Body, m.Body, m.Caption, m.Caption, m.MediaURL, m.MediaURL,
			m.ChatJID, m.MsgID); err != nil {
			return false, fmt.Errorf("update message %q: %w", m.MsgID, err)
		}
		return false, nil
	}

	incoming := 0
	if !m.FromMe {
		incoming = 1
	}
	if _, err := tx.Exec(`
		INSERT INTO chats (jid, is_group, incoming_count, last_message_at, last_msg_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			incoming_count = chats.incoming_count + excluded.incoming_count,
			last_msg_id = CASE WHEN excluded.last_message_at >= chats.last_message_at THEN excluded.last_msg_id ELSE chats.last_msg_id END,
			last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
			updated_at = excluded.updated_at`,
		m.ChatJID, strings.HasSuffix(m.ChatJID, "@g.us"), incoming, m.Timestamp, m.MsgID, now); err != nil {
		return false, fmt.Errorf("upsert chat %q: %w", m.ChatJID, err)
	}
	return true, nil
}

// UpdateMessageStatus sets the delivery status of messages in a chat.
// Statuses only move forward: delivered, then read.
func (db *DB) UpdateMessageStatus(chatJID string, msgIDs []string, status string) (int64, error) {
	if len(msgIDs) == 0 {
		return 0, nil
	}
	args := []any{status, chatJID}
	placeholders := make([]string, len(msgIDs))
	for i, id := range msgIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	res, err := db.Exec(`
		UPDATE messages SET status = ?
		WHERE chat_jid = ? AND msg_id IN (`+strings.Join(placeholders, ",")+`) AND status != 'read'`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("update status: %w", err)
	}
	return res.RowsAffected()
}

// ListMessages returns a page of a chat's messages, newest first, skipping
// the offset newest ones.
func (db *DB) ListMessages(chatJID string, limit, offset int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE chat_jid = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?`, chatJID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(messageFields(&m)...); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetMessage returns one message, or nil if it is unknown.
func (db *DB) GetMessage(chatJID, msgID string) (*Message, error) {
	var m Message
	err := db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE chat_jid = ? AND msg_id = ?`, chatJID, msgID).
		Scan(messageFields(&m)...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func messageFields(m *Message) []any {
	return []any{&m.ID, &m.ChatJID, &m.MsgID, &m.SenderJID, &m.SenderName, &m.FromMe, &m.MessageType, &m.Body, &m.Caption,
		&m.MediaURL, &m.MimeType, &m.FileName, &m.Latitude, &m.Longitude, &m.ContactName, &m.VCard, &m.Status, &m.Timestamp, &m.ReceivedAt}
}
