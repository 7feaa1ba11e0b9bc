package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const upsertContact = `
	INSERT INTO contacts (jid, name, push_name, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(jid) DO UPDATE SET
		name = CASE WHEN excluded.name != '' THEN excluded.name ELSE contacts.name END,
		push_name = CASE WHEN excluded.push_name != '' THEN excluded.push_name ELSE contacts.push_name END,
		updated_at = excluded.updated_at`

// UpsertContacts records contact names in one transaction. Empty names
// never overwrite known ones.
func (db *DB) UpsertContacts(contacts ...Contact) error {
	if len(contacts) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(upsertContact)
	if err != nil {
		return fmt.Errorf("prepare contact upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UnixMilli()
	for _, c := range contacts {
		if c.JID == "" {
			continue
		}
		if _, err := stmt.Exec(c.JID, c.Name, c.PushName, now); err != nil {
			return fmt.Errorf("upsert contact %q: %w", c.JID, err)
		}
	}
	return tx.Commit()
}

// GetContact returns a contact by JID, or nil when unknown.
func (db *DB) GetContact(jid string) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`SELECT jid, name, push_name FROM contacts WHERE jid = ?`, jid).
		Scan(&c.JID, &c.Name, &c.PushName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Stats counts the cached rows.
type Stats struct {
	Chats    int64
	Messages int64
	Contacts int64
}

// Stats returns the cache sizes.
func (db *DB) Stats() (Stats, error) {
	var s Stats
	err := db.QueryRow(`SELECT
		(SELECT COUNT(*) FROM chats),
		(SELECT COUNT(*) FROM messages),
		(SELECT COUNT(*) FROM contacts)`).Scan(&s.Chats, &s.Messages, &s.Contacts)
	return s, err
}
