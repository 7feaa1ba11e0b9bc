package store

import (
	"database/sql"
	"errors"
	"time"
)

// ReadCursors returns the persisted read cursor of every chat.
func (db *DB) ReadCursors() (map[string]int, error) {
	rows, err := db.Query(`SELECT jid, seen FROM read_cursors`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cursors := make(map[string]int)
	for rows.Next() {
		var jid string
		var seen int
		if err := rows.Scan(&jid, &seen); err != nil {
			return nil, err
		}
		cursors[jid] = seen
	}
	return cursors, rows.Err()
}

// SaveReadCursor persists a chat's read cursor. Cursors never move back.
func (db *DB) SaveReadCursor(jid string, seen int) error {
	_, err := db.Exec(`
		INSERT INTO read_cursors (jid, seen, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			seen = MAX(read_cursors.seen, excluded.seen),
			updated_at = excluded.updated_at`,
		jid, seen, time.Now().UnixMilli())
	return err
}

// SetSyncState records a named sync checkpoint.
func (db *DB) SetSyncState(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// SyncState returns a named sync checkpoint, or "" if it was never set.
func (db *DB) SyncState(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}
