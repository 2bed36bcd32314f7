package store

import (
	"time"

	"github.com/matheus3301/vksync/internal/vk"
)

// QueueOutbox records a send request under its handle.
func (db *DB) QueueOutbox(handle string, peer vk.Peer, body string) error {
	now := time.Now().UnixMilli()
	kind, id := peerKey(peer)
	_, err := db.Exec(`
		INSERT INTO outbox (handle, peer_kind, peer_id, body, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'queued', ?, ?)`,
		handle, kind, id, body, now, now)
	return err
}

// MarkOutboxSent marks the request done with the comma-separated server ids
// of its chunks.
func (db *DB) MarkOutboxSent(handle, serverMsgIDs string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', server_msg_ids = ?, updated_at = ? WHERE handle = ?`, serverMsgIDs, now, handle)
	return err
}

// MarkOutboxFailed marks the request failed with an error message.
func (db *DB) MarkOutboxFailed(handle, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE handle = ?`, errMsg, now, handle)
	return err
}

// FailPendingOutbox marks every still-queued request as failed. Requests are
// not resumed across restarts, so the daemon calls this on startup.
func (db *DB) FailPendingOutbox(reason string) (int64, error) {
	res, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE status = 'queued'`,
		reason, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PendingOutbox returns outbox entries that are still queued.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	return db.listOutbox(`WHERE status = 'queued' ORDER BY created_at ASC`)
}

// OutboxEntry returns the entry for handle, or nil.
func (db *DB) OutboxEntry(handle string) (*OutboxEntry, error) {
	entries, err := db.listOutbox(`WHERE handle = ?`, handle)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func (db *DB) listOutbox(where string, args ...any) ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, handle, peer_kind, peer_id, body, status, error_message, server_msg_ids
		FROM outbox `+where, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var kind string
		var id int64
		if err := rows.Scan(&e.ID, &e.Handle, &kind, &id, &e.Body, &e.Status, &e.ErrorMessage, &e.ServerMsgIDs); err != nil {
			return nil, err
		}
		if e.Peer, err = peerFromKey(kind, id); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
