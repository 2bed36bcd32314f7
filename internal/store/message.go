package store

import (
	"fmt"
	"time"

	"github.com/matheus3301/vksync/internal/vk"
)

// DeliverIM appends an incoming message to the conversation with its sender,
// opening the conversation if needed. A message whose server id is already
// logged is ignored; the result reports whether it was new.
func (db *DB) DeliverIM(m *Message) (bool, error) {
	if err := db.OpenConversation(m.Peer); err != nil {
		return false, fmt.Errorf("open conversation: %w", err)
	}
	return db.appendMessage(m)
}

// RecordSent logs an outgoing message chunk.
func (db *DB) RecordSent(peer vk.Peer, msgID int64, body string, ts int64) error {
	_, err := db.appendMessage(&Message{Peer: peer, MsgID: msgID, Body: body, Kind: KindSent, Timestamp: ts})
	return err
}

// WriteError writes an error notice into the conversation with peer, but only
// if that conversation is open. It reports whether the notice was written.
func (db *DB) WriteError(peer vk.Peer, text string) (bool, error) {
	open, err := db.HasConversation(peer)
	if err != nil || !open {
		return false, err
	}
	return db.appendMessage(&Message{Peer: peer, Body: text, Kind: KindError, Timestamp: time.Now().Unix()})
}

func (db *DB) appendMessage(m *Message) (bool, error) {
	kind, id := peerKey(m.Peer)
	res, err := db.Exec(`
		INSERT OR IGNORE INTO messages (peer_kind, peer_id, msg_id, sender_id, body, kind, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		kind, id, m.MsgID, m.SenderID, m.Body, m.Kind, m.Timestamp, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListMessages returns the log of a conversation using keyset pagination by
// timestamp, newest first.
func (db *DB) ListMessages(peer vk.Peer, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().Unix() + 1
	}
	kind, pid := peerKey(peer)
	rows, err := db.Query(`
		SELECT id, msg_id, sender_id, body, kind, timestamp
		FROM messages
		WHERE peer_kind = ? AND peer_id = ? AND timestamp < ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, kind, pid, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m := Message{Peer: peer}
		if err := rows.Scan(&m.ID, &m.MsgID, &m.SenderID, &m.Body, &m.Kind, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
