package store

import (
	"database/sql"
	"time"

	"github.com/matheus3301/vksync/internal/vk"
)

// OpenConversation marks the conversation with peer as open. Opening an
// already open conversation is a no-op.
func (db *DB) OpenConversation(peer vk.Peer) error {
	kind, id := peerKey(peer)
	_, err := db.Exec(`
		INSERT OR IGNORE INTO conversations (peer_kind, peer_id, opened_at) VALUES (?, ?, ?)`,
		kind, id, time.Now().UnixMilli())
	return err
}

// CloseConversation marks the conversation as closed. Its log is kept.
func (db *DB) CloseConversation(peer vk.Peer) error {
	kind, id := peerKey(peer)
	_, err := db.Exec(`DELETE FROM conversations WHERE peer_kind = ? AND peer_id = ?`, kind, id)
	return err
}

// HasConversation reports whether a conversation with peer is open.
func (db *DB) HasConversation(peer vk.Peer) (bool, error) {
	kind, id := peerKey(peer)
	var one int
	err := db.QueryRow(`SELECT 1 FROM conversations WHERE peer_kind = ? AND peer_id = ?`, kind, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// OpenConversations lists open conversations, most recently opened first.
func (db *DB) OpenConversations() ([]vk.Peer, error) {
	rows, err := db.Query(`SELECT peer_kind, peer_id FROM conversations ORDER BY opened_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var peers []vk.Peer
	for rows.Next() {
		var kind string
		var id int64
		if err := rows.Scan(&kind, &id); err != nil {
			return nil, err
		}
		p, err := peerFromKey(kind, id)
		if err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, rows.Err()
}
