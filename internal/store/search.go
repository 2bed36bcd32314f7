package store

import (
	"strings"

	"github.com/matheus3301/vksync/internal/vk"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchMessages returns logged messages whose body contains query,
// newest first. A non-nil peer restricts the search to one conversation.
func (db *DB) SearchMessages(query string, peer *vk.Peer, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT id, peer_kind, peer_id, msg_id, sender_id, body, kind, timestamp
		FROM messages
		WHERE body LIKE ? ESCAPE '\'`
	args := []any{"%" + likeEscaper.Replace(query) + "%"}
	if peer != nil {
		kind, id := peerKey(*peer)
		q += " AND peer_kind = ? AND peer_id = ?"
		args = append(args, kind, id)
	}
	q += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		var kind string
		var id int64
		if err := rows.Scan(&m.ID, &kind, &id, &m.MsgID, &m.SenderID, &m.Body, &m.Kind, &m.Timestamp); err != nil {
			return nil, err
		}
		if m.Peer, err = peerFromKey(kind, id); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
