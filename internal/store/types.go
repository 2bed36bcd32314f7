package store

import (
	"fmt"

	"github.com/matheus3301/vksync/internal/vk"
)

// Buddy is one buddy-list entry.
type Buddy struct {
	UserID         int64
	Group          string
	Alias          string
	CustomAlias    bool // alias was set locally and is not overwritten by sync
	Online         bool
	Mobile         bool
	LastSeen       int64
	AvatarChecksum string
}

// Message kinds stored in the conversation log.
const (
	KindReceived = "received"
	KindSent     = "sent"
	KindError    = "error"
)

// Message is one line of a conversation log.
type Message struct {
	ID        int64
	Peer      vk.Peer
	MsgID     int64 // server id, 0 for local notices
	SenderID  int64
	Body      string
	Kind      string
	Timestamp int64
}

// Image is a stored inline image (thumbnail or outgoing picture).
type Image struct {
	ID       int64
	Filename string
	Data     []byte
}

// OutboxEntry tracks one Send request from queueing to completion.
type OutboxEntry struct {
	ID           int64
	Handle       string
	Peer         vk.Peer
	Body         string
	Status       string // queued, sent, failed
	ErrorMessage string
	ServerMsgIDs string
}

const (
	peerUser = "user"
	peerChat = "chat"
)

func peerKey(p vk.Peer) (string, int64) {
	if p.IsChat() {
		return peerChat, p.ChatID
	}
	return peerUser, p.UserID
}

func peerFromKey(kind string, id int64) (vk.Peer, error) {
	switch kind {
	case peerUser:
		return vk.User(id), nil
	case peerChat:
		return vk.Chat(id), nil
	}
	return vk.Peer{}, fmt.Errorf("unknown peer kind %q", kind)
}
