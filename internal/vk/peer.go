package vk

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// Peer is the target of a message: a user (one-to-one dialog) or a multi-user
// chat. Exactly one of the ids is non-zero.
type Peer struct {
	UserID int64
	ChatID int64
}

// User returns the peer for a one-to-one dialog.
func User(id int64) Peer { return Peer{UserID: id} }

// Chat returns the peer for a multi-user chat.
func Chat(id int64) Peer { return Peer{ChatID: id} }

// Validate checks that exactly one target id is set.
func (p Peer) Validate() error {
	if (p.UserID == 0) == (p.ChatID == 0) {
		return errors.New("vk: peer needs exactly one of user id or chat id")
	}
	return nil
}

// IsChat reports whether p addresses a multi-user chat.
func (p Peer) IsChat() bool { return p.ChatID != 0 }

// Apply sets user_id or chat_id on params.
func (p Peer) Apply(params url.Values) {
	if p.UserID != 0 {
		params.Set("user_id", strconv.FormatInt(p.UserID, 10))
		return
	}
	params.Set("chat_id", strconv.FormatInt(p.ChatID, 10))
}

func (p Peer) String() string {
	if p.ChatID != 0 {
		return fmt.Sprintf("chat:%d", p.ChatID)
	}
	return fmt.Sprintf("user:%d", p.UserID)
}
