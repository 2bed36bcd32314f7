package bus

import (
	"time"

	"github.com/matheus3301/vksync/internal/vk"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter by prefix, so "message." receives all
// message events.
const (
	KindRosterSynced      = "roster.synced"
	KindMessageReceived   = "message.received"
	KindMessageSent       = "message.sent"
	KindMessageSendFailed = "message.send_failed"
	KindCaptchaRequired   = "captcha.required"
	KindCaptchaResolved   = "captcha.resolved"
	KindStatusChanged     = "session.status_changed"
)

// RosterSynced is the payload of roster.synced.
type RosterSynced struct {
	Profiles int
	Friends  int
	Buddies  int
	Err      error // joined step failures, nil on full success
}

// MessageReceived is the payload of message.received.
type MessageReceived struct {
	Peer      vk.Peer
	MsgID     int64
	SenderID  int64
	Text      string
	Timestamp int64
}

// MessageSent is the payload of message.sent.
type MessageSent struct {
	Handle string
	Peer   vk.Peer
	MsgIDs []int64
}

// MessageSendFailed is the payload of message.send_failed.
type MessageSendFailed struct {
	Handle string
	Peer   vk.Peer
	Err    error
}

// CaptchaRequired is the payload of captcha.required. The challenge is
// answered through the captcha prompt using ID.
type CaptchaRequired struct {
	ID       string
	ImageURL string
}

// CaptchaResolved is the payload of captcha.resolved.
type CaptchaResolved struct {
	ID        string
	Cancelled bool
}
