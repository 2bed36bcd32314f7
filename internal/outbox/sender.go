// Package outbox sends messages: inline images are uploaded, the text is
// flattened and chunked, and captcha challenges are answered and retried.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/vksync/internal/captcha"
	"github.com/matheus3301/vksync/internal/markup"
	"github.com/matheus3301/vksync/internal/store"
	"github.com/matheus3301/vksync/internal/vk"
)

// TypingInterval is how long a typing notification stays visible; callers
// resend it after this interval while the user keeps typing.
const TypingInterval = 10 * time.Second

var (
	// ErrBadTarget is returned when a peer does not name exactly one target.
	ErrBadTarget = errors.New("outbox: bad target")
	// ErrTooManyCaptchas is returned when one chunk draws more challenges
	// than allowed.
	ErrTooManyCaptchas = errors.New("outbox: too many captcha challenges")
)

// Uploader uploads an image for use as a message attachment.
type Uploader interface {
	UploadMessagePhoto(ctx context.Context, filename string, data []byte) (*vk.SavedPhoto, error)
}

// Images resolves inline image ids.
type Images interface {
	Image(id int64) (*store.Image, error)
}

// Log is the conversation log sends are recorded in.
type Log interface {
	RecordSent(peer vk.Peer, msgID int64, body string, ts int64) error
	WriteError(peer vk.Peer, text string) (bool, error)
}

// Roster puts users on the buddy list before first contact.
type Roster interface {
	AddIfNeeded(ctx context.Context, userID int64) error
}

// Options configures a Sender.
type Options struct {
	// MaxChunkBytes bounds the URL-encoded length of each chunk.
	MaxChunkBytes int
	// MaxCaptchaAttempts bounds the challenges answered for one chunk.
	MaxCaptchaAttempts int
}

// Sender implements the send pipeline for one connection.
type Sender struct {
	api      vk.Invoker
	uploader Uploader
	images   Images
	log      Log
	roster   Roster
	solver   captcha.Solver
	gate     *Gate
	opts     Options
	logger   *zap.Logger
}

// NewSender creates a Sender. Every messages.send goes through gate, which
// the connection shares across all its senders.
func NewSender(api vk.Invoker, uploader Uploader, images Images, log Log, roster Roster,
	solver captcha.Solver, gate *Gate, opts Options, logger *zap.Logger) *Sender {
	if opts.MaxChunkBytes <= 0 {
		opts.MaxChunkBytes = 4096
	}
	if opts.MaxCaptchaAttempts <= 0 {
		opts.MaxCaptchaAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if gate == nil {
		gate = NewGate(logger)
	}
	return &Sender{
		api:      api,
		uploader: uploader,
		images:   images,
		log:      log,
		roster:   roster,
		solver:   solver,
		gate:     gate,
		opts:     opts,
		logger:   logger.Named("outbox"),
	}
}

// message is the state of one send in progress.
type message struct {
	peer        vk.Peer
	text        string // not yet sent
	attachments string // cleared once sent
}

// Send delivers raw, conversation markup possibly containing <img id="N">
// references, to peer and returns the server id of every chunk. On failure
// an error notice with the unsent text is written to the conversation.
func (s *Sender) Send(ctx context.Context, peer vk.Peer, raw string) ([]int64, error) {
	if err := peer.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadTarget, err)
	}
	s.logger.Info("sending message", zap.Stringer("peer", peer))
	s.addIfNeeded(ctx, peer)

	clean, imgIDs := markup.ExtractImages(raw)
	m := &message{peer: peer, text: markup.StripHTML(clean)}

	uploaded, err := s.uploadImages(ctx, imgIDs)
	if err != nil {
		return nil, s.fail(m, fmt.Errorf("upload images: %w", err))
	}
	m.attachments = markup.JoinAttachments(markup.ParseAttachments(m.text), uploaded)
	return s.transmit(ctx, m)
}

// SendAttachment sends a message consisting of attachment only.
func (s *Sender) SendAttachment(ctx context.Context, peer vk.Peer, attachment string) ([]int64, error) {
	if err := peer.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadTarget, err)
	}
	s.logger.Info("sending attachment", zap.Stringer("peer", peer), zap.String("attachment", attachment))
	return s.transmit(ctx, &message{peer: peer, attachments: attachment})
}

// SendTyping tells userID that the user is typing and returns when the
// notification should be repeated. Failures are only logged.
func (s *Sender) SendTyping(ctx context.Context, userID int64) time.Duration {
	_, err := s.api.Call(ctx, "messages.setActivity", url.Values{
		"user_id": {strconv.FormatInt(userID, 10)},
		"type":    {"typing"},
	})
	if err != nil {
		s.logger.Debug("typing notification failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	s.addIfNeeded(ctx, vk.User(userID))
	return TypingInterval
}

func (s *Sender) addIfNeeded(ctx context.Context, peer vk.Peer) {
	if s.roster == nil || peer.IsChat() {
		return
	}
	if err := s.roster.AddIfNeeded(ctx, peer.UserID); err != nil {
		s.logger.Warn("add buddy failed", zap.Int64("user_id", peer.UserID), zap.Error(err))
	}
}

// uploadImages uploads the referenced images starting from the last one and
// returns their attachment references in upload order.
func (s *Sender) uploadImages(ctx context.Context, ids []int64) (string, error) {
	var refs []string
	for i := len(ids) - 1; i >= 0; i-- {
		img, err := s.images.Image(ids[i])
		if err != nil {
			return "", fmt.Errorf("load image %d: %w", ids[i], err)
		}
		if img == nil {
			return "", fmt.Errorf("image %d not found", ids[i])
		}
		s.logger.Debug("uploading image", zap.Int64("image_id", ids[i]))
		photo, err := s.uploader.UploadMessagePhoto(ctx, img.Filename, img.Data)
		if err != nil {
			return "", err
		}
		refs = append(refs, photo.Ref())
	}
	return markup.JoinAttachments(refs...), nil
}

// transmit sends m chunk by chunk. Attachments ride on the first chunk.
func (s *Sender) transmit(ctx context.Context, m *message) ([]int64, error) {
	var ids []int64
	for {
		n := markup.MaxEncodedPrefix(m.text, s.opts.MaxChunkBytes)
		chunk := m.text[:n]
		id, err := s.sendChunk(ctx, m.peer, chunk, m.attachments)
		if err != nil {
			return ids, s.fail(m, err)
		}
		ids = append(ids, id)
		if err := s.log.RecordSent(m.peer, id, chunk, time.Now().Unix()); err != nil {
			s.logger.Warn("record sent failed", zap.Int64("msg_id", id), zap.Error(err))
		}

		m.attachments = ""
		m.text = m.text[n:]
		if m.text == "" {
			return ids, nil
		}
		s.logger.Debug("sending remainder", zap.Int("sent_bytes", n), zap.Int("remaining_bytes", len(m.text)))
	}
}

// sendChunk issues one messages.send, answering up to MaxCaptchaAttempts
// challenges. Captcha answers apply to this chunk only.
func (s *Sender) sendChunk(ctx context.Context, peer vk.Peer, text, attachments string) (int64, error) {
	var sid, key string
	for attempt := 0; ; attempt++ {
		params := url.Values{
			"message":    {text},
			"attachment": {attachments},
			"type":       {"1"},
		}
		peer.Apply(params)
		if sid != "" {
			params.Set("captcha_sid", sid)
			params.Set("captcha_key", key)
		}

		var raw []byte
		err := s.gate.Do(ctx, func() error {
			var err error
			raw, err = s.api.Call(ctx, "messages.send", params)
			return err
		})
		if err == nil {
			id, err := vk.DecodeInt64(raw)
			if err != nil {
				return 0, fmt.Errorf("messages.send: %w", err)
			}
			return id, nil
		}

		var apiErr *vk.Error
		if !errors.As(err, &apiErr) || apiErr.Code != vk.ErrCodeCaptchaNeeded {
			return 0, err
		}
		challengeSID, img, ok := apiErr.CaptchaChallenge()
		if !ok {
			return 0, fmt.Errorf("messages.send: %w: captcha request without captcha_sid or captcha_img", vk.ErrMalformed)
		}
		if attempt >= s.opts.MaxCaptchaAttempts {
			return 0, ErrTooManyCaptchas
		}
		if s.solver == nil {
			return 0, captcha.ErrCancelled
		}
		s.logger.Info("captcha requested", zap.String("image", img), zap.Int("attempt", attempt+1))
		answer, err := s.solver.Solve(ctx, img)
		if err != nil {
			return 0, err
		}
		sid, key = challengeSID, answer
	}
}

// fail writes an error notice with the unsent text into the conversation, if
// it is open, and returns err.
func (s *Sender) fail(m *message, err error) error {
	s.logger.Error("error sending message", zap.Stringer("peer", m.peer), zap.Error(err))
	notice := fmt.Sprintf("Error sending message '%s'", markup.Escape(m.text))
	if _, werr := s.log.WriteError(m.peer, notice); werr != nil {
		s.logger.Warn("write error notice failed", zap.Error(werr))
	}
	return err
}
