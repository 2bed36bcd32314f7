// Package inbox fetches incoming messages, renders their attachments,
// prefetches thumbnails and delivers them to the conversation log.
package inbox

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/matheus3301/vksync/internal/bus"
	"github.com/matheus3301/vksync/internal/directory"
	"github.com/matheus3301/vksync/internal/markup"
	"github.com/matheus3301/vksync/internal/store"
	"github.com/matheus3301/vksync/internal/vk"
)

// ReceivedMessage is one incoming message after attachment rendering.
type ReceivedMessage struct {
	SenderID  int64
	MessageID int64
	// Text is the HTML-escaped body followed by attachment markup.
	Text      string
	Timestamp int64
	// Thumbnails holds the source URL for each <thumbnail-placeholder-N>,
	// where N is the slice index.
	Thumbnails []string
}

// ImageStore keeps fetched thumbnails.
type ImageStore interface {
	AddImage(filename string, data []byte) (int64, error)
}

// Conversations receives delivered messages.
type Conversations interface {
	DeliverIM(m *store.Message) (bool, error)
}

// Discoverer learns about senders the Directory does not know yet.
type Discoverer interface {
	AddToBuddyList(ctx context.Context, ids []int64) error
}

// Options configures a Receiver.
type Options struct {
	// PageSize is the count of each messages.get page.
	PageSize int
}

// Receiver implements the receive pipeline for one connection.
type Receiver struct {
	api     vk.Invoker
	fetcher vk.Fetcher
	dir     *directory.Directory
	images  ImageStore
	convs   Conversations
	roster  Discoverer
	bus     *bus.Bus
	opts    Options
	logger  *zap.Logger
}

// New creates a Receiver.
func New(api vk.Invoker, fetcher vk.Fetcher, dir *directory.Directory, images ImageStore, convs Conversations,
	roster Discoverer, b *bus.Bus, opts Options, logger *zap.Logger) *Receiver {
	if opts.PageSize <= 0 {
		opts.PageSize = 200
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Receiver{
		api:     api,
		fetcher: fetcher,
		dir:     dir,
		images:  images,
		convs:   convs,
		roster:  roster,
		bus:     b,
		opts:    opts,
		logger:  logger.Named("inbox"),
	}
}

// ReceiveUnread pages through unread incoming messages until an empty page,
// then delivers everything collected in timestamp order. A transport error
// stops paging; the messages gathered so far are still delivered and the
// error is returned alongside them.
func (r *Receiver) ReceiveUnread(ctx context.Context) ([]ReceivedMessage, error) {
	var (
		msgs    []ReceivedMessage
		pageErr error
	)
	seen := make(map[int64]bool)
	for offset := 0; ; {
		raw, err := r.api.Call(ctx, "messages.get", url.Values{
			"out":     {"0"},
			"filters": {"1"},
			"offset":  {strconv.Itoa(offset)},
			"count":   {strconv.Itoa(r.opts.PageSize)},
		})
		if err != nil {
			r.logger.Error("messages.get failed, delivering what was collected",
				zap.Int("collected", len(msgs)), zap.Error(err))
			pageErr = err
			break
		}
		page, n := r.parsePage("messages.get", raw, seen)
		if n == 0 {
			break
		}
		msgs = append(msgs, page...)
		offset += n
	}

	delivered, err := r.finish(ctx, msgs)
	return delivered, errors.Join(pageErr, err)
}

// ReceiveByIDs fetches and delivers the given messages with one
// messages.getById call.
func (r *Receiver) ReceiveByIDs(ctx context.Context, ids []int64) ([]ReceivedMessage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw, err := r.api.Call(ctx, "messages.getById", url.Values{"message_ids": {vk.JoinIDs(ids)}})
	if err != nil {
		return nil, err
	}
	msgs, _ := r.parsePage("messages.getById", raw, make(map[int64]bool))
	return r.finish(ctx, msgs)
}

// parsePage decodes one {count, items} page. It returns the valid messages
// and the raw item count, which drives pagination. A malformed page counts as
// empty.
func (r *Receiver) parsePage(method string, raw json.RawMessage, seen map[int64]bool) ([]ReceivedMessage, int) {
	list, err := vk.DecodeItemList(raw, true)
	if err != nil {
		r.logger.Error("malformed page", zap.String("method", method), zap.Error(err))
		return nil, 0
	}
	var msgs []ReceivedMessage
	for _, item := range list.Items {
		m, err := vk.DecodeMessage(item)
		if err != nil {
			r.logger.Error("skipping message", zap.String("method", method), zap.Error(err))
			continue
		}
		if seen[*m.ID] {
			r.logger.Debug("skipping duplicate message", zap.Int64("msg_id", *m.ID))
			continue
		}
		seen[*m.ID] = true

		rm := ReceivedMessage{
			SenderID:  *m.UserID,
			MessageID: *m.ID,
			Text:      markup.Escape(*m.Body),
			Timestamp: *m.Date,
		}
		r.renderAttachments(&rm, m.Attachments)
		msgs = append(msgs, rm)
	}
	return msgs, len(list.Items)
}

func (r *Receiver) renderAttachments(m *ReceivedMessage, items []json.RawMessage) {
	for _, item := range items {
		a, err := vk.DecodeAttachment(item)
		if err != nil {
			r.logger.Warn("skipping attachment", zap.Int64("msg_id", m.MessageID), zap.Error(err))
			continue
		}
		if m.Text != "" {
			m.Text += "<br>"
		}
		switch {
		case a.Photo != nil:
			p := a.Photo
			target := photoURL(p)
			title := *p.Text
			if title == "" {
				title = target
			}
			m.Text += anchor(target, title)
			m.addThumbnail(*p.Photo604)
		case a.Video != nil:
			v := a.Video
			m.Text += anchor(fmt.Sprintf("https://vk.com/video%d_%d", *v.OwnerID, *v.ID), *v.Title)
			m.addThumbnail(*v.Photo320)
		case a.Audio != nil:
			m.Text += anchor(*a.Audio.URL, *a.Audio.Artist+" - "+*a.Audio.Title)
		case a.Doc != nil:
			m.Text += anchor(*a.Doc.URL, *a.Doc.Title)
		default:
			r.logger.Warn("unknown attachment type", zap.String("type", a.Type), zap.Int64("msg_id", m.MessageID))
			m.Text += "Unknown attachment type " + markup.Escape(a.Type)
		}
	}
}

func (m *ReceivedMessage) addThumbnail(src string) {
	m.Text += "<br>" + markup.Placeholder(len(m.Thumbnails))
	m.Thumbnails = append(m.Thumbnails, src)
}

// photoURL links private photos (those with an access key) to their largest
// size and public ones to their vk.com page.
func photoURL(p *vk.Photo) string {
	if p.AccessKey == nil {
		return fmt.Sprintf("https://vk.com/photo%d_%d", *p.OwnerID, *p.ID)
	}
	for _, size := range []*string{p.Photo2560, p.Photo1280, p.Photo807} {
		if size != nil && *size != "" {
			return *size
		}
	}
	return *p.Photo604
}

func anchor(href, title string) string {
	return `<a href="` + markup.Escape(href) + `">` + markup.Escape(title) + `</a>`
}

// fetchThumbnails downloads thumbnails one at a time in message order and
// swaps each placeholder for an inline image tag. Failures leave the
// placeholder in place.
func (r *Receiver) fetchThumbnails(ctx context.Context, msgs []ReceivedMessage) {
	for i := range msgs {
		m := &msgs[i]
		for n, src := range m.Thumbnails {
			if ctx.Err() != nil {
				return
			}
			data, err := r.fetcher.Fetch(ctx, src)
			if err != nil {
				r.logger.Warn("thumbnail download failed", zap.String("url", src), zap.Error(err))
				continue
			}
			id, err := r.images.AddImage(thumbnailName(src), data)
			if err != nil {
				r.logger.Error("thumbnail store failed", zap.String("url", src), zap.Error(err))
				continue
			}
			m.Text = strings.Replace(m.Text, markup.Placeholder(n), markup.ImageTag(id), 1)
		}
	}
}

func thumbnailName(src string) string {
	u, err := url.Parse(src)
	if err != nil || u.Path == "" {
		return "thumbnail.jpg"
	}
	return path.Base(u.Path)
}

// finish prefetches thumbnails, orders msgs by timestamp, introduces unknown
// senders to the roster, delivers every message and acknowledges them with
// a single messages.markAsRead.
func (r *Receiver) finish(ctx context.Context, msgs []ReceivedMessage) ([]ReceivedMessage, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	r.fetchThumbnails(ctx, msgs)
	slices.SortStableFunc(msgs, func(a, b ReceivedMessage) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})

	var errs []error
	if r.roster != nil {
		senders := make([]int64, 0, len(msgs))
		for _, m := range msgs {
			senders = append(senders, m.SenderID)
		}
		if unknown := r.dir.Unknown(senders); len(unknown) > 0 {
			if err := r.roster.AddToBuddyList(ctx, unknown); err != nil {
				r.logger.Warn("sender discovery failed", zap.Int64s("ids", unknown), zap.Error(err))
			}
		}
	}

	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		peer := vk.User(m.SenderID)
		inserted, err := r.convs.DeliverIM(&store.Message{
			Peer:      peer,
			MsgID:     m.MessageID,
			SenderID:  m.SenderID,
			Body:      m.Text,
			Kind:      store.KindReceived,
			Timestamp: m.Timestamp,
		})
		if err != nil {
			r.logger.Error("deliver failed", zap.Int64("msg_id", m.MessageID), zap.Error(err))
			errs = append(errs, fmt.Errorf("deliver %d: %w", m.MessageID, err))
			continue
		}
		ids = append(ids, m.MessageID)
		if inserted {
			r.bus.Emit(bus.KindMessageReceived, bus.MessageReceived{
				Peer:      peer,
				MsgID:     m.MessageID,
				SenderID:  m.SenderID,
				Text:      m.Text,
				Timestamp: m.Timestamp,
			})
		}
	}

	if err := r.MarkAsRead(ctx, ids); err != nil {
		r.logger.Warn("messages.markAsRead failed", zap.Error(err))
		errs = append(errs, err)
	}
	r.logger.Info("messages received", zap.Int("count", len(msgs)))
	return msgs, errors.Join(errs...)
}

// MarkAsRead acknowledges ids with one messages.markAsRead call. No call is
// made when ids is empty.
func (r *Receiver) MarkAsRead(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.api.Call(ctx, "messages.markAsRead", url.Values{"message_ids": {vk.JoinIDs(ids)}})
	return err
}
