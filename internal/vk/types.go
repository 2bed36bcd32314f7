package vk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ItemList is the {count, items} shape shared by friends.get, messages.get,
// messages.getById and messages.getDialogs.
type ItemList struct {
	Count *int              `json:"count"`
	Items []json.RawMessage `json:"items"`
}

// DecodeItemList decodes raw into an ItemList. items must be present; count is
// checked only when requireCount is set.
func DecodeItemList(raw json.RawMessage, requireCount bool) (*ItemList, error) {
	if !isObject(raw) {
		return nil, fmt.Errorf("%w: expected object", ErrMalformed)
	}
	var list ItemList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if list.Items == nil {
		return nil, fmt.Errorf("%w: missing items", ErrMalformed)
	}
	if requireCount && list.Count == nil {
		return nil, fmt.Errorf("%w: missing count", ErrMalformed)
	}
	return &list, nil
}

// DecodeArray decodes raw as a JSON array of opaque elements.
func DecodeArray(raw json.RawMessage) ([]json.RawMessage, error) {
	if !isArray(raw) {
		return nil, fmt.Errorf("%w: expected array", ErrMalformed)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return items, nil
}

// DecodeInt64 decodes a bare integer result such as the messages.send reply.
// Fractions and values outside int64 are malformed.
func DecodeInt64(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("%w: expected integer: %v", ErrMalformed, err)
	}
	v, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: expected integer, got %s", ErrMalformed, n)
	}
	return v, nil
}

// LastSeen is the nested last_seen object of a profile.
type LastSeen struct {
	Time int64 `json:"time"`
}

// Profile is a user object as returned by friends.get and users.get.
type Profile struct {
	ID                     *int64    `json:"id"`
	FirstName              *string   `json:"first_name"`
	LastName               *string   `json:"last_name"`
	Deactivated            *string   `json:"deactivated"`
	CanWritePrivateMessage *int      `json:"can_write_private_message"`
	Photo50                *string   `json:"photo_50"`
	PhotoMaxOrig           *string   `json:"photo_max_orig"`
	Activity               *string   `json:"activity"`
	BirthDate              *string   `json:"bdate"`
	UniversityName         *string   `json:"university_name"`
	FacultyName            *string   `json:"faculty_name"`
	Graduation             *int      `json:"graduation"`
	MobilePhone            *string   `json:"mobile_phone"`
	Domain                 *string   `json:"domain"`
	Online                 *int      `json:"online"`
	OnlineMobile           *int      `json:"online_mobile"`
	LastSeen               *LastSeen `json:"last_seen"`
}

// DecodeProfile decodes and validates one profile. id, first_name and
// last_name are required.
func DecodeProfile(raw json.RawMessage) (*Profile, error) {
	if !isObject(raw) {
		return nil, fmt.Errorf("%w: profile is not an object", ErrMalformed)
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: profile: %v", ErrMalformed, err)
	}
	switch {
	case p.ID == nil:
		return nil, fmt.Errorf("%w: profile without id", ErrMalformed)
	case p.FirstName == nil:
		return nil, fmt.Errorf("%w: profile %d without first_name", ErrMalformed, *p.ID)
	case p.LastName == nil:
		return nil, fmt.Errorf("%w: profile %d without last_name", ErrMalformed, *p.ID)
	}
	return &p, nil
}

// Message is a message object from messages.get / messages.getById.
type Message struct {
	ID          *int64            `json:"id"`
	UserID      *int64            `json:"user_id"`
	Date        *int64            `json:"date"`
	Body        *string           `json:"body"`
	Attachments []json.RawMessage `json:"attachments"`
}

// DecodeMessage decodes and validates one message; user_id, date, body and id
// are required.
func DecodeMessage(raw json.RawMessage) (*Message, error) {
	if !isObject(raw) {
		return nil, fmt.Errorf("%w: message is not an object", ErrMalformed)
	}
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: message: %v", ErrMalformed, err)
	}
	if m.UserID == nil || m.Date == nil || m.Body == nil || m.ID == nil {
		return nil, fmt.Errorf("%w: message missing user_id, date, body or id", ErrMalformed)
	}
	return &m, nil
}

// Photo is the nested object of a "photo" attachment.
type Photo struct {
	ID        *int64  `json:"id"`
	OwnerID   *int64  `json:"owner_id"`
	Text      *string `json:"text"`
	AccessKey *string `json:"access_key"`
	Photo604  *string `json:"photo_604"`
	Photo807  *string `json:"photo_807"`
	Photo1280 *string `json:"photo_1280"`
	Photo2560 *string `json:"photo_2560"`
}

// Video is the nested object of a "video" attachment.
type Video struct {
	ID       *int64  `json:"id"`
	OwnerID  *int64  `json:"owner_id"`
	Title    *string `json:"title"`
	Photo320 *string `json:"photo_320"`
}

// Audio is the nested object of an "audio" attachment.
type Audio struct {
	URL    *string `json:"url"`
	Artist *string `json:"artist"`
	Title  *string `json:"title"`
}

// Doc is the nested object of a "doc" attachment.
type Doc struct {
	URL   *string `json:"url"`
	Title *string `json:"title"`
}

// Attachment is a decoded message attachment. Exactly one of the typed
// pointers is set for known types; all are nil for unknown ones.
type Attachment struct {
	Type  string
	Photo *Photo
	Video *Video
	Audio *Audio
	Doc   *Doc
}

// DecodeAttachment decodes {"type": T, T: {...}} and validates the fields
// each known type needs.
func DecodeAttachment(raw json.RawMessage) (*Attachment, error) {
	if !isObject(raw) {
		return nil, fmt.Errorf("%w: attachment is not an object", ErrMalformed)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: attachment: %v", ErrMalformed, err)
	}
	var typ string
	if err := json.Unmarshal(fields["type"], &typ); err != nil || typ == "" {
		return nil, fmt.Errorf("%w: attachment without type", ErrMalformed)
	}
	nested, ok := fields[typ]
	if !ok || !isObject(nested) {
		return nil, fmt.Errorf("%w: attachment %q without %q object", ErrMalformed, typ, typ)
	}

	a := &Attachment{Type: typ}
	switch typ {
	case "photo":
		a.Photo = new(Photo)
		if err := json.Unmarshal(nested, a.Photo); err != nil {
			return nil, fmt.Errorf("%w: photo: %v", ErrMalformed, err)
		}
		if p := a.Photo; p.ID == nil || p.OwnerID == nil || p.Text == nil || p.Photo604 == nil {
			return nil, fmt.Errorf("%w: photo missing id, owner_id, text or photo_604", ErrMalformed)
		}
	case "video":
		a.Video = new(Video)
		if err := json.Unmarshal(nested, a.Video); err != nil {
			return nil, fmt.Errorf("%w: video: %v", ErrMalformed, err)
		}
		if v := a.Video; v.ID == nil || v.OwnerID == nil || v.Title == nil || v.Photo320 == nil {
			return nil, fmt.Errorf("%w: video missing id, owner_id, title or photo_320", ErrMalformed)
		}
	case "audio":
		a.Audio = new(Audio)
		if err := json.Unmarshal(nested, a.Audio); err != nil {
			return nil, fmt.Errorf("%w: audio: %v", ErrMalformed, err)
		}
		if au := a.Audio; au.URL == nil || au.Artist == nil || au.Title == nil {
			return nil, fmt.Errorf("%w: audio missing url, artist or title", ErrMalformed)
		}
	case "doc":
		a.Doc = new(Doc)
		if err := json.Unmarshal(nested, a.Doc); err != nil {
			return nil, fmt.Errorf("%w: doc: %v", ErrMalformed, err)
		}
		if d := a.Doc; d.URL == nil || d.Title == nil {
			return nil, fmt.Errorf("%w: doc missing url or title", ErrMalformed)
		}
	}
	return a, nil
}

// Dialog is one messages.getDialogs item. Older API versions put user_id at
// the top level, newer ones nest it under "message".
type Dialog struct {
	UserID  *int64 `json:"user_id"`
	Message *struct {
		UserID *int64 `json:"user_id"`
	} `json:"message"`
}

// DecodeDialogPartner returns the partner id of one getDialogs item.
func DecodeDialogPartner(raw json.RawMessage) (int64, error) {
	var d Dialog
	if err := json.Unmarshal(raw, &d); err != nil {
		return 0, fmt.Errorf("%w: dialog: %v", ErrMalformed, err)
	}
	if d.UserID != nil {
		return *d.UserID, nil
	}
	if d.Message != nil && d.Message.UserID != nil {
		return *d.Message.UserID, nil
	}
	return 0, fmt.Errorf("%w: dialog without user_id", ErrMalformed)
}

// ResolvedName is the utils.resolveScreenName reply.
type ResolvedName struct {
	Type     *string `json:"type"`
	ObjectID *int64  `json:"object_id"`
}

// SavedPhoto is one element of the photos.saveMessagesPhoto reply.
type SavedPhoto struct {
	ID      *int64 `json:"id"`
	OwnerID *int64 `json:"owner_id"`
}

// Ref returns the attachment reference "photo<owner>_<id>".
func (p SavedPhoto) Ref() string {
	return fmt.Sprintf("photo%d_%d", *p.OwnerID, *p.ID)
}

// JoinIDs renders ids as a comma-separated list.
func JoinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}
