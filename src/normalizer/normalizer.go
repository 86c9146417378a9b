package normalizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lucaspeixotoadv/crm-webhook-core/src/models"
)

// Soft-reject errors. The transport layer answers 200 for these: a
// structurally unrecognized payload cannot be fixed by a vendor retry.
var (
	ErrUnparsable       = errors.New("payload is not valid JSON")
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMissingFields    = errors.New("payload missing required fields")
)

// kindByCallback is the total mapping of vendor callback types onto the
// canonical taxonomy. Legacy aliases of the same conceptual type must map
// identically.
var kindByCallback = map[string]models.EventKind{
	// message received/sent sub-variants
	"ReceivedCallback":        models.KindMessage,
	"SentCallback":            models.KindMessage,
	"MessageReceivedCallback": models.KindMessage,

	// delivery / read receipts
	"MessageStatusCallback": models.KindStatus,
	"DeliveryCallback":      models.KindStatus,
	"StatusCallback":        models.KindStatus,

	// typing / recording indicators
	"PresenceChatCallback": models.KindPresence,
	"ChatPresenceCallback": models.KindPresence,

	// instance connection state
	"ConnectedCallback":    models.KindConnection,
	"DisconnectedCallback": models.KindConnection,
}

// vendorPayload mirrors the messaging platform's callback body. Only the
// fields the canonical model needs are declared; everything else is carried
// along in RawPayload.
type vendorPayload struct {
	Type       string   `json:"type"`
	InstanceID string   `json:"instanceId"`
	MessageID  string   `json:"messageId"`
	IDs        []string `json:"ids"`
	Phone      string   `json:"phone"`
	Momment    int64    `json:"momment"`
	Timestamp  int64    `json:"timestamp"`

	Status    string `json:"status"`
	Connected bool   `json:"connected"`

	FromMe      bool   `json:"fromMe"`
	IsGroup     bool   `json:"isGroup"`
	Forwarded   bool   `json:"forwarded"`
	SenderName  string `json:"senderName"`
	SenderPhoto string `json:"senderPhoto"`
	ChatName    string `json:"chatName"`

	Text     *vendorText  `json:"text"`
	Image    *vendorMedia `json:"image"`
	Video    *vendorMedia `json:"video"`
	Audio    *vendorMedia `json:"audio"`
	Document *vendorMedia `json:"document"`
}

type vendorText struct {
	Message string `json:"message"`
}

type vendorMedia struct {
	ImageURL    string `json:"imageUrl"`
	VideoURL    string `json:"videoUrl"`
	AudioURL    string `json:"audioUrl"`
	DocumentURL string `json:"documentUrl"`
	Caption     string `json:"caption"`
	MimeType    string `json:"mimeType"`
	FileName    string `json:"fileName"`
}

func (m *vendorMedia) url() string {
	for _, u := range []string{m.ImageURL, m.VideoURL, m.AudioURL, m.DocumentURL} {
		if u != "" {
			return u
		}
	}
	return ""
}

// Normalizer maps heterogeneous vendor payloads into canonical events.
type Normalizer struct{}

// New creates a Normalizer.
func New() *Normalizer {
	return &Normalizer{}
}

// Unwrap extracts the event object from the vendor envelope. Some delivery
// modes wrap the payload in an array whose first element carries the event
// under a "body" field; bare objects pass through untouched.
func Unwrap(raw []byte) ([]byte, error) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, ErrUnparsable
	}
	if trimmed[0] != '[' {
		return raw, nil
	}

	var envelope []struct {
		Body json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	if len(envelope) == 0 || len(envelope[0].Body) == 0 {
		return nil, ErrMissingFields
	}
	return envelope[0].Body, nil
}

// Normalize maps a raw vendor payload into one CanonicalEvent. tenantID is
// the tenant resolved from the request credentials; a tenant identifier in
// the payload itself takes precedence. Unknown callback types and missing
// required fields are soft-rejects.
func (n *Normalizer) Normalize(tenantID string, raw []byte) (*models.CanonicalEvent, error) {
	body, err := Unwrap(raw)
	if err != nil {
		return nil, err
	}

	var p vendorPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}

	if p.Type == "" {
		return nil, ErrMissingFields
	}
	kind, ok := kindByCallback[p.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, p.Type)
	}

	if p.InstanceID != "" {
		tenantID = p.InstanceID
	}
	ts := sourceTimestamp(&p)
	if tenantID == "" || p.Phone == "" || ts.IsZero() {
		return nil, ErrMissingFields
	}

	event := &models.CanonicalEvent{
		ID:              eventID(&p, kind),
		Kind:            kind,
		TenantID:        tenantID,
		ReceivedAt:      time.Now(),
		SourceTimestamp: ts,
		Metadata: models.EventMetadata{
			Phone:       p.Phone,
			ChatName:    p.ChatName,
			SenderName:  p.SenderName,
			SenderPhoto: p.SenderPhoto,
			IsGroup:     p.IsGroup,
			Forwarded:   p.Forwarded,
			FromMe:      p.FromMe,
			Status:      p.Status,
			Connected:   p.Connected,
		},
		RawPayload: json.RawMessage(body),
	}

	if kind == models.KindMessage {
		event.Content = extractContent(&p)
	}

	return event, nil
}

// eventID derives the globally unique event identifier. Messages carry a
// vendor message id (possibly as a list); presence and connection callbacks
// do not, so their id is synthesized from type, phone and timestamp.
func eventID(p *vendorPayload, kind models.EventKind) string {
	if p.MessageID != "" {
		return p.MessageID
	}
	if len(p.IDs) > 0 && p.IDs[0] != "" {
		return p.IDs[0]
	}
	return fmt.Sprintf("%s:%s:%d", p.Type, p.Phone, rawTimestamp(p))
}

func rawTimestamp(p *vendorPayload) int64 {
	if p.Momment != 0 {
		return p.Momment
	}
	return p.Timestamp
}

// sourceTimestamp interprets the vendor timestamp. The primary field is in
// unix milliseconds; the legacy field may be seconds or milliseconds.
func sourceTimestamp(p *vendorPayload) time.Time {
	ms := rawTimestamp(p)
	if ms == 0 {
		return time.Time{}
	}
	if ms < 1_000_000_000_000 {
		return time.Unix(ms, 0)
	}
	return time.UnixMilli(ms)
}

func extractContent(p *vendorPayload) *models.MessageContent {
	content := &models.MessageContent{}
	switch {
	case p.Text != nil:
		content.Text = p.Text.Message
	case p.Image != nil:
		content.Image = mediaContent(p.Image)
	case p.Video != nil:
		content.Video = mediaContent(p.Video)
	case p.Audio != nil:
		content.Audio = mediaContent(p.Audio)
	case p.Document != nil:
		content.Document = mediaContent(p.Document)
	}
	return content
}

func mediaContent(m *vendorMedia) *models.MediaContent {
	return &models.MediaContent{
		URL:      m.url(),
		Caption:  m.Caption,
		MimeType: m.MimeType,
		FileName: m.FileName,
	}
}
