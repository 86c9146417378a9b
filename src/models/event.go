package models

import (
	"encoding/json"
	"time"
)

// EventKind is the channel-independent taxonomy for inbound callbacks.
type EventKind string

const (
	KindMessage    EventKind = "message"
	KindStatus     EventKind = "status"
	KindPresence   EventKind = "presence"
	KindConnection EventKind = "connection"
)

// Valid reports whether the kind is one of the four known kinds.
func (k EventKind) Valid() bool {
	switch k {
	case KindMessage, KindStatus, KindPresence, KindConnection:
		return true
	}
	return false
}

// CanonicalEvent is the normalized, vendor-agnostic representation of an
// inbound webhook callback. ID must be unique within the dedup window; it is
// derived from the vendor's message identifier.
type CanonicalEvent struct {
	ID              string          `json:"id"`
	Kind            EventKind       `json:"kind"`
	TenantID        string          `json:"tenant_id"`
	ReceivedAt      time.Time       `json:"received_at"`
	SourceTimestamp time.Time       `json:"source_timestamp"`
	Content         *MessageContent `json:"content,omitempty"`
	Metadata        EventMetadata   `json:"metadata"`
	RawPayload      json.RawMessage `json:"raw_payload,omitempty"`
}

// MessageContent holds the media-specific body of a message callback.
// Exactly one of the sub-objects is set for media messages; Text is set for
// plain text.
type MessageContent struct {
	Text     string        `json:"text,omitempty"`
	Image    *MediaContent `json:"image,omitempty"`
	Video    *MediaContent `json:"video,omitempty"`
	Audio    *MediaContent `json:"audio,omitempty"`
	Document *MediaContent `json:"document,omitempty"`
}

// MediaContent describes a media attachment referenced by URL.
type MediaContent struct {
	URL      string `json:"url"`
	Caption  string `json:"caption,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	FileName string `json:"file_name,omitempty"`
}

// EventMetadata carries sender and conversation context shared by all kinds.
type EventMetadata struct {
	Phone       string `json:"phone"`
	ChatName    string `json:"chat_name,omitempty"`
	SenderName  string `json:"sender_name,omitempty"`
	SenderPhoto string `json:"sender_photo,omitempty"`
	IsGroup     bool   `json:"is_group"`
	Forwarded   bool   `json:"forwarded"`
	FromMe      bool   `json:"from_me"`
	Status      string `json:"status,omitempty"`
	Connected   bool   `json:"connected,omitempty"`
}
