package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxBodyRunes caps the length of a message body.
const MaxBodyRunes = 5000

// Draft is an outgoing message before it is persisted.
type Draft struct {
	Body     string      `json:"body"`
	MediaURL string      `json:"media_url,omitempty"`
	Kind     MessageKind `json:"kind,omitempty"`
}

// Normalize validates d and fills in its kind. A draft needs a body or a
// media reference; the kind defaults to image when media is attached.
func (d Draft) Normalize() (Draft, error) {
	d.MediaURL = strings.TrimSpace(d.MediaURL)
	if strings.TrimSpace(d.Body) == "" && d.MediaURL == "" {
		return d, ErrEmptyMessage
	}
	if utf8.RuneCountInString(d.Body) > MaxBodyRunes {
		return d, fmt.Errorf("body exceeds %d characters: %w", MaxBodyRunes, ErrInvalidInput)
	}
	switch {
	case d.Kind == "" && d.MediaURL != "":
		d.Kind = KindImage
	case d.Kind == "":
		d.Kind = KindText
	case !d.Kind.Valid():
		return d, fmt.Errorf("unknown message kind %q: %w", d.Kind, ErrInvalidInput)
	}
	if d.Kind == KindImage && d.MediaURL == "" {
		return d, fmt.Errorf("image message without media: %w", ErrInvalidInput)
	}
	return d, nil
}

// Message builds the unsaved message for conversationID sent by senderID.
func (d Draft) Message(conversationID, senderID string) *Message {
	m := &Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           d.Body,
		Kind:           d.Kind,
	}
	if d.MediaURL != "" {
		media := d.MediaURL
		m.MediaURL = &media
	}
	return m
}
