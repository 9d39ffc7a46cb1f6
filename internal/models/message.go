package models

import (
	"strings"
	"time"
)

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindFile  MessageKind = "file"
)

// KindFor derives the message kind from an optional attachment content type.
func KindFor(att *Attachment) MessageKind {
	if att == nil {
		return KindText
	}
	if strings.HasPrefix(strings.ToLower(att.ContentType), "image/") {
		return KindImage
	}
	return KindFile
}

type Attachment struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
}

type Message struct {
	ID         string      `json:"id"`
	RoomID     string      `json:"room_id"`
	SenderID   string      `json:"sender_id"`
	Content    string      `json:"content,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Kind       MessageKind `json:"kind"`
	CreatedAt  time.Time   `json:"created_at"`
	Sender     Sender      `json:"sender"`
}

// NewMessage is the record handed to the store; id and created_at are
// assigned server side.
type NewMessage struct {
	RoomID     string
	SenderID   string
	Content    string
	Attachment *Attachment
	Kind       MessageKind
}

// Valid reports whether the record carries text, an attachment, or both.
func (m NewMessage) Valid() bool {
	return m.Content != "" || m.Attachment != nil
}
