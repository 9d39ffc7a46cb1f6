// Package ws serves viewer sessions over websockets. Each connection drives
// one chat.View with JSON command frames and receives its state snapshots.
package ws

import "encoding/json"

const (
	TypeRoomRefresh       = "room.refresh"
	TypeRoomSelect        = "room.select"
	TypeDraftText         = "draft.text"
	TypeDraftAttach       = "draft.attach"
	TypeDraftCancelAttach = "draft.cancel_attachment"
	TypeMessageSend       = "message.send"
	TypeErrorDismiss      = "error.dismiss"
	TypePing              = "ping"

	TypeViewState = "view.state"
	TypeError     = "error"
	TypePong      = "pong"
)

// Error codes carried by TypeError frames.
const (
	CodeInvalidPayload = "INVALID_PAYLOAD"
	CodeUnknownType    = "UNKNOWN_TYPE"
	CodeRateLimited    = "RATE_LIMITED"
)

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type RoomPayload struct {
	RoomID string `json:"room_id"`
}

type DraftTextPayload struct {
	Text string `json:"text"`
}

// AttachPayload carries the file inline; Data is base64 in JSON.
type AttachPayload struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func NewWSMessage(msgType string, payload any) ([]byte, error) {
	var p json.RawMessage
	if payload != nil {
		var err error
		p, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	msg := WSMessage{Type: msgType, Payload: p}
	return json.Marshal(msg)
}
