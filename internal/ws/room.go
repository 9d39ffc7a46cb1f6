package ws

import "github.com/umar/carechat/internal/chat"

func HandleSelectRoom(c *Client, payload RoomPayload) {
	if payload.RoomID == "" {
		sendError(c, "room_id is required", CodeInvalidPayload)
		return
	}
	c.view.SelectRoom(payload.RoomID)
}

// HandleAttach stages a file on the draft. Validation failures go back as an
// error frame; they never reach the view's banner.
func HandleAttach(c *Client, payload AttachPayload) {
	if payload.Name == "" {
		sendError(c, "name is required", CodeInvalidPayload)
		return
	}
	if err := c.view.Attach(payload.Name, payload.ContentType, payload.Data); err != nil {
		sendError(c, err.Error(), chat.KindOf(err).String())
	}
}

func sendError(c *Client, message, code string) {
	data, err := NewWSMessage(TypeError, ErrorPayload{Message: message, Code: code})
	if err != nil {
		return
	}
	c.enqueue(data)
}
