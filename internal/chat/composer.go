package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/umar/carechat/internal/models"
)

// AttachmentUploader stores an attachment payload and returns its URL.
type AttachmentUploader interface {
	Upload(ctx context.Context, senderID, fileName string, data []byte, contentType string) (string, error)
}

type Sanitizer interface {
	Sanitize(s string) string
}

// PendingAttachment is the file picked for the current composition. It is
// never persisted before Send.
type PendingAttachment struct {
	Name        string
	ContentType string
	Data        []byte

	// set once the upload succeeded so a retry re-runs only the insert
	uploaded *models.Attachment
}

// Draft is a read-only view of the composer state.
type Draft struct {
	Text       string           `json:"text"`
	Attachment *DraftAttachment `json:"attachment,omitempty"`
}

type DraftAttachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Uploaded    bool   `json:"uploaded"`
}

// Composer owns one user's composition: text plus at most one attachment.
// Only one Send runs at a time.
type Composer struct {
	user      models.User
	writer    MessageWriter
	uploader  AttachmentUploader
	sanitizer Sanitizer
	maxBytes  int64
	detect    func(data []byte, declared string) string

	mu      sync.Mutex
	text    string
	pending *PendingAttachment
	sending bool
}

type ComposerOption func(*Composer)

func WithSanitizer(s Sanitizer) ComposerOption {
	return func(c *Composer) { c.sanitizer = s }
}

// WithMaxAttachmentBytes bounds attachment size; zero means unbounded.
func WithMaxAttachmentBytes(n int64) ComposerOption {
	return func(c *Composer) { c.maxBytes = n }
}

// WithContentTypeDetector fills in the content type of attachments picked
// without one.
func WithContentTypeDetector(fn func(data []byte, declared string) string) ComposerOption {
	return func(c *Composer) { c.detect = fn }
}

func NewComposer(user models.User, writer MessageWriter, uploader AttachmentUploader, opts ...ComposerOption) *Composer {
	c := &Composer{user: user, writer: writer, uploader: uploader}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Composer) SetText(text string) {
	c.mu.Lock()
	c.text = text
	c.mu.Unlock()
}

// Attach replaces the pending attachment.
func (c *Composer) Attach(name, contentType string, data []byte) error {
	if len(data) == 0 {
		return &Error{Kind: KindValidationFailed, Op: "attach", Err: fmt.Errorf("attachment %q is empty", name)}
	}
	if c.maxBytes > 0 && int64(len(data)) > c.maxBytes {
		return &Error{Kind: KindValidationFailed, Op: "attach", Err: fmt.Errorf("attachment %q exceeds %d bytes", name, c.maxBytes)}
	}
	if c.detect != nil {
		contentType = c.detect(data, contentType)
	}

	c.mu.Lock()
	c.pending = &PendingAttachment{Name: name, ContentType: contentType, Data: data}
	c.mu.Unlock()
	return nil
}

// CancelAttachment drops the pending attachment. A send already in flight
// leaves it out unless its insert has started.
func (c *Composer) CancelAttachment() {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
}

func (c *Composer) Draft() Draft {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := Draft{Text: c.text}
	if p := c.pending; p != nil {
		d.Attachment = &DraftAttachment{
			Name:        p.Name,
			ContentType: p.ContentType,
			Size:        len(p.Data),
			Uploaded:    p.uploaded != nil,
		}
	}
	return d
}

func (c *Composer) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}

// Send submits the draft to roomID. An empty draft returns a
// ValidationFailed error without contacting the backend. The new message is
// not echoed locally; the live feed surfaces it.
func (c *Composer) Send(ctx context.Context, roomID string) error {
	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return ErrSendInProgress
	}
	rawText := c.text
	text := strings.TrimSpace(rawText)
	if text != "" && c.sanitizer != nil {
		text = strings.TrimSpace(c.sanitizer.Sanitize(text))
	}
	pending := c.pending
	if roomID == "" || (text == "" && pending == nil) {
		c.mu.Unlock()
		return &Error{Kind: KindValidationFailed, Op: "send"}
	}
	var uploaded *models.Attachment
	if pending != nil {
		uploaded = pending.uploaded
	}
	c.sending = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.sending = false
		c.mu.Unlock()
	}()

	att := uploaded
	if pending != nil && att == nil {
		url, err := c.uploader.Upload(ctx, c.user.ID, pending.Name, pending.Data, pending.ContentType)
		if err != nil {
			return &Error{Kind: KindUploadFailed, Op: "upload attachment", Err: err}
		}
		att = &models.Attachment{URL: url, Name: pending.Name, ContentType: pending.ContentType}

		c.mu.Lock()
		pending.uploaded = att
		c.mu.Unlock()
	}

	if pending != nil {
		c.mu.Lock()
		replaced := c.pending != pending
		c.mu.Unlock()
		if replaced {
			att = nil
			if text == "" {
				return &Error{Kind: KindValidationFailed, Op: "send", Err: errors.New("attachment was removed")}
			}
		}
	}

	_, err := c.writer.CreateMessage(ctx, models.NewMessage{
		RoomID:     roomID,
		SenderID:   c.user.ID,
		Content:    text,
		Attachment: att,
		Kind:       models.KindFor(att),
	})
	if err != nil {
		return &Error{Kind: KindInsertFailed, Op: "insert message", Err: err}
	}

	c.mu.Lock()
	if c.pending == pending {
		c.pending = nil
	}
	// Keep text typed while the send was in flight.
	if c.text == rawText {
		c.text = ""
	}
	c.mu.Unlock()
	return nil
}
