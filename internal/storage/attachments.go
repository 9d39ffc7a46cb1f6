package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// AttachmentClient uploads chat attachments into one bucket and hands back
// their retrieval URL.
type AttachmentClient struct {
	store  ObjectStore
	bucket string
	now    func() time.Time
}

func NewAttachmentClient(store ObjectStore, bucket string) *AttachmentClient {
	return &AttachmentClient{store: store, bucket: bucket, now: time.Now}
}

// Upload stores data under a sender-scoped key and returns its public URL.
func (c *AttachmentClient) Upload(ctx context.Context, senderID, fileName string, data []byte, contentType string) (string, error) {
	key := ObjectKey(senderID, fileName, c.now(), uuid.NewString())
	if err := c.store.Upload(ctx, c.bucket, key, data, contentType); err != nil {
		return "", err
	}
	return c.store.PublicURL(c.bucket, key), nil
}

// ObjectKey is <sender>/<unix millis>-<nonce><ext>.
func ObjectKey(senderID, fileName string, at time.Time, nonce string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(fileName, `\`, "/"))))
	return fmt.Sprintf("%s/%d-%s%s", senderID, at.UnixMilli(), nonce, ext)
}

// DetectContentType sniffs the payload when the client sent no type.
func DetectContentType(data []byte, declared string) string {
	if declared = strings.TrimSpace(declared); declared != "" {
		return declared
	}
	return mimetype.Detect(data).String()
}
