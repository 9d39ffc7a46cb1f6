// Package storage holds chat attachments in a NATS JetStream object store.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/umar/carechat/internal/models"
)

// ObjectStore is the object storage interface the chat core consumes.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, key string, data []byte, contentType string) error
	PublicURL(bucket, key string) string
}

// Object is a downloaded attachment.
type Object struct {
	Data        []byte
	ContentType string
}

// JetStreamStore implements ObjectStore on JetStream object-store buckets.
// Buckets are created on first use.
type JetStreamStore struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	baseURL string

	mu      sync.Mutex
	buckets map[string]jetstream.ObjectStore
}

func NewJetStreamStore(natsURL, baseURL string) (*JetStreamStore, error) {
	conn, err := nats.Connect(natsURL, nats.Name("carechat-attachments"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &JetStreamStore{
		conn:    conn,
		js:      js,
		baseURL: strings.TrimRight(baseURL, "/"),
		buckets: make(map[string]jetstream.ObjectStore),
	}, nil
}

func (s *JetStreamStore) bucket(ctx context.Context, name string) (jetstream.ObjectStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buckets[name]; ok {
		return b, nil
	}

	b, err := s.js.ObjectStore(ctx, name)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		b, err = s.js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:      name,
			Description: "chat attachments",
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s: %w", name, err)
	}

	s.buckets[name] = b
	return b, nil
}

func (s *JetStreamStore) Upload(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	b, err := s.bucket(ctx, bucket)
	if err != nil {
		return err
	}

	meta := jetstream.ObjectMeta{
		Name: key,
		Headers: nats.Header{
			"Content-Type": []string{contentType},
		},
	}
	if _, err := b.Put(ctx, meta, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to store object %s: %w", key, err)
	}
	return nil
}

// Get downloads an object. Missing objects and buckets report
// models.ErrNotFound.
func (s *JetStreamStore) Get(ctx context.Context, bucket, key string) (*Object, error) {
	b, err := s.js.ObjectStore(ctx, bucket)
	if err != nil {
		if errors.Is(err, jetstream.ErrBucketNotFound) {
			return nil, fmt.Errorf("bucket %s: %w", bucket, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open bucket %s: %w", bucket, err)
	}

	result, err := b.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, fmt.Errorf("object %s: %w", key, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer result.Close()

	data, err := io.ReadAll(result)
	if err != nil {
		return nil, fmt.Errorf("failed to read object data: %w", err)
	}

	info, err := result.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to get object info: %w", err)
	}

	return &Object{Data: data, ContentType: contentTypeOf(info.Headers)}, nil
}

func (s *JetStreamStore) PublicURL(bucket, key string) string {
	return PublicURL(s.baseURL, bucket, key)
}

func (s *JetStreamStore) Close() error {
	if s.conn != nil {
		return s.conn.Drain()
	}
	return nil
}

// PublicURL builds the download URL served by the files handler. Each key
// segment is escaped separately so the sender-scoped path survives.
func PublicURL(baseURL, bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.TrimRight(baseURL, "/") + "/files/" + url.PathEscape(bucket) + "/" + strings.Join(segments, "/")
}

func contentTypeOf(headers nats.Header) string {
	if headers != nil {
		if ct := headers.Get("Content-Type"); ct != "" {
			return ct
		}
	}
	return "application/octet-stream"
}
