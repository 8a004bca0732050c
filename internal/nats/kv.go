package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/proxylens/chat/internal/kvstore"
)

// DefaultBucket is the key-value bucket used when none is configured.
const DefaultBucket = "PROXYLENS_CHAT"

// KVStore implements kvstore.Store on a JetStream key-value bucket.
type KVStore struct {
	client *Client
	kv     jetstream.KeyValue
}

// OpenKV connects and binds to the configured bucket, creating it if needed.
// Closing the returned store closes the connection.
func OpenKV(ctx context.Context, cfg Config, client *Client) (*KVStore, error) {
	bucket := BucketName(cfg.Bucket)

	kv, err := client.js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = client.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "ProxyLens chat session cache",
			History:     1,
			Storage:     jetstream.FileStorage,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to bind bucket %s: %w", bucket, err)
	}

	return &KVStore{client: client, kv: kv}, nil
}

// BucketName normalizes a configured bucket name. Bucket names may only
// contain letters, digits, dashes and underscores.
func BucketName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultBucket
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return nil, kvstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return entry.Value(), nil
}

func (s *KVStore) Put(ctx context.Context, key string, value []byte) error {
	if _, err := s.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Ready reports whether the connection is currently usable.
func (s *KVStore) Ready() error {
	return s.client.Ready()
}

func (s *KVStore) Close() error {
	s.client.Close()
	return nil
}

var _ kvstore.Store = (*KVStore)(nil)
