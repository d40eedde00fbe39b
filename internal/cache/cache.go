package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache is a TTL-bounded key/value cache. Entries expire on their own, so
// sustained load cannot grow the cache without bound. A nil value with a nil
// error means a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Key builds a stable cache key from namespace and parts. Parts are hashed
// so arbitrary text (chunk contents, questions) stays within key limits.
func Key(namespace string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return namespace + ":" + hex.EncodeToString(h.Sum(nil))
}
