// Package cache provides a TTL cache over a storage adapter. Every entry
// carries its own expiration horizon and may be read stale as a fallback.
// Storage failures are logged and treated as misses; caching is an
// optimization, never a correctness requirement.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"skywatch/internal/storage"
)

// Entry is the persisted envelope for one cached value. Timestamp and TTL
// are unix milliseconds.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	TTL       int64           `json:"ttl"`
}

type Cache struct {
	Store storage.Adapter
	Log   zerolog.Logger
	Now   func() time.Time
}

func New(store storage.Adapter, log zerolog.Logger) *Cache {
	return &Cache{Store: store, Log: log, Now: time.Now}
}

func (c *Cache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// GetWithTTL reads a cached value. A missing key returns (nil, false). An
// expired entry is deleted and reported as a miss unless allowExpired is
// set, in which case the stale value is returned.
func (c *Cache) GetWithTTL(ctx context.Context, key string, allowExpired bool) (json.RawMessage, bool) {
	raw, err := c.Store.GetItem(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.Log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.Log.Warn().Err(err).Str("key", key).Msg("cache entry corrupt")
		return nil, false
	}
	expired := c.now().UnixMilli()-entry.Timestamp > entry.TTL
	if expired && !allowExpired {
		if err := c.Store.RemoveItem(ctx, key); err != nil {
			c.Log.Warn().Err(err).Str("key", key).Msg("cache evict failed")
		}
		return nil, false
	}
	return entry.Data, true
}

// SetWithTTL overwrites the entry for key with a fresh timestamp.
func (c *Cache) SetWithTTL(ctx context.Context, key string, data any, ttl time.Duration) {
	payload, err := json.Marshal(data)
	if err != nil {
		c.Log.Warn().Err(err).Str("key", key).Msg("cache marshal failed")
		return
	}
	entry := Entry{
		Data:      payload,
		Timestamp: c.now().UnixMilli(),
		TTL:       ttl.Milliseconds(),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		c.Log.Warn().Err(err).Str("key", key).Msg("cache marshal failed")
		return
	}
	if err := c.Store.SetItem(ctx, key, string(raw)); err != nil {
		c.Log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

// ClearPrefix deletes every entry whose key starts with prefix.
func (c *Cache) ClearPrefix(ctx context.Context, prefix string) {
	keys, err := c.Store.Keys(ctx)
	if err != nil {
		c.Log.Warn().Err(err).Str("prefix", prefix).Msg("cache clear failed")
		return
	}
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if err := c.Store.RemoveItem(ctx, key); err != nil {
			c.Log.Warn().Err(err).Str("key", key).Msg("cache evict failed")
		}
	}
}

// Lookup unmarshals a cached value into out, reporting whether a usable
// entry was found.
func (c *Cache) Lookup(ctx context.Context, key string, allowExpired bool, out any) bool {
	data, ok := c.GetWithTTL(ctx, key, allowExpired)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.Log.Warn().Err(err).Str("key", key).Msg("cache decode failed")
		return false
	}
	return true
}
