// Package cache is a two-tier content-addressed store: a bounded in-process
// map backed by an optional Redis tier. A cache failure is never surfaced to
// callers; every error path degrades to a miss.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Class tags a cached artifact with its kind; each class carries its own
// default TTL.
type Class string

const (
	ClassAIResponses Class = "ai_responses"
	ClassMusicData   Class = "music_data"
	ClassEmotion     Class = "emotion_analysis"
	ClassUserContext Class = "user_context"
	ClassAudio       Class = "audio_cache"
)

// TTL returns the default lifetime for entries of this class.
func (c Class) TTL() time.Duration {
	switch c {
	case ClassMusicData:
		return 2 * time.Hour
	case ClassEmotion:
		return 5 * time.Minute
	case ClassUserContext:
		return 30 * time.Minute
	default: // ai_responses, audio_cache
		return time.Hour
	}
}

const (
	// Tier-1 bounds: above maxLocalEntries the oldest evictBatch entries by
	// insertion time are dropped.
	maxLocalEntries = 100
	evictBatch      = 20

	// remoteTimeout bounds every individual Redis call.
	remoteTimeout = 2 * time.Second
)

// Key derives the content address for a (class, components) pair: the class
// tag prefixing an MD5 over the pipe-joined components. Callers fold their
// schema version into parts so a bump invalidates all prior entries.
func Key(class Class, parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	return string(class) + ":" + hex.EncodeToString(sum[:])
}

type localEntry struct {
	value      json.RawMessage
	insertedAt time.Time
	expiresAt  time.Time
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	RemoteErrors  int64 `json:"remote_errors"`
	LocalEntries  int   `json:"local_entries"`
	RemoteEnabled bool  `json:"remote_enabled"`
}

// Cache is safe for concurrent use. The single mutex covers only the local
// map; it is never held across a Redis call.
type Cache struct {
	mu    sync.Mutex
	local map[string]localEntry

	rdb *redis.Client
	log *slog.Logger

	hits         int64
	misses       int64
	remoteErrors int64
}

// Options configures the optional remote tier.
type Options struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Logger        *slog.Logger
}

// New builds the cache. The remote tier is enabled only if the initial ping
// succeeds; otherwise the cache runs tier-1-only and says so once.
func New(ctx context.Context, opts Options) *Cache {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		local: make(map[string]localEntry),
		log:   logger.With("component", "cache"),
	}

	if opts.RedisAddr == "" {
		c.log.Info("remote tier disabled, no address configured")
		return c
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.RedisAddr,
		Password: opts.RedisPassword,
		DB:       opts.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		c.log.Warn("remote tier unreachable, running local-only", "addr", opts.RedisAddr, "err", err)
		_ = rdb.Close()
		return c
	}
	c.rdb = rdb
	c.log.Info("remote tier connected", "addr", opts.RedisAddr)
	return c
}

// Get returns the value stored under (class, parts) and whether it was found.
// The remote tier is consulted first; expired tier-1 entries are purged on
// read. out must be a pointer and receives the decoded value.
func (c *Cache) Get(ctx context.Context, out any, class Class, parts ...string) bool {
	key := Key(class, parts...)

	if c.rdb != nil {
		rctx, cancel := context.WithTimeout(ctx, remoteTimeout)
		raw, err := c.rdb.Get(rctx, key).Bytes()
		cancel()
		switch {
		case err == nil:
			if err := json.Unmarshal(raw, out); err != nil {
				c.log.Warn("remote value undecodable, dropping", "key", key, "err", err)
				c.remoteDelete(ctx, key)
			} else {
				c.recordHit()
				return true
			}
		case err != redis.Nil:
			c.countRemoteError("get", key, err)
		}
	}

	c.mu.Lock()
	entry, ok := c.local[key]
	if ok && time.Now().After(entry.expiresAt) {
		delete(c.local, key)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		c.recordMiss()
		return false
	}
	if err := json.Unmarshal(entry.value, out); err != nil {
		c.recordMiss()
		return false
	}
	c.recordHit()
	return true
}

// GetString is Get for plain string values.
func (c *Cache) GetString(ctx context.Context, class Class, parts ...string) (string, bool) {
	var s string
	if c.Get(ctx, &s, class, parts...) {
		return s, true
	}
	return "", false
}

// Set stores value under (class, parts) in both tiers. A zero ttl means the
// class default. Set reports whether at least the local write happened, which
// is always true for encodable values.
func (c *Cache) Set(ctx context.Context, value any, class Class, ttl time.Duration, parts ...string) bool {
	raw, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("unencodable value not cached", "class", class, "err", err)
		return false
	}
	if ttl <= 0 {
		ttl = class.TTL()
	}
	key := Key(class, parts...)

	if c.rdb != nil {
		rctx, cancel := context.WithTimeout(ctx, remoteTimeout)
		err := c.rdb.Set(rctx, key, raw, ttl).Err()
		cancel()
		if err != nil {
			c.countRemoteError("set", key, err)
		}
	}

	now := time.Now()
	c.mu.Lock()
	c.local[key] = localEntry{value: raw, insertedAt: now, expiresAt: now.Add(ttl)}
	c.evictLocked()
	c.mu.Unlock()
	return true
}

// Delete removes the entry from both tiers.
func (c *Cache) Delete(ctx context.Context, class Class, parts ...string) {
	key := Key(class, parts...)
	c.mu.Lock()
	delete(c.local, key)
	c.mu.Unlock()
	c.remoteDelete(ctx, key)
}

// ClearAll empties both tiers. Counters survive.
func (c *Cache) ClearAll(ctx context.Context) {
	c.mu.Lock()
	c.local = make(map[string]localEntry)
	c.mu.Unlock()

	if c.rdb != nil {
		rctx, cancel := context.WithTimeout(ctx, remoteTimeout)
		defer cancel()
		if err := c.rdb.FlushDB(rctx).Err(); err != nil {
			c.countRemoteError("flushdb", "", err)
		}
	}
}

// SweepExpired drops tier-1 entries whose TTL has elapsed and returns how
// many were removed. The remote tier expires entries on its own.
func (c *Cache) SweepExpired() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.local {
		if now.After(e.expiresAt) {
			delete(c.local, k)
			removed++
		}
	}
	return removed
}

// Stats snapshots the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:          c.hits,
		Misses:        c.misses,
		RemoteErrors:  c.remoteErrors,
		LocalEntries:  len(c.local),
		RemoteEnabled: c.rdb != nil,
	}
}

// Close releases the remote connection if one exists.
func (c *Cache) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// evictLocked drops the evictBatch oldest entries by insertion time once the
// map exceeds maxLocalEntries. Caller holds c.mu.
func (c *Cache) evictLocked() {
	if len(c.local) <= maxLocalEntries {
		return
	}
	type aged struct {
		key string
		at  time.Time
	}
	entries := make([]aged, 0, len(c.local))
	for k, e := range c.local {
		entries = append(entries, aged{k, e.insertedAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })
	n := evictBatch
	if n > len(entries) {
		n = len(entries)
	}
	for _, e := range entries[:n] {
		delete(c.local, e.key)
	}
}

func (c *Cache) remoteDelete(ctx context.Context, key string) {
	if c.rdb == nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()
	if err := c.rdb.Del(rctx, key).Err(); err != nil {
		c.countRemoteError("del", key, err)
	}
}

func (c *Cache) countRemoteError(op, key string, err error) {
	c.mu.Lock()
	c.remoteErrors++
	c.mu.Unlock()
	c.log.Warn(fmt.Sprintf("remote %s failed, treating as miss", op), "key", key, "err", err)
}

func (c *Cache) recordHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}
