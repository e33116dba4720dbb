package provider

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/solunalabs/voicegate/internal/cache"
	"github.com/solunalabs/voicegate/internal/perf"
	"github.com/solunalabs/voicegate/internal/voice"
)

// schemaVersion participates in every broker cache key; bumping it
// invalidates all prior cached replies.
const schemaVersion = "v2"

// Broker drives ordered-fallback dispatch over the configured providers.
// Generate never fails: when every provider errors the canned pool for the
// active voice mode supplies the reply.
type Broker struct {
	providers []Provider
	cache     *cache.Cache
	perf      *perf.Monitor
	log       *slog.Logger
}

// NewBroker takes providers in dispatch order. cache and monitor may be nil
// in tests.
func NewBroker(providers []Provider, c *cache.Cache, m *perf.Monitor, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		providers: providers,
		cache:     c,
		perf:      m,
		log:       logger.With("component", "broker"),
	}
}

// Generate returns a reply for msgs in the given mode. Exactly one cache
// write happens per provider-sourced reply; canned fallbacks are never
// cached.
func (b *Broker) Generate(ctx context.Context, msgs []Message, mode voice.Mode) string {
	start := time.Now()
	defer func() {
		if b.perf != nil {
			b.perf.Observe(time.Since(start))
		}
	}()

	keyParts := b.keyParts(msgs, mode)
	if b.cache != nil && keyParts != nil {
		if reply, ok := b.cache.GetString(ctx, cache.ClassAIResponses, keyParts...); ok {
			b.log.Debug("reply served from cache", "mode", mode)
			return reply
		}
	}

	for _, p := range b.providers {
		reply, err := p.Generate(ctx, msgs)
		if err != nil {
			b.log.Warn("provider failed, trying next", "provider", p.Name(), "err", err)
			continue
		}
		if reply == "" {
			b.log.Warn("provider returned empty reply, trying next", "provider", p.Name())
			continue
		}
		if b.cache != nil && keyParts != nil {
			b.cache.Set(ctx, reply, cache.ClassAIResponses, 0, keyParts...)
		}
		b.log.Info("reply generated", "provider", p.Name(), "mode", mode, "elapsed", time.Since(start))
		return reply
	}

	b.log.Warn("all providers failed, using canned fallback", "mode", mode)
	return voice.Fallback(mode)
}

// keyParts builds the cache probe components: canonical JSON of the message
// list, the voice mode, and the broker schema version.
func (b *Broker) keyParts(msgs []Message, mode voice.Mode) []string {
	canonical, err := json.Marshal(msgs)
	if err != nil {
		return nil
	}
	return []string{string(canonical), string(mode), schemaVersion}
}
