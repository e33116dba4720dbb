// Package tts synthesizes reply text to audio bytes, caching rendered audio
// as side-files keyed by content hash and voice mode.
package tts

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/solunalabs/voicegate/internal/cache"
	"github.com/solunalabs/voicegate/internal/voice"
)

// schemaVersion participates in the renderer cache key.
const schemaVersion = "v2"

const requestTimeout = 30 * time.Second

// Voice-style baselines; each request carries a small random jitter so
// repeated renders of the same line do not sound identical.
const (
	stabilityBase    = 0.23
	stabilityJitter  = 0.02
	similarityBase   = 0.70
	similarityJitter = 0.03
)

// Renderer posts text to an upstream TTS endpoint and manages the on-disk
// side-file cache. A zero-value Renderer is not usable; construct with New.
type Renderer struct {
	baseURL  string
	apiKey   string
	voiceID  string
	audioDir string
	cache    *cache.Cache
	client   *http.Client
	log      *slog.Logger
}

func New(baseURL, apiKey, voiceID, audioDir string, c *cache.Cache, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		voiceID:  voiceID,
		audioDir: audioDir,
		cache:    c,
		client:   &http.Client{Timeout: requestTimeout},
		log:      logger.With("component", "tts"),
	}
}

// Synthesize renders text to outputPath and returns the written path, or ""
// on any upstream failure; the caller replies without audio in that case.
// A cache hit with a live side-file short-circuits the upstream call.
func (r *Renderer) Synthesize(ctx context.Context, text string, mode voice.Mode, outputPath string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	hash := contentHash(text)
	keyParts := []string{hash, string(mode), "tts", schemaVersion}

	if r.cache != nil {
		if sidePath, ok := r.cache.GetString(ctx, cache.ClassAudio, keyParts...); ok {
			if err := copyFile(sidePath, outputPath); err == nil {
				r.log.Debug("audio served from side-file", "side", sidePath)
				return outputPath
			}
			// Side-file vanished; drop the stale entry and re-render.
			r.cache.Delete(ctx, cache.ClassAudio, keyParts...)
		}
	}

	audio, err := r.render(ctx, text)
	if err != nil {
		r.log.Warn("synthesis failed, replying without audio", "err", err)
		return ""
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		r.log.Warn("create output dir failed", "err", err)
		return ""
	}
	if err := os.WriteFile(outputPath, audio, 0644); err != nil {
		r.log.Warn("write output failed", "path", outputPath, "err", err)
		return ""
	}

	if r.audioDir != "" {
		sidePath := filepath.Join(r.audioDir, SideFileName(hash))
		if err := os.MkdirAll(r.audioDir, 0755); err == nil {
			if err := os.WriteFile(sidePath, audio, 0644); err == nil && r.cache != nil {
				r.cache.Set(ctx, sidePath, cache.ClassAudio, 0, keyParts...)
			}
		}
	}
	return outputPath
}

// SideFileName is the on-disk naming scheme for cached audio.
func SideFileName(hash string) string {
	return "cached_audio_" + hash + ".mp3"
}

func (r *Renderer) render(ctx context.Context, text string) ([]byte, error) {
	if r.apiKey == "" || r.baseURL == "" {
		return nil, fmt.Errorf("tts not configured")
	}

	payload := map[string]any{
		"text":     text,
		"model_id": "eleven_monolingual_v1",
		"voice_settings": map[string]float64{
			"stability":        jitter(stabilityBase, stabilityJitter),
			"similarity_boost": jitter(similarityBase, similarityJitter),
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s", r.baseURL, r.voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", r.apiKey)
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail := gjson.GetBytes(raw, "detail.message").String()
		if detail == "" {
			detail = truncate(string(raw), 200)
		}
		return nil, fmt.Errorf("tts API status %d: %s", resp.StatusCode, detail)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("tts API returned empty body")
	}
	return raw, nil
}

func contentHash(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// jitter returns base ± spread, uniformly.
func jitter(base, spread float64) float64 {
	return base + (rand.Float64()*2-1)*spread
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
