package orchestrator

import (
	"context"
	"regexp"
	"strings"

	"github.com/solunalabs/voicegate/internal/cache"
)

// Music intents.
const (
	IntentPlaySpecific = "PLAY_SPECIFIC"
	IntentPlayGenre    = "PLAY_GENRE"
	IntentUnknown      = "UNKNOWN"
)

// MusicIntent is the recognizer output handed to the playback collaborator.
type MusicIntent struct {
	Intent     string  `json:"intent"`
	Song       string  `json:"song,omitempty"`
	Artist     string  `json:"artist,omitempty"`
	Genre      string  `json:"genre,omitempty"`
	Confidence float64 `json:"confidence"`
}

var (
	playByPattern    = regexp.MustCompile(`(?i)^play\s+(.+?)\s+by\s+(.+)$`)
	playGenrePattern = regexp.MustCompile(`(?i)^play\s+(?:some\s+)?(\w+)\s+music$`)
)

// MusicRecognizer parses playback commands. Parsed intents are cached under
// the music_data class since search lookups downstream are the expensive
// part.
type MusicRecognizer struct {
	cache *cache.Cache
}

func NewMusicRecognizer(c *cache.Cache) *MusicRecognizer {
	return &MusicRecognizer{cache: c}
}

// Recognize classifies text as a music command. Non-commands come back as
// UNKNOWN with zero confidence.
func (m *MusicRecognizer) Recognize(ctx context.Context, text string) MusicIntent {
	text = strings.TrimSpace(text)

	if m.cache != nil {
		var cached MusicIntent
		if m.cache.Get(ctx, &cached, cache.ClassMusicData, "intent", text) {
			return cached
		}
	}

	intent := recognize(text)
	if m.cache != nil && intent.Intent != IntentUnknown {
		m.cache.Set(ctx, intent, cache.ClassMusicData, 0, "intent", text)
	}
	return intent
}

func recognize(text string) MusicIntent {
	if g := playGenrePattern.FindStringSubmatch(text); g != nil {
		return MusicIntent{
			Intent:     IntentPlayGenre,
			Genre:      strings.ToLower(g[1]),
			Confidence: 0.9,
		}
	}
	if s := playByPattern.FindStringSubmatch(text); s != nil {
		return MusicIntent{
			Intent:     IntentPlaySpecific,
			Song:       strings.ToLower(strings.TrimSpace(s[1])),
			Artist:     strings.ToLower(strings.TrimSpace(s[2])),
			Confidence: 0.95,
		}
	}
	return MusicIntent{Intent: IntentUnknown}
}
