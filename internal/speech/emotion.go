package speech

import (
	"sync"
	"time"
)

// EmotionReading is the auxiliary analysis attached to an audio turn.
type EmotionReading struct {
	Label      string             `json:"emotion"`
	Confidence float64            `json:"confidence"`
	Scores     map[string]float64 `json:"scores"`
	AnalyzedAt time.Time          `json:"analysis_time"`
}

// EmotionAnalyzer is a pluggable capability; HeuristicAnalyzer is the
// contractually guaranteed floor and callers must tolerate it.
type EmotionAnalyzer interface {
	AnalyzeEmotion(audio []byte) EmotionReading
}

// Length bands for the heuristic floor.
const (
	sadBelowBytes     = 20 * 1024
	excitedAboveBytes = 100 * 1024
)

// HeuristicAnalyzer classifies purely by payload size. Richer models may
// substitute anything that fits the same output shape.
type HeuristicAnalyzer struct{}

func (HeuristicAnalyzer) AnalyzeEmotion(audio []byte) EmotionReading {
	r := EmotionReading{
		Scores:     map[string]float64{"happy": 0, "sad": 0, "excited": 0, "angry": 0, "neutral": 0},
		AnalyzedAt: time.Now().UTC(),
	}
	switch {
	case len(audio) > excitedAboveBytes:
		r.Label = "excited"
		r.Confidence = 0.8
	case len(audio) < sadBelowBytes:
		r.Label = "sad"
		r.Confidence = 0.8
	default:
		r.Label = "neutral"
		r.Confidence = 0.6
	}
	r.Scores[r.Label] = r.Confidence
	return r
}

// historyLimit bounds the retained reading history.
const historyLimit = 50

// History keeps the most recent emotion readings for the reporting surface.
type History struct {
	mu       sync.Mutex
	readings []EmotionReading
}

func NewHistory() *History {
	return &History{}
}

func (h *History) Record(r EmotionReading) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readings = append(h.readings, r)
	if len(h.readings) > historyLimit {
		h.readings = h.readings[len(h.readings)-historyLimit:]
	}
}

// Latest returns the most recent reading, if any.
func (h *History) Latest() (EmotionReading, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.readings) == 0 {
		return EmotionReading{}, false
	}
	return h.readings[len(h.readings)-1], true
}

// All returns a copy of the retained readings, oldest first.
func (h *History) All() []EmotionReading {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]EmotionReading, len(h.readings))
	copy(out, h.readings)
	return out
}

// Trim drops readings older than maxAge and returns how many were removed.
func (h *History) Trim(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.readings[:0]
	removed := 0
	for _, r := range h.readings {
		if r.AnalyzedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	h.readings = kept
	return removed
}
