package sched

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/solunalabs/voicegate/internal/cache"
	"github.com/solunalabs/voicegate/internal/journal"
	"github.com/solunalabs/voicegate/internal/speech"
)

func TestStartStop(t *testing.T) {
	c := cache.New(context.Background(), cache.Options{})
	h := speech.NewHistory()
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("journal open: %v", err)
	}
	defer j.Close()

	ctx, cancel := context.WithCancel(context.Background())
	s := New(c, h, j, nil)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := len(s.cron.Entries()); got != 3 {
		t.Errorf("registered jobs = %d, want 3", got)
	}
	cancel()
	// Stop is idempotent and must not block after cancel.
	s.Stop()
}

func TestStartSkipsNilCollaborators(t *testing.T) {
	s := New(nil, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := len(s.cron.Entries()); got != 0 {
		t.Errorf("registered jobs = %d, want 0", got)
	}
	s.Stop()
}

func TestSweepCacheRemovesExpired(t *testing.T) {
	ctx := context.Background()
	c := cache.New(ctx, cache.Options{})
	c.Set(ctx, "v", cache.ClassEmotion, 10*time.Millisecond, "k")
	time.Sleep(20 * time.Millisecond)

	s := New(c, nil, nil, nil)
	s.sweepCache()
	if got := c.Stats().LocalEntries; got != 0 {
		t.Errorf("entries after sweep = %d", got)
	}
}

func TestTrimHistoryDropsOldReadings(t *testing.T) {
	h := speech.NewHistory()
	h.Record(speech.EmotionReading{Label: "neutral", AnalyzedAt: time.Now().Add(-48 * time.Hour)})
	h.Record(speech.EmotionReading{Label: "excited", AnalyzedAt: time.Now()})

	s := New(nil, h, nil, nil)
	s.trimHistory()
	if got := len(h.All()); got != 1 {
		t.Errorf("readings after trim = %d, want 1", got)
	}
}

func TestDailyDigest(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("journal open: %v", err)
	}
	defer j.Close()

	if err := j.Append(context.Background(), journal.Turn{Event: "hi", Reply: "hey", Mood: "neutral"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	c := cache.New(context.Background(), cache.Options{})
	s := New(c, nil, j, nil)
	s.dailyDigest(context.Background())

	digest, ok := c.GetString(context.Background(), cache.ClassUserContext, "daily_digest")
	if !ok {
		t.Fatal("digest not cached")
	}
	if digest != "1 turns today" {
		t.Errorf("digest = %q", digest)
	}
}
