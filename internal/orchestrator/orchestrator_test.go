package orchestrator

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/solunalabs/voicegate/internal/cache"
	"github.com/solunalabs/voicegate/internal/config"
	"github.com/solunalabs/voicegate/internal/journal"
	"github.com/solunalabs/voicegate/internal/provider"
	"github.com/solunalabs/voicegate/internal/speech"
	"github.com/solunalabs/voicegate/internal/voice"
)

// stubBroker implements Generator.
type stubBroker struct {
	reply    string
	panics   bool
	lastMsgs []provider.Message
	lastMode voice.Mode
	calls    int
}

func (s *stubBroker) Generate(ctx context.Context, msgs []provider.Message, mode voice.Mode) string {
	s.calls++
	s.lastMsgs = msgs
	s.lastMode = mode
	if s.panics {
		panic("broker exploded")
	}
	if s.reply != "" {
		return s.reply
	}
	return voice.Fallback(mode)
}

// stubRenderer implements Synthesizer.
type stubRenderer struct {
	fail  bool
	calls int
}

func (s *stubRenderer) Synthesize(ctx context.Context, text string, mode voice.Mode, outputPath string) string {
	s.calls++
	if s.fail {
		return ""
	}
	return outputPath
}

// stubTranscriber implements speech.Transcriber.
type stubTranscriber struct {
	text string
	err  error
}

func (s *stubTranscriber) Transcribe(ctx context.Context, audio []byte, language string) (speech.Transcription, error) {
	return speech.Transcription{Text: s.text, Confidence: 0.9}, s.err
}

// noisyAudio builds n bytes of loud int16 LE samples so the silence probe
// lets the audio through.
func noisyAudio(n int) []byte {
	b := make([]byte, n)
	for i := 0; i+1 < n; i += 2 {
		b[i] = 0xff
		b[i+1] = 0x3f
	}
	return b
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Gateway.AudioDir = t.TempDir()
	cfg.Features.EmotionEnabled = true
	cfg.Persona.Rituals = map[string]string{
		"morning": "Rise and shine. Coffee first, conquest second.",
	}
	cfg.Persona.Vault = map[string]config.VaultEntry{
		"letters": {Key: "1234", Secret: "the letters are under the floorboard"},
	}
	return cfg
}

func testJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("journal open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func newOrchestrator(t *testing.T, b Generator, opts ...func(*Options)) *Orchestrator {
	t.Helper()
	o := Options{
		Config:   testConfig(t),
		Broker:   b,
		Emotions: speech.HeuristicAnalyzer{},
		Journal:  testJournal(t),
		Cache:    cache.New(context.Background(), cache.Options{}),
	}
	for _, f := range opts {
		f(&o)
	}
	return New(o)
}

func TestEmptyRequestGetsCannedReply(t *testing.T) {
	b := &stubBroker{reply: "should not run"}
	o := newOrchestrator(t, b)

	resp := o.HandleTurn(context.Background(), TurnRequest{VoiceMode: "Base"})
	if resp.Reply == "" {
		t.Fatal("empty reply for empty request")
	}
	if b.calls != 0 {
		t.Error("generation ran for empty request")
	}
	if resp.SafeMode {
		t.Error("empty input is not a safe-mode condition")
	}
}

func TestTextTurnNoProviders(t *testing.T) {
	// Broker with no providers always falls back to the mode pool.
	o := newOrchestrator(t, provider.NewBroker(nil, nil, nil, nil))

	resp := o.HandleTurn(context.Background(), TurnRequest{Text: "hello", VoiceMode: "Base", SkipAudio: true})
	if !voice.IsFallback(voice.ModeBase, resp.Reply) {
		t.Errorf("reply %q not from the Base pool", resp.Reply)
	}
	if resp.VoiceModeAdapted {
		t.Error("text-only turn adapted voice mode")
	}
	if resp.AudioURL != nil {
		t.Errorf("audio_url = %q, want null", *resp.AudioURL)
	}
}

func TestTextTurnGeneratesAndPersists(t *testing.T) {
	b := &stubBroker{reply: "hi there"}
	j := testJournal(t)
	o := newOrchestrator(t, b, func(opts *Options) { opts.Journal = j })

	resp := o.HandleTurn(context.Background(), TurnRequest{Text: "hello", VoiceMode: "Base", SkipAudio: true})
	if resp.Reply != "hi there" {
		t.Errorf("reply = %q", resp.Reply)
	}
	if resp.OriginalVoiceMode != "Base" || resp.AdaptedVoiceMode != "Base" {
		t.Errorf("modes = %s/%s", resp.OriginalVoiceMode, resp.AdaptedVoiceMode)
	}

	turns, err := j.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("journal has %d turns, want 1", len(turns))
	}
	if turns[0].Event != "hello" || turns[0].Reply != "hi there" {
		t.Errorf("persisted turn = %+v", turns[0])
	}
	if turns[0].Mood != "Unknown" {
		t.Errorf("text-only mood = %q, want Unknown", turns[0].Mood)
	}
}

func TestLargeAudioAdaptsToHype(t *testing.T) {
	b := &stubBroker{reply: "pumped up reply"}
	o := newOrchestrator(t, b, func(opts *Options) {
		opts.Transcriber = &stubTranscriber{text: "let's go"}
	})

	resp := o.HandleTurn(context.Background(), TurnRequest{
		Audio:     noisyAudio(150 * 1024),
		VoiceMode: "Base",
		SkipAudio: true,
	})
	if resp.EmotionData == nil || resp.EmotionData.Label != "excited" {
		t.Fatalf("emotion = %+v", resp.EmotionData)
	}
	if resp.AdaptedVoiceMode != "Hype" || !resp.VoiceModeAdapted {
		t.Errorf("adapted = %s (%v)", resp.AdaptedVoiceMode, resp.VoiceModeAdapted)
	}
	if b.lastMode != voice.ModeHype {
		t.Errorf("broker saw mode %s", b.lastMode)
	}
	if resp.Transcript != "let's go" {
		t.Errorf("transcript = %q", resp.Transcript)
	}
}

func TestSmallAudioAdaptsToEmpathy(t *testing.T) {
	b := &stubBroker{reply: "gentle reply"}
	o := newOrchestrator(t, b, func(opts *Options) {
		opts.Transcriber = &stubTranscriber{text: "rough day"}
	})

	resp := o.HandleTurn(context.Background(), TurnRequest{
		Audio:     noisyAudio(5 * 1024),
		VoiceMode: "Base",
		SkipAudio: true,
	})
	if resp.EmotionData == nil || resp.EmotionData.Label != "sad" {
		t.Fatalf("emotion = %+v", resp.EmotionData)
	}
	if resp.AdaptedVoiceMode != "Empathy" {
		t.Errorf("adapted = %s", resp.AdaptedVoiceMode)
	}
}

func TestSilentAudioSkipsTranscription(t *testing.T) {
	tr := &stubTranscriber{text: "should not be used"}
	o := newOrchestrator(t, &stubBroker{reply: "ok"}, func(opts *Options) {
		opts.Transcriber = tr
	})

	resp := o.HandleTurn(context.Background(), TurnRequest{
		Audio:     make([]byte, 40*1024),
		SkipAudio: true,
	})
	if resp.Transcript != "" {
		t.Errorf("transcript = %q for silent audio", resp.Transcript)
	}
	if resp.Reply == "" {
		t.Error("silent audio turn has no reply")
	}
}

func TestExplicitModeNotAdapted(t *testing.T) {
	b := &stubBroker{reply: "ok"}
	o := newOrchestrator(t, b, func(opts *Options) {
		opts.Transcriber = &stubTranscriber{text: "rough day"}
	})

	resp := o.HandleTurn(context.Background(), TurnRequest{
		Audio:     noisyAudio(5 * 1024),
		VoiceMode: "Sassy",
		SkipAudio: true,
	})
	if resp.AdaptedVoiceMode != "Sassy" || resp.VoiceModeAdapted {
		t.Errorf("explicit mode overridden: %s (%v)", resp.AdaptedVoiceMode, resp.VoiceModeAdapted)
	}
}

func TestIllFormedBytesSanitized(t *testing.T) {
	b := &stubBroker{reply: "echo: \xe0\x80\x80 done"}
	o := newOrchestrator(t, b)

	resp := o.HandleTurn(context.Background(), TurnRequest{
		Text:      "contains \xe0\x80\x80 junk",
		SkipAudio: true,
	})
	if !utf8.ValidString(resp.Reply) {
		t.Fatal("reply is not valid UTF-8")
	}
	if !strings.ContainsRune(resp.Reply, '�') {
		t.Error("ill-formed bytes not replaced with U+FFFD")
	}
}

func TestRitualShortCircuit(t *testing.T) {
	b := &stubBroker{reply: "should not run"}
	o := newOrchestrator(t, b)

	resp := o.HandleTurn(context.Background(), TurnRequest{
		Text:      "anything",
		RitualTag: "morning",
		SkipAudio: true,
	})
	if resp.Reply != "Rise and shine. Coffee first, conquest second." {
		t.Errorf("reply = %q", resp.Reply)
	}
	if b.calls != 0 {
		t.Error("ritual did not skip generation")
	}
}

func TestVaultUnlock(t *testing.T) {
	b := &stubBroker{reply: "should not run"}
	o := newOrchestrator(t, b)
	ctx := context.Background()

	resp := o.HandleTurn(ctx, TurnRequest{Text: "vault unlock: letters, key 1234", SkipAudio: true})
	if resp.Reply != "the letters are under the floorboard" {
		t.Errorf("good key: %q", resp.Reply)
	}

	resp = o.HandleTurn(ctx, TurnRequest{Text: "vault unlock: letters, key 9999", SkipAudio: true})
	if resp.Reply != "That key doesn't fit." {
		t.Errorf("bad key: %q", resp.Reply)
	}

	resp = o.HandleTurn(ctx, TurnRequest{Text: "vault unlock: nothere, key 1", SkipAudio: true})
	if resp.Reply != "That vault doesn't exist." {
		t.Errorf("unknown vault: %q", resp.Reply)
	}

	if b.calls != 0 {
		t.Error("vault commands did not skip generation")
	}
}

func TestAudioRenderFailureDoesNotFailTurn(t *testing.T) {
	b := &stubBroker{reply: "spoken reply"}
	r := &stubRenderer{fail: true}
	o := newOrchestrator(t, b, func(opts *Options) { opts.Renderer = r })

	resp := o.HandleTurn(context.Background(), TurnRequest{Text: "hello"})
	if resp.Reply != "spoken reply" {
		t.Errorf("reply = %q", resp.Reply)
	}
	if resp.AudioURL != nil {
		t.Errorf("audio_url = %q after render failure", *resp.AudioURL)
	}
	if r.calls != 1 {
		t.Errorf("renderer called %d times", r.calls)
	}
}

func TestAudioRendered(t *testing.T) {
	b := &stubBroker{reply: "spoken reply"}
	r := &stubRenderer{}
	o := newOrchestrator(t, b, func(opts *Options) { opts.Renderer = r })

	resp := o.HandleTurn(context.Background(), TurnRequest{Text: "hello"})
	if resp.AudioURL == nil || !strings.HasPrefix(*resp.AudioURL, "/audio/reply_") {
		t.Errorf("audio_url = %v", resp.AudioURL)
	}
}

func TestFallbackReplyStillRendered(t *testing.T) {
	r := &stubRenderer{}
	o := newOrchestrator(t, provider.NewBroker(nil, nil, nil, nil),
		func(opts *Options) { opts.Renderer = r })

	resp := o.HandleTurn(context.Background(), TurnRequest{Text: "hello", VoiceMode: "Base"})
	if !voice.IsFallback(voice.ModeBase, resp.Reply) {
		t.Fatalf("reply %q not from the Base pool", resp.Reply)
	}
	if r.calls != 1 {
		t.Errorf("renderer called %d times, want 1", r.calls)
	}
	if resp.AudioURL == nil || !strings.HasPrefix(*resp.AudioURL, "/audio/reply_") {
		t.Errorf("audio_url = %v", resp.AudioURL)
	}
}

func TestResponseNullableFields(t *testing.T) {
	o := newOrchestrator(t, &stubBroker{reply: "hi"})

	resp := o.HandleTurn(context.Background(), TurnRequest{Text: "hello", SkipAudio: true})
	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"audio_url":null`, `"emotion_data":null`} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("body %s missing %s", raw, want)
		}
	}
}

func TestSkipAudio(t *testing.T) {
	r := &stubRenderer{}
	o := newOrchestrator(t, &stubBroker{reply: "text only"}, func(opts *Options) { opts.Renderer = r })

	resp := o.HandleTurn(context.Background(), TurnRequest{Text: "hello", SkipAudio: true})
	if resp.AudioURL != nil || r.calls != 0 {
		t.Errorf("renderer ran despite skip_audio (url=%v calls=%d)", resp.AudioURL, r.calls)
	}
}

func TestPanicYieldsSafeMode(t *testing.T) {
	o := newOrchestrator(t, &stubBroker{panics: true})

	resp := o.HandleTurn(context.Background(), TurnRequest{Text: "boom", SkipAudio: true})
	if !resp.SafeMode {
		t.Fatal("safe_mode not set")
	}
	if resp.Error != "internal_error" {
		t.Errorf("error tag = %q", resp.Error)
	}
	if resp.Reply == "" {
		t.Error("safe-mode response has no reply")
	}
}

func TestContextCachedByLatestTurn(t *testing.T) {
	c := cache.New(context.Background(), cache.Options{})
	j := testJournal(t)
	b := &stubBroker{reply: "reply"}
	o := newOrchestrator(t, b, func(opts *Options) {
		opts.Cache = c
		opts.Journal = j
	})
	ctx := context.Background()

	o.HandleTurn(ctx, TurnRequest{Text: "same question", SkipAudio: true})
	first := b.lastMsgs[0].Content

	// A new turn landed in the journal, but the cached context for the same
	// latest-user-turn key is reused.
	o.HandleTurn(ctx, TurnRequest{Text: "same question", SkipAudio: true})
	second := b.lastMsgs[0].Content
	if first != second {
		t.Error("system context rebuilt despite cache")
	}
}

func TestCanceledTurnSkipsPersist(t *testing.T) {
	j := testJournal(t)
	o := newOrchestrator(t, &stubBroker{reply: "late reply"}, func(opts *Options) { opts.Journal = j })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o.HandleTurn(ctx, TurnRequest{Text: "hello", SkipAudio: true})

	n, err := j.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("canceled turn persisted %d records", n)
	}
}

func TestMusicRecognizer(t *testing.T) {
	m := NewMusicRecognizer(cache.New(context.Background(), cache.Options{}))
	ctx := context.Background()

	got := m.Recognize(ctx, "play flowers by miley cyrus")
	if got.Intent != IntentPlaySpecific {
		t.Fatalf("intent = %s", got.Intent)
	}
	if got.Song != "flowers" || got.Artist != "miley cyrus" {
		t.Errorf("song/artist = %q/%q", got.Song, got.Artist)
	}
	if got.Confidence < 0.9 {
		t.Errorf("confidence = %v", got.Confidence)
	}

	if g := m.Recognize(ctx, "play some jazz music"); g.Intent != IntentPlayGenre || g.Genre != "jazz" {
		t.Errorf("genre intent = %+v", g)
	}
	if u := m.Recognize(ctx, "what's the weather"); u.Intent != IntentUnknown {
		t.Errorf("unknown intent = %+v", u)
	}
}
