// Package orchestrator drives one inbound turn through the pipeline:
// ingest, transcribe, emotion, mode adaptation, context build, generation,
// audio rendering, persistence, response. It owns the lifecycle of a single
// in-flight turn; the cache and journal are shared collaborators with their
// own synchronization.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/solunalabs/voicegate/internal/cache"
	"github.com/solunalabs/voicegate/internal/config"
	"github.com/solunalabs/voicegate/internal/journal"
	"github.com/solunalabs/voicegate/internal/perf"
	"github.com/solunalabs/voicegate/internal/provider"
	"github.com/solunalabs/voicegate/internal/speech"
	"github.com/solunalabs/voicegate/internal/textutil"
	"github.com/solunalabs/voicegate/internal/voice"
)

// contextSchemaVersion participates in the user_context cache key.
const contextSchemaVersion = "v2"

// adaptConfidence is the emotion confidence above which the voice mode is
// remapped.
const adaptConfidence = 0.6

// TurnRequest is the already-decoded inbound turn; the HTTP layer handles
// multipart parsing.
type TurnRequest struct {
	Text      string
	Audio     []byte
	VoiceMode string
	RitualTag string
	SkipAudio bool
}

// Performance carries per-turn timing in the response body.
type Performance struct {
	TotalResponseTime float64 `json:"total_response_time"`
}

// TurnResponse is the JSON body returned for every turn.
type TurnResponse struct {
	Reply             string                 `json:"reply"`
	AudioURL          *string                `json:"audio_url"`
	EmotionData       *speech.EmotionReading `json:"emotion_data"`
	VoiceModeAdapted  bool                   `json:"voice_mode_adapted"`
	OriginalVoiceMode string                 `json:"original_voice_mode"`
	AdaptedVoiceMode  string                 `json:"adapted_voice_mode"`
	Transcript        string                 `json:"transcript,omitempty"`
	Performance       Performance            `json:"performance"`
	SafeMode          bool                   `json:"safe_mode,omitempty"`
	Error             string                 `json:"error,omitempty"`
}

// Generator is the broker's contract; it never fails.
type Generator interface {
	Generate(ctx context.Context, msgs []provider.Message, mode voice.Mode) string
}

// Synthesizer is the TTS renderer's contract; "" means no audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, mode voice.Mode, outputPath string) string
}

// Orchestrator is safe for concurrent turns.
type Orchestrator struct {
	cfg         *config.Config
	broker      Generator
	transcriber speech.Transcriber
	emotions    speech.EmotionAnalyzer
	renderer    Synthesizer
	journal     *journal.Journal
	cache       *cache.Cache
	perf        *perf.Monitor
	history     *speech.History
	music       *MusicRecognizer
	log         *slog.Logger
}

// Options wires the orchestrator. Transcriber, Emotions and Renderer may be
// nil; the corresponding stages are skipped.
type Options struct {
	Config      *config.Config
	Broker      Generator
	Transcriber speech.Transcriber
	Emotions    speech.EmotionAnalyzer
	Renderer    Synthesizer
	Journal     *journal.Journal
	Cache       *cache.Cache
	Perf        *perf.Monitor
	History     *speech.History
	Logger      *slog.Logger
}

func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	history := opts.History
	if history == nil {
		history = speech.NewHistory()
	}
	return &Orchestrator{
		cfg:         opts.Config,
		broker:      opts.Broker,
		transcriber: opts.Transcriber,
		emotions:    opts.Emotions,
		renderer:    opts.Renderer,
		journal:     opts.Journal,
		cache:       opts.Cache,
		perf:        opts.Perf,
		history:     history,
		music:       NewMusicRecognizer(opts.Cache),
		log:         logger.With("component", "orchestrator"),
	}
}

// History exposes the emotion reading history for the reporting surface.
func (o *Orchestrator) History() *speech.History { return o.history }

// Music exposes the music-command recognizer.
func (o *Orchestrator) Music() *MusicRecognizer { return o.music }

// HandleTurn runs the full pipeline. It never returns an error: unexpected
// panics become a safe-mode response, and every other failure degrades per
// its stage contract.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (resp TurnResponse) {
	start := time.Now()
	var end func()
	if o.perf != nil {
		end = o.perf.Begin()
	} else {
		end = func() {}
	}
	defer end()

	requested := voice.Parse(req.VoiceMode)
	explicitMode := req.VoiceMode != "" && requested != voice.ModeBase

	defer func() {
		if r := recover(); r != nil {
			o.log.Error("turn panicked, returning safe-mode response", "panic", r)
			resp = TurnResponse{
				Reply:             voice.Fallback(requested),
				OriginalVoiceMode: string(requested),
				AdaptedVoiceMode:  string(requested),
				SafeMode:          true,
				Error:             "internal_error",
				Performance:       Performance{TotalResponseTime: time.Since(start).Seconds()},
			}
		}
		resp.Reply = textutil.Sanitize(resp.Reply)
		resp.Transcript = textutil.Sanitize(resp.Transcript)
		resp.Performance.TotalResponseTime = time.Since(start).Seconds()
	}()

	// Ingest.
	text := textutil.Sanitize(strings.TrimSpace(req.Text))
	if text == "" && len(req.Audio) == 0 {
		return TurnResponse{
			Reply:             "I didn't catch anything. Say something or type a message.",
			OriginalVoiceMode: string(requested),
			AdaptedVoiceMode:  string(requested),
		}
	}

	// Transcription and emotion analysis.
	var transcript string
	var reading *speech.EmotionReading
	if len(req.Audio) > 0 {
		if o.transcriber != nil && !speech.IsSilent(req.Audio, 0) {
			tr, err := o.transcriber.Transcribe(ctx, req.Audio, "")
			if err != nil {
				o.log.Warn("transcription failed", "err", err)
			} else {
				transcript = tr.Text
				if text == "" {
					text = tr.Text
				}
			}
		}
		if o.emotions != nil && o.cfg != nil && o.cfg.Features.EmotionEnabled {
			r := o.emotions.AnalyzeEmotion(req.Audio)
			reading = &r
			o.history.Record(r)
		}
	}
	if text == "" {
		return TurnResponse{
			Reply:             "I couldn't make out any words in that audio. Try again?",
			OriginalVoiceMode: string(requested),
			AdaptedVoiceMode:  string(requested),
			EmotionData:       reading,
		}
	}

	// Voice mode adaptation.
	effective, adapted := adaptMode(requested, explicitMode, reading)

	resp = TurnResponse{
		OriginalVoiceMode: string(requested),
		AdaptedVoiceMode:  string(effective),
		VoiceModeAdapted:  adapted,
		Transcript:        transcript,
		EmotionData:       reading,
	}

	// Command short-circuits skip generation entirely.
	if reply, ok := o.resolveRitual(req.RitualTag, text); ok {
		resp.Reply = reply
		o.persist(ctx, text, reply, reading, effective)
		return resp
	}
	if reply, ok := o.resolveVault(text); ok {
		resp.Reply = reply
		return resp
	}

	// Context assembly and generation.
	msgs := o.buildMessages(ctx, text, effective)
	reply := o.generate(ctx, msgs, effective)
	resp.Reply = reply

	// Audio rendering.
	if !req.SkipAudio && o.renderer != nil {
		outPath := filepath.Join(o.audioDir(), "reply_"+uuid.NewString()+".mp3")
		if written := o.renderer.Synthesize(ctx, reply, effective, outPath); written != "" {
			url := "/audio/" + filepath.Base(written)
			resp.AudioURL = &url
		}
	}

	// Persist is skipped when the client has gone away so the journal only
	// records delivered turns.
	if ctx.Err() == nil {
		o.persist(ctx, text, reply, reading, effective)
	} else {
		o.log.Debug("turn canceled, skipping journal append")
	}

	return resp
}

func (o *Orchestrator) generate(ctx context.Context, msgs []provider.Message, mode voice.Mode) string {
	if o.broker == nil {
		return voice.Fallback(mode)
	}
	return o.broker.Generate(ctx, msgs, mode)
}

// adaptMode remaps the voice mode from a confident emotion reading unless the
// user explicitly requested a mode.
func adaptMode(requested voice.Mode, explicit bool, reading *speech.EmotionReading) (voice.Mode, bool) {
	if explicit || reading == nil || reading.Confidence <= adaptConfidence {
		return requested, false
	}
	switch reading.Label {
	case "sad", "angry":
		return voice.ModeEmpathy, voice.ModeEmpathy != requested
	case "excited":
		return voice.ModeHype, voice.ModeHype != requested
	default:
		return requested, false
	}
}

// buildMessages assembles the system message from the personality preamble
// and recent journal bullets. The assembled context is cached keyed by the
// latest user turn; stale context is an accepted trade for latency.
func (o *Orchestrator) buildMessages(ctx context.Context, text string, mode voice.Mode) []provider.Message {
	system := o.systemPrompt(ctx, text)
	return []provider.Message{
		{Role: provider.RoleSystem, Content: system},
		{Role: provider.RoleUser, Content: text},
	}
}

func (o *Orchestrator) systemPrompt(ctx context.Context, latestUserText string) string {
	keyParts := []string{latestUserText, contextSchemaVersion}
	if o.cache != nil {
		if cached, ok := o.cache.GetString(ctx, cache.ClassUserContext, keyParts...); ok {
			return cached
		}
	}

	var sb strings.Builder
	if o.cfg != nil {
		sb.WriteString(strings.TrimSpace(o.cfg.PersonalityPreamble()))
	}

	if o.journal != nil {
		turns := config.DefaultContextTurns
		if o.cfg != nil && o.cfg.Memory.ContextTurns > 0 {
			turns = o.cfg.Memory.ContextTurns
		}
		recent, err := o.journal.RecentContext(ctx, turns, "")
		if err != nil {
			o.log.Warn("recent context unavailable", "err", err)
		} else if recent != "" {
			sb.WriteString("\n\nRecent conversation:\n")
			sb.WriteString(recent)
		}
	}

	prompt := sb.String()
	if o.cache != nil {
		o.cache.Set(ctx, prompt, cache.ClassUserContext, 0, keyParts...)
	}
	return prompt
}

// resolveRitual matches the tag against the static ritual map.
func (o *Orchestrator) resolveRitual(tag, text string) (string, bool) {
	if o.cfg == nil || len(o.cfg.Persona.Rituals) == 0 {
		return "", false
	}
	if tag == "" {
		tag = text
	}
	tag = strings.ToLower(strings.TrimSpace(tag))
	reply, ok := o.cfg.Persona.Rituals[tag]
	return reply, ok
}

func (o *Orchestrator) persist(ctx context.Context, event, reply string, reading *speech.EmotionReading, mode voice.Mode) {
	if o.journal == nil {
		return
	}
	mood := "Unknown"
	if reading != nil {
		mood = reading.Label
	}
	turn := journal.Turn{
		Event:     event,
		Reply:     reply,
		Mood:      mood,
		VoiceMode: string(mode),
	}
	if err := o.journal.Append(ctx, turn); err != nil {
		// The reply is already computed; a journal error never fails the turn.
		o.log.Warn("journal append failed", "err", err)
	}
}

func (o *Orchestrator) audioDir() string {
	if o.cfg != nil && o.cfg.Gateway.AudioDir != "" {
		return o.cfg.Gateway.AudioDir
	}
	return "."
}

// Summary proxies journal aggregates for the reporting surface.
func (o *Orchestrator) Summary(ctx context.Context) (journal.Summary, error) {
	if o.journal == nil {
		return journal.Summary{}, fmt.Errorf("journal not configured")
	}
	return o.journal.Summarize(ctx)
}
