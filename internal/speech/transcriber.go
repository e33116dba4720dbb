// Package speech adapts local and remote transcription backends and carries
// the auxiliary voice-emotion analysis.
package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/solunalabs/voicegate/internal/textutil"
)

// localTimeout bounds one local transcription run; remoteTimeout bounds the
// upstream HTTP call.
const (
	localTimeout  = 30 * time.Second
	remoteTimeout = 30 * time.Second

	// defaultConfidence is reported when the backend provides no per-segment
	// no-speech probabilities.
	defaultConfidence = 0.7
)

// Segment is one backend-produced slice of the transcription.
type Segment struct {
	Text         string  `json:"text"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

// Transcription is the sanitized result of one transcribe call.
type Transcription struct {
	Text       string    `json:"text"`
	Language   string    `json:"language"`
	Confidence float64   `json:"confidence"`
	Segments   []Segment `json:"segments,omitempty"`
}

// Transcriber converts audio bytes to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, language string) (Transcription, error)
}

// LocalTranscriber shells out to a local transcription binary that writes a
// .txt sidecar next to its input file. Both files are removed on every exit
// path.
type LocalTranscriber struct {
	binPath   string
	modelPath string
	workDir   string
}

func NewLocalTranscriber(binPath, modelPath, workDir string) *LocalTranscriber {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &LocalTranscriber{binPath: binPath, modelPath: modelPath, workDir: workDir}
}

func (t *LocalTranscriber) Transcribe(ctx context.Context, audio []byte, language string) (Transcription, error) {
	if t.binPath == "" {
		return Transcription{}, fmt.Errorf("transcription binary not configured")
	}
	if len(audio) == 0 {
		return Transcription{}, fmt.Errorf("no audio bytes provided")
	}

	base := filepath.Join(t.workDir, "stt_"+uuid.NewString())
	audioPath := base + guessExtension(audio)
	sidecarPath := audioPath + ".txt"
	defer func() {
		os.Remove(audioPath)
		os.Remove(sidecarPath)
	}()

	if err := os.WriteFile(audioPath, audio, 0600); err != nil {
		return Transcription{}, fmt.Errorf("write temp audio: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, localTimeout)
	defer cancel()

	args := []string{"-f", audioPath, "-otxt"}
	if t.modelPath != "" {
		args = append(args, "-m", t.modelPath)
	}
	if language == "" {
		language = "auto"
	}
	args = append(args, "-l", language)

	cmd := exec.CommandContext(ctx, t.binPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Transcription{}, fmt.Errorf("transcription timed out after %s", localTimeout)
		}
		return Transcription{}, fmt.Errorf("transcription binary: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	raw, err := os.ReadFile(sidecarPath)
	if err != nil {
		return Transcription{}, fmt.Errorf("read transcript sidecar: %w", err)
	}

	return Transcription{
		Text:       textutil.Sanitize(strings.TrimSpace(string(raw))),
		Language:   language,
		Confidence: defaultConfidence,
	}, nil
}

// RemoteTranscriber posts audio as multipart to an upstream transcription
// API and extracts the result from its JSON body.
type RemoteTranscriber struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewRemoteTranscriber(baseURL, apiKey, model string) *RemoteTranscriber {
	return &RemoteTranscriber{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: remoteTimeout},
	}
}

func (t *RemoteTranscriber) Transcribe(ctx context.Context, audio []byte, language string) (Transcription, error) {
	if len(audio) == 0 {
		return Transcription{}, fmt.Errorf("no audio bytes provided")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio"+guessExtension(audio))
	if err != nil {
		return Transcription{}, fmt.Errorf("multipart file field: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return Transcription{}, fmt.Errorf("multipart write: %w", err)
	}
	if t.model != "" {
		mw.WriteField("model", t.model)
	}
	if language != "" {
		mw.WriteField("language", language)
	}
	mw.WriteField("response_format", "verbose_json")
	if err := mw.Close(); err != nil {
		return Transcription{}, fmt.Errorf("multipart close: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return Transcription{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return Transcription{}, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transcription{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Transcription{}, fmt.Errorf("transcription API status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	return parseRemote(raw), nil
}

// parseRemote extracts text, language and segments from a verbose_json body.
// Confidence is 1 - mean(no_speech_prob) clamped to [0,1], or the default
// when the backend omits segment probabilities.
func parseRemote(raw []byte) Transcription {
	out := Transcription{
		Text:       textutil.Sanitize(strings.TrimSpace(gjson.GetBytes(raw, "text").String())),
		Language:   gjson.GetBytes(raw, "language").String(),
		Confidence: defaultConfidence,
	}

	segs := gjson.GetBytes(raw, "segments")
	if !segs.Exists() {
		return out
	}
	var sum float64
	var n int
	segs.ForEach(func(_, seg gjson.Result) bool {
		s := Segment{
			Text:  textutil.Sanitize(seg.Get("text").String()),
			Start: seg.Get("start").Float(),
			End:   seg.Get("end").Float(),
		}
		if p := seg.Get("no_speech_prob"); p.Exists() {
			s.NoSpeechProb = p.Float()
			sum += s.NoSpeechProb
			n++
		}
		out.Segments = append(out.Segments, s)
		return true
	})
	if n > 0 {
		out.Confidence = clamp01(1 - sum/float64(n))
	}
	return out
}

// guessExtension sniffs magic bytes for the common containers; unknown input
// defaults to .wav.
func guessExtension(audio []byte) string {
	switch {
	case len(audio) >= 12 && bytes.Equal(audio[:4], []byte("RIFF")) && bytes.Equal(audio[8:12], []byte("WAVE")):
		return ".wav"
	case len(audio) >= 4 && bytes.Equal(audio[:4], []byte("OggS")):
		return ".ogg"
	case len(audio) >= 3 && bytes.Equal(audio[:3], []byte("ID3")):
		return ".mp3"
	case len(audio) >= 2 && audio[0] == 0xff && audio[1]&0xe0 == 0xe0:
		return ".mp3"
	case len(audio) >= 12 && bytes.Equal(audio[4:8], []byte("ftyp")):
		return ".m4a"
	default:
		return ".wav"
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
