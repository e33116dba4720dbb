// Package httpapi is the inbound HTTP surface. It decodes requests into core
// structures and hands them to the orchestrator; the core never sees
// multipart forms. Every reply is a well-formed JSON object.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/solunalabs/voicegate/internal/cache"
	"github.com/solunalabs/voicegate/internal/orchestrator"
	"github.com/solunalabs/voicegate/internal/perf"
)

// maxUploadBytes bounds one audio upload.
const maxUploadBytes = 25 << 20

type Server struct {
	orch     *orchestrator.Orchestrator
	cache    *cache.Cache
	perf     *perf.Monitor
	audioDir string
	log      *slog.Logger
	http     *http.Server
}

func New(orch *orchestrator.Orchestrator, c *cache.Cache, m *perf.Monitor, audioDir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		orch:     orch,
		cache:    c,
		perf:     m,
		audioDir: audioDir,
		log:      logger.With("component", "httpapi"),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/process_audio", s.handleProcessAudio)
	r.Get("/cache/stats", s.handleCacheStats)
	r.Post("/cache/clear", s.handleCacheClear)
	r.Get("/performance", s.handlePerformance)
	r.Get("/emotion/analysis", s.handleEmotionAnalysis)
	r.Get("/emotion/history", s.handleEmotionHistory)
	r.Get("/memory/summary", s.handleMemorySummary)
	r.Get("/music/intent", s.handleMusicIntent)

	if s.audioDir != "" {
		r.Handle("/audio/*", http.StripPrefix("/audio/", http.FileServer(http.Dir(s.audioDir))))
	}
	return r
}

// ListenAndServe blocks until ctx is canceled, then drains in-flight
// requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) handleProcessAudio(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTurnRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	resp := s.orch.HandleTurn(r.Context(), req)
	writeJSON(w, http.StatusOK, resp)
}

// decodeTurnRequest accepts multipart form uploads and, for text-only
// clients, a JSON body.
func decodeTurnRequest(r *http.Request) (orchestrator.TurnRequest, error) {
	var req orchestrator.TurnRequest

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			TextInput  string `json:"text_input"`
			VoiceMode  string `json:"voice_mode"`
			RitualMode string `json:"ritual_mode"`
			SkipAudio  bool   `json:"skip_audio"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
			return req, fmt.Errorf("parse json body: %w", err)
		}
		req.Text = body.TextInput
		req.VoiceMode = body.VoiceMode
		req.RitualTag = body.RitualMode
		req.SkipAudio = body.SkipAudio
		return req, nil
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return req, fmt.Errorf("parse multipart form: %w", err)
	}
	req.Text = r.FormValue("text_input")
	req.VoiceMode = r.FormValue("voice_mode")
	req.RitualTag = r.FormValue("ritual_mode")
	if v := r.FormValue("skip_audio"); v != "" {
		req.SkipAudio, _ = strconv.ParseBool(v)
	}

	if f, _, err := r.FormFile("audio"); err == nil {
		defer f.Close()
		audio, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
		if err != nil {
			return req, fmt.Errorf("read audio upload: %w", err)
		}
		req.Audio = audio
	}
	return req, nil
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.cache.ClearAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	type report struct {
		perf.Report
		Cache cache.Stats `json:"cache"`
	}
	writeJSON(w, http.StatusOK, report{Report: s.perf.Report(), Cache: s.cache.Stats()})
}

func (s *Server) handleEmotionAnalysis(w http.ResponseWriter, r *http.Request) {
	latest, ok := s.orch.History().Latest()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"emotion_data": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"emotion_data": latest})
}

func (s *Server) handleEmotionHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"history": s.orch.History().All()})
}

func (s *Server) handleMemorySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.orch.Summary(r.Context())
	if err != nil {
		s.log.Warn("memory summary failed", "err", err)
		writeJSON(w, http.StatusOK, map[string]any{"error": "memory unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleMusicIntent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	writeJSON(w, http.StatusOK, s.orch.Music().Recognize(r.Context(), q))
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"elapsed", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response failed", "err", err)
	}
}
