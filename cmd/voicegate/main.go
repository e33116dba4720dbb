package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/solunalabs/voicegate/internal/cache"
	"github.com/solunalabs/voicegate/internal/config"
	"github.com/solunalabs/voicegate/internal/httpapi"
	"github.com/solunalabs/voicegate/internal/journal"
	"github.com/solunalabs/voicegate/internal/orchestrator"
	"github.com/solunalabs/voicegate/internal/perf"
	"github.com/solunalabs/voicegate/internal/provider"
	"github.com/solunalabs/voicegate/internal/sched"
	"github.com/solunalabs/voicegate/internal/speech"
	"github.com/solunalabs/voicegate/internal/tts"
)

var logLevelMap = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

var (
	envFlag string
	logFlag string
	askFlag string
)

var rootCmd = &cobra.Command{
	Use:   "voicegate",
	Short: "voicegate - voice and text conversational gateway",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level: logLevelMap[strings.ToLower(logFlag)],
		})))
		if envFlag != "" {
			godotenv.Load(envFlag)
		}
	},
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the HTTP gateway (turns + cache + scheduler)",
	RunE:  runGateway,
}

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Send one text turn through the pipeline and print the reply",
	RunE:  runAsk,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show voicegate status",
	RunE:  runStatus,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directories",
	RunE:  runOnboard,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&envFlag, "env", "e", "", "env file to load before reading config")
	rootCmd.PersistentFlags().StringVarP(&logFlag, "log", "l", "info", "log level (debug|info|warn|error)")
	askCmd.Flags().StringVarP(&askFlag, "message", "m", "", "message to send")
	rootCmd.AddCommand(gatewayCmd, askCmd, statusCmd, onboardCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// gatewayParts is everything runGateway assembles; ask reuses the same
// wiring without the HTTP server.
type gatewayParts struct {
	cfg     *config.Config
	cache   *cache.Cache
	journal *journal.Journal
	perf    *perf.Monitor
	history *speech.History
	orch    *orchestrator.Orchestrator
	server  *httpapi.Server
}

func assemble(ctx context.Context, cfg *config.Config) (*gatewayParts, error) {
	if err := os.MkdirAll(cfg.Gateway.AudioDir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Memory.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	c := cache.New(ctx, cache.Options{
		RedisAddr:     cfg.Redis.Addr(),
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
	})

	j, err := journal.Open(cfg.Memory.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	m := perf.New(cfg.Features.PerfEnabled)
	history := speech.NewHistory()

	broker := provider.NewBroker(buildProviders(cfg), c, m, slog.Default())

	var renderer orchestrator.Synthesizer
	if cfg.TTS.APIKey != "" {
		renderer = tts.New(cfg.TTS.BaseURL, cfg.TTS.APIKey, cfg.TTS.VoiceID, cfg.Gateway.AudioDir, c, slog.Default())
	}

	orch := orchestrator.New(orchestrator.Options{
		Config:      cfg,
		Broker:      broker,
		Transcriber: buildTranscriber(cfg),
		Emotions:    speech.HeuristicAnalyzer{},
		Renderer:    renderer,
		Journal:     j,
		Cache:       c,
		Perf:        m,
		History:     history,
	})

	return &gatewayParts{
		cfg:     cfg,
		cache:   c,
		journal: j,
		perf:    m,
		history: history,
		orch:    orch,
		server:  httpapi.New(orch, c, m, cfg.Gateway.AudioDir, slog.Default()),
	}, nil
}

// buildProviders orders the broker chain from config. PreferHosted puts the
// hosted provider first; either side can be disabled outright.
func buildProviders(cfg *config.Config) []provider.Provider {
	var hosted, local provider.Provider
	if !cfg.Provider.DisableHosted && cfg.Provider.APIKey != "" {
		hosted = provider.NewHostedProvider(cfg.Provider.APIKey, cfg.Provider.BaseURL, cfg.Provider.Model)
	}
	if !cfg.Provider.DisableLocal && cfg.Provider.LocalBin != "" {
		local = provider.NewLocalProvider(cfg.Provider.LocalBin, cfg.Provider.LocalModel)
	}

	var out []provider.Provider
	if cfg.Provider.PreferHosted {
		for _, p := range []provider.Provider{hosted, local} {
			if p != nil {
				out = append(out, p)
			}
		}
		return out
	}
	for _, p := range []provider.Provider{local, hosted} {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func buildTranscriber(cfg *config.Config) speech.Transcriber {
	if cfg.STT.Remote {
		if cfg.STT.APIKey == "" {
			slog.Warn("remote transcription requested but no API key set, disabling")
			return nil
		}
		return speech.NewRemoteTranscriber(cfg.STT.BaseURL, cfg.STT.APIKey, cfg.STT.Model)
	}
	if cfg.STT.Bin != "" {
		return speech.NewLocalTranscriber(cfg.STT.Bin, cfg.STT.BinModel, os.TempDir())
	}
	return nil
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	parts, err := assemble(ctx, cfg)
	if err != nil {
		return err
	}
	defer parts.journal.Close()
	defer parts.cache.Close()

	maint := sched.New(parts.cache, parts.history, parts.journal, slog.Default())
	if err := maint.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	return parts.server.ListenAndServe(ctx, addr)
}

func runAsk(cmd *cobra.Command, args []string) error {
	if askFlag == "" && len(args) > 0 {
		askFlag = strings.Join(args, " ")
	}
	if askFlag == "" {
		return fmt.Errorf("nothing to ask, pass -m or a message argument")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	parts, err := assemble(ctx, cfg)
	if err != nil {
		return err
	}
	defer parts.journal.Close()
	defer parts.cache.Close()

	resp := parts.orch.HandleTurn(ctx, orchestrator.TurnRequest{Text: askFlag, SkipAudio: true})
	fmt.Fprintln(cmd.OutOrStdout(), resp.Reply)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Listen: %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
	fmt.Fprintf(out, "Model: %s\n", cfg.Provider.Model)
	fmt.Fprintf(out, "Hosted provider: %s\n", keyDisplay(cfg.Provider.APIKey))
	if cfg.Provider.LocalBin != "" {
		fmt.Fprintf(out, "Local provider: %s\n", cfg.Provider.LocalBin)
	} else {
		fmt.Fprintln(out, "Local provider: not configured")
	}
	if addr := cfg.Redis.Addr(); addr != "" {
		fmt.Fprintf(out, "Redis: %s\n", addr)
	} else {
		fmt.Fprintln(out, "Redis: not configured (local cache only)")
	}
	fmt.Fprintf(out, "TTS: %s\n", keyDisplay(cfg.TTS.APIKey))
	if cfg.STT.Remote {
		fmt.Fprintf(out, "STT: remote (%s)\n", cfg.STT.Model)
	} else if cfg.STT.Bin != "" {
		fmt.Fprintf(out, "STT: local (%s)\n", cfg.STT.Bin)
	} else {
		fmt.Fprintln(out, "STT: not configured")
	}
	fmt.Fprintf(out, "Emotion analysis: %v\n", cfg.Features.EmotionEnabled)
	fmt.Fprintf(out, "Performance monitor: %v\n", cfg.Features.PerfEnabled)

	if _, err := os.Stat(cfg.Memory.DBPath); err == nil {
		if j, err := journal.Open(cfg.Memory.DBPath); err == nil {
			n, _ := j.Count(context.Background())
			j.Close()
			fmt.Fprintf(out, "Journal: %d turns (%s)\n", n, cfg.Memory.DBPath)
		} else {
			fmt.Fprintf(out, "Journal: unreadable (%v)\n", err)
		}
	} else {
		fmt.Fprintln(out, "Journal: empty (run 'voicegate gateway' or 'voicegate ask')")
	}
	return nil
}

func keyDisplay(key string) string {
	switch {
	case key == "":
		return "not configured"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	default:
		return "configured"
	}
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.Gateway.AudioDir, 0o755); err != nil {
		return fmt.Errorf("create audio dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Memory.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	fmt.Fprintf(out, "Data ready: %s\n", filepath.Dir(cfg.Memory.DBPath))
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to set your API keys\n", cfgPath)
	fmt.Fprintln(out, "  2. Or set OPENAI_API_KEY / ELEVENLABS_API_KEY")
	fmt.Fprintln(out, "  3. Run 'voicegate ask -m \"Hello\"' to test")
	return nil
}
