// Command tankd is the main entry point for the tankd voice assistant server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tanklabs/tankd/internal/config"
	"github.com/tanklabs/tankd/internal/health"
	"github.com/tanklabs/tankd/internal/observe"
	"github.com/tanklabs/tankd/internal/resilience"
	"github.com/tanklabs/tankd/internal/server"
	"github.com/tanklabs/tankd/internal/session"
	"github.com/tanklabs/tankd/internal/tools"
	"github.com/tanklabs/tankd/internal/tools/builtin"
	"github.com/tanklabs/tankd/internal/tools/mcpbridge"
	"github.com/tanklabs/tankd/pkg/provider/asr"
	"github.com/tanklabs/tankd/pkg/provider/asr/deepgram"
	"github.com/tanklabs/tankd/pkg/provider/asr/whisper"
	"github.com/tanklabs/tankd/pkg/provider/llm"
	"github.com/tanklabs/tankd/pkg/provider/llm/anyllm"
	"github.com/tanklabs/tankd/pkg/provider/llm/openai"
	"github.com/tanklabs/tankd/pkg/provider/tts"
	"github.com/tanklabs/tankd/pkg/provider/tts/elevenlabs"
	"github.com/tanklabs/tankd/pkg/types"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("tankd", version)
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "tankd: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "tankd: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("tankd starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "tankd",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "error", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg, logger)
	if err != nil {
		slog.Error("failed to build providers", "error", err)
		return 1
	}

	// ── Tools ─────────────────────────────────────────────────────────────────
	toolRegistry := tools.NewRegistry()
	if err := toolRegistry.RegisterAll(builtin.Tools()); err != nil {
		slog.Error("failed to register builtin tools", "error", err)
		return 1
	}

	bridge := mcpbridge.New()
	defer bridge.Close()
	var mcpFailures []string
	for _, srv := range cfg.MCP.Servers {
		err := bridge.Connect(ctx, toolRegistry, mcpbridge.ServerConfig{
			Name:      srv.Name,
			Transport: srv.Transport,
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		})
		if err != nil {
			slog.Warn("mcp server connection failed", "server", srv.Name, "error", err)
			mcpFailures = append(mcpFailures, srv.Name)
			continue
		}
		slog.Info("mcp server connected", "server", srv.Name)
	}

	// ── Session registry ──────────────────────────────────────────────────────
	systemPrompt, err := cfg.Session.ResolveSystemPrompt()
	if err != nil {
		slog.Error("failed to resolve system prompt", "error", err)
		return 1
	}

	sessionCfg := session.Config{
		ASR:          providers.asr,
		LLM:          providers.llm,
		TTS:          providers.tts,
		Tools:        toolRegistry,
		SystemPrompt: systemPrompt,
		Voice:        cfg.Session.Voice,
		Language:     cfg.Session.Language,
		SpeakerLabel: cfg.Session.SpeakerLabel,
		MaxTurns:     cfg.Session.MaxTurns,
		Temperature:  cfg.Session.Temperature,
		Logger:       logger,
	}
	var registryOpts []session.RegistryOption
	if cfg.Session.DuplicatePolicy != "" {
		registryOpts = append(registryOpts, session.WithDuplicatePolicy(session.DuplicatePolicy(cfg.Session.DuplicatePolicy)))
	}
	sessions := session.NewRegistry(sessionCfg, registryOpts...)
	defer sessions.CloseAll()

	// ── Config watcher ────────────────────────────────────────────────────────
	// Log level changes apply immediately; everything else is reported and
	// needs a restart.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.SessionChanged {
			slog.Warn("session tuning changed; new values apply after restart")
		}
		if d.RestartRequired {
			slog.Warn("config change requires a restart to take effect")
		}
	}, config.WithWatcherLogger(logger))
	if err != nil {
		slog.Warn("config watcher disabled", "error", err)
	} else {
		defer watcher.Stop()
	}

	// ── HTTP surface ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()

	var serverOpts []server.Option
	serverOpts = append(serverOpts, server.WithLogger(logger))
	if len(cfg.Server.OriginPatterns) > 0 {
		serverOpts = append(serverOpts, server.WithOriginPatterns(cfg.Server.OriginPatterns...))
	}
	server.New(sessions, serverOpts...).Register(mux)

	checks := health.New()
	checks.AddCheck("llm", func(context.Context) error {
		_, err := providers.llm.CountTokens([]types.Message{{Role: "user", Content: "ping"}})
		return err
	})
	checks.AddCheck("mcp", func(context.Context) error {
		if len(mcpFailures) > 0 {
			return fmt.Errorf("servers not connected: %v", mcpFailures)
		}
		return nil
	})
	checks.Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg, toolRegistry)

	errCh := make(chan error, 1)
	go func() {
		if cfg.Server.TLS != nil {
			errCh <- httpServer.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
			return
		}
		errCh <- httpServer.ListenAndServe()
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("http server error", "error", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "error", err)
	}
	sessions.CloseAll()

	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai goes through the dedicated openai-go backed provider.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining cloud backends share the any-llm pattern: optional APIKey
	// plus optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── ASR ───────────────────────────────────────────────────────────────────

	reg.RegisterASR("deepgram", func(entry config.ProviderEntry) (asr.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterASR("whisper", func(entry config.ProviderEntry) (asr.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if voice := optString(entry.Options, "voice_id"); voice != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(voice))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})
}

// providerSet holds the instantiated pipeline providers, each wrapped in a
// failover chain when the config names fallbacks.
type providerSet struct {
	asr asr.Provider
	llm llm.Provider
	tts tts.Provider
}

// buildProviders instantiates the three pipeline stages from cfg.
func buildProviders(cfg *config.Config, reg *config.Registry, logger *slog.Logger) (*providerSet, error) {
	fallbackCfg := resilience.FallbackConfig{Logger: logger}
	ps := &providerSet{}

	asrPrimary, err := reg.CreateASR(cfg.Providers.ASR)
	if err != nil {
		return nil, fmt.Errorf("create asr provider %q: %w", cfg.Providers.ASR.Name, err)
	}
	ps.asr = asrPrimary
	if fbs := cfg.Providers.ASR.Fallbacks; len(fbs) > 0 {
		f := resilience.NewASRFallback(asrPrimary, cfg.Providers.ASR.Name, fallbackCfg)
		for _, fb := range fbs {
			p, err := reg.CreateASR(fb)
			if err != nil {
				return nil, fmt.Errorf("create asr fallback %q: %w", fb.Name, err)
			}
			f.AddFallback(fb.Name, p)
		}
		ps.asr = f
	}

	llmPrimary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	ps.llm = llmPrimary
	if fbs := cfg.Providers.LLM.Fallbacks; len(fbs) > 0 {
		f := resilience.NewLLMFallback(llmPrimary, cfg.Providers.LLM.Name, fallbackCfg)
		for _, fb := range fbs {
			p, err := reg.CreateLLM(fb)
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %q: %w", fb.Name, err)
			}
			f.AddFallback(fb.Name, p)
		}
		ps.llm = f
	}

	ttsPrimary, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	ps.tts = ttsPrimary
	if fbs := cfg.Providers.TTS.Fallbacks; len(fbs) > 0 {
		f := resilience.NewTTSFallback(ttsPrimary, cfg.Providers.TTS.Name, fallbackCfg)
		for _, fb := range fbs {
			p, err := reg.CreateTTS(fb)
			if err != nil {
				return nil, fmt.Errorf("create tts fallback %q: %w", fb.Name, err)
			}
			f.AddFallback(fb.Name, p)
		}
		ps.tts = f
	}

	slog.Info("providers created",
		"asr", cfg.Providers.ASR.Name,
		"llm", cfg.Providers.LLM.Name,
		"tts", cfg.Providers.TTS.Name,
	)
	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, toolRegistry *tools.Registry) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          tankd — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("ASR", cfg.Providers.ASR)
	printProvider("LLM", cfg.Providers.LLM)
	printProvider("TTS", cfg.Providers.TTS)
	fmt.Printf("║  Tools        : %-20d  ║\n", len(toolRegistry.Definitions()))
	fmt.Printf("║  MCP servers  : %-20d  ║\n", len(cfg.MCP.Servers))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr  : %-20s  ║\n", clip(cfg.Server.ListenAddr, 20))
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind string, entry config.ProviderEntry) {
	value := entry.Name
	if entry.Model != "" {
		value += " / " + entry.Model
	}
	if n := len(entry.Fallbacks); n > 0 {
		value += fmt.Sprintf(" (+%d)", n)
	}
	fmt.Printf("║  %-12s : %-20s  ║\n", kind, clip(value, 20))
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-1] + "…"
}

// ── Logger ────────────────────────────────────────────────────────────────────

// newLogger builds the process logger with a mutable level so the config
// watcher can adjust verbosity at runtime.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map. Returns ""
// if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}
