package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/putt-t/open-whisper/internal/api"
	"github.com/putt-t/open-whisper/internal/asr"
	"github.com/putt-t/open-whisper/internal/auth"
	"github.com/putt-t/open-whisper/internal/cleanup"
	"github.com/putt-t/open-whisper/internal/config"
	"github.com/putt-t/open-whisper/internal/metrics"
	"github.com/putt-t/open-whisper/internal/transcribe"
)

var version = "dev"

func main() {
	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "load this .env file instead of .env.local and .env")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.ASRProvider, "provider", "", "asr provider: whispercpp or whisperkit (overrides DICTATION_ASR_PROVIDER)")
	flag.StringVar(&overrides.TokenFile, "token-file", "", "auth token file (overrides DICTATION_ASR_TOKEN_FILE)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("open-whisper", version)
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().
		Str("version", version).
		Str("provider", cfg.ASRProvider).
		Msg("open-whisper starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Transcription provider
	provider, err := transcribe.New(cfg, log.With().Str("component", "transcribe").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build asr provider")
	}

	// Optional transcript cleanup
	var cleaner asr.Cleaner
	if cfg.CleanupEnabled {
		model := cleanup.NewOpenAIModel(cleanup.OpenAIConfig{
			BaseURL: cfg.CleanupBaseURL,
			Model:   cfg.CleanupModel,
			APIKey:  cfg.CleanupAPIKey,
			Timeout: cfg.CleanupTimeout,
		})
		cleaner = cleanup.New(cleanup.Config{
			Instructions:    cfg.CleanupInstructions,
			DictionaryTerms: cfg.CleanupDictionaryTerms(),
			ProbeTimeout:    cfg.CleanupTimeout,
		}, model, log)
		log.Info().
			Str("base_url", cfg.CleanupBaseURL).
			Str("model", cfg.CleanupModel).
			Int("dictionary_terms", len(cfg.CleanupDictionaryTerms())).
			Msg("transcript cleanup configured")
	}

	svc := asr.New(asr.Options{
		Provider:       provider,
		Cleaner:        cleaner,
		Tokens:         auth.NewTokenStore(cfg.TokenFile, log.With().Str("component", "auth").Logger()),
		TmpDir:         cfg.TmpDir,
		LogTranscripts: cfg.LogTranscripts,
	}, log)
	prometheus.MustRegister(metrics.NewCollector(svc))

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, svc, httpLog)

	// Start HTTP server in background; /health answers 503 until the model is loaded
	errCh := make(chan error, 2)
	go func() {
		errCh <- srv.Start()
	}()

	go func() {
		started := time.Now()
		if err := svc.Startup(ctx); err != nil {
			errCh <- fmt.Errorf("asr startup: %w", err)
			return
		}
		log.Info().Dur("elapsed", time.Since(started)).Str("model", svc.ModelID()).Msg("ready for requests")
	}()

	// Wait for shutdown signal, server error or failed startup
	failed := false
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("fatal error")
			failed = true
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("asr shutdown error")
	}

	log.Info().Msg("open-whisper stopped")
	if failed {
		os.Exit(1)
	}
}
