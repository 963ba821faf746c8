package asr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/putt-t/open-whisper/internal/auth"
	"github.com/putt-t/open-whisper/internal/cleanup"
	"github.com/putt-t/open-whisper/internal/metrics"
	"github.com/putt-t/open-whisper/internal/transcribe"
)

const previewMax = 220

// Cleaner post-processes raw transcripts. *cleanup.Cleaner implements it.
type Cleaner interface {
	Clean(ctx context.Context, text string) (string, error)
	Availability() cleanup.Availability
}

// Options configures a Service.
type Options struct {
	Provider transcribe.Provider
	// Cleaner is optional; nil disables post-processing.
	Cleaner        Cleaner
	Tokens         *auth.TokenStore
	TmpDir         string
	LogTranscripts bool
}

// Service accepts uploads, serializes them onto the provider and returns
// final text. Every temporary file it or the provider creates is removed
// before Transcribe returns.
type Service struct {
	provider       transcribe.Provider
	cleaner        Cleaner
	tokens         *auth.TokenStore
	tmpDir         string
	logTranscripts bool
	log            zerolog.Logger

	mu    sync.RWMutex
	token string

	// gate admits one provider call at a time.
	gate     *semaphore.Weighted
	inFlight atomic.Int32
}

func New(opts Options, log zerolog.Logger) *Service {
	return &Service{
		provider:       opts.Provider,
		cleaner:        opts.Cleaner,
		tokens:         opts.Tokens,
		tmpDir:         opts.TmpDir,
		logTranscripts: opts.LogTranscripts,
		log:            log.With().Str("component", "asr").Logger(),
		gate:           semaphore.NewWeighted(1),
	}
}

// Startup loads or creates the auth token, then starts the provider.
func (s *Service) Startup(ctx context.Context) error {
	token, err := s.tokens.LoadOrCreate()
	if err != nil {
		return fmt.Errorf("auth token: %w", err)
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	s.log.Info().Str("path", s.tokens.Path()).Msg("auth token file")

	if err := os.MkdirAll(s.tmpDir, 0o700); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}

	if err := s.provider.Startup(ctx); err != nil {
		return fmt.Errorf("start %s provider: %w", s.provider.Name(), err)
	}
	s.log.Info().
		Str("provider", s.provider.Name()).
		Str("model", s.provider.Model()).
		Msg("asr provider ready")
	return nil
}

// Shutdown forgets the token, waits for the running provider call to finish
// and stops the provider. If ctx ends first the provider is left running.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()

	if err := s.gate.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for in-flight transcription: %w", err)
	}
	defer s.gate.Release(1)
	return s.provider.Shutdown(ctx)
}

func (s *Service) IsReady() bool { return s.provider.IsReady() }

// ModelID identifies the backend as "<provider>:<model>".
func (s *Service) ModelID() string {
	return s.provider.Name() + ":" + s.provider.Model()
}

// Authorize reports whether candidate matches the loaded token.
func (s *Service) Authorize(candidate string) bool {
	s.mu.RLock()
	want := s.token
	s.mu.RUnlock()
	return auth.Equal(candidate, want)
}

// InFlight counts requests holding or waiting for the gate.
func (s *Service) InFlight() int { return int(s.inFlight.Load()) }

// CleanupState reports the cleaner's availability, or "" without a cleaner.
func (s *Service) CleanupState() string {
	if s.cleaner == nil {
		return ""
	}
	return s.cleaner.Availability().State.String()
}

// CleanupAvailability is the cleaner's probe outcome; ok is false without a
// cleaner.
func (s *Service) CleanupAvailability() (a cleanup.Availability, ok bool) {
	if s.cleaner == nil {
		return cleanup.Availability{}, false
	}
	return s.cleaner.Availability(), true
}

// Transcribe saves audio to the scratch dir, runs the provider under the
// gate and applies cleanup. filename is the client's name for the upload
// and only its extension is used locally.
func (s *Service) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	provider := s.provider.Name()
	if !s.provider.IsReady() {
		metrics.TranscriptionsTotal.WithLabelValues(provider, "not_ready").Inc()
		return "", ErrNotReady
	}

	started := time.Now()
	path, err := s.saveUpload(audio, uploadExt(filename))
	if err != nil {
		metrics.TranscriptionsTotal.WithLabelValues(provider, "error").Inc()
		return "", &TranscriptionError{Err: err}
	}
	defer s.removeQuietly(path)
	saveDur := time.Since(started)

	raw, waitDur, transcribeDur, err := s.runProvider(ctx, path, filename)
	if err != nil {
		if errors.Is(err, transcribe.ErrNotReady) {
			metrics.TranscriptionsTotal.WithLabelValues(provider, "not_ready").Inc()
			return "", ErrNotReady
		}
		outcome := "error"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			outcome = "cancelled"
		}
		metrics.TranscriptionsTotal.WithLabelValues(provider, outcome).Inc()
		s.log.Error().Err(err).Str("provider", provider).Msg("transcription failed")
		return "", &TranscriptionError{Err: err}
	}

	cleanupStarted := time.Now()
	text := s.postprocess(ctx, raw)
	cleanupDur := time.Since(cleanupStarted)
	totalDur := time.Since(started)

	metrics.ObservePhase(provider, "save", saveDur)
	metrics.ObservePhase(provider, "wait", waitDur)
	metrics.ObservePhase(provider, "transcription", transcribeDur)
	metrics.ObservePhase(provider, "cleanup", cleanupDur)
	metrics.ObservePhase(provider, "total", totalDur)
	metrics.TranscriptCharacters.WithLabelValues("raw").Observe(float64(utf8.RuneCountInString(raw)))
	metrics.TranscriptCharacters.WithLabelValues("final").Observe(float64(utf8.RuneCountInString(text)))
	metrics.TranscriptionsTotal.WithLabelValues(provider, "ok").Inc()

	ev := s.log.Debug()
	if s.logTranscripts {
		ev = s.log.Info().
			Str("raw", Preview(raw)).
			Str("final", Preview(text))
	}
	ev.Float64("transcription_ms", ms(transcribeDur)).
		Float64("cleanup_ms", ms(cleanupDur)).
		Float64("total_ms", ms(totalDur)).
		Msg("transcribe_result")

	return text, nil
}

// runProvider waits for the gate, honouring ctx while queued, then calls the
// provider. Once admitted the call runs to completion.
func (s *Service) runProvider(ctx context.Context, path, filename string) (raw string, wait, run time.Duration, err error) {
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	waitStarted := time.Now()
	if err := s.gate.Acquire(ctx, 1); err != nil {
		return "", time.Since(waitStarted), 0, fmt.Errorf("waiting for transcription slot: %w", err)
	}
	defer s.gate.Release(1)
	wait = time.Since(waitStarted)

	runStarted := time.Now()
	raw, err = s.provider.Transcribe(ctx, path, filename)
	return raw, wait, time.Since(runStarted), err
}

func (s *Service) postprocess(ctx context.Context, raw string) string {
	if s.cleaner == nil || raw == "" {
		return raw
	}
	cleaned, err := s.cleaner.Clean(ctx, raw)
	if err != nil {
		s.log.Warn().Err(err).Msg("transcript cleanup failed, returning raw transcript")
		return raw
	}
	return cleaned
}

func (s *Service) saveUpload(audio io.Reader, ext string) (string, error) {
	path := filepath.Join(s.tmpDir, "upload-"+uuid.NewString()+ext)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(f, audio); err != nil {
		f.Close()
		s.removeQuietly(path)
		return "", fmt.Errorf("save upload: %w", err)
	}
	if err := f.Close(); err != nil {
		s.removeQuietly(path)
		return "", fmt.Errorf("save upload: %w", err)
	}
	return path, nil
}

func (s *Service) removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Debug().Err(err).Str("path", path).Msg("could not remove temp file")
	}
}

// uploadExt returns filename's extension, ".wav" when it has none.
func uploadExt(filename string) string {
	if ext := filepath.Ext(filepath.Base(filename)); ext != "" && ext != "." {
		return ext
	}
	return ".wav"
}

// Preview collapses whitespace and shortens text for log lines.
func Preview(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(normalized) <= previewMax {
		return normalized
	}
	runes := []rune(normalized)
	return string(runes[:previewMax-1]) + "…"
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
