package transcribe

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/putt-t/open-whisper/internal/config"
)

// ErrNotReady is returned (wrapped in a *BackendError) when a provider is
// asked to transcribe before Startup succeeded or after Shutdown.
var ErrNotReady = errors.New("model not loaded")

// Provider is the interface for speech-to-text backends.
type Provider interface {
	Name() string  // "whispercpp", "whisperkit"
	Model() string // model identifier for health output and logs
	IsReady() bool

	// Startup performs one-time initialization (model load, endpoint capture).
	Startup(ctx context.Context) error
	// Shutdown releases the backend. IsReady is false afterwards for good.
	Shutdown(ctx context.Context) error
	// Transcribe converts one whole audio file to text. filename is the
	// client's original name for the upload and may be empty.
	Transcribe(ctx context.Context, audioPath, filename string) (string, error)
}

// BackendError is any provider-level failure: model not loaded, local
// inference failure, transport error, bad HTTP status or malformed response.
type BackendError struct {
	Provider string
	Err      error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func backendErrorf(provider, format string, args ...any) error {
	return &BackendError{Provider: provider, Err: fmt.Errorf(format, args...)}
}

func notReady(provider string) error {
	return &BackendError{Provider: provider, Err: ErrNotReady}
}

// New builds the provider selected by cfg.ASRProvider.
func New(cfg *config.Config, log zerolog.Logger) (Provider, error) {
	switch cfg.ASRProvider {
	case config.ProviderWhisperKit:
		return NewRemoteProvider(RemoteConfig{
			Endpoint: cfg.WhisperKitEndpoint,
			Model:    cfg.WhisperKitModel,
			Timeout:  cfg.WhisperKitTimeout(),
			Language: cfg.WhisperKitLanguage,
			Prompt:   cfg.WhisperKitPrompt,
		}, log), nil
	case config.ProviderWhisperCpp, "":
		engine := NewWhisperCppEngine(cfg.WhisperCppBin)
		return NewLocalProvider(LocalConfig{
			Engine:          engine,
			ModelID:         cfg.ResolvedModelID(),
			TmpDir:          cfg.TmpDir,
			PreprocessAudio: cfg.PreprocessAudio,
		}, log), nil
	default:
		return nil, fmt.Errorf("unknown asr provider %q (supported: %s, %s)",
			cfg.ASRProvider, config.ProviderWhisperCpp, config.ProviderWhisperKit)
	}
}
