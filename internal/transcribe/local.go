package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// outputExtensions lists every file an Engine may write next to outBase.
var outputExtensions = []string{".txt", ".json", ".srt", ".vtt"}

// Engine loads an in-process speech model.
type Engine interface {
	Load(modelID string) (Model, error)
}

// Model is a loaded speech model. Generate is not assumed to be safe for
// concurrent use.
type Model interface {
	// Generate transcribes audioPath, writing any output files under outBase
	// (outBase plus one of outputExtensions).
	Generate(audioPath, outBase string) (Result, error)
	Close() error
}

// Result is the output of one Generate call. Text is empty when the model
// produced none.
type Result struct {
	Text string
}

// LocalConfig configures a LocalProvider.
type LocalConfig struct {
	Engine          Engine
	ModelID         string
	TmpDir          string
	PreprocessAudio bool
}

// LocalProvider runs a model loaded into this process.
type LocalProvider struct {
	cfg LocalConfig
	log zerolog.Logger

	mu     sync.RWMutex
	model  Model
	closed bool
}

// NewLocalProvider creates a local provider. The model is loaded by Startup.
func NewLocalProvider(cfg LocalConfig, log zerolog.Logger) *LocalProvider {
	return &LocalProvider{
		cfg: cfg,
		log: log.With().Str("provider", "whispercpp").Logger(),
	}
}

func (lp *LocalProvider) Name() string  { return "whispercpp" }
func (lp *LocalProvider) Model() string { return lp.cfg.ModelID }

func (lp *LocalProvider) IsReady() bool {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	return lp.model != nil && !lp.closed
}

type loadResult struct {
	model Model
	err   error
}

// Startup loads the model on its own goroutine. If ctx ends first, Startup
// returns and the late model is closed as soon as it arrives.
func (lp *LocalProvider) Startup(ctx context.Context) error {
	if err := os.MkdirAll(lp.cfg.TmpDir, 0o700); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	if lp.cfg.PreprocessAudio && !CheckSox() {
		lp.log.Warn().Msg("DICTATION_PREPROCESS_AUDIO=true but sox not found in PATH; preprocessing disabled")
	}

	done := make(chan loadResult, 1)
	go func() {
		m, err := lp.cfg.Engine.Load(lp.cfg.ModelID)
		done <- loadResult{model: m, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				r.model.Close()
			}
		}()
		return fmt.Errorf("load model %s: %w", lp.cfg.ModelID, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("load model %s: %w", lp.cfg.ModelID, r.err)
		}
		lp.mu.Lock()
		defer lp.mu.Unlock()
		if lp.closed {
			r.model.Close()
			return notReady(lp.Name())
		}
		lp.model = r.model
	}

	lp.log.Info().Str("model", lp.cfg.ModelID).Msg("local model loaded")
	return nil
}

// Shutdown drops the model handle. The provider cannot be restarted.
func (lp *LocalProvider) Shutdown(ctx context.Context) error {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	lp.closed = true
	if lp.model == nil {
		return nil
	}
	err := lp.model.Close()
	lp.model = nil
	return err
}

// Transcribe runs the model against audioPath. Inference is not cancelled
// when ctx ends. Every output artifact is removed before returning.
func (lp *LocalProvider) Transcribe(ctx context.Context, audioPath, filename string) (string, error) {
	lp.mu.RLock()
	model, closed := lp.model, lp.closed
	lp.mu.RUnlock()
	if model == nil || closed {
		return "", notReady(lp.Name())
	}

	outBase := filepath.Join(lp.cfg.TmpDir, "transcript-"+uuid.NewString())
	defer lp.removeOutputs(outBase)

	input := audioPath
	if lp.cfg.PreprocessAudio {
		processed, cleanup, err := Preprocess(context.WithoutCancel(ctx), audioPath, lp.cfg.TmpDir)
		if err != nil {
			lp.log.Warn().Err(err).Msg("preprocessing failed, using original audio")
		} else {
			input = processed
			defer cleanup()
		}
	}

	res, err := generate(model, input, outBase)
	if err != nil {
		return "", &BackendError{Provider: lp.Name(), Err: err}
	}
	return strings.TrimSpace(res.Text), nil
}

// generate converts a panic inside the model into an error.
func generate(m Model, audioPath, outBase string) (res Result, err error) {
	defer func() {
		if rv := recover(); rv != nil {
			err = fmt.Errorf("inference panicked: %v", rv)
		}
	}()
	return m.Generate(audioPath, outBase)
}

func (lp *LocalProvider) removeOutputs(outBase string) {
	for _, ext := range outputExtensions {
		removeQuietly(lp.log, outBase+ext)
	}
}

// removeQuietly deletes path, ignoring a missing file and logging anything else.
func removeQuietly(log zerolog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Debug().Err(err).Str("path", path).Msg("could not remove temp file")
	}
}
