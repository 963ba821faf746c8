package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/putt-t/open-whisper/internal/config"
)

// fakeEngine hands out a fakeModel, optionally after a delay or with an error.
type fakeEngine struct {
	model   *fakeModel
	loadErr error
	delay   time.Duration
	loaded  chan struct{}
}

func (e *fakeEngine) Load(modelID string) (Model, error) {
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.loaded != nil {
		defer close(e.loaded)
	}
	if e.loadErr != nil {
		return nil, e.loadErr
	}
	return e.model, nil
}

// fakeModel writes every known output artifact, like a model asked for all
// formats, then returns text or fails.
type fakeModel struct {
	mu       sync.Mutex
	text     string
	err      error
	panicMsg string
	bases    []string
	inputs   []string
	closed   bool
}

func (m *fakeModel) Generate(audioPath, outBase string) (Result, error) {
	m.mu.Lock()
	m.bases = append(m.bases, outBase)
	m.inputs = append(m.inputs, audioPath)
	m.mu.Unlock()

	for _, ext := range outputExtensions {
		if err := os.WriteFile(outBase+ext, []byte(m.text), 0o600); err != nil {
			return Result{}, err
		}
	}
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	if m.err != nil {
		return Result{}, m.err
	}
	return Result{Text: m.text}, nil
}

func (m *fakeModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func newLocal(t *testing.T, engine Engine) (*LocalProvider, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "scratch")
	lp := NewLocalProvider(LocalConfig{Engine: engine, ModelID: "ggml-test.bin", TmpDir: dir}, zerolog.Nop())
	return lp, dir
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Empty(t, names, "leftover artifacts in %s", dir)
}

func TestLocalProvider_TranscribeTrimsAndCleansUp(t *testing.T) {
	model := &fakeModel{text: "  hello there \n"}
	lp, dir := newLocal(t, &fakeEngine{model: model})
	require.NoError(t, lp.Startup(context.Background()))
	require.True(t, lp.IsReady())

	text, err := lp.Transcribe(context.Background(), "/in/audio.wav", "audio.wav")
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
	assertDirEmpty(t, dir)

	require.Len(t, model.bases, 1)
	assert.Equal(t, dir, filepath.Dir(model.bases[0]))
	assert.Contains(t, filepath.Base(model.bases[0]), "transcript-")
	assert.Equal(t, "/in/audio.wav", model.inputs[0])
}

func TestLocalProvider_EmptyResult(t *testing.T) {
	lp, _ := newLocal(t, &fakeEngine{model: &fakeModel{}})
	require.NoError(t, lp.Startup(context.Background()))

	text, err := lp.Transcribe(context.Background(), "/in/a.wav", "")
	require.NoError(t, err)
	assert.Equal(t, "", text)
}

func TestLocalProvider_FreshBasePerCall(t *testing.T) {
	model := &fakeModel{text: "x"}
	lp, _ := newLocal(t, &fakeEngine{model: model})
	require.NoError(t, lp.Startup(context.Background()))

	for i := 0; i < 3; i++ {
		_, err := lp.Transcribe(context.Background(), "/in/a.wav", "")
		require.NoError(t, err)
	}
	assert.Len(t, model.bases, 3)
	assert.NotEqual(t, model.bases[0], model.bases[1])
	assert.NotEqual(t, model.bases[1], model.bases[2])
}

func TestLocalProvider_FailureStillCleansUp(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		lp, dir := newLocal(t, &fakeEngine{model: &fakeModel{text: "partial", err: errors.New("decoder failed")}})
		require.NoError(t, lp.Startup(context.Background()))

		_, err := lp.Transcribe(context.Background(), "/in/a.wav", "")
		var be *BackendError
		require.True(t, errors.As(err, &be))
		assert.Contains(t, err.Error(), "decoder failed")
		assertDirEmpty(t, dir)
	})

	t.Run("panic", func(t *testing.T) {
		lp, dir := newLocal(t, &fakeEngine{model: &fakeModel{panicMsg: "segfault-ish"}})
		require.NoError(t, lp.Startup(context.Background()))

		_, err := lp.Transcribe(context.Background(), "/in/a.wav", "")
		var be *BackendError
		require.True(t, errors.As(err, &be))
		assert.Contains(t, err.Error(), "segfault-ish")
		assertDirEmpty(t, dir)
	})
}

func TestLocalProvider_NotReady(t *testing.T) {
	lp, _ := newLocal(t, &fakeEngine{model: &fakeModel{}})
	assert.False(t, lp.IsReady())

	_, err := lp.Transcribe(context.Background(), "/in/a.wav", "")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestLocalProvider_LoadFailure(t *testing.T) {
	lp, _ := newLocal(t, &fakeEngine{loadErr: errors.New("model file: no such file")})
	err := lp.Startup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such file")
	assert.False(t, lp.IsReady())
}

func TestLocalProvider_StartupCancelled(t *testing.T) {
	model := &fakeModel{}
	engine := &fakeEngine{model: model, delay: 200 * time.Millisecond, loaded: make(chan struct{})}
	lp, _ := newLocal(t, engine)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := lp.Startup(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, lp.IsReady())

	<-engine.loaded
	assert.Eventually(t, func() bool {
		model.mu.Lock()
		defer model.mu.Unlock()
		return model.closed
	}, time.Second, 5*time.Millisecond, "late model should be closed")
}

func TestLocalProvider_ShutdownIsPermanent(t *testing.T) {
	model := &fakeModel{}
	lp, _ := newLocal(t, &fakeEngine{model: model})
	require.NoError(t, lp.Startup(context.Background()))
	require.NoError(t, lp.Shutdown(context.Background()))

	assert.False(t, lp.IsReady())
	assert.True(t, model.closed)
	_, err := lp.Transcribe(context.Background(), "/in/a.wav", "")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestWhisperCppEngine_LoadErrors(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "whisper-cli")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))

	_, err := NewWhisperCppEngine(bin).Load(filepath.Join(dir, "missing.bin"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model file")

	_, err = NewWhisperCppEngine(filepath.Join(dir, "nope")).Load(bin)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "binary")
}

func TestNew(t *testing.T) {
	cfg := &config.Config{ASRProvider: config.ProviderWhisperKit, WhisperKitModel: "large-v3", WhisperKitTimeoutSeconds: 1}
	p, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "whisperkit", p.Name())
	assert.Equal(t, "large-v3", p.Model())

	cfg = &config.Config{ASRProvider: config.ProviderWhisperCpp, Model: "ggml-small.bin"}
	p, err = New(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "whispercpp", p.Name())
	assert.Equal(t, "ggml-small.bin", p.Model())

	_, err = New(&config.Config{ASRProvider: "qwen"}, zerolog.Nop())
	assert.Error(t, err)
}
