package cleanup

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	probeErr   error
	probeDelay time.Duration
	probes     atomic.Int32

	mu           sync.Mutex
	reply        string
	respondErr   error
	prompts      []string
	instructions []string
}

func (m *fakeModel) Probe(ctx context.Context) error {
	m.probes.Add(1)
	if m.probeDelay > 0 {
		select {
		case <-time.After(m.probeDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.probeErr
}

func (m *fakeModel) Respond(ctx context.Context, instructions, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	m.instructions = append(m.instructions, instructions)
	return m.reply, m.respondErr
}

func (m *fakeModel) responds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

func newCleaner(model LanguageModel, terms ...string) *Cleaner {
	return New(Config{Instructions: "be terse", DictionaryTerms: terms}, model, zerolog.Nop())
}

func TestClean_ReturnsModelReply(t *testing.T) {
	model := &fakeModel{reply: "  Use Python. \n"}
	c := newCleaner(model)

	got, err := c.Clean(context.Background(), "Use Rust. Wait, use Python.")
	require.NoError(t, err)
	assert.Equal(t, "Use Python.", got)

	require.Equal(t, 1, model.responds())
	assert.Equal(t, "be terse", model.instructions[0])
	assert.True(t, strings.HasSuffix(model.prompts[0], "Raw transcript:\nUse Rust. Wait, use Python."))
	assert.Equal(t, StateAvailable, c.Availability().State)
}

func TestClean_EmptyInputSkipsModel(t *testing.T) {
	model := &fakeModel{reply: "should not be used"}
	c := newCleaner(model)

	got, err := c.Clean(context.Background(), "  \n\t ")
	require.NoError(t, err)
	assert.Equal(t, "", got)
	assert.Equal(t, int32(0), model.probes.Load())
	assert.Equal(t, StateUnknown, c.Availability().State)
}

func TestClean_RespondErrorReturnsInput(t *testing.T) {
	model := &fakeModel{respondErr: errors.New("connection refused")}
	c := newCleaner(model)

	got, err := c.Clean(context.Background(), " um hello ")
	require.NoError(t, err)
	assert.Equal(t, "um hello", got)
}

func TestClean_EmptyReplyReturnsInput(t *testing.T) {
	model := &fakeModel{reply: "   "}
	c := newCleaner(model)

	got, err := c.Clean(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestClean_UnavailableIsCachedAndPassesThrough(t *testing.T) {
	model := &fakeModel{probeErr: errors.New("model llama3.2 not found"), reply: "nope"}
	c := newCleaner(model)

	for i := 0; i < 3; i++ {
		got, err := c.Clean(context.Background(), "raw text")
		require.NoError(t, err)
		assert.Equal(t, "raw text", got)
	}

	assert.Equal(t, int32(1), model.probes.Load())
	assert.Equal(t, 0, model.responds())
	a := c.Availability()
	assert.Equal(t, StateUnavailable, a.State)
	assert.Contains(t, a.Reason, "not found")
}

func TestClean_NilModelUnavailable(t *testing.T) {
	c := newCleaner(nil)
	got, err := c.Clean(context.Background(), "raw")
	require.NoError(t, err)
	assert.Equal(t, "raw", got)
	assert.Equal(t, StateUnavailable, c.Availability().State)
}

func TestClean_ConcurrentCallersShareOneProbe(t *testing.T) {
	model := &fakeModel{reply: "clean", probeDelay: 50 * time.Millisecond}
	c := newCleaner(model)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.Clean(context.Background(), "raw")
			assert.NoError(t, err)
			assert.Equal(t, "clean", got)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), model.probes.Load())
	assert.Equal(t, 16, model.responds())
}

func TestClean_ProbeSurvivesCallerCancellation(t *testing.T) {
	model := &fakeModel{reply: "clean", probeDelay: 30 * time.Millisecond}
	c := newCleaner(model)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Clean(ctx, "raw")
	require.NoError(t, err)
	assert.Equal(t, StateAvailable, c.Availability().State)
}

func TestClean_ProbeTimeout(t *testing.T) {
	model := &fakeModel{probeDelay: time.Second}
	c := New(Config{ProbeTimeout: 10 * time.Millisecond}, model, zerolog.Nop())

	got, err := c.Clean(context.Background(), "raw")
	require.NoError(t, err)
	assert.Equal(t, "raw", got)
	a := c.Availability()
	assert.Equal(t, StateUnavailable, a.State)
	assert.Equal(t, "availability check timed out", a.Reason)
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("ship it", nil)
	assert.True(t, strings.HasPrefix(p, "You are a transcript cleanup engine.\n"))
	assert.Contains(t, p, "8) Return only the final cleaned text.\n")
	assert.NotContains(t, p, "Preferred spellings")
	assert.True(t, strings.HasSuffix(p, "Raw transcript:\nship it"))

	p = BuildPrompt("ship it", []string{"Kubernetes", "OpenWhisper"})
	assert.Contains(t, p, "Preferred spellings")
	assert.Contains(t, p, "- Kubernetes\n- OpenWhisper\n")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unknown", StateUnknown.String())
	assert.Equal(t, "available", StateAvailable.String())
	assert.Equal(t, "unavailable", StateUnavailable.String())
}
