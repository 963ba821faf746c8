package cleanup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// LanguageModel is a text model that can rewrite a transcript.
type LanguageModel interface {
	// Probe reports whether the model can serve requests. A non-nil error
	// carries the reason it cannot.
	Probe(ctx context.Context) error
	// Respond runs one stateless exchange and returns the model's reply.
	Respond(ctx context.Context, instructions, prompt string) (string, error)
}

// State is the cleaner's view of its language model.
type State int

const (
	StateUnknown State = iota
	StateAvailable
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Availability is the probe outcome. Reason is set only for StateUnavailable.
type Availability struct {
	State  State
	Reason string
}

// Config configures a Cleaner.
type Config struct {
	Instructions    string
	DictionaryTerms []string
	// ProbeTimeout bounds the one-time availability check.
	ProbeTimeout time.Duration
}

// Cleaner removes disfluencies and retracted content from raw transcripts.
// It degrades to returning its input whenever the model is missing or fails.
type Cleaner struct {
	cfg   Config
	model LanguageModel
	log   zerolog.Logger

	probe singleflight.Group
	mu    sync.Mutex
	avail Availability
}

// New creates a Cleaner. The model is probed lazily on the first Clean.
func New(cfg Config, model LanguageModel, log zerolog.Logger) *Cleaner {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	return &Cleaner{
		cfg:   cfg,
		model: model,
		log:   log.With().Str("component", "cleanup").Logger(),
	}
}

// Availability returns the cached probe outcome without triggering a probe.
func (c *Cleaner) Availability() Availability {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.avail
}

// Clean returns the cleaned transcript. Model failures are logged and the
// trimmed input is returned with a nil error.
func (c *Cleaner) Clean(ctx context.Context, transcript string) (string, error) {
	text := strings.TrimSpace(transcript)
	if text == "" {
		return text, nil
	}
	if !c.ensureModel(ctx) {
		return text, nil
	}

	reply, err := c.model.Respond(ctx, c.cfg.Instructions, BuildPrompt(text, c.cfg.DictionaryTerms))
	if err != nil {
		c.log.Warn().Err(err).Msg("cleanup respond failed, returning raw transcript")
		return text, nil
	}
	if cleaned := strings.TrimSpace(reply); cleaned != "" {
		return cleaned, nil
	}
	return text, nil
}

// ensureModel probes the model at most once per process. Concurrent callers
// share the in-flight probe.
func (c *Cleaner) ensureModel(ctx context.Context) bool {
	if a := c.Availability(); a.State != StateUnknown {
		return a.State == StateAvailable
	}

	v, _, _ := c.probe.Do("probe", func() (any, error) {
		if a := c.Availability(); a.State != StateUnknown {
			return a, nil
		}
		// Detached from the caller: the result is cached for every request.
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ProbeTimeout)
		defer cancel()

		a := Availability{State: StateAvailable}
		if c.model == nil {
			a = Availability{State: StateUnavailable, Reason: "no language model configured"}
		} else if err := c.model.Probe(pctx); err != nil {
			a = Availability{State: StateUnavailable, Reason: probeReason(err)}
		}

		c.mu.Lock()
		c.avail = a
		c.mu.Unlock()

		if a.State == StateAvailable {
			c.log.Info().Msg("transcript cleanup enabled (stateless request per transcript)")
		} else {
			c.log.Warn().Str("reason", a.Reason).Msg("transcript cleanup disabled")
		}
		return a, nil
	})
	return v.(Availability).State == StateAvailable
}

func probeReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "availability check timed out"
	}
	return fmt.Sprintf("availability check failed: %v", err)
}

// BuildPrompt renders the fixed cleanup rules around text. Dictionary terms,
// when present, are listed as preferred spellings.
func BuildPrompt(text string, terms []string) string {
	var b strings.Builder
	b.WriteString("You are a transcript cleanup engine.\n")
	b.WriteString("Apply these rules in order:\n")
	b.WriteString("1) Remove filler words, stutters, and false starts.\n")
	b.WriteString("2) If the speaker revises/retracts earlier content, keep only the final surviving intent.\n")
	b.WriteString("3) If two statements conflict, the latest statement wins.\n")
	b.WriteString("4) Never include discarded alternatives together with the final choice.\n")
	b.WriteString("5) Keep decisive correction cues (e.g. 'actually', 'wait', 'no', 'instead') as signals and resolve to the final choice.\n")
	b.WriteString("6) If no cleanup is needed, return the input unchanged.\n")
	b.WriteString("7) Keep original language and tone, and do not add information.\n")
	b.WriteString("8) Return only the final cleaned text.\n")
	if len(terms) > 0 {
		b.WriteString("Preferred spellings (use exactly as written when the speaker means them):\n")
		for _, t := range terms {
			b.WriteString("- ")
			b.WriteString(t)
			b.WriteString("\n")
		}
	}
	b.WriteString("Example:\n")
	b.WriteString("Raw: We shipped it. Actually, no, not shipped yet.\n")
	b.WriteString("Cleaned: It's not shipped yet.\n")
	b.WriteString("Example:\n")
	b.WriteString("Raw: Use Rust. Wait, use Python.\n")
	b.WriteString("Cleaned: Use Python.\n")
	b.WriteString("Raw transcript:\n")
	b.WriteString(text)
	return b.String()
}
