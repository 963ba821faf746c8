package asr

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned when a request arrives before the provider is
// ready or after shutdown.
var ErrNotReady = errors.New("model not loaded")

// TranscriptionError wraps any failure while saving or transcribing audio.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }
