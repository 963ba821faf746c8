package transcribe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// CheckSox reports whether sox is in PATH. The lookup runs once per process.
var CheckSox = sync.OnceValue(func() bool {
	_, err := exec.LookPath("sox")
	return err == nil
})

// Preprocess converts inputPath to the 16 kHz mono WAV whisper.cpp expects,
// writing preprocess-<uuid>.wav into dir.
//
// Returns the path to use and a cleanup function that removes the converted
// file. If sox is unavailable, returns the original path with a no-op cleanup.
func Preprocess(ctx context.Context, inputPath, dir string) (string, func(), error) {
	noop := func() {}

	if !CheckSox() {
		return inputPath, noop, nil
	}

	outPath := filepath.Join(dir, "preprocess-"+uuid.NewString()+".wav")

	// norm evens out quiet dictation; whisper.cpp only reads 16 kHz input.
	cmd := exec.CommandContext(ctx, "sox",
		inputPath, outPath,
		"rate", "16000",
		"channels", "1",
		"norm",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(outPath)
		return inputPath, noop, fmt.Errorf("sox preprocess: %w: %s", err, out)
	}

	cleanup := func() {
		os.Remove(outPath)
	}
	return outPath, cleanup, nil
}
