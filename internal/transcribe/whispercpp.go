package transcribe

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// whisperBinaryNames are tried in order; whisper-cli is the Homebrew name.
var whisperBinaryNames = []string{"whisper-cli", "whisper-cpp", "whisper"}

// WhisperCppEngine runs models through the whisper.cpp command line tool.
type WhisperCppEngine struct {
	binPath string
}

// NewWhisperCppEngine creates an engine. An empty binPath means the binary is
// looked up on PATH and in common install locations at Load time.
func NewWhisperCppEngine(binPath string) *WhisperCppEngine {
	return &WhisperCppEngine{binPath: binPath}
}

// Load checks that the binary and the ggml model file exist.
func (e *WhisperCppEngine) Load(modelID string) (Model, error) {
	bin := e.binPath
	if bin == "" {
		bin = findWhisperBinary()
	}
	if bin == "" {
		return nil, errors.New("whisper.cpp binary not found, install whisper-cpp or set DICTATION_WHISPERCPP_BIN")
	}
	if _, err := os.Stat(bin); err != nil {
		return nil, fmt.Errorf("whisper.cpp binary: %w", err)
	}
	if _, err := os.Stat(modelID); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}
	return &whisperCppModel{bin: bin, modelPath: modelID}, nil
}

type whisperCppModel struct {
	bin       string
	modelPath string
}

// Generate writes outBase.txt and returns its contents.
func (m *whisperCppModel) Generate(audioPath, outBase string) (Result, error) {
	args := []string{
		"-m", m.modelPath,
		"-f", audioPath,
		"-otxt",
		"-of", outBase,
		"-np", // no progress/info prints
	}

	cmd := exec.Command(m.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("whisper.cpp failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(outBase + ".txt")
	if errors.Is(err, fs.ErrNotExist) {
		return Result{}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("read transcript: %w", err)
	}
	return Result{Text: string(data)}, nil
}

func (m *whisperCppModel) Close() error { return nil }

func findWhisperBinary() string {
	for _, name := range whisperBinaryNames {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	home, _ := os.UserHomeDir()
	locations := []string{
		"/opt/homebrew/bin",
		"/usr/local/bin",
		filepath.Join(home, ".local", "bin"),
	}
	for _, loc := range locations {
		for _, name := range whisperBinaryNames {
			path := filepath.Join(loc, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
