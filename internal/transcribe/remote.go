package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// errorBodyLimit caps how much of an upstream response is echoed into errors.
	errorBodyLimit = 400
	// maxResponseBytes caps how much of an upstream response is read.
	maxResponseBytes = 4 << 20
)

// RemoteConfig configures a RemoteProvider.
type RemoteConfig struct {
	Endpoint string // OpenAI-compatible /v1/audio/transcriptions URL
	Model    string
	Timeout  time.Duration
	Language string // optional
	Prompt   string // optional
}

// RemoteProvider calls an OpenAI-compatible transcription endpoint such as a
// local WhisperKit server.
type RemoteProvider struct {
	cfg    RemoteConfig
	client *http.Client
	log    zerolog.Logger
	ready  atomic.Bool
}

// FormField is a plain text multipart field.
type FormField struct {
	Name  string
	Value string
}

// NewRemoteProvider creates a remote provider. It is not ready until Startup.
func NewRemoteProvider(cfg RemoteConfig, log zerolog.Logger) *RemoteProvider {
	return &RemoteProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.With().Str("provider", "whisperkit").Logger(),
	}
}

func (rp *RemoteProvider) Name() string  { return "whisperkit" }
func (rp *RemoteProvider) Model() string { return rp.cfg.Model }
func (rp *RemoteProvider) IsReady() bool { return rp.ready.Load() }

// Startup captures the endpoint configuration. No request is made.
func (rp *RemoteProvider) Startup(ctx context.Context) error {
	rp.ready.Store(true)
	rp.log.Info().
		Str("endpoint", rp.cfg.Endpoint).
		Str("model", rp.cfg.Model).
		Dur("timeout", rp.cfg.Timeout).
		Msg("remote transcriber configured")
	return nil
}

func (rp *RemoteProvider) Shutdown(ctx context.Context) error {
	rp.ready.Store(false)
	return nil
}

// Transcribe posts the audio file as multipart/form-data and returns the
// trimmed "text" field of the JSON response.
func (rp *RemoteProvider) Transcribe(ctx context.Context, audioPath, filename string) (string, error) {
	if !rp.IsReady() {
		return "", notReady(rp.Name())
	}

	data, err := os.ReadFile(audioPath)
	if err != nil {
		return "", backendErrorf(rp.Name(), "read audio file: %w", err)
	}
	if filename == "" {
		filename = filepath.Base(audioPath)
	}

	fields := []FormField{
		{Name: "model", Value: rp.cfg.Model},
		{Name: "response_format", Value: "json"},
	}
	if rp.cfg.Language != "" {
		fields = append(fields, FormField{Name: "language", Value: rp.cfg.Language})
	}
	if rp.cfg.Prompt != "" {
		fields = append(fields, FormField{Name: "prompt", Value: rp.cfg.Prompt})
	}

	body, contentType, err := BuildMultipartBody(fields, "file", filename, AudioContentType(audioPath), data)
	if err != nil {
		return "", backendErrorf(rp.Name(), "build request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rp.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", backendErrorf(rp.Name(), "create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := rp.client.Do(req)
	if err != nil {
		return "", backendErrorf(rp.Name(), "request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return "", backendErrorf(rp.Name(), "read response: %w", err)
	}
	if len(respBody) > maxResponseBytes {
		return "", backendErrorf(rp.Name(), "response exceeds %d bytes (status %d)", maxResponseBytes, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", backendErrorf(rp.Name(), "request failed (status %d): %s", resp.StatusCode, truncate(respBody, errorBodyLimit))
	}

	text, err := parseTextResponse(respBody)
	if err != nil {
		return "", &BackendError{Provider: rp.Name(), Err: err}
	}
	return text, nil
}

func parseTextResponse(body []byte) (string, error) {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("invalid JSON response: %s", truncate(body, errorBodyLimit))
	}
	obj, _ := payload.(map[string]any)
	text, ok := obj["text"].(string)
	if !ok {
		return "", fmt.Errorf("response missing 'text' field: %s", truncate(body, errorBodyLimit))
	}
	return strings.TrimSpace(text), nil
}

// BuildMultipartBody encodes fields followed by one file part into an
// in-memory multipart/form-data body. Every call uses a fresh boundary.
// It returns the body and the matching Content-Type header value.
func BuildMultipartBody(fields []FormField, fileField, fileName, fileContentType string, fileData []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(newBoundary()); err != nil {
		return nil, "", fmt.Errorf("set boundary: %w", err)
	}

	for _, f := range fields {
		if err := w.WriteField(f.Name, f.Value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f.Name, err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		escapeQuotes(fileField), escapeQuotes(fileName)))
	h.Set("Content-Type", fileContentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(fileData); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func newBoundary() string {
	return "----open-whisper-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }

// AudioContentType guesses the MIME type of an audio file from its extension.
func AudioContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".flac":
		return "audio/flac"
	case ".ogg", ".oga":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return strings.ToValidUTF8(string(b), "")
}
