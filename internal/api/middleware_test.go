package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/putt-t/open-whisper/internal/metrics"
)

// okHandler is a trivial handler that writes 200 OK.
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequestID(t *testing.T) {
	t.Run("generates_id_when_missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		RequestID(okHandler).ServeHTTP(rec, req)
		id := rec.Header().Get("X-Request-ID")
		assert.Len(t, id, 16, "expected 16-char hex ID")
		assert.Equal(t, id, req.Header.Get("X-Request-ID"), "generated ID should be set on the request too")
	})

	t.Run("preserves_provided_id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Request-ID", "my-custom-id")
		RequestID(okHandler).ServeHTTP(rec, req)
		assert.Equal(t, "my-custom-id", rec.Header().Get("X-Request-ID"))
	})
}

func TestRequestToken(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		want   string
	}{
		{"none", nil, ""},
		{"asr_header", map[string]string{"X-ASR-Token": "abc"}, "abc"},
		{"asr_header_trimmed", map[string]string{"X-ASR-Token": "  abc \n"}, "abc"},
		{"bearer", map[string]string{"Authorization": "Bearer xyz"}, "xyz"},
		{"asr_header_wins", map[string]string{"X-ASR-Token": "abc", "Authorization": "Bearer xyz"}, "abc"},
		{"basic_ignored", map[string]string{"Authorization": "Basic Zm9vOmJhcg=="}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/transcribe", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, RequestToken(req))
		})
	}
}

func TestTokenAuth(t *testing.T) {
	authorize := func(token string) bool { return token == "secret" }

	tests := []struct {
		name       string
		header     string
		value      string
		wantStatus int
	}{
		{"no_token", "", "", http.StatusUnauthorized},
		{"wrong_token", "X-ASR-Token", "nope", http.StatusUnauthorized},
		{"valid_header", "X-ASR-Token", "secret", http.StatusOK},
		{"valid_bearer", "Authorization", "Bearer secret", http.StatusOK},
		{"bearer_wrong_scheme", "Authorization", "Token secret", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/transcribe", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			TokenAuth(authorize)(okHandler).ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				var body ErrorResponse
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, "unauthorized", body.Error)
			}
		})
	}
}

func TestRecoverer(t *testing.T) {
	var buf bytes.Buffer
	gw := &mockGateway{ready: true, token: "tok", panics: true}
	router := NewRouter(gw, 0, zerolog.New(&buf))

	counter := metrics.HTTPRequestsTotal.WithLabelValues("POST", "/transcribe", "500")
	before := testutil.ToFloat64(counter)

	body, ct := buildMultipartForm(t, nil, "audio", []byte("RIFF"), "a.wav")
	rec := doTranscribe(t, router, "tok", body, ct)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decodeError(t, rec).Error)

	var panicLine, accessLine map[string]any
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var entry map[string]any
		require.NoError(t, dec.Decode(&entry))
		switch entry["message"] {
		case "recovered from panic":
			panicLine = entry
		case "request":
			accessLine = entry
		}
	}
	require.NotNil(t, panicLine, "panic should be logged: %s", buf.String())
	assert.Equal(t, "error", panicLine["level"])
	assert.Equal(t, "transcriber exploded", panicLine["panic"])

	require.NotNil(t, accessLine, "request should be access-logged: %s", buf.String())
	assert.EqualValues(t, http.StatusInternalServerError, accessLine["status"])

	assert.Equal(t, float64(1), testutil.ToFloat64(counter)-before)
}
