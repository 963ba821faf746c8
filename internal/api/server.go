package api

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/putt-t/open-whisper/internal/cleanup"
	"github.com/putt-t/open-whisper/internal/config"
	"github.com/putt-t/open-whisper/internal/metrics"
)

// Gateway is the transcription service behind the HTTP surface.
// *asr.Service implements it.
type Gateway interface {
	IsReady() bool
	ModelID() string
	Authorize(token string) bool
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
	CleanupAvailability() (cleanup.Availability, bool)
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(cfg *config.Config, gw Gateway, log zerolog.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      NewRouter(gw, cfg.MaxUploadBytes, log),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

// NewRouter builds the handler tree. maxUploadBytes <= 0 disables the
// upload size cap.
func NewRouter(gw Gateway, maxUploadBytes int64, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware. Recoverer stays innermost: it logs through hlog and
	// its 500 must pass through the access log and metrics.
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(metrics.InstrumentHandler)
	r.Use(Recoverer)

	// Health and metrics: no auth
	r.Get("/health", NewHealthHandler(gw).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(TokenAuth(gw.Authorize))
		NewTranscribeHandler(gw, maxUploadBytes, log).Routes(r)
	})

	return r
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
