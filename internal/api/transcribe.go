package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/putt-t/open-whisper/internal/asr"
)

// audioField is the multipart field holding the recording.
const audioField = "audio"

// maxMemory is how much of a multipart form is buffered before spilling to
// disk. Spilled parts are removed by RemoveAll.
const maxMemory = 32 << 20

type TranscribeResponse struct {
	Text string `json:"text"`
}

// TranscribeHandler accepts dictation uploads.
type TranscribeHandler struct {
	gw             Gateway
	maxUploadBytes int64
	log            zerolog.Logger
}

func NewTranscribeHandler(gw Gateway, maxUploadBytes int64, log zerolog.Logger) *TranscribeHandler {
	return &TranscribeHandler{
		gw:             gw,
		maxUploadBytes: maxUploadBytes,
		log:            log.With().Str("handler", "transcribe").Logger(),
	}
}

// Routes registers the transcribe endpoint.
func (h *TranscribeHandler) Routes(r chi.Router) {
	r.Post("/transcribe", h.Transcribe)
}

// Transcribe handles POST /transcribe with the audio in the "audio" field.
func (h *TranscribeHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	if !h.gw.IsReady() {
		WriteError(w, http.StatusServiceUnavailable, "model not loaded")
		return
	}

	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		WriteErrorDetail(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(audioField)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "missing 'audio' file field")
		return
	}
	defer file.Close()

	text, err := h.gw.Transcribe(r.Context(), file, header.Filename)
	if err != nil {
		if errors.Is(err, asr.ErrNotReady) {
			WriteError(w, http.StatusServiceUnavailable, "model not loaded")
			return
		}
		h.log.Error().Err(err).Str("filename", header.Filename).Msg("transcription failed")
		var te *asr.TranscriptionError
		if errors.As(err, &te) {
			WriteError(w, http.StatusInternalServerError, te.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, "transcription failed: "+err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, TranscribeResponse{Text: text})
}
