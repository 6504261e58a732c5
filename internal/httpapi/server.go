package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/mbellini/concierge/internal/booking"
	"github.com/mbellini/concierge/internal/config"
	"github.com/mbellini/concierge/internal/engine"
	"github.com/mbellini/concierge/internal/observability"
	"github.com/mbellini/concierge/internal/session"
	"github.com/mbellini/concierge/internal/voice"
)

// maxAudioUpload bounds speech uploads to keep transcription requests sane.
const maxAudioUpload = 10 << 20

type Server struct {
	cfg         config.Config
	sessions    session.Store
	engine      *engine.Engine
	bookings    booking.Store
	synthesizer voice.Synthesizer
	transcriber voice.Transcriber
	metrics     *observability.Metrics
}

func New(
	cfg config.Config,
	sessions session.Store,
	eng *engine.Engine,
	bookings booking.Store,
	synthesizer voice.Synthesizer,
	transcriber voice.Transcriber,
	metrics *observability.Metrics,
) *Server {
	return &Server{
		cfg:         cfg,
		sessions:    sessions,
		engine:      eng,
		bookings:    bookings,
		synthesizer: synthesizer,
		transcriber: transcriber,
		metrics:     metrics,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	if s.cfg.AllowAnyOrigin {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/api/session", s.handleCreateSession)
	r.Get("/api/session/{id}", s.handleGetSession)
	r.Delete("/api/session/{id}", s.handleEndSession)
	r.Post("/api/chat", s.handleChat)
	r.Get("/api/bookings", s.handleListBookings)
	r.Get("/api/booking/{code}", s.handleGetBooking)
	r.Post("/api/tts", s.handleTTS)
	r.Post("/api/stt", s.handleSTT)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type createSessionResponse struct {
	SessionID      string        `json:"session_id"`
	State          session.State `json:"state"`
	Greeting       string        `json:"greeting"`
	CreatedAt      time.Time     `json:"created_at"`
	InactivityTTLS int64         `json:"inactivity_ttl_seconds"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Create(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "session_store", err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("created").Inc()
	}
	respondJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:      sess.ID,
		State:          sess.State,
		Greeting:       engine.Greeting(),
		CreatedAt:      sess.CreatedAt,
		InactivityTTLS: int64(s.cfg.SessionInactivityTimeout.Seconds()),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.Get(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		respondError(w, http.StatusNotFound, "session_not_found", "session expired or unknown; start a new session")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "session_store", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.End(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", "session expired or unknown")
			return
		}
		respondError(w, http.StatusInternalServerError, "session_store", err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	turn, err := s.engine.Process(r.Context(), req.SessionID, req.Message)
	if errors.Is(err, session.ErrNotFound) {
		respondError(w, http.StatusNotFound, "session_not_found", "session expired or unknown; start a new session")
		return
	}
	if errors.Is(err, session.ErrTurnInFlight) {
		respondError(w, http.StatusConflict, "turn_in_flight", "previous message still processing; retry shortly")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "engine", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, turn)
}

func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	records, err := s.bookings.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "booking_store", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"bookings": records, "count": len(records)})
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "code")))
	rec, err := s.bookings.Get(r.Context(), code)
	if errors.Is(err, booking.ErrNotFound) {
		respondError(w, http.StatusNotFound, "booking_not_found", "no booking with that code")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "booking_store", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

type ttsRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	audio, contentType, err := s.synthesizer.Synthesize(r.Context(), req.Text)
	if err != nil {
		respondError(w, http.StatusBadGateway, "tts_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

func (s *Server) handleSTT(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "expected multipart form with an audio file")
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "audio file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxAudioUpload))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	text, err := s.transcriber.Transcribe(r.Context(), data, header.Filename)
	if err != nil {
		respondError(w, http.StatusBadGateway, "stt_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"text": text})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
