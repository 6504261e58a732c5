package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mbellini/concierge/internal/booking"
	"github.com/mbellini/concierge/internal/calendar"
	"github.com/mbellini/concierge/internal/config"
	"github.com/mbellini/concierge/internal/engine"
	"github.com/mbellini/concierge/internal/intent"
	"github.com/mbellini/concierge/internal/session"
	"github.com/mbellini/concierge/internal/voice"
)

func newTestServer(t *testing.T) (*Server, booking.Store) {
	t.Helper()

	now := func() time.Time { return time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC) }

	rules := intent.NewRulesExtractor()
	rules.SetNow(now)
	cal := calendar.NewFakeAdapter()
	cal.SetNow(now)

	sessions := session.NewMemoryStore(10 * time.Minute)
	bookings := booking.NewMemoryStore()
	eng := engine.New(sessions, rules, cal, bookings, booking.NewCodeGenerator("BK"), nil, engine.Options{})

	cfg := config.Config{SessionInactivityTimeout: 10 * time.Minute}
	srv := New(cfg, sessions, eng, bookings, voice.NewMockSynthesizer(), voice.NewMockTranscriber(), nil)
	return srv, bookings
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("status field = %v", body["status"])
	}
}

func TestSessionLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/session", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body)
	}
	var created createSessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.SessionID == "" {
		t.Fatalf("empty session id")
	}
	if created.State != session.StateGreeting {
		t.Fatalf("state = %q", created.State)
	}
	if created.Greeting == "" {
		t.Fatalf("empty greeting")
	}

	rec = doJSON(t, router, http.MethodGet, "/api/session/"+created.SessionID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodDelete, "/api/session/"+created.SessionID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("end status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/session/"+created.SessionID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after end status = %d", rec.Code)
	}
}

func TestChatConversation(t *testing.T) {
	srv, bookings := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/chat", chatRequest{
		Message: "I'd like to discuss retirement planning next Tuesday afternoon",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat status = %d: %s", rec.Code, rec.Body)
	}
	var turn engine.Turn
	if err := json.Unmarshal(rec.Body.Bytes(), &turn); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if turn.State != session.StateSlotOffered {
		t.Fatalf("state = %q, want SLOT_OFFERED", turn.State)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/chat", chatRequest{SessionID: turn.SessionID, Message: "the first one"})
	rec = doJSON(t, router, http.MethodPost, "/api/chat", chatRequest{SessionID: turn.SessionID, Message: "yes"})
	if err := json.Unmarshal(rec.Body.Bytes(), &turn); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if turn.State != session.StateBooked {
		t.Fatalf("state = %q, want BOOKED", turn.State)
	}
	if turn.Session.BookingCode == "" {
		t.Fatalf("no booking code")
	}

	rec = doJSON(t, router, http.MethodGet, "/api/booking/"+turn.Session.BookingCode, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("booking lookup status = %d", rec.Code)
	}
	var stored booking.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &stored); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stored.Status != booking.StatusConfirmed {
		t.Fatalf("status = %q", stored.Status)
	}
	if _, err := bookings.Get(context.Background(), stored.Code); err != nil {
		t.Fatalf("record missing from store: %v", err)
	}
}

func TestListBookings(t *testing.T) {
	srv, bookings := newTestServer(t)
	seed := booking.Record{Code: "BKTEST01", Topic: "pension transfer", Status: booking.StatusConfirmed}
	if err := bookings.Reserve(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doJSON(t, srv.Router(), http.MethodGet, "/api/bookings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Bookings []booking.Record `json:"bookings"`
		Count    int              `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || len(body.Bookings) != 1 || body.Bookings[0].Code != "BKTEST01" {
		t.Fatalf("body = %+v", body)
	}
}

func TestChatUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/chat", chatRequest{SessionID: "gone", Message: "hello"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "start a new session") {
		t.Fatalf("body = %s", rec.Body)
	}
}

func TestChatRejectsBadJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestBookingNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/api/booking/NOPE01", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestTTSWithMockProvider(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/tts", ttsRequest{Text: "hello"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if rec.Body.String() != "hello" {
		t.Fatalf("body = %q", rec.Body)
	}

	rec = doJSON(t, srv.Router(), http.MethodPost, "/api/tts", ttsRequest{Text: "  "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty text status = %d", rec.Code)
	}
}

func TestSTTWithMockProvider(t *testing.T) {
	srv, _ := newTestServer(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("audio", "turn.wav")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte("book me a meeting"))
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/stt", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["text"] != "book me a meeting" {
		t.Fatalf("text = %q", body["text"])
	}
}
