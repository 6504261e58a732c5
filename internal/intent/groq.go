package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mbellini/concierge/internal/reliability"
)

const groqSystemPrompt = `You classify one turn of a meeting-booking conversation with a financial advisor.
Respond with a single JSON object:
{"intent": one of ["book","provide_info","select_slot","confirm","decline","correction","cancel_booking","reschedule_booking","unknown"],
 "topic": string or "",
 "window_from": RFC3339 timestamp or "",
 "window_to": RFC3339 timestamp or "",
 "duration_minutes": integer or 0,
 "booking_code": string or "",
 "slot_ordinal": 1-based index into the offered slots or 0,
 "slot_time": RFC3339 timestamp or "",
 "confidence": number between 0 and 1}
Use the conversation context to resolve short answers. Never invent values the user did not state.`

// GroqExtractor classifies turns with the Groq chat completions API.
type GroqExtractor struct {
	baseURL  string
	apiKey   string
	model    string
	minScore float64
	client   *http.Client
}

func NewGroqExtractor(baseURL, apiKey, model string, minScore float64) *GroqExtractor {
	return &GroqExtractor{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		model:    model,
		minScore: minScore,
		client:   &http.Client{},
	}
}

type groqChatRequest struct {
	Model          string        `json:"model"`
	Messages       []groqMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat groqFormat    `json:"response_format"`
}

type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type groqFormat struct {
	Type string `json:"type"`
}

type groqChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type groqExtraction struct {
	Intent          string  `json:"intent"`
	Topic           string  `json:"topic"`
	WindowFrom      string  `json:"window_from"`
	WindowTo        string  `json:"window_to"`
	DurationMinutes int     `json:"duration_minutes"`
	BookingCode     string  `json:"booking_code"`
	SlotOrdinal     int     `json:"slot_ordinal"`
	SlotTime        string  `json:"slot_time"`
	Confidence      float64 `json:"confidence"`
}

func (g *GroqExtractor) Extract(ctx context.Context, text string, conv Context) (Result, error) {
	userPayload, err := json.Marshal(map[string]any{
		"text":          text,
		"state":         conv.State,
		"topic":         conv.Topic,
		"has_window":    conv.HasWindow,
		"offered_slots": conv.OfferedSlots,
		"booking_code":  conv.BookingCode,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: encode context: %v", ErrExtraction, err)
	}

	body, err := json.Marshal(groqChatRequest{
		Model: g.model,
		Messages: []groqMessage{
			{Role: "system", Content: groqSystemPrompt},
			{Role: "user", Content: string(userPayload)},
		},
		Temperature:    0,
		ResponseFormat: groqFormat{Type: "json_object"},
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: encode request: %v", ErrExtraction, err)
	}

	var raw []byte
	err = reliability.Do(ctx, 2, 300*time.Millisecond, 2*time.Second, func() (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			g.baseURL+"/v1/chat/completions", bytes.NewReader(body))
		if err != nil {
			return false, err
		}
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
		req.Header.Set("Content-Type", "application/json")

		res, err := g.client.Do(req)
		if err != nil {
			return true, err
		}
		defer res.Body.Close()
		if res.StatusCode != http.StatusOK {
			return reliability.IsRetryableHTTPStatus(res.StatusCode),
				fmt.Errorf("groq status %d", res.StatusCode)
		}
		raw, err = io.ReadAll(io.LimitReader(res.Body, 1<<20))
		return err != nil, err
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	var chat groqChatResponse
	if err := json.Unmarshal(raw, &chat); err != nil || len(chat.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: malformed completion", ErrExtraction)
	}

	var ext groqExtraction
	if err := json.Unmarshal([]byte(chat.Choices[0].Message.Content), &ext); err != nil {
		return Result{}, fmt.Errorf("%w: malformed extraction payload", ErrExtraction)
	}

	return g.toResult(ext)
}

func (g *GroqExtractor) toResult(ext groqExtraction) (Result, error) {
	if ext.Confidence < g.minScore {
		return Result{}, fmt.Errorf("%w: confidence %.2f below threshold", ErrExtraction, ext.Confidence)
	}

	in := Intent(ext.Intent)
	switch in {
	case IntentBook, IntentProvide, IntentSelectSlot, IntentConfirm, IntentDecline,
		IntentCorrection, IntentCancel, IntentReschedule, IntentUnknown:
	default:
		return Result{}, fmt.Errorf("%w: unexpected intent %q", ErrExtraction, ext.Intent)
	}

	ents := Entities{
		Topic:       strings.TrimSpace(ext.Topic),
		BookingCode: strings.ToUpper(strings.TrimSpace(ext.BookingCode)),
		SlotOrdinal: ext.SlotOrdinal,
	}
	if ts, err := time.Parse(time.RFC3339, ext.WindowFrom); err == nil {
		ents.WindowFrom = &ts
	}
	if ts, err := time.Parse(time.RFC3339, ext.WindowTo); err == nil {
		ents.WindowTo = &ts
	}
	if ts, err := time.Parse(time.RFC3339, ext.SlotTime); err == nil {
		ents.SlotTime = &ts
	}
	if ext.DurationMinutes > 0 {
		d := time.Duration(ext.DurationMinutes) * time.Minute
		ents.Duration = &d
	}

	return Result{Intent: in, Entities: ents, Confidence: ext.Confidence}, nil
}
