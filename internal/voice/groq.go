package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/mbellini/concierge/internal/reliability"
)

type GroqTranscriberConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// GroqTranscriber runs Whisper speech-to-text through Groq's OpenAI-compatible
// audio endpoint.
type GroqTranscriber struct {
	cfg    GroqTranscriberConfig
	client *http.Client
}

func NewGroqTranscriber(cfg GroqTranscriberConfig) *GroqTranscriber {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.groq.com/openai"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "whisper-large-v3"
	}
	return &GroqTranscriber{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (t *GroqTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("empty audio")
	}
	if strings.TrimSpace(filename) == "" {
		filename = "audio.wav"
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := w.WriteField("model", t.cfg.Model); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(t.cfg.BaseURL, "/") + "/v1/audio/transcriptions"

	var text string
	err = reliability.Do(ctx, 2, 300*time.Millisecond, 2*time.Second, func() (bool, error) {
		req, rErr := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body.Bytes()))
		if rErr != nil {
			return false, rErr
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)

		resp, rErr := t.client.Do(req)
		if rErr != nil {
			return true, rErr
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return reliability.IsRetryableHTTPStatus(resp.StatusCode),
				fmt.Errorf("groq stt: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}

		var out struct {
			Text string `json:"text"`
		}
		if dErr := json.NewDecoder(resp.Body).Decode(&out); dErr != nil {
			return false, fmt.Errorf("groq stt: decode response: %w", dErr)
		}
		text = strings.TrimSpace(out.Text)
		return false, nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}
