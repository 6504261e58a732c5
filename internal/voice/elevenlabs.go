package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mbellini/concierge/internal/reliability"
)

type ElevenLabsConfig struct {
	APIKey  string
	BaseURL string
	VoiceID string
	ModelID string
}

// ElevenLabsSynthesizer renders replies with the ElevenLabs text-to-speech
// REST API.
type ElevenLabsSynthesizer struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

func NewElevenLabsSynthesizer(cfg ElevenLabsConfig) *ElevenLabsSynthesizer {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		cfg.VoiceID = "21m00Tcm4TlvDq8ikWAM"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_turbo_v2"
	}
	return &ElevenLabsSynthesizer{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type elevenRequest struct {
	Text          string              `json:"text"`
	ModelID       string              `json:"model_id"`
	VoiceSettings elevenVoiceSettings `json:"voice_settings"`
}

type elevenVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func (s *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, "", fmt.Errorf("empty text")
	}

	payload, err := json.Marshal(elevenRequest{
		Text:    text,
		ModelID: s.cfg.ModelID,
		VoiceSettings: elevenVoiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	})
	if err != nil {
		return nil, "", err
	}

	endpoint := strings.TrimRight(s.cfg.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(s.cfg.VoiceID)

	var audio []byte
	var contentType string
	err = reliability.Do(ctx, 2, 300*time.Millisecond, 2*time.Second, func() (bool, error) {
		req, rErr := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if rErr != nil {
			return false, rErr
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("xi-api-key", s.cfg.APIKey)

		resp, rErr := s.client.Do(req)
		if rErr != nil {
			return true, rErr
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return reliability.IsRetryableHTTPStatus(resp.StatusCode),
				fmt.Errorf("elevenlabs tts: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		audio, rErr = io.ReadAll(resp.Body)
		if rErr != nil {
			return true, rErr
		}
		contentType = resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "audio/mpeg"
		}
		return false, nil
	})
	if err != nil {
		return nil, "", err
	}
	return audio, contentType, nil
}
