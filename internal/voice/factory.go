package voice

import (
	"fmt"
	"strings"
)

// Config controls synthesizer and transcriber construction.
type Config struct {
	Provider string

	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string
	ElevenLabsVoiceID string
	ElevenLabsModelID string

	GroqAPIKey   string
	GroqBaseURL  string
	GroqSTTModel string
}

// NewSynthesizer picks ElevenLabs when a key is configured, otherwise the
// mock, mirroring the extractor factory.
func NewSynthesizer(cfg Config) (Synthesizer, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "auto"
	}

	switch provider {
	case "auto":
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) != "" {
			return newElevenLabs(cfg), nil
		}
		return NewMockSynthesizer(), nil
	case "elevenlabs":
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) == "" {
			return nil, fmt.Errorf("VOICE_PROVIDER=elevenlabs requires ELEVEN_LABS_API_KEY")
		}
		return newElevenLabs(cfg), nil
	case "mock":
		return NewMockSynthesizer(), nil
	default:
		return nil, fmt.Errorf("unsupported voice provider %q", cfg.Provider)
	}
}

// NewTranscriber picks Groq Whisper when a key is configured, otherwise the
// mock.
func NewTranscriber(cfg Config) (Transcriber, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "auto"
	}

	switch provider {
	case "auto":
		if strings.TrimSpace(cfg.GroqAPIKey) != "" {
			return NewGroqTranscriber(GroqTranscriberConfig{
				APIKey:  cfg.GroqAPIKey,
				BaseURL: cfg.GroqBaseURL,
				Model:   cfg.GroqSTTModel,
			}), nil
		}
		return NewMockTranscriber(), nil
	case "elevenlabs", "groq":
		if strings.TrimSpace(cfg.GroqAPIKey) == "" {
			return nil, fmt.Errorf("speech-to-text requires GROQ_API_KEY")
		}
		return NewGroqTranscriber(GroqTranscriberConfig{
			APIKey:  cfg.GroqAPIKey,
			BaseURL: cfg.GroqBaseURL,
			Model:   cfg.GroqSTTModel,
		}), nil
	case "mock":
		return NewMockTranscriber(), nil
	default:
		return nil, fmt.Errorf("unsupported voice provider %q", cfg.Provider)
	}
}

func newElevenLabs(cfg Config) *ElevenLabsSynthesizer {
	return NewElevenLabsSynthesizer(ElevenLabsConfig{
		APIKey:  cfg.ElevenLabsAPIKey,
		BaseURL: cfg.ElevenLabsBaseURL,
		VoiceID: cfg.ElevenLabsVoiceID,
		ModelID: cfg.ElevenLabsModelID,
	})
}
