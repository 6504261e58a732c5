package voice

import (
	"context"
	"strings"
)

// MockSynthesizer returns the text itself as a plain-text "audio" payload so
// the API stays exercisable without an ElevenLabs key.
type MockSynthesizer struct{}

func NewMockSynthesizer() *MockSynthesizer { return &MockSynthesizer{} }

func (MockSynthesizer) Synthesize(_ context.Context, text string) ([]byte, string, error) {
	return []byte(text), "text/plain; charset=utf-8", nil
}

// MockTranscriber treats the uploaded bytes as UTF-8 text.
type MockTranscriber struct{}

func NewMockTranscriber() *MockTranscriber { return &MockTranscriber{} }

func (MockTranscriber) Transcribe(_ context.Context, audio []byte, _ string) (string, error) {
	return strings.TrimSpace(string(audio)), nil
}
