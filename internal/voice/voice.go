package voice

import "context"

// Synthesizer turns a reply into playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audio []byte, contentType string, err error)
}

// Transcriber turns recorded user audio into text for the engine.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}
