// Package collab holds the narrow contracts for external collaborators
// (transcription, synthesis, voice activity, reasoning, result reporting)
// plus HTTP clients and the ordered fallback chains that wrap them.
package collab

import (
	"context"
	"errors"
)

// ErrExhausted is returned when every backend in a fallback chain failed.
var ErrExhausted = errors.New("collab: all backends failed")

// Transcription is the result of a speech-to-text call.
type Transcription struct {
	Text       string  `json:"text"`
	Lang       string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// Transcriber converts caller audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, lang string) (Transcription, error)
}

// Synthesizer converts prompt text to PCM audio at the telephony rate.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang, voice string) ([]byte, error)
}

// VAD scores one PCM frame for speech probability in [0.0, 1.0].
type VAD interface {
	Probability(ctx context.Context, frame []byte) (float64, error)
}

// Reply is the reasoning collaborator's answer to a free-text utterance.
type Reply struct {
	Text    string `json:"text"`
	Intent  string `json:"intent"`
	EndCall bool   `json:"end_call"`
}

// Reasoner normalizes free speech into an intent and optional reply.
type Reasoner interface {
	Reply(ctx context.Context, utterance, sessionID string, callCtx map[string]string) (Reply, error)
}
