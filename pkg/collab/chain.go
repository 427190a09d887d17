package collab

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Attempt is one backend in a fallback chain.
type Attempt[T any] struct {
	Name string
	Call func(ctx context.Context) (T, error)
}

// RunChain tries attempts in order, each under its own timeout. The first
// success short-circuits; exhaustion returns ErrExhausted wrapping the last
// failure so the caller can degrade instead of crash.
func RunChain[T any](ctx context.Context, logger *slog.Logger, op string, timeout time.Duration, attempts []Attempt[T]) (T, error) {
	var zero T
	if len(attempts) == 0 {
		return zero, fmt.Errorf("%s: %w", op, ErrExhausted)
	}
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for _, a := range attempts {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		actx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, timeout)
		}
		v, err := a.Call(actx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return v, nil
		}
		lastErr = err
		logger.Warn("backend failed, trying next",
			"op", op, "backend", a.Name, "error", err)
	}
	return zero, fmt.Errorf("%s: %w: %w", op, ErrExhausted, lastErr)
}

// FallbackTranscriber runs an ordered transcriber list as one Transcriber.
type FallbackTranscriber struct {
	Backends []Attemptable[Transcriber]
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Attemptable pairs a backend with its name for logs.
type Attemptable[T any] struct {
	Name    string
	Backend T
}

// Transcribe implements Transcriber over the chain.
func (f *FallbackTranscriber) Transcribe(ctx context.Context, audio []byte, lang string) (Transcription, error) {
	attempts := make([]Attempt[Transcription], 0, len(f.Backends))
	for _, b := range f.Backends {
		attempts = append(attempts, Attempt[Transcription]{
			Name: b.Name,
			Call: func(ctx context.Context) (Transcription, error) {
				return b.Backend.Transcribe(ctx, audio, lang)
			},
		})
	}
	return RunChain(ctx, f.Logger, "transcribe", f.Timeout, attempts)
}

// FallbackSynthesizer runs an ordered synthesizer list as one Synthesizer.
type FallbackSynthesizer struct {
	Backends []Attemptable[Synthesizer]
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Synthesize implements Synthesizer over the chain.
func (f *FallbackSynthesizer) Synthesize(ctx context.Context, text, lang, voice string) ([]byte, error) {
	attempts := make([]Attempt[[]byte], 0, len(f.Backends))
	for _, b := range f.Backends {
		attempts = append(attempts, Attempt[[]byte]{
			Name: b.Name,
			Call: func(ctx context.Context) ([]byte, error) {
				return b.Backend.Synthesize(ctx, text, lang, voice)
			},
		})
	}
	return RunChain(ctx, f.Logger, "synthesize", f.Timeout, attempts)
}

// FallbackReasoner runs an ordered reasoner list as one Reasoner.
type FallbackReasoner struct {
	Backends []Attemptable[Reasoner]
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Reply implements Reasoner over the chain.
func (f *FallbackReasoner) Reply(ctx context.Context, utterance, sessionID string, callCtx map[string]string) (Reply, error) {
	attempts := make([]Attempt[Reply], 0, len(f.Backends))
	for _, b := range f.Backends {
		attempts = append(attempts, Attempt[Reply]{
			Name: b.Name,
			Call: func(ctx context.Context) (Reply, error) {
				return b.Backend.Reply(ctx, utterance, sessionID, callCtx)
			},
		})
	}
	return RunChain(ctx, f.Logger, "reason", f.Timeout, attempts)
}
