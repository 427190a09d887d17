// Package turn converts per-frame voice-activity probabilities into
// turn-taking events: speech start, speech end, and barge-in interruptions.
package turn

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/orderdial/orderdial/pkg/core/audio"
)

// EventKind identifies a turn event.
type EventKind string

const (
	// EventSpeechStart fires when a new caller speech segment opens.
	EventSpeechStart EventKind = "speech_start"
	// EventSpeechEnd fires after enough audio-time silence closes a segment.
	EventSpeechEnd EventKind = "speech_end"
	// EventInterrupted fires when the caller speaks over system playback.
	EventInterrupted EventKind = "interrupted"
)

// Event is emitted by the engine. Utterance is populated only on speech end
// and holds the captured segment for transcription.
type Event struct {
	Kind      EventKind
	SessionID string
	At        time.Time
	Utterance []byte
}

// VAD scores one PCM frame for speech probability in [0.0, 1.0].
type VAD interface {
	Probability(ctx context.Context, frame []byte) (float64, error)
}

// Config tunes the engine.
type Config struct {
	// Threshold is the probability at or above which a frame counts as
	// speech. Default: 0.5.
	Threshold float64

	// MinSilenceMs is the audio-time silence that closes an open speech
	// segment. Default: 800.
	MinSilenceMs int

	// MaxUtteranceMs bounds the captured segment. Default: 30000.
	MaxUtteranceMs int

	// Audio is the PCM format of inbound frames.
	Audio audio.Config
}

// DefaultConfig returns the standard turn-taking configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:      0.5,
		MinSilenceMs:   800,
		MaxUtteranceMs: 30000,
		Audio:          audio.DefaultConfig(),
	}
}

// Engine is the per-session turn-taking state machine. Silence is measured
// in audio time (bytes processed over byte rate), not wall clock, so
// end-of-turn detection stays correct when network delivery is jittery.
type Engine struct {
	cfg       Config
	vad       VAD
	sessionID string
	logger    *slog.Logger

	mu           sync.Mutex
	onEvent      func(Event)
	segmentOpen  bool
	silenceBytes int
	playing      bool
	utterance    *audio.Buffer
}

// NewEngine creates an engine for one session. Zero config fields take
// defaults.
func NewEngine(sessionID string, vad VAD, cfg Config, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.MinSilenceMs <= 0 {
		cfg.MinSilenceMs = def.MinSilenceMs
	}
	if cfg.MaxUtteranceMs <= 0 {
		cfg.MaxUtteranceMs = def.MaxUtteranceMs
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio = def.Audio
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:       cfg,
		vad:       vad,
		sessionID: sessionID,
		logger:    logger.With("session_id", sessionID),
		utterance: audio.NewBuffer(cfg.Audio, cfg.MaxUtteranceMs),
	}
}

// SetCallback registers the event sink. Events are delivered synchronously
// from ProcessFrame.
func (e *Engine) SetCallback(fn func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEvent = fn
}

// SetPlaying flags whether system audio is currently being played. The
// outbound scheduler sets it before the first media frame and clears it on
// mark acknowledgment.
func (e *Engine) SetPlaying(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = v
}

// Playing reports the playback flag.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// ProcessFrame scores one inbound PCM frame and advances the state machine.
// A failed VAD inference is treated as silence and logged; one bad inference
// must not end the call.
func (e *Engine) ProcessFrame(ctx context.Context, frame []byte) {
	if len(frame) == 0 {
		return
	}

	prob, err := e.vad.Probability(ctx, frame)
	if err != nil {
		e.logger.Warn("vad inference failed, treating frame as silence", "error", err)
		prob = 0
	}

	e.mu.Lock()
	isSpeech := prob >= e.cfg.Threshold
	var events []Event

	if isSpeech {
		e.silenceBytes = 0
		switch {
		case e.playing:
			// Barge-in: caller talks over playback. The segment opens
			// without a separate speech_start.
			e.playing = false
			e.segmentOpen = true
			e.utterance.Clear()
			e.utterance.Write(frame)
			events = append(events, e.event(EventInterrupted, nil))
		case !e.segmentOpen:
			e.segmentOpen = true
			e.utterance.Clear()
			e.utterance.Write(frame)
			events = append(events, e.event(EventSpeechStart, nil))
		default:
			e.utterance.Write(frame)
		}
	} else if e.segmentOpen {
		e.utterance.Write(frame)
		e.silenceBytes += len(frame)
		if e.cfg.Audio.DurationMs(e.silenceBytes) >= e.cfg.MinSilenceMs {
			e.segmentOpen = false
			e.silenceBytes = 0
			events = append(events, e.event(EventSpeechEnd, e.utterance.Read()))
			e.utterance.Clear()
		}
	}

	fn := e.onEvent
	e.mu.Unlock()

	if fn != nil {
		for _, ev := range events {
			fn(ev)
		}
	}
}

// Reset closes any open segment without emitting events. Used when a new
// scripted prompt begins and stale caller audio should not leak into the
// next turn.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.segmentOpen = false
	e.silenceBytes = 0
	e.utterance.Clear()
}

func (e *Engine) event(kind EventKind, utterance []byte) Event {
	return Event{
		Kind:      kind,
		SessionID: e.sessionID,
		At:        time.Now(),
		Utterance: utterance,
	}
}
