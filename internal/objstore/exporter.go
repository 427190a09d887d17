package objstore

import (
	"context"
	"log/slog"
	"time"
)

// Exporter ships utterance training pairs off the call path. Uploads run as
// supervised background tasks with their own deadline so a slow object store
// never blocks a live call.
type Exporter struct {
	store   uploader
	sup     spawner
	timeout time.Duration
	logger  *slog.Logger
}

func NewExporter(store *Store, sup spawner, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{store: store, sup: sup, timeout: 30 * time.Second, logger: logger}
}

// ExportUtterance schedules one upload. Best effort: failures are logged,
// never surfaced to the call.
func (e *Exporter) ExportUtterance(callID string, seq int64, pcm []byte, transcript string) {
	if e == nil || e.store == nil {
		return
	}
	audio := make([]byte, len(pcm))
	copy(audio, pcm)

	err := e.sup.Go(context.Background(), "objstore-export", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		return e.store.PutUtterance(ctx, callID, seq, audio, transcript)
	})
	if err != nil {
		e.logger.Warn("utterance export not scheduled", "call_id", callID, "error", err)
	}
}

// ExportPrompt schedules the upload of a freshly synthesized prompt under its
// cache key, pairing the generated audio with its text. Same best-effort
// contract as utterances.
func (e *Exporter) ExportPrompt(key string, audio []byte, text string) {
	if e == nil || e.store == nil {
		return
	}
	buf := make([]byte, len(audio))
	copy(buf, audio)

	err := e.sup.Go(context.Background(), "objstore-export", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		return e.store.PutPrompt(ctx, key, buf, text)
	})
	if err != nil {
		e.logger.Warn("prompt export not scheduled", "key", key, "error", err)
	}
}
