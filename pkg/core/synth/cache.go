// Package synth caches synthesized prompt audio so the scripted phrases of a
// call are generated at most once per process and the first prompt after call
// answer never waits on the synthesis backend.
package synth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Synthesizer produces audio for a prompt. Implemented by the TTS fallback
// chain in pkg/collab.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang, voice string) ([]byte, error)
}

// Entry is a cached prompt: the audio plus the source text, retained so
// training export can pair audio with its transcript.
type Entry struct {
	Audio []byte
	Text  string
	Lang  string
	Voice string
}

// Key derives the content address for a prompt.
func Key(text, lang, voice string) string {
	sum := sha256.Sum256([]byte(text + "|" + lang + "|" + voice))
	return hex.EncodeToString(sum[:])
}

// PromptSink receives each prompt the first time it is synthesized.
// Implemented by the training exporter; delivery is fire-and-forget on the
// sink's side.
type PromptSink interface {
	ExportPrompt(key string, audio []byte, text string)
}

// Cache is an in-process, append-only prompt cache. Entries are never
// evicted; the phrase universe per deployment is finite. Concurrent
// first-time requests for the same key collapse to one upstream call.
type Cache struct {
	synth  Synthesizer
	logger *slog.Logger
	sink   PromptSink

	entries sync.Map // key -> *Entry
	group   singleflight.Group

	warmWG sync.WaitGroup
}

// NewCache creates a cache backed by the given synthesizer.
func NewCache(synth Synthesizer, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{synth: synth, logger: logger}
}

// ExportTo routes newly synthesized prompts to sink. Cache hits are not
// re-exported; each key ships at most once per process. Call during wiring,
// before the cache is shared.
func (c *Cache) ExportTo(sink PromptSink) {
	c.sink = sink
}

// Get returns the entry for a previously stored key.
func (c *Cache) Get(key string) (*Entry, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*Entry), true
}

// Lookup returns the entry for a prompt if present.
func (c *Cache) Lookup(text, lang, voice string) (*Entry, bool) {
	return c.Get(Key(text, lang, voice))
}

// Put stores a prompt unconditionally. Equal-key overwrites are idempotent.
func (c *Cache) Put(text, lang, voice string, audio []byte) string {
	key := Key(text, lang, voice)
	c.entries.Store(key, &Entry{Audio: audio, Text: text, Lang: lang, Voice: voice})
	return key
}

// GetOrSynthesize returns cached audio or calls the synthesizer once,
// collapsing concurrent identical-key requests. Later callers for the same
// key await the first result.
func (c *Cache) GetOrSynthesize(ctx context.Context, text, lang, voice string) ([]byte, error) {
	key := Key(text, lang, voice)
	if e, ok := c.Get(key); ok {
		return e.Audio, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if e, ok := c.Get(key); ok {
			return e.Audio, nil
		}
		audio, err := c.synth.Synthesize(ctx, text, lang, voice)
		if err != nil {
			return nil, fmt.Errorf("synthesize %q: %w", key[:12], err)
		}
		c.entries.Store(key, &Entry{Audio: audio, Text: text, Lang: lang, Voice: voice})
		if c.sink != nil {
			c.sink.ExportPrompt(key, audio, text)
		}
		return audio, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Warm synthesizes a phrase set in the background, best effort. Failures are
// logged and do not fail the caller; a missed warm only costs latency later.
// The returned function blocks until this warm completes, for callers that
// need the prompts in place before placing a call leg.
func (c *Cache) Warm(ctx context.Context, phrases []string, lang, voice string) func() {
	c.warmWG.Add(1)
	done := make(chan struct{})

	go func() {
		defer c.warmWG.Done()
		defer close(done)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(4)
		for _, text := range phrases {
			if text == "" {
				continue
			}
			g.Go(func() error {
				if _, err := c.GetOrSynthesize(gctx, text, lang, voice); err != nil {
					c.logger.Warn("prompt pre-warm failed",
						"lang", lang, "voice", voice, "error", err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	return func() { <-done }
}

// WaitWarm blocks until all outstanding warms finish. Used on shutdown.
func (c *Cache) WaitWarm() {
	c.warmWG.Wait()
}

// Len returns the number of cached prompts.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
