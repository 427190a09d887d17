// Package sessions tracks live telephony streams for graceful drain: on
// shutdown the server asks every active call to hang up, then waits for the
// stream actors to finish reporting before the process exits.
package sessions

import (
	"context"
	"sync"
)

// Handle is how the tracker reaches one live stream. Hangup asks the actor
// to end the call politely; Cancel tears the stream down immediately.
type Handle struct {
	CallID string
	Hangup func(reason string)
	Cancel func()
}

type trackedStream struct {
	handle Handle
	once   sync.Once
}

// Tracker registers live streams and supports bounded drain.
type Tracker struct {
	mu      sync.Mutex
	streams map[string]*trackedStream
	wg      sync.WaitGroup
}

func NewTracker() *Tracker {
	return &Tracker{streams: make(map[string]*trackedStream)}
}

// Register adds a stream under its stream id and returns its unregister
// func. Registering the same id again tears down the previous entry; the
// vendor occasionally reconnects a stream before the old socket dies.
func (t *Tracker) Register(streamID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &trackedStream{handle: h}

	t.mu.Lock()
	if t.streams == nil {
		t.streams = make(map[string]*trackedStream)
	}
	old := t.streams[streamID]
	t.streams[streamID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		if old.handle.Cancel != nil {
			old.handle.Cancel()
		}
		t.unregister(streamID, old)
	}

	return func() { t.unregister(streamID, entry) }
}

func (t *Tracker) unregister(streamID string, entry *trackedStream) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.streams != nil && t.streams[streamID] == entry {
			delete(t.streams, streamID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

// Count reports the number of live streams.
func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streams)
}

// HangupAll asks every live stream to end its call with the given reason.
func (t *Tracker) HangupAll(reason string) (sent int) {
	if t == nil {
		return 0
	}

	var hangups []func(string)
	t.mu.Lock()
	for _, entry := range t.streams {
		if entry == nil || entry.handle.Hangup == nil {
			continue
		}
		hangups = append(hangups, entry.handle.Hangup)
	}
	t.mu.Unlock()

	for _, hangup := range hangups {
		hangup(reason)
		sent++
	}
	return sent
}

// CancelAll force-terminates every live stream.
func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.streams {
		if entry == nil || entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered stream has unregistered or ctx expires.
// It reports whether the drain completed.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
