package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orderdial/orderdial/pkg/gateway/stream/protocol"
)

// scheduler paces synthesized audio onto the outbound lanes. Playback is
// fire-and-forget with cancellation: each utterance belongs to a generation,
// and interrupt() retires the current generation so its queued frames are
// skipped by the writer while a clear frame jumps the priority lane.
type scheduler struct {
	ctx      context.Context
	normal   chan<- outboundFrame
	priority chan<- outboundFrame
	pacing   time.Duration

	encMu sync.Mutex
	enc   *protocol.Encoder

	gen atomic.Uint64
}

func newScheduler(ctx context.Context, enc *protocol.Encoder, normal, priority chan<- outboundFrame, pacing time.Duration) *scheduler {
	if pacing <= 0 {
		pacing = 10 * time.Millisecond
	}
	return &scheduler{
		ctx:      ctx,
		normal:   normal,
		priority: priority,
		pacing:   pacing,
		enc:      enc,
	}
}

// setStreamSID forwards the stream id to the encoder once known.
func (s *scheduler) setStreamSID(sid string) {
	s.encMu.Lock()
	defer s.encMu.Unlock()
	s.enc.SetStreamSID(sid)
}

// generation returns the current playback generation.
func (s *scheduler) generation() uint64 {
	return s.gen.Load()
}

// canceled reports whether gen has been superseded by an interruption.
func (s *scheduler) canceled(gen uint64) bool {
	return gen != s.gen.Load()
}

// interrupt retires the current generation and sends a clear frame on the
// priority lane. The clear is guaranteed to reach the wire before any media
// queued for the next generation.
func (s *scheduler) interrupt() {
	s.gen.Add(1)

	s.encMu.Lock()
	clear := s.enc.Clear()
	s.encMu.Unlock()

	select {
	case s.priority <- outboundFrame{payload: clear}:
	case <-s.ctx.Done():
	}
}

// enqueue frames pcm, paces it onto the normal lane, and finishes with a
// mark frame carrying markName. gen is the playback generation the utterance
// was dispatched under, captured before synthesis started: a barge-in during
// synthesis retires it, and the whole utterance is dropped here rather than
// delivered after the clear frame. Interruption mid-delivery likewise
// returns early without error; the remaining frames are simply never sent.
func (s *scheduler) enqueue(ctx context.Context, gen uint64, pcm []byte, markName string) error {
	if s.canceled(gen) {
		return nil
	}

	s.encMu.Lock()
	msgs, err := s.enc.Media(pcm)
	if err != nil {
		s.encMu.Unlock()
		return fmt.Errorf("frame media: %w", err)
	}
	mark := s.enc.Mark(markName)
	s.encMu.Unlock()

	for _, msg := range msgs {
		if s.canceled(gen) {
			return nil
		}
		if err := s.send(ctx, outboundFrame{payload: msg, generation: gen, isMedia: true}); err != nil {
			return err
		}
		if err := s.pause(ctx); err != nil {
			return err
		}
	}

	return s.send(ctx, outboundFrame{payload: mark, generation: gen, isMedia: true})
}

func (s *scheduler) send(ctx context.Context, f outboundFrame) error {
	select {
	case s.normal <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// pause is the fixed inter-frame delay. It exists only to avoid saturating
// the outbound channel; it is not a silence or timeout mechanism.
func (s *scheduler) pause(ctx context.Context) error {
	t := time.NewTimer(s.pacing)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}
