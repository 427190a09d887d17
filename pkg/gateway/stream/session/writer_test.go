package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeSocket struct {
	mu       sync.Mutex
	writes   [][]byte
	controls []int
	closed   bool
}

func (f *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeSocket) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.writes = append(f.writes, cp)
	return nil
}

func (f *fakeSocket) WriteControl(messageType int, _ []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, messageType)
	return nil
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSocket) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

func TestWriterPriorityPreemptsNormal(t *testing.T) {
	normal := make(chan outboundFrame, 4)
	priority := make(chan outboundFrame, 4)
	normal <- outboundFrame{payload: []byte("media")}
	priority <- outboundFrame{payload: []byte("clear")}
	close(normal)
	close(priority)

	ws := &fakeSocket{}
	w := &outboundWriter{ws: ws, priority: priority, normal: normal}
	if err := w.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	writes := ws.written()
	if len(writes) != 2 {
		t.Fatalf("writes = %d, want 2", len(writes))
	}
	if string(writes[0]) != "clear" {
		t.Fatalf("first write = %q, want clear frame first", writes[0])
	}
	if string(writes[1]) != "media" {
		t.Fatalf("second write = %q, want media", writes[1])
	}
}

func TestWriterSkipsCanceledMedia(t *testing.T) {
	normal := make(chan outboundFrame, 4)
	normal <- outboundFrame{payload: []byte("stale"), generation: 1, isMedia: true}
	normal <- outboundFrame{payload: []byte("fresh"), generation: 2, isMedia: true}
	close(normal)
	priority := make(chan outboundFrame)
	close(priority)

	ws := &fakeSocket{}
	w := &outboundWriter{
		ws:         ws,
		priority:   priority,
		normal:     normal,
		isCanceled: func(gen uint64) bool { return gen != 2 },
	}
	if err := w.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	writes := ws.written()
	if len(writes) != 1 || string(writes[0]) != "fresh" {
		t.Fatalf("writes = %q, want only the current generation frame", writes)
	}
}

func TestWriterShutdownFlushesPriorityAndCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	normal := make(chan outboundFrame)
	priority := make(chan outboundFrame, 4)
	priority <- outboundFrame{payload: []byte("clear")}
	cancel()

	ws := &fakeSocket{}
	w := &outboundWriter{ws: ws, ctx: ctx, priority: priority, normal: normal}
	if err := w.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	writes := ws.written()
	if len(writes) != 1 || string(writes[0]) != "clear" {
		t.Fatalf("writes = %q, want queued clear flushed on shutdown", writes)
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if !ws.closed {
		t.Fatal("socket not closed on shutdown")
	}
	found := false
	for _, mt := range ws.controls {
		if mt == websocket.CloseMessage {
			found = true
		}
	}
	if !found {
		t.Fatal("close control frame not sent")
	}
}
