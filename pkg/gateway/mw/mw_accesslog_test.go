package mw

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// recordingWriter is a bare ResponseWriter with no optional interfaces, so
// tests can verify exactly which ones the logging wrap advertises.
type recordingWriter struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{header: make(http.Header)}
}

func (w *recordingWriter) Header() http.Header { return w.header }

func (w *recordingWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(p)
}

type flushWriter struct {
	*recordingWriter
	flushed bool
}

func (w *flushWriter) Flush() { w.flushed = true }

type hijackWriter struct {
	*recordingWriter
	hijacked bool
}

func (w *hijackWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.hijacked = true
	return nil, nil, nil
}

type duplexWriter struct {
	*recordingWriter
	flushed  bool
	hijacked bool
}

func (w *duplexWriter) Flush() { w.flushed = true }

func (w *duplexWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.hijacked = true
	return nil, nil, nil
}

func logRequest(t *testing.T, w http.ResponseWriter, logs *bytes.Buffer, path string, handler http.HandlerFunc) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(logs, nil))
	req := httptest.NewRequest(http.MethodGet, path, nil).
		WithContext(WithRequestID(context.Background(), "req_test"))
	AccessLog(logger, handler).ServeHTTP(w, req)
}

// The stream endpoint hijacks the connection for its WebSocket upgrade, so
// the logging wrap must pass Flusher and Hijacker through exactly as the
// underlying writer supports them.
func TestAccessLogInterfacePassthrough(t *testing.T) {
	fw := &flushWriter{recordingWriter: newRecordingWriter()}
	hw := &hijackWriter{recordingWriter: newRecordingWriter()}
	dw := &duplexWriter{recordingWriter: newRecordingWriter()}

	type passthroughCase struct {
		name       string
		writer     http.ResponseWriter
		wantFlush  bool
		wantHijack bool
		flushed    func() bool
		hijacked   func() bool
	}
	cases := []passthroughCase{
		{name: "flusher only", writer: fw, wantFlush: true, flushed: func() bool { return fw.flushed }},
		{name: "hijacker only", writer: hw, wantHijack: true, hijacked: func() bool { return hw.hijacked }},
		{name: "both", writer: dw, wantFlush: true, wantHijack: true,
			flushed: func() bool { return dw.flushed }, hijacked: func() bool { return dw.hijacked }},
		{name: "neither", writer: newRecordingWriter()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			logs := &bytes.Buffer{}
			logRequest(t, tc.writer, logs, "/v1/stream", func(w http.ResponseWriter, r *http.Request) {
				fl, haveFlush := w.(http.Flusher)
				if haveFlush != tc.wantFlush {
					t.Fatalf("Flusher advertised = %v, want %v", haveFlush, tc.wantFlush)
				}
				hj, haveHijack := w.(http.Hijacker)
				if haveHijack != tc.wantHijack {
					t.Fatalf("Hijacker advertised = %v, want %v", haveHijack, tc.wantHijack)
				}
				if haveFlush {
					fl.Flush()
				}
				if haveHijack {
					if _, _, err := hj.Hijack(); err != nil {
						t.Fatalf("hijack failed: %v", err)
					}
				}
			})

			if tc.flushed != nil && !tc.flushed() {
				t.Error("flush not delegated to the underlying writer")
			}
			if tc.hijacked != nil && !tc.hijacked() {
				t.Error("hijack not delegated to the underlying writer")
			}
		})
	}
}

func TestAccessLogRecordsStatus(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    int
	}{
		{
			name:    "explicit status",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusCreated) },
			want:    http.StatusCreated,
		},
		{
			name:    "implicit write is 200",
			handler: func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, "ok") },
			want:    http.StatusOK,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			logs := &bytes.Buffer{}
			logRequest(t, newRecordingWriter(), logs, "/healthz", tc.handler)

			line := strings.TrimSpace(logs.String())
			if line == "" {
				t.Fatal("no log output")
			}
			var rec map[string]any
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				t.Fatalf("unmarshal log: %v", err)
			}
			if got, ok := rec["status"].(float64); !ok || int(got) != tc.want {
				t.Fatalf("logged status = %v, want %d", rec["status"], tc.want)
			}
			if rec["request_id"] != "req_test" {
				t.Fatalf("logged request_id = %v", rec["request_id"])
			}
		})
	}
}
