package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/orderdial/orderdial/pkg/collab"
	"github.com/orderdial/orderdial/pkg/core/call"
	"github.com/orderdial/orderdial/pkg/core/synth"
	"github.com/orderdial/orderdial/pkg/core/turn"
	"github.com/orderdial/orderdial/pkg/gateway/config"
	"github.com/orderdial/orderdial/pkg/gateway/stream/session"
	"github.com/orderdial/orderdial/pkg/gateway/stream/sessions"
)

// StreamHandler upgrades the telephony vendor's duplex audio connection and
// hands it to a per-connection stream actor. One actor per socket; the
// tracker keeps a handle for graceful drain.
type StreamHandler struct {
	Config      config.Config
	Registry    *call.Registry
	Cache       *synth.Cache
	Transcriber collab.Transcriber
	Reasoner    collab.Reasoner
	VAD         collab.VAD
	Exporter    session.UtteranceExporter
	Tracker     *sessions.Tracker
	Logger      *slog.Logger
}

func (h StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		// The peer is the telephony vendor's media server, not a browser.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake error.
		h.Logger.Warn("stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ls, err := session.New(session.Dependencies{
		Conn:        conn,
		Registry:    h.Registry,
		Cache:       h.Cache,
		Transcriber: h.Transcriber,
		Reasoner:    h.Reasoner,
		VAD:         h.VAD,
		Exporter:    h.Exporter,
		Logger:      h.Logger,
		Config:      h.streamConfig(),
	})
	if err != nil {
		h.Logger.Error("stream session rejected", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The vendor stream id only arrives in the start event, so the tracker
	// key is a local connection id.
	connID := "conn_" + uuid.NewString()
	unregister := h.Tracker.Register(connID, sessions.Handle{
		Hangup: ls.Hangup,
		Cancel: cancel,
	})
	defer unregister()

	if err := ls.Run(ctx); err != nil {
		h.Logger.Warn("stream ended with error", "conn_id", connID, "error", err)
	}
}

// streamConfig maps process configuration onto one stream's tunables.
func (h StreamHandler) streamConfig() session.Config {
	return session.Config{
		Turn: turn.Config{
			Threshold:      h.Config.VADThreshold,
			MinSilenceMs:   h.Config.MinSilenceMs,
			MaxUtteranceMs: h.Config.MaxUtteranceMs,
		},
		Voice:          h.Config.DefaultVoice,
		PacingInterval: h.Config.PacingInterval,
		GatherTimeout:  h.Config.GatherTimeout,
		SessionTimeout: h.Config.SessionTimeout,
		SpeakTimeout:   h.Config.SpeakTimeout,
		WriteTimeout:   h.Config.WSWriteTimeout,
		PingInterval:   h.Config.WSPingInterval,
	}
}
