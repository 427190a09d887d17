// Package server assembles the HTTP surface: call initiation, vendor
// webhooks, the duplex audio stream, and health endpoints, behind the shared
// middleware chain.
package server

import (
	"log/slog"
	"net/http"

	"github.com/orderdial/orderdial/pkg/collab"
	"github.com/orderdial/orderdial/pkg/core/call"
	"github.com/orderdial/orderdial/pkg/core/synth"
	"github.com/orderdial/orderdial/pkg/gateway/config"
	"github.com/orderdial/orderdial/pkg/gateway/handlers"
	"github.com/orderdial/orderdial/pkg/gateway/lifecycle"
	"github.com/orderdial/orderdial/pkg/gateway/mw"
	"github.com/orderdial/orderdial/pkg/gateway/ratelimit"
	"github.com/orderdial/orderdial/pkg/gateway/stream/session"
	"github.com/orderdial/orderdial/pkg/gateway/stream/sessions"
)

// Dependencies is everything the HTTP surface needs. The process entrypoint
// wires real collaborators; tests inject fakes.
type Dependencies struct {
	Config      config.Config
	Registry    *call.Registry
	Cache       *synth.Cache
	Transcriber collab.Transcriber
	Reasoner    collab.Reasoner
	VAD         collab.VAD
	Placer      handlers.CallPlacer
	Exporter    session.UtteranceExporter
	Tracker     *sessions.Tracker
	Lifecycle   *lifecycle.Lifecycle
	Logger      *slog.Logger
}

type Server struct {
	deps    Dependencies
	logger  *slog.Logger
	mux     *http.ServeMux
	limiter *ratelimit.Limiter
}

func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Server{
		deps:   deps,
		logger: deps.Logger,
		mux:    http.NewServeMux(),
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   deps.Config.LimitRPS,
			Burst:                 deps.Config.LimitBurst,
			MaxConcurrentRequests: deps.Config.LimitMaxConcurrentRequests,
		}),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	cfg := s.deps.Config

	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:    cfg,
		Lifecycle: s.deps.Lifecycle,
		Registry:  s.deps.Registry,
	})

	callsDeps := handlers.CallsDeps{
		Config:   cfg,
		Registry: s.deps.Registry,
		Cache:    s.deps.Cache,
		Placer:   s.deps.Placer,
		Logger:   s.logger,
	}
	s.mux.Handle("POST /v1/calls/vendor", handlers.VendorCallHandler{CallsDeps: callsDeps})
	s.mux.Handle("POST /v1/calls/rider", handlers.RiderCallHandler{CallsDeps: callsDeps})
	s.mux.Handle("GET /v1/calls/{id}", handlers.CallGetHandler{Registry: s.deps.Registry})

	// The vendor applet hits gather with GET on some plan tiers.
	gather := handlers.GatherWebhookHandler{
		Config:   cfg,
		Registry: s.deps.Registry,
		Logger:   s.logger,
	}
	s.mux.Handle("POST /v1/webhooks/gather", gather)
	s.mux.Handle("GET /v1/webhooks/gather", gather)
	s.mux.Handle("POST /v1/webhooks/status", handlers.StatusWebhookHandler{
		Registry: s.deps.Registry,
		Logger:   s.logger,
	})

	s.mux.Handle("GET /v1/stream", handlers.StreamHandler{
		Config:      cfg,
		Registry:    s.deps.Registry,
		Cache:       s.deps.Cache,
		Transcriber: s.deps.Transcriber,
		Reasoner:    s.deps.Reasoner,
		VAD:         s.deps.VAD,
		Exporter:    s.deps.Exporter,
		Tracker:     s.deps.Tracker,
		Logger:      s.logger,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.limiter, h)
	h = mw.Auth(s.deps.Config, h)
	h = mw.APIVersion(h)
	h = mw.CORS(s.deps.Config, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
