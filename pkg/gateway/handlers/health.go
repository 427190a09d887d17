package handlers

import (
	"net/http"
	"time"

	"github.com/orderdial/orderdial/pkg/core/call"
	"github.com/orderdial/orderdial/pkg/gateway/config"
	"github.com/orderdial/orderdial/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether this process should receive traffic. A
// draining process answers 503 so the load balancer stops routing new calls
// while live streams finish.
type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Registry  *call.Registry
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK            bool     `json:"ok"`
		Draining      bool     `json:"draining"`
		DrainingSince string   `json:"draining_since,omitempty"`
		AuthMode      string   `json:"auth_mode"`
		LiveCalls     int      `json:"live_calls"`
		LimitsEnabled bool     `json:"limits_enabled"`
		Issues        []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.TranscriberURL == "" {
		issues = append(issues, "transcriber url not configured")
	}
	if h.Config.SynthesizerURL == "" {
		issues = append(issues, "synthesizer url not configured")
	}
	if h.Config.MaxBodyBytes <= 0 {
		issues = append(issues, "max_body_bytes must be > 0")
	}
	if h.Config.MaxSessions <= 0 {
		issues = append(issues, "max_sessions must be > 0")
	}
	if h.Config.SessionTimeout <= 0 || h.Config.GatherTimeout <= 0 {
		issues = append(issues, "session timeouts must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 || h.Config.HandlerTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	draining := h.Lifecycle.IsDraining()
	drainingSince := ""
	if since := h.Lifecycle.DrainingSince(); !since.IsZero() {
		drainingSince = since.UTC().Format(time.RFC3339)
	}
	limitsEnabled := (h.Config.LimitRPS > 0 && h.Config.LimitBurst > 0) ||
		h.Config.LimitMaxConcurrentRequests > 0

	live := 0
	if h.Registry != nil {
		live = h.Registry.Len()
	}

	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, readyResp{
		OK:            ok,
		Draining:      draining,
		DrainingSince: drainingSince,
		AuthMode:      string(h.Config.AuthMode),
		LiveCalls:     live,
		LimitsEnabled: limitsEnabled,
		Issues:        issues,
	})
}
