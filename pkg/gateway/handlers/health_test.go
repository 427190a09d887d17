package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/orderdial/orderdial/pkg/core/call"
	"github.com/orderdial/orderdial/pkg/core/script"
	"github.com/orderdial/orderdial/pkg/gateway/config"
	"github.com/orderdial/orderdial/pkg/gateway/lifecycle"
)

func healthyConfig() config.Config {
	return config.Config{
		AuthMode:          config.AuthModeRequired,
		APIKeys:           map[string]struct{}{"od_sk_test": {}},
		MaxBodyBytes:      1 << 20,
		MaxSessions:       100,
		SessionTimeout:    300 * time.Second,
		GatherTimeout:     10 * time.Second,
		TranscriberURL:    "http://asr.internal:9000",
		SynthesizerURL:    "http://tts.internal:9100",
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		HandlerTimeout:    60 * time.Second,
		LimitRPS:          5,
		LimitBurst:        10,
	}
}

func getReady(t *testing.T, h ReadyHandler) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode readyz body: %v", err)
	}
	return rec, body
}

func TestHealthz(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "ok\n" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestReadyzHealthy(t *testing.T) {
	h := ReadyHandler{Config: healthyConfig(), Lifecycle: &lifecycle.Lifecycle{}, Registry: testRegistry(10)}
	rec, body := getReady(t, h)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if body["ok"] != true {
		t.Errorf("ok = %v", body["ok"])
	}
	if body["limits_enabled"] != true {
		t.Errorf("limits_enabled = %v", body["limits_enabled"])
	}
	if body["auth_mode"] != "required" {
		t.Errorf("auth_mode = %v", body["auth_mode"])
	}
}

func TestReadyzDrainingIs503(t *testing.T) {
	lc := &lifecycle.Lifecycle{}
	lc.SetDraining(true)
	h := ReadyHandler{Config: healthyConfig(), Lifecycle: lc, Registry: testRegistry(10)}
	rec, body := getReady(t, h)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 while draining", rec.Code)
	}
	if body["draining"] != true {
		t.Errorf("draining = %v", body["draining"])
	}
	if since, _ := body["draining_since"].(string); since == "" {
		t.Error("draining_since missing from draining response")
	}
}

func TestReadyzConfigIssues(t *testing.T) {
	cfg := healthyConfig()
	cfg.APIKeys = nil
	cfg.TranscriberURL = ""
	h := ReadyHandler{Config: cfg, Lifecycle: &lifecycle.Lifecycle{}, Registry: testRegistry(10)}
	rec, body := getReady(t, h)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	issues, _ := body["issues"].([]any)
	if len(issues) != 2 {
		t.Errorf("issues = %v, want key and transcriber problems", issues)
	}
}

func TestReadyzCountsLiveCalls(t *testing.T) {
	reg := testRegistry(10)
	mustCreate(t, reg, "CAlive", script.CallTypeVendorOrderConfirmation, call.Context{})
	h := ReadyHandler{Config: healthyConfig(), Lifecycle: &lifecycle.Lifecycle{}, Registry: reg}
	_, body := getReady(t, h)
	if body["live_calls"] != float64(1) {
		t.Errorf("live_calls = %v", body["live_calls"])
	}
}
