package config

import (
	"strings"
	"testing"
	"time"
)

var gatewayEnvKeys = []string{
	"ORDERDIAL_ADDR",
	"ORDERDIAL_AUTH_MODE",
	"ORDERDIAL_API_KEYS",
	"ORDERDIAL_TRUST_PROXY_HEADERS",
	"ORDERDIAL_CORS_ORIGINS",
	"ORDERDIAL_MAX_BODY_BYTES",
	"ORDERDIAL_WS_PING_INTERVAL",
	"ORDERDIAL_WS_WRITE_TIMEOUT",
	"ORDERDIAL_PACING_INTERVAL",
	"ORDERDIAL_GATHER_TIMEOUT",
	"ORDERDIAL_SESSION_TIMEOUT",
	"ORDERDIAL_SPEAK_TIMEOUT",
	"ORDERDIAL_DEFAULT_LANGUAGE",
	"ORDERDIAL_DEFAULT_VOICE",
	"ORDERDIAL_VAD_THRESHOLD",
	"ORDERDIAL_MIN_SILENCE_MS",
	"ORDERDIAL_MAX_UTTERANCE_MS",
	"ORDERDIAL_MAX_SESSIONS",
	"ORDERDIAL_SESSION_REMOVE_AFTER",
	"ORDERDIAL_TRANSCRIBER_URL",
	"ORDERDIAL_TRANSCRIBER_SECONDARY_URL",
	"ORDERDIAL_SYNTHESIZER_URL",
	"ORDERDIAL_SYNTHESIZER_SECONDARY_URL",
	"ORDERDIAL_VAD_URL",
	"ORDERDIAL_REASONER_URL",
	"ORDERDIAL_COLLABORATOR_TIMEOUT",
	"ORDERDIAL_GEMINI_API_KEY",
	"ORDERDIAL_GEMINI_MODEL",
	"ORDERDIAL_REPORT_URL",
	"ORDERDIAL_TELEPHONY_BASE_URL",
	"ORDERDIAL_TELEPHONY_ACCOUNT_SID",
	"ORDERDIAL_TELEPHONY_AUTH_TOKEN",
	"ORDERDIAL_TELEPHONY_CALLER_ID",
	"ORDERDIAL_STREAM_URL",
	"ORDERDIAL_GATHER_CALLBACK_URL",
	"ORDERDIAL_STATUS_CALLBACK_URL",
	"ORDERDIAL_CALL_TIME_LIMIT",
	"ORDERDIAL_CALL_RING_TIMEOUT",
	"ORDERDIAL_POSTGRES_DSN",
	"ORDERDIAL_MINIO_ENDPOINT",
	"ORDERDIAL_MINIO_ACCESS_KEY",
	"ORDERDIAL_MINIO_SECRET_KEY",
	"ORDERDIAL_MINIO_BUCKET",
	"ORDERDIAL_MINIO_USE_SSL",
	"ORDERDIAL_RATE_LIMIT_RPS",
	"ORDERDIAL_RATE_LIMIT_BURST",
	"ORDERDIAL_MAX_CONCURRENT_REQUESTS",
	"ORDERDIAL_READ_HEADER_TIMEOUT",
	"ORDERDIAL_READ_TIMEOUT",
	"ORDERDIAL_TOTAL_REQUEST_TIMEOUT",
	"ORDERDIAL_SHUTDOWN_GRACE_PERIOD",
}

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range gatewayEnvKeys {
		t.Setenv(key, "")
	}
	// Minimum viable environment: collaborators are always required.
	t.Setenv("ORDERDIAL_TRANSCRIBER_URL", "http://stt.internal:9000")
	t.Setenv("ORDERDIAL_SYNTHESIZER_URL", "http://tts.internal:9001")
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("ORDERDIAL_API_KEYS", "sk-test-1")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeRequired {
		t.Fatalf("AuthMode = %q, want %q", cfg.AuthMode, AuthModeRequired)
	}
	if cfg.PacingInterval != 10*time.Millisecond {
		t.Fatalf("PacingInterval = %v, want 10ms", cfg.PacingInterval)
	}
	if cfg.GatherTimeout != 10*time.Second {
		t.Fatalf("GatherTimeout = %v, want 10s", cfg.GatherTimeout)
	}
	if cfg.SessionTimeout != 300*time.Second {
		t.Fatalf("SessionTimeout = %v, want 300s", cfg.SessionTimeout)
	}
	if cfg.VADThreshold != 0.5 {
		t.Fatalf("VADThreshold = %v, want 0.5", cfg.VADThreshold)
	}
	if cfg.MinSilenceMs != 800 {
		t.Fatalf("MinSilenceMs = %d, want 800", cfg.MinSilenceMs)
	}
	if cfg.MaxUtteranceMs != 30000 {
		t.Fatalf("MaxUtteranceMs = %d, want 30000", cfg.MaxUtteranceMs)
	}
	if cfg.MaxSessions != 100 {
		t.Fatalf("MaxSessions = %d, want 100", cfg.MaxSessions)
	}
	if cfg.SessionRemoveAfter != 60*time.Second {
		t.Fatalf("SessionRemoveAfter = %v, want 60s", cfg.SessionRemoveAfter)
	}
	if cfg.DefaultLanguage != "hi" {
		t.Fatalf("DefaultLanguage = %q, want hi", cfg.DefaultLanguage)
	}
	if cfg.CallTimeLimit != 300*time.Second {
		t.Fatalf("CallTimeLimit = %v, want 300s", cfg.CallTimeLimit)
	}
	if cfg.CallRingTimeout != 30*time.Second {
		t.Fatalf("CallRingTimeout = %v, want 30s", cfg.CallRingTimeout)
	}
	if cfg.GeminiModel != "gemini-2.0-flash" {
		t.Fatalf("GeminiModel = %q", cfg.GeminiModel)
	}
	if cfg.MinioBucket != "orderdial-training" {
		t.Fatalf("MinioBucket = %q", cfg.MinioBucket)
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 30s", cfg.ShutdownGracePeriod)
	}
	if _, ok := cfg.APIKeys["sk-test-1"]; !ok {
		t.Fatal("APIKeys missing configured key")
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("ORDERDIAL_AUTH_MODE", "optional")
	t.Setenv("ORDERDIAL_ADDR", ":9090")
	t.Setenv("ORDERDIAL_VAD_THRESHOLD", "0.7")
	t.Setenv("ORDERDIAL_MIN_SILENCE_MS", "600")
	t.Setenv("ORDERDIAL_GATHER_TIMEOUT", "15s")
	t.Setenv("ORDERDIAL_DEFAULT_LANGUAGE", "en")
	t.Setenv("ORDERDIAL_MAX_SESSIONS", "250")
	t.Setenv("ORDERDIAL_TRUST_PROXY_HEADERS", "true")
	t.Setenv("ORDERDIAL_CORS_ORIGINS", "https://ops.example.com, https://admin.example.com,,")
	t.Setenv("ORDERDIAL_TRANSCRIBER_SECONDARY_URL", "http://stt-b.internal:9000")
	t.Setenv("ORDERDIAL_POSTGRES_DSN", "postgres://orderdial@db/orderdial")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":9090" || cfg.AuthMode != AuthModeOptional {
		t.Fatalf("Addr/AuthMode = %q/%q", cfg.Addr, cfg.AuthMode)
	}
	if cfg.VADThreshold != 0.7 || cfg.MinSilenceMs != 600 {
		t.Fatalf("turn config mismatch: %v/%d", cfg.VADThreshold, cfg.MinSilenceMs)
	}
	if cfg.GatherTimeout != 15*time.Second {
		t.Fatalf("GatherTimeout = %v, want 15s", cfg.GatherTimeout)
	}
	if cfg.DefaultLanguage != "en" {
		t.Fatalf("DefaultLanguage = %q, want en", cfg.DefaultLanguage)
	}
	if cfg.MaxSessions != 250 {
		t.Fatalf("MaxSessions = %d, want 250", cfg.MaxSessions)
	}
	if !cfg.TrustProxyHeaders {
		t.Fatal("TrustProxyHeaders = false, want true")
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins len=%d, want 2", len(cfg.CORSAllowedOrigins))
	}
	if cfg.TranscriberSecondaryURL != "http://stt-b.internal:9000" {
		t.Fatalf("TranscriberSecondaryURL = %q", cfg.TranscriberSecondaryURL)
	}
	if cfg.PostgresDSN != "postgres://orderdial@db/orderdial" {
		t.Fatalf("PostgresDSN = %q", cfg.PostgresDSN)
	}
}

func TestLoadFromEnv_RequiredAuthNeedsAPIKeys(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("ORDERDIAL_AUTH_MODE", "required")

	_, err := LoadFromEnv()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "ORDERDIAL_API_KEYS") {
		t.Fatalf("error = %v, expected ORDERDIAL_API_KEYS in message", err)
	}
}

func TestLoadFromEnv_InvalidBounds(t *testing.T) {
	cases := []struct {
		name      string
		env       map[string]string
		errSubstr string
	}{
		{
			name:      "invalid auth mode",
			env:       map[string]string{"ORDERDIAL_AUTH_MODE": "sometimes"},
			errSubstr: "ORDERDIAL_AUTH_MODE",
		},
		{
			name:      "vad threshold above one",
			env:       map[string]string{"ORDERDIAL_AUTH_MODE": "optional", "ORDERDIAL_VAD_THRESHOLD": "1.5"},
			errSubstr: "ORDERDIAL_VAD_THRESHOLD",
		},
		{
			name:      "zero min silence",
			env:       map[string]string{"ORDERDIAL_AUTH_MODE": "optional", "ORDERDIAL_MIN_SILENCE_MS": "0"},
			errSubstr: "ORDERDIAL_MIN_SILENCE_MS",
		},
		{
			name:      "unsupported language",
			env:       map[string]string{"ORDERDIAL_AUTH_MODE": "optional", "ORDERDIAL_DEFAULT_LANGUAGE": "fr"},
			errSubstr: "ORDERDIAL_DEFAULT_LANGUAGE",
		},
		{
			name:      "zero max sessions",
			env:       map[string]string{"ORDERDIAL_AUTH_MODE": "optional", "ORDERDIAL_MAX_SESSIONS": "0"},
			errSubstr: "ORDERDIAL_MAX_SESSIONS",
		},
		{
			name:      "zero pacing interval",
			env:       map[string]string{"ORDERDIAL_AUTH_MODE": "optional", "ORDERDIAL_PACING_INTERVAL": "0s"},
			errSubstr: "ORDERDIAL_PACING_INTERVAL",
		},
		{
			name:      "zero shutdown grace",
			env:       map[string]string{"ORDERDIAL_AUTH_MODE": "optional", "ORDERDIAL_SHUTDOWN_GRACE_PERIOD": "0s"},
			errSubstr: "ORDERDIAL_SHUTDOWN_GRACE_PERIOD",
		},
		{
			name:      "telephony without credentials",
			env:       map[string]string{"ORDERDIAL_AUTH_MODE": "optional", "ORDERDIAL_TELEPHONY_BASE_URL": "https://api.telephony.example.com"},
			errSubstr: "ORDERDIAL_TELEPHONY_ACCOUNT_SID",
		},
		{
			name:      "minio without credentials",
			env:       map[string]string{"ORDERDIAL_AUTH_MODE": "optional", "ORDERDIAL_MINIO_ENDPOINT": "minio.internal:9000"},
			errSubstr: "ORDERDIAL_MINIO_ACCESS_KEY",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearGatewayEnv(t)
			for key, value := range tc.env {
				t.Setenv(key, value)
			}
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.errSubstr) {
				t.Fatalf("error = %v, expected substring %q", err, tc.errSubstr)
			}
		})
	}
}

func TestLoadFromEnv_MissingCollaborators(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("ORDERDIAL_AUTH_MODE", "optional")
	t.Setenv("ORDERDIAL_SYNTHESIZER_URL", "")

	_, err := LoadFromEnv()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "ORDERDIAL_SYNTHESIZER_URL") {
		t.Fatalf("error = %v, expected ORDERDIAL_SYNTHESIZER_URL in message", err)
	}
}
