package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// If true, client identity may be derived from proxy headers like X-Forwarded-For.
	// This should only be enabled when the gateway is deployed behind a trusted proxy/LB.
	TrustProxyHeaders bool

	MaxBodyBytes int64

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Telephony streaming (/v1/stream).
	WSPingInterval  time.Duration
	WSWriteTimeout  time.Duration
	PacingInterval  time.Duration
	GatherTimeout   time.Duration
	SessionTimeout  time.Duration
	SpeakTimeout    time.Duration
	DefaultLanguage string
	DefaultVoice    string

	// Turn detection.
	VADThreshold   float64
	MinSilenceMs   int
	MaxUtteranceMs int

	// Session registry.
	MaxSessions        int
	SessionRemoveAfter time.Duration

	// Collaborator services. Secondary URLs are optional fallbacks.
	TranscriberURL          string
	TranscriberSecondaryURL string
	SynthesizerURL          string
	SynthesizerSecondaryURL string
	VADURL                  string
	ReasonerURL             string
	CollaboratorTimeout     time.Duration

	// Gemini-backed reasoning fallback.
	GeminiAPIKey string
	GeminiModel  string

	// Terminal call reports. Empty disables HTTP delivery.
	ReportURL string

	// Outbound call placement at the telephony vendor.
	TelephonyBaseURL    string
	TelephonyAccountSID string
	TelephonyAuthToken  string
	TelephonyCallerID   string
	StreamURL           string
	GatherCallbackURL   string
	StatusCallbackURL   string
	CallTimeLimit       time.Duration
	CallRingTimeout     time.Duration

	// In-memory limits (per API key). Zero disables the corresponding limit.
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int

	// Call detail records. Empty DSN disables persistence.
	PostgresDSN string

	// Training-data export. Empty endpoint disables it.
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                       envOr("ORDERDIAL_ADDR", ":8080"),
		AuthMode:                   AuthMode(envOr("ORDERDIAL_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:                    make(map[string]struct{}),
		TrustProxyHeaders:          envBoolOr("ORDERDIAL_TRUST_PROXY_HEADERS", false),
		MaxBodyBytes:               envInt64Or("ORDERDIAL_MAX_BODY_BYTES", 1<<20), // 1 MiB
		CORSAllowedOrigins:         make(map[string]struct{}),
		WSPingInterval:             envDurationOr("ORDERDIAL_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:             envDurationOr("ORDERDIAL_WS_WRITE_TIMEOUT", 5*time.Second),
		PacingInterval:             envDurationOr("ORDERDIAL_PACING_INTERVAL", 10*time.Millisecond),
		GatherTimeout:              envDurationOr("ORDERDIAL_GATHER_TIMEOUT", 10*time.Second),
		SessionTimeout:             envDurationOr("ORDERDIAL_SESSION_TIMEOUT", 300*time.Second),
		SpeakTimeout:               envDurationOr("ORDERDIAL_SPEAK_TIMEOUT", 5*time.Second),
		DefaultLanguage:            envOr("ORDERDIAL_DEFAULT_LANGUAGE", "hi"),
		DefaultVoice:               envOr("ORDERDIAL_DEFAULT_VOICE", "female"),
		VADThreshold:               envFloat64Or("ORDERDIAL_VAD_THRESHOLD", 0.5),
		MinSilenceMs:               envIntOr("ORDERDIAL_MIN_SILENCE_MS", 800),
		MaxUtteranceMs:             envIntOr("ORDERDIAL_MAX_UTTERANCE_MS", 30000),
		MaxSessions:                envIntOr("ORDERDIAL_MAX_SESSIONS", 100),
		SessionRemoveAfter:         envDurationOr("ORDERDIAL_SESSION_REMOVE_AFTER", 60*time.Second),
		TranscriberURL:             envOr("ORDERDIAL_TRANSCRIBER_URL", ""),
		TranscriberSecondaryURL:    envOr("ORDERDIAL_TRANSCRIBER_SECONDARY_URL", ""),
		SynthesizerURL:             envOr("ORDERDIAL_SYNTHESIZER_URL", ""),
		SynthesizerSecondaryURL:    envOr("ORDERDIAL_SYNTHESIZER_SECONDARY_URL", ""),
		VADURL:                     envOr("ORDERDIAL_VAD_URL", ""),
		ReasonerURL:                envOr("ORDERDIAL_REASONER_URL", ""),
		CollaboratorTimeout:        envDurationOr("ORDERDIAL_COLLABORATOR_TIMEOUT", 5*time.Second),
		GeminiAPIKey:               envOr("ORDERDIAL_GEMINI_API_KEY", ""),
		GeminiModel:                envOr("ORDERDIAL_GEMINI_MODEL", "gemini-2.0-flash"),
		ReportURL:                  envOr("ORDERDIAL_REPORT_URL", ""),
		TelephonyBaseURL:           envOr("ORDERDIAL_TELEPHONY_BASE_URL", ""),
		TelephonyAccountSID:        envOr("ORDERDIAL_TELEPHONY_ACCOUNT_SID", ""),
		TelephonyAuthToken:         envOr("ORDERDIAL_TELEPHONY_AUTH_TOKEN", ""),
		TelephonyCallerID:          envOr("ORDERDIAL_TELEPHONY_CALLER_ID", ""),
		StreamURL:                  envOr("ORDERDIAL_STREAM_URL", ""),
		GatherCallbackURL:          envOr("ORDERDIAL_GATHER_CALLBACK_URL", ""),
		StatusCallbackURL:          envOr("ORDERDIAL_STATUS_CALLBACK_URL", ""),
		CallTimeLimit:              envDurationOr("ORDERDIAL_CALL_TIME_LIMIT", 300*time.Second),
		CallRingTimeout:            envDurationOr("ORDERDIAL_CALL_RING_TIMEOUT", 30*time.Second),
		LimitRPS:                   envFloat64Or("ORDERDIAL_RATE_LIMIT_RPS", 5.0),
		LimitBurst:                 envIntOr("ORDERDIAL_RATE_LIMIT_BURST", 10),
		LimitMaxConcurrentRequests: envIntOr("ORDERDIAL_MAX_CONCURRENT_REQUESTS", 50),
		PostgresDSN:                envOr("ORDERDIAL_POSTGRES_DSN", ""),
		MinioEndpoint:              envOr("ORDERDIAL_MINIO_ENDPOINT", ""),
		MinioAccessKey:             envOr("ORDERDIAL_MINIO_ACCESS_KEY", ""),
		MinioSecretKey:             envOr("ORDERDIAL_MINIO_SECRET_KEY", ""),
		MinioBucket:                envOr("ORDERDIAL_MINIO_BUCKET", "orderdial-training"),
		MinioUseSSL:                envBoolOr("ORDERDIAL_MINIO_USE_SSL", true),
		ReadHeaderTimeout:          envDurationOr("ORDERDIAL_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                envDurationOr("ORDERDIAL_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:             envDurationOr("ORDERDIAL_TOTAL_REQUEST_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:        envDurationOr("ORDERDIAL_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("ORDERDIAL_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("ORDERDIAL_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	for _, origin := range splitCSV(os.Getenv("ORDERDIAL_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("ORDERDIAL_MAX_BODY_BYTES must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("ORDERDIAL_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("ORDERDIAL_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.PacingInterval <= 0 {
		return Config{}, fmt.Errorf("ORDERDIAL_PACING_INTERVAL must be > 0")
	}
	if cfg.GatherTimeout <= 0 {
		return Config{}, fmt.Errorf("ORDERDIAL_GATHER_TIMEOUT must be > 0")
	}
	if cfg.SessionTimeout <= 0 {
		return Config{}, fmt.Errorf("ORDERDIAL_SESSION_TIMEOUT must be > 0")
	}
	if cfg.SpeakTimeout <= 0 {
		return Config{}, fmt.Errorf("ORDERDIAL_SPEAK_TIMEOUT must be > 0")
	}
	if cfg.VADThreshold <= 0 || cfg.VADThreshold > 1 {
		return Config{}, fmt.Errorf("ORDERDIAL_VAD_THRESHOLD must be in (0, 1]")
	}
	if cfg.MinSilenceMs <= 0 {
		return Config{}, fmt.Errorf("ORDERDIAL_MIN_SILENCE_MS must be > 0")
	}
	if cfg.MaxUtteranceMs <= 0 {
		return Config{}, fmt.Errorf("ORDERDIAL_MAX_UTTERANCE_MS must be > 0")
	}
	if cfg.MaxSessions <= 0 {
		return Config{}, fmt.Errorf("ORDERDIAL_MAX_SESSIONS must be > 0")
	}
	if cfg.SessionRemoveAfter <= 0 {
		return Config{}, fmt.Errorf("ORDERDIAL_SESSION_REMOVE_AFTER must be > 0")
	}
	if cfg.CollaboratorTimeout <= 0 {
		return Config{}, fmt.Errorf("ORDERDIAL_COLLABORATOR_TIMEOUT must be > 0")
	}
	if cfg.DefaultLanguage != "hi" && cfg.DefaultLanguage != "en" {
		return Config{}, fmt.Errorf("ORDERDIAL_DEFAULT_LANGUAGE must be hi or en")
	}
	if strings.TrimSpace(cfg.SynthesizerURL) == "" {
		return Config{}, fmt.Errorf("ORDERDIAL_SYNTHESIZER_URL must be set")
	}
	if strings.TrimSpace(cfg.TranscriberURL) == "" {
		return Config{}, fmt.Errorf("ORDERDIAL_TRANSCRIBER_URL must be set")
	}
	if cfg.CallTimeLimit <= 0 {
		return Config{}, fmt.Errorf("ORDERDIAL_CALL_TIME_LIMIT must be > 0")
	}
	if cfg.CallRingTimeout <= 0 {
		return Config{}, fmt.Errorf("ORDERDIAL_CALL_RING_TIMEOUT must be > 0")
	}
	if cfg.TelephonyBaseURL != "" {
		if cfg.TelephonyAccountSID == "" || cfg.TelephonyAuthToken == "" {
			return Config{}, fmt.Errorf("ORDERDIAL_TELEPHONY_ACCOUNT_SID and ORDERDIAL_TELEPHONY_AUTH_TOKEN must be set when ORDERDIAL_TELEPHONY_BASE_URL is set")
		}
		if cfg.TelephonyCallerID == "" {
			return Config{}, fmt.Errorf("ORDERDIAL_TELEPHONY_CALLER_ID must be set when ORDERDIAL_TELEPHONY_BASE_URL is set")
		}
	}
	if cfg.MinioEndpoint != "" && (cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "") {
		return Config{}, fmt.Errorf("ORDERDIAL_MINIO_ACCESS_KEY and ORDERDIAL_MINIO_SECRET_KEY must be set when ORDERDIAL_MINIO_ENDPOINT is set")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("ORDERDIAL_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("ORDERDIAL_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("ORDERDIAL_TOTAL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("ORDERDIAL_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("ORDERDIAL_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("ORDERDIAL_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentRequests < 0 {
		return Config{}, fmt.Errorf("ORDERDIAL_MAX_CONCURRENT_REQUESTS must be >= 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("ORDERDIAL_API_KEYS must be set when ORDERDIAL_AUTH_MODE=required")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
