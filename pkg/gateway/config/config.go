// Package config loads the gateway's runtime configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// PublicHost is the externally reachable host for webhook and media
	// stream URLs, without scheme (e.g. "voice.example.com").
	PublicHost string

	// Telephony provider credentials.
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioAPIBase    string

	// TransferNumber is where level-2 transfers are dialed.
	TransferNumber string

	// Voice-agent session.
	DeepgramAPIKey   string
	DeepgramEndpoint string

	// Extraction model.
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	// Post-call summary model. Empty key disables AI summaries.
	GeminiAPIKey string
	GeminiModel  string

	// Servicing API for customer/client lookups.
	ServicingBaseURL string
	ServicingUserID  string
	ServicingAPIKey  string

	// StaticDirectory serves canned customer/team records instead of the
	// servicing API and Postgres.
	StaticDirectory bool

	// DatabaseURL is the Postgres DSN for the teams/agents directory.
	DatabaseURL string

	// Reporting sinks.
	MemoBaseURL     string
	MemoUserID      string
	MemoAPIKey      string
	ActivityBaseURL string
	ActivityUserID  string
	ActivityAPIKey  string

	// CatalogPath is the node catalog document.
	CatalogPath string

	DefaultLanguage string

	// Dialing limits. Zero disables the corresponding limit.
	MaxCallsPerSecond  float64
	CallBurst          int
	MaxConcurrentCalls int

	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("VOXFLOW_ADDR", ":8080"),
		PublicHost:          envOr("VOXFLOW_PUBLIC_HOST", ""),
		TwilioAccountSID:    envOr("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     envOr("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:    envOr("TWILIO_PHONE_NUMBER_OUTBOUND", ""),
		TwilioAPIBase:       envOr("TWILIO_API_BASE", ""),
		TransferNumber:      envOr("TRANSFER_PHONE_NUMBER", ""),
		DeepgramAPIKey:      envOr("DEEPGRAM_API_KEY", ""),
		DeepgramEndpoint:    envOr("DEEPGRAM_ENDPOINT", ""),
		OpenAIAPIKey:        envOr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       envOr("OPENAI_BASE_URL", ""),
		OpenAIModel:         envOr("VOXFLOW_EXTRACTION_MODEL", "gpt-4o-mini"),
		GeminiAPIKey:        envOr("GEMINI_API_KEY", ""),
		GeminiModel:         envOr("VOXFLOW_SUMMARY_MODEL", "gemini-2.0-flash"),
		ServicingBaseURL:    envOr("API_URL", ""),
		ServicingUserID:     envOr("API_USER", ""),
		ServicingAPIKey:     envOr("API_KEY", ""),
		StaticDirectory:     envBoolOr("VOXFLOW_STATIC_DIRECTORY", false),
		DatabaseURL:         envOr("DATABASE_URL", ""),
		MemoBaseURL:         envOr("MEMO_API_URL", ""),
		MemoUserID:          envOr("MEMO_API_USER", ""),
		MemoAPIKey:          envOr("MEMO_API_KEY", ""),
		ActivityBaseURL:     envOr("ACTIVITY_API_URL", ""),
		ActivityUserID:      envOr("ACTIVITY_API_USER", ""),
		ActivityAPIKey:      envOr("ACTIVITY_API_KEY", ""),
		CatalogPath:         envOr("VOXFLOW_CATALOG", "catalog.yaml"),
		DefaultLanguage:     envOr("VOXFLOW_DEFAULT_LANGUAGE", "en"),
		MaxCallsPerSecond:   envFloat64Or("VOXFLOW_MAX_CALLS_PER_SECOND", 1),
		CallBurst:           envIntOr("VOXFLOW_CALL_BURST", 3),
		MaxConcurrentCalls:  envIntOr("VOXFLOW_MAX_CONCURRENT_CALLS", 25),
		ReadHeaderTimeout:   envDurationOr("VOXFLOW_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurationOr("VOXFLOW_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: envDurationOr("VOXFLOW_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXFLOW_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXFLOW_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOXFLOW_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.DefaultLanguage != "en" && cfg.DefaultLanguage != "es" {
		return Config{}, fmt.Errorf("VOXFLOW_DEFAULT_LANGUAGE must be en or es")
	}
	if !cfg.StaticDirectory && cfg.ServicingBaseURL == "" {
		return Config{}, fmt.Errorf("API_URL must be set unless VOXFLOW_STATIC_DIRECTORY=true")
	}

	return cfg, nil
}

// StreamURL is the websocket endpoint the telephony provider connects
// its media stream to.
func (c Config) StreamURL(caller, callee string) string {
	return fmt.Sprintf("wss://%s/outbound/stream/%s/%s", c.PublicHost, caller, callee)
}

// WebhookURL builds an absolute callback URL under the public host.
func (c Config) WebhookURL(path string) string {
	return "https://" + c.PublicHost + path
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
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
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return f
}
