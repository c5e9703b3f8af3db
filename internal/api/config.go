package api

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the server configuration. Defaults are overlaid by an optional
// YAML file (TRACKIT_CONFIG) and then by TRACKIT_* environment variables.
type Config struct {
	ListenAddr      string        `yaml:"listen_addr"`
	DBPath          string        `yaml:"db_path"`
	UploadDir       string        `yaml:"upload_dir"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowSignup     bool          `yaml:"allow_signup"`
	BaseURL         string        `yaml:"base_url"`
	LogFormat       string        `yaml:"log_format"` // "json" (default) or "text"
	LogLevel        string        `yaml:"log_level"`  // "debug", "info" (default), "warn", "error"

	SessionSecret string        `yaml:"session_secret"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	CookieSecure  bool          `yaml:"cookie_secure"`

	RateLimitAuth  int `yaml:"rate_limit_auth"`  // /v1/auth/* per IP per minute (default: 10)
	RateLimitWrite int `yaml:"rate_limit_write"` // mutating requests per user per minute (default: 120)
	RateLimitOther int `yaml:"rate_limit_other"` // all other per user per minute (default: 600)

	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"` // empty = disabled

	// TrustedProxies lists the reverse proxies (CIDRs or addresses) allowed
	// to set X-Forwarded-For. Empty means the socket peer is the client.
	TrustedProxies []string `yaml:"trusted_proxies"`

	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	GitHubToken    string        `yaml:"github_token"`
	GitHubAPIURL   string        `yaml:"github_api_url"`
	GitHubCacheTTL time.Duration `yaml:"github_cache_ttl"`

	AuthEventRetention time.Duration `yaml:"auth_event_retention"` // default: 90 days
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":8080",
		DBPath:          "./data/trackit.db",
		UploadDir:       "./data/uploads",
		ShutdownTimeout: 30 * time.Second,
		AllowSignup:     true,
		BaseURL:         "http://localhost:8080",
		LogFormat:       "json",
		LogLevel:        "info",

		SessionTTL: 7 * 24 * time.Hour,

		RateLimitAuth:  10,
		RateLimitWrite: 120,
		RateLimitOther: 600,

		MaxUploadBytes: 25 << 20,

		GitHubCacheTTL: 10 * time.Minute,

		AuthEventRetention: 90 * 24 * time.Hour,
	}
}

// LoadConfig reads the YAML file named by TRACKIT_CONFIG (if any) over the
// defaults, then applies environment variables.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("TRACKIT_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.SessionSecret != "" && len(cfg.SessionSecret) < 32 {
		return cfg, fmt.Errorf("session secret must be at least 32 bytes")
	}
	if _, err := parseProxies(cfg.TrustedProxies); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TRACKIT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("TRACKIT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TRACKIT_UPLOAD_DIR"); v != "" {
		cfg.UploadDir = v
	}
	if v := os.Getenv("TRACKIT_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("TRACKIT_ALLOW_SIGNUP"); v != "" {
		cfg.AllowSignup = v != "false" && v != "0"
	}
	if v := os.Getenv("TRACKIT_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("TRACKIT_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("TRACKIT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv("TRACKIT_SESSION_SECRET"); v != "" {
		cfg.SessionSecret = v
	}
	if v := os.Getenv("TRACKIT_SESSION_TTL"); v != "" {
		if d := parseDaysDuration(v); d > 0 {
			cfg.SessionTTL = d
		}
	}
	if v := os.Getenv("TRACKIT_COOKIE_SECURE"); v != "" {
		cfg.CookieSecure = v == "true" || v == "1"
	}

	setPositiveInt(&cfg.RateLimitAuth, "TRACKIT_RATE_LIMIT_AUTH")
	setPositiveInt(&cfg.RateLimitWrite, "TRACKIT_RATE_LIMIT_WRITE")
	setPositiveInt(&cfg.RateLimitOther, "TRACKIT_RATE_LIMIT_OTHER")

	if v := os.Getenv("TRACKIT_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxUploadBytes = n
		}
	}

	if v := os.Getenv("TRACKIT_GITHUB_TOKEN"); v != "" {
		cfg.GitHubToken = v
	}
	if v := os.Getenv("TRACKIT_GITHUB_API_URL"); v != "" {
		cfg.GitHubAPIURL = v
	}
	if v := os.Getenv("TRACKIT_GITHUB_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.GitHubCacheTTL = d
		}
	}

	if v := os.Getenv("TRACKIT_AUTH_EVENT_RETENTION"); v != "" {
		if d := parseDaysDuration(v); d > 0 {
			cfg.AuthEventRetention = d
		}
	}

	setList(&cfg.CORSAllowedOrigins, "TRACKIT_CORS_ALLOWED_ORIGINS")
	setList(&cfg.TrustedProxies, "TRACKIT_TRUSTED_PROXIES")
}

// setList replaces dst with the comma-separated entries of key, if set.
func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	*dst = nil
	for _, e := range strings.Split(v, ",") {
		if e = strings.TrimSpace(e); e != "" {
			*dst = append(*dst, e)
		}
	}
}

func setPositiveInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

// parseDaysDuration parses a string like "90d", "30d" into a time.Duration.
// Falls back to time.ParseDuration for standard Go durations.
func parseDaysDuration(s string) time.Duration {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		numStr := strings.TrimSuffix(s, "d")
		if n, err := strconv.Atoi(numStr); err == nil && n > 0 {
			return time.Duration(n) * 24 * time.Hour
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return 0
}
