package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port     string
	Env      string
	RedisURL string

	// Message lifecycle
	MessageTTL    time.Duration
	SweepInterval time.Duration

	// Remote scanning
	VirusTotalAPIKey string
	VirusTotalURL    string
	FileScanTimeout  time.Duration
	URLScanTimeout   time.Duration
	ScanPollInterval time.Duration
	VerdictCacheTTL  time.Duration

	// Local pattern scan
	ExtraThreatTokens []string

	// Transport
	MaxPayloadBytes int64
	AllowedOrigins  []string
	EventRate       float64 // inbound events per second per connection
	EventBurst      int

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations

	// Invalid holds keys whose values could not be parsed and fell back to defaults.
	Invalid []string
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "3001"),
		Env:              getEnv("ENV", "development"),
		RedisURL:         os.Getenv("REDIS_URL"),
		VirusTotalAPIKey: os.Getenv("VIRUSTOTAL_API_KEY"),
		VirusTotalURL:    getEnv("VIRUSTOTAL_URL", "https://www.virustotal.com/api/v3"),
		AutoBlockEnabled: getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	cfg.MessageTTL = cfg.duration("MESSAGE_TTL", 2*time.Minute)
	cfg.SweepInterval = cfg.duration("SWEEP_INTERVAL", 30*time.Second)
	cfg.FileScanTimeout = cfg.duration("SCAN_FILE_TIMEOUT", 45*time.Second)
	cfg.URLScanTimeout = cfg.duration("SCAN_URL_TIMEOUT", 10*time.Second)
	cfg.ScanPollInterval = cfg.duration("SCAN_POLL_INTERVAL", 5*time.Second)
	cfg.VerdictCacheTTL = cfg.duration("VERDICT_CACHE_TTL", time.Hour)
	cfg.MaxPayloadBytes = cfg.int64("MAX_PAYLOAD_BYTES", 16<<20)
	cfg.EventRate = cfg.float("EVENT_RATE", 20)
	cfg.EventBurst = int(cfg.int64("EVENT_BURST", 40))

	cfg.ExtraThreatTokens = splitList(os.Getenv("SAFETY_EXTRA_TOKENS"))
	cfg.AllowedOrigins = splitList(getEnv("ALLOWED_ORIGINS", "*"))

	// Parse whitelist (comma-separated IPs or CIDRs)
	cfg.RateLimitWhitelist = splitList(os.Getenv("RATE_LIMIT_WHITELIST"))

	// Auto-blocking keeps violation counters in Redis
	if cfg.Env == "production" && cfg.AutoBlockEnabled && cfg.RedisURL == "" {
		panic("REDIS_URL is required in production when AUTO_BLOCK_ENABLED is set")
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// RemoteScanEnabled reports whether a remote scanning provider is configured.
func (c *Config) RemoteScanEnabled() bool {
	return c.VirusTotalAPIKey != ""
}

func (c *Config) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		c.Invalid = append(c.Invalid, key)
		return def
	}
	return d
}

func (c *Config) int64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		c.Invalid = append(c.Invalid, key)
		return def
	}
	return n
}

func (c *Config) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		c.Invalid = append(c.Invalid, key)
		return def
	}
	return f
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, entry := range strings.Split(v, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
