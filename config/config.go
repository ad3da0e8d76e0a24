package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"sjsage522/immoworker/pkg/errors"

	"gopkg.in/yaml.v2"
)

// Discovery modes
const (
	DiscoveryHTTP   = "http"
	DiscoveryChrome = "chrome"
)

// SessionSpec describes one crawl session: a search query walked over a
// number of result pages
type SessionSpec struct {
	Name  string `yaml:"name"`
	Query string `yaml:"query"`
	Pages int    `yaml:"pages"`
}

// Config represents the application configuration
type Config struct {
	// Environment
	Environment string

	// Search configuration
	BaseURL      string
	Country      string
	Categories   []string
	Pages        int
	SessionsFile string
	Sessions     []SessionSpec

	// Discovery configuration
	DiscoveryMode string
	ChromeBin     string
	PageWait      time.Duration

	// Fetch configuration
	FetchTimeout      time.Duration
	RequestsPerSecond float64
	MaxRetries        int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	RateLimitBlock    time.Duration

	// Worker configuration
	CrawlInterval time.Duration

	// Sinks
	CSVOutputPath string
	PostgresDSN   string

	// Redis configuration
	RedisAddr            string
	RedisDB              int
	RedisStream          string
	RedisStreamCount     int
	RedisStreamMaxLength int

	// Memcache configuration
	MemcacheAddr string

	// API configuration
	APIAddr string
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Environment:          getEnv("IMMO_ENVIRONMENT", "development"),
		BaseURL:              getEnv("IMMO_BASE_URL", "https://www.immoweb.be/en/search/"),
		Country:              getEnv("IMMO_COUNTRY", "BE"),
		Categories:           splitList(getEnv("IMMO_CATEGORIES", "house,apartment")),
		Pages:                getEnvInt("IMMO_PAGES", 2),
		SessionsFile:         os.Getenv("IMMO_SESSIONS_FILE"),
		DiscoveryMode:        strings.ToLower(getEnv("DISCOVERY_MODE", DiscoveryHTTP)),
		ChromeBin:            os.Getenv("CHROME_BIN"),
		PageWait:             time.Duration(getEnvInt("PAGE_WAIT_SECONDS", 2)) * time.Second,
		FetchTimeout:         time.Duration(getEnvInt("FETCH_TIMEOUT_SECONDS", 10)) * time.Second,
		RequestsPerSecond:    getEnvFloat("REQUESTS_PER_SECOND", 2),
		MaxRetries:           getEnvInt("MAX_RETRIES", 3),
		RetryBaseDelay:       time.Duration(getEnvInt("RETRY_BASE_DELAY_MS", 1000)) * time.Millisecond,
		RetryMaxDelay:        time.Duration(getEnvInt("RETRY_MAX_DELAY_MS", 30000)) * time.Millisecond,
		RateLimitBlock:       time.Duration(getEnvInt("RATE_LIMIT_BLOCK_SECONDS", 60)) * time.Second,
		CrawlInterval:        time.Duration(getEnvInt("CRAWL_INTERVAL_SECONDS", 0)) * time.Second,
		CSVOutputPath:        getEnv("CSV_OUTPUT_PATH", "./output/listings.csv"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		RedisStream:          getEnv("REDIS_STREAM", "listings"),
		RedisStreamCount:     getEnvInt("REDIS_STREAM_COUNT", 1),
		RedisStreamMaxLength: getEnvInt("REDIS_STREAM_MAX_LENGTH", 1000),
		MemcacheAddr:         os.Getenv("MEMCACHE_ADDR"),
		APIAddr:              os.Getenv("API_ADDR"),
	}

	if cfg.SessionsFile != "" {
		sessions, err := LoadSessions(cfg.SessionsFile)
		if err != nil {
			return nil, err
		}
		cfg.Sessions = sessions
	} else {
		cfg.Sessions = DefaultSessions(cfg.Categories, cfg.Country)
	}

	for i := range cfg.Sessions {
		if cfg.Sessions[i].Pages == 0 {
			cfg.Sessions[i].Pages = cfg.Pages
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultSessions builds one for-sale session per category
func DefaultSessions(categories []string, country string) []SessionSpec {
	sessions := make([]SessionSpec, 0, len(categories))
	for _, c := range categories {
		sessions = append(sessions, SessionSpec{
			Name:  c,
			Query: fmt.Sprintf("%s/for-sale?countries=%s&page={}", c, country),
		})
	}
	return sessions
}

// LoadSessions reads a YAML list of sessions
func LoadSessions(path string) ([]SessionSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfiguration(fmt.Sprintf("read sessions file %s", path), err)
	}

	var sessions []SessionSpec
	if err := yaml.Unmarshal(data, &sessions); err != nil {
		return nil, errors.NewConfiguration(fmt.Sprintf("parse sessions file %s", path), err)
	}
	return sessions, nil
}

// Template returns the search URL template of a session
func (c *Config) Template(s SessionSpec) string {
	return c.BaseURL + s.Query
}

// Validate checks the configuration before anything is started
func (c *Config) Validate() error {
	if c.DiscoveryMode != DiscoveryHTTP && c.DiscoveryMode != DiscoveryChrome {
		return errors.NewConfiguration(fmt.Sprintf("DISCOVERY_MODE must be %q or %q, got %q",
			DiscoveryHTTP, DiscoveryChrome, c.DiscoveryMode), nil)
	}
	if len(c.Sessions) == 0 {
		return errors.NewConfiguration("no crawl sessions configured", nil)
	}
	if c.MaxRetries < 0 {
		return errors.NewConfiguration(fmt.Sprintf("MAX_RETRIES must be >= 0, got %d", c.MaxRetries), nil)
	}

	seen := make(map[string]bool, len(c.Sessions))
	for _, s := range c.Sessions {
		if s.Name == "" {
			return errors.NewConfiguration("session without name", nil)
		}
		if seen[s.Name] {
			return errors.NewConfiguration(fmt.Sprintf("duplicate session %q", s.Name), nil)
		}
		seen[s.Name] = true

		if s.Pages < 1 {
			return errors.NewConfiguration(fmt.Sprintf("session %s: pages must be >= 1, got %d", s.Name, s.Pages), nil)
		}
		if !strings.Contains(c.Template(s), "{}") {
			return errors.NewConfiguration(fmt.Sprintf("session %s: query %q has no {} page placeholder", s.Name, s.Query), nil)
		}
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	f, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
