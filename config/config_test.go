package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"sjsage522/immoworker/pkg/errors"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	// Test with default values
	config, err := LoadConfig()
	assert.NoError(t, err)
	assert.Equal(t, "development", config.Environment)
	assert.Equal(t, DiscoveryHTTP, config.DiscoveryMode)
	assert.Equal(t, 2, config.Pages)
	assert.Equal(t, 10*time.Second, config.FetchTimeout)
	assert.Equal(t, 2.0, config.RequestsPerSecond)
	assert.Equal(t, 3, config.MaxRetries)
	assert.Equal(t, time.Second, config.RetryBaseDelay)
	assert.Equal(t, 30*time.Second, config.RetryMaxDelay)
	assert.Equal(t, time.Duration(0), config.CrawlInterval)
	assert.Empty(t, config.RedisAddr)
	assert.Empty(t, config.MemcacheAddr)
	assert.Empty(t, config.PostgresDSN)

	assert.Equal(t, []SessionSpec{
		{Name: "house", Query: "house/for-sale?countries=BE&page={}", Pages: 2},
		{Name: "apartment", Query: "apartment/for-sale?countries=BE&page={}", Pages: 2},
	}, config.Sessions)
	assert.Equal(t, "https://www.immoweb.be/en/search/house/for-sale?countries=BE&page={}",
		config.Template(config.Sessions[0]))

	// Test with environment variables
	t.Setenv("REDIS_ADDR", "redis.example.com:6379")
	t.Setenv("REDIS_DB", "1")
	t.Setenv("REDIS_STREAM_COUNT", "4")
	t.Setenv("MEMCACHE_ADDR", "memcache.example.com:11211")
	t.Setenv("CRAWL_INTERVAL_SECONDS", "30")
	t.Setenv("IMMO_CATEGORIES", "house, villa")
	t.Setenv("IMMO_COUNTRY", "LU")
	t.Setenv("IMMO_PAGES", "5")
	t.Setenv("REQUESTS_PER_SECOND", "0.5")
	t.Setenv("DISCOVERY_MODE", "Chrome")

	config, err = LoadConfig()
	assert.NoError(t, err)
	assert.Equal(t, "redis.example.com:6379", config.RedisAddr)
	assert.Equal(t, 1, config.RedisDB)
	assert.Equal(t, 4, config.RedisStreamCount)
	assert.Equal(t, "memcache.example.com:11211", config.MemcacheAddr)
	assert.Equal(t, 30*time.Second, config.CrawlInterval)
	assert.Equal(t, 0.5, config.RequestsPerSecond)
	assert.Equal(t, DiscoveryChrome, config.DiscoveryMode)
	assert.Equal(t, []SessionSpec{
		{Name: "house", Query: "house/for-sale?countries=LU&page={}", Pages: 5},
		{Name: "villa", Query: "villa/for-sale?countries=LU&page={}", Pages: 5},
	}, config.Sessions)
}

func TestLoadConfigSessionsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.yaml")
	err := os.WriteFile(path, []byte(`
- name: house
  query: house/for-sale?countries=BE&page={}&orderBy=newest
  pages: 3
- name: apartment-rent
  query: apartment/for-rent?countries=BE&page={}
`), 0644)
	assert.NoError(t, err)
	t.Setenv("IMMO_SESSIONS_FILE", path)

	config, err := LoadConfig()
	assert.NoError(t, err)
	assert.Len(t, config.Sessions, 2)
	assert.Equal(t, 3, config.Sessions[0].Pages)
	assert.Equal(t, 2, config.Sessions[1].Pages, "pages defaults to IMMO_PAGES")
	assert.Equal(t, "apartment-rent", config.Sessions[1].Name)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad mode", map[string]string{"DISCOVERY_MODE": "lynx"}},
		{"zero pages", map[string]string{"IMMO_PAGES": "0"}},
		{"negative retries", map[string]string{"MAX_RETRIES": "-1"}},
		{"no categories", map[string]string{"IMMO_CATEGORIES": " , "}},
		{"missing sessions file", map[string]string{"IMMO_SESSIONS_FILE": "/nonexistent/sessions.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.True(t, errors.Is(err, errors.ErrorTypeConfiguration), "got %v", err)
		})
	}
}

func TestValidateTemplatePlaceholder(t *testing.T) {
	cfg := &Config{
		DiscoveryMode: DiscoveryHTTP,
		BaseURL:       "https://www.immoweb.be/en/search/",
		Sessions:      []SessionSpec{{Name: "house", Query: "house/for-sale?page=1", Pages: 1}},
	}
	assert.True(t, errors.Is(cfg.Validate(), errors.ErrorTypeConfiguration))

	cfg.Sessions[0].Query = "house/for-sale?page={}"
	assert.NoError(t, cfg.Validate())

	cfg.Sessions = append(cfg.Sessions, cfg.Sessions[0])
	assert.True(t, errors.Is(cfg.Validate(), errors.ErrorTypeConfiguration), "duplicate names")
}
