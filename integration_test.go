package main

import (
	"context"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sjsage522/immoworker/config"
	"sjsage522/immoworker/internal/crawler"
	"sjsage522/immoworker/services/publisher"
	"sjsage522/immoworker/services/sink"
	"sjsage522/immoworker/services/worker"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

// listingHTML mimics a listing page embedding its classified payload
const listingHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Listing</title>
    <script type="text/javascript">
        window.classified = {"id": %d, "transaction": {"type": "FOR_SALE", "sale": {"price": %d}}, "property": {"type": %q, "location": {"locality": "Gent", "postalCode": "9000"}}};
    </script>
</head>
<body><h1>Listing</h1></body>
</html>
`

// newTestSite serves two categories, one search page each, with three
// listings per page. The second apartment is a group listing.
func newTestSite(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/search/", func(w http.ResponseWriter, r *http.Request) {
		category := strings.Split(strings.TrimPrefix(r.URL.Path, "/search/"), "/")[0]
		if r.URL.Query().Get("page") != "1" {
			fmt.Fprint(w, `<html><body></body></html>`)
			return
		}
		fmt.Fprint(w, `<html><body>`)
		for i := 1; i <= 3; i++ {
			fmt.Fprintf(w, `<a class="card__title-link" href="/classified/%s/%d">Listing</a>`, category, i)
		}
		fmt.Fprint(w, `</body></html>`)
	})
	mux.HandleFunc("/classified/", func(w http.ResponseWriter, r *http.Request) {
		var category string
		var n int
		if _, err := fmt.Sscanf(strings.ReplaceAll(r.URL.Path, "/", " "), " classified %s %d", &category, &n); err != nil {
			http.NotFound(w, r)
			return
		}
		id := n
		propertyType := "HOUSE"
		if category == "apartment" {
			id = 100 + n
			propertyType = "APARTMENT"
			if n == 2 {
				propertyType = "APARTMENT_GROUP"
			}
		}
		fmt.Fprintf(w, listingHTML, id, id*1000, propertyType)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testConfig(server *httptest.Server, csvPath string) *config.Config {
	return &config.Config{
		BaseURL:       server.URL + "/search/",
		DiscoveryMode: config.DiscoveryHTTP,
		Sessions:      config.DefaultSessions([]string{"house", "apartment"}, "BE"),
		FetchTimeout:  5 * time.Second,
		MaxRetries:    1,
		CSVOutputPath: csvPath,
	}
}

func TestIntegration(t *testing.T) {
	server := newTestSite(t)
	csvPath := filepath.Join(t.TempDir(), "output", "listings.csv")

	cfg := testConfig(server, csvPath)
	for i := range cfg.Sessions {
		cfg.Sessions[i].Pages = 2
	}
	assert.NoError(t, cfg.Validate())

	services, err := initializeServices(context.Background(), cfg)
	assert.NoError(t, err)
	defer services.Cleanup()

	runners, err := buildRunners(cfg, nil)
	assert.NoError(t, err)
	assert.Len(t, runners, 2)

	w := worker.NewWorker(runners, services.Sinks, nil, nil, 0)
	res, err := w.RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, res.Errors)

	// Houses first, then apartments without the group listing
	var ids []int64
	for _, r := range res.Records {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{1, 2, 3, 101, 103}, ids)
	assert.Equal(t, "Gent", *res.Records[0].Locality)
	assert.Equal(t, "apartment", res.Records[4].Session)

	f, err := os.Open(csvPath)
	assert.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	assert.NoError(t, err)
	assert.Len(t, rows, 6)
	assert.Equal(t, crawler.Columns(), rows[0])
	assert.Equal(t, "101", rows[4][0])
}

func TestIntegrationRedis(t *testing.T) {
	// Skip this test if running in CI or without Redis
	if os.Getenv("CI") != "" {
		t.Skip("Skipping integration test in CI environment")
	}

	ctx := context.Background()
	redisAddr := "localhost:6379"
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer redisClient.Close()
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		t.Skip("Redis is not available, skipping integration test")
	}

	stream := "test_immo_" + fmt.Sprint(time.Now().UnixNano())
	redisPublisher := publisher.NewRedisPublisher(publisher.RedisConfig{
		Addr:            redisAddr,
		StreamPrefix:    stream,
		StreamCount:     1,
		StreamMaxLength: 100,
	})
	defer redisPublisher.Close()
	defer redisClient.Del(ctx, redisPublisher.StreamName(0))

	server := newTestSite(t)
	cfg := testConfig(server, "")
	cfg.Sessions = cfg.Sessions[:1]
	cfg.Sessions[0].Pages = 1

	runners, err := buildRunners(cfg, nil)
	assert.NoError(t, err)

	w := worker.NewWorker(runners, []sink.Sink{}, redisPublisher, nil, 0)
	res, err := w.RunOnce(ctx)
	assert.NoError(t, err)
	assert.Empty(t, res.Errors)

	entries, err := redisClient.XRange(ctx, redisPublisher.StreamName(0), "-", "+").Result()
	assert.NoError(t, err)
	assert.Len(t, entries, 3)

	encoded, ok := entries[0].Values["house"].(string)
	assert.True(t, ok)
	data, err := base64.StdEncoding.DecodeString(encoded)
	assert.NoError(t, err)

	var record crawler.Record
	assert.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, int64(1), record.ID)
	assert.Equal(t, "house", record.Session)
}
