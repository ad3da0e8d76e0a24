package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"sjsage522/immoworker/services/cache"
)

// memCache implements a simple in-memory cache for testing
type memCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{items: make(map[string][]byte)}
}

func (m *memCache) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if val, ok := m.items[key]; ok {
		return val, nil
	}
	return nil, cache.ErrMiss
}

func (m *memCache) Set(key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

func (m *memCache) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

const fullPayload = `{
	"id": 10423367,
	"transaction": {"type": "FOR_SALE", "sale": {"price": 325000}},
	"property": {
		"type": "HOUSE",
		"subtype": "VILLA",
		"bedroomCount": 3,
		"bathroomCount": 1,
		"showerRoomCount": 2,
		"location": {
			"region": "Flanders",
			"province": "Antwerp",
			"district": "Antwerp",
			"locality": "Edegem",
			"postalCode": "2650",
			"street": "Kerkplein",
			"number": "12"
		},
		"building": {"facadeCount": 4, "condition": "GOOD", "constructionYear": 1975},
		"netHabitableSurface": 180,
		"gardenSurface": 450,
		"terraceSurface": 20.5,
		"hasAttic": true,
		"hasBasement": false,
		"hasSwimmingPool": false,
		"fireplaceExists": true,
		"hasFitnessRoom": null,
		"hasTennisCourt": false,
		"hasSauna": false,
		"hasJacuzzi": true,
		"hasHammam": false
	}
}`

// listingPage wraps a payload the way listing pages embed it
func listingPage(payload string) string {
	return `<!DOCTYPE html><html><head>
<script type="text/javascript">window.dataLayer = [];</script>
<script type="text/javascript">
        window.classified = ` + payload + `;
    </script>
</head><body><h1>Listing</h1></body></html>`
}

func payloadWithID(id int, propertyType string) string {
	return fmt.Sprintf(`{"id": %d, "transaction": {"type": "FOR_SALE", "sale": {"price": %d}}, "property": {"type": %q}}`,
		id, id*1000, propertyType)
}

// searchPage renders a result page with one card per href
func searchPage(hrefs ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="search-results">`)
	for _, href := range hrefs {
		fmt.Fprintf(&b, `<article class="card"><h2><a class="card__title-link" href="%s">Listing</a></h2></article>`, href)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

// fakeSite serves search pages and listing pages from maps keyed by path.
// Each listing path may carry a sequence of statuses answered before its page.
type fakeSite struct {
	mu       sync.Mutex
	search   map[int][]string
	listings map[string]string
	statuses map[string][]int
	hits     map[string]int
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		search:   make(map[int][]string),
		listings: make(map[string]string),
		statuses: make(map[string][]int),
		hits:     make(map[string]int),
	}
}

func (f *fakeSite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[r.URL.Path]++

	if r.URL.Path == "/search" {
		var page int
		fmt.Sscanf(r.URL.Query().Get("page"), "%d", &page)
		hrefs, ok := f.search[page]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, searchPage(hrefs...))
		return
	}

	if queue := f.statuses[r.URL.Path]; len(queue) > 0 {
		f.statuses[r.URL.Path] = queue[1:]
		if queue[0] == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "0")
		}
		w.WriteHeader(queue[0])
		return
	}

	body, ok := f.listings[r.URL.Path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, body)
}

func (f *fakeSite) hitCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func startFakeSite(t *testing.T, site *fakeSite) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(site)
	t.Cleanup(server.Close)
	return server
}

// fakeSource is a PageSource serving canned links per page URL
type fakeSource struct {
	pages   map[string][]string
	fail    map[string]error
	current string
	visited []string
	closed  int
}

func (s *fakeSource) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.visited = append(s.visited, url)
	if err := s.fail[url]; err != nil {
		s.current = ""
		return err
	}
	s.current = url
	return nil
}

func (s *fakeSource) ListingLinks(_ context.Context) ([]string, error) {
	return s.pages[s.current], nil
}

func (s *fakeSource) Close() error {
	s.closed++
	return nil
}

func noSleep(context.Context, time.Duration) error { return nil }
