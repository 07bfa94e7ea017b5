package trends

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

const sampleResponse = `{
  "trending_searches": [
    {
      "query": "solar eclipse",
      "start_timestamp": 1735700000,
      "active": true,
      "search_volume": 200000,
      "increase_percentage": 1000,
      "categories": [{"id": 7, "name": "Science"}],
      "trend_breakdown": ["eclipse time", "eclipse glasses"],
      "serpapi_google_trends_link": "https://serpapi.com/x",
      "news_page_token": "tok",
      "serpapi_news_link": "https://serpapi.com/y"
    },
    {"query": "local derby", "categories": [{"id": 20, "name": "Sports"}]}
  ]
}`

func TestClientFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("engine") != "google_trends_trending_now" || q.Get("geo") != "US" || q.Get("api_key") != "k" {
			t.Errorf("unexpected query params: %v", q)
		}
		w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	c := NewClient("google_trends_trending_now", "US", "k", srv.URL)
	got, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	first := got[0]
	if first.Query != "solar eclipse" || first.SearchVolume != 200000 || !first.Active {
		t.Errorf("first record = %+v", first)
	}
	if len(first.Categories) != 1 || first.Categories[0].Name != "Science" {
		t.Errorf("categories = %+v", first.Categories)
	}
	if len(first.TrendBreakdown) != 2 {
		t.Errorf("breakdown = %v", first.TrendBreakdown)
	}
}

func TestClientFetchProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": "Invalid API key"}`))
	}))
	defer srv.Close()

	c := NewClient("google_trends_trending_now", "US", "bad", srv.URL)
	if _, err := c.Fetch(context.Background()); err == nil {
		t.Fatal("expected provider error")
	}
}

func TestClientFetchBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("google_trends_trending_now", "US", "k", srv.URL)
	if _, err := c.Fetch(context.Background()); err == nil {
		t.Fatal("expected status error")
	}
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mock.json")
	if err := os.WriteFile(path, []byte(sampleResponse), 0o644); err != nil {
		t.Fatal(err)
	}

	p := &FileProvider{Path: path}
	got, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 2 || got[1].Query != "local derby" {
		t.Fatalf("got %+v", got)
	}
}
