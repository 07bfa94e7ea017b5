package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sudoghut/trendstory/internal/store"
)

type env struct {
	srv *httptest.Server
	db  *store.SQLiteStore
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()

	db, err := store.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	imagesDir := filepath.Join(dir, "images")
	if err := os.MkdirAll(filepath.Join(imagesDir, "20250101"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(imagesDir, "20250101", "a.png"), []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
	sitemapPath := filepath.Join(dir, "sitemap.xml")
	if err := os.WriteFile(sitemapPath, []byte("<urlset/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(db, imagesDir, sitemapPath, 0)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &env{srv: srv, db: db}
}

func (e *env) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	batch := []store.Topic{
		{Query: "eclipse", SearchVolume: 900, Categories: []store.Category{{ID: 7, Name: "Science"}}, BatchDate: "20250101"},
		{Query: "playoffs", SearchVolume: 400, Categories: []store.Category{{ID: 20, Name: "Sports"}}, BatchDate: "20250101"},
	}
	if _, err := e.db.InsertTopics(ctx, batch); err != nil {
		t.Fatal(err)
	}
	imageID, err := e.db.InsertImage(ctx, "a.png")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.db.InsertNarrative(ctx, "a story", "20250101", batch[0].ID, &imageID); err != nil {
		t.Fatal(err)
	}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	e := newEnv(t)

	var body map[string]string
	if code := getJSON(t, e.srv.URL+"/health", &body); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestDates(t *testing.T) {
	e := newEnv(t)
	e.seed(t)

	var body struct {
		Data  []string `json:"data"`
		Count int      `json:"count"`
	}
	if code := getJSON(t, e.srv.URL+"/api/v1/dates", &body); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if body.Count != 1 || body.Data[0] != "20250101" {
		t.Fatalf("body = %+v", body)
	}
}

func TestStoriesForDate(t *testing.T) {
	e := newEnv(t)
	e.seed(t)

	var body struct {
		Data []struct {
			Query     string `json:"query"`
			Narrative string `json:"narrative"`
			ImageFile string `json:"image_file"`
		} `json:"data"`
		Count int `json:"count"`
	}
	if code := getJSON(t, e.srv.URL+"/api/v1/stories?date=20250101", &body); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if body.Count != 1 {
		t.Fatalf("count = %d", body.Count)
	}
	got := body.Data[0]
	if got.Query != "eclipse" || got.Narrative != "a story" || got.ImageFile != "a.png" {
		t.Fatalf("story = %+v", got)
	}
}

func TestStoriesEmptyDay(t *testing.T) {
	e := newEnv(t)
	e.seed(t)

	var body struct {
		Count int `json:"count"`
	}
	if code := getJSON(t, e.srv.URL+"/api/v1/stories?date=20250102", &body); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if body.Count != 0 {
		t.Fatalf("count = %d", body.Count)
	}
}

func TestTopicsDefaultsToLatestBatch(t *testing.T) {
	e := newEnv(t)
	e.seed(t)

	var body struct {
		Date string `json:"date"`
		Data []struct {
			Query string `json:"query"`
		} `json:"data"`
		Count int `json:"count"`
	}
	if code := getJSON(t, e.srv.URL+"/api/v1/topics", &body); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if body.Date != "20250101" || body.Count != 2 {
		t.Fatalf("body = %+v", body)
	}
	if body.Data[0].Query != "eclipse" || body.Data[1].Query != "playoffs" {
		t.Fatalf("topics = %+v", body.Data)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	e := newEnv(t)

	resp, err := http.Post(e.srv.URL+"/api/v1/stories", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestServesImagesAndSitemap(t *testing.T) {
	e := newEnv(t)

	resp, err := http.Get(e.srv.URL + "/images/20250101/a.png")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("image status %d", resp.StatusCode)
	}

	resp, err = http.Get(e.srv.URL + "/sitemap.xml")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sitemap status %d", resp.StatusCode)
	}
}
