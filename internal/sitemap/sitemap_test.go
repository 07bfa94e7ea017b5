package sitemap

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

const baseURL = "https://example.com/site"

var now = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func TestMergeFreshStart(t *testing.T) {
	entries := Merge(nil, []string{"20250101", "20250102"}, baseURL, now)

	want := []Entry{
		{Loc: "https://example.com/site/", LastMod: "2025-03-15"},
		{Loc: "https://example.com/site/date/20250101", LastMod: "2025-01-01"},
		{Loc: "https://example.com/site/date/20250102", LastMod: "2025-01-02"},
	}
	if !reflect.DeepEqual(entries, want) {
		t.Fatalf("entries = %+v\nwant %+v", entries, want)
	}
}

func TestMergePreservesUnknownHistory(t *testing.T) {
	existing, err := Render([]Entry{
		{Loc: "https://example.com/site/", LastMod: "2025-01-05"},
		{Loc: "https://example.com/site/date/20250101", LastMod: "2025-01-01"},
		{Loc: "https://example.com/site/about", LastMod: "2024-12-01"},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Store has lost 20250101 entirely; the run only observes 20250301.
	entries := Merge(existing, []string{"20250301"}, baseURL, now)

	byLoc := map[string]string{}
	for _, e := range entries {
		byLoc[e.Loc] = e.LastMod
	}
	if byLoc["https://example.com/site/date/20250101"] != "2025-01-01" {
		t.Errorf("lost history entry: %v", byLoc)
	}
	if byLoc["https://example.com/site/date/20250301"] != "2025-03-01" {
		t.Errorf("missing new entry: %v", byLoc)
	}
	if byLoc["https://example.com/site/about"] != "2024-12-01" {
		t.Errorf("lost non-date entry: %v", byLoc)
	}
	// Homepage regenerated, not carried over.
	if byLoc["https://example.com/site/"] != "2025-03-15" {
		t.Errorf("homepage lastmod = %q", byLoc["https://example.com/site/"])
	}
}

func TestMergeLaterDateWins(t *testing.T) {
	existing, err := Render([]Entry{
		{Loc: "https://example.com/site/date/20250101", LastMod: "2025-02-20"},
		{Loc: "https://example.com/site/date/20250102", LastMod: "2024-01-01"},
	})
	if err != nil {
		t.Fatal(err)
	}

	entries := Merge(existing, []string{"20250101", "20250102"}, baseURL, now)
	byLoc := map[string]string{}
	for _, e := range entries {
		byLoc[e.Loc] = e.LastMod
	}
	// Existing entry is newer: keep it.
	if byLoc["https://example.com/site/date/20250101"] != "2025-02-20" {
		t.Errorf("20250101 lastmod = %q", byLoc["https://example.com/site/date/20250101"])
	}
	// Database date is newer: take it.
	if byLoc["https://example.com/site/date/20250102"] != "2025-01-02" {
		t.Errorf("20250102 lastmod = %q", byLoc["https://example.com/site/date/20250102"])
	}
}

func TestMergeIdempotent(t *testing.T) {
	dates := []string{"20250103", "20250101", "20250102"}

	once := Merge(nil, dates, baseURL, now)
	rendered, err := Render(once)
	if err != nil {
		t.Fatal(err)
	}
	twice := Merge(rendered, dates, baseURL, now)

	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("second merge diverged:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestMergeOrderInsensitive(t *testing.T) {
	a := Merge(nil, []string{"20250101", "20250103", "20250102"}, baseURL, now)
	b := Merge(nil, []string{"20250103", "20250102", "20250101"}, baseURL, now)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("order-dependent merge:\na: %+v\nb: %+v", a, b)
	}
}

func TestMergeMalformedExistingTreatedAsAbsent(t *testing.T) {
	entries := Merge([]byte("<urlset><url><loc>broken"), []string{"20250101"}, baseURL, now)
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Loc != "https://example.com/site/" {
		t.Errorf("homepage not first: %+v", entries[0])
	}
}

func TestMergeSortsDatelessLast(t *testing.T) {
	existing, err := Render([]Entry{
		{Loc: "https://example.com/site/about", LastMod: "2024-12-01"},
		{Loc: "https://example.com/site/date/20250102", LastMod: "2025-01-02"},
	})
	if err != nil {
		t.Fatal(err)
	}

	entries := Merge(existing, []string{"20250101"}, baseURL, now)
	locs := make([]string, len(entries))
	for i, e := range entries {
		locs[i] = e.Loc
	}
	want := []string{
		"https://example.com/site/",
		"https://example.com/site/date/20250101",
		"https://example.com/site/date/20250102",
		"https://example.com/site/about",
	}
	if !reflect.DeepEqual(locs, want) {
		t.Fatalf("order = %v\nwant %v", locs, want)
	}
}

func TestRenderShape(t *testing.T) {
	data, err := Render([]Entry{{Loc: "https://example.com/", LastMod: "2025-01-01"}})
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	for _, frag := range []string{
		`<?xml`,
		`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`,
		`<loc>https://example.com/</loc>`,
		`<lastmod>2025-01-01</lastmod>`,
	} {
		if !strings.Contains(s, frag) {
			t.Errorf("rendered sitemap missing %q:\n%s", frag, s)
		}
	}
}
