// Package sitemap maintains the published sitemap.xml across runs. The
// merge never discards an entry it does not recognize: history observed
// in an earlier publication survives even if the store has lost it.
package sitemap

import (
	"encoding/xml"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
)

const lastModFormat = "2006-01-02"

// Entry is one <url> element.
type Entry struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

type urlset struct {
	XMLName xml.Name `xml:"urlset"`
	Xmlns   string   `xml:"xmlns,attr"`
	URLs    []Entry  `xml:"url"`
}

var dateSegment = regexp.MustCompile(`/(\d{8})/?$`)

// Merge reconciles the store's distinct narrative dates with a
// previously published document. existing may be nil or malformed;
// either is treated as a fresh start. The homepage entry is always
// regenerated with now's date and sorted first; remaining entries sort
// ascending by the date embedded in the URL, date-less URLs last.
func Merge(existing []byte, dates []string, baseURL string, now time.Time) []Entry {
	home := homepage(baseURL)

	merged := parse(existing, home)

	for _, d := range dates {
		loc := dateURL(baseURL, d)
		lastMod := dashDate(d)
		if prev, ok := merged[loc]; ok {
			merged[loc] = laterOf(prev, lastMod)
		} else {
			merged[loc] = lastMod
		}
	}

	entries := make([]Entry, 0, len(merged)+1)
	for loc, lastMod := range merged {
		entries = append(entries, Entry{Loc: loc, LastMod: lastMod})
	}
	sort.Slice(entries, func(i, j int) bool {
		di, iok := embeddedDate(entries[i].Loc)
		dj, jok := embeddedDate(entries[j].Loc)
		if iok != jok {
			return iok // date-bearing URLs before the rest
		}
		if iok && di != dj {
			return di < dj
		}
		return entries[i].Loc < entries[j].Loc
	})

	return append([]Entry{{Loc: home, LastMod: now.Format(lastModFormat)}}, entries...)
}

// parse extracts loc→lastmod from a prior document, dropping the
// homepage (it is always regenerated). Malformed input yields an empty
// map, not an error.
func parse(data []byte, home string) map[string]string {
	out := make(map[string]string)
	if len(data) == 0 {
		return out
	}
	var doc urlset
	if err := xml.Unmarshal(data, &doc); err != nil {
		return map[string]string{}
	}
	for _, u := range doc.URLs {
		loc := strings.TrimSpace(u.Loc)
		if loc == "" || loc == home || loc+"/" == home || loc == home+"/" {
			continue
		}
		out[loc] = strings.TrimSpace(u.LastMod)
	}
	return out
}

func homepage(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/"
}

func dateURL(baseURL, date string) string {
	return strings.TrimRight(baseURL, "/") + "/date/" + date
}

// dashDate converts 20250101 to 2025-01-01, passing through values
// that are not compact dates.
func dashDate(d string) string {
	t, err := time.Parse("20060102", d)
	if err != nil {
		return d
	}
	return t.Format(lastModFormat)
}

// laterOf keeps the chronologically later lastmod; an unparseable date
// loses to a parseable one.
func laterOf(a, b string) string {
	ta, errA := time.Parse(lastModFormat, a)
	tb, errB := time.Parse(lastModFormat, b)
	switch {
	case errA != nil:
		return b
	case errB != nil:
		return a
	case tb.After(ta):
		return b
	default:
		return a
	}
}

// embeddedDate pulls the compact date out of a per-day URL.
func embeddedDate(loc string) (string, bool) {
	m := dateSegment.FindStringSubmatch(loc)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Render produces the sitemap document.
func Render(entries []Entry) ([]byte, error) {
	doc := urlset{
		Xmlns: "http://www.sitemaps.org/schemas/sitemap/0.9",
		URLs:  entries,
	}
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal sitemap: %w", err)
	}
	return append([]byte(xml.Header), append(body, '\n')...), nil
}

// WriteFile renders and writes the sitemap.
func WriteFile(path string, entries []Entry) error {
	data, err := Render(entries)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write sitemap %s: %w", path, err)
	}
	return nil
}
