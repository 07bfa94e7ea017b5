// Package server exposes a read-only HTTP API over the story store,
// for inspecting what the pipeline has produced without opening the
// database by hand. It also serves the generated images and sitemap.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sudoghut/trendstory/internal/store"
)

// Server provides the HTTP API.
type Server struct {
	store       store.Store
	imagesDir   string
	sitemapPath string
	port        int
}

// New creates a new HTTP server.
func New(s store.Store, imagesDir, sitemapPath string, port int) *Server {
	if port == 0 {
		port = 8080
	}
	return &Server{
		store:       s,
		imagesDir:   imagesDir,
		sitemapPath: sitemapPath,
		port:        port,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/dates", s.handleDates)
	mux.HandleFunc("/api/v1/stories", s.handleStories)
	mux.HandleFunc("/api/v1/topics", s.handleTopics)
	mux.Handle("/images/", http.StripPrefix("/images/", http.FileServer(http.Dir(s.imagesDir))))
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, s.sitemapPath)
	})
	return mux
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.port)
	fmt.Printf("trendstory server listening on %s\n", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	dates, err := s.store.DistinctNarrativeDates(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  dates,
		"count": len(dates),
	})
}

func (s *Server) handleStories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().Format(store.DateFormat)
	}

	stories, err := s.store.StoriesForDate(r.Context(), date)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	type storyInfo struct {
		ID        int64  `json:"id"`
		Query     string `json:"query"`
		Narrative string `json:"narrative"`
		Date      string `json:"date"`
		ImageFile string `json:"image_file,omitempty"`
	}

	infos := make([]storyInfo, len(stories))
	for i, st := range stories {
		infos[i] = storyInfo{
			ID:        st.ID,
			Query:     st.Query,
			Narrative: st.Narrative,
			Date:      st.Date,
		}
		if st.ImageFile.Valid {
			infos[i].ImageFile = st.ImageFile.String
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  infos,
		"count": len(infos),
	})
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		var err error
		date, err = s.store.LatestBatchDate(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
	}

	topics, err := s.store.TopicsForDate(r.Context(), date, "", 0)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"date":  date,
		"data":  topics,
		"count": len(topics),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
