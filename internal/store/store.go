package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// DateFormat is the compact calendar-day form used for batch dates and
// narrative dates throughout the store.
const DateFormat = "20060102"

// Category is one provider-assigned category on a topic.
type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Topic is one ingested trending-search record. Topics are written once
// by ingestion and never mutated.
type Topic struct {
	ID                 int64      `db:"id" json:"id"`
	Query              string     `db:"query" json:"query"`
	StartTimestamp     string     `db:"start_timestamp" json:"start_timestamp,omitempty"`
	Active             bool       `db:"active" json:"active"`
	SearchVolume       int64      `db:"search_volume" json:"search_volume"`
	IncreasePercentage int64      `db:"increase_percentage" json:"increase_percentage"`
	CategoriesJSON     string     `db:"categories" json:"-"`
	BreakdownJSON      string     `db:"trend_breakdown" json:"-"`
	TrendsLink         string     `db:"trends_link" json:"trends_link,omitempty"`
	NewsPageToken      string     `db:"news_page_token" json:"-"`
	NewsLink           string     `db:"news_link" json:"news_link,omitempty"`
	BatchDate          string     `db:"batch_date" json:"batch_date"`
	Categories         []Category `db:"-" json:"categories"`
	Breakdown          []string   `db:"-" json:"trend_breakdown"`
}

// Image is a generated artifact reference.
type Image struct {
	ID       int64  `db:"id"`
	FileName string `db:"file_name"`
}

// Narrative is the generated story for a topic. ImageID is null when
// the story was persisted without an illustration.
type Narrative struct {
	ID      int64         `db:"id"`
	Text    string        `db:"narrative"`
	Date    string        `db:"date"`
	TopicID int64         `db:"topic_id"`
	ImageID sql.NullInt64 `db:"image_id"`
}

// Story is a narrative joined with its topic's query and image file,
// the shape the inspection API serves.
type Story struct {
	ID        int64          `db:"id"`
	Query     string         `db:"query"`
	Narrative string         `db:"narrative"`
	Date      string         `db:"date"`
	ImageFile sql.NullString `db:"image_file"`
}

// Store is the persistence interface.
type Store interface {
	InsertTopics(ctx context.Context, topics []Topic) (int, error)
	LatestBatchDate(ctx context.Context) (string, error)
	TopicsForDate(ctx context.Context, date, excludedCategory string, limit int) ([]Topic, error)

	NarrativeExistsForTopic(ctx context.Context, topicID int64) (bool, error)
	NarrativeExistsForQueryOnDate(ctx context.Context, query, date string) (bool, error)

	InsertImage(ctx context.Context, fileName string) (int64, error)
	InsertNarrative(ctx context.Context, text, date string, topicID int64, imageID *int64) (int64, error)
	DistinctNarrativeDates(ctx context.Context) ([]string, error)
	StoriesForDate(ctx context.Context, date string) ([]Story, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations. Foreign keys are
// enabled so narrative rows cascade away with their topic or image.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertTopics writes a whole ingested batch. Each insert commits on
// its own; a failure partway leaves the earlier rows in place.
func (s *SQLiteStore) InsertTopics(ctx context.Context, topics []Topic) (int, error) {
	inserted := 0
	for i := range topics {
		t := &topics[i]
		catsJSON, _ := json.Marshal(t.Categories)
		breakdownJSON, _ := json.Marshal(t.Breakdown)

		res, err := s.db.ExecContext(ctx, `
			INSERT INTO topics (query, start_timestamp, active, search_volume, increase_percentage,
				categories, trend_breakdown, trends_link, news_page_token, news_link, batch_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.Query, t.StartTimestamp, t.Active, t.SearchVolume, t.IncreasePercentage,
			string(catsJSON), string(breakdownJSON), t.TrendsLink, t.NewsPageToken, t.NewsLink, t.BatchDate)
		if err != nil {
			return inserted, fmt.Errorf("insert topic %q: %w", t.Query, err)
		}
		t.ID, _ = res.LastInsertId()
		inserted++
	}
	return inserted, nil
}

// LatestBatchDate returns the batch date of the most recently inserted
// topic, or "" if the store is empty.
func (s *SQLiteStore) LatestBatchDate(ctx context.Context) (string, error) {
	var date string
	err := s.db.GetContext(ctx, &date, "SELECT batch_date FROM topics ORDER BY id DESC LIMIT 1")
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("latest batch date: %w", err)
	}
	return date, nil
}

// TopicsForDate returns the batch's candidates: one topic per query
// (the lowest id wins), topics categorized as exactly the excluded
// category dropped, ordered by id ascending, capped to limit.
func (s *SQLiteStore) TopicsForDate(ctx context.Context, date, excludedCategory string, limit int) ([]Topic, error) {
	var topics []Topic
	err := s.db.SelectContext(ctx, &topics, `
		SELECT * FROM topics
		WHERE batch_date = ?
		  AND id IN (SELECT MIN(id) FROM topics WHERE batch_date = ? GROUP BY query)
		ORDER BY id ASC
	`, date, date)
	if err != nil {
		return nil, fmt.Errorf("topics for date %s: %w", date, err)
	}

	out := topics[:0]
	for i := range topics {
		json.Unmarshal([]byte(topics[i].CategoriesJSON), &topics[i].Categories)
		json.Unmarshal([]byte(topics[i].BreakdownJSON), &topics[i].Breakdown)
		if isExcludedOnly(topics[i].Categories, excludedCategory) {
			continue
		}
		out = append(out, topics[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// isExcludedOnly reports whether the category set is exactly the
// excluded category. Topics that merely include it stay eligible.
func isExcludedOnly(cats []Category, excluded string) bool {
	if excluded == "" || len(cats) != 1 {
		return false
	}
	return cats[0].Name == excluded
}

func (s *SQLiteStore) NarrativeExistsForTopic(ctx context.Context, topicID int64) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM narratives WHERE topic_id = ?", topicID)
	if err != nil {
		return false, fmt.Errorf("narrative exists for topic %d: %w", topicID, err)
	}
	return n > 0, nil
}

// NarrativeExistsForQueryOnDate reports whether any earlier run already
// narrated this query on the given day, under any topic id.
func (s *SQLiteStore) NarrativeExistsForQueryOnDate(ctx context.Context, query, date string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM narratives n
		JOIN topics t ON t.id = n.topic_id
		WHERE t.query = ? AND n.date = ?
	`, query, date)
	if err != nil {
		return false, fmt.Errorf("narrative exists for query %q on %s: %w", query, date, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) InsertImage(ctx context.Context, fileName string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "INSERT INTO images (file_name) VALUES (?)", fileName)
	if err != nil {
		return 0, fmt.Errorf("insert image %s: %w", fileName, err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// InsertNarrative writes the story row. imageID may be nil for stories
// persisted without an illustration. The caller checks for an existing
// narrative first; with runs serialized by the supervisor lock that
// advisory check suffices (a unique index on topic_id is the fix if
// concurrent runs are ever allowed).
func (s *SQLiteStore) InsertNarrative(ctx context.Context, text, date string, topicID int64, imageID *int64) (int64, error) {
	var img sql.NullInt64
	if imageID != nil {
		img = sql.NullInt64{Int64: *imageID, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO narratives (narrative, date, topic_id, image_id)
		VALUES (?, ?, ?, ?)
	`, text, date, topicID, img)
	if err != nil {
		return 0, fmt.Errorf("insert narrative for topic %d: %w", topicID, err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// DistinctNarrativeDates returns every calendar day with at least one
// narrative, ascending.
func (s *SQLiteStore) DistinctNarrativeDates(ctx context.Context) ([]string, error) {
	var dates []string
	err := s.db.SelectContext(ctx, &dates, "SELECT DISTINCT date FROM narratives ORDER BY date ASC")
	if err != nil {
		return nil, fmt.Errorf("distinct narrative dates: %w", err)
	}
	return dates, nil
}

// StoriesForDate returns the day's narratives joined with their topic
// query and image file name, ordered by insertion.
func (s *SQLiteStore) StoriesForDate(ctx context.Context, date string) ([]Story, error) {
	var stories []Story
	err := s.db.SelectContext(ctx, &stories, `
		SELECT n.id, t.query, n.narrative, n.date, i.file_name AS image_file
		FROM narratives n
		JOIN topics t ON t.id = n.topic_id
		LEFT JOIN images i ON i.id = n.image_id
		WHERE n.date = ?
		ORDER BY n.id ASC
	`, date)
	if err != nil {
		return nil, fmt.Errorf("stories for date %s: %w", date, err)
	}
	return stories, nil
}
