package store

const schema = `
CREATE TABLE IF NOT EXISTS topics (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    query               TEXT NOT NULL,
    start_timestamp     TEXT NOT NULL DEFAULT '',
    active              BOOLEAN NOT NULL DEFAULT 0,
    search_volume       INTEGER NOT NULL DEFAULT 0,
    increase_percentage INTEGER NOT NULL DEFAULT 0,
    categories          TEXT NOT NULL DEFAULT '[]',
    trend_breakdown     TEXT NOT NULL DEFAULT '[]',
    trends_link         TEXT NOT NULL DEFAULT '',
    news_page_token     TEXT NOT NULL DEFAULT '',
    news_link           TEXT NOT NULL DEFAULT '',
    batch_date          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_topics_batch_date ON topics(batch_date);
CREATE INDEX IF NOT EXISTS idx_topics_query ON topics(query);

CREATE TABLE IF NOT EXISTS images (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    file_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS narratives (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    narrative TEXT NOT NULL,
    date      TEXT NOT NULL,
    topic_id  INTEGER NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
    image_id  INTEGER REFERENCES images(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_narratives_topic ON narratives(topic_id);
CREATE INDEX IF NOT EXISTS idx_narratives_date ON narratives(date);
`
