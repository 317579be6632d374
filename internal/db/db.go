// Package db stores the history of lookups and downloads in SQLite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrClosed is returned by every method of a nil or closed DB.
var ErrClosed = errors.New("database not initialized")

// DownloadRecord is a row in the downloads table.
type DownloadRecord struct {
	ID         int64
	VideoID    string
	Title      string
	Channel    string
	FormatID   int
	Container  string
	MediaType  string
	FileSize   int64
	Transcoded bool
	CreatedAt  time.Time
}

// HistoryEntry is one lookup or download, newest first in ListHistory.
type HistoryEntry struct {
	Kind       string    `json:"kind"`
	VideoID    string    `json:"video_id"`
	Title      string    `json:"title,omitempty"`
	Channel    string    `json:"channel,omitempty"`
	FormatID   int       `json:"format_id,omitempty"`
	Container  string    `json:"container,omitempty"`
	MediaType  string    `json:"media_type,omitempty"`
	FileSize   int64     `json:"file_size,omitempty"`
	Transcoded bool      `json:"transcoded,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Counts are the row totals per table.
type Counts struct {
	Lookups   int `json:"lookups"`
	Downloads int `json:"downloads"`
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS lookups (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    video_id    TEXT NOT NULL,
    title       TEXT NOT NULL DEFAULT '',
    channel     TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS downloads (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    video_id    TEXT NOT NULL,
    title       TEXT NOT NULL DEFAULT '',
    channel     TEXT NOT NULL DEFAULT '',
    format_id   INTEGER NOT NULL DEFAULT 0,
    container   TEXT NOT NULL DEFAULT '',
    media_type  TEXT NOT NULL DEFAULT 'video',
    file_size   INTEGER NOT NULL DEFAULT 0,
    transcoded  INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_lookups_video_id ON lookups(video_id);
CREATE INDEX IF NOT EXISTS idx_lookups_created_at ON lookups(created_at);
CREATE INDEX IF NOT EXISTS idx_downloads_video_id ON downloads(video_id);
CREATE INDEX IF NOT EXISTS idx_downloads_created_at ON downloads(created_at);
`

// DB wraps an SQLite connection for the history tables.
type DB struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// Open opens or creates the SQLite database at the given path.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database at %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	if _, err := sqlDB.Exec(schemaSQL); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{db: sqlDB, now: time.Now}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// RecordLookup stores one successful info lookup.
func (d *DB) RecordLookup(ctx context.Context, videoID, title, channel string) error {
	if d == nil || d.db == nil {
		return ErrClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO lookups (video_id, title, channel, created_at) VALUES (?, ?, ?, ?)`,
		videoID, title, channel, d.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting lookup: %w", err)
	}
	return nil
}

// RecordDownload stores a finished download and returns its row id.
func (d *DB) RecordDownload(ctx context.Context, record DownloadRecord) (int64, error) {
	if d == nil || d.db == nil {
		return 0, ErrClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = d.now()
	}
	mediaType := record.MediaType
	if mediaType == "" {
		mediaType = MediaVideo
	}
	transcoded := 0
	if record.Transcoded {
		transcoded = 1
	}

	result, err := d.db.ExecContext(ctx, `
		INSERT INTO downloads (
			video_id, title, channel, format_id, container,
			media_type, file_size, transcoded, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.VideoID, record.Title, record.Channel, record.FormatID, record.Container,
		mediaType, record.FileSize, transcoded, createdAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting download: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting last insert id: %w", err)
	}
	return id, nil
}

// ListHistory returns lookups and downloads merged, newest first.
func (d *DB) ListHistory(ctx context.Context, limit, offset int) ([]HistoryEntry, error) {
	if d == nil || d.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT 'lookup' AS kind, id, video_id, title, channel,
			0, '', '', 0, 0, created_at
		FROM lookups
		UNION ALL
		SELECT 'download' AS kind, id, video_id, title, channel,
			format_id, container, media_type, file_size, transcoded, created_at
		FROM downloads
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	entries := []HistoryEntry{}
	for rows.Next() {
		var (
			e          HistoryEntry
			rowID      int64
			transcoded int
			createdAt  int64
		)
		if err := rows.Scan(
			&e.Kind, &rowID, &e.VideoID, &e.Title, &e.Channel,
			&e.FormatID, &e.Container, &e.MediaType, &e.FileSize, &transcoded, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		e.Transcoded = transcoded != 0
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of rows in each table.
func (d *DB) Count(ctx context.Context) (Counts, error) {
	if d == nil || d.db == nil {
		return Counts{}, ErrClosed
	}
	var c Counts
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM lookups").Scan(&c.Lookups); err != nil {
		return Counts{}, fmt.Errorf("counting lookups: %w", err)
	}
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM downloads").Scan(&c.Downloads); err != nil {
		return Counts{}, fmt.Errorf("counting downloads: %w", err)
	}
	return c, nil
}
