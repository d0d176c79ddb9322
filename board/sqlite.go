package board

import (
	"bytes"
	"database/sql"
	"fmt"
	"image"
	"image/png"
	"log"
	"sort"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// SQLiteBoard persists scalars, PNG-encoded images and text records in a
// SQLite database, one file per run. Closing the board writes min/mean/max/
// stddev summaries for every scalar tag.
type SQLiteBoard struct {
	db *sql.DB

	mu      sync.Mutex
	history map[string][]float64
}

// OpenSQLite opens (or creates) the board database at path.
func OpenSQLite(path string) (*SQLiteBoard, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("board: failed to open %s: %w", path, err)
	}
	schema := []string{
		`CREATE TABLE IF NOT EXISTS scalars (tag TEXT, step INTEGER, value REAL)`,
		`CREATE TABLE IF NOT EXISTS images (tag TEXT, step INTEGER, png BLOB)`,
		`CREATE TABLE IF NOT EXISTS texts (tag TEXT, step INTEGER, body TEXT)`,
		`CREATE TABLE IF NOT EXISTS summaries (tag TEXT PRIMARY KEY, count INTEGER, min REAL, max REAL, mean REAL, stddev REAL)`,
		`CREATE INDEX IF NOT EXISTS idx_scalars_tag ON scalars (tag, step)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("board: failed to create schema: %w", err)
		}
	}
	return &SQLiteBoard{
		db:      db,
		history: make(map[string][]float64),
	}, nil
}

// AddScalar records a named scalar at the given global step.
func (b *SQLiteBoard) AddScalar(tag string, value float64, step int) {
	if _, err := b.db.Exec(`INSERT INTO scalars (tag, step, value) VALUES (?, ?, ?)`, tag, step, value); err != nil {
		log.Printf("board: failed to record scalar %s: %v", tag, err)
		return
	}
	b.mu.Lock()
	b.history[tag] = append(b.history[tag], value)
	b.mu.Unlock()
}

// AddImage records a visualization image as a PNG blob.
func (b *SQLiteBoard) AddImage(tag string, img image.Image, step int) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		log.Printf("board: failed to encode image %s: %v", tag, err)
		return
	}
	if _, err := b.db.Exec(`INSERT INTO images (tag, step, png) VALUES (?, ?, ?)`, tag, step, buf.Bytes()); err != nil {
		log.Printf("board: failed to record image %s: %v", tag, err)
	}
}

// AddText records free-form text.
func (b *SQLiteBoard) AddText(tag, text string, step int) {
	if _, err := b.db.Exec(`INSERT INTO texts (tag, step, body) VALUES (?, ?, ?)`, tag, step, text); err != nil {
		log.Printf("board: failed to record text %s: %v", tag, err)
	}
}

// ScalarSeries returns every recorded value for a tag in insertion order.
func (b *SQLiteBoard) ScalarSeries(tag string) []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]float64, len(b.history[tag]))
	copy(out, b.history[tag])
	return out
}

// Close writes per-tag run summaries and closes the database.
func (b *SQLiteBoard) Close() error {
	b.mu.Lock()
	tags := make([]string, 0, len(b.history))
	for tag := range b.history {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	for _, tag := range tags {
		series := b.history[tag]
		if len(series) == 0 {
			continue
		}
		stddev := 0.0
		if len(series) > 1 {
			stddev = stat.StdDev(series, nil)
		}
		_, err := b.db.Exec(
			`INSERT OR REPLACE INTO summaries (tag, count, min, max, mean, stddev) VALUES (?, ?, ?, ?, ?, ?)`,
			tag, len(series), floats.Min(series), floats.Max(series), stat.Mean(series, nil), stddev,
		)
		if err != nil {
			b.mu.Unlock()
			b.db.Close()
			return fmt.Errorf("board: failed to write summary for %s: %w", tag, err)
		}
	}
	b.mu.Unlock()
	return b.db.Close()
}
