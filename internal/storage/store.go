// Package storage persists housekeeping records in SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNoRecords is returned when an origin has nothing stored.
var ErrNoRecords = errors.New("no housekeeping records")

// Record is one housekeeping sample.
type Record struct {
	Origin    string
	Timestamp time.Time
	Data      map[string]interface{}
}

// Store writes housekeeping samples keyed by origin (the storage mnemonic).
type Store struct {
	sqlDB *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS housekeeping (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	origin    TEXT    NOT NULL,
	ts_millis INTEGER NOT NULL,
	data      TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS housekeeping_origin_ts ON housekeeping(origin, ts_millis);
`

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Save stores one sample. A zero timestamp is replaced by the current time.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	origin := strings.TrimSpace(rec.Origin)
	if origin == "" {
		return fmt.Errorf("origin is required")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	payload, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("encode housekeeping: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO housekeeping (origin, ts_millis, data) VALUES (?, ?, ?)`,
		origin, toMillis(rec.Timestamp), string(payload))
	if err != nil {
		return fmt.Errorf("insert housekeeping: %w", err)
	}
	return nil
}

// Latest returns the newest sample of origin.
func (s *Store) Latest(ctx context.Context, origin string) (Record, error) {
	recs, err := s.query(ctx,
		`SELECT origin, ts_millis, data FROM housekeeping WHERE origin = ? ORDER BY ts_millis DESC, id DESC LIMIT 1`,
		origin)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, fmt.Errorf("%w for %s", ErrNoRecords, origin)
	}
	return recs[0], nil
}

// Since returns the samples of origin taken at or after t, oldest first.
func (s *Store) Since(ctx context.Context, origin string, t time.Time) ([]Record, error) {
	return s.query(ctx,
		`SELECT origin, ts_millis, data FROM housekeeping WHERE origin = ? AND ts_millis >= ? ORDER BY ts_millis, id`,
		origin, toMillis(t))
}

func (s *Store) query(ctx context.Context, q string, args ...interface{}) ([]Record, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.sqlDB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query housekeeping: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec    Record
			millis int64
			data   string
		)
		if err := rows.Scan(&rec.Origin, &millis, &data); err != nil {
			return nil, fmt.Errorf("scan housekeeping: %w", err)
		}
		rec.Timestamp = fromMillis(millis)
		if err := json.Unmarshal([]byte(data), &rec.Data); err != nil {
			return nil, fmt.Errorf("decode housekeeping: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
