package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go driver
)

// TargetKind says where a recording ended up.
type TargetKind string

const (
	TargetDirect TargetKind = "direct"
	TargetScoped TargetKind = "scoped"
)

// Outcome of a finalization run.
type Outcome string

const (
	OutcomeSaved           Outcome = "saved"
	OutcomePromoted        Outcome = "promoted"
	OutcomePromotionFailed Outcome = "promotion_failed"
	OutcomeDiscarded       Outcome = "discarded"
)

// Record is the explicit result of one finalization.
type Record struct {
	SessionID   string        `json:"session_id"`
	Kind        TargetKind    `json:"target_kind"`
	Location    string        `json:"location"`
	WorkingPath string        `json:"working_path"`
	Success     bool          `json:"success"`
	Outcome     Outcome       `json:"outcome"`
	Error       string        `json:"error,omitempty"`
	SizeBytes   int64         `json:"size_bytes"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	FinishedAt  time.Time     `json:"finished_at"`
}

// ErrNotFound is returned by Latest on an empty catalog.
var ErrNotFound = errors.New("catalog: no recordings")

// Store persists finalization records in SQLite.
type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		dbPath, (5 * time.Second).Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS recordings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		target_kind TEXT NOT NULL CHECK(target_kind IN ('direct', 'scoped')),
		location TEXT NOT NULL,
		working_path TEXT NOT NULL,
		success INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		size_bytes INTEGER NOT NULL DEFAULT 0,
		elapsed_ns INTEGER NOT NULL DEFAULT 0,
		finished_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_recordings_finished ON recordings(finished_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Insert(ctx context.Context, rec Record) error {
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recordings (session_id, target_kind, location, working_path, success, outcome, error, size_bytes, elapsed_ns, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, string(rec.Kind), rec.Location, rec.WorkingPath, boolToInt(rec.Success),
		string(rec.Outcome), rec.Error, rec.SizeBytes, int64(rec.Elapsed), rec.FinishedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert recording %s: %w", rec.SessionID, err)
	}
	return nil
}

// List returns the newest records first. limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	q := `SELECT session_id, target_kind, location, working_path, success, outcome, error, size_bytes, elapsed_ns, finished_at
		FROM recordings ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Latest(ctx context.Context) (Record, error) {
	recs, err := s.List(ctx, 1)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, ErrNotFound
	}
	return recs[0], nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(r scanner) (Record, error) {
	var (
		rec      Record
		kind     string
		outcome  string
		success  int
		elapsed  int64
		finished string
	)
	if err := r.Scan(&rec.SessionID, &kind, &rec.Location, &rec.WorkingPath, &success, &outcome,
		&rec.Error, &rec.SizeBytes, &elapsed, &finished); err != nil {
		return Record{}, fmt.Errorf("scan recording: %w", err)
	}
	rec.Kind = TargetKind(kind)
	rec.Outcome = Outcome(outcome)
	rec.Success = success != 0
	rec.Elapsed = time.Duration(elapsed)
	t, err := time.Parse(time.RFC3339Nano, finished)
	if err != nil {
		return Record{}, fmt.Errorf("parse finished_at %q: %w", finished, err)
	}
	rec.FinishedAt = t
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
