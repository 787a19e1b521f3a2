// Package ledger records rubric promotions in SQLite: every promotion or
// rollback becomes an immutable version row, and an active pointer per
// target file names the version currently in force.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS config_versions (
	version_id     TEXT PRIMARY KEY,
	parent_id      TEXT,
	profile        TEXT NOT NULL,
	action         TEXT NOT NULL,
	rubric_version TEXT NOT NULL,
	checksum       TEXT NOT NULL,
	target         TEXT NOT NULL,
	backup_key     TEXT,
	created_at     TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES config_versions(version_id)
);

CREATE INDEX IF NOT EXISTS config_versions_profile ON config_versions (profile, created_at);

CREATE TABLE IF NOT EXISTS active_version (
	target     TEXT PRIMARY KEY,
	version_id TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES config_versions(version_id)
);
`

// Ledger actions.
const (
	ActionPromote  = "promote"
	ActionRollback = "rollback"
)

// ErrNoActive is returned when no version has been recorded for a target.
var ErrNoActive = errors.New("no active version")

// Entry is one recorded version.
type Entry struct {
	ID            string    `json:"version_id"`
	ParentID      string    `json:"parent_id,omitempty"`
	Profile       string    `json:"profile"`
	Action        string    `json:"action"`
	RubricVersion string    `json:"rubric_version"`
	Checksum      string    `json:"checksum"`
	Target        string    `json:"target"`
	BackupKey     string    `json:"backup_key,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store manages the ledger database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) a ledger database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts e as a new version whose parent is the target's current
// active version, and moves the active pointer to it. ID, ParentID and
// CreatedAt are assigned by the ledger.
func (s *Store) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.Target == "" {
		return Entry{}, errors.New("ledger entry requires a target")
	}
	e.ID = uuid.New().String()
	e.CreatedAt = s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var parent sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT version_id FROM active_version WHERE target = ?`, e.Target).Scan(&parent)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("get active: %w", err)
	}
	e.ParentID = parent.String

	_, err = tx.ExecContext(ctx,
		`INSERT INTO config_versions (version_id, parent_id, profile, action, rubric_version, checksum, target, backup_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullString(e.ParentID), e.Profile, e.Action, e.RubricVersion, e.Checksum, e.Target,
		nullString(e.BackupKey), e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("insert version: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO active_version (target, version_id) VALUES (?, ?)
		 ON CONFLICT(target) DO UPDATE SET version_id = excluded.version_id`,
		e.Target, e.ID,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("set active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("commit: %w", err)
	}
	return e, nil
}

// Active returns the version in force for target.
func (s *Store) Active(ctx context.Context, target string) (Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT v.version_id, v.parent_id, v.profile, v.action, v.rubric_version, v.checksum, v.target, v.backup_key, v.created_at
		 FROM active_version a JOIN config_versions v ON v.version_id = a.version_id
		 WHERE a.target = ?`, target)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%s: %w", target, ErrNoActive)
	}
	return e, err
}

// History lists a profile's versions, newest first. A limit of zero or
// less returns all of them.
func (s *Store) History(ctx context.Context, profile string, limit int) ([]Entry, error) {
	query := `SELECT version_id, parent_id, profile, action, rubric_version, checksum, target, backup_key, created_at
		FROM config_versions WHERE profile = ? ORDER BY created_at DESC, rowid DESC`
	args := []any{profile}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (Entry, error) {
	var e Entry
	var parent, backup sql.NullString
	var created string
	if err := sc.Scan(&e.ID, &parent, &e.Profile, &e.Action, &e.RubricVersion, &e.Checksum, &e.Target, &backup, &created); err != nil {
		return Entry{}, err
	}
	e.ParentID = parent.String
	e.BackupKey = backup.String
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return e, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
