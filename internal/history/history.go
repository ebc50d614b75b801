// Package history persists answered questions in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrEmptyExchange is returned when recording an exchange without a question.
var ErrEmptyExchange = errors.New("exchange has no question")

// Exchange is one answered question.
type Exchange struct {
	ID            uuid.UUID `json:"id"`
	Question      string    `json:"question"`
	Answer        string    `json:"answer"`
	Style         string    `json:"style"`
	RetrievalPath string    `json:"retrieval_path"`
	Passages      []string  `json:"passages"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store records exchanges in SQLite. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path and applies pending migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(migrationsFS, "migrations/"+name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
	}
	return nil
}

// Record stores e, assigning an ID and timestamp when they are unset.
func (s *Store) Record(ctx context.Context, e *Exchange) error {
	if strings.TrimSpace(e.Question) == "" {
		return ErrEmptyExchange
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Passages == nil {
		e.Passages = []string{}
	}

	passages, err := json.Marshal(e.Passages)
	if err != nil {
		return fmt.Errorf("marshalling passages: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO exchanges (id, question, answer, style, retrieval_path, passages, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID.String(), e.Question, e.Answer, e.Style, e.RetrievalPath, string(passages), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving exchange: %w", err)
	}
	return nil
}

// Recent returns up to limit exchanges, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Exchange, error) {
	if limit <= 0 {
		return []Exchange{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question, answer, style, retrieval_path, passages, created_at
		FROM exchanges
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying exchanges: %w", err)
	}
	defer rows.Close()

	out := []Exchange{}
	for rows.Next() {
		var (
			e        Exchange
			id       string
			passages string
		)
		if err := rows.Scan(&id, &e.Question, &e.Answer, &e.Style, &e.RetrievalPath, &passages, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning exchange: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parsing exchange id %q: %w", id, err)
		}
		if err := json.Unmarshal([]byte(passages), &e.Passages); err != nil {
			return nil, fmt.Errorf("unmarshalling passages: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Questions returns the questions of the last limit exchanges, oldest first,
// ready to be combined with a follow-up.
func (s *Store) Questions(ctx context.Context, limit int) ([]string, error) {
	recent, err := s.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(recent))
	for i, e := range recent {
		out[len(recent)-1-i] = e.Question
	}
	return out, nil
}
