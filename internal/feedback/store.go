// Package feedback stores user feedback about the instruction catalog in
// a local SQLite database.
package feedback

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

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

var ErrNotFound = errors.New("feedback not found")

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

var (
	Types      = []string{"bug", "feature-request", "security", "documentation", "other"}
	Severities = []string{"low", "medium", "high", "critical"}
	Statuses   = []string{"new", "acknowledged", "in-progress", "resolved", "closed"}
)

// Entry is a feedback submission.
type Entry struct {
	ID          string            `json:"id"`
	Type        string            `json:"type" validate:"required,oneof=bug feature-request security documentation other"`
	Severity    string            `json:"severity" validate:"required,oneof=low medium high critical"`
	Status      string            `json:"status"`
	Title       string            `json:"title" validate:"required,max=200"`
	Description string            `json:"description" validate:"required,max=10000"`
	Tags        []string          `json:"tags,omitempty" validate:"max=20,dive,max=50"`
	Context     map[string]string `json:"context,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Type     string
	Status   string
	Severity string
	Limit    int
}

// Stats summarises the store.
type Stats struct {
	Total      int            `json:"total"`
	ByType     map[string]int `json:"byType"`
	ByStatus   map[string]int `json:"byStatus"`
	BySeverity map[string]int `json:"bySeverity"`
}

type Store struct {
	db       *sql.DB
	validate *validator.Validate
	now      func() time.Time
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("feedback: create data dir: %w", err)
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("feedback: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("feedback: pragma %q: %w", p, err)
		}
	}

	s := &Store{
		db:       db,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      func() time.Time { return time.Now().UTC() },
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("feedback: migration: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS feedback (
			id          TEXT PRIMARY KEY,
			type        TEXT NOT NULL,
			severity    TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'new',
			title       TEXT NOT NULL,
			description TEXT NOT NULL,
			tags        TEXT NOT NULL DEFAULT '[]',
			context     TEXT NOT NULL DEFAULT '{}',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_feedback_status  ON feedback(status);
		CREATE INDEX IF NOT EXISTS idx_feedback_type    ON feedback(type);
		CREATE INDEX IF NOT EXISTS idx_feedback_created ON feedback(created_at DESC);
	`)
	return err
}

// Submit validates and stores e, returning the stored copy with its new id.
func (s *Store) Submit(ctx context.Context, e Entry) (*Entry, error) {
	e.Type = strings.ToLower(strings.TrimSpace(e.Type))
	e.Severity = strings.ToLower(strings.TrimSpace(e.Severity))
	e.Title = strings.TrimSpace(e.Title)
	e.Description = strings.TrimSpace(e.Description)
	if e.Severity == "" {
		e.Severity = "medium"
	}
	if err := s.validate.Struct(e); err != nil {
		return nil, fmt.Errorf("invalid feedback: %w", err)
	}

	now := s.now()
	e.ID = uuid.NewString()
	e.Status = "new"
	e.CreatedAt = now
	e.UpdatedAt = now

	tags, err := json.Marshal(nonNil(e.Tags))
	if err != nil {
		return nil, err
	}
	ctxJSON, err := json.Marshal(e.Context)
	if err != nil {
		return nil, err
	}
	if e.Context == nil {
		ctxJSON = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO feedback (id, type, severity, status, title, description, tags, context, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Type, e.Severity, e.Status, e.Title, e.Description,
		string(tags), string(ctxJSON), formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("feedback: insert: %w", err)
	}
	return &e, nil
}

const selectColumns = `SELECT id, type, severity, status, title, description, tags, context, created_at, updated_at FROM feedback`

func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, err
}

// List returns entries newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, f.Severity)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)

	q := selectColumns
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("feedback: list: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// UpdateStatus moves an entry to status.
func (s *Store) UpdateStatus(ctx context.Context, id, status string) (*Entry, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if err := s.validate.Var(status, "required,oneof=new acknowledged in-progress resolved closed"); err != nil {
		return nil, fmt.Errorf("invalid status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE feedback SET status = ?, updated_at = ? WHERE id = ?`,
		status, formatTime(s.now()), id)
	if err != nil {
		return nil, fmt.Errorf("feedback: update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.Get(ctx, id)
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		ByType:     map[string]int{},
		ByStatus:   map[string]int{},
		BySeverity: map[string]int{},
	}
	rows, err := s.db.QueryContext(ctx, `SELECT type, status, severity, COUNT(*) FROM feedback GROUP BY type, status, severity`)
	if err != nil {
		return nil, fmt.Errorf("feedback: stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var typ, status, sev string
		var n int
		if err := rows.Scan(&typ, &status, &sev, &n); err != nil {
			return nil, err
		}
		st.Total += n
		st.ByType[typ] += n
		st.ByStatus[status] += n
		st.BySeverity[sev] += n
	}
	return st, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*Entry, error) {
	var e Entry
	var tags, ctxJSON, created, updated string
	if err := sc.Scan(&e.ID, &e.Type, &e.Severity, &e.Status, &e.Title, &e.Description,
		&tags, &ctxJSON, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
		return nil, fmt.Errorf("feedback %s: tags: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(ctxJSON), &e.Context); err != nil {
		return nil, fmt.Errorf("feedback %s: context: %w", e.ID, err)
	}
	if len(e.Context) == 0 {
		e.Context = nil
	}
	if len(e.Tags) == 0 {
		e.Tags = nil
	}
	e.CreatedAt, _ = time.Parse(timeLayout, created)
	e.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return &e, nil
}

// timeLayout has fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
