// Package history records the per-tag digests of extraction runs in a
// SQLite database so that runs can be listed and compared.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"kin/internal/extract"
	"kin/internal/logging"
)

// ErrRunNotFound is returned when no run matches an id or prefix.
var ErrRunNotFound = errors.New("run not found")

// ErrAmbiguousRun is returned when an id prefix matches several runs.
var ErrAmbiguousRun = errors.New("ambiguous run id")

// Run is one recorded extraction.
type Run struct {
	ID        string
	CreatedAt time.Time
	Source    string
	Lines     int
	Sections  int
	Tags      int
}

// TagRecord is one tag captured by a run. Content is the full,
// untruncated aggregate.
type TagRecord struct {
	Key     string
	Tag     string
	Digest  uint16
	Content []string
}

// RunDetail is a run with its tags in output order.
type RunDetail struct {
	Run
	Tags []TagRecord
}

// Store manages the history database.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
	now    func() time.Time
}

// Open creates or opens the history database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: path, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logging.HistoryDebug("opened history store %s", path)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL,
		source TEXT NOT NULL,
		lines INTEGER NOT NULL,
		sections INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tags (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		key TEXT NOT NULL,
		tag TEXT NOT NULL,
		digest INTEGER NOT NULL,
		content_json TEXT NOT NULL,
		PRIMARY KEY (run_id, position)
	);
	CREATE INDEX IF NOT EXISTS idx_tags_key ON tags(key);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record stores one extraction report and returns the new run.
func (s *Store) Record(ctx context.Context, source string, rep *extract.Report) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	full := make(map[string][]string, len(rep.Aggregates))
	for _, agg := range rep.Aggregates {
		full[agg.Tag] = agg.Content
	}

	run := &Run{
		ID:        uuid.NewString(),
		CreatedAt: s.now().UTC(),
		Source:    source,
		Lines:     rep.Lines,
		Sections:  rep.Sections,
		Tags:      len(rep.Entries),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, source, lines, sections) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.Format(time.RFC3339Nano), run.Source, run.Lines, run.Sections,
	); err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tags (run_id, position, key, tag, digest, content_json) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare tag insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range rep.Entries {
		content := full[e.Record.Tag]
		if content == nil {
			content = []string{}
		}
		contentJSON, err := json.Marshal(content)
		if err != nil {
			return nil, fmt.Errorf("failed to encode content of %q: %w", e.Record.Tag, err)
		}
		if _, err := stmt.ExecContext(ctx, run.ID, i, e.Key, e.Record.Tag, int(e.Record.Digest), string(contentJSON)); err != nil {
			return nil, fmt.Errorf("failed to insert tag %q: %w", e.Record.Tag, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit run: %w", err)
	}
	logging.History("recorded run %s: %d tags from %s", run.ID, run.Tags, source)
	return run, nil
}

// List returns the most recent runs, newest first. limit <= 0 lists all.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	query := `
	SELECT r.id, r.created_at, r.source, r.lines, r.sections, COUNT(t.position)
	FROM runs r LEFT JOIN tags t ON t.run_id = r.id
	GROUP BY r.seq
	ORDER BY r.seq DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r       Run
		created string
	)
	if err := sc.Scan(&r.ID, &created, &r.Source, &r.Lines, &r.Sections, &r.Tags); err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("run %s: bad timestamp %q: %w", r.ID, created, err)
	}
	r.CreatedAt = t
	return &r, nil
}

// Resolve expands a unique id prefix to a full run id. "latest" names
// the newest run and "previous" the one before it.
func (s *Store) Resolve(ctx context.Context, ref string) (string, error) {
	switch ref {
	case "latest", "previous":
		offset := 0
		if ref == "previous" {
			offset = 1
		}
		var id string
		err := s.db.QueryRowContext(ctx, `SELECT id FROM runs ORDER BY seq DESC LIMIT 1 OFFSET ?`, offset).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrRunNotFound, ref)
		}
		return id, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs WHERE id LIKE ? || '%' LIMIT 2`, ref)
	if err != nil {
		return "", fmt.Errorf("failed to resolve run %q: %w", ref, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, ref)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousRun, ref)
	}
}

// Get loads a run and its tags. ref is anything Resolve accepts.
func (s *Store) Get(ctx context.Context, ref string) (*RunDetail, error) {
	id, err := s.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
	SELECT r.id, r.created_at, r.source, r.lines, r.sections,
		(SELECT COUNT(*) FROM tags t WHERE t.run_id = r.id)
	FROM runs r WHERE r.id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, tag, digest, content_json FROM tags WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load tags: %w", err)
	}
	defer rows.Close()

	detail := &RunDetail{Run: *run}
	for rows.Next() {
		var (
			tr          TagRecord
			digest      int
			contentJSON string
		)
		if err := rows.Scan(&tr.Key, &tr.Tag, &digest, &contentJSON); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		if err := json.Unmarshal([]byte(contentJSON), &tr.Content); err != nil {
			return nil, fmt.Errorf("tag %q: bad content: %w", tr.Tag, err)
		}
		tr.Digest = uint16(digest)
		detail.Tags = append(detail.Tags, tr)
	}
	return detail, rows.Err()
}

// Delete removes a run and its tags.
func (s *Store) Delete(ctx context.Context, ref string) error {
	id, err := s.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	logging.History("deleted run %s", id)
	return nil
}
