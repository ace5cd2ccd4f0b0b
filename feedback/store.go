package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/pinpoint/annotation"
)

// ErrNotFound is returned when a project or annotation does not exist.
var ErrNotFound = errors.New("feedback: not found")

// Project is a site that accepts annotations.
type Project struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	// URL is the site's origin; browser submissions must come from its host.
	URL string `json:"url" yaml:"url"`
	// APIKey guards status changes and the review page. Empty disables both.
	APIKey    string    `json:"-" yaml:"api_key"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

const schema = `
CREATE TABLE IF NOT EXISTS projects (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL DEFAULT '',
    url        TEXT NOT NULL DEFAULT '',
    api_key    TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS comments (
    id         TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    url_path   TEXT NOT NULL,
    selector   TEXT,
    content    TEXT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'resolved')),
    meta       TEXT NOT NULL DEFAULT '{}',
    screenshot TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_comments_project ON comments(project_id, status, created_at);
`

// Store persists projects and annotations in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore applies the schema and returns a Store.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("feedback: DB is required")
	}
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("feedback schema: %w", err)
		}
	}
	return &Store{db: db, now: time.Now}, nil
}

// UpsertProjects inserts or updates projects in one transaction. The
// creation time of existing projects is kept.
func (s *Store) UpsertProjects(ctx context.Context, projects ...Project) error {
	now := s.now().UnixMilli()
	return runTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, p := range projects {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO projects (id, name, url, api_key, created_at) VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT(id) DO UPDATE SET name = excluded.name, url = excluded.url, api_key = excluded.api_key`,
				p.ID, p.Name, p.URL, p.APIKey, now)
			if err != nil {
				return fmt.Errorf("feedback: upsert project %s: %w", p.ID, err)
			}
		}
		return nil
	})
}

// Project returns a project by id.
func (s *Store) Project(ctx context.Context, id string) (Project, error) {
	var p Project
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, url, api_key, created_at FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.URL, &p.APIKey, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, fmt.Errorf("feedback: project: %w", err)
	}
	p.CreatedAt = time.UnixMilli(created).UTC()
	return p, nil
}

// Insert stores rec, assigning its ID (UUIDv7), status and creation time
// when unset.
func (s *Store) Insert(ctx context.Context, rec *annotation.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.Must(uuid.NewV7()).String()
	}
	if rec.Status == "" {
		rec.Status = annotation.StatusOpen
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	meta, err := json.Marshal(rec.Meta)
	if err != nil {
		return fmt.Errorf("feedback: marshal meta: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO comments (id, project_id, url_path, selector, content, status, meta, screenshot, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ProjectID, rec.URLPath, nullable(rec.Selector), rec.Content,
		string(rec.Status), string(meta), nullable(rec.Screenshot), rec.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("feedback: insert: %w", err)
	}
	return nil
}

// ListOptions selects what List returns.
type ListOptions struct {
	OpenOnly       bool
	WithScreenshot bool
}

// List returns the annotations of a project, oldest first.
func (s *Store) List(ctx context.Context, projectID string, opt ListOptions) ([]annotation.Record, error) {
	cols := "id, project_id, url_path, selector, content, status, meta, created_at, NULL"
	if opt.WithScreenshot {
		cols = "id, project_id, url_path, selector, content, status, meta, created_at, screenshot"
	}
	q := `SELECT ` + cols + ` FROM comments WHERE project_id = ?`
	if opt.OpenOnly {
		q += ` AND status = 'open'`
	}
	q += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, projectID)
	if err != nil {
		return nil, fmt.Errorf("feedback: list: %w", err)
	}
	defer rows.Close()

	recs := []annotation.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Get returns one annotation with its screenshot.
func (s *Store) Get(ctx context.Context, id string) (annotation.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, url_path, selector, content, status, meta, created_at, screenshot
		 FROM comments WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return annotation.Record{}, ErrNotFound
	}
	return rec, err
}

// SetStatus updates an annotation's status. Setting the current status
// again succeeds.
func (s *Store) SetStatus(ctx context.Context, id string, status annotation.Status) error {
	res, err := s.db.ExecContext(ctx, `UPDATE comments SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("feedback: set status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (annotation.Record, error) {
	var (
		rec        annotation.Record
		selector   sql.NullString
		screenshot sql.NullString
		status     string
		meta       string
		created    int64
	)
	err := sc.Scan(&rec.ID, &rec.ProjectID, &rec.URLPath, &selector, &rec.Content,
		&status, &meta, &created, &screenshot)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("feedback: scan: %w", err)
	}
	rec.Selector = selector.String
	rec.Screenshot = screenshot.String
	rec.Status = annotation.Status(status)
	rec.CreatedAt = time.UnixMilli(created).UTC()
	if err := json.Unmarshal([]byte(meta), &rec.Meta); err != nil {
		return rec, fmt.Errorf("feedback: decode meta of %s: %w", rec.ID, err)
	}
	return rec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
