package sqlite

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

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/app"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/domain"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// defaultActor is recorded when an event carries no actor.
const defaultActor = "weightmap"

// Repository is the embedded SQLite implementation of app.Repository.
type Repository struct {
	db *sql.DB
}

// Open opens the requested operation.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// OpenInMemory opens in memory.
func OpenInMemory() (*Repository, error) {
	db, err := sql.Open(driverName, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// Each connection to :memory: is its own database; pin the pool to one.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the requested operation.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping reports whether the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate handles migrate.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			archived_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS work_items (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL DEFAULT 'activity',
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			weight REAL NOT NULL DEFAULT 1,
			progress REAL NOT NULL DEFAULT 0,
			override TEXT NOT NULL DEFAULT '',
			due_at TEXT,
			dependencies_json TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY(project_id) REFERENCES projects(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS change_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id TEXT NOT NULL,
			work_item_id TEXT NOT NULL DEFAULT '',
			operation TEXT NOT NULL,
			actor TEXT NOT NULL,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			FOREIGN KEY(project_id) REFERENCES projects(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_work_items_project_parent ON work_items(project_id, parent_id);`,
		`CREATE INDEX IF NOT EXISTS idx_work_items_project_created_at ON work_items(project_id, created_at ASC, id ASC);`,
		`CREATE INDEX IF NOT EXISTS idx_change_events_project_created_at ON change_events(project_id, created_at DESC, id DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	if _, err := r.db.ExecContext(ctx, `ALTER TABLE work_items ADD COLUMN override TEXT NOT NULL DEFAULT ''`); err != nil && !isDuplicateColumnErr(err) {
		return fmt.Errorf("migrate sqlite add work_items.override: %w", err)
	}
	return nil
}

// CreateProject creates project.
func (r *Repository) CreateProject(ctx context.Context, p domain.Project) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO projects(id, slug, name, description, created_at, updated_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Slug, p.Name, p.Description, ts(p.CreatedAt), ts(p.UpdatedAt), nullableTS(p.ArchivedAt))
	return err
}

// UpdateProject updates state for the requested operation.
func (r *Repository) UpdateProject(ctx context.Context, p domain.Project) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE projects
		SET slug = ?, name = ?, description = ?, updated_at = ?, archived_at = ?
		WHERE id = ?
	`, p.Slug, p.Name, p.Description, ts(p.UpdatedAt), nullableTS(p.ArchivedAt), p.ID)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

// GetProject returns project.
func (r *Repository) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, slug, name, description, created_at, updated_at, archived_at
		FROM projects
		WHERE id = ?
	`, id)
	return scanProject(row)
}

// ListProjects lists projects.
func (r *Repository) ListProjects(ctx context.Context, includeArchived bool) ([]domain.Project, error) {
	query := `
		SELECT id, slug, name, description, created_at, updated_at, archived_at
		FROM projects
	`
	if !includeArchived {
		query += ` WHERE archived_at IS NULL`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetWorkItem returns work item.
func (r *Repository) GetWorkItem(ctx context.Context, id string) (domain.WorkItem, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+workItemColumns+`
		FROM work_items
		WHERE id = ?
	`, id)
	return scanWorkItem(row)
}

// ListWorkItems lists every work item of a project in creation order.
func (r *Repository) ListWorkItems(ctx context.Context, projectID string) ([]domain.WorkItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+workItemColumns+`
		FROM work_items
		WHERE project_id = ?
		ORDER BY created_at ASC, id ASC
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.WorkItem{}
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ApplyWorkItemChanges writes one batch of upserts, deletes and events in a
// single transaction.
func (r *Repository) ApplyWorkItemChanges(ctx context.Context, changes app.WorkItemChanges) (err error) {
	if changes.Empty() {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, item := range changes.Upserts {
		if item.ProjectID != changes.ProjectID {
			return fmt.Errorf("upsert work item %q: project %q does not match batch project %q", item.ID, item.ProjectID, changes.ProjectID)
		}
		if err = upsertWorkItem(ctx, tx, item); err != nil {
			return err
		}
	}
	for _, id := range changes.Deletes {
		if _, err = tx.ExecContext(ctx, `DELETE FROM work_items WHERE id = ? AND project_id = ?`, id, changes.ProjectID); err != nil {
			return fmt.Errorf("delete work item %q: %w", id, err)
		}
	}
	for _, event := range changes.Events {
		if err = insertChangeEvent(ctx, tx, event); err != nil {
			return err
		}
	}

	err = tx.Commit()
	return err
}

// ListProjectChangeEvents lists recent project events for activity-log consumption.
func (r *Repository) ListProjectChangeEvents(ctx context.Context, projectID string, limit int) ([]domain.ChangeEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, project_id, work_item_id, operation, actor, metadata_json, created_at
		FROM change_events
		WHERE project_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ChangeEvent, 0)
	for rows.Next() {
		var (
			event       domain.ChangeEvent
			opRaw       string
			metadataRaw string
			createdRaw  string
		)
		if err := rows.Scan(&event.ID, &event.ProjectID, &event.WorkItemID, &opRaw, &event.Actor, &metadataRaw, &createdRaw); err != nil {
			return nil, err
		}
		event.Operation = domain.ChangeOperation(opRaw)
		event.OccurredAt = parseTS(createdRaw)
		if strings.TrimSpace(metadataRaw) == "" {
			metadataRaw = "{}"
		}
		if err := json.Unmarshal([]byte(metadataRaw), &event.Metadata); err != nil {
			return nil, fmt.Errorf("decode change_events.metadata_json: %w", err)
		}
		if event.Metadata == nil {
			event.Metadata = map[string]string{}
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

// workItemColumns lists work_items columns in scanWorkItem order.
const workItemColumns = `id, project_id, parent_id, kind, title, description, weight, progress, override, due_at, dependencies_json, created_at, updated_at`

// execerContext represents a write-only DB contract used by DB and Tx implementations.
type execerContext interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

// upsertWorkItem inserts or replaces one work item row.
func upsertWorkItem(ctx context.Context, execer execerContext, item domain.WorkItem) error {
	deps := item.Dependencies
	if deps == nil {
		deps = []string{}
	}
	depsJSON, err := json.Marshal(deps)
	if err != nil {
		return fmt.Errorf("encode work item dependencies: %w", err)
	}
	_, err = execer.ExecContext(ctx, `
		INSERT INTO work_items(`+workItemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			parent_id = excluded.parent_id,
			kind = excluded.kind,
			title = excluded.title,
			description = excluded.description,
			weight = excluded.weight,
			progress = excluded.progress,
			override = excluded.override,
			due_at = excluded.due_at,
			dependencies_json = excluded.dependencies_json,
			updated_at = excluded.updated_at
	`,
		item.ID,
		item.ProjectID,
		item.ParentID,
		string(item.Kind),
		item.Title,
		item.Description,
		item.Weight,
		item.Progress,
		string(item.Override),
		nullableTS(item.DueAt),
		string(depsJSON),
		ts(item.CreatedAt),
		ts(item.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert work item %q: %w", item.ID, err)
	}
	return nil
}

// insertChangeEvent inserts a change-event ledger record.
func insertChangeEvent(ctx context.Context, execer execerContext, event domain.ChangeEvent) error {
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode change event metadata: %w", err)
	}
	actor := strings.TrimSpace(event.Actor)
	if actor == "" {
		actor = defaultActor
	}
	_, err = execer.ExecContext(ctx, `
		INSERT INTO change_events(project_id, work_item_id, operation, actor, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		event.ProjectID,
		event.WorkItemID,
		string(event.Operation),
		actor,
		string(metadataJSON),
		ts(normalizeEventTS(event.OccurredAt)),
	)
	if err != nil {
		return fmt.Errorf("insert change event: %w", err)
	}
	return nil
}

// normalizeEventTS normalizes event timestamps.
func normalizeEventTS(in time.Time) time.Time {
	if in.IsZero() {
		return time.Now().UTC()
	}
	return in.UTC()
}

// scanner represents scanner data used by this package.
type scanner interface {
	Scan(dest ...any) error
}

// scanProject handles scan project.
func scanProject(s scanner) (domain.Project, error) {
	var (
		p          domain.Project
		createdRaw string
		updatedRaw string
		archived   sql.NullString
	)
	if err := s.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &createdRaw, &updatedRaw, &archived); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Project{}, app.ErrNotFound
		}
		return domain.Project{}, err
	}
	p.CreatedAt = parseTS(createdRaw)
	p.UpdatedAt = parseTS(updatedRaw)
	p.ArchivedAt = parseNullTS(archived)
	return p, nil
}

// scanWorkItem handles scan work item.
func scanWorkItem(s scanner) (domain.WorkItem, error) {
	var (
		w          domain.WorkItem
		kind       string
		override   string
		dueRaw     sql.NullString
		depsRaw    string
		createdRaw string
		updatedRaw string
	)
	if err := s.Scan(
		&w.ID,
		&w.ProjectID,
		&w.ParentID,
		&kind,
		&w.Title,
		&w.Description,
		&w.Weight,
		&w.Progress,
		&override,
		&dueRaw,
		&depsRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WorkItem{}, app.ErrNotFound
		}
		return domain.WorkItem{}, err
	}
	w.Kind = domain.WorkKind(kind)
	if strings.TrimSpace(kind) == "" {
		w.Kind = domain.WorkKindActivity
	}
	w.Override = domain.Override(override)
	w.DueAt = parseNullTS(dueRaw)
	w.CreatedAt = parseTS(createdRaw)
	w.UpdatedAt = parseTS(updatedRaw)
	if strings.TrimSpace(depsRaw) == "" {
		depsRaw = "[]"
	}
	if err := json.Unmarshal([]byte(depsRaw), &w.Dependencies); err != nil {
		return domain.WorkItem{}, fmt.Errorf("decode dependencies_json: %w", err)
	}
	if w.Dependencies == nil {
		w.Dependencies = []string{}
	}
	return w, nil
}

// translateNoRows handles translate no rows.
func translateNoRows(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrNotFound
	}
	return nil
}

// ts handles ts.
func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// nullableTS handles nullable ts.
func nullableTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTS parses input into a normalized form.
func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// parseNullTS parses input into a normalized form.
func parseNullTS(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	ts := parseTS(v.String)
	return &ts
}

// isDuplicateColumnErr reports whether the expected condition is satisfied.
func isDuplicateColumnErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}
