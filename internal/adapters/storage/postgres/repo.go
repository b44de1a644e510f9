// Package postgres stores projects and work items in PostgreSQL through the
// pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/app"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/domain"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// driverName is the database/sql name registered by pgx/v5/stdlib.
const driverName = "pgx"

// defaultActor is recorded when an event carries no actor.
const defaultActor = "weightmap"

// Repository is the PostgreSQL implementation of app.Repository.
type Repository struct {
	db *sql.DB
}

// Open connects to dsn, verifies the connection and applies the schema.
func Open(ctx context.Context, dsn string) (*Repository, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	repo := &Repository{db: db}
	if err := repo.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the underlying pool.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping reports whether the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			archived_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS work_items (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			parent_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL DEFAULT 'activity',
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			weight DOUBLE PRECISION NOT NULL DEFAULT 1,
			progress DOUBLE PRECISION NOT NULL DEFAULT 0,
			override TEXT NOT NULL DEFAULT '',
			due_at TIMESTAMPTZ,
			dependencies_json JSONB NOT NULL DEFAULT '[]'::jsonb,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS change_events (
			id BIGSERIAL PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			work_item_id TEXT NOT NULL DEFAULT '',
			operation TEXT NOT NULL,
			actor TEXT NOT NULL,
			metadata_json JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`ALTER TABLE work_items ADD COLUMN IF NOT EXISTS override TEXT NOT NULL DEFAULT ''`,
		`CREATE INDEX IF NOT EXISTS idx_work_items_project_parent ON work_items(project_id, parent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_work_items_project_created_at ON work_items(project_id, created_at, id)`,
		`CREATE INDEX IF NOT EXISTS idx_change_events_project_created_at ON change_events(project_id, created_at DESC, id DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	}
	return nil
}

// CreateProject creates project.
func (r *Repository) CreateProject(ctx context.Context, p domain.Project) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO projects(id, slug, name, description, created_at, updated_at, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.Slug, p.Name, p.Description, p.CreatedAt.UTC(), p.UpdatedAt.UTC(), nullableTime(p.ArchivedAt))
	return err
}

// UpdateProject updates state for the requested operation.
func (r *Repository) UpdateProject(ctx context.Context, p domain.Project) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE projects
		SET slug = $1, name = $2, description = $3, updated_at = $4, archived_at = $5
		WHERE id = $6
	`, p.Slug, p.Name, p.Description, p.UpdatedAt.UTC(), nullableTime(p.ArchivedAt), p.ID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrNotFound
	}
	return nil
}

// GetProject returns project.
func (r *Repository) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, slug, name, description, created_at, updated_at, archived_at
		FROM projects
		WHERE id = $1
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
	row := r.db.QueryRowContext(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE id = $1`, id)
	return scanWorkItem(row)
}

// ListWorkItems lists every work item of a project in creation order.
func (r *Repository) ListWorkItems(ctx context.Context, projectID string) ([]domain.WorkItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+workItemColumns+`
		FROM work_items
		WHERE project_id = $1
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

// ApplyWorkItemChanges writes one batch in a single transaction.
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
		deps := item.Dependencies
		if deps == nil {
			deps = []string{}
		}
		depsJSON, encErr := json.Marshal(deps)
		if encErr != nil {
			err = fmt.Errorf("encode work item dependencies: %w", encErr)
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO work_items(`+workItemColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12, $13)
			ON CONFLICT (id) DO UPDATE SET
				parent_id = EXCLUDED.parent_id,
				kind = EXCLUDED.kind,
				title = EXCLUDED.title,
				description = EXCLUDED.description,
				weight = EXCLUDED.weight,
				progress = EXCLUDED.progress,
				override = EXCLUDED.override,
				due_at = EXCLUDED.due_at,
				dependencies_json = EXCLUDED.dependencies_json,
				updated_at = EXCLUDED.updated_at
		`,
			item.ID, item.ProjectID, item.ParentID, string(item.Kind), item.Title, item.Description,
			item.Weight, item.Progress, string(item.Override), nullableTime(item.DueAt), string(depsJSON),
			item.CreatedAt.UTC(), item.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("upsert work item %q: %w", item.ID, err)
		}
	}
	for _, id := range changes.Deletes {
		if _, err = tx.ExecContext(ctx, `DELETE FROM work_items WHERE id = $1 AND project_id = $2`, id, changes.ProjectID); err != nil {
			return fmt.Errorf("delete work item %q: %w", id, err)
		}
	}
	for _, event := range changes.Events {
		metadata := event.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		metadataJSON, encErr := json.Marshal(metadata)
		if encErr != nil {
			err = fmt.Errorf("encode change event metadata: %w", encErr)
			return err
		}
		actor := strings.TrimSpace(event.Actor)
		if actor == "" {
			actor = defaultActor
		}
		occurred := event.OccurredAt.UTC()
		if event.OccurredAt.IsZero() {
			occurred = time.Now().UTC()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO change_events(project_id, work_item_id, operation, actor, metadata_json, created_at)
			VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		`, event.ProjectID, event.WorkItemID, string(event.Operation), actor, string(metadataJSON), occurred)
		if err != nil {
			return fmt.Errorf("insert change event: %w", err)
		}
	}

	err = tx.Commit()
	return err
}

// ListProjectChangeEvents lists recent project events, newest first.
func (r *Repository) ListProjectChangeEvents(ctx context.Context, projectID string, limit int) ([]domain.ChangeEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, project_id, work_item_id, operation, actor, metadata_json::text, created_at
		FROM change_events
		WHERE project_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
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
		)
		if err := rows.Scan(&event.ID, &event.ProjectID, &event.WorkItemID, &opRaw, &event.Actor, &metadataRaw, &event.OccurredAt); err != nil {
			return nil, err
		}
		event.Operation = domain.ChangeOperation(opRaw)
		event.OccurredAt = event.OccurredAt.UTC()
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

const workItemColumns = `id, project_id, parent_id, kind, title, description, weight, progress, override, due_at, dependencies_json, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(s scanner) (domain.Project, error) {
	var (
		p        domain.Project
		archived sql.NullTime
	)
	if err := s.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt, &archived); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Project{}, app.ErrNotFound
		}
		return domain.Project{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	p.ArchivedAt = fromNullTime(archived)
	return p, nil
}

func scanWorkItem(s scanner) (domain.WorkItem, error) {
	var (
		w        domain.WorkItem
		kind     string
		override string
		due      sql.NullTime
		depsRaw  []byte
	)
	if err := s.Scan(
		&w.ID, &w.ProjectID, &w.ParentID, &kind, &w.Title, &w.Description,
		&w.Weight, &w.Progress, &override, &due, &depsRaw, &w.CreatedAt, &w.UpdatedAt,
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
	w.DueAt = fromNullTime(due)
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	if len(depsRaw) > 0 {
		if err := json.Unmarshal(depsRaw, &w.Dependencies); err != nil {
			return domain.WorkItem{}, fmt.Errorf("decode dependencies_json: %w", err)
		}
	}
	if w.Dependencies == nil {
		w.Dependencies = []string{}
	}
	return w, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func fromNullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	ts := v.Time.UTC()
	return &ts
}
