package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/app"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/domain"
	_ "modernc.org/sqlite"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "weightmap.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	return repo
}

func TestRepository_ProjectLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	project, err := domain.NewProject("p1", "Example", "desc", now)
	if err != nil {
		t.Fatalf("NewProject() error = %v", err)
	}
	if err := repo.CreateProject(ctx, project); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}

	loaded, err := repo.GetProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if loaded.Name != "Example" || loaded.Slug != "example" || !loaded.CreatedAt.Equal(now) {
		t.Fatalf("unexpected project %#v", loaded)
	}

	if err := project.UpdateDetails("Renamed", "new", now.Add(time.Minute)); err != nil {
		t.Fatalf("UpdateDetails() error = %v", err)
	}
	project.Archive(now.Add(2 * time.Minute))
	if err := repo.UpdateProject(ctx, project); err != nil {
		t.Fatalf("UpdateProject() error = %v", err)
	}

	active, err := repo.ListProjects(ctx, false)
	if err != nil {
		t.Fatalf("ListProjects(active) error = %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active projects, got %#v", active)
	}
	all, err := repo.ListProjects(ctx, true)
	if err != nil {
		t.Fatalf("ListProjects(all) error = %v", err)
	}
	if len(all) != 1 || all[0].Name != "Renamed" || all[0].ArchivedAt == nil {
		t.Fatalf("unexpected projects %#v", all)
	}
}

func TestRepository_ApplyWorkItemChanges(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	project, _ := domain.NewProject("p1", "Example", "", now)
	if err := repo.CreateProject(ctx, project); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}

	due := now.Add(48 * time.Hour)
	phase, _ := domain.NewWorkItem(domain.WorkItemInput{ID: "phase", ProjectID: "p1", Kind: domain.WorkKindPhase, Title: "Planning", Weight: 1, Progress: 40}, now)
	reqs, _ := domain.NewWorkItem(domain.WorkItemInput{ID: "reqs", ProjectID: "p1", ParentID: "phase", Title: "Requirements", Weight: 2, Progress: 60, DueAt: &due}, now.Add(time.Second))
	sched, _ := domain.NewWorkItem(domain.WorkItemInput{ID: "sched", ProjectID: "p1", ParentID: "phase", Title: "Schedule", Weight: 1, Dependencies: []string{"reqs"}}, now.Add(2*time.Second))

	err := repo.ApplyWorkItemChanges(ctx, app.WorkItemChanges{
		ProjectID: "p1",
		Upserts:   []domain.WorkItem{phase, reqs, sched},
		Events: []domain.ChangeEvent{{
			ProjectID:  "p1",
			WorkItemID: "phase",
			Operation:  domain.ChangeOperationCreate,
			Metadata:   map[string]string{"title": "Planning"},
			OccurredAt: now,
		}},
	})
	if err != nil {
		t.Fatalf("ApplyWorkItemChanges(create) error = %v", err)
	}

	items, err := repo.ListWorkItems(ctx, "p1")
	if err != nil {
		t.Fatalf("ListWorkItems() error = %v", err)
	}
	if len(items) != 3 || items[0].ID != "phase" || items[2].ID != "sched" {
		t.Fatalf("unexpected items %#v", items)
	}
	if items[1].DueAt == nil || !items[1].DueAt.Equal(due) {
		t.Fatalf("unexpected due date %v", items[1].DueAt)
	}
	if len(items[2].Dependencies) != 1 || items[2].Dependencies[0] != "reqs" {
		t.Fatalf("unexpected dependencies %#v", items[2].Dependencies)
	}
	if items[0].Kind != domain.WorkKindPhase || items[0].Progress != 40 {
		t.Fatalf("unexpected phase %#v", items[0])
	}

	reqs.Progress = 100
	reqs.UpdatedAt = now.Add(time.Hour)
	phase.Progress = 66.67
	sched.Dependencies = []string{}
	err = repo.ApplyWorkItemChanges(ctx, app.WorkItemChanges{
		ProjectID: "p1",
		Upserts:   []domain.WorkItem{reqs, phase, sched},
		Events: []domain.ChangeEvent{{
			ProjectID:  "p1",
			WorkItemID: "reqs",
			Operation:  domain.ChangeOperationProgress,
			Actor:      "tester",
			OccurredAt: now.Add(time.Hour),
		}},
	})
	if err != nil {
		t.Fatalf("ApplyWorkItemChanges(update) error = %v", err)
	}
	got, err := repo.GetWorkItem(ctx, "reqs")
	if err != nil {
		t.Fatalf("GetWorkItem() error = %v", err)
	}
	if got.Progress != 100 || !got.UpdatedAt.Equal(now.Add(time.Hour)) || !got.CreatedAt.Equal(now.Add(time.Second)) {
		t.Fatalf("unexpected updated item %#v", got)
	}
	gotSched, _ := repo.GetWorkItem(ctx, "sched")
	if len(gotSched.Dependencies) != 0 {
		t.Fatalf("expected cleared dependencies, got %#v", gotSched.Dependencies)
	}

	err = repo.ApplyWorkItemChanges(ctx, app.WorkItemChanges{
		ProjectID: "p1",
		Deletes:   []string{"sched"},
		Events:    []domain.ChangeEvent{{ProjectID: "p1", WorkItemID: "sched", Operation: domain.ChangeOperationDelete, OccurredAt: now.Add(2 * time.Hour)}},
	})
	if err != nil {
		t.Fatalf("ApplyWorkItemChanges(delete) error = %v", err)
	}
	if _, err := repo.GetWorkItem(ctx, "sched"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected app.ErrNotFound, got %v", err)
	}

	events, err := repo.ListProjectChangeEvents(ctx, "p1", 10)
	if err != nil {
		t.Fatalf("ListProjectChangeEvents() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Operation != domain.ChangeOperationDelete || events[0].Actor != defaultActor {
		t.Fatalf("unexpected newest event %#v", events[0])
	}
	if events[1].Actor != "tester" || events[2].Metadata["title"] != "Planning" {
		t.Fatalf("unexpected event order %#v", events)
	}

	limited, err := repo.ListProjectChangeEvents(ctx, "p1", 1)
	if err != nil {
		t.Fatalf("ListProjectChangeEvents(limit) error = %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 limited event, got %d", len(limited))
	}
}

func TestRepository_ApplyWorkItemChangesIsAtomic(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	project, _ := domain.NewProject("p1", "Example", "", now)
	if err := repo.CreateProject(ctx, project); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	ok, _ := domain.NewWorkItem(domain.WorkItemInput{ID: "a", ProjectID: "p1", Title: "A", Weight: 1}, now)
	foreign, _ := domain.NewWorkItem(domain.WorkItemInput{ID: "b", ProjectID: "p2", Title: "B", Weight: 1}, now)

	err := repo.ApplyWorkItemChanges(ctx, app.WorkItemChanges{
		ProjectID: "p1",
		Upserts:   []domain.WorkItem{ok, foreign},
	})
	if err == nil {
		t.Fatal("expected project mismatch error")
	}
	items, err := repo.ListWorkItems(ctx, "p1")
	if err != nil {
		t.Fatalf("ListWorkItems() error = %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected rollback, got %#v", items)
	}

	if err := repo.ApplyWorkItemChanges(ctx, app.WorkItemChanges{ProjectID: "p1"}); err != nil {
		t.Fatalf("expected empty batch to be a no-op, got %v", err)
	}
}

func TestRepository_WorksWithService(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	n := 0
	idGen := func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	svc := app.NewService(repo, idGen, clock, app.ServiceConfig{})

	project, err := svc.CreateProject(ctx, "House", "")
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	weight := func(v float64) *float64 { return &v }
	phase, err := svc.CreateWorkItem(ctx, app.CreateWorkItemInput{ProjectID: project.ID, Title: "Build", Weight: weight(1)})
	if err != nil {
		t.Fatalf("CreateWorkItem(phase) error = %v", err)
	}
	walls, err := svc.CreateWorkItem(ctx, app.CreateWorkItemInput{ProjectID: project.ID, ParentID: phase.ID, Title: "Walls", Weight: weight(3)})
	if err != nil {
		t.Fatalf("CreateWorkItem(walls) error = %v", err)
	}
	if _, err := svc.CreateWorkItem(ctx, app.CreateWorkItemInput{ProjectID: project.ID, ParentID: phase.ID, Title: "Roof", Weight: weight(1)}); err != nil {
		t.Fatalf("CreateWorkItem(roof) error = %v", err)
	}
	if _, err := svc.UpdateProgress(ctx, walls.ID, 100); err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}

	stored, err := repo.GetWorkItem(ctx, phase.ID)
	if err != nil {
		t.Fatalf("GetWorkItem() error = %v", err)
	}
	if stored.Progress != 75 {
		t.Fatalf("expected persisted phase progress 75, got %v", stored.Progress)
	}
}

func TestRepository_NotFoundCases(t *testing.T) {
	repo, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})

	ctx := context.Background()
	if _, err := repo.GetProject(ctx, "missing"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected app.ErrNotFound for project, got %v", err)
	}
	if _, err := repo.GetWorkItem(ctx, "missing"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected app.ErrNotFound for work item, got %v", err)
	}
	if err := repo.UpdateProject(ctx, domain.Project{ID: "missing", Name: "x"}); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected app.ErrNotFound for update, got %v", err)
	}
	if err := repo.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestRepository_MigratesOlderWorkItemsTable(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "legacy.db")
	db, err := sql.Open(driverName, dbPath)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	_, err = db.ExecContext(ctx, `CREATE TABLE work_items (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		parent_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT 'activity',
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		weight REAL NOT NULL DEFAULT 1,
		progress REAL NOT NULL DEFAULT 0,
		due_at TEXT,
		dependencies_json TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`)
	if err != nil {
		t.Fatalf("create legacy table error = %v", err)
	}
	_ = db.Close()

	repo, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	project, _ := domain.NewProject("p1", "Example", "", now)
	if err := repo.CreateProject(ctx, project); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	item, _ := domain.NewWorkItem(domain.WorkItemInput{ID: "a", ProjectID: "p1", Title: "A", Weight: 1, Override: domain.OverrideOnHold}, now)
	if err := repo.ApplyWorkItemChanges(ctx, app.WorkItemChanges{ProjectID: "p1", Upserts: []domain.WorkItem{item}}); err != nil {
		t.Fatalf("ApplyWorkItemChanges() error = %v", err)
	}
	got, err := repo.GetWorkItem(ctx, "a")
	if err != nil {
		t.Fatalf("GetWorkItem() error = %v", err)
	}
	if got.Override != domain.OverrideOnHold {
		t.Fatalf("expected migrated override column, got %q", got.Override)
	}
}

func TestRepositoryOpenValidation(t *testing.T) {
	if _, err := Open("   "); err == nil {
		t.Fatal("expected error for blank path")
	}
}
