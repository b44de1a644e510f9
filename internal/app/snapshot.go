package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/depgraph"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/domain"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/rollup"
)

// SnapshotVersion defines a package constant value.
const SnapshotVersion = "weightmap.snapshot.v1"

// Snapshot represents snapshot data used by this package.
type Snapshot struct {
	Version    string             `json:"version"`
	ExportedAt time.Time          `json:"exported_at"`
	Projects   []SnapshotProject  `json:"projects"`
	WorkItems  []SnapshotWorkItem `json:"work_items"`
}

// SnapshotProject represents snapshot project data used by this package.
type SnapshotProject struct {
	ID          string     `json:"id"`
	Slug        string     `json:"slug"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
}

// SnapshotWorkItem represents snapshot work item data used by this package.
type SnapshotWorkItem struct {
	ID           string          `json:"id"`
	ProjectID    string          `json:"project_id"`
	ParentID     string          `json:"parent_id,omitempty"`
	Kind         domain.WorkKind `json:"kind"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Weight       float64         `json:"weight"`
	Progress     float64         `json:"progress"`
	Override     domain.Override `json:"override,omitempty"`
	DueAt        *time.Time      `json:"due_at,omitempty"`
	Dependencies []string        `json:"dependencies"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ExportSnapshot handles export snapshot.
func (s *Service) ExportSnapshot(ctx context.Context, includeArchived bool) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	projects, err := s.repo.ListProjects(ctx, includeArchived)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Version:    SnapshotVersion,
		ExportedAt: s.clock().UTC(),
		Projects:   make([]SnapshotProject, 0, len(projects)),
		WorkItems:  make([]SnapshotWorkItem, 0),
	}
	for _, project := range projects {
		snap.Projects = append(snap.Projects, snapshotProjectFromDomain(project))
		items, listErr := s.repo.ListWorkItems(ctx, project.ID)
		if listErr != nil {
			return Snapshot{}, listErr
		}
		for _, item := range items {
			snap.WorkItems = append(snap.WorkItems, snapshotWorkItemFromDomain(item))
		}
	}

	snap.sort()
	return snap, nil
}

// ImportSnapshot validates the whole snapshot, including parent and
// dependency cycles, before writing anything. Stored parent progress is
// recomputed from the imported leaves.
func (s *Service) ImportSnapshot(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := snap.Validate(); err != nil {
		return err
	}
	snap.sort()

	byProject := map[string][]domain.WorkItem{}
	for _, item := range snap.WorkItems {
		byProject[item.ProjectID] = append(byProject[item.ProjectID], item.toDomain())
	}
	trees := map[string]*rollup.Tree{}
	for projectID, items := range byProject {
		if err := checkDependencyCycles(items); err != nil {
			return fmt.Errorf("project %q: %w", projectID, err)
		}
		tree, _, err := rollup.Build(items)
		if err != nil {
			return fmt.Errorf("project %q: %w", projectID, err)
		}
		trees[projectID] = tree
	}

	now := s.clock()
	for _, project := range snap.Projects {
		if err := s.upsertProject(ctx, project.toDomain()); err != nil {
			return err
		}
		s.workspaces.Remove(project.ID)
		tree, ok := trees[project.ID]
		if !ok {
			continue
		}
		changes := WorkItemChanges{
			ProjectID: project.ID,
			Upserts:   tree.Items(),
			Events: []domain.ChangeEvent{newEvent(project.ID, "", domain.ChangeOperationImport, now, map[string]string{
				"items": fmt.Sprint(tree.Len()),
			})},
		}
		if err := s.repo.ApplyWorkItemChanges(ctx, changes); err != nil {
			return err
		}
	}
	s.logger.Info("snapshot imported", "projects", len(snap.Projects), "work_items", len(snap.WorkItems))
	return nil
}

// Validate checks a snapshot without touching storage. Every failure
// matches domain.ErrValidation.
func (s *Snapshot) Validate() error {
	if s.Version != "" && s.Version != SnapshotVersion {
		return invalidSnapshot("unsupported snapshot version: %q", s.Version)
	}

	projectIDs := map[string]struct{}{}
	for i, p := range s.Projects {
		if strings.TrimSpace(p.ID) == "" {
			return invalidSnapshot("projects[%d].id is required", i)
		}
		if strings.TrimSpace(p.Name) == "" {
			return invalidSnapshot("projects[%d].name is required", i)
		}
		if p.CreatedAt.IsZero() || p.UpdatedAt.IsZero() {
			return invalidSnapshot("projects[%d] timestamps are required", i)
		}
		if _, exists := projectIDs[p.ID]; exists {
			return invalidSnapshot("duplicate project id: %q", p.ID)
		}
		projectIDs[p.ID] = struct{}{}
	}

	itemProject := map[string]string{}
	for i, item := range s.WorkItems {
		if strings.TrimSpace(item.ID) == "" {
			return invalidSnapshot("work_items[%d].id is required", i)
		}
		if strings.TrimSpace(item.Title) == "" {
			return invalidSnapshot("work_items[%d].title is required", i)
		}
		if item.CreatedAt.IsZero() || item.UpdatedAt.IsZero() {
			return invalidSnapshot("work_items[%d] timestamps are required", i)
		}
		if _, ok := projectIDs[item.ProjectID]; !ok {
			return invalidSnapshot("work_items[%d] references unknown project_id %q", i, item.ProjectID)
		}
		if _, exists := itemProject[item.ID]; exists {
			return invalidSnapshot("duplicate work item id: %q", item.ID)
		}
		if err := domain.ValidateWeight(item.Weight); err != nil {
			return fmt.Errorf("work_items[%d]: %w", i, err)
		}
		if err := domain.ValidateProgress(item.Progress); err != nil {
			return fmt.Errorf("work_items[%d]: %w", i, err)
		}
		if _, err := domain.NormalizeWorkKind(item.Kind); err != nil {
			return fmt.Errorf("%w: work_items[%d]: %w", domain.ErrValidation, i, err)
		}
		if _, err := domain.NormalizeOverride(item.Override); err != nil {
			return fmt.Errorf("%w: work_items[%d]: %w", domain.ErrValidation, i, err)
		}
		itemProject[item.ID] = item.ProjectID
	}
	for i, item := range s.WorkItems {
		if item.ParentID != "" && itemProject[item.ParentID] != item.ProjectID {
			return invalidSnapshot("work_items[%d] parent %q is not in project %q", i, item.ParentID, item.ProjectID)
		}
		for _, dep := range item.Dependencies {
			if itemProject[dep] != item.ProjectID {
				return invalidSnapshot("work_items[%d] dependency %q is not in project %q", i, dep, item.ProjectID)
			}
		}
	}
	parents := make(map[string]string, len(s.WorkItems))
	for _, item := range s.WorkItems {
		parents[item.ID] = item.ParentID
	}
	for _, item := range s.WorkItems {
		steps := 0
		for id := item.ParentID; id != ""; id = parents[id] {
			if id == item.ID || steps > len(parents) {
				return invalidSnapshot("work item %q is its own ancestor", item.ID)
			}
			steps++
		}
	}
	return nil
}

// invalidSnapshot reports a malformed snapshot.
func invalidSnapshot(format string, args ...any) error {
	return &domain.ValidationError{Field: "snapshot", Reason: fmt.Sprintf(format, args...)}
}

// checkDependencyCycles replays the imported edges into an empty graph so a
// cycle surfaces as the CycleError a live edit would return.
func checkDependencyCycles(items []domain.WorkItem) error {
	graph := depgraph.New()
	for _, item := range items {
		for _, dep := range item.Dependencies {
			if err := graph.AddDependency(item.ID, dep); err != nil {
				return err
			}
		}
	}
	return nil
}

// upsertProject handles upsert project.
func (s *Service) upsertProject(ctx context.Context, p domain.Project) error {
	if _, err := s.repo.GetProject(ctx, p.ID); err == nil {
		return s.repo.UpdateProject(ctx, p)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.repo.CreateProject(ctx, p)
}

// sort handles sort.
func (s *Snapshot) sort() {
	sort.Slice(s.Projects, func(i, j int) bool {
		return s.Projects[i].ID < s.Projects[j].ID
	})
	sort.Slice(s.WorkItems, func(i, j int) bool {
		a := s.WorkItems[i]
		b := s.WorkItems[j]
		if a.ProjectID == b.ProjectID {
			if a.CreatedAt.Equal(b.CreatedAt) {
				return a.ID < b.ID
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ProjectID < b.ProjectID
	})
}

// snapshotProjectFromDomain handles snapshot project from domain.
func snapshotProjectFromDomain(p domain.Project) SnapshotProject {
	return SnapshotProject{
		ID:          p.ID,
		Slug:        p.Slug,
		Name:        p.Name,
		Description: p.Description,
		CreatedAt:   p.CreatedAt.UTC(),
		UpdatedAt:   p.UpdatedAt.UTC(),
		ArchivedAt:  copyTimePtr(p.ArchivedAt),
	}
}

// snapshotWorkItemFromDomain handles snapshot work item from domain.
func snapshotWorkItemFromDomain(w domain.WorkItem) SnapshotWorkItem {
	return SnapshotWorkItem{
		ID:           w.ID,
		ProjectID:    w.ProjectID,
		ParentID:     w.ParentID,
		Kind:         w.Kind,
		Title:        w.Title,
		Description:  w.Description,
		Weight:       w.Weight,
		Progress:     w.Progress,
		Override:     w.Override,
		DueAt:        copyTimePtr(w.DueAt),
		Dependencies: append([]string{}, w.Dependencies...),
		CreatedAt:    w.CreatedAt.UTC(),
		UpdatedAt:    w.UpdatedAt.UTC(),
	}
}

// toDomain converts a snapshot project into the domain value.
func (p SnapshotProject) toDomain() domain.Project {
	slug := strings.TrimSpace(p.Slug)
	if slug == "" {
		slug = fallbackSlug(p.Name)
	}
	return domain.Project{
		ID:          strings.TrimSpace(p.ID),
		Slug:        slug,
		Name:        strings.TrimSpace(p.Name),
		Description: strings.TrimSpace(p.Description),
		CreatedAt:   p.CreatedAt.UTC(),
		UpdatedAt:   p.UpdatedAt.UTC(),
		ArchivedAt:  copyTimePtr(p.ArchivedAt),
	}
}

// toDomain converts a snapshot work item into the domain value.
func (w SnapshotWorkItem) toDomain() domain.WorkItem {
	kind, _ := domain.NormalizeWorkKind(w.Kind)
	override, _ := domain.NormalizeOverride(w.Override)
	return domain.WorkItem{
		ID:           strings.TrimSpace(w.ID),
		ProjectID:    strings.TrimSpace(w.ProjectID),
		ParentID:     strings.TrimSpace(w.ParentID),
		Kind:         kind,
		Title:        strings.TrimSpace(w.Title),
		Description:  strings.TrimSpace(w.Description),
		Weight:       w.Weight,
		Progress:     w.Progress,
		Override:     override,
		DueAt:        copyTimePtr(w.DueAt),
		Dependencies: domain.NormalizeIDs(slices.Clone(w.Dependencies)),
		CreatedAt:    w.CreatedAt.UTC(),
		UpdatedAt:    w.UpdatedAt.UTC(),
	}
}

// fallbackSlug derives a slug from a project name.
func fallbackSlug(name string) string {
	p, err := domain.NewProject("slug", name, "", time.Time{})
	if err != nil {
		return ""
	}
	return p.Slug
}

// copyTimePtr copies a time pointer.
func copyTimePtr(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	ts := in.UTC()
	return &ts
}
