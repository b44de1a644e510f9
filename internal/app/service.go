package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/depgraph"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/domain"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/rollup"
)

// DeleteMode represents a selectable mode.
type DeleteMode string

// DeleteModeCascade and related constants define package defaults.
const (
	DeleteModeCascade  DeleteMode = "cascade"
	DeleteModeReparent DeleteMode = "reparent"
)

// Defaults applied by NewService.
const (
	DefaultWeight             = 1.0
	DefaultWorkspaceCacheSize = 64
	defaultActor              = "weightmap"
)

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	DefaultDeleteMode  DeleteMode
	DefaultWeight      float64
	WorkspaceCacheSize int
	Logger             *log.Logger
}

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// workspace is the in-memory model of one project: the weighted tree and
// the dependency graph over the same ids.
type workspace struct {
	tree  *rollup.Tree
	graph *depgraph.Graph
}

// Service coordinates the progress and dependency core with persistence.
// Every call is serialized by one mutex; the core itself is single-writer.
type Service struct {
	mu                sync.Mutex
	repo              Repository
	idGen             IDGenerator
	clock             Clock
	defaultDeleteMode DeleteMode
	defaultWeight     float64
	workspaces        *lru.Cache[string, *workspace]
	logger            *log.Logger
}

// NewService constructs a new value for this package.
func NewService(repo Repository, idGen IDGenerator, clock Clock, cfg ServiceConfig) *Service {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.DefaultDeleteMode == "" {
		cfg.DefaultDeleteMode = DeleteModeCascade
	}
	if cfg.DefaultWeight <= 0 {
		cfg.DefaultWeight = DefaultWeight
	}
	if cfg.WorkspaceCacheSize <= 0 {
		cfg.WorkspaceCacheSize = DefaultWorkspaceCacheSize
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard)
	}
	cache, err := lru.New[string, *workspace](cfg.WorkspaceCacheSize)
	if err != nil {
		panic(fmt.Sprintf("workspace cache: %v", err))
	}

	return &Service{
		repo:              repo,
		idGen:             idGen,
		clock:             clock,
		defaultDeleteMode: cfg.DefaultDeleteMode,
		defaultWeight:     cfg.DefaultWeight,
		workspaces:        cache,
		logger:            cfg.Logger,
	}
}

// CreateProject creates project.
func (s *Service) CreateProject(ctx context.Context, name, description string) (domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	project, err := domain.NewProject(s.idGen(), name, description, s.clock())
	if err != nil {
		return domain.Project{}, err
	}
	if err := s.repo.CreateProject(ctx, project); err != nil {
		return domain.Project{}, err
	}
	s.logger.Debug("project created", "project_id", project.ID, "slug", project.Slug)
	return project, nil
}

// UpdateProjectInput holds input values for update project operations.
type UpdateProjectInput struct {
	ProjectID   string
	Name        string
	Description string
	Archived    *bool
}

// UpdateProject updates state for the requested operation.
func (s *Service) UpdateProject(ctx context.Context, in UpdateProjectInput) (domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	project, err := s.repo.GetProject(ctx, strings.TrimSpace(in.ProjectID))
	if err != nil {
		return domain.Project{}, err
	}
	now := s.clock()
	if err := project.UpdateDetails(in.Name, in.Description, now); err != nil {
		return domain.Project{}, err
	}
	if in.Archived != nil {
		if *in.Archived {
			project.Archive(now)
		} else {
			project.Restore(now)
		}
	}
	if err := s.repo.UpdateProject(ctx, project); err != nil {
		return domain.Project{}, err
	}
	return project, nil
}

// GetProject returns one project.
func (s *Service) GetProject(ctx context.Context, projectID string) (domain.Project, error) {
	return s.repo.GetProject(ctx, strings.TrimSpace(projectID))
}

// ListProjects lists projects.
func (s *Service) ListProjects(ctx context.Context, includeArchived bool) ([]domain.Project, error) {
	return s.repo.ListProjects(ctx, includeArchived)
}

// ListProjectChangeEvents lists recent change events for a project.
func (s *Service) ListProjectChangeEvents(ctx context.Context, projectID string, limit int) ([]domain.ChangeEvent, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, domain.ErrInvalidID
	}
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListProjectChangeEvents(ctx, projectID, limit)
}

// workspace returns the cached model of projectID, loading it from the
// repository on a miss. Callers must hold s.mu.
func (s *Service) workspace(ctx context.Context, projectID string) (*workspace, error) {
	if ws, ok := s.workspaces.Get(projectID); ok {
		return ws, nil
	}
	if _, err := s.repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	items, err := s.repo.ListWorkItems(ctx, projectID)
	if err != nil {
		return nil, err
	}
	tree, repaired, err := rollup.Build(items)
	if err != nil {
		return nil, s.coreError("load workspace", err)
	}
	graph, err := depgraph.FromItems(items)
	if err != nil {
		return nil, s.coreError("load workspace", err)
	}
	ws := &workspace{tree: tree, graph: graph}

	if len(repaired) > 0 {
		s.logger.Warn("stale parent progress repaired", "project_id", projectID, "items", len(repaired))
		changes := WorkItemChanges{ProjectID: projectID}
		for _, id := range repaired {
			item, _ := tree.Get(id)
			changes.Upserts = append(changes.Upserts, item)
		}
		if err := s.repo.ApplyWorkItemChanges(ctx, changes); err != nil {
			return nil, err
		}
	}
	s.workspaces.Add(projectID, ws)
	return ws, nil
}

// workspaceForItem resolves the project of itemID and returns its workspace.
func (s *Service) workspaceForItem(ctx context.Context, itemID string) (*workspace, string, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil, "", domain.ErrInvalidID
	}
	item, err := s.repo.GetWorkItem(ctx, itemID)
	if err != nil {
		return nil, "", err
	}
	ws, err := s.workspace(ctx, item.ProjectID)
	if err != nil {
		return nil, "", err
	}
	if !ws.tree.Has(itemID) {
		s.workspaces.Remove(item.ProjectID)
		if ws, err = s.workspace(ctx, item.ProjectID); err != nil {
			return nil, "", err
		}
	}
	return ws, item.ProjectID, nil
}

// persist writes one change batch. The in-memory workspace already holds the
// new state, so a failed write drops it and the next call reloads from the
// repository.
func (s *Service) persist(ctx context.Context, changes WorkItemChanges) error {
	if changes.Empty() {
		return nil
	}
	if err := s.repo.ApplyWorkItemChanges(ctx, changes); err != nil {
		s.workspaces.Remove(changes.ProjectID)
		s.logger.Error("persist work item changes", "project_id", changes.ProjectID, "err", err)
		return err
	}
	return nil
}

// stamp sets UpdatedAt on ids and returns their current state.
func (s *Service) stamp(ws *workspace, ids []string, now time.Time) []domain.WorkItem {
	out := make([]domain.WorkItem, 0, len(ids))
	seen := map[string]struct{}{}
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		item, err := ws.tree.Update(id, func(w *domain.WorkItem) { w.Touch(now) })
		if err != nil {
			continue
		}
		out = append(out, item)
	}
	return out
}

// coreError translates errors raised by the rollup and depgraph packages.
func (s *Service) coreError(op string, err error) error {
	switch {
	case errors.Is(err, rollup.ErrUnknownItem):
		return fmt.Errorf("%s: %w: %v", op, ErrNotFound, err)
	case errors.Is(err, domain.ErrInvariantViolation):
		s.logger.Error("invariant violation", "op", op, "err", err)
		return err
	default:
		return err
	}
}

// newEvent builds one audit event.
func newEvent(projectID, itemID string, op domain.ChangeOperation, now time.Time, metadata map[string]string) domain.ChangeEvent {
	if metadata == nil {
		metadata = map[string]string{}
	}
	return domain.ChangeEvent{
		ProjectID:  projectID,
		WorkItemID: itemID,
		Operation:  op,
		Actor:      defaultActor,
		Metadata:   metadata,
		OccurredAt: now.UTC(),
	}
}

// normalizeDeleteMode resolves empty modes to the service default.
func (s *Service) normalizeDeleteMode(mode DeleteMode) (DeleteMode, error) {
	mode = DeleteMode(strings.TrimSpace(strings.ToLower(string(mode))))
	if mode == "" {
		mode = s.defaultDeleteMode
	}
	switch mode {
	case DeleteModeCascade, DeleteModeReparent:
		return mode, nil
	default:
		return "", ErrInvalidDeleteMode
	}
}
