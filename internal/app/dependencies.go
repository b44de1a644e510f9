package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/domain"
)

// AddDependency records that itemID depends on dependsOnID. Both items must
// belong to the same project; edges that would close a cycle fail with a
// *domain.CycleError and change nothing.
func (s *Service) AddDependency(ctx context.Context, itemID, dependsOnID string) (domain.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws, projectID, err := s.workspaceForItem(ctx, itemID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	id := strings.TrimSpace(itemID)
	dep := strings.TrimSpace(dependsOnID)
	if dep == "" {
		return domain.WorkItem{}, domain.ErrInvalidID
	}
	if !ws.tree.Has(dep) {
		if _, err := s.repo.GetWorkItem(ctx, dep); err == nil {
			return domain.WorkItem{}, ErrCrossProject
		}
		return domain.WorkItem{}, fmt.Errorf("dependency %q: %w", dep, ErrNotFound)
	}
	if ws.graph.HasDependency(id, dep) {
		item, _ := ws.tree.Get(id)
		return item, nil
	}
	if err := ws.graph.AddDependency(id, dep); err != nil {
		s.logger.Debug("dependency rejected", "item_id", id, "depends_on", dep, "err", err)
		return domain.WorkItem{}, err
	}
	return s.syncDependencies(ctx, ws, projectID, id, dep, "add")
}

// RemoveDependency drops an edge. Removing a missing edge is a no-op.
func (s *Service) RemoveDependency(ctx context.Context, itemID, dependsOnID string) (domain.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws, projectID, err := s.workspaceForItem(ctx, itemID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	id := strings.TrimSpace(itemID)
	dep := strings.TrimSpace(dependsOnID)
	if !ws.graph.RemoveDependency(id, dep) {
		item, _ := ws.tree.Get(id)
		return item, nil
	}
	return s.syncDependencies(ctx, ws, projectID, id, dep, "remove")
}

// syncDependencies copies the graph's edge set for id onto the stored item
// and persists it.
func (s *Service) syncDependencies(ctx context.Context, ws *workspace, projectID, id, dep, action string) (domain.WorkItem, error) {
	now := s.clock()
	deps := ws.graph.Dependencies(id)
	updated, err := ws.tree.Update(id, func(w *domain.WorkItem) {
		w.Dependencies = deps
		w.Touch(now)
	})
	if err != nil {
		return domain.WorkItem{}, s.coreError("sync dependencies", err)
	}
	changes := WorkItemChanges{
		ProjectID: projectID,
		Upserts:   []domain.WorkItem{updated},
		Events: []domain.ChangeEvent{newEvent(projectID, id, domain.ChangeOperationDependency, now, map[string]string{
			"action":     action,
			"depends_on": dep,
		})},
	}
	if err := s.persist(ctx, changes); err != nil {
		return domain.WorkItem{}, err
	}
	return updated, nil
}

// DependencyChain returns every transitive prerequisite of itemID in
// depth-first first-visit order.
func (s *Service) DependencyChain(ctx context.Context, itemID string) ([]domain.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws, _, err := s.workspaceForItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	chain := ws.graph.DependencyChain(strings.TrimSpace(itemID))
	out := make([]domain.WorkItem, 0, len(chain))
	for _, id := range chain {
		if item, ok := ws.tree.Get(id); ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// DependencyOrder returns every project item ordered so prerequisites come
// before their dependents. Ties keep depth-first tree order.
func (s *Service) DependencyOrder(ctx context.Context, projectID string) ([]domain.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws, err := s.workspace(ctx, strings.TrimSpace(projectID))
	if err != nil {
		return nil, err
	}
	items := ws.tree.Items()
	ids := make([]string, 0, len(items))
	byID := make(map[string]domain.WorkItem, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
		byID[item.ID] = item
	}
	order, err := ws.graph.TopologicalOrder(ids)
	if err != nil {
		return nil, s.coreError("dependency order", err)
	}
	out := make([]domain.WorkItem, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}
