package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/domain"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/rollup"
)

// CreateWorkItemInput holds input values for create work item operations.
// A nil Weight takes the service default.
type CreateWorkItemInput struct {
	ProjectID    string
	ParentID     string
	Kind         domain.WorkKind
	Title        string
	Description  string
	Weight       *float64
	Progress     float64
	DueAt        *time.Time
	Dependencies []string
}

// UpdateWorkItemInput holds input values for update work item operations.
type UpdateWorkItemInput struct {
	WorkItemID  string
	Title       string
	Description string
	Kind        domain.WorkKind
	DueAt       *time.Time
}

// CreateWorkItem creates a work item and recomputes its ancestors.
func (s *Service) CreateWorkItem(ctx context.Context, in CreateWorkItemInput) (domain.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	projectID := strings.TrimSpace(in.ProjectID)
	if projectID == "" {
		return domain.WorkItem{}, domain.ErrInvalidID
	}
	ws, err := s.workspace(ctx, projectID)
	if err != nil {
		return domain.WorkItem{}, err
	}

	weight := s.defaultWeight
	if in.Weight != nil {
		weight = *in.Weight
	}
	now := s.clock()
	item, err := domain.NewWorkItem(domain.WorkItemInput{
		ID:           s.idGen(),
		ProjectID:    projectID,
		ParentID:     in.ParentID,
		Kind:         in.Kind,
		Title:        in.Title,
		Description:  in.Description,
		Weight:       weight,
		Progress:     in.Progress,
		DueAt:        in.DueAt,
		Dependencies: in.Dependencies,
	}, now)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if item.ParentID != "" && !ws.tree.Has(item.ParentID) {
		return domain.WorkItem{}, fmt.Errorf("parent %q: %w", item.ParentID, ErrNotFound)
	}
	for _, dep := range item.Dependencies {
		if !ws.tree.Has(dep) {
			return domain.WorkItem{}, fmt.Errorf("dependency %q: %w", dep, ErrNotFound)
		}
	}

	written, err := ws.tree.Add(item)
	if err != nil {
		return domain.WorkItem{}, s.coreError("create work item", err)
	}
	for _, dep := range item.Dependencies {
		// The item is new, so nothing can depend on it yet.
		if err := ws.graph.AddDependency(item.ID, dep); err != nil {
			s.workspaces.Remove(projectID)
			return domain.WorkItem{}, err
		}
	}

	changes := WorkItemChanges{
		ProjectID: projectID,
		Upserts:   s.stamp(ws, append([]string{item.ID}, written...), now),
		Events: []domain.ChangeEvent{newEvent(projectID, item.ID, domain.ChangeOperationCreate, now, map[string]string{
			"title":  item.Title,
			"kind":   string(item.Kind),
			"parent": item.ParentID,
			"weight": formatFloat(item.Weight),
		})},
	}
	if err := s.persist(ctx, changes); err != nil {
		return domain.WorkItem{}, err
	}
	created, _ := ws.tree.Get(item.ID)
	s.logger.Debug("work item created", "project_id", projectID, "item_id", item.ID, "ancestors", len(written))
	return created, nil
}

// GetWorkItem returns one work item with its current derived progress.
func (s *Service) GetWorkItem(ctx context.Context, itemID string) (domain.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws, _, err := s.workspaceForItem(ctx, itemID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	item, _ := ws.tree.Get(strings.TrimSpace(itemID))
	return item, nil
}

// ListWorkItems lists project work items in depth-first order.
func (s *Service) ListWorkItems(ctx context.Context, projectID string) ([]domain.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws, err := s.workspace(ctx, strings.TrimSpace(projectID))
	if err != nil {
		return nil, err
	}
	return ws.tree.Items(), nil
}

// UpdateWorkItemDetails updates descriptive fields.
func (s *Service) UpdateWorkItemDetails(ctx context.Context, in UpdateWorkItemInput) (domain.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws, projectID, err := s.workspaceForItem(ctx, in.WorkItemID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	id := strings.TrimSpace(in.WorkItemID)
	current, _ := ws.tree.Get(id)
	now := s.clock()
	if err := current.UpdateDetails(in.Title, in.Description, in.Kind, in.DueAt, now); err != nil {
		return domain.WorkItem{}, err
	}
	updated, err := ws.tree.Update(id, func(w *domain.WorkItem) { *w = current })
	if err != nil {
		return domain.WorkItem{}, s.coreError("update work item", err)
	}
	changes := WorkItemChanges{
		ProjectID: projectID,
		Upserts:   []domain.WorkItem{updated},
		Events:    []domain.ChangeEvent{newEvent(projectID, id, domain.ChangeOperationUpdate, now, map[string]string{"title": updated.Title})},
	}
	if err := s.persist(ctx, changes); err != nil {
		return domain.WorkItem{}, err
	}
	return updated, nil
}

// UpdateProgress sets the progress of a leaf and propagates it to the root.
// It returns every item whose stored progress was written, leaf first.
func (s *Service) UpdateProgress(ctx context.Context, itemID string, progress float64) ([]domain.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := domain.ValidateProgress(progress); err != nil {
		return nil, err
	}
	ws, projectID, err := s.workspaceForItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	id := strings.TrimSpace(itemID)
	before, _ := ws.tree.Get(id)
	written, err := ws.tree.PropagateUpdate(id, progress)
	if err != nil {
		return nil, s.coreError("update progress", err)
	}

	now := s.clock()
	upserts := s.stamp(ws, written, now)
	changes := WorkItemChanges{
		ProjectID: projectID,
		Upserts:   upserts,
		Events: []domain.ChangeEvent{newEvent(projectID, id, domain.ChangeOperationProgress, now, map[string]string{
			"from":      formatFloat(before.Progress),
			"to":        formatFloat(progress),
			"ancestors": strconv.Itoa(len(written) - 1),
		})},
	}
	if err := s.persist(ctx, changes); err != nil {
		return nil, err
	}
	s.logger.Debug("progress propagated", "item_id", id, "progress", progress, "ancestors", len(written)-1)
	return upserts, nil
}

// UpdateWeight changes the weight of one item and recomputes its ancestors.
func (s *Service) UpdateWeight(ctx context.Context, itemID string, weight float64) ([]domain.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := domain.ValidateWeight(weight); err != nil {
		return nil, err
	}
	ws, projectID, err := s.workspaceForItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	id := strings.TrimSpace(itemID)
	before, _ := ws.tree.Get(id)
	written, err := ws.tree.SetWeight(id, weight)
	if err != nil {
		return nil, s.coreError("update weight", err)
	}

	now := s.clock()
	upserts := s.stamp(ws, append([]string{id}, written...), now)
	changes := WorkItemChanges{
		ProjectID: projectID,
		Upserts:   upserts,
		Events: []domain.ChangeEvent{newEvent(projectID, id, domain.ChangeOperationWeight, now, map[string]string{
			"from": formatFloat(before.Weight),
			"to":   formatFloat(weight),
		})},
	}
	if err := s.persist(ctx, changes); err != nil {
		return nil, err
	}
	return upserts, nil
}

// ReparentWorkItem moves an item under a new parent, or to the roots when
// parentID is empty.
func (s *Service) ReparentWorkItem(ctx context.Context, itemID, parentID string) (domain.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws, projectID, err := s.workspaceForItem(ctx, itemID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	id := strings.TrimSpace(itemID)
	parentID = strings.TrimSpace(parentID)
	if parentID != "" && !ws.tree.Has(parentID) {
		if _, err := s.repo.GetWorkItem(ctx, parentID); err == nil {
			return domain.WorkItem{}, ErrCrossProject
		}
		return domain.WorkItem{}, fmt.Errorf("parent %q: %w", parentID, ErrNotFound)
	}
	before, _ := ws.tree.Get(id)
	written, err := ws.tree.Reparent(id, parentID)
	if err != nil {
		return domain.WorkItem{}, s.coreError("reparent work item", err)
	}
	if before.ParentID == parentID {
		return before, nil
	}

	now := s.clock()
	changes := WorkItemChanges{
		ProjectID: projectID,
		Upserts:   s.stamp(ws, append([]string{id}, written...), now),
		Events: []domain.ChangeEvent{newEvent(projectID, id, domain.ChangeOperationReparent, now, map[string]string{
			"from": before.ParentID,
			"to":   parentID,
		})},
	}
	if err := s.persist(ctx, changes); err != nil {
		return domain.WorkItem{}, err
	}
	moved, _ := ws.tree.Get(id)
	return moved, nil
}

// SetOverride sets or clears an explicit status override. Forcing completed
// requires every direct dependency to be completed already.
func (s *Service) SetOverride(ctx context.Context, itemID string, override domain.Override) (domain.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized, err := domain.NormalizeOverride(override)
	if err != nil {
		return domain.WorkItem{}, err
	}
	ws, projectID, err := s.workspaceForItem(ctx, itemID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	id := strings.TrimSpace(itemID)
	now := s.clock()
	if normalized == domain.OverrideCompleted {
		if blockers := ws.graph.Blockers(id, s.completedAt(ws, now)); len(blockers) > 0 {
			return domain.WorkItem{}, fmt.Errorf("%w: waiting on %s", ErrDependenciesIncomplete, strings.Join(blockers, ", "))
		}
	}

	var setErr error
	updated, err := ws.tree.Update(id, func(w *domain.WorkItem) { setErr = w.SetOverride(normalized, now) })
	if err != nil {
		return domain.WorkItem{}, s.coreError("set override", err)
	}
	if setErr != nil {
		return domain.WorkItem{}, setErr
	}
	changes := WorkItemChanges{
		ProjectID: projectID,
		Upserts:   []domain.WorkItem{updated},
		Events: []domain.ChangeEvent{newEvent(projectID, id, domain.ChangeOperationOverride, now, map[string]string{
			"override": string(normalized),
		})},
	}
	if err := s.persist(ctx, changes); err != nil {
		return domain.WorkItem{}, err
	}
	return updated, nil
}

// DeleteWorkItem deletes an item. DeleteModeCascade removes the subtree;
// DeleteModeReparent moves the direct children to the deleted item's parent.
// Deleted ids are stripped from every dependency set.
func (s *Service) DeleteWorkItem(ctx context.Context, itemID string, mode DeleteMode) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mode, err := s.normalizeDeleteMode(mode)
	if err != nil {
		return nil, err
	}
	ws, projectID, err := s.workspaceForItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	id := strings.TrimSpace(itemID)
	moved := ws.tree.Children(id)
	removed, written, err := ws.tree.Remove(id, rollup.RemovePolicy(mode))
	if err != nil {
		return nil, s.coreError("delete work item", err)
	}

	gone := map[string]struct{}{}
	for _, rid := range removed {
		gone[rid] = struct{}{}
	}
	touched := append([]string{}, written...)
	if mode == DeleteModeReparent {
		touched = append(touched, moved...)
	}
	for _, rid := range removed {
		for _, changed := range ws.graph.RemoveItem(rid) {
			if _, ok := gone[changed]; ok {
				continue
			}
			deps := ws.graph.Dependencies(changed)
			if _, err := ws.tree.Update(changed, func(w *domain.WorkItem) { w.Dependencies = deps }); err == nil {
				touched = append(touched, changed)
			}
		}
	}

	now := s.clock()
	changes := WorkItemChanges{
		ProjectID: projectID,
		Upserts:   s.stamp(ws, touched, now),
		Deletes:   removed,
		Events: []domain.ChangeEvent{newEvent(projectID, id, domain.ChangeOperationDelete, now, map[string]string{
			"mode":    string(mode),
			"removed": strconv.Itoa(len(removed)),
		})},
	}
	if err := s.persist(ctx, changes); err != nil {
		return nil, err
	}
	s.logger.Debug("work item deleted", "item_id", id, "mode", mode, "removed", len(removed))
	return removed, nil
}

// completedAt reports whether an item in ws derives to completed at now.
func (s *Service) completedAt(ws *workspace, now time.Time) func(string) bool {
	return func(id string) bool {
		item, ok := ws.tree.Get(id)
		return ok && item.Status(now) == domain.StatusCompleted
	}
}

// formatFloat renders a float without trailing zeros.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
