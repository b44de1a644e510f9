package app

import (
	"context"
	"strings"
	"time"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/domain"
)

// ItemProgress is one row of a project progress view.
type ItemProgress struct {
	Item     domain.WorkItem `json:"item"`
	Depth    int             `json:"depth"`
	Leaf     bool            `json:"leaf"`
	Status   domain.Status   `json:"status"`
	Blockers []string        `json:"blockers,omitempty"`
}

// ProjectProgress is the derived progress view of one project.
type ProjectProgress struct {
	Project    domain.Project `json:"project"`
	Overall    float64        `json:"overall"`
	Items      []ItemProgress `json:"items"`
	ComputedAt time.Time      `json:"computed_at"`
}

// ProjectProgress returns the weighted progress of every item plus the
// weighted overall progress across root items.
func (s *Service) ProjectProgress(ctx context.Context, projectID string) (ProjectProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	projectID = strings.TrimSpace(projectID)
	project, err := s.repo.GetProject(ctx, projectID)
	if err != nil {
		return ProjectProgress{}, err
	}
	ws, err := s.workspace(ctx, projectID)
	if err != nil {
		return ProjectProgress{}, err
	}
	overall, err := ws.tree.Overall()
	if err != nil {
		return ProjectProgress{}, s.coreError("project progress", err)
	}

	now := s.clock().UTC()
	done := s.completedAt(ws, now)
	items := ws.tree.Items()
	out := ProjectProgress{
		Project:    project,
		Overall:    overall,
		Items:      make([]ItemProgress, 0, len(items)),
		ComputedAt: now,
	}
	for _, item := range items {
		out.Items = append(out.Items, ItemProgress{
			Item:     item,
			Depth:    len(ws.tree.Ancestors(item.ID)),
			Leaf:     ws.tree.IsLeaf(item.ID),
			Status:   item.Status(now),
			Blockers: ws.graph.Blockers(item.ID, done),
		})
	}
	return out, nil
}

// DependencyRollup summarizes dependency and blocked-state counts.
func (s *Service) DependencyRollup(ctx context.Context, projectID string) (domain.DependencyRollup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	projectID = strings.TrimSpace(projectID)
	ws, err := s.workspace(ctx, projectID)
	if err != nil {
		return domain.DependencyRollup{}, err
	}
	return buildDependencyRollup(projectID, ws.tree.Items(), s.clock()), nil
}

// buildDependencyRollup computes aggregate dependency and blocked-state counts.
func buildDependencyRollup(projectID string, items []domain.WorkItem, now time.Time) domain.DependencyRollup {
	rollup := domain.DependencyRollup{
		ProjectID:  projectID,
		TotalItems: len(items),
	}
	statusByID := make(map[string]domain.Status, len(items))
	for _, item := range items {
		statusByID[item.ID] = item.Status(now)
	}
	for _, item := range items {
		if len(item.Dependencies) > 0 {
			rollup.ItemsWithDependencies++
			rollup.DependencyEdges += len(item.Dependencies)
		}

		// Dependencies are unresolved when the target is missing or not completed.
		unresolved := 0
		for _, depID := range item.Dependencies {
			status, ok := statusByID[depID]
			if !ok || status != domain.StatusCompleted {
				unresolved++
			}
		}
		rollup.UnresolvedDependencyEdges += unresolved

		status := statusByID[item.ID]
		switch {
		case status == domain.StatusBlocked || unresolved > 0:
			rollup.BlockedItems++
		case status != domain.StatusCompleted && status != domain.StatusOnHold:
			rollup.ReadyItems++
		}
	}
	return rollup
}
