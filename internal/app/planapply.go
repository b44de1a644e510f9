package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/depgraph"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/domain"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/plan"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/rollup"
)

// PlanResult reports what ApplyPlan created.
type PlanResult struct {
	Project   domain.Project    `json:"project"`
	WorkItems []domain.WorkItem `json:"work_items"`
	IDsByKey  map[string]string `json:"ids_by_key"`
}

// ApplyPlan creates every plan item in projectID, or in a new project named
// by the plan when projectID is empty. The whole plan is validated, including
// dependency cycles, before anything is written.
func (s *Service) ApplyPlan(ctx context.Context, projectID string, p plan.Plan) (PlanResult, error) {
	entries, err := p.Flatten()
	if err != nil {
		return PlanResult{}, err
	}

	// Cycle check over plan keys before ids are minted.
	keyGraph := depgraph.New()
	for _, entry := range entries {
		for _, dep := range entry.DependsOn {
			if err := keyGraph.AddDependency(entry.Key, strings.TrimSpace(dep)); err != nil {
				return PlanResult{}, err
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	projectID = strings.TrimSpace(projectID)
	var project domain.Project
	newProject := projectID == ""
	if newProject {
		project, err = domain.NewProject(s.idGen(), p.Project, p.Description, now)
		if err != nil {
			return PlanResult{}, err
		}
		projectID = project.ID
	} else if project, err = s.repo.GetProject(ctx, projectID); err != nil {
		return PlanResult{}, err
	}

	ids := make(map[string]string, len(entries))
	items := make([]domain.WorkItem, 0, len(entries))
	for i, entry := range entries {
		weight := s.defaultWeight
		if entry.Weight != nil {
			weight = *entry.Weight
		}
		id := s.idGen()
		ids[entry.Key] = id
		// Offsetting creation time keeps plan order among siblings.
		item, err := domain.NewWorkItem(domain.WorkItemInput{
			ID:          id,
			ProjectID:   projectID,
			ParentID:    ids[entry.ParentKey],
			Kind:        domain.WorkKind(entry.Kind),
			Title:       entry.Title,
			Description: entry.Description,
			Weight:      weight,
			Progress:    entry.Progress,
			DueAt:       entry.DueAt,
		}, now.Add(time.Duration(i)*time.Microsecond))
		if err != nil {
			return PlanResult{}, fmt.Errorf("plan item %q: %w", entry.Key, err)
		}
		items = append(items, item)
	}
	for i, entry := range entries {
		for _, dep := range entry.DependsOn {
			items[i].Dependencies = append(items[i].Dependencies, ids[strings.TrimSpace(dep)])
		}
		items[i].Dependencies = domain.NormalizeIDs(items[i].Dependencies)
	}

	// Plan items only reference each other, so a detached tree catches
	// structural errors before the project row exists.
	scratch := rollup.NewTree()
	for _, item := range items {
		if _, err := scratch.Add(item); err != nil {
			return PlanResult{}, s.coreError("apply plan", err)
		}
	}
	if newProject {
		if err := s.repo.CreateProject(ctx, project); err != nil {
			return PlanResult{}, err
		}
	}

	ws, err := s.workspace(ctx, projectID)
	if err != nil {
		return PlanResult{}, err
	}
	created := make([]string, 0, len(items))
	var touched []string
	for _, item := range items {
		written, err := ws.tree.Add(item)
		if err != nil {
			s.workspaces.Remove(projectID)
			return PlanResult{}, s.coreError("apply plan", err)
		}
		created = append(created, item.ID)
		touched = append(touched, written...)
	}
	for _, item := range items {
		for _, dep := range item.Dependencies {
			if err := ws.graph.AddDependency(item.ID, dep); err != nil {
				s.workspaces.Remove(projectID)
				return PlanResult{}, err
			}
		}
	}

	upserts := s.stamp(ws, append(created, touched...), now)
	changes := WorkItemChanges{
		ProjectID: projectID,
		Upserts:   upserts,
		Events: []domain.ChangeEvent{newEvent(projectID, "", domain.ChangeOperationImport, now, map[string]string{
			"source": "plan",
			"items":  strconv.Itoa(len(items)),
		})},
	}
	if err := s.persist(ctx, changes); err != nil {
		return PlanResult{}, err
	}

	out := make([]domain.WorkItem, 0, len(created))
	for _, id := range created {
		item, _ := ws.tree.Get(id)
		out = append(out, item)
	}
	s.logger.Info("plan applied", "project_id", projectID, "items", len(out))
	return PlanResult{Project: project, WorkItems: out, IDsByKey: ids}, nil
}
