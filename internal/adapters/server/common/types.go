// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/app"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/domain"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/plan"
)

// ErrInvalidRequest reports malformed transport input.
var ErrInvalidRequest = errors.New("invalid request")

// ProgressService is the app surface exposed over HTTP and MCP.
// *app.Service satisfies it.
type ProgressService interface {
	CreateProject(context.Context, string, string) (domain.Project, error)
	UpdateProject(context.Context, app.UpdateProjectInput) (domain.Project, error)
	GetProject(context.Context, string) (domain.Project, error)
	ListProjects(context.Context, bool) ([]domain.Project, error)
	ListProjectChangeEvents(context.Context, string, int) ([]domain.ChangeEvent, error)

	CreateWorkItem(context.Context, app.CreateWorkItemInput) (domain.WorkItem, error)
	GetWorkItem(context.Context, string) (domain.WorkItem, error)
	ListWorkItems(context.Context, string) ([]domain.WorkItem, error)
	UpdateWorkItemDetails(context.Context, app.UpdateWorkItemInput) (domain.WorkItem, error)
	UpdateProgress(context.Context, string, float64) ([]domain.WorkItem, error)
	UpdateWeight(context.Context, string, float64) ([]domain.WorkItem, error)
	ReparentWorkItem(context.Context, string, string) (domain.WorkItem, error)
	SetOverride(context.Context, string, domain.Override) (domain.WorkItem, error)
	DeleteWorkItem(context.Context, string, app.DeleteMode) ([]string, error)

	AddDependency(context.Context, string, string) (domain.WorkItem, error)
	RemoveDependency(context.Context, string, string) (domain.WorkItem, error)
	DependencyChain(context.Context, string) ([]domain.WorkItem, error)
	DependencyOrder(context.Context, string) ([]domain.WorkItem, error)

	ProjectProgress(context.Context, string) (app.ProjectProgress, error)
	DependencyRollup(context.Context, string) (domain.DependencyRollup, error)
	ApplyPlan(context.Context, string, plan.Plan) (app.PlanResult, error)
}

var _ ProgressService = (*app.Service)(nil)

// CreateWorkItemRequest is the wire shape for work-item creation.
type CreateWorkItemRequest struct {
	ParentID     string   `json:"parent_id,omitempty"`
	Kind         string   `json:"kind,omitempty"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Weight       *float64 `json:"weight,omitempty"`
	Progress     float64  `json:"progress,omitempty"`
	DueAt        string   `json:"due_at,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Input converts the request into app input for projectID.
func (r CreateWorkItemRequest) Input(projectID string) (app.CreateWorkItemInput, error) {
	due, err := ParseDueAt(r.DueAt)
	if err != nil {
		return app.CreateWorkItemInput{}, err
	}
	return app.CreateWorkItemInput{
		ProjectID:    projectID,
		ParentID:     r.ParentID,
		Kind:         domain.WorkKind(r.Kind),
		Title:        r.Title,
		Description:  r.Description,
		Weight:       r.Weight,
		Progress:     r.Progress,
		DueAt:        due,
		Dependencies: r.Dependencies,
	}, nil
}

// UpdateWorkItemRequest is the wire shape for detail edits.
type UpdateWorkItemRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Kind        string `json:"kind,omitempty"`
	DueAt       string `json:"due_at,omitempty"`
}

// Input converts the request into app input for itemID.
func (r UpdateWorkItemRequest) Input(itemID string) (app.UpdateWorkItemInput, error) {
	due, err := ParseDueAt(r.DueAt)
	if err != nil {
		return app.UpdateWorkItemInput{}, err
	}
	return app.UpdateWorkItemInput{
		WorkItemID:  itemID,
		Title:       r.Title,
		Description: r.Description,
		Kind:        domain.WorkKind(r.Kind),
		DueAt:       due,
	}, nil
}

// ParseDueAt accepts RFC3339 timestamps or YYYY-MM-DD dates. Blank input means no due date.
func ParseDueAt(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if ts, err := time.Parse(layout, raw); err == nil {
			ts = ts.UTC()
			return &ts, nil
		}
	}
	return nil, fmt.Errorf("%w: due_at %q must be RFC3339 or YYYY-MM-DD", ErrInvalidRequest, raw)
}
