package app

import (
	"context"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/domain"
)

// Repository represents repository data used by this package.
type Repository interface {
	CreateProject(context.Context, domain.Project) error
	UpdateProject(context.Context, domain.Project) error
	GetProject(context.Context, string) (domain.Project, error)
	ListProjects(context.Context, bool) ([]domain.Project, error)

	GetWorkItem(context.Context, string) (domain.WorkItem, error)
	ListWorkItems(context.Context, string) ([]domain.WorkItem, error)
	ApplyWorkItemChanges(context.Context, WorkItemChanges) error
	ListProjectChangeEvents(context.Context, string, int) ([]domain.ChangeEvent, error)
}

// WorkItemChanges is one atomic batch of work-item writes for a project.
// Implementations must apply upserts, deletes and events in a single
// transaction.
type WorkItemChanges struct {
	ProjectID string
	Upserts   []domain.WorkItem
	Deletes   []string
	Events    []domain.ChangeEvent
}

// Empty reports whether the batch carries no writes.
func (c WorkItemChanges) Empty() bool {
	return len(c.Upserts) == 0 && len(c.Deletes) == 0 && len(c.Events) == 0
}
