package domain

import "time"

// ChangeOperation describes a persisted audit-log operation for a work item.
type ChangeOperation string

// ChangeOperation values used by the audit ledger.
const (
	ChangeOperationCreate     ChangeOperation = "create"
	ChangeOperationUpdate     ChangeOperation = "update"
	ChangeOperationProgress   ChangeOperation = "progress"
	ChangeOperationWeight     ChangeOperation = "weight"
	ChangeOperationReparent   ChangeOperation = "reparent"
	ChangeOperationOverride   ChangeOperation = "override"
	ChangeOperationDependency ChangeOperation = "dependency"
	ChangeOperationDelete     ChangeOperation = "delete"
	ChangeOperationImport     ChangeOperation = "import"
)

// ChangeEvent represents a single audit-log entry for a project work item.
type ChangeEvent struct {
	ID         int64             `json:"id"`
	ProjectID  string            `json:"project_id"`
	WorkItemID string            `json:"work_item_id"`
	Operation  ChangeOperation   `json:"operation"`
	Actor      string            `json:"actor"`
	Metadata   map[string]string `json:"metadata"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// DependencyRollup summarizes dependency and blocked-state counts for a project.
type DependencyRollup struct {
	ProjectID                 string `json:"project_id"`
	TotalItems                int    `json:"total_items"`
	ItemsWithDependencies     int    `json:"items_with_dependencies"`
	DependencyEdges           int    `json:"dependency_edges"`
	UnresolvedDependencyEdges int    `json:"unresolved_dependency_edges"`
	BlockedItems              int    `json:"blocked_items"`
	ReadyItems                int    `json:"ready_items"`
}
