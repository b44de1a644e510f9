package domain

import (
	"math"
	"slices"
	"strings"
	"time"
)

// WorkKind identifies the level a work item plays in a project plan.
type WorkKind string

// Built-in kinds.
const (
	WorkKindPhase       WorkKind = "phase"
	WorkKindActivity    WorkKind = "activity"
	WorkKindDeliverable WorkKind = "deliverable"
	WorkKindPart        WorkKind = "part"
)

// validWorkKinds stores every supported kind.
var validWorkKinds = []WorkKind{WorkKindPhase, WorkKindActivity, WorkKindDeliverable, WorkKindPart}

// Progress bounds.
const (
	MinProgress = 0.0
	MaxProgress = 100.0
)

// WorkItem is one node of a weighted project hierarchy.
type WorkItem struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id"`
	ParentID     string     `json:"parent_id,omitempty"`
	Kind         WorkKind   `json:"kind"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Weight       float64    `json:"weight"`
	Progress     float64    `json:"progress"`
	Override     Override   `json:"override,omitempty"`
	DueAt        *time.Time `json:"due_at,omitempty"`
	Dependencies []string   `json:"dependencies"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// WorkItemInput holds write-time values for NewWorkItem.
type WorkItemInput struct {
	ID           string
	ProjectID    string
	ParentID     string
	Kind         WorkKind
	Title        string
	Description  string
	Weight       float64
	Progress     float64
	Override     Override
	DueAt        *time.Time
	Dependencies []string
}

// NewWorkItem validates and normalizes a new work item.
func NewWorkItem(in WorkItemInput, now time.Time) (WorkItem, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.ProjectID = strings.TrimSpace(in.ProjectID)
	in.ParentID = strings.TrimSpace(in.ParentID)
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)

	if in.ID == "" || in.ProjectID == "" {
		return WorkItem{}, ErrInvalidID
	}
	if in.ParentID == in.ID {
		return WorkItem{}, ErrInvalidParentID
	}
	if in.Title == "" {
		return WorkItem{}, ErrInvalidTitle
	}
	kind, err := NormalizeWorkKind(in.Kind)
	if err != nil {
		return WorkItem{}, err
	}
	if err := ValidateWeight(in.Weight); err != nil {
		return WorkItem{}, err
	}
	if err := ValidateProgress(in.Progress); err != nil {
		return WorkItem{}, err
	}
	override, err := NormalizeOverride(in.Override)
	if err != nil {
		return WorkItem{}, err
	}

	return WorkItem{
		ID:           in.ID,
		ProjectID:    in.ProjectID,
		ParentID:     in.ParentID,
		Kind:         kind,
		Title:        in.Title,
		Description:  in.Description,
		Weight:       in.Weight,
		Progress:     in.Progress,
		Override:     override,
		DueAt:        normalizeDueAt(in.DueAt),
		Dependencies: NormalizeIDs(in.Dependencies),
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}, nil
}

// UpdateDetails replaces descriptive fields that do not affect aggregation.
func (w *WorkItem) UpdateDetails(title, description string, kind WorkKind, dueAt *time.Time, now time.Time) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrInvalidTitle
	}
	normalizedKind, err := NormalizeWorkKind(kind)
	if err != nil {
		return err
	}
	w.Title = title
	w.Description = strings.TrimSpace(description)
	w.Kind = normalizedKind
	w.DueAt = normalizeDueAt(dueAt)
	w.UpdatedAt = now.UTC()
	return nil
}

// SetOverride sets or clears the explicit status override.
func (w *WorkItem) SetOverride(override Override, now time.Time) error {
	normalized, err := NormalizeOverride(override)
	if err != nil {
		return err
	}
	w.Override = normalized
	w.UpdatedAt = now.UTC()
	return nil
}

// Status derives the display status at now.
func (w WorkItem) Status(now time.Time) Status {
	return DeriveStatus(w.Progress, w.DueAt, w.Override, now)
}

// Touch bumps UpdatedAt.
func (w *WorkItem) Touch(now time.Time) {
	w.UpdatedAt = now.UTC()
}

// Clone returns a deep copy.
func (w WorkItem) Clone() WorkItem {
	out := w
	out.Dependencies = slices.Clone(w.Dependencies)
	if w.DueAt != nil {
		ts := *w.DueAt
		out.DueAt = &ts
	}
	return out
}

// ValidateProgress rejects NaN and values outside [0, 100].
func ValidateProgress(progress float64) error {
	if math.IsNaN(progress) || progress < MinProgress || progress > MaxProgress {
		return &ValidationError{Field: "progress", Value: progress, Reason: "must be between 0 and 100"}
	}
	return nil
}

// ValidateWeight rejects NaN, infinities and negative values.
func ValidateWeight(weight float64) error {
	if math.IsNaN(weight) || math.IsInf(weight, 0) || weight < 0 {
		return &ValidationError{Field: "weight", Value: weight, Reason: "must be a finite number >= 0"}
	}
	return nil
}

// NormalizeWorkKind canonicalizes a kind; empty defaults to activity.
func NormalizeWorkKind(kind WorkKind) (WorkKind, error) {
	kind = WorkKind(strings.TrimSpace(strings.ToLower(string(kind))))
	if kind == "" {
		return WorkKindActivity, nil
	}
	if !slices.Contains(validWorkKinds, kind) {
		return "", ErrInvalidKind
	}
	return kind, nil
}

// NormalizeIDs trims and de-duplicates ids while preserving order.
func NormalizeIDs(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, raw := range in {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// normalizeDueAt truncates due dates to UTC seconds.
func normalizeDueAt(dueAt *time.Time) *time.Time {
	if dueAt == nil {
		return nil
	}
	ts := dueAt.UTC().Truncate(time.Second)
	return &ts
}
