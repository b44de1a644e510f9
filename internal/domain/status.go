package domain

import (
	"strings"
	"time"
)

// Status is the categorical state shown for a work item.
type Status string

// Status values.
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusOverdue    Status = "overdue"
	StatusOnHold     Status = "on-hold"
	StatusBlocked    Status = "blocked"
)

// Override is an explicit status that wins over progress and due date.
type Override string

// Override values. OverrideNone clears the override.
const (
	OverrideNone      Override = ""
	OverrideOnHold    Override = "on-hold"
	OverrideBlocked   Override = "blocked"
	OverrideCompleted Override = "completed"
)

// NormalizeOverride canonicalizes override aliases.
func NormalizeOverride(override Override) (Override, error) {
	switch strings.TrimSpace(strings.ToLower(string(override))) {
	case "", "none", "clear":
		return OverrideNone, nil
	case "on-hold", "on_hold", "onhold", "hold", "paused":
		return OverrideOnHold, nil
	case "blocked":
		return OverrideBlocked, nil
	case "completed", "complete", "done":
		return OverrideCompleted, nil
	}
	return "", ErrInvalidOverride
}

// DeriveStatus maps progress, due date and override to a status.
//
// Order matters: an override wins; completed beats overdue; overdue beats
// in-progress.
func DeriveStatus(progress float64, dueAt *time.Time, override Override, now time.Time) Status {
	switch override {
	case OverrideOnHold:
		return StatusOnHold
	case OverrideBlocked:
		return StatusBlocked
	case OverrideCompleted:
		return StatusCompleted
	}
	if progress >= MaxProgress {
		return StatusCompleted
	}
	if dueAt != nil && dueAt.Before(now) {
		return StatusOverdue
	}
	if progress > 0 {
		return StatusInProgress
	}
	return StatusPending
}
