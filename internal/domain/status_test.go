package domain

import (
	"testing"
	"time"
)

func TestDeriveStatusPrecedence(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	cases := []struct {
		name     string
		progress float64
		due      *time.Time
		override Override
		want     Status
	}{
		{name: "pending", progress: 0, want: StatusPending},
		{name: "in progress", progress: 40, due: &future, want: StatusInProgress},
		{name: "completed", progress: 100, want: StatusCompleted},
		{name: "completed beats overdue", progress: 100, due: &past, want: StatusCompleted},
		{name: "overdue beats in progress", progress: 40, due: &past, want: StatusOverdue},
		{name: "overdue with no progress", progress: 0, due: &past, want: StatusOverdue},
		{name: "due exactly now is not overdue", progress: 10, due: &now, want: StatusInProgress},
		{name: "on hold override wins", progress: 40, due: &past, override: OverrideOnHold, want: StatusOnHold},
		{name: "blocked override wins", progress: 100, override: OverrideBlocked, want: StatusBlocked},
		{name: "forced completion", progress: 10, due: &past, override: OverrideCompleted, want: StatusCompleted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveStatus(tc.progress, tc.due, tc.override, now); got != tc.want {
				t.Fatalf("DeriveStatus() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestWorkItemStatusUsesOwnFields(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	item := WorkItem{Progress: 40, DueAt: &past}
	if got := item.Status(now); got != StatusOverdue {
		t.Fatalf("expected overdue, got %q", got)
	}
}

func TestNormalizeOverrideAliases(t *testing.T) {
	cases := map[Override]Override{
		"":          OverrideNone,
		" None ":    OverrideNone,
		"ON_HOLD":   OverrideOnHold,
		"paused":    OverrideOnHold,
		"Blocked":   OverrideBlocked,
		"done":      OverrideCompleted,
		"completed": OverrideCompleted,
	}
	for in, want := range cases {
		got, err := NormalizeOverride(in)
		if err != nil {
			t.Fatalf("NormalizeOverride(%q) error = %v", in, err)
		}
		if got != want {
			t.Fatalf("NormalizeOverride(%q) = %q, want %q", in, got, want)
		}
	}
}
