// Package plan loads YAML work-breakdown files that seed a project hierarchy.
package plan

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidPlan is returned for structurally invalid plan files.
var ErrInvalidPlan = errors.New("invalid plan")

// Plan is a nested work breakdown. Items reference each other by Key.
type Plan struct {
	Project     string `yaml:"project"`
	Description string `yaml:"description"`
	Items       []Item `yaml:"items"`
}

// Item is one node of a plan file.
type Item struct {
	Key         string   `yaml:"key"`
	Title       string   `yaml:"title"`
	Kind        string   `yaml:"kind"`
	Description string   `yaml:"description"`
	Weight      *float64 `yaml:"weight"`
	Progress    float64  `yaml:"progress"`
	Due         string   `yaml:"due"`
	DependsOn   []string `yaml:"depends_on"`
	Children    []Item   `yaml:"children"`
}

// Entry is a flattened plan item with its parent key and parsed due date.
type Entry struct {
	Item
	ParentKey string
	DueAt     *time.Time
}

// Load reads and parses a plan file.
func Load(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("reading plan file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates plan YAML.
func Parse(data []byte) (Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Plan{}, fmt.Errorf("parsing plan file: %w", err)
	}
	if _, err := p.Flatten(); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// Flatten returns every item in depth-first pre-order so parents precede
// children. Keys default to titles and must be unique; depends_on must name
// keys defined somewhere in the plan.
func (p Plan) Flatten() ([]Entry, error) {
	var out []Entry
	seen := map[string]struct{}{}
	var walk func(items []Item, parentKey, path string) error
	walk = func(items []Item, parentKey, path string) error {
		for i, item := range items {
			where := fmt.Sprintf("%s[%d]", path, i)
			item.Title = strings.TrimSpace(item.Title)
			item.Key = strings.TrimSpace(item.Key)
			if item.Title == "" {
				return fmt.Errorf("%w: %s.title is required", ErrInvalidPlan, where)
			}
			if item.Key == "" {
				item.Key = item.Title
			}
			if _, ok := seen[item.Key]; ok {
				return fmt.Errorf("%w: duplicate key %q at %s", ErrInvalidPlan, item.Key, where)
			}
			seen[item.Key] = struct{}{}

			entry := Entry{Item: item, ParentKey: parentKey}
			entry.Children = nil
			if due := strings.TrimSpace(item.Due); due != "" {
				ts, err := parseDue(due)
				if err != nil {
					return fmt.Errorf("%w: %s.due: %v", ErrInvalidPlan, where, err)
				}
				entry.DueAt = &ts
			}
			out = append(out, entry)
			if err := walk(item.Children, item.Key, where+".children"); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(p.Items, "", "items"); err != nil {
		return nil, err
	}
	for _, entry := range out {
		for _, dep := range entry.DependsOn {
			if _, ok := seen[strings.TrimSpace(dep)]; !ok {
				return nil, fmt.Errorf("%w: %q depends on unknown key %q", ErrInvalidPlan, entry.Key, dep)
			}
		}
	}
	return out, nil
}

// parseDue accepts a calendar date or an RFC3339 timestamp.
func parseDue(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.DateOnly, raw); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD or RFC3339, got %q", raw)
	}
	return ts.UTC(), nil
}
