// Package rollup computes weighted progress over a work-item hierarchy.
package rollup

import (
	"fmt"
	"math"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/domain"
)

// Accessor exposes the shape of a hierarchy of T to the aggregation functions.
type Accessor[T any] struct {
	ID       func(T) string
	Children func(T) []T
	Weight   func(T) float64
	Progress func(T) float64
}

// Compute returns the weighted progress of node, resolving every descendant
// depth-first before its parent.
func Compute[T any](node T, acc Accessor[T]) (float64, error) {
	children := acc.Children(node)
	if len(children) == 0 {
		return leafProgress(node, acc)
	}
	return combine(children, acc, func(child T) (float64, error) {
		return Compute(child, acc)
	})
}

// Shallow returns the weighted progress of node from the stored progress of
// its direct children. It equals Compute whenever every descendant already
// holds its derived value.
func Shallow[T any](node T, acc Accessor[T]) (float64, error) {
	children := acc.Children(node)
	if len(children) == 0 {
		return leafProgress(node, acc)
	}
	return combine(children, acc, func(child T) (float64, error) {
		return leafProgress(child, acc)
	})
}

// Normalize clamps v to [0, 100] and rounds it to two decimals.
func Normalize(v float64) float64 {
	v = math.Max(domain.MinProgress, math.Min(domain.MaxProgress, v))
	return math.Round(v*100) / 100
}

func leafProgress[T any](node T, acc Accessor[T]) (float64, error) {
	p := acc.Progress(node)
	if math.IsNaN(p) || p < domain.MinProgress || p > domain.MaxProgress {
		return 0, &domain.InvariantViolation{ItemID: acc.ID(node), Detail: fmt.Sprintf("progress %v outside [0, 100]", p)}
	}
	return p, nil
}

func combine[T any](children []T, acc Accessor[T], progress func(T) (float64, error)) (float64, error) {
	var total, sum float64
	for _, child := range children {
		w := acc.Weight(child)
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return 0, &domain.InvariantViolation{ItemID: acc.ID(child), Detail: fmt.Sprintf("weight %v is not a finite non-negative number", w)}
		}
		p, err := progress(child)
		if err != nil {
			return 0, err
		}
		total += w
		sum += w * p
	}
	if total == 0 {
		return 0, nil
	}
	return Normalize(sum / total), nil
}
