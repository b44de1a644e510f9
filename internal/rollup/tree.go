package rollup

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/domain"
)

// ErrUnknownItem is returned when an id is not present in the tree.
var ErrUnknownItem = errors.New("unknown work item")

// RemovePolicy decides what happens to the children of a removed item.
type RemovePolicy string

// RemovePolicy values.
const (
	RemoveCascade  RemovePolicy = "cascade"
	RemoveReparent RemovePolicy = "reparent"
)

// rootKey indexes the ordered root list in Tree.children.
const rootKey = ""

// Tree is an arena store of work items keyed by id with an ordered
// parent-to-children index. It is not safe for concurrent use.
type Tree struct {
	nodes    map[string]*domain.WorkItem
	children map[string][]string
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{
		nodes:    map[string]*domain.WorkItem{},
		children: map[string][]string{},
	}
}

// Build loads items in any order and recomputes every derived progress.
// Structural corruption (duplicate ids, missing parents, parent cycles,
// out-of-range values) is reported as an InvariantViolation.
func Build(items []domain.WorkItem) (*Tree, []string, error) {
	t := NewTree()
	for _, item := range items {
		if _, ok := t.nodes[item.ID]; ok || item.ID == "" {
			return nil, nil, &domain.InvariantViolation{ItemID: item.ID, Detail: "duplicate or empty id"}
		}
		if err := domain.ValidateWeight(item.Weight); err != nil {
			return nil, nil, &domain.InvariantViolation{ItemID: item.ID, Detail: err.Error()}
		}
		if err := domain.ValidateProgress(item.Progress); err != nil {
			return nil, nil, &domain.InvariantViolation{ItemID: item.ID, Detail: err.Error()}
		}
		clone := item.Clone()
		t.nodes[item.ID] = &clone
	}
	for _, node := range t.nodes {
		if node.ParentID != rootKey {
			if _, ok := t.nodes[node.ParentID]; !ok {
				return nil, nil, &domain.InvariantViolation{ItemID: node.ID, Detail: fmt.Sprintf("parent %q does not exist", node.ParentID)}
			}
		}
		t.children[node.ParentID] = append(t.children[node.ParentID], node.ID)
	}
	for key := range t.children {
		t.sortChildren(key)
	}

	reached := 0
	for range t.walk(rootKey) {
		reached++
	}
	if reached != len(t.nodes) {
		for id := range t.nodes {
			if len(t.Ancestors(id)) > len(t.nodes) {
				return nil, nil, &domain.InvariantViolation{ItemID: id, Detail: "parent chain contains a cycle"}
			}
		}
		return nil, nil, &domain.InvariantViolation{Detail: "parent chain contains a cycle"}
	}

	repaired, err := t.refreshAll()
	if err != nil {
		return nil, nil, err
	}
	return t, repaired, nil
}

// Len returns the number of items.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Has reports whether id is present.
func (t *Tree) Has(id string) bool {
	_, ok := t.nodes[id]
	return ok
}

// Get returns a copy of the item stored under id.
func (t *Tree) Get(id string) (domain.WorkItem, bool) {
	node, ok := t.nodes[id]
	if !ok {
		return domain.WorkItem{}, false
	}
	return node.Clone(), true
}

// Items returns copies of every item in depth-first pre-order.
func (t *Tree) Items() []domain.WorkItem {
	out := make([]domain.WorkItem, 0, len(t.nodes))
	for id := range t.walk(rootKey) {
		out = append(out, t.nodes[id].Clone())
	}
	return out
}

// Roots returns the ordered root ids.
func (t *Tree) Roots() []string {
	return slices.Clone(t.children[rootKey])
}

// Children returns the ordered direct children of id.
func (t *Tree) Children(id string) []string {
	if id == rootKey {
		return nil
	}
	return slices.Clone(t.children[id])
}

// IsLeaf reports whether id has no children.
func (t *Tree) IsLeaf(id string) bool {
	return len(t.children[id]) == 0
}

// Ancestors returns the parent chain of id, nearest first.
func (t *Tree) Ancestors(id string) []string {
	out := []string{}
	node, ok := t.nodes[id]
	for ok && node.ParentID != rootKey {
		out = append(out, node.ParentID)
		if len(out) > len(t.nodes) {
			break
		}
		node, ok = t.nodes[node.ParentID]
	}
	return out
}

// Descendants returns every item below id in depth-first pre-order.
func (t *Tree) Descendants(id string) []string {
	out := []string{}
	for desc := range t.walk(id) {
		out = append(out, desc)
	}
	return out
}

// ComputeProgress recomputes the weighted progress of id from scratch.
func (t *Tree) ComputeProgress(id string) (float64, error) {
	if _, ok := t.nodes[id]; !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownItem, id)
	}
	return Compute(id, t.newStage().accessor())
}

// Overall returns the weighted progress across all roots, 0 when empty.
func (t *Tree) Overall() (float64, error) {
	if len(t.children[rootKey]) == 0 {
		return 0, nil
	}
	return Shallow(rootKey, t.newStage().accessor())
}

// PropagateUpdate writes progress to a leaf and recomputes every ancestor,
// leaf to root. It returns the written ids, leaf first. Nothing is written
// when any step fails.
func (t *Tree) PropagateUpdate(leafID string, progress float64) ([]string, error) {
	if err := domain.ValidateProgress(progress); err != nil {
		return nil, err
	}
	node, ok := t.nodes[leafID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownItem, leafID)
	}
	if !t.IsLeaf(leafID) {
		return nil, &domain.ValidationError{Field: "progress", Value: progress, Reason: "derived from children and cannot be set directly"}
	}

	s := t.newStage()
	s.progress[leafID] = progress
	written := []string{leafID}
	up, err := s.propagate(node.ParentID)
	if err != nil {
		return nil, err
	}
	s.commit()
	return append(written, up...), nil
}

// Add inserts item under item.ParentID and recomputes the ancestor chain.
// It returns the ancestor ids whose progress was rewritten.
func (t *Tree) Add(item domain.WorkItem) ([]string, error) {
	if item.ID == rootKey {
		return nil, &domain.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if _, ok := t.nodes[item.ID]; ok {
		return nil, &domain.ValidationError{Field: "id", Value: item.ID, Reason: "already exists"}
	}
	if item.ParentID != rootKey {
		if _, ok := t.nodes[item.ParentID]; !ok {
			return nil, fmt.Errorf("%w: parent %q", ErrUnknownItem, item.ParentID)
		}
	}
	if err := domain.ValidateWeight(item.Weight); err != nil {
		return nil, err
	}
	if err := domain.ValidateProgress(item.Progress); err != nil {
		return nil, err
	}

	clone := item.Clone()
	s := t.newStage()
	s.added[item.ID] = &clone
	s.kids[item.ParentID] = t.insertSorted(item.ParentID, &clone)
	written, err := s.propagate(item.ParentID)
	if err != nil {
		return nil, err
	}
	s.commit()
	return written, nil
}

// Remove deletes id. With RemoveCascade the whole subtree goes; with
// RemoveReparent the direct children move to id's parent. It returns the
// removed ids and the ancestor ids whose progress was rewritten. A parent
// left without children keeps its last derived progress as its own.
func (t *Tree) Remove(id string, policy RemovePolicy) ([]string, []string, error) {
	node, ok := t.nodes[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownItem, id)
	}

	s := t.newStage()
	parentID := node.ParentID
	siblings := t.children[parentID]
	idx := slices.Index(siblings, id)
	var removed []string
	switch policy {
	case RemoveCascade, "":
		removed = append([]string{id}, t.Descendants(id)...)
		s.kids[parentID] = slices.Delete(slices.Clone(siblings), idx, idx+1)
	case RemoveReparent:
		removed = []string{id}
		moved := t.children[id]
		next := slices.Delete(slices.Clone(siblings), idx, idx+1)
		for _, childID := range moved {
			s.parents[childID] = parentID
		}
		next = append(next, moved...)
		s.kids[parentID] = next
		s.sortStaged(parentID)
	default:
		return nil, nil, &domain.ValidationError{Field: "policy", Value: string(policy), Reason: "must be cascade or reparent"}
	}
	for _, gone := range removed {
		s.removed[gone] = struct{}{}
	}

	written, err := s.propagate(parentID)
	if err != nil {
		return nil, nil, err
	}
	s.commit()
	return removed, written, nil
}

// Reparent moves id under newParentID, or to the roots when newParentID is
// empty. Moving an item under itself or one of its descendants fails with a
// CycleError.
func (t *Tree) Reparent(id, newParentID string) ([]string, error) {
	node, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownItem, id)
	}
	if newParentID != rootKey {
		if _, ok := t.nodes[newParentID]; !ok {
			return nil, fmt.Errorf("%w: parent %q", ErrUnknownItem, newParentID)
		}
		if newParentID == id || slices.Contains(t.Ancestors(newParentID), id) {
			path := []string{id}
			chain := t.Ancestors(newParentID)
			cut := slices.Index(chain, id)
			for i := cut - 1; i >= 0; i-- {
				path = append(path, chain[i])
			}
			if newParentID != id {
				path = append(path, newParentID)
			}
			path = append(path, id)
			return nil, &domain.CycleError{From: id, To: newParentID, Path: path}
		}
	}
	oldParentID := node.ParentID
	if oldParentID == newParentID {
		return nil, nil
	}

	s := t.newStage()
	s.parents[id] = newParentID
	s.kids[oldParentID] = slices.DeleteFunc(slices.Clone(t.children[oldParentID]), func(childID string) bool {
		return childID == id
	})
	s.kids[newParentID] = append(slices.Clone(t.children[newParentID]), id)
	s.sortStaged(newParentID)

	written, err := s.propagate(oldParentID)
	if err != nil {
		return nil, err
	}
	more, err := s.propagate(newParentID)
	if err != nil {
		return nil, err
	}
	s.commit()
	return mergeIDs(written, more), nil
}

// SetWeight changes the weight of id and recomputes its ancestors.
func (t *Tree) SetWeight(id string, weight float64) ([]string, error) {
	if err := domain.ValidateWeight(weight); err != nil {
		return nil, err
	}
	node, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownItem, id)
	}
	s := t.newStage()
	s.weight[id] = weight
	written, err := s.propagate(node.ParentID)
	if err != nil {
		return nil, err
	}
	s.commit()
	return written, nil
}

// Refresh recomputes id, when it has children, and every ancestor.
func (t *Tree) Refresh(id string) ([]string, error) {
	if _, ok := t.nodes[id]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownItem, id)
	}
	s := t.newStage()
	written, err := s.propagate(id)
	if err != nil {
		return nil, err
	}
	s.commit()
	return written, nil
}

// Update applies fn to the stored item. Fields owned by the tree (id,
// parent, weight, progress) are restored after fn returns.
func (t *Tree) Update(id string, fn func(*domain.WorkItem)) (domain.WorkItem, error) {
	node, ok := t.nodes[id]
	if !ok {
		return domain.WorkItem{}, fmt.Errorf("%w: %q", ErrUnknownItem, id)
	}
	next := node.Clone()
	fn(&next)
	next.ID, next.ParentID, next.Weight, next.Progress = node.ID, node.ParentID, node.Weight, node.Progress
	*node = next
	return node.Clone(), nil
}

// refreshAll recomputes every non-leaf bottom-up and returns the ids whose
// stored progress differed from the derived value.
func (t *Tree) refreshAll() ([]string, error) {
	order := t.Descendants(rootKey)
	s := t.newStage()
	acc := s.accessor()
	var repaired []string
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		if t.IsLeaf(id) {
			continue
		}
		v, err := Shallow(id, acc)
		if err != nil {
			return nil, err
		}
		if v != t.nodes[id].Progress {
			repaired = append(repaired, id)
		}
		s.progress[id] = v
	}
	s.commit()
	return repaired, nil
}

func (t *Tree) insertSorted(parentID string, item *domain.WorkItem) []string {
	kids := slices.Clone(t.children[parentID])
	idx, _ := slices.BinarySearchFunc(kids, item, func(childID string, target *domain.WorkItem) int {
		return compareItems(t.nodes[childID], target)
	})
	return slices.Insert(kids, idx, item.ID)
}

func (t *Tree) sortChildren(parentID string) {
	slices.SortStableFunc(t.children[parentID], func(a, b string) int {
		return compareItems(t.nodes[a], t.nodes[b])
	})
}

// walk yields the ids below id in depth-first pre-order.
func (t *Tree) walk(id string) func(yield func(string) bool) {
	return func(yield func(string) bool) {
		stack := slices.Clone(t.children[id])
		slices.Reverse(stack)
		seen := map[string]struct{}{}
		for len(stack) > 0 {
			next := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if _, ok := seen[next]; ok {
				continue
			}
			seen[next] = struct{}{}
			if !yield(next) {
				return
			}
			kids := t.children[next]
			for i := len(kids) - 1; i >= 0; i-- {
				stack = append(stack, kids[i])
			}
		}
	}
}

// compareItems orders siblings by creation time, then id.
func compareItems(a, b *domain.WorkItem) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func mergeIDs(a, b []string) []string {
	out := slices.Clone(a)
	for _, id := range b {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
