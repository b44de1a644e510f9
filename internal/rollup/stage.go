package rollup

import (
	"slices"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/domain"
)

// stage holds pending tree changes so a whole operation can be computed
// before any of it is written.
type stage struct {
	t        *Tree
	kids     map[string][]string
	parents  map[string]string
	weight   map[string]float64
	progress map[string]float64
	added    map[string]*domain.WorkItem
	removed  map[string]struct{}
}

func (t *Tree) newStage() *stage {
	return &stage{
		t:        t,
		kids:     map[string][]string{},
		parents:  map[string]string{},
		weight:   map[string]float64{},
		progress: map[string]float64{},
		added:    map[string]*domain.WorkItem{},
		removed:  map[string]struct{}{},
	}
}

func (s *stage) node(id string) *domain.WorkItem {
	if n, ok := s.added[id]; ok {
		return n
	}
	return s.t.nodes[id]
}

func (s *stage) children(id string) []string {
	if kids, ok := s.kids[id]; ok {
		return kids
	}
	return s.t.children[id]
}

func (s *stage) parentOf(id string) string {
	if p, ok := s.parents[id]; ok {
		return p
	}
	return s.node(id).ParentID
}

func (s *stage) accessor() Accessor[string] {
	return Accessor[string]{
		ID:       func(id string) string { return id },
		Children: s.children,
		Weight: func(id string) float64 {
			if w, ok := s.weight[id]; ok {
				return w
			}
			return s.node(id).Weight
		},
		Progress: func(id string) float64 {
			if p, ok := s.progress[id]; ok {
				return p
			}
			return s.node(id).Progress
		},
	}
}

// propagate recomputes start and each of its ancestors against the staged
// state, nearest first, and returns the ids it staged.
func (s *stage) propagate(start string) ([]string, error) {
	acc := s.accessor()
	limit := len(s.t.nodes) + len(s.added)
	var written []string
	for id := start; id != rootKey; id = s.parentOf(id) {
		if len(written) > limit {
			return nil, &domain.InvariantViolation{ItemID: start, Detail: "parent chain contains a cycle"}
		}
		v, err := Shallow(id, acc)
		if err != nil {
			return nil, err
		}
		s.progress[id] = v
		written = append(written, id)
	}
	return written, nil
}

func (s *stage) sortStaged(parentID string) {
	slices.SortStableFunc(s.kids[parentID], func(a, b string) int {
		return compareItems(s.node(a), s.node(b))
	})
}

func (s *stage) commit() {
	t := s.t
	for id, n := range s.added {
		t.nodes[id] = n
	}
	for id := range s.removed {
		delete(t.nodes, id)
		delete(t.children, id)
	}
	for id, kids := range s.kids {
		if len(kids) == 0 {
			delete(t.children, id)
			continue
		}
		t.children[id] = kids
	}
	for id, parentID := range s.parents {
		t.nodes[id].ParentID = parentID
	}
	for id, w := range s.weight {
		t.nodes[id].Weight = w
	}
	for id, p := range s.progress {
		if n, ok := t.nodes[id]; ok {
			n.Progress = p
		}
	}
}
