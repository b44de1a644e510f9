package rollup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/domain"
)

var base = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

// item builds a work item whose creation order follows seq.
func item(id, parent string, weight, progress float64, seq int) domain.WorkItem {
	return domain.WorkItem{
		ID:        id,
		ProjectID: "p1",
		ParentID:  parent,
		Title:     id,
		Weight:    weight,
		Progress:  progress,
		CreatedAt: base.Add(time.Duration(seq) * time.Minute),
	}
}

// sampleTree builds:
//
//	planning (20)
//	  requirements (60) 100
//	  schedule (40) 50
//	build (80)
//	  frame (1)
//	    walls (1) 0
//	    roof (1) 0
//	  wiring (1) 0
func sampleTree(t *testing.T) *Tree {
	t.Helper()
	tree, _, err := Build([]domain.WorkItem{
		item("wiring", "build", 1, 0, 7),
		item("planning", "", 20, 0, 1),
		item("requirements", "planning", 60, 100, 2),
		item("schedule", "planning", 40, 50, 3),
		item("build", "", 80, 0, 4),
		item("frame", "build", 1, 0, 5),
		item("walls", "frame", 1, 0, 6),
		item("roof", "frame", 1, 0, 6),
	})
	require.NoError(t, err)
	return tree
}

func progressOf(t *testing.T, tree *Tree, id string) float64 {
	t.Helper()
	got, ok := tree.Get(id)
	require.True(t, ok, "missing %s", id)
	return got.Progress
}

// assertConsistent checks every stored progress against a fresh recompute.
func assertConsistent(t *testing.T, tree *Tree) {
	t.Helper()
	for _, it := range tree.Items() {
		fresh, err := tree.ComputeProgress(it.ID)
		require.NoError(t, err)
		assert.Equal(t, fresh, it.Progress, "stale progress on %s", it.ID)
	}
}

func TestBuildOrdersAndDerives(t *testing.T) {
	tree := sampleTree(t)
	assert.Equal(t, []string{"planning", "build"}, tree.Roots())
	assert.Equal(t, []string{"frame", "wiring"}, tree.Children("build"))
	assert.Equal(t, []string{"roof", "walls"}, tree.Children("frame"), "ties fall back to id order")
	assert.Equal(t, 80.0, progressOf(t, tree, "planning"))
	assert.Equal(t, 8, tree.Len())
	assertConsistent(t, tree)

	ids := []string{}
	for _, it := range tree.Items() {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []string{"planning", "requirements", "schedule", "build", "frame", "roof", "walls", "wiring"}, ids)
}

func TestBuildReportsRepairedParents(t *testing.T) {
	_, repaired, err := Build([]domain.WorkItem{
		item("parent", "", 1, 12, 1),
		item("child", "parent", 1, 40, 2),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"parent"}, repaired)
}

func TestBuildRejectsCorruptInput(t *testing.T) {
	cases := map[string][]domain.WorkItem{
		"duplicate":      {item("a", "", 1, 0, 1), item("a", "", 1, 0, 2)},
		"orphan":         {item("a", "ghost", 1, 0, 1)},
		"parent cycle":   {item("a", "b", 1, 0, 1), item("b", "a", 1, 0, 2)},
		"self parent":    {item("a", "a", 1, 0, 1)},
		"negative":       {item("a", "", -1, 0, 1)},
		"progress range": {item("a", "", 1, 101, 1)},
	}
	for name, items := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := Build(items)
			assert.ErrorIs(t, err, domain.ErrInvariantViolation)
		})
	}
}

func TestPropagateUpdateWalksToRoot(t *testing.T) {
	tree := sampleTree(t)

	written, err := tree.PropagateUpdate("walls", 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"walls", "frame", "build"}, written)
	assert.Equal(t, 50.0, progressOf(t, tree, "frame"))
	assert.Equal(t, 25.0, progressOf(t, tree, "build"))
	assertConsistent(t, tree)

	overall, err := tree.Overall()
	require.NoError(t, err)
	assert.Equal(t, 36.0, overall)
}

func TestPropagateUpdateRejectsOutOfRange(t *testing.T) {
	tree := sampleTree(t)
	before := tree.Items()

	for _, p := range []float64{-5, 150} {
		_, err := tree.PropagateUpdate("walls", p)
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
	}
	assert.Equal(t, before, tree.Items())
}

func TestPropagateUpdateRejectsParents(t *testing.T) {
	tree := sampleTree(t)
	_, err := tree.PropagateUpdate("frame", 90)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 0.0, progressOf(t, tree, "frame"))

	_, err = tree.PropagateUpdate("ghost", 10)
	assert.ErrorIs(t, err, ErrUnknownItem)
}

func TestAddChildTurnsLeafIntoDerivedParent(t *testing.T) {
	tree := sampleTree(t)
	_, err := tree.PropagateUpdate("wiring", 60)
	require.NoError(t, err)

	written, err := tree.Add(item("conduit", "wiring", 1, 10, 9))
	require.NoError(t, err)
	assert.Equal(t, []string{"wiring", "build"}, written)
	assert.Equal(t, 10.0, progressOf(t, tree, "wiring"))
	assertConsistent(t, tree)

	_, err = tree.Add(item("zero", "planning", 0, 0, 10))
	require.NoError(t, err)
	assert.Equal(t, 80.0, progressOf(t, tree, "planning"))
}

func TestAddValidation(t *testing.T) {
	tree := sampleTree(t)
	_, err := tree.Add(item("walls", "frame", 1, 0, 20))
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = tree.Add(item("x", "ghost", 1, 0, 20))
	assert.ErrorIs(t, err, ErrUnknownItem)
	_, err = tree.Add(item("x", "", -2, 0, 20))
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.False(t, tree.Has("x"))
}

func TestRemoveCascade(t *testing.T) {
	tree := sampleTree(t)
	_, err := tree.PropagateUpdate("wiring", 100)
	require.NoError(t, err)

	removed, written, err := tree.Remove("frame", RemoveCascade)
	require.NoError(t, err)
	assert.Equal(t, []string{"frame", "roof", "walls"}, removed)
	assert.Equal(t, []string{"build"}, written)
	assert.Equal(t, 100.0, progressOf(t, tree, "build"))
	assert.False(t, tree.Has("walls"))
	assert.Equal(t, 5, tree.Len())
	assertConsistent(t, tree)
}

func TestRemoveReparent(t *testing.T) {
	tree := sampleTree(t)
	_, err := tree.PropagateUpdate("roof", 100)
	require.NoError(t, err)

	removed, _, err := tree.Remove("frame", RemoveReparent)
	require.NoError(t, err)
	assert.Equal(t, []string{"frame"}, removed)
	assert.Equal(t, []string{"roof", "walls", "wiring"}, tree.Children("build"))
	walls, _ := tree.Get("walls")
	assert.Equal(t, "build", walls.ParentID)
	assert.Equal(t, 33.33, progressOf(t, tree, "build"))
	assertConsistent(t, tree)
}

func TestRemoveLastChildKeepsDerivedValue(t *testing.T) {
	tree := sampleTree(t)
	_, _, err := tree.Remove("requirements", RemoveCascade)
	require.NoError(t, err)
	_, _, err = tree.Remove("schedule", RemoveCascade)
	require.NoError(t, err)
	assert.True(t, tree.IsLeaf("planning"))
	assert.Equal(t, 50.0, progressOf(t, tree, "planning"))
}

func TestRemoveRootWithReparentPromotesChildren(t *testing.T) {
	tree := sampleTree(t)
	_, written, err := tree.Remove("planning", RemoveReparent)
	require.NoError(t, err)
	assert.Empty(t, written)
	assert.Equal(t, []string{"requirements", "schedule", "build"}, tree.Roots())
}

func TestReparentMovesAndRecomputesBothChains(t *testing.T) {
	tree := sampleTree(t)

	written, err := tree.Reparent("schedule", "frame")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"planning", "frame", "build"}, written)
	assert.Equal(t, 100.0, progressOf(t, tree, "planning"))
	assert.Equal(t, 47.62, progressOf(t, tree, "frame"))
	assert.Equal(t, 23.81, progressOf(t, tree, "build"))
	assert.Equal(t, []string{"schedule", "roof", "walls"}, tree.Children("frame"), "siblings stay in creation order")
	assertConsistent(t, tree)

	written, err = tree.Reparent("schedule", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"frame", "build"}, written)
	assert.Contains(t, tree.Roots(), "schedule")
	assertConsistent(t, tree)
}

func TestReparentRejectsCycles(t *testing.T) {
	tree := sampleTree(t)

	_, err := tree.Reparent("build", "walls")
	var cerr *domain.CycleError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []string{"build", "frame", "walls", "build"}, cerr.Path)

	_, err = tree.Reparent("frame", "frame")
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []string{"frame", "frame"}, cerr.Path)

	walls, _ := tree.Get("walls")
	assert.Equal(t, "frame", walls.ParentID)
	assert.Equal(t, []string{"planning", "build"}, tree.Roots())
}

func TestSetWeightRecomputesAncestors(t *testing.T) {
	tree := sampleTree(t)
	written, err := tree.SetWeight("schedule", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"planning"}, written)
	assert.Equal(t, 100.0, progressOf(t, tree, "planning"))

	_, err = tree.SetWeight("schedule", -1)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = tree.SetWeight("requirements", 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, progressOf(t, tree, "planning"), "all-zero weights yield zero")
}

func TestAncestorsAndDescendants(t *testing.T) {
	tree := sampleTree(t)
	assert.Equal(t, []string{"frame", "build"}, tree.Ancestors("walls"))
	assert.Empty(t, tree.Ancestors("build"))
	assert.Equal(t, []string{"frame", "roof", "walls", "wiring"}, tree.Descendants("build"))
	assert.Empty(t, tree.Children(""))
}

func TestRefreshRewritesChain(t *testing.T) {
	tree := sampleTree(t)
	written, err := tree.Refresh("walls")
	require.NoError(t, err)
	assert.Equal(t, []string{"walls", "frame", "build"}, written)
	assertConsistent(t, tree)
}

func TestUpdateKeepsTreeOwnedFields(t *testing.T) {
	tree := sampleTree(t)
	updated, err := tree.Update("schedule", func(w *domain.WorkItem) {
		w.Title = "Master schedule"
		w.Progress = 99
		w.Weight = 1000
		w.ParentID = ""
	})
	require.NoError(t, err)
	assert.Equal(t, "Master schedule", updated.Title)
	assert.Equal(t, 50.0, updated.Progress)
	assert.Equal(t, 40.0, updated.Weight)
	assert.Equal(t, "planning", updated.ParentID)

	_, err = tree.Update("ghost", func(*domain.WorkItem) {})
	assert.ErrorIs(t, err, ErrUnknownItem)
}
