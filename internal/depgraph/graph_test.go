package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/domain"
)

func TestAddDependencyAcceptsAcyclicEdges(t *testing.T) {
	g := New()
	require.NoError(t, g.AddDependency("A", "B"))
	require.NoError(t, g.AddDependency("B", "C"))
	require.NoError(t, g.AddDependency("A", "C"))

	assert.Equal(t, []string{"B", "C"}, g.Dependencies("A"))
	assert.Equal(t, []Edge{
		{ItemID: "A", DependsOnID: "B"},
		{ItemID: "A", DependsOnID: "C"},
		{ItemID: "B", DependsOnID: "C"},
	}, g.Edges())
}

func TestAddDependencyRejectsCycles(t *testing.T) {
	g := New()
	require.NoError(t, g.AddDependency("A", "B"))

	err := g.AddDependency("B", "A")
	var cerr *domain.CycleError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []string{"B", "A", "B"}, cerr.Path)
	assert.Equal(t, []Edge{{ItemID: "A", DependsOnID: "B"}}, g.Edges())
}

func TestAddDependencyRejectsLongCycles(t *testing.T) {
	g := New()
	require.NoError(t, g.AddDependency("A", "B"))
	require.NoError(t, g.AddDependency("B", "C"))
	require.NoError(t, g.AddDependency("C", "D"))

	err := g.AddDependency("D", "A")
	var cerr *domain.CycleError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "D", cerr.From)
	assert.Equal(t, "A", cerr.To)
	assert.Equal(t, []string{"D", "A", "B", "C", "D"}, cerr.Path)
	assert.Empty(t, g.Dependencies("D"))
}

func TestAddDependencyRejectsSelfAndBlankIDs(t *testing.T) {
	g := New()
	err := g.AddDependency("A", "A")
	assert.ErrorIs(t, err, domain.ErrCycle)
	err = g.AddDependency(" ", "A")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, g.Edges())
}

func TestAddDependencyDuplicateIsNoop(t *testing.T) {
	g := New()
	require.NoError(t, g.AddDependency("A", "B"))
	require.NoError(t, g.AddDependency("A", "B"))
	assert.Equal(t, []string{"B"}, g.Dependencies("A"))
}

func TestRemoveDependency(t *testing.T) {
	g := New()
	require.NoError(t, g.AddDependency("A", "B"))
	assert.True(t, g.RemoveDependency("A", "B"))
	assert.False(t, g.RemoveDependency("A", "B"))
	assert.False(t, g.HasDependency("A", "B"))

	require.NoError(t, g.AddDependency("B", "A"), "reverse edge is allowed once the original is gone")
}

func TestDependencyChainFirstVisitOrder(t *testing.T) {
	g := New()
	require.NoError(t, g.AddDependency("ship", "test"))
	require.NoError(t, g.AddDependency("ship", "docs"))
	require.NoError(t, g.AddDependency("test", "build"))
	require.NoError(t, g.AddDependency("docs", "build"))
	require.NoError(t, g.AddDependency("build", "design"))

	assert.Equal(t, []string{"test", "build", "design", "docs"}, g.DependencyChain("ship"))
	assert.Empty(t, g.DependencyChain("design"))
	assert.Empty(t, g.DependencyChain("unknown"))
}

func TestRemoveItemCascades(t *testing.T) {
	g := New()
	require.NoError(t, g.AddDependency("Y", "X"))
	require.NoError(t, g.AddDependency("Z", "X"))
	require.NoError(t, g.AddDependency("X", "W"))
	require.NoError(t, g.AddDependency("Y", "V"))

	changed := g.RemoveItem("X")
	assert.Equal(t, []string{"Y", "Z"}, changed)
	assert.NotContains(t, g.DependencyChain("Y"), "X")
	assert.NotContains(t, g.DependencyChain("Y"), "W")
	assert.Equal(t, []string{"V"}, g.DependencyChain("Y"))
	assert.Empty(t, g.Dependents("X"))
	assert.Empty(t, g.Dependencies("X"))
}

func TestDependents(t *testing.T) {
	g := New()
	require.NoError(t, g.AddDependency("c", "a"))
	require.NoError(t, g.AddDependency("b", "a"))
	assert.Equal(t, []string{"b", "c"}, g.Dependents("a"))
}

func TestTopologicalOrder(t *testing.T) {
	g := New()
	require.NoError(t, g.AddDependency("ship", "test"))
	require.NoError(t, g.AddDependency("test", "build"))
	require.NoError(t, g.AddDependency("docs", "design"))
	require.NoError(t, g.AddDependency("build", "design"))
	require.NoError(t, g.AddDependency("build", "outside"))

	order, err := g.TopologicalOrder([]string{"ship", "docs", "test", "build", "design"})
	require.NoError(t, err)
	assert.Equal(t, []string{"design", "docs", "build", "test", "ship"}, order)
}

func TestBlockers(t *testing.T) {
	g := New()
	require.NoError(t, g.AddDependency("ship", "test"))
	require.NoError(t, g.AddDependency("ship", "docs"))
	done := map[string]bool{"docs": true}
	assert.Equal(t, []string{"test"}, g.Blockers("ship", func(id string) bool { return done[id] }))
}

func TestFromItems(t *testing.T) {
	g, err := FromItems([]domain.WorkItem{
		{ID: "a", Dependencies: []string{"b"}},
		{ID: "b", Dependencies: []string{"c"}},
		{ID: "c"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, g.DependencyChain("a"))

	_, err = FromItems([]domain.WorkItem{
		{ID: "a", Dependencies: []string{"b"}},
		{ID: "b", Dependencies: []string{"a"}},
	})
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}
