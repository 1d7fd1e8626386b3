package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/graph"
	"github.com/squareup/flowbase/materialize"
)

type joinOp struct {
	LeftKey, RightKey []int
}

func schema() []common.ColumnType {
	return []common.ColumnType{common.BigIntColumnType, common.BigIntColumnType}
}

func newTestPlanner(g *graph.Graph) *Planner {
	return NewPlanner(g, materialize.GraphBaseNodes{G: g}, materialize.MapExecutors{}, 1)
}

func stepsOfKind(steps []Step, kind StepKind) []Step {
	var out []Step
	for _, s := range steps {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// TestPlannerBaseGetsOwnDomain covers sub-phase 1 for a source node: no
// ancestors means a fresh domain, one SpawnReplica, one InstallNode, one
// ActivateNode, and no Ingress/Egress synthesized.
func TestPlannerBaseGetsOwnDomain(t *testing.T) {
	g := graph.NewGraph()
	p := newTestPlanner(g)
	base := g.NewID()

	steps, err := p.Plan([]NodeSpec{
		{ID: base, Kind: graph.KindBase, Name: "orders", Schema: schema(), Indices: []common.IndexInfo{{Name: "pk", Cols: []int{0}}}},
	})
	require.NoError(t, err)

	require.Len(t, stepsOfKind(steps, SpawnReplica), 1)
	require.Len(t, stepsOfKind(steps, InstallNode), 1)
	require.Len(t, stepsOfKind(steps, ActivateNode), 1)
	assert.Equal(t, base, stepsOfKind(steps, InstallNode)[0].Node)

	n := g.MustNode(base)
	assert.Equal(t, 1, n.DomainID)
}

// TestPlannerSingleAncestorColocates covers sub-phase 1's colocation
// rule: a node with exactly one ancestor domain and no conflicting
// ShardBy joins that same domain, with no synthesized Ingress/Egress.
func TestPlannerSingleAncestorColocates(t *testing.T) {
	g := graph.NewGraph()
	p := newTestPlanner(g)
	base := g.NewID()
	mapNode := g.NewID()

	steps, err := p.Plan([]NodeSpec{
		{ID: base, Kind: graph.KindBase, Name: "orders", Schema: schema(), Indices: []common.IndexInfo{{Name: "pk", Cols: []int{0}}}},
		{ID: mapNode, Kind: graph.KindInternal, Name: "project", Ancestors: []graph.ID{base}, Operator: "project"},
	})
	require.NoError(t, err)

	require.Len(t, stepsOfKind(steps, SpawnReplica), 1, "the map node must colocate, not spawn a second domain")
	assert.Equal(t, g.MustNode(base).DomainID, g.MustNode(mapNode).DomainID)
	assert.Equal(t, []graph.ID{base}, g.MustNode(mapNode).Ancestors)

	install := stepsOfKind(steps, InstallNode)
	require.Len(t, install, 2)
	assert.Equal(t, base, install[0].Node, "bottom-up: base installs before the node reading it")
	assert.Equal(t, mapNode, install[1].Node)
}

// TestPlannerTwoBaseAncestorsGetsOwnDomainWithIngressEgress covers the
// "multi-ancestor inputs disagree" Shuffled case: a join over two
// distinct base domains must land in its own fresh domain, reached
// through a synthesized Egress/Ingress pair per side.
func TestPlannerTwoBaseAncestorsGetsOwnDomainWithIngressEgress(t *testing.T) {
	g := graph.NewGraph()
	p := newTestPlanner(g)
	orders := g.NewID()
	customers := g.NewID()
	join := g.NewID()

	steps, err := p.Plan([]NodeSpec{
		{ID: orders, Kind: graph.KindBase, Name: "orders", Schema: schema(), Indices: []common.IndexInfo{{Name: "pk", Cols: []int{0}}}},
		{ID: customers, Kind: graph.KindBase, Name: "customers", Schema: schema(), Indices: []common.IndexInfo{{Name: "pk", Cols: []int{0}}}},
		{
			ID: join, Kind: graph.KindInternal, Name: "join", Ancestors: []graph.ID{orders, customers},
			Operator: joinOp{LeftKey: []int{1}, RightKey: []int{0}},
			Seeds: []materialize.Seed{
				{Node: orders, Name: "by_customer", Cols: []int{1}},
				{Node: customers, Name: "by_id", Cols: []int{0}},
			},
		},
	})
	require.NoError(t, err)

	joinNodeG := g.MustNode(join)
	assert.NotEqual(t, g.MustNode(orders).DomainID, joinNodeG.DomainID)
	assert.NotEqual(t, g.MustNode(customers).DomainID, joinNodeG.DomainID)
	require.Len(t, joinNodeG.Ancestors, 2, "join's direct ancestors are the two synthesized Ingress nodes")
	for _, a := range joinNodeG.Ancestors {
		assert.Equal(t, graph.KindIngress, g.MustNode(a).Kind)
		assert.Equal(t, joinNodeG.DomainID, g.MustNode(a).DomainID)
	}

	require.Len(t, stepsOfKind(steps, SpawnReplica), 3, "orders' domain, customers' domain, and the join's own")

	// Both base indices the join demands must be installed, since
	// neither side is itself a hole.
	addIdx := stepsOfKind(steps, AddNodeIndex)
	names := map[graph.ID]string{}
	for _, s := range addIdx {
		names[s.Node] = s.Index.Name
	}
	assert.Equal(t, "by_customer", names[orders])
	assert.Equal(t, "by_id", names[customers])
	assert.Empty(t, stepsOfKind(steps, AnnouncePath), "bases never hole, so no replay path is needed")

	activate := stepsOfKind(steps, ActivateNode)
	pos := map[graph.ID]int{}
	for i, s := range activate {
		pos[s.Node] = i
	}
	assert.Less(t, pos[orders], pos[join], "ancestors activate before descendants")
	assert.Less(t, pos[customers], pos[join])
}

// TestPlannerReuseSharesIdenticalSubgraph covers sub-phase 3: a second
// spec identical in kind/ancestors/operator to an already-installed node
// reuses it instead of duplicating, emitting AddNodeIndex only for
// whatever index it additionally demands.
func TestPlannerReuseSharesIdenticalSubgraph(t *testing.T) {
	g := graph.NewGraph()
	base := g.NewID()
	agg1 := g.NewID()

	p1 := newTestPlanner(g)
	_, err := p1.Plan([]NodeSpec{
		{ID: base, Kind: graph.KindBase, Name: "orders", Schema: schema(), Indices: []common.IndexInfo{{Name: "pk", Cols: []int{0}}}},
		{ID: agg1, Kind: graph.KindInternal, Name: "count_by_customer", Ancestors: []graph.ID{base}, Operator: "count(customer_id)"},
	})
	require.NoError(t, err)
	require.Len(t, g.AllNodes(), 2, "no reuse the first time: nothing to reuse against yet")

	p2 := newTestPlanner(g)
	agg2 := g.NewID()
	steps, err := p2.Plan([]NodeSpec{
		{
			ID: agg2, Kind: graph.KindInternal, Name: "count_by_customer_dup", Ancestors: []graph.ID{base},
			Operator: "count(customer_id)",
			Indices:  []common.IndexInfo{{Name: "by_group", Cols: []int{0}}},
		},
	})
	require.NoError(t, err)

	require.Len(t, g.AllNodes(), 2, "the duplicate spec must rewire to agg1, not add a third node")
	require.Empty(t, stepsOfKind(steps, InstallNode))
	require.Len(t, stepsOfKind(steps, AddNodeIndex), 1)
	assert.Equal(t, agg1, stepsOfKind(steps, AddNodeIndex)[0].Node)
	assert.True(t, hasIndex(g.MustNode(agg1), "by_group"))
}

// TestPlannerRollbackRemovesAddedNodes covers the atomicity contract: a
// failed Plan leaves the graph exactly as it was.
func TestPlannerRollbackRemovesAddedNodes(t *testing.T) {
	g := graph.NewGraph()
	p := newTestPlanner(g)
	missingAncestor := g.NewID() // never installed: AddEdge will fail
	node := g.NewID()

	before := len(g.AllNodes())
	_, err := p.Plan([]NodeSpec{
		{ID: node, Kind: graph.KindInternal, Name: "broken", Ancestors: []graph.ID{missingAncestor}, Operator: "x"},
	})
	require.Error(t, err)
	assert.Len(t, g.AllNodes(), before, "rollback must leave no partially-installed node behind")
}
