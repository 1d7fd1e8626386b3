package materialize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/exec"
	"github.com/squareup/flowbase/graph"
)

type testBases map[graph.ID]bool

func (b testBases) IsBase(id graph.ID) bool { return b[id] }

const (
	ordersNode    graph.ID = 1
	customersNode graph.ID = 2
	joinNode      graph.ID = 3
	aggNode       graph.ID = 4
)

func schema2() []common.ColumnType {
	return []common.ColumnType{common.BigIntColumnType, common.BigIntColumnType}
}

// TestPlannerBaseToBaseJoinNeedsIndicesButNoReplay exercises spec.md
// §4.6's join tie-break ("if a join requires both sides, install two
// tags, one per side") in its simplest form: when both sides are bases,
// propagation stops immediately on each side, so the join needs both
// indices installed but no replay path at all — a base is never a hole.
func TestPlannerBaseToBaseJoinNeedsIndicesButNoReplay(t *testing.T) {
	bases := testBases{ordersNode: true, customersNode: true}
	p := NewPlanner(MapExecutors{}, bases)

	seeds := []Seed{
		{Node: ordersNode, Name: "by_customer", Cols: []int{1}},
		{Node: customersNode, Name: "by_id", Cols: []int{0}},
	}
	plan, err := p.Plan(seeds)
	require.NoError(t, err)

	assert.Empty(t, plan.Paths, "bases never hole, so a base-seeded demand needs no replay path")
	assert.Empty(t, plan.FullReplay)
	assert.Empty(t, plan.Classes, "bases are not classified Partial/Full by this planner")

	require.Len(t, plan.AddIndex, 2)
	byNode := map[graph.ID]common.IndexInfo{}
	for _, step := range plan.AddIndex {
		byNode[step.Node] = step.Index
	}
	assert.Equal(t, common.IndexInfo{Name: "by_customer", Cols: []int{1}}, byNode[ordersNode])
	assert.Equal(t, common.IndexInfo{Name: "by_id", Cols: []int{0}}, byNode[customersNode])
}

// TestPlannerAggregationOverBaseIsPartialWithOneTaggedPath covers step 1
// (group-by resolves upward through the aggregation to its base ancestor)
// and step 2 (every branch reached a base, so the node is Partial-
// eligible) and step 3 (one tagged path is built from the base up to the
// aggregation).
func TestPlannerAggregationOverBaseIsPartialWithOneTaggedPath(t *testing.T) {
	agg := exec.NewAggregationExecutor(aggNode, customersNode, []int{0}, 1, exec.CountAgg, "by_group", schema2(), schema2())
	bases := testBases{customersNode: true}
	p := NewPlanner(MapExecutors{aggNode: agg}, bases)

	plan, err := p.Plan([]Seed{{Node: aggNode, Name: "by_group", Cols: []int{0}}})
	require.NoError(t, err)

	assert.Equal(t, graph.MaterializationPartial, plan.Classes[aggNode])
	assert.Empty(t, plan.FullReplay)
	require.Len(t, plan.Paths, 1)

	ps := plan.Paths[0]
	assert.Equal(t, aggNode, ps.IndexNode)
	assert.Equal(t, "by_group", ps.IndexName)
	require.Len(t, ps.Path.Segments, 1)
	assert.Equal(t, customersNode, ps.Path.Segments[0].InNode)
	assert.Equal(t, aggNode, ps.Path.Segments[0].OutNode)
	assert.Equal(t, 0, ps.Path.Segments[0].KeyCol)
	assert.Equal(t, customersNode, ps.Path.SourceNode())
	assert.Equal(t, aggNode, ps.Path.TargetNode())

	require.Len(t, plan.AddIndex, 2, "the aggregation's own index and the base index it resolved to")
	names := map[graph.ID]string{}
	for _, step := range plan.AddIndex {
		names[step.Node] = step.Index.Name
	}
	assert.Equal(t, "by_group", names[aggNode])
	assert.Equal(t, IndexName([]int{0}), names[customersNode])
}

// TestPlannerSynthesizedColumnForcesFull covers step 1's other stopping
// case: a demand on the aggregate's own computed value column cannot
// resolve through Resolve at all, so the node is forced Full (step 2's
// last sentence) and filled by one StartReplay (step 5) instead of a
// per-key replay path.
func TestPlannerSynthesizedColumnForcesFull(t *testing.T) {
	agg := exec.NewAggregationExecutor(aggNode, customersNode, []int{0}, 1, exec.CountAgg, "by_group", schema2(), schema2())
	bases := testBases{customersNode: true}
	p := NewPlanner(MapExecutors{aggNode: agg}, bases)

	plan, err := p.Plan([]Seed{{Node: aggNode, Name: "by_value", Cols: []int{1}}})
	require.NoError(t, err)

	assert.Equal(t, graph.MaterializationFull, plan.Classes[aggNode])
	assert.Empty(t, plan.Paths)
	require.Len(t, plan.FullReplay, 1)
	assert.Equal(t, aggNode, plan.FullReplay[0].Node)
	assert.Equal(t, customersNode, plan.FullReplay[0].Path.Segments[0].InNode)
}

// TestPlannerForceFullWidensAnOtherwiseEligibleDemand covers "the
// controller may force Full globally."
func TestPlannerForceFullWidensAnOtherwiseEligibleDemand(t *testing.T) {
	agg := exec.NewAggregationExecutor(aggNode, customersNode, []int{0}, 1, exec.CountAgg, "by_group", schema2(), schema2())
	bases := testBases{customersNode: true}
	p := NewPlanner(MapExecutors{aggNode: agg}, bases)
	p.ForceFull = true

	plan, err := p.Plan([]Seed{{Node: aggNode, Name: "by_group", Cols: []int{0}}})
	require.NoError(t, err)

	assert.Equal(t, graph.MaterializationFull, plan.Classes[aggNode])
	assert.Empty(t, plan.Paths)
	require.Len(t, plan.FullReplay, 1)
}

// TestPlannerDedupesRepeatDemandForSameIndex ensures a column demanded
// twice along different branches (e.g. two downstream consumers wanting
// the same aggregation index) only installs the index once.
func TestPlannerDedupesRepeatDemandForSameIndex(t *testing.T) {
	agg := exec.NewAggregationExecutor(aggNode, customersNode, []int{0}, 1, exec.CountAgg, "by_group", schema2(), schema2())
	bases := testBases{customersNode: true}
	p := NewPlanner(MapExecutors{aggNode: agg}, bases)

	_, err := p.Plan([]Seed{
		{Node: aggNode, Name: "by_group", Cols: []int{0}},
		{Node: aggNode, Name: "by_group", Cols: []int{0}},
	})
	require.NoError(t, err)
	assert.Len(t, p.plan.AddIndex, 2, "one for aggNode, one for its resolved base ancestor, despite two identical seeds")
}
