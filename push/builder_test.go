package push

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squareup/flowbase/graph"
	"github.com/squareup/flowbase/materialize"
	"github.com/squareup/flowbase/migration"
	"github.com/squareup/flowbase/recipe"
)

func mustParse(t *testing.T, text string) *recipe.Recipe {
	t.Helper()
	rec, err := recipe.Parse(text)
	require.NoError(t, err)
	return rec
}

// TestBuildRecipeProducesInstallableJoinAggregateQuery exercises the
// whole pipeline: recipe text -> NodeSpecs -> migration.Planner.Plan,
// checking every produced NodeSpec's executor plan can be instantiated
// and that migration activates the whole chain bottom-up.
func TestBuildRecipeProducesInstallableJoinAggregateQuery(t *testing.T) {
	rec := mustParse(t, `
		CREATE TABLE orders (id BIGINT, customer_id BIGINT, amount BIGINT);
		CREATE TABLE customers (id BIGINT, name VARCHAR);
		order_totals: SELECT customers.name, SUM(orders.amount) AS total
			FROM orders
			JOIN customers ON orders.customer_id = customers.id
			GROUP BY customers.name;
	`)

	g := graph.NewGraph()
	b := NewBuilder(g)
	require.NoError(t, b.AddRecipe(rec))
	specs := b.Specs()
	require.Len(t, specs, 5, "orders, customers, join, aggregate, reader")

	mp := migration.NewPlanner(g, materialize.GraphBaseNodes{G: g}, materialize.MapExecutors{}, 1)
	steps, err := mp.Plan(specs)
	require.NoError(t, err)
	require.NotEmpty(t, steps)

	activated := make(map[graph.ID]bool)
	for _, s := range steps {
		if s.Kind == migration.ActivateNode {
			activated[s.Node] = true
		}
	}
	for _, s := range specs {
		assert.True(t, activated[s.ID], "every built node must be activated, including synthesized Ingress/Egress for the cross-domain join")
	}

	for _, s := range specs {
		n := g.MustNode(s.ID)
		_, err := NewExecutor(n, nil)
		assert.NoError(t, err, "node %s (%T) must be instantiable", n.Name, n.Operator)
	}
}

func TestBuildRecipeRejectsUnknownJoinTable(t *testing.T) {
	rec := mustParse(t, `
		CREATE TABLE orders (id BIGINT, customer_id BIGINT);
		bad: SELECT orders.id FROM orders JOIN ghosts ON orders.customer_id = ghosts.id;
	`)
	g := graph.NewGraph()
	b := NewBuilder(g)
	assert.Error(t, b.AddRecipe(rec))
}

func TestBuildRecipeSimpleProjectionAndFilter(t *testing.T) {
	rec := mustParse(t, `
		CREATE TABLE orders (id BIGINT, amount BIGINT);
		big_orders: SELECT id, amount FROM orders WHERE amount = 100;
	`)
	g := graph.NewGraph()
	b := NewBuilder(g)
	require.NoError(t, b.AddRecipe(rec))
	specs := b.Specs()
	// orders (base), filter, project, reader.
	require.Len(t, specs, 4)
	assert.IsType(t, FilterPlan{}, specs[1].Operator)
	assert.IsType(t, ProjectPlan{}, specs[2].Operator)
	assert.IsType(t, ReaderPlan{}, specs[3].Operator)

	for _, s := range specs {
		g.AddNode(&graph.Node{ID: s.ID, Kind: s.Kind, Name: s.Name, Schema: s.Schema, Ancestors: s.Ancestors, Operator: s.Operator})
	}
	for _, n := range g.AllNodes() {
		_, err := NewExecutor(n, nil)
		assert.NoError(t, err)
	}
}
