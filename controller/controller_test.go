package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squareup/flowbase/graph"
)

// eventually polls cond until it reports true or the deadline passes,
// matching domain.Enqueue's fire-and-forget async dispatch: a write
// returns before the owning domain has necessarily drained it.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition never became true")
}

func TestInstallRecipeInsertAndLookup(t *testing.T) {
	c := NewController(Options{})
	defer c.Close()

	require.NoError(t, c.InstallRecipe(`
		CREATE TABLE orders (id BIGINT, amount BIGINT);
		order_by_id: SELECT * FROM orders;
	`))

	require.Error(t, c.InstallRecipe(`CREATE TABLE other (id BIGINT);`),
		"a second InstallRecipe on a non-empty controller must fail")

	table, err := c.Table("orders")
	require.NoError(t, err)
	require.NoError(t, table.Insert(int64(1), int64(100)))
	require.NoError(t, table.Insert(int64(2), int64(200)))

	view, err := c.View("order_by_id")
	require.NoError(t, err)

	eventually(t, func() bool {
		rows, hit, err := view.Lookup(false, int64(1))
		return err == nil && hit && len(rows) == 1
	})

	rows, hit, err := view.Lookup(false, int64(2))
	require.NoError(t, err)
	require.True(t, hit)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(200), rows[0].GetInt64(1))

	_, hit, err = view.Lookup(false, int64(999))
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestExtendRecipeReusesInstalledNodes(t *testing.T) {
	c := NewController(Options{})
	defer c.Close()

	require.NoError(t, c.InstallRecipe(`
		CREATE TABLE orders (id BIGINT, amount BIGINT);
		order_by_id: SELECT * FROM orders;
	`))
	firstNode, err := c.findNode(graph.KindBase, "orders")
	require.NoError(t, err)

	require.NoError(t, c.ExtendRecipe(`
		CREATE TABLE customers (id BIGINT, name VARCHAR);
	`))
	sameNode, err := c.findNode(graph.KindBase, "orders")
	require.NoError(t, err)
	assert.Equal(t, firstNode, sameNode, "extending the recipe must not reinstall an already-installed table")

	_, err = c.Table("customers")
	require.NoError(t, err)

	require.Error(t, c.ExtendRecipe(`CREATE TABLE orders (id BIGINT);`),
		"redeclaring an already-installed table name must fail")
}

func TestGetStatisticsAndInstances(t *testing.T) {
	c := NewController(Options{})
	defer c.Close()

	require.NoError(t, c.InstallRecipe(`
		CREATE TABLE orders (id BIGINT, amount BIGINT);
		order_by_id: SELECT * FROM orders;
	`))

	table, err := c.Table("orders")
	require.NoError(t, err)
	require.NoError(t, table.Insert(int64(1), int64(100)))

	stats, err := c.GetStatistics()
	require.NoError(t, err)
	assert.NotEmpty(t, stats)

	instances := c.GetInstances()
	assert.NotEmpty(t, instances)
	for _, inst := range instances {
		assert.NotEmpty(t, inst.NodeIDs)
	}

	require.NoError(t, c.FlushPartial())
}

func TestHandleWorkerFailedRecoversNonBaseDomain(t *testing.T) {
	c := NewController(Options{workerTrackerOptions: workerTrackerOptions{
		HeartbeatInterval: 20 * time.Millisecond,
		FailAfterMissed:   2,
	}})
	defer c.Close()

	require.NoError(t, c.InstallRecipe(`
		CREATE TABLE orders (id BIGINT, customer_id BIGINT);
		CREATE TABLE customers (id BIGINT, name VARCHAR);
		order_customers: SELECT * FROM orders JOIN customers ON orders.customer_id = customers.id;
	`))

	// A two-ancestor join always starts its own domain (migration.Planner
	// sees two distinct ancestor domains), and the reader directly above
	// it colocates with the join — so this domain holds no base table.
	readerID, err := c.findNode(graph.KindReader, "order_customers")
	require.NoError(t, err)
	readerDomain := c.g.MustNode(readerID).DomainID

	ordersID, err := c.findNode(graph.KindBase, "orders")
	require.NoError(t, err)
	ordersDomain := c.g.MustNode(ordersID).DomainID
	require.NotEqual(t, ordersDomain, readerDomain, "a base table never colocates with the join/reader chain above it")

	c.handleWorkerFailed(readerDomain)

	view, err := c.View("order_customers")
	require.NoError(t, err)
	assert.NotNil(t, view, "order_customers must be reinstalled after its domain failed")
}
