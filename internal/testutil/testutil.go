// Package testutil provides shared fixtures for domain/replay/planner
// tests, mirroring the teacher's common/commontest: a fixed schema, a
// small in-process controller, and a deterministic sequence generator.
package testutil

import (
	"testing"

	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/controller"
)

// FixedRecipe is the schema most package tests install when they need a
// recipe but the test isn't really about the schema itself: two base
// tables and a join query over them, matching the shape
// migration.Planner needs to exercise cross-domain placement.
const FixedRecipe = `
	CREATE TABLE orders (id BIGINT, customer_id BIGINT, amount BIGINT);
	CREATE TABLE customers (id BIGINT, name VARCHAR);
	order_by_id: SELECT * FROM orders;
	order_customers: SELECT * FROM orders JOIN customers ON orders.customer_id = customers.id;
`

// NewController builds a Controller with in-memory state and a single
// shard, registering its Close with t.Cleanup so callers never forget
// to tear one down.
func NewController(t *testing.T, opts controller.Options) *controller.Controller {
	t.Helper()
	c := controller.NewController(opts)
	t.Cleanup(c.Close)
	return c
}

// NewFixedController is NewController with FixedRecipe already
// installed.
func NewFixedController(t *testing.T) *controller.Controller {
	t.Helper()
	c := NewController(t, controller.Options{})
	if err := c.InstallRecipe(FixedRecipe); err != nil {
		t.Fatalf("testutil: failed to install fixed recipe: %v", err)
	}
	return c
}

// NewSeqGenerator is a deterministic common.SeqGenerator starting at 0,
// for tests that need reproducible identifiers rather than whatever a
// shared process-wide counter happens to be at.
func NewSeqGenerator() common.SeqGenerator {
	return common.NewLocalSeqGenerator(0)
}
