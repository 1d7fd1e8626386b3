package controller

import (
	"path/filepath"
	"time"

	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/errors"
	"github.com/squareup/flowbase/graph"
	"github.com/squareup/flowbase/state"
)

// openBaseStore opens the Persistent pebble store backing base table n,
// one subdirectory per table under Options.StateDir — or an in-memory
// pebble instance when StateDir is empty, the normal choice for tests
// and for a scratch controller with no durability requirement.
func (c *Controller) openBaseStore(n *graph.Node) (state.State, error) {
	pk := common.IndexInfo{Name: "pk", Cols: []int{0}}
	found := false
	for _, idx := range n.Indices {
		if idx.Name == "pk" {
			pk = idx
			found = true
			break
		}
	}
	if !found && len(n.Indices) == 0 {
		return nil, errors.Errorf("controller: base table %q declares no primary key index", n.Name)
	}
	opts := state.PersistentOptions{
		FlushPeriod: 50 * time.Millisecond,
	}
	if c.opts.StateDir == "" {
		opts.Durability = state.MemoryOnly
	} else {
		opts.Dir = filepath.Join(c.opts.StateDir, n.Name)
		opts.Durability = state.Permanent
	}
	return state.NewPersistent(n.Schema, pk, opts)
}
