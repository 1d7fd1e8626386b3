// Package materialize implements spec.md §4.6, the materialization
// planner: given a graph snapshot and the nodes a migration is adding,
// it chooses each node's materialization class (Partial or Full), the
// indices it must maintain, and the tagged replay paths that answer
// misses on those indices. It does not itself talk to a running domain
// — package migration turns a Plan into AddIndex/SetupReplayPath/
// StartReplay steps against the actual runtime, the same separation
// spec.md draws between "materialization planner" and "migration
// planner."
package materialize

import (
	"strconv"

	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/exec"
	"github.com/squareup/flowbase/graph"
	"github.com/squareup/flowbase/replay"
)

// Executors resolves a node's exec.PushExecutor so the planner can call
// Resolve while walking index demand upward (spec.md §4.6 step 1).
// MapExecutors — a plain map — is what every caller in this repo
// already keeps for HandleRows dispatch (domain.Domain.nodes and its
// controller-side equivalent), so the planner runs directly against
// that map with no adaptation.
type Executors interface {
	Executor(id graph.ID) (exec.PushExecutor, bool)
}

type MapExecutors map[graph.ID]exec.PushExecutor

func (m MapExecutors) Executor(id graph.ID) (exec.PushExecutor, bool) {
	e, ok := m[id]
	return e, ok
}

// BaseNodes reports which node IDs are bases (propagation always stops
// there — spec.md §4.6 step 1's "Stop at a base"). Grounded on
// graph.Node.Kind, which already distinguishes KindBase/KindSource from
// every internal operator kind.
type BaseNodes interface {
	IsBase(id graph.ID) bool
}

// GraphBaseNodes adapts a *graph.Graph to BaseNodes.
type GraphBaseNodes struct{ G *graph.Graph }

func (g GraphBaseNodes) IsBase(id graph.ID) bool {
	n, ok := g.G.Node(id)
	if !ok {
		return true // an unknown node can't be propagated through further
	}
	return n.Kind == graph.KindBase || n.Kind == graph.KindSource
}

// Seed is one index a migration's new nodes demand before propagation:
// a reader's lookup index, or one entry of some operator's
// SuggestIndices() result. Name is required — it is the string the
// operator (or this planner, for indices it invents on a pass-through
// ancestor) will use to Lookup/AddIndex this state, so callers seeding
// demand from an already-constructed operator (e.g. a JoinExecutor's
// leftIndex/rightIndex) must pass that same string here.
type Seed struct {
	Node graph.ID
	Name string
	Cols []int
}

// IndexName deterministically names an index this planner installs on a
// pass-through ancestor purely to satisfy propagated demand (as opposed
// to an operator's own hand-picked index name, which a Seed carries in
// directly) — so every propagation hop that lands on the same
// (node, cols) agrees on one name without the planner and the migration
// builder needing to pass strings back and forth.
func IndexName(cols []int) string {
	b := make([]byte, 0, 4+4*len(cols))
	b = append(b, "auto"...)
	for _, c := range cols {
		b = append(b, '_')
		b = strconv.AppendInt(b, int64(c), 10)
	}
	return string(b)
}

// AddIndexStep is spec.md §4.6 step 4: install this index on this node
// before any replay that depends on it is triggered.
type AddIndexStep struct {
	Node  graph.ID
	Index common.IndexInfo
}

// PathStep is one tagged replay path (step 3) together with the
// (node, index) it answers misses for — exactly the fields
// domain.Packet{Kind: SetupReplayPath} needs (Path/IndexNode/IndexName),
// kept name-for-name so migration can build that packet with no
// translation.
type PathStep struct {
	Path      *replay.Path
	IndexNode graph.ID
	IndexName string
}

// FullReplayStep is spec.md §4.6 step 5's "Full materializations are
// filled with one StartReplay": the node to fill, and the single-hop
// path StartReplay uses to find its direct ancestor's Fill method.
type FullReplayStep struct {
	Node graph.ID
	Path *replay.Path
}

// Plan is materialize's complete output for one migration.
type Plan struct {
	AddIndex   []AddIndexStep
	Paths      []PathStep
	FullReplay []FullReplayStep

	// Classes records the materialization class the planner chose for
	// every non-base node a Seed touched, for the caller to stamp back
	// onto graph.Node.Materialization.
	Classes map[graph.ID]graph.MaterializationClass
}
