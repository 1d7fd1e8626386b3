// Package replay implements spec.md §4.5: the data structures and
// demand-driven bookkeeping behind partial and full replay. Segment and
// Path's domain/in-node/out-node/key-column shape, and the
// Direction/broadcast flag below, are grounded on original_source's
// dataflow/src/prelude.rs and src/controller/domain_handle.rs (the
// Rust implementation this spec was distilled from), which the
// distilled spec.md drops but which materially shapes how a path
// replays across more than one domain — see SPEC_FULL.md §5.
package replay

import "github.com/squareup/flowbase/graph"

// Direction marks which way a path's segments replay: Downstream (the
// normal source→destination direction a ReplayPiece travels) or
// Upstream. The materialization planner only ever builds Downstream
// paths; nothing in this repo sets Upstream. Kept on Path so a path
// built once can also answer "which way do pieces move" at replay time
// without the caller re-deriving it from segment order.
type Direction int

const (
	Downstream Direction = iota
	Upstream
)

// Segment is one hop of a replay path: the node data enters at, the
// node it exits at, and the column the replay key is carried on entering
// this segment. The materialization planner builds one segment per graph
// edge (InNode the ancestor, OutNode its child, possibly in different
// domains) and leaves Domain zero — compare spec.md §4.5
// "Each segment records the in-node, out-node, and the column at which
// the replay key is carried."
type Segment struct {
	Domain  int
	InNode  graph.ID
	OutNode graph.ID
	KeyCol  int
}

// Path is source_state → … → target_node, one segment per edge, tagged
// so every ReplayPiece/ReplayRequest along it can be correlated back to
// this path without re-walking the graph.
type Path struct {
	Tag       uint64
	Segments  []Segment
	Direction Direction
	// Broadcast marks a path whose destination is every shard of the
	// target domain rather than one shard selected by key, per
	// original_source/domain_handle.rs's handling of cross-shard replay
	// targets. The materialization planner never sets it, so every path
	// it builds, full-replay paths included, has Broadcast false.
	Broadcast bool
}

// TargetNode is the final node this path replays into.
func (p *Path) TargetNode() graph.ID {
	if len(p.Segments) == 0 {
		return 0
	}
	return p.Segments[len(p.Segments)-1].OutNode
}

// SourceNode is the node this path's data originates from.
func (p *Path) SourceNode() graph.ID {
	if len(p.Segments) == 0 {
		return 0
	}
	return p.Segments[0].InNode
}
