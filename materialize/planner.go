package materialize

import (
	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/errors"
	"github.com/squareup/flowbase/graph"
	"github.com/squareup/flowbase/replay"
)

func indexInfo(name string, cols []int) common.IndexInfo {
	return common.IndexInfo{Name: name, Cols: append([]int(nil), cols...)}
}

// Planner runs spec.md §4.6's algorithm over one graph snapshot.
// ForceFull, when set, widens every demand to Full regardless of
// feasibility — "the controller may force Full globally" (step 2).
type Planner struct {
	executors Executors
	bases     BaseNodes
	ForceFull bool

	nextTag uint64

	plan  *Plan
	added map[graph.ID]map[string]bool
	cache map[demandKey]demandResult
}

func NewPlanner(executors Executors, bases BaseNodes) *Planner {
	return &Planner{
		executors: executors,
		bases:     bases,
		nextTag:   1,
		added:     make(map[graph.ID]map[string]bool),
		cache:     make(map[demandKey]demandResult),
	}
}

type demandKey struct {
	node graph.ID
	name string
}

// branch is one way a demand can be traced to a source: the node
// propagation stopped at (a base, or a node whose column could not be
// resolved further), and the chain of segments from that node down to
// wherever this branch was requested from.
type branch struct {
	terminal graph.ID
	segments []replay.Segment
}

// demandResult is memoized per (node, name): whether every branch
// reached a base (Partial-eligible, step 2), and the branches
// themselves (used to build one replay.Path per branch, step 3).
type demandResult struct {
	eligible bool
	branches []branch
}

// Plan runs the full algorithm over seeds — the reader indices and
// operator-declared SuggestIndices entries for the nodes a migration is
// adding (spec.md §4.6 "Inputs: ... the new nodes added in this
// migration") — and returns the assembled Plan.
func (p *Planner) Plan(seeds []Seed) (*Plan, error) {
	p.plan = &Plan{Classes: make(map[graph.ID]graph.MaterializationClass)}
	for _, seed := range seeds {
		res, err := p.demand(seed.Node, seed.Name, seed.Cols)
		if err != nil {
			return nil, err
		}
		if p.bases.IsBase(seed.Node) {
			// A base is always already fully present; nothing to
			// classify or replay, the AddIndex step from p.demand
			// above is enough for downstream lookups to use it.
			continue
		}
		partial := res.eligible && !p.ForceFull
		if partial {
			p.plan.Classes[seed.Node] = graph.MaterializationPartial
			for _, b := range res.branches {
				tag := p.freshTag()
				path := &replay.Path{
					Tag:      tag,
					Segments: b.segments,
				}
				p.plan.Paths = append(p.plan.Paths, PathStep{
					Path:      path,
					IndexNode: seed.Node,
					IndexName: seed.Name,
				})
			}
		} else {
			// Step 2's "if a demanded key cannot be resolved at all,
			// the node must be Full and the planner widens it
			// implicitly" — also reached via ForceFull.
			p.plan.Classes[seed.Node] = graph.MaterializationFull
			path := p.fullReplayPath(seed.Node)
			if path != nil {
				p.plan.FullReplay = append(p.plan.FullReplay, FullReplayStep{Node: seed.Node, Path: path})
			}
		}
	}
	return p.plan, nil
}

// fullReplayPath builds the single-hop path StartReplay needs, from the
// node's first ancestor as its executor's Ancestors() lists them
// (handleStartReplay fills from the one source the path names). A node
// with more than one ancestor, e.g. a Union, gets a path from that first
// ancestor only.
func (p *Planner) fullReplayPath(node graph.ID) *replay.Path {
	ex, ok := p.executors.Executor(node)
	if !ok {
		return nil
	}
	ancestors := ex.Ancestors()
	if len(ancestors) == 0 {
		return nil
	}
	return &replay.Path{
		Tag:       p.freshTag(),
		Direction: replay.Downstream,
		Segments:  []replay.Segment{{InNode: ancestors[0], OutNode: node, KeyCol: -1}},
	}
}

func (p *Planner) freshTag() uint64 {
	t := p.nextTag
	p.nextTag++
	return t
}

// ensureIndex records node's need for an index named name over cols,
// deduplicating repeat demand for the identical (node, name) pair —
// spec.md §4.6 step 4, "emit AddIndex(columns) steps before any replay
// using that index is triggered."
func (p *Planner) ensureIndex(node graph.ID, name string, cols []int) {
	seen, ok := p.added[node]
	if !ok {
		seen = make(map[string]bool)
		p.added[node] = seen
	}
	if seen[name] {
		return
	}
	seen[name] = true
	p.plan.AddIndex = append(p.plan.AddIndex, AddIndexStep{
		Node:  node,
		Index: indexInfo(name, cols),
	})
}

// demand resolves one (node, name, cols) index demand: installs the
// index on node, and — unless node is a base — walks every column
// upward via Resolve, recursing into whichever ancestors they resolve
// to. A column Resolve cannot explain (synthesized, e.g. an
// aggregate's running value) stops propagation at node itself, per
// step 1; node is then Partial-eligible only if every column in cols
// resolves and every branch reaches a base. A single synthesized column
// makes the demand ineligible, and a demand with zero resolvable
// columns forces Full as well (step 2's last sentence).
func (p *Planner) demand(node graph.ID, name string, cols []int) (demandResult, error) {
	key := demandKey{node: node, name: name}
	if cached, ok := p.cache[key]; ok {
		return cached, nil
	}

	p.ensureIndex(node, name, cols)

	if p.bases.IsBase(node) {
		res := demandResult{eligible: true, branches: []branch{{terminal: node}}}
		p.cache[key] = res
		return res, nil
	}

	ex, ok := p.executors.Executor(node)
	if !ok {
		return demandResult{}, errors.Errorf("materialize: no executor registered for node %v", node)
	}

	type group struct {
		cols []int
	}
	groups := make(map[graph.ID]*group)
	var order []graph.ID
	synthesized := false
	for _, c := range cols {
		refs, ok := ex.Resolve(c)
		if !ok {
			synthesized = true
			continue
		}
		for _, ref := range refs {
			g, ok := groups[ref.Ancestor]
			if !ok {
				g = &group{}
				groups[ref.Ancestor] = g
				order = append(order, ref.Ancestor)
			}
			g.cols = append(g.cols, ref.Column)
		}
	}

	if len(order) == 0 {
		// Nothing resolved at all (every column synthesized): node
		// itself is the only possible materialization point, and it
		// cannot be demand-driven from here, so it must be Full.
		res := demandResult{eligible: false, branches: []branch{{terminal: node}}}
		p.cache[key] = res
		return res, nil
	}

	eligible := !synthesized
	var branches []branch
	for _, anc := range order {
		ancCols := groups[anc].cols
		sub, err := p.demand(anc, IndexName(ancCols), ancCols)
		if err != nil {
			return demandResult{}, err
		}
		if !sub.eligible {
			eligible = false
		}
		hop := replay.Segment{InNode: anc, OutNode: node, KeyCol: ancCols[0]}
		for _, b := range sub.branches {
			branches = append(branches, branch{
				terminal: b.terminal,
				segments: append(append([]replay.Segment{}, b.segments...), hop),
			})
		}
	}

	res := demandResult{eligible: eligible, branches: branches}
	p.cache[key] = res
	return res, nil
}
