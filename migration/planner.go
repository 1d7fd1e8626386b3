package migration

import (
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/errors"
	"github.com/squareup/flowbase/graph"
	"github.com/squareup/flowbase/materialize"
)

// NodeSpec describes one node a migration wants to add, as the
// "proposed graph delta" spec.md §4.7 transforms into Steps. ID is
// caller-assigned (via Planner.NewID, wrapping graph.Graph.NewID) so a
// batch of specs can reference each other as ancestors before any of
// them exist in the graph yet.
type NodeSpec struct {
	ID        graph.ID
	Kind      graph.NodeKind
	Name      string
	Schema    []common.ColumnType
	ColNames  []string
	Ancestors []graph.ID
	// Operator identifies this node's behavior for reuse comparison
	// (spec.md §4.7 sub-phase 3, "same operator, same inputs") — the
	// concrete exec constructor args a later builder stage would use,
	// compared by reflect.DeepEqual, so two specs describing the same
	// aggregation over the same ancestor dedupe even if built from
	// unrelated recipe statements.
	Operator interface{}
	ShardBy  graph.ShardBy
	Indices  []common.IndexInfo

	// Seeds is this node's own index demand for the materialization
	// planner (spec.md §4.6 step 1's other seed source: "operator-
	// declared suggest_indices"), e.g. a JoinExecutor's
	// {left: leftKey, right: rightKey} translated into two Seeds
	// naming the ancestor nodes, or a Reader's lookup index on itself.
	Seeds []materialize.Seed
}

// Planner runs spec.md §4.7 over one staged *graph.Graph: the caller is
// expected to pass a graph that already holds every pre-existing node
// (so ancestor lookups and reuse search see current state), and to
// discard it (or call Rollback) if Plan returns an error — "atomicity:
// a migration either completes all its steps or is rolled back by
// discarding the staged graph."
type Planner struct {
	g         *graph.Graph
	bases     materialize.BaseNodes
	executors materialize.Executors

	// ShardCount is applied to every newly spawned domain's
	// SpawnReplica step. Per-node elastic shard-count selection (e.g.
	// by partition-key cardinality) is out of scope here; every domain
	// this planner creates is spawned with the same replica count,
	// which is enough to exercise Sharder/Ingress/Egress insertion
	// faithfully without a cost model picking how many shards to use.
	ShardCount int
	ForceFull  bool

	nextDomain int
	domainShardBy map[int]graph.ShardBy

	egressFor  map[graph.ID]graph.ID
	ingressFor map[ingressKey]graph.ID
	sharderFor map[sharderKey]graph.ID

	added []graph.ID
}

type ingressKey struct {
	ancestor graph.ID
	domain   int
}

type sharderKey struct {
	ancestor graph.ID
	shardBy  graph.ShardBy
}

// NewPlanner builds a Planner over g, starting domain assignment at
// startDomain (the caller's next unused domain id — existing nodes'
// DomainID values are already stamped on g).
func NewPlanner(g *graph.Graph, bases materialize.BaseNodes, executors materialize.Executors, startDomain int) *Planner {
	return &Planner{
		g:             g,
		bases:         bases,
		executors:     executors,
		ShardCount:    1,
		nextDomain:    startDomain,
		domainShardBy: make(map[int]graph.ShardBy),
		egressFor:     make(map[graph.ID]graph.ID),
		ingressFor:    make(map[ingressKey]graph.ID),
		sharderFor:    make(map[sharderKey]graph.ID),
	}
}

// Rollback removes every node this Planner instance added to g, for a
// caller that received an error from Plan (or decided not to activate
// the result) and needs the staged graph returned to its prior state.
func (p *Planner) Rollback() {
	for i := len(p.added) - 1; i >= 0; i-- {
		p.g.RemoveNode(p.added[i])
	}
	p.added = nil
}

// Plan runs the full algorithm over specs and returns the ordered Step
// list. specs need not be pre-sorted; Plan topologically sorts them by
// their in-batch Ancestors references before processing.
func (p *Planner) Plan(specs []NodeSpec) ([]Step, error) {
	log.Infof("migration: planning %d node spec(s)", len(specs))
	ordered, err := sortSpecs(specs)
	if err != nil {
		return nil, err
	}

	var steps []Step
	reused := make(map[graph.ID]graph.ID)
	domainsSpawned := make(map[int]bool)
	var spawnSteps []Step
	var installSteps []Step
	var seeds []materialize.Seed

	for _, spec := range ordered {
		resolvedAncestors := make([]graph.ID, len(spec.Ancestors))
		for i, a := range spec.Ancestors {
			resolvedAncestors[i] = p.resolve(a, reused)
		}

		if existing, ok := p.findReusable(spec.Kind, resolvedAncestors, spec.Operator); ok {
			log.Debugf("migration: spec %v reuses existing node %v", spec.ID, existing)
			reused[spec.ID] = existing
			n := p.g.MustNode(existing)
			for _, idx := range spec.Indices {
				if hasIndex(n, idx.Name) {
					continue
				}
				n.Indices = append(n.Indices, idx)
				steps = append(steps, Step{Kind: AddNodeIndex, Node: existing, Index: idx})
			}
			continue
		}

		domainID, wiredAncestors, err := p.place(spec, resolvedAncestors)
		if err != nil {
			p.Rollback()
			return nil, err
		}
		log.Debugf("migration: placing node %v (%s %q) on domain %d", spec.ID, spec.Kind, spec.Name, domainID)

		node := &graph.Node{
			ID:              spec.ID,
			Kind:            spec.Kind,
			Name:            spec.Name,
			Schema:          spec.Schema,
			ColNames:        spec.ColNames,
			Indices:         append([]common.IndexInfo(nil), spec.Indices...),
			Operator:        spec.Operator,
			ShardBy:         spec.ShardBy,
			DomainID:        domainID,
			Materialization: graph.MaterializationNone,
		}
		p.g.AddNode(node)
		p.added = append(p.added, spec.ID)
		for _, anc := range wiredAncestors {
			if err := p.g.AddEdge(anc, spec.ID); err != nil {
				p.Rollback()
				return nil, err
			}
		}

		if !domainsSpawned[domainID] {
			domainsSpawned[domainID] = true
			spawnSteps = append(spawnSteps, Step{Kind: SpawnReplica, DomainID: domainID, Shards: p.ShardCount})
		}
		installSteps = append(installSteps, Step{Kind: InstallNode, Node: spec.ID})
		seeds = append(seeds, rewriteSeeds(spec.Seeds, reused)...)
	}

	sort.Slice(spawnSteps, func(i, j int) bool { return spawnSteps[i].DomainID < spawnSteps[j].DomainID })
	steps = append(steps, spawnSteps...)
	steps = append(steps, installSteps...)

	mp := materialize.NewPlanner(p.executors, p.bases)
	mp.ForceFull = p.ForceFull
	matPlan, err := mp.Plan(seeds)
	if err != nil {
		p.Rollback()
		return nil, err
	}
	log.Debugf("migration: materialization plan has %d add-index, %d path, %d full-replay step(s)",
		len(matPlan.AddIndex), len(matPlan.Paths), len(matPlan.FullReplay))
	for _, step := range matPlan.AddIndex {
		steps = append(steps, Step{Kind: AddNodeIndex, Node: step.Node, Index: step.Index})
	}
	for id, class := range matPlan.Classes {
		p.g.MustNode(id).Materialization = class
	}
	for _, ps := range matPlan.Paths {
		steps = append(steps, Step{Kind: AnnouncePath, Path: ps.Path, IndexNode: ps.IndexNode, IndexName: ps.IndexName})
	}
	for _, fr := range matPlan.FullReplay {
		steps = append(steps, Step{Kind: TriggerFullReplay, Node: fr.Node, Path: fr.Path})
		steps = append(steps, Step{Kind: AwaitReplayCompletion, Path: fr.Path})
	}

	newSet := make(map[graph.ID]bool, len(p.added))
	for _, id := range p.added {
		newSet[id] = true
	}
	for _, id := range p.g.TopoSort() {
		if newSet[id] {
			steps = append(steps, Step{Kind: ActivateNode, Node: id})
		}
	}
	log.Infof("migration: plan produced %d step(s) for %d new node(s)", len(steps), len(p.added))
	return steps, nil
}

func (p *Planner) resolve(id graph.ID, reused map[graph.ID]graph.ID) graph.ID {
	if r, ok := reused[id]; ok {
		return r
	}
	return id
}

func hasIndex(n *graph.Node, name string) bool {
	for _, idx := range n.Indices {
		if idx.Name == name {
			return true
		}
	}
	return false
}

// rewriteSeeds substitutes any seed's Node with whatever it was reused
// as, so materialize.Plan never sees a graph.ID that never made it into
// the graph.
func rewriteSeeds(seeds []materialize.Seed, reused map[graph.ID]graph.ID) []materialize.Seed {
	out := make([]materialize.Seed, len(seeds))
	for i, s := range seeds {
		if r, ok := reused[s.Node]; ok {
			s.Node = r
		}
		out[i] = s
	}
	return out
}

// sortSpecs topologically orders specs by their Ancestors references
// that point at other specs in the same batch (ancestors already in the
// graph need no ordering among specs). A cycle among specs is a caller
// bug — the same invariant graph.Graph.AddEdge enforces one node at a
// time, checked here up front for the whole batch.
func sortSpecs(specs []NodeSpec) ([]NodeSpec, error) {
	byID := make(map[graph.ID]NodeSpec, len(specs))
	for _, s := range specs {
		byID[s.ID] = s
	}
	visited := make(map[graph.ID]int) // 0 unvisited, 1 in-progress, 2 done
	var order []NodeSpec
	var visit func(id graph.ID) error
	visit = func(id graph.ID) error {
		spec, inBatch := byID[id]
		if !inBatch {
			return nil
		}
		switch visited[id] {
		case 2:
			return nil
		case 1:
			return errors.New("migration: cyclic node spec batch")
		}
		visited[id] = 1
		for _, a := range spec.Ancestors {
			if err := visit(a); err != nil {
				return err
			}
		}
		visited[id] = 2
		order = append(order, spec)
		return nil
	}
	for _, s := range specs {
		if err := visit(s.ID); err != nil {
			return nil, err
		}
	}
	return order, nil
}
