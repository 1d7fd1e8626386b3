package migration

import "github.com/squareup/flowbase/graph"

// place runs spec.md §4.7 sub-phases 1 and 2 for one spec: decide which
// domain it joins, and which of resolvedAncestors (already reuse-
// resolved) it wires to directly versus through a synthesized
// Ingress/Egress/Sharder chain. It returns the domain id and the final
// ancestor list to call graph.AddEdge with.
func (p *Planner) place(spec NodeSpec, resolvedAncestors []graph.ID) (int, []graph.ID, error) {
	if len(resolvedAncestors) == 0 {
		// A source (a freshly-created base, or any node with no
		// ancestors) always starts a new domain of its own.
		domainID := p.nextDomain
		p.nextDomain++
		p.domainShardBy[domainID] = spec.ShardBy
		return domainID, nil, nil
	}

	ancestorDomains := make(map[int]bool)
	for _, a := range resolvedAncestors {
		ancestorDomains[p.g.MustNode(a).DomainID] = true
	}

	shardMismatch := false
	if len(ancestorDomains) == 1 {
		for d := range ancestorDomains {
			if shardByDiffers(p.domainShardBy[d], spec.ShardBy) {
				shardMismatch = true
			}
		}
	}

	// Colocate: exactly one ancestor domain, and this node's own
	// partition key (if any) agrees with it — spec.md §4.7 sub-phase 2,
	// "Propagate ByColumn(c) from below."
	if len(ancestorDomains) == 1 && !shardMismatch {
		var domainID int
		for d := range ancestorDomains {
			domainID = d
		}
		return domainID, resolvedAncestors, nil
	}

	// Otherwise this node starts its own domain: either its ancestors'
	// inputs disagree (spec.md §4.7: "A node whose multi-ancestor
	// inputs disagree is Shuffled (all-to-all)") or its required
	// partition key differs from its single ancestor's, both resolved
	// the same way — a boundary crossing per ancestor, each wrapped in
	// an Egress (exit of the ancestor's domain) feeding an Ingress
	// (entry of the new domain), with a Sharder spliced in first when
	// that ancestor's data needs repartitioning to match spec.ShardBy.
	domainID := p.nextDomain
	p.nextDomain++
	p.domainShardBy[domainID] = spec.ShardBy

	wired := make([]graph.ID, len(resolvedAncestors))
	for i, a := range resolvedAncestors {
		ancDomain := p.g.MustNode(a).DomainID
		src := a
		if shardByDiffers(p.domainShardBy[ancDomain], spec.ShardBy) && spec.ShardBy.Kind != graph.ShardByNone {
			sharder, err := p.sharder(a, spec.ShardBy, ancDomain)
			if err != nil {
				return 0, nil, err
			}
			src = sharder
		}
		ingress, err := p.crossDomain(src, ancDomain, domainID)
		if err != nil {
			return 0, nil, err
		}
		wired[i] = ingress
	}
	return domainID, wired, nil
}

func shardByDiffers(have, want graph.ShardBy) bool {
	if want.Kind == graph.ShardByNone {
		return false
	}
	return have != want
}

// sharder returns the Sharder node repartitioning ancestor's output by
// shardBy, creating and installing it (in ancestor's own domain, right
// at the point data leaves it) the first time this exact
// (ancestor, shardBy) pair is requested, and reusing it for every
// subsequent new node that needs the same repartitioning.
func (p *Planner) sharder(ancestor graph.ID, shardBy graph.ShardBy, domainID int) (graph.ID, error) {
	key := sharderKey{ancestor: ancestor, shardBy: shardBy}
	if id, ok := p.sharderFor[key]; ok {
		return id, nil
	}
	id := p.g.NewID()
	node := &graph.Node{ID: id, Kind: graph.KindSharder, Name: "sharder", ShardBy: shardBy, DomainID: domainID}
	p.g.AddNode(node)
	p.added = append(p.added, id)
	if err := p.g.AddEdge(ancestor, id); err != nil {
		return 0, err
	}
	p.sharderFor[key] = id
	return id, nil
}

// crossDomain returns the Ingress node that carries from's output into
// toDomain, synthesizing an Egress (once per ancestor, shared by every
// domain that reads it) and an Ingress (once per ancestor+destination-
// domain pair) as needed — spec.md §4.7 sub-phase 1, "Insert Ingress at
// domain entry, Egress at domain exit."
func (p *Planner) crossDomain(from graph.ID, fromDomain, toDomain int) (graph.ID, error) {
	egressID, ok := p.egressFor[from]
	if !ok {
		egressID = p.g.NewID()
		egress := &graph.Node{ID: egressID, Kind: graph.KindEgress, Name: "egress", DomainID: fromDomain}
		p.g.AddNode(egress)
		p.added = append(p.added, egressID)
		if err := p.g.AddEdge(from, egressID); err != nil {
			return 0, err
		}
		p.egressFor[from] = egressID
	}

	ik := ingressKey{ancestor: from, domain: toDomain}
	if id, ok := p.ingressFor[ik]; ok {
		return id, nil
	}
	ingressID := p.g.NewID()
	ingress := &graph.Node{ID: ingressID, Kind: graph.KindIngress, Name: "ingress", DomainID: toDomain}
	p.g.AddNode(ingress)
	p.added = append(p.added, ingressID)
	if err := p.g.AddEdge(egressID, ingressID); err != nil {
		return 0, err
	}
	p.ingressFor[ik] = ingressID
	return ingressID, nil
}
