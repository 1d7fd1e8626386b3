package migration

import (
	"reflect"
	"sort"

	"github.com/squareup/flowbase/graph"
)

// findReusable implements spec.md §4.7 sub-phase 3: "When a new query
// shares a subgraph with existing nodes (same operator, same inputs,
// compatible indices), rewire to reuse rather than duplicate" — grounded
// on original_source/src/mir/rewrite.rs's structural-identity fold,
// re-expressed as a linear scan over the (typically small) existing
// graph rather than MIR's hash-consing table, since this graph has no
// MIR layer to hash-cons in the first place. "Compatible indices" is
// handled by the caller (Plan emits AddNodeIndex for whatever the
// reused node is still missing); this only matches kind+ancestors+
// operator.
func (p *Planner) findReusable(kind graph.NodeKind, ancestors []graph.ID, operator interface{}) (graph.ID, bool) {
	for _, n := range p.g.AllNodes() {
		if n.Kind != kind {
			continue
		}
		if !sameIDSet(n.Ancestors, ancestors) {
			continue
		}
		if !reflect.DeepEqual(n.Operator, operator) {
			continue
		}
		return n.ID, true
	}
	return 0, false
}

func sameIDSet(a, b []graph.ID) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]graph.ID(nil), a...)
	bs := append([]graph.ID(nil), b...)
	sort.Slice(as, func(i, j int) bool { return as[i] < as[j] })
	sort.Slice(bs, func(i, j int) bool { return bs[i] < bs[j] })
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
