// Package graph holds the dataflow graph's vertex/edge/domain types of
// spec.md §3 — the arena-indexed, pointer-free representation spec.md §9
// calls for ("Node references in the execution layer are handled as
// indices into per-domain arrays ... not by raw pointers").
package graph

import "github.com/squareup/flowbase/common"

// NodeKind is the closed tagged-variant set of spec.md §9: structural
// nodes and user operators share one representation, not open
// inheritance.
type NodeKind int

const (
	KindSource NodeKind = iota
	KindBase
	KindInternal
	KindIngress
	KindEgress
	KindSharder
	KindReader
)

func (k NodeKind) String() string {
	switch k {
	case KindSource:
		return "Source"
	case KindBase:
		return "Base"
	case KindInternal:
		return "Internal"
	case KindIngress:
		return "Ingress"
	case KindEgress:
		return "Egress"
	case KindSharder:
		return "Sharder"
	case KindReader:
		return "Reader"
	default:
		return "Unknown"
	}
}

// MaterializationClass is spec.md §3's Node.materialization class.
type MaterializationClass int

const (
	MaterializationNone MaterializationClass = iota
	MaterializationFull
	MaterializationPartial
)

// ShardByKind distinguishes spec.md §3's shard-by descriptor variants.
type ShardByKind int

const (
	ShardByNone ShardByKind = iota
	ShardByColumn
	ShardForced
)

// ShardBy is None | ByColumn(col) | Forced.
type ShardBy struct {
	Kind ShardByKind
	Col  int
}

// ID is a node's stable global identifier, unique across the whole graph
// and stable across migrations (used as the key into replay path tables
// and the migration planner's reuse lookup).
type ID uint64

// LocalID is a node's within-domain identifier: a dense index into the
// owning Domain's node arena.
type LocalID int

// Node is one vertex of the dataflow graph.
type Node struct {
	ID       ID
	Local    LocalID
	Kind     NodeKind
	Name     string
	Schema   []common.ColumnType
	ColNames []string

	// Indices this node maintains, each an ordered column list
	// (spec.md §3's "set of indices to maintain").
	Indices []common.IndexInfo

	Materialization MaterializationClass
	ShardBy         ShardBy

	// DomainID is filled in by the migration planner once the
	// node has been assigned to a domain (spec.md §4.7 "Domain
	// assignment"); zero-valued in the pending (not-yet-activated) graph.
	DomainID int
	Active   bool

	// Operator holds the operator plan for every node built from a
	// recipe (Base, Internal and Reader nodes, spec.md §3 Node.kind
	// Internal(op)); it is nil for the structural kinds the migration
	// planner synthesizes (Ingress/Egress/Sharder), which carry their
	// configuration inline instead.
	Operator interface{}

	// Ancestors/Children are global node IDs, not pointers — per
	// spec.md §9's "no back-edges" / arena+index design note, the graph
	// itself is kept as adjacency lists indexed by ID, not as a struct
	// with pointer fields.
	Ancestors []ID
	Children  []ID
}

// IsMaterialized reports whether this node carries any state at all.
func (n *Node) IsMaterialized() bool {
	return n.Materialization != MaterializationNone
}
