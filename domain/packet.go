// Package domain implements spec.md §4.3: the single-threaded
// cooperative event loop that owns a set of local nodes, their
// materialized states, and an inbox of packets. Grounded on
// table_exec.go's single-writer-lock discipline (one goroutine ever
// mutates a node's state at a time) generalized from one table's lock to
// a whole domain's packet queue — the teacher has no standalone
// scheduler package in this retrieval pack to adapt directly (the
// `push/sched.ShardScheduler` type table_exec.go and consumer.go both
// import is not present among the example files), so the loop itself is
// built fresh from the teacher's concurrency idiom plus spec.md's packet
// kinds.
package domain

import (
	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/exec"
	"github.com/squareup/flowbase/graph"
	"github.com/squareup/flowbase/replay"
)

// Kind tags which of spec.md §4.3's packet variants a Packet carries.
type Kind int

const (
	Message Kind = iota
	ReplayPiece
	Evict
	AddIndex
	PrepareState
	SetupReplayPath
	StartReplay
	AwaitReplay
	Finish
	GetStatistics
	Quit
)

func (k Kind) String() string {
	switch k {
	case Message:
		return "Message"
	case ReplayPiece:
		return "ReplayPiece"
	case Evict:
		return "Evict"
	case AddIndex:
		return "AddIndex"
	case PrepareState:
		return "PrepareState"
	case SetupReplayPath:
		return "SetupReplayPath"
	case StartReplay:
		return "StartReplay"
	case AwaitReplay:
		return "AwaitReplay"
	case Finish:
		return "Finish"
	case GetStatistics:
		return "GetStatistics"
	case Quit:
		return "Quit"
	default:
		return "Unknown"
	}
}

// Packet is the single envelope every kind of work travels through the
// domain's inbox in, a tagged union expressed as one flat struct (rather
// than an interface per kind) so the loop can dequeue without a type
// switch over dynamic types — only Packet.Kind's switch is needed.
// Fields not relevant to Kind are left zero.
type Packet struct {
	Kind Kind

	// Message: deliver Records to the node named To, having come from
	// From (From is zero for externally-sourced writes, e.g. a client
	// insert or a Kafka-sourced row landing on a Base node).
	From    graph.ID
	To      graph.ID
	Records exec.RowsBatch

	// ReplayPiece: spec.md §4.5's ReplayPiece(tag, keys, records, last).
	// To names the destination node; IndexName the index being filled.
	Tag  uint64
	Keys [][]byte
	Rows []common.Row
	Last bool

	// Evict: spec.md §4.3's Evict{node, bytes}.
	EvictNode  graph.ID
	EvictBytes int64

	// AddIndex: install Index on IndexNode's state. PrepareState carries
	// no fields of its own and is handled as a no-op.
	IndexNode graph.ID
	Index     common.IndexInfo

	// SetupReplayPath: install Path as the answer to misses on
	// (IndexNode, IndexName) — spec.md §4.6 step 3/4. StartReplay reuses
	// Path to find the full-replay source and To to find its target.
	Path      *replay.Path
	IndexName string

	// AwaitReplay: a controller.ViewHandle.Lookup Miss asking the domain
	// owning To's state to request upstream replay for Keys[0] under
	// IndexName (spec.md §6 "With block=true a Miss blocks until replay
	// completes"). Done, if non-nil, receives nil once the key is Hit
	// (immediately, or once handleReplayPiece fills it) or an error if no
	// replay path exists; a nil Done makes this fire-and-forget, for the
	// block=false caller that only wants the request kicked off.
	//
	// Finish/GetStatistics/Quit report back through Done/Stats — both
	// buffered by the sender so the domain loop never blocks handing a
	// reply to a caller that stopped listening.
	Done  chan error
	Stats chan Statistics
}

// Statistics is the per-domain counter snapshot GetStatistics reports,
// per spec.md §4.8's controller-facing get_statistics.
type Statistics struct {
	MessagesHandled int64
	ReplayPieces    int64
	Misses          int64
	Evictions       int64
}
