package replay

import (
	"sync"

	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/exec"
	"github.com/squareup/flowbase/graph"
)

// ReplayPiece is one shipment of rows along a Path — either keyed
// (partial replay, Keys non-empty) or keyless (full replay, a chunk of
// the whole state) — spec.md §4.5.
type ReplayPiece struct {
	Tag  uint64
	Keys [][]byte
	Rows []common.Row
	Last bool
}

// ReplayRequest asks the domain holding a path's source to produce a
// ReplayPiece for one key.
type ReplayRequest struct {
	Tag uint64
	Key []byte
}

type missIndex struct {
	node  graph.ID
	index string
}

type pendingKey struct {
	tag uint64
	key string
}

// Engine is the per-domain replay bookkeeping spec.md §4.3 calls "a
// replay state table": which tag answers a (node, index) miss, which
// (tag, key) pairs currently have a replay outstanding, and the FIFO of
// triggering deltas buffered behind each one (spec.md §4.5 invariants:
// "Exactly one outstanding replay per (tag, key); duplicate requests
// coalesce," "Buffered deltas are replayed in FIFO order after
// mark_filled.").
type Engine struct {
	mu sync.Mutex

	paths      map[uint64]*Path
	tagForMiss map[missIndex]uint64
	tagToMiss  map[uint64]missIndex

	outstanding map[pendingKey]bool
	buffered    map[pendingKey][]BufferedDelta
}

// BufferedDelta is one triggering write held behind an outstanding
// replay, tagged with the node that must be re-driven once the miss is
// filled (exec.Miss.Consumer — the operator that recorded the miss, not
// necessarily the node the original packet was addressed to) and the
// ancestor it should appear to have arrived from (exec.Miss.From), so
// redelivery can call HandleFrom exactly the way the original batch
// arrived — spec.md §4.5 step 5.
type BufferedDelta struct {
	To    graph.ID
	From  graph.ID
	Batch exec.RowsBatch
}

func NewEngine() *Engine {
	return &Engine{
		paths:       make(map[uint64]*Path),
		tagForMiss:  make(map[missIndex]uint64),
		tagToMiss:   make(map[uint64]missIndex),
		outstanding: make(map[pendingKey]bool),
		buffered:    make(map[pendingKey][]BufferedDelta),
	}
}

// RegisterPath installs path, answering future misses on (missedNode,
// missedIndex) with path's tag — installed by the materialization
// planner's "Path construction" step (spec.md §4.6 step 3).
func (e *Engine) RegisterPath(path *Path, missedNode graph.ID, missedIndex string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paths[path.Tag] = path
	mi := missIndex{node: missedNode, index: missedIndex}
	e.tagForMiss[mi] = path.Tag
	e.tagToMiss[path.Tag] = mi
}

// DownstreamMiss names one (node, index) pair whose replay path sources
// from a given node — the reverse of TagFor, used by
// domain.handleEvict to find which materializations downstream of an
// evicted node answer their own misses from it.
type DownstreamMiss struct {
	Node  graph.ID
	Index string
}

// DownstreamOf reports every (node, index) this engine would answer a
// miss for by replaying from source — i.e. every registered path whose
// SourceNode is source. Eviction on source invalidates exactly these
// downstream materializations: the key that just became a hole here is
// the same key identity those paths propagate (spec.md §4.6's demand
// resolution only builds a path through columns that pass through
// unchanged, so key bytes carry across every hop of it).
func (e *Engine) DownstreamOf(source graph.ID) []DownstreamMiss {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []DownstreamMiss
	for tag, path := range e.paths {
		if path.SourceNode() != source {
			continue
		}
		if mi, ok := e.tagToMiss[tag]; ok {
			out = append(out, DownstreamMiss{Node: mi.node, Index: mi.index})
		}
	}
	return out
}

// TagFor resolves which path answers a miss on (node, index). ok=false
// means the materialization planner never installed a path for this
// index — spec.md §4.3 step 2: "if none, fail fatally (planner bug)."
func (e *Engine) TagFor(node graph.ID, index string) (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tag, ok := e.tagForMiss[missIndex{node: node, index: index}]
	return tag, ok
}

func (e *Engine) Path(tag uint64) (*Path, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.paths[tag]
	return p, ok
}

// BeginReplay records that (tag, key) now has a replay in flight,
// buffering the triggering delta (if any) behind it, tagged with the
// consumer node that must be re-driven (to) and the ancestor it should
// appear to arrive from (from) once the replay fills the key. It returns
// shouldRequest=false when a replay for this exact (tag, key) is
// already outstanding, in which case the caller must NOT emit a second
// ReplayRequest upstream — spec.md §4.5 invariant 2.
func (e *Engine) BeginReplay(tag uint64, key []byte, to, from graph.ID, triggeringDelta *exec.RowsBatch) (shouldRequest bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pk := pendingKey{tag: tag, key: string(key)}
	if triggeringDelta != nil {
		e.buffered[pk] = append(e.buffered[pk], BufferedDelta{To: to, From: from, Batch: *triggeringDelta})
	}
	if e.outstanding[pk] {
		return false
	}
	e.outstanding[pk] = true
	return true
}

// DrainBuffered returns (and clears) the triggering deltas buffered for
// (tag, key), in FIFO arrival order, and clears the outstanding flag —
// called once mark_filled has installed the replayed rows (spec.md §4.5
// step 4).
func (e *Engine) DrainBuffered(tag uint64, key []byte) []BufferedDelta {
	e.mu.Lock()
	defer e.mu.Unlock()
	pk := pendingKey{tag: tag, key: string(key)}
	batches := e.buffered[pk]
	delete(e.buffered, pk)
	delete(e.outstanding, pk)
	return batches
}

// IsOutstanding reports whether (tag, key) currently has a replay in
// flight.
func (e *Engine) IsOutstanding(tag uint64, key []byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outstanding[pendingKey{tag: tag, key: string(key)}]
}
