// Package state implements spec.md §4.1's keyed/unkeyed state stores:
// an in-memory multiset-on-map flavor shared by all materialized
// operator nodes, and a pebble-backed durable flavor for base tables.
package state

import "github.com/squareup/flowbase/common"

// LookupResult is the outcome of State.Lookup: either Hit with the
// (possibly empty) multiset of rows at that key, or a Miss meaning the
// key is a hole that must be filled by replay before it can be answered.
// "On a Partial state, a key is either fully present or fully absent;
// intermediate states are not observable" (spec.md §4.1) — there is no
// third, partial-hit variant.
type LookupResult struct {
	Hit  bool
	Rows []common.Row
}

// State is the per-node keyed store spec.md §4.1 describes. A node with
// more than one index shares row storage across all of them ("rows held
// once, keyed views reference them").
type State interface {
	// Insert adds one row to every maintained index.
	Insert(row *common.Row) error

	// Remove deletes one instance of row (matched by value) from every
	// maintained index — multiset semantics, so re-inserting an
	// identical row after a Remove is a distinct occurrence.
	Remove(row *common.Row) error

	// Lookup probes the named index at key. On a Full state this never
	// returns a Miss. On Partial, Miss means the key is a hole.
	Lookup(indexName string, key []byte) LookupResult

	// MarkFilled flips a Partial key from missing to filled. Must be
	// called exactly once between a Miss and the first insert that
	// belongs to that key (spec.md §4.1).
	MarkFilled(indexName string, key []byte)

	// MarkHole flips a key back to missing (used by eviction: Memory's
	// own Evict and the domain's invalidation of downstream state).
	MarkHole(indexName string, key []byte)

	// AddIndex installs a new secondary index over columns, backfilling
	// it from whatever rows are already present.
	AddIndex(info common.IndexInfo) error

	// Evict removes victim keys (by a replacement policy, LRU per index
	// is sufficient per spec.md §4.1) until roughly targetBytes has been
	// freed, returning the evicted (index, key) pairs so the engine can
	// propagate invalidations downstream.
	Evict(targetBytes int64) []EvictedKey

	// IsPartial reports whether this state tracks holes at all.
	IsPartial() bool

	// Indices lists the index infos currently maintained.
	Indices() []common.IndexInfo
}

// EvictedKey names one (index, key) pair removed by Evict.
type EvictedKey struct {
	Index string
	Key   []byte
}
