// Package migration implements spec.md §4.7: transforming a proposed
// graph delta into a topologically ordered list of Steps a controller
// replays against the running cluster — domain assignment, sharding
// choice, subgraph reuse, and bottom-up activation, all atomic (the
// staged graph is discarded wholesale on any error, per "a migration
// either completes all its steps or is rolled back").
package migration

import (
	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/graph"
	"github.com/squareup/flowbase/replay"
)

// StepKind is spec.md §4.7's closed Step variant set.
type StepKind int

const (
	SpawnReplica StepKind = iota
	InstallNode
	AddNodeIndex
	AnnouncePath
	TriggerFullReplay
	AwaitReplayCompletion
	ActivateNode
)

func (k StepKind) String() string {
	switch k {
	case SpawnReplica:
		return "SpawnReplica"
	case InstallNode:
		return "InstallNode"
	case AddNodeIndex:
		return "AddNodeIndex"
	case AnnouncePath:
		return "AnnouncePath"
	case TriggerFullReplay:
		return "TriggerFullReplay"
	case AwaitReplayCompletion:
		return "AwaitReplayCompletion"
	case ActivateNode:
		return "ActivateNode"
	default:
		return "Unknown"
	}
}

// Step is one instruction of the ordered plan spec.md §4.7 names. Only
// the fields relevant to Kind are populated; which ones those are is
// documented beside each field group below.
type Step struct {
	Kind StepKind

	// SpawnReplica{id, shards}.
	DomainID int
	Shards   int

	// InstallNode{id, replica, node} / ActivateNode{replica, node}:
	// Node is the node id; its owning replica is graph.Node.DomainID,
	// already stamped onto the graph by the time this step is emitted,
	// so it isn't duplicated on the step itself.
	Node graph.ID

	// AddNodeIndex{replica, node, columns}.
	Index common.IndexInfo

	// AnnouncePath{id, segments} / TriggerFullReplay{replica, node, path}
	// / AwaitReplayCompletion{path}.
	Path      *replay.Path
	IndexNode graph.ID
	IndexName string
}
