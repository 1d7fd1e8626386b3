package exec

import (
	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/errors"
	"github.com/squareup/flowbase/graph"
	"github.com/squareup/flowbase/state"
)

// lookupOutcome is the three-way result of probing an ancestor's state:
// a Miss (ctx already recorded it), or a Hit with its (possibly empty)
// row set.
type lookupOutcome struct {
	Miss bool
	Rows []common.Row
}

// PushExecutor is the single interface every operator (structural or
// user-defined) implements — spec.md §9: "Structural nodes and user
// operators share a single interface on_input / ancestors / resolve /
// suggest_indices; a tagged variant, not open inheritance, is the right
// representation." HandleRows is that on_input: it is named and shaped
// after table_exec.go's TableExecutor.HandleRows, which forwards
// directly to consuming nodes rather than returning a value.
type PushExecutor interface {
	// ID is this node's global identifier, used to key ctx.States and
	// to tag misses/replay paths.
	ID() graph.ID

	// Ancestors lists the node IDs this operator reads from.
	Ancestors() []graph.ID

	// Resolve reports which ancestor column(s) output column col is
	// derived from unchanged, or ok=false if col is synthesized (e.g.
	// an aggregate's computed value) and cannot be resolved further —
	// the stopping condition for index-demand propagation (spec.md
	// §4.6 step 1).
	Resolve(col int) (refs []ColumnRef, ok bool)

	// SuggestIndices declares the indices this operator needs on its
	// own state (e.g. a Reader's lookup key, an Aggregation's group-by)
	// to seed demand propagation.
	SuggestIndices() map[graph.ID][]int

	// HandleRows processes one batch arriving from the node identified
	// by ctx's caller (the teacher's "from" parameter is implicit here:
	// callers pass the already-resolved ancestor id when probing
	// ancestor state, since Go methods don't need the sender threaded
	// through every call the way an actor mailbox dispatch does).
	HandleRows(batch RowsBatch, ctx *ExecutionContext) error

	// AddConsumingNode/RemoveConsumingNode wire this operator's output
	// to other local operators, matching
	// TableExecutor.AddConsumingNode/RemoveConsumingNode.
	AddConsumingNode(name string, node PushExecutor)
	RemoveConsumingNode(name string)
}

// pushExecutorBase is the shared forwarding plumbing every concrete
// operator embeds — table_exec.go's consumingNodes map and
// ForwardToConsumingNodes, generalized to any operator rather than only
// TableExecutor.
type pushExecutorBase struct {
	id             graph.ID
	consumingNodes map[string]PushExecutor
}

func newBase(id graph.ID) pushExecutorBase {
	return pushExecutorBase{id: id, consumingNodes: make(map[string]PushExecutor)}
}

func (b *pushExecutorBase) ID() graph.ID { return b.id }

func (b *pushExecutorBase) AddConsumingNode(name string, node PushExecutor) {
	b.consumingNodes[name] = node
}

func (b *pushExecutorBase) RemoveConsumingNode(name string) {
	delete(b.consumingNodes, name)
}

// fromAware is satisfied by multi-ancestor operators (currently
// JoinExecutor) whose handling depends on which ancestor a batch arrived
// from. forward dispatches through it directly when available, rather
// than through HandleRows's single-ancestor-assuming default, so a
// consumer with two ancestors still sees the right sender on ordinary
// (non-replay) traffic.
type fromAware interface {
	HandleFrom(from graph.ID, batch RowsBatch, ctx *ExecutionContext) error
}

// forward pushes batch to every consuming node, or — if ctx is flowing
// along a replay path — routes it to ctx.EmitReplay instead, matching
// spec.md §4.5 step 3's redirection of replay output away from ordinary
// downstream materialization.
func (b *pushExecutorBase) forward(batch RowsBatch, ctx *ExecutionContext) error {
	if batch.Len() == 0 {
		return nil
	}
	if ctx.Replay != nil && ctx.Replay.Active && ctx.EmitReplay != nil {
		ctx.EmitReplay(batch)
		return nil
	}
	for _, consumer := range b.consumingNodes {
		var err error
		if fa, ok := consumer.(fromAware); ok {
			err = fa.HandleFrom(b.id, batch, ctx)
		} else {
			err = consumer.HandleRows(batch, ctx)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// writeThrough applies batch to this node's own materialized state (if
// any), matching table_exec.go's pattern of updating local state before
// forwarding — spec.md §4.3 step 4: "Update materialized state
// downstream of each node according to that node's materialization
// class." schema is this node's own output row shape, needed to encode
// a key against whichever indices st maintains; from is the ancestor
// this batch arrived from, so a hole can be reported as a miss the same
// way lookupOther reports one.
//
// A row whose key is currently a hole on any of st's indices is dropped
// rather than applied, and the hole is recorded as a miss on ctx —
// spec.md §4.5 step 5: "a downstream node that receives a write for a
// key still in missing drops it ... the value will be recomputed at
// replay time," mirroring AggregationExecutor.fold and
// TopKExecutor.insert's own "Lookup first; recordMiss and drop when
// unfilled" handling of their keyed state, generalized here from one
// group key to every index this node's own state maintains. Recording
// the miss (rather than assuming something else already did) is what
// makes writeThrough self-healing: the very write that found the hole
// is what drives the replay that fills it, buffered to redeliver
// through HandleFrom(from, ...) once mark_filled lands.
func (b *pushExecutorBase) writeThrough(batch RowsBatch, schema []common.ColumnType, from graph.ID, ctx *ExecutionContext) error {
	st := ctx.stateOf(b.id)
	if st == nil {
		return nil
	}
	if ctx.Replay != nil && ctx.Replay.Active {
		// Replay pieces install state explicitly via mark_filled +
		// insert at the destination (spec.md §4.5 step 4); they are
		// not written through here to avoid double-counting.
		return nil
	}
	for _, e := range batch.Entries {
		if e.PrevRow != nil {
			hole, err := b.recordHoleMiss(ctx, st, schema, e.PrevRow, from)
			if err != nil {
				return err
			}
			if !hole {
				if err := st.Remove(e.PrevRow); err != nil {
					return errors.WithStack(err)
				}
			}
		}
		if e.CurrRow != nil {
			hole, err := b.recordHoleMiss(ctx, st, schema, e.CurrRow, from)
			if err != nil {
				return err
			}
			if hole {
				continue
			}
			if err := st.Insert(e.CurrRow); err != nil {
				return errors.WithStack(err)
			}
		}
	}
	return nil
}

// recordHoleMiss reports whether row's key is currently missing under
// any index st maintains, recording a miss on ctx the first time it
// finds one — consumer and from are this node itself and the ancestor
// the write arrived from, so the buffered delta handleReplayPiece drains
// once the hole fills is redelivered to this same node via HandleFrom.
// A Full state never holes, so this is always false there without
// touching st.Indices() at all.
func (b *pushExecutorBase) recordHoleMiss(ctx *ExecutionContext, st state.State, schema []common.ColumnType, row *common.Row, from graph.ID) (bool, error) {
	if !st.IsPartial() {
		return false, nil
	}
	for _, idx := range st.Indices() {
		key, err := common.EncodeKeyCols(row, idx.Cols, schema, nil)
		if err != nil {
			return false, errors.WithStack(err)
		}
		if !st.Lookup(idx.Name, key).Hit {
			ctx.recordMiss(b.id, idx.Name, key, b.id, from)
			return true, nil
		}
	}
	return false, nil
}

// lookupOther probes the state of ancestor at key, recording a miss on
// ctx if it is a hole — the shared plumbing behind Join's "probe the
// other side's state" and Aggregation's "keyed state of running value"
// contracts (spec.md §4.2). consumer/from identify who must be retried
// and via which HandleFrom ancestor once the miss is filled (for a
// self-lookup, pass the caller's own id as both consumer and from).
func lookupOther(ctx *ExecutionContext, ancestor graph.ID, indexName string, key []byte, consumer, from graph.ID) (lookupOutcome, error) {
	st := ctx.stateOf(ancestor)
	if st == nil {
		return lookupOutcome{}, errors.New("exec: no state registered for ancestor node")
	}
	res := st.Lookup(indexName, key)
	if !res.Hit {
		ctx.recordMiss(ancestor, indexName, key, consumer, from)
		return lookupOutcome{Miss: true}, nil
	}
	return lookupOutcome{Rows: res.Rows}, nil
}
