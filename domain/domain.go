package domain

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/squareup/flowbase/errors"
	"github.com/squareup/flowbase/exec"
	"github.com/squareup/flowbase/graph"
	"github.com/squareup/flowbase/materialize"
	"github.com/squareup/flowbase/replay"
	"github.com/squareup/flowbase/state"
)

// filler is the narrower contract TableExecutor.Fill satisfies, used by
// StartReplay's one-shot snapshot step (spec.md §4.5 "Full replay") — a
// local type assertion rather than widening exec.PushExecutor, the same
// pattern exec.TableExecutor.allRows uses for state.State.
type filler interface {
	Fill(newConsumer exec.PushExecutor, ctx *exec.ExecutionContext) error
}

// Domain is spec.md §4.3's scheduling unit: a map of local nodes, their
// materialized states, an inbox of packets processed one at a time by a
// single goroutine, and the replay bookkeeping for misses that
// originate here. Grounded on table_exec.go's single-writer-lock
// discipline, generalized from "one table locked during HandleRows" to
// "one domain, one loop goroutine, no lock needed at all" since nothing
// outside Run ever touches nodes/states.
type Domain struct {
	id int

	nodes  map[graph.ID]exec.PushExecutor
	states map[graph.ID]state.State
	replay *replay.Engine

	// waiters holds the AwaitReplay callers currently blocked on
	// (node, index, key) becoming Hit, notified from handleReplayPiece
	// once mark_filled installs that key — spec.md §6's block=true path,
	// parallel to replay.Engine's own buffered-delta bookkeeping but for
	// a client read rather than a re-driven operator.
	waiters map[pendingLookup][]chan error

	inbox chan *Packet

	// UpstreamReplay is called when a miss needs a replay request sent
	// to whichever domain owns the path's upstream segment. Wired
	// externally once the full topology is assembled (the same pattern
	// exec.EgressExecutor's send hook uses) — nil is valid for a domain
	// that owns no Partial state needing upstream help.
	UpstreamReplay func(tag uint64, key []byte) error

	statsMu sync.Mutex
	stats   Statistics
}

func NewDomain(id int) *Domain {
	return &Domain{
		id:      id,
		nodes:   make(map[graph.ID]exec.PushExecutor),
		states:  make(map[graph.ID]state.State),
		replay:  replay.NewEngine(),
		waiters: make(map[pendingLookup][]chan error),
		inbox:   make(chan *Packet, 256),
	}
}

// pendingLookup keys the waiters registered for one AwaitReplay: the
// node+index a client is reading, and the specific key it is waiting on.
type pendingLookup struct {
	node  graph.ID
	index string
	key   string
}

func (d *Domain) ID() int { return d.id }

// AddNode installs node as a local member of this domain.
func (d *Domain) AddNode(node exec.PushExecutor) {
	d.nodes[node.ID()] = node
}

// AddState registers st as the materialized state backing node id,
// making it visible to ExecutionContext.States during HandleRows.
func (d *Domain) AddState(id graph.ID, st state.State) {
	d.states[id] = st
}

// Enqueue appends p to this domain's inbox, preserving arrival order —
// spec.md §4.3: "within a domain, packets are processed strictly in
// arrival order."
func (d *Domain) Enqueue(p *Packet) {
	d.inbox <- p
}

// Run drains the inbox until a Quit packet is processed or stop fires,
// dispatching each packet by Kind per spec.md §4.3's per-packet handling
// steps.
func (d *Domain) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		case p := <-d.inbox:
			if p.Kind == Quit {
				return nil
			}
			if err := d.handle(p); err != nil {
				return err
			}
		}
	}
}

func (d *Domain) handle(p *Packet) error {
	log.Tracef("domain %d: dispatching %s packet (to=%v from=%v)", d.id, p.Kind, p.To, p.From)
	switch p.Kind {
	case Message:
		return d.handleMessage(p)
	case ReplayPiece:
		return d.handleReplayPiece(p)
	case Evict:
		return d.handleEvict(p)
	case AddIndex:
		return d.handleAddIndex(p)
	case PrepareState:
		return nil // state is registered directly via AddState by setup code
	case SetupReplayPath:
		d.replay.RegisterPath(p.Path, p.IndexNode, p.IndexName)
		return nil
	case StartReplay:
		return d.handleStartReplay(p)
	case AwaitReplay:
		return d.handleAwaitReplay(p)
	case Finish:
		if p.Done != nil {
			p.Done <- nil
		}
		return nil
	case GetStatistics:
		if p.Stats != nil {
			d.statsMu.Lock()
			snapshot := d.stats
			d.statsMu.Unlock()
			p.Stats <- snapshot
		}
		return nil
	default:
		return errors.Errorf("domain: unhandled packet kind %s", p.Kind)
	}
}

func (d *Domain) newExecutionContext() *exec.ExecutionContext {
	return &exec.ExecutionContext{States: d.states}
}

// fromAware is satisfied by multi-ancestor operators (currently
// JoinExecutor) whose handling depends on which ancestor a batch arrived
// from — PushExecutor.HandleRows alone can't carry that, so the domain
// runtime dispatches through HandleFrom directly when it's available.
type fromAware interface {
	HandleFrom(from graph.ID, batch exec.RowsBatch, ctx *exec.ExecutionContext) error
}

// handleMessage is spec.md §4.3's steps 1-4 for an ordinary record
// batch: dispatch to the target node, translate each miss into a
// buffered-or-requested upstream replay (keyed on the miss's own
// Consumer/From, not this packet's To/From), then rely on the node's own
// HandleRows (already run) to have forwarded to local consumers and
// written through to materialized state.
func (d *Domain) handleMessage(p *Packet) error {
	node, ok := d.nodes[p.To]
	if !ok {
		return errors.Errorf("domain: no local node %v", p.To)
	}
	ctx := d.newExecutionContext()
	var err error
	if fa, ok := node.(fromAware); ok {
		err = fa.HandleFrom(p.From, p.Records, ctx)
	} else {
		err = node.HandleRows(p.Records, ctx)
	}
	if err != nil {
		return errors.WithStack(err)
	}
	d.statsMu.Lock()
	d.stats.MessagesHandled++
	d.statsMu.Unlock()

	for _, miss := range ctx.Misses {
		if err := d.handleMiss(miss, p.Records); err != nil {
			return err
		}
	}
	return nil
}

// handleMiss is spec.md §4.3 step 2: resolve the tag for (node, index),
// buffer the triggering delta against the node that actually needs to be
// retried once the miss is filled — miss.Consumer, not the top-level
// packet's addressee, since a join records a miss on its *other*
// ancestor's state but it is the join itself that must re-run, and
// redelivering to the ancestor instead would reapply the batch to a base
// table's own state a second time — and request replay unless one is
// already outstanding for this key.
func (d *Domain) handleMiss(miss exec.Miss, triggering exec.RowsBatch) error {
	d.statsMu.Lock()
	d.stats.Misses++
	d.statsMu.Unlock()

	tag, ok := d.replay.TagFor(miss.Node, miss.Index)
	if !ok {
		return errors.Errorf("domain: no replay path for node %v index %q (planner bug)", miss.Node, miss.Index)
	}
	shouldRequest := d.replay.BeginReplay(tag, miss.Key, miss.Consumer, miss.From, &triggering)
	if !shouldRequest {
		log.Tracef("domain %d: miss on node %v index %q coalesced into outstanding replay (tag %d)", d.id, miss.Node, miss.Index, tag)
		return nil
	}
	return d.requestReplay(tag, miss.Node, miss.Index, miss.Key)
}

// requestReplay fulfills (tag, key) against the destination handleMiss
// or handleAwaitReplay already resolved (targetNode, targetIndex) for.
// When this domain also holds the path's source state — the common
// single-process case handleStartReplay and handleEvict already assume
// — it answers the request itself, looking the key up directly and
// feeding the result back through the ordinary ReplayPiece path exactly
// as a remote domain's reply would arrive. Only when the source lives
// elsewhere does it fall back to the externally-wired UpstreamReplay
// hook, which is nil until a caller assembling a multi-domain topology
// wires it (same pattern as exec.EgressExecutor's send hook).
func (d *Domain) requestReplay(tag uint64, targetNode graph.ID, targetIndex string, key []byte) error {
	path, ok := d.replay.Path(tag)
	if !ok {
		return errors.Errorf("domain: no registered path for replay tag %d (planner bug)", tag)
	}
	src, ok := d.states[path.SourceNode()]
	srcIndex := ""
	if ok {
		seg := path.Segments[0]
		name := materialize.IndexName([]int{seg.KeyCol})
		for _, idx := range src.Indices() {
			if idx.Name == name {
				srcIndex = name
				break
			}
		}
	}
	// A source node with no maintained index under that name isn't a
	// usable local answer — most notably the degenerate path a caller
	// registers for a node that is itself the thing missing (source ==
	// target), which exists only to carry the tag, never to be looked up.
	// Both cases fall back to UpstreamReplay exactly like a source that
	// isn't local to this domain at all.
	if !ok || srcIndex == "" {
		if d.UpstreamReplay == nil {
			return errors.Errorf("domain: replay tag %d sources from node %v, not locally answerable in domain %d, and no upstream replay requester wired", tag, path.SourceNode(), d.id)
		}
		log.Debugf("domain %d: requesting upstream replay (tag %d) for node %v index %q", d.id, tag, targetNode, targetIndex)
		return d.UpstreamReplay(tag, key)
	}

	// Single-hop source lookup, matching fullReplayPath's own "the
	// immediate source already holds the answer" assumption: a source
	// that is itself still a hole on this key (a Partial state chained
	// behind another replay) isn't resolved further here.
	res := src.Lookup(srcIndex, key)
	log.Tracef("domain %d: fulfilling replay tag %d for node %v locally from node %v (%d row(s))", d.id, tag, targetNode, path.SourceNode(), len(res.Rows))
	return d.handle(&Packet{
		Kind:      ReplayPiece,
		To:        targetNode,
		Tag:       tag,
		Keys:      [][]byte{key},
		Rows:      res.Rows,
		Last:      true,
		IndexName: targetIndex,
	})
}

// handleAwaitReplay answers a controller.ViewHandle.Lookup Miss: if the key
// is already Hit there is nothing to do; otherwise it resolves the same
// tag handleMiss would, begins (or joins an already-outstanding) replay
// with no triggering delta to buffer, and registers p.Done to be woken
// by handleReplayPiece once the key is filled — spec.md §6's "lookup(key,
// block?)": the request this sends upstream is identical to an ordinary
// miss's, so a cold or evicted Partial reader gets probed by reads
// themselves, not only by writes flowing back through it.
func (d *Domain) handleAwaitReplay(p *Packet) error {
	reply := func(err error) {
		if p.Done != nil {
			p.Done <- err
		}
	}
	st, ok := d.states[p.To]
	if !ok {
		reply(errors.Errorf("domain: no state registered for node %v", p.To))
		return nil
	}
	key := p.Keys[0]
	if res := st.Lookup(p.IndexName, key); res.Hit {
		reply(nil)
		return nil
	}
	tag, ok := d.replay.TagFor(p.To, p.IndexName)
	if !ok {
		reply(errors.Errorf("domain: no replay path for node %v index %q (planner bug)", p.To, p.IndexName))
		return nil
	}

	d.statsMu.Lock()
	d.stats.Misses++
	d.statsMu.Unlock()

	shouldRequest := d.replay.BeginReplay(tag, key, p.To, p.To, nil)
	pk := pendingLookup{node: p.To, index: p.IndexName, key: string(key)}
	d.waiters[pk] = append(d.waiters[pk], p.Done)
	if !shouldRequest {
		return nil
	}
	if err := d.requestReplay(tag, p.To, p.IndexName, key); err != nil {
		reply(err)
		delete(d.waiters, pk)
		return nil
	}
	return nil
}

// wakeWaiters notifies and clears every AwaitReplay caller blocked on
// (node, index, key), called once handleReplayPiece has marked that key
// filled.
func (d *Domain) wakeWaiters(node graph.ID, index string, key []byte) {
	pk := pendingLookup{node: node, index: index, key: string(key)}
	for _, done := range d.waiters[pk] {
		if done != nil {
			done <- nil
		}
	}
	delete(d.waiters, pk)
}

// handleReplayPiece is spec.md §4.5 step 4: install the replayed rows
// into the destination's state, mark the key(s) filled once Last, then
// drain and replay the deltas that were buffered while this key was
// missing, in FIFO order (step 5).
func (d *Domain) handleReplayPiece(p *Packet) error {
	d.statsMu.Lock()
	d.stats.ReplayPieces++
	d.statsMu.Unlock()

	st, ok := d.states[p.To]
	if !ok {
		return errors.Errorf("domain: no state registered for replay destination %v", p.To)
	}
	for i := range p.Rows {
		if err := st.Insert(&p.Rows[i]); err != nil {
			return errors.WithStack(err)
		}
	}
	if !p.Last {
		return nil
	}

	keys := p.Keys
	if len(keys) == 0 {
		// Full replay's final chunk: nothing keyed to mark filled or
		// drain, the destination's whole state just became valid.
		return nil
	}
	for _, key := range keys {
		st.MarkFilled(p.IndexName, key)
		d.wakeWaiters(p.To, p.IndexName, key)
		buffered := d.replay.DrainBuffered(p.Tag, key)
		for _, delta := range buffered {
			node, ok := d.nodes[delta.To]
			if !ok {
				continue
			}
			ctx := d.newExecutionContext()
			var err error
			if fa, ok := node.(fromAware); ok {
				err = fa.HandleFrom(delta.From, delta.Batch, ctx)
			} else {
				err = node.HandleRows(delta.Batch, ctx)
			}
			if err != nil {
				return errors.WithStack(err)
			}
			for _, miss := range ctx.Misses {
				if err := d.handleMiss(miss, delta.Batch); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// handleStartReplay is spec.md §4.5's full-replay one-shot path,
// simplified to the common single-process case where source and target
// both live in this domain: when either node is not local it returns an
// error rather than sending chunked ReplayPiece traffic across the
// fabric.
func (d *Domain) handleStartReplay(p *Packet) error {
	if p.Path == nil {
		return errors.New("domain: StartReplay packet has no path")
	}
	src, ok := d.nodes[p.Path.SourceNode()]
	if !ok {
		return errors.Errorf("domain: StartReplay source node %v not local", p.Path.SourceNode())
	}
	target, ok := d.nodes[p.To]
	if !ok {
		return errors.Errorf("domain: StartReplay target node %v not local", p.To)
	}
	f, ok := src.(filler)
	if !ok {
		return errors.Errorf("domain: StartReplay source node %v cannot be filled from", p.Path.SourceNode())
	}
	log.Debugf("domain %d: full replay from node %v into node %v", d.id, p.Path.SourceNode(), p.To)
	ctx := d.newExecutionContext()
	return f.Fill(target, ctx)
}

// handleEvict is spec.md §4.6's "Eviction": free roughly EvictBytes from
// p.EvictNode's own state, then propagate each evicted key as a hole
// into every materialization this domain knows replays from it —
// otherwise a downstream node that was filled from this key before it
// was evicted keeps serving it forever (simplified, like
// handleStartReplay, to paths whose source and target are both local to
// this domain; a path crossing domains is a materialization-planner/
// migration wiring gap shared with handleMiss's UpstreamReplay, not one
// eviction alone can close).
func (d *Domain) handleEvict(p *Packet) error {
	st, ok := d.states[p.EvictNode]
	if !ok {
		return nil
	}
	evicted := st.Evict(p.EvictBytes)
	d.statsMu.Lock()
	d.stats.Evictions += int64(len(evicted))
	d.statsMu.Unlock()
	log.Debugf("domain %d: evicted %d key(s) from node %v", d.id, len(evicted), p.EvictNode)

	downstream := d.replay.DownstreamOf(p.EvictNode)
	for _, ev := range evicted {
		for _, dm := range downstream {
			dst, ok := d.states[dm.Node]
			if !ok {
				continue
			}
			dst.MarkHole(dm.Index, ev.Key)
		}
	}
	return nil
}

func (d *Domain) handleAddIndex(p *Packet) error {
	st, ok := d.states[p.IndexNode]
	if !ok {
		return errors.Errorf("domain: no state registered for node %v", p.IndexNode)
	}
	return st.AddIndex(p.Index)
}
