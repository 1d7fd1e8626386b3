package state

import (
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/errors"
)

// Durability selects what happens to a Persistent store's on-disk files
// when the process exits, matching the modes the teacher's Dragon
// cluster implies for base-table storage but applied per-table rather
// than per-node (spec.md §4.1 "Persistent state").
type Durability int

const (
	// Permanent keeps the pebble directory across restarts — the normal
	// mode for base tables.
	Permanent Durability = iota
	// DeleteOnExit removes the pebble directory on Close — used for
	// scratch fill-tables during replay (matching table_exec.go's
	// fillTableID temp table).
	DeleteOnExit
	// MemoryOnly never touches disk at all (pebble's in-memory vfs).
	MemoryOnly
)

// Persistent is the pebble-backed durable store for Base nodes
// (spec.md §4.1): a keyed index over an append log, buffered in memory
// and flushed to pebble once the queue fills or a timeout elapses —
// grounded on cluster/dragon/dragon.go's WriteBatch/LocalGet/LocalScan
// pebble mechanics, minus the raft replication layer (there is no
// replication; each store is local to one process).
type Persistent struct {
	mu         sync.Mutex
	db         *pebble.DB
	dir        string
	durability Durability
	colTypes   []common.ColumnType
	primary    common.IndexInfo

	queue       []queuedWrite
	queueCap    int
	flushEvery  time.Duration
	flushTimer  *time.Timer
	closed      bool
}

type queuedWrite struct {
	key   []byte
	value []byte // nil means delete
}

// PersistentOptions configures a Persistent store's buffering.
type PersistentOptions struct {
	Dir         string
	Durability  Durability
	QueueCap    int
	FlushPeriod time.Duration
}

// NewPersistent opens (or creates) a pebble store at opts.Dir — or an
// in-memory one when Durability is MemoryOnly — indexed on primary.
func NewPersistent(colTypes []common.ColumnType, primary common.IndexInfo, opts PersistentOptions) (*Persistent, error) {
	pebbleOpts := &pebble.Options{}
	if opts.Durability == MemoryOnly {
		pebbleOpts.FS = vfs.NewMem()
	}
	db, err := pebble.Open(opts.Dir, pebbleOpts)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if opts.QueueCap <= 0 {
		opts.QueueCap = 1000
	}
	if opts.FlushPeriod <= 0 {
		opts.FlushPeriod = 100 * time.Millisecond
	}
	p := &Persistent{
		db:         db,
		dir:        opts.Dir,
		durability: opts.Durability,
		colTypes:   colTypes,
		primary:    primary,
		queueCap:   opts.QueueCap,
		flushEvery: opts.FlushPeriod,
	}
	p.armTimer()
	return p, nil
}

func (p *Persistent) armTimer() {
	p.flushTimer = time.AfterFunc(p.flushEvery, func() {
		p.mu.Lock()
		_ = p.flushLocked()
		if !p.closed {
			p.flushTimer.Reset(p.flushEvery)
		}
		p.mu.Unlock()
	})
}

func (p *Persistent) IsPartial() bool { return false }

func (p *Persistent) Indices() []common.IndexInfo { return []common.IndexInfo{p.primary} }

func (p *Persistent) keyOf(row *common.Row) ([]byte, error) {
	return common.EncodeKeyCols(row, p.primary.Cols, p.colTypes, nil)
}

// Insert appends an upsert to the write buffer, flushing immediately if
// the buffer is at capacity — spec.md §4.1's "flush on queue-capacity or
// timeout", matching table_exec.go's waitForNoUncommittedBatches/
// captureChanges batching style.
func (p *Persistent) Insert(row *common.Row) error {
	key, err := p.keyOf(row)
	if err != nil {
		return err
	}
	value, err := common.EncodeRow(row, p.colTypes, nil)
	if err != nil {
		return err
	}
	return p.enqueue(queuedWrite{key: key, value: value})
}

func (p *Persistent) Remove(row *common.Row) error {
	key, err := p.keyOf(row)
	if err != nil {
		return err
	}
	return p.enqueue(queuedWrite{key: key, value: nil})
}

func (p *Persistent) enqueue(w queuedWrite) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, w)
	if len(p.queue) >= p.queueCap {
		return p.flushLocked()
	}
	return nil
}

func (p *Persistent) flushLocked() error {
	if len(p.queue) == 0 {
		return nil
	}
	batch := p.db.NewBatch()
	for _, w := range p.queue {
		var err error
		if w.value == nil {
			err = batch.Delete(w.key, nil)
		} else {
			err = batch.Set(w.key, w.value, nil)
		}
		if err != nil {
			_ = batch.Close()
			return errors.WithStack(err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.WithStack(err)
	}
	p.queue = p.queue[:0]
	return nil
}

// Flush forces any buffered writes out to pebble. Lookup and AllRows
// already flush first on their own, so a full-replay snapshot read
// through AllRows is up to date without calling Flush.
func (p *Persistent) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked()
}

// Lookup always flushes first so a read never misses a just-buffered
// write — base tables have no partial/hole concept, so every lookup is
// a Hit (possibly with zero rows).
func (p *Persistent) Lookup(indexName string, key []byte) LookupResult {
	p.mu.Lock()
	_ = p.flushLocked()
	p.mu.Unlock()

	value, closer, err := p.db.Get(key)
	if err != nil {
		return LookupResult{Hit: true}
	}
	defer func() { _ = closer.Close() }()

	rows := common.NewRowsFactory(p.colTypes).NewRows(1)
	if err := common.DecodeRow(value, p.colTypes, rows); err != nil {
		return LookupResult{Hit: true}
	}
	return LookupResult{Hit: true, Rows: []common.Row{*rows.GetRow(0)}}
}

// AllRows scans the entire pebble keyspace this store owns, matching
// cluster/dragon/dragon.go's LocalScan/scanWithIter iterator pattern
// (NewIter, SeekGE/Valid/Next). Used for a base table's full
// materialization fill and full-replay snapshot step.
func (p *Persistent) AllRows() []common.Row {
	p.mu.Lock()
	_ = p.flushLocked()
	p.mu.Unlock()

	iter, err := p.db.NewIter(nil)
	if err != nil {
		return nil
	}
	defer func() { _ = iter.Close() }()

	var out []common.Row
	for valid := iter.First(); valid; valid = iter.Next() {
		rows := common.NewRowsFactory(p.colTypes).NewRows(1)
		if err := common.DecodeRow(iter.Value(), p.colTypes, rows); err != nil {
			continue
		}
		out = append(out, *rows.GetRow(0))
	}
	return out
}

func (p *Persistent) MarkFilled(string, []byte) {}
func (p *Persistent) MarkHole(string, []byte)   {}

func (p *Persistent) AddIndex(common.IndexInfo) error {
	return errors.New("persistent state supports only its primary index")
}

func (p *Persistent) Evict(int64) []EvictedKey { return nil }

// Close flushes any buffered writes, closes the pebble handle, and — for
// DeleteOnExit stores — removes the on-disk directory.
func (p *Persistent) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.flushTimer.Stop()
	if err := p.flushLocked(); err != nil {
		return err
	}
	if err := p.db.Close(); err != nil {
		return errors.WithStack(err)
	}
	if p.durability == DeleteOnExit && p.dir != "" {
		return os.RemoveAll(p.dir)
	}
	return nil
}
