package controller

import (
	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/domain"
	"github.com/squareup/flowbase/errors"
	"github.com/squareup/flowbase/exec"
	"github.com/squareup/flowbase/graph"
	"github.com/squareup/flowbase/push"
)

// TableHandle and ViewHandle are client/client.go's write/read entry
// points, folded into this package per SPEC_FULL.md §6.9 — see
// controller.go's package doc for why there is no separate client
// package with a network hop in between.

// TableHandle writes rows into one installed base table — spec.md §6's
// "table handle: insert/update/delete against a base table."
type TableHandle struct {
	c        *Controller
	node     graph.ID
	colTypes []common.ColumnType
}

// Table looks up the write handle for an installed base table by name.
func (c *Controller) Table(name string) (*TableHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.rec.Table(name)
	if !ok {
		return nil, errors.Errorf("controller: no table named %q", name)
	}
	id, err := c.findNode(graph.KindBase, name)
	if err != nil {
		return nil, err
	}
	types := make([]common.ColumnType, len(t.Columns))
	for i, col := range t.Columns {
		types[i] = col.Type
	}
	return &TableHandle{c: c, node: id, colTypes: types}, nil
}

// Insert applies one insert-only row to the table, values given in
// column order.
func (h *TableHandle) Insert(values ...interface{}) error {
	return h.apply(nil, values)
}

// Delete retracts one existing row, values identifying exactly the row
// being removed (the table has no secondary lookup here, so the caller
// supplies the full previous row, matching table_exec.go's
// PrevRow/CurrRow delta shape).
func (h *TableHandle) Delete(values ...interface{}) error {
	return h.apply(values, nil)
}

// Update replaces prevValues with newValues as a single delta — an
// insert and a retract applied atomically from the receiving node's
// point of view, matching table_exec.go's upsert handling.
func (h *TableHandle) Update(prevValues, newValues []interface{}) error {
	return h.apply(prevValues, newValues)
}

func (h *TableHandle) apply(prevValues, currValues []interface{}) error {
	var prev, curr *common.Row
	if prevValues != nil {
		r, err := rowFromValues(h.colTypes, prevValues)
		if err != nil {
			return err
		}
		prev = r
	}
	if currValues != nil {
		r, err := rowFromValues(h.colTypes, currValues)
		if err != nil {
			return err
		}
		curr = r
	}
	h.c.mu.Lock()
	n := h.c.g.MustNode(h.node)
	dom, ok := h.c.domains[n.DomainID]
	h.c.mu.Unlock()
	if !ok {
		return errors.Errorf("controller: table node %v has no running domain", h.node)
	}
	dom.Enqueue(&domain.Packet{
		Kind: domain.Message,
		To:   h.node,
		Records: exec.RowsBatch{Entries: []exec.RowsEntry{{PrevRow: prev, CurrRow: curr}}},
	})
	return nil
}

// ViewHandle reads keyed rows out of one installed query's terminal
// Reader node — spec.md §6's "view handle: keyed lookup against a
// materialized query."
type ViewHandle struct {
	c         *Controller
	readerID  graph.ID
	indexCols []int
	indexName string
	colTypes  []common.ColumnType
}

// View looks up the read handle for an installed query by name.
func (c *Controller) View(name string) (*ViewHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rec.Query(name); !ok {
		return nil, errors.Errorf("controller: no query named %q", name)
	}
	id, err := c.findNode(graph.KindReader, name)
	if err != nil {
		return nil, err
	}
	n := c.g.MustNode(id)
	cols := []int{0}
	idxName := ""
	if rp, ok := n.Operator.(push.ReaderPlan); ok {
		cols = rp.IndexCols
		idxName = rp.IndexName
	}
	return &ViewHandle{c: c, readerID: id, indexCols: cols, indexName: idxName, colTypes: n.Schema}, nil
}

// Lookup fetches every row currently filed under key (given in the
// view's index-column order) — spec.md §6's "lookup(key, block?) →
// rows." With block=false a Miss on a Partial reader returns (nil,
// false, nil) immediately, having already kicked off the upstream
// replay that will fill it — the caller is expected to poll. With
// block=true, Lookup itself waits for that replay to land before
// returning, per spec.md §6: "With block=true a Miss blocks until
// replay completes."
func (v *ViewHandle) Lookup(block bool, key ...interface{}) ([]common.Row, bool, error) {
	encoded, err := v.encodeKey(key)
	if err != nil {
		return nil, false, err
	}

	v.c.mu.Lock()
	st, ok := v.c.states[v.readerID]
	v.c.mu.Unlock()
	if !ok {
		return nil, false, errors.Errorf("controller: reader node %v has no materialized state", v.readerID)
	}
	res := st.Lookup(v.indexName, encoded)
	if res.Hit {
		return res.Rows, true, nil
	}

	if err := v.requestReplay(encoded, block); err != nil {
		return nil, false, err
	}
	if !block {
		return nil, false, nil
	}
	res = st.Lookup(v.indexName, encoded)
	return res.Rows, res.Hit, nil
}

// MultiLookup runs Lookup for every key in keys, in order — spec.md §6's
// "multi_lookup(keys, block?) → list<rows>." Each key is itself a
// column-value tuple in the view's index-column order, matching
// Lookup's own variadic key argument.
func (v *ViewHandle) MultiLookup(block bool, keys ...[]interface{}) ([][]common.Row, error) {
	out := make([][]common.Row, len(keys))
	for i, key := range keys {
		rows, _, err := v.Lookup(block, key...)
		if err != nil {
			return nil, err
		}
		out[i] = rows
	}
	return out, nil
}

func (v *ViewHandle) encodeKey(key []interface{}) ([]byte, error) {
	row, err := rowFromValues(v.colTypes, padValues(key, v.indexCols, len(v.colTypes)))
	if err != nil {
		return nil, err
	}
	return common.EncodeKeyCols(row, v.indexCols, v.colTypes, nil)
}

// requestReplay asks the domain owning this view's reader state to
// trigger upstream replay for encoded, mirroring domain.handleMiss's own
// tag resolution but with no triggering delta to buffer, since this
// "miss" originates from a client read rather than a downstream write.
// With block=true it waits for that replay to land; with block=false it
// returns as soon as the request is enqueued on the domain's inbox,
// leaving the domain to coalesce or dispatch it and the fill to complete
// asynchronously.
func (v *ViewHandle) requestReplay(encoded []byte, block bool) error {
	v.c.mu.Lock()
	n := v.c.g.MustNode(v.readerID)
	dom, ok := v.c.domains[n.DomainID]
	v.c.mu.Unlock()
	if !ok {
		return errors.Errorf("controller: reader node %v has no running domain", v.readerID)
	}

	var done chan error
	if block {
		done = make(chan error, 1)
	}
	dom.Enqueue(&domain.Packet{
		Kind:      domain.AwaitReplay,
		To:        v.readerID,
		IndexName: v.indexName,
		Keys:      [][]byte{encoded},
		Done:      done,
	})
	if !block {
		return nil
	}
	return <-done
}

// findNode locates the single node of kind k named name — base tables
// and Reader nodes are the only kinds push.Builder names after the
// recipe's own identifiers, so a linear scan by (Kind, Name) is enough;
// there is no secondary name index to keep in sync.
func (c *Controller) findNode(k graph.NodeKind, name string) (graph.ID, error) {
	for _, n := range c.g.AllNodes() {
		if n.Kind == k && n.Name == name {
			return n.ID, nil
		}
	}
	return 0, errors.Errorf("controller: no %s node named %q", k, name)
}

func padValues(have []interface{}, cols []int, width int) []interface{} {
	out := make([]interface{}, width)
	for i, c := range cols {
		if i < len(have) {
			out[c] = have[i]
		}
	}
	return out
}
