// Package fabric implements spec.md §4.4's channel layer: typed
// point-to-point delivery between (domain, shard) pairs over one of two
// transports (an in-process queue, or framed TCP), with per-channel FIFO
// and bounded-queue backpressure (spec.md §5). Grounded on the teacher's
// own channel-free design (pranadb routes everything through its
// raft/pebble cluster instead) reworked from first principles per
// spec.md §4.4/§5, since nothing in the pack implements a bespoke
// message-channel abstraction; wire framing here is therefore stdlib
// `net`+`encoding/binary` rather than a third-party library (see
// DESIGN.md).
package fabric

import (
	"context"

	"github.com/squareup/flowbase/errors"
)

// Endpoint identifies one (domain, shard) destination.
type Endpoint struct {
	Domain int
	Shard  int
}

// Channel is a typed point-to-point link to one Endpoint. Payloads are
// caller-serialized (exec.RowsBatch wire bytes); fabric only moves
// bytes, keeping it independent of the exec/domain packages that would
// otherwise need to import it.
type Channel interface {
	Send(ctx context.Context, payload []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// ErrChannelClosed is returned by Send/Recv once Close has been called.
var ErrChannelClosed = errors.New("fabric: channel closed")
