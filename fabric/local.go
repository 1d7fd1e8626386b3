package fabric

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// LocalChannel is the in-process transport: a bounded queue shared by
// one sender and one receiver in the same address space, used whenever
// the channel Coordinator determines both endpoints are local (spec.md
// §4.4 "the runtime can take local shortcuts"). Send blocks once the
// queue is at capacity, the natural backpressure spec.md §5 calls for;
// Watermark only triggers a log line so operators can see a channel
// running hot before it actually blocks.
type LocalChannel struct {
	queue     chan []byte
	capacity  int
	watermark int

	mu     sync.Mutex
	closed bool
	warned bool
}

// NewLocalChannel builds a LocalChannel with the given queue capacity
// and a watermark (in element count) above which Send logs a warning.
func NewLocalChannel(capacity, watermark int) *LocalChannel {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LocalChannel{queue: make(chan []byte, capacity), capacity: capacity, watermark: watermark}
}

func (c *LocalChannel) Send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}
	if c.watermark > 0 && len(c.queue) >= c.watermark {
		c.mu.Lock()
		if !c.warned {
			log.Warnf("fabric: local channel above watermark (%d/%d queued)", len(c.queue), c.capacity)
			c.warned = true
		}
		c.mu.Unlock()
	}
	select {
	case c.queue <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *LocalChannel) Recv(ctx context.Context) ([]byte, error) {
	select {
	case payload, ok := <-c.queue:
		if !ok {
			return nil, ErrChannelClosed
		}
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *LocalChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.queue)
	return nil
}
