package fabric

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalChannelFIFO(t *testing.T) {
	ch := NewLocalChannel(10, 8)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, ch.Send(ctx, []byte("a")))
	require.NoError(t, ch.Send(ctx, []byte("b")))

	first, err := ch.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", string(first))

	second, err := ch.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", string(second))
}

func TestLocalChannelCloseUnblocksRecv(t *testing.T) {
	ch := NewLocalChannel(1, 1)
	require.NoError(t, ch.Close())

	ctx := context.Background()
	_, err := ch.Recv(ctx)
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestCoordinatorResolvesLocal(t *testing.T) {
	c := NewCoordinator()
	ep := Endpoint{Domain: 1, Shard: 0}
	c.RegisterLocal(ep, NewLocalChannel(10, 8))

	ch, ok := c.Resolve(ep)
	require.True(t, ok)
	assert.True(t, c.IsLocal(ep))
	assert.NotNil(t, ch)
}
