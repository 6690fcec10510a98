package mock

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"testing"

	"csrbridge/bus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPeer_Client(t *testing.T) {
	// 6-bit and 12-bit addressing round up to one and two address bytes
	for _, addrWidth := range []int{6, 8, 12, 16} {
		t.Run(fmt.Sprintf("addr_width=%d", addrWidth), func(t *testing.T) {
			log := zaptest.NewLogger(t)
			p := NewPeer(addrWidth, log)
			c := bus.NewClient(bus.NewStream(p.Pipe()), bus.WithLogger(log))
			defer c.Close()
			ctx := context.Background()

			caps, err := c.QueryCapabilities(ctx)
			require.NoError(t, err)
			assert.Equal(t, bus.Capabilities{
				Access8:   true,
				AddrWidth: uint8(addrWidth),
				DataWidth: 8,
			}, caps)

			data, err := c.Read8(ctx, 0x02, 1)
			require.NoError(t, err)
			assert.Equal(t, []byte{0x00}, data)

			p.Poke(0x02, 0x55)
			data, err = c.Read8(ctx, 0x02, 1)
			require.NoError(t, err)
			assert.Equal(t, []byte{0x55}, data)

			require.NoError(t, c.Write8(ctx, 0x03, []byte{0xaa}))
			assert.Equal(t, byte(0xaa), p.Peek(0x03))

			require.NoError(t, c.Write8(ctx, 0x00, []byte{0x50, 0x05}))
			assert.Equal(t, byte(0x50), p.Peek(0x00))
			assert.Equal(t, byte(0x05), p.Peek(0x01))

			top := uint64(1)<<addrWidth - 1
			require.NoError(t, c.Write8(ctx, top, []byte{0x42}))
			data, err = c.Read8(ctx, top, 1)
			require.NoError(t, err)
			assert.Equal(t, []byte{0x42}, data)
		})
	}
}

func TestPeer_ReservedCommand(t *testing.T) {
	p := NewPeer(8, zaptest.NewLogger(t))
	c := bus.NewClient(bus.NewStream(p.Pipe()), bus.WithLogger(zaptest.NewLogger(t)))
	defer c.Close()
	ctx := context.Background()

	for _, op := range []byte{0x01, 0x3f, 0xfe} {
		status, err := c.Probe(ctx, op)
		require.NoError(t, err)
		assert.Equal(t, bus.StatusRejected, status)
	}

	require.NoError(t, c.Nop(ctx))

	p.Poke(0x10, 0x99)
	data, err := c.Read8(ctx, 0x10, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x99}, data)
}

func TestPeer_ServeEndsOnClose(t *testing.T) {
	p := NewPeer(8, zaptest.NewLogger(t))
	host, dev := net.Pipe()

	done := make(chan error, 1)
	go func() { done <- p.Serve(dev) }()

	_, err := host.Write([]byte{0x00})
	require.NoError(t, err)
	require.NoError(t, host.Close())
	require.NoError(t, <-done)
}

func TestDriver(t *testing.T) {
	d := &Driver{}

	u, err := url.Parse("mock:?addr_width=16")
	require.NoError(t, err)
	tr, err := d.Open(context.Background(), u)
	require.NoError(t, err)

	c := bus.NewClient(tr, bus.WithLogger(zaptest.NewLogger(t)))
	defer c.Close()
	caps, err := c.Capabilities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint8(16), caps.AddrWidth)

	for _, bad := range []string{"mock:?addr_width=0", "mock:?addr_width=x", "mock:?addr_width=65"} {
		u, err := url.Parse(bad)
		require.NoError(t, err)
		_, err = d.Open(context.Background(), u)
		require.Error(t, err, bad)
	}
}
