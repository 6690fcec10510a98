package bus

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_SendRecv(t *testing.T) {
	host, dev := net.Pipe()
	s := NewStream(host)
	defer s.Close()

	go func() {
		buf := make([]byte, 2)
		_, _ = dev.Read(buf)
		// answer in pieces; Recv must gather them
		_, _ = dev.Write(buf[:1])
		_, _ = dev.Write(buf[1:])
	}()

	require.NoError(t, s.Send(context.Background(), []byte{0xab, 0xcd}))
	rsp, err := s.Recv(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xab, 0xcd}, rsp)
}

func TestStream_RecvCancelled(t *testing.T) {
	host, dev := net.Pipe()
	defer dev.Close()
	s := NewStream(host)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Recv(ctx, 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// the cancellation deadline does not leak into later reads
	go func() { _, _ = dev.Write([]byte{0x01}) }()
	rsp, err := s.Recv(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, rsp)
}

type chunks struct {
	in  [][]byte
	out [][]byte
}

func (c *chunks) WritePacket(_ context.Context, p []byte) error {
	c.out = append(c.out, p)
	return nil
}

func (c *chunks) ReadPacket(_ context.Context) ([]byte, error) {
	if len(c.in) == 0 {
		return nil, net.ErrClosed
	}
	p := c.in[0]
	c.in = c.in[1:]
	return p, nil
}

func (c *chunks) Close() error { return nil }

func TestPackets(t *testing.T) {
	c := &chunks{in: [][]byte{{0x01}, {0x81, 0x80}, {0x88, 0x08, 0x01}}}
	p := NewPackets(c)
	ctx := context.Background()

	require.NoError(t, p.Send(ctx, []byte{0xc0}))
	assert.Equal(t, [][]byte{{0xc0}}, c.out)

	rsp, err := p.Recv(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x81, 0x80}, rsp)

	rsp, err = p.Recv(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x88, 0x08}, rsp)

	rsp, err = p.Recv(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, rsp)

	_, err = p.Recv(ctx, 1)
	require.ErrorIs(t, err, net.ErrClosed)
}
