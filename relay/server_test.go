package relay_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"csrbridge/bus"
	"csrbridge/bus/mock"
	"csrbridge/bus/rpc"
	"csrbridge/bus/websocket"
	"csrbridge/relay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fixture struct {
	ctx  context.Context
	peer *mock.Peer
	srv  *relay.Server
}

func newFixture(t *testing.T) *fixture {
	log := zaptest.NewLogger(t)
	ctx, cancel := context.WithCancel(context.Background())

	peer := mock.NewPeer(8, log)
	srv := relay.NewServer(peer.Pipe(), relay.WithLogger(log))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &fixture{ctx: ctx, peer: peer, srv: srv}
}

func listen(t *testing.T) net.Listener {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

// exercise runs a short register session through c against the mock peer.
func exercise(t *testing.T, f *fixture, c *bus.Client) {
	ctx := context.Background()

	caps, err := c.QueryCapabilities(ctx)
	require.NoError(t, err)
	assert.True(t, caps.Access8)
	assert.Equal(t, uint8(8), caps.AddrWidth)

	f.peer.Poke(0x10, 0x99)
	data, err := c.Read8(ctx, 0x10, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x99}, data)

	require.NoError(t, c.Write8(ctx, 0x20, []byte{0x01, 0x02}))
	assert.Equal(t, byte(0x01), f.peer.Peek(0x20))
	assert.Equal(t, byte(0x02), f.peer.Peek(0x21))

	require.NoError(t, c.Nop(ctx))
	st, err := c.Probe(ctx, 0x33)
	require.NoError(t, err)
	assert.Equal(t, bus.StatusRejected, st)
}

func TestServer_TCP(t *testing.T) {
	f := newFixture(t)
	ln := listen(t)
	go f.srv.ServeTCP(f.ctx, ln)

	// sessions are served one after another on the same device
	for i := 0; i < 2; i++ {
		conn, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		c := bus.NewClient(bus.NewStream(conn))
		exercise(t, f, c)
		require.NoError(t, c.Close())
	}
}

func TestServer_WebSocket(t *testing.T) {
	f := newFixture(t)
	ln := listen(t)
	go f.srv.ServeWebSocket(f.ctx, ln)

	conn, err := websocket.Dial(context.Background(), "ws://"+ln.Addr().String())
	require.NoError(t, err)
	c := bus.NewClient(bus.NewPackets(conn))
	defer c.Close()
	exercise(t, f, c)
}

func TestServer_GRPC(t *testing.T) {
	f := newFixture(t)
	ln := listen(t)
	go f.srv.ServeGRPC(f.ctx, ln)

	conn, err := rpc.Dial(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	c := bus.NewClient(bus.NewPackets(conn))
	defer c.Close()
	exercise(t, f, c)
}

func TestServer_Metrics(t *testing.T) {
	f := newFixture(t)
	ln := listen(t)
	go f.srv.ServeTCP(f.ctx, ln)
	mln := listen(t)
	go f.srv.ServeMetrics(f.ctx, mln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	c := bus.NewClient(bus.NewStream(conn))
	defer c.Close()
	_, err = c.Read8(context.Background(), 0x00, 1)
	require.NoError(t, err)

	rsp, err := http.Get("http://" + mln.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer rsp.Body.Close()
	body, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `csrbridge_relay_sessions_total{listener="tcp"} 1`)
	assert.Contains(t, string(body), `csrbridge_relay_session_active 1`)
}

func TestServer_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(f.ctx)
	ln := listen(t)

	done := make(chan error, 1)
	go func() { done <- f.srv.ServeTCP(ctx, ln) }()
	cancel()
	require.NoError(t, <-done)
}

// chanConn is a PacketConn fed from and drained into channels.
type chanConn struct {
	in  chan []byte
	out chan []byte

	once   sync.Once
	closed chan struct{}
}

func newChanConn() *chanConn {
	return &chanConn{
		in:     make(chan []byte, 1),
		out:    make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *chanConn) ReadPacket(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, net.ErrClosed
	case p := <-c.in:
		return p, nil
	}
}

func (c *chanConn) WritePacket(_ context.Context, p []byte) error {
	c.out <- p
	return nil
}

func (c *chanConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func TestServer_DiscardsLateDeviceBytes(t *testing.T) {
	host, dev := net.Pipe()
	srv := relay.NewServer(host, relay.WithLogger(zaptest.NewLogger(t)), relay.WithQuietPeriod(200*time.Millisecond))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	pc := newChanConn()
	pc.in <- []byte{0x40, 0x05}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, "test", pc) }()

	// the answer to an abandoned request turns up after the session began
	_, err := dev.Write([]byte{0x01, 0xee})
	require.NoError(t, err)

	req := make([]byte, 2)
	_, err = io.ReadFull(dev, req)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x40, 0x05}, req)
	_, err = dev.Write([]byte{0x01, 0x77})
	require.NoError(t, err)

	var got []byte
	for len(got) < 2 {
		got = append(got, <-pc.out...)
	}
	assert.Equal(t, []byte{0x01, 0x77}, got)

	cancel()
	require.NoError(t, <-done)
}
