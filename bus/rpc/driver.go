package rpc

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"

	"csrbridge/bus"
	"csrbridge/relay"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const driverName = "grpc"

// Driver connects to the relay's Exchange stream.
// URL form: grpc://host:port
type Driver struct{}

type packet struct {
	p   []byte
	err error
}

// Conn is one Exchange stream.
type Conn struct {
	cc     *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc
	read   chan packet

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to target and opens an Exchange stream.
func Dial(ctx context.Context, target string) (*Conn, error) {
	cc, err := grpc.DialContext(ctx, target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc: dial %s: %w", target, err)
	}

	// the stream outlives ctx, which only bounds connection setup
	sctx, cancel := context.WithCancel(context.Background())
	stream, err := cc.NewStream(sctx, &relay.ExchangeStreamDesc, relay.ExchangeMethod)
	if err != nil {
		cancel()
		return nil, multierr.Append(fmt.Errorf("grpc: open exchange stream: %w", err), cc.Close())
	}

	c := &Conn{
		cc:     cc,
		stream: stream,
		cancel: cancel,
		read:   make(chan packet, 64),
		closed: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// must run in a goroutine
func (c *Conn) readLoop() {
	for {
		m := new(wrapperspb.BytesValue)
		err := c.stream.RecvMsg(m)
		select {
		case c.read <- packet{p: m.GetValue(), err: err}:
		case <-c.closed:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *Conn) WritePacket(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.stream.SendMsg(wrapperspb.Bytes(p))
}

func (c *Conn) ReadPacket(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, net.ErrClosed
	case pk := <-c.read:
		return pk.p, pk.err
	}
}

func (c *Conn) Close() (err error) {
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.stream.CloseSend()
		c.cancel()
		err = multierr.Append(err, c.cc.Close())
	})
	return
}

func (d *Driver) Open(ctx context.Context, u *url.URL) (bus.Transport, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("grpc: missing host in %q", u.String())
	}
	c, err := Dial(ctx, u.Host)
	if err != nil {
		return nil, err
	}
	zap.L().Named(driverName).Debug("connected", zap.String("target", u.Host))
	return bus.NewPackets(c), nil
}

func init() {
	bus.Register(driverName, &Driver{})
}
