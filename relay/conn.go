package relay

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// streamConn carries a raw TCP byte stream; every Read is one packet.
type streamConn struct {
	c net.Conn
}

func (s *streamConn) ReadPacket(ctx context.Context) ([]byte, error) {
	defer context.AfterFunc(ctx, func() { _ = s.c.SetReadDeadline(time.Now()) })()

	b := make([]byte, 512)
	n, err := s.c.Read(b)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return b[:n], nil
}

func (s *streamConn) WritePacket(_ context.Context, p []byte) error {
	_, err := s.c.Write(p)
	return err
}

func (s *streamConn) Close() error {
	return s.c.Close()
}

// wsConn carries server side websocket binary frames.
type wsConn struct {
	c net.Conn
}

func upgradeWebSocket(c net.Conn) (*wsConn, error) {
	if _, err := ws.Upgrade(c); err != nil {
		return nil, err
	}
	return &wsConn{c: c}, nil
}

func (w *wsConn) ReadPacket(ctx context.Context) ([]byte, error) {
	defer context.AfterFunc(ctx, func() { _ = w.c.SetReadDeadline(time.Now()) })()

	for {
		p, op, err := wsutil.ReadClientData(w.c)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if op == ws.OpBinary {
			return p, nil
		}
	}
}

func (w *wsConn) WritePacket(_ context.Context, p []byte) error {
	return wsutil.WriteServerBinary(w.c, p)
}

func (w *wsConn) Close() error {
	return w.c.Close()
}

type packet struct {
	p   []byte
	err error
}

// grpcConn carries BytesValue messages of a server stream. RecvMsg cannot be
// interrupted, so it runs in its own goroutine until the stream ends.
type grpcConn struct {
	stream grpc.ServerStream
	read   chan packet

	closeOnce sync.Once
	closed    chan struct{}
}

func newGRPCConn(stream grpc.ServerStream) *grpcConn {
	g := &grpcConn{
		stream: stream,
		read:   make(chan packet, chanSize),
		closed: make(chan struct{}),
	}
	go g.readLoop()
	return g
}

// must run in a goroutine
func (g *grpcConn) readLoop() {
	for {
		m := new(wrapperspb.BytesValue)
		err := g.stream.RecvMsg(m)
		select {
		case g.read <- packet{p: m.GetValue(), err: err}:
		case <-g.closed:
			return
		}
		if err != nil {
			return
		}
	}
}

func (g *grpcConn) ReadPacket(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.closed:
		return nil, net.ErrClosed
	case pk := <-g.read:
		return pk.p, pk.err
	}
}

func (g *grpcConn) WritePacket(_ context.Context, p []byte) error {
	return g.stream.SendMsg(wrapperspb.Bytes(p))
}

func (g *grpcConn) Close() error {
	g.closeOnce.Do(func() { close(g.closed) })
	return nil
}
