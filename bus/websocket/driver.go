package websocket

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"

	"csrbridge/bus"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"
)

const driverName = "ws"

// Driver connects to a relay that carries the byte stream in binary websocket frames.
// URL form: ws://host:port/path
type Driver struct{}

type packet struct {
	p   []byte
	err error
}

// Conn is the client side of a websocket relay connection.
type Conn struct {
	c    net.Conn
	r    io.Reader
	read chan packet

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial opens a websocket connection to urlstr.
func Dial(ctx context.Context, urlstr string) (*Conn, error) {
	c, br, _, err := ws.Dial(ctx, urlstr)
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w", urlstr, err)
	}

	w := &Conn{
		c:      c,
		r:      c,
		read:   make(chan packet, 64),
		closed: make(chan struct{}),
	}
	if br != nil {
		// the server sent frame bytes along with the handshake response
		buffered := make([]byte, br.Buffered())
		_, _ = io.ReadFull(br, buffered)
		ws.PutReader(br)
		w.r = io.MultiReader(bytes.NewReader(buffered), c)
	}

	go w.readLoop()
	return w, nil
}

// must run in a goroutine
func (w *Conn) readLoop() {
	rw := struct {
		io.Reader
		io.Writer
	}{w.r, w.c}

	for {
		p, op, err := wsutil.ReadServerData(rw)
		if err == nil && op != ws.OpBinary {
			continue
		}
		select {
		case w.read <- packet{p: p, err: err}:
		case <-w.closed:
			return
		}
		if err != nil {
			return
		}
	}
}

func (w *Conn) WritePacket(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wsutil.WriteClientBinary(w.c, p)
}

func (w *Conn) ReadPacket(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.closed:
		return nil, net.ErrClosed
	case pk := <-w.read:
		return pk.p, pk.err
	}
}

func (w *Conn) Close() (err error) {
	w.closeOnce.Do(func() {
		close(w.closed)
		err = w.c.Close()
	})
	return
}

func (d *Driver) Open(ctx context.Context, u *url.URL) (bus.Transport, error) {
	c, err := Dial(ctx, u.String())
	if err != nil {
		return nil, err
	}
	zap.L().Named(driverName).Debug("connected", zap.String("url", u.String()))
	return bus.NewPackets(c), nil
}

func init() {
	bus.Register(driverName, &Driver{})
}
