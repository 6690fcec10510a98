package netconn

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"

	"csrbridge/bus"

	"go.uber.org/zap"
)

const driverName = "tcp"

// Driver connects to a raw byte relay over TCP.
// URL form: tcp://host:port
type Driver struct {
	Dialer net.Dialer
}

func (d *Driver) OpenStream(ctx context.Context, u *url.URL) (io.ReadWriteCloser, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("tcp: missing host in %q", u.String())
	}
	c, err := d.Dialer.DialContext(ctx, "tcp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("tcp: dial %s: %w", u.Host, err)
	}
	if tc, ok := c.(*net.TCPConn); ok {
		// requests are a few bytes each; do not let them sit in the send buffer
		_ = tc.SetNoDelay(true)
	}
	zap.L().Named(driverName).Debug("connected", zap.String("addr", u.Host))
	return c, nil
}

func (d *Driver) Open(ctx context.Context, u *url.URL) (bus.Transport, error) {
	c, err := d.OpenStream(ctx, u)
	if err != nil {
		return nil, err
	}
	return bus.NewStream(c), nil
}

func init() {
	bus.Register(driverName, &Driver{})
}
