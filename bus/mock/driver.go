package mock

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"csrbridge/bus"
	"csrbridge/util"
	"csrbridge/util/env"

	"go.uber.org/zap"
)

const driverName = "mock"

const defaultAddrWidth = 8

// Driver opens a fresh in-process Peer for every connection.
// URL form: mock:?addr_width=16
type Driver struct{}

func (d *Driver) peer(u *url.URL) (*Peer, error) {
	addrWidth := defaultAddrWidth
	if s := u.Query().Get("addr_width"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 64 {
			return nil, fmt.Errorf("mock: invalid addr_width %q", s)
		}
		addrWidth = n
	}
	return NewPeer(addrWidth, zap.L()), nil
}

func (d *Driver) Open(_ context.Context, u *url.URL) (bus.Transport, error) {
	p, err := d.peer(u)
	if err != nil {
		return nil, err
	}
	return bus.NewStream(p.Pipe()), nil
}

func (d *Driver) OpenStream(_ context.Context, u *url.URL) (io.ReadWriteCloser, error) {
	p, err := d.peer(u)
	if err != nil {
		return nil, err
	}
	return p.Pipe(), nil
}

func init() {
	if util.IsTruthy(env.GetOrDefault("CSRBRIDGE_MOCK_DISABLE", "0")) {
		return
	}
	bus.Register(driverName, &Driver{})
}
