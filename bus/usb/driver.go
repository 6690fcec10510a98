package usb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"sync"

	"csrbridge/bus"

	"github.com/google/gousb"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const driverName = "usb"

// Identifiers of the bridge gateware's vendor interface.
const (
	DefaultVID       = "1209"
	DefaultPID       = "3443"
	DefaultInterface = "katsuo.bridge"
)

// Bulk endpoint numbers; OUT 0x01 and IN 0x81.
const (
	endpointOut = 1
	endpointIn  = 1
)

const maxPacket = 512

var (
	ErrNoDeviceFound = errors.New("usb: no bridge device found")
	ErrMultipleFound = errors.New("usb: more than one bridge device found")
	ErrNoInterface   = errors.New("usb: bridge interface not found")
)

// Driver talks to the gateware's vendor interface with bulk transfers.
// URL forms:
//
//	usb:
//	usb:?vid=1209&pid=3443&interface=katsuo.bridge
type Driver struct{}

type options struct {
	vid   gousb.ID
	pid   gousb.ID
	iface string
}

func parseID(s string) (gousb.ID, error) {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("usb: invalid id %q", s)
	}
	return gousb.ID(v), nil
}

func parseURL(u *url.URL) (o options, err error) {
	q := u.Query()
	get := func(key, def string) string {
		if v := q.Get(key); v != "" {
			return v
		}
		return def
	}

	if o.vid, err = parseID(get("vid", DefaultVID)); err != nil {
		return
	}
	if o.pid, err = parseID(get("pid", DefaultPID)); err != nil {
		return
	}
	o.iface = get("interface", DefaultInterface)
	return o, nil
}

// bulkIn and bulkOut are the endpoint operations Conn needs.
type bulkIn interface {
	ReadContext(ctx context.Context, buf []byte) (int, error)
}

type bulkOut interface {
	WriteContext(ctx context.Context, buf []byte) (int, error)
}

// Conn is a claimed bridge interface. Each bulk transfer is one packet.
type Conn struct {
	in  bulkIn
	out bulkOut

	// released in order on Close
	closers []func() error

	// ctx bounds every transfer and is cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

func newConn(in bulkIn, out bulkOut, closers ...func() error) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{in: in, out: out, closers: closers, ctx: ctx, cancel: cancel}
}

// Open finds the single device with the given ids and claims the interface
// whose string descriptor is iface.
func Open(vid, pid gousb.ID, iface string) (c *Conn, err error) {
	uc := gousb.NewContext()
	closers := []func() error{uc.Close}
	defer func() {
		if err != nil {
			err = multierr.Append(err, release(closers))
		}
	}()

	devs, err := uc.OpenDevices(func(d *gousb.DeviceDesc) bool {
		return d.Vendor == vid && d.Product == pid
	})
	for _, d := range devs {
		closers = append([]func() error{d.Close}, closers...)
	}
	if err != nil {
		return nil, fmt.Errorf("usb: %w", err)
	}
	switch len(devs) {
	case 0:
		return nil, fmt.Errorf("%w (%s:%s)", ErrNoDeviceFound, vid, pid)
	case 1:
	default:
		return nil, fmt.Errorf("%w (%s:%s)", ErrMultipleFound, vid, pid)
	}
	dev := devs[0]

	if err = dev.SetAutoDetach(true); err != nil {
		return nil, fmt.Errorf("usb: auto detach: %w", err)
	}

	cfgNum, err := dev.ActiveConfigNum()
	if err != nil {
		return nil, fmt.Errorf("usb: active config: %w", err)
	}
	intfNum, alt, err := findInterface(dev, cfgNum, iface)
	if err != nil {
		return nil, err
	}

	cfg, err := dev.Config(cfgNum)
	if err != nil {
		return nil, fmt.Errorf("usb: config %d: %w", cfgNum, err)
	}
	closers = append([]func() error{cfg.Close}, closers...)

	intf, err := cfg.Interface(intfNum, alt)
	if err != nil {
		return nil, fmt.Errorf("usb: claim interface %d: %w", intfNum, err)
	}
	closers = append([]func() error{func() error { intf.Close(); return nil }}, closers...)

	out, err := intf.OutEndpoint(endpointOut)
	if err != nil {
		return nil, fmt.Errorf("usb: out endpoint: %w", err)
	}
	in, err := intf.InEndpoint(endpointIn)
	if err != nil {
		return nil, fmt.Errorf("usb: in endpoint: %w", err)
	}

	zap.L().Named(driverName).Debug("claimed interface",
		zap.Stringer("vid", vid), zap.Stringer("pid", pid),
		zap.Int("config", cfgNum), zap.Int("interface", intfNum))
	return newConn(in, out, closers...), nil
}

func findInterface(dev *gousb.Device, cfgNum int, name string) (intf, alt int, err error) {
	cd, ok := dev.Desc.Configs[cfgNum]
	if !ok {
		return 0, 0, fmt.Errorf("usb: no descriptor for config %d", cfgNum)
	}
	for _, id := range cd.Interfaces {
		for _, as := range id.AltSettings {
			s, err := dev.InterfaceDescription(cfgNum, id.Number, as.Alternate)
			if err != nil {
				continue
			}
			if s == name {
				return id.Number, as.Alternate, nil
			}
		}
	}
	return 0, 0, fmt.Errorf("%w: %q", ErrNoInterface, name)
}

func release(closers []func() error) (err error) {
	for _, f := range closers {
		err = multierr.Append(err, f())
	}
	return
}

// transfer returns a context that ends with ctx or when c is closed.
func (c *Conn) transfer(ctx context.Context) (context.Context, func()) {
	tctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	return tctx, func() {
		stop()
		cancel()
	}
}

func (c *Conn) WritePacket(ctx context.Context, p []byte) error {
	tctx, done := c.transfer(ctx)
	defer done()

	for sent := 0; sent < len(p); {
		n, err := c.out.WriteContext(tctx, p[sent:])
		if err != nil {
			return c.transferErr(ctx, "bulk out", err)
		}
		sent += n
	}
	return nil
}

func (c *Conn) ReadPacket(ctx context.Context) ([]byte, error) {
	tctx, done := c.transfer(ctx)
	defer done()

	buf := make([]byte, maxPacket)
	n, err := c.in.ReadContext(tctx, buf)
	if err != nil {
		return nil, c.transferErr(ctx, "bulk in", err)
	}
	return buf[:n], nil
}

func (c *Conn) transferErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c.ctx.Err() != nil {
		return io.ErrClosedPipe
	}
	return fmt.Errorf("usb: %s: %w", op, err)
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.closeErr = release(c.closers)
	})
	return c.closeErr
}

// stream presents a Conn as a byte stream for the relay.
type stream struct {
	c  *Conn
	rx []byte
}

func (s *stream) Read(p []byte) (int, error) {
	if len(s.rx) == 0 {
		b, err := s.c.ReadPacket(context.Background())
		if err != nil {
			return 0, err
		}
		s.rx = b
	}
	n := copy(p, s.rx)
	s.rx = s.rx[n:]
	return n, nil
}

func (s *stream) Write(p []byte) (int, error) {
	if err := s.c.WritePacket(context.Background(), p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *stream) Close() error {
	return s.c.Close()
}

func (d *Driver) open(u *url.URL) (*Conn, error) {
	o, err := parseURL(u)
	if err != nil {
		return nil, err
	}
	return Open(o.vid, o.pid, o.iface)
}

func (d *Driver) Open(_ context.Context, u *url.URL) (bus.Transport, error) {
	c, err := d.open(u)
	if err != nil {
		return nil, err
	}
	return bus.NewPackets(c), nil
}

func (d *Driver) OpenStream(_ context.Context, u *url.URL) (io.ReadWriteCloser, error) {
	c, err := d.open(u)
	if err != nil {
		return nil, err
	}
	return &stream{c: c}, nil
}

func init() {
	bus.Register(driverName, &Driver{})
}
