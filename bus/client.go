package bus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Client speaks the register-access protocol over a Transport.
//
// Every exchange holds mu from the opcode until the last response byte so at
// most one request is ever in flight. An exchange that fails part way leaves
// the peer in an unknown state; the client then refuses further work with
// ErrDesynchronized and the caller must close and reopen the transport.
type Client struct {
	t   Transport
	log *zap.Logger

	mu     sync.Mutex
	caps   *Capabilities // nil until queried
	broken error
}

type ClientOption func(*Client)

// WithLogger sets the logger used for protocol tracing.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

func NewClient(t Transport, opts ...ClientOption) *Client {
	c := &Client{t: t, log: zap.L()}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("bus")
	return c
}

// Close closes the underlying transport. It does not wait for an exchange
// in progress: that exchange fails and leaves the client desynchronized.
func (c *Client) Close() error {
	return c.t.Close()
}

type writeOptions struct {
	increment bool
}

type WriteOption func(*writeOptions)

// NoIncrement writes every byte to the same address instead of consecutive ones.
func NoIncrement() WriteOption {
	return func(o *writeOptions) { o.increment = false }
}

// Capabilities returns the peer's capability report, querying it on first use.
func (c *Client) Capabilities(ctx context.Context) (Capabilities, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return Capabilities{}, err
	}
	return c.capabilities(ctx)
}

// QueryCapabilities always performs the capability exchange. The first report
// received is cached; later ones are returned but do not replace it.
func (c *Client) QueryCapabilities(ctx context.Context) (Capabilities, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return Capabilities{}, err
	}
	return c.queryCapabilities(ctx)
}

// Read8 reads length 8-bit units starting at addr. Only length 1 is supported.
func (c *Client) Read8(ctx context.Context, addr uint64, length int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return nil, err
	}
	caps, err := c.capabilities(ctx)
	if err != nil {
		return nil, err
	}
	if !caps.Access8 {
		return nil, fmt.Errorf("read_8b: 8-bit access: %w", ErrCapabilityUnsupported)
	}
	if length != 1 {
		return nil, fmt.Errorf("read_8b: burst of %d units: %w", length, ErrCapabilityUnsupported)
	}
	req, err := c.request(OpRead, caps, addr, 0)
	if err != nil {
		return nil, fmt.Errorf("read_8b: %w", err)
	}

	c.log.Debug("read", zap.Uint64("addr", addr))
	var rsp []byte
	err = c.exchange(ctx, "read_8b", func() (err error) {
		if err = c.send(ctx, "read_8b", req); err != nil {
			return
		}
		if err = c.expectStatus(ctx, "read_8b"); err != nil {
			return
		}
		rsp, err = c.recv(ctx, "read_8b", length)
		return
	})
	if err != nil {
		return nil, err
	}
	return rsp, nil
}

// Write8 writes data one 8-bit unit per exchange starting at addr,
// incrementing the address after each unit unless NoIncrement is given.
func (c *Client) Write8(ctx context.Context, addr uint64, data []byte, opts ...WriteOption) error {
	o := writeOptions{increment: true}
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return err
	}
	caps, err := c.capabilities(ctx)
	if err != nil {
		return err
	}
	if !caps.Access8 {
		return fmt.Errorf("write_8b: 8-bit access: %w", ErrCapabilityUnsupported)
	}
	last := addr
	if o.increment && len(data) > 0 {
		last = addr + uint64(len(data)) - 1
	}
	if !fits(caps, last) || last < addr {
		return fmt.Errorf("write_8b: %#x+%d: %w", addr, len(data), ErrAddressRange)
	}

	for _, b := range data {
		req, err := c.request(OpWrite, caps, addr, b)
		if err != nil {
			return fmt.Errorf("write_8b: %w", err)
		}

		c.log.Debug("write", zap.Uint64("addr", addr), zap.Uint8("data", b))
		err = c.exchange(ctx, "write_8b", func() error {
			if err := c.send(ctx, "write_8b", req); err != nil {
				return err
			}
			return c.expectStatus(ctx, "write_8b")
		})
		if err != nil {
			return err
		}

		if o.increment {
			addr++
		}
	}
	return nil
}

// Nop sends a no-op. The peer does not answer it.
func (c *Client) Nop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return err
	}
	return c.exchange(ctx, "nop", func() error {
		return c.send(ctx, "nop", []byte{byte(OpNop)})
	})
}

// Probe sends a bare opcode and returns the peer's status. It is meant for
// opcodes without payload: the no-op (StatusNone) and reserved opcodes, which
// the peer answers with StatusRejected before returning to idle.
func (c *Client) Probe(ctx context.Context, op byte) (Status, error) {
	switch opcode(op) {
	case OpNop:
		return StatusNone, c.Nop(ctx)
	case OpRead, OpWrite, OpCapabilities:
		return StatusNone, fmt.Errorf("probe: opcode %#02x carries a payload or response: %w", op, ErrCapabilityUnsupported)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return StatusNone, err
	}

	var status Status
	err := c.exchange(ctx, "probe", func() error {
		if err := c.send(ctx, "probe", []byte{op}); err != nil {
			return err
		}
		rsp, err := c.recv(ctx, "probe", 1)
		if err != nil {
			return err
		}
		status = Status(rsp[0])
		if status != StatusOK && status != StatusRejected {
			return &ProtocolError{Op: "probe", Expected: byte(StatusRejected), Got: rsp[0]}
		}
		return nil
	})
	return status, err
}

// must hold mu
func (c *Client) ready() error {
	if c.broken != nil {
		return fmt.Errorf("%w: %v", ErrDesynchronized, c.broken)
	}
	return nil
}

// must hold mu
func (c *Client) capabilities(ctx context.Context) (Capabilities, error) {
	if c.caps != nil {
		return *c.caps, nil
	}
	return c.queryCapabilities(ctx)
}

// must hold mu
func (c *Client) queryCapabilities(ctx context.Context) (caps Capabilities, err error) {
	var report []byte
	err = c.exchange(ctx, "capabilities", func() error {
		if err := c.send(ctx, "capabilities", []byte{byte(OpCapabilities)}); err != nil {
			return err
		}
		if err := c.expectStatus(ctx, "capabilities"); err != nil {
			return err
		}
		for {
			b, err := c.recv(ctx, "capabilities", 1)
			if err != nil {
				return err
			}
			report = append(report, b[0])
			if b[0]&continuation == 0 {
				return nil
			}
			if len(report) >= maxCapabilitiesLen {
				return &ProtocolError{Op: "capabilities", Reason: "report exceeds 64 bytes"}
			}
		}
	})
	if err != nil {
		return
	}

	caps, err = DecodeCapabilities(report)
	if err != nil {
		// the report was fully drained, so the peer is idle again
		return
	}

	if c.caps == nil {
		c.caps = &caps
		c.log.Debug("capabilities", zap.Stringer("caps", caps))
	}
	return caps, nil
}

// exchange runs one command/response cycle. Any failure inside it leaves the
// peer mid-command, so the connection is marked broken.
func (c *Client) exchange(ctx context.Context, op string, f func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	err := f()
	if err != nil {
		c.broken = err
		c.log.Warn("connection desynchronized", zap.String("op", op), zap.Error(err))
	}
	return err
}

func (c *Client) request(op opcode, caps Capabilities, addr uint64, data byte) ([]byte, error) {
	if !fits(caps, addr) {
		return nil, fmt.Errorf("%#x does not fit in %d bits: %w", addr, caps.AddrWidth, ErrAddressRange)
	}

	var ab [8]byte
	binary.LittleEndian.PutUint64(ab[:], addr)

	n := caps.AddrBytes()
	req := make([]byte, 0, 2+n)
	req = append(req, byte(op))
	req = append(req, ab[:n]...)
	if op == OpWrite {
		req = append(req, data)
	}
	return req, nil
}

func fits(caps Capabilities, addr uint64) bool {
	if caps.AddrWidth >= 64 {
		return true
	}
	return addr>>caps.AddrWidth == 0
}

func (c *Client) send(ctx context.Context, op string, p []byte) error {
	if err := c.t.Send(ctx, p); err != nil {
		return wrapTransport(op, err)
	}
	return nil
}

func (c *Client) recv(ctx context.Context, op string, n int) ([]byte, error) {
	p, err := c.t.Recv(ctx, n)
	if err != nil {
		return nil, wrapTransport(op, err)
	}
	if len(p) != n {
		return nil, &TransportError{Op: op, wrapped: fmt.Errorf("short read: %d of %d bytes", len(p), n)}
	}
	return p, nil
}

func (c *Client) expectStatus(ctx context.Context, op string) error {
	rsp, err := c.recv(ctx, op, 1)
	if err != nil {
		return err
	}
	if Status(rsp[0]) != StatusOK {
		return &ProtocolError{Op: op, Expected: byte(StatusOK), Got: rsp[0]}
	}
	return nil
}

func wrapTransport(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &TransportError{Op: op, wrapped: err}
}
