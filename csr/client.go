package csr

import (
	"context"
	"fmt"

	"csrbridge/bus"
)

// Bus is the 8-bit access the Client needs; *bus.Client implements it.
type Bus interface {
	Read8(ctx context.Context, addr uint64, length int) ([]byte, error)
	Write8(ctx context.Context, addr uint64, data []byte, opts ...bus.WriteOption) error
}

// Client binds a register map to a bus. Registers resolved from Root read
// and write through it.
type Client struct {
	bus       Bus
	m         *Map
	addrWidth int
}

// NewClient builds the map described by a and binds it to b. The bus
// fragment must declare an 8-bit data width.
func NewClient(a Annotations, b Bus) (*Client, error) {
	bd, err := a.Bus()
	if err != nil {
		return nil, err
	}
	if bd.DataWidth != 8 {
		return nil, fmt.Errorf("%w: bus data width %d, only 8 is supported", ErrSchemaMismatch, bd.DataWidth)
	}

	m, err := NewMap(a)
	if err != nil {
		return nil, err
	}

	return &Client{bus: b, m: m, addrWidth: bd.AddrWidth}, nil
}

func (c *Client) Map() *Map      { return c.m }
func (c *Client) AddrWidth() int { return c.addrWidth }

// Root returns the root node bound to this client.
func (c *Client) Root() Node {
	return Node{kind: KindWindow, m: c.m, client: c}
}

// Resolve resolves path from the root.
func (c *Client) Resolve(path ...string) (Node, error) {
	return c.Root().Resolve(path...)
}

// Register looks up a dotted register name such as "uart.ctrl".
func (c *Client) Register(name string) (*Register, error) {
	n, err := c.Root().Lookup(ParsePath(name)...)
	if err != nil {
		return nil, err
	}
	return n.Register()
}

// Read reads the register at offset.
func (c *Client) Read(ctx context.Context, offset uint64) (uint8, error) {
	buf, err := c.bus.Read8(ctx, offset, 1)
	if err != nil {
		return 0, err
	}
	if len(buf) != 1 {
		return 0, fmt.Errorf("csr: read %#x: got %d bytes", offset, len(buf))
	}
	return buf[0], nil
}

// Write writes value to the register at offset.
func (c *Client) Write(ctx context.Context, offset uint64, value uint8) error {
	return c.bus.Write8(ctx, offset, []byte{value})
}
