package csr

import "context"

// Register is an 8-bit register on the peer. It holds only its address;
// reads and writes always go to the peer.
type Register struct {
	offset uint64
	path   []string
	client *Client
}

func (r *Register) Offset() uint64 { return r.offset }
func (r *Register) Path() []string { return clone(r.path) }
func (r *Register) Width() int     { return 8 }

func (r *Register) Read(ctx context.Context) (uint8, error) {
	return r.client.Read(ctx, r.offset)
}

func (r *Register) Write(ctx context.Context, value uint8) error {
	return r.client.Write(ctx, r.offset, value)
}
