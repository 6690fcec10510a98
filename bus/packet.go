package bus

import "context"

// PacketConn carries bytes in discrete messages, such as websocket frames
// or rpc stream messages.
type PacketConn interface {
	WritePacket(ctx context.Context, p []byte) error
	ReadPacket(ctx context.Context) ([]byte, error)
	Close() error
}

// Packets adapts a PacketConn to a Transport. Each Send is one packet;
// received packets are buffered until Recv has consumed them.
type Packets struct {
	pc PacketConn
	rx []byte
}

func NewPackets(pc PacketConn) *Packets {
	return &Packets{pc: pc}
}

func (p *Packets) Send(ctx context.Context, b []byte) error {
	return p.pc.WritePacket(ctx, b)
}

func (p *Packets) Recv(ctx context.Context, n int) ([]byte, error) {
	for len(p.rx) < n {
		data, err := p.pc.ReadPacket(ctx)
		if err != nil {
			return nil, err
		}
		p.rx = append(p.rx, data...)
	}

	rsp := make([]byte, n)
	copy(rsp, p.rx)
	p.rx = p.rx[n:]
	return rsp, nil
}

func (p *Packets) Close() error {
	return p.pc.Close()
}
