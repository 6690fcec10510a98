package mock

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"csrbridge/bus"

	"go.uber.org/zap"
)

// Peer is a software responder for the register-access protocol. It keeps
// an 8-bit register file in memory and answers commands read from a stream.
type Peer struct {
	AddrWidth int
	log       *zap.Logger

	mu   sync.Mutex
	regs map[uint64]byte
}

func NewPeer(addrWidth int, log *zap.Logger) *Peer {
	if log == nil {
		log = zap.L()
	}
	return &Peer{
		AddrWidth: addrWidth,
		log:       log.Named("mock"),
		regs:      make(map[uint64]byte),
	}
}

// Capabilities is the report this peer advertises.
func (p *Peer) Capabilities() bus.Capabilities {
	return bus.Capabilities{
		Access8:   true,
		AddrWidth: uint8(p.AddrWidth),
		DataWidth: 8,
	}
}

// Peek returns the value of a register without going through the protocol.
func (p *Peer) Peek(addr uint64) byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.regs[addr]
}

// Poke sets the value of a register without going through the protocol.
func (p *Peer) Poke(addr uint64, value byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.regs[addr] = value
}

// Serve answers commands from rw until it is closed. A closed stream ends
// Serve with a nil error.
func (p *Peer) Serve(rw io.ReadWriter) (err error) {
	defer func() {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
			err = nil
		}
	}()

	cmd := make([]byte, 1)
	for {
		if _, err = io.ReadFull(rw, cmd); err != nil {
			return
		}

		switch cmd[0] {
		case 0x00:
			// no-op
		case 0x40:
			err = p.read(rw)
		case 0x80:
			err = p.write(rw)
		case 0xc0:
			rsp := append([]byte{byte(bus.StatusOK)}, p.Capabilities().Encode()...)
			_, err = rw.Write(rsp)
		default:
			p.log.Debug("reserved command", zap.Uint8("cmd", cmd[0]))
			_, err = rw.Write([]byte{byte(bus.StatusRejected)})
		}
		if err != nil {
			return
		}
	}
}

func (p *Peer) address(r io.Reader) (uint64, error) {
	buf := make([]byte, bus.AddrByteCount(p.AddrWidth))
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	var addr uint64
	for i := len(buf) - 1; i >= 0; i-- {
		addr = addr<<8 | uint64(buf[i])
	}
	// bits above addr_width are not wired to the bus
	return addr & (1<<p.AddrWidth - 1), nil
}

// The whole request is consumed before answering so that unbuffered streams
// such as net.Pipe do not deadlock against a client writing it in one call.
func (p *Peer) read(rw io.ReadWriter) error {
	addr, err := p.address(rw)
	if err != nil {
		return err
	}
	p.log.Debug("read", zap.Uint64("addr", addr))
	_, err = rw.Write([]byte{byte(bus.StatusOK), p.Peek(addr)})
	return err
}

func (p *Peer) write(rw io.ReadWriter) error {
	addr, err := p.address(rw)
	if err != nil {
		return err
	}
	data := make([]byte, 1)
	if _, err = io.ReadFull(rw, data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	p.log.Debug("write", zap.Uint64("addr", addr), zap.Uint8("data", data[0]))
	p.Poke(addr, data[0])
	_, err = rw.Write([]byte{byte(bus.StatusOK)})
	return err
}

// Pipe starts the peer on one end of an in-memory pipe and returns the other end.
func (p *Peer) Pipe() net.Conn {
	host, dev := net.Pipe()
	go func() {
		defer dev.Close()
		if err := p.Serve(dev); err != nil {
			p.log.Warn("peer stopped", zap.Error(err))
		}
	}()
	return host
}
