package bus

import (
	"context"
	"fmt"
	"io"
	"time"
)

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Stream adapts a byte stream (serial port, socket, pipe) to a Transport.
//
// Reads that return no data without an error are retried, which lets ports
// configured with a read timeout poll for cancellation. Streams supporting
// read deadlines are interrupted when ctx is done.
type Stream struct {
	rwc io.ReadWriteCloser
}

func NewStream(rwc io.ReadWriteCloser) *Stream {
	return &Stream{rwc: rwc}
}

func (s *Stream) Send(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return sendAll(s.rwc, p)
}

func (s *Stream) Recv(ctx context.Context, n int) ([]byte, error) {
	if d, ok := s.rwc.(deadliner); ok {
		interrupted := make(chan struct{})
		stop := context.AfterFunc(ctx, func() {
			_ = d.SetReadDeadline(time.Now())
			close(interrupted)
		})
		defer func() {
			if !stop() {
				// the deadline was set by the cancellation; clear it for the next caller
				<-interrupted
				_ = d.SetReadDeadline(time.Time{})
			}
		}()
	}

	rsp := make([]byte, n)
	err := recvExact(ctx, s.rwc, rsp)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return rsp, nil
}

func (s *Stream) Close() error {
	return s.rwc.Close()
}

func sendAll(w io.Writer, buf []byte) error {
	sent := 0
	for sent < len(buf) {
		n, e := w.Write(buf[sent:])
		if e != nil {
			return e
		}
		sent += n
	}
	return nil
}

func recvExact(ctx context.Context, r io.Reader, rsp []byte) error {
	o := 0
	for o < len(rsp) {
		n, err := r.Read(rsp[o:])
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("recv: Read returned %d", n)
		}
		if n == 0 {
			// read timeout elapsed with nothing received
			if err = ctx.Err(); err != nil {
				return err
			}
			continue
		}
		o += n
	}
	return nil
}
