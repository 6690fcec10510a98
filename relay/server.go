package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"csrbridge/bus"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const chanSize = 64

// DefaultQuietPeriod is how long the device must stay silent before a new
// session starts.
const DefaultQuietPeriod = 20 * time.Millisecond

var ErrDeviceClosed = errors.New("relay: device stream closed")

// Server shares one device byte stream with remote clients, one session at a
// time. The device is read by a single goroutine for the server's lifetime;
// bytes it produces while no session is active, or that belong to a session
// that was abandoned mid-exchange, are discarded when the next session starts.
// A session starts only once the device has been quiet for the quiet period,
// so an answer slower than that can still reach the next client.
type Server struct {
	dev     io.ReadWriteCloser
	log     *zap.Logger
	metrics *Metrics

	rx      chan []byte
	devErr  error
	session sync.Mutex
	quiet   time.Duration
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithQuietPeriod sets how long stale device output is drained before a session.
func WithQuietPeriod(d time.Duration) Option {
	return func(s *Server) { s.quiet = d }
}

func NewServer(dev io.ReadWriteCloser, opts ...Option) *Server {
	s := &Server{
		dev:   dev,
		log:   zap.L(),
		rx:    make(chan []byte, chanSize),
		quiet: DefaultQuietPeriod,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	s.log = s.log.Named("relay")

	go s.readLoop()
	return s
}

func (s *Server) Metrics() *Metrics { return s.metrics }

// Close closes the device stream.
func (s *Server) Close() error {
	return s.dev.Close()
}

// must run in a goroutine
func (s *Server) readLoop() {
	defer close(s.rx)

	b := make([]byte, 512)
	for {
		n, err := s.dev.Read(b)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, b[:n])
			s.rx <- chunk
		}
		if err != nil {
			s.devErr = err
			s.log.Info("device read loop exited", zap.Error(err))
			return
		}
	}
}

// discardStale drops device output until nothing has arrived for the quiet period.
func (s *Server) discardStale() {
	quiet := time.NewTimer(s.quiet)
	defer quiet.Stop()

	for {
		select {
		case p, ok := <-s.rx:
			if !ok {
				return
			}
			s.metrics.Discarded.Add(float64(len(p)))
			s.log.Warn("discarding stale device bytes", zap.Int("n", len(p)))
			quiet.Reset(s.quiet)
		case <-quiet.C:
			return
		}
	}
}

// Serve relays between pc and the device until either side fails or ctx is done.
func (s *Server) Serve(ctx context.Context, listener string, pc bus.PacketConn) (err error) {
	s.session.Lock()
	defer s.session.Unlock()

	id := uuid.NewString()
	log := s.log.With(zap.String("session", id), zap.String("listener", listener))
	log.Info("session started")

	s.metrics.Sessions.WithLabelValues(listener).Inc()
	s.metrics.Active.Set(1)
	defer s.metrics.Active.Set(0)

	s.discardStale()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			p, err := pc.ReadPacket(gctx)
			if err != nil {
				return err
			}
			for sent := 0; sent < len(p); {
				n, err := s.dev.Write(p[sent:])
				if err != nil {
					return fmt.Errorf("device write: %w", err)
				}
				sent += n
			}
			s.metrics.Bytes.WithLabelValues(dirToDevice).Add(float64(len(p)))
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case p, ok := <-s.rx:
				if !ok {
					return multierr.Append(ErrDeviceClosed, s.devErr)
				}
				if err := pc.WritePacket(gctx, p); err != nil {
					return err
				}
				s.metrics.Bytes.WithLabelValues(dirToClient).Add(float64(len(p)))
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		return pc.Close()
	})

	err = g.Wait()
	if isSessionEnd(err) {
		err = nil
	}
	if err != nil {
		log.Warn("session ended", zap.Error(err))
	} else {
		log.Info("session ended")
	}
	return err
}

func isSessionEnd(err error) bool {
	return err == nil ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled)
}

func closeOnDone(ctx context.Context, c io.Closer) func() bool {
	return context.AfterFunc(ctx, func() { _ = c.Close() })
}

// ServeTCP relays raw byte streams accepted on ln.
func (s *Server) ServeTCP(ctx context.Context, ln net.Listener) error {
	defer closeOnDone(ctx, ln)()
	s.log.Info("listening", zap.String("listener", "tcp"), zap.Stringer("addr", ln.Addr()))

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go func() {
			_ = s.Serve(ctx, "tcp", &streamConn{c: c})
		}()
	}
}

// ServeWebSocket relays binary websocket frames accepted on ln.
func (s *Server) ServeWebSocket(ctx context.Context, ln net.Listener) error {
	defer closeOnDone(ctx, ln)()
	s.log.Info("listening", zap.String("listener", "ws"), zap.Stringer("addr", ln.Addr()))

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go func() {
			wc, err := upgradeWebSocket(c)
			if err != nil {
				s.log.Warn("websocket upgrade failed", zap.Error(err))
				_ = c.Close()
				return
			}
			_ = s.Serve(ctx, "ws", wc)
		}()
	}
}

// ServeGRPC serves the Exchange stream on ln.
func (s *Server) ServeGRPC(ctx context.Context, ln net.Listener) error {
	gs := grpc.NewServer()
	RegisterGRPC(gs, s)
	defer context.AfterFunc(ctx, gs.Stop)()
	s.log.Info("listening", zap.String("listener", "grpc"), zap.Stringer("addr", ln.Addr()))

	err := gs.Serve(ln)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// ServeMetrics exposes the prometheus registry at /metrics on ln.
func (s *Server) ServeMetrics(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	hs := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	defer context.AfterFunc(ctx, func() { _ = hs.Close() })()

	err := hs.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Exchange implements ExchangeServer.
func (s *Server) Exchange(stream grpc.ServerStream) error {
	err := s.Serve(stream.Context(), "grpc", newGRPCConn(stream))
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	return nil
}
