package main

import (
	"context"
	"flag"
	"net"

	"csrbridge/bus"
	"csrbridge/relay"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func runServe(ctx context.Context, g *globals, args []string) (err error) {
	rc := g.cfg.Relay

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.StringVar(&rc.Device, "device", rc.Device, "device URL to share (usb:, serial:..., mock:)")
	fs.StringVar(&rc.TCP, "tcp", rc.TCP, "raw TCP listen address")
	fs.StringVar(&rc.WS, "ws", rc.WS, "websocket listen address")
	fs.StringVar(&rc.GRPC, "grpc", rc.GRPC, "gRPC listen address")
	fs.StringVar(&rc.Metrics, "metrics", rc.Metrics, "prometheus metrics listen address")
	if err = fs.Parse(args); err != nil {
		return usagef("serve: %v", err)
	}
	if rc.TCP == "" && rc.WS == "" && rc.GRPC == "" {
		return usagef("serve: no listener configured")
	}

	dev, err := bus.OpenStream(ctx, withDriverDefaults(rc.Device, g.cfg))
	if err != nil {
		return err
	}

	srv := relay.NewServer(dev, relay.WithLogger(g.log))
	defer func() { err = multierr.Append(err, srv.Close()) }()

	type listener struct {
		addr  string
		serve func(context.Context, net.Listener) error
	}
	listeners := []listener{
		{rc.TCP, srv.ServeTCP},
		{rc.WS, srv.ServeWebSocket},
		{rc.GRPC, srv.ServeGRPC},
		{rc.Metrics, srv.ServeMetrics},
	}

	var lns []net.Listener
	var serves []func(context.Context, net.Listener) error
	for _, l := range listeners {
		if l.addr == "" {
			continue
		}
		ln, lerr := net.Listen("tcp", l.addr)
		if lerr != nil {
			for _, open := range lns {
				lerr = multierr.Append(lerr, open.Close())
			}
			return lerr
		}
		lns = append(lns, ln)
		serves = append(serves, l.serve)
	}

	eg, ectx := errgroup.WithContext(ctx)
	for i := range lns {
		ln, serve := lns[i], serves[i]
		eg.Go(func() error { return serve(ectx, ln) })
	}

	g.log.Info("relay running", zap.String("device", rc.Device))
	return eg.Wait()
}
