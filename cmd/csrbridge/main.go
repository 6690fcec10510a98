// csrbridge reads and writes registers on a peer through the bridge protocol.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"csrbridge/config"
	"csrbridge/util"

	"go.uber.org/zap"
)

// include these transport drivers:
import (
	_ "csrbridge/bus/mock"
	_ "csrbridge/bus/netconn"
	_ "csrbridge/bus/rpc"
	_ "csrbridge/bus/serialport"
	_ "csrbridge/bus/usb"
	_ "csrbridge/bus/websocket"
)

const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

// usageError is reported with the usage text and exitUsage.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...interface{}) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

type globals struct {
	cfg    config.Config
	stdout io.Writer
	log    *zap.Logger
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) (code int) {
	fs := flag.NewFlagSet("csrbridge", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { printUsage(stderr) }

	configPath := fs.String("c", "csrbridge.toml", "configuration file")
	transport := fs.String("t", "", "transport URL (overrides config)")
	metadata := fs.String("m", "", "interface metadata JSON file (overrides config)")
	verbose := fs.Bool("v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
	if *transport != "" {
		cfg.Transport = *transport
	}
	if *metadata != "" {
		cfg.Metadata = *metadata
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}

	log, err := util.NewLogger(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
	defer zap.ReplaceGlobals(log)()
	defer func() { _ = log.Sync() }()
	defer func() {
		if r := recover(); r != nil {
			util.LogPanic(r)
			code = exitFailure
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g := &globals{cfg: cfg, stdout: stdout, log: log}

	rest := fs.Args()
	if len(rest) == 0 {
		printUsage(stderr)
		return exitUsage
	}

	switch rest[0] {
	case "drivers":
		err = runDrivers(g)
	case "capabilities":
		err = runCapabilities(ctx, g)
	case "csr":
		err = runCSR(ctx, g, rest[1:])
	case "serve":
		err = runServe(ctx, g, rest[1:])
	case "help", "-h", "--help":
		printUsage(stdout)
		return exitSuccess
	default:
		err = usagef("unknown command: %s", rest[0])
	}

	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		var ue usageError
		if errors.As(err, &ue) {
			printUsage(stderr)
			return exitUsage
		}
		return exitFailure
	}
	return exitSuccess
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `csrbridge - register access over the bridge protocol

Usage:
  csrbridge [-c config] [-t transport] [-m metadata] [-v] <command> [args]

Commands:
  drivers                    List transport URL schemes
  capabilities               Print the peer's capability report
  csr list                   Print the register tree
  csr read <reg>             Read a register, e.g. gpio.input
  csr write <reg> <value>    Write a register
  serve [flags]              Share a device with remote clients

Transports:
  usb:[?vid=V&pid=P&interface=NAME]    serial:[port][?baud=N&vid=V&pid=P]
  tcp://host:port   ws://host:port/    grpc://host:port   mock:[?addr_width=N]
`)
}
