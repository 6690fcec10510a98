package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"csrbridge/bus"
	"csrbridge/config"
	"csrbridge/csr"

	"go.uber.org/multierr"
)

func runDrivers(g *globals) error {
	for _, name := range bus.Drivers() {
		fmt.Fprintln(g.stdout, name)
	}
	return nil
}

// withDriverDefaults fills in configured query parameters for serial: and
// usb: URLs. Parameters already in the URL win.
func withDriverDefaults(rawurl string, cfg config.Config) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return rawurl
	}
	q := u.Query()
	set := func(key, value string) {
		if value != "" && q.Get(key) == "" {
			q.Set(key, value)
		}
	}
	switch u.Scheme {
	case "serial":
		set("vid", cfg.Serial.VID)
		set("pid", cfg.Serial.PID)
		if cfg.Serial.Baud > 0 {
			set("baud", strconv.Itoa(cfg.Serial.Baud))
		}
	case "usb":
		set("vid", cfg.USB.VID)
		set("pid", cfg.USB.PID)
		set("interface", cfg.USB.Interface)
	default:
		return rawurl
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func openBus(ctx context.Context, g *globals) (*bus.Client, error) {
	if g.cfg.Transport == "" {
		return nil, usagef("no transport provided")
	}
	t, err := bus.Open(ctx, withDriverDefaults(g.cfg.Transport, g.cfg))
	if err != nil {
		return nil, err
	}
	return bus.NewClient(t, bus.WithLogger(g.log)), nil
}

func loadAnnotations(g *globals) (csr.Annotations, error) {
	if g.cfg.Metadata == "" {
		return nil, usagef("no metadata file provided")
	}
	return csr.LoadMetadataFile(g.cfg.Metadata)
}

func runCapabilities(ctx context.Context, g *globals) (err error) {
	bc, err := openBus(ctx, g)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, bc.Close()) }()

	caps, err := bc.QueryCapabilities(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(g.stdout, caps)
	return nil
}

func runCSR(ctx context.Context, g *globals, args []string) error {
	if len(args) == 0 {
		return usagef("csr: missing subcommand (list, read, write)")
	}

	switch args[0] {
	case "list":
		a, err := loadAnnotations(g)
		if err != nil {
			return err
		}
		m, err := csr.NewMap(a)
		if err != nil {
			return err
		}
		printTree(g.stdout, m.Root(), 0)
		return nil
	case "read":
		if len(args) != 2 {
			return usagef("csr read: expected <reg>")
		}
		return withCSR(ctx, g, func(c *csr.Client) error {
			reg, err := register(c, args[1])
			if err != nil {
				return err
			}
			value, err := reg.Read(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(g.stdout, "%s: %#x\n", args[1], value)
			return nil
		})
	case "write":
		if len(args) != 3 {
			return usagef("csr write: expected <reg> <value>")
		}
		value, err := strconv.ParseUint(args[2], 0, 8)
		if err != nil {
			return usagef("invalid value: %s", args[2])
		}
		return withCSR(ctx, g, func(c *csr.Client) error {
			reg, err := register(c, args[1])
			if err != nil {
				return err
			}
			return reg.Write(ctx, uint8(value))
		})
	default:
		return usagef("csr: unknown subcommand: %s", args[0])
	}
}

func register(c *csr.Client, name string) (*csr.Register, error) {
	reg, err := c.Register(name)
	if err != nil {
		return nil, usagef("invalid register: %s (%v)", name, err)
	}
	return reg, nil
}

func withCSR(ctx context.Context, g *globals, f func(c *csr.Client) error) (err error) {
	a, err := loadAnnotations(g)
	if err != nil {
		return err
	}
	bc, err := openBus(ctx, g)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, bc.Close()) }()

	c, err := csr.NewClient(a, bc)
	if err != nil {
		return err
	}
	return f(c)
}

func printTree(w io.Writer, n csr.Node, level int) {
	name := n.Name()
	if name == "" {
		name = "*"
	}
	fmt.Fprintf(w, "%s%s: ", strings.Repeat(" ", level), name)
	if n.Kind() == csr.KindRegister {
		fmt.Fprintf(w, "reg %#x\n", n.Offset())
		return
	}
	fmt.Fprintln(w)
	for child := range n.Children() {
		printTree(w, child, level+1)
	}
}
