package serialport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"csrbridge/bus"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const driverName = "serial"

// how long a blocked read waits before checking for cancellation
const pollInterval = 100 * time.Millisecond

var (
	ErrNoDeviceFound = errors.New("serial: no matching device found among serial ports")
	ErrNoPort        = errors.New("serial: no port name and no vid/pid to detect one")
	baudRates        = []int{
		921600,
		460800,
		230400,
		115200,
		57600,
		38400,
		19200,
		9600,
	}
)

// Driver opens serial ports.
// URL forms:
//
//	serial:///dev/ttyACM0?baud=115200
//	serial:COM3
//	serial:?vid=0403&pid=6001   (detect a USB serial adapter by id)
type Driver struct{}

type options struct {
	port string
	baud int
	vid  string
	pid  string
}

func parseURL(u *url.URL) (o options, err error) {
	o.port = u.Path
	if o.port == "" {
		o.port = u.Opaque
	}
	q := u.Query()
	o.vid = q.Get("vid")
	o.pid = q.Get("pid")
	o.baud = baudRates[0]
	if s := q.Get("baud"); s != "" {
		o.baud, err = strconv.Atoi(s)
		if err != nil || o.baud <= 0 {
			return o, fmt.Errorf("serial: invalid baud rate %q", s)
		}
	}
	return o, nil
}

// DetectDevice returns the name of the first USB serial port with the given vendor and product id.
func DetectDevice(vid, pid string) (portName string, err error) {
	var ports []*enumerator.PortDetails

	ports, err = enumerator.GetDetailedPortsList()
	if err != nil {
		return
	}

	for _, port := range ports {
		if !port.IsUSB {
			continue
		}
		if strings.EqualFold(port.VID, vid) && strings.EqualFold(port.PID, pid) {
			return port.Name, nil
		}
	}

	return "", ErrNoDeviceFound
}

// OpenPort opens portName, falling back through the common baud rates not
// above baud until one is accepted, and asserts DTR.
func OpenPort(portName string, baud int) (serial.Port, error) {
	log := zap.L().Named(driverName)

	var err error
	f := serial.Port(nil)
	for _, rate := range append([]int{baud}, baudRates...) {
		if rate > baud {
			continue
		}

		f, err = serial.Open(portName, &serial.Mode{
			BaudRate: rate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err == nil {
			log.Debug("opened port", zap.String("port", portName), zap.Int("baud", rate))
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("serial: failed to open %s at any baud rate: %w", portName, err)
	}

	if err = f.SetDTR(true); err != nil {
		err = multierr.Append(fmt.Errorf("serial: failed to set DTR: %w", err), f.Close())
		return nil, err
	}
	if err = f.SetReadTimeout(pollInterval); err != nil {
		err = multierr.Append(fmt.Errorf("serial: failed to set read timeout: %w", err), f.Close())
		return nil, err
	}
	// discard anything left over from a previous session
	if err = f.ResetInputBuffer(); err != nil {
		log.Warn("could not reset input buffer", zap.Error(err))
	}

	return f, nil
}

// Port is an open serial port. Close clears DTR before closing.
type Port struct {
	serial.Port
}

func (p *Port) Close() (err error) {
	// ignore DTR errors since we're closing:
	_ = p.SetDTR(false)

	err = p.Port.Close()
	if err != nil {
		return fmt.Errorf("serial: could not close serial port: %w", err)
	}
	return
}

func (d *Driver) OpenStream(_ context.Context, u *url.URL) (io.ReadWriteCloser, error) {
	o, err := parseURL(u)
	if err != nil {
		return nil, err
	}
	if o.port == "" {
		if o.vid == "" || o.pid == "" {
			return nil, ErrNoPort
		}
		o.port, err = DetectDevice(o.vid, o.pid)
		if err != nil {
			return nil, err
		}
	}

	f, err := OpenPort(o.port, o.baud)
	if err != nil {
		return nil, err
	}
	return &Port{Port: f}, nil
}

func (d *Driver) Open(ctx context.Context, u *url.URL) (bus.Transport, error) {
	p, err := d.OpenStream(ctx, u)
	if err != nil {
		return nil, err
	}
	return bus.NewStream(p), nil
}

func init() {
	bus.Register(driverName, &Driver{})
}
