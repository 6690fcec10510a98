package bus

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"sync"
)

// Transport is a duplex, strictly ordered byte channel to a peer.
// Only one request may be in flight at a time; Client enforces that.
type Transport interface {
	// Send writes all of p to the peer before returning.
	Send(ctx context.Context, p []byte) error

	// Recv blocks until exactly n bytes have been received from the peer.
	Recv(ctx context.Context, n int) ([]byte, error)

	// Close releases the underlying channel. It may be called while a Send
	// or Recv is blocked and makes that call return.
	Close() error
}

// Driver opens a Transport for a URL whose scheme the driver was registered under.
type Driver interface {
	Open(ctx context.Context, u *url.URL) (Transport, error)
}

// StreamDriver is implemented by drivers that can also hand out the raw byte
// stream to the device, as needed by the relay server.
type StreamDriver interface {
	OpenStream(ctx context.Context, u *url.URL) (io.ReadWriteCloser, error)
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes a transport driver available under the provided URL scheme.
// If Register is called twice with the same name or if driver is nil,
// it panics.
func Register(scheme string, driver Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if driver == nil {
		panic("bus: Register driver is nil")
	}
	if _, dup := drivers[scheme]; dup {
		panic("bus: Register called twice for driver " + scheme)
	}
	drivers[scheme] = driver
}

func unregisterAllDrivers() {
	driversMu.Lock()
	defer driversMu.Unlock()
	// For tests.
	drivers = make(map[string]Driver)
}

// Drivers returns a sorted list of the schemes of the registered drivers.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	list := make([]string, 0, len(drivers))
	for name := range drivers {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}

func lookup(rawurl string) (Driver, *url.URL, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, nil, fmt.Errorf("bus: invalid transport url %q: %w", rawurl, err)
	}
	if u.Scheme == "" {
		return nil, nil, fmt.Errorf("bus: transport url %q has no scheme", rawurl)
	}

	driversMu.RLock()
	driveri, ok := drivers[u.Scheme]
	driversMu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("bus: unknown driver %q (forgotten import?)", u.Scheme)
	}
	return driveri, u, nil
}

// Open opens a Transport using the driver registered for the URL's scheme.
func Open(ctx context.Context, rawurl string) (Transport, error) {
	d, u, err := lookup(rawurl)
	if err != nil {
		return nil, err
	}
	return d.Open(ctx, u)
}

// OpenStream opens the raw device stream for the URL's scheme, if the driver supports it.
func OpenStream(ctx context.Context, rawurl string) (io.ReadWriteCloser, error) {
	d, u, err := lookup(rawurl)
	if err != nil {
		return nil, err
	}
	sd, ok := d.(StreamDriver)
	if !ok {
		return nil, fmt.Errorf("bus: driver %q cannot open a raw device stream", u.Scheme)
	}
	return sd.OpenStream(ctx, u)
}
