package csr

import (
	"errors"
	"fmt"
)

type window struct {
	name  []string
	start uint64
	end   uint64
	ratio int
	m     *Map
}

type resource struct {
	name  []string
	start uint64
	end   uint64
}

// Map is an address-space tree built from a memory-map description. It is
// immutable once NewMap returns and safe for concurrent use.
type Map struct {
	addrWidth int
	dataWidth int
	alignment int

	// description order is significant for resolution
	windows   []window
	resources []resource
}

// NewMap builds the tree below a memory-map annotation. Every nested window
// is built eagerly; a window with a ratio other than 1 fails the whole build.
func NewMap(a Annotations) (*Map, error) {
	return buildMap(a, nil)
}

func buildMap(a Annotations, at []string) (*Map, error) {
	d, err := a.MemoryMap()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", FormatPath(at), err)
	}

	m := &Map{
		addrWidth: d.AddrWidth,
		dataWidth: d.DataWidth,
		alignment: d.Alignment,
		windows:   make([]window, 0, len(d.Windows)),
		resources: make([]resource, 0, len(d.Resources)),
	}

	for _, wd := range d.Windows {
		path := join(at, wd.Name)
		if len(wd.Name) == 0 {
			return nil, fmt.Errorf("%s: %w: window without a name", FormatPath(at), ErrSchemaMismatch)
		}
		if wd.Ratio != 1 {
			return nil, fmt.Errorf("%s: %w: window ratio %d is not supported", FormatPath(path), ErrSchemaMismatch, wd.Ratio)
		}

		sub, err := buildMap(wd.Annotations, path)
		if err != nil {
			return nil, err
		}
		m.windows = append(m.windows, window{
			name:  clone(wd.Name),
			start: wd.Start,
			end:   wd.End,
			ratio: wd.Ratio,
			m:     sub,
		})
	}

	for _, rd := range d.Resources {
		if len(rd.Name) == 0 {
			return nil, fmt.Errorf("%s: %w: resource without a name", FormatPath(at), ErrSchemaMismatch)
		}
		m.resources = append(m.resources, resource{
			name:  clone(rd.Name),
			start: rd.Start,
			end:   rd.End,
		})
	}

	return m, nil
}

func (m *Map) AddrWidth() int { return m.addrWidth }
func (m *Map) DataWidth() int { return m.dataWidth }
func (m *Map) Alignment() int { return m.alignment }

// Root returns the unbound root node. Registers resolved from it cannot be
// read or written; use Client.Root for that.
func (m *Map) Root() Node {
	return Node{kind: KindWindow, m: m}
}

// resolve finds path below m, whose absolute path is at and whose first
// address is base. Windows are tried before resources and the first entry in
// description order that matches wins. Only when no entry of m matches is
// the path looked up inside the windows whose name it starts with.
func (m *Map) resolve(base uint64, at, path []string, c *Client) (Node, error) {
	if len(path) == 0 {
		return Node{kind: KindWindow, m: m, base: base, path: at, client: c}, nil
	}

	for _, w := range m.windows {
		switch {
		case equal(path, w.name):
			return Node{kind: KindWindow, m: w.m, base: base + w.start, path: join(at, path), client: c}, nil
		case hasPrefix(w.name, path):
			return Node{kind: KindPartial, m: m, base: base, prefix: clone(path), path: join(at, path), client: c}, nil
		}
	}

	for _, r := range m.resources {
		switch {
		case equal(path, r.name):
			return Node{kind: KindRegister, base: base + r.start, path: join(at, path), client: c}, nil
		case hasPrefix(r.name, path):
			return Node{kind: KindPartial, m: m, base: base, prefix: clone(path), path: join(at, path), client: c}, nil
		}
	}

	for _, w := range m.windows {
		if !hasPrefix(path, w.name) {
			continue
		}
		n, err := w.m.resolve(base+w.start, join(at, w.name), path[len(w.name):], c)
		if errors.Is(err, ErrPathNotFound) {
			continue
		}
		return n, err
	}

	return Node{}, &PathError{Path: join(at, path)}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// hasPrefix reports whether prefix is a strict prefix of name.
func hasPrefix(name, prefix []string) bool {
	return len(prefix) < len(name) && equal(name[:len(prefix)], prefix)
}

func clone(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return append([]string(nil), s...)
}

func join(a, b []string) []string {
	p := make([]string, 0, len(a)+len(b))
	p = append(p, a...)
	return append(p, b...)
}
