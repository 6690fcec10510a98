package csr

import (
	"fmt"
	"iter"
)

// Kind tells the three kinds of Node apart.
type Kind uint8

const (
	// KindWindow is a nested address space.
	KindWindow Kind = iota
	// KindRegister is an 8-bit register.
	KindRegister
	// KindPartial is a name prefix shared by several entries that does not resolve on its own.
	KindPartial
)

func (k Kind) String() string {
	switch k {
	case KindWindow:
		return "window"
	case KindRegister:
		return "reg"
	case KindPartial:
		return "partial"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Node is the result of resolving a name path. It is a small value and
// carries no state beyond its position in the tree.
type Node struct {
	kind Kind

	// window: the nested map; partial: the map the prefix is relative to
	m *Map
	// window, partial: first address of m; register: the register's address
	base uint64
	// partial only: the unresolved name prefix relative to m
	prefix []string
	// absolute name path from the root
	path []string

	client *Client
}

func (n Node) Kind() Kind { return n.kind }

// Path returns the absolute name path of the node.
func (n Node) Path() []string { return clone(n.path) }

// Name returns the last path segment, or "" for the root.
func (n Node) Name() string {
	if len(n.path) == 0 {
		return ""
	}
	return n.path[len(n.path)-1]
}

// Offset is the absolute address of a register or the base address of a window.
func (n Node) Offset() uint64 { return n.base }

// CanResolveFurther reports whether Resolve and Children are meaningful on n.
func (n Node) CanResolveFurther() bool {
	return n.kind == KindWindow || n.kind == KindPartial
}

// CanReadWrite reports whether n is a register bound to a bus client.
func (n Node) CanReadWrite() bool {
	return n.kind == KindRegister && n.client != nil
}

// Resolve finds path relative to n. An empty path returns n itself.
func (n Node) Resolve(path ...string) (Node, error) {
	switch n.kind {
	case KindWindow:
		return n.m.resolve(n.base, n.path, path, n.client)
	case KindPartial:
		if len(path) == 0 {
			return n, nil
		}
		at := n.path[:len(n.path)-len(n.prefix)]
		return n.m.resolve(n.base, at, join(n.prefix, path), n.client)
	default:
		if len(path) == 0 {
			return n, nil
		}
		return Node{}, &PathError{Path: join(n.path, path)}
	}
}

// Lookup resolves segments one at a time, the way chained indexing would.
func (n Node) Lookup(segments ...string) (Node, error) {
	var err error
	for _, seg := range segments {
		n, err = n.Resolve(seg)
		if err != nil {
			return Node{}, err
		}
	}
	return n, nil
}

// Children yields the nodes one segment below n: each distinct next segment
// of the windows and then the resources sharing n's name, in description
// order. The sequence can be ranged over any number of times.
func (n Node) Children() iter.Seq[Node] {
	return func(yield func(Node) bool) {
		if !n.CanResolveFurther() {
			return
		}

		emitted := make(map[string]struct{})
		visit := func(name []string) bool {
			if !hasPrefix(name, n.prefix) {
				return true
			}
			seg := name[len(n.prefix)]
			if _, dup := emitted[seg]; dup {
				return true
			}
			emitted[seg] = struct{}{}

			child, err := n.Resolve(seg)
			if err != nil {
				return true
			}
			return yield(child)
		}

		for _, w := range n.m.windows {
			if !visit(w.name) {
				return
			}
		}
		for _, r := range n.m.resources {
			if !visit(r.name) {
				return
			}
		}
	}
}

// Register returns the register n refers to.
func (n Node) Register() (*Register, error) {
	if n.kind != KindRegister {
		return nil, fmt.Errorf("%s is a %v: %w", FormatPath(n.path), n.kind, ErrNotRegister)
	}
	if n.client == nil {
		return nil, fmt.Errorf("%s: %w", FormatPath(n.path), ErrUnbound)
	}
	return &Register{offset: n.base, path: clone(n.path), client: n.client}, nil
}

func (n Node) String() string {
	return fmt.Sprintf("%s(%s @ %#x)", n.kind, FormatPath(n.path), n.base)
}
