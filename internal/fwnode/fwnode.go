// Package fwnode models firmware-provided node handles naming interrupt
// controllers. A handle may come from a device tree, an ACPI namespace, a
// software node, or be synthesised for chips that have no firmware
// description at all.
package fwnode

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Kind identifies where a firmware node handle came from.
type Kind int

const (
	KindInvalid Kind = iota
	KindDeviceTree
	KindACPI
	KindSoftware
	KindNamed
	KindNamedID
	KindNamedAddr
)

func (k Kind) String() string {
	switch k {
	case KindDeviceTree:
		return "device-tree"
	case KindACPI:
		return "acpi"
	case KindSoftware:
		return "software"
	case KindNamed:
		return "named"
	case KindNamedID:
		return "named-id"
	case KindNamedAddr:
		return "named-addr"
	default:
		return "invalid"
	}
}

// Handle is a reference-counted firmware node. Handles are immutable after
// construction; only the reference count changes.
type Handle struct {
	kind Kind
	name string
	id   int
	addr uint64

	refs atomic.Int32

	// release runs when the last reference is dropped.
	release func()
}

// New returns a handle of the given kind with a single reference.
func New(kind Kind, name string) *Handle {
	h := &Handle{kind: kind, name: name}
	h.refs.Store(1)
	return h
}

// NewDeviceTree returns a handle naming a device-tree node by path.
func NewDeviceTree(path string) *Handle { return New(KindDeviceTree, path) }

// NewACPI returns a handle naming an ACPI device node by path.
func NewACPI(path string) *Handle { return New(KindACPI, path) }

// NewSoftware returns a software node handle.
func NewSoftware(name string) *Handle { return New(KindSoftware, name) }

// NewNamed returns a synthetic irqchip handle with a literal name.
func NewNamed(name string) *Handle { return New(KindNamed, name) }

// NewNamedID returns a synthetic irqchip handle made of a name and an id.
func NewNamedID(name string, id int) *Handle {
	h := New(KindNamedID, name)
	h.id = id
	return h
}

// NewNamedAddr returns a synthetic irqchip handle named after a physical
// address.
func NewNamedAddr(name string, addr uint64) *Handle {
	h := New(KindNamedAddr, name)
	h.addr = addr
	return h
}

// OnRelease installs a callback invoked when the last reference drops.
func (h *Handle) OnRelease(fn func()) { h.release = fn }

// Get takes an additional reference and returns the handle.
func (h *Handle) Get() *Handle {
	if h == nil {
		return nil
	}
	h.refs.Add(1)
	return h
}

// Put drops a reference. Dropping the last reference runs the release hook.
func (h *Handle) Put() {
	if h == nil {
		return
	}
	n := h.refs.Add(-1)
	if n < 0 {
		panic(fmt.Sprintf("fwnode: reference count underflow on %q", h.name))
	}
	if n == 0 && h.release != nil {
		h.release()
	}
}

// Refs reports the current reference count.
func (h *Handle) Refs() int { return int(h.refs.Load()) }

func (h *Handle) Kind() Kind   { return h.kind }
func (h *Handle) Name() string { return h.name }
func (h *Handle) ID() int      { return h.id }
func (h *Handle) Addr() uint64 { return h.addr }

// DebugName returns the name used in debug directories. Slashes are not
// accepted there, so path separators become colons.
func (h *Handle) DebugName() string {
	if h == nil {
		return "unknown"
	}
	switch h.kind {
	case KindNamedID:
		return fmt.Sprintf("%s-%d", sanitize(h.name), h.id)
	case KindNamedAddr:
		return fmt.Sprintf("%s@%#x", sanitize(h.name), h.addr)
	default:
		return sanitize(h.name)
	}
}

func sanitize(name string) string {
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return "root"
	}
	return strings.ReplaceAll(name, "/", ":")
}
