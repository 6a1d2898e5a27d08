// Package fdt models device-tree nodes and resolves their interrupt
// properties into firmware interrupt specifiers. It reads and writes the
// flattened (DTB) wire format but never touches controller registers; the
// interrupt engine consumes the specifiers this package produces.
package fdt

import (
	"bytes"
	"encoding/binary"
)

// Property describes a single device-tree property. Exactly one of the
// typed fields should be populated for a given property.
type Property struct {
	Strings []string `json:"strings,omitempty" yaml:"strings,omitempty"`
	U32     []uint32 `json:"u32,omitempty" yaml:"u32,omitempty"`
	U64     []uint64 `json:"u64,omitempty" yaml:"u64,omitempty"`
	Bytes   []byte   `json:"bytes,omitempty" yaml:"bytes,omitempty"`
	Flag    bool     `json:"flag,omitempty" yaml:"flag,omitempty"`
}

// Kind returns the name of the populated field or an empty string if none
// are set.
func (p Property) Kind() string {
	switch {
	case len(p.Strings) > 0:
		return "strings"
	case len(p.U32) > 0:
		return "u32"
	case len(p.U64) > 0:
		return "u64"
	case len(p.Bytes) > 0:
		return "bytes"
	case p.Flag:
		return "flag"
	default:
		return ""
	}
}

// DefinedCount reports how many distinct fields on the property are
// populated.
func (p Property) DefinedCount() int {
	count := 0
	if len(p.Strings) > 0 {
		count++
	}
	if len(p.U32) > 0 {
		count++
	}
	if len(p.U64) > 0 {
		count++
	}
	if len(p.Bytes) > 0 {
		count++
	}
	if p.Flag {
		count++
	}
	return count
}

// Node describes a device-tree node.
type Node struct {
	Name       string              `json:"name" yaml:"name"`
	Properties map[string]Property `json:"properties,omitempty" yaml:"properties,omitempty"`
	Children   []Node              `json:"children,omitempty" yaml:"children,omitempty"`
}

// Cells returns the property's value as big-endian u32 cells. Properties
// loaded from a DTB blob carry raw bytes; typed u32 values win when set.
func (p Property) Cells() []uint32 {
	if len(p.U32) > 0 {
		return p.U32
	}
	if len(p.Bytes) > 0 && len(p.Bytes)%4 == 0 {
		cells := make([]uint32, len(p.Bytes)/4)
		for i := range cells {
			cells[i] = binary.BigEndian.Uint32(p.Bytes[i*4:])
		}
		return cells
	}
	return nil
}

// PropU32s returns the u32 cells of a property, or nil.
func (n *Node) PropU32s(name string) []uint32 {
	if p, ok := n.Properties[name]; ok {
		return p.Cells()
	}
	return nil
}

// PropU32 returns the first u32 cell of a property.
func (n *Node) PropU32(name string) (uint32, bool) {
	if vals := n.PropU32s(name); len(vals) > 0 {
		return vals[0], true
	}
	return 0, false
}

// PropString returns the first string of a property.
func (n *Node) PropString(name string) (string, bool) {
	p, ok := n.Properties[name]
	if !ok {
		return "", false
	}
	if len(p.Strings) > 0 {
		return p.Strings[0], true
	}
	if i := bytes.IndexByte(p.Bytes, 0); i > 0 {
		return string(p.Bytes[:i]), true
	}
	return "", false
}

// HasFlag reports whether a flag property is present. A property parsed
// from a DTB blob with an empty value counts as a flag.
func (n *Node) HasFlag(name string) bool {
	p, ok := n.Properties[name]
	return ok && (p.Flag || p.DefinedCount() == 0)
}

// IsInterruptController reports whether the node declares itself an
// interrupt controller.
func (n *Node) IsInterruptController() bool {
	return n.HasFlag("interrupt-controller")
}

// InterruptCells returns the node's #interrupt-cells declaration, with 1 as
// the conventional fallback.
func (n *Node) InterruptCells() int {
	if v, ok := n.PropU32("#interrupt-cells"); ok && v > 0 {
		return int(v)
	}
	return 1
}

// SetProp assigns a property, allocating the map on first use.
func (n *Node) SetProp(name string, p Property) {
	if n.Properties == nil {
		n.Properties = make(map[string]Property)
	}
	n.Properties[name] = p
}
