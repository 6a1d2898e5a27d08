package fdt

import (
	"fmt"

	"github.com/tinyrange/irqcore/internal/fwnode"
	"github.com/tinyrange/irqcore/internal/irq"
)

// Tree indexes a parsed node hierarchy for interrupt resolution: paths,
// parent links, phandle targets and one firmware node handle per interrupt
// controller. The tree must not be mutated while a Tree indexes it.
type Tree struct {
	root *Node

	paths    map[string]*Node
	parents  map[*Node]*Node
	phandles map[uint32]*Node
	handles  map[*Node]*fwnode.Handle
}

// NewTree indexes the hierarchy rooted at root.
func NewTree(root *Node) *Tree {
	t := &Tree{
		root:     root,
		paths:    make(map[string]*Node),
		parents:  make(map[*Node]*Node),
		phandles: make(map[uint32]*Node),
		handles:  make(map[*Node]*fwnode.Handle),
	}
	t.index(root, nil, "")
	return t
}

func (t *Tree) index(n *Node, parent *Node, parentPath string) {
	path := parentPath + "/" + n.Name
	if parent == nil {
		path = "/"
		if n.Name != "" {
			path = "/" + n.Name
		}
	}

	t.paths[path] = n
	t.parents[n] = parent
	if ph, ok := n.PropU32("phandle"); ok {
		t.phandles[ph] = n
	}
	if n.IsInterruptController() {
		t.handles[n] = fwnode.NewDeviceTree(path)
	}

	base := path
	if base == "/" {
		base = ""
	}
	for i := range n.Children {
		t.index(&n.Children[i], n, base)
	}
}

// Root returns the indexed root node.
func (t *Tree) Root() *Node { return t.root }

// Lookup resolves a node by absolute path.
func (t *Tree) Lookup(path string) *Node { return t.paths[path] }

// Path returns the absolute path of an indexed node.
func (t *Tree) Path(n *Node) string {
	for path, node := range t.paths {
		if node == n {
			return path
		}
	}
	return ""
}

// Controllers returns every interrupt-controller node in the tree.
func (t *Tree) Controllers() []*Node {
	var out []*Node
	for n := range t.handles {
		out = append(out, n)
	}
	return out
}

// FwNode returns the firmware node handle of an interrupt controller, or
// nil for nodes that are not controllers.
func (t *Tree) FwNode(n *Node) *fwnode.Handle { return t.handles[n] }

// InterruptParent resolves the controller serving a node's interrupts: an
// explicit interrupt-parent phandle on the node or its ancestors wins,
// otherwise the nearest ancestor controller.
func (t *Tree) InterruptParent(n *Node) *Node {
	for cur := n; cur != nil; cur = t.parents[cur] {
		if ph, ok := cur.PropU32("interrupt-parent"); ok {
			return t.phandles[ph]
		}
		if cur != n && cur.IsInterruptController() {
			return cur
		}
	}
	return nil
}

// InterruptSpecs extracts a node's interrupt consumers as firmware
// specifiers, one per declared interrupt. The interrupts-extended form
// names a controller per entry and wins over a plain interrupts property.
func (t *Tree) InterruptSpecs(n *Node) ([]irq.FwSpec, error) {
	if cells := n.PropU32s("interrupts-extended"); cells != nil {
		return t.extendedSpecs(n, cells)
	}

	cells := n.PropU32s("interrupts")
	if cells == nil {
		return nil, nil
	}

	parent := t.InterruptParent(n)
	if parent == nil {
		return nil, fmt.Errorf("fdt: node %q declares interrupts without a controller", n.Name)
	}
	handle := t.handles[parent]
	if handle == nil {
		return nil, fmt.Errorf("fdt: interrupt parent of %q is not an interrupt controller", n.Name)
	}

	width := parent.InterruptCells()
	if len(cells)%width != 0 {
		return nil, fmt.Errorf("fdt: node %q has %d interrupt cells, controller wants multiples of %d",
			n.Name, len(cells), width)
	}

	var specs []irq.FwSpec
	for i := 0; i < len(cells); i += width {
		specs = append(specs, irq.Spec(handle, cells[i:i+width]...))
	}
	return specs, nil
}

func (t *Tree) extendedSpecs(n *Node, cells []uint32) ([]irq.FwSpec, error) {
	var specs []irq.FwSpec
	for len(cells) > 0 {
		parent := t.phandles[cells[0]]
		if parent == nil {
			return nil, fmt.Errorf("fdt: node %q references unknown phandle %#x", n.Name, cells[0])
		}
		handle := t.handles[parent]
		if handle == nil {
			return nil, fmt.Errorf("fdt: phandle %#x in %q is not an interrupt controller", cells[0], n.Name)
		}
		width := parent.InterruptCells()
		if len(cells) < 1+width {
			return nil, fmt.Errorf("fdt: truncated interrupts-extended entry in %q", n.Name)
		}
		specs = append(specs, irq.Spec(handle, cells[1:1+width]...))
		cells = cells[1+width:]
	}
	return specs, nil
}
