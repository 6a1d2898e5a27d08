package irq

// IrqData is one level of a mapped virq's hierarchy chain. The leaf node is
// embedded in the descriptor; inner nodes are heap allocated and linked
// toward the root through parent. All fields are written under the root
// allocator mutex; the dispatch path reads them only after the node has been
// published in a reverse map.
type IrqData struct {
	irq      Virq
	hwirq    HWIrq
	domain   *Domain
	chip     Chip
	chipData any
	parent   *IrqData
}

func (d *IrqData) Virq() Virq      { return d.irq }
func (d *IrqData) HWIrq() HWIrq    { return d.hwirq }
func (d *IrqData) Domain() *Domain { return d.domain }
func (d *IrqData) Chip() Chip      { return d.chip }
func (d *IrqData) ChipData() any   { return d.chipData }
func (d *IrqData) Parent() *IrqData { return d.parent }

// chainLen counts the nodes from this level to the root, inclusive.
func (d *IrqData) chainLen() int {
	n := 0
	for ; d != nil; d = d.parent {
		n++
	}
	return n
}

// forDomain walks from this node toward the root and returns the node owned
// by the given domain, or nil.
func (d *IrqData) forDomain(dom *Domain) *IrqData {
	for ; d != nil; d = d.parent {
		if d.domain == dom {
			return d
		}
	}
	return nil
}
