package irq

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/btree"
)

// revMap resolves a domain-local hwirq back to the IrqData node the domain
// owns for it. Lookups run from interrupt context: they must not block and
// must never observe a torn entry. Writers publish through atomic stores
// (linear) or a copy-on-write tree swap (radix), so a concurrent reader sees
// either the previous entry or the new one.
type revMap interface {
	insert(hw HWIrq, data *IrqData) error
	clear(hw HWIrq)
	lookup(hw HWIrq) *IrqData
}

// linearMap is a bounded dense array for domains that declare a size.
type linearMap struct {
	slots []atomic.Pointer[IrqData]
}

func newLinearMap(size uint32) *linearMap {
	return &linearMap{slots: make([]atomic.Pointer[IrqData], size)}
}

func (m *linearMap) insert(hw HWIrq, data *IrqData) error {
	if hw >= HWIrq(len(m.slots)) {
		return fmt.Errorf("irq: hwirq %d outside linear map of %d: %w", hw, len(m.slots), ErrInvalidHWIrq)
	}
	m.slots[hw].Store(data)
	return nil
}

func (m *linearMap) clear(hw HWIrq) {
	if hw < HWIrq(len(m.slots)) {
		m.slots[hw].Store(nil)
	}
}

func (m *linearMap) lookup(hw HWIrq) *IrqData {
	if hw >= HWIrq(len(m.slots)) {
		return nil
	}
	return m.slots[hw].Load()
}

// radixMap is an unbounded sparse tree for domains with no declared size.
// Mutation clones the tree and swaps the published pointer.
type radixMap struct {
	mu   sync.Mutex
	max  HWIrq
	tree atomic.Pointer[btree.BTreeG[revEntry]]
}

type revEntry struct {
	hw   HWIrq
	data *IrqData
}

func revLess(a, b revEntry) bool { return a.hw < b.hw }

func newRadixMap(max HWIrq) *radixMap {
	m := &radixMap{max: max}
	m.tree.Store(btree.NewG(8, revLess))
	return m
}

func (m *radixMap) insert(hw HWIrq, data *IrqData) error {
	if m.max != 0 && hw >= m.max {
		return fmt.Errorf("irq: hwirq %d outside radix map of %d: %w", hw, m.max, ErrInvalidHWIrq)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.tree.Load().Clone()
	next.ReplaceOrInsert(revEntry{hw: hw, data: data})
	m.tree.Store(next)
	return nil
}

func (m *radixMap) clear(hw HWIrq) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.tree.Load().Clone()
	next.Delete(revEntry{hw: hw})
	m.tree.Store(next)
}

func (m *radixMap) lookup(hw HWIrq) *IrqData {
	e, ok := m.tree.Load().Get(revEntry{hw: hw})
	if !ok {
		return nil
	}
	return e.data
}

// nomapMap backs identity domains: virq equals hwirq by construction, so
// there is nothing to store. Lookup goes through the descriptor table and is
// implemented on the domain itself.
type nomapMap struct{}

func (nomapMap) insert(HWIrq, *IrqData) error { return nil }
func (nomapMap) clear(HWIrq)                  {}
func (nomapMap) lookup(HWIrq) *IrqData        { return nil }
