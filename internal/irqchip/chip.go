// Package irqchip provides chip implementations and generic domain
// providers for the interrupt engine. The engine core treats chips as
// opaque; the mask/unmask/ack capabilities defined here are a contract
// between chips and the flow handlers, not with the allocator.
package irqchip

import (
	"sync"

	"github.com/tinyrange/irqcore/internal/irq"
)

// Masker is implemented by chips that can gate delivery per line.
type Masker interface {
	Mask(hw irq.HWIrq)
	Unmask(hw irq.HWIrq)
}

// Acker is implemented by chips that latch edges and need an explicit ack.
type Acker interface {
	Ack(hw irq.HWIrq)
}

// EOIer is implemented by chips that need an end-of-interrupt signal.
type EOIer interface {
	EOI(hw irq.HWIrq)
}

// SimpleChip is a software chip that records every operation. It backs
// software controllers and doubles as a test probe.
type SimpleChip struct {
	name string

	mu     sync.Mutex
	masked map[irq.HWIrq]bool
	acks   map[irq.HWIrq]int
	eois   map[irq.HWIrq]int
}

// NewSimpleChip returns an all-lines-unmasked chip with the given name.
func NewSimpleChip(name string) *SimpleChip {
	return &SimpleChip{
		name:   name,
		masked: make(map[irq.HWIrq]bool),
		acks:   make(map[irq.HWIrq]int),
		eois:   make(map[irq.HWIrq]int),
	}
}

// ChipName implements irq.Chip.
func (c *SimpleChip) ChipName() string { return c.name }

// Mask implements Masker.
func (c *SimpleChip) Mask(hw irq.HWIrq) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.masked[hw] = true
}

// Unmask implements Masker.
func (c *SimpleChip) Unmask(hw irq.HWIrq) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.masked[hw] = false
}

// Ack implements Acker.
func (c *SimpleChip) Ack(hw irq.HWIrq) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acks[hw]++
}

// EOI implements EOIer.
func (c *SimpleChip) EOI(hw irq.HWIrq) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eois[hw]++
}

// Masked reports whether a line is currently masked.
func (c *SimpleChip) Masked(hw irq.HWIrq) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.masked[hw]
}

// Acks reports how many acks a line has received.
func (c *SimpleChip) Acks(hw irq.HWIrq) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acks[hw]
}

// EOIs reports how many end-of-interrupt signals a line has received.
func (c *SimpleChip) EOIs(hw irq.HWIrq) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eois[hw]
}

var (
	_ irq.Chip = (*SimpleChip)(nil)
	_ Masker   = (*SimpleChip)(nil)
	_ Acker    = (*SimpleChip)(nil)
	_ EOIer    = (*SimpleChip)(nil)
)
