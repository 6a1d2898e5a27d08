package irqchip

import (
	"fmt"
	"sync"

	"github.com/tinyrange/irqcore/internal/fwnode"
	"github.com/tinyrange/irqcore/internal/irq"
)

// LineOps is a generic provider for wired leaf controllers. Specifiers
// carry the hardware irq in the first cell and, with two cells, the trigger
// type in the second. Alloc binds the chip and installs a flow handler
// matched to the trigger.
type LineOps struct {
	Sys   *irq.System
	Chip  irq.Chip
	Cells int // accepted specifier cell count, 1 or 2
}

// Translate implements irq.Translator.
func (o *LineOps) Translate(d *irq.Domain, spec irq.FwSpec) (irq.HWIrq, irq.Trigger, error) {
	if len(spec.Params) != o.Cells {
		return 0, 0, fmt.Errorf("want %d cells, got %d", o.Cells, len(spec.Params))
	}
	hw := irq.HWIrq(spec.Params[0])
	trigger := irq.TriggerNone
	if o.Cells >= 2 {
		trigger = irq.Trigger(spec.Params[1]) & irq.TriggerMask
	}
	return hw, trigger, nil
}

// Alloc implements irq.HierarchyOps.
func (o *LineOps) Alloc(d *irq.Domain, base irq.Virq, n int, arg any) error {
	hw, trigger, err := specArg(o, d, arg)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		flow := EdgeFlow(o.Chip)
		if trigger&(irq.TriggerLevelHigh|irq.TriggerLevelLow) != 0 {
			flow = LevelFlow(o.Chip)
		}
		if err := o.Sys.SetInfo(d, base+irq.Virq(i), hw+irq.HWIrq(i), o.Chip, nil, flow, nil); err != nil {
			return err
		}
	}
	return nil
}

// Free implements irq.HierarchyOps.
func (o *LineOps) Free(d *irq.Domain, base irq.Virq, n int) {}

var (
	_ irq.Translator   = (*LineOps)(nil)
	_ irq.HierarchyOps = (*LineOps)(nil)
)

// ForwardOps serves inner hierarchy levels that only route lines upward.
// The level's hwirq derives from the specifier's first cell, optionally
// remapped.
type ForwardOps struct {
	Sys   *irq.System
	Chip  irq.Chip
	MapHW func(irq.HWIrq) irq.HWIrq // optional per-level renumbering
}

// Alloc implements irq.HierarchyOps.
func (o *ForwardOps) Alloc(d *irq.Domain, base irq.Virq, n int, arg any) error {
	hw, _, err := specArg(nil, d, arg)
	if err != nil {
		return err
	}
	if o.MapHW != nil {
		hw = o.MapHW(hw)
	}
	for i := 0; i < n; i++ {
		if err := o.Sys.SetHWIrqAndChip(d, base+irq.Virq(i), hw+irq.HWIrq(i), o.Chip, nil); err != nil {
			return err
		}
	}
	return nil
}

// Free implements irq.HierarchyOps.
func (o *ForwardOps) Free(d *irq.Domain, base irq.Virq, n int) {}

var _ irq.HierarchyOps = (*ForwardOps)(nil)

// DisconnectedOps marks its level as logically absent so the allocator
// trims the chain above it. Useful under controllers whose upper levels
// only forward.
type DisconnectedOps struct {
	Sys *irq.System
}

// Alloc implements irq.HierarchyOps.
func (o *DisconnectedOps) Alloc(d *irq.Domain, base irq.Virq, n int, arg any) error {
	for i := 0; i < n; i++ {
		if err := o.Sys.SetHWIrqAndChip(d, base+irq.Virq(i), 0, irq.ChipDisconnected, nil); err != nil {
			return err
		}
	}
	return nil
}

// Free implements irq.HierarchyOps.
func (o *DisconnectedOps) Free(d *irq.Domain, base irq.Virq, n int) {}

var _ irq.HierarchyOps = (*DisconnectedOps)(nil)

// MSIOps allocates message-signalled vectors from a bounded pool. It
// selects on the domain's bus token, so MSI allocations never land on a
// wired domain.
type MSIOps struct {
	Sys        *irq.System
	Chip       irq.Chip
	NumVectors int

	mu      sync.Mutex
	used    map[irq.HWIrq]bool
	binding map[irq.Virq]irq.HWIrq
}

// Select implements irq.Selector.
func (o *MSIOps) Select(d *irq.Domain, spec irq.FwSpec, token irq.BusToken) bool {
	return spec.FwNode == d.FwNode() && token == d.Token()
}

// Translate implements irq.Translator. MSI specifiers carry no cells; the
// vector is chosen at allocation time.
func (o *MSIOps) Translate(d *irq.Domain, spec irq.FwSpec) (irq.HWIrq, irq.Trigger, error) {
	if len(spec.Params) != 0 {
		return 0, 0, fmt.Errorf("msi specifier carries no cells, got %d", len(spec.Params))
	}
	return o.peekVector(), irq.TriggerEdgeRising, nil
}

// Alloc implements irq.HierarchyOps.
func (o *MSIOps) Alloc(d *irq.Domain, base irq.Virq, n int, arg any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.used == nil {
		o.used = make(map[irq.HWIrq]bool)
		o.binding = make(map[irq.Virq]irq.HWIrq)
	}

	var got []irq.Virq
	for i := 0; i < n; i++ {
		virq := base + irq.Virq(i)
		vec, ok := o.takeVectorLocked()
		if !ok {
			for _, v := range got {
				delete(o.used, o.binding[v])
				delete(o.binding, v)
			}
			return fmt.Errorf("out of msi vectors: %w", irq.ErrNoResources)
		}
		if err := o.Sys.SetInfo(d, virq, vec, o.Chip, nil, EdgeFlow(o.Chip), nil); err != nil {
			delete(o.used, vec)
			for _, v := range got {
				delete(o.used, o.binding[v])
				delete(o.binding, v)
			}
			return err
		}
		o.binding[virq] = vec
		got = append(got, virq)
	}
	return nil
}

// Free implements irq.HierarchyOps.
func (o *MSIOps) Free(d *irq.Domain, base irq.Virq, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := 0; i < n; i++ {
		virq := base + irq.Virq(i)
		if vec, ok := o.binding[virq]; ok {
			delete(o.used, vec)
			delete(o.binding, virq)
		}
	}
}

func (o *MSIOps) peekVector() irq.HWIrq {
	o.mu.Lock()
	defer o.mu.Unlock()
	for v := irq.HWIrq(0); v < irq.HWIrq(o.NumVectors); v++ {
		if !o.used[v] {
			return v
		}
	}
	return irq.HWIrq(o.NumVectors)
}

func (o *MSIOps) takeVectorLocked() (irq.HWIrq, bool) {
	for v := irq.HWIrq(0); v < irq.HWIrq(o.NumVectors); v++ {
		if !o.used[v] {
			o.used[v] = true
			return v, true
		}
	}
	return 0, false
}

var (
	_ irq.Selector     = (*MSIOps)(nil)
	_ irq.Translator   = (*MSIOps)(nil)
	_ irq.HierarchyOps = (*MSIOps)(nil)
)

// specArg extracts (hwirq, trigger) from a hierarchy allocation argument.
func specArg(t irq.Translator, d *irq.Domain, arg any) (irq.HWIrq, irq.Trigger, error) {
	spec, ok := arg.(*irq.FwSpec)
	if !ok || spec == nil {
		return 0, irq.TriggerNone, nil
	}
	if t != nil {
		return t.Translate(d, *spec)
	}
	if len(spec.Params) < 1 {
		return 0, 0, fmt.Errorf("specifier has no cells: %w", irq.ErrInvalidFwSpec)
	}
	hw := irq.HWIrq(spec.Params[0])
	trigger := irq.TriggerNone
	if len(spec.Params) >= 2 {
		trigger = irq.Trigger(spec.Params[1]) & irq.TriggerMask
	}
	return hw, trigger, nil
}

// WiredMatcher matches a domain by fwnode identity for wired requests only.
type WiredMatcher struct{}

// Match implements irq.Matcher.
func (WiredMatcher) Match(d *irq.Domain, node *fwnode.Handle, token irq.BusToken) bool {
	if node == nil || node != d.FwNode() {
		return false
	}
	return token == irq.TokenAny || token == irq.TokenWired
}

var _ irq.Matcher = WiredMatcher{}
