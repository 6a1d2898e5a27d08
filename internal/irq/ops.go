package irq

import (
	"io"

	"github.com/tinyrange/irqcore/internal/fwnode"
)

// Providers expose their behaviour as a capability set of small interfaces.
// A provider implements whichever capabilities apply; the registry resolves
// them once at domain creation.

// Translator converts a full fwspec to (hwirq, trigger). Preferred over
// CellTranslator when a provider implements both.
type Translator interface {
	Translate(d *Domain, spec FwSpec) (HWIrq, Trigger, error)
}

// CellTranslator converts raw specifier cells to (hwirq, trigger).
type CellTranslator interface {
	Xlate(d *Domain, cells []uint32) (HWIrq, Trigger, error)
}

// Mapper backs non-hierarchical domains: it binds one virq to one hwirq.
type Mapper interface {
	Map(d *Domain, virq Virq, hw HWIrq) error
	Unmap(d *Domain, virq Virq)
}

// HierarchyOps backs one level of a hierarchical domain. Alloc fills in the
// level's hwirq and chip for each virq in [base, base+n), typically through
// SetHWIrqAndChip. The arg is the allocation argument, a *FwSpec on the
// regular path. Both callbacks run with the root allocator mutex held and
// must not take any domain mutex in the same hierarchy.
type HierarchyOps interface {
	Alloc(d *Domain, base Virq, n int, arg any) error
	Free(d *Domain, base Virq, n int)
}

// Activator reserves and releases hardware resources for one level.
type Activator interface {
	Activate(d *Domain, data *IrqData, reserveOnly bool) error
	Deactivate(d *Domain, data *IrqData)
}

// Matcher customises domain matching against a firmware node.
type Matcher interface {
	Match(d *Domain, node *fwnode.Handle, token BusToken) bool
}

// Selector customises domain matching against a full fwspec. Preferred over
// Matcher when the requested bus token is not TokenAny.
type Selector interface {
	Select(d *Domain, spec FwSpec, token BusToken) bool
}

// DebugShower contributes provider-specific lines to hierarchy dumps.
type DebugShower interface {
	DebugShow(w io.Writer, d *Domain, data *IrqData, indent int)
}
