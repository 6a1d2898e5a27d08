package irq

import (
	"fmt"

	"github.com/tinyrange/irqcore/internal/fwnode"
)

// Virq is the flat identifier the rest of the system uses for an interrupt.
// Virq 0 is reserved as the invalid/unmapped sentinel.
type Virq uint32

// HWIrq is a controller-local hardware interrupt number.
type HWIrq uint64

// MaxVirqs bounds the descriptor table key space, exclusive.
const MaxVirqs Virq = 1 << 16

// MaxSpecCells bounds the number of integer cells in a FwSpec.
const MaxSpecCells = 16

// Trigger describes how an interrupt line signals. The zero value means the
// consumer expressed no preference.
type Trigger uint8

const (
	TriggerNone        Trigger = 0
	TriggerEdgeRising  Trigger = 1 << 0
	TriggerEdgeFalling Trigger = 1 << 1
	TriggerLevelHigh   Trigger = 1 << 2
	TriggerLevelLow    Trigger = 1 << 3

	TriggerEdgeBoth Trigger = TriggerEdgeRising | TriggerEdgeFalling
	TriggerMask     Trigger = 0x0f
)

func (t Trigger) String() string {
	switch t & TriggerMask {
	case TriggerNone:
		return "none"
	case TriggerEdgeRising:
		return "edge-rising"
	case TriggerEdgeFalling:
		return "edge-falling"
	case TriggerEdgeBoth:
		return "edge-both"
	case TriggerLevelHigh:
		return "level-high"
	case TriggerLevelLow:
		return "level-low"
	default:
		return fmt.Sprintf("trigger(%#x)", uint8(t))
	}
}

// FwSpec is a firmware interrupt specifier: a controller's fwnode plus a
// small run of integer cells describing one interrupt inside it. FwSpec
// values are immutable once handed to the engine.
type FwSpec struct {
	FwNode *fwnode.Handle
	Params []uint32
}

// Spec builds a FwSpec for the given node and cells.
func Spec(node *fwnode.Handle, params ...uint32) FwSpec {
	return FwSpec{FwNode: node, Params: params}
}

func (s FwSpec) String() string {
	name := "nil"
	if s.FwNode != nil {
		name = s.FwNode.DebugName()
	}
	return fmt.Sprintf("%s%v", name, s.Params)
}

// translate resolves a fwspec to (hwirq, trigger) using the domain's
// translation capability. Domains with no translation capability take the
// first cell as the hardware irq with no trigger.
func (d *Domain) translate(spec FwSpec) (HWIrq, Trigger, error) {
	if len(spec.Params) > MaxSpecCells {
		return 0, 0, fmt.Errorf("irq: fwspec has %d cells, limit %d: %w",
			len(spec.Params), MaxSpecCells, ErrInvalidFwSpec)
	}

	switch {
	case d.translator != nil:
		hw, trig, err := d.translator.Translate(d, spec)
		if err != nil {
			return 0, 0, fmt.Errorf("irq: translate %s: %v: %w", spec, err, ErrInvalidFwSpec)
		}
		return hw, trig, nil
	case d.cellTranslator != nil:
		hw, trig, err := d.cellTranslator.Xlate(d, spec.Params)
		if err != nil {
			return 0, 0, fmt.Errorf("irq: xlate %s: %v: %w", spec, err, ErrInvalidFwSpec)
		}
		return hw, trig, nil
	default:
		if len(spec.Params) < 1 {
			return 0, 0, fmt.Errorf("irq: fwspec %s has no cells: %w", spec, ErrInvalidFwSpec)
		}
		return HWIrq(spec.Params[0]), TriggerNone, nil
	}
}
