package irqchip

import (
	"errors"
	"testing"

	"github.com/tinyrange/irqcore/internal/fwnode"
	"github.com/tinyrange/irqcore/internal/irq"
)

// lineDomain registers a root wired controller backed by LineOps.
func lineDomain(t *testing.T, s *irq.System, name string, cells int) (*irq.Domain, *SimpleChip) {
	t.Helper()
	chip := NewSimpleChip(name + "-chip")
	d, err := s.Register(irq.DomainConfig{
		FwNode: fwnode.NewNamed(name),
		Token:  irq.TokenWired,
		Size:   64,
		Ops:    &LineOps{Sys: s, Chip: chip, Cells: cells},
		Flags:  irq.FlagHierarchy,
	})
	if err != nil {
		t.Fatalf("Register %s: %v", name, err)
	}
	return d, chip
}

func TestLineOpsTranslate(t *testing.T) {
	s := irq.NewSystem()
	d, _ := lineDomain(t, s, "intc", 2)

	virq, err := s.CreateMapping(irq.Spec(d.FwNode(), 9, uint32(irq.TriggerLevelHigh)))
	if err != nil {
		t.Fatalf("CreateMapping: %v", err)
	}
	data := s.Data(virq)
	if data.HWIrq() != 9 {
		t.Fatalf("got hwirq %d, want 9", data.HWIrq())
	}
	if got := s.Desc(virq).Trigger(); got != irq.TriggerLevelHigh {
		t.Fatalf("got trigger %s, want level-high", got)
	}

	// Wrong cell count is a translation failure.
	if _, err := s.CreateMapping(irq.Spec(d.FwNode(), 9)); !errors.Is(err, irq.ErrInvalidFwSpec) {
		t.Fatalf("one cell on a two-cell controller: got %v, want ErrInvalidFwSpec", err)
	}
}

func TestLineOpsInstallsMatchingFlow(t *testing.T) {
	s := irq.NewSystem()
	d, chip := lineDomain(t, s, "intc", 2)

	level, err := s.CreateMapping(irq.Spec(d.FwNode(), 1, uint32(irq.TriggerLevelHigh)))
	if err != nil {
		t.Fatalf("level mapping: %v", err)
	}
	edge, err := s.CreateMapping(irq.Spec(d.FwNode(), 2, uint32(irq.TriggerEdgeRising)))
	if err != nil {
		t.Fatalf("edge mapping: %v", err)
	}

	claim := func(virq irq.Virq) {
		t.Helper()
		if err := s.Desc(virq).Claim(&irq.Action{Name: "dev", Handler: func(irq.Virq, any) {}}); err != nil {
			t.Fatalf("Claim %d: %v", virq, err)
		}
	}
	claim(level)
	claim(edge)

	// A level dispatch signals EOI; an edge dispatch acks.
	s.Dispatch(d, 1)
	if chip.EOIs(1) != 1 || chip.Acks(1) != 0 {
		t.Fatalf("level line: %d eois %d acks", chip.EOIs(1), chip.Acks(1))
	}
	if chip.Masked(1) {
		t.Fatalf("level line left masked after dispatch")
	}

	s.Dispatch(d, 2)
	if chip.Acks(2) != 1 || chip.EOIs(2) != 0 {
		t.Fatalf("edge line: %d acks %d eois", chip.Acks(2), chip.EOIs(2))
	}
}

func TestMSIOpsAllocatesVectors(t *testing.T) {
	s := irq.NewSystem()
	chip := NewSimpleChip("its-chip")
	d, err := s.Register(irq.DomainConfig{
		FwNode:   fwnode.NewNamed("its"),
		Token:    irq.TokenPCIMSI,
		HWIrqMax: 4,
		Ops:      &MSIOps{Sys: s, Chip: chip, NumVectors: 4},
		Flags:    irq.FlagHierarchy,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	base, err := s.AllocIrqs(d, -1, 3, irq.Spec(d.FwNode()), nil)
	if err != nil {
		t.Fatalf("AllocIrqs: %v", err)
	}
	for i := 0; i < 3; i++ {
		data := s.Data(base + irq.Virq(i))
		if data == nil || data.Chip() != chip {
			t.Fatalf("vector %d not bound to the msi chip", i)
		}
	}

	// Only one vector remains; a two-vector request fails and releases
	// the vector it briefly held.
	if _, err := s.AllocIrqs(d, -1, 2, irq.Spec(d.FwNode()), nil); !errors.Is(err, irq.ErrNoResources) {
		t.Fatalf("overcommit: got %v, want ErrNoResources", err)
	}
	if _, err := s.AllocIrqs(d, -1, 1, irq.Spec(d.FwNode()), nil); err != nil {
		t.Fatalf("last vector after failed overcommit: %v", err)
	}
}

func TestMSIOpsFreesVectors(t *testing.T) {
	s := irq.NewSystem()
	chip := NewSimpleChip("its-chip")
	d, err := s.Register(irq.DomainConfig{
		FwNode:   fwnode.NewNamed("its"),
		Token:    irq.TokenPCIMSI,
		HWIrqMax: 2,
		Ops:      &MSIOps{Sys: s, Chip: chip, NumVectors: 2},
		Flags:    irq.FlagHierarchy,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	base, err := s.AllocIrqs(d, -1, 2, irq.Spec(d.FwNode()), nil)
	if err != nil {
		t.Fatalf("AllocIrqs: %v", err)
	}
	if err := s.FreeIrqs(base, 2); err != nil {
		t.Fatalf("FreeIrqs: %v", err)
	}

	// The pool is empty again.
	if _, err := s.AllocIrqs(d, -1, 2, irq.Spec(d.FwNode()), nil); err != nil {
		t.Fatalf("realloc after free: %v", err)
	}
}

func TestMSIOpsSelectsOnToken(t *testing.T) {
	s := irq.NewSystem()
	chip := NewSimpleChip("its-chip")
	ops := &MSIOps{Sys: s, Chip: chip, NumVectors: 2}
	d, err := s.Register(irq.DomainConfig{
		FwNode:   fwnode.NewNamed("its"),
		Token:    irq.TokenPCIMSI,
		HWIrqMax: 2,
		Ops:      ops,
		Flags:    irq.FlagHierarchy,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if got := s.FindMatching(irq.Spec(d.FwNode()), irq.TokenPCIMSI); got != d {
		t.Fatalf("pci-msi lookup got %v, want the msi domain", got)
	}
	if got := s.FindMatching(irq.Spec(d.FwNode()), irq.TokenWired); got != nil {
		t.Fatalf("wired lookup matched the msi domain")
	}
}

func TestWiredMatcher(t *testing.T) {
	s := irq.NewSystem()
	chip := NewSimpleChip("intc-chip")
	node := fwnode.NewNamed("intc")

	type matcherOps struct {
		LineOps
		WiredMatcher
	}
	d, err := s.Register(irq.DomainConfig{
		FwNode: node,
		Token:  irq.TokenWired,
		Size:   16,
		Ops:    &matcherOps{LineOps: LineOps{Sys: s, Chip: chip, Cells: 1}},
		Flags:  irq.FlagHierarchy,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if got := s.FindMatching(irq.Spec(node), irq.TokenWired); got != d {
		t.Fatalf("wired lookup got %v, want the domain", got)
	}
	if got := s.FindMatching(irq.Spec(node), irq.TokenPCIMSI); got != nil {
		t.Fatalf("msi lookup matched the wired domain")
	}
	if got := s.FindMatching(irq.Spec(fwnode.NewNamed("other")), irq.TokenWired); got != nil {
		t.Fatalf("foreign node matched")
	}
}

func TestDispatcherEdgeDetection(t *testing.T) {
	s := irq.NewSystem()
	d, _ := lineDomain(t, s, "intc", 2)

	virq, err := s.CreateMapping(irq.Spec(d.FwNode(), 5, uint32(irq.TriggerEdgeRising)))
	if err != nil {
		t.Fatalf("CreateMapping: %v", err)
	}

	fired := 0
	if err := s.Desc(virq).Claim(&irq.Action{Name: "dev", Handler: func(irq.Virq, any) { fired++ }}); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	disp := NewDispatcher(s, d)

	disp.SetLine(5, true)
	if fired != 1 {
		t.Fatalf("rising edge fired %d times, want 1", fired)
	}

	// Holding the line high is not another edge.
	disp.SetLine(5, true)
	if fired != 1 {
		t.Fatalf("steady level fired, count %d", fired)
	}

	disp.SetLine(5, false)
	disp.SetLine(5, true)
	if fired != 2 {
		t.Fatalf("second edge fired %d times total, want 2", fired)
	}

	disp.Pulse(5)
	if fired != 3 {
		t.Fatalf("pulse fired %d times total, want 3", fired)
	}
}

func TestDispatcherSpurious(t *testing.T) {
	s := irq.NewSystem()
	d, _ := lineDomain(t, s, "intc", 2)

	disp := NewDispatcher(s, d)
	disp.Pulse(42)
	if got := disp.Spurious(); got != 1 {
		t.Fatalf("got %d spurious, want 1", got)
	}
}

func TestDispatcherEOIRefiresLevelLine(t *testing.T) {
	s := irq.NewSystem()
	d, _ := lineDomain(t, s, "intc", 2)

	virq, err := s.CreateMapping(irq.Spec(d.FwNode(), 7, uint32(irq.TriggerLevelHigh)))
	if err != nil {
		t.Fatalf("CreateMapping: %v", err)
	}

	fired := 0
	if err := s.Desc(virq).Claim(&irq.Action{Name: "dev", Handler: func(irq.Virq, any) { fired++ }}); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	disp := NewDispatcher(s, d)

	eois := 0
	disp.RegisterEOICallback(7, func() { eois++ })

	disp.SetLine(7, true)
	if fired != 1 {
		t.Fatalf("level assert fired %d times, want 1", fired)
	}

	// The line is still high at EOI, so it fires again.
	disp.BroadcastEOI(7)
	if eois != 1 {
		t.Fatalf("eoi callback ran %d times, want 1", eois)
	}
	if fired != 2 {
		t.Fatalf("still-high line re-fired %d times total, want 2", fired)
	}

	// A deasserted line does not re-fire.
	disp.SetLine(7, false)
	disp.BroadcastEOI(7)
	if fired != 2 {
		t.Fatalf("low line re-fired, count %d", fired)
	}
}
