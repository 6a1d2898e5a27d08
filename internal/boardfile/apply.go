package boardfile

import (
	"fmt"

	"github.com/tinyrange/irqcore/internal/fwnode"
	"github.com/tinyrange/irqcore/internal/irq"
	"github.com/tinyrange/irqcore/internal/irqchip"
)

// Topology is the live result of applying a board file: registered domains,
// their backing chips and the virqs handed to each device.
type Topology struct {
	Sys *irq.System

	Domains  map[string]*irq.Domain
	Chips    map[string]*irqchip.SimpleChip
	Mappings map[string][]irq.Virq

	// inner marks controllers that are some other controller's parent;
	// those levels forward rather than terminate lines.
	inner map[string]bool
}

// Apply registers the board's controllers on sys, parent levels first, then
// maps every device. On error the system may hold a partial topology; use a
// fresh System per Apply.
func (b *Board) Apply(sys *irq.System) (*Topology, error) {
	topo := &Topology{
		Sys:      sys,
		Domains:  make(map[string]*irq.Domain),
		Chips:    make(map[string]*irqchip.SimpleChip),
		Mappings: make(map[string][]irq.Virq),
		inner:    make(map[string]bool),
	}
	for i := range b.Controllers {
		if p := b.Controllers[i].Parent; p != "" {
			topo.inner[p] = true
		}
	}

	for _, c := range b.controllersParentFirst() {
		if err := topo.register(sys, c); err != nil {
			return nil, err
		}
	}

	for i := range b.Devices {
		dev := &b.Devices[i]
		if err := topo.mapDevice(sys, dev); err != nil {
			return nil, err
		}
	}

	return topo, nil
}

// controllersParentFirst orders controllers so every parent registers before
// its children. validate has already rejected cycles.
func (b *Board) controllersParentFirst() []*Controller {
	done := make(map[string]bool, len(b.Controllers))
	byName := make(map[string]*Controller, len(b.Controllers))
	for i := range b.Controllers {
		byName[b.Controllers[i].Name] = &b.Controllers[i]
	}

	var out []*Controller
	var emit func(c *Controller)
	emit = func(c *Controller) {
		if done[c.Name] {
			return
		}
		if c.Parent != "" {
			emit(byName[c.Parent])
		}
		done[c.Name] = true
		out = append(out, c)
	}
	for i := range b.Controllers {
		emit(&b.Controllers[i])
	}
	return out
}

func (t *Topology) register(sys *irq.System, c *Controller) error {
	token, err := parseToken(c.Token)
	if err != nil {
		return fmt.Errorf("boardfile: controller %q: %w", c.Name, err)
	}

	chip := irqchip.NewSimpleChip(c.Name)
	t.Chips[c.Name] = chip

	var parent *irq.Domain
	if c.Parent != "" {
		parent = t.Domains[c.Parent]
	}

	// Every controller allocates through the hierarchy path, root levels
	// included, so providers get to bind chips and flow handlers.
	flags := irq.FlagHierarchy

	var ops any
	switch {
	case c.MSIVectors > 0:
		ops = &irqchip.MSIOps{Sys: sys, Chip: chip, NumVectors: c.MSIVectors}
	case c.Disconnected:
		ops = &irqchip.DisconnectedOps{Sys: sys}
	case t.inner[c.Name]:
		ops = &irqchip.ForwardOps{Sys: sys, Chip: chip}
	default:
		ops = &irqchip.LineOps{Sys: sys, Chip: chip, Cells: c.Cells}
	}

	d, err := sys.Register(irq.DomainConfig{
		FwNode:    fwnode.NewNamed(c.Name),
		Size:      c.Size,
		HWIrqMax:  irq.HWIrq(c.HWIrqMax),
		DirectMax: irq.HWIrq(c.DirectMax),
		Token:     token,
		Ops:       ops,
		Parent:    parent,
		Flags:     flags,
	})
	if err != nil {
		return fmt.Errorf("boardfile: register %q: %w", c.Name, err)
	}

	t.Domains[c.Name] = d
	if c.Default {
		sys.SetDefault(d)
	}
	return nil
}

func (t *Topology) mapDevice(sys *irq.System, dev *Device) error {
	d := t.Domains[dev.Controller]
	node := d.FwNode()

	if dev.Vectors > 0 {
		base, err := sys.AllocIrqs(d, -1, dev.Vectors, irq.Spec(node), nil)
		if err != nil {
			return fmt.Errorf("boardfile: device %q: %w", dev.Name, err)
		}
		for i := 0; i < dev.Vectors; i++ {
			t.Mappings[dev.Name] = append(t.Mappings[dev.Name], base+irq.Virq(i))
		}
		return nil
	}

	for _, cells := range dev.Interrupts {
		virq, err := sys.CreateMapping(irq.Spec(node, cells...))
		if err != nil {
			return fmt.Errorf("boardfile: device %q interrupt %v: %w", dev.Name, cells, err)
		}
		t.Mappings[dev.Name] = append(t.Mappings[dev.Name], virq)
	}
	return nil
}
