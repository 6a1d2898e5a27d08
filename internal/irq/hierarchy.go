package irq

import (
	"fmt"
	"runtime"

	"github.com/tinyrange/irqcore/internal/debug"
)

var allocTrace = debug.WithSource("irq.alloc")

// undoList collects rollback actions during a multi-step allocation.
// Failure runs them in LIFO order, restoring the pre-call state exactly.
type undoList struct {
	actions []func()
}

func (u *undoList) push(fn func()) { u.actions = append(u.actions, fn) }

func (u *undoList) run() {
	for i := len(u.actions) - 1; i >= 0; i-- {
		u.actions[i]()
	}
	u.actions = nil
}

func (u *undoList) discard() { u.actions = nil }

// CreateMapping translates a fwspec, finds the owning domain and returns a
// virq for it, allocating one if needed. Repeated calls with an agreeing
// trigger return the same virq.
func (s *System) CreateMapping(spec FwSpec) (Virq, error) {
	d := s.FindMatching(spec, TokenWired)
	if d == nil {
		d = s.FindMatching(spec, TokenAny)
	}
	if d == nil {
		d = s.GetDefault()
	}
	if d == nil {
		return 0, fmt.Errorf("irq: create mapping %s: %w", spec, ErrNoDomain)
	}

	if d.flags&FlagHierarchy != 0 {
		return s.AllocIrqs(d, -1, 1, spec, nil)
	}
	return s.createSimpleMapping(d, spec)
}

// createSimpleMapping is the non-hierarchical path: one virq bound through
// the provider's Map capability.
func (s *System) createSimpleMapping(d *Domain, spec FwSpec) (Virq, error) {
	hw, trigger, err := d.translate(spec)
	if err != nil {
		return 0, err
	}

	mu := d.lockRoot()
	defer mu.Unlock()

	if virq, err := s.existingMapping(d, hw, trigger); virq != 0 || err != nil {
		return virq, err
	}

	virq, err := s.descs.allocRange(-1, 1, -1, nil)
	if err != nil {
		return 0, err
	}

	desc := s.descs.get(virq)
	desc.data.domain = d
	desc.data.hwirq = hw

	if d.mapper != nil {
		if err := d.mapper.Map(d, virq, hw); err != nil {
			desc.data.domain = nil
			desc.data.hwirq = 0
			_ = s.descs.freeRange(virq, 1)
			// A declined line belongs to firmware or another service;
			// don't treat it as a failure worth shouting about.
			return 0, fmt.Errorf("irq: map %s hwirq %d: %w", d.Name(), hw, err)
		}
	}

	if err := d.revmap.insert(hw, &desc.data); err != nil {
		if d.mapper != nil {
			d.mapper.Unmap(d, virq)
		}
		desc.data.domain = nil
		desc.data.hwirq = 0
		_ = s.descs.freeRange(virq, 1)
		return 0, err
	}
	d.mapcount.Add(1)

	desc.setTrigger(trigger)
	desc.setStatus(statusNoRequest, false)

	allocTrace.Writef("map %s hwirq %d -> virq %d", d.Name(), hw, virq)
	return virq, nil
}

// existingMapping implements the idempotence check: an existing mapping with
// an agreeing trigger is returned as-is. A mapping recorded with no trigger
// accepts one concrete trigger bind; after that, conflicts are errors.
func (s *System) existingMapping(d *Domain, hw HWIrq, trigger Trigger) (Virq, error) {
	data := d.revLookup(hw)
	if data == nil {
		return 0, nil
	}
	desc := s.descs.get(data.irq)
	if desc == nil {
		return 0, nil
	}
	existing := desc.Trigger()
	switch {
	case trigger == TriggerNone || trigger == existing:
		return data.irq, nil
	case existing == TriggerNone:
		desc.setTrigger(trigger)
		return data.irq, nil
	default:
		return 0, fmt.Errorf("irq: hwirq %d on %s mapped as %s, requested %s: %w",
			hw, d.Name(), existing, trigger, ErrTriggerMismatch)
	}
}

// AllocIrqs allocates nr contiguous virqs on a hierarchical leaf domain and
// builds the per-level IrqData chain along the domain's parent path. With
// base < 0 any free block is chosen. Any failure rolls back completely.
func (s *System) AllocIrqs(d *Domain, base int, nr int, spec FwSpec, affinity *Affinity) (Virq, error) {
	if d == nil {
		d = s.GetDefault()
	}
	if d == nil {
		return 0, fmt.Errorf("irq: alloc: %w", ErrNoDomain)
	}
	if d.flags&FlagHierarchy == 0 {
		return 0, fmt.Errorf("irq: domain %s is not hierarchical: %w", d.Name(), ErrInvalidHierarchy)
	}
	if d.hier == nil {
		return 0, fmt.Errorf("irq: domain %s has no alloc capability: %w", d.Name(), ErrInvalidHierarchy)
	}
	if nr < 1 {
		return 0, fmt.Errorf("irq: alloc of %d irqs: %w", nr, ErrInvalidArgs)
	}

	hw, trigger, err := d.translate(spec)
	if err != nil {
		return 0, err
	}

	mu := d.lockRoot()
	defer mu.Unlock()

	if virq, err := s.existingMapping(d, hw, trigger); virq != 0 || err != nil {
		return virq, err
	}

	var undo undoList

	virq, err := s.descs.allocRange(base, nr, -1, affinity)
	if err != nil {
		return 0, fmt.Errorf("irq: alloc %d irqs on %s: %w", nr, d.Name(), err)
	}
	undo.push(func() { _ = s.descs.freeRange(virq, nr) })

	// Build the chain for every virq: the leaf node is embedded in the
	// descriptor, inner nodes mirror the parent path exactly.
	for i := 0; i < nr; i++ {
		desc := s.descs.get(virq + Virq(i))
		leaf := &desc.data
		leaf.domain = d
		node := leaf
		for dom := d.parent; dom != nil; dom = dom.parent {
			inner := &IrqData{irq: leaf.irq, domain: dom}
			node.parent = inner
			node = inner
		}
		undo.push(func() { resetChain(leaf) })
	}

	// Per-level allocation, root to leaf. A failing level frees every
	// already-successful level in reverse before the rollback unwinds.
	levels := levelPath(d)
	for li, dom := range levels {
		if dom.hier == nil {
			continue
		}
		if err := dom.hier.Alloc(dom, virq, nr, &spec); err != nil {
			for j := li - 1; j >= 0; j-- {
				if levels[j].hier != nil {
					levels[j].hier.Free(levels[j], virq, nr)
				}
			}
			undo.run()
			return 0, fmt.Errorf("irq: level %s alloc: %w", dom.Name(), err)
		}
	}
	undo.push(func() {
		for j := len(levels) - 1; j >= 0; j-- {
			if levels[j].hier != nil {
				levels[j].hier.Free(levels[j], virq, nr)
			}
		}
	})

	// Trim disconnected tails before anything is published.
	for i := 0; i < nr; i++ {
		if err := trimHierarchy(s.descs.get(virq + Virq(i))); err != nil {
			undo.run()
			return 0, err
		}
	}

	// Publish every level into its domain's reverse map.
	for i := 0; i < nr; i++ {
		desc := s.descs.get(virq + Virq(i))
		for data := &desc.data; data != nil; data = data.parent {
			if err := data.domain.revmap.insert(data.hwirq, data); err != nil {
				unpublishChain(&desc.data, data)
				s.unpublishRange(virq, i)
				undo.run()
				return 0, err
			}
			data.domain.mapcount.Add(1)
		}
		desc.setTrigger(trigger)
		desc.setStatus(statusNoRequest, false)
	}

	undo.discard()
	allocTrace.Writef("alloc %s hwirq %d -> virq %d x%d", d.Name(), hw, virq, nr)
	return virq, nil
}

// unpublishChain withdraws the levels of one chain that were published
// before stop, leaf side first.
func unpublishChain(leaf *IrqData, stop *IrqData) {
	for data := leaf; data != nil && data != stop; data = data.parent {
		if cur := data.domain.revmap.lookup(data.hwirq); cur == data {
			data.domain.revmap.clear(data.hwirq)
		}
		data.domain.mapcount.Add(-1)
	}
}

// unpublishRange withdraws the fully published chains of the first n virqs
// of a failed bulk allocation.
func (s *System) unpublishRange(virq Virq, n int) {
	for i := 0; i < n; i++ {
		if desc := s.descs.get(virq + Virq(i)); desc != nil {
			unpublishChain(&desc.data, nil)
		}
	}
}

// levelPath returns the domains from root to leaf.
func levelPath(leaf *Domain) []*Domain {
	path := make([]*Domain, 0, leaf.depth())
	for d := leaf; d != nil; d = d.parent {
		path = append(path, d)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// trimHierarchy removes the contiguous disconnected tail of a chain. The
// leaf must carry a real chip, and no real chip may sit above the first
// disconnected node.
func trimHierarchy(desc *IrqDesc) error {
	leaf := &desc.data
	if leaf.chip == nil || leaf.chip == ChipDisconnected {
		return fmt.Errorf("irq: virq %d leaf has no usable chip: %w", leaf.irq, ErrInvalidHierarchy)
	}

	var tail *IrqData
	for prev, data := leaf, leaf.parent; data != nil; prev, data = data, data.parent {
		if tail != nil && data.chip != ChipDisconnected && data.chip != nil {
			return fmt.Errorf("irq: virq %d has a live chip above a trim marker: %w",
				leaf.irq, ErrInvalidHierarchy)
		}
		if tail == nil && data.chip == ChipDisconnected {
			tail = prev
		}
	}
	if tail == nil {
		return nil
	}

	allocTrace.Writef("trim virq %d below %s", leaf.irq, tail.domain.Name())
	tail.parent = nil
	return nil
}

// resetChain severs and zeroes a leaf's chain so a failed allocation leaves
// no dangling references in the descriptor.
func resetChain(leaf *IrqData) {
	leaf.parent = nil
	leaf.domain = nil
	leaf.hwirq = 0
	leaf.chip = nil
	leaf.chipData = nil
}

/// DisposeMapping frees one mapped virq: deactivate if needed, detach the
// handler, quiesce in-flight dispatch, run the per-level free callbacks and
// release the descriptor.
func (s *System) DisposeMapping(virq Virq) error {
	return s.FreeIrqs(virq, 1)
}

// FreeIrqs is the bulk inverse of AllocIrqs.
func (s *System) FreeIrqs(virq Virq, nr int) error {
	desc := s.descs.get(virq)
	if desc == nil || desc.data.domain == nil {
		return fmt.Errorf("irq: free virq %d: %w", virq, ErrUnknownVirq)
	}
	d := desc.data.domain

	mu := d.lockRoot()
	defer mu.Unlock()

	descs := make([]*IrqDesc, nr)
	for i := 0; i < nr; i++ {
		descs[i] = s.descs.get(virq + Virq(i))
		if descs[i] == nil || descs[i].data.domain == nil {
			return fmt.Errorf("irq: free virq %d: %w", virq+Virq(i), ErrUnknownVirq)
		}
		if descs[i].action.Load() != nil {
			return fmt.Errorf("irq: virq %d still claimed: %w", virq+Virq(i), ErrInUse)
		}
	}

	// The free callbacks follow the surviving chains: a level trimmed at
	// allocation time never sees a free. Chains in a range share their
	// suffix, so collecting domains leaf side first dedupes naturally.
	var freeLevels []*Domain
	seen := make(map[*Domain]bool)
	for _, desc := range descs {
		for data := &desc.data; data != nil; data = data.parent {
			if !seen[data.domain] {
				seen[data.domain] = true
				freeLevels = append(freeLevels, data.domain)
			}
		}
	}

	for _, desc := range descs {
		if desc.Activated() {
			s.deactivateLocked(desc)
		}

		// Unpublish first so no new dispatch can find the virq, then wait
		// for handlers already running on other cores to drain.
		desc.setStatus(statusNoRequest, true)
		desc.SetHandler(nil, nil)
		unpublishChain(&desc.data, nil)
		quiesce(desc)
	}

	if d.flags&FlagHierarchy != 0 {
		for _, dom := range freeLevels {
			if dom.hier != nil {
				dom.hier.Free(dom, virq, nr)
			}
		}
	} else if d.mapper != nil {
		for _, desc := range descs {
			d.mapper.Unmap(d, desc.irq)
		}
	}

	for _, desc := range descs {
		resetChain(&desc.data)
	}

	if err := s.descs.freeRange(virq, nr); err != nil {
		return err
	}
	allocTrace.Writef("free %s virq %d x%d", d.Name(), virq, nr)
	return nil
}

// quiesce spins until in-flight dispatch of the descriptor drains. The
// reverse-map entries are already unpublished, so the count only falls.
func quiesce(desc *IrqDesc) {
	for desc.inFlight.Load() != 0 {
		runtime.Gosched()
	}
}

// CreateDirectMapping allocates an identity mapping on a nomap domain: the
// chosen virq equals the hardware irq. Fails once the space below the
// domain's direct maximum is exhausted.
func (s *System) CreateDirectMapping(d *Domain) (Virq, error) {
	if d == nil || d.flags&FlagNoMap == 0 {
		return 0, fmt.Errorf("irq: direct mapping needs a nomap domain: %w", ErrInvalidArgs)
	}

	mu := d.lockRoot()
	defer mu.Unlock()

	// Rotate through the direct space so freed slots are found again.
	for tries := HWIrq(0); tries < d.directMax; tries++ {
		hw := d.directRotor
		d.directRotor = (d.directRotor + 1) % d.directMax
		if hw == 0 {
			continue // virq 0 is the invalid sentinel
		}
		if s.descs.get(Virq(hw)) != nil {
			continue
		}
		virq, err := s.descs.allocRange(int(hw), 1, -1, nil)
		if err != nil {
			continue
		}
		desc := s.descs.get(virq)
		desc.data.domain = d
		desc.data.hwirq = hw
		d.mapcount.Add(1)
		desc.setStatus(statusNoRequest, false)
		allocTrace.Writef("direct map %s virq %d", d.Name(), virq)
		return virq, nil
	}
	return 0, fmt.Errorf("irq: direct space on %s exhausted: %w", d.Name(), ErrNoResources)
}

// PushIrq inserts top as the new outermost level of an existing mapping.
// The virq's current leaf domain must be top's declared parent and the virq
// must be unclaimed and inactive.
func (s *System) PushIrq(virq Virq, top *Domain, arg any) error {
	desc := s.descs.get(virq)
	if desc == nil || desc.data.domain == nil {
		return fmt.Errorf("irq: push virq %d: %w", virq, ErrUnknownVirq)
	}
	if top == nil || top.hier == nil {
		return fmt.Errorf("irq: push needs a hierarchical domain: %w", ErrInvalidHierarchy)
	}

	mu := top.lockRoot()
	defer mu.Unlock()

	if desc.action.Load() != nil {
		return fmt.Errorf("irq: virq %d is claimed: %w", virq, ErrInUse)
	}
	if desc.Activated() {
		return fmt.Errorf("irq: virq %d is activated: %w", virq, ErrInUse)
	}
	if top.parent != desc.data.domain {
		return fmt.Errorf("irq: domain %s is not a child of %s: %w",
			top.Name(), desc.data.domain.Name(), ErrInvalidHierarchy)
	}

	// The old leaf becomes the inner node one level down; the embedded leaf
	// is reinitialised for the new top level.
	leaf := &desc.data
	snapshot := *leaf

	inner := &IrqData{}
	*inner = snapshot
	leaf.parent = inner
	leaf.domain = top
	leaf.hwirq = 0
	leaf.chip = nil
	leaf.chipData = nil

	if cur := inner.domain.revmap.lookup(inner.hwirq); cur == leaf {
		if err := inner.domain.revmap.insert(inner.hwirq, inner); err != nil {
			*leaf = snapshot
			return err
		}
	}

	if err := top.hier.Alloc(top, virq, 1, arg); err != nil {
		if cur := inner.domain.revmap.lookup(inner.hwirq); cur == inner {
			_ = inner.domain.revmap.insert(inner.hwirq, leaf)
		}
		*leaf = snapshot
		return fmt.Errorf("irq: push alloc on %s: %w", top.Name(), err)
	}

	if err := top.revmap.insert(leaf.hwirq, leaf); err != nil {
		top.hier.Free(top, virq, 1)
		if cur := inner.domain.revmap.lookup(inner.hwirq); cur == inner {
			_ = inner.domain.revmap.insert(inner.hwirq, leaf)
		}
		*leaf = snapshot
		return err
	}
	top.mapcount.Add(1)

	allocTrace.Writef("push virq %d under %s", virq, top.Name())
	return nil
}

// PopIrq removes the outermost level of a mapping. The given domain must be
// the current top and an inner level must remain underneath it.
func (s *System) PopIrq(virq Virq, top *Domain) error {
	desc := s.descs.get(virq)
	if desc == nil || desc.data.domain == nil {
		return fmt.Errorf("irq: pop virq %d: %w", virq, ErrUnknownVirq)
	}
	if top == nil {
		return fmt.Errorf("irq: pop needs a domain: %w", ErrInvalidArgs)
	}

	mu := top.lockRoot()
	defer mu.Unlock()

	leaf := &desc.data
	if leaf.domain != top {
		return fmt.Errorf("irq: domain %s is not the top of virq %d: %w", top.Name(), virq, ErrInvalidHierarchy)
	}
	if leaf.parent == nil {
		return fmt.Errorf("irq: virq %d has no inner level to pop to: %w", virq, ErrInvalidHierarchy)
	}
	if desc.action.Load() != nil {
		return fmt.Errorf("irq: virq %d is claimed: %w", virq, ErrInUse)
	}
	if desc.Activated() {
		return fmt.Errorf("irq: virq %d is activated: %w", virq, ErrInUse)
	}

	if cur := top.revmap.lookup(leaf.hwirq); cur == leaf {
		top.revmap.clear(leaf.hwirq)
	}
	top.mapcount.Add(-1)

	if top.hier != nil {
		top.hier.Free(top, virq, 1)
	}

	inner := leaf.parent
	*leaf = *inner
	leaf.irq = desc.irq

	if cur := leaf.domain.revmap.lookup(leaf.hwirq); cur == inner {
		_ = leaf.domain.revmap.insert(leaf.hwirq, leaf)
	}

	allocTrace.Writef("pop virq %d off %s", virq, top.Name())
	return nil
}

// ActivateIrq reserves hardware resources along the chain, parent levels
// first. A reserve-only pass books resources without programming them.
// Already-activated virqs are a no-op.
func (s *System) ActivateIrq(virq Virq, reserveOnly bool) error {
	desc := s.descs.get(virq)
	if desc == nil || desc.data.domain == nil {
		return fmt.Errorf("irq: activate virq %d: %w", virq, ErrUnknownVirq)
	}

	mu := desc.data.domain.lockRoot()
	defer mu.Unlock()

	if desc.Activated() {
		return nil
	}
	if err := activateData(&desc.data, reserveOnly); err != nil {
		return err
	}
	desc.setStatus(statusActivated, true)
	return nil
}

func activateData(data *IrqData, reserveOnly bool) error {
	if data == nil {
		return nil
	}
	if err := activateData(data.parent, reserveOnly); err != nil {
		return err
	}
	if data.domain.activator != nil {
		if err := data.domain.activator.Activate(data.domain, data, reserveOnly); err != nil {
			deactivateData(data.parent)
			return fmt.Errorf("irq: activate level %s: %w", data.domain.Name(), err)
		}
	}
	return nil
}

// DeactivateIrq releases hardware resources, leaf level first. Inactive
// virqs are a no-op.
func (s *System) DeactivateIrq(virq Virq) error {
	desc := s.descs.get(virq)
	if desc == nil || desc.data.domain == nil {
		return fmt.Errorf("irq: deactivate virq %d: %w", virq, ErrUnknownVirq)
	}

	mu := desc.data.domain.lockRoot()
	defer mu.Unlock()

	s.deactivateLocked(desc)
	return nil
}

func (s *System) deactivateLocked(desc *IrqDesc) {
	if !desc.Activated() {
		return
	}
	deactivateData(&desc.data)
	desc.setStatus(statusActivated, false)
}

func deactivateData(data *IrqData) {
	for ; data != nil; data = data.parent {
		if data.domain.activator != nil {
			data.domain.activator.Deactivate(data.domain, data)
		}
	}
}

// SetTrigger binds a trigger type to a mapped virq. A virq mapped with no
// trigger accepts one concrete bind; conflicting rebinds fail.
func (s *System) SetTrigger(virq Virq, trigger Trigger) error {
	desc := s.descs.get(virq)
	if desc == nil || desc.data.domain == nil {
		return fmt.Errorf("irq: set trigger on virq %d: %w", virq, ErrUnknownVirq)
	}

	mu := desc.data.domain.lockRoot()
	defer mu.Unlock()

	existing := desc.Trigger()
	if existing != TriggerNone && existing != trigger {
		return fmt.Errorf("irq: virq %d bound as %s, requested %s: %w",
			virq, existing, trigger, ErrTriggerMismatch)
	}
	desc.setTrigger(trigger)
	return nil
}

// SetHWIrqAndChip binds the hwirq and chip into the chain node owned by the
// given domain. Providers call this from their Alloc callbacks; the root
// allocator mutex is already held there.
func (s *System) SetHWIrqAndChip(d *Domain, virq Virq, hw HWIrq, chip Chip, chipData any) error {
	data := s.irqData(virq, d)
	if data == nil {
		return fmt.Errorf("irq: virq %d has no level in %s: %w", virq, d.Name(), ErrInvalidHierarchy)
	}
	data.hwirq = hw
	data.chip = chip
	data.chipData = chipData
	return nil
}

// SetInfo is the full per-level bind: hwirq and chip for the domain's level
// plus the flow handler on the leaf descriptor.
func (s *System) SetInfo(d *Domain, virq Virq, hw HWIrq, chip Chip, chipData any,
	handler FlowHandler, handlerData any) error {
	if err := s.SetHWIrqAndChip(d, virq, hw, chip, chipData); err != nil {
		return err
	}
	if desc := s.descs.get(virq); desc != nil {
		desc.SetHandler(handler, handlerData)
	}
	return nil
}

// irqData returns the chain node for virq owned by domain d, or nil.
func (s *System) irqData(virq Virq, d *Domain) *IrqData {
	desc := s.descs.get(virq)
	if desc == nil {
		return nil
	}
	return desc.data.forDomain(d)
}

// Desc returns the descriptor for a virq, or nil.
func (s *System) Desc(virq Virq) *IrqDesc { return s.descs.get(virq) }

// Data returns the leaf IrqData for a virq, or nil.
func (s *System) Data(virq Virq) *IrqData {
	desc := s.descs.get(virq)
	if desc == nil || desc.data.domain == nil {
		return nil
	}
	return &desc.data
}
