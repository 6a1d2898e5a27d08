package irq

// Resolve maps (domain, hwirq) back to the virq and its descriptor when an
// interrupt fires. A nil domain resolves through the default. Safe from any
// context: it allocates nothing, blocks on nothing and takes no mutex.
func (s *System) Resolve(d *Domain, hw HWIrq) (Virq, *IrqDesc) {
	if d == nil {
		d = s.defaultDomain.Load()
		if d == nil {
			return 0, nil
		}
	}

	data := d.revLookup(hw)
	if data == nil {
		return 0, nil
	}

	desc := s.descs.get(data.irq)
	if desc == nil {
		return 0, nil
	}
	return data.irq, desc
}

// Dispatch resolves (domain, hwirq) and runs the descriptor's flow handler.
// It reports whether a mapping was found; a false return is a spurious
// interrupt the caller may want to count. Safe from interrupt context.
func (s *System) Dispatch(d *Domain, hw HWIrq) bool {
	_, desc := s.Resolve(d, hw)
	if desc == nil {
		return false
	}

	desc.inFlight.Add(1)
	defer desc.inFlight.Add(-1)

	if binding := desc.flow.Load(); binding != nil {
		binding.fn(desc)
	} else {
		desc.RunAction()
	}
	return true
}
