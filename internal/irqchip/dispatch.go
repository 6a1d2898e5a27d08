package irqchip

import (
	"sync"
	"sync/atomic"

	"github.com/tinyrange/irqcore/internal/irq"
)

// Dispatcher is the front end between hardware line assertions and the
// engine's resolve path. It tracks per-line levels for edge detection,
// resolves (domain, hwirq) lock-free and runs the flow handler. EOI
// callbacks re-fire level lines that are still asserted.
type Dispatcher struct {
	sys    *irq.System
	domain *irq.Domain

	mu    sync.Mutex
	lines map[irq.HWIrq]*lineState
	eoi   map[irq.HWIrq][]func()

	spurious atomic.Uint64
}

type lineState struct {
	level bool
}

// NewDispatcher builds a dispatcher feeding the given domain. A nil domain
// resolves through the system default.
func NewDispatcher(sys *irq.System, domain *irq.Domain) *Dispatcher {
	return &Dispatcher{
		sys:    sys,
		domain: domain,
		lines:  make(map[irq.HWIrq]*lineState),
		eoi:    make(map[irq.HWIrq][]func()),
	}
}

// SetLine changes the level of a hardware line. A rising edge dispatches.
func (p *Dispatcher) SetLine(hw irq.HWIrq, high bool) {
	p.mu.Lock()
	state := p.lines[hw]
	if state == nil {
		state = &lineState{}
		p.lines[hw] = state
	}
	rising := high && !state.level
	state.level = high
	p.mu.Unlock()

	if rising {
		p.fire(hw)
	}
}

// Pulse asserts and immediately deasserts a line.
func (p *Dispatcher) Pulse(hw irq.HWIrq) {
	p.SetLine(hw, true)
	p.SetLine(hw, false)
}

// RegisterEOICallback runs fn whenever BroadcastEOI is called for the line.
func (p *Dispatcher) RegisterEOICallback(hw irq.HWIrq, fn func()) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eoi[hw] = append(p.eoi[hw], fn)
}

// BroadcastEOI notifies listeners and re-dispatches a still-high line.
func (p *Dispatcher) BroadcastEOI(hw irq.HWIrq) {
	p.mu.Lock()
	callbacks := append([]func(){}, p.eoi[hw]...)
	state := p.lines[hw]
	stillHigh := state != nil && state.level
	p.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
	if stillHigh {
		p.fire(hw)
	}
}

// Spurious reports how many assertions found no mapping.
func (p *Dispatcher) Spurious() uint64 { return p.spurious.Load() }

func (p *Dispatcher) fire(hw irq.HWIrq) {
	if !p.sys.Dispatch(p.domain, hw) {
		p.spurious.Add(1)
	}
}
