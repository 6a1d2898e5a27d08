package irqchip

import "github.com/tinyrange/irqcore/internal/irq"

// Flow handlers drive the chip handshake around the consumer action. They
// run in interrupt context and read only the descriptor's published state.

// LevelFlow masks the line while the action runs, then signals EOI and
// unmasks. Use for level-triggered lines so a still-high line cannot storm.
func LevelFlow(chip any) irq.FlowHandler {
	masker, _ := chip.(Masker)
	eoier, _ := chip.(EOIer)
	return func(desc *irq.IrqDesc) {
		hw := desc.Data().HWIrq()
		if masker != nil {
			masker.Mask(hw)
		}
		desc.RunAction()
		if eoier != nil {
			eoier.EOI(hw)
		}
		if masker != nil {
			masker.Unmask(hw)
		}
	}
}

// EdgeFlow acks the latched edge before the action runs so a new edge
// arriving during the handler is not lost.
func EdgeFlow(chip any) irq.FlowHandler {
	acker, _ := chip.(Acker)
	return func(desc *irq.IrqDesc) {
		if acker != nil {
			acker.Ack(desc.Data().HWIrq())
		}
		desc.RunAction()
	}
}
