package irq

// Chip is the per-level driver attachment on an IrqData node. The engine
// treats it as opaque: it only ever compares against the disconnected
// sentinel and reports the name in debug output. Mask/unmask/EOI behaviour
// lives entirely with the provider.
type Chip interface {
	ChipName() string
}

type disconnectedChip struct{}

func (disconnectedChip) ChipName() string { return "<disconnected>" }

// ChipDisconnected is the distinguished sentinel a provider's Alloc callback
// assigns to its own level to mark the chain tail above it as logically
// absent. The allocator trims such tails after the per-level allocation pass.
var ChipDisconnected Chip = disconnectedChip{}

// FlowHandler is the function installed on a descriptor and invoked when the
// interrupt is dispatched. It runs in interrupt context: it must not block
// and must not take any allocator mutex.
type FlowHandler func(*IrqDesc)
