package irq

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/btree"
)

// Descriptor status bits. The low nibble carries the trigger type.
const (
	statusTriggerMask uint32 = uint32(TriggerMask)
	statusNoRequest   uint32 = 1 << 8
	statusActivated   uint32 = 1 << 9
)

// Affinity is a caller-supplied CPU placement preference. The engine only
// forwards it; policy belongs to the provider.
type Affinity struct {
	Mask uint64
}

// Action is a consumer claim on a virq: the handler that services it. A
// descriptor with a non-nil action may not be freed, pushed or popped.
type Action struct {
	Name    string
	Handler func(virq Virq, data any)
	Data    any
}

type flowBinding struct {
	fn   FlowHandler
	data any
}

// IrqDesc is the per-virq record: the embedded leaf IrqData, the installed
// flow handler, the consumer action and the status word. Status, flow and
// action are read lock-free on the dispatch path.
type IrqDesc struct {
	irq  Virq
	data IrqData

	node     int
	affinity *Affinity

	status   atomic.Uint32
	flow     atomic.Pointer[flowBinding]
	action   atomic.Pointer[Action]
	inFlight atomic.Int32
}

func (d *IrqDesc) Virq() Virq          { return d.irq }
func (d *IrqDesc) Data() *IrqData      { return &d.data }
func (d *IrqDesc) Node() int           { return d.node }
func (d *IrqDesc) Affinity() *Affinity { return d.affinity }

// Trigger reports the trigger type recorded for this descriptor.
func (d *IrqDesc) Trigger() Trigger {
	return Trigger(d.status.Load() & statusTriggerMask)
}

// Activated reports whether the hierarchy has been activated.
func (d *IrqDesc) Activated() bool {
	return d.status.Load()&statusActivated != 0
}

// NoRequest reports whether consumers are barred from claiming the virq.
func (d *IrqDesc) NoRequest() bool {
	return d.status.Load()&statusNoRequest != 0
}

// Action returns the current consumer claim, if any.
func (d *IrqDesc) Action() *Action { return d.action.Load() }

// Claim installs a consumer action. It fails when the virq is not mapped or
// another consumer already claimed it.
func (d *IrqDesc) Claim(a *Action) error {
	if a == nil || a.Handler == nil {
		return fmt.Errorf("irq: nil action: %w", ErrInvalidArgs)
	}
	if d.NoRequest() {
		return fmt.Errorf("irq: virq %d is not requestable: %w", d.irq, ErrForbidden)
	}
	if !d.action.CompareAndSwap(nil, a) {
		return fmt.Errorf("irq: virq %d already claimed: %w", d.irq, ErrInUse)
	}
	return nil
}

// Release drops the consumer claim, if any.
func (d *IrqDesc) Release() { d.action.Store(nil) }

// SetHandler installs the flow handler and its data.
func (d *IrqDesc) SetHandler(fn FlowHandler, data any) {
	if fn == nil {
		d.flow.Store(nil)
		return
	}
	d.flow.Store(&flowBinding{fn: fn, data: data})
}

// HandlerData returns the data installed alongside the flow handler.
func (d *IrqDesc) HandlerData() any {
	if b := d.flow.Load(); b != nil {
		return b.data
	}
	return nil
}

// RunAction invokes the consumer handler, if one is claimed. Flow handlers
// call this once the chip-level handshake is done.
func (d *IrqDesc) RunAction() {
	if a := d.action.Load(); a != nil {
		a.Handler(d.irq, a.Data)
	}
}

func (d *IrqDesc) setTrigger(t Trigger) {
	for {
		old := d.status.Load()
		next := (old &^ statusTriggerMask) | uint32(t&TriggerMask)
		if d.status.CompareAndSwap(old, next) {
			return
		}
	}
}

func (d *IrqDesc) setStatus(bit uint32, on bool) {
	for {
		old := d.status.Load()
		next := old
		if on {
			next |= bit
		} else {
			next &^= bit
		}
		if d.status.CompareAndSwap(old, next) {
			return
		}
	}
}

// descTable is the process-wide sparse virq allocator. The writer side is
// mutex-guarded; lookups load a copy-on-write B-tree through an atomic
// pointer so dispatch never blocks on an allocation in progress.
type descTable struct {
	mu   sync.Mutex
	tree atomic.Pointer[btree.BTreeG[*IrqDesc]]
	hint Virq
}

func descLess(a, b *IrqDesc) bool { return a.irq < b.irq }

func newDescTable() *descTable {
	t := &descTable{hint: 1}
	t.tree.Store(btree.NewG(8, descLess))
	return t
}

// get returns the descriptor for a virq, or nil. Safe from any context.
func (t *descTable) get(virq Virq) *IrqDesc {
	if virq == 0 || virq >= MaxVirqs {
		return nil
	}
	d, ok := t.tree.Load().Get(&IrqDesc{irq: virq})
	if !ok {
		return nil
	}
	return d
}

// allocRange reserves count contiguous descriptors. With base < 0 any free
// block is chosen; otherwise exactly base is honoured or the call fails.
func (t *descTable) allocRange(base int, count int, node int, affinity *Affinity) (Virq, error) {
	if count < 1 {
		return 0, fmt.Errorf("irq: alloc of %d descriptors: %w", count, ErrInvalidArgs)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.tree.Load()

	var first Virq
	if base >= 0 {
		if base < 1 || Virq(base)+Virq(count) > MaxVirqs {
			return 0, fmt.Errorf("irq: base %d out of range: %w", base, ErrInvalidArgs)
		}
		for i := 0; i < count; i++ {
			if cur.Has(&IrqDesc{irq: Virq(base) + Virq(i)}) {
				return 0, fmt.Errorf("irq: virq %d already allocated: %w", base+i, ErrInUse)
			}
		}
		first = Virq(base)
	} else {
		first = findGap(cur, t.hint, count)
		if first == 0 && t.hint > 1 {
			first = findGap(cur, 1, count)
		}
		if first == 0 {
			return 0, fmt.Errorf("irq: no free block of %d virqs: %w", count, ErrNoResources)
		}
	}

	next := cur.Clone()
	for i := 0; i < count; i++ {
		d := &IrqDesc{irq: first + Virq(i), node: node, affinity: affinity}
		d.data.irq = d.irq
		d.status.Store(statusNoRequest)
		next.ReplaceOrInsert(d)
	}
	t.tree.Store(next)
	t.hint = first + Virq(count)
	return first, nil
}

// freeRange returns count descriptors starting at first. Every descriptor
// must exist, be deactivated and carry no consumer claim.
func (t *descTable) freeRange(first Virq, count int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.tree.Load()
	for i := 0; i < count; i++ {
		d, ok := cur.Get(&IrqDesc{irq: first + Virq(i)})
		if !ok {
			return fmt.Errorf("irq: free of unallocated virq %d: %w", first+Virq(i), ErrUnknownVirq)
		}
		if d.Activated() {
			return fmt.Errorf("irq: virq %d still activated: %w", d.irq, ErrInUse)
		}
		if d.action.Load() != nil {
			return fmt.Errorf("irq: virq %d still claimed: %w", d.irq, ErrInUse)
		}
	}

	next := cur.Clone()
	for i := 0; i < count; i++ {
		next.Delete(&IrqDesc{irq: first + Virq(i)})
	}
	t.tree.Store(next)
	return nil
}

// findGap scans allocated virqs from start and returns the first run of
// count free slots, or 0 when the space above start is exhausted.
func findGap(t *btree.BTreeG[*IrqDesc], start Virq, count int) Virq {
	if start < 1 {
		start = 1
	}
	cur := start
	t.AscendGreaterOrEqual(&IrqDesc{irq: start}, func(d *IrqDesc) bool {
		if d.irq >= cur+Virq(count) {
			return false
		}
		cur = d.irq + 1
		return true
	})
	if cur+Virq(count) > MaxVirqs {
		return 0
	}
	return cur
}
