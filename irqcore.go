// Package irqcore routes and allocates interrupts across hierarchies of
// controller domains. A System owns a registry of domains, a sparse virq
// descriptor table and the reverse maps that resolve hardware interrupt
// numbers back to virqs on the dispatch path, which is lock-free.
package irqcore

import (
	"github.com/tinyrange/irqcore/internal/boardfile"
	"github.com/tinyrange/irqcore/internal/fwnode"
	"github.com/tinyrange/irqcore/internal/irq"
	"github.com/tinyrange/irqcore/internal/irqchip"
)

// -----------------------------------------------------------------------------
// Type Aliases - These re-export types from internal/irq
// -----------------------------------------------------------------------------

// Virq is the flat interrupt identifier handed to consumers. Zero is the
// invalid sentinel.
type Virq = irq.Virq

// HWIrq is a controller-local hardware interrupt number.
type HWIrq = irq.HWIrq

// Trigger describes how an interrupt line signals.
type Trigger = irq.Trigger

// FwSpec is a firmware interrupt specifier: a controller node plus the
// integer cells naming one interrupt inside it.
type FwSpec = irq.FwSpec

// BusToken narrows domain matching to one bus flavour.
type BusToken = irq.BusToken

// Flags describe structural properties of a domain.
type Flags = irq.Flags

// DomainConfig carries domain-creation parameters.
type DomainConfig = irq.DomainConfig

// Domain is one interrupt controller's routing table.
type Domain = irq.Domain

// System owns the domain registry, the descriptor table and the default
// domain. Independent systems are fully isolated.
type System = irq.System

// IrqData is one level of a mapped virq's hierarchy chain.
type IrqData = irq.IrqData

// IrqDesc is the per-virq descriptor.
type IrqDesc = irq.IrqDesc

// Action is a consumer claim on a virq.
type Action = irq.Action

// Affinity is a caller-supplied CPU placement preference.
type Affinity = irq.Affinity

// Chip is the minimal contract a controller chip satisfies.
type Chip = irq.Chip

// FlowHandler drives the chip handshake for one dispatch.
type FlowHandler = irq.FlowHandler

// FwNode is a reference-counted firmware node handle.
type FwNode = fwnode.Handle

// Board is a YAML interrupt-topology definition.
type Board = boardfile.Board

// Topology is the live result of applying a Board to a System.
type Topology = boardfile.Topology

// Dispatcher feeds hardware line state into a System.
type Dispatcher = irqchip.Dispatcher

// Trigger constants.
const (
	TriggerNone        = irq.TriggerNone
	TriggerEdgeRising  = irq.TriggerEdgeRising
	TriggerEdgeFalling = irq.TriggerEdgeFalling
	TriggerEdgeBoth    = irq.TriggerEdgeBoth
	TriggerLevelHigh   = irq.TriggerLevelHigh
	TriggerLevelLow    = irq.TriggerLevelLow
)

// Bus tokens.
const (
	TokenAny         = irq.TokenAny
	TokenNone        = irq.TokenNone
	TokenWired       = irq.TokenWired
	TokenPCIMSI      = irq.TokenPCIMSI
	TokenPlatformMSI = irq.TokenPlatformMSI
)

// Domain flags.
const (
	FlagHierarchy = irq.FlagHierarchy
	FlagNoMap     = irq.FlagNoMap
	FlagMSIDevice = irq.FlagMSIDevice
)

// Common sentinel errors. Check them with errors.Is; the engine wraps them
// with call-site context.
var (
	ErrNoDomain         = irq.ErrNoDomain
	ErrInvalidFwSpec    = irq.ErrInvalidFwSpec
	ErrInvalidArgs      = irq.ErrInvalidArgs
	ErrInvalidHierarchy = irq.ErrInvalidHierarchy
	ErrInvalidHWIrq     = irq.ErrInvalidHWIrq
	ErrTriggerMismatch  = irq.ErrTriggerMismatch
	ErrInUse            = irq.ErrInUse
	ErrForbidden        = irq.ErrForbidden
	ErrNoResources      = irq.ErrNoResources
	ErrUnknownVirq      = irq.ErrUnknownVirq
)

// -----------------------------------------------------------------------------
// Constructors
// -----------------------------------------------------------------------------

// NewSystem returns an empty System with no registered domains.
func NewSystem() *System { return irq.NewSystem() }

// Spec builds a FwSpec for the given controller node and cells.
func Spec(node *FwNode, params ...uint32) FwSpec { return irq.Spec(node, params...) }

// NamedNode returns a synthetic firmware node with a literal name, for
// controllers that have no firmware description.
func NamedNode(name string) *FwNode { return fwnode.NewNamed(name) }

// NamedIDNode returns a synthetic firmware node made of a name and an id.
func NamedIDNode(name string, id int) *FwNode { return fwnode.NewNamedID(name, id) }

// NamedAddrNode returns a synthetic firmware node named after a physical
// address.
func NamedAddrNode(name string, addr uint64) *FwNode { return fwnode.NewNamedAddr(name, addr) }

// LoadBoard reads a board definition from a file.
func LoadBoard(path string) (*Board, error) { return boardfile.LoadFile(path) }

// NewDispatcher builds a line dispatcher feeding the given domain. A nil
// domain resolves through the system default.
func NewDispatcher(sys *System, domain *Domain) *Dispatcher {
	return irqchip.NewDispatcher(sys, domain)
}
