package irq

import "errors"

// Sentinel errors returned by the engine. Operations wrap these with
// context; use errors.Is to classify.
var (
	// ErrNoDomain means no registered domain matched and no default is set.
	ErrNoDomain = errors.New("no matching interrupt domain")

	// ErrInvalidFwSpec means the firmware specifier had a bad cell count or
	// the domain's translate operation rejected it.
	ErrInvalidFwSpec = errors.New("invalid firmware interrupt specifier")

	// ErrInvalidArgs means domain-creation parameters are inconsistent.
	ErrInvalidArgs = errors.New("invalid domain parameters")

	// ErrInvalidHierarchy means the hierarchy chain is malformed: a trim
	// marker in an illegal position, a parent mismatch on push, or a missing
	// allocation capability on the leaf.
	ErrInvalidHierarchy = errors.New("invalid domain hierarchy")

	// ErrInvalidHWIrq means a hardware irq number is outside the domain's
	// admissible range.
	ErrInvalidHWIrq = errors.New("hardware irq out of range")

	// ErrTriggerMismatch means an existing mapping disagrees with the
	// requested trigger type.
	ErrTriggerMismatch = errors.New("trigger type mismatch")

	// ErrInUse means the virq is claimed by a consumer or a requested base
	// overlaps an existing allocation.
	ErrInUse = errors.New("irq in use")

	// ErrForbidden means the provider's map callback declined the line.
	// This is routine: the line is owned by firmware or another service.
	ErrForbidden = errors.New("mapping declined by provider")

	// ErrNoResources means descriptor-table or memory exhaustion.
	ErrNoResources = errors.New("no irq resources available")

	// ErrUnknownVirq means the virq was never allocated.
	ErrUnknownVirq = errors.New("unknown virq")
)
