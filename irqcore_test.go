package irqcore_test

import (
	"errors"
	"testing"

	irqcore "github.com/tinyrange/irqcore"
)

// TestEndToEnd wires a two-level hierarchy through the public surface: a
// board definition, a dispatcher and a consumer handler.
func TestEndToEnd(t *testing.T) {
	sys := irqcore.NewSystem()

	node := irqcore.NamedNode("intc")
	d, err := sys.Register(irqcore.DomainConfig{
		FwNode: node,
		Token:  irqcore.TokenWired,
		Size:   32,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	sys.SetDefault(d)

	virq, err := sys.CreateMapping(irqcore.Spec(node, 12))
	if err != nil {
		t.Fatalf("CreateMapping: %v", err)
	}

	fired := 0
	err = sys.Desc(virq).Claim(&irqcore.Action{
		Name:    "uart",
		Handler: func(irqcore.Virq, any) { fired++ },
	})
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	disp := irqcore.NewDispatcher(sys, d)
	disp.Pulse(12)
	if fired != 1 {
		t.Fatalf("handler ran %d times, want 1", fired)
	}

	// With the default cleared, an unknown node has nowhere to land.
	sys.SetDefault(nil)
	if _, err := sys.CreateMapping(irqcore.Spec(irqcore.NamedNode("ghost"), 1)); !errors.Is(err, irqcore.ErrNoDomain) {
		t.Fatalf("got %v, want ErrNoDomain", err)
	}
}

func TestSentinelErrors(t *testing.T) {
	sys := irqcore.NewSystem()

	if err := sys.SetTrigger(42, irqcore.TriggerEdgeRising); !errors.Is(err, irqcore.ErrUnknownVirq) {
		t.Fatalf("got %v, want ErrUnknownVirq", err)
	}
	if _, err := sys.Register(irqcore.DomainConfig{Size: 4, DirectMax: 4}); !errors.Is(err, irqcore.ErrInvalidArgs) {
		t.Fatalf("got %v, want ErrInvalidArgs", err)
	}
}
