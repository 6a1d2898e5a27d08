package irq

import (
	"errors"
	"testing"
)

func TestDescTableAllocExact(t *testing.T) {
	tbl := newDescTable()

	virq, err := tbl.allocRange(10, 4, -1, nil)
	if err != nil {
		t.Fatalf("allocRange: %v", err)
	}
	if virq != 10 {
		t.Fatalf("got base %d, want 10", virq)
	}
	for i := Virq(10); i < 14; i++ {
		if tbl.get(i) == nil {
			t.Fatalf("virq %d missing after allocation", i)
		}
	}

	// An overlapping exact request fails without partial allocation.
	if _, err := tbl.allocRange(12, 4, -1, nil); !errors.Is(err, ErrInUse) {
		t.Fatalf("overlap: got %v, want ErrInUse", err)
	}
	if tbl.get(14) != nil {
		t.Fatalf("failed overlap allocated virq 14")
	}

	if _, err := tbl.allocRange(0, 1, -1, nil); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("virq 0: got %v, want ErrInvalidArgs", err)
	}
	if _, err := tbl.allocRange(int(MaxVirqs)-1, 2, -1, nil); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("range past the table: got %v, want ErrInvalidArgs", err)
	}
}

func TestDescTableAllocAnySkipsUsed(t *testing.T) {
	tbl := newDescTable()

	if _, err := tbl.allocRange(2, 1, -1, nil); err != nil {
		t.Fatalf("pin virq 2: %v", err)
	}

	// A three-wide block cannot start at 1, so the allocator jumps past the
	// pinned descriptor.
	virq, err := tbl.allocRange(-1, 3, -1, nil)
	if err != nil {
		t.Fatalf("allocRange: %v", err)
	}
	if virq != 3 {
		t.Fatalf("got base %d, want 3", virq)
	}
}

func TestDescTableReusesFreedSpace(t *testing.T) {
	tbl := newDescTable()

	first, err := tbl.allocRange(-1, 8, -1, nil)
	if err != nil {
		t.Fatalf("allocRange: %v", err)
	}
	if err := tbl.freeRange(first, 8); err != nil {
		t.Fatalf("freeRange: %v", err)
	}

	// The rolling hint has moved past the freed block, so a fresh search
	// lands above it; the freed slots stay available for exact requests.
	again, err := tbl.allocRange(-1, 8, -1, nil)
	if err != nil {
		t.Fatalf("realloc: %v", err)
	}
	if again == first {
		t.Fatalf("hint did not advance past the freed block")
	}
	if back, err := tbl.allocRange(int(first), 8, -1, nil); err != nil || back != first {
		t.Fatalf("exact realloc of freed block: got %d, %v", back, err)
	}
}

func TestDescTableFreeValidation(t *testing.T) {
	tbl := newDescTable()

	if err := tbl.freeRange(5, 1); !errors.Is(err, ErrUnknownVirq) {
		t.Fatalf("free of unallocated: got %v, want ErrUnknownVirq", err)
	}

	virq, err := tbl.allocRange(-1, 1, -1, nil)
	if err != nil {
		t.Fatalf("allocRange: %v", err)
	}
	desc := tbl.get(virq)

	desc.setStatus(statusNoRequest, false)
	if err := desc.Claim(&Action{Name: "dev", Handler: func(Virq, any) {}}); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := tbl.freeRange(virq, 1); !errors.Is(err, ErrInUse) {
		t.Fatalf("free of claimed: got %v, want ErrInUse", err)
	}
	desc.Release()

	desc.setStatus(statusActivated, true)
	if err := tbl.freeRange(virq, 1); !errors.Is(err, ErrInUse) {
		t.Fatalf("free of activated: got %v, want ErrInUse", err)
	}
	desc.setStatus(statusActivated, false)

	if err := tbl.freeRange(virq, 1); err != nil {
		t.Fatalf("freeRange: %v", err)
	}
}

func TestDescClaimSemantics(t *testing.T) {
	tbl := newDescTable()
	virq, err := tbl.allocRange(-1, 1, -1, nil)
	if err != nil {
		t.Fatalf("allocRange: %v", err)
	}
	desc := tbl.get(virq)

	// Fresh descriptors are barred from claims until mapping completes.
	if !desc.NoRequest() {
		t.Fatalf("fresh descriptor is requestable")
	}
	action := &Action{Name: "dev", Handler: func(Virq, any) {}}
	if err := desc.Claim(action); !errors.Is(err, ErrForbidden) {
		t.Fatalf("claim while barred: got %v, want ErrForbidden", err)
	}

	desc.setStatus(statusNoRequest, false)
	if err := desc.Claim(action); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := desc.Claim(action); !errors.Is(err, ErrInUse) {
		t.Fatalf("double claim: got %v, want ErrInUse", err)
	}
	if err := desc.Claim(&Action{Name: "bad"}); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("handlerless claim: got %v, want ErrInvalidArgs", err)
	}

	desc.Release()
	if err := desc.Claim(action); err != nil {
		t.Fatalf("reclaim after release: %v", err)
	}
}

func TestDescRunAction(t *testing.T) {
	tbl := newDescTable()
	virq, err := tbl.allocRange(-1, 1, -1, nil)
	if err != nil {
		t.Fatalf("allocRange: %v", err)
	}
	desc := tbl.get(virq)
	desc.setStatus(statusNoRequest, false)

	// With no claim, RunAction is a no-op.
	desc.RunAction()

	var gotVirq Virq
	var gotData any
	err = desc.Claim(&Action{
		Name: "dev",
		Data: "payload",
		Handler: func(v Virq, data any) {
			gotVirq = v
			gotData = data
		},
	})
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	desc.RunAction()
	if gotVirq != virq || gotData != "payload" {
		t.Fatalf("handler saw (%d, %v), want (%d, payload)", gotVirq, gotData, virq)
	}
}

func TestDescTriggerBits(t *testing.T) {
	tbl := newDescTable()
	virq, err := tbl.allocRange(-1, 1, -1, nil)
	if err != nil {
		t.Fatalf("allocRange: %v", err)
	}
	desc := tbl.get(virq)

	desc.setTrigger(TriggerLevelHigh)
	if got := desc.Trigger(); got != TriggerLevelHigh {
		t.Fatalf("got trigger %s, want level-high", got)
	}

	// Trigger updates leave the status bits alone.
	if !desc.NoRequest() {
		t.Fatalf("setTrigger clobbered the no-request bit")
	}
	desc.setTrigger(TriggerEdgeBoth)
	if got := desc.Trigger(); got != TriggerEdgeBoth {
		t.Fatalf("got trigger %s, want edge-both", got)
	}
}

func TestDescGetBounds(t *testing.T) {
	tbl := newDescTable()
	if tbl.get(0) != nil {
		t.Fatalf("virq 0 resolved")
	}
	if tbl.get(MaxVirqs) != nil {
		t.Fatalf("virq past the table resolved")
	}
}
