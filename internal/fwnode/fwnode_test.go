package fwnode

import "testing"

func TestDebugNameReplacesSlashes(t *testing.T) {
	h := NewDeviceTree("/soc/interrupt-controller@8000")
	if got, want := h.DebugName(), "soc:interrupt-controller@8000"; got != want {
		t.Fatalf("debug name = %q, want %q", got, want)
	}
}

func TestNamedVariants(t *testing.T) {
	if got, want := NewNamed("gic").DebugName(), "gic"; got != want {
		t.Fatalf("named = %q, want %q", got, want)
	}
	if got, want := NewNamedID("msi", 3).DebugName(), "msi-3"; got != want {
		t.Fatalf("named-id = %q, want %q", got, want)
	}
	if got, want := NewNamedAddr("intc", 0xfec00000).DebugName(), "intc@0xfec00000"; got != want {
		t.Fatalf("named-addr = %q, want %q", got, want)
	}
}

func TestReferenceCounting(t *testing.T) {
	released := false
	h := NewSoftware("soft0")
	h.OnRelease(func() { released = true })

	if h.Refs() != 1 {
		t.Fatalf("initial refs = %d, want 1", h.Refs())
	}

	h.Get()
	if h.Refs() != 2 {
		t.Fatalf("refs after Get = %d, want 2", h.Refs())
	}

	h.Put()
	if released {
		t.Fatalf("released with references outstanding")
	}
	h.Put()
	if !released {
		t.Fatalf("release hook did not run on last Put")
	}
}

func TestNilHandleIsSafe(t *testing.T) {
	var h *Handle
	if h.Get() != nil {
		t.Fatalf("nil Get should return nil")
	}
	h.Put()
	if got, want := h.DebugName(), "unknown"; got != want {
		t.Fatalf("nil debug name = %q, want %q", got, want)
	}
}
