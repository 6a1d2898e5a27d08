package irq

import (
	"errors"
	"testing"

	"github.com/tinyrange/irqcore/internal/fwnode"
)

// recordingMapper backs a non-hierarchical domain and logs every bind.
type recordingMapper struct {
	mapped  map[Virq]HWIrq
	failMap error
}

func (m *recordingMapper) Map(d *Domain, virq Virq, hw HWIrq) error {
	if m.failMap != nil {
		return m.failMap
	}
	if m.mapped == nil {
		m.mapped = make(map[Virq]HWIrq)
	}
	m.mapped[virq] = hw
	return nil
}

func (m *recordingMapper) Unmap(d *Domain, virq Virq) {
	delete(m.mapped, virq)
}

var _ Mapper = (*recordingMapper)(nil)

func TestSimpleMappingCallsMapper(t *testing.T) {
	s := NewSystem()
	mapper := &recordingMapper{}
	d := mustRegister(t, s, DomainConfig{
		FwNode: fwnode.NewNamed("legacy"),
		Token:  TokenWired,
		Size:   16,
		Ops:    mapper,
	})

	virq, err := s.CreateMapping(Spec(d.FwNode(), 5))
	if err != nil {
		t.Fatalf("CreateMapping: %v", err)
	}
	if got := mapper.mapped[virq]; got != 5 {
		t.Fatalf("mapper saw hwirq %d, want 5", got)
	}
	if v, _ := s.Resolve(d, 5); v != virq {
		t.Fatalf("resolve got %d, want %d", v, virq)
	}

	// Repeat mapping returns the same virq without a second Map call.
	again, err := s.CreateMapping(Spec(d.FwNode(), 5))
	if err != nil || again != virq {
		t.Fatalf("repeat mapping: got (%d, %v), want (%d, nil)", again, err, virq)
	}
	if len(mapper.mapped) != 1 {
		t.Fatalf("mapper holds %d bindings, want 1", len(mapper.mapped))
	}

	if err := s.DisposeMapping(virq); err != nil {
		t.Fatalf("DisposeMapping: %v", err)
	}
	if len(mapper.mapped) != 0 {
		t.Fatalf("Unmap not called on dispose")
	}
	if v, _ := s.Resolve(d, 5); v != 0 {
		t.Fatalf("disposed mapping still resolves to %d", v)
	}
}

func TestSimpleMappingRollsBackDeclinedLine(t *testing.T) {
	s := NewSystem()
	mapper := &recordingMapper{failMap: errors.New("line owned by firmware")}
	d := mustRegister(t, s, DomainConfig{
		FwNode: fwnode.NewNamed("legacy"),
		Token:  TokenWired,
		Size:   16,
		Ops:    mapper,
	})

	if _, err := s.CreateMapping(Spec(d.FwNode(), 3)); err == nil {
		t.Fatalf("expected the declined line to fail")
	}

	// The declined mapping left nothing behind.
	if d.MapCount() != 0 {
		t.Fatalf("mapcount %d after declined map, want 0", d.MapCount())
	}
	if v, _ := s.Resolve(d, 3); v != 0 {
		t.Fatalf("declined line resolves to %d", v)
	}

	mapper.failMap = nil
	if _, err := s.CreateMapping(Spec(d.FwNode(), 3)); err != nil {
		t.Fatalf("mapping after the decline cleared: %v", err)
	}
}

func TestSimpleMappingOutOfLinearRange(t *testing.T) {
	s := NewSystem()
	d := mustRegister(t, s, DomainConfig{
		FwNode: fwnode.NewNamed("small"),
		Token:  TokenWired,
		Size:   4,
	})

	if _, err := s.CreateMapping(Spec(d.FwNode(), 9)); !errors.Is(err, ErrInvalidHWIrq) {
		t.Fatalf("got %v, want ErrInvalidHWIrq past the linear map", err)
	}
	if _, err := s.CreateMapping(Spec(d.FwNode(), 3)); err != nil {
		t.Fatalf("in-range mapping after the failure: %v", err)
	}
}
