package irq

import (
	"errors"
	"testing"

	"github.com/tinyrange/irqcore/internal/fwnode"
)

func TestTranslateDefaultTakesFirstCell(t *testing.T) {
	s := NewSystem()
	d := mustRegister(t, s, DomainConfig{FwNode: fwnode.NewNamed("plain"), Size: 16})

	hw, trigger, err := d.translate(Spec(d.FwNode(), 7, 99))
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if hw != 7 || trigger != TriggerNone {
		t.Fatalf("got (%d, %s), want (7, none)", hw, trigger)
	}

	if _, _, err := d.translate(Spec(d.FwNode())); !errors.Is(err, ErrInvalidFwSpec) {
		t.Fatalf("empty spec: got %v, want ErrInvalidFwSpec", err)
	}

	long := make([]uint32, MaxSpecCells+1)
	if _, _, err := d.translate(FwSpec{FwNode: d.FwNode(), Params: long}); !errors.Is(err, ErrInvalidFwSpec) {
		t.Fatalf("oversized spec: got %v, want ErrInvalidFwSpec", err)
	}
}

type cellXlator struct{}

func (cellXlator) Xlate(d *Domain, cells []uint32) (HWIrq, Trigger, error) {
	if len(cells) != 3 {
		return 0, 0, errors.New("want 3 cells")
	}
	// GIC-style: cell 0 selects a bank of 32, cell 1 the line, cell 2 the
	// trigger.
	return HWIrq(cells[0])*32 + HWIrq(cells[1]), Trigger(cells[2]) & TriggerMask, nil
}

func TestTranslateUsesCellTranslator(t *testing.T) {
	s := NewSystem()
	d := mustRegister(t, s, DomainConfig{
		FwNode: fwnode.NewNamed("gic"),
		Ops:    cellXlator{},
	})

	hw, trigger, err := d.translate(Spec(d.FwNode(), 1, 5, uint32(TriggerLevelHigh)))
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if hw != 37 || trigger != TriggerLevelHigh {
		t.Fatalf("got (%d, %s), want (37, level-high)", hw, trigger)
	}

	if _, _, err := d.translate(Spec(d.FwNode(), 1)); !errors.Is(err, ErrInvalidFwSpec) {
		t.Fatalf("short spec: got %v, want ErrInvalidFwSpec", err)
	}
}

func TestTriggerString(t *testing.T) {
	cases := []struct {
		trigger Trigger
		want    string
	}{
		{TriggerNone, "none"},
		{TriggerEdgeRising, "edge-rising"},
		{TriggerEdgeFalling, "edge-falling"},
		{TriggerEdgeBoth, "edge-both"},
		{TriggerLevelHigh, "level-high"},
		{TriggerLevelLow, "level-low"},
	}
	for _, tc := range cases {
		if got := tc.trigger.String(); got != tc.want {
			t.Errorf("Trigger(%d).String() = %q, want %q", tc.trigger, got, tc.want)
		}
	}
}
