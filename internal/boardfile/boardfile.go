// Package boardfile loads interrupt-topology definitions from YAML and
// instantiates them as registered domains and device mappings. A board file
// is the hand-written equivalent of a device tree: a list of controllers
// with parent links plus the devices consuming their lines.
package boardfile

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/irqcore/internal/irq"
)

// Controller declares one interrupt controller level.
type Controller struct {
	Name   string `yaml:"name"`
	Parent string `yaml:"parent,omitempty"`

	// Cells is the specifier width devices use for this controller: 1 for
	// bare line numbers, 2 for line plus trigger.
	Cells int `yaml:"cells,omitempty"`

	// Size selects a linear reverse map of that many slots. Zero selects
	// the radix map unless DirectMax is set.
	Size     uint32 `yaml:"size,omitempty"`
	HWIrqMax uint64 `yaml:"hwirq_max,omitempty"`

	// DirectMax selects the identity (nomap) variant.
	DirectMax uint64 `yaml:"direct_max,omitempty"`

	Token string `yaml:"token,omitempty"`

	// Disconnected levels forward nothing; allocation trims the chain
	// above them.
	Disconnected bool `yaml:"disconnected,omitempty"`

	// MSIVectors turns the controller into a message-signalled vector pool
	// of the given size.
	MSIVectors int `yaml:"msi_vectors,omitempty"`

	Default bool `yaml:"default,omitempty"`
}

// Device declares a consumer of controller lines.
type Device struct {
	Name       string `yaml:"name"`
	Controller string `yaml:"controller"`

	// Interrupts lists one cell group per requested line, matching the
	// controller's cell width.
	Interrupts [][]uint32 `yaml:"interrupts,omitempty"`

	// Vectors requests that many MSI vectors instead of wired lines.
	Vectors int `yaml:"vectors,omitempty"`
}

// Board is the top-level board file document.
type Board struct {
	Name        string       `yaml:"name,omitempty"`
	Controllers []Controller `yaml:"controllers"`
	Devices     []Device     `yaml:"devices,omitempty"`
}

// Load reads a board definition from r.
func Load(r io.Reader) (*Board, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("boardfile: read: %w", err)
	}

	var board Board
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&board); err != nil {
		return nil, fmt.Errorf("boardfile: parse: %w", err)
	}

	board.normalize()
	if err := board.validate(); err != nil {
		return nil, err
	}
	return &board, nil
}

// LoadFile reads a board definition from a file.
func LoadFile(path string) (*Board, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("boardfile: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func (b *Board) normalize() {
	for i := range b.Controllers {
		c := &b.Controllers[i]
		if c.Cells == 0 {
			c.Cells = 1
		}
		if c.Token == "" {
			if c.MSIVectors > 0 {
				c.Token = "platform-msi"
			} else {
				c.Token = "wired"
			}
		}
		if c.MSIVectors > 0 && c.HWIrqMax == 0 {
			c.HWIrqMax = uint64(c.MSIVectors)
		}
	}
}

func (b *Board) validate() error {
	if len(b.Controllers) == 0 {
		return fmt.Errorf("boardfile: no controllers declared")
	}

	byName := make(map[string]*Controller, len(b.Controllers))
	for i := range b.Controllers {
		c := &b.Controllers[i]
		if c.Name == "" {
			return fmt.Errorf("boardfile: controller %d has no name", i)
		}
		if _, dup := byName[c.Name]; dup {
			return fmt.Errorf("boardfile: duplicate controller %q", c.Name)
		}
		byName[c.Name] = c

		if c.Cells < 1 || c.Cells > 2 {
			return fmt.Errorf("boardfile: controller %q: cells must be 1 or 2, got %d", c.Name, c.Cells)
		}
		if c.Size > 0 && c.DirectMax > 0 {
			return fmt.Errorf("boardfile: controller %q sets both size and direct_max", c.Name)
		}
		if c.MSIVectors > 0 && c.Disconnected {
			return fmt.Errorf("boardfile: controller %q is both msi and disconnected", c.Name)
		}
		if _, err := parseToken(c.Token); err != nil {
			return fmt.Errorf("boardfile: controller %q: %w", c.Name, err)
		}
	}

	for i := range b.Controllers {
		c := &b.Controllers[i]
		if c.Parent == "" {
			continue
		}
		if c.Parent == c.Name {
			return fmt.Errorf("boardfile: controller %q is its own parent", c.Name)
		}
		if _, ok := byName[c.Parent]; !ok {
			return fmt.Errorf("boardfile: controller %q names unknown parent %q", c.Name, c.Parent)
		}
	}
	if err := b.checkParentCycles(byName); err != nil {
		return err
	}

	for i := range b.Devices {
		dev := &b.Devices[i]
		if dev.Name == "" {
			return fmt.Errorf("boardfile: device %d has no name", i)
		}
		c, ok := byName[dev.Controller]
		if !ok {
			return fmt.Errorf("boardfile: device %q names unknown controller %q", dev.Name, dev.Controller)
		}
		if c.MSIVectors > 0 {
			if dev.Vectors <= 0 {
				return fmt.Errorf("boardfile: device %q on msi controller %q requests no vectors",
					dev.Name, dev.Controller)
			}
			if len(dev.Interrupts) > 0 {
				return fmt.Errorf("boardfile: device %q mixes wired interrupts with msi vectors", dev.Name)
			}
			continue
		}
		if dev.Vectors > 0 {
			return fmt.Errorf("boardfile: device %q requests vectors from wired controller %q",
				dev.Name, dev.Controller)
		}
		if len(dev.Interrupts) == 0 {
			return fmt.Errorf("boardfile: device %q declares no interrupts", dev.Name)
		}
		for j, cells := range dev.Interrupts {
			if len(cells) != c.Cells {
				return fmt.Errorf("boardfile: device %q interrupt %d has %d cells, controller %q wants %d",
					dev.Name, j, len(cells), c.Name, c.Cells)
			}
		}
	}

	return nil
}

func (b *Board) checkParentCycles(byName map[string]*Controller) error {
	for i := range b.Controllers {
		seen := map[string]bool{}
		for c := &b.Controllers[i]; c != nil && c.Parent != ""; c = byName[c.Parent] {
			if seen[c.Name] {
				return fmt.Errorf("boardfile: controller parent cycle through %q", c.Name)
			}
			seen[c.Name] = true
		}
	}
	return nil
}

func parseToken(s string) (irq.BusToken, error) {
	switch s {
	case "", "wired":
		return irq.TokenWired, nil
	case "any":
		return irq.TokenAny, nil
	case "none":
		return irq.TokenNone, nil
	case "pci-msi":
		return irq.TokenPCIMSI, nil
	case "platform-msi":
		return irq.TokenPlatformMSI, nil
	default:
		return 0, fmt.Errorf("unknown bus token %q", s)
	}
}
