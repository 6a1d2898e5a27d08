package irq

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tinyrange/irqcore/internal/debug"
	"github.com/tinyrange/irqcore/internal/fwnode"
)

// BusToken narrows domain matching to one bus flavour. TokenAny matches
// every tag.
type BusToken int

const (
	TokenAny BusToken = iota
	TokenNone
	TokenWired
	TokenPCIMSI
	TokenPlatformMSI
)

func (t BusToken) String() string {
	switch t {
	case TokenAny:
		return "any"
	case TokenNone:
		return "none"
	case TokenWired:
		return "wired"
	case TokenPCIMSI:
		return "pci-msi"
	case TokenPlatformMSI:
		return "platform-msi"
	default:
		return fmt.Sprintf("token(%d)", int(t))
	}
}

// Flags describe structural properties of a domain.
type Flags uint32

const (
	// FlagHierarchy marks a domain that participates in a parent chain. Set
	// automatically when a parent is supplied.
	FlagHierarchy Flags = 1 << 0

	// FlagNoMap marks an identity domain: virq equals hwirq and no reverse
	// map is kept. Set automatically when DirectMax is non-zero.
	FlagNoMap Flags = 1 << 1

	// FlagMSIDevice marks a per-device MSI domain.
	FlagMSIDevice Flags = 1 << 2

	// FlagNameAllocated marks the display name as owned by the domain
	// rather than by the firmware node.
	FlagNameAllocated Flags = 1 << 3
)

// DomainConfig carries domain-creation parameters.
type DomainConfig struct {
	FwNode    *fwnode.Handle
	Name      string // optional display-name override
	Size      uint32 // linear reverse-map size; 0 selects the radix map
	HWIrqMax  HWIrq  // maximum hwirq, exclusive; 0 means unbounded
	DirectMax HWIrq  // non-zero selects the identity (nomap) variant
	Token     BusToken
	Ops       any // provider capability bag, see ops.go
	HostData  any
	Parent    *Domain
	Flags     Flags
}

// Domain is one interrupt controller's routing table. All mapping mutation
// on a hierarchy happens under the root domain's allocator mutex; the
// dispatch path reads only atomically published state.
type Domain struct {
	sys *System
	id  int

	baseName  string
	debugName atomic.Pointer[string]
	nameOwned bool

	fw        *fwnode.Handle
	token     BusToken
	flags     Flags
	hwirqMax  HWIrq
	directMax HWIrq
	hostData  any

	parent *Domain
	root   *Domain

	// allocMu is only used on root domains; see lockRoot.
	allocMu sync.Mutex

	ops            any
	translator     Translator
	cellTranslator CellTranslator
	mapper         Mapper
	hier           HierarchyOps
	activator      Activator
	matcher        Matcher
	selector       Selector
	debugShow      DebugShower

	revmap   revMap
	mapcount atomic.Int64

	// nomap direct-allocation rotor, guarded by the root allocator mutex.
	directRotor HWIrq
}

func (d *Domain) Name() string {
	if s := d.debugName.Load(); s != nil {
		return *s
	}
	return d.baseName
}

func (d *Domain) FwNode() *fwnode.Handle { return d.fw }
func (d *Domain) Token() BusToken        { return d.token }
func (d *Domain) Flags() Flags           { return d.flags }
func (d *Domain) Parent() *Domain        { return d.parent }
func (d *Domain) Root() *Domain          { return d.root }
func (d *Domain) HWIrqMax() HWIrq        { return d.hwirqMax }
func (d *Domain) HostData() any          { return d.hostData }

// MapCount reports the number of reverse-map entries the domain holds.
func (d *Domain) MapCount() int { return int(d.mapcount.Load()) }

// depth counts the domains from this one to the root, inclusive.
func (d *Domain) depth() int {
	n := 0
	for ; d != nil; d = d.parent {
		n++
	}
	return n
}

func (d *Domain) lockRoot() *sync.Mutex {
	mu := &d.root.allocMu
	mu.Lock()
	return mu
}

// revLookup resolves a hwirq in this domain to the level IrqData, honouring
// the nomap identity path. Safe from any context.
func (d *Domain) revLookup(hw HWIrq) *IrqData {
	if d.flags&FlagNoMap != 0 {
		if d.hwirqMax != 0 && hw >= d.hwirqMax {
			return nil
		}
		desc := d.sys.descs.get(Virq(hw))
		if desc == nil {
			return nil
		}
		if data := desc.data.forDomain(d); data != nil && data.hwirq == hw {
			return data
		}
		return nil
	}
	return d.revmap.lookup(hw)
}

// System owns the global mutable state: the domain registry, the default
// domain and the virq descriptor table. There are no package-level globals;
// independent systems are fully isolated.
type System struct {
	mu         sync.Mutex
	domains    []*Domain
	debugNames map[string]*Domain
	nextID     int

	defaultDomain atomic.Pointer[Domain]

	descs *descTable

	trace debug.Debug
}

// NewSystem returns an empty System.
func NewSystem() *System {
	return &System{
		debugNames: make(map[string]*Domain),
		nextID:     1,
		descs:      newDescTable(),
		trace:      debug.WithSource("irq.registry"),
	}
}

// Register constructs a domain from cfg and adds it to the registry. The
// returned domain is immediately matchable. Legacy catch-all domains should
// be registered last so their broad match does not shadow specific ones.
func (s *System) Register(cfg DomainConfig) (*Domain, error) {
	if cfg.Size > 0 && cfg.DirectMax > 0 {
		return nil, fmt.Errorf("irq: both size and direct max set: %w", ErrInvalidArgs)
	}
	if cfg.DirectMax != 0 && cfg.DirectMax != cfg.HWIrqMax {
		return nil, fmt.Errorf("irq: direct max %d != hwirq max %d: %w",
			cfg.DirectMax, cfg.HWIrqMax, ErrInvalidArgs)
	}

	d := &Domain{
		sys:       s,
		token:     cfg.Token,
		flags:     cfg.Flags,
		hwirqMax:  cfg.HWIrqMax,
		directMax: cfg.DirectMax,
		hostData:  cfg.HostData,
		parent:    cfg.Parent,
		ops:       cfg.Ops,
		nameOwned: cfg.Name != "" || cfg.Flags&FlagNameAllocated != 0,
	}

	switch {
	case cfg.Name != "":
		d.baseName = cfg.Name
	case cfg.FwNode != nil:
		d.baseName = cfg.FwNode.DebugName()
	default:
		d.baseName = "unknown"
	}

	if cfg.Parent != nil {
		d.root = cfg.Parent.root
		d.flags |= FlagHierarchy
	} else {
		d.root = d
	}

	switch {
	case cfg.DirectMax != 0:
		d.flags |= FlagNoMap
		d.revmap = nomapMap{}
	case cfg.Size > 0:
		d.revmap = newLinearMap(cfg.Size)
	default:
		d.revmap = newRadixMap(cfg.HWIrqMax)
	}

	d.translator, _ = cfg.Ops.(Translator)
	d.cellTranslator, _ = cfg.Ops.(CellTranslator)
	d.mapper, _ = cfg.Ops.(Mapper)
	d.hier, _ = cfg.Ops.(HierarchyOps)
	d.activator, _ = cfg.Ops.(Activator)
	d.matcher, _ = cfg.Ops.(Matcher)
	d.selector, _ = cfg.Ops.(Selector)
	d.debugShow, _ = cfg.Ops.(DebugShower)

	d.fw = cfg.FwNode.Get()

	s.mu.Lock()
	defer s.mu.Unlock()

	d.id = s.nextID
	s.nextID++

	name := d.baseName
	if _, taken := s.debugNames[name]; taken {
		name = fmt.Sprintf("%s-%d", name, d.id)
	}
	d.debugName.Store(&name)
	s.debugNames[name] = d
	s.domains = append(s.domains, d)

	s.trace.Writef("register domain %s (token %s, parent %s)", name, d.token, parentName(d.parent))
	return d, nil
}

// Unregister removes a domain from the registry. The domain's reverse map
// must already be empty.
func (s *System) Unregister(d *Domain) error {
	if d == nil {
		return fmt.Errorf("irq: unregister nil domain: %w", ErrInvalidArgs)
	}
	if d.MapCount() != 0 {
		return fmt.Errorf("irq: domain %s still holds %d mappings: %w", d.Name(), d.MapCount(), ErrInUse)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.defaultDomain.CompareAndSwap(d, nil)

	for i, have := range s.domains {
		if have == d {
			s.domains = append(s.domains[:i], s.domains[i+1:]...)
			delete(s.debugNames, d.Name())
			d.fw.Put()
			s.trace.Writef("unregister domain %s", d.Name())
			return nil
		}
	}
	return fmt.Errorf("irq: domain %s not registered: %w", d.Name(), ErrUnknownVirq)
}

// FindMatching returns the first registered domain matching the fwspec and
// bus token. Per-domain precedence: the Select capability (unless the token
// is TokenAny), then the Match capability, then fwnode plus token equality.
func (s *System) FindMatching(spec FwSpec, token BusToken) *Domain {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findMatchingLocked(spec, token)
}

func (s *System) findMatchingLocked(spec FwSpec, token BusToken) *Domain {
	for _, d := range s.domains {
		var ok bool
		switch {
		case d.selector != nil && token != TokenAny:
			ok = d.selector.Select(d, spec, token)
		case d.matcher != nil:
			ok = d.matcher.Match(d, spec.FwNode, token)
		default:
			ok = spec.FwNode != nil && d.fw == spec.FwNode &&
				(token == TokenAny || d.token == token)
		}
		if ok {
			return d
		}
	}
	return nil
}

// SetDefault nominates the domain consulted when mapping operations are
// given no domain. Pass nil to clear.
func (s *System) SetDefault(d *Domain) { s.defaultDomain.Store(d) }

// GetDefault returns the current default domain, or nil.
func (s *System) GetDefault() *Domain { return s.defaultDomain.Load() }

// UpdateBusToken atomically replaces a domain's bus token and its debug
// name. The new name always carries the token suffix so debug names stay
// unique per bus.
func (s *System) UpdateBusToken(d *Domain, token BusToken) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.debugNames, d.Name())
	d.token = token

	name := fmt.Sprintf("%s-%s", d.baseName, token)
	if _, taken := s.debugNames[name]; taken {
		name = fmt.Sprintf("%s-%d", name, d.id)
	}
	d.debugName.Store(&name)
	s.debugNames[name] = d

	s.trace.Writef("domain %s bus token now %s", name, token)
}

func parentName(d *Domain) string {
	if d == nil {
		return "<none>"
	}
	return d.Name()
}
