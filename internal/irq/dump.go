package irq

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// DumpHierarchy writes a human-readable tree of the registered domains:
// roots first, children indented, with token, map kind and mapping count per
// domain. Providers with the DebugShow capability contribute extra lines.
func (s *System) DumpHierarchy(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	children := make(map[*Domain][]*Domain)
	var roots []*Domain
	for _, d := range s.domains {
		if d.parent == nil {
			roots = append(roots, d)
		} else {
			children[d.parent] = append(children[d.parent], d)
		}
	}

	byName := func(ds []*Domain) {
		sort.Slice(ds, func(i, j int) bool { return ds[i].Name() < ds[j].Name() })
	}
	byName(roots)
	for _, ds := range children {
		byName(ds)
	}

	def := s.defaultDomain.Load()

	var dump func(d *Domain, indent int)
	dump = func(d *Domain, indent int) {
		pad := strings.Repeat("  ", indent)
		marker := ""
		if d == def {
			marker = " (default)"
		}
		fmt.Fprintf(w, "%s%s: token=%s map=%s mappings=%d%s\n",
			pad, d.Name(), d.token, mapKind(d), d.MapCount(), marker)
		if d.debugShow != nil {
			d.debugShow.DebugShow(w, d, nil, indent+1)
		}
		for _, c := range children[d] {
			dump(c, indent+1)
		}
	}
	for _, d := range roots {
		dump(d, 0)
	}
}

func mapKind(d *Domain) string {
	switch m := d.revmap.(type) {
	case *linearMap:
		return fmt.Sprintf("linear[%d]", len(m.slots))
	case *radixMap:
		return "radix"
	case nomapMap:
		return fmt.Sprintf("nomap[%d]", d.directMax)
	default:
		return "unknown"
	}
}
