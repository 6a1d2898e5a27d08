// Command irqdump loads a board definition, instantiates its interrupt
// topology and prints the resulting domain hierarchy and device mappings.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/tinyrange/irqcore/internal/boardfile"
	"github.com/tinyrange/irqcore/internal/debug"
	"github.com/tinyrange/irqcore/internal/irq"
)

var (
	styleName    = ansi.Style{}.Bold()
	styleMeta    = ansi.Style{}.ForegroundColor(ansi.Yellow)
	styleDefault = ansi.Style{}.ForegroundColor(ansi.Green)
	styleVirq    = ansi.Style{}.ForegroundColor(ansi.Cyan)
)

// colorizeDumpLine highlights one line of the hierarchy dump: the domain
// name in bold, the metadata in yellow and the default marker in green.
func colorizeDumpLine(line string) string {
	name, rest, found := strings.Cut(line, ":")
	if !found {
		return line
	}

	indent := len(name) - len(strings.TrimLeft(name, " "))
	styled := name[:indent] + styleName.Styled(name[indent:])

	if marker := " (default)"; strings.HasSuffix(rest, marker) {
		rest = styleMeta.Styled(strings.TrimSuffix(rest, marker)) + styleDefault.Styled(marker)
	} else {
		rest = styleMeta.Styled(rest)
	}
	return styled + ":" + rest
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	boardPath := fs.String("board", "", "Board definition YAML to load")
	noColor := fs.Bool("no-color", false, "Disable ANSI styling in the output")
	tracePath := fs.String("trace", "", "Write the binary engine trace to this file")

	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatalf("Parse flags: %v", err)
	}

	if *boardPath == "" {
		log.Fatalf("Board file is required, pass -board")
	}

	if *tracePath != "" {
		if err := debug.OpenFile(*tracePath); err != nil {
			log.Fatalf("Open trace file %q: %v", *tracePath, err)
		}
		defer debug.Close()
	}

	board, err := boardfile.LoadFile(*boardPath)
	if err != nil {
		log.Fatalf("Load board: %v", err)
	}

	sys := irq.NewSystem()
	topo, err := board.Apply(sys)
	if err != nil {
		log.Fatalf("Apply board: %v", err)
	}

	if board.Name != "" {
		fmt.Printf("board: %s\n\n", board.Name)
	}

	var buf bytes.Buffer
	sys.DumpHierarchy(&buf)
	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		if *noColor {
			fmt.Println(ansi.Strip(line))
		} else {
			fmt.Println(colorizeDumpLine(line))
		}
	}

	if len(topo.Mappings) == 0 {
		return
	}

	fmt.Println()
	devices := make([]string, 0, len(topo.Mappings))
	for name := range topo.Mappings {
		devices = append(devices, name)
	}
	sort.Strings(devices)

	for _, name := range devices {
		parts := make([]string, 0, len(topo.Mappings[name]))
		for _, virq := range topo.Mappings[name] {
			s := fmt.Sprintf("%d", virq)
			if !*noColor {
				s = styleVirq.Styled(s)
			}
			parts = append(parts, s)
		}
		fmt.Printf("%s: virq %s\n", name, strings.Join(parts, ", "))
	}
}
