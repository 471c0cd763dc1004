// Package viz draws the change history of a canvas replica as a graph: one node
// per change, with edges from each dependency to the change that follows it.
package viz

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/astromechza/canvas-sync/pkg/replica"
)

func short(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Label is the node text for one revision.
func Label(rev replica.Revision) string {
	return fmt.Sprintf("%s %s@%d %s (%d shapes)", short(rev.Hash), short(rev.Actor), rev.Seq, rev.Message, rev.Shapes)
}

// Render writes the history graph in the given format.
func Render(revs []replica.Revision, format graphviz.Format, w io.Writer) error {
	g := graphviz.New()
	defer g.Close()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}
	defer graph.Close()

	nodes := make(map[string]*cgraph.Node, len(revs))
	edges := 0
	for _, rev := range revs {
		n, err := graph.CreateNode(rev.Hash)
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(Label(rev))
		nodes[rev.Hash] = n

		for _, dep := range rev.Deps {
			from, ok := nodes[dep]
			if !ok {
				return fmt.Errorf("change %s depends on unknown change %s", short(rev.Hash), short(dep))
			}
			edges++
			if _, err := graph.CreateEdge(strconv.Itoa(edges), from, n); err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
	}

	if err := g.Render(graph, format, w); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	return nil
}

// WriteSVG renders the history of rep to an SVG file at path.
func WriteSVG(rep *replica.Replica, path string) error {
	revs, err := rep.History()
	if err != nil {
		return err
	}
	var buff bytes.Buffer
	if err := Render(revs, graphviz.SVG, &buff); err != nil {
		return err
	}
	if err := os.WriteFile(path, buff.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
