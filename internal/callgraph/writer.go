package callgraph

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dexhelper/pkg/writer"
)

// WriteJSON writes cg to path, compressed when the extension asks for it.
func WriteJSON(cg *CallGraph, path string) error {
	return writer.ForPath[*CallGraph](path).WriteToFile(cg, path)
}

var categoryColors = map[string]string{
	"application": "lightblue",
	"library":     "khaki",
	"framework":   "palegreen",
	"runtime":     "lightgrey",
}

// DOTWriter writes call graph data in DOT format.
type DOTWriter struct{}

// NewDOTWriter creates a new DOT format writer.
func NewDOTWriter() *DOTWriter {
	return &DOTWriter{}
}

// Write writes the call graph in DOT format.
func (w *DOTWriter) Write(cg *CallGraph, writer io.Writer) error {
	if _, err := fmt.Fprintln(writer, "digraph callgraph {"); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(writer, "  node [shape=box, style=filled];"); err != nil {
		return err
	}

	for _, node := range cg.Nodes {
		color := categoryColors[node.Category]
		if color == "" {
			color = "white"
		}
		attrs := fmt.Sprintf("label=%q, fillcolor=%s", dotLabel(node), color)
		if node.ID == cg.Root {
			attrs += ", penwidth=2"
		}
		if !node.Defined {
			attrs += ", style=\"filled,dashed\""
		}
		if _, err := fmt.Fprintf(writer, "  %q [%s];\n", node.ID, attrs); err != nil {
			return err
		}
	}

	for _, edge := range cg.Edges {
		if _, err := fmt.Fprintf(writer, "  %q -> %q;\n", edge.Source, edge.Target); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintln(writer, "}")
	return err
}

// WriteToFile writes the call graph in DOT format to a file.
func (w *DOTWriter) WriteToFile(cg *CallGraph, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	return w.Write(cg, file)
}

// dotLabel shows the simple class name over the method name.
func dotLabel(n *Node) string {
	class := strings.TrimPrefix(strings.TrimSuffix(n.Class, ";"), "L")
	if i := strings.LastIndexByte(class, '/'); i >= 0 {
		class = class[i+1:]
	}
	return class + "\n" + n.Name
}
