package dagexport

import (
	"fmt"
	"io"
	"strings"
)

// WriteDOT renders g as a Graphviz DOT digraph. There's no third-party DOT
// library in play here; the format is simple enough that hand-writing it
// keeps this package dependency-free for the one format networkx's
// write_dot would otherwise have pulled in a library for.
func WriteDOT(w io.Writer, g *Graph) error {
	if _, err := fmt.Fprintln(w, "digraph resolver {"); err != nil {
		return err
	}

	for _, n := range g.Nodes {
		attrs := nodeAttrs(n)
		if len(attrs) == 0 {
			if _, err := fmt.Fprintf(w, "  %s;\n", quote(n.ID)); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "  %s [%s];\n", quote(n.ID), strings.Join(attrs, ", ")); err != nil {
			return err
		}
	}

	for _, e := range g.Edges {
		if _, err := fmt.Fprintf(w, "  %s -> %s;\n", quote(e.From), quote(e.To)); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintln(w, "}")
	return err
}

func nodeAttrs(n Node) []string {
	if !n.HasAttrs {
		return nil
	}
	var attrs []string
	if n.Name != "" {
		attrs = append(attrs, fmt.Sprintf("label=%s", quote(n.Name)))
	}
	if n.EntityName != "" {
		attrs = append(attrs, fmt.Sprintf("entity_name=%s", quote(n.EntityName)))
	}
	attrs = append(attrs, fmt.Sprintf("case_key=%s", quote(n.CaseKey)))
	attrs = append(attrs, fmt.Sprintf("task_ix=%d", n.TaskIx))
	if n.IsSimpleLookup {
		attrs = append(attrs, "is_simple_lookup=true")
	}
	if n.ShouldPersist {
		attrs = append(attrs, "should_persist=true")
	}
	return attrs
}

func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
