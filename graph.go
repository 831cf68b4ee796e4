package ttg

import (
	"fmt"
	"sort"
	"strings"
)

// MakeGraphExecutable marks every node reachable from seeds (inclusive) as
// executable, mirroring ttg::make_graph_executable's reachability closure.
// Self-loops and cycles (a Fibonacci-style feedback pattern) are handled
// by tracking visited nodes rather than recursing unconditionally.
// Nodes never reached from any seed remain non-executable and reject
// deliveries with ErrNotExecutable until a later MakeGraphExecutable call
// reaches them.
func MakeGraphExecutable(all []Node, seeds ...Node) error {
	if len(seeds) == 0 {
		return fmt.Errorf("ttg: make graph executable: no seed nodes given")
	}

	visited := make(map[string]bool, len(all))
	var stack []Node
	for _, s := range seeds {
		if s == nil {
			return fmt.Errorf("ttg: make graph executable: nil seed node")
		}
		stack = append(stack, s)
	}

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[n.ID()] {
			continue
		}
		visited[n.ID()] = true
		n.markExecutable()
		stack = append(stack, n.Successors()...)
	}
	return nil
}

// Verify walks every node's successor list and reports the first
// structural defect it finds: a successor edge pointing at a node absent
// from all (a dangling connection left over from a partially-built
// graph), a construction-time sanity check.
func Verify(all []Node) error {
	known := make(map[string]bool, len(all))
	for _, n := range all {
		known[n.ID()] = true
	}
	for _, n := range all {
		for _, succ := range n.Successors() {
			if !known[succ.ID()] {
				return fmt.Errorf("ttg: verify: %q has successor %q not present in graph", n.ID(), succ.ID())
			}
		}
	}
	return nil
}

// Dot renders the graph as Graphviz DOT source, one edge per (TT,
// successor TT) pair, for the diagnostic visualisation the CLI surface
// exposes.
func Dot(all []Node) string {
	ids := make([]string, 0, len(all))
	byID := make(map[string]Node, len(all))
	for _, n := range all {
		ids = append(ids, n.ID())
		byID[n.ID()] = n
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("digraph ttg {\n")
	for _, id := range ids {
		n := byID[id]
		shape := "box"
		if !n.Executable() {
			shape = "box,style=dashed"
		}
		fmt.Fprintf(&b, "  %q [shape=%s];\n", id, shape)
	}
	for _, id := range ids {
		succs := byID[id].Successors()
		succIDs := make([]string, 0, len(succs))
		for _, s := range succs {
			succIDs = append(succIDs, s.ID())
		}
		sort.Strings(succIDs)
		for _, sid := range succIDs {
			fmt.Fprintf(&b, "  %q -> %q;\n", id, sid)
		}
	}
	b.WriteString("}\n")
	return b.String()
}
