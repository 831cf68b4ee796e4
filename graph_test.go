package ttg

import (
	"strings"
	"testing"
)

// stubNode is a minimal Node for graph-traversal tests that don't need a
// full TT[K].
type stubNode struct {
	id         string
	succ       []Node
	executable bool
}

func (s *stubNode) ID() string         { return s.id }
func (s *stubNode) Successors() []Node { return s.succ }
func (s *stubNode) Executable() bool   { return s.executable }
func (s *stubNode) markExecutable()    { s.executable = true }

func TestMakeGraphExecutableLinearChain(t *testing.T) {
	c := &stubNode{id: "c"}
	b := &stubNode{id: "b", succ: []Node{c}}
	a := &stubNode{id: "a", succ: []Node{b}}

	if err := MakeGraphExecutable([]Node{a, b, c}, a); err != nil {
		t.Fatalf("MakeGraphExecutable: %v", err)
	}
	for _, n := range []*stubNode{a, b, c} {
		if !n.Executable() {
			t.Fatalf("node %q should be executable", n.id)
		}
	}
}

func TestMakeGraphExecutableUnreachedNodeStaysNonExecutable(t *testing.T) {
	reached := &stubNode{id: "reached"}
	unreached := &stubNode{id: "unreached"}
	seed := &stubNode{id: "seed", succ: []Node{reached}}

	if err := MakeGraphExecutable([]Node{seed, reached, unreached}, seed); err != nil {
		t.Fatalf("MakeGraphExecutable: %v", err)
	}
	if !reached.Executable() {
		t.Fatal("reached node should be executable")
	}
	if unreached.Executable() {
		t.Fatal("unreached node should not be executable")
	}
}

func TestMakeGraphExecutableSelfLoopTerminates(t *testing.T) {
	loop := &stubNode{id: "loop"}
	loop.succ = []Node{loop}

	if err := MakeGraphExecutable([]Node{loop}, loop); err != nil {
		t.Fatalf("MakeGraphExecutable on self-loop: %v", err)
	}
	if !loop.Executable() {
		t.Fatal("self-looping node should be executable")
	}
}

func TestMakeGraphExecutableNoSeedsErrors(t *testing.T) {
	if err := MakeGraphExecutable([]Node{&stubNode{id: "a"}}); err == nil {
		t.Fatal("expected an error when no seeds are given")
	}
}

func TestVerifyDetectsDanglingSuccessor(t *testing.T) {
	dangling := &stubNode{id: "ghost"}
	a := &stubNode{id: "a", succ: []Node{dangling}}

	if err := Verify([]Node{a}); err == nil {
		t.Fatal("expected Verify to report the dangling successor")
	}
}

func TestVerifyCleanGraph(t *testing.T) {
	b := &stubNode{id: "b"}
	a := &stubNode{id: "a", succ: []Node{b}}
	if err := Verify([]Node{a, b}); err != nil {
		t.Fatalf("Verify on a clean graph: %v", err)
	}
}

func TestDotRendersEveryNodeAndEdge(t *testing.T) {
	b := &stubNode{id: "b"}
	a := &stubNode{id: "a", succ: []Node{b}}
	_ = MakeGraphExecutable([]Node{a, b}, a)

	dot := Dot([]Node{a, b})
	if dot == "" {
		t.Fatal("Dot output should not be empty")
	}
	for _, want := range []string{`"a"`, `"b"`, `"a" -> "b"`} {
		if !strings.Contains(dot, want) {
			t.Fatalf("Dot output missing %q:\n%s", want, dot)
		}
	}
}
