package graph

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		input string
		want  Ref
	}{
		{input: "a", want: Ref{Name: "a"}},
		{input: "a:1", want: Ref{Name: "a", Slot: 1}},
		{input: "scope/a:12", want: Ref{Name: "scope/a", Slot: 12}},
		{input: "^a", want: Ref{Name: "a", Control: true}},
		{input: "a:x", want: Ref{Name: "a:x"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseRef(tt.input)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseRef(%q) mismatch (-want +got):\n%s", tt.input, diff)
			}
		})
	}
}

func TestBuild(t *testing.T) {
	b := NewBuilder()
	b.Add("x", OpPlaceholder)
	b.Add("w", OpConst)
	b.Add("sum", "add", "x", "w").
		Param("a", InputParam(0, TypeTensor)).
		Param("b", InputParam(1, TypeTensor))
	b.Add("split", "unpack", "sum", "^w")
	b.Add("out", "identity", "split:1", "split:0")

	g, err := b.Build("out")
	if err != nil {
		t.Fatalf("failed to build graph: %v", err)
	}

	names := func(nodes []*Node) []string {
		var s []string
		for _, n := range nodes {
			s = append(s, n.Name)
		}
		return s
	}

	if diff := cmp.Diff([]string{"x", "w"}, names(g.Inputs)); diff != "" {
		t.Errorf("inputs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"x"}, names(g.Placeholders)); diff != "" {
		t.Errorf("placeholders mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"out"}, names(g.Outputs)); diff != "" {
		t.Errorf("outputs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"sum", "split"}, names(g.Nodes["w"].Children)); diff != "" {
		t.Errorf("children of w mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"out"}, names(g.Nodes["split"].Children)); diff != "" {
		t.Errorf("children of split mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"sum"}, g.Nodes["split"].DataInputs()); diff != "" {
		t.Errorf("data inputs mismatch (-want +got):\n%s", diff)
	}
	if g.WithControlFlow {
		t.Errorf("expected graph without control flow")
	}
}

func TestBuildDetectsControlFlow(t *testing.T) {
	b := NewBuilder()
	b.Add("x", OpPlaceholder)
	b.Add("enter", OpEnter, "x")
	g, err := b.Build("enter")
	if err != nil {
		t.Fatalf("failed to build graph: %v", err)
	}
	if !g.WithControlFlow {
		t.Errorf("expected graph with control flow")
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *Builder)
		out   string
	}{
		{
			name: "duplicate node",
			build: func(b *Builder) {
				b.Add("x", OpPlaceholder)
				b.Add("x", OpPlaceholder)
			},
			out: "x",
		},
		{
			name: "unknown input",
			build: func(b *Builder) {
				b.Add("y", "identity", "missing:0")
			},
			out: "y",
		},
		{
			name: "unknown output",
			build: func(b *Builder) {
				b.Add("x", OpPlaceholder)
			},
			out: "nope",
		},
		{
			name: "param out of range",
			build: func(b *Builder) {
				b.Add("x", OpPlaceholder)
				b.Add("y", "identity", "x").Param("x", InputParam(1, TypeTensor))
			},
			out: "y",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder()
			tt.build(b)
			_, err := b.Build(tt.out)
			if status.Code(err) != codes.InvalidArgument {
				t.Errorf("expected InvalidArgument, got %v", err)
			}
		})
	}
}
