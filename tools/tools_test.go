package tools

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
)

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry(Deps{
		Graph:     &fakeRunner{},
		Generator: fakeGenerator{},
		ReportsFs: afero.NewMemMapFs(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{AdverseEventsToolName, GraphToolName, ReportToolName}
	if diff := cmp.Diff(want, reg.Names()); diff != "" {
		t.Fatalf("tool names mismatch (-want +got):\n%s", diff)
	}
}

func TestNewRegistry_WithoutGraph(t *testing.T) {
	reg, err := NewRegistry(Deps{ReportsFs: afero.NewMemMapFs()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := reg.Get(GraphToolName); ok {
		t.Fatal("graph tool registered without a graph runner")
	}
	if reg.Len() != 2 {
		t.Fatalf("expected 2 tools, got %d", reg.Len())
	}
}

func TestNewRegistry_GraphNeedsGenerator(t *testing.T) {
	if _, err := NewRegistry(Deps{Graph: &fakeRunner{}}); err == nil {
		t.Fatal("expected error when the query generator is missing")
	}
}
