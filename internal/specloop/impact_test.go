package specloop

import (
	"reflect"
	"testing"

	"github.com/saltdig/engine/pkg/models"
)

func diamondGraph() *models.BountyGraph {
	// a is the root; b and d depend on a, c depends on b.
	return &models.BountyGraph{Nodes: []models.GraphNode{
		{ID: "a", Cost: 100},
		{ID: "b", Cost: 60, Depends: []string{"a"}},
		{ID: "c", Cost: 40, Depends: []string{"b"}},
		{ID: "d", Cost: 20, Depends: []string{"a"}},
	}}
}

func TestCalculateChangeImpact_RootSeed(t *testing.T) {
	imp := CalculateChangeImpact(diamondGraph(), []string{"a"})

	if !reflect.DeepEqual(imp.Changed, []string{"a"}) {
		t.Errorf("changed = %v, want [a]", imp.Changed)
	}
	if !reflect.DeepEqual(imp.Direct, []string{"b", "d"}) {
		t.Errorf("direct = %v, want [b d]", imp.Direct)
	}
	if !reflect.DeepEqual(imp.Transitive, []string{"c"}) {
		t.Errorf("transitive = %v, want [c]", imp.Transitive)
	}
	if imp.Total != 4 {
		t.Errorf("total = %d, want 4", imp.Total)
	}
	// ceil(0.20 * (100+60+40+20)) = 44
	if imp.DeltaCost != 44 {
		t.Errorf("delta cost = %d, want 44", imp.DeltaCost)
	}
	if imp.Risk != "medium" {
		t.Errorf("risk = %s, want medium", imp.Risk)
	}
}

func TestCalculateChangeImpact_LeafSeed(t *testing.T) {
	imp := CalculateChangeImpact(diamondGraph(), []string{"c"})
	if imp.Total != 1 || len(imp.Direct)+len(imp.Transitive) != 0 {
		t.Fatalf("leaf impact = %+v, want only the seed", imp)
	}
	// ceil(0.20 * 40) = 8
	if imp.DeltaCost != 8 {
		t.Errorf("delta cost = %d, want 8", imp.DeltaCost)
	}
	if imp.Risk != "low" {
		t.Errorf("risk = %s, want low", imp.Risk)
	}
}

// A subtree's impact never exceeds its ancestor's: everything reachable
// from b is reachable from a.
func TestCalculateChangeImpact_Monotone(t *testing.T) {
	g := diamondGraph()
	fromRoot := CalculateChangeImpact(g, []string{"a"})
	fromMid := CalculateChangeImpact(g, []string{"b"})

	if fromMid.Total > fromRoot.Total {
		t.Errorf("total from b (%d) exceeds total from a (%d)", fromMid.Total, fromRoot.Total)
	}
	if fromMid.DeltaCost > fromRoot.DeltaCost {
		t.Errorf("delta from b (%d) exceeds delta from a (%d)", fromMid.DeltaCost, fromRoot.DeltaCost)
	}
}

func TestCalculateChangeImpact_Deterministic(t *testing.T) {
	g := diamondGraph()
	first := CalculateChangeImpact(g, []string{"a", "d"})
	for i := 0; i < 10; i++ {
		again := CalculateChangeImpact(g, []string{"a", "d"})
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs: %+v vs %+v", i, first, again)
		}
	}
}

func TestCalculateChangeImpact_DegenerateInputs(t *testing.T) {
	if imp := CalculateChangeImpact(nil, []string{"a"}); imp.Total != 0 || imp.Risk != "low" {
		t.Errorf("nil graph: %+v", imp)
	}
	if imp := CalculateChangeImpact(diamondGraph(), nil); imp.Total != 0 || imp.Risk != "low" {
		t.Errorf("no seeds: %+v", imp)
	}
	// Unknown seeds are ignored, not counted.
	imp := CalculateChangeImpact(diamondGraph(), []string{"ghost"})
	if imp.Total != 0 || imp.DeltaCost != 0 {
		t.Errorf("unknown seed: %+v", imp)
	}
	// Duplicate seeds collapse.
	imp = CalculateChangeImpact(diamondGraph(), []string{"c", "c"})
	if imp.Total != 1 {
		t.Errorf("duplicate seeds: total = %d, want 1", imp.Total)
	}
}
