package specloop

import (
	"math"
	"sort"

	"github.com/saltdig/engine/pkg/models"
)

// changeFactor prices a scope change at 20% of the affected subtree's cost.
const changeFactor = 0.20

// Impact is the deterministic result of a change analysis over the stored
// DAG. Reproducible: same graph and seeds always yield the same output.
type Impact struct {
	Changed    []string `json:"changed"`
	Direct     []string `json:"direct"`
	Transitive []string `json:"transitive"`
	Total      int      `json:"total"`
	DeltaCost  int64    `json:"deltaCost"`
	Risk       string   `json:"risk"`
	Reasoning  string   `json:"reasoning"`
}

// CalculateChangeImpact walks reverse dependencies from the seed nodes.
// Depth 1 is direct impact, depth >= 2 transitive. Delta cost is
// ceil(20% of the summed cost of everything touched); nodes without a cost
// count as zero. Risk is a monotone function of the affected count.
func CalculateChangeImpact(graph *models.BountyGraph, seedIDs []string) *Impact {
	imp := &Impact{Changed: []string{}, Direct: []string{}, Transitive: []string{}}
	if graph == nil || len(seedIDs) == 0 {
		imp.Risk = "low"
		imp.Reasoning = "no graph or no seeds; nothing affected"
		return imp
	}

	// Reverse dependency map: rev[a] = nodes that depend on a.
	rev := make(map[string][]string)
	cost := make(map[string]float64)
	known := make(map[string]bool)
	for _, n := range graph.Nodes {
		known[n.ID] = true
		cost[n.ID] = n.Cost
		for _, dep := range n.Depends {
			rev[dep] = append(rev[dep], n.ID)
		}
	}

	depth := make(map[string]int)
	queue := make([]string, 0, len(seedIDs))
	for _, id := range seedIDs {
		if !known[id] {
			continue
		}
		if _, seen := depth[id]; seen {
			continue
		}
		depth[id] = 0
		queue = append(queue, id)
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range rev[cur] {
			if _, seen := depth[next]; seen {
				continue
			}
			depth[next] = depth[cur] + 1
			queue = append(queue, next)
		}
	}

	var costSum float64
	for id, d := range depth {
		costSum += cost[id]
		switch {
		case d == 0:
			imp.Changed = append(imp.Changed, id)
		case d == 1:
			imp.Direct = append(imp.Direct, id)
		default:
			imp.Transitive = append(imp.Transitive, id)
		}
	}
	sort.Strings(imp.Changed)
	sort.Strings(imp.Direct)
	sort.Strings(imp.Transitive)

	imp.Total = len(depth)
	imp.DeltaCost = int64(math.Ceil(costSum * changeFactor))
	switch {
	case imp.Total <= 2:
		imp.Risk = "low"
	case imp.Total <= 5:
		imp.Risk = "medium"
	default:
		imp.Risk = "high"
	}
	imp.Reasoning = reasoning(imp)
	return imp
}

func reasoning(imp *Impact) string {
	switch {
	case imp.Total == 0:
		return "seed nodes not present in graph; nothing affected"
	case len(imp.Direct)+len(imp.Transitive) == 0:
		return "change is isolated to the seed nodes; no dependents affected"
	case len(imp.Transitive) == 0:
		return "change ripples to immediate dependents only"
	default:
		return "change propagates through transitive dependents; downstream rework expected"
	}
}
