package models

// BountyGraph is the task DAG attached to a listing during the spec loop.
// The core treats it as an opaque document except for impact analysis,
// which walks reverse dependencies.
type BountyGraph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// GraphNode is one task. Depends lists the ids this node depends on; Cost is
// the node's priced effort (0 when absent).
type GraphNode struct {
	ID      string   `json:"id"`
	Status  string   `json:"status,omitempty"`
	Depends []string `json:"depends,omitempty"`
	Cost    float64  `json:"cost,omitempty"`
}

// GraphEdge is a redundant explicit edge (from depends-on to dependent).
// Impact analysis derives its own reverse map from Depends; edges are kept
// for clients that render the graph.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Node returns the node with the given id, or nil.
func (g *BountyGraph) Node(id string) *GraphNode {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}
