package client

// NodePicker selects which node a new voice session should land on. The
// router only ever passes connected nodes.
type NodePicker interface {
	Pick(nodes []*Node) *Node
}

// LeastLoaded picks the node with the fewest voice sessions. This is a
// load-spreading heuristic, not a balance guarantee; ties go to pool order.
type LeastLoaded struct{}

func (LeastLoaded) Pick(nodes []*Node) *Node {
	var best *Node
	for _, n := range nodes {
		if best == nil || n.registry.Len() < best.registry.Len() {
			best = n
		}
	}
	return best
}
