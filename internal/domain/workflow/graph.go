package workflow

// BuildAdjacency maps each source node id to the ordered list of its target
// node ids. Every node gets an entry, leaves map to an empty list.
func BuildAdjacency(nodes []Node, edges []Edge) map[string][]string {
	graph := make(map[string][]string, len(nodes))

	for _, n := range nodes {
		graph[n.NodeID] = []string{}
	}

	for _, e := range edges {
		graph[e.Source] = append(graph[e.Source], e.Target)
	}

	return graph
}

// SelectTriggerNode returns the unique trigger node of a workflow. Zero
// trigger nodes is ErrNoTriggerNode; more than one is rejected rather than
// silently picking the first.
func SelectTriggerNode(nodes []Node) (*Node, error) {
	var trigger *Node
	for i := range nodes {
		if !nodes[i].IsTrigger() {
			continue
		}
		if trigger != nil {
			return nil, ErrMultipleTriggerNodes
		}
		trigger = &nodes[i]
	}

	if trigger == nil {
		return nil, ErrNoTriggerNode
	}
	return trigger, nil
}

// HasCycle reports whether the graph reachable through the adjacency map
// contains a directed cycle.
func HasCycle(graph map[string][]string) bool {
	visited := make(map[string]bool)
	inProgress := make(map[string]bool)

	var dfs func(node string) bool
	dfs = func(node string) bool {
		visited[node] = true
		inProgress[node] = true

		for _, next := range graph[node] {
			if !visited[next] {
				if dfs(next) {
					return true
				}
			} else if inProgress[next] {
				return true
			}
		}

		inProgress[node] = false
		return false
	}

	for node := range graph {
		if !visited[node] {
			if dfs(node) {
				return true
			}
		}
	}

	return false
}
