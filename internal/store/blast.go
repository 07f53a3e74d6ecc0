package store

import "fmt"

// NeighborFunc returns the direct neighbors of a node in one direction.
type NeighborFunc func(id string) ([]string, error)

// Traverse walks the graph breadth-first from start, following neighbors
// repeatedly until no new node is discovered. The result always contains
// start (first) and lists every reached node exactly once, in discovery
// order. Cycles terminate through the visited set.
func Traverse(start string, neighbors NeighborFunc) ([]string, error) {
	visited := map[string]bool{start: true}
	order := []string{start}
	queue := []string{start}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		next, err := neighbors(cur)
		if err != nil {
			return nil, fmt.Errorf("traverse from %q: %w", start, err)
		}
		for _, n := range next {
			if visited[n] {
				continue
			}
			visited[n] = true
			order = append(order, n)
			queue = append(queue, n)
		}
	}
	return order, nil
}

// Ancestors returns the inbound closure of id: id itself plus every node
// that reaches it through one or more edges in the caller direction.
func Ancestors(g Graph, id string) ([]string, error) {
	return Traverse(id, g.InboundNeighbors)
}

// Descendants returns the outbound closure of id, id included.
func Descendants(g Graph, id string) ([]string, error) {
	return Traverse(id, g.OutboundNeighbors)
}
