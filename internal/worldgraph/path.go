package worldgraph

import (
	"container/heap"
)

// Path is an ordered sequence of edges from Source to Destination. A path
// whose source is its destination has no edges.
type Path struct {
	Source      Node
	Destination Node
	Edges       []Edge
}

// Len returns the number of edges.
func (p Path) Len() int { return len(p.Edges) }

// Cost is the sum of edge costs.
func (p Path) Cost() float64 {
	var total float64
	for _, e := range p.Edges {
		total += e.Cost
	}
	return total
}

// ShortestPath finds the cheapest path from source to destination using
// Dijkstra's algorithm. Equal-cost candidates resolve in favour of whichever
// was reached first, walking outgoing edges in insertion order, so repeated
// queries over the same graph always return the same path. The boolean is
// false when destination is unreachable or either node is unknown.
func (g *Graph) ShortestPath(source, destination Node) (Path, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[source.ID]; !ok {
		return Path{}, false
	}
	if _, ok := g.nodes[destination.ID]; !ok {
		return Path{}, false
	}
	if source.ID == destination.ID {
		return Path{Source: g.nodes[source.ID], Destination: g.nodes[source.ID]}, true
	}

	dist := map[int]float64{source.ID: 0}
	via := make(map[int]Edge)
	settled := make(map[int]bool)

	pq := &frontier{}
	seq := 0
	heap.Push(pq, &frontierItem{nodeID: source.ID, dist: 0, seq: seq})

	for pq.Len() > 0 {
		item := heap.Pop(pq).(*frontierItem)
		if settled[item.nodeID] {
			continue
		}
		settled[item.nodeID] = true
		if item.nodeID == destination.ID {
			break
		}

		for _, e := range g.outgoingEdges[item.nodeID] {
			if settled[e.To.ID] {
				continue
			}
			candidate := item.dist + e.Cost
			if known, ok := dist[e.To.ID]; ok && candidate >= known {
				continue
			}
			dist[e.To.ID] = candidate
			via[e.To.ID] = e
			seq++
			heap.Push(pq, &frontierItem{nodeID: e.To.ID, dist: candidate, seq: seq})
		}
	}

	if !settled[destination.ID] {
		return Path{}, false
	}

	var reversed []Edge
	for at := destination.ID; at != source.ID; {
		e := via[at]
		reversed = append(reversed, e)
		at = e.From.ID
	}
	edges := make([]Edge, len(reversed))
	for i, e := range reversed {
		edges[len(reversed)-1-i] = e
	}

	return Path{
		Source:      g.nodes[source.ID],
		Destination: g.nodes[destination.ID],
		Edges:       edges,
	}, true
}

// -- priority queue --

type frontierItem struct {
	nodeID int
	dist   float64
	seq    int
}

type frontier []*frontierItem

func (f frontier) Len() int { return len(f) }

func (f frontier) Less(i, j int) bool {
	if f[i].dist != f[j].dist {
		return f[i].dist < f[j].dist
	}
	return f[i].seq < f[j].seq
}

func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }

func (f *frontier) Push(x any) { *f = append(*f, x.(*frontierItem)) }

func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*f = old[:n-1]
	return item
}
