package worldgraph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/transition"
)

var (
	ErrUnknownNode   = errors.New("worldgraph: node not found")
	ErrSelfLoop      = errors.New("worldgraph: edge source and destination are the same node")
	ErrDuplicateEdge = errors.New("worldgraph: edge of this kind already exists")
)

// Node is a graph vertex for one world coordinate.
type Node struct {
	ID int `json:"id"`
	schemas.Coordinate
}

// Edge is a directed, weighted connection. Only the cost is stored; the
// transition kind is recovered from it through the catalog.
type Edge struct {
	From Node    `json:"from"`
	To   Node    `json:"to"`
	Cost float64 `json:"cost"`
}

// Kind recovers the transition kind from the edge cost.
func (e Edge) Kind() (schemas.TransitionKind, error) {
	return transition.KindOf(e.Cost)
}

// Graph is the thread safe, in memory world graph. Only the specialised add
// operations are exposed; nodes and edges are immutable once stored.
type Graph struct {
	nodes         map[int]Node
	byCoordinate  map[schemas.Coordinate]int
	outgoingEdges map[int][]Edge // Key: source node ID, in insertion order.
	nextID        int
	edgeCount     int
	mu            sync.RWMutex
	log           *zap.Logger
}

// New creates an empty graph.
func New(logger *zap.Logger) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph{
		nodes:         make(map[int]Node),
		byCoordinate:  make(map[schemas.Coordinate]int),
		outgoingEdges: make(map[int][]Edge),
		log:           logger.Named("worldgraph"),
	}
}

// AddNode stores n and reports whether it was newly added. A node whose
// coordinate or ID is already taken is rejected.
func (g *Graph) AddNode(n Node) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addNodeLocked(n)
}

func (g *Graph) addNodeLocked(n Node) bool {
	if _, exists := g.byCoordinate[n.Coordinate]; exists {
		return false
	}
	if _, exists := g.nodes[n.ID]; exists {
		g.log.Debug("Node ID already in use, ignoring.", zap.Int("id", n.ID), zap.Stringer("at", n.Coordinate))
		return false
	}
	g.nodes[n.ID] = n
	g.byCoordinate[n.Coordinate] = n.ID
	if n.ID >= g.nextID {
		g.nextID = n.ID + 1
	}
	return true
}

// AddNodeAt stores a node at c with the next free ID. When c is already
// occupied the existing node is returned with added set to false.
func (g *Graph) AddNodeAt(c schemas.Coordinate) (node Node, added bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id, exists := g.byCoordinate[c]; exists {
		return g.nodes[id], false
	}
	n := Node{ID: g.nextID, Coordinate: c}
	g.addNodeLocked(n)
	return n, true
}

// AddEdge stores a directed edge from source to destination, costed by kind.
func (g *Graph) AddEdge(source, destination Node, kind schemas.TransitionKind) error {
	if !kind.Valid() {
		return fmt.Errorf("worldgraph: invalid transition kind %d", int(kind))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	src, ok := g.nodes[source.ID]
	if !ok || src.Coordinate != source.Coordinate {
		return fmt.Errorf("%w: source %d at %s", ErrUnknownNode, source.ID, source.Coordinate)
	}
	dst, ok := g.nodes[destination.ID]
	if !ok || dst.Coordinate != destination.Coordinate {
		return fmt.Errorf("%w: destination %d at %s", ErrUnknownNode, destination.ID, destination.Coordinate)
	}
	if src.ID == dst.ID {
		return fmt.Errorf("%w: %s", ErrSelfLoop, src.Coordinate)
	}

	cost := transition.CostOf(kind)
	for _, e := range g.outgoingEdges[src.ID] {
		if e.To.ID == dst.ID && e.Cost == cost {
			return fmt.Errorf("%w: %s -> %s (%s)", ErrDuplicateEdge, src.Coordinate, dst.Coordinate, kind)
		}
	}

	g.outgoingEdges[src.ID] = append(g.outgoingEdges[src.ID], Edge{From: src, To: dst, Cost: cost})
	g.edgeCount++
	return nil
}

// FindNodeAt returns the node at (x, y), if any.
func (g *Graph) FindNodeAt(x, y int) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	id, ok := g.byCoordinate[schemas.Coordinate{X: x, Y: y}]
	if !ok {
		return Node{}, false
	}
	return g.nodes[id], true
}

// Node retrieves a node by ID.
func (g *Graph) Node(id int) (Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return Node{}, fmt.Errorf("%w: id %d", ErrUnknownNode, id)
	}
	return n, nil
}

// Edges returns a copy of the outgoing edges of a node, in insertion order.
func (g *Graph) Edges(from Node) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := g.outgoingEdges[from.ID]
	edges := make([]Edge, len(out))
	copy(edges, out)
	return edges
}

// Nodes returns every node ordered by ID.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// NodeCount returns the number of stored nodes.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of stored edges.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edgeCount
}
