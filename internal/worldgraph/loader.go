package worldgraph

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/wayfarer/api/schemas"
)

// worldFile is the on-disk YAML layout of a world graph.
type worldFile struct {
	Nodes []struct {
		ID int `yaml:"id"`
		X  int `yaml:"x"`
		Y  int `yaml:"y"`
	} `yaml:"nodes"`
	Edges []struct {
		From          [2]int                 `yaml:"from"`
		To            [2]int                 `yaml:"to"`
		Kind          schemas.TransitionKind `yaml:"kind"`
		Bidirectional bool                   `yaml:"bidirectional"`
	} `yaml:"edges"`
}

// LoadYAMLFile reads a world graph from a YAML file on disk.
func LoadYAMLFile(path string, logger *zap.Logger) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open world file: %w", err)
	}
	defer f.Close()
	return LoadYAML(f, logger)
}

// LoadYAML builds a graph from YAML. Nodes listed explicitly keep their IDs;
// coordinates that only appear on edges are given the next free ID.
func LoadYAML(r io.Reader, logger *zap.Logger) (*Graph, error) {
	var wf worldFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&wf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode world file: %w", err)
	}

	g := New(logger)
	for _, n := range wf.Nodes {
		node := Node{ID: n.ID, Coordinate: schemas.Coordinate{X: n.X, Y: n.Y}}
		if !g.AddNode(node) {
			return nil, fmt.Errorf("duplicate node id %d or coordinate %s in world file", n.ID, node.Coordinate)
		}
	}

	for i, e := range wf.Edges {
		from, _ := g.AddNodeAt(schemas.Coordinate{X: e.From[0], Y: e.From[1]})
		to, _ := g.AddNodeAt(schemas.Coordinate{X: e.To[0], Y: e.To[1]})
		if err := g.AddEdge(from, to, e.Kind); err != nil {
			return nil, fmt.Errorf("edge %d: %w", i, err)
		}
		if e.Bidirectional {
			if err := g.AddEdge(to, from, e.Kind); err != nil {
				return nil, fmt.Errorf("edge %d (reverse): %w", i, err)
			}
		}
	}

	g.log.Info("World graph loaded.", zap.Int("nodes", g.NodeCount()), zap.Int("edges", g.EdgeCount()))
	return g, nil
}
