// Package stagegraph summarises a decode result as a directed graph of
// pipeline stage transitions and renders it as Graphviz DOT.
package stagegraph

import (
	"cmp"
	"slices"

	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"

	"pipeview/internal/model"
)

// Transition is one observed stage-to-stage step with its frequency.
type Transition struct {
	From  string
	To    string
	Count int
}

// Graph is the stage-flow graph of a result.
type Graph struct {
	*lattice.Graph
	Transitions []Transition
}

// Build walks every instruction's stages in timeline order and records
// each consecutive pair as an edge. Flex stages that were revisited only
// contribute one node.
func Build(res *model.Result) *Graph {
	counts := make(map[[2]string]int)
	g := &lattice.Graph{}
	seen := make(map[string]bool)

	for _, inst := range res.Instructions {
		names := inst.StageNames()
		for i, name := range names {
			if !seen[name] {
				seen[name] = true
				g.Nodes = append(g.Nodes, name)
			}
			if i == 0 {
				continue
			}
			key := [2]string{names[i-1], name}
			if counts[key] == 0 {
				g.Edges = append(g.Edges, lattice.Edge{Caller: key[0], Callee: key[1]})
			}
			counts[key]++
		}
	}
	g.Dedup()

	trans := make([]Transition, 0, len(counts))
	for k, n := range counts {
		trans = append(trans, Transition{From: k[0], To: k[1], Count: n})
	}
	slices.SortFunc(trans, func(a, b Transition) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		if c := cmp.Compare(a.From, b.From); c != 0 {
			return c
		}
		return cmp.Compare(a.To, b.To)
	})
	return &Graph{Graph: g, Transitions: trans}
}

// DOT renders g under the given graph title.
func (g *Graph) DOT(title string) string {
	return render.DOT(g.Graph, title)
}
