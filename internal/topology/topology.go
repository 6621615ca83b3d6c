package topology

import (
	"fmt"
	"math/rand/v2"
	"slices"
)

// Topology selects gossip counterparts. Peer returns false when the node has
// no peer available; callers skip their turn, it is not an error.
type Topology interface {
	Size() int
	Peer(id int) (int, bool)
}

// Complete is the fully connected network: every other node is a candidate.
type Complete struct {
	n   int
	rng *rand.Rand
}

// NewComplete returns a fully connected topology over n nodes.
func NewComplete(n int, rng *rand.Rand) *Complete {
	return &Complete{n: n, rng: rng}
}

func (c *Complete) Size() int { return c.n }

func (c *Complete) Peer(id int) (int, bool) {
	if c.n < 2 || id < 0 || id >= c.n {
		return 0, false
	}
	p := c.rng.IntN(c.n - 1)
	if p >= id {
		p++
	}
	return p, true
}

// Graph selects a uniformly random neighbour from a static adjacency list.
type Graph struct {
	adj [][]int
	rng *rand.Rand
}

// NewGraph builds a topology from adjacency lists indexed by node id.
// Neighbour ids must lie in [0, len(adj)); self-loops are dropped.
func NewGraph(adj [][]int, rng *rand.Rand) (*Graph, error) {
	n := len(adj)
	clean := make([][]int, n)
	for id, peers := range adj {
		for _, p := range peers {
			if p < 0 || p >= n {
				return nil, fmt.Errorf("node %d: neighbour %d out of range [0,%d)", id, p, n)
			}
			if p != id && !slices.Contains(clean[id], p) {
				clean[id] = append(clean[id], p)
			}
		}
	}
	return &Graph{adj: clean, rng: rng}, nil
}

// NewRing links each node to k neighbours on either side.
func NewRing(n, k int, rng *rand.Rand) *Graph {
	adj := make([][]int, n)
	for id := range n {
		for off := 1; off <= k && off < n; off++ {
			for _, p := range []int{(id + off) % n, (id - off + n) % n} {
				if p != id && !slices.Contains(adj[id], p) {
					adj[id] = append(adj[id], p)
				}
			}
		}
		slices.Sort(adj[id])
	}
	return &Graph{adj: adj, rng: rng}
}

func (g *Graph) Size() int { return len(g.adj) }

func (g *Graph) Peer(id int) (int, bool) {
	if id < 0 || id >= len(g.adj) || len(g.adj[id]) == 0 {
		return 0, false
	}
	return g.adj[id][g.rng.IntN(len(g.adj[id]))], true
}

// Neighbours returns a copy of id's adjacency list.
func (g *Graph) Neighbours(id int) []int {
	if id < 0 || id >= len(g.adj) {
		return nil
	}
	return slices.Clone(g.adj[id])
}
