package roadgraph

import (
	"context"
	"math"
	"sort"

	"backend-shaperun/internal/apperr"
	"backend-shaperun/internal/shared/geo"

	"github.com/bgadrian/data-structures/priorityqueue"
)

const (
	cellDeg = 0.0025

	// queue priorities are whole metres clamped to this range
	maxPriority = 100000
)

type edge struct {
	to     int
	weight float64
}

// Graph is an in-memory street network used when no routing server is
// configured. Nodes are bucketed on a lat/lng grid for radius queries.
type Graph struct {
	nodes []geo.LatLng
	adj   [][]edge
	index map[geo.LatLng]int
	grid  map[[2]int][]int
}

func NewGraph() *Graph {
	return &Graph{
		index: map[geo.LatLng]int{},
		grid:  map[[2]int][]int{},
	}
}

// AddNode returns the id of p, inserting it if unseen.
func (g *Graph) AddNode(p geo.LatLng) int {
	if id, ok := g.index[p]; ok {
		return id
	}
	id := len(g.nodes)
	g.nodes = append(g.nodes, p)
	g.adj = append(g.adj, nil)
	g.index[p] = id
	c := cellOf(p)
	g.grid[c] = append(g.grid[c], id)
	return id
}

// AddEdge links a and b in both directions weighted by their distance.
func (g *Graph) AddEdge(a, b int) {
	if a == b {
		return
	}
	w := geo.Distance(g.nodes[a], g.nodes[b])
	g.adj[a] = append(g.adj[a], edge{to: b, weight: w})
	g.adj[b] = append(g.adj[b], edge{to: a, weight: w})
}

func (g *Graph) NodeCount() int { return len(g.nodes) }

func (g *Graph) Node(id int) geo.LatLng { return g.nodes[id] }

// Edges calls fn once per undirected edge.
func (g *Graph) Edges(fn func(a, b int)) {
	for a, list := range g.adj {
		for _, e := range list {
			if a < e.to {
				fn(a, e.to)
			}
		}
	}
}

func (g *Graph) Nearest(_ context.Context, p geo.LatLng, radiusM float64, n int) ([]geo.LatLng, error) {
	ids := g.within(p, radiusM)
	if len(ids) > n {
		ids = ids[:n]
	}
	out := make([]geo.LatLng, len(ids))
	for i, id := range ids {
		out[i] = g.nodes[id]
	}
	return out, nil
}

func (g *Graph) ShortestPath(_ context.Context, from, to geo.LatLng) (Path, error) {
	src, ok := g.nodeAt(from)
	if !ok {
		return Path{}, apperr.New(apperr.UnroutableArea, "path start is not on the street graph")
	}
	dst, ok := g.nodeAt(to)
	if !ok {
		return Path{}, apperr.New(apperr.UnroutableArea, "path end is not on the street graph")
	}
	if src == dst {
		return Path{Points: []geo.LatLng{g.nodes[src]}}, nil
	}

	dist, prev, err := g.dijkstra(src, dst)
	if err != nil {
		return Path{}, err
	}
	if math.IsInf(dist[dst], 1) {
		return Path{}, apperr.New(apperr.UnroutableArea, "waypoints are not connected by streets")
	}

	var ids []int
	for at := dst; at != -1; at = prev[at] {
		ids = append(ids, at)
	}
	pts := make([]geo.LatLng, len(ids))
	for i, id := range ids {
		pts[len(ids)-1-i] = g.nodes[id]
	}
	return Path{Points: pts, DistanceM: dist[dst]}, nil
}

type queued struct {
	node int
	dist float64
}

// dijkstra is label-correcting: stale entries are skipped, so the result
// does not depend on the queue returning exact minimums.
func (g *Graph) dijkstra(src, dst int) ([]float64, []int, error) {
	dist := make([]float64, len(g.nodes))
	prev := make([]int, len(g.nodes))
	for i := range dist {
		dist[i] = math.Inf(1)
		prev[i] = -1
	}
	dist[src] = 0

	queue, err := priorityqueue.NewHierarchicalHeap(100, 0, maxPriority, false)
	if err != nil {
		return nil, nil, err
	}
	queue.Enqueue(queued{node: src}, 0)
	size := 1

	for size > 0 {
		item, err := queue.Dequeue()
		if err != nil {
			return nil, nil, err
		}
		size--

		cur := item.(queued)
		if cur.dist > dist[cur.node] || cur.dist >= dist[dst] {
			continue
		}
		for _, e := range g.adj[cur.node] {
			nd := cur.dist + e.weight
			if nd >= dist[e.to] {
				continue
			}
			dist[e.to] = nd
			prev[e.to] = cur.node
			queue.Enqueue(queued{node: e.to, dist: nd}, priority(nd))
			size++
		}
	}
	return dist, prev, nil
}

func priority(d float64) int {
	p := int(d)
	if p > maxPriority {
		return maxPriority
	}
	return p
}

// nodeAt maps a point to the closest node within a metre.
func (g *Graph) nodeAt(p geo.LatLng) (int, bool) {
	if id, ok := g.index[p]; ok {
		return id, true
	}
	ids := g.within(p, 1)
	if len(ids) == 0 {
		return 0, false
	}
	return ids[0], true
}

// within returns node ids within radiusM of p, nearest first.
func (g *Graph) within(p geo.LatLng, radiusM float64) []int {
	box := geo.Bounds([]geo.LatLng{p}, radiusM)
	lo := cellOf(geo.LatLng{Lat: box.MinLat, Lng: box.MinLng})
	hi := cellOf(geo.LatLng{Lat: box.MaxLat, Lng: box.MaxLng})

	type hit struct {
		id int
		d  float64
	}
	var hits []hit
	for i := lo[0]; i <= hi[0]; i++ {
		for j := lo[1]; j <= hi[1]; j++ {
			for _, id := range g.grid[[2]int{i, j}] {
				if d := geo.Distance(p, g.nodes[id]); d <= radiusM {
					hits = append(hits, hit{id: id, d: d})
				}
			}
		}
	}
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].d == hits[b].d {
			return hits[a].id < hits[b].id
		}
		return hits[a].d < hits[b].d
	})
	ids := make([]int, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids
}

func cellOf(p geo.LatLng) [2]int {
	return [2]int{int(math.Floor(p.Lat / cellDeg)), int(math.Floor(p.Lng / cellDeg))}
}

// NewGridGraph builds a rows x cols street grid centred on center with
// blocks spacingM metres apart.
func NewGridGraph(center geo.LatLng, rows, cols int, spacingM float64) *Graph {
	g := NewGraph()
	ids := make([][]int, rows)
	offX := float64(cols-1) * spacingM / 2
	offY := float64(rows-1) * spacingM / 2
	for r := 0; r < rows; r++ {
		ids[r] = make([]int, cols)
		for c := 0; c < cols; c++ {
			ids[r][c] = g.AddNode(geo.Offset(center, float64(c)*spacingM-offX, float64(r)*spacingM-offY))
		}
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if c+1 < cols {
				g.AddEdge(ids[r][c], ids[r][c+1])
			}
			if r+1 < rows {
				g.AddEdge(ids[r][c], ids[r+1][c])
			}
		}
	}
	return g
}
