package game

import (
	"errors"
	"fmt"
	"sync"
)

// Player identifies a side. None is used for empty cells and non-goal nodes.
type Player int8

const (
	None Player = iota
	One
	Two
)

// Opponent returns the other side. None stays None.
func (p Player) Opponent() Player {
	switch p {
	case One:
		return Two
	case Two:
		return One
	}
	return None
}

// Letter is the winner suffix used in notation.
func (p Player) Letter() string {
	switch p {
	case One:
		return "A"
	case Two:
		return "B"
	}
	return "-"
}

func (p Player) String() string {
	switch p {
	case One:
		return "one"
	case Two:
		return "two"
	}
	return "none"
}

// Point is a lattice coordinate. Goal nodes sit one row outside the pitch
// (y == -1 for player One, y == height+1 for player Two).
type Point struct {
	X int
	Y int
}

// Edge is an undirected segment between two node indices.
type Edge struct {
	A int
	B int
}

// Key packs the edge as (min<<16)+max, independent of direction.
func (e Edge) Key() uint64 {
	if e.A > e.B {
		return uint64(e.B)<<16 + uint64(e.A)
	}
	return uint64(e.A)<<16 + uint64(e.B)
}

var ErrBadDimensions = errors.New("unsupported pitch dimensions")

const (
	cellAdjacent uint8 = 1
	cellDrawn    uint8 = 2
	cellOne      uint8 = 4
	cellTwo      uint8 = 8
)

// Layout holds the immutable geometry of a pitch: coordinates, static
// adjacency, the pre-drawn border, goal classification tables, the
// enumeration of drawable edges and the point-mirror tables. It is built once
// per pitch size and shared read-only by every Board created from it.
type Layout struct {
	width  int
	height int
	h      int
	wh     int
	size   int
	start  int

	points    []Point
	neighbors [][]int
	steps     []int // size*8, neighbour in direction d or -1

	matrix []uint8
	nodes  []uint16

	goal       []Player
	almostGoal []Player
	cutOff     []Player

	edges      []Edge
	edgeIndex  []int32
	mirrorNode []int
	mirrorEdge []int
}

var (
	standardOnce   sync.Once
	standardLayout *Layout
)

// Standard returns the shared 8x10 layout.
func Standard() *Layout {
	standardOnce.Do(func() {
		l, err := NewLayout(8, 10)
		if err != nil {
			panic(err)
		}
		standardLayout = l
	})
	return standardLayout
}

// NewLayout builds the tables for a width x height pitch. Width must be even
// and at least 4 so the goal mouth fits; height must be even and at least 2.
func NewLayout(width, height int) (*Layout, error) {
	if width < 4 || width%2 != 0 || height < 2 || height%2 != 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrBadDimensions, width, height)
	}
	if height+2 > 0xFF {
		return nil, fmt.Errorf("%w: height %d", ErrBadDimensions, height)
	}

	w := width + 1
	h := height + 1
	wh := w * h
	size := wh + 6

	l := &Layout{
		width:  width,
		height: height,
		h:      h,
		wh:     wh,
		size:   size,
		start:  width/2*h + h/2,
		points: make([]Point, size),
		matrix: make([]uint8, size*size),
		nodes:  make([]uint16, size),
	}

	for i := 0; i < wh; i++ {
		l.points[i] = Point{X: i / h, Y: i % h}
	}
	for k := 0; k < 3; k++ {
		l.points[wh+k] = Point{X: width/2 - 1 + k, Y: -1}
		l.points[wh+3+k] = Point{X: width/2 - 1 + k, Y: h}
	}

	for i := 0; i < size; i++ {
		for j := 0; j < size; j++ {
			if i == j || !touching(l.points[i], l.points[j]) {
				continue
			}
			l.matrix[i*size+j] = cellAdjacent
			l.nodes[i]++
		}
	}

	l.removeAdjacency(wh, h*(width/2-2))
	l.removeAdjacency(wh+2, h*(width/2+2))
	l.removeAdjacency(wh+3, h*(width/2-1)-1)
	l.removeAdjacency(wh+5, h*(width/2+3)-1)

	for i := 0; i < wh-1; i++ {
		for j := i + 1; j < wh; j++ {
			p, q := l.points[i], l.points[j]
			if !touching(p, q) {
				continue
			}
			switch {
			case p.X == 0 && q.X == 0:
				l.drawInitial(i, j)
			case p.X == width && q.X == width:
				l.drawInitial(i, j)
			case p.Y == 0 && q.Y == 0:
				if p.X < width/2-1 || p.X >= width/2+1 {
					l.drawInitial(i, j)
				}
			case p.Y == height && q.Y == height:
				if p.X < width/2-1 || p.X >= width/2+1 {
					l.drawInitial(i, j)
				}
			}
		}
	}

	l.drawInitial(wh, wh+1)
	l.drawInitial(wh+1, wh+2)
	l.drawInitial(wh, h*(width/2-1))
	l.drawInitial(wh+2, h*(width/2+1))
	l.drawInitial(wh+3, wh+4)
	l.drawInitial(wh+4, wh+5)
	l.drawInitial(wh+3, h*(width/2)-1)
	l.drawInitial(wh+5, h*(width/2+2)-1)

	l.neighbors = make([][]int, size)
	for i := 0; i < size; i++ {
		for j := 0; j < size; j++ {
			if i != j && l.matrix[i*size+j]&cellAdjacent != 0 {
				l.neighbors[i] = append(l.neighbors[i], j)
			}
		}
		l.nodes[i] += uint16(len(l.neighbors[i])) << 4
	}

	l.goal = make([]Player, size)
	l.almostGoal = make([]Player, size)
	l.cutOff = make([]Player, size)
	for i := wh; i < size; i++ {
		owner := One
		if (i-wh)/3 != 0 {
			owner = Two
		}
		l.goal[i] = owner
		l.almostGoal[i] = owner
		l.cutOff[i] = owner
	}
	l.almostGoal[h*(width/2-1)] = One
	l.almostGoal[h*(width/2+1)] = One
	l.almostGoal[h*(width/2)-1] = Two
	l.almostGoal[h*(width/2+2)-1] = Two
	l.cutOff[h*(width/2-1)] = One
	l.cutOff[h*(width/2)] = One
	l.cutOff[h*(width/2+1)] = One
	l.cutOff[h*(width/2)-1] = Two
	l.cutOff[h*(width/2+1)-1] = Two
	l.cutOff[h*(width/2+2)-1] = Two

	// Seal the middle goal nodes so every goal node starts almost blocked.
	l.nodes[wh+1] -= goalSeal
	l.nodes[wh+4] -= goalSeal

	l.buildSteps()
	l.buildEdgeTables()
	return l, nil
}

// goalSeal is the number of virtual edges on each middle goal node.
const goalSeal = 2

func touching(a, b Point) bool {
	dx, dy := a.X-b.X, a.Y-b.Y
	return dx*dx+dy*dy < 4
}

func (l *Layout) removeAdjacency(a, b int) {
	l.matrix[a*l.size+b] = 0
	l.matrix[b*l.size+a] = 0
	l.nodes[a]--
	l.nodes[b]--
}

func (l *Layout) drawInitial(a, b int) {
	l.matrix[a*l.size+b] |= cellDrawn
	l.matrix[b*l.size+a] |= cellDrawn
	l.nodes[a]--
	l.nodes[b]--
}

func (l *Layout) buildSteps() {
	l.steps = make([]int, l.size*8)
	for i := range l.steps {
		l.steps[i] = -1
	}
	for n := 0; n < l.size; n++ {
		p := l.points[n]
		for _, v := range l.neighbors[n] {
			q := l.points[v]
			if d := directionOf(q.X-p.X, q.Y-p.Y); d >= 0 {
				l.steps[n*8+d] = v
			}
		}
	}
}

func (l *Layout) buildEdgeTables() {
	l.edgeIndex = make([]int32, l.size*l.size)
	for i := range l.edgeIndex {
		l.edgeIndex[i] = -1
	}
	for i := 1; i < l.size; i++ {
		for j := 0; j < i; j++ {
			if l.matrix[i*l.size+j] == cellAdjacent {
				k := int32(len(l.edges))
				l.edges = append(l.edges, Edge{A: i, B: j})
				l.edgeIndex[i*l.size+j] = k
				l.edgeIndex[j*l.size+i] = k
			}
		}
	}

	byPoint := make(map[Point]int, l.size)
	for i, p := range l.points {
		byPoint[p] = i
	}
	l.mirrorNode = make([]int, l.size)
	for i, p := range l.points {
		m, ok := byPoint[Point{X: l.width - p.X, Y: l.height - p.Y}]
		if !ok {
			m = -1
		}
		l.mirrorNode[i] = m
	}
	l.mirrorEdge = make([]int, len(l.edges))
	for k, e := range l.edges {
		l.mirrorEdge[k] = l.EdgeIndex(l.mirrorNode[e.A], l.mirrorNode[e.B])
	}
}

// NewBoard returns a fresh board with only the border drawn and the ball on
// the centre spot.
func (l *Layout) NewBoard() *Board {
	b := &Board{
		layout: l,
		size:   l.size,
		matrix: make([]uint8, len(l.matrix)),
		nodes:  make([]uint16, len(l.nodes)),
		ball:   l.start,
	}
	copy(b.matrix, l.matrix)
	copy(b.nodes, l.nodes)
	b.scratch.init(l.size)
	return b
}

func (l *Layout) Width() int  { return l.width }
func (l *Layout) Height() int { return l.height }

// Size is the number of nodes including the six goal nodes.
func (l *Layout) Size() int { return l.size }

// Start is the centre spot.
func (l *Layout) Start() int { return l.start }

func (l *Layout) Point(n int) Point { return l.points[n] }

// Node returns the index at (x, y) or -1.
func (l *Layout) Node(x, y int) int {
	if x >= 0 && x <= l.width && y >= 0 && y < l.h {
		return x*l.h + y
	}
	for i := l.wh; i < l.size; i++ {
		if p := l.points[i]; p.X == x && p.Y == y {
			return i
		}
	}
	return -1
}

func (l *Layout) Neighbors(n int) []int { return l.neighbors[n] }

func (l *Layout) GoalOwner(n int) Player { return l.goal[n] }

// GoalNodes returns the three goal nodes owned by p, left to right.
func (l *Layout) GoalNodes(p Player) [3]int {
	if p == Two {
		return [3]int{l.wh + 3, l.wh + 4, l.wh + 5}
	}
	return [3]int{l.wh, l.wh + 1, l.wh + 2}
}

// GoalCentre is the middle node of p's goal.
func (l *Layout) GoalCentre(p Player) int {
	if p == Two {
		return l.wh + 4
	}
	return l.wh + 1
}

// NumEdges is the number of drawable (non-border) edges.
func (l *Layout) NumEdges() int { return len(l.edges) }

func (l *Layout) Edge(k int) Edge { return l.edges[k] }

// EdgeIndex returns the index of the drawable edge a-b, or -1 for border
// edges and non-adjacent pairs.
func (l *Layout) EdgeIndex(a, b int) int {
	if a < 0 || b < 0 {
		return -1
	}
	return int(l.edgeIndex[a*l.size+b])
}

// MirrorNode maps a node through the centre point of the pitch.
func (l *Layout) MirrorNode(n int) int { return l.mirrorNode[n] }

// MirrorEdge maps a drawable edge index through the centre point.
func (l *Layout) MirrorEdge(k int) int { return l.mirrorEdge[k] }

// Direction returns the notation code for the hop a->b, or 0 if the nodes
// are not lattice neighbours.
func (l *Layout) Direction(a, b int) byte {
	p, q := l.points[a], l.points[b]
	d := directionOf(q.X-p.X, q.Y-p.Y)
	if d < 0 {
		return 0
	}
	return byte('0' + d)
}

// Toward returns the neighbour of n in direction code c, ignoring drawn
// edges, or -1.
func (l *Layout) Toward(n int, c byte) int {
	if c < '0' || c > '7' {
		return -1
	}
	return l.steps[n*8+int(c-'0')]
}
