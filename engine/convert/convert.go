// Package convert encodes Paper Soccer positions as sparse feature indices
// for the evaluators.
//
// Feature layout for a layout with E drawable edges and S nodes:
//
//	[0, E)                 drawn edges
//	[E, E+10*S)            E + 10*i + d: node i is d turns away from the ball
//	[E+10*S, E+11*S)       ball node
//
// Positions are always encoded from the perspective of one side; for player
// Two every edge and node is mirrored through the centre spot so both sides
// see themselves attacking the same goal.
package convert

import (
	"sync"

	"github.com/brensch/papersoccer/game"
)

const (
	// DistanceBuckets is the number of distance slots per node.
	DistanceBuckets = 10
	// MaxDistance is the value of nodes the ball cannot reach.
	MaxDistance = DistanceBuckets - 1
)

// InputSize is the dense feature width for l.
func InputSize(l *game.Layout) int {
	return l.NumEdges() + (DistanceBuckets+1)*l.Size()
}

// DistanceOffset is the first distance feature.
func DistanceOffset(l *game.Layout) int { return l.NumEdges() }

// BallOffset is the first ball feature.
func BallOffset(l *game.Layout) int { return l.NumEdges() + DistanceBuckets*l.Size() }

var floatPool = sync.Pool{
	New: func() interface{} {
		b := make([]float32, InputSize(game.Standard()))
		return &b
	},
}

// GetFloatBuffer returns a pooled dense buffer sized for the standard layout.
func GetFloatBuffer() *[]float32 {
	return floatPool.Get().(*[]float32)
}

func PutFloatBuffer(b *[]float32) {
	floatPool.Put(b)
}

// Dense writes a one-hot vector for indices into buf. Indices outside buf are
// ignored.
func Dense(indices []int32, buf []float32) {
	clear(buf)
	for _, i := range indices {
		if int(i) < len(buf) && i >= 0 {
			buf[i] = 1
		}
	}
}

// Encoder builds feature lists. It keeps a distance buffer and is not safe
// for concurrent use.
type Encoder struct {
	layout *game.Layout
	dist   []int
}

func NewEncoder(l *game.Layout) *Encoder {
	return &Encoder{layout: l, dist: make([]int, l.Size())}
}

func (e *Encoder) Layout() *game.Layout { return e.layout }

func (e *Encoder) edge(k int, p game.Player) int32 {
	if p == game.Two {
		return int32(e.layout.MirrorEdge(k))
	}
	return int32(k)
}

func (e *Encoder) node(n int, p game.Player) int {
	if p == game.Two {
		return e.layout.MirrorNode(n)
	}
	return n
}

// Base appends the drawn edges seen from p.
func (e *Encoder) Base(b *game.Board, p game.Player, dst []int32) []int32 {
	l := e.layout
	for k := 0; k < l.NumEdges(); k++ {
		ed := l.Edge(k)
		if b.IsDrawn(ed.A, ed.B) {
			dst = append(dst, e.edge(k, p))
		}
	}
	return dst
}

// Delta appends the features a landing adds on top of Base: the edges of
// the turn, the distance map from the landing node and the ball position.
// The board must already carry path and last with the ball on last.B.
func (e *Encoder) Delta(b *game.Board, p game.Player, path []game.Edge, last game.Edge, dst []int32) []int32 {
	l := e.layout
	for _, ed := range path {
		if k := l.EdgeIndex(ed.A, ed.B); k >= 0 {
			dst = append(dst, e.edge(k, p))
		}
	}
	if k := l.EdgeIndex(last.A, last.B); k >= 0 {
		dst = append(dst, e.edge(k, p))
	}
	return e.appendBall(b, p, dst)
}

// Full appends every feature of the position for the side to move.
func (e *Encoder) Full(g *game.Game, dst []int32) []int32 {
	dst = e.Base(g.Board, g.Current, dst)
	return e.appendBall(g.Board, g.Current, dst)
}

func (e *Encoder) appendBall(b *game.Board, p game.Player, dst []int32) []int32 {
	l := e.layout
	for i := range e.dist {
		e.dist[i] = MaxDistance
	}
	b.Distances(b.Ball(), e.dist)
	off := DistanceOffset(l)
	for i := 0; i < l.Size(); i++ {
		d := e.dist[e.node(i, p)]
		if d > MaxDistance {
			d = MaxDistance
		}
		dst = append(dst, int32(off+DistanceBuckets*i+d))
	}
	return append(dst, int32(BallOffset(l)+e.node(b.Ball(), p)))
}

// DecodeBall returns the ball node encoded in features, or -1.
func DecodeBall(l *game.Layout, features []int32) int {
	off := int32(BallOffset(l))
	for _, f := range features {
		if f >= off && f < off+int32(l.Size()) {
			return int(f - off)
		}
	}
	return -1
}

// DecodeDistance returns the distance bucket of node n, or -1.
func DecodeDistance(l *game.Layout, features []int32, n int) int {
	lo := int32(DistanceOffset(l) + DistanceBuckets*n)
	for _, f := range features {
		if f >= lo && f < lo+DistanceBuckets {
			return int(f - lo)
		}
	}
	return -1
}
