package inference

import (
	"errors"
	"fmt"

	"github.com/brensch/papersoccer/rules"
)

var ErrShape = errors.New("weight shape mismatch")

// Network is a bias-free sparse network: one-hot inputs into a ReLU hidden
// layer, an optional second ReLU layer, and a single tanh output. The first
// layer pre-activations of the cached base are kept per slot so a delta
// only adds the rows of its own features.
type Network struct {
	Inputs int
	Hidden int
	Deep   int

	HiddenWeights []float32 // Inputs x Hidden, row per input
	DeepWeights   []float32 // Hidden x Deep
	OutputWeights []float32 // Hidden, or Deep when Deep > 0

	cache   []float32
	scratch [][]float32
}

// NewNetwork returns a network with weights drawn uniformly from
// [-0.05, 0.05). deep == 0 builds the single hidden layer variant.
func NewNetwork(inputs, hidden, deep int, seed uint64) *Network {
	n := &Network{
		Inputs:        inputs,
		Hidden:        hidden,
		Deep:          deep,
		HiddenWeights: make([]float32, inputs*hidden),
		OutputWeights: make([]float32, max(hidden*boolInt(deep == 0), deep)),
	}
	if deep > 0 {
		n.DeepWeights = make([]float32, hidden*deep)
	}
	r := rules.NewRand(seed)
	for _, w := range [][]float32{n.HiddenWeights, n.DeepWeights, n.OutputWeights} {
		for i := range w {
			w[i] = r.Range(-0.05, 0.05)
		}
	}
	n.alloc()
	return n
}

// NewNetworkFromWeights wraps externally trained weights.
func NewNetworkFromWeights(inputs, hidden, deep int, hiddenW, deepW, outW []float32) (*Network, error) {
	outLen := hidden
	if deep > 0 {
		outLen = deep
	}
	if len(hiddenW) != inputs*hidden || len(deepW) != hidden*deep || len(outW) != outLen {
		return nil, fmt.Errorf("%w: inputs=%d hidden=%d deep=%d", ErrShape, inputs, hidden, deep)
	}
	n := &Network{
		Inputs:        inputs,
		Hidden:        hidden,
		Deep:          deep,
		HiddenWeights: hiddenW,
		DeepWeights:   deepW,
		OutputWeights: outW,
	}
	n.alloc()
	return n, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (n *Network) alloc() {
	n.cache = make([]float32, MaxSlots*n.Hidden)
	n.scratch = make([][]float32, MaxSlots)
	for i := range n.scratch {
		n.scratch[i] = make([]float32, n.Hidden+n.Deep)
	}
}

func (n *Network) row(f int32) []float32 {
	if f < 0 || int(f) >= n.Inputs {
		return nil
	}
	return n.HiddenWeights[int(f)*n.Hidden : (int(f)+1)*n.Hidden]
}

func (n *Network) CacheBaseFeatures(features []int32, slot int) {
	acc := n.cache[slot*n.Hidden : (slot+1)*n.Hidden]
	clear(acc)
	for _, f := range features {
		for i, w := range n.row(f) {
			acc[i] += w
		}
	}
}

func (n *Network) ScoreDelta(added []int32, slot int) float32 {
	s := n.scratch[slot]
	h := s[:n.Hidden]
	copy(h, n.cache[slot*n.Hidden:(slot+1)*n.Hidden])
	for _, f := range added {
		for i, w := range n.row(f) {
			h[i] += w
		}
	}
	return n.forward(h, s[n.Hidden:])
}

// Score evaluates a full feature list without touching the slot caches.
func (n *Network) Score(features []int32) float32 {
	s := make([]float32, n.Hidden+n.Deep)
	h := s[:n.Hidden]
	for _, f := range features {
		for i, w := range n.row(f) {
			h[i] += w
		}
	}
	return n.forward(h, s[n.Hidden:])
}

func (n *Network) forward(h, deep []float32) float32 {
	for i := range h {
		h[i] = relu(h[i])
	}
	var out float32
	if n.Deep == 0 {
		for i, w := range n.OutputWeights {
			out += w * h[i]
		}
		return FastTanh(out)
	}
	clear(deep)
	for i, x := range h {
		if x == 0 {
			continue
		}
		ws := n.DeepWeights[i*n.Deep : (i+1)*n.Deep]
		for j, w := range ws {
			deep[j] += w * x
		}
	}
	for j, w := range n.OutputWeights {
		out += w * relu(deep[j])
	}
	return FastTanh(out)
}

func relu(x float32) float32 {
	if x < 0 {
		return 0
	}
	return x
}

// FastTanh is a rational approximation of tanh, exact to about 1e-6 inside
// the clamp.
func FastTanh(x float32) float32 {
	if x > 4.95 {
		return 1
	}
	if x < -4.95 {
		return -1
	}
	x2 := x * x
	a := x * (135135 + x2*(17325+x2*(378+x2)))
	b := 135135 + x2*(62370+x2*(3150+x2*28))
	return a / b
}
