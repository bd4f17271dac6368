package classifier

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

const (
	Hidden1Size = 64
	Hidden2Size = 32
)

// Network is a FeatureSize -> Hidden1Size -> Hidden2Size -> 1 perceptron
// with ReLU hidden layers and a sigmoid output. A published Network is never
// modified; the trainer works on its own copy.
type Network struct {
	W1 *mat.Dense
	B1 *mat.VecDense
	W2 *mat.Dense
	B2 *mat.VecDense
	W3 *mat.Dense
	B3 *mat.VecDense
}

func newZeroNetwork() *Network {
	return &Network{
		W1: mat.NewDense(Hidden1Size, FeatureSize, nil),
		B1: mat.NewVecDense(Hidden1Size, nil),
		W2: mat.NewDense(Hidden2Size, Hidden1Size, nil),
		B2: mat.NewVecDense(Hidden2Size, nil),
		W3: mat.NewDense(1, Hidden2Size, nil),
		B3: mat.NewVecDense(1, nil),
	}
}

// NewNetwork returns a Xavier-initialised network with zero biases.
func NewNetwork(rng *rand.Rand) *Network {
	n := newZeroNetwork()
	xavier(rng, n.W1)
	xavier(rng, n.W2)
	xavier(rng, n.W3)
	return n
}

func xavier(rng *rand.Rand, w *mat.Dense) {
	rows, cols := w.Dims()
	limit := math.Sqrt(6 / float64(rows+cols))
	data := w.RawMatrix().Data
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
}

func (n *Network) Clone() *Network {
	return &Network{
		W1: mat.DenseCopyOf(n.W1),
		B1: mat.VecDenseCopyOf(n.B1),
		W2: mat.DenseCopyOf(n.W2),
		B2: mat.VecDenseCopyOf(n.B2),
		W3: mat.DenseCopyOf(n.W3),
		B3: mat.VecDenseCopyOf(n.B3),
	}
}

type param struct {
	data  []float64
	decay bool
}

// params lists the parameter storages in a fixed order, so that networks
// used as gradient or velocity accumulators line up element by element.
func (n *Network) params() []param {
	return []param{
		{n.W1.RawMatrix().Data, true},
		{n.B1.RawVector().Data, false},
		{n.W2.RawMatrix().Data, true},
		{n.B2.RawVector().Data, false},
		{n.W3.RawMatrix().Data, true},
		{n.B3.RawVector().Data, false},
	}
}

func (n *Network) IsFinite() bool {
	for _, p := range n.params() {
		for _, v := range p.data {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

func (n *Network) zero() {
	for _, p := range n.params() {
		clear(p.data)
	}
}

// Activations holds the intermediate values of one forward pass.
type Activations struct {
	Input *mat.VecDense
	Z1    *mat.VecDense
	H1    *mat.VecDense
	Z2    *mat.VecDense
	H2    *mat.VecDense
	Out   *mat.VecDense

	d1  *mat.VecDense
	d2  *mat.VecDense
	one *mat.VecDense
}

func NewActivations() *Activations {
	return &Activations{
		Input: mat.NewVecDense(FeatureSize, nil),
		Z1:    mat.NewVecDense(Hidden1Size, nil),
		H1:    mat.NewVecDense(Hidden1Size, nil),
		Z2:    mat.NewVecDense(Hidden2Size, nil),
		H2:    mat.NewVecDense(Hidden2Size, nil),
		Out:   mat.NewVecDense(1, nil),
		d1:    mat.NewVecDense(Hidden1Size, nil),
		d2:    mat.NewVecDense(Hidden2Size, nil),
		one:   mat.NewVecDense(1, []float64{1}),
	}
}

// Forward returns the speech probability for an already normalised vector.
// It does not allocate.
func (n *Network) Forward(x *Features, act *Activations) float64 {
	copy(act.Input.RawVector().Data, x[:])

	act.Z1.MulVec(n.W1, act.Input)
	act.Z1.AddVec(act.Z1, n.B1)
	relu(act.H1, act.Z1)

	act.Z2.MulVec(n.W2, act.H1)
	act.Z2.AddVec(act.Z2, n.B2)
	relu(act.H2, act.Z2)

	act.Out.MulVec(n.W3, act.H2)
	return sigmoid(act.Out.AtVec(0) + n.B3.AtVec(0))
}

// backward adds the cross-entropy gradients of the last Forward pass to grad.
func (n *Network) backward(act *Activations, prediction, label float64, grad *Network) {
	outErr := prediction - label

	grad.W3.RankOne(grad.W3, outErr, act.one, act.H2)
	grad.B3.SetVec(0, grad.B3.AtVec(0)+outErr)

	act.d2.ScaleVec(outErr, n.W3.RowView(0))
	gateByReLU(act.d2, act.Z2)
	grad.W2.RankOne(grad.W2, 1, act.d2, act.H1)
	grad.B2.AddVec(grad.B2, act.d2)

	act.d1.MulVec(n.W2.T(), act.d2)
	gateByReLU(act.d1, act.Z1)
	grad.W1.RankOne(grad.W1, 1, act.d1, act.Input)
	grad.B1.AddVec(grad.B1, act.d1)
}

func relu(dst, src *mat.VecDense) {
	d, s := dst.RawVector().Data, src.RawVector().Data
	for i, v := range s {
		d[i] = math.Max(0, v)
	}
}

func gateByReLU(delta, z *mat.VecDense) {
	d, zs := delta.RawVector().Data, z.RawVector().Data
	for i, v := range zs {
		if v <= 0 {
			d[i] = 0
		}
	}
}

func sigmoid(x float64) float64 {
	switch {
	case x > 40:
		return 1
	case x < -40:
		return 0
	}
	return 1 / (1 + math.Exp(-x))
}

func crossEntropy(prediction, label float64) float64 {
	const eps = 1e-15
	return -(label*math.Log(prediction+eps) + (1-label)*math.Log(1-prediction+eps))
}
