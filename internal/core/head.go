package core

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Matches the truncated-normal stddev BERT uses for task heads.
const initStddev = 0.02

// HeadParams are the trainable parameters of the linear classification head:
// a (hidden x labels) weight matrix and a per-label bias.
type HeadParams struct {
	Weight *mat.Dense
	Bias   *mat.VecDense

	HiddenSize int
	NumLabels  int
}

// NewHeadParams initializes the head from a seed. The draw sequence is fixed,
// so the same seed always produces the same parameter tree.
func NewHeadParams(hiddenSize, numLabels int, seed int64) (*HeadParams, error) {
	if hiddenSize < 1 || numLabels < 2 {
		return nil, fmt.Errorf("invalid head shape (%d, %d)", hiddenSize, numLabels)
	}

	rng := rand.New(rand.NewSource(uint64(seed)))

	weights := make([]float64, hiddenSize*numLabels)
	for i := range weights {
		weights[i] = rng.NormFloat64() * initStddev
	}

	return &HeadParams{
		Weight:     mat.NewDense(hiddenSize, numLabels, weights),
		Bias:       mat.NewVecDense(numLabels, nil),
		HiddenSize: hiddenSize,
		NumLabels:  numLabels,
	}, nil
}

// Logits computes features*W + b for a (batch x hidden) feature matrix.
func (p *HeadParams) Logits(features mat.Matrix) (*mat.Dense, error) {
	rows, cols := features.Dims()
	if cols != p.HiddenSize {
		return nil, fmt.Errorf("feature matrix has %d columns, head expects %d", cols, p.HiddenSize)
	}

	var logits mat.Dense
	logits.Mul(features, p.Weight)
	for i := 0; i < rows; i++ {
		for j := 0; j < p.NumLabels; j++ {
			logits.Set(i, j, logits.At(i, j)+p.Bias.AtVec(j))
		}
	}

	return &logits, nil
}

// Clone deep-copies the parameters. Training steps replace parameters rather
// than mutating them, so the previous state stays intact.
func (p *HeadParams) Clone() *HeadParams {
	return &HeadParams{
		Weight:     mat.DenseCopyOf(p.Weight),
		Bias:       mat.VecDenseCopyOf(p.Bias),
		HiddenSize: p.HiddenSize,
		NumLabels:  p.NumLabels,
	}
}

// Equal reports whether two parameter trees are identical, used by tests to
// pin down deterministic initialization.
func (p *HeadParams) Equal(other *HeadParams) bool {
	if p.HiddenSize != other.HiddenSize || p.NumLabels != other.NumLabels {
		return false
	}
	return mat.Equal(p.Weight, other.Weight) && mat.Equal(p.Bias, other.Bias)
}
