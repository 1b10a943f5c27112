package core

import (
	"gonum.org/v1/gonum/mat"
)

// AdamConfig carries the optimizer hyperparameters. Defaults follow the
// standard Adam settings.
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
}

func DefaultAdamConfig(learningRate float64) AdamConfig {
	return AdamConfig{
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

// AdamState holds the first and second moment estimates for each parameter.
type AdamState struct {
	WeightM *mat.Dense
	WeightV *mat.Dense
	BiasM   *mat.VecDense
	BiasV   *mat.VecDense
}

func newAdamState(params *HeadParams) *AdamState {
	return &AdamState{
		WeightM: mat.NewDense(params.HiddenSize, params.NumLabels, nil),
		WeightV: mat.NewDense(params.HiddenSize, params.NumLabels, nil),
		BiasM:   mat.NewVecDense(params.NumLabels, nil),
		BiasV:   mat.NewVecDense(params.NumLabels, nil),
	}
}

func (s *AdamState) clone() *AdamState {
	return &AdamState{
		WeightM: mat.DenseCopyOf(s.WeightM),
		WeightV: mat.DenseCopyOf(s.WeightV),
		BiasM:   mat.VecDenseCopyOf(s.BiasM),
		BiasV:   mat.VecDenseCopyOf(s.BiasV),
	}
}

// TrainState bundles the head parameters, the optimizer moments, and the step
// count. A state is created once at setup and replaced wholesale by every
// training step; callers never observe partial updates.
type TrainState struct {
	Step   int
	Params *HeadParams
	Opt    *AdamState
	Config AdamConfig
}

func NewTrainState(params *HeadParams, config AdamConfig) *TrainState {
	return &TrainState{
		Step:   0,
		Params: params,
		Opt:    newAdamState(params),
		Config: config,
	}
}

// Apply is the state's forward function: logits for a feature matrix under
// the current parameters.
func (s *TrainState) Apply(features mat.Matrix) (*mat.Dense, error) {
	return s.Params.Logits(features)
}
