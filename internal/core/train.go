package core

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// TrainStep performs one gradient-descent update on the classification head.
// It is a pure function of (state, features, labels): the input state is not
// modified, and calling it twice with the same inputs produces identical
// outputs. The returned loss is the mean cross-entropy over the batch.
func TrainStep(state *TrainState, features *mat.Dense, labels []int64) (*TrainState, float64, error) {
	rows, _ := features.Dims()
	if rows != len(labels) {
		return nil, 0, fmt.Errorf("feature matrix has %d rows for %d labels", rows, len(labels))
	}

	logits, err := state.Apply(features)
	if err != nil {
		return nil, 0, err
	}

	loss, probs, err := crossEntropy(logits, labels)
	if err != nil {
		return nil, 0, err
	}

	// dL/dlogits = (softmax - onehot) / batch; closed form for a linear
	// softmax layer over frozen features.
	numLabels := state.Params.NumLabels
	grad := mat.DenseCopyOf(probs)
	for i, label := range labels {
		grad.Set(i, int(label), grad.At(i, int(label))-1)
	}
	grad.Scale(1/float64(rows), grad)

	var weightGrad mat.Dense
	weightGrad.Mul(features.T(), grad)

	biasGrad := mat.NewVecDense(numLabels, nil)
	for j := 0; j < numLabels; j++ {
		sum := 0.0
		for i := 0; i < rows; i++ {
			sum += grad.At(i, j)
		}
		biasGrad.SetVec(j, sum)
	}

	next := adamUpdate(state, &weightGrad, biasGrad)
	return next, loss, nil
}

// EvalStep computes loss and accuracy for a batch without touching state.
// Accuracy is the fraction of examples whose argmax logit equals the label.
func EvalStep(params *HeadParams, features *mat.Dense, labels []int64) (float64, float64, error) {
	rows, _ := features.Dims()
	if rows != len(labels) {
		return 0, 0, fmt.Errorf("feature matrix has %d rows for %d labels", rows, len(labels))
	}

	logits, err := params.Logits(features)
	if err != nil {
		return 0, 0, err
	}

	loss, _, err := crossEntropy(logits, labels)
	if err != nil {
		return 0, 0, err
	}

	correct := 0
	for i, label := range labels {
		if argmaxRow(logits, i) == int(label) {
			correct++
		}
	}

	return loss, float64(correct) / float64(rows), nil
}

// crossEntropy returns the mean negative log likelihood and the softmax
// probabilities. Computed via log-sum-exp, so the per-example loss is always
// >= 0 and no explicit clamping is needed.
func crossEntropy(logits *mat.Dense, labels []int64) (float64, *mat.Dense, error) {
	rows, cols := logits.Dims()

	probs := mat.NewDense(rows, cols, nil)
	total := 0.0
	for i := 0; i < rows; i++ {
		label := int(labels[i])
		if label < 0 || label >= cols {
			return 0, nil, fmt.Errorf("label %d out of range [0, %d)", label, cols)
		}

		maxLogit := logits.At(i, 0)
		for j := 1; j < cols; j++ {
			if v := logits.At(i, j); v > maxLogit {
				maxLogit = v
			}
		}

		sumExp := 0.0
		for j := 0; j < cols; j++ {
			e := math.Exp(logits.At(i, j) - maxLogit)
			probs.Set(i, j, e)
			sumExp += e
		}
		for j := 0; j < cols; j++ {
			probs.Set(i, j, probs.At(i, j)/sumExp)
		}

		logSumExp := maxLogit + math.Log(sumExp)
		total += logSumExp - logits.At(i, label)
	}

	return total / float64(rows), probs, nil
}

// adamUpdate applies one Adam step with bias correction, returning a new
// state; the previous state's matrices are copied, never written.
func adamUpdate(state *TrainState, weightGrad *mat.Dense, biasGrad *mat.VecDense) *TrainState {
	cfg := state.Config
	step := state.Step + 1

	params := state.Params.Clone()
	opt := state.Opt.clone()

	mCorr := 1 - math.Pow(cfg.Beta1, float64(step))
	vCorr := 1 - math.Pow(cfg.Beta2, float64(step))

	rows, cols := params.Weight.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			g := weightGrad.At(i, j)
			m := cfg.Beta1*opt.WeightM.At(i, j) + (1-cfg.Beta1)*g
			v := cfg.Beta2*opt.WeightV.At(i, j) + (1-cfg.Beta2)*g*g
			opt.WeightM.Set(i, j, m)
			opt.WeightV.Set(i, j, v)

			update := cfg.LearningRate * (m / mCorr) / (math.Sqrt(v/vCorr) + cfg.Epsilon)
			params.Weight.Set(i, j, params.Weight.At(i, j)-update)
		}
	}

	for j := 0; j < params.NumLabels; j++ {
		g := biasGrad.AtVec(j)
		m := cfg.Beta1*opt.BiasM.AtVec(j) + (1-cfg.Beta1)*g
		v := cfg.Beta2*opt.BiasV.AtVec(j) + (1-cfg.Beta2)*g*g
		opt.BiasM.SetVec(j, m)
		opt.BiasV.SetVec(j, v)

		update := cfg.LearningRate * (m / mCorr) / (math.Sqrt(v/vCorr) + cfg.Epsilon)
		params.Bias.SetVec(j, params.Bias.AtVec(j)-update)
	}

	return &TrainState{Step: step, Params: params, Opt: opt, Config: cfg}
}

func argmaxRow(m *mat.Dense, row int) int {
	_, cols := m.Dims()
	best, bestVal := 0, m.At(row, 0)
	for j := 1; j < cols; j++ {
		if v := m.At(row, j); v > bestVal {
			best, bestVal = j, v
		}
	}
	return best
}
