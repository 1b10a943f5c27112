package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// separableBatch returns 8 examples over 4 labels whose feature rows are
// one-hot in the label dimension, so a linear head can fit them exactly.
func separableBatch() (*mat.Dense, []int64) {
	labels := []int64{0, 1, 2, 3, 0, 1, 2, 3}
	features := mat.NewDense(len(labels), 4, nil)
	for i, label := range labels {
		features.Set(i, int(label), 1)
	}
	return features, labels
}

func newTestState(t *testing.T, learningRate float64) *TrainState {
	t.Helper()
	params, err := NewHeadParams(4, 4, 42)
	require.NoError(t, err)
	return NewTrainState(params, DefaultAdamConfig(learningRate))
}

func TestTrainStepIsPure(t *testing.T) {
	features, labels := separableBatch()
	state := newTestState(t, 0.01)

	snapshot := state.Params.Clone()

	next1, loss1, err := TrainStep(state, features, labels)
	require.NoError(t, err)
	next2, loss2, err := TrainStep(state, features, labels)
	require.NoError(t, err)

	// The input state is untouched and repeated calls agree exactly.
	assert.True(t, state.Params.Equal(snapshot))
	assert.Equal(t, 0, state.Step)

	assert.Equal(t, loss1, loss2)
	assert.True(t, next1.Params.Equal(next2.Params))
	assert.Equal(t, 1, next1.Step)
}

func TestTrainStepReducesLoss(t *testing.T) {
	features, labels := separableBatch()
	state := newTestState(t, 0.1)

	before, _, err := EvalStep(state.Params, features, labels)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		next, _, err := TrainStep(state, features, labels)
		require.NoError(t, err)
		state = next
	}

	after, _, err := EvalStep(state.Params, features, labels)
	require.NoError(t, err)

	assert.Less(t, after, before)
}

func TestOneTrainStepReducesLossOnUniformBatch(t *testing.T) {
	// One batch of 8 identical examples with a known label: a single step
	// must strictly decrease the loss on that batch.
	const hidden = 64
	row := make([]float64, hidden)
	for j := range row {
		row[j] = float64(j%5) * 0.1
	}

	features := mat.NewDense(8, hidden, nil)
	labels := make([]int64, 8)
	for i := range labels {
		features.SetRow(i, row)
		labels[i] = 2
	}

	params, err := NewHeadParams(hidden, 4, 42)
	require.NoError(t, err)
	state := NewTrainState(params, DefaultAdamConfig(0.01))

	before, _, err := EvalStep(state.Params, features, labels)
	require.NoError(t, err)

	next, _, err := TrainStep(state, features, labels)
	require.NoError(t, err)

	after, _, err := EvalStep(next.Params, features, labels)
	require.NoError(t, err)

	assert.Less(t, after, before)
}

func TestLossIsNonNegative(t *testing.T) {
	features, labels := separableBatch()
	state := newTestState(t, 0.01)

	_, loss, err := TrainStep(state, features, labels)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, loss, 0.0)

	evalLoss, _, err := EvalStep(state.Params, features, labels)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, evalLoss, 0.0)
}

func TestEvalStepAccuracyBounds(t *testing.T) {
	features, labels := separableBatch()

	// Identity weights make the one-hot features perfectly classified.
	params := &HeadParams{
		Weight:     mat.NewDense(4, 4, nil),
		Bias:       mat.NewVecDense(4, nil),
		HiddenSize: 4,
		NumLabels:  4,
	}
	for i := 0; i < 4; i++ {
		params.Weight.Set(i, i, 10)
	}

	_, accuracy, err := EvalStep(params, features, labels)
	require.NoError(t, err)
	assert.Equal(t, 1.0, accuracy)

	wrong := make([]int64, len(labels))
	for i, label := range labels {
		wrong[i] = (label + 1) % 4
	}
	_, accuracy, err = EvalStep(params, features, wrong)
	require.NoError(t, err)
	assert.Equal(t, 0.0, accuracy)
}

func TestTrainStepRejectsBadInputs(t *testing.T) {
	features, labels := separableBatch()
	state := newTestState(t, 0.01)

	_, _, err := TrainStep(state, features, labels[:4])
	assert.Error(t, err)

	bad := append([]int64{}, labels...)
	bad[0] = 7
	_, _, err = TrainStep(state, features, bad)
	assert.Error(t, err)

	_, _, err = EvalStep(state.Params, mat.NewDense(8, 3, nil), labels)
	assert.Error(t, err)
}

func TestAdamMomentsAreReplaced(t *testing.T) {
	features, labels := separableBatch()
	state := newTestState(t, 0.01)

	next, _, err := TrainStep(state, features, labels)
	require.NoError(t, err)

	// The previous state's moments stay zero.
	assert.True(t, mat.Equal(state.Opt.WeightM, mat.NewDense(4, 4, nil)))
	assert.False(t, mat.Equal(next.Opt.WeightM, mat.NewDense(4, 4, nil)))
}
