package core

import (
	"os"
	"path/filepath"
	"testing"

	"fedtext-backend/internal/dataset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestCheckpointRoundtrip(t *testing.T) {
	params, err := NewHeadParams(8, 4, 42)
	require.NoError(t, err)
	state := NewTrainState(params, DefaultAdamConfig(0.01))
	state.Opt.WeightM.Set(2, 1, 0.5)
	state.Step = 7

	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, SaveCheckpoint(path, state))

	loaded, err := LoadCheckpoint(path)
	require.NoError(t, err)

	assert.Equal(t, 7, loaded.Step)
	assert.Equal(t, state.Config, loaded.Config)
	assert.True(t, state.Params.Equal(loaded.Params))
	assert.True(t, mat.Equal(state.Opt.WeightM, loaded.Opt.WeightM))
	assert.True(t, mat.Equal(state.Opt.BiasV, loaded.Opt.BiasV))
}

func TestLoadCheckpointRejectsShapeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")

	// hidden_size says 8 but only 4 weight values are present
	content := `{"step":1,"hidden_size":8,"num_labels":4,"weight":[1,2,3,4],"bias":[0,0,0,0],"weight_m":[],"weight_v":[],"bias_m":[0,0,0,0],"bias_v":[0,0,0,0]}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := LoadCheckpoint(path)
	assert.Error(t, err)
}

func TestLoadCheckpointMissingFile(t *testing.T) {
	_, err := LoadCheckpoint(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

type constantFeatureEncoder struct {
	hidden int
	active int
}

func (c *constantFeatureEncoder) HiddenSize() int { return c.hidden }

func (c *constantFeatureEncoder) Features(batch dataset.Batch) (*mat.Dense, error) {
	out := mat.NewDense(batch.Size, c.hidden, nil)
	for i := 0; i < batch.Size; i++ {
		out.Set(i, c.active, 1)
	}
	return out, nil
}

func TestClassifierPredict(t *testing.T) {
	encoder := &constantFeatureEncoder{hidden: 4, active: 2}

	// Identity weights map the active feature dimension to label 2.
	params := &HeadParams{
		Weight:     mat.NewDense(4, 4, nil),
		Bias:       mat.NewVecDense(4, nil),
		HiddenSize: 4,
		NumLabels:  4,
	}
	for i := 0; i < 4; i++ {
		params.Weight.Set(i, i, 5)
	}

	classifier, err := NewClassifier(stubTextEncoder{}, encoder, params, 16)
	require.NoError(t, err)

	label, scores, err := classifier.Predict("stocks rallied on strong earnings")
	require.NoError(t, err)

	assert.Equal(t, "Business", label)
	require.Len(t, scores, 4)

	total := 0.0
	for _, score := range scores {
		total += score
	}
	assert.InDelta(t, 1.0, total, 1e-9)
	assert.Greater(t, scores["Business"], scores["Sports"])
}

func TestClassifierRejectsMismatchedHead(t *testing.T) {
	encoder := &constantFeatureEncoder{hidden: 4, active: 0}
	params, err := NewHeadParams(8, 4, 1)
	require.NoError(t, err)

	_, err = NewClassifier(stubTextEncoder{}, encoder, params, 16)
	assert.Error(t, err)
}
