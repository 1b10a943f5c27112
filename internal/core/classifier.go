package core

import (
	"encoding/json"
	"fmt"
	"os"

	"fedtext-backend/internal/dataset"

	"gonum.org/v1/gonum/mat"
)

// checkpointFile is the JSON artifact written after training and per epoch.
// Matrices are stored flat, row-major, alongside their dimensions so a shape
// mismatch on load is an error rather than a silent misread.
type checkpointFile struct {
	Step       int        `json:"step"`
	HiddenSize int        `json:"hidden_size"`
	NumLabels  int        `json:"num_labels"`
	Config     AdamConfig `json:"optimizer"`

	Weight []float64 `json:"weight"`
	Bias   []float64 `json:"bias"`

	WeightM []float64 `json:"weight_m"`
	WeightV []float64 `json:"weight_v"`
	BiasM   []float64 `json:"bias_m"`
	BiasV   []float64 `json:"bias_v"`
}

func SaveCheckpoint(path string, state *TrainState) error {
	file := checkpointFile{
		Step:       state.Step,
		HiddenSize: state.Params.HiddenSize,
		NumLabels:  state.Params.NumLabels,
		Config:     state.Config,
		Weight:     flatten(state.Params.Weight),
		Bias:       vecData(state.Params.Bias),
		WeightM:    flatten(state.Opt.WeightM),
		WeightV:    flatten(state.Opt.WeightV),
		BiasM:      vecData(state.Opt.BiasM),
		BiasV:      vecData(state.Opt.BiasV),
	}

	data, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("error serializing checkpoint: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing checkpoint to %s: %w", path, err)
	}
	return nil
}

func LoadCheckpoint(path string) (*TrainState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading checkpoint %s: %w", path, err)
	}

	var file checkpointFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("error parsing checkpoint %s: %w", path, err)
	}

	h, n := file.HiddenSize, file.NumLabels
	if h < 1 || n < 2 {
		return nil, fmt.Errorf("checkpoint has invalid head shape (%d, %d)", h, n)
	}
	for name, got := range map[string]int{
		"weight":   len(file.Weight),
		"weight_m": len(file.WeightM),
		"weight_v": len(file.WeightV),
	} {
		if got != h*n {
			return nil, fmt.Errorf("checkpoint %s has %d values, expected %d", name, got, h*n)
		}
	}
	for name, got := range map[string]int{
		"bias":   len(file.Bias),
		"bias_m": len(file.BiasM),
		"bias_v": len(file.BiasV),
	} {
		if got != n {
			return nil, fmt.Errorf("checkpoint %s has %d values, expected %d", name, got, n)
		}
	}

	params := &HeadParams{
		Weight:     mat.NewDense(h, n, file.Weight),
		Bias:       mat.NewVecDense(n, file.Bias),
		HiddenSize: h,
		NumLabels:  n,
	}
	opt := &AdamState{
		WeightM: mat.NewDense(h, n, file.WeightM),
		WeightV: mat.NewDense(h, n, file.WeightV),
		BiasM:   mat.NewVecDense(n, file.BiasM),
		BiasV:   mat.NewVecDense(n, file.BiasV),
	}

	return &TrainState{Step: file.Step, Params: params, Opt: opt, Config: file.Config}, nil
}

func flatten(m *mat.Dense) []float64 {
	rows, cols := m.Dims()
	out := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		out = append(out, m.RawRowView(i)...)
	}
	return out
}

func vecData(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}

// Classifier serves predictions from a trained head: tokenize, encode, apply
// the head, softmax.
type Classifier struct {
	textEncoder    dataset.TextEncoder
	featureEncoder FeatureEncoder
	params         *HeadParams
	maxSeqLen      int
}

func NewClassifier(textEncoder dataset.TextEncoder, featureEncoder FeatureEncoder, params *HeadParams, maxSeqLen int) (*Classifier, error) {
	if params.HiddenSize != featureEncoder.HiddenSize() {
		return nil, fmt.Errorf("head expects hidden size %d, encoder produces %d", params.HiddenSize, featureEncoder.HiddenSize())
	}
	if maxSeqLen < 1 {
		return nil, fmt.Errorf("invalid max sequence length %d", maxSeqLen)
	}
	return &Classifier{
		textEncoder:    textEncoder,
		featureEncoder: featureEncoder,
		params:         params,
		maxSeqLen:      maxSeqLen,
	}, nil
}

// Predict returns the predicted label name and the softmax score per label.
func (c *Classifier) Predict(text string) (string, map[string]float64, error) {
	enc, err := c.textEncoder.Encode(text, c.maxSeqLen)
	if err != nil {
		return "", nil, fmt.Errorf("error tokenizing text: %w", err)
	}

	batch := dataset.Batch{
		InputIds:      enc.InputIds,
		TokenTypeIds:  enc.TokenTypeIds,
		AttentionMask: enc.AttentionMask,
		Labels:        []int64{0},
		Size:          1,
		SeqLen:        c.maxSeqLen,
	}

	features, err := c.featureEncoder.Features(batch)
	if err != nil {
		return "", nil, fmt.Errorf("error encoding text: %w", err)
	}

	logits, err := c.params.Logits(features)
	if err != nil {
		return "", nil, err
	}

	_, probs, err := crossEntropy(logits, []int64{0})
	if err != nil {
		return "", nil, err
	}

	best := argmaxRow(logits, 0)
	scores := make(map[string]float64, c.params.NumLabels)
	for j := 0; j < c.params.NumLabels; j++ {
		scores[dataset.LabelName(j)] = probs.At(0, j)
	}

	return dataset.LabelName(best), scores, nil
}
