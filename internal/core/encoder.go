package core

import (
	"fmt"

	"fedtext-backend/internal/dataset"

	ort "github.com/yalue/onnxruntime_go"
	"gonum.org/v1/gonum/mat"
)

// FeatureEncoder maps a tokenized batch to one feature vector per example.
// The production implementation runs a pretrained BERT encoder through ONNX
// Runtime; tests substitute lightweight stubs.
type FeatureEncoder interface {
	HiddenSize() int

	// Features returns a (batch.Size x HiddenSize) matrix of first-token
	// (classification) representations.
	Features(batch dataset.Batch) (*mat.Dense, error)
}

// OnnxEncoder runs a pretrained sequence encoder exported to ONNX. The export
// is inference-mode, so dropout is folded away and the forward pass is
// deterministic.
type OnnxEncoder struct {
	session    *ort.DynamicAdvancedSession
	hiddenSize int
}

var _ FeatureEncoder = (*OnnxEncoder)(nil)

func NewOnnxEncoder(modelPath string, hiddenSize int) (*OnnxEncoder, error) {
	if hiddenSize < 1 {
		return nil, fmt.Errorf("invalid hidden size %d", hiddenSize)
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder session from %s: %w", modelPath, err)
	}

	return &OnnxEncoder{session: session, hiddenSize: hiddenSize}, nil
}

func (e *OnnxEncoder) HiddenSize() int {
	return e.hiddenSize
}

func (e *OnnxEncoder) Features(batch dataset.Batch) (*mat.Dense, error) {
	if err := validateBatchShape(batch); err != nil {
		return nil, err
	}

	B, L, H := int64(batch.Size), int64(batch.SeqLen), int64(e.hiddenSize)

	inputIds, err := ort.NewTensor(ort.NewShape(B, L), batch.InputIds)
	if err != nil {
		return nil, fmt.Errorf("error creating input_ids tensor: %w", err)
	}
	defer inputIds.Destroy()

	attentionMask, err := ort.NewTensor(ort.NewShape(B, L), batch.AttentionMask)
	if err != nil {
		return nil, fmt.Errorf("error creating attention_mask tensor: %w", err)
	}
	defer attentionMask.Destroy()

	tokenTypeIds, err := ort.NewTensor(ort.NewShape(B, L), batch.TokenTypeIds)
	if err != nil {
		return nil, fmt.Errorf("error creating token_type_ids tensor: %w", err)
	}
	defer tokenTypeIds.Destroy()

	hiddenStates, err := ort.NewEmptyTensor[float32](ort.NewShape(B, L, H))
	if err != nil {
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}
	defer hiddenStates.Destroy()

	if err := e.session.Run(
		[]ort.Value{inputIds, attentionMask, tokenTypeIds},
		[]ort.Value{hiddenStates},
	); err != nil {
		return nil, fmt.Errorf("encoder session run error: %w", err)
	}

	// The classification representation is the first token of each sequence.
	flat := hiddenStates.GetData()
	features := mat.NewDense(batch.Size, e.hiddenSize, nil)
	for i := int64(0); i < B; i++ {
		row := flat[i*L*H : i*L*H+H]
		for j := int64(0); j < H; j++ {
			features.Set(int(i), int(j), float64(row[j]))
		}
	}

	return features, nil
}

func (e *OnnxEncoder) Release() {
	e.session.Destroy()
}

func validateBatchShape(batch dataset.Batch) error {
	if batch.Size < 1 || batch.SeqLen < 1 {
		return fmt.Errorf("invalid batch shape (%d, %d)", batch.Size, batch.SeqLen)
	}
	want := batch.Size * batch.SeqLen
	if len(batch.InputIds) != want || len(batch.AttentionMask) != want || len(batch.TokenTypeIds) != want {
		return fmt.Errorf("batch arrays do not match shape (%d, %d): got %d input ids", batch.Size, batch.SeqLen, len(batch.InputIds))
	}
	if len(batch.Labels) != batch.Size {
		return fmt.Errorf("batch has %d labels for %d examples", len(batch.Labels), batch.Size)
	}
	return nil
}
