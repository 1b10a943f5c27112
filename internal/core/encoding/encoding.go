// Package encoding wraps the HuggingFace tokenizer bindings to produce the
// fixed-shape (input_ids, token_type_ids, attention_mask) triples the encoder
// expects.
package encoding

import (
	"fmt"

	"fedtext-backend/internal/dataset"

	"github.com/daulet/tokenizers"
)

// BERT vocabularies reserve id 0 for [PAD].
const padTokenId = 0

type BertEncoder struct {
	tokenizer *tokenizers.Tokenizer
}

var _ dataset.TextEncoder = (*BertEncoder)(nil)

// NewBertEncoder loads a pretrained tokenizer by model identifier, e.g.
// "bert-base-uncased".
func NewBertEncoder(modelName string) (*BertEncoder, error) {
	tk, err := tokenizers.FromPretrained(modelName)
	if err != nil {
		return nil, fmt.Errorf("error loading tokenizer for %s: %w", modelName, err)
	}
	return &BertEncoder{tokenizer: tk}, nil
}

// Encode tokenizes text with special tokens and pads or truncates the result
// to exactly maxSeqLen positions. Padding positions carry attention mask 0.
func (e *BertEncoder) Encode(text string, maxSeqLen int) (dataset.Encoding, error) {
	if maxSeqLen < 1 {
		return dataset.Encoding{}, fmt.Errorf("invalid max sequence length %d", maxSeqLen)
	}

	enc := e.tokenizer.EncodeWithOptions(text, true, tokenizers.WithReturnAllAttributes())

	out := dataset.Encoding{
		InputIds:      make([]int64, maxSeqLen),
		TokenTypeIds:  make([]int64, maxSeqLen),
		AttentionMask: make([]int64, maxSeqLen),
	}

	n := min(len(enc.IDs), maxSeqLen)
	for i := 0; i < n; i++ {
		out.InputIds[i] = int64(enc.IDs[i])
		out.AttentionMask[i] = 1
	}
	for i := 0; i < n && i < len(enc.TypeIDs); i++ {
		out.TokenTypeIds[i] = int64(enc.TypeIDs[i])
	}
	for i := n; i < maxSeqLen; i++ {
		out.InputIds[i] = padTokenId
	}

	return out, nil
}

func (e *BertEncoder) Close() {
	e.tokenizer.Close()
}
