package dataset

import (
	"fmt"
)

// Encoding is one tokenized sequence padded or truncated to a fixed length.
type Encoding struct {
	InputIds      []int64
	TokenTypeIds  []int64
	AttentionMask []int64
}

// TextEncoder turns raw text into a fixed-length encoding. Implemented by the
// tokenizer wrapper in internal/core/encoding; tests substitute stubs.
type TextEncoder interface {
	Encode(text string, maxSeqLen int) (Encoding, error)
}

// Batch is a fixed-shape group of encoded examples. The id/mask slices are
// flattened row-major (Size x SeqLen).
type Batch struct {
	InputIds      []int64
	TokenTypeIds  []int64
	AttentionMask []int64
	Labels        []int64

	Size   int
	SeqLen int
}

// BatchIterator yields batches in order; iteration stops early if yield
// returns false.
type BatchIterator func(yield func(Batch, error) bool)

type Loader struct {
	encoder   TextEncoder
	batchSize int
	maxSeqLen int
}

func NewLoader(encoder TextEncoder, batchSize, maxSeqLen int) (*Loader, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("invalid batch size %d: must be >= 1", batchSize)
	}
	if maxSeqLen < 1 {
		return nil, fmt.Errorf("invalid max sequence length %d: must be >= 1", maxSeqLen)
	}
	return &Loader{encoder: encoder, batchSize: batchSize, maxSeqLen: maxSeqLen}, nil
}

// Batches tokenizes examples lazily and groups them into batches of the
// configured size. The final batch may be smaller when the example count is
// not a multiple of the batch size.
func (l *Loader) Batches(examples []Example) BatchIterator {
	return func(yield func(Batch, error) bool) {
		for start := 0; start < len(examples); start += l.batchSize {
			end := min(start+l.batchSize, len(examples))

			batch, err := l.buildBatch(examples[start:end])
			if !yield(batch, err) || err != nil {
				return
			}
		}
	}
}

func (l *Loader) buildBatch(examples []Example) (Batch, error) {
	batch := Batch{
		InputIds:      make([]int64, 0, len(examples)*l.maxSeqLen),
		TokenTypeIds:  make([]int64, 0, len(examples)*l.maxSeqLen),
		AttentionMask: make([]int64, 0, len(examples)*l.maxSeqLen),
		Labels:        make([]int64, 0, len(examples)),
		Size:          len(examples),
		SeqLen:        l.maxSeqLen,
	}

	for _, ex := range examples {
		enc, err := l.encoder.Encode(ex.Text, l.maxSeqLen)
		if err != nil {
			return Batch{}, fmt.Errorf("error encoding example: %w", err)
		}
		if len(enc.InputIds) != l.maxSeqLen || len(enc.TokenTypeIds) != l.maxSeqLen || len(enc.AttentionMask) != l.maxSeqLen {
			return Batch{}, fmt.Errorf("encoder returned sequence of length %d, expected %d", len(enc.InputIds), l.maxSeqLen)
		}

		batch.InputIds = append(batch.InputIds, enc.InputIds...)
		batch.TokenTypeIds = append(batch.TokenTypeIds, enc.TokenTypeIds...)
		batch.AttentionMask = append(batch.AttentionMask, enc.AttentionMask...)
		batch.Labels = append(batch.Labels, int64(ex.Label))
	}

	return batch, nil
}
