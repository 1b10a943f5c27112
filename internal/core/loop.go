package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"fedtext-backend/internal/dataset"

	"github.com/schollz/progressbar/v3"
)

type TrainerOptions struct {
	Epochs        int
	CheckpointDir string // per-epoch checkpoints are written here when set
	ShowProgress  bool
}

// Trainer drives the epoch/batch loop: encode a batch, apply the training
// step, replace the state.
type Trainer struct {
	encoder FeatureEncoder
	loader  *dataset.Loader
	state   *TrainState
	opts    TrainerOptions
}

type EpochResult struct {
	Epoch    int
	MeanLoss float64
	Batches  int
}

// EvalResult reports both per-batch means (matching the driver loop's
// reporting) and per-example means. The two differ when the final batch is
// smaller than the rest.
type EvalResult struct {
	MeanLoss     float64
	MeanAccuracy float64

	ExampleMeanLoss     float64
	ExampleMeanAccuracy float64

	Batches  int
	Examples int
}

func NewTrainer(encoder FeatureEncoder, loader *dataset.Loader, state *TrainState, opts TrainerOptions) (*Trainer, error) {
	if opts.Epochs < 1 {
		return nil, fmt.Errorf("invalid epoch count %d: must be >= 1", opts.Epochs)
	}
	return &Trainer{encoder: encoder, loader: loader, state: state, opts: opts}, nil
}

func (t *Trainer) State() *TrainState {
	return t.state
}

// Fit runs the configured number of epochs over the client's shard and
// returns the per-epoch mean training loss.
func (t *Trainer) Fit(ctx context.Context, examples []dataset.Example) ([]EpochResult, error) {
	if len(examples) == 0 {
		return nil, fmt.Errorf("cannot train on an empty shard")
	}

	results := make([]EpochResult, 0, t.opts.Epochs)

	for epoch := 0; epoch < t.opts.Epochs; epoch++ {
		var bar *progressbar.ProgressBar
		if t.opts.ShowProgress {
			bar = progressbar.Default(-1, fmt.Sprintf("epoch %d/%d", epoch+1, t.opts.Epochs))
		}

		totalLoss := 0.0
		batches := 0
		var loopErr error

		t.loader.Batches(examples)(func(batch dataset.Batch, err error) bool {
			if err != nil {
				loopErr = err
				return false
			}
			if err := ctx.Err(); err != nil {
				loopErr = err
				return false
			}

			features, err := t.encoder.Features(batch)
			if err != nil {
				loopErr = fmt.Errorf("error encoding batch: %w", err)
				return false
			}

			next, loss, err := TrainStep(t.state, features, batch.Labels)
			if err != nil {
				loopErr = fmt.Errorf("training step failed: %w", err)
				return false
			}

			t.state = next
			totalLoss += loss
			batches++
			if bar != nil {
				bar.Add(1) //nolint:errcheck
			}
			return true
		})
		if bar != nil {
			bar.Finish() //nolint:errcheck
		}
		if loopErr != nil {
			return results, loopErr
		}

		result := EpochResult{Epoch: epoch, MeanLoss: totalLoss / float64(batches), Batches: batches}
		results = append(results, result)
		slog.Info("epoch complete", "epoch", epoch+1, "mean_loss", result.MeanLoss, "batches", batches)

		if t.opts.CheckpointDir != "" {
			if err := t.checkpoint(epoch); err != nil {
				return results, err
			}
		}
	}

	return results, nil
}

// Evaluate computes test loss and accuracy with frozen parameters. The
// headline figures are per-batch means, matching what the epoch loop
// reports; per-example means are included so the difference is visible when
// the final batch is short.
func (t *Trainer) Evaluate(ctx context.Context, examples []dataset.Example) (EvalResult, error) {
	if len(examples) == 0 {
		return EvalResult{}, fmt.Errorf("cannot evaluate on an empty test set")
	}

	var result EvalResult
	exampleLoss, exampleCorrect := 0.0, 0.0
	var loopErr error

	t.loader.Batches(examples)(func(batch dataset.Batch, err error) bool {
		if err != nil {
			loopErr = err
			return false
		}
		if err := ctx.Err(); err != nil {
			loopErr = err
			return false
		}

		features, err := t.encoder.Features(batch)
		if err != nil {
			loopErr = fmt.Errorf("error encoding batch: %w", err)
			return false
		}

		loss, accuracy, err := EvalStep(t.state.Params, features, batch.Labels)
		if err != nil {
			loopErr = fmt.Errorf("evaluation step failed: %w", err)
			return false
		}

		result.MeanLoss += loss
		result.MeanAccuracy += accuracy
		result.Batches++
		result.Examples += batch.Size
		exampleLoss += loss * float64(batch.Size)
		exampleCorrect += accuracy * float64(batch.Size)
		return true
	})
	if loopErr != nil {
		return EvalResult{}, loopErr
	}

	result.MeanLoss /= float64(result.Batches)
	result.MeanAccuracy /= float64(result.Batches)
	result.ExampleMeanLoss = exampleLoss / float64(result.Examples)
	result.ExampleMeanAccuracy = exampleCorrect / float64(result.Examples)

	return result, nil
}

func (t *Trainer) checkpoint(epoch int) error {
	if err := os.MkdirAll(t.opts.CheckpointDir, os.ModePerm); err != nil {
		return fmt.Errorf("error creating checkpoint directory: %w", err)
	}

	path := filepath.Join(t.opts.CheckpointDir, fmt.Sprintf("epoch_%d.json", epoch))
	if err := SaveCheckpoint(path, t.state); err != nil {
		return err
	}

	slog.Info("checkpoint written", "epoch", epoch+1, "path", path)
	return nil
}
