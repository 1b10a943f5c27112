// Command train runs one simulated federated client end to end: download the
// corpus, take the client's Dirichlet shard, train the classification head,
// and report test loss and accuracy.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"

	"fedtext-backend/cmd"
	"fedtext-backend/internal/config"
	"fedtext-backend/internal/core"
	"fedtext-backend/internal/dataset"
	"fedtext-backend/internal/dataset/agnews"
)

func main() {
	var recipePath string
	flag.StringVar(&recipePath, "recipe", "", "path to a YAML recipe overriding hyperparameters")
	cmd.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	if recipePath != "" {
		recipe, err := config.LoadRecipe(recipePath)
		if err != nil {
			log.Fatalf("error loading recipe: %v", err)
		}
		cfg, err = recipe.Apply(cfg)
		if err != nil {
			log.Fatalf("error applying recipe: %v", err)
		}
	}

	cleanup, err := cmd.InitOnnxRuntime(cfg.OnnxRuntimeDylib)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer cleanup()

	textEncoder, featureEncoder, err := cmd.NewEncoders(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer textEncoder.Close()
	defer featureEncoder.Release()

	ctx := context.Background()
	fetcher := agnews.NewFetcher(cfg.DatasetURL, cfg.DataDir)

	trainSet, err := fetcher.TrainSet(ctx)
	if err != nil {
		log.Fatalf("error loading training corpus: %v", err)
	}
	testSet, err := fetcher.TestSet(ctx)
	if err != nil {
		log.Fatalf("error loading test split: %v", err)
	}

	partition, err := dataset.DirichletPartition(trainSet, cfg.NumClients, cfg.DirichletAlpha, cfg.Seed)
	if err != nil {
		log.Fatalf("error partitioning corpus: %v", err)
	}

	shard, err := dataset.Shard(trainSet, partition, cfg.ClientId)
	if err != nil {
		log.Fatalf("error extracting client shard: %v", err)
	}

	slog.Info("client shard ready",
		"client_id", cfg.ClientId,
		"num_clients", cfg.NumClients,
		"shard_size", len(shard),
		"shard_counts", dataset.PartitionCounts(partition),
	)

	loader, err := dataset.NewLoader(textEncoder, cfg.BatchSize, cfg.MaxSeqLen)
	if err != nil {
		log.Fatalf("%v", err)
	}

	params, err := core.NewHeadParams(featureEncoder.HiddenSize(), dataset.NumLabels, cfg.Seed)
	if err != nil {
		log.Fatalf("%v", err)
	}
	state := core.NewTrainState(params, core.DefaultAdamConfig(cfg.LearningRate))

	trainer, err := core.NewTrainer(featureEncoder, loader, state, core.TrainerOptions{
		Epochs:        cfg.Epochs,
		CheckpointDir: cfg.CheckpointDir,
		ShowProgress:  true,
	})
	if err != nil {
		log.Fatalf("%v", err)
	}

	epochs, err := trainer.Fit(ctx, shard)
	if err != nil {
		log.Fatalf("training failed: %v", err)
	}

	for _, epoch := range epochs {
		fmt.Printf("epoch %d: train loss %.4f (%d batches)\n", epoch.Epoch+1, epoch.MeanLoss, epoch.Batches)
	}

	eval, err := trainer.Evaluate(ctx, testSet)
	if err != nil {
		log.Fatalf("evaluation failed: %v", err)
	}

	fmt.Printf("test loss %.4f, test accuracy %.4f (%d batches, %d examples)\n",
		eval.MeanLoss, eval.MeanAccuracy, eval.Batches, eval.Examples)
}
