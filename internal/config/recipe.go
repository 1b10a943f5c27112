package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Recipe is an optional YAML overlay of training hyperparameters. Fields left
// unset in the file keep the values already present in the Config.
type Recipe struct {
	NumClients     *int     `yaml:"num_clients"`
	ClientId       *int     `yaml:"client_id"`
	Epochs         *int     `yaml:"epochs"`
	BatchSize      *int     `yaml:"batch_size"`
	LearningRate   *float64 `yaml:"learning_rate"`
	MaxSeqLen      *int     `yaml:"max_seq_len"`
	DirichletAlpha *float64 `yaml:"dirichlet_alpha"`
	Seed           *int64   `yaml:"seed"`
	ModelName      *string  `yaml:"model_name"`
}

func LoadRecipe(path string) (Recipe, error) {
	var recipe Recipe

	data, err := os.ReadFile(path)
	if err != nil {
		return recipe, fmt.Errorf("error reading recipe file %s: %w", path, err)
	}

	if err := yaml.UnmarshalStrict(data, &recipe); err != nil {
		return recipe, fmt.Errorf("error parsing recipe file %s: %w", path, err)
	}

	return recipe, nil
}

// Apply overlays the recipe onto a config and revalidates the result.
func (r Recipe) Apply(cfg Config) (Config, error) {
	if r.NumClients != nil {
		cfg.NumClients = *r.NumClients
	}
	if r.ClientId != nil {
		cfg.ClientId = *r.ClientId
	}
	if r.Epochs != nil {
		cfg.Epochs = *r.Epochs
	}
	if r.BatchSize != nil {
		cfg.BatchSize = *r.BatchSize
	}
	if r.LearningRate != nil {
		cfg.LearningRate = *r.LearningRate
	}
	if r.MaxSeqLen != nil {
		cfg.MaxSeqLen = *r.MaxSeqLen
	}
	if r.DirichletAlpha != nil {
		cfg.DirichletAlpha = *r.DirichletAlpha
	}
	if r.Seed != nil {
		cfg.Seed = *r.Seed
	}
	if r.ModelName != nil {
		cfg.ModelName = *r.ModelName
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("recipe produced invalid config: %w", err)
	}

	return cfg, nil
}
