package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		NumClients:     2,
		ClientId:       1,
		Epochs:         3,
		BatchSize:      32,
		LearningRate:   2e-5,
		MaxSeqLen:      64,
		DirichletAlpha: 1.0,
		Seed:           42,
		HiddenSize:     768,
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero clients", func(c *Config) { c.NumClients = 0 }},
		{"client id out of range", func(c *Config) { c.ClientId = 2 }},
		{"negative client id", func(c *Config) { c.ClientId = -1 }},
		{"zero epochs", func(c *Config) { c.Epochs = 0 }},
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }},
		{"zero seq len", func(c *Config) { c.MaxSeqLen = 0 }},
		{"zero learning rate", func(c *Config) { c.LearningRate = 0 }},
		{"negative alpha", func(c *Config) { c.DirichletAlpha = -0.5 }},
		{"zero hidden size", func(c *Config) { c.HiddenSize = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRecipeApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipe.yaml")
	content := "epochs: 5\nlearning_rate: 1e-4\ndirichlet_alpha: 0.1\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	recipe, err := LoadRecipe(path)
	require.NoError(t, err)

	cfg, err := recipe.Apply(validConfig())
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Epochs)
	assert.Equal(t, 1e-4, cfg.LearningRate)
	assert.Equal(t, 0.1, cfg.DirichletAlpha)

	// Untouched fields keep their values.
	assert.Equal(t, 32, cfg.BatchSize)
	assert.Equal(t, int64(42), cfg.Seed)
}

func TestRecipeApplyRevalidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte("epochs: 0\n"), 0644))

	recipe, err := LoadRecipe(path)
	require.NoError(t, err)

	_, err = recipe.Apply(validConfig())
	assert.Error(t, err)
}

func TestLoadRecipeRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte("epohcs: 3\n"), 0644))

	_, err := LoadRecipe(path)
	assert.Error(t, err)
}
