package config

import (
	"fmt"
	"os"

	"qa-backend/pkg/api"

	"gopkg.in/yaml.v2"
)

// LoadTrainConfig reads trainer hyperparameters from a YAML file. Fields left
// out of the file keep their zero value, which the trainer treats as its
// defaults.
func LoadTrainConfig(path string) (api.TrainConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return api.TrainConfig{}, fmt.Errorf("error reading train config '%s': %w", path, err)
	}

	var cfg api.TrainConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return api.TrainConfig{}, fmt.Errorf("error parsing train config '%s': %w", path, err)
	}

	if cfg.Epochs < 0 {
		return api.TrainConfig{}, fmt.Errorf("epochs must be non-negative, got %d", cfg.Epochs)
	}
	if cfg.LearningRate < 0 {
		return api.TrainConfig{}, fmt.Errorf("learning_rate must be non-negative, got %g", cfg.LearningRate)
	}
	if cfg.EvalHoldout < 0 || cfg.EvalHoldout >= 1 {
		return api.TrainConfig{}, fmt.Errorf("eval_holdout must be in [0, 1), got %g", cfg.EvalHoldout)
	}

	return cfg, nil
}
