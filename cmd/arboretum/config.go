package main

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/pseudotensor/arboretum/training"
)

// Config is the trainer configuration file.
type Config struct {
	Rounds   int                     `yaml:"rounds"`
	Tree     training.TreeParam      `yaml:"tree"`
	Internal training.InternalConfig `yaml:"internal"`
}

func defaultConfig() Config {
	return Config{
		Rounds:   10,
		Tree:     training.DefaultTreeParam(),
		Internal: training.DefaultInternalConfig(),
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}
