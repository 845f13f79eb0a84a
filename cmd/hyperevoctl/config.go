package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// FileConfig mirrors the persistent flags. Explicit flags win over file
// values; file values win over built-in defaults.
type FileConfig struct {
	Store        string `yaml:"store"`
	DBPath       string `yaml:"db_path"`
	ArtifactsDir string `yaml:"artifacts_dir"`

	Run struct {
		Algorithm   string `yaml:"algorithm"`
		Problem     string `yaml:"problem"`
		Population  int    `yaml:"population"`
		Generations int    `yaml:"generations"`
		Dimension   int    `yaml:"dimension"`
		Seed        uint64 `yaml:"seed"`
	} `yaml:"run"`

	HPO struct {
		Iterations   int     `yaml:"iterations"`
		NumInstances int     `yaml:"num_instances"`
		Trials       int     `yaml:"trials"`
		Workers      int     `yaml:"workers"`
		PerturbScale float64 `yaml:"perturb_scale"`
	} `yaml:"hpo"`
}

func loadFileConfig(path string) (FileConfig, error) {
	var cfg FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func applyFileConfig(cmd *cobra.Command) error {
	if configPath == "" {
		return nil
	}
	cfg, err := loadFileConfig(configPath)
	if err != nil {
		return err
	}

	if storeKind == "" {
		storeKind = cfg.Store
	}
	if dbPath == "" {
		dbPath = cfg.DBPath
	}
	if artifactsDir == "" {
		artifactsDir = cfg.ArtifactsDir
	}

	setIfDefault := func(name string, apply func()) {
		flag := cmd.Flags().Lookup(name)
		if flag != nil && !flag.Changed {
			apply()
		}
	}
	setIfDefault("algorithm", func() {
		if cfg.Run.Algorithm != "" {
			runAlgorithm = cfg.Run.Algorithm
		}
	})
	setIfDefault("problem", func() {
		if cfg.Run.Problem != "" {
			runProblem = cfg.Run.Problem
		}
	})
	setIfDefault("pop", func() {
		if cfg.Run.Population > 0 {
			runPopulation = cfg.Run.Population
		}
	})
	setIfDefault("generations", func() {
		if cfg.Run.Generations > 0 {
			runGenerations = cfg.Run.Generations
		}
	})
	setIfDefault("dim", func() {
		if cfg.Run.Dimension > 0 {
			runDimension = cfg.Run.Dimension
		}
	})
	setIfDefault("seed", func() {
		if cfg.Run.Seed != 0 {
			runSeed = cfg.Run.Seed
		}
	})
	setIfDefault("iterations", func() {
		if cfg.HPO.Iterations > 0 {
			hpoIterations = cfg.HPO.Iterations
		}
	})
	setIfDefault("instances", func() {
		if cfg.HPO.NumInstances > 0 {
			hpoInstances = cfg.HPO.NumInstances
		}
	})
	setIfDefault("trials", func() {
		if cfg.HPO.Trials > 0 {
			hpoTrials = cfg.HPO.Trials
		}
	})
	setIfDefault("workers", func() {
		if cfg.HPO.Workers > 0 {
			hpoWorkers = cfg.HPO.Workers
		}
	})
	setIfDefault("perturb", func() {
		if cfg.HPO.PerturbScale > 0 {
			hpoPerturbScale = cfg.HPO.PerturbScale
		}
	})
	return nil
}
