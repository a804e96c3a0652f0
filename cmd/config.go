package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/hybrid-sched/engine"
)

// FileConfig is the YAML config file structure.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type FileConfig struct {
	Engine engine.EngineConfig `yaml:"engine"`
	Model  engine.ModelConfig  `yaml:"model"`
}

// defaultModel is a Llama-3-8B-shaped model, used when no model is configured.
func defaultModel() engine.ModelConfig {
	return engine.ModelConfig{
		NumLayers:     32,
		HiddenDim:     4096,
		NumHeads:      32,
		NumKVHeads:    8,
		VocabSize:     128256,
		BytesPerParam: 2,
	}
}

// DefaultFileConfig returns the built-in engine defaults and model.
func DefaultFileConfig() FileConfig {
	return FileConfig{Engine: engine.DefaultEngineConfig(), Model: defaultModel()}
}

// loadFileConfig parses a YAML config on top of the defaults.
// Uses strict field checking: typos must cause errors.
func loadFileConfig(path string) (FileConfig, error) {
	cfg := DefaultFileConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

// resolveConfig builds the effective config from the config file, the
// HuggingFace model config and CLI overrides, then derives and validates it.
func resolveConfig(ctx context.Context) (FileConfig, error) {
	cfg := DefaultFileConfig()
	if configPath != "" {
		var err error
		if cfg, err = loadFileConfig(configPath); err != nil {
			return cfg, err
		}
	}
	hfPath, err := resolveModelConfig(ctx, modelName, hfConfigPath)
	if err != nil {
		return cfg, err
	}
	if hfPath != "" {
		model, err := engine.GetModelConfig(hfPath)
		if err != nil {
			return cfg, err
		}
		cfg.Model = *model
	}
	if profilePath != "" {
		cfg.Engine.ProfileResultPath = profilePath
	}
	if numGPUBlocks > 0 {
		cfg.Engine.NumGPUBlocks = numGPUBlocks
	}
	if numSubBatches > 0 {
		cfg.Engine.NumSubBatches = numSubBatches
	}
	cfg.Engine.AlwaysUseGPU = cfg.Engine.AlwaysUseGPU || alwaysUseGPU
	cfg.Engine.DisablePartialOffl = cfg.Engine.DisablePartialOffl || disableOffload
	cfg.Engine.MonitorPerformance = cfg.Engine.MonitorPerformance || monitorPerfFlag

	if err := cfg.Model.Validate(); err != nil {
		return cfg, err
	}
	cfg.Engine.DeriveCPUBlocks(cfg.Model)
	if err := cfg.Engine.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
