package cmd

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/hybrid-sched/engine"
)

// Workload describes the length distributions of a synthetic workload.
type Workload struct {
	PromptTokensMean  int `yaml:"prompt_tokens"`
	PromptTokensStdev int `yaml:"prompt_tokens_stdev"`
	PromptTokensMin   int `yaml:"prompt_tokens_min"`
	PromptTokensMax   int `yaml:"prompt_tokens_max"`
	OutputTokensMean  int `yaml:"output_tokens"`
	OutputTokensStdev int `yaml:"output_tokens_stdev"`
	OutputTokensMin   int `yaml:"output_tokens_min"`
	OutputTokensMax   int `yaml:"output_tokens_max"`
}

// WorkloadConfig is the structure of a workload preset file.
type WorkloadConfig struct {
	Workloads map[string]Workload `yaml:"workloads"`
}

// Validate checks that both length ranges are non-empty and positive.
func (w Workload) Validate() error {
	if w.PromptTokensMin < 1 || w.PromptTokensMax < w.PromptTokensMin {
		return fmt.Errorf("workload: prompt token range [%d, %d] is invalid", w.PromptTokensMin, w.PromptTokensMax)
	}
	if w.OutputTokensMin < 1 || w.OutputTokensMax < w.OutputTokensMin {
		return fmt.Errorf("workload: output token range [%d, %d] is invalid", w.OutputTokensMin, w.OutputTokensMax)
	}
	return nil
}

// loadWorkloadPreset reads the named workload from a preset file.
func loadWorkloadPreset(path, name string) (Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Workload{}, fmt.Errorf("read workload file %q: %w", path, err)
	}
	var cfg WorkloadConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Workload{}, fmt.Errorf("parse workload file %q: %w", path, err)
	}
	w, ok := cfg.Workloads[name]
	if !ok {
		return Workload{}, fmt.Errorf("workload %q not found in %s", name, path)
	}
	return w, nil
}

// generateRequests draws n pre-tokenized requests with token ids in [0, vocabSize).
func generateRequests(w Workload, n, vocabSize int, rng *rand.Rand) []engine.RawRequest {
	raws := make([]engine.RawRequest, n)
	for i := range raws {
		promptLen := lengthGauss(rng, w.PromptTokensMean, w.PromptTokensStdev, w.PromptTokensMin, w.PromptTokensMax)
		outputLen := lengthGauss(rng, w.OutputTokensMean, w.OutputTokensStdev, w.OutputTokensMin, w.OutputTokensMax)
		prompt := make([]int, promptLen)
		for j := range prompt {
			prompt[j] = rng.Intn(vocabSize)
		}
		raws[i] = engine.RawRequest{PromptTokenIDs: prompt, MaxOutputLen: outputLen}
	}
	return raws
}
