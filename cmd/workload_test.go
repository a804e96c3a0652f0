package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRequests_WithinBounds(t *testing.T) {
	// GIVEN a workload with bounded prompt and output lengths
	w := Workload{
		PromptTokensMean: 20, PromptTokensStdev: 10, PromptTokensMin: 4, PromptTokensMax: 32,
		OutputTokensMean: 8, OutputTokensStdev: 4, OutputTokensMin: 1, OutputTokensMax: 16,
	}
	require.NoError(t, w.Validate())

	// WHEN requests are generated
	raws := generateRequests(w, 50, 100, newPartitionedRNG(1).forSubsystem(subsystemWorkload))

	// THEN every request is pre-tokenized within bounds
	require.Len(t, raws, 50)
	for _, raw := range raws {
		assert.GreaterOrEqual(t, len(raw.PromptTokenIDs), 4)
		assert.LessOrEqual(t, len(raw.PromptTokenIDs), 32)
		assert.GreaterOrEqual(t, raw.MaxOutputLen, 1)
		assert.LessOrEqual(t, raw.MaxOutputLen, 16)
		for _, tok := range raw.PromptTokenIDs {
			assert.Less(t, tok, 100)
		}
	}
}

func TestGenerateRequests_Deterministic(t *testing.T) {
	w := Workload{PromptTokensMean: 10, PromptTokensStdev: 5, PromptTokensMin: 1, PromptTokensMax: 20,
		OutputTokensMean: 5, OutputTokensStdev: 2, OutputTokensMin: 1, OutputTokensMax: 10}

	a := generateRequests(w, 10, 50, newPartitionedRNG(9).forSubsystem(subsystemWorkload))
	b := generateRequests(w, 10, 50, newPartitionedRNG(9).forSubsystem(subsystemWorkload))

	assert.Equal(t, a, b)
}

func TestWorkload_Validate(t *testing.T) {
	assert.Error(t, Workload{PromptTokensMin: 0, PromptTokensMax: 5, OutputTokensMin: 1, OutputTokensMax: 1}.Validate())
	assert.Error(t, Workload{PromptTokensMin: 1, PromptTokensMax: 5, OutputTokensMin: 3, OutputTokensMax: 2}.Validate())
}

func TestLoadWorkloadPreset(t *testing.T) {
	path := writeFile(t, "workloads.yaml", `
workloads:
  chatbot:
    prompt_tokens: 256
    prompt_tokens_stdev: 100
    prompt_tokens_min: 2
    prompt_tokens_max: 800
    output_tokens: 256
    output_tokens_stdev: 100
    output_tokens_min: 2
    output_tokens_max: 800
`)

	w, err := loadWorkloadPreset(path, "chatbot")
	require.NoError(t, err)
	assert.Equal(t, 256, w.PromptTokensMean)
	assert.Equal(t, 800, w.OutputTokensMax)

	_, err = loadWorkloadPreset(path, "summarization")
	assert.ErrorContains(t, err, "summarization")
}
