package engine

import (
	"errors"
	"fmt"
)

// EngineConfig groups the paged-attention and scheduling parameters of the engine.
type EngineConfig struct {
	// PagedAttention-related parameters
	BlockSize           int `yaml:"block_size"`              // tokens per KV block
	NumGPUBlocks        int `yaml:"num_gpu_blocks"`          // GPU KV blocks
	NumCPUBlocks        int `yaml:"num_cpu_blocks"`          // CPU KV blocks; -1 to derive from SwapSpaceGB
	SwapSpaceGB         int `yaml:"swap_space"`              // CPU swap space in GiB
	MaxSeqsInBlockTable int `yaml:"max_seqs_in_block_table"` // request_id slots
	MaxBlocksPerSeq     int `yaml:"max_blocks_per_seq"`

	// Scheduling-related parameters
	MaxBatchSize     int     `yaml:"max_batch_size"`      // max requests per sub-batch
	MaxTokensInBatch int     `yaml:"max_tokens_in_batch"` // max iteration width per sub-batch
	NumSubBatches    int     `yaml:"num_sub_batches"`     // sub-batches composed per iteration
	MaxGPUTime       float64 `yaml:"max_gpu_time"`        // per sub-batch GPU time budget; 0 = unlimited

	ProfileResultPath string `yaml:"profile_result_path"`

	// Switches
	ExtraLayerForCprf  bool `yaml:"extra_layer_for_cprf"`
	DisablePartialOffl bool `yaml:"disable_partial_offl"` // place every new request's KV on CPU
	MonitorPerformance bool `yaml:"monitor_performance"`  // log estimated times of every finalized sub-batch
	AlwaysUseGPU       bool `yaml:"always_use_gpu"`       // never place KV on CPU
	TensorParallelDeg  int  `yaml:"tensor_parallel_degree"`
}

// DefaultEngineConfig mirrors the engine's CLI defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BlockSize:           16,
		NumGPUBlocks:        4096,
		NumCPUBlocks:        -1,
		SwapSpaceGB:         20,
		MaxSeqsInBlockTable: 768,
		MaxBlocksPerSeq:     512,
		MaxBatchSize:        512,
		MaxTokensInBatch:    3072,
		NumSubBatches:       2,
		TensorParallelDeg:   1,
	}
}

// MaxSeqLen is the maximum sequence length in tokens.
func (c EngineConfig) MaxSeqLen() int {
	return c.BlockSize * c.MaxBlocksPerSeq
}

// MaxGPUTokens is the number of tokens that fit in the GPU KV cache.
func (c EngineConfig) MaxGPUTokens() int {
	return c.BlockSize * c.NumGPUBlocks
}

// MaxCPUTokens is the number of tokens that fit in the CPU KV cache.
func (c EngineConfig) MaxCPUTokens() int {
	return c.BlockSize * c.NumCPUBlocks
}

// DeriveCPUBlocks fills NumCPUBlocks from the swap space when it is negative.
// Each tensor-parallel worker holds 1/TensorParallelDeg of the KV heads.
func (c *EngineConfig) DeriveCPUBlocks(model ModelConfig) {
	if c.NumCPUBlocks >= 0 {
		return
	}
	perBlock := int64(c.BlockSize) * model.KVBytesPerToken()
	if tp := int64(max(c.TensorParallelDeg, 1)); tp > 1 {
		perBlock /= tp
	}
	if perBlock <= 0 {
		c.NumCPUBlocks = 0
		return
	}
	c.NumCPUBlocks = int(int64(c.SwapSpaceGB) * (1 << 30) / perBlock)
}

// Validate checks that the configuration is usable by the scheduler.
func (c EngineConfig) Validate() error {
	var errs []error
	if c.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("block_size must be > 0, got %d", c.BlockSize))
	}
	if c.NumGPUBlocks <= 0 {
		errs = append(errs, fmt.Errorf("num_gpu_blocks must be > 0, got %d", c.NumGPUBlocks))
	}
	if c.NumCPUBlocks < 0 {
		errs = append(errs, fmt.Errorf("num_cpu_blocks not derived (call DeriveCPUBlocks), got %d", c.NumCPUBlocks))
	}
	if c.MaxSeqsInBlockTable <= 0 {
		errs = append(errs, fmt.Errorf("max_seqs_in_block_table must be > 0, got %d", c.MaxSeqsInBlockTable))
	}
	if c.MaxBlocksPerSeq <= 0 {
		errs = append(errs, fmt.Errorf("max_blocks_per_seq must be > 0, got %d", c.MaxBlocksPerSeq))
	}
	if c.MaxBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("max_batch_size must be > 0, got %d", c.MaxBatchSize))
	}
	if c.MaxTokensInBatch <= 0 {
		errs = append(errs, fmt.Errorf("max_tokens_in_batch must be > 0, got %d", c.MaxTokensInBatch))
	}
	if c.NumSubBatches <= 0 {
		errs = append(errs, fmt.Errorf("num_sub_batches must be > 0, got %d", c.NumSubBatches))
	}
	if c.MaxGPUTime < 0 {
		errs = append(errs, fmt.Errorf("max_gpu_time must be >= 0, got %f", c.MaxGPUTime))
	}
	if c.AlwaysUseGPU && c.DisablePartialOffl {
		errs = append(errs, errors.New("always_use_gpu and disable_partial_offl are mutually exclusive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	return nil
}
