package engine

import (
	"encoding/json"
	"fmt"
	"os"
)

// ModelConfig holds the model shape parameters the engine needs for batch
// finalization and KV block sizing.
type ModelConfig struct {
	NumLayers     int     `yaml:"num_hidden_layers" json:"num_hidden_layers"`
	HiddenDim     int     `yaml:"hidden_size" json:"hidden_size"`
	NumHeads      int     `yaml:"num_attention_heads" json:"num_attention_heads"`
	NumKVHeads    int     `yaml:"num_key_value_heads" json:"num_key_value_heads"`
	VocabSize     int     `yaml:"vocab_size" json:"vocab_size"`
	BytesPerParam float64 `yaml:"bytes_per_param" json:"bytes_per_param"`
}

// HeadDim is the per-head hidden dimension.
func (m ModelConfig) HeadDim() int {
	if m.NumHeads == 0 {
		return 0
	}
	return m.HiddenDim / m.NumHeads
}

// KVBytesPerToken is the size of one token's K and V entries across all layers.
func (m ModelConfig) KVBytesPerToken() int64 {
	return 2 * int64(m.NumLayers) * int64(m.NumKVHeads) * int64(m.HeadDim()) * int64(m.BytesPerParam)
}

// Validate checks the fields used by the engine.
func (m ModelConfig) Validate() error {
	if m.NumKVHeads <= 0 {
		return fmt.Errorf("model config: num_key_value_heads must be > 0, got %d", m.NumKVHeads)
	}
	if m.NumLayers <= 0 {
		return fmt.Errorf("model config: num_hidden_layers must be > 0, got %d", m.NumLayers)
	}
	if m.NumHeads <= 0 || m.HiddenDim%m.NumHeads != 0 {
		return fmt.Errorf("model config: hidden_size %d not divisible by num_attention_heads %d", m.HiddenDim, m.NumHeads)
	}
	return nil
}

// GetModelConfig parses a HuggingFace config.json and extracts model parameters.
func GetModelConfig(hfConfigPath string) (*ModelConfig, error) {
	data, err := os.ReadFile(hfConfigPath)
	if err != nil {
		return nil, fmt.Errorf("read HF config %q: %w", hfConfigPath, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse HF config JSON: %w", err)
	}
	// Multimodal configs nest the language model under text_config.
	if textCfg, ok := raw["text_config"].(map[string]any); ok {
		for k, v := range textCfg {
			raw[k] = v
		}
	}
	getInt := func(keys ...string) int {
		for _, k := range keys {
			if v, ok := raw[k].(float64); ok && v != 0 {
				return int(v)
			}
		}
		return 0
	}

	numHeads := getInt("num_attention_heads")
	// Falcon uses "num_kv_heads", GLM uses "multi_query_group_num".
	numKVHeads := getInt("num_key_value_heads", "num_kv_heads", "multi_query_group_num")
	if numKVHeads == 0 {
		numKVHeads = numHeads
	}

	precisionToBytesPerParam := map[string]float64{
		"float32":  4,
		"float16":  2,
		"bfloat16": 2,
		"int8":     1,
		"fp8":      1,
	}
	bytesPerParam := 2.0
	for _, key := range []string{"torch_dtype", "dtype"} {
		if dtype, ok := raw[key].(string); ok {
			if b, known := precisionToBytesPerParam[dtype]; known {
				bytesPerParam = b
			}
			break
		}
	}

	return &ModelConfig{
		NumLayers:     getInt("num_hidden_layers"),
		HiddenDim:     getInt("hidden_size"),
		NumHeads:      numHeads,
		NumKVHeads:    numKVHeads,
		VocabSize:     getInt("vocab_size"),
		BytesPerParam: bytesPerParam,
	}, nil
}
