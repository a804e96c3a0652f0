// Package perf provides the calibrated PerfPredictor for the engine.
// The PerfPredictor interface is defined in engine/ (parent package); this
// package registers its constructor through engine.NewPerfPredictorFunc.
package perf

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Curve is a measured cost curve: Times[i] is the cost at Tokens[i].
// Tokens must be strictly increasing.
type Curve struct {
	Tokens []int     `yaml:"tokens"`
	Times  []float64 `yaml:"times"`
}

// CPUDecodeCurve adds a per-request overhead to the aggregate-length curve.
type CPUDecodeCurve struct {
	PerRequest float64 `yaml:"per_request"`
	Curve      `yaml:",inline"`
}

// Profile is the result of an offline profiling run.
type Profile struct {
	LaunchTime float64        `yaml:"launch_time"`
	Linear     Curve          `yaml:"linear"`
	Prefill    Curve          `yaml:"prefill"`
	GPUDecode  Curve          `yaml:"gpu_decode"`
	CPUDecode  CPUDecodeCurve `yaml:"cpu_decode"`
}

// LoadProfile reads a profile from a YAML file. Unknown keys are rejected.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %q: %w", path, err)
	}
	return ParseProfile(data)
}

// ParseProfile parses and validates profile YAML.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks every curve and scalar of the profile.
func (p *Profile) Validate() error {
	if err := validateScalar("launch_time", p.LaunchTime); err != nil {
		return err
	}
	if err := validateScalar("cpu_decode.per_request", p.CPUDecode.PerRequest); err != nil {
		return err
	}
	curves := []struct {
		name  string
		curve Curve
	}{
		{"linear", p.Linear},
		{"prefill", p.Prefill},
		{"gpu_decode", p.GPUDecode},
		{"cpu_decode", p.CPUDecode.Curve},
	}
	for _, c := range curves {
		if err := c.curve.validate(c.name); err != nil {
			return err
		}
	}
	return nil
}

func (c Curve) validate(name string) error {
	if len(c.Tokens) != len(c.Times) {
		return fmt.Errorf("profile: %s has %d token points but %d times", name, len(c.Tokens), len(c.Times))
	}
	if len(c.Tokens) < 2 {
		return fmt.Errorf("profile: %s needs at least 2 points, got %d", name, len(c.Tokens))
	}
	for i, t := range c.Times {
		if err := validateScalar(fmt.Sprintf("%s.times[%d]", name, i), t); err != nil {
			return err
		}
	}
	for i := 1; i < len(c.Tokens); i++ {
		if c.Tokens[i] <= c.Tokens[i-1] {
			return fmt.Errorf("profile: %s.tokens must be strictly increasing, got %d after %d", name, c.Tokens[i], c.Tokens[i-1])
		}
	}
	return nil
}

// validateScalar rejects NaN, Inf and negative costs.
func validateScalar(name string, v float64) error {
	switch {
	case math.IsNaN(v):
		return fmt.Errorf("profile: %s is NaN", name)
	case math.IsInf(v, 0):
		return fmt.Errorf("profile: %s is Inf", name)
	case v < 0:
		return fmt.Errorf("profile: %s is negative (%g)", name, v)
	}
	return nil
}
