package cmd

import (
	"hash/fnv"
	"math"
	"math/rand"
)

const (
	// subsystemWorkload is the RNG subsystem for request generation.
	// Uses the master seed directly, so --seed alone reproduces a workload.
	subsystemWorkload = "workload"

	// subsystemSampler is the RNG subsystem for sampled output tokens.
	subsystemSampler = "sampler"
)

// partitionedRNG provides deterministic, isolated RNG instances per subsystem.
// Every subsystem other than the workload is seeded with seed XOR fnv1a64(name).
//
// Not thread-safe. Must be called from a single goroutine.
type partitionedRNG struct {
	seed       int64
	subsystems map[string]*rand.Rand
}

func newPartitionedRNG(seed int64) *partitionedRNG {
	return &partitionedRNG{seed: seed, subsystems: make(map[string]*rand.Rand)}
}

// forSubsystem returns the cached RNG of the named subsystem.
func (p *partitionedRNG) forSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	derived := p.seed
	if name != subsystemWorkload {
		derived ^= fnv1a64(name)
	}
	rng := rand.New(rand.NewSource(derived))
	p.subsystems[name] = rng
	return rng
}

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}

// lengthGauss samples a length from a Gaussian clamped to [min, max].
func lengthGauss(rng *rand.Rand, mean, std, min, max int) int {
	if min == max {
		return min
	}
	val := rng.NormFloat64()*float64(std) + float64(mean)
	clamped := math.Max(float64(min), math.Min(float64(max), val))
	return int(math.Round(clamped))
}
