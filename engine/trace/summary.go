package trace

import "math"

// TraceSummary aggregates statistics from a CompositionTrace.
type TraceSummary struct {
	SubBatches      int            `yaml:"sub_batches"`
	Iterations      int            `yaml:"iterations"`
	TotalRequests   int            `yaml:"total_requests"`
	MeanBatchSize   float64        `yaml:"mean_batch_size"`
	MeanIterWidth   float64        `yaml:"mean_iter_width"`
	MeanGPUTime     float64        `yaml:"mean_gpu_time"`
	MeanCPUTime     float64        `yaml:"mean_cpu_time"`
	MaxImbalance    float64        `yaml:"max_imbalance"` // max |GPUTime - CPUTime| over sub-batches
	CategoryCounts  map[string]int `yaml:"category_counts"`
	DeferralReasons map[string]int `yaml:"deferral_reasons"`
}

// Summarize computes aggregate statistics from a CompositionTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(ct *CompositionTrace) *TraceSummary {
	summary := &TraceSummary{
		CategoryCounts:  make(map[string]int),
		DeferralReasons: make(map[string]int),
	}
	if ct == nil {
		return summary
	}

	iterations := make(map[int]bool)
	var width int
	var gpu, cpu float64
	for _, r := range ct.Compositions {
		iterations[r.Iteration] = true
		summary.TotalRequests += r.BatchSize
		width += r.IterWidth
		gpu += r.GPUTime
		cpu += r.CPUTime
		summary.MaxImbalance = math.Max(summary.MaxImbalance, math.Abs(r.GPUTime-r.CPUTime))
		summary.CategoryCounts["cprf"] += r.NumCprfs
		summary.CategoryCounts["gprf"] += r.NumGprfs
		summary.CategoryCounts["gdec"] += r.NumGdecs
		summary.CategoryCounts["cdec"] += r.NumCdecs
	}
	summary.SubBatches = len(ct.Compositions)
	summary.Iterations = len(iterations)
	if n := float64(summary.SubBatches); n > 0 {
		summary.MeanBatchSize = float64(summary.TotalRequests) / n
		summary.MeanIterWidth = float64(width) / n
		summary.MeanGPUTime = gpu / n
		summary.MeanCPUTime = cpu / n
	}

	for _, d := range ct.Deferrals {
		summary.DeferralReasons[d.Reason]++
	}
	return summary
}
