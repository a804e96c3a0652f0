package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/hybrid-sched/engine/trace"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveComposition(trace.CompositionRecord{})
		m.ObserveDeferral(trace.DeferralRecord{Reason: trace.ReasonNoSlot})
		m.ObserveFinished(3)
		m.SetCapacity(1, 2, 3)
	})
}

func TestMetrics_ObserveComposition(t *testing.T) {
	// GIVEN registered metrics
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	// WHEN a sub-batch with one request per category is observed
	m.ObserveComposition(trace.CompositionRecord{
		NumCprfs: 1, NumGprfs: 1, NumGdecs: 1, NumCdecs: 1,
		BatchSize: 4, IterWidth: 14, GPUTime: 3, CPUTime: 1, SeqBlockSize: 64,
	})

	// THEN the counters and histograms move
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubBatchesTotal))
	for _, c := range []string{"cprf", "gprf", "gdec", "cdec"} {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(c)), c)
	}
	expected := `
# HELP hybrid_sched_seq_block_size_tokens Paged-attention block size chosen for the GPU-decode segment
# TYPE hybrid_sched_seq_block_size_tokens histogram
hybrid_sched_seq_block_size_tokens_bucket{le="64"} 1
hybrid_sched_seq_block_size_tokens_bucket{le="128"} 1
hybrid_sched_seq_block_size_tokens_bucket{le="256"} 1
hybrid_sched_seq_block_size_tokens_bucket{le="512"} 1
hybrid_sched_seq_block_size_tokens_bucket{le="1024"} 1
hybrid_sched_seq_block_size_tokens_bucket{le="2048"} 1
hybrid_sched_seq_block_size_tokens_bucket{le="+Inf"} 1
hybrid_sched_seq_block_size_tokens_sum 64
hybrid_sched_seq_block_size_tokens_count 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "hybrid_sched_seq_block_size_tokens"))
}

func TestMetrics_DeferralsAndCapacity(t *testing.T) {
	m := NewMetrics(nil)

	m.ObserveDeferral(trace.DeferralRecord{Reason: trace.ReasonNoBlocks})
	m.ObserveDeferral(trace.DeferralRecord{Reason: trace.ReasonNoBlocks})
	m.ObserveFinished(5)
	m.SetCapacity(7, 10, 20)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DeferralsTotal.WithLabelValues(trace.ReasonNoBlocks)))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.FinishedTotal))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.FreeSlots))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.UsedBlocks.WithLabelValues(DeviceGPU)))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.UsedBlocks.WithLabelValues(DeviceCPU)))
}

func TestNewMetrics_DoubleRegistration_Panics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}
