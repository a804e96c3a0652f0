package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidTraceLevel(t *testing.T) {
	assert.True(t, IsValidTraceLevel("none"))
	assert.True(t, IsValidTraceLevel("decisions"))
	assert.True(t, IsValidTraceLevel(""))
	assert.False(t, IsValidTraceLevel("verbose"))
}

func TestCompositionTrace_Enabled(t *testing.T) {
	var nilTrace *CompositionTrace
	assert.False(t, nilTrace.Enabled())
	assert.False(t, NewCompositionTrace(TraceLevelNone).Enabled())
	assert.True(t, NewCompositionTrace(TraceLevelDecisions).Enabled())
}

func TestSummarize_NilAndEmpty(t *testing.T) {
	for _, ct := range []*CompositionTrace{nil, NewCompositionTrace(TraceLevelDecisions)} {
		s := Summarize(ct)
		assert.Equal(t, 0, s.SubBatches)
		assert.Zero(t, s.MeanBatchSize)
		assert.NotNil(t, s.CategoryCounts)
		assert.NotNil(t, s.DeferralReasons)
	}
}

func TestSummarize_AggregatesRecords(t *testing.T) {
	// GIVEN two sub-batches in iteration 1 and one in iteration 2
	ct := NewCompositionTrace(TraceLevelDecisions)
	ct.RecordComposition(CompositionRecord{Iteration: 1, SubBatch: 0, NumGprfs: 2, BatchSize: 2, IterWidth: 20, GPUTime: 10, CPUTime: 4})
	ct.RecordComposition(CompositionRecord{Iteration: 1, SubBatch: 1, NumCprfs: 1, NumCdecs: 3, BatchSize: 4, IterWidth: 13, GPUTime: 6, CPUTime: 6})
	ct.RecordComposition(CompositionRecord{Iteration: 2, SubBatch: 0, NumGdecs: 3, BatchSize: 3, IterWidth: 3, GPUTime: 2, CPUTime: 11})
	ct.RecordDeferral(DeferralRecord{Iteration: 1, TraceID: "a", Reason: ReasonNoSlot})
	ct.RecordDeferral(DeferralRecord{Iteration: 2, TraceID: "a", Reason: ReasonNoSlot})
	ct.RecordDeferral(DeferralRecord{Iteration: 2, TraceID: "b", Reason: ReasonCPUBalance})

	// WHEN summarized
	s := Summarize(ct)

	// THEN counts and means cover every record
	assert.Equal(t, 3, s.SubBatches)
	assert.Equal(t, 2, s.Iterations)
	assert.Equal(t, 9, s.TotalRequests)
	assert.InDelta(t, 3.0, s.MeanBatchSize, 1e-9)
	assert.InDelta(t, 12.0, s.MeanIterWidth, 1e-9)
	assert.InDelta(t, 6.0, s.MeanGPUTime, 1e-9)
	assert.InDelta(t, 7.0, s.MeanCPUTime, 1e-9)
	assert.Equal(t, 9.0, s.MaxImbalance)
	assert.Equal(t, map[string]int{"cprf": 1, "gprf": 2, "gdec": 3, "cdec": 3}, s.CategoryCounts)
	assert.Equal(t, map[string]int{ReasonNoSlot: 2, ReasonCPUBalance: 1}, s.DeferralReasons)
}
