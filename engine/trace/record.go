// Package trace provides decision-trace recording for batch composition analysis.
// This package has no dependencies on engine/; it stores pure data types.
package trace

// CompositionRecord captures one finalized sub-batch.
type CompositionRecord struct {
	Iteration    int
	SubBatch     int
	NumCprfs     int
	NumGprfs     int
	NumGdecs     int
	NumCdecs     int
	BatchSize    int
	IterWidth    int
	GPUTime      float64 // estimated before finalization
	CPUTime      float64 // estimated before finalization
	SeqBlockSize int
	NumSeqBlocks int
}

// DeferralRecord captures a request the composer left out of an iteration.
type DeferralRecord struct {
	Iteration int
	TraceID   string
	Reason    string
}

// Deferral reasons.
const (
	ReasonTokenBudget = "token-budget"
	ReasonBatchSize   = "batch-size"
	ReasonNoSlot      = "no-slot"
	ReasonNoBlocks    = "no-blocks"
	ReasonTimeBudget  = "time-budget"
	ReasonCPUBalance  = "cpu-balance"
)
