// Package engine provides the request-scheduling and batch-composition core of a
// hybrid GPU/CPU LLM serving engine.
//
// # Reading Guide
//
// Start with these files to understand the core:
//   - request.go: Request lifecycle (tokenizing → queued → decoding → finished) and UpdateOutput
//   - perfdata.go: BatchPerfData, the incremental GPU/CPU time accumulator
//   - subbatch.go: SubBatch composition (add/pop) and finalization into a ForwardBatch
//   - scheduler.go: the batch composer that drives SubBatch every iteration
//
// # Architecture
//
// The engine package defines interfaces and bridge types; implementations live in
// sub-packages:
//   - engine/perf/: calibration-backed PerfPredictor (piecewise-linear tables)
//   - engine/trace/: composition decision records
//   - engine/metrics/: Prometheus instrumentation of finalized batches
//
// engine/perf registers its constructor via init(), setting the package-level
// factory variable NewPerfPredictorFunc.
//
// # Batch layout
//
// A finalized ForwardBatch lists its requests in the fixed order
// CPU-prefill, GPU-prefill, GPU-decode, CPU-decode. Compute kernels slice
// per-category ranges out of the flat SeqIDs/SeqLens arrays using the
// NumCprfs/NumPrefs/NumPrgds offsets.
//
// # Concurrency
//
// A Scheduler, its SubBatches and the Requests it composes are owned by one
// goroutine. Only OutputQueue and the completion signal are shared with
// delivery goroutines.
package engine
