package engine_test

// Blank import triggers engine/perf's init(), which registers NewPerfPredictorFunc.
// This allows package engine's internal test files to load calibrated predictors
// without directly importing engine/perf (which would create an import cycle).
import _ "github.com/inference-sim/hybrid-sched/engine/perf"
