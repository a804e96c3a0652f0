// register.go wires the table predictor into engine.NewPerfPredictorFunc.
// Production code imports engine/perf directly; test code in package engine
// uses perf_import_test.go for the blank import.
package perf

import "github.com/inference-sim/hybrid-sched/engine"

func init() {
	engine.NewPerfPredictorFunc = LoadTablePredictor
}
