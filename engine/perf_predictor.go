package engine

import "github.com/sirupsen/logrus"

// PerfPredictor estimates per-iteration execution costs from workload shape.
// All estimates share one arbitrary time unit and are non-negative.
type PerfPredictor interface {
	// PrefT estimates GPU prefill attention time for one prompt. Prefill cost is
	// separable across requests, so batch totals are sums of PrefT.
	PrefT(promptLen int) float64

	// GdecT estimates GPU decode attention time for all GPU-decode requests
	// together, given their aggregate sequence length. Not separable.
	GdecT(totalTokens int) float64

	// LinrT estimates linear-layer time for an iteration of the given width.
	LinrT(iterWidth int) float64

	// CdecT estimates CPU decode attention time for numReqs CPU-decode requests
	// with totalTokens aggregate sequence length.
	CdecT(numReqs, totalTokens int) float64

	// LnchT is the fixed per-batch kernel launch overhead.
	LnchT() float64
}

// ZeroPerfPredictor predicts zero for every query. It is used when no
// calibration data exists; composition then degrades to capacity-only placement.
type ZeroPerfPredictor struct{}

func (ZeroPerfPredictor) PrefT(int) float64      { return 0 }
func (ZeroPerfPredictor) GdecT(int) float64      { return 0 }
func (ZeroPerfPredictor) LinrT(int) float64      { return 0 }
func (ZeroPerfPredictor) CdecT(int, int) float64 { return 0 }
func (ZeroPerfPredictor) LnchT() float64         { return 0 }

// NewPerfPredictorFunc builds a calibrated predictor from a profile result path.
// Set by engine/perf's init(); nil when that package is not linked.
var NewPerfPredictorFunc func(profilePath string) (PerfPredictor, error)

// NewPerfPredictor returns a calibrated predictor for profilePath, or
// ZeroPerfPredictor when the path is empty, no implementation is registered,
// or the profile cannot be loaded.
func NewPerfPredictor(profilePath string) PerfPredictor {
	if profilePath == "" {
		logrus.Info("no profile result path given, performance-aware scheduling disabled")
		return ZeroPerfPredictor{}
	}
	if NewPerfPredictorFunc == nil {
		logrus.Warn("no perf predictor registered (import engine/perf), falling back to zero predictor")
		return ZeroPerfPredictor{}
	}
	p, err := NewPerfPredictorFunc(profilePath)
	if err != nil {
		logrus.Warnf("perf predictor unavailable, falling back to zero predictor: %v", err)
		return ZeroPerfPredictor{}
	}
	return p
}
