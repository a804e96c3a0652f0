package perf

import (
	"fmt"

	"gonum.org/v1/gonum/interp"

	"github.com/inference-sim/hybrid-sched/engine"
)

// table interpolates a Curve piecewise-linearly. Beyond the last point it
// extends the last segment; results are never negative.
type table struct {
	pl           interp.PiecewiseLinear
	lastX, lastY float64
	tailSlope    float64
}

func newTable(name string, c Curve) (*table, error) {
	xs := make([]float64, len(c.Tokens))
	for i, tok := range c.Tokens {
		xs[i] = float64(tok)
	}
	t := &table{}
	if err := t.pl.Fit(xs, c.Times); err != nil {
		return nil, fmt.Errorf("fit %s curve: %w", name, err)
	}
	n := len(xs)
	t.lastX, t.lastY = xs[n-1], c.Times[n-1]
	t.tailSlope = (c.Times[n-1] - c.Times[n-2]) / (xs[n-1] - xs[n-2])
	return t, nil
}

func (t *table) at(tokens int) float64 {
	x := float64(tokens)
	var y float64
	if x > t.lastX {
		y = t.lastY + t.tailSlope*(x-t.lastX)
	} else {
		y = t.pl.Predict(x)
	}
	return max(y, 0)
}

// TablePredictor is an engine.PerfPredictor backed by profiled cost curves.
type TablePredictor struct {
	linear     *table
	prefill    *table
	gpuDecode  *table
	cpuDecode  *table
	perRequest float64
	launch     float64
}

var _ engine.PerfPredictor = (*TablePredictor)(nil)

// NewTablePredictor builds a predictor from a validated profile.
func NewTablePredictor(p *Profile) (*TablePredictor, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	tp := &TablePredictor{perRequest: p.CPUDecode.PerRequest, launch: p.LaunchTime}
	var err error
	if tp.linear, err = newTable("linear", p.Linear); err != nil {
		return nil, err
	}
	if tp.prefill, err = newTable("prefill", p.Prefill); err != nil {
		return nil, err
	}
	if tp.gpuDecode, err = newTable("gpu_decode", p.GPUDecode); err != nil {
		return nil, err
	}
	if tp.cpuDecode, err = newTable("cpu_decode", p.CPUDecode.Curve); err != nil {
		return nil, err
	}
	return tp, nil
}

// LoadTablePredictor loads the profile at path and builds a TablePredictor.
func LoadTablePredictor(path string) (engine.PerfPredictor, error) {
	p, err := LoadProfile(path)
	if err != nil {
		return nil, err
	}
	return NewTablePredictor(p)
}

func (tp *TablePredictor) PrefT(promptLen int) float64 { return tp.prefill.at(promptLen) }

// GdecT is zero for an empty GPU-decode segment.
func (tp *TablePredictor) GdecT(totalTokens int) float64 {
	if totalTokens == 0 {
		return 0
	}
	return tp.gpuDecode.at(totalTokens)
}

func (tp *TablePredictor) LinrT(iterWidth int) float64 {
	if iterWidth == 0 {
		return 0
	}
	return tp.linear.at(iterWidth)
}

// CdecT is zero when there are no CPU-decode requests.
func (tp *TablePredictor) CdecT(numReqs, totalTokens int) float64 {
	if numReqs == 0 {
		return 0
	}
	return tp.perRequest*float64(numReqs) + tp.cpuDecode.at(totalTokens)
}

func (tp *TablePredictor) LnchT() float64 { return tp.launch }
