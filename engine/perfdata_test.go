package engine

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

// fakePredictor returns integer-valued costs so running totals can be
// compared exactly. Unset functions predict zero.
type fakePredictor struct {
	pref   func(promptLen int) float64
	gdec   func(totalTokens int) float64
	linr   func(iterWidth int) float64
	cdec   func(numReqs, totalTokens int) float64
	launch float64
}

func (p fakePredictor) PrefT(n int) float64 {
	if p.pref == nil {
		return 0
	}
	return p.pref(n)
}

func (p fakePredictor) GdecT(n int) float64 {
	if p.gdec == nil {
		return 0
	}
	return p.gdec(n)
}

func (p fakePredictor) LinrT(s int) float64 {
	if p.linr == nil {
		return 0
	}
	return p.linr(s)
}

func (p fakePredictor) CdecT(x, n int) float64 {
	if p.cdec == nil {
		return 0
	}
	return p.cdec(x, n)
}

func (p fakePredictor) LnchT() float64 { return p.launch }

// linearPredictor: prefill costs its prompt length, GPU decode its aggregate
// length squared, linear layers their width, CPU decode 10 per request plus
// its aggregate length, launch 3.
func linearPredictor() fakePredictor {
	return fakePredictor{
		pref:   func(n int) float64 { return float64(n) },
		gdec:   func(n int) float64 { return float64(n * n) },
		linr:   func(s int) float64 { return float64(s) },
		cdec:   func(x, n int) float64 { return float64(10*x + n) },
		launch: 3,
	}
}

func TestBatchPerfData_NilPredictor_PredictsZero(t *testing.T) {
	// GIVEN an accumulator without a predictor
	d := NewBatchPerfData(nil)

	// WHEN requests of every kind are added
	d.AddPref(100)
	d.AddGdec(50)
	d.AddCdec(70)

	// THEN counters advance but every estimate is zero
	assert.Equal(t, 3, d.NumReqs())
	assert.Equal(t, 102, d.IterWidth())
	assert.Zero(t, d.GPUTime())
	assert.Zero(t, d.CPUTime())
}

func TestBatchPerfData_PrefRoundTrip_RestoresEmptyState(t *testing.T) {
	// GIVEN an accumulator with prefills of 100 and 50 tokens
	d := NewBatchPerfData(linearPredictor())
	d.AddPref(100)
	d.AddPref(50)
	assert.Equal(t, 150.0, d.PrefT())
	assert.Equal(t, 150, d.IterWidth())

	// WHEN both are popped in reverse order
	d.PopPref(50)
	assert.Equal(t, 100.0, d.PrefT())
	d.PopPref(100)

	// THEN every total is back to zero
	assert.Equal(t, 0, d.NumReqs())
	assert.Equal(t, 0, d.IterWidth())
	assert.Equal(t, 0.0, d.PrefT())
}

// perfTotals is the observable state of a BatchPerfData.
type perfTotals struct {
	X, S, NG, XC, NC    int
	PrefT, GdecT, CdecT float64
}

func totalsOf(d *BatchPerfData) perfTotals {
	return perfTotals{
		X: d.NumReqs(), S: d.IterWidth(), NG: d.GdecTokens(), XC: d.NumCdecs(), NC: d.CdecTokens(),
		PrefT: d.PrefT(), GdecT: d.GdecT(), CdecT: d.CdecT(),
	}
}

type perfOp struct {
	pref bool // prefill when true, CPU decode otherwise
	n    int
}

func TestBatchPerfData_StackOrderRoundTrip_RestoresState(t *testing.T) {
	tests := []struct {
		name string
		ops  []perfOp
	}{
		{name: "single prefill", ops: []perfOp{{pref: true, n: 40}}},
		{name: "single cpu decode", ops: []perfOp{{n: 9}}},
		{name: "prefill then cpu decode", ops: []perfOp{{pref: true, n: 12}, {n: 30}}},
		{name: "cpu decode then prefill", ops: []perfOp{{n: 30}, {pref: true, n: 12}}},
		{name: "interleaved", ops: []perfOp{{pref: true, n: 7}, {n: 3}, {pref: true, n: 64}, {n: 11}, {pref: true, n: 1}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// GIVEN an accumulator already holding one request of every category
			d := NewBatchPerfData(linearPredictor())
			d.AddGdec(20)
			d.AddPref(30)
			d.AddCdec(5)
			before := totalsOf(d)

			// WHEN the ops are applied and then undone in reverse order
			for _, op := range tc.ops {
				if op.pref {
					d.AddPref(op.n)
				} else {
					d.AddCdec(op.n)
				}
			}
			for i := len(tc.ops) - 1; i >= 0; i-- {
				if op := tc.ops[i]; op.pref {
					d.PopPref(op.n)
				} else {
					d.PopCdec(op.n)
				}
			}

			// THEN every running total is as before
			if diff := cmp.Diff(before, totalsOf(d)); diff != "" {
				t.Errorf("totals mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBatchPerfData_PrefT_SnapsToZeroWhenLastPrefillPopped(t *testing.T) {
	// GIVEN prefill costs that do not cancel exactly in floating point
	p := fakePredictor{pref: func(n int) float64 { return float64(n) * 0.1 }}
	d := NewBatchPerfData(p)
	for _, n := range []int{3, 7, 11} {
		d.AddPref(n)
	}

	// WHEN every prefill is popped
	for _, n := range []int{11, 7, 3} {
		d.PopPref(n)
	}

	// THEN the prefill time is exactly zero
	assert.Equal(t, 0.0, d.PrefT())
}

func TestBatchPerfData_GdecT_RecomputedFromAggregate(t *testing.T) {
	// GIVEN a GPU-decode cost that is not separable (squared aggregate)
	d := NewBatchPerfData(linearPredictor())

	// WHEN GPU-decode requests of length 10 and 20 are added
	d.AddGdec(10)
	assert.Equal(t, 100.0, d.GdecT())
	d.AddGdec(20)

	// THEN the cost is that of the aggregate, not a sum of parts
	assert.Equal(t, 30, d.GdecTokens())
	assert.Equal(t, 900.0, d.GdecT())
}

func TestBatchPerfData_RetractGdec_RecomputesAndSnaps(t *testing.T) {
	// GIVEN two GPU-decode requests
	d := NewBatchPerfData(linearPredictor())
	d.AddGdec(10)
	d.AddGdec(20)

	// WHEN the newest is retracted
	d.RetractGdec(20)

	// THEN the cost matches the single remaining request
	assert.Equal(t, 100.0, d.GdecT())

	// WHEN the last is retracted
	d.RetractGdec(10)

	// THEN the accumulator is empty
	assert.Equal(t, 0.0, d.GdecT())
	assert.Equal(t, 0, d.GdecTokens())
	assert.Equal(t, 0, d.NumReqs())
}

func TestBatchPerfData_CdecT_DerivedOnRead(t *testing.T) {
	// GIVEN CPU-decode requests of length 5 and 7
	d := NewBatchPerfData(linearPredictor())
	d.AddCdec(5)
	d.AddCdec(7)

	// THEN CPU time is the predictor's answer for the current aggregate plus launch
	assert.Equal(t, 2, d.NumCdecs())
	assert.Equal(t, 12, d.CdecTokens())
	assert.Equal(t, 32.0, d.CdecT())
	assert.Equal(t, 35.0, d.CPUTime())

	// WHEN one is popped
	d.PopCdec(7)

	// THEN the estimate follows without any cached state
	assert.Equal(t, 15.0, d.CdecT())
}

func TestBatchPerfData_GPUTime_SumsLinearPrefillAndDecode(t *testing.T) {
	// GIVEN one prefill of 8, one GPU decode of 4 and one CPU decode of 6
	d := NewBatchPerfData(linearPredictor())
	d.AddPref(8)
	d.AddGdec(4)
	d.AddCdec(6)

	// THEN GPU time = linear(width 10) + prefill 8 + gdec 16
	assert.Equal(t, 10, d.IterWidth())
	assert.Equal(t, 34.0, d.GPUTime())
	// AND CPU time = cdec(1, 6) + launch
	assert.Equal(t, 19.0, d.CPUTime())
}

func TestBatchPerfData_PopEmpty_Panics(t *testing.T) {
	d := NewBatchPerfData(nil)
	assert.Panics(t, func() { d.PopPref(1) })
	assert.Panics(t, func() { d.RetractGdec(1) })
	assert.Panics(t, func() { d.PopCdec(1) })
}
