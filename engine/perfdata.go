package engine

import "fmt"

// BatchPerfData accumulates the estimated GPU and CPU time of one SubBatch
// incrementally, so the composer can try placements and back them out without
// rebuilding the totals.
//
// Prefill attention cost is additive across requests and is undone by
// subtraction. GPU-decode attention cost depends on the aggregate GPU-decode
// length and is recomputed from the aggregate on every change. CPU-decode cost
// is never cached.
type BatchPerfData struct {
	predictor PerfPredictor

	x        int // requests in the batch
	s        int // iteration width: 1 per decode, prompt length per prefill
	numPrefs int // prefill requests, used to snap prefT back to zero
	nG       int // aggregate sequence length of GPU-decode requests
	xG       int // GPU-decode requests
	xC       int // CPU-decode requests
	nC       int // aggregate sequence length of CPU-decode requests

	prefT float64
	gdecT float64
	lnchT float64
}

// NewBatchPerfData creates an empty accumulator bound to predictor.
// The launch overhead is queried once here.
func NewBatchPerfData(predictor PerfPredictor) *BatchPerfData {
	if predictor == nil {
		predictor = ZeroPerfPredictor{}
	}
	return &BatchPerfData{
		predictor: predictor,
		lnchT:     predictor.LnchT(),
	}
}

func (d *BatchPerfData) AddPref(promptLen int) {
	d.x++
	d.s += promptLen
	d.numPrefs++
	d.prefT += d.predictor.PrefT(promptLen)
}

func (d *BatchPerfData) PopPref(promptLen int) {
	if d.numPrefs == 0 {
		panic("BatchPerfData.PopPref: no prefill requests")
	}
	d.x--
	d.s -= promptLen
	d.numPrefs--
	if d.numPrefs == 0 {
		d.prefT = 0
	} else {
		d.prefT -= d.predictor.PrefT(promptLen)
	}
}

// AddGdec adds one GPU-decode request. There is no subtracting inverse;
// see RetractGdec.
func (d *BatchPerfData) AddGdec(seqLen int) {
	d.x++
	d.s++
	d.xG++
	d.nG += seqLen
	d.gdecT = d.predictor.GdecT(d.nG)
}

// RetractGdec removes one GPU-decode request of seqLen and recomputes the
// GPU-decode cost from the reduced aggregate.
func (d *BatchPerfData) RetractGdec(seqLen int) {
	if d.xG == 0 {
		panic("BatchPerfData.RetractGdec: no GPU-decode requests")
	}
	d.x--
	d.s--
	d.xG--
	d.nG -= seqLen
	if d.xG == 0 {
		d.gdecT = 0
	} else {
		d.gdecT = d.predictor.GdecT(d.nG)
	}
}

func (d *BatchPerfData) AddCdec(seqLen int) {
	d.x++
	d.s++
	d.xC++
	d.nC += seqLen
}

func (d *BatchPerfData) PopCdec(seqLen int) {
	if d.xC == 0 {
		panic("BatchPerfData.PopCdec: no CPU-decode requests")
	}
	d.x--
	d.s--
	d.xC--
	d.nC -= seqLen
}

// NumReqs is the number of requests in the batch.
func (d *BatchPerfData) NumReqs() int { return d.x }

// IterWidth is the token-equivalent width of the iteration for linear layers.
func (d *BatchPerfData) IterWidth() int { return d.s }

// GdecTokens is the aggregate sequence length of GPU-decode requests.
func (d *BatchPerfData) GdecTokens() int { return d.nG }

// NumCdecs is the number of CPU-decode requests.
func (d *BatchPerfData) NumCdecs() int { return d.xC }

// CdecTokens is the aggregate sequence length of CPU-decode requests.
func (d *BatchPerfData) CdecTokens() int { return d.nC }

func (d *BatchPerfData) PrefT() float64 { return d.prefT }
func (d *BatchPerfData) GdecT() float64 { return d.gdecT }
func (d *BatchPerfData) LnchT() float64 { return d.lnchT }

func (d *BatchPerfData) LinrT() float64 {
	return d.predictor.LinrT(d.s)
}

func (d *BatchPerfData) CdecT() float64 {
	return d.predictor.CdecT(d.xC, d.nC)
}

// GPUTime is the estimated GPU time of the iteration.
func (d *BatchPerfData) GPUTime() float64 {
	return d.LinrT() + d.prefT + d.gdecT
}

// CPUTime is the estimated CPU time of the iteration.
func (d *BatchPerfData) CPUTime() float64 {
	return d.CdecT() + d.lnchT
}

func (d *BatchPerfData) String() string {
	return fmt.Sprintf("BatchPerfData: (x: %d, s: %d, n_g: %d, x_c: %d, n_c: %d, gpu: %.4f, cpu: %.4f)",
		d.x, d.s, d.nG, d.xC, d.nC, d.GPUTime(), d.CPUTime())
}
