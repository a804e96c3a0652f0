// subbatch.go
//
// Defines SubBatch, the set of requests composed for one kernel invocation,
// and its one-way finalization into a ForwardBatch.

package engine

import (
	"fmt"
	"strings"
)

// Category is the per-iteration placement of a request within a SubBatch.
type Category string

const (
	CategoryCPUPrefill Category = "cprf"
	CategoryGPUPrefill Category = "gprf"
	CategoryGPUDecode  Category = "gdec"
	CategoryCPUDecode  Category = "cdec"
)

// SubBatch is a categorized collection of requests under composition.
// Every list follows stack discipline: the most recently added request is the
// first one removed, so the composer can back out to any earlier state.
//
// A SubBatch is consumed by SetModelForwardArgs; any use afterwards panics.
type SubBatch struct {
	gprfReqs []*Request
	cprfReqs []*Request
	gdecReqs []*Request
	cdecReqs []*Request
	perfdata *BatchPerfData
}

// NewSubBatch creates an empty SubBatch whose costs are estimated by predictor.
// A nil predictor means ZeroPerfPredictor.
func NewSubBatch(predictor PerfPredictor) *SubBatch {
	return &SubBatch{perfdata: NewBatchPerfData(predictor)}
}

func (b *SubBatch) mustComposing(op string) {
	if b.perfdata == nil {
		panic(fmt.Sprintf("SubBatch.%s: sub-batch already finalized", op))
	}
}

// Len returns the number of requests in the sub-batch.
func (b *SubBatch) Len() int {
	b.mustComposing("Len")
	return b.perfdata.NumReqs()
}

// PerfData exposes the running cost totals. Callers must not mutate it directly.
func (b *SubBatch) PerfData() *BatchPerfData {
	b.mustComposing("PerfData")
	return b.perfdata
}

func (b *SubBatch) GPUTime() float64 {
	b.mustComposing("GPUTime")
	return b.perfdata.GPUTime()
}

func (b *SubBatch) CPUTime() float64 {
	b.mustComposing("CPUTime")
	return b.perfdata.CPUTime()
}

// AddPref appends req to the GPU- or CPU-prefill list.
func (b *SubBatch) AddPref(req *Request, isGPU bool) {
	b.mustComposing("AddPref")
	if isGPU {
		b.gprfReqs = append(b.gprfReqs, req)
	} else {
		b.cprfReqs = append(b.cprfReqs, req)
	}
	b.perfdata.AddPref(req.PromptLen)
}

// PopPref removes the most recently added GPU-prefill request, or the most
// recently added CPU-prefill request once no GPU-prefill requests remain.
// Returns the request and whether it was placed on GPU.
func (b *SubBatch) PopPref() (*Request, bool) {
	b.mustComposing("PopPref")
	isGPU := len(b.gprfReqs) > 0
	if !isGPU && len(b.cprfReqs) == 0 {
		panic("SubBatch.PopPref: no prefill requests")
	}
	return b.PopPrefOn(isGPU), isGPU
}

// PopPrefOn removes the most recently added prefill request of one device.
func (b *SubBatch) PopPrefOn(isGPU bool) *Request {
	b.mustComposing("PopPrefOn")
	list := &b.cprfReqs
	if isGPU {
		list = &b.gprfReqs
	}
	if len(*list) == 0 {
		panic(fmt.Sprintf("SubBatch.PopPrefOn: no prefill requests (gpu=%t)", isGPU))
	}
	req := (*list)[len(*list)-1]
	*list = (*list)[:len(*list)-1]
	b.perfdata.PopPref(req.PromptLen)
	return req
}

// AddGdec appends req to the GPU-decode list. GPU-decode placements are not
// undone during normal composition; RetractGdec exists for budget enforcement.
func (b *SubBatch) AddGdec(req *Request) {
	b.mustComposing("AddGdec")
	b.gdecReqs = append(b.gdecReqs, req)
	b.perfdata.AddGdec(req.SeqLen())
}

// RetractGdec removes the most recently added GPU-decode request, recomputing
// the GPU-decode cost from the remaining aggregate.
func (b *SubBatch) RetractGdec() *Request {
	b.mustComposing("RetractGdec")
	if len(b.gdecReqs) == 0 {
		panic("SubBatch.RetractGdec: no GPU-decode requests")
	}
	req := b.gdecReqs[len(b.gdecReqs)-1]
	b.gdecReqs = b.gdecReqs[:len(b.gdecReqs)-1]
	b.perfdata.RetractGdec(req.SeqLen())
	return req
}

func (b *SubBatch) AddCdec(req *Request) {
	b.mustComposing("AddCdec")
	b.cdecReqs = append(b.cdecReqs, req)
	b.perfdata.AddCdec(req.SeqLen())
}

// PopCdec removes and returns the most recently added CPU-decode request.
func (b *SubBatch) PopCdec() *Request {
	b.mustComposing("PopCdec")
	if len(b.cdecReqs) == 0 {
		panic("SubBatch.PopCdec: no CPU-decode requests")
	}
	req := b.cdecReqs[len(b.cdecReqs)-1]
	b.cdecReqs = b.cdecReqs[:len(b.cdecReqs)-1]
	b.perfdata.PopCdec(req.SeqLen())
	return req
}

// NumPrefs returns the number of prefill requests (GPU and CPU).
func (b *SubBatch) NumPrefs() int {
	b.mustComposing("NumPrefs")
	return len(b.gprfReqs) + len(b.cprfReqs)
}

// NumGdecs returns the number of GPU-decode requests.
func (b *SubBatch) NumGdecs() int {
	b.mustComposing("NumGdecs")
	return len(b.gdecReqs)
}

// NumCdecs returns the number of CPU-decode requests.
func (b *SubBatch) NumCdecs() int {
	b.mustComposing("NumCdecs")
	return len(b.cdecReqs)
}

// checkTotals panics if the running totals disagree with the category lists.
func (b *SubBatch) checkTotals() {
	d := b.perfdata
	n := len(b.cprfReqs) + len(b.gprfReqs) + len(b.gdecReqs) + len(b.cdecReqs)
	if d.NumReqs() != n {
		panic(fmt.Sprintf("SubBatch: running total x=%d but lists hold %d requests", d.NumReqs(), n))
	}
	width := len(b.gdecReqs) + len(b.cdecReqs)
	for _, reqs := range [][]*Request{b.cprfReqs, b.gprfReqs} {
		for _, req := range reqs {
			width += req.PromptLen
		}
	}
	if d.IterWidth() != width {
		panic(fmt.Sprintf("SubBatch: running total s=%d but lists add up to %d", d.IterWidth(), width))
	}
	if d.NumCdecs() != len(b.cdecReqs) {
		panic(fmt.Sprintf("SubBatch: running total x_c=%d but %d CPU-decode requests", d.NumCdecs(), len(b.cdecReqs)))
	}
}

// String lists the lengths of the requests in each category.
func (b *SubBatch) String() string {
	if b.perfdata == nil {
		return "SubBatch: (finalized)"
	}
	lens := func(reqs []*Request, prompt bool) string {
		parts := make([]string, len(reqs))
		for i, req := range reqs {
			if prompt {
				parts[i] = fmt.Sprint(req.PromptLen)
			} else {
				parts[i] = fmt.Sprint(req.SeqLen())
			}
		}
		return "[" + strings.Join(parts, " ") + "]"
	}
	return fmt.Sprintf("cprf lens: %s, gprf lens: %s, gdec lens: %s, cdec lens: %s",
		lens(b.cprfReqs, true), lens(b.gprfReqs, true), lens(b.gdecReqs, false), lens(b.cdecReqs, false))
}

// SetModelForwardArgs freezes the sub-batch into the descriptor consumed by
// the compute kernels. The SubBatch is consumed: its lists and cost totals are
// dropped and every later method call panics.
func (b *SubBatch) SetModelForwardArgs(model ModelConfig) *ForwardBatch {
	b.mustComposing("SetModelForwardArgs")
	b.checkTotals()

	fb := &ForwardBatch{
		BatchSize: b.perfdata.NumReqs(),
		IterWidth: b.perfdata.IterWidth(),
	}
	b.perfdata = nil

	fb.NumCprfs = len(b.cprfReqs)
	fb.NumGprfs = len(b.gprfReqs)
	fb.NumGdecs = len(b.gdecReqs)
	fb.NumCdecs = len(b.cdecReqs)
	fb.NumPrefs = fb.NumCprfs + fb.NumGprfs
	fb.NumPrgds = fb.NumPrefs + fb.NumGdecs

	fb.AllReqs = make([]*Request, 0, fb.BatchSize)
	fb.AllReqs = append(fb.AllReqs, b.cprfReqs...)
	fb.AllReqs = append(fb.AllReqs, b.gprfReqs...)
	fb.AllReqs = append(fb.AllReqs, b.gdecReqs...)
	fb.AllReqs = append(fb.AllReqs, b.cdecReqs...)
	for _, req := range fb.AllReqs {
		if req.RequestID < 0 {
			panic(fmt.Sprintf("SubBatch.SetModelForwardArgs: request id not set for %s", req.TraceID))
		}
	}
	b.cprfReqs, b.gprfReqs, b.gdecReqs, b.cdecReqs = nil, nil, nil, nil

	fb.SeqIDs = GetIDs(fb.AllReqs)
	fb.SeqLens = GetLens(fb.AllReqs)

	for _, l := range fb.SeqLens[:fb.NumPrefs] {
		fb.SumPrefToks += l
		fb.MaxPrefToks = max(fb.MaxPrefToks, l)
	}
	fb.SumPrgdToks = fb.SumPrefToks + fb.NumGdecs

	var sumGdecToks, maxGdecToks int
	for _, l := range fb.SeqLens[fb.NumPrefs:fb.NumPrgds] {
		sumGdecToks += l
		maxGdecToks = max(maxGdecToks, l)
	}
	fb.SeqBlockSize = seqBlockSize(model.NumKVHeads, sumGdecToks, maxGdecToks)
	fb.NumSeqBlocks = (maxGdecToks + fb.SeqBlockSize - 1) / fb.SeqBlockSize
	return fb
}

const (
	seedSeqBlockSize   = 2048
	minSeqBlockSize    = 64
	targetHeadParallel = 1024
	maxSeqBlocksPerSeq = 128
)

// seqBlockSize picks the paged-attention block size for the GPU-decode segment.
// Smaller blocks add parallelism when the aggregate decode work is small, but
// multiply the number of blocks the longest sequence is split into.
func seqBlockSize(numKVHeads, sumGdecToks, maxGdecToks int) int {
	size := seedSeqBlockSize
	for float64(numKVHeads)*(float64(sumGdecToks)/float64(size)) < targetHeadParallel &&
		size/2 >= minSeqBlockSize &&
		float64(maxGdecToks)/float64(size/2) <= maxSeqBlocksPerSeq {
		size /= 2
	}
	return size
}
