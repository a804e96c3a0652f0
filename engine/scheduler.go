package engine

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/hybrid-sched/engine/metrics"
	"github.com/inference-sim/hybrid-sched/engine/trace"
)

var (
	ErrEmptyPrompt      = errors.New("empty prompt")
	ErrNoTokenizer      = errors.New("text prompt but no tokenizer configured")
	ErrInvalidOutputLen = errors.New("max output length must be positive")
	ErrPromptTooLong    = errors.New("prompt longer than max tokens in batch")
	ErrSequenceTooLong  = errors.New("sequence does not fit in the KV cache")
	ErrUnknownRequest   = errors.New("request is not queued or running")
)

// Tokenizer converts a text prompt into token ids.
type Tokenizer interface {
	Encode(text string) ([]int, error)
}

// reservation records the KV blocks held by an admitted request.
type reservation struct {
	blocks int
	onGPU  bool
}

// Scheduler composes the sub-batches of every iteration. It owns the wait
// queue, the running requests (split by where their KV cache lives), the
// request-id slots and the KV block accounting.
//
// A Scheduler is not safe for concurrent use; one goroutine calls Submit, Step,
// Apply and Abort.
type Scheduler struct {
	cfg       EngineConfig
	model     ModelConfig
	predictor PerfPredictor
	tokenizer Tokenizer

	waitQ      *WaitQueue
	gpuRunning []*Request // KV resident on GPU, decoding
	cpuRunning []*Request // KV resident on CPU, decoding
	slots      *SlotAllocator
	reserved   map[*Request]reservation
	gpuBlocks  int // reserved GPU blocks
	cpuBlocks  int // reserved CPU blocks
	iteration  int

	Trace   *trace.CompositionTrace // nil disables tracing
	Metrics *metrics.Metrics        // nil disables metrics
}

// NewScheduler validates cfg and model and creates an idle Scheduler.
// A nil predictor means ZeroPerfPredictor; tokenizer may be nil if every
// request arrives pre-tokenized.
func NewScheduler(cfg EngineConfig, model ModelConfig, predictor PerfPredictor, tokenizer Tokenizer) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	if predictor == nil {
		predictor = ZeroPerfPredictor{}
	}
	return &Scheduler{
		cfg:       cfg,
		model:     model,
		predictor: predictor,
		tokenizer: tokenizer,
		waitQ:     &WaitQueue{},
		slots:     NewSlotAllocator(cfg.MaxSeqsInBlockTable),
		reserved:  make(map[*Request]reservation),
	}, nil
}

// Submit admits a raw request into the wait queue, tokenizing it if needed.
func (s *Scheduler) Submit(raw RawRequest) (*Request, error) {
	if raw.MaxOutputLen < 1 {
		return nil, fmt.Errorf("submit: %w, got %d", ErrInvalidOutputLen, raw.MaxOutputLen)
	}
	req := NewRequest(raw)
	if req.PromptLen == 0 {
		if raw.Prompt == "" {
			return nil, fmt.Errorf("submit: %w", ErrEmptyPrompt)
		}
		if s.tokenizer == nil {
			return nil, fmt.Errorf("submit: %w", ErrNoTokenizer)
		}
		ids, err := s.tokenizer.Encode(raw.Prompt)
		if err != nil {
			return nil, fmt.Errorf("submit: tokenize: %w", err)
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("submit: %w", ErrEmptyPrompt)
		}
		req.SetPromptTokens(ids)
	}
	if req.PromptLen > s.cfg.MaxTokensInBatch {
		return nil, fmt.Errorf("submit: %w (%d > %d)", ErrPromptTooLong, req.PromptLen, s.cfg.MaxTokensInBatch)
	}
	if seqLen := req.PromptLen + req.MaxOutputLen; seqLen > s.cfg.MaxSeqLen() || s.blocksFor(req) > s.maxPlaceableBlocks() {
		return nil, fmt.Errorf("submit: %w (%d tokens)", ErrSequenceTooLong, seqLen)
	}
	s.waitQ.Enqueue(req)
	logrus.Debugf("[iter %06d] queued %s (prompt %d, max output %d)", s.iteration, req.TraceID, req.PromptLen, req.MaxOutputLen)
	return req, nil
}

// Step composes and finalizes the sub-batches of the next iteration.
// Prefilled requests become running requests; Apply must be called with the
// sampled tokens of every returned batch before the next Step.
func (s *Scheduler) Step() []*ForwardBatch {
	s.iteration++
	sbs := make([]*SubBatch, s.cfg.NumSubBatches)
	for i := range sbs {
		sbs[i] = NewSubBatch(s.predictor)
	}

	for _, req := range s.gpuRunning {
		sb := s.pickSubBatch(sbs, 1, (*SubBatch).GPUTime)
		if sb == nil {
			s.deferReq(req, s.capacityReason(sbs))
			continue
		}
		sb.AddGdec(req)
	}

	admitted := s.composePrefills(sbs)
	if s.cfg.MaxGPUTime > 0 {
		s.enforceGPUTime(sbs, admitted)
	}

	for _, req := range s.cpuRunning {
		s.composeCdec(sbs, req)
	}

	batches := s.finalize(sbs)
	for _, fb := range batches {
		s.gpuRunning = append(s.gpuRunning, fb.Requests(CategoryGPUPrefill)...)
		s.cpuRunning = append(s.cpuRunning, fb.Requests(CategoryCPUPrefill)...)
	}
	s.Metrics.SetCapacity(s.slots.Available(), s.gpuBlocks, s.cpuBlocks)
	return batches
}

// admission records where composePrefills placed a request.
type admission struct {
	req   *Request
	sb    *SubBatch
	onGPU bool
}

// composePrefills moves requests from the wait queue into sbs until a capacity
// limit is hit. Requests are admitted strictly in queue order; the returned
// log is in that order.
func (s *Scheduler) composePrefills(sbs []*SubBatch) []admission {
	var admitted []admission
	for s.waitQ.Len() > 0 {
		req := s.waitQ.Peek()
		sb := s.pickSubBatch(sbs, req.PromptLen, (*SubBatch).GPUTime)
		if sb == nil {
			s.deferReq(req, s.capacityReason(sbs))
			break
		}
		blocks := s.blocksFor(req)
		onGPU, ok := s.placePrefill(blocks)
		if !ok {
			s.deferReq(req, trace.ReasonNoBlocks)
			break
		}
		if !s.slots.Acquire(req) {
			logrus.Warnf("[iter %06d] block table full (%d slots), deferring %s", s.iteration, s.slots.Capacity(), req.TraceID)
			s.deferReq(req, trace.ReasonNoSlot)
			break
		}
		s.waitQ.Dequeue()
		s.reserve(req, blocks, onGPU)
		sb.AddPref(req, onGPU)
		admitted = append(admitted, admission{req: req, sb: sb, onGPU: onGPU})
	}
	return admitted
}

// placePrefill decides where the KV cache of a new request of the given size
// lives. ok is false when no allowed device has room.
func (s *Scheduler) placePrefill(blocks int) (onGPU, ok bool) {
	gpuFits := s.gpuBlocks+blocks <= s.cfg.NumGPUBlocks
	cpuFits := s.cpuBlocks+blocks <= s.cfg.NumCPUBlocks
	switch {
	case s.cfg.AlwaysUseGPU:
		return true, gpuFits
	case s.cfg.DisablePartialOffl:
		return false, cpuFits
	case gpuFits:
		return true, true
	default:
		return false, cpuFits
	}
}

// enforceGPUTime backs requests out of sbs until every sub-batch's estimated
// GPU time fits the budget. Prefills are retracted newest first across all
// sub-batches, so the wait queue keeps its admission order and no newer
// request holds blocks an older one gave back. GPU decodes go next. A
// sub-batch over budget always keeps at least one request.
func (s *Scheduler) enforceGPUTime(sbs []*SubBatch, admitted []admission) {
	for len(admitted) > 0 && s.prefillOverBudget(sbs) {
		last := admitted[len(admitted)-1]
		admitted = admitted[:len(admitted)-1]
		if req := last.sb.PopPrefOn(last.onGPU); req != last.req {
			panic(fmt.Sprintf("Scheduler.enforceGPUTime: popped %s, admitted %s", req.TraceID, last.req.TraceID))
		}
		s.unreserve(last.req)
		s.slots.Release(last.req)
		s.waitQ.PrependFront(last.req)
		s.deferReq(last.req, trace.ReasonTimeBudget)
	}
	for _, sb := range sbs {
		for s.overBudget(sb) && sb.NumGdecs() > 0 {
			s.deferReq(sb.RetractGdec(), trace.ReasonTimeBudget)
		}
	}
}

func (s *Scheduler) overBudget(sb *SubBatch) bool {
	return sb.GPUTime() > s.cfg.MaxGPUTime && sb.Len() > 1
}

// prefillOverBudget reports whether some sub-batch over budget still holds a
// prefill.
func (s *Scheduler) prefillOverBudget(sbs []*SubBatch) bool {
	for _, sb := range sbs {
		if s.overBudget(sb) && sb.NumPrefs() > 0 {
			return true
		}
	}
	return false
}

// composeCdec places a CPU-resident request as a CPU decode, keeping the
// sub-batch's CPU time within the GPU time it overlaps with.
func (s *Scheduler) composeCdec(sbs []*SubBatch, req *Request) {
	sb := s.pickSubBatch(sbs, 1, (*SubBatch).CPUTime)
	if sb == nil {
		s.deferReq(req, s.capacityReason(sbs))
		return
	}
	first := sb.NumCdecs() == 0
	sb.AddCdec(req)
	if !first && sb.CPUTime() > s.overlapGPUTime(sbs, sb) {
		sb.PopCdec()
		s.deferReq(req, trace.ReasonCPUBalance)
	}
}

// overlapGPUTime is the GPU time that sb's CPU work runs alongside: the other
// sub-batch's when sub-batches are pipelined, sb's own otherwise.
func (s *Scheduler) overlapGPUTime(sbs []*SubBatch, sb *SubBatch) float64 {
	if len(sbs) == 1 {
		return sb.GPUTime()
	}
	for i, cand := range sbs {
		if cand == sb {
			return sbs[(i+1)%len(sbs)].GPUTime()
		}
	}
	return sb.GPUTime()
}

// pickSubBatch returns the sub-batch with the lowest load that can take a
// request of the given width, or nil if none can.
func (s *Scheduler) pickSubBatch(sbs []*SubBatch, width int, load func(*SubBatch) float64) *SubBatch {
	var best *SubBatch
	var bestLoad float64
	for _, sb := range sbs {
		if sb.Len() >= s.cfg.MaxBatchSize || sb.PerfData().IterWidth()+width > s.cfg.MaxTokensInBatch {
			continue
		}
		l := load(sb)
		if best == nil || l < bestLoad || (l == bestLoad && sb.Len() < best.Len()) {
			best, bestLoad = sb, l
		}
	}
	return best
}

// capacityReason explains why pickSubBatch found no room.
func (s *Scheduler) capacityReason(sbs []*SubBatch) string {
	for _, sb := range sbs {
		if sb.Len() < s.cfg.MaxBatchSize {
			return trace.ReasonTokenBudget
		}
	}
	return trace.ReasonBatchSize
}

func (s *Scheduler) finalize(sbs []*SubBatch) []*ForwardBatch {
	var batches []*ForwardBatch
	for i, sb := range sbs {
		if sb.Len() == 0 {
			continue
		}
		gpuTime, cpuTime := sb.GPUTime(), sb.CPUTime()
		logrus.Debugf("[iter %06d] sub-batch %d: %s", s.iteration, i, sb)
		fb := sb.SetModelForwardArgs(s.model)
		rec := trace.CompositionRecord{
			Iteration:    s.iteration,
			SubBatch:     i,
			NumCprfs:     fb.NumCprfs,
			NumGprfs:     fb.NumGprfs,
			NumGdecs:     fb.NumGdecs,
			NumCdecs:     fb.NumCdecs,
			BatchSize:    fb.BatchSize,
			IterWidth:    fb.IterWidth,
			GPUTime:      gpuTime,
			CPUTime:      cpuTime,
			SeqBlockSize: fb.SeqBlockSize,
			NumSeqBlocks: fb.NumSeqBlocks,
		}
		if s.cfg.MonitorPerformance {
			logrus.Infof("[iter %06d] sub-batch %d: size %d, width %d, gpu %.3f, cpu %.3f, seq block %d",
				s.iteration, i, fb.BatchSize, fb.IterWidth, gpuTime, cpuTime, fb.SeqBlockSize)
		}
		if s.Trace.Enabled() {
			s.Trace.RecordComposition(rec)
		}
		s.Metrics.ObserveComposition(rec)
		batches = append(batches, fb)
	}
	return batches
}

// Apply records the sampled tokens of one finalized batch and retires the
// requests that finished. Returns the finished requests in batch order.
func (s *Scheduler) Apply(fb *ForwardBatch, outputToks []int) []*Request {
	finished := UpdateOutput(fb.AllReqs, outputToks)
	for _, req := range finished {
		s.retire(req)
		logrus.Debugf("[iter %06d] finished %s after %d tokens", s.iteration, req.TraceID, req.OutputLen)
	}
	s.Metrics.ObserveFinished(len(finished))
	s.Metrics.SetCapacity(s.slots.Available(), s.gpuBlocks, s.cpuBlocks)
	return finished
}

// Abort removes a queued or running request. It must not be called for a
// request in a batch whose outputs have not been applied yet.
func (s *Scheduler) Abort(req *Request) error {
	if s.waitQ.Remove(req) {
		return nil
	}
	if _, ok := s.reserved[req]; !ok {
		return fmt.Errorf("abort %s: %w", req.TraceID, ErrUnknownRequest)
	}
	s.retire(req)
	return nil
}

func (s *Scheduler) retire(req *Request) {
	res, ok := s.reserved[req]
	if !ok {
		panic(fmt.Sprintf("Scheduler.retire: %s holds no reservation", req.TraceID))
	}
	if res.onGPU {
		s.gpuRunning = removeRequest(s.gpuRunning, req)
	} else {
		s.cpuRunning = removeRequest(s.cpuRunning, req)
	}
	s.unreserve(req)
	s.slots.Release(req)
}

func (s *Scheduler) reserve(req *Request, blocks int, onGPU bool) {
	s.reserved[req] = reservation{blocks: blocks, onGPU: onGPU}
	if onGPU {
		s.gpuBlocks += blocks
	} else {
		s.cpuBlocks += blocks
	}
}

func (s *Scheduler) unreserve(req *Request) {
	res := s.reserved[req]
	delete(s.reserved, req)
	if res.onGPU {
		s.gpuBlocks -= res.blocks
	} else {
		s.cpuBlocks -= res.blocks
	}
}

// blocksFor is the number of KV blocks req needs at its maximum length.
func (s *Scheduler) blocksFor(req *Request) int {
	return (req.PromptLen + req.MaxOutputLen + s.cfg.BlockSize - 1) / s.cfg.BlockSize
}

// maxPlaceableBlocks is the largest reservation any allowed device could hold.
func (s *Scheduler) maxPlaceableBlocks() int {
	switch {
	case s.cfg.AlwaysUseGPU:
		return s.cfg.NumGPUBlocks
	case s.cfg.DisablePartialOffl:
		return s.cfg.NumCPUBlocks
	default:
		return max(s.cfg.NumGPUBlocks, s.cfg.NumCPUBlocks)
	}
}

func (s *Scheduler) deferReq(req *Request, reason string) {
	rec := trace.DeferralRecord{Iteration: s.iteration, TraceID: req.TraceID, Reason: reason}
	logrus.Debugf("[iter %06d] deferred %s: %s", s.iteration, req.TraceID, reason)
	if s.Trace.Enabled() {
		s.Trace.RecordDeferral(rec)
	}
	s.Metrics.ObserveDeferral(rec)
}

func removeRequest(reqs []*Request, req *Request) []*Request {
	for i, r := range reqs {
		if r == req {
			return append(reqs[:i], reqs[i+1:]...)
		}
	}
	return reqs
}

// Iteration returns the number of Step calls so far.
func (s *Scheduler) Iteration() int { return s.iteration }

// NumWaiting returns the number of requests waiting for prefill.
func (s *Scheduler) NumWaiting() int { return s.waitQ.Len() }

// NumRunning returns the number of running requests with GPU- and CPU-resident KV.
func (s *Scheduler) NumRunning() (gpu, cpu int) { return len(s.gpuRunning), len(s.cpuRunning) }

// UsedBlocks returns the reserved GPU and CPU KV blocks.
func (s *Scheduler) UsedBlocks() (gpu, cpu int) { return s.gpuBlocks, s.cpuBlocks }

// FreeSlots returns the number of unallocated request ids.
func (s *Scheduler) FreeSlots() int { return s.slots.Available() }
