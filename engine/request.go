// Defines the Request struct that models an individual generation request in the engine.
// Tracks prompt/output tokens, progress counters, and the output channel used for streaming.

package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// RequestState represents the lifecycle state of a request.
// Prefill/decode placement (GPU or CPU) is a per-iteration decision recorded
// by SubBatch categories, not a request state.
type RequestState string

const (
	StateTokenizing RequestState = "tokenizing"
	StateQueued     RequestState = "queued"
	StateDecoding   RequestState = "decoding"
	StateFinished   RequestState = "finished"
)

// UnassignedID marks a request that has not been given a block-table slot yet.
const UnassignedID = -1

// RawRequest is a request as issued by a user. Exactly one of Prompt and
// PromptTokenIDs is expected to be set.
type RawRequest struct {
	Prompt         string
	PromptTokenIDs []int
	MaxOutputLen   int
}

// StepOutput is the output of one decoding step for one request.
type StepOutput struct {
	TokenID  int
	Request  *Request
	Finished bool // true on the step that completed the request
}

type Request struct {
	RequestID int    // Slot index into the block table, within [0, MaxSeqsInBlockTable); -1 until assigned
	TraceID   string // Correlation id for logs and traces

	PromptTokenIDs []int // Prompt token ids, set by the tokenizer upon arrival
	PromptLen      int   // len(PromptTokenIDs)
	OutputLen      int   // Current output length
	MaxOutputLen   int   // Final output length

	OutputTokenIDs []int // Generated token ids, one per completed decode step

	outputs    *OutputQueue
	done       chan struct{}
	finishOnce sync.Once
}

// NewRequest creates a Request from a raw request with empty buffers and an
// unassigned id. If the raw request is pre-tokenized, the prompt is set immediately.
func NewRequest(raw RawRequest) *Request {
	req := &Request{
		RequestID:    UnassignedID,
		TraceID:      uuid.NewString(),
		MaxOutputLen: raw.MaxOutputLen,
		outputs:      NewOutputQueue(),
		done:         make(chan struct{}),
	}
	if len(raw.PromptTokenIDs) > 0 {
		req.SetPromptTokens(raw.PromptTokenIDs)
	}
	return req
}

// CreateRequest builds a tokenized request directly from token ids, as if it had
// already generated outputTokenIDs. With quickStop the request finishes after one
// more token; otherwise it effectively never finishes.
func CreateRequest(promptTokenIDs []int, requestID int, outputTokenIDs []int, quickStop bool) *Request {
	req := NewRequest(RawRequest{})
	req.SetPromptTokens(promptTokenIDs)
	req.OutputTokenIDs = append([]int(nil), outputTokenIDs...)
	req.OutputLen = len(req.OutputTokenIDs)
	if quickStop {
		req.MaxOutputLen = req.OutputLen + 1
	} else {
		req.MaxOutputLen = 1_000_000_000
	}
	req.RequestID = requestID
	return req
}

// SetPromptTokens records the tokenizer output. The prompt is fixed once set.
func (r *Request) SetPromptTokens(ids []int) {
	if r.PromptLen != 0 {
		panic(fmt.Sprintf("Request.SetPromptTokens: prompt of %s already set", r.TraceID))
	}
	r.PromptTokenIDs = append([]int(nil), ids...)
	r.PromptLen = len(r.PromptTokenIDs)
}

// SeqLen is the number of tokens whose KV entries the request currently needs.
func (r *Request) SeqLen() int {
	return r.PromptLen + r.OutputLen
}

// IsFinished reports whether the request has produced all of its output.
func (r *Request) IsFinished() bool {
	return r.OutputLen == r.MaxOutputLen
}

// State derives the lifecycle state from the progress counters.
func (r *Request) State() RequestState {
	switch {
	case r.PromptLen > 0 && r.IsFinished():
		return StateFinished
	case r.OutputLen > 0:
		return StateDecoding
	case r.PromptLen == 0:
		return StateTokenizing
	default:
		return StateQueued
	}
}

// Outputs returns the request's streaming output queue.
func (r *Request) Outputs() *OutputQueue {
	return r.outputs
}

// Done returns a channel that is closed once the request finishes.
// Waiters subscribing after completion observe it immediately.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

func (r *Request) markFinished() {
	r.finishOnce.Do(func() { close(r.done) })
}

func (r *Request) String() string {
	return fmt.Sprintf("Request: (ID: %d, Trace: %s, PromptLen: %d, Output: %d/%d)",
		r.RequestID, r.TraceID, r.PromptLen, r.OutputLen, r.MaxOutputLen)
}

// GetIDs returns the request ids of reqs in order.
func GetIDs(reqs []*Request) []int {
	ids := make([]int, len(reqs))
	for i, req := range reqs {
		ids[i] = req.RequestID
	}
	return ids
}

// GetLens returns the sequence lengths of reqs in order.
func GetLens(reqs []*Request) []int {
	lens := make([]int, len(reqs))
	for i, req := range reqs {
		lens[i] = req.SeqLen()
	}
	return lens
}

// GetInputTokens concatenates the forward-pass input of reqs: the whole prompt
// for requests that have not generated anything yet, the last output token otherwise.
func GetInputTokens(reqs []*Request) []int {
	var toks []int
	for _, req := range reqs {
		if req.OutputLen == 0 {
			toks = append(toks, req.PromptTokenIDs...)
		} else {
			toks = append(toks, req.OutputTokenIDs[len(req.OutputTokenIDs)-1])
		}
	}
	return toks
}

// UpdateOutput applies one sampled token to each request. reqs must be in the
// order the output tokens were produced. Returns the requests that finished,
// in input order.
func UpdateOutput(reqs []*Request, outputToks []int) []*Request {
	if len(reqs) != len(outputToks) {
		panic(fmt.Sprintf("UpdateOutput: number of requests %d and output tokens %d do not match", len(reqs), len(outputToks)))
	}
	var finished []*Request
	for i, req := range reqs {
		if req.OutputLen >= req.MaxOutputLen {
			panic(fmt.Sprintf("UpdateOutput: %s already produced %d/%d tokens", req.TraceID, req.OutputLen, req.MaxOutputLen))
		}
		tok := outputToks[i]
		req.OutputLen++
		req.OutputTokenIDs = append(req.OutputTokenIDs, tok)
		done := req.IsFinished()
		req.outputs.Put(StepOutput{TokenID: tok, Request: req, Finished: done})
		if done {
			req.markFinished()
			finished = append(finished, req)
		}
	}
	return finished
}
