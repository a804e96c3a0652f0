package engine

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// TransferView is the part of a Request sent to a worker process each
// iteration. It carries only what the worker has not seen yet: the full prompt
// while nothing has been generated, afterwards only the latest output token.
type TransferView struct {
	PromptTokenIDs []int `cbor:"1,keyasint,omitempty"`
	OutputTokenIDs []int `cbor:"2,keyasint,omitempty"`
	PromptLen      int   `cbor:"3,keyasint"`
	OutputLen      int   `cbor:"4,keyasint"`
	MaxOutputLen   int   `cbor:"5,keyasint"`
	RequestID      int   `cbor:"6,keyasint"`
}

// TransferView returns the unsent increment of r.
func (r *Request) TransferView() TransferView {
	v := TransferView{
		PromptLen:    r.PromptLen,
		OutputLen:    r.OutputLen,
		MaxOutputLen: r.MaxOutputLen,
		RequestID:    r.RequestID,
	}
	if r.OutputLen == 0 {
		v.PromptTokenIDs = r.PromptTokenIDs
	} else {
		v.OutputTokenIDs = r.OutputTokenIDs[len(r.OutputTokenIDs)-1:]
	}
	return v
}

// RequestFromTransfer rebuilds a Request from a view. The result has its output
// queue and completion signal initialized and accepts further UpdateOutput calls.
func RequestFromTransfer(v TransferView) *Request {
	req := NewRequest(RawRequest{MaxOutputLen: v.MaxOutputLen})
	req.PromptTokenIDs = v.PromptTokenIDs
	req.OutputTokenIDs = append([]int(nil), v.OutputTokenIDs...)
	req.PromptLen = v.PromptLen
	req.OutputLen = v.OutputLen
	req.RequestID = v.RequestID
	return req
}

// ApplyTransfer advances a mirrored request to the state described by v.
// A view must be either the same step (no-op) or exactly one step ahead.
func (r *Request) ApplyTransfer(v TransferView) error {
	if v.RequestID != r.RequestID {
		return fmt.Errorf("apply transfer: view for request %d applied to request %d", v.RequestID, r.RequestID)
	}
	switch v.OutputLen {
	case r.OutputLen:
		return nil
	case r.OutputLen + 1:
		if len(v.OutputTokenIDs) != 1 {
			return fmt.Errorf("apply transfer: request %d step %d carries %d output tokens, want 1",
				v.RequestID, v.OutputLen, len(v.OutputTokenIDs))
		}
		r.OutputTokenIDs = append(r.OutputTokenIDs, v.OutputTokenIDs[0])
		r.OutputLen = v.OutputLen
		return nil
	default:
		return fmt.Errorf("apply transfer: request %d at step %d cannot apply step %d", r.RequestID, r.OutputLen, v.OutputLen)
	}
}

// GetTransferViews returns the views of reqs in order.
func GetTransferViews(reqs []*Request) []TransferView {
	views := make([]TransferView, len(reqs))
	for i, req := range reqs {
		views[i] = req.TransferView()
	}
	return views
}

// TransferViews returns the views of the batch's requests in batch order.
func (fb *ForwardBatch) TransferViews() []TransferView {
	return GetTransferViews(fb.AllReqs)
}

// EncodeTransfer serializes views in order.
func EncodeTransfer(views []TransferView) ([]byte, error) {
	data, err := cbor.Marshal(views)
	if err != nil {
		return nil, fmt.Errorf("encode transfer views: %w", err)
	}
	return data, nil
}

// DecodeTransfer parses data produced by EncodeTransfer.
func DecodeTransfer(data []byte) ([]TransferView, error) {
	var views []TransferView
	if err := cbor.Unmarshal(data, &views); err != nil {
		return nil, fmt.Errorf("decode transfer views: %w", err)
	}
	return views, nil
}

// RequestMirror is a worker-side table of requests keyed by request id,
// kept in sync from transfer views.
type RequestMirror struct {
	reqs map[int]*Request
}

func NewRequestMirror() *RequestMirror {
	return &RequestMirror{reqs: make(map[int]*Request)}
}

// Sync applies views and returns the mirrored requests in view order.
// A view with no output yet starts a new occupant of its slot.
func (m *RequestMirror) Sync(views []TransferView) ([]*Request, error) {
	out := make([]*Request, len(views))
	for i, v := range views {
		if v.RequestID < 0 {
			return nil, fmt.Errorf("mirror sync: view %d has no request id", i)
		}
		req, ok := m.reqs[v.RequestID]
		if !ok || v.OutputLen == 0 {
			if len(v.PromptTokenIDs) != v.PromptLen {
				return nil, fmt.Errorf("mirror sync: new request %d carries %d of %d prompt tokens",
					v.RequestID, len(v.PromptTokenIDs), v.PromptLen)
			}
			req = RequestFromTransfer(v)
			m.reqs[v.RequestID] = req
		} else if err := req.ApplyTransfer(v); err != nil {
			return nil, fmt.Errorf("mirror sync: %w", err)
		}
		out[i] = req
	}
	return out, nil
}

// Forget drops retired request ids from the table.
func (m *RequestMirror) Forget(ids ...int) {
	for _, id := range ids {
		delete(m.reqs, id)
	}
}

// Len returns the number of mirrored requests.
func (m *RequestMirror) Len() int {
	return len(m.reqs)
}
