package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest_PreTokenized_SetsPrompt(t *testing.T) {
	// GIVEN a raw request with prompt token ids
	raw := RawRequest{PromptTokenIDs: []int{5, 6, 7}, MaxOutputLen: 4}

	// WHEN a Request is created
	req := NewRequest(raw)

	// THEN the prompt is set, the id is unassigned and a trace id is generated
	assert.Equal(t, 3, req.PromptLen)
	assert.Equal(t, UnassignedID, req.RequestID)
	assert.Equal(t, StateQueued, req.State())
	_, err := uuid.Parse(req.TraceID)
	assert.NoError(t, err)

	// AND the prompt is a copy
	raw.PromptTokenIDs[0] = 99
	assert.Equal(t, 5, req.PromptTokenIDs[0])
}

func TestNewRequest_TextPrompt_WaitsForTokenizer(t *testing.T) {
	req := NewRequest(RawRequest{Prompt: "hello", MaxOutputLen: 1})

	assert.Equal(t, StateTokenizing, req.State())
	req.SetPromptTokens([]int{1, 2})
	assert.Equal(t, StateQueued, req.State())
	assert.Panics(t, func() { req.SetPromptTokens([]int{3}) })
}

func TestCreateRequest_QuickStop(t *testing.T) {
	// GIVEN a request that already generated two tokens
	quick := CreateRequest([]int{1, 2, 3}, 7, []int{10, 11}, true)
	slow := CreateRequest([]int{1, 2, 3}, 8, []int{10, 11}, false)

	// THEN quickStop finishes after one more token
	assert.Equal(t, 3, quick.MaxOutputLen)
	assert.Equal(t, 5, quick.SeqLen())
	assert.Equal(t, 7, quick.RequestID)
	assert.Greater(t, slow.MaxOutputLen, 1_000_000)
	assert.Equal(t, StateDecoding, slow.State())
}

func TestUpdateOutput_AppendsAndReportsFinished(t *testing.T) {
	// GIVEN one request one token from finishing and one far from it
	a := CreateRequest([]int{1}, 0, nil, true)
	b := CreateRequest([]int{1, 2}, 1, nil, false)

	// WHEN a step produces tokens 40 and 41
	finished := UpdateOutput([]*Request{a, b}, []int{40, 41})

	// THEN only the first finished, and both got their token
	require.Len(t, finished, 1)
	assert.Same(t, a, finished[0])
	assert.Equal(t, []int{40}, a.OutputTokenIDs)
	assert.Equal(t, []int{41}, b.OutputTokenIDs)
	assert.Equal(t, StateFinished, a.State())
	assert.Equal(t, StateDecoding, b.State())

	// AND the outputs were queued with the finishing flag
	out, ok := a.Outputs().TryGet()
	require.True(t, ok)
	assert.Equal(t, StepOutput{TokenID: 40, Request: a, Finished: true}, out)
	out, ok = b.Outputs().TryGet()
	require.True(t, ok)
	assert.False(t, out.Finished)

	select {
	case <-a.Done():
	default:
		t.Error("Done() not closed for finished request")
	}
}

func TestUpdateOutput_LengthMismatch_Panics(t *testing.T) {
	req := CreateRequest([]int{1}, 0, nil, false)
	assert.Panics(t, func() { UpdateOutput([]*Request{req}, []int{1, 2}) })
}

func TestUpdateOutput_PastMaxOutput_Panics(t *testing.T) {
	// GIVEN a finished request
	req := CreateRequest([]int{1}, 0, nil, true)
	UpdateOutput([]*Request{req}, []int{1})

	// THEN another output is a contract violation
	assert.Panics(t, func() { UpdateOutput([]*Request{req}, []int{2}) })
}

func TestGetInputTokens_PromptOrLastOutput(t *testing.T) {
	fresh := CreateRequest([]int{1, 2, 3}, 0, nil, false)
	decoding := CreateRequest([]int{4, 5}, 1, []int{8, 9}, false)

	assert.Equal(t, []int{1, 2, 3, 9}, GetInputTokens([]*Request{fresh, decoding}))
	assert.Equal(t, []int{0, 1}, GetIDs([]*Request{fresh, decoding}))
	assert.Equal(t, []int{3, 4}, GetLens([]*Request{fresh, decoding}))
}
