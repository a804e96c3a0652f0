package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputQueue_FIFO(t *testing.T) {
	q := NewOutputQueue()
	q.Put(StepOutput{TokenID: 1})
	q.Put(StepOutput{TokenID: 2})

	assert.Equal(t, 2, q.Len())
	first, _ := q.TryGet()
	second, _ := q.TryGet()
	_, ok := q.TryGet()
	assert.Equal(t, 1, first.TokenID)
	assert.Equal(t, 2, second.TokenID)
	assert.False(t, ok)
}

func TestOutputQueue_Get_CancelledContext(t *testing.T) {
	// GIVEN an empty queue and a cancelled context
	q := NewOutputQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// WHEN Get is called
	_, err := q.Get(ctx)

	// THEN it returns the context error instead of blocking
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOutputQueue_Get_ConcurrentProducer(t *testing.T) {
	// GIVEN a producer that puts outputs while the consumer is blocked in Get
	q := NewOutputQueue()
	const n = 500
	go func() {
		for i := 0; i < n; i++ {
			q.Put(StepOutput{TokenID: i})
		}
	}()

	// WHEN the single consumer drains them
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < n; i++ {
		out, err := q.Get(ctx)
		require.NoError(t, err)

		// THEN every output arrives once and in order
		if out.TokenID != i {
			t.Fatalf("output %d: got token %d", i, out.TokenID)
		}
	}
	assert.Equal(t, 0, q.Len())
}

func TestRequest_Stream_DeliversAllOutputsInOrder(t *testing.T) {
	// GIVEN a request that will produce 3 tokens
	req := NewRequest(RawRequest{PromptTokenIDs: []int{1}, MaxOutputLen: 3})
	req.RequestID = 0
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// WHEN a consumer streams while the producer applies steps
	got := make(chan []int, 1)
	errc := make(chan error, 1)
	go func() {
		var toks []int
		errc <- req.Stream(ctx, func(out StepOutput) error {
			toks = append(toks, out.TokenID)
			return nil
		})
		got <- toks
	}()
	for _, tok := range []int{7, 8, 9} {
		UpdateOutput([]*Request{req}, []int{tok})
	}

	// THEN the consumer sees every token and stops after the last
	require.NoError(t, <-errc)
	assert.Equal(t, []int{7, 8, 9}, <-got)
	assert.NoError(t, req.Wait(ctx))
}

func TestRequest_Wait_AfterFinish_ReturnsImmediately(t *testing.T) {
	// GIVEN a request that has already finished
	req := CreateRequest([]int{1}, 0, nil, true)
	UpdateOutput([]*Request{req}, []int{1})

	// WHEN a late waiter subscribes
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// THEN it observes completion without blocking
	assert.NoError(t, req.Wait(ctx))
}

func TestRequest_Wait_ContextDone(t *testing.T) {
	req := CreateRequest([]int{1}, 0, nil, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, req.Wait(ctx), context.Canceled)
}
