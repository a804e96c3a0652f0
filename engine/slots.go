package engine

import (
	"fmt"

	"github.com/gammazero/deque"
)

// SlotAllocator hands out request ids, which index the block table. Released
// ids go to the back of the free list, so an id is reused as late as possible.
type SlotAllocator struct {
	free  deque.Deque[int]
	inUse []bool
}

// NewSlotAllocator creates an allocator for ids in [0, size).
func NewSlotAllocator(size int) *SlotAllocator {
	s := &SlotAllocator{inUse: make([]bool, size)}
	for id := 0; id < size; id++ {
		s.free.PushBack(id)
	}
	return s
}

// Acquire assigns a free id to req. Returns false if the block table is full.
func (s *SlotAllocator) Acquire(req *Request) bool {
	if req.RequestID >= 0 {
		panic(fmt.Sprintf("SlotAllocator.Acquire: %s already holds id %d", req.TraceID, req.RequestID))
	}
	if s.free.Len() == 0 {
		return false
	}
	id := s.free.PopFront()
	s.inUse[id] = true
	req.RequestID = id
	return true
}

// Release returns req's id to the free list and clears it on the request.
func (s *SlotAllocator) Release(req *Request) {
	id := req.RequestID
	if id < 0 || id >= len(s.inUse) || !s.inUse[id] {
		panic(fmt.Sprintf("SlotAllocator.Release: id %d of %s is not allocated", id, req.TraceID))
	}
	s.inUse[id] = false
	s.free.PushBack(id)
	req.RequestID = UnassignedID
}

// Available returns the number of free ids.
func (s *SlotAllocator) Available() int {
	return s.free.Len()
}

// Capacity returns the total number of ids.
func (s *SlotAllocator) Capacity() int {
	return len(s.inUse)
}
