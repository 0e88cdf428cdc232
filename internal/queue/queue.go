package queue

import (
	"container/heap"
	"sync"

	"github.com/galhardo1999/albumcraft-pro-sub000/internal/model"
)

// Queue holds waiting jobs ordered by priority (highest first), then by
// submission order. It is safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	items    jobHeap
	maxDepth int
	next     int64 // sequence for regular pushes
	front    int64 // sequence for retries, counts down
}

// New creates a queue holding at most maxDepth jobs. Zero means unbounded.
func New(maxDepth int) *Queue {
	return &Queue{maxDepth: maxDepth, front: -1}
}

// Push enqueues job behind every waiting job of the same priority.
// It fails with model.ErrBackpressureRejected when the queue is full.
func (q *Queue) Push(job *model.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxDepth > 0 && len(q.items) >= q.maxDepth {
		return model.ErrBackpressureRejected
	}

	heap.Push(&q.items, &entry{job: job, seq: q.next})
	q.next++

	return nil
}

// PushFront enqueues job ahead of every waiting job of the same priority.
// Used for retries, which already hold a place and bypass the depth limit.
func (q *Queue) PushFront(job *model.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	heap.Push(&q.items, &entry{job: job, seq: q.front})
	q.front--
}

// Pop removes and returns the next job to dispatch.
func (q *Queue) Pop() (*model.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}

	e := heap.Pop(&q.items).(*entry)

	return e.job, true
}

// Len returns the number of waiting jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// Count returns the number of waiting jobs submitted by sessionID.
func (q *Queue) Count(sessionID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, e := range q.items {
		if e.job.Payload.SessionID == sessionID {
			n++
		}
	}

	return n
}

// RemoveSession drops every waiting job of sessionID and returns them in dispatch order.
func (q *Queue) RemoveSession(sessionID string) []*model.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var removed []*entry
	kept := q.items[:0]
	for _, e := range q.items {
		if e.job.Payload.SessionID == sessionID {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
	heap.Init(&q.items)

	order := jobHeap(removed)
	heap.Init(&order)
	jobs := make([]*model.Job, 0, len(removed))
	for order.Len() > 0 {
		jobs = append(jobs, heap.Pop(&order).(*entry).job)
	}

	return jobs
}

type entry struct {
	job *model.Job
	seq int64
}

// jobHeap implements heap.Interface.
type jobHeap []*entry

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}

	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*entry)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return e
}
