package evaluator

import (
	"container/heap"
	"time"

	"controlling_reservoir/internal/models"
)

type job struct {
	decision models.Decision
	due      time.Time
	seq      uint64
}

// jobQueue is a min-heap by due time; seq keeps equal due times in scheduling order.
type jobQueue []job

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].seq < q[j].seq
	}
	return q[i].due.Before(q[j].due)
}

func (q jobQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *jobQueue) Push(x any) { *q = append(*q, x.(job)) }

func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}

func (q *jobQueue) push(j job) { heap.Push(q, j) }

func (q *jobQueue) pop() job { return heap.Pop(q).(job) }

func (q jobQueue) peek() (job, bool) {
	if len(q) == 0 {
		return job{}, false
	}
	return q[0], true
}
