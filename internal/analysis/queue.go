package analysis

import (
	"context"
	"sync/atomic"
	"time"
)

type jobKey struct {
	clipID string
	kind   string
}

// job is one queued or running worker
type job struct {
	clipID    string
	kind      Kind
	Priority  int
	Timestamp time.Time
	Index     int

	ctx     context.Context
	cancel  context.CancelFunc
	stopped atomic.Bool
}

func (j *job) key() jobKey {
	return jobKey{clipID: j.clipID, kind: j.kind.Value}
}

// stop raises the cooperative stop flag and cancels the job context
func (j *job) stop() {
	j.stopped.Store(true)
	j.cancel()
}

// PriorityQueue orders pending jobs by priority, then submission time
type PriorityQueue []*job

func (pq PriorityQueue) Len() int { return len(pq) }

func (pq PriorityQueue) Less(i, j int) bool {
	// Higher priority first
	if pq[i].Priority != pq[j].Priority {
		return pq[i].Priority > pq[j].Priority
	}
	// If same priority, FIFO (earlier timestamp first)
	return pq[i].Timestamp.Before(pq[j].Timestamp)
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].Index = i
	pq[j].Index = j
}

func (pq *PriorityQueue) Push(x interface{}) {
	n := len(*pq)
	item := x.(*job)
	item.Index = n
	*pq = append(*pq, item)
}

func (pq *PriorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	*pq = old[0 : n-1]
	return item
}
