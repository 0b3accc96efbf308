// Package liquidation implements the priority-queued, shard-parallel
// liquidation scheduler of spec.md §4.E.
package liquidation

import (
	"container/heap"
	"sync"

	"versecore/internal/apperr"
	"versecore/internal/idgen"
	"versecore/pkg/fx"
)

// MaxQueueSize is the spec.md §4.E queue capacity.
const MaxQueueSize = 10_000

// Candidate is a position awaiting liquidation, scored for priority
// ordering (spec.md §4.E: "higher for lower health, larger size,
// higher leverage").
type Candidate struct {
	PositionID       idgen.ID256
	ProposalID       idgen.ID128
	HealthRatioMicro int64 // 1_000_000 == healthy (1.0); lower is worse
	Size             fx.Fx
	Leverage         fx.Fx
	EntryPrice       fx.Fx
	LiquidationPrice fx.Fx
	IsLong           bool

	PriorityScore int64
	AddedSlot     uint64
	Attempts      int
}

// PriorityScore implements the reference scoring formula: larger for
// unhealthier, larger, more leveraged positions.
func PriorityScore(healthRatioMicro int64, size, leverage fx.Fx) int64 {
	healthScore := int64(1_000_000) - healthRatioMicro
	if healthScore < 0 {
		healthScore = 0
	}
	sizeScore := size.ToMicro() / 1_000_000
	leverageScore := (leverage.ToMicro() / 1_000_000) * 100
	return healthScore + sizeScore + leverageScore
}

// candidateHeap is a max-heap on PriorityScore, tie-broken by lower
// health ratio then earlier AddedSlot then PositionID (spec.md §5:
// "broken ties by insertion slot then candidate id").
type candidateHeap []*Candidate

func (h candidateHeap) Len() int { return len(h) }
func (h candidateHeap) Less(i, j int) bool {
	if h[i].PriorityScore != h[j].PriorityScore {
		return h[i].PriorityScore > h[j].PriorityScore
	}
	if h[i].HealthRatioMicro != h[j].HealthRatioMicro {
		return h[i].HealthRatioMicro < h[j].HealthRatioMicro
	}
	if h[i].AddedSlot != h[j].AddedSlot {
		return h[i].AddedSlot < h[j].AddedSlot
	}
	return h[i].PositionID.String() < h[j].PositionID.String()
}
func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) {
	*h = append(*h, x.(*Candidate))
}
func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is the single-producer, single-batch-dispatch priority queue
// of spec.md §4.E. Admission is the only synchronization point.
type Queue struct {
	mu      sync.Mutex
	heap    candidateHeap
	byID    map[[32]byte]*Candidate
	maxSize int
}

// NewQueue constructs a Queue with the given capacity.
func NewQueue(maxSize int) *Queue {
	q := &Queue{
		heap:    make(candidateHeap, 0, maxSize),
		byID:    make(map[[32]byte]*Candidate),
		maxSize: maxSize,
	}
	heap.Init(&q.heap)
	return q
}

// Admit inserts a candidate. On overflow, the lowest-priority entry is
// evicted only if the new candidate's priority is strictly higher;
// otherwise the new candidate is rejected with QueueFull (spec.md §8
// boundary: "evicts the current lowest-priority candidate iff the new
// candidate's priority is strictly higher").
func (q *Queue) Admit(c *Candidate) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := c.PositionID.Key()
	if existing, ok := q.byID[key]; ok {
		// Re-admission of an already-queued position updates it in place.
		existing.PriorityScore = c.PriorityScore
		existing.HealthRatioMicro = c.HealthRatioMicro
		heap.Fix(&q.heap, indexOf(q.heap, key))
		return nil
	}

	if len(q.heap) >= q.maxSize {
		lowest := lowestPriority(q.heap)
		if lowest == nil || c.PriorityScore <= lowest.PriorityScore {
			return apperr.New(apperr.QueueFull, "liquidation queue full, candidate does not outrank the lowest entry")
		}
		q.removeLocked(lowest.PositionID.Key())
	}

	q.byID[key] = c
	heap.Push(&q.heap, c)
	return nil
}

// NextBatch pops up to n highest-priority candidates.
func (q *Queue) NextBatch(n int) []*Candidate {
	q.mu.Lock()
	defer q.mu.Unlock()

	batch := make([]*Candidate, 0, n)
	for i := 0; i < n && q.heap.Len() > 0; i++ {
		c := heap.Pop(&q.heap).(*Candidate)
		delete(q.byID, c.PositionID.Key())
		batch = append(batch, c)
	}
	return batch
}

// Requeue reinserts a candidate (e.g. after a transient failure),
// incrementing its attempt count by the caller beforehand.
func (q *Queue) Requeue(c *Candidate) error {
	return q.Admit(c)
}

// Remove drops a position from the queue if present (e.g. it closed
// voluntarily before liquidation fired).
func (q *Queue) Remove(id idgen.ID256) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(id.Key())
}

func (q *Queue) removeLocked(key [32]byte) {
	delete(q.byID, key)
	idx := indexOf(q.heap, key)
	if idx >= 0 {
		heap.Remove(&q.heap, idx)
	}
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

func indexOf(h candidateHeap, key [32]byte) int {
	for i, c := range h {
		if c.PositionID.Key() == key {
			return i
		}
	}
	return -1
}

func lowestPriority(h candidateHeap) *Candidate {
	if len(h) == 0 {
		return nil
	}
	lowest := h[0]
	for _, c := range h {
		if c.PriorityScore < lowest.PriorityScore {
			lowest = c
		}
	}
	return lowest
}
