package gate

import (
	"container/heap"
	"sync"
	"time"
)

// timerQueue services every auto-resume deadline from one goroutine over
// a min-heap, instead of one timer goroutine per pending approval.
type timerQueue struct {
	fire func(id string)

	mu sync.Mutex
	h  deadlineHeap

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type deadline struct {
	id string
	at time.Time
}

func newTimerQueue(fire func(id string)) *timerQueue {
	q := &timerQueue{
		fire: fire,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *timerQueue) Schedule(id string, at time.Time) {
	q.mu.Lock()
	heap.Push(&q.h, deadline{id: id, at: at})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *timerQueue) Stop() {
	q.closeOnce.Do(func() { close(q.done) })
}

func (q *timerQueue) loop() {
	for {
		q.mu.Lock()
		var wait time.Duration
		if len(q.h) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(q.h[0].at)
		}
		q.mu.Unlock()

		if wait <= 0 {
			q.fireDue()
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-q.done:
			timer.Stop()
			return
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
			q.fireDue()
		}
	}
}

func (q *timerQueue) fireDue() {
	now := time.Now()
	var due []string

	q.mu.Lock()
	for len(q.h) > 0 && !q.h[0].at.After(now) {
		due = append(due, heap.Pop(&q.h).(deadline).id)
	}
	q.mu.Unlock()

	// Fire outside the lock; the callback re-checks record status.
	for _, id := range due {
		select {
		case <-q.done:
			return
		default:
		}
		q.fire(id)
	}
}

type deadlineHeap []deadline

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x any)         { *h = append(*h, x.(deadline)) }
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
