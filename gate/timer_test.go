package gate

import (
	"sync"
	"testing"
	"time"
)

func TestTimerQueueFiresDueDeadlines(t *testing.T) {
	var mu sync.Mutex
	fired := make(map[string]time.Time)
	q := newTimerQueue(func(id string) {
		mu.Lock()
		fired[id] = time.Now()
		mu.Unlock()
	})
	defer q.Stop()

	now := time.Now()
	// Scheduled out of order on purpose.
	q.Schedule("late", now.Add(120*time.Millisecond))
	q.Schedule("early", now.Add(40*time.Millisecond))
	q.Schedule("overdue", now.Add(-time.Second))

	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 3 {
		t.Fatalf("fired = %d deadlines, want 3", len(fired))
	}
	if !fired["early"].Before(fired["late"]) {
		t.Fatal("deadlines fired out of order")
	}
}

func TestTimerQueueStop(t *testing.T) {
	fired := make(chan string, 1)
	q := newTimerQueue(func(id string) { fired <- id })

	q.Schedule("after-stop", time.Now().Add(50*time.Millisecond))
	q.Stop()

	select {
	case id := <-fired:
		t.Fatalf("deadline %s fired after Stop", id)
	case <-time.After(200 * time.Millisecond):
	}
}
