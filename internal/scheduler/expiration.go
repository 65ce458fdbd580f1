// Package scheduler notifies an observer when tracked orders go stale.
package scheduler

import (
	"container/heap"
	"sync"
	"time"
)

// Observer receives the identifier of each entry as it expires, in
// chronological order.
type Observer func(id string)

type entry struct {
	id    string
	ms    int64
	seq   uint64
	index int
}

// entryHeap orders entries by expiration instant, ties broken by insertion.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].ms != h[j].ms {
		return h[i].ms < h[j].ms
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// ExpirationScheduler keeps a time-ordered set of (id, expiration) pairs and
// fires the observer for each as it expires. A single deferred timer is
// rearmed on every mutation that moves the earliest deadline; idle cost is
// one pending timer regardless of entry count. It cannot fail; clock drift
// is environment noise.
type ExpirationScheduler struct {
	mu       sync.Mutex
	entries  entryHeap
	byID     map[string]*entry
	timer    *time.Timer
	armedFor int64
	observer Observer
	closed   bool
	seq      uint64

	now func() time.Time
}

func New() *ExpirationScheduler {
	return &ExpirationScheduler{
		byID: make(map[string]*entry),
		now:  time.Now,
	}
}

// AddOrder inserts or updates the expiration instant (unix milliseconds) for
// an identifier. Adding an entry earlier than the current earliest rearms
// the timer; a later entry leaves it alone.
func (s *ExpirationScheduler) AddOrder(id string, expirationMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if e, ok := s.byID[id]; ok {
		e.ms = expirationMs
		heap.Fix(&s.entries, e.index)
	} else {
		s.seq++
		e := &entry{id: id, ms: expirationMs, seq: s.seq}
		heap.Push(&s.entries, e)
		s.byID[id] = e
	}
	s.rearmLocked()
}

// RemoveOrder drops a tracked identifier; unknown ids are ignored.
func (s *ExpirationScheduler) RemoveOrder(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return
	}
	heap.Remove(&s.entries, e.index)
	delete(s.byID, id)
	// The timer may now fire early; it will find nothing due and rearm.
}

// Subscribe registers the single observer. The last registration wins.
func (s *ExpirationScheduler) Subscribe(obs Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.observer = obs
}

// Unsubscribe permanently stops notification and cancels any pending timer.
// Idempotent.
func (s *ExpirationScheduler) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.observer = nil
	s.entries = nil
	s.byID = map[string]*entry{}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.armedFor = 0
}

// Pending reports the number of tracked entries.
func (s *ExpirationScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// rearmLocked arms the timer for the earliest entry. The previous timer is
// always stopped first; there is never more than one live timer.
func (s *ExpirationScheduler) rearmLocked() {
	if s.closed || len(s.entries) == 0 {
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.armedFor = 0
		return
	}

	earliest := s.entries[0].ms
	if s.timer != nil && s.armedFor != 0 && earliest >= s.armedFor {
		return
	}

	if s.timer != nil {
		s.timer.Stop()
	}
	delay := time.Duration(earliest-s.now().UnixMilli()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	s.armedFor = earliest
	s.timer = time.AfterFunc(delay, s.onTimer)
}

func (s *ExpirationScheduler) onTimer() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.armedFor = 0

	now := s.now().UnixMilli()
	var due []string
	for len(s.entries) > 0 && s.entries[0].ms <= now {
		e := heap.Pop(&s.entries).(*entry)
		delete(s.byID, e.id)
		due = append(due, e.id)
	}
	s.rearmLocked()
	obs := s.observer
	s.mu.Unlock()

	if obs == nil {
		return
	}
	for _, id := range due {
		obs(id)
	}
}
