package actor

import (
	"container/heap"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// WakeFunc is invoked, in its own goroutine, when an entity's deadline fires.
type WakeFunc func(entityKey string)

type wakeEntry struct {
	key   string
	at    time.Time
	index int
}

// wakeHeap orders pending deadlines, earliest first.
type wakeHeap []*wakeEntry

func (h wakeHeap) Len() int { return len(h) }

func (h wakeHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }

func (h wakeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *wakeHeap) Push(x interface{}) {
	entry := x.(*wakeEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *wakeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}

// Scheduler owns every actor's single pending wake deadline. Each entity key
// has zero or one deadline; scheduling replaces any pending one. A single
// goroutine sleeps until the earliest deadline and dispatches wakes, each in
// its own goroutine so slow entities do not delay the rest.
type Scheduler struct {
	log zerolog.Logger

	mu      sync.Mutex
	heap    wakeHeap
	entries map[string]*wakeEntry
	kick    chan struct{}
	stopCh  chan struct{}
	wake    WakeFunc
	started bool
	wg      sync.WaitGroup
}

func NewScheduler(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		log:     log.With().Str("component", "wake-scheduler").Logger(),
		entries: make(map[string]*wakeEntry),
		kick:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// Start begins dispatching to the given WakeFunc.
func (s *Scheduler) Start(wake WakeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.wake = wake
	s.stopCh = make(chan struct{})
	s.started = true
	s.wg.Add(1)
	go s.loop()
}

// Stop halts dispatching. Pending deadlines are kept in memory but no longer
// fire; in-flight wakes complete on their own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
}

// Schedule sets the entity's wake deadline, replacing any pending one.
func (s *Scheduler) Schedule(entityKey string, at time.Time) {
	s.mu.Lock()
	if entry, ok := s.entries[entityKey]; ok {
		entry.at = at
		heap.Fix(&s.heap, entry.index)
	} else {
		entry = &wakeEntry{key: entityKey, at: at}
		heap.Push(&s.heap, entry)
		s.entries[entityKey] = entry
	}
	s.mu.Unlock()

	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Cancel removes the entity's pending deadline, if any.
func (s *Scheduler) Cancel(entityKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[entityKey]
	if !ok {
		return
	}
	heap.Remove(&s.heap, entry.index)
	delete(s.entries, entityKey)
}

// NextWake reports the entity's pending deadline.
func (s *Scheduler) NextWake(entityKey string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[entityKey]
	if !ok {
		return time.Time{}, false
	}
	return entry.at, true
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		var wait time.Duration
		if len(s.heap) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(s.heap[0].at)
		}
		s.mu.Unlock()

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-s.stopCh:
				timer.Stop()
				return
			case <-s.kick:
				timer.Stop()
				continue
			case <-timer.C:
			}
		}

		// Dispatch everything that is due.
		now := time.Now()
		var due []string
		s.mu.Lock()
		for len(s.heap) > 0 && !s.heap[0].at.After(now) {
			entry := heap.Pop(&s.heap).(*wakeEntry)
			delete(s.entries, entry.key)
			due = append(due, entry.key)
		}
		wake := s.wake
		s.mu.Unlock()

		for _, key := range due {
			go wake(key)
		}

		select {
		case <-s.stopCh:
			return
		default:
		}
	}
}
